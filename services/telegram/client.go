// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telegram is the Bot API transport: outgoing messages, file
// downloads and webhook registration.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

const apiBase = "https://api.telegram.org"

// Client talks to the Telegram Bot API.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client from the TELEGRAM_BOT_TOKEN environment
// variable, falling back to the Podman secret mount when unset.
func NewClient() (*Client, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		secretPath := "/run/secrets/telegram_bot_token"
		tokenBytes, err := os.ReadFile(secretPath)
		if err == nil {
			token = strings.TrimSpace(string(tokenBytes))
			slog.Info("Read the Telegram bot token from Podman Secrets")
		} else {
			slog.Error("TELEGRAM_BOT_TOKEN environment variable not set and secret not found",
				"path", secretPath)
			return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN environment variable not set")
		}
	}
	return &Client{
		token:      token,
		baseURL:    apiBase,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// NewClientWithBaseURL creates a client pointed at a custom endpoint.
// Used by tests.
func NewClientWithBaseURL(token, baseURL string) *Client {
	return &Client{
		token:      token,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// apiResponse is the envelope every Bot API method returns.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

func (c *Client) call(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Telegram %s call failed: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", method, err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse %s response: %w", method, err)
	}
	if !envelope.OK {
		return nil, fmt.Errorf("Telegram %s failed: %s", method, envelope.Description)
	}
	return envelope.Result, nil
}

// SendMessage delivers text to a chat, escaped for MarkdownV2 and split
// into chunks that fit Telegram's message limit. When Telegram rejects
// the formatted chunk the raw text is retried without a parse mode, so a
// stray formatting artifact never swallows a reply.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range SplitMessage(text, MaxMessageLength) {
		payload := map[string]any{
			"chat_id":    chatID,
			"text":       EscapeMarkdownV2(chunk),
			"parse_mode": "MarkdownV2",
		}
		if _, err := c.call(ctx, "sendMessage", payload); err != nil {
			slog.Warn("MarkdownV2 send failed, retrying as plain text",
				"chat_id", chatID, "error", err)
			plain := map[string]any{"chat_id": chatID, "text": chunk}
			if _, err := c.call(ctx, "sendMessage", plain); err != nil {
				return err
			}
		}
	}
	return nil
}

// SendServiceMessage delivers an italic out-of-band notice, e.g. a model
// switch announcement or a recognized voice transcript.
func (c *Client) SendServiceMessage(ctx context.Context, chatID int64, text string) error {
	payload := map[string]any{
		"chat_id":    chatID,
		"text":       "_" + EscapeMarkdownV2(text) + "_",
		"parse_mode": "MarkdownV2",
	}
	_, err := c.call(ctx, "sendMessage", payload)
	return err
}

// SendImage delivers a photo by URL.
func (c *Client) SendImage(ctx context.Context, chatID int64, url, caption string) error {
	payload := map[string]any{
		"chat_id": chatID,
		"photo":   url,
	}
	if caption != "" {
		payload["caption"] = caption
	}
	_, err := c.call(ctx, "sendPhoto", payload)
	return err
}

// RequestLocation shows a one-time keyboard asking the user to share
// their location.
func (c *Client) RequestLocation(ctx context.Context, chatID int64) error {
	payload := map[string]any{
		"chat_id": chatID,
		"text":    "Пожалуйста, поделитесь своей геолокацией.",
		"reply_markup": map[string]any{
			"keyboard": [][]map[string]any{{
				{"text": "Отправить геолокацию", "request_location": true},
			}},
			"one_time_keyboard": true,
			"resize_keyboard":   true,
		},
	}
	_, err := c.call(ctx, "sendMessage", payload)
	return err
}

// SetWebhook registers the public webhook URL with Telegram.
func (c *Client) SetWebhook(ctx context.Context, url string) error {
	_, err := c.call(ctx, "setWebhook", map[string]any{"url": url})
	if err != nil {
		return err
	}
	slog.Info("Registered Telegram webhook", "url", url)
	return nil
}

// fileInfo is the getFile result subset the client reads.
type fileInfo struct {
	FilePath string `json:"file_path"`
}

// DownloadFile fetches an attachment's bytes by file id. The returned
// name carries the original extension so transcription can detect the
// container format.
func (c *Client) DownloadFile(ctx context.Context, fileID string) (string, []byte, error) {
	raw, err := c.call(ctx, "getFile", map[string]any{"file_id": fileID})
	if err != nil {
		return "", nil, err
	}
	var info fileInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return "", nil, fmt.Errorf("failed to parse getFile response: %w", err)
	}

	url := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, info.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("file download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("file download failed with status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read downloaded file: %w", err)
	}

	name := info.FilePath
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	return name, data, nil
}
