// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the HTTP handlers: the Telegram webhook that
// drives conversations and the operator admin API.
package handlers

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/TyanRL/telegram-bot/services/bot/access"
	"github.com/TyanRL/telegram-bot/services/bot/conversation"
	"github.com/TyanRL/telegram-bot/services/bot/engine"
	"github.com/TyanRL/telegram-bot/services/bot/session"
	"github.com/TyanRL/telegram-bot/services/llm"
	"github.com/TyanRL/telegram-bot/services/telegram"
)

// Stored-history lengths at which the bot nudges the user to /reset.
var resetReminderLengths = map[int]bool{8: true, 14: true}

const (
	deniedReply        = "Извините, у вас нет доступа к этому боту."
	resetReminderReply = "Контекст разговора стал длинным. Рекомендую сбросить его командой /reset, чтобы ответы оставались точными."
)

// Transport is the outgoing messenger surface the handlers need.
// Implemented by the Telegram client.
type Transport interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendServiceMessage(ctx context.Context, chatID int64, text string) error
	RequestLocation(ctx context.Context, chatID int64) error
	DownloadFile(ctx context.Context, fileID string) (string, []byte, error)
}

// TurnEngine resolves conversation turns. Implemented by the engine.
type TurnEngine interface {
	HandleUserText(ctx context.Context, userID int64, text string) engine.TurnResult
	HandleVoice(ctx context.Context, userID int64, filename string, audio []byte) (string, engine.TurnResult)
	HandleLocation(ctx context.Context, userID int64, latitude, longitude float64) engine.TurnResult
	Reset(userID int64)
	SetPendingImage(userID int64, img conversation.PendingImage)
	StoredLen(userID int64) int
}

// Handler bundles the webhook and admin handlers with their
// dependencies.
type Handler struct {
	engine  TurnEngine
	tg      Transport
	access  *access.List
	tracker *session.Tracker
	catalog *llm.Catalog
	history *conversation.Manager
	version string
}

// New creates the handler set.
func New(
	eng TurnEngine,
	tg Transport,
	acl *access.List,
	tracker *session.Tracker,
	catalog *llm.Catalog,
	history *conversation.Manager,
	version string,
) *Handler {
	return &Handler{
		engine:  eng,
		tg:      tg,
		access:  acl,
		tracker: tracker,
		catalog: catalog,
		history: history,
		version: version,
	}
}

// Webhook processes one Telegram update. It always answers 200 so
// Telegram never retries a processed update; delivery failures are
// logged and dropped.
func (h *Handler) Webhook(c *gin.Context) {
	var update telegram.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		slog.Warn("Malformed webhook payload", "error", err)
		c.Status(http.StatusOK)
		return
	}

	msg := update.Message
	if msg == nil || msg.From == nil {
		c.Status(http.StatusOK)
		return
	}

	ctx := c.Request.Context()
	userID := msg.From.ID
	chatID := msg.Chat.ID

	if !h.access.IsAllowed(userID) {
		slog.Info("Rejected message from unknown user",
			"user_id", userID, "username", msg.From.Username)
		h.send(ctx, chatID, deniedReply)
		c.Status(http.StatusOK)
		return
	}

	switch {
	case strings.HasPrefix(msg.Text, "/"):
		h.handleCommand(ctx, chatID, msg)
	case msg.Location != nil:
		h.handleLocation(ctx, chatID, userID, msg.Location)
	case msg.Voice != nil:
		h.handleVoice(ctx, chatID, userID, msg.Voice)
	case len(msg.Photo) > 0:
		h.handlePhoto(ctx, chatID, userID, msg)
	case msg.Text != "":
		h.handleText(ctx, chatID, userID, msg.Text)
	default:
		h.serviceMessage(ctx, chatID, "Я понимаю текст, голосовые сообщения, фотографии и геолокацию.")
	}

	h.tracker.Touch(ctx, userID, msg.From.Username)
	c.Status(http.StatusOK)
}

func (h *Handler) handleText(ctx context.Context, chatID, userID int64, text string) {
	result := h.engine.HandleUserText(ctx, userID, text)
	h.deliver(ctx, chatID, userID, result)
}

func (h *Handler) handleVoice(ctx context.Context, chatID, userID int64, voice *telegram.Voice) {
	filename, audio, err := h.tg.DownloadFile(ctx, voice.FileID)
	if err != nil {
		slog.Error("Failed to download voice message", "user_id", userID, "error", err)
		h.send(ctx, chatID, "Извините, не удалось загрузить голосовое сообщение.")
		return
	}

	transcript, result := h.engine.HandleVoice(ctx, userID, filename, audio)
	if transcript != "" {
		h.serviceMessage(ctx, chatID, "Распознано: "+transcript)
	}
	h.deliver(ctx, chatID, userID, result)
}

func (h *Handler) handlePhoto(ctx context.Context, chatID, userID int64, msg *telegram.Message) {
	// The last photo size is the largest rendition.
	largest := msg.Photo[len(msg.Photo)-1]
	_, data, err := h.tg.DownloadFile(ctx, largest.FileID)
	if err != nil {
		slog.Error("Failed to download photo", "user_id", userID, "error", err)
		h.send(ctx, chatID, "Извините, не удалось загрузить изображение.")
		return
	}

	h.engine.SetPendingImage(userID, conversation.PendingImage{
		MimeType: "image/jpeg",
		Base64:   base64.StdEncoding.EncodeToString(data),
	})

	// A caption starts the turn immediately; a bare photo waits for the
	// user's question.
	if msg.Caption != "" {
		h.handleText(ctx, chatID, userID, msg.Caption)
		return
	}
	h.serviceMessage(ctx, chatID, "Изображение получено. Задайте вопрос по картинке.")
}

func (h *Handler) handleLocation(ctx context.Context, chatID, userID int64, loc *telegram.Location) {
	result := h.engine.HandleLocation(ctx, userID, loc.Latitude, loc.Longitude)
	h.deliver(ctx, chatID, userID, result)
}

// deliver sends the turn's reply, if any, then nudges about long
// histories at fixed lengths.
func (h *Handler) deliver(ctx context.Context, chatID, userID int64, result engine.TurnResult) {
	if result.HasReply {
		h.send(ctx, chatID, result.Reply)
	}
	if resetReminderLengths[h.engine.StoredLen(userID)] {
		h.serviceMessage(ctx, chatID, resetReminderReply)
	}
}

func (h *Handler) send(ctx context.Context, chatID int64, text string) {
	if err := h.tg.SendMessage(ctx, chatID, text); err != nil {
		slog.Error("Failed to deliver reply", "chat_id", chatID, "error", err)
	}
}

func (h *Handler) serviceMessage(ctx context.Context, chatID int64, text string) {
	if err := h.tg.SendServiceMessage(ctx, chatID, text); err != nil {
		slog.Error("Failed to deliver service message", "chat_id", chatID, "error", err)
	}
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": h.version})
}

func firstWord(s string) string {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i]
	}
	return s
}

func formatUserList(ids []int64) string {
	if len(ids) == 0 {
		return "пусто"
	}
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%d", id))
	}
	return strings.Join(parts, ", ")
}
