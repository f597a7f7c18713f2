// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package search wraps the Google Custom Search JSON API.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const defaultBaseURL = "https://www.googleapis.com/customsearch/v1"

// Client issues web searches against a Programmable Search Engine.
type Client struct {
	apiKey     string
	engineID   string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a search client from the GOOGLE_SEARCH_API_KEY and
// GOOGLE_SEARCH_ENGINE_ID environment variables.
func NewClient() (*Client, error) {
	apiKey := os.Getenv("GOOGLE_SEARCH_API_KEY")
	engineID := os.Getenv("GOOGLE_SEARCH_ENGINE_ID")
	if apiKey == "" || engineID == "" {
		return nil, fmt.Errorf("GOOGLE_SEARCH_API_KEY or GOOGLE_SEARCH_ENGINE_ID not set")
	}
	return &Client{
		apiKey:     apiKey,
		engineID:   engineID,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// NewClientWithBaseURL creates a client pointed at a custom endpoint.
// Used by tests.
func NewClientWithBaseURL(apiKey, engineID, baseURL string) *Client {
	return &Client{
		apiKey:     apiKey,
		engineID:   engineID,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type searchResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"items"`
}

// Search runs the query and returns up to ten results rendered as a
// numbered title/link/snippet listing, ready for history injection.
// The second return value is the result count.
func (c *Client) Search(ctx context.Context, query string) (string, int, error) {
	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("cx", c.engineID)
	params.Set("q", query)
	params.Set("num", "10")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create search request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("Google search call failed", "error", err)
		return "", 0, fmt.Errorf("Google search call failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		slog.Error("Google search returned an error",
			"status_code", resp.StatusCode, "response", string(body))
		return "", 0, fmt.Errorf("Google search failed with status %d", resp.StatusCode)
	}

	var out searchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", 0, fmt.Errorf("failed to parse search response: %w", err)
	}
	if len(out.Items) == 0 {
		return "", 0, nil
	}

	var b strings.Builder
	for i, item := range out.Items {
		fmt.Fprintf(&b, "%d. %s\n%s\n%s\n\n", i+1, item.Title, item.Link, item.Snippet)
	}
	slog.Debug("Web search completed", "query", query, "results", len(out.Items))
	return strings.TrimSpace(b.String()), len(out.Items), nil
}
