// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation owns per-user dialogue state: message history,
// model selection, and the pending image awaiting the next text turn.
package conversation

import "fmt"

// Message roles. Ordering of messages encodes conversational causality
// and is always insertion order.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn unit. Content carries plain text; Parts is set
// instead of Content for user turns that mix text with an attached image.
// A Message is immutable once appended to a history.
type Message struct {
	Role    string        `json:"role"`
	Content string        `json:"content,omitempty"`
	Parts   []ContentPart `json:"parts,omitempty"`
}

// ContentPart is one element of a mixed-content user turn.
type ContentPart struct {
	// Type is "text" or "image_url".
	Type string `json:"type"`

	// Text is set when Type is "text".
	Text string `json:"text,omitempty"`

	// ImageURL is set when Type is "image_url". For uploaded photos this
	// is a base64 data URL, not a fetchable address.
	ImageURL string `json:"image_url,omitempty"`
}

// PendingImage is an uploaded photo waiting to be attached to the user's
// next text message.
type PendingImage struct {
	// MimeType is the detected image MIME type, e.g. "image/jpeg".
	MimeType string `json:"mime_type"`

	// Base64 is the raw image content, base64-encoded without a prefix.
	Base64 string `json:"base64"`
}

// DataURL renders the image as an inline data URL suitable for a vision
// model request.
func (p PendingImage) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", p.MimeType, p.Base64)
}

// SystemMessage is a convenience constructor for system facts injected by
// tool results and location updates.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage is a convenience constructor for a plain-text user turn.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage is a convenience constructor for a model reply.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}
