// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"log/slog"

	"github.com/TyanRL/telegram-bot/services/bot/store"
)

// DefaultMaxHistory is the default bound on non-system messages sent to
// the model per turn.
const DefaultMaxHistory = 20

// Manager is the single source of truth for what the model sees next turn.
//
// # Description
//
// Manager owns one ConversationState per user id, created lazily on first
// interaction and living for the process lifetime. History is stored
// UNBOUNDED; the length limit is applied only at read time by Bounded().
// Storing unbounded and trimming lazily is intentional and must be
// preserved: between reads the stored history may exceed the maximum.
//
// # Thread Safety
//
// All state lives in store containers, so individual operations are safe
// for concurrent use. Appends are read-modify-write sequences across two
// store calls, so two concurrent turns for the SAME user can lose one
// append. This race is inherited behavior and is deliberately not
// serialized away: queueing turns per user would change observable
// latency.
type Manager struct {
	histories    *store.KeyStore[int64, []Message]
	models       *store.KeyStore[int64, string]
	images       *store.KeyStore[int64, PendingImage]
	maxHistory   int
	defaultModel string
}

// NewManager creates a Manager bounding reads to maxHistory non-system
// messages. maxHistory values below 1 fall back to DefaultMaxHistory.
func NewManager(maxHistory int, defaultModel string) *Manager {
	if maxHistory < 1 {
		maxHistory = DefaultMaxHistory
	}
	return &Manager{
		histories:    store.NewKeyStore[int64, []Message](),
		models:       store.NewKeyStore[int64, string](),
		images:       store.NewKeyStore[int64, PendingImage](),
		maxHistory:   maxHistory,
		defaultModel: defaultModel,
	}
}

// =============================================================================
// Appends
// =============================================================================

// AppendUserMessage appends a user turn. When a pending image exists for
// the user it is consumed: the stored message becomes a mixed text+image
// part list and the pending image is cleared even if the append itself
// later loses a race.
func (m *Manager) AppendUserMessage(userID int64, text string) {
	msg := UserMessage(text)

	if img, ok := m.images.Get(userID); ok {
		msg = Message{
			Role: RoleUser,
			Parts: []ContentPart{
				{Type: "text", Text: text},
				{Type: "image_url", ImageURL: img.DataURL()},
			},
		}
		m.images.Delete(userID)
		slog.Info("Attached pending image to user message", "user_id", userID)
	}

	m.append(userID, msg)
}

// AppendAssistantMessage appends a model reply to the stored history.
func (m *Manager) AppendAssistantMessage(userID int64, content string) {
	m.append(userID, AssistantMessage(content))
}

// AppendSystemMessage appends a system fact (tool result, location update)
// to the stored history. System messages are exempt from bounding.
func (m *Manager) AppendSystemMessage(userID int64, content string) {
	m.append(userID, SystemMessage(content))
}

func (m *Manager) append(userID int64, msg Message) {
	history := m.histories.GetOr(userID, nil)
	history = append(history, msg)
	m.histories.Set(userID, history)
}

// =============================================================================
// Reads
// =============================================================================

// Bounded returns the history view sent to the model: every system message
// in original order, followed by the most recent maxHistory-len(system)
// non-system messages in original order. When system messages alone meet
// or exceed the bound, zero non-system messages are kept. The stored
// history is not modified.
func (m *Manager) Bounded(userID int64) []Message {
	history := m.histories.GetOr(userID, nil)

	var system, other []Message
	for _, msg := range history {
		if msg.Role == RoleSystem {
			system = append(system, msg)
		} else {
			other = append(other, msg)
		}
	}

	allowed := m.maxHistory - len(system)
	if allowed < 0 {
		allowed = 0
	}
	if len(other) > allowed {
		other = other[len(other)-allowed:]
	}

	out := make([]Message, 0, len(system)+len(other))
	out = append(out, system...)
	out = append(out, other...)
	return out
}

// StoredLen returns the unbounded stored history length. Used by the
// transport for the context-reset reminder.
func (m *Manager) StoredLen(userID int64) int {
	return len(m.histories.GetOr(userID, nil))
}

// =============================================================================
// Model selection and pending image
// =============================================================================

// SelectedModel returns the user's model, or the system-wide default when
// none was chosen.
func (m *Manager) SelectedModel(userID int64) string {
	return m.models.GetOr(userID, m.defaultModel)
}

// SetModel records the user's model selection.
func (m *Manager) SetModel(userID int64, model string) {
	m.models.Set(userID, model)
}

// SetPendingImage stores an uploaded photo to be attached to the user's
// next text message, replacing any earlier pending image.
func (m *Manager) SetPendingImage(userID int64, img PendingImage) {
	m.images.Set(userID, img)
}

// ClearPendingImage drops the pending image without consuming it.
func (m *Manager) ClearPendingImage(userID int64) {
	m.images.Delete(userID)
}

// =============================================================================
// Reset
// =============================================================================

// Reset replaces the user's history with an empty one and clears the model
// selection. Calling Reset twice in a row yields the same state as once.
func (m *Manager) Reset(userID int64) {
	m.histories.Set(userID, []Message{})
	m.models.Delete(userID)
	m.images.Delete(userID)
	slog.Info("Conversation context reset", "user_id", userID)
}
