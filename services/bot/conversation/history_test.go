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
	"fmt"
	"testing"
)

const testUser int64 = 7

func TestBounded_KeepsAllSystemAndTrimsOthers(t *testing.T) {
	m := NewManager(5, "gpt-5")

	// 2 system facts interleaved with 6 user/assistant messages.
	m.AppendUserMessage(testUser, "u1")
	m.AppendSystemMessage(testUser, "s1")
	m.AppendAssistantMessage(testUser, "a1")
	m.AppendUserMessage(testUser, "u2")
	m.AppendSystemMessage(testUser, "s2")
	m.AppendAssistantMessage(testUser, "a2")
	m.AppendUserMessage(testUser, "u3")
	m.AppendAssistantMessage(testUser, "a3")

	got := m.Bounded(testUser)

	// allowed = 5 - 2 = 3, so the last three of [u1 a1 u2 a2 u3 a3].
	want := []string{"s1", "s2", "a2", "u3", "a3"}
	if len(got) != len(want) {
		t.Fatalf("bounded length: got %d, want %d (%v)", len(got), len(want), got)
	}
	for i, content := range want {
		if got[i].Content != content {
			t.Errorf("bounded[%d]: got %q, want %q", i, got[i].Content, content)
		}
	}
	if got[0].Role != RoleSystem || got[1].Role != RoleSystem {
		t.Error("system messages must lead the bounded view")
	}
}

func TestBounded_SystemCountExceedsMax(t *testing.T) {
	m := NewManager(3, "gpt-5")

	for i := 0; i < 4; i++ {
		m.AppendSystemMessage(testUser, fmt.Sprintf("s%d", i))
	}
	m.AppendUserMessage(testUser, "u1")
	m.AppendAssistantMessage(testUser, "a1")

	got := m.Bounded(testUser)

	// Degenerate but legal: every system message survives, zero others.
	if len(got) != 4 {
		t.Fatalf("bounded length: got %d, want 4", len(got))
	}
	for i, msg := range got {
		if msg.Role != RoleSystem {
			t.Errorf("bounded[%d]: got role %q, want system", i, msg.Role)
		}
	}
}

func TestBounded_TotalLengthProperty(t *testing.T) {
	const n = 6
	cases := []struct{ system, other int }{
		{0, 10}, {2, 10}, {5, 5}, {6, 3}, {8, 4},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("s=%d_m=%d", tc.system, tc.other), func(t *testing.T) {
			m := NewManager(n, "gpt-5")
			for i := 0; i < tc.system; i++ {
				m.AppendSystemMessage(testUser, fmt.Sprintf("s%d", i))
			}
			for i := 0; i < tc.other; i++ {
				m.AppendUserMessage(testUser, fmt.Sprintf("u%d", i))
			}

			got := m.Bounded(testUser)

			wantOther := n - tc.system
			if wantOther < 0 {
				wantOther = 0
			}
			if tc.other < wantOther {
				wantOther = tc.other
			}
			if len(got) != tc.system+wantOther {
				t.Errorf("length: got %d, want %d", len(got), tc.system+wantOther)
			}

			max := n
			if tc.system > max {
				max = tc.system
			}
			if len(got) > max {
				t.Errorf("length %d exceeds max(N, s) = %d", len(got), max)
			}
		})
	}
}

func TestStoredHistoryIsUnbounded(t *testing.T) {
	m := NewManager(3, "gpt-5")

	for i := 0; i < 10; i++ {
		m.AppendUserMessage(testUser, fmt.Sprintf("u%d", i))
	}

	// Bounding happens only at read time; the store keeps everything.
	if got := m.StoredLen(testUser); got != 10 {
		t.Errorf("stored length: got %d, want 10", got)
	}
	if got := len(m.Bounded(testUser)); got != 3 {
		t.Errorf("bounded length: got %d, want 3", got)
	}
	if got := m.StoredLen(testUser); got != 10 {
		t.Errorf("Bounded must not trim storage: got %d, want 10", got)
	}
}

func TestReset_IsIdempotent(t *testing.T) {
	m := NewManager(5, "gpt-5")

	m.AppendUserMessage(testUser, "hello")
	m.SetModel(testUser, "gpt-5-mini")
	m.SetPendingImage(testUser, PendingImage{MimeType: "image/png", Base64: "AAAA"})

	m.Reset(testUser)
	m.Reset(testUser)

	if got := m.StoredLen(testUser); got != 0 {
		t.Errorf("history after reset: got %d messages, want 0", got)
	}
	if got := m.SelectedModel(testUser); got != "gpt-5" {
		t.Errorf("model after reset: got %q, want default", got)
	}
	m.AppendUserMessage(testUser, "next")
	if got := m.Bounded(testUser); len(got) != 1 || got[0].Parts != nil {
		t.Error("pending image must not survive a reset")
	}
}

func TestAppendUserMessage_ConsumesPendingImage(t *testing.T) {
	m := NewManager(5, "gpt-5")

	m.SetPendingImage(testUser, PendingImage{MimeType: "image/jpeg", Base64: "Zm9v"})
	m.AppendUserMessage(testUser, "что на картинке?")

	h := m.Bounded(testUser)
	if len(h) != 1 {
		t.Fatalf("history length: got %d, want 1", len(h))
	}
	if len(h[0].Parts) != 2 {
		t.Fatalf("parts: got %d, want 2", len(h[0].Parts))
	}
	if h[0].Parts[0].Type != "text" || h[0].Parts[0].Text != "что на картинке?" {
		t.Errorf("text part mismatch: %+v", h[0].Parts[0])
	}
	if h[0].Parts[1].Type != "image_url" ||
		h[0].Parts[1].ImageURL != "data:image/jpeg;base64,Zm9v" {
		t.Errorf("image part mismatch: %+v", h[0].Parts[1])
	}

	// Consumed: the next message is plain text again.
	m.AppendUserMessage(testUser, "ещё вопрос")
	h = m.Bounded(testUser)
	if h[1].Parts != nil {
		t.Error("pending image must be consumed by the first text turn")
	}
}

func TestSelectedModel_DefaultAndOverride(t *testing.T) {
	m := NewManager(5, "gpt-5")

	if got := m.SelectedModel(testUser); got != "gpt-5" {
		t.Errorf("default model: got %q, want gpt-5", got)
	}
	m.SetModel(testUser, "gpt-5-mini")
	if got := m.SelectedModel(testUser); got != "gpt-5-mini" {
		t.Errorf("selected model: got %q, want gpt-5-mini", got)
	}
}
