// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telegram

import (
	"strings"
	"testing"
)

func TestEscapeMarkdownV2(t *testing.T) {
	cases := []struct{ in, want string }{
		{"hello", "hello"},
		{"a.b!c", "a\\.b\\!c"},
		{"x_y*z", "x\\_y\\*z"},
		{"1+1=2", "1\\+1\\=2"},
		{"(скобки) [и] {ещё}", "\\(скобки\\) \\[и\\] \\{ещё\\}"},
	}
	for _, tc := range cases {
		if got := EscapeMarkdownV2(tc.in); got != tc.want {
			t.Errorf("EscapeMarkdownV2(%q): got %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSplitMessage_ShortTextIsOneChunk(t *testing.T) {
	got := SplitMessage("короткий текст", 100)
	if len(got) != 1 || got[0] != "короткий текст" {
		t.Errorf("got %v", got)
	}
}

func TestSplitMessage_PrefersNewlineBoundary(t *testing.T) {
	text := strings.Repeat("a", 60) + "\n" + strings.Repeat("b", 60)

	got := SplitMessage(text, 100)

	if len(got) != 2 {
		t.Fatalf("chunks: got %d, want 2", len(got))
	}
	if !strings.HasPrefix(got[1], "b") {
		t.Errorf("second chunk must start after the newline, got %q", got[1][:10])
	}
}

func TestSplitMessage_CountsRunesNotBytes(t *testing.T) {
	// 50 Cyrillic runes are 100 bytes; they must still fit one chunk of 50.
	text := strings.Repeat("ж", 50)

	got := SplitMessage(text, 50)

	if len(got) != 1 {
		t.Errorf("chunks: got %d, want 1", len(got))
	}
}

func TestSplitMessage_EveryChunkFits(t *testing.T) {
	text := strings.Repeat("строка текста\n", 1000)

	for _, chunk := range SplitMessage(text, MaxMessageLength) {
		if n := len([]rune(chunk)); n > MaxMessageLength {
			t.Fatalf("chunk of %d runes exceeds the limit", n)
		}
	}
}
