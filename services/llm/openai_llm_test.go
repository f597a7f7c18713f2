// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
)

func TestImageStyleFor(t *testing.T) {
	tests := []struct {
		name  string
		style string
		want  string
	}{
		{"natural passes through", "natural", openai.CreateImageStyleNatural},
		{"vivid passes through", "vivid", openai.CreateImageStyleVivid},
		{"empty falls back to vivid", "", openai.CreateImageStyleVivid},
		{"unrecognized falls back to vivid", "cartoon", openai.CreateImageStyleVivid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, imageStyleFor(tt.style))
		})
	}
}
