// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TyanRL/telegram-bot/services/bot/conversation"
	"github.com/TyanRL/telegram-bot/services/bot/tools"
	"github.com/TyanRL/telegram-bot/services/llm"
)

const testUser int64 = 42

type completeCall struct {
	model    string
	messages []conversation.Message
	tools    []llm.ToolDefinition
}

// scriptedCompleter replays canned completions in order. When the script
// runs out it keeps returning the last entry.
type scriptedCompleter struct {
	script        []llm.Completion
	err           error
	calls         []completeCall
	transcript    string
	transcribeErr error
}

func (s *scriptedCompleter) Complete(_ context.Context, model string,
	messages []conversation.Message, defs []llm.ToolDefinition) (llm.Completion, error) {

	s.calls = append(s.calls, completeCall{model: model, messages: messages, tools: defs})
	if s.err != nil {
		return llm.Completion{}, s.err
	}
	idx := len(s.calls) - 1
	if idx >= len(s.script) {
		idx = len(s.script) - 1
	}
	return s.script[idx], nil
}

func (s *scriptedCompleter) GenerateImage(context.Context, string, string) (string, error) {
	return "", errors.New("not scripted")
}

func (s *scriptedCompleter) Transcribe(context.Context, string, []byte) (string, error) {
	return s.transcript, s.transcribeErr
}

// scriptedDispatcher replays canned outcomes and records the calls.
type scriptedDispatcher struct {
	script []tools.Outcome
	err    error
	calls  []llm.ToolCall
}

func (s *scriptedDispatcher) Dispatch(_ context.Context, _ int64, call llm.ToolCall) (tools.Outcome, error) {
	s.calls = append(s.calls, call)
	if s.err != nil {
		return tools.Outcome{}, s.err
	}
	idx := len(s.calls) - 1
	if idx >= len(s.script) {
		idx = len(s.script) - 1
	}
	return s.script[idx], nil
}

type fakeReverser struct {
	address string
	err     error
}

func (f *fakeReverser) Reverse(context.Context, float64, float64) (string, error) {
	return f.address, f.err
}

func textCompletion(text string, in, out int) llm.Completion {
	return llm.Completion{
		Text:  text,
		Usage: llm.Usage{PromptTokens: in, CompletionTokens: out},
	}
}

func toolCompletion(name, args string, in, out int) llm.Completion {
	return llm.Completion{
		ToolCall: &llm.ToolCall{Name: name, Arguments: args},
		Usage:    llm.Usage{PromptTokens: in, CompletionTokens: out},
	}
}

func newEngine(c *scriptedCompleter, d *scriptedDispatcher) (*Engine, *conversation.Manager) {
	history := conversation.NewManager(conversation.DefaultMaxHistory, "gpt-5")
	return New(history, llm.DefaultCatalog(), c, d, nil, nil), history
}

func TestHandleUserText_PlainReply(t *testing.T) {
	c := &scriptedCompleter{script: []llm.Completion{textCompletion("Привет!", 10, 5)}}
	e, history := newEngine(c, &scriptedDispatcher{})

	result := e.HandleUserText(context.Background(), testUser, "привет")

	require.True(t, result.HasReply)
	assert.Equal(t, "Привет!", result.Reply)
	assert.Equal(t, llm.Usage{PromptTokens: 10, CompletionTokens: 5}, result.Usage)
	assert.Empty(t, result.SystemMessages)

	// Both sides of the exchange land in the history.
	assert.Equal(t, 2, history.StoredLen(testUser))
}

func TestHandleUserText_ReplyIsTrimmed(t *testing.T) {
	c := &scriptedCompleter{script: []llm.Completion{
		textCompletion("  Солнечно, 20°C \n", 10, 5),
	}}
	e, history := newEngine(c, &scriptedDispatcher{})

	result := e.HandleUserText(context.Background(), testUser, "какая погода?")

	require.True(t, result.HasReply)
	assert.Equal(t, "Солнечно, 20°C", result.Reply)

	// The stored assistant message is trimmed too.
	bounded := history.Bounded(testUser)
	require.Len(t, bounded, 2)
	assert.Equal(t, "Солнечно, 20°C", bounded[1].Content)
}

func TestHandleUserText_WhitespaceOnlyReplyIsSilent(t *testing.T) {
	c := &scriptedCompleter{script: []llm.Completion{textCompletion(" \n\t", 1, 1)}}
	e, _ := newEngine(c, &scriptedDispatcher{})

	result := e.HandleUserText(context.Background(), testUser, "привет")

	assert.False(t, result.HasReply)
	assert.Empty(t, result.Reply)
}

func TestHandleUserText_SystemPromptLeadsMessages(t *testing.T) {
	c := &scriptedCompleter{script: []llm.Completion{textCompletion("ok", 1, 1)}}
	e, _ := newEngine(c, &scriptedDispatcher{})

	e.HandleUserText(context.Background(), testUser, "вопрос")

	require.Len(t, c.calls, 1)
	msgs := c.calls[0].messages
	require.NotEmpty(t, msgs)
	assert.Equal(t, conversation.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "Москве")
	assert.NotEmpty(t, c.calls[0].tools, "tool-capable models get the tool catalog")
}

func TestHandleUserText_InjectThenAnswer(t *testing.T) {
	c := &scriptedCompleter{script: []llm.Completion{
		toolCompletion(tools.NameCurrentWeather, `{"latitude":1,"longitude":2}`, 10, 2),
		textCompletion("Солнечно, 20°C", 20, 8),
	}}
	d := &scriptedDispatcher{script: []tools.Outcome{
		{Kind: tools.OutcomeInject, SystemFact: "Погода: Ясное небо, 20°C"},
	}}
	e, history := newEngine(c, d)

	result := e.HandleUserText(context.Background(), testUser, "какая погода?")

	require.True(t, result.HasReply)
	assert.Equal(t, "Солнечно, 20°C", result.Reply)
	require.Len(t, result.SystemMessages, 1)
	assert.Contains(t, result.SystemMessages[0], "Ясное небо")

	// Usage sums across both completion calls.
	assert.Equal(t, llm.Usage{PromptTokens: 30, CompletionTokens: 10}, result.Usage)

	// user + injected system + assistant
	assert.Equal(t, 3, history.StoredLen(testUser))
}

func TestHandleUserText_RecursionCeiling(t *testing.T) {
	c := &scriptedCompleter{script: []llm.Completion{
		toolCompletion(tools.NameGoogleSearch, `{"query":"x"}`, 1, 1),
	}}
	d := &scriptedDispatcher{script: []tools.Outcome{
		{Kind: tools.OutcomeInject, SystemFact: "ещё факт"},
	}}
	e, _ := newEngine(c, d)

	result := e.HandleUserText(context.Background(), testUser, "зациклись")

	assert.False(t, result.HasReply, "a turn that never terminates yields no reply")
	assert.LessOrEqual(t, len(c.calls), maxToolDepth)
}

func TestHandleUserText_SilentOutcome(t *testing.T) {
	c := &scriptedCompleter{script: []llm.Completion{
		toolCompletion(tools.NameRequestGeolocation, "{}", 5, 1),
	}}
	d := &scriptedDispatcher{script: []tools.Outcome{{Kind: tools.OutcomeSilent}}}
	e, _ := newEngine(c, d)

	result := e.HandleUserText(context.Background(), testUser, "где я?")

	assert.False(t, result.HasReply)
	assert.Empty(t, result.SystemMessages)
	assert.Equal(t, llm.Usage{PromptTokens: 5, CompletionTokens: 1}, result.Usage)
	require.Len(t, c.calls, 1, "silent outcomes must not recurse")
}

func TestHandleUserText_TerminalOutcome(t *testing.T) {
	c := &scriptedCompleter{script: []llm.Completion{
		toolCompletion(tools.NameAddNote, `{"title":"t","body":"b"}`, 5, 1),
	}}
	d := &scriptedDispatcher{script: []tools.Outcome{
		{Kind: tools.OutcomeTerminal, Reply: "Заметка «t» сохранена."},
	}}
	e, history := newEngine(c, d)

	result := e.HandleUserText(context.Background(), testUser, "запиши")

	require.True(t, result.HasReply)
	assert.Contains(t, result.Reply, "сохранена")
	require.Len(t, c.calls, 1, "terminal outcomes must not recurse")

	// user + assistant
	assert.Equal(t, 2, history.StoredLen(testUser))
}

func TestHandleUserText_UnknownToolFallsBackToText(t *testing.T) {
	completion := toolCompletion("launch_rocket", "{}", 3, 1)
	completion.Text = " Запускаю ракету.\n"
	c := &scriptedCompleter{script: []llm.Completion{completion}}
	d := &scriptedDispatcher{err: fmt.Errorf("%w: launch_rocket", tools.ErrUnknownTool)}
	e, _ := newEngine(c, d)

	result := e.HandleUserText(context.Background(), testUser, "запусти ракету")

	require.True(t, result.HasReply)
	assert.Equal(t, "Запускаю ракету.", result.Reply)
}

// panickyDispatcher simulates a crash inside a tool handler.
type panickyDispatcher struct{}

func (panickyDispatcher) Dispatch(context.Context, int64, llm.ToolCall) (tools.Outcome, error) {
	panic("nil deref inside a tool handler")
}

func TestHandleUserText_PanicYieldsApology(t *testing.T) {
	c := &scriptedCompleter{script: []llm.Completion{
		toolCompletion(tools.NameCurrentWeather, `{"latitude":1,"longitude":2}`, 5, 1),
	}}
	history := conversation.NewManager(conversation.DefaultMaxHistory, "gpt-5")
	e := New(history, llm.DefaultCatalog(), c, panickyDispatcher{}, nil, nil)

	var result TurnResult
	require.NotPanics(t, func() {
		result = e.HandleUserText(context.Background(), testUser, "какая погода?")
	})

	require.True(t, result.HasReply)
	assert.Equal(t, errorReply, result.Reply)
	assert.Equal(t, llm.Usage{}, result.Usage)
}

func TestHandleLocation_PanicYieldsApology(t *testing.T) {
	c := &scriptedCompleter{script: []llm.Completion{
		toolCompletion(tools.NameCurrentWeather, `{"latitude":1,"longitude":2}`, 5, 1),
	}}
	history := conversation.NewManager(conversation.DefaultMaxHistory, "gpt-5")
	e := New(history, llm.DefaultCatalog(), c, panickyDispatcher{}, nil, nil)

	var result TurnResult
	require.NotPanics(t, func() {
		result = e.HandleLocation(context.Background(), testUser, 55.75, 37.62)
	})

	require.True(t, result.HasReply)
	assert.Equal(t, errorReply, result.Reply)
	assert.Equal(t, llm.Usage{}, result.Usage)
}

func TestHandleUserText_CompletionFailureApologizes(t *testing.T) {
	c := &scriptedCompleter{err: errors.New("api down")}
	e, _ := newEngine(c, &scriptedDispatcher{})

	result := e.HandleUserText(context.Background(), testUser, "привет")

	require.True(t, result.HasReply)
	assert.Equal(t, errorReply, result.Reply)
	assert.Equal(t, llm.Usage{}, result.Usage)
}

func TestHandleUserText_NonToolModelStripsSystemAndTools(t *testing.T) {
	c := &scriptedCompleter{script: []llm.Completion{textCompletion("ответ", 1, 1)}}
	e, history := newEngine(c, &scriptedDispatcher{})

	history.SetModel(testUser, "gpt-5-mini")
	history.AppendSystemMessage(testUser, "какой-то факт")

	e.HandleUserText(context.Background(), testUser, "вопрос")

	require.Len(t, c.calls, 1)
	assert.Equal(t, "gpt-5-mini", c.calls[0].model)
	assert.Empty(t, c.calls[0].tools)
	for _, msg := range c.calls[0].messages {
		assert.NotEqual(t, conversation.RoleSystem, msg.Role,
			"system messages must be stripped for non-tool models")
	}
}

func TestHandleVoice(t *testing.T) {
	t.Run("transcript drives a text turn", func(t *testing.T) {
		c := &scriptedCompleter{
			script:     []llm.Completion{textCompletion("ответ", 1, 1)},
			transcript: "какая погода",
		}
		e, _ := newEngine(c, &scriptedDispatcher{})

		transcript, result := e.HandleVoice(context.Background(), testUser, "voice.ogg", []byte("audio"))

		assert.Equal(t, "какая погода", transcript)
		require.True(t, result.HasReply)
		assert.Equal(t, "ответ", result.Reply)
	})

	t.Run("transcription failure apologizes", func(t *testing.T) {
		c := &scriptedCompleter{transcribeErr: errors.New("whisper down")}
		e, _ := newEngine(c, &scriptedDispatcher{})

		transcript, result := e.HandleVoice(context.Background(), testUser, "voice.ogg", nil)

		assert.Empty(t, transcript)
		require.True(t, result.HasReply)
		assert.Contains(t, result.Reply, "распознать")
		assert.Empty(t, c.calls, "no completion call without a transcript")
	})
}

func TestHandleLocation_InjectsCoordinateFact(t *testing.T) {
	c := &scriptedCompleter{script: []llm.Completion{textCompletion("Вы в Москве.", 1, 1)}}
	history := conversation.NewManager(conversation.DefaultMaxHistory, "gpt-5")
	e := New(history, llm.DefaultCatalog(), c, &scriptedDispatcher{},
		&fakeReverser{address: "Москва, Красная площадь"}, nil)

	result := e.HandleLocation(context.Background(), testUser, 55.7539, 37.6208)

	require.True(t, result.HasReply)
	require.NotEmpty(t, result.SystemMessages)
	assert.Contains(t, result.SystemMessages[0], "55.75")
	assert.Contains(t, result.SystemMessages[0], "Красная площадь")

	// system fact + synthetic user message + assistant reply
	assert.Equal(t, 3, history.StoredLen(testUser))
}

func TestReset_ClearsStateBetweenTurns(t *testing.T) {
	c := &scriptedCompleter{script: []llm.Completion{textCompletion("ok", 1, 1)}}
	e, history := newEngine(c, &scriptedDispatcher{})

	e.HandleUserText(context.Background(), testUser, "раз")
	e.Reset(testUser)

	assert.Equal(t, 0, history.StoredLen(testUser))
}
