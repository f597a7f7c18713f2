// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine resolves conversation turns.
//
// # Description
//
// A turn starts with a user event (text, voice, photo, location), runs
// the completion model, dispatches any tool call it issues and, when a
// tool injects a new fact into the history, asks the model again with
// the fact visible. The loop is bounded by a fixed depth ceiling so a
// model stuck on tools cannot recurse forever.
//
// # Thread Safety
//
// Safe for concurrent use across users. Turns for the same user run
// concurrently too; the history manager documents the resulting
// last-write semantics.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/TyanRL/telegram-bot/services/bot/conversation"
	"github.com/TyanRL/telegram-bot/services/bot/observability"
	"github.com/TyanRL/telegram-bot/services/bot/tools"
	"github.com/TyanRL/telegram-bot/services/llm"
)

// maxToolDepth bounds tool-call recursion within a single turn.
const maxToolDepth = 10

// errorReply is the user-facing fallback when a turn fails internally.
const errorReply = "Извините, произошла ошибка при обработке вашего запроса."

// ToolDispatcher runs one model-issued tool call.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, userID int64, call llm.ToolCall) (tools.Outcome, error)
}

// ReverseGeocoder resolves coordinates to a human-readable address.
type ReverseGeocoder interface {
	Reverse(ctx context.Context, latitude, longitude float64) (string, error)
}

// TurnResult is the outcome of one resolved turn.
type TurnResult struct {
	// Reply is the text to deliver. Valid only when HasReply is true; a
	// silent turn (location keyboard sent, model switched) has none.
	Reply    string
	HasReply bool

	// SystemMessages lists the facts injected into the history during
	// this turn, in injection order.
	SystemMessages []string

	// Usage is the summed token usage over every completion call made
	// while resolving the turn.
	Usage llm.Usage
}

// Engine drives turns against the completion model.
type Engine struct {
	history    *conversation.Manager
	catalog    *llm.Catalog
	completer  llm.CompletionClient
	dispatcher ToolDispatcher
	reverser   ReverseGeocoder
	metrics    *observability.TurnMetrics
	now        func() time.Time
	moscow     *time.Location
}

// New creates a turn engine. reverser may be nil; location updates then
// record coordinates without an address.
func New(
	history *conversation.Manager,
	catalog *llm.Catalog,
	completer llm.CompletionClient,
	dispatcher ToolDispatcher,
	reverser ReverseGeocoder,
	metrics *observability.TurnMetrics,
) *Engine {
	moscow, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		// Moscow has no DST transitions since 2014.
		moscow = time.FixedZone("MSK", 3*60*60)
	}
	return &Engine{
		history:    history,
		catalog:    catalog,
		completer:  completer,
		dispatcher: dispatcher,
		reverser:   reverser,
		metrics:    metrics,
		now:        time.Now,
		moscow:     moscow,
	}
}

// systemPrompt is rebuilt every call so the model always sees the
// current time.
func (e *Engine) systemPrompt() string {
	return fmt.Sprintf(
		"Ты — персональный ассистент в мессенджере. Отвечай кратко и по делу, "+
			"на языке пользователя. Текущие дата и время в Москве: %s.\n"+
			"Если для ответа нужны координаты пользователя, а они тебе ещё не "+
			"известны, вызови инструмент request_geolocation и дождись ответа. "+
			"Не выдумывай координаты и адреса. Для фактов, которые могли "+
			"измениться после твоего обучения, используй поиск в интернете.",
		e.now().In(e.moscow).Format("2006-01-02 15:04:05"))
}

// recoverTurn converts a panic inside the resolve chain into the generic
// apology so the transport never sees an escaped panic. The returned
// result has zero usage.
func (e *Engine) recoverTurn(userID int64, kind string, start time.Time, result *TurnResult) {
	r := recover()
	if r == nil {
		return
	}
	slog.Error("Turn panicked", "user_id", userID, "kind", kind, "panic", r)
	e.metrics.RecordTurn(kind, false, e.now().Sub(start).Seconds())
	*result = TurnResult{Reply: errorReply, HasReply: true}
}

// HandleUserText resolves a turn for an incoming text message.
func (e *Engine) HandleUserText(ctx context.Context, userID int64, text string) (result TurnResult) {
	start := e.now()
	e.metrics.TurnStarted()
	defer e.metrics.TurnEnded()
	defer e.recoverTurn(userID, "text", start, &result)

	e.history.AppendUserMessage(userID, text)
	result, err := e.resolve(ctx, userID, 0)
	if err != nil {
		slog.Error("Turn failed", "user_id", userID, "error", err)
		e.metrics.RecordTurn("text", false, e.now().Sub(start).Seconds())
		return TurnResult{Reply: errorReply, HasReply: true}
	}

	e.metrics.RecordTurn("text", true, e.now().Sub(start).Seconds())
	return result
}

// HandleVoice transcribes a voice recording and resolves the transcript
// as a text turn. The transcript is returned so the caller can echo what
// was understood.
func (e *Engine) HandleVoice(ctx context.Context, userID int64, filename string, audio []byte) (transcript string, result TurnResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Voice turn panicked", "user_id", userID, "panic", r)
			transcript = ""
			result = TurnResult{Reply: errorReply, HasReply: true}
		}
	}()

	text, err := e.completer.Transcribe(ctx, filename, audio)
	if err != nil {
		slog.Error("Voice transcription failed", "user_id", userID, "error", err)
		return "", TurnResult{
			Reply:    "Извините, не удалось распознать голосовое сообщение.",
			HasReply: true,
		}
	}
	return text, e.HandleUserText(ctx, userID, text)
}

// HandleLocation records the user's shared coordinates as a system fact
// and resolves a follow-up turn so the model can act on them. This
// closes the loop opened by the request_geolocation tool.
func (e *Engine) HandleLocation(ctx context.Context, userID int64, latitude, longitude float64) (result TurnResult) {
	start := e.now()
	e.metrics.TurnStarted()
	defer e.metrics.TurnEnded()
	defer e.recoverTurn(userID, "location", start, &result)

	fact := fmt.Sprintf("Текущие координаты пользователя:\nШирота: %.6f\nДолгота: %.6f",
		latitude, longitude)
	if e.reverser != nil {
		address, err := e.reverser.Reverse(ctx, latitude, longitude)
		if err != nil {
			slog.Warn("Reverse geocoding failed", "user_id", userID, "error", err)
		} else if address != "" {
			fact += "\nАдрес: " + address
		}
	}
	e.history.AppendSystemMessage(userID, fact)
	e.history.AppendUserMessage(userID, "Я отправил свою геолокацию.")

	result, err := e.resolve(ctx, userID, 0)
	if err != nil {
		slog.Error("Location turn failed", "user_id", userID, "error", err)
		e.metrics.RecordTurn("location", false, e.now().Sub(start).Seconds())
		return TurnResult{Reply: errorReply, HasReply: true}
	}

	// The coordinate fact predates the resolve loop but belongs to this
	// turn's injected facts.
	result.SystemMessages = append([]string{fact}, result.SystemMessages...)
	e.metrics.RecordTurn("location", true, e.now().Sub(start).Seconds())
	return result
}

// Reset clears the user's history, model choice and pending image.
func (e *Engine) Reset(userID int64) {
	e.history.Reset(userID)
}

// SetPendingImage stages a photo for the user's next text message.
func (e *Engine) SetPendingImage(userID int64, img conversation.PendingImage) {
	e.history.SetPendingImage(userID, img)
}

// StoredLen reports the user's stored history length.
func (e *Engine) StoredLen(userID int64) int {
	return e.history.StoredLen(userID)
}

// resolve runs one completion call and follows the tool-call chain.
func (e *Engine) resolve(ctx context.Context, userID int64, depth int) (TurnResult, error) {
	if depth >= maxToolDepth {
		slog.Error("Tool recursion ceiling reached, dropping the turn",
			"user_id", userID, "depth", depth)
		return TurnResult{}, nil
	}

	model := e.history.SelectedModel(userID)
	spec := e.catalog.Lookup(model)

	messages := e.buildMessages(userID, spec)
	var defs []llm.ToolDefinition
	if spec.SupportsTools {
		defs = tools.Definitions()
	}

	completion, err := e.completer.Complete(ctx, spec.Name, messages, defs)
	e.metrics.RecordLLMRequest(spec.Name, err == nil)
	if err != nil {
		return TurnResult{}, fmt.Errorf("completion failed: %w", err)
	}
	e.metrics.RecordTokens(completion.Usage.PromptTokens,
		completion.Usage.CompletionTokens, spec.Name)

	result := TurnResult{Usage: completion.Usage}

	if completion.ToolCall == nil {
		text := strings.TrimSpace(completion.Text)
		e.history.AppendAssistantMessage(userID, text)
		result.Reply = text
		result.HasReply = text != ""
		return result, nil
	}

	outcome, err := e.dispatcher.Dispatch(ctx, userID, *completion.ToolCall)
	if err != nil {
		if errors.Is(err, tools.ErrUnknownTool) {
			// Degrade to whatever text came alongside the bogus call.
			e.metrics.RecordToolCall(completion.ToolCall.Name, "error")
			text := strings.TrimSpace(completion.Text)
			e.history.AppendAssistantMessage(userID, text)
			result.Reply = text
			result.HasReply = text != ""
			return result, nil
		}
		e.metrics.RecordToolCall(completion.ToolCall.Name, "error")
		return TurnResult{}, fmt.Errorf("tool dispatch failed: %w", err)
	}

	switch outcome.Kind {
	case tools.OutcomeTerminal:
		e.metrics.RecordToolCall(completion.ToolCall.Name, "terminal")
		if outcome.Reply != "" {
			e.history.AppendAssistantMessage(userID, outcome.Reply)
		}
		result.Reply = outcome.Reply
		result.HasReply = outcome.Reply != ""
		return result, nil

	case tools.OutcomeSilent:
		e.metrics.RecordToolCall(completion.ToolCall.Name, "silent")
		return result, nil

	case tools.OutcomeInject:
		e.metrics.RecordToolCall(completion.ToolCall.Name, "inject")
		e.history.AppendSystemMessage(userID, outcome.SystemFact)

		nested, err := e.resolve(ctx, userID, depth+1)
		if err != nil {
			return TurnResult{}, err
		}
		nested.SystemMessages = append([]string{outcome.SystemFact}, nested.SystemMessages...)
		nested.Usage = nested.Usage.Add(result.Usage)
		return nested, nil

	default:
		return TurnResult{}, fmt.Errorf("unexpected tool outcome kind %d", outcome.Kind)
	}
}

// buildMessages assembles the completion input: the fresh system prompt
// followed by the bounded history. Models without tool support reject
// system-role messages, so those are filtered out for them.
func (e *Engine) buildMessages(userID int64, spec llm.ModelSpec) []conversation.Message {
	bounded := e.history.Bounded(userID)

	if !spec.SupportsTools {
		out := make([]conversation.Message, 0, len(bounded))
		for _, msg := range bounded {
			if msg.Role != conversation.RoleSystem {
				out = append(out, msg)
			}
		}
		return out
	}

	out := make([]conversation.Message, 0, len(bounded)+1)
	out = append(out, conversation.SystemMessage(e.systemPrompt()))
	out = append(out, bounded...)
	return out
}
