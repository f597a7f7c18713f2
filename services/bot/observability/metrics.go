// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the bot.
//
// # Description
//
// Metrics cover conversation turns, completion calls, token usage and
// tool dispatches. Exposed via the /metrics endpoint; use with
// Prometheus + Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "tbot"

// Subsystem for turn metrics
const turnsSubsystem = "turns"

// TurnMetrics holds all Prometheus metrics for conversation turns.
//
// # Fields
//
//   - TurnsTotal: Counter of turns by kind and status
//   - LLMRequestsTotal: Counter of completion calls by model and status
//   - TokensTotal: Counter of tokens by direction and model
//   - ToolCallsTotal: Counter of tool dispatches by tool and outcome
//   - TurnDurationSeconds: Histogram of turn duration
//   - ActiveTurns: Gauge of turns currently being resolved
//
// # Thread Safety
//
// All operations are thread-safe.
type TurnMetrics struct {
	// TurnsTotal counts finished turns.
	// Labels: kind (text, voice, photo, location), status (success, error)
	TurnsTotal *prometheus.CounterVec

	// LLMRequestsTotal counts completion API calls.
	// Labels: model, status (success, error)
	LLMRequestsTotal *prometheus.CounterVec

	// TokensTotal counts tokens by direction and model.
	// Labels: direction (input, output), model
	TokensTotal *prometheus.CounterVec

	// ToolCallsTotal counts dispatched tool calls.
	// Labels: tool, outcome (terminal, inject, silent, error)
	ToolCallsTotal *prometheus.CounterVec

	// TurnDurationSeconds measures end-to-end turn duration.
	// Labels: kind
	TurnDurationSeconds *prometheus.HistogramVec

	// ActiveTurns tracks turns currently being resolved.
	ActiveTurns prometheus.Gauge
}

// DefaultMetrics is the singleton instance of TurnMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *TurnMetrics

// InitMetrics creates and registers all Prometheus metrics. Call once at
// application startup; a second call panics on duplicate registration.
func InitMetrics() *TurnMetrics {
	DefaultMetrics = &TurnMetrics{
		TurnsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: turnsSubsystem,
				Name:      "total",
				Help:      "Total number of finished conversation turns by kind and status",
			},
			[]string{"kind", "status"},
		),

		LLMRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: turnsSubsystem,
				Name:      "llm_requests_total",
				Help:      "Total completion API calls by model and status",
			},
			[]string{"model", "status"},
		),

		TokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: turnsSubsystem,
				Name:      "tokens_total",
				Help:      "Total tokens processed by direction and model",
			},
			[]string{"direction", "model"},
		),

		ToolCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: turnsSubsystem,
				Name:      "tool_calls_total",
				Help:      "Total dispatched tool calls by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),

		TurnDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: turnsSubsystem,
				Name:      "duration_seconds",
				Help:      "End-to-end turn duration in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"kind"},
		),

		ActiveTurns: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: turnsSubsystem,
				Name:      "active",
				Help:      "Number of turns currently being resolved",
			},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Helper Methods
// =============================================================================

// All helpers are nil-safe so call sites never have to guard for tests
// that skip InitMetrics.

// RecordTurn records a finished turn.
func (m *TurnMetrics) RecordTurn(kind string, success bool, seconds float64) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.TurnsTotal.WithLabelValues(kind, status).Inc()
	m.TurnDurationSeconds.WithLabelValues(kind).Observe(seconds)
}

// RecordLLMRequest records one completion API call.
func (m *TurnMetrics) RecordLLMRequest(model string, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.LLMRequestsTotal.WithLabelValues(model, status).Inc()
}

// RecordTokens records token usage for one completion call.
func (m *TurnMetrics) RecordTokens(inputTokens, outputTokens int, model string) {
	if m == nil {
		return
	}
	m.TokensTotal.WithLabelValues("input", model).Add(float64(inputTokens))
	m.TokensTotal.WithLabelValues("output", model).Add(float64(outputTokens))
}

// RecordToolCall records one dispatched tool call.
func (m *TurnMetrics) RecordToolCall(tool, outcome string) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, outcome).Inc()
}

// TurnStarted increments the active turns gauge.
func (m *TurnMetrics) TurnStarted() {
	if m == nil {
		return
	}
	m.ActiveTurns.Inc()
}

// TurnEnded decrements the active turns gauge.
func (m *TurnMetrics) TurnEnded() {
	if m == nil {
		return
	}
	m.ActiveTurns.Dec()
}
