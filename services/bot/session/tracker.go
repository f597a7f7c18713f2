// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session tracks the latest activity per user, keeping one record
// per user in memory and writing through to durable storage.
package session

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/TyanRL/telegram-bot/services/bot/store"
)

// Record is the latest observed activity of one user.
type Record struct {
	UserID   int64     `json:"user_id"`
	Username string    `json:"username"`
	LastSeen time.Time `json:"last_seen"`
}

// Log is the durable sink for session records. Implemented by the MySQL
// storage layer.
type Log interface {
	SaveLastSession(ctx context.Context, userID int64, username string, seen time.Time) error
}

// Tracker keeps the newest record per user. A nil log disables
// persistence but keeps the in-memory view working.
type Tracker struct {
	records *store.KeyStore[int64, Record]
	log     Log
}

// NewTracker creates an empty tracker writing through to log.
func NewTracker(log Log) *Tracker {
	return &Tracker{
		records: store.NewKeyStore[int64, Record](),
		log:     log,
	}
}

// Seed preloads records read from durable storage at startup. Existing
// in-memory records are overwritten.
func (t *Tracker) Seed(records []Record) {
	for _, rec := range records {
		t.records.Set(rec.UserID, rec)
	}
	slog.Info("Seeded session tracker", "records", len(records))
}

// Touch records that the user was active now. The write-through to the
// durable log is best effort: a storage failure is logged and the
// in-memory record still updates.
func (t *Tracker) Touch(ctx context.Context, userID int64, username string) {
	rec := Record{UserID: userID, Username: username, LastSeen: time.Now()}
	t.records.Set(userID, rec)

	if t.log == nil {
		return
	}
	if err := t.log.SaveLastSession(ctx, userID, username, rec.LastSeen); err != nil {
		slog.Error("Failed to persist session record", "user_id", userID, "error", err)
	}
}

// Last returns the user's latest record, if any.
func (t *Tracker) Last(userID int64) (Record, bool) {
	return t.records.Get(userID)
}

// All returns every record, most recent first.
func (t *Tracker) All() []Record {
	snapshot := t.records.Snapshot()
	out := make([]Record, 0, len(snapshot))
	for _, rec := range snapshot {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out
}
