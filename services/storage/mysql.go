// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage persists the user allow-list and per-user last-session
// records in MySQL.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

const (
	connectAttempts = 10
	connectBackoff  = 5 * time.Second
)

// SessionRecord is one row of the last-session table.
type SessionRecord struct {
	UserID   int64     `json:"user_id"`
	Username string    `json:"username"`
	LastSeen time.Time `json:"last_seen"`
}

// DB wraps the MySQL connection pool.
type DB struct {
	db *sql.DB
}

// Open connects using the MYSQL_DSN environment variable, e.g.
// "bot:secret@tcp(db:3306)/bot?parseTime=true". The database container
// may still be starting when the bot comes up, so the initial ping
// retries with a fixed backoff before giving up.
func Open(ctx context.Context) (*DB, error) {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		return nil, fmt.Errorf("MYSQL_DSN environment variable not set")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	var pingErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		pingErr = db.PingContext(ctx)
		if pingErr == nil {
			break
		}
		slog.Warn("MySQL not ready, retrying",
			"attempt", attempt, "max_attempts", connectAttempts, "error", pingErr)
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(connectBackoff):
		}
	}
	if pingErr != nil {
		db.Close()
		return nil, fmt.Errorf("MySQL unreachable after %d attempts: %w", connectAttempts, pingErr)
	}

	s := &DB{db: db}
	if err := s.ensureTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("MySQL storage initialized")
	return s, nil
}

// Close releases the connection pool.
func (s *DB) Close() error {
	return s.db.Close()
}

func (s *DB) ensureTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS user_ids (
			user_id BIGINT NOT NULL,
			PRIMARY KEY (user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS last_session (
			user_id BIGINT NOT NULL,
			username VARCHAR(255) NOT NULL DEFAULT '',
			last_seen DATETIME NOT NULL,
			PRIMARY KEY (user_id)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// SaveLastSession upserts the user's most recent activity.
func (s *DB) SaveLastSession(ctx context.Context, userID int64, username string, seen time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO last_session (user_id, username, last_seen) VALUES (?, ?, ?)
		 ON DUPLICATE KEY UPDATE username = VALUES(username), last_seen = VALUES(last_seen)`,
		userID, username, seen.UTC())
	if err != nil {
		return fmt.Errorf("failed to save last session for user %d: %w", userID, err)
	}
	return nil
}

// AllSessions returns every last-session row, most recent first.
func (s *DB) AllSessions(ctx context.Context) ([]SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, username, last_seen FROM last_session ORDER BY last_seen DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query last sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.UserID, &rec.Username, &rec.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan last session row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read last sessions: %w", err)
	}
	return out, nil
}

// SaveUserID adds a user to the allow-list. Re-adding is a no-op.
func (s *DB) SaveUserID(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT IGNORE INTO user_ids (user_id) VALUES (?)`, userID)
	if err != nil {
		return fmt.Errorf("failed to save user %d: %w", userID, err)
	}
	return nil
}

// RemoveUserID drops a user from the allow-list. Removing an absent user
// is a no-op.
func (s *DB) RemoveUserID(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM user_ids WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to remove user %d: %w", userID, err)
	}
	return nil
}

// UserIDs returns the full allow-list.
func (s *DB) UserIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM user_ids`)
	if err != nil {
		return nil, fmt.Errorf("failed to query allow-list: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan allow-list row: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read allow-list: %w", err)
	}
	return out, nil
}
