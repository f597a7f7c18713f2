// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package access gates the bot behind a user allow-list.
//
// Administrators come from the ALLOWED_USER_IDS environment variable and
// are always allowed. Regular users live in durable storage and are
// cached in memory; mutations write through to storage first so a failed
// write never desynchronizes the cache.
package access

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/TyanRL/telegram-bot/services/bot/store"
)

// Store is the durable allow-list. Implemented by the MySQL storage layer.
type Store interface {
	SaveUserID(ctx context.Context, userID int64) error
	RemoveUserID(ctx context.Context, userID int64) error
	UserIDs(ctx context.Context) ([]int64, error)
}

// List is the in-memory allow-list with administrator overrides.
type List struct {
	admins []int64
	users  *store.ListStore[int64]
	store  Store
}

// NewList loads administrators from ALLOWED_USER_IDS (comma separated)
// and seeds the user cache from durable storage. A nil store leaves the
// list admin-only.
func NewList(ctx context.Context, st Store) (*List, error) {
	admins, err := parseAdmins(os.Getenv("ALLOWED_USER_IDS"))
	if err != nil {
		return nil, err
	}
	if len(admins) == 0 {
		slog.Warn("ALLOWED_USER_IDS is empty, no administrators configured")
	}

	l := &List{
		admins: admins,
		users:  store.NewListStore[int64](nil),
		store:  st,
	}
	if st != nil {
		ids, err := st.UserIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load allow-list: %w", err)
		}
		for _, id := range ids {
			l.users.Append(id)
		}
		slog.Info("Loaded allow-list", "admins", len(admins), "users", len(ids))
	}
	return l, nil
}

func parseAdmins(raw string) ([]int64, error) {
	var out []int64
	for _, field := range strings.Split(raw, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q in ALLOWED_USER_IDS: %w", field, err)
		}
		out = append(out, id)
	}
	return out, nil
}

// IsAdmin reports whether the user is an administrator.
func (l *List) IsAdmin(userID int64) bool {
	for _, id := range l.admins {
		if id == userID {
			return true
		}
	}
	return false
}

// IsAllowed reports whether the user may talk to the bot.
func (l *List) IsAllowed(userID int64) bool {
	return l.IsAdmin(userID) || l.users.Contains(userID)
}

// Add grants access to a user. Storage is written first; the cache only
// updates on success.
func (l *List) Add(ctx context.Context, userID int64) error {
	if l.users.Contains(userID) {
		return nil
	}
	if l.store != nil {
		if err := l.store.SaveUserID(ctx, userID); err != nil {
			return err
		}
	}
	l.users.Append(userID)
	slog.Info("Granted access", "user_id", userID)
	return nil
}

// Remove revokes a user's access. Administrators cannot be removed.
func (l *List) Remove(ctx context.Context, userID int64) error {
	if l.store != nil {
		if err := l.store.RemoveUserID(ctx, userID); err != nil {
			return err
		}
	}
	l.users.Remove(userID)
	slog.Info("Revoked access", "user_id", userID)
	return nil
}

// Users returns the non-admin allow-list.
func (l *List) Users() []int64 {
	return l.users.Snapshot()
}

// Admins returns the configured administrator ids.
func (l *List) Admins() []int64 {
	out := make([]int64, len(l.admins))
	copy(out, l.admins)
	return out
}
