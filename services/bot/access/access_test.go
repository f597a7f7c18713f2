// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package access

import (
	"context"
	"errors"
	"testing"
)

type fakeStore struct {
	ids     []int64
	saveErr error
}

func (f *fakeStore) SaveUserID(_ context.Context, id int64) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.ids = append(f.ids, id)
	return nil
}

func (f *fakeStore) RemoveUserID(_ context.Context, id int64) error {
	for i, v := range f.ids {
		if v == id {
			f.ids = append(f.ids[:i], f.ids[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeStore) UserIDs(_ context.Context) ([]int64, error) {
	return f.ids, nil
}

func TestNewList_SeedsFromStore(t *testing.T) {
	t.Setenv("ALLOWED_USER_IDS", "100, 200")
	st := &fakeStore{ids: []int64{300}}

	l, err := NewList(context.Background(), st)
	if err != nil {
		t.Fatalf("NewList: %v", err)
	}

	if !l.IsAdmin(100) || !l.IsAdmin(200) {
		t.Error("env ids must be administrators")
	}
	if l.IsAdmin(300) {
		t.Error("stored users are not administrators")
	}
	if !l.IsAllowed(300) || !l.IsAllowed(100) {
		t.Error("both admins and stored users are allowed")
	}
	if l.IsAllowed(999) {
		t.Error("unknown users are not allowed")
	}
}

func TestNewList_RejectsMalformedAdminList(t *testing.T) {
	t.Setenv("ALLOWED_USER_IDS", "100,abc")

	if _, err := NewList(context.Background(), nil); err == nil {
		t.Fatal("expected error for malformed ALLOWED_USER_IDS")
	}
}

func TestAdd_WriteThroughFailureLeavesCacheUnchanged(t *testing.T) {
	t.Setenv("ALLOWED_USER_IDS", "1")
	st := &fakeStore{saveErr: errors.New("db down")}

	l, err := NewList(context.Background(), st)
	if err != nil {
		t.Fatalf("NewList: %v", err)
	}
	if err := l.Add(context.Background(), 42); err == nil {
		t.Fatal("expected Add to surface the storage error")
	}
	if l.IsAllowed(42) {
		t.Error("cache must not update when the durable write fails")
	}
}

func TestAddRemove_RoundTrip(t *testing.T) {
	t.Setenv("ALLOWED_USER_IDS", "1")
	st := &fakeStore{}

	l, err := NewList(context.Background(), st)
	if err != nil {
		t.Fatalf("NewList: %v", err)
	}

	if err := l.Add(context.Background(), 42); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := l.Add(context.Background(), 42); err != nil {
		t.Fatalf("re-Add: %v", err)
	}
	if got := len(l.Users()); got != 1 {
		t.Errorf("users after duplicate add: got %d, want 1", got)
	}

	if err := l.Remove(context.Background(), 42); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if l.IsAllowed(42) {
		t.Error("removed user must lose access")
	}
	if !l.IsAllowed(1) {
		t.Error("administrators keep access")
	}
}
