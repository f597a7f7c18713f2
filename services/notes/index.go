// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package notes stores and searches per-user notes in Weaviate.
//
// Every operation is scoped to a single user through a user_id filter, so
// one user's search can never surface another user's notes.
package notes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// Note is one stored note as returned by queries.
type Note struct {
	ID      string    `json:"-"`
	Title   string    `json:"title"`
	Body    string    `json:"body"`
	Tags    []string  `json:"tags"`
	Created time.Time `json:"-"`
}

// Index is the Weaviate-backed note store.
type Index struct {
	client *weaviate.Client
}

// NewIndex wraps an initialized Weaviate client and ensures the Note
// schema exists.
func NewIndex(client *weaviate.Client) *Index {
	EnsureSchema(client)
	return &Index{client: client}
}

// Add stores a note for the user and returns its identifier.
func (x *Index) Add(ctx context.Context, userID int64, title, body string, tags []string) (string, error) {
	id := uuid.New().String()
	if tags == nil {
		tags = []string{}
	}

	_, err := x.client.Data().Creator().
		WithClassName(noteClass).
		WithID(id).
		WithProperties(map[string]interface{}{
			"user_id": strconv.FormatInt(userID, 10),
			"title":   title,
			"body":    body,
			"tags":    tags,
			"created": float64(time.Now().UnixMilli()),
		}).
		Do(ctx)
	if err != nil {
		slog.Error("Failed to store note", "user_id", userID, "error", err)
		return "", fmt.Errorf("failed to store note: %w", err)
	}

	slog.Info("Stored note", "user_id", userID, "note_id", id)
	return id, nil
}

// Search runs a BM25 full-text query over the user's notes, optionally
// restricted to a creation-time window. A nil bound leaves that side of
// the window open.
func (x *Index) Search(ctx context.Context, userID int64, query string, from, to *time.Time) ([]Note, error) {
	where := userFilter(userID)
	if from != nil || to != nil {
		operands := []*filters.WhereBuilder{where}
		if from != nil {
			operands = append(operands, filters.Where().
				WithPath([]string{"created"}).
				WithOperator(filters.GreaterThanEqual).
				WithValueNumber(float64(from.UnixMilli())))
		}
		if to != nil {
			operands = append(operands, filters.Where().
				WithPath([]string{"created"}).
				WithOperator(filters.LessThanEqual).
				WithValueNumber(float64(to.UnixMilli())))
		}
		where = filters.Where().WithOperator(filters.And).WithOperands(operands)
	}

	bm25 := (&graphql.BM25ArgumentBuilder{}).
		WithQuery(query).
		WithProperties("title", "body", "tags")

	result, err := x.client.GraphQL().Get().
		WithClassName(noteClass).
		WithBM25(bm25).
		WithWhere(where).
		WithFields(noteFields()...).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("note search failed: %w", err)
	}
	return parseNotes(result)
}

// All returns every note the user has stored, oldest first.
func (x *Index) All(ctx context.Context, userID int64) ([]Note, error) {
	sortBy := graphql.Sort{
		Path:  []string{"created"},
		Order: graphql.Asc,
	}

	result, err := x.client.GraphQL().Get().
		WithClassName(noteClass).
		WithWhere(userFilter(userID)).
		WithSort(sortBy).
		WithFields(noteFields()...).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("note listing failed: %w", err)
	}
	return parseNotes(result)
}

// Delete removes the given notes, skipping identifiers that belong to a
// different user. It returns how many notes were actually removed.
func (x *Index) Delete(ctx context.Context, userID int64, ids []string) (int, error) {
	owner := strconv.FormatInt(userID, 10)
	deleted := 0

	for _, id := range ids {
		obj, err := x.client.Data().ObjectsGetter().
			WithClassName(noteClass).
			WithID(id).
			Do(ctx)
		if err != nil || len(obj) == 0 {
			slog.Warn("Note to delete not found", "note_id", id)
			continue
		}
		props, _ := obj[0].Properties.(map[string]interface{})
		if props == nil || props["user_id"] != owner {
			slog.Warn("Refusing to delete another user's note",
				"user_id", userID, "note_id", id)
			continue
		}

		err = x.client.Data().Deleter().
			WithClassName(noteClass).
			WithID(id).
			Do(ctx)
		if err != nil {
			return deleted, fmt.Errorf("failed to delete note %s: %w", id, err)
		}
		deleted++
	}

	slog.Info("Deleted notes", "user_id", userID, "requested", len(ids), "deleted", deleted)
	return deleted, nil
}

func userFilter(userID int64) *filters.WhereBuilder {
	return filters.Where().
		WithPath([]string{"user_id"}).
		WithOperator(filters.Equal).
		WithValueText(strconv.FormatInt(userID, 10))
}

func noteFields() []graphql.Field {
	return []graphql.Field{
		{Name: "title"},
		{Name: "body"},
		{Name: "tags"},
		{Name: "created"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}},
	}
}

// noteQueryResponse mirrors the {"Get": {"Note": [...]}} response shape.
type noteQueryResponse struct {
	Get struct {
		Note []noteResult `json:"Note"`
	} `json:"Get"`
}

type noteResult struct {
	Title      string   `json:"title"`
	Body       string   `json:"body"`
	Tags       []string `json:"tags"`
	Created    float64  `json:"created"`
	Additional struct {
		ID string `json:"id"`
	} `json:"_additional"`
}

// parseGraphQLResponse converts Weaviate's dynamic response payload into
// a typed struct via the marshal/unmarshal pattern.
func parseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}
	return &result, nil
}

func parseNotes(resp *models.GraphQLResponse) ([]Note, error) {
	parsed, err := parseGraphQLResponse[noteQueryResponse](resp)
	if err != nil {
		return nil, err
	}

	out := make([]Note, 0, len(parsed.Get.Note))
	for _, n := range parsed.Get.Note {
		out = append(out, Note{
			ID:      n.Additional.ID,
			Title:   n.Title,
			Body:    n.Body,
			Tags:    n.Tags,
			Created: time.UnixMilli(int64(n.Created)),
		})
	}
	return out, nil
}
