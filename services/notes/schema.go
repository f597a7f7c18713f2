// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package notes

import (
	"context"
	"log"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// noteClass is the Weaviate class holding user notes.
const noteClass = "Note"

// GetNoteSchema returns the schema for the Note class.
//
// # Properties
//
//   - user_id: Owner of the note; every query filters on it.
//   - title: Short note title, searchable.
//   - body: Free-form note text, searchable.
//   - tags: Optional labels, searchable.
//   - created: Unix milliseconds when the note was saved.
func GetNoteSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       noteClass,
		Description: "A user's personal note with full-text search over title, body and tags.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            "user_id",
				DataType:        []string{"text"},
				Description:     "Messenger user identifier owning this note.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "title",
				DataType:    []string{"text"},
				Description: "Short title of the note.",
			},
			{
				Name:        "body",
				DataType:    []string{"text"},
				Description: "Free-form note text.",
			},
			{
				Name:        "tags",
				DataType:    []string{"text[]"},
				Description: "Optional labels attached to the note.",
			},
			{
				Name:            "created",
				DataType:        []string{"number"},
				Description:     "Unix milliseconds when the note was saved.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// EnsureSchema creates the Note class if it does not already exist.
func EnsureSchema(client *weaviate.Client) {
	class := GetNoteSchema()
	slog.Info("Checking schema", "class", class.Class)

	_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(context.Background())
	if err != nil {
		// The client errors when the class is missing; create it now.
		slog.Info("Schema not found, creating it...", "class", class.Class)
		if err := client.Schema().ClassCreator().WithClass(class).Do(context.Background()); err != nil {
			log.Fatalf("Failed to create schema for class %s: %v", class.Class, err)
		}
		slog.Info("Successfully created schema", "class", class.Class)
	} else {
		slog.Info("Schema already exists", "class", class.Class)
	}
}
