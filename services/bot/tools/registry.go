// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools defines the model-callable capabilities and dispatches
// model tool calls to their backing services.
package tools

import (
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/TyanRL/telegram-bot/services/llm"
)

// Tool names as advertised to the model.
const (
	NameRequestGeolocation = "request_geolocation"
	NameCurrentWeather     = "get_current_weather"
	NameWeeklyForecast     = "get_weekly_forecast"
	NameLocationByAddress  = "get_location_by_address"
	NameGenerateImage      = "generate_image"
	NameChangeModel        = "change_model"
	NameAddNote            = "add_note"
	NameSearchNotes        = "search_notes"
	NameGetNotes           = "get_notes"
	NameDeleteNotes        = "delete_notes"
	NameGoogleSearch       = "google_search"
)

// Spec is one registered tool: its model-facing contract.
type Spec struct {
	Name        string
	Description string
	Parameters  jsonschema.Definition
}

var coordinateParams = jsonschema.Definition{
	Type: jsonschema.Object,
	Properties: map[string]jsonschema.Definition{
		"latitude": {
			Type:        jsonschema.Number,
			Description: "Latitude in decimal degrees, WGS84.",
		},
		"longitude": {
			Type:        jsonschema.Number,
			Description: "Longitude in decimal degrees, WGS84.",
		},
	},
	Required: []string{"latitude", "longitude"},
}

// registry is the fixed tool catalog, in advertisement order.
var registry = []Spec{
	{
		Name: NameRequestGeolocation,
		Description: "Ask the user to share their current location. " +
			"Call this when a tool needs coordinates and none are known yet.",
		Parameters: jsonschema.Definition{
			Type:       jsonschema.Object,
			Properties: map[string]jsonschema.Definition{},
		},
	},
	{
		Name:        NameCurrentWeather,
		Description: "Get the current weather at the given coordinates.",
		Parameters:  coordinateParams,
	},
	{
		Name:        NameWeeklyForecast,
		Description: "Get the 7-day weather forecast at the given coordinates.",
		Parameters:  coordinateParams,
	},
	{
		Name:        NameLocationByAddress,
		Description: "Resolve a free-form postal address or place name to coordinates.",
		Parameters: jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"address": {
					Type:        jsonschema.String,
					Description: "Address or place name, any language.",
				},
			},
			Required: []string{"address"},
		},
	},
	{
		Name:        NameGenerateImage,
		Description: "Generate an image from a text prompt and send it to the user.",
		Parameters: jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"prompt": {
					Type:        jsonschema.String,
					Description: "What to draw, as detailed as possible.",
				},
				"style": {
					Type:        jsonschema.String,
					Description: "Rendering style.",
					Enum:        []string{"vivid", "natural"},
				},
			},
			Required: []string{"prompt"},
		},
	},
	{
		Name:        NameChangeModel,
		Description: "Switch the conversation to a different completion model.",
		Parameters: jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"model": {
					Type:        jsonschema.String,
					Description: "Model name to switch to.",
				},
			},
			Required: []string{"model"},
		},
	},
	{
		Name:        NameAddNote,
		Description: "Save a note for the user.",
		Parameters: jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"title": {
					Type:        jsonschema.String,
					Description: "Short note title.",
				},
				"body": {
					Type:        jsonschema.String,
					Description: "Note text.",
				},
				"tags": {
					Type:        jsonschema.Array,
					Description: "Optional labels.",
					Items:       &jsonschema.Definition{Type: jsonschema.String},
				},
			},
			Required: []string{"title", "body"},
		},
	},
	{
		Name:        NameSearchNotes,
		Description: "Full-text search over the user's saved notes, optionally within a date range.",
		Parameters: jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"query": {
					Type:        jsonschema.String,
					Description: "Search terms.",
				},
				"from": {
					Type:        jsonschema.String,
					Description: "Earliest creation date, YYYY-MM-DD.",
				},
				"to": {
					Type:        jsonschema.String,
					Description: "Latest creation date, YYYY-MM-DD.",
				},
			},
			Required: []string{"query"},
		},
	},
	{
		Name:        NameGetNotes,
		Description: "List every note the user has saved.",
		Parameters: jsonschema.Definition{
			Type:       jsonschema.Object,
			Properties: map[string]jsonschema.Definition{},
		},
	},
	{
		Name:        NameDeleteNotes,
		Description: "Delete notes by their identifiers. Identifiers come from search_notes or get_notes results.",
		Parameters: jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"ids": {
					Type:        jsonschema.Array,
					Description: "Note identifiers to delete.",
					Items:       &jsonschema.Definition{Type: jsonschema.String},
				},
			},
			Required: []string{"ids"},
		},
	},
	{
		Name:        NameGoogleSearch,
		Description: "Search the web for fresh or factual information.",
		Parameters: jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"query": {
					Type:        jsonschema.String,
					Description: "Search query.",
				},
			},
			Required: []string{"query"},
		},
	},
}

// Specs returns the full tool catalog.
func Specs() []Spec {
	out := make([]Spec, len(registry))
	copy(out, registry)
	return out
}

// Resolve looks a tool up by name.
func Resolve(name string) (Spec, bool) {
	for _, s := range registry {
		if s.Name == name {
			return s, true
		}
	}
	return Spec{}, false
}

// Definitions renders the catalog in the completion client's format.
func Definitions() []llm.ToolDefinition {
	out := make([]llm.ToolDefinition, 0, len(registry))
	for _, s := range registry {
		out = append(out, llm.ToolDefinition{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  s.Parameters,
		})
	}
	return out
}
