// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// validate checks decoded tool arguments. Shared; the validator is
// thread safe.
var validate = validator.New()

// ArgumentError marks model-supplied arguments that failed to decode or
// validate. The dispatcher turns it into a user-facing apology instead
// of surfacing it as an internal failure.
type ArgumentError struct {
	Tool string
	Err  error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.Err)
}

func (e *ArgumentError) Unwrap() error {
	return e.Err
}

// decodeArgs parses and validates a raw JSON argument object.
func decodeArgs[T any](tool, raw string) (T, error) {
	var args T
	if raw == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return args, &ArgumentError{Tool: tool, Err: err}
	}
	if err := validate.Struct(&args); err != nil {
		return args, &ArgumentError{Tool: tool, Err: err}
	}
	return args, nil
}

// Coordinates are pointers so a missing field is distinguishable from a
// legitimate zero value on the equator or prime meridian.
type coordinateArgs struct {
	Latitude  *float64 `json:"latitude" validate:"required,min=-90,max=90"`
	Longitude *float64 `json:"longitude" validate:"required,min=-180,max=180"`
}

type addressArgs struct {
	Address string `json:"address" validate:"required"`
}

type imageArgs struct {
	Prompt string `json:"prompt" validate:"required"`

	// Style is not validated here: the image backend treats anything
	// other than "natural" as "vivid".
	Style string `json:"style"`
}

type modelArgs struct {
	Model string `json:"model" validate:"required"`
}

type addNoteArgs struct {
	Title string   `json:"title" validate:"required"`
	Body  string   `json:"body" validate:"required"`
	Tags  []string `json:"tags"`
}

type searchNotesArgs struct {
	Query string `json:"query" validate:"required"`
	From  string `json:"from" validate:"omitempty,datetime=2006-01-02"`
	To    string `json:"to" validate:"omitempty,datetime=2006-01-02"`
}

// Window converts the optional date bounds to time values. The upper
// bound is pushed to the end of its day so "to" is inclusive.
func (a searchNotesArgs) Window() (from, to *time.Time) {
	if a.From != "" {
		t, _ := time.Parse("2006-01-02", a.From)
		from = &t
	}
	if a.To != "" {
		t, _ := time.Parse("2006-01-02", a.To)
		t = t.Add(24*time.Hour - time.Nanosecond)
		to = &t
	}
	return from, to
}

type deleteNotesArgs struct {
	IDs []string `json:"ids" validate:"required,min=1,dive,required"`
}

type searchArgs struct {
	Query string `json:"query" validate:"required"`
}
