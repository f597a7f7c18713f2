// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// ModelSpec describes one selectable completion model.
//
// Models without tool-calling support get system-role messages stripped
// before the call and use the extended max_completion_tokens request
// parameter instead of max_tokens.
type ModelSpec struct {
	// Name is the provider model identifier, e.g. "gpt-5".
	Name string `yaml:"name"`

	// SupportsTools reports whether the model accepts tool definitions
	// and system-role messages.
	SupportsTools bool `yaml:"supports_tools"`

	// MaxTokens is the completion token limit passed on each request.
	MaxTokens int `yaml:"max_tokens"`

	// Default marks the system-wide default model. Exactly one entry
	// should set it; the first marked entry wins.
	Default bool `yaml:"default"`
}

// Catalog is the immutable set of models users may select, loaded once at
// process start and shared read-only across all users.
type Catalog struct {
	models  []ModelSpec
	byName  map[string]ModelSpec
	defName string
}

type catalogFile struct {
	Models []ModelSpec `yaml:"models"`
}

// LoadCatalog reads a YAML model catalog from path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model catalog %s: %w", path, err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse model catalog %s: %w", path, err)
	}
	if len(file.Models) == 0 {
		return nil, fmt.Errorf("model catalog %s lists no models", path)
	}

	c := newCatalog(file.Models)
	slog.Info("Loaded model catalog", "path", path,
		"models", len(c.models), "default", c.defName)
	return c, nil
}

// DefaultCatalog returns the built-in catalog used when no catalog file is
// configured.
func DefaultCatalog() *Catalog {
	return newCatalog([]ModelSpec{
		{Name: "gpt-5", SupportsTools: true, MaxTokens: 16384, Default: true},
		{Name: "gpt-5-mini", SupportsTools: false, MaxTokens: 16384},
	})
}

func newCatalog(models []ModelSpec) *Catalog {
	c := &Catalog{
		models: models,
		byName: make(map[string]ModelSpec, len(models)),
	}
	for _, m := range models {
		c.byName[m.Name] = m
		if m.Default && c.defName == "" {
			c.defName = m.Name
		}
	}
	if c.defName == "" {
		c.defName = models[0].Name
	}
	return c
}

// Lookup returns the spec for name. Unknown names resolve to the default
// model so a stale per-user selection never breaks a turn.
func (c *Catalog) Lookup(name string) ModelSpec {
	if m, ok := c.byName[name]; ok {
		return m
	}
	return c.byName[c.defName]
}

// Known reports whether name is a selectable model.
func (c *Catalog) Known(name string) bool {
	_, ok := c.byName[name]
	return ok
}

// Default returns the system-wide default model name.
func (c *Catalog) Default() string {
	return c.defName
}

// Names returns every selectable model name in catalog order.
func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m.Name)
	}
	return out
}
