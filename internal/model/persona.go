// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "slices"

// Persona is a system prompt plus display identity bound to a turn.
type Persona struct {
	ID            string   `json:"id" yaml:"id"`
	Name          string   `json:"name" yaml:"name"`
	SystemPrompt  string   `json:"system_prompt" yaml:"system_prompt"`
	DocumentIDs   []string `json:"document_ids,omitempty" yaml:"document_ids"`
	AllowedModels []string `json:"allowed_models,omitempty" yaml:"allowed_models"`
}

// Allows reports whether the persona may run on the given model. An empty
// allow-list permits every model.
func (p Persona) Allows(modelID string) bool {
	return len(p.AllowedModels) == 0 || slices.Contains(p.AllowedModels, modelID)
}

// DisplayName returns the persona name, falling back to its id.
func (p Persona) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}
