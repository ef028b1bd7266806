// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import "github.com/jeranaias/rigrun-chat/internal/model"

// Preset holds the vendor defaults for one OpenAI-compatible family.
type Preset struct {
	BaseURL string

	// EmbeddingModel is empty for vendors without an embeddings endpoint.
	EmbeddingModel string
}

// SupportsEmbeddings reports whether the vendor serves /embeddings.
func (p Preset) SupportsEmbeddings() bool {
	return p.EmbeddingModel != ""
}

var presets = map[model.Family]Preset{
	model.FamilyOpenAI: {
		BaseURL:        "https://api.openai.com/v1",
		EmbeddingModel: "text-embedding-3-small",
	},
	model.FamilyGroq: {
		BaseURL: "https://api.groq.com/openai/v1",
	},
	model.FamilyCerebras: {
		BaseURL: "https://api.cerebras.ai/v1",
	},
	model.FamilyMistral: {
		BaseURL:        "https://api.mistral.ai/v1",
		EmbeddingModel: "mistral-embed",
	},
	model.FamilyXAI: {
		BaseURL: "https://api.x.ai/v1",
	},
}

// PresetFor returns the defaults for an OpenAI-compatible family.
func PresetFor(f model.Family) (Preset, bool) {
	p, ok := presets[f]
	return p, ok
}
