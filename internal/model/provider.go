// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strings"
)

// =============================================================================
// BACKEND FAMILY
// =============================================================================

// Family tags the wire protocol a provider speaks. The set is closed: every
// value returned by Families has exactly one adapter implementation.
type Family string

const (
	FamilyOllama    Family = "ollama"
	FamilyOpenAI    Family = "openai"
	FamilyAnthropic Family = "anthropic"
	FamilyGroq      Family = "groq"
	FamilyCerebras  Family = "cerebras"
	FamilyMistral   Family = "mistral"
	FamilyXAI       Family = "xai"
	FamilyPolaris   Family = "polaris"
)

// Families returns every supported backend family.
func Families() []Family {
	return []Family{
		FamilyOllama,
		FamilyOpenAI,
		FamilyAnthropic,
		FamilyGroq,
		FamilyCerebras,
		FamilyMistral,
		FamilyXAI,
		FamilyPolaris,
	}
}

// ParseFamily converts a config string into a Family.
func ParseFamily(s string) (Family, error) {
	f := Family(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Families() {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown backend family %q", s)
}

// OpenAICompatible reports whether the family speaks the OpenAI chat
// completions protocol.
func (f Family) OpenAICompatible() bool {
	switch f {
	case FamilyOpenAI, FamilyGroq, FamilyCerebras, FamilyMistral, FamilyXAI:
		return true
	}
	return false
}

// =============================================================================
// CAPABILITY FLAGS
// =============================================================================

// Capability is a bit set of features a provider declares.
type Capability uint8

const (
	CapChat Capability = 1 << iota
	CapEmbeddings
	CapSearch
	CapSpeech
	CapImage
)

var capabilityNames = []struct {
	flag Capability
	name string
}{
	{CapChat, "chat"},
	{CapEmbeddings, "embeddings"},
	{CapSearch, "search"},
	{CapSpeech, "speech"},
	{CapImage, "image"},
}

// Has reports whether every flag in want is set.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

// Strings returns the names of the set flags.
func (c Capability) Strings() []string {
	var out []string
	for _, cn := range capabilityNames {
		if c.Has(cn.flag) {
			out = append(out, cn.name)
		}
	}
	return out
}

// String implements fmt.Stringer.
func (c Capability) String() string {
	if c == 0 {
		return "none"
	}
	return strings.Join(c.Strings(), ",")
}

// ParseCapabilities converts config names into a Capability set.
func ParseCapabilities(names []string) (Capability, error) {
	var c Capability
	for _, name := range names {
		found := false
		for _, cn := range capabilityNames {
			if strings.EqualFold(strings.TrimSpace(name), cn.name) {
				c |= cn.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown capability %q", name)
		}
	}
	return c, nil
}

// =============================================================================
// PROVIDER AND MODEL
// =============================================================================

// Provider describes one configured backend endpoint.
type Provider struct {
	ID             string     `json:"id"`
	Family         Family     `json:"family"`
	Endpoint       string     `json:"endpoint"`
	APIKey         string     `json:"-"`
	Capabilities   Capability `json:"capabilities"`
	EmbeddingModel string     `json:"embedding_model,omitempty"`
}

// HasCredential reports whether an API key is configured.
func (p Provider) HasCredential() bool {
	return p.APIKey != ""
}

// Model is a model identifier bound to the provider that serves it. The
// provider is held by value and is not owned by the model.
type Model struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name,omitempty"`
	Provider    Provider `json:"provider"`
}

// Name returns the display name, falling back to the identifier.
func (m Model) Name() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.ID
}
