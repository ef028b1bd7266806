// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package assembler

import (
	"regexp"
	"sort"
	"strings"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// MENTION STRUCT
// =============================================================================

// Mention is an inline "@Name" span resolved against a known persona.
type Mention struct {
	// Raw is the original text (e.g., "@Reviewer" or `@"Code Reviewer"`)
	Raw string

	// Name as written, without the @ and quotes
	Name string

	// PersonaID of the resolved persona
	PersonaID string

	// Start and End byte positions in the original input
	Start int
	End   int
}

// =============================================================================
// PARSER
// =============================================================================

// mentionPattern matches @Name or @"Name with spaces" at the start of the
// input or after whitespace, so e-mail addresses are not mentions.
var mentionPattern = regexp.MustCompile(`(?:^|\s)@(?:"([^"]+)"|([\p{L}\p{N}_\-]+))`)

// Parser resolves persona mentions.
type Parser struct {
	byName map[string]string
}

// NewParser builds a parser for the given personas. Names and ids match
// case-insensitively; on a collision the first persona wins.
func NewParser(personas []model.Persona) *Parser {
	p := &Parser{byName: make(map[string]string, len(personas)*2)}
	for _, persona := range personas {
		for _, key := range []string{persona.Name, persona.ID} {
			k := strings.ToLower(strings.TrimSpace(key))
			if k == "" {
				continue
			}
			if _, exists := p.byName[k]; !exists {
				p.byName[k] = persona.ID
			}
		}
	}
	return p
}

// Parse extracts resolved mentions in input order. It also returns the text
// with resolved mentions removed. Unresolved @words stay in the text.
func (p *Parser) Parse(input string) ([]Mention, string) {
	var mentions []Mention
	var removals []removal

	for _, match := range mentionPattern.FindAllStringSubmatchIndex(input, -1) {
		start := match[0] + strings.IndexByte(input[match[0]:match[1]], '@')
		end := match[1]

		var name string
		// BUGFIX: bounds check on the optional capture groups
		for i := 2; i <= 4 && i+1 < len(match); i += 2 {
			if match[i] != -1 {
				name = input[match[i]:match[i+1]]
				break
			}
		}

		id, ok := p.byName[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			continue
		}

		mentions = append(mentions, Mention{
			Raw:       input[start:end],
			Name:      name,
			PersonaID: id,
			Start:     start,
			End:       end,
		})
		removals = append(removals, removal{start, end})
	}

	return mentions, removeMentions(input, removals)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

type removal struct {
	start, end int
}

// removeMentions removes the ranges from input and collapses whitespace.
func removeMentions(input string, removals []removal) string {
	if len(removals) == 0 {
		return strings.TrimSpace(input)
	}

	// Process from the end so earlier offsets stay valid.
	sort.Slice(removals, func(i, j int) bool {
		return removals[i].start > removals[j].start
	})

	result := input
	for _, r := range removals {
		result = result[:r.start] + result[r.end:]
	}

	return strings.Join(strings.Fields(result), " ")
}
