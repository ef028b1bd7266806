// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"sort"
	"strings"
	"unicode"
)

// =============================================================================
// COMPLETER
// =============================================================================

// Completer handles tab completion for commands and arguments.
type Completer struct {
	registry *Registry
}

// NewCompleter creates a new completer with the given registry.
func NewCompleter(registry *Registry) *Completer {
	return &Completer{registry: registry}
}

// Complete returns whole-line candidates for line, best match first. It
// completes the command name while it is being typed and then the value of
// the argument under the cursor.
func (c *Completer) Complete(line string) []string {
	if !IsCommand(line) {
		return nil
	}

	end := strings.IndexFunc(line, unicode.IsSpace)
	if end == -1 {
		return c.completeCommands(line)
	}

	cmd := c.registry.Get(line[:end])
	if cmd == nil || len(cmd.Args) == 0 {
		return nil
	}

	// Everything up to the last space stays; the tail is the partial value.
	cut := strings.LastIndexFunc(line, unicode.IsSpace) + 1
	head, partial := line[:cut], line[cut:]
	index := len(splitCommandLine(head)) - 1
	if index >= len(cmd.Args) {
		if !cmd.Args[len(cmd.Args)-1].Variadic {
			return nil
		}
		index = len(cmd.Args) - 1
	}

	values := completeFromList(cmd.Args[index].candidates(), partial)
	for i, v := range values {
		values[i] = head + v
	}
	return values
}

func (c *Completer) completeCommands(partial string) []string {
	var names []string
	for _, cmd := range c.registry.All() {
		if cmd.Hidden {
			continue
		}
		names = append(names, cmd.Name)
	}
	return completeFromList(names, partial)
}

// completeFromList returns values starting with partial, ranked.
func completeFromList(values []string, partial string) []string {
	var out []string
	for _, v := range values {
		if strings.HasPrefix(strings.ToLower(v), strings.ToLower(partial)) {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := calculateScore(out[i], partial), calculateScore(out[j], partial)
		if si != sj {
			return si > sj
		}
		return out[i] < out[j]
	})
	return out
}

// calculateScore ranks a completion. Higher is better.
func calculateScore(value, partial string) int {
	value = strings.ToLower(value)
	partial = strings.ToLower(partial)

	score := 100
	if value == partial {
		return score + 100
	}
	if strings.HasPrefix(value, partial) {
		score += 50
		score += 20 - len(value)
	}
	return score - len(value)/2
}
