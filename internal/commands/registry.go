// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrUnknownCommand is returned by Execute for unregistered names.
var ErrUnknownCommand = errors.New("unknown command")

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// Result tells the caller what to do after a command ran.
type Result int

const (
	// Continue keeps the prompt loop running.
	Continue Result = iota
	// Quit ends the session.
	Quit
)

// Handler executes a command with its validated arguments.
type Handler func(ctx context.Context, args []string) (Result, error)

// Command represents a slash command that can be executed.
type Command struct {
	// Name is the primary command name (e.g., "/help")
	Name string

	// Aliases are alternative names (e.g., "/h", "/?")
	Aliases []string

	// Description is shown in help and completion
	Description string

	// Usage shows argument syntax (e.g., "/model <name>")
	Usage string

	// Args defines the expected arguments
	Args []ArgDef

	Handler Handler

	// Hidden commands don't appear in help
	Hidden bool

	// Category for grouping in help display
	Category string
}

// ArgDef defines an argument for a command.
type ArgDef struct {
	Name     string
	Required bool

	// Variadic lets the last argument repeat.
	Variadic bool

	// Values restricts the argument to a fixed set, matched case-insensitively.
	Values []string

	// Complete lists candidate values for tab completion.
	Complete func() []string

	Description string
}

func (a ArgDef) candidates() []string {
	if len(a.Values) > 0 {
		return a.Values
	}
	if a.Complete != nil {
		return a.Complete()
	}
	return nil
}

// =============================================================================
// COMMAND REGISTRY
// =============================================================================

// Registry holds all registered commands. Names are case-insensitive.
type Registry struct {
	commands map[string]*Command
	aliases  map[string]*Command
}

// NewRegistry creates an empty command registry.
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]*Command),
		aliases:  make(map[string]*Command),
	}
}

// Register adds a command to the registry, replacing one of the same name.
func (r *Registry) Register(cmd *Command) {
	r.commands[strings.ToLower(cmd.Name)] = cmd
	for _, alias := range cmd.Aliases {
		r.aliases[strings.ToLower(alias)] = cmd
	}
}

// Get retrieves a command by name or alias.
func (r *Registry) Get(name string) *Command {
	name = strings.ToLower(name)
	if cmd, ok := r.commands[name]; ok {
		return cmd
	}
	return r.aliases[name]
}

// All returns the registered commands sorted by name.
func (r *Registry) All() []*Command {
	cmds := make([]*Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		cmds = append(cmds, cmd)
	}
	slices.SortFunc(cmds, func(a, b *Command) int { return strings.Compare(a.Name, b.Name) })
	return cmds
}

// ByCategory returns visible commands grouped by category.
func (r *Registry) ByCategory() map[string][]*Command {
	result := make(map[string][]*Command)
	for _, cmd := range r.All() {
		if cmd.Hidden {
			continue
		}
		category := cmd.Category
		if category == "" {
			category = "General"
		}
		result[category] = append(result[category], cmd)
	}
	return result
}

// Help renders the visible commands grouped by category in the given
// category order. Categories not listed follow alphabetically.
func (r *Registry) Help(order ...string) string {
	groups := r.ByCategory()
	names := make([]string, 0, len(groups))
	for name := range groups {
		if !slices.Contains(order, name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	names = append(slices.Clone(order), names...)

	width := 0
	for _, cmd := range r.All() {
		width = max(width, len(usage(cmd)))
	}

	var sb strings.Builder
	for _, name := range names {
		cmds, ok := groups[name]
		if !ok {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(name + ":\n")
		for _, cmd := range cmds {
			fmt.Fprintf(&sb, "  %-*s  %s\n", width, usage(cmd), cmd.Description)
		}
	}
	return sb.String()
}

func usage(cmd *Command) string {
	if cmd.Usage != "" {
		return cmd.Usage
	}
	return cmd.Name
}

// Execute parses line, validates its arguments and runs the command.
func (r *Registry) Execute(ctx context.Context, line string) (Result, error) {
	res := r.Parse(line)
	if !res.IsCommand {
		return Continue, fmt.Errorf("%w: %q", ErrUnknownCommand, line)
	}
	if res.Command == nil {
		return Continue, fmt.Errorf("%w %s (try /help)", ErrUnknownCommand, res.CommandName)
	}
	if err := ValidateArgs(res.Command, res.Args); err != nil {
		return Continue, err
	}
	if res.Command.Handler == nil {
		return Continue, nil
	}
	return res.Command.Handler(ctx, res.Args)
}
