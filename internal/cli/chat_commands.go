// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/jeranaias/rigrun-chat/internal/commands"
	"github.com/jeranaias/rigrun-chat/internal/export"
	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// SLASH COMMANDS
// =============================================================================

func (s *chatSession) registerCommands() *commands.Registry {
	r := commands.NewRegistry()

	r.Register(&commands.Command{
		Name:        "/help",
		Aliases:     []string{"/h", "/?"},
		Description: "Show available commands",
		Category:    "Session",
		Handler: func(context.Context, []string) (commands.Result, error) {
			fmt.Fprint(s.out, s.commands.Help("Session", "Threads", "Context"))
			return commands.Continue, nil
		},
	})
	r.Register(&commands.Command{
		Name:        "/quit",
		Aliases:     []string{"/q", "/exit"},
		Description: "Exit rigchat",
		Category:    "Session",
		Handler: func(context.Context, []string) (commands.Result, error) {
			return commands.Quit, nil
		},
	})
	r.Register(&commands.Command{
		Name:        "/info",
		Description: "Show thread details",
		Category:    "Session",
		Handler:     s.cmdInfo,
	})

	r.Register(&commands.Command{
		Name:        "/new",
		Aliases:     []string{"/n"},
		Description: "Start a new thread",
		Category:    "Threads",
		Handler: func(context.Context, []string) (commands.Result, error) {
			th := s.current()
			if err := s.newThread(th.Model.Provider.ID, th.Model.ID, th.PersonaID); err != nil {
				return commands.Continue, err
			}
			fmt.Fprintln(s.out, successStyle.Render("New thread started."))
			return commands.Continue, nil
		},
	})
	r.Register(&commands.Command{
		Name:        "/threads",
		Description: "List recent threads",
		Category:    "Threads",
		Handler: func(context.Context, []string) (commands.Result, error) {
			metas, err := s.app.threads.List()
			if err != nil {
				return commands.Continue, err
			}
			printThreadList(s.out, metas, 10)
			return commands.Continue, nil
		},
	})
	r.Register(&commands.Command{
		Name:        "/open",
		Aliases:     []string{"/load", "/resume"},
		Usage:       "/open <thread-id>",
		Description: "Switch to a saved thread",
		Args:        []commands.ArgDef{{Name: "thread-id", Required: true, Complete: s.threadIDs}},
		Category:    "Threads",
		Handler: func(_ context.Context, args []string) (commands.Result, error) {
			th, err := s.app.threads.Get(args[0])
			if err != nil {
				return commands.Continue, err
			}
			s.open(th)
			fmt.Fprintf(s.out, "Opened %s (%d messages)\n", th.Title, len(th.Messages))
			return commands.Continue, nil
		},
	})
	r.Register(&commands.Command{
		Name:        "/export",
		Usage:       "/export [format]",
		Description: "Write this thread to markdown, json or html",
		Args:        []commands.ArgDef{{Name: "format", Values: []string{"markdown", "md", "json", "html"}}},
		Category:    "Threads",
		Handler:     s.cmdExport,
	})

	r.Register(&commands.Command{
		Name:        "/model",
		Aliases:     []string{"/m"},
		Usage:       "/model [provider/]id",
		Description: "Show or change the model of this thread",
		Args:        []commands.ArgDef{{Name: "model", Complete: s.configuredModels}},
		Category:    "Context",
		Handler:     s.cmdModel,
	})
	r.Register(&commands.Command{
		Name:        "/persona",
		Usage:       "/persona <id>",
		Description: "Change the persona of this thread",
		Args:        []commands.ArgDef{{Name: "id", Required: true, Complete: s.personaIDs}},
		Category:    "Context",
		Handler: func(_ context.Context, args []string) (commands.Result, error) {
			p, ok := s.app.personas.Persona(args[0])
			if !ok {
				return commands.Continue, fmt.Errorf("unknown persona %q", args[0])
			}
			if err := s.edit(func(th *model.Thread) { th.PersonaID = p.ID }); err != nil {
				return commands.Continue, err
			}
			fmt.Fprintf(s.out, "Persona set to %s\n", p.DisplayName())
			return commands.Continue, nil
		},
	})
	r.Register(&commands.Command{
		Name:        "/personas",
		Description: "List personas; mention one with @id",
		Category:    "Context",
		Handler: func(context.Context, []string) (commands.Result, error) {
			for _, p := range s.app.personas.Personas() {
				fmt.Fprintln(s.out, renderLabel("@"+p.ID)+p.DisplayName())
			}
			return commands.Continue, nil
		},
	})
	r.Register(&commands.Command{
		Name:        "/attach",
		Usage:       "/attach <doc-id...>",
		Description: "Attach stored documents to this thread",
		Args:        []commands.ArgDef{{Name: "doc-id", Required: true, Variadic: true, Complete: s.documentIDs}},
		Category:    "Context",
		Handler:     s.cmdAttach,
	})
	return r
}

func (s *chatSession) cmdInfo(context.Context, []string) (commands.Result, error) {
	th := s.current()
	fmt.Fprintln(s.out, renderLabel("Thread")+th.ID)
	fmt.Fprintln(s.out, renderLabel("Title")+th.Title)
	fmt.Fprintln(s.out, renderLabel("Model")+th.Model.Name()+" ("+th.Model.Provider.ID+")")
	fmt.Fprintln(s.out, renderLabel("Persona")+s.personaName(th.PersonaID))
	fmt.Fprintln(s.out, renderLabel("Messages")+fmt.Sprint(len(th.Messages)))
	if docs := th.DocumentIDs(); len(docs) > 0 {
		fmt.Fprintln(s.out, renderLabel("Documents")+strings.Join(docs, ", "))
	}
	fmt.Fprintln(s.out, renderLabel("Created")+humanize.Time(th.CreatedAt))
	return commands.Continue, nil
}

func (s *chatSession) cmdExport(_ context.Context, args []string) (commands.Result, error) {
	format := "markdown"
	if len(args) > 0 {
		format = args[0]
	}
	eo := export.DefaultOptions()
	eo.PersonaName = s.personaName
	exp, err := export.ForFormat(format, eo)
	if err != nil {
		return commands.Continue, err
	}
	path, err := export.ToFile(s.current(), exp, eo)
	if err != nil {
		return commands.Continue, err
	}
	fmt.Fprintln(s.out, successStyle.Render("Exported to "+path))
	return commands.Continue, nil
}

func (s *chatSession) cmdModel(_ context.Context, args []string) (commands.Result, error) {
	if len(args) == 0 {
		th := s.current()
		fmt.Fprintln(s.out, renderLabel("Model")+th.Model.Name()+" ("+th.Model.Provider.ID+")")
		return commands.Continue, nil
	}
	providerID, modelID := s.current().Model.Provider.ID, args[0]
	if p, m, ok := strings.Cut(args[0], "/"); ok {
		if _, known := s.app.registry.Provider(p); known {
			providerID, modelID = p, m
		}
	}
	if _, ok := s.app.registry.Provider(providerID); !ok {
		return commands.Continue, fmt.Errorf("provider %q is not available", providerID)
	}
	m, err := s.app.cfg.DefaultModel(providerID, modelID)
	if err != nil {
		return commands.Continue, err
	}
	if err := s.edit(func(th *model.Thread) { th.Model = m }); err != nil {
		return commands.Continue, err
	}
	fmt.Fprintf(s.out, "Model set to %s\n", m.Name())
	return commands.Continue, nil
}

func (s *chatSession) cmdAttach(ctx context.Context, args []string) (commands.Result, error) {
	docs, err := s.app.docs.Get(ctx, args)
	if err != nil {
		return commands.Continue, err
	}
	if len(docs) != len(args) {
		return commands.Continue, fmt.Errorf("found %d of %d documents", len(docs), len(args))
	}
	if err := s.edit(func(th *model.Thread) { th.AttachDocuments(args...) }); err != nil {
		return commands.Continue, err
	}
	fmt.Fprintf(s.out, "Attached %d document(s)\n", len(docs))
	return commands.Continue, nil
}

// =============================================================================
// COMPLETION SOURCES
// =============================================================================

func (s *chatSession) threadIDs() []string {
	metas, err := s.app.threads.List()
	if err != nil {
		return nil
	}
	ids := make([]string, 0, len(metas))
	for _, m := range metas {
		ids = append(ids, m.ID)
	}
	return ids
}

func (s *chatSession) personaIDs() []string {
	var ids []string
	for _, p := range s.app.personas.Personas() {
		ids = append(ids, p.ID)
	}
	return ids
}

func (s *chatSession) documentIDs() []string {
	metas, err := s.app.docs.List(context.Background())
	if err != nil {
		return nil
	}
	ids := make([]string, 0, len(metas))
	for _, m := range metas {
		ids = append(ids, m.ID)
	}
	return ids
}

// configuredModels lists models named in the configuration without asking
// providers, so completion never blocks on the network.
func (s *chatSession) configuredModels() []string {
	var out []string
	for _, p := range s.app.registry.Providers() {
		if pc, ok := s.app.cfg.ProviderConfig(p.ID); ok {
			for _, m := range pc.Models {
				out = append(out, p.ID+"/"+m)
			}
		}
	}
	return out
}
