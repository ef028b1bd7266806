// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-chat/internal/commands"
	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/notify"
	"github.com/jeranaias/rigrun-chat/internal/orchestrator"
	"github.com/jeranaias/rigrun-chat/internal/storage"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

func newChatCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat (default)",
		Long: `Start an interactive chat.

Mention a persona with @id to answer with it for one message. Slash
commands manage the session; type /help to list them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&opts.Thread, "thread", "t", "", "resume a saved thread")
	return cmd
}

// =============================================================================
// STREAM PRINTER
// =============================================================================

// streamPrinter renders thread updates as incremental terminal output. It
// implements dispatch.Sink.
type streamPrinter struct {
	mu       sync.Mutex
	out      io.Writer
	name     func(personaID string) string
	onUpdate func(*model.Thread)

	msgID   string
	printed int
}

func (p *streamPrinter) ThreadUpdated(th *model.Thread) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.onUpdate != nil {
		p.onUpdate(th)
	}
	last, ok := th.Last()
	if !ok || last.Role != model.RoleAssistant {
		return
	}
	if last.ID != p.msgID {
		p.msgID = last.ID
		p.printed = 0
		fmt.Fprint(p.out, assistantStyle.Render(p.name(last.PersonaID)+":")+" ")
	}
	if len(last.Content) > p.printed {
		fmt.Fprint(p.out, last.Content[p.printed:])
		p.printed = len(last.Content)
	}
}

// finish ends the current reply line, if one was started.
func (p *streamPrinter) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.msgID != "" {
		fmt.Fprintln(p.out)
	}
	p.msgID = ""
	p.printed = 0
}

// =============================================================================
// CHAT SESSION
// =============================================================================

type chatSession struct {
	app      *app
	orch     *orchestrator.Orchestrator
	printer  *streamPrinter
	commands *commands.Registry
	out      io.Writer

	mu     sync.Mutex
	thread *model.Thread
}

func runChat(ctx context.Context, opts *Options, in io.Reader, out io.Writer) error {
	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	if w, err := a.personas.Watch(ctx); err != nil {
		a.logger.Warn("persona hot reload disabled", logging.Fn("runChat"), zap.Error(err))
	} else {
		defer w.Close()
	}

	s := &chatSession{app: a, out: out}
	s.commands = s.registerCommands()
	s.printer = &streamPrinter{
		out:      out,
		name:     s.personaName,
		onUpdate: s.setThread,
	}
	if s.orch, err = a.orchestrator(s.printer); err != nil {
		return err
	}

	if opts.Thread != "" {
		th, err := a.threads.Get(opts.Thread)
		if err != nil {
			return fmt.Errorf("thread %s: %w", opts.Thread, err)
		}
		s.open(th)
	} else if err := s.newThread(opts.Provider, opts.Model, opts.Persona); err != nil {
		return err
	}

	var input lineInput
	if f, ok := in.(*os.File); ok && f == os.Stdin && IsTTY() {
		dir, _ := opts.configDir()
		input = newLinerInput(dir, commands.NewCompleter(s.commands).Complete)
		s.printWelcome()
	} else {
		input = newPlainInput(in)
	}
	defer input.Close()

	return s.loop(ctx, input)
}

func (s *chatSession) loop(ctx context.Context, input lineInput) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := input.ReadLine(promptStyle.Render("you> "))
		if errors.Is(err, errAborted) || errors.Is(err, io.EOF) {
			fmt.Fprintln(s.out)
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case commands.IsCommand(line):
			res, err := s.commands.Execute(ctx, line)
			if err != nil {
				fmt.Fprintf(s.out, "%s %v\n", errorStyle.Render("[Error]"), err)
			}
			if res == commands.Quit {
				return nil
			}
		default:
			if err := s.send(ctx, line); err != nil {
				fmt.Fprintf(s.out, "%s %v\n", errorStyle.Render("[Error]"), err)
			}
		}
	}
}

// send runs one turn and blocks until it finishes. Ctrl-C interrupts the
// turn instead of the program.
func (s *chatSession) send(ctx context.Context, text string) error {
	turn, err := s.orch.Send(ctx, s.current(), text)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

wait:
	for {
		select {
		case <-sigCh:
			s.orch.Interrupt()
		case <-turn.Done():
			break wait
		}
	}

	res := turn.Wait()
	s.printer.finish()
	if res.Thread != nil {
		s.setThread(res.Thread)
	}
	if res.Canceled {
		fmt.Fprintln(s.out, warningStyle.Render("[Stopped]"))
	}
	s.printNotices()
	return nil
}

func (s *chatSession) printNotices() {
	for _, n := range s.app.notices.Drain() {
		style := dimStyle
		if n.Level == notify.LevelWarn {
			style = warningStyle
		}
		fmt.Fprintln(s.out, style.Render("! "+n.Message))
	}
}

func (s *chatSession) printWelcome() {
	th := s.current()
	fmt.Fprintln(s.out, titleStyle.Render("rigchat")+" "+warningStyle.Render(s.app.policy.StatusBadge()))
	fmt.Fprintln(s.out, renderLabel("Model")+th.Model.Name()+dimStyle.Render(" ("+th.Model.Provider.ID+")"))
	fmt.Fprintln(s.out, renderLabel("Persona")+s.personaName(th.PersonaID))
	fmt.Fprintln(s.out, dimStyle.Render("Type /help for commands, Ctrl-C stops a reply, Ctrl-D exits."))
	fmt.Fprintln(s.out, renderSeparator())
}

// =============================================================================
// THREAD STATE
// =============================================================================

func (s *chatSession) current() *model.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thread
}

// setThread records th as the current thread unless the user has since
// moved to another one.
func (s *chatSession) setThread(th *model.Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.thread != nil && s.thread.ID != th.ID {
		return
	}
	s.thread = th
}

// edit applies fn to a copy of the current thread and stores it. Threads
// without messages are kept in memory only.
func (s *chatSession) edit(fn func(th *model.Thread)) error {
	s.mu.Lock()
	th := s.thread.Clone()
	fn(th)
	s.thread = th
	s.mu.Unlock()

	if len(th.Messages) == 0 {
		return nil
	}
	return s.app.threads.Save(th)
}

// open replaces the current thread.
func (s *chatSession) open(th *model.Thread) {
	s.orch.SwitchThread(th.ID)
	s.mu.Lock()
	s.thread = th
	s.mu.Unlock()
}

func (s *chatSession) newThread(providerID, modelID, personaID string) error {
	m, err := s.app.cfg.DefaultModel(providerID, modelID)
	if err != nil {
		return err
	}
	if personaID == "" {
		personaID = s.app.cfg.General.DefaultPersona
	}
	if _, ok := s.app.personas.Persona(personaID); !ok {
		return fmt.Errorf("unknown persona %q", personaID)
	}
	s.open(model.NewThread(m, personaID))
	return nil
}

func (s *chatSession) personaName(id string) string {
	if p, ok := s.app.personas.Persona(id); ok {
		return p.DisplayName()
	}
	if id == "" {
		return "Assistant"
	}
	return id
}

// printThreadList prints up to limit threads, newest first.
func printThreadList(out io.Writer, metas []storage.ThreadMeta, limit int) {
	if len(metas) == 0 {
		fmt.Fprintln(out, dimStyle.Render("No saved threads."))
		return
	}
	if limit > 0 && len(metas) > limit {
		metas = metas[:limit]
	}
	for _, m := range metas {
		fmt.Fprintf(out, "%s  %s  %s\n",
			dimStyle.Render(m.ID),
			util.TruncateWidth(m.Title, 40),
			dimStyle.Render(fmt.Sprintf("%d msgs, %s", m.MessageCount, humanize.Time(m.UpdatedAt))),
		)
	}
}
