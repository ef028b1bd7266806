// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jeranaias/rigrun-chat/internal/config"
	"github.com/jeranaias/rigrun-chat/internal/logging"
)

// Options holds the global flags.
type Options struct {
	ConfigPath  string
	Verbose     bool
	MetricsAddr string
	Offline     bool
	Provider    string
	Model       string
	Persona     string
	Thread      string

	cfg    *config.Config
	logger *zap.Logger
}

// NewRootCommand builds the rigchat command tree.
func NewRootCommand(version string) *cobra.Command {
	opts := &Options{}

	root := &cobra.Command{
		Use:   "rigchat",
		Short: "Streaming multi-backend LLM chat",
		Long: `rigchat talks to local and cloud language models through one interface.

Messages are enriched with referenced documents, fetched URLs and optional
web search results before they are sent. Replies stream as they arrive and
Ctrl-C stops the current reply.

Run without arguments to start the interactive chat.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.init(cmd.Annotations[skipConfigLoad] == "true")
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default ~/.rigchat/config.toml)")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	pf.StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	pf.BoolVar(&opts.Offline, "offline", false, "use localhost providers only, no web fetch or search")
	pf.StringVarP(&opts.Provider, "provider", "p", "", "provider id for new threads")
	pf.StringVarP(&opts.Model, "model", "m", "", "model id for new threads")
	pf.StringVar(&opts.Persona, "persona", "", "persona id for new threads")

	root.AddCommand(
		newChatCommand(opts),
		newModelsCommand(opts),
		newThreadsCommand(opts),
		newDocsCommand(opts),
		newConfigCommand(opts),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context, version string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	root := NewRootCommand(version)
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "%s %v\n", errorStyle.Render("Error:"), err)
		return 1
	}
	return 0
}

// skipConfigLoad annotates commands that run on built-in defaults because
// the config file may not exist yet.
const skipConfigLoad = "rigchat/skip-config"

// init loads .env, configuration and the logger.
func (o *Options) init(defaults bool) error {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not load .env: %v\n", err)
	}

	var err error
	switch {
	case defaults:
		o.cfg = config.Default()
	case o.ConfigPath != "":
		o.cfg, err = config.LoadFromPath(o.ConfigPath)
	default:
		o.cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if o.MetricsAddr != "" {
		o.cfg.Metrics.Addr = o.MetricsAddr
	}
	if o.Offline {
		o.cfg.General.Offline = true
	}

	lc := o.cfg.LoggingSettings()
	if o.Verbose {
		lc.Level = zapcore.DebugLevel.String()
	}
	o.logger, err = logging.New(lc)
	return err
}

// configDir is where relative storage defaults live: the directory of an
// explicit config file, or ~/.rigchat.
func (o *Options) configDir() (string, error) {
	if o.ConfigPath != "" {
		return dirOf(o.ConfigPath), nil
	}
	return config.ConfigDir()
}
