// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/export"
	"github.com/jeranaias/rigrun-chat/internal/persona"
	"github.com/jeranaias/rigrun-chat/internal/storage"
)

func newThreadsCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "threads",
		Aliases: []string{"thread"},
		Short:   "Manage saved threads",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List saved threads, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openThreadStore(opts)
			if err != nil {
				return err
			}
			metas, err := store.List()
			if err != nil {
				return err
			}
			printThreadList(cmd.OutOrStdout(), metas, limit)
			return nil
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "maximum threads to show (0 for all)")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a thread as Markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openThreadStore(opts)
			if err != nil {
				return err
			}
			th, err := store.Get(args[0])
			if err != nil {
				return err
			}
			exp := export.NewMarkdownExporter(exportOptions(opts, ""))
			out, err := exp.Export(th)
			if err != nil {
				return err
			}
			cmd.OutOrStdout().Write(out)
			return nil
		},
	}

	var format, outDir string
	exportCmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Write a thread to a Markdown, JSON or HTML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openThreadStore(opts)
			if err != nil {
				return err
			}
			th, err := store.Get(args[0])
			if err != nil {
				return err
			}
			eo := exportOptions(opts, outDir)
			exp, err := export.ForFormat(format, eo)
			if err != nil {
				return err
			}
			path, err := export.ToFile(th, exp, eo)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("Exported to "+path))
			return nil
		},
	}
	exportCmd.Flags().StringVarP(&format, "format", "f", "markdown", "markdown, json or html")
	exportCmd.Flags().StringVarP(&outDir, "output", "o", ".", "output directory")

	del := &cobra.Command{
		Use:     "delete <id...>",
		Aliases: []string{"rm"},
		Short:   "Delete saved threads",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openThreadStore(opts)
			if err != nil {
				return err
			}
			for _, id := range args {
				if err := store.Delete(id); err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("Deleted "+id))
			}
			return nil
		},
	}

	cmd.AddCommand(list, show, exportCmd, del)
	return cmd
}

// openThreadStore opens only the thread store; these commands need no
// backends.
func openThreadStore(opts *Options) (*storage.ThreadStore, error) {
	dir, err := opts.configDir()
	if err != nil {
		return nil, err
	}
	threadsDir, _, _ := opts.cfg.StoragePaths(dir)
	return storage.NewThreadStore(threadsDir)
}

// exportOptions resolves persona names from the persona directory when it
// can be read.
func exportOptions(opts *Options, outDir string) *export.Options {
	eo := export.DefaultOptions()
	if outDir != "" {
		eo.OutputDir = outDir
	}
	dir, err := opts.configDir()
	if err != nil {
		return eo
	}
	_, _, personasDir := opts.cfg.StoragePaths(dir)
	if store, err := persona.Load(personasDir, opts.logger); err == nil {
		eo.PersonaName = func(id string) string {
			if p, ok := store.Persona(id); ok {
				return p.DisplayName()
			}
			return ""
		}
	}
	return eo
}
