// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-chat/internal/docstore"
)

func newDocsCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "docs",
		Aliases: []string{"doc", "documents"},
		Short:   "Manage stored documents",
		Long: `Manage the local document store.

Attach stored documents to a chat thread with /attach <id>, or list them in
a persona's document_ids, and their most relevant passages are added to
each message.`,
	}

	add := &cobra.Command{
		Use:   "add <file...>",
		Short: "Add text files to the store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openDocStore(opts)
			if err != nil {
				return err
			}
			defer store.Close()
			for _, path := range args {
				doc, err := store.AddFile(cmd.Context(), path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n",
					successStyle.Render("Added"), doc.ID,
					dimStyle.Render(fmt.Sprintf("(%s, %s)", doc.Title, humanize.IBytes(uint64(len(doc.Content))))))
			}
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openDocStore(opts)
			if err != nil {
				return err
			}
			defer store.Close()
			metas, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(metas) == 0 {
				fmt.Fprintln(out, dimStyle.Render("No documents."))
				return nil
			}
			for _, m := range metas {
				fmt.Fprintf(out, "%s  %s  %s\n", dimStyle.Render(m.ID), m.Title,
					dimStyle.Render(humanize.IBytes(uint64(m.Size))+", added "+humanize.Time(m.CreatedAt)))
			}
			return nil
		},
	}

	var limit int
	search := &cobra.Command{
		Use:   "search <query...>",
		Short: "Full-text search across stored documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openDocStore(opts)
			if err != nil {
				return err
			}
			defer store.Close()
			hits, err := store.Search(cmd.Context(), strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(hits) == 0 {
				fmt.Fprintln(out, dimStyle.Render("No matches."))
				return nil
			}
			for _, h := range hits {
				fmt.Fprintln(out, titleStyle.Render(h.Title)+" "+dimStyle.Render(h.DocumentID))
				fmt.Fprintln(out, "  "+h.Text)
			}
			return nil
		},
	}
	search.Flags().IntVarP(&limit, "limit", "n", docstore.DefaultSearchLimit, "maximum results")

	del := &cobra.Command{
		Use:     "delete <id...>",
		Aliases: []string{"rm"},
		Short:   "Delete stored documents",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openDocStore(opts)
			if err != nil {
				return err
			}
			defer store.Close()
			for _, id := range args {
				if err := store.Delete(cmd.Context(), id); err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("Deleted "+id))
			}
			return nil
		},
	}

	cmd.AddCommand(add, list, search, del)
	return cmd
}

func openDocStore(opts *Options) (*docstore.Store, error) {
	dir, err := opts.configDir()
	if err != nil {
		return nil, err
	}
	_, path, _ := opts.cfg.StoragePaths(dir)
	return docstore.Open(path, opts.logger)
}
