// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

func newModelsCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "models [provider...]",
		Short: "List the models each provider serves",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			return listModels(cmd.Context(), a, args, cmd.OutOrStdout())
		},
	}
}

type providerModels struct {
	provider model.Provider
	models   []string
	err      error
}

// listModels queries providers concurrently and prints them in
// configuration order. A provider that fails is reported inline.
func listModels(ctx context.Context, a *app, ids []string, out io.Writer) error {
	providers := a.registry.Providers()
	if len(ids) > 0 {
		providers = slices.DeleteFunc(providers, func(p model.Provider) bool {
			return !slices.Contains(ids, p.ID)
		})
		if len(providers) == 0 {
			return fmt.Errorf("no provider matches %v", ids)
		}
	}

	results := make([]providerModels, len(providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range providers {
		results[i].provider = p
		g.Go(func() error {
			adapter, err := a.registry.Adapter(p.ID)
			if err == nil {
				results[i].models, err = adapter.AvailableModels(gctx)
			}
			results[i].err = err
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		fmt.Fprintln(out, titleStyle.Render(r.provider.ID)+dimStyle.Render(" ("+string(r.provider.Family)+", "+r.provider.Endpoint+")"))
		if pc, ok := a.cfg.ProviderConfig(r.provider.ID); ok {
			r.models = mergeModels(r.models, pc.Models)
		}
		switch {
		case r.err != nil:
			fmt.Fprintln(out, "  "+errorStyle.Render(r.err.Error()))
			for _, m := range r.models {
				fmt.Fprintln(out, "  "+m+dimStyle.Render(" (configured)"))
			}
		case len(r.models) == 0:
			fmt.Fprintln(out, dimStyle.Render("  no models"))
		default:
			for _, m := range r.models {
				fmt.Fprintln(out, "  "+m)
			}
		}
	}
	return nil
}

// mergeModels appends configured ids missing from the served list.
func mergeModels(served, configured []string) []string {
	out := slices.Clone(served)
	for _, m := range configured {
		if !slices.Contains(out, m) {
			out = append(out, m)
		}
	}
	return out
}
