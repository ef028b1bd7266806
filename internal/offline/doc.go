// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package offline keeps rigchat on the local machine.
//
// With offline mode on, only providers whose endpoint is a loopback address
// are registered, and the URL extraction and web search steps are disabled,
// so no message content leaves the host.
//
// # Usage
//
//	policy := offline.Policy{Enabled: cfg.General.Offline}
//	providers, blocked := policy.FilterProviders(providers)
//	if err := policy.CheckWebAllowed(); err != nil {
//		// leave the fetcher and searcher out of the pipeline
//	}
package offline
