// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the rigchat command line.
//
// # Commands
//
//   - chat: interactive streaming chat (the default)
//   - models [provider]: list models a provider serves
//   - threads list|show|delete: manage saved threads
//   - docs add|search|list|delete: manage reference documents
//   - config show|init: inspect or create the config file
//
// A .env file in the working directory is loaded before configuration so
// provider keys can live there.
package cli
