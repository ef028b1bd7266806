// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders chat threads for reading outside rigchat.
//
// # Supported Formats
//
//   - Markdown: role headings with optional YAML frontmatter
//   - JSON: the thread as stored, for re-import
//   - HTML: a single self-contained page
//
// # Usage
//
//	exp, err := export.ForFormat("html", export.DefaultOptions())
//	path, err := export.ToFile(thread, exp, export.DefaultOptions())
package export
