// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across rigchat packages.
//
//   - AtomicWriteFile: temp file + fsync + rename, used by every on-disk store
//   - TruncateRunes / TruncateWidth: Unicode-safe truncation
//   - Preview: single-line, width-bounded rendering of untrusted text for logs
package util
