// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package commands provides the slash command system for the chat prompt.
//
// # Key Types
//
//   - Command: a slash command with aliases, argument definitions and handler
//   - Registry: holds commands and dispatches input lines to them
//   - Completer: tab completion for command names and argument values
//
// # Usage
//
//	reg := commands.NewRegistry()
//	reg.Register(&commands.Command{
//	    Name:    "/open",
//	    Args:    []commands.ArgDef{{Name: "id", Required: true, Complete: threadIDs}},
//	    Handler: openThread,
//	})
//	res, err := reg.Execute(ctx, "/open thr_123")
package commands
