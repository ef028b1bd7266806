// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
)

// errAborted is returned by lineInput when the user pressed Ctrl-C at the
// prompt.
var errAborted = errors.New("input aborted")

// lineInput reads one line of user input.
type lineInput interface {
	ReadLine(prompt string) (string, error)
	Close()
}

// =============================================================================
// LINER INPUT (TTY)
// =============================================================================

// linerInput provides history and line editing on a terminal.
type linerInput struct {
	line        *liner.State
	historyFile string
}

func newLinerInput(configDir string, complete func(line string) []string) *linerInput {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	if complete != nil {
		line.SetCompleter(complete)
	}

	in := &linerInput{line: line, historyFile: filepath.Join(configDir, "chat_history")}
	if f, err := os.Open(in.historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	return in
}

func (c *linerInput) ReadLine(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", errAborted
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history with owner-only permissions and restores the terminal.
func (c *linerInput) Close() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0755); err == nil {
		if f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			c.line.WriteHistory(f)
			f.Close()
		}
	}
	c.line.Close()
}

// =============================================================================
// PLAIN INPUT (PIPES)
// =============================================================================

// plainInput reads lines from a non-terminal reader without echoing a
// prompt.
type plainInput struct {
	scanner *bufio.Scanner
}

func newPlainInput(r io.Reader) *plainInput {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &plainInput{scanner: s}
}

func (p *plainInput) ReadLine(string) (string, error) {
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return p.scanner.Text(), nil
}

func (p *plainInput) Close() {}
