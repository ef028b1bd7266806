// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

var (
	// ErrEmptyThread is returned for threads without messages.
	ErrEmptyThread = errors.New("thread has no messages")

	// ErrUnknownFormat is returned by ForFormat.
	ErrUnknownFormat = errors.New("unknown export format")
)

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter renders a thread in one format.
type Exporter interface {
	Export(th *model.Thread) ([]byte, error)

	// FileExtension returns the extension including the dot.
	FileExtension() string
}

// Options configures export behavior.
type Options struct {
	// OutputDir is where ToFile writes. Default: current directory.
	OutputDir string

	// IncludeMetadata adds a header with model, persona and dates.
	IncludeMetadata bool

	// IncludeTimestamps adds per-message times.
	IncludeTimestamps bool

	// PersonaName resolves a persona id to a display name. Nil uses the id.
	PersonaName func(id string) string

	now func() time.Time
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		OutputDir:         ".",
		IncludeMetadata:   true,
		IncludeTimestamps: true,
	}
}

func (o *Options) personaName(id string) string {
	if o.PersonaName != nil {
		if name := o.PersonaName(id); name != "" {
			return name
		}
	}
	if id == "" {
		return "Assistant"
	}
	return id
}

func (o *Options) clock() time.Time {
	if o.now != nil {
		return o.now()
	}
	return time.Now()
}

// ForFormat returns the exporter for a format name or file extension.
func ForFormat(format string, opts *Options) (Exporter, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "md", "markdown":
		return NewMarkdownExporter(opts), nil
	case "json":
		return NewJSONExporter(), nil
	case "html", "htm":
		return NewHTMLExporter(opts), nil
	}
	return nil, fmt.Errorf("%w: %q (want markdown, json or html)", ErrUnknownFormat, format)
}

// ToFile exports th into opts.OutputDir and returns the written path.
func ToFile(th *model.Thread, exp Exporter, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	content, err := exp.Export(th)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	filename := fmt.Sprintf("thread_%s_%s%s",
		sanitizeFilename(th.Title),
		opts.clock().Format("20060102_150405"),
		exp.FileExtension(),
	)
	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	path := filepath.Join(opts.OutputDir, filename)
	if err := util.AtomicWriteFile(path, content, 0644); err != nil {
		return "", err
	}
	return path, nil
}

func validate(th *model.Thread) error {
	if th == nil {
		return errors.New("thread is nil")
	}
	if len(th.Messages) == 0 {
		return ErrEmptyThread
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// sanitizeFilename keeps a title usable as a file name on every platform.
func sanitizeFilename(s string) string {
	s = util.TruncateWidth(strings.TrimSpace(s), 50)
	s = strings.TrimSuffix(s, "...")

	var b strings.Builder
	for _, r := range s {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r), r < 32, r == 127:
			b.WriteRune('-')
		case r == ' ' || r == '\t':
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "thread"
	}
	return b.String()
}

// roleLabel names a message author.
func roleLabel(msg model.Message, opts *Options) string {
	switch msg.Role {
	case model.RoleUser:
		return "User"
	case model.RoleAssistant:
		return opts.personaName(msg.PersonaID)
	case model.RoleSystem:
		return "System"
	}
	return string(msg.Role)
}

func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

func formatShortTimestamp(t time.Time) string {
	return t.Format("15:04:05")
}
