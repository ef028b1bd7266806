// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports threads to Markdown.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts a thread to Markdown.
func (e *MarkdownExporter) Export(th *model.Thread) ([]byte, error) {
	if err := validate(th); err != nil {
		return nil, err
	}
	opts := e.options

	var sb strings.Builder
	if opts.IncludeMetadata {
		sb.WriteString("---\n")
		fmt.Fprintf(&sb, "title: %s\n", escapeYAML(th.Title))
		fmt.Fprintf(&sb, "model: %s\n", escapeYAML(th.Model.Name()))
		if th.Model.Provider.ID != "" {
			fmt.Fprintf(&sb, "provider: %s\n", escapeYAML(th.Model.Provider.ID))
		}
		if th.PersonaID != "" {
			fmt.Fprintf(&sb, "persona: %s\n", escapeYAML(th.PersonaID))
		}
		fmt.Fprintf(&sb, "date: %s\n", th.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(&sb, "updated: %s\n", th.UpdatedAt.Format(time.RFC3339))
		fmt.Fprintf(&sb, "messages: %d\n", len(th.Messages))
		if docs := th.DocumentIDs(); len(docs) > 0 {
			fmt.Fprintf(&sb, "documents: [%s]\n", strings.Join(docs, ", "))
		}
		fmt.Fprintf(&sb, "exported: %s\n", opts.clock().Format(time.RFC3339))
		sb.WriteString("generator: rigchat\n")
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(th.Title))

	for i, msg := range th.Messages {
		if opts.IncludeTimestamps && !msg.Timestamp.IsZero() {
			fmt.Fprintf(&sb, "### %s <sub>%s</sub>\n\n", roleLabel(msg, opts), formatShortTimestamp(msg.Timestamp))
		} else {
			fmt.Fprintf(&sb, "### %s\n\n", roleLabel(msg, opts))
		}
		sb.WriteString(strings.TrimSpace(msg.Content))
		sb.WriteString("\n\n")
		if i < len(th.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}
	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes characters that would break a heading.
func escapeMarkdown(s string) string {
	return strings.NewReplacer(
		"#", `\#`,
		"*", `\*`,
		"_", `\_`,
		"[", `\[`,
		"]", `\]`,
	).Replace(s)
}

// escapeYAML quotes values that contain YAML syntax.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.ReplaceAll(s, `\`, `\\`)
		s = strings.ReplaceAll(s, `"`, `\"`)
		s = strings.ReplaceAll(s, "\n", `\n`)
		s = strings.ReplaceAll(s, "\r", `\r`)
		return `"` + s + `"`
	}
	return s
}
