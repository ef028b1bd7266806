// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter exports threads to one HTML page with embedded CSS.
type HTMLExporter struct {
	options *Options
}

// NewHTMLExporter creates a new HTML exporter.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &HTMLExporter{options: opts}
}

// Export converts a thread to HTML.
func (e *HTMLExporter) Export(th *model.Thread) ([]byte, error) {
	if err := validate(th); err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	sb.WriteString("    <meta charset=\"UTF-8\">\n")
	sb.WriteString("    <meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	fmt.Fprintf(&sb, "    <title>%s</title>\n", html.EscapeString(th.Title))
	sb.WriteString("    <meta name=\"generator\" content=\"rigchat\">\n")
	fmt.Fprintf(&sb, "    <meta name=\"date\" content=\"%s\">\n", th.CreatedAt.Format(time.RFC3339))
	sb.WriteString(css)
	sb.WriteString("</head>\n<body>\n<div class=\"container\">\n")

	if e.options.IncludeMetadata {
		sb.WriteString(e.renderHeader(th))
	} else {
		fmt.Fprintf(&sb, "<header class=\"header\"><h1>%s</h1></header>\n", html.EscapeString(th.Title))
	}

	sb.WriteString("<main class=\"conversation\">\n")
	for _, msg := range th.Messages {
		sb.WriteString(e.renderMessage(msg))
	}
	sb.WriteString("</main>\n")

	fmt.Fprintf(&sb, "<footer class=\"footer\">Exported from <strong>rigchat</strong> on %s</footer>\n",
		e.options.clock().Format("January 2, 2006 at 3:04 PM"))
	sb.WriteString("</div>\n</body>\n</html>\n")
	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for HTML.
func (e *HTMLExporter) FileExtension() string {
	return ".html"
}

// =============================================================================
// RENDERING FUNCTIONS
// =============================================================================

func (e *HTMLExporter) renderHeader(th *model.Thread) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<header class=\"header\">\n<h1>%s</h1>\n<div class=\"metadata\">\n", html.EscapeString(th.Title))
	meta := func(label, value string) {
		fmt.Fprintf(&sb, "<span class=\"meta-item\"><strong>%s:</strong> %s</span>\n", label, html.EscapeString(value))
	}
	meta("Model", th.Model.Name())
	if th.PersonaID != "" {
		meta("Persona", e.options.personaName(th.PersonaID))
	}
	meta("Created", formatTimestamp(th.CreatedAt))
	meta("Messages", fmt.Sprint(len(th.Messages)))
	if docs := th.DocumentIDs(); len(docs) > 0 {
		meta("Documents", strings.Join(docs, ", "))
	}
	sb.WriteString("</div>\n</header>\n")
	return sb.String()
}

func (e *HTMLExporter) renderMessage(msg model.Message) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<div class=\"message %s-message\">\n<div class=\"message-header\">\n", html.EscapeString(string(msg.Role)))
	fmt.Fprintf(&sb, "<span class=\"role-label\">%s</span>\n", html.EscapeString(roleLabel(msg, e.options)))
	if e.options.IncludeTimestamps && !msg.Timestamp.IsZero() {
		fmt.Fprintf(&sb, "<span class=\"timestamp\">%s</span>\n", formatShortTimestamp(msg.Timestamp))
	}
	sb.WriteString("</div>\n<div class=\"message-content\">\n")
	sb.WriteString(formatContent(msg.Content))
	sb.WriteString("\n</div>\n</div>\n")
	return sb.String()
}

// =============================================================================
// CONTENT FORMATTING
// =============================================================================

var inlineCode = regexp.MustCompile("`([^`\n]+)`")

// formatContent renders fenced code blocks as <pre> and the remaining text
// as paragraphs. All text is escaped.
func formatContent(content string) string {
	var out, para []string
	var code []string
	lang, inCode := "", false

	flushPara := func() {
		if len(para) > 0 {
			text := inlineCode.ReplaceAllString(html.EscapeString(strings.Join(para, "\n")), `<code class="inline-code">$1</code>`)
			out = append(out, "<p>"+strings.ReplaceAll(text, "\n", "<br>\n")+"</p>")
			para = nil
		}
	}

	for _, line := range strings.Split(strings.TrimSpace(content), "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "```") && !inCode:
			flushPara()
			inCode, lang, code = true, strings.TrimPrefix(trimmed, "```"), nil
		case strings.HasPrefix(trimmed, "```") && inCode:
			out = append(out, codeBlock(lang, code))
			inCode = false
		case inCode:
			code = append(code, line)
		case trimmed == "":
			flushPara()
		default:
			para = append(para, trimmed)
		}
	}
	if inCode {
		out = append(out, codeBlock(lang, code))
	}
	flushPara()
	return strings.Join(out, "\n")
}

func codeBlock(lang string, lines []string) string {
	label := ""
	if lang != "" {
		label = fmt.Sprintf("<div class=\"code-lang\">%s</div>", html.EscapeString(lang))
	}
	return fmt.Sprintf("<div class=\"code-block\">%s<pre><code class=\"language-%s\">%s</code></pre></div>",
		label, html.EscapeString(lang), html.EscapeString(strings.Join(lines, "\n")))
}

// =============================================================================
// EMBEDDED CSS
// =============================================================================

const css = `    <style>
        :root { --bg: #0f172a; --fg: #e2e8f0; --muted: #94a3b8; --card: #1e293b; --user: #0e7490; --assistant: #6d28d9; --code: #020617; }
        @media (prefers-color-scheme: light) {
            :root { --bg: #f8fafc; --fg: #0f172a; --muted: #64748b; --card: #ffffff; --user: #0891b2; --assistant: #7c3aed; --code: #f1f5f9; }
        }
        * { box-sizing: border-box; }
        body { margin: 0; background: var(--bg); color: var(--fg); font: 15px/1.6 system-ui, sans-serif; }
        .container { max-width: 860px; margin: 0 auto; padding: 2rem 1rem; }
        .header h1 { margin: 0 0 .5rem; }
        .metadata { display: flex; flex-wrap: wrap; gap: 1rem; color: var(--muted); font-size: .9em; }
        .message { background: var(--card); border-radius: 8px; padding: 1rem 1.25rem; margin: 1rem 0; border-left: 4px solid var(--muted); }
        .user-message { border-left-color: var(--user); }
        .assistant-message { border-left-color: var(--assistant); }
        .message-header { display: flex; justify-content: space-between; font-weight: 600; margin-bottom: .5rem; }
        .timestamp { color: var(--muted); font-weight: normal; font-size: .85em; }
        .code-block { background: var(--code); border-radius: 6px; margin: .75rem 0; overflow-x: auto; }
        .code-lang { color: var(--muted); font-size: .8em; padding: .25rem .75rem 0; }
        pre { margin: 0; padding: .75rem; }
        code { font-family: ui-monospace, monospace; font-size: .9em; }
        .inline-code { background: var(--code); padding: .1em .3em; border-radius: 4px; }
        .footer { color: var(--muted); font-size: .85em; text-align: center; margin-top: 2rem; }
    </style>
`
