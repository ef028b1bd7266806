// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-chat/internal/model"
)

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func sampleThread() *model.Thread {
	th := model.NewThread(model.Model{ID: "llama3.2", Provider: model.Provider{ID: "local"}}, "helper")
	th.Title = "Go *generics* #1"
	th.CreatedAt = fixedNow
	th.UpdatedAt = fixedNow

	user := model.NewUserMessage("How do I write `Map`?")
	user.Timestamp = fixedNow
	reply := model.NewMessage(model.RoleAssistant, "Like this:\n\n```go\nfunc Map[T any](xs []T) {}\n```\n\nDone <ok>.")
	reply.PersonaID = "helper"
	reply.Timestamp = fixedNow.Add(time.Second)
	th.Append(user, reply)
	th.AttachDocuments("doc_a")
	return th
}

func testOptions() *Options {
	opts := DefaultOptions()
	opts.PersonaName = func(id string) string {
		if id == "helper" {
			return "Helper Bot"
		}
		return ""
	}
	opts.now = func() time.Time { return fixedNow }
	return opts
}

func TestMarkdownExporter(t *testing.T) {
	out, err := NewMarkdownExporter(testOptions()).Export(sampleThread())
	require.NoError(t, err)
	md := string(out)

	assert.True(t, strings.HasPrefix(md, "---\ntitle: \"Go *generics* #1\"\n"))
	assert.Contains(t, md, "persona: helper\n")
	assert.Contains(t, md, "documents: [doc_a]\n")
	assert.Contains(t, md, "# Go \\*generics\\* \\#1\n")
	assert.Contains(t, md, "### User <sub>09:26:53</sub>\n\nHow do I write `Map`?")
	assert.Contains(t, md, "### Helper Bot <sub>09:26:54</sub>")
	assert.Contains(t, md, "```go\nfunc Map[T any](xs []T) {}\n```")
}

func TestMarkdownExporter_NoMetadata(t *testing.T) {
	opts := testOptions()
	opts.IncludeMetadata = false
	opts.IncludeTimestamps = false

	out, err := NewMarkdownExporter(opts).Export(sampleThread())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "# Go"))
	assert.Contains(t, string(out), "### User\n\n")
}

func TestHTMLExporter(t *testing.T) {
	out, err := NewHTMLExporter(testOptions()).Export(sampleThread())
	require.NoError(t, err)
	page := string(out)

	assert.Contains(t, page, "<title>Go *generics* #1</title>")
	assert.Contains(t, page, `<span class="role-label">Helper Bot</span>`)
	assert.Contains(t, page, `<code class="inline-code">Map</code>`)
	assert.Contains(t, page, `<code class="language-go">func Map[T any](xs []T) {}</code>`)
	assert.Contains(t, page, "Done &lt;ok&gt;.")
	assert.NotContains(t, page, "<ok>")
}

func TestFormatContent_UnclosedFence(t *testing.T) {
	got := formatContent("text\n```\n<b>code")
	assert.Equal(t, "<p>text</p>\n<div class=\"code-block\"><pre><code class=\"language-\">&lt;b&gt;code</code></pre></div>", got)
}

func TestJSONExporter_MatchesStoredShape(t *testing.T) {
	th := sampleThread()
	out, err := NewJSONExporter().Export(th)
	require.NoError(t, err)

	var back model.Thread
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, th.ID, back.ID)
	assert.Len(t, back.Messages, 2)
	assert.Equal(t, []string{"doc_a"}, back.DocumentIDs())
}

func TestExport_EmptyThread(t *testing.T) {
	th := model.NewThread(model.Model{ID: "m"}, "")
	for _, format := range []string{"md", "json", "html"} {
		exp, err := ForFormat(format, nil)
		require.NoError(t, err)
		_, err = exp.Export(th)
		assert.ErrorIs(t, err, ErrEmptyThread, format)
	}
}

func TestForFormat(t *testing.T) {
	tests := map[string]string{"markdown": ".md", ".md": ".md", "JSON": ".json", "htm": ".html"}
	for format, ext := range tests {
		exp, err := ForFormat(format, nil)
		require.NoError(t, err, format)
		assert.Equal(t, ext, exp.FileExtension())
	}

	_, err := ForFormat("pdf", nil)
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestToFile(t *testing.T) {
	opts := testOptions()
	opts.OutputDir = filepath.Join(t.TempDir(), "out")

	path, err := ToFile(sampleThread(), NewMarkdownExporter(opts), opts)
	require.NoError(t, err)
	assert.Equal(t, "thread_Go_-generics-_#1_20250314_092653.md", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Helper Bot")
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a-b_c", sanitizeFilename("a/b c"))
	assert.Equal(t, "thread", sanitizeFilename("   "))
}
