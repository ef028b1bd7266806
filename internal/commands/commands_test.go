// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package commands

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(calls *[]string) *Registry {
	record := func(name string) Handler {
		return func(_ context.Context, args []string) (Result, error) {
			*calls = append(*calls, name+" "+strings.Join(args, ","))
			return Continue, nil
		}
	}

	r := NewRegistry()
	r.Register(&Command{Name: "/quit", Aliases: []string{"/q", "/exit"}, Description: "Exit", Category: "Session",
		Handler: func(context.Context, []string) (Result, error) { return Quit, nil }})
	r.Register(&Command{Name: "/open", Usage: "/open <id>", Description: "Open a thread", Category: "Threads",
		Args:    []ArgDef{{Name: "id", Required: true, Complete: func() []string { return []string{"thr_abc", "thr_abd", "thr_x"} }}},
		Handler: record("/open")})
	r.Register(&Command{Name: "/export", Usage: "/export [format]", Description: "Export", Category: "Threads",
		Args:    []ArgDef{{Name: "format", Values: []string{"markdown", "json", "html"}}},
		Handler: record("/export")})
	r.Register(&Command{Name: "/attach", Usage: "/attach <id...>", Description: "Attach", Category: "Documents",
		Args:    []ArgDef{{Name: "id", Required: true, Variadic: true, Complete: func() []string { return []string{"doc_1", "doc_2"} }}},
		Handler: record("/attach")})
	r.Register(&Command{Name: "/secret", Hidden: true})
	return r
}

// =============================================================================
// PARSER TESTS
// =============================================================================

func TestSplitCommandLine(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"/open thr_1", []string{"/open", "thr_1"}},
		{`/title "Weekly sync notes"`, []string{"/title", "Weekly sync notes"}},
		{`/say 'it\'s' ""`, []string{"/say", "it's", ""}},
		{"  /a   b  ", []string{"/a", "b"}},
		{"/é ü", []string{"/é", "ü"}},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, splitCommandLine(tc.in), tc.in)
	}
}

func TestRegistry_Parse(t *testing.T) {
	r := testRegistry(new([]string))

	res := r.Parse("/Q")
	assert.True(t, res.IsCommand)
	require.NotNil(t, res.Command)
	assert.Equal(t, "/quit", res.Command.Name)

	res = r.Parse(`/open  "thr 1"`)
	assert.Equal(t, []string{"thr 1"}, res.Args)
	assert.Equal(t, `"thr 1"`, res.RawArgs)

	assert.False(t, r.Parse("hello /open").IsCommand)
	assert.Nil(t, r.Parse("/nope").Command)
}

// =============================================================================
// EXECUTE TESTS
// =============================================================================

func TestRegistry_Execute(t *testing.T) {
	var calls []string
	r := testRegistry(&calls)
	ctx := context.Background()

	res, err := r.Execute(ctx, "/exit")
	require.NoError(t, err)
	assert.Equal(t, Quit, res)

	res, err = r.Execute(ctx, "/attach doc_1 doc_2")
	require.NoError(t, err)
	assert.Equal(t, Continue, res)
	if diff := cmp.Diff([]string{"/attach doc_1,doc_2"}, calls); diff != "" {
		t.Errorf("handler calls mismatch (-want +got):\n%s", diff)
	}

	_, err = r.Execute(ctx, "/bogus")
	assert.ErrorIs(t, err, ErrUnknownCommand)
	assert.Contains(t, err.Error(), "/bogus")

	var verr *ValidationError
	_, err = r.Execute(ctx, "/open")
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "id", verr.Arg)
	assert.Contains(t, err.Error(), "/open <id>")

	_, err = r.Execute(ctx, "/export pdf")
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "pdf", verr.Got)

	_, err = r.Execute(ctx, "/open a b")
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "too many arguments", verr.Message)

	_, err = r.Execute(ctx, "/export HTML")
	assert.NoError(t, err)
}

func TestRegistry_Help(t *testing.T) {
	r := testRegistry(new([]string))
	help := r.Help("Threads")

	assert.Regexp(t, `^Threads:\n  /export \[format\] +Export\n  /open <id> +Open a thread\n`, help)
	assert.Contains(t, help, "Session:\n  /quit")
	assert.NotContains(t, help, "/secret")

	docs := strings.Index(help, "Documents:")
	session := strings.Index(help, "Session:")
	assert.Less(t, docs, session, "unlisted categories follow alphabetically")
}

// =============================================================================
// COMPLETION TESTS
// =============================================================================

func TestCompleter(t *testing.T) {
	c := NewCompleter(testRegistry(new([]string)))

	tests := []struct {
		line string
		want []string
	}{
		{"/o", []string{"/open"}},
		{"/e", []string{"/export"}},
		{"/s", nil},
		{"/open thr_ab", []string{"/open thr_abc", "/open thr_abd"}},
		{"/open ", []string{"/open thr_x", "/open thr_abc", "/open thr_abd"}},
		{"/export h", []string{"/export html"}},
		{"/attach doc_1 d", []string{"/attach doc_1 doc_1", "/attach doc_1 doc_2"}},
		{"/open thr_x more", nil},
		{"/quit now", nil},
		{"hello", nil},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, c.Complete(tc.line), tc.line)
	}
}
