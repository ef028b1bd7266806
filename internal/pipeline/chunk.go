// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// DefaultChunkSize is the chunk bound in runes.
const DefaultChunkSize = 800

// Chunk splits text into chunks of at most size runes. Sentences are never
// split unless one alone exceeds size; such a sentence is split at word
// boundaries, and a single word longer than size becomes its own chunk.
func Chunk(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}

	var chunks []string
	var cur strings.Builder
	curLen := 0

	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}
	add := func(piece string, n int) {
		if curLen > 0 && curLen+1+n > size {
			flush()
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(piece)
		curLen += n
	}

	for _, sentence := range Sentences(text) {
		n := utf8.RuneCountInString(sentence)
		if n <= size {
			add(sentence, n)
			continue
		}
		// Oversized sentence: start clean and pack its words.
		flush()
		for _, word := range strings.Fields(sentence) {
			add(word, utf8.RuneCountInString(word))
		}
		flush()
	}
	flush()
	return chunks
}

// Sentences NFC-normalizes text and splits it on sentence terminators
// followed by whitespace, and on blank lines. Whitespace inside a sentence
// is collapsed.
func Sentences(text string) []string {
	text = norm.NFC.String(text)

	var out []string
	emit := func(s string) {
		if s = strings.Join(strings.Fields(s), " "); s != "" {
			out = append(out, s)
		}
	}

	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\n' && i+1 < len(runes) && runes[i+1] == '\n':
			emit(string(runes[start:i]))
			start = i + 1
		case isTerminator(r):
			// Consume runs like "?!" or "...".
			j := i
			for j+1 < len(runes) && isTerminator(runes[j+1]) {
				j++
			}
			// Closing quotes and brackets belong to the sentence.
			for j+1 < len(runes) && isCloser(runes[j+1]) {
				j++
			}
			if j+1 == len(runes) || unicode.IsSpace(runes[j+1]) {
				emit(string(runes[start : j+1]))
				start = j + 1
			}
			i = j
		}
	}
	emit(string(runes[start:]))
	return out
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’', '»':
		return true
	}
	return false
}
