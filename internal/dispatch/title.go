// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-chat/internal/llm"
	"github.com/jeranaias/rigrun-chat/internal/logging"
	"github.com/jeranaias/rigrun-chat/internal/model"
	"github.com/jeranaias/rigrun-chat/internal/util"
)

// =============================================================================
// TITLE GENERATION
// =============================================================================

const (
	// DefaultTitleTimeout bounds the best-effort title call.
	DefaultTitleTimeout = 20 * time.Second

	// TitleWords is the number of words kept from the model's answer.
	TitleWords = 3

	maxTitleWidth = 48
	excerptRunes  = 500
)

// TitleSystemPrompt is sent with the title request.
const TitleSystemPrompt = "You name conversations. Reply with a concise title of exactly three words. " +
	"No quotes, no punctuation, no explanation."

var errEmptyTitle = errors.New("model returned an empty title")

// TitlePrompt builds the title request from the first exchange.
func TitlePrompt(userText, reply string) string {
	var b strings.Builder
	b.WriteString("Write a three-word title for this conversation.\n\nUser: ")
	b.WriteString(util.TruncateRunes(strings.TrimSpace(userText), excerptRunes))
	b.WriteString("\n\nAssistant: ")
	b.WriteString(util.TruncateRunes(strings.TrimSpace(reply), excerptRunes))
	return b.String()
}

// NormalizeTitle reduces a model answer to at most three words without
// surrounding quotes or punctuation. It returns "" when nothing usable is
// left.
func NormalizeTitle(raw string) string {
	line := strings.TrimSpace(raw)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}

	var words []string
	for _, w := range strings.Fields(line) {
		w = strings.TrimFunc(w, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if w == "" {
			continue
		}
		if len(words) == 0 && strings.EqualFold(w, "title") {
			continue
		}
		words = append(words, w)
		if len(words) == TitleWords {
			break
		}
	}
	return util.TruncateWidth(strings.Join(words, " "), maxTitleWidth)
}

// title asks the model for a title and applies it. Any failure keeps the
// default title.
func (d *Dispatcher) title(ctx context.Context, t Turn, gate *Gate, th *model.Thread) bool {
	if t.Adapter == nil {
		return false
	}
	userMsg, _ := th.FirstUserMessage()
	prompt := TitlePrompt(userMsg.Content, lastAssistant(th))

	tctx, cancel := context.WithTimeout(ctx, d.titleTimeout)
	defer cancel()

	raw, err := t.Adapter.SendSimpleMessage(tctx, prompt, t.Model, TitleSystemPrompt)
	title := ""
	if err == nil {
		if title = NormalizeTitle(raw); title == "" {
			err = errEmptyTitle
		}
	}
	if err != nil {
		d.logger.Warn("title generation failed, keeping default title",
			logging.Fn("title"),
			zap.String("turn", t.ID),
			zap.Error(llm.NewError(llm.KindTitleGeneration, "title", "title call failed", err)),
		)
		return false
	}

	applied := gate.DoContext(ctx, func() {
		th.Title = title
		th.UpdatedAt = time.Now()
		d.publish(th)
	})
	if !applied {
		return false
	}
	d.save(t.ID, th)
	return true
}

func lastAssistant(th *model.Thread) string {
	for i := len(th.Messages) - 1; i >= 0; i-- {
		if th.Messages[i].Role == model.RoleAssistant {
			return th.Messages[i].Content
		}
	}
	return ""
}
