// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// MergePolicy orders candidates from different sources when they compete
// for the result cap.
type MergePolicy string

const (
	// MergeScore orders purely by similarity.
	MergeScore MergePolicy = "score"
	// MergeDocumentsFirst ranks every document chunk above web chunks.
	MergeDocumentsFirst MergePolicy = "documents_first"
	// MergeWebFirst ranks every web chunk above document chunks.
	MergeWebFirst MergePolicy = "web_first"
	// MergeInterleave alternates sources, each in score order, starting
	// with the source holding the best chunk.
	MergeInterleave MergePolicy = "interleave"
)

// ParseMergePolicy validates a config value. Empty means MergeScore.
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch p := MergePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return MergeScore, nil
	case MergeScore, MergeDocumentsFirst, MergeWebFirst, MergeInterleave:
		return p, nil
	}
	return "", fmt.Errorf("unknown merge policy %q", s)
}

// Candidate is one chunk competing for inclusion.
type Candidate struct {
	Source Source
	Ref    string
	Text   string
	Score  float64
}

// Cosine returns the cosine similarity of a and b, or 0 when the vectors
// differ in length or either has zero magnitude.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Rank sorts candidates by descending score. Ties keep input order.
func Rank(cands []Candidate) []Candidate {
	out := make([]Candidate, len(cands))
	copy(out, cands)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Select applies the floor, then the merge policy, then the topK cap.
// ranked must already be sorted by Rank.
func Select(ranked []Candidate, floor float64, topK int, policy MergePolicy) []Candidate {
	kept := make([]Candidate, 0, len(ranked))
	for _, c := range ranked {
		if c.Score >= floor {
			kept = append(kept, c)
		}
	}
	return capped(merge(kept, policy), topK)
}

func capped(c []Candidate, topK int) []Candidate {
	if topK > 0 && len(c) > topK {
		return c[:topK]
	}
	return c
}

func merge(ranked []Candidate, policy MergePolicy) []Candidate {
	switch policy {
	case MergeDocumentsFirst:
		return bySourcePriority(ranked, SourceDocument)
	case MergeWebFirst:
		return bySourcePriority(ranked, SourceWeb)
	case MergeInterleave:
		return interleave(ranked)
	default:
		return ranked
	}
}

func bySourcePriority(ranked []Candidate, first Source) []Candidate {
	out := make([]Candidate, len(ranked))
	copy(out, ranked)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Source == first && out[j].Source != first
	})
	return out
}

func interleave(ranked []Candidate) []Candidate {
	if len(ranked) == 0 {
		return ranked
	}
	var docs, web []Candidate
	for _, c := range ranked {
		if c.Source == SourceWeb {
			web = append(web, c)
		} else {
			docs = append(docs, c)
		}
	}
	a, b := docs, web
	if ranked[0].Source == SourceWeb {
		a, b = web, docs
	}

	out := make([]Candidate, 0, len(ranked))
	for i := 0; i < len(a) || i < len(b); i++ {
		if i < len(a) {
			out = append(out, a[i])
		}
		if i < len(b) {
			out = append(out, b[i])
		}
	}
	return out
}
