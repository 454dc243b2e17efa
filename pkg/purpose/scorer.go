// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package purpose

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/jllopis/perpetua/pkg/core"
)

// StaticScorer returns the same score for every action.
type StaticScorer struct {
	Value float64
}

// NewStaticScorer returns the placeholder scorer used before a real scoring
// engine is plugged in: every action scores 0.85.
func NewStaticScorer() StaticScorer {
	return StaticScorer{Value: 0.85}
}

// Score implements Scorer.
func (s StaticScorer) Score(context.Context, core.Identity, string) (float64, string, error) {
	return s.Value, "fixed alignment score", nil
}

// KeywordScorer scores an action by how many of its terms appear in the
// purpose, scope and success criteria. A baseline keeps actions that share no
// terms from scoring zero, since most events are neutral rather than harmful.
type KeywordScorer struct {
	Baseline float64
}

// NewKeywordScorer returns a keyword scorer with a 0.3 baseline.
func NewKeywordScorer() KeywordScorer {
	return KeywordScorer{Baseline: 0.3}
}

// Score implements Scorer.
func (k KeywordScorer) Score(_ context.Context, identity core.Identity, action string) (float64, string, error) {
	vocab := terms(identity.Purpose + " " + identity.PurposeScope + " " + strings.Join(identity.SuccessCriteria, " "))
	actionTerms := terms(action)
	if len(actionTerms) == 0 || len(vocab) == 0 {
		return k.Baseline, "no comparable terms", nil
	}

	var matched []string
	for t := range actionTerms {
		if _, ok := vocab[t]; ok {
			matched = append(matched, t)
		}
	}
	if len(matched) == 0 {
		return k.Baseline, "no purpose terms in action", nil
	}
	sort.Strings(matched)

	denom := len(actionTerms)
	if len(vocab) < denom {
		denom = len(vocab)
	}
	overlap := float64(len(matched)) / float64(denom)
	score := k.Baseline + (1-k.Baseline)*overlap
	return score, fmt.Sprintf("matched purpose terms: %s", strings.Join(matched, ", ")), nil
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "in": {}, "is": {}, "it": {}, "of": {}, "on": {}, "or": {},
	"our": {}, "the": {}, "to": {}, "we": {}, "with": {},
}

func terms(s string) map[string]struct{} {
	out := make(map[string]struct{})
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		out[f] = struct{}{}
	}
	return out
}
