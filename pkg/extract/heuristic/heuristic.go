// Package heuristic implements a model-free Extractor for deployments
// without an LLM backend. It treats runs of capitalized words (single words
// included) as entities and emits no relations; it has no list of known
// technology terms.
package heuristic

import (
	"context"
	"strings"
	"unicode"

	"github.com/papercomputeco/engram/pkg/extract"
)

// Extractor is a dependency-free extractor. Entities only, no relations.
type Extractor struct{}

// NewExtractor creates a heuristic extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract collects capitalized token runs as entity candidates. The first
// word of a sentence only counts when it stays capitalized mid-run.
func (e *Extractor) Extract(_ context.Context, text string) (*extract.Extraction, error) {
	var entities []string
	seen := map[string]bool{}

	words := strings.Fields(text)
	var run []string
	flush := func() {
		if len(run) == 0 {
			return
		}
		name := strings.Join(run, " ")
		run = nil
		if len(name) < 2 {
			return
		}
		key := strings.ToLower(name)
		if seen[key] {
			return
		}
		seen[key] = true
		entities = append(entities, name)
	}

	sentenceStart := true
	for _, w := range words {
		trimmed := strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if trimmed == "" {
			flush()
			continue
		}
		first := []rune(trimmed)[0]
		// Sentence-initial words are ambiguous; only count them when they
		// extend an existing run.
		if unicode.IsUpper(first) && (!sentenceStart || len(run) > 0) {
			run = append(run, trimmed)
		} else {
			flush()
		}
		sentenceStart = false
		if strings.ContainsAny(w, ".!?") {
			flush()
			sentenceStart = true
		}
	}
	flush()

	return &extract.Extraction{Entities: entities}, nil
}

// Close is a no-op.
func (e *Extractor) Close() error {
	return nil
}
