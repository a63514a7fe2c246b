// Package conflict implements the textual contradiction heuristics used
// after vector similarity has shortlisted near-duplicate memories. Two
// similar memories conflict when one negates what the other asserts, when
// both assert different values for the same key, or when they carry a
// mutually-exclusive tag pair.
package conflict

import (
	"sort"
	"strings"
	"unicode"
)

// Tokenizer splits text into comparable tokens. Implementations may apply
// language-specific segmentation; the default splits on runes that are
// neither letters nor digits and lowercases.
type Tokenizer interface {
	Tokenize(text string) []string
}

// SimpleTokenizer lowercases and splits on anything that is not a letter
// or digit. Good enough for space-delimited languages.
type SimpleTokenizer struct{}

// Tokenize splits text into lowercased word tokens.
func (SimpleTokenizer) Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// defaultNegations covers English and Russian. The list is per language
// family and extendable through WithNegations.
var defaultNegations = []string{
	// English
	"not", "no", "never", "none", "cannot", "isn", "aren", "wasn", "weren",
	"don", "doesn", "didn", "won", "wouldn", "shouldn", "couldn", "without",
	// Russian
	"не", "нет", "никогда", "нельзя", "ни",
}

// Result describes a detected conflict.
type Result struct {
	Conflicting bool
	Reason      string
}

// Detector holds the configured heuristics.
type Detector struct {
	tokenizer      Tokenizer
	negations      map[string]struct{}
	exclusivePairs [][2]string
}

// Option configures a Detector.
type Option func(*Detector)

// WithTokenizer swaps the tokenizer.
func WithTokenizer(t Tokenizer) Option {
	return func(d *Detector) {
		d.tokenizer = t
	}
}

// WithNegations replaces the negation token list.
func WithNegations(tokens []string) Option {
	return func(d *Detector) {
		d.negations = make(map[string]struct{}, len(tokens))
		for _, t := range tokens {
			d.negations[strings.ToLower(t)] = struct{}{}
		}
	}
}

// WithExclusiveTagPairs sets tag pairs that may never co-exist across two
// records asserting the same thing (e.g. {"approved", "rejected"}).
func WithExclusiveTagPairs(pairs [][2]string) Option {
	return func(d *Detector) {
		d.exclusivePairs = pairs
	}
}

// NewDetector creates a detector with the default tokenizer and negation
// lists unless overridden.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{tokenizer: SimpleTokenizer{}}
	WithNegations(defaultNegations)(d)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Check runs the heuristics on two contents (plus their tags) that vector
// similarity already deemed near-duplicates.
func (d *Detector) Check(newContent, oldContent string, newTags, oldTags []string) Result {
	newTokens := d.tokenizer.Tokenize(newContent)
	oldTokens := d.tokenizer.Tokenize(oldContent)

	if reason, ok := d.negationMismatch(newTokens, oldTokens); ok {
		return Result{Conflicting: true, Reason: reason}
	}
	if reason, ok := keyValueMismatch(newContent, oldContent); ok {
		return Result{Conflicting: true, Reason: reason}
	}
	if reason, ok := substitutionMismatch(newTokens, oldTokens); ok {
		return Result{Conflicting: true, Reason: reason}
	}
	if reason, ok := d.exclusiveTags(newTags, oldTags); ok {
		return Result{Conflicting: true, Reason: reason}
	}

	return Result{}
}

// substitutionMismatch generalizes the key/value test to prose: two near-
// duplicate assertions that differ in exactly one token on each side are
// asserting different values for the same implicit key ("uses PostgreSQL"
// vs "uses MongoDB"). Vector similarity has already vouched for the
// near-duplication; this check just confirms a substituted value.
func substitutionMismatch(a, b []string) (string, bool) {
	// One substituted token per side. Wider windows flag ordinary phrasing
	// differences ("on CI" vs "locally either") as contradictions.
	const maxSubstituted = 1

	aSet := toSet(a)
	bSet := toSet(b)

	shared := 0
	for tok := range aSet {
		if _, ok := bSet[tok]; ok {
			shared++
		}
	}

	onlyA := setDiff(aSet, bSet)
	onlyB := setDiff(bSet, aSet)

	if len(onlyA) == 0 || len(onlyB) == 0 {
		return "", false
	}
	if len(onlyA) > maxSubstituted || len(onlyB) > maxSubstituted {
		return "", false
	}
	if shared < 2 || shared < len(aSet)/2 || shared < len(bSet)/2 {
		return "", false
	}

	return "assertion differs only in " + quoted(onlyA[0]) + " vs " + quoted(onlyB[0]), true
}

func toSet(tokens []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		out[t] = struct{}{}
	}
	return out
}

func setDiff(a, b map[string]struct{}) []string {
	var out []string
	for tok := range a {
		if _, ok := b[tok]; !ok {
			out = append(out, tok)
		}
	}
	sort.Strings(out)
	return out
}

// negationMismatch reports a conflict when one side carries a negation
// token the other lacks.
func (d *Detector) negationMismatch(a, b []string) (string, bool) {
	aNeg := d.negationsIn(a)
	bNeg := d.negationsIn(b)

	for tok := range aNeg {
		if _, ok := bNeg[tok]; !ok {
			return "negation marker " + quoted(tok) + " present on one side only", true
		}
	}
	for tok := range bNeg {
		if _, ok := aNeg[tok]; !ok {
			return "negation marker " + quoted(tok) + " present on one side only", true
		}
	}
	return "", false
}

func quoted(tok string) string {
	return "\"" + tok + "\""
}

func (d *Detector) negationsIn(tokens []string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, t := range tokens {
		if _, ok := d.negations[t]; ok {
			out[t] = struct{}{}
		}
	}
	return out
}

// keyValueMismatch reports a conflict when both contents assert a
// "key: value" (or "key = value") for the same key with different values
// after normalization.
func keyValueMismatch(a, b string) (string, bool) {
	aPairs := parsePairs(a)
	if len(aPairs) == 0 {
		return "", false
	}
	bPairs := parsePairs(b)

	for key, av := range aPairs {
		bv, ok := bPairs[key]
		if !ok {
			continue
		}
		if av != bv {
			return "key " + quoted(key) + " asserted with different values", true
		}
	}
	return "", false
}

// parsePairs pulls key/value assertions out of text, line by line.
func parsePairs(text string) map[string]string {
	pairs := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		sep := strings.IndexAny(line, ":=")
		if sep <= 0 {
			continue
		}
		key := normalizeFragment(line[:sep])
		value := normalizeFragment(line[sep+1:])
		if key == "" || value == "" {
			continue
		}
		pairs[key] = value
	}
	return pairs
}

func normalizeFragment(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}

// exclusiveTags reports a conflict when the two records carry opposite
// halves of a configured mutually-exclusive tag pair.
func (d *Detector) exclusiveTags(a, b []string) (string, bool) {
	has := func(tags []string, want string) bool {
		for _, t := range tags {
			if strings.EqualFold(t, want) {
				return true
			}
		}
		return false
	}

	for _, pair := range d.exclusivePairs {
		if (has(a, pair[0]) && has(b, pair[1])) || (has(a, pair[1]) && has(b, pair[0])) {
			return "mutually exclusive tags " + quoted(pair[0]) + "/" + quoted(pair[1]), true
		}
	}
	return "", false
}
