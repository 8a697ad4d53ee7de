// Package query implements query normalization: validation, text cleanup,
// tokenization, light stemming, and fingerprint hashing. The fingerprint is
// the cache key for the whole pipeline.
package query

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/docsift/docsift/core"
)

const (
	// MinQueryLength and MaxQueryLength bound accepted query text.
	MinQueryLength = 2
	MaxQueryLength = 256
)

// permittedChars is the accepted query character class.
var permittedChars = regexp.MustCompile(`^[\w\s\-\.,:;!?()'/@#&]+$`)

// whitespaceRun collapses internal whitespace runs to single spaces.
var whitespaceRun = regexp.MustCompile(`\s+`)

// stopWords excluded from the extracted token list.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "how": true, "in": true,
	"is": true, "it": true, "of": true, "on": true, "or": true, "the": true,
	"to": true, "what": true, "when": true, "where": true, "which": true,
	"with": true,
}

// Normalizer produces the canonical NormalizedQuery for a raw query string.
// Normalization is idempotent: normalizing an already-normalized text yields
// the same text, tokens, and fingerprint.
type Normalizer struct {
	logger core.Logger
}

// NewNormalizer creates a normalizer.
func NewNormalizer(logger core.Logger) *Normalizer {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Normalizer{logger: logger}
}

// Validate checks the raw query against the entry-point rules. It returns a
// validation sentinel wrapped with position detail; validation errors are
// surfaced verbatim and never retried.
func (n *Normalizer) Validate(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return fmt.Errorf("query is empty: %w", core.ErrInvalidQuery)
	}
	if len(trimmed) < MinQueryLength {
		return fmt.Errorf("query length %d below minimum %d: %w", len(trimmed), MinQueryLength, core.ErrQueryTooShort)
	}
	if len(trimmed) > MaxQueryLength {
		return fmt.Errorf("query length %d above maximum %d: %w", len(trimmed), MaxQueryLength, core.ErrQueryTooLong)
	}
	if !permittedChars.MatchString(trimmed) {
		return fmt.Errorf("query contains characters outside the permitted set: %w", core.ErrForbiddenCharset)
	}
	return nil
}

// Normalize validates and canonicalizes a raw query. The normalized text is
// the lowercased, trimmed, whitespace-collapsed original; tokens are the
// stop-word-free stemmed terms. The fingerprint covers normalized text and
// technology hint so identical inputs always map to the same cache key.
func (n *Normalizer) Normalize(text, technologyHint string) (core.NormalizedQuery, error) {
	if err := n.Validate(text); err != nil {
		return core.NormalizedQuery{}, err
	}

	normalized := strings.ToLower(strings.TrimSpace(text))
	normalized = whitespaceRun.ReplaceAllString(normalized, " ")

	return core.NormalizedQuery{
		Original:       text,
		Normalized:     normalized,
		Fingerprint:    Fingerprint(normalized, technologyHint),
		TechnologyHint: technologyHint,
		Tokens:         tokenize(normalized),
	}, nil
}

// Fingerprint computes the cache key: SHA-256 over normalized text and
// technology hint separated by an unambiguous delimiter.
func Fingerprint(normalized, technologyHint string) string {
	h := sha256.New()
	h.Write([]byte(normalized))
	h.Write([]byte{'|'})
	h.Write([]byte(strings.ToLower(strings.TrimSpace(technologyHint))))
	return hex.EncodeToString(h.Sum(nil))
}

// tokenize splits normalized text into stemmed, stop-word-free terms.
func tokenize(normalized string) []string {
	fields := strings.FieldsFunc(normalized, func(r rune) bool {
		switch r {
		case ' ', ',', ';', ':', '!', '?', '(', ')', '\'', '/', '#', '&':
			return true
		}
		return false
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".-")
		if f == "" || stopWords[f] {
			continue
		}
		tokens = append(tokens, stem(f))
	}
	return tokens
}

// stem applies a light suffix stemmer. Full Porter stemming is intentionally
// out of scope; the tokens feed ranking heuristics, not the fingerprint.
func stem(token string) string {
	if len(token) <= 3 {
		return token
	}
	for _, suffix := range []string{"ing", "ed", "es", "s"} {
		if strings.HasSuffix(token, suffix) && len(token)-len(suffix) >= 3 {
			return token[:len(token)-len(suffix)]
		}
	}
	return token
}
