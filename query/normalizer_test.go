package query

import (
	"errors"
	"strings"
	"testing"

	"github.com/docsift/docsift/core"
)

func TestNormalize_Idempotent(t *testing.T) {
	n := NewNormalizer(nil)

	first, err := n.Normalize("  React   Hooks Tutorial ", "react")
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}

	second, err := n.Normalize(first.Normalized, "react")
	if err != nil {
		t.Fatalf("re-normalize failed: %v", err)
	}

	if first.Normalized != second.Normalized {
		t.Errorf("normalized text not stable: %q vs %q", first.Normalized, second.Normalized)
	}
	if first.Fingerprint != second.Fingerprint {
		t.Errorf("fingerprint not stable: %s vs %s", first.Fingerprint, second.Fingerprint)
	}
	if len(first.Tokens) != len(second.Tokens) {
		t.Fatalf("tokens not stable: %v vs %v", first.Tokens, second.Tokens)
	}
	for i := range first.Tokens {
		if first.Tokens[i] != second.Tokens[i] {
			t.Errorf("token %d differs: %q vs %q", i, first.Tokens[i], second.Tokens[i])
		}
	}
}

func TestNormalize_FingerprintIncludesHint(t *testing.T) {
	n := NewNormalizer(nil)

	withHint, _ := n.Normalize("react hooks", "react")
	without, _ := n.Normalize("react hooks", "")
	same, _ := n.Normalize("React Hooks", "react")

	if withHint.Fingerprint == without.Fingerprint {
		t.Error("technology hint should change the fingerprint")
	}
	if withHint.Fingerprint != same.Fingerprint {
		t.Error("identical normalized text and hint should share a fingerprint")
	}
}

func TestNormalize_TokensStripStopWordsAndStems(t *testing.T) {
	n := NewNormalizer(nil)

	q, err := n.Normalize("how to use python async functions", "python")
	if err != nil {
		t.Fatal(err)
	}

	for _, tok := range q.Tokens {
		if tok == "how" || tok == "to" {
			t.Errorf("stop word %q should be removed", tok)
		}
	}
	found := false
	for _, tok := range q.Tokens {
		if tok == "function" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected stemmed token %q, got %v", "function", q.Tokens)
	}
}

func TestValidate_Boundaries(t *testing.T) {
	n := NewNormalizer(nil)

	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"empty", "", core.ErrInvalidQuery},
		{"whitespace only", "   ", core.ErrInvalidQuery},
		{"length 1", "x", core.ErrQueryTooShort},
		{"length 2", "go", nil},
		{"length 256", strings.Repeat("a", 256), nil},
		{"length 257", strings.Repeat("a", 257), core.ErrQueryTooLong},
		{"forbidden chars", "drop table; <script>", core.ErrForbiddenCharset},
		{"permitted punctuation", "what's new in go 1.22 (generics)?", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := n.Validate(tt.input)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("expected valid, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if err != nil && !core.IsValidation(err) {
				t.Errorf("validation errors should classify as validation: %v", err)
			}
		})
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	a := Fingerprint("python async await", "python")
	b := Fingerprint("python async await", "python")
	if a != b {
		t.Error("fingerprint must be deterministic")
	}
	if len(a) != 64 {
		t.Errorf("expected 64-char hex sha256, got %d chars", len(a))
	}
}
