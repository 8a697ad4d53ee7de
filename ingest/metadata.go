package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/docsift/docsift/core"
)

// TTLDocument is the persisted metadata record for one ingested document.
// The cleanup job is the sole mutator of its terminal state.
type TTLDocument struct {
	ContentID   string           `json:"content_id"`
	Title       string           `json:"title"`
	SourceURL   string           `json:"source_url"`
	Provider    string           `json:"provider,omitempty"`
	Technology  string           `json:"technology,omitempty"`
	Owner       string           `json:"owner,omitempty"`
	Version     string           `json:"version,omitempty"`
	Language    string           `json:"language,omitempty"`
	ContentType core.ContentType `json:"content_type"`
	Quality     float64          `json:"quality"`
	TTLDays     int              `json:"ttl_days"`
	Status      string           `json:"status"` // pending_<source_tag> until indexed
	IngestedAt  time.Time        `json:"ingested_at"`
	ExpiresAt   time.Time        `json:"expires_at"`
}

var (
	versionPattern = regexp.MustCompile(`(?i)\bv?(\d+\.\d+(?:\.\d+)?(?:-(?:alpha|beta|rc)\.?\d*)?)\b`)
	// github.com/<owner>/<repo> style ownership
	ownerPattern = regexp.MustCompile(`(?i)github\.com/([\w.-]+)/[\w.-]+`)
	codeFence    = regexp.MustCompile("(?s)```(\\w+)")
)

// knownTechnologies is scanned in order; title hits win over URL hits.
var knownTechnologies = []string{
	"react", "next.js", "nextjs", "vue", "svelte", "angular", "typescript",
	"javascript", "nodejs", "node", "python", "django", "flask", "golang",
	"go", "rust", "java", "spring", "kotlin", "swift", "kubernetes", "docker",
	"terraform", "postgresql", "postgres", "mysql", "redis", "mongodb",
	"graphql", "linux",
}

// ExtractMetadata derives a TTLDocument from a search hit. The content id is
// a stable hash of the source URL so re-ingesting the same page updates its
// record instead of duplicating it.
func ExtractMetadata(r *core.SearchResult, quality float64) TTLDocument {
	text := r.Title + "\n" + r.Snippet + "\n" + r.Content

	doc := TTLDocument{
		ContentID:  DeriveContentID(r.SourceURL),
		Title:      r.Title,
		SourceURL:  r.SourceURL,
		Provider:   r.Provider(),
		Technology: r.Technology,
		Quality:    quality,
	}
	if doc.Technology == "" {
		doc.Technology = detectTechnology(r.Title, r.SourceURL, text)
	}
	if m := versionPattern.FindStringSubmatch(text); m != nil {
		doc.Version = m[1]
	}
	if m := ownerPattern.FindStringSubmatch(r.SourceURL + " " + text); m != nil {
		doc.Owner = m[1]
	}
	doc.Language = detectLanguage(r.Content)
	doc.ContentType = r.ContentType
	if doc.ContentType == "" || doc.ContentType == core.ContentGeneral {
		doc.ContentType = Classify(r.Title, r.Content)
	}
	if doc.Quality == 0 {
		doc.Quality = qualityIndicator(text)
	}
	return doc
}

// DeriveContentID hashes the source URL into a stable document key.
func DeriveContentID(sourceURL string) string {
	sum := sha256.Sum256([]byte(sourceURL))
	return "doc-" + hex.EncodeToString(sum[:8])
}

func detectTechnology(title, sourceURL, text string) string {
	titleLower := strings.ToLower(title)
	for _, tech := range knownTechnologies {
		if strings.Contains(titleLower, tech) {
			return tech
		}
	}
	if u, err := url.Parse(sourceURL); err == nil {
		host := strings.ToLower(u.Host + u.Path)
		for _, tech := range knownTechnologies {
			if strings.Contains(host, tech) {
				return tech
			}
		}
	}
	head := strings.ToLower(text)
	if len(head) > 1000 {
		head = head[:1000]
	}
	for _, tech := range knownTechnologies {
		if strings.Contains(head, tech) {
			return tech
		}
	}
	return ""
}

// detectLanguage reads the dominant fenced-code language.
func detectLanguage(content string) string {
	counts := make(map[string]int)
	for _, m := range codeFence.FindAllStringSubmatch(content, -1) {
		counts[strings.ToLower(m[1])]++
	}
	best, bestN := "", 0
	for lang, n := range counts {
		if n > bestN {
			best, bestN = lang, n
		}
	}
	return best
}

// qualityIndicator is the heuristic fallback when no AI evaluation supplied
// a score: code examples and structure raise it, staleness markers lower it.
func qualityIndicator(text string) float64 {
	lower := strings.ToLower(text)
	score := 0.5
	if strings.Contains(lower, "```") {
		score += 0.15
	}
	if containsAny(lower, "example", "examples") {
		score += 0.1
	}
	if strings.Contains(lower, "## ") || strings.Contains(lower, "# ") {
		score += 0.05
	}
	if containsAny(lower, "deprecated", "outdated", "legacy") {
		score -= 0.2
	}
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return score
}
