// Package ingest implements the TTL-aware ingestion path: document
// classification, TTL computation, metadata extraction, and persistence of
// pending records for the external indexing pipeline.
package ingest

import (
	"strings"

	"github.com/docsift/docsift/core"
)

// classRule maps marker phrases to a content type. Order matters: the first
// matching rule wins, so the more specific types come first.
type classRule struct {
	contentType core.ContentType
	markers     []string
}

var classRules = []classRule{
	{core.ContentChangelog, []string{"changelog", "release notes", "what's new", "breaking changes"}},
	{core.ContentGettingStarted, []string{"getting started", "quickstart", "quick start", "first steps"}},
	{core.ContentInstallation, []string{"install", "installation", "setup guide", "prerequisites"}},
	{core.ContentAPI, []string{"api reference", "api documentation", "endpoint", "rest api", "graphql", "openapi"}},
	{core.ContentReference, []string{"reference", "specification", "configuration options", "cli reference"}},
	{core.ContentTutorial, []string{"tutorial", "walkthrough", "step by step", "step-by-step", "how to build"}},
	{core.ContentGuide, []string{"guide", "best practices", "how to", "handbook", "cookbook"}},
	{core.ContentNews, []string{"announcing", "announcement", "released today", "now available"}},
	{core.ContentBlog, []string{"blog", "posted by", "opinions", "thoughts on"}},
}

// Classify derives the document type from title and content heuristics.
// Title matches outweigh body matches; an unmatched document is general.
func Classify(title, content string) core.ContentType {
	titleLower := strings.ToLower(title)
	for _, rule := range classRules {
		for _, marker := range rule.markers {
			if strings.Contains(titleLower, marker) {
				return rule.contentType
			}
		}
	}

	// Body scan only looks at the head of the document; markers deep in the
	// text say little about the document as a whole.
	head := strings.ToLower(content)
	if len(head) > 2000 {
		head = head[:2000]
	}
	for _, rule := range classRules {
		for _, marker := range rule.markers {
			if strings.Contains(head, marker) {
				return rule.contentType
			}
		}
	}
	return core.ContentGeneral
}
