package decision

// defaultTemplates is the built-in v1.0.0 template set. Admins evolve these
// through the template CRUD surface; the seeds only apply to empty stores.
func defaultTemplates() []*PromptTemplate {
	return []*PromptTemplate{
		{
			ID:           "query-understanding-default",
			DecisionType: TypeQueryUnderstanding,
			Version:      "1.0.0",
			Text: `Analyze this documentation search query and respond with JSON only.

Query: {query}
Technology hint: {technology_hint}
Available workspaces: {workspaces}

Respond with:
{"intent": "...", "domain": "...", "answer_type": "...", "entities": [...], "suggested_workspaces": [...], "confidence": 0.0}`,
			RequiredVars: []string{"query", "workspaces"},
			OutputFormat: OutputJSON,
			Temperature:  0.2,
			MaxTokens:    512,
		},
		{
			ID:           "result-relevance-default",
			DecisionType: TypeResultRelevance,
			Version:      "1.0.0",
			Text: `Evaluate how well these search results answer the query. Respond with JSON only.

Query: {query}
Results: {results}

Respond with:
{"overall_quality": 0.0, "relevance": 0.0, "completeness": 0.0, "needs_refinement": false, "needs_external_search": false, "missing_information": [...], "suggested_refinements": [...], "recommended_providers": [...], "confidence": 0.0, "reasoning": "..."}`,
			RequiredVars: []string{"query", "results"},
			OutputFormat: OutputJSON,
			Temperature:  0.1,
			MaxTokens:    768,
		},
		{
			ID:           "query-refinement-default",
			DecisionType: TypeQueryRefinement,
			Version:      "1.0.0",
			Text: `The query below returned mediocre results. Produce a refined query. JSON only.

Query: {query}
Evaluation: {evaluation}

Respond with:
{"refined_query": "...", "strategy": "...", "added_terms": [...], "removed_terms": [...], "reasoning": "..."}`,
			RequiredVars: []string{"query", "evaluation"},
			OutputFormat: OutputJSON,
			Temperature:  0.4,
			MaxTokens:    512,
		},
		{
			ID:           "external-search-decision-default",
			DecisionType: TypeExternalSearchDecision,
			Version:      "1.0.0",
			Text: `Decide whether an external web search would improve these results. JSON only.

Query: {query}
Internal result quality: {quality}
Result count: {result_count}

Consider whether public documentation likely covers this topic, how recent the
topic is, and the expected improvement.

Respond with:
{"use_external": false, "reasoning": "...", "recommended_providers": [...], "likely_public_docs": false, "topic_recency": "...", "expected_improvement": 0.0}`,
			RequiredVars: []string{"query", "quality"},
			OutputFormat: OutputJSON,
			Temperature:  0.2,
			MaxTokens:    512,
		},
		{
			ID:           "external-search-query-default",
			DecisionType: TypeExternalSearchQuery,
			Version:      "1.0.0",
			Text: `Rewrite this query for a web search provider. JSON only.

Query: {query}
Technology hint: {technology_hint}
Provider: {provider}

Respond with:
{"query": "...", "quoted_phrases": [...], "required_terms": [...], "excluded_terms": [...], "site_restrictions": [...]}`,
			RequiredVars: []string{"query", "provider"},
			OutputFormat: OutputJSON,
			Temperature:  0.3,
			MaxTokens:    512,
		},
		{
			ID:           "content-extraction-default",
			DecisionType: TypeContentExtraction,
			Version:      "1.0.0",
			Text: `Extract the documentation content from this page. Keep code blocks
verbatim, strip navigation and boilerplate, output clean markdown.

URL: {source_url}
Raw content:
{raw_content}`,
			RequiredVars: []string{"raw_content"},
			OutputFormat: OutputMarkdown,
			Temperature:  0.1,
			MaxTokens:    4096,
		},
		{
			ID:           "response-format-default",
			DecisionType: TypeResponseFormatSelection,
			Version:      "1.0.0",
			Text: `Synthesize an answer to the query from these excerpts. Cite every
claim with its content_id. JSON only.

Query: {query}
Excerpts: {excerpts}

Respond with:
{"response_type": "answer", "answer": "...", "citations": [{"content_id": "...", "title": "...", "source_url": "..."}], "reasoning": "..."}`,
			RequiredVars: []string{"query", "excerpts"},
			OutputFormat: OutputJSON,
			Temperature:  0.3,
			MaxTokens:    2048,
		},
		{
			ID:           "learning-opportunities-default",
			DecisionType: TypeLearningOpportunities,
			Version:      "1.0.0",
			Text: `Identify documentation gaps revealed by this search. JSON only.

Query: {query}
Evaluation: {evaluation}

Respond with a JSON array:
[{"gap": "...", "priority": "high|medium|low", "source_suggestions": [...], "workspace": "..."}]`,
			RequiredVars: []string{"query", "evaluation"},
			OutputFormat: OutputJSON,
			Temperature:  0.4,
			MaxTokens:    768,
		},
		{
			ID:           "provider-selection-default",
			DecisionType: TypeProviderSelection,
			Version:      "1.0.0",
			Text: `Pick the best external search provider for this query. JSON only.

Query: {query}
Provider stats: {provider_stats}

Respond with:
{"provider": "...", "reasoning": "...", "confidence": 0.0, "alternative": "..."}`,
			RequiredVars: []string{"query", "provider_stats"},
			OutputFormat: OutputJSON,
			Temperature:  0.2,
			MaxTokens:    256,
		},
		{
			ID:           "failure-analysis-default",
			DecisionType: TypeFailureAnalysis,
			Version:      "1.0.0",
			Text: `This documentation search produced no usable results. Explain why and
suggest what the user could do. JSON only.

Query: {query}
Workspaces searched: {workspaces}
Errors: {errors}

Respond with:
{"reasons": [...], "query_issues": [...], "missing_domains": [...], "technical_limitations": [...], "user_message": "..."}`,
			RequiredVars: []string{"query"},
			OutputFormat: OutputJSON,
			Temperature:  0.3,
			MaxTokens:    768,
		},
	}
}
