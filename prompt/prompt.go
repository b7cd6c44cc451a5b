// Package prompt holds the default system prompts for each text-generation
// task in the pipeline. Callers substitute {{placeholders}} before use.
package prompt

import "strings"

// Render substitutes {{name}} placeholders with the provided values.
func Render(tmpl string, vars map[string]string) string {
	out := tmpl
	for name, value := range vars {
		out = strings.ReplaceAll(out, "{{"+name+"}}", value)
	}
	return out
}

// QueryAnalyze classifies the rewrite strategy for a raw query.
const QueryAnalyze = `You analyze knowledge-base search queries before retrieval. Classify the query into exactly one rewrite strategy and return JSON only matching {"strategy":"no_change|expansion|relaxation","confidence":0.0,"reason":"..."}.
Rules:
- "no_change": the query is already specific and well scoped for retrieval.
- "expansion": the query is terse or uses narrow vocabulary; broader synonyms or related terms would improve recall.
- "relaxation": the query carries overly specific constraints (exact dates, versions, qualifiers) that will suppress relevant results.
- "confidence" reflects how certain the classification is, between 0 and 1.`

// QueryExpand broadens a query with synonyms and related terms.
const QueryExpand = `You rewrite knowledge-base search queries for better recall. Broaden the query by injecting synonyms and closely related terms while preserving its intent. Return JSON only: {"rewritten_query":"..."}.
Keep the rewritten query a single line, under 30 words, in the same language as the input.`

// QueryRelax removes overly specific constraints from a query.
const QueryRelax = `You rewrite knowledge-base search queries for better recall. Remove overly specific constraints (exact dates, version numbers, narrow qualifiers) while preserving the core information need. Return JSON only: {"rewritten_query":"..."}.
Keep the rewritten query a single line, in the same language as the input.`

// IntentExtract decides whether to decompose a query into sub-queries.
const IntentExtract = `You analyze whether a knowledge-base question should be split into independent sub-questions before retrieval. Known document names may hint at how content is partitioned:
{{documents}}
Return JSON only matching {"should_decompose":false,"sub_queries":["..."],"updated_query":"..."}.
Rules:
- Decompose only when the question genuinely asks for several independent facts that are unlikely to co-occur in one passage.
- Emit at most {{max_sub_queries}} sub-queries; each must be answerable on its own.
- "updated_query" is the original question, lightly cleaned; never change its meaning.`

// KeywordGenerate emits alternative keyword sets for file discovery.
const KeywordGenerate = `You generate search keyword sets for locating relevant files in a knowledge base. Produce up to {{max_sets}} alternative keyword sets for the question, each attacking the topic from a different angle (core terms, synonyms, domain jargon).
Return a JSON array of string arrays only, for example: [["term a","term b"],["synonym a","synonym b"]].`

// AnswerExtract extracts an answer from retrieved segments.
const AnswerExtract = `You extract answers from retrieved knowledge-base content. Using only the supplied segments, answer the question precisely and concisely.
Rules:
- Quote numbers, names, and definitions exactly as they appear in the segments.
- If the segments do not contain the answer, reply with exactly "N/A".
- Respond in the same language as the question.`

// StructuredSummarize merges multiple candidate answers into one.
const StructuredSummarize = `You merge several candidate answers to the same question into a single coherent answer. Prefer specific, well-sourced statements; drop duplicates and contradictions that lack support. Do not invent information that appears in no candidate.
Respond with the merged answer text only, in the language of the question.`

// AnswerRefine rewrites an answer using evaluator feedback.
const AnswerRefine = `You improve an answer to a question using evaluator feedback. Rewrite the answer so it addresses every point of feedback while staying faithful to the sources already cited. Do not introduce information absent from the previous answer or the candidate material.
Respond with the improved answer text only, in the language of the question.`

// ReflectionEvaluate scores an answer against its sources.
const ReflectionEvaluate = `You evaluate the quality of an answer against the question and the retrieved sources. Score each dimension between 0 and 1 and return JSON only matching {"completeness":0.0,"accuracy":0.0,"clarity":0.0,"relevance":0.0,"confidence":0.0,"feedback":"...","refinement_suggestions":["..."]}.
Dimensions:
- completeness: does the answer cover everything the question asks for?
- accuracy: is every claim supported by the sources?
- clarity: is the answer well organised and unambiguous?
- relevance: does the answer stay on the question?
- confidence: how well do the sources support the answer overall?
"feedback" is a short diagnosis; "refinement_suggestions" are concrete edits that would raise the scores.`
