package memory

import (
	"math"
	"strings"
)

// Scorer computes a relevance score in [0,1] for a memory's content against
// a query string. Score returns 0 for no relevance, which Query evaluation
// treats as exclusion (spec §4.2). Implementations may plug in a real
// embedding-backed scorer behind this interface (spec §9 Open Questions);
// DefaultScorer implements the documented lexical-overlap baseline.
type Scorer interface {
	Score(content, query string) float64
}

// DefaultScorer implements spec §4.2's baseline "semantic" search: a
// case-insensitive whole-phrase match scores 1.0, otherwise the score is the
// fraction of query tokens present in content.
type DefaultScorer struct{}

// Score implements Scorer.
func (DefaultScorer) Score(content, query string) float64 {
	content = strings.ToLower(strings.TrimSpace(content))
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return 0
	}
	if strings.Contains(content, query) {
		return 1.0
	}
	tokens := strings.Fields(query)
	if len(tokens) == 0 {
		return 0
	}
	present := 0
	for _, tok := range tokens {
		if strings.Contains(content, tok) {
			present++
		}
	}
	return float64(present) / float64(len(tokens))
}

// CosineSimilarity computes the cosine similarity of two equal-length
// vectors, returning 0 when either vector has zero magnitude or the
// dimensions mismatch (used by the Similar predicate, spec §4.2).
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// jaccardSimilarity computes word-set Jaccard similarity between two texts,
// used by the Memory Manager's long-term conflict-resolution merge rule
// (spec §4.2 "Long-term conflict resolution").
func jaccardSimilarity(a, b string) float64 {
	setA := toWordSet(a)
	setB := toWordSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func toWordSet(s string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
