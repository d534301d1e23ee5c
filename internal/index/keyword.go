// Package index provides artifact search index implementations: a vector
// index backed by chromem-go and an in-memory keyword index used as the
// default when no embedder is configured.
package index

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode"
)

type keywordDoc struct {
	terms map[string]int
	size  int
}

// Keyword ranks documents by normalized term overlap with the query. It is
// the lexical half of the hybrid search the artifact store contract allows,
// and the default index for tests and embedder-less deployments.
type Keyword struct {
	mu   sync.RWMutex
	docs map[string]keywordDoc
}

// NewKeyword returns an empty keyword index.
func NewKeyword() *Keyword {
	return &Keyword{docs: map[string]keywordDoc{}}
}

// Upsert replaces the indexed terms for artifactID. Metadata string values
// are indexed alongside the body so tag lookups work.
func (k *Keyword) Upsert(_ context.Context, artifactID, body string, metadata map[string]string) error {
	var builder strings.Builder
	builder.WriteString(body)
	for _, value := range metadata {
		builder.WriteByte(' ')
		builder.WriteString(value)
	}
	terms := tokenize(builder.String())
	size := 0
	for _, count := range terms {
		size += count
	}
	k.mu.Lock()
	k.docs[artifactID] = keywordDoc{terms: terms, size: size}
	k.mu.Unlock()
	return nil
}

// Search returns up to limit artifact ids ranked by overlap score.
func (k *Keyword) Search(_ context.Context, text string, limit int) ([]string, error) {
	query := tokenize(text)
	if len(query) == 0 || limit <= 0 {
		return nil, nil
	}
	type scored struct {
		id    string
		score float64
	}
	k.mu.RLock()
	matches := make([]scored, 0, len(k.docs))
	for id, doc := range k.docs {
		if doc.size == 0 {
			continue
		}
		hits := 0
		for term := range query {
			hits += doc.terms[term]
		}
		if hits == 0 {
			continue
		}
		matches = append(matches, scored{id: id, score: float64(hits) / float64(doc.size)})
	}
	k.mu.RUnlock()
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score == matches[j].score {
			return matches[i].id < matches[j].id
		}
		return matches[i].score > matches[j].score
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.id
	}
	return ids, nil
}

func tokenize(text string) map[string]int {
	terms := map[string]int{}
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, field := range fields {
		if len(field) < 2 {
			continue
		}
		terms[field]++
	}
	return terms
}
