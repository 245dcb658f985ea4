// Package citation maps retrieved chunks to the numbered citations a
// model emits and rewrites those markers into resolvable links.
//
// Retrieval results are numbered 1..n in rank order. The numbered context
// block shown to the model and the citation map are built together, so an
// ordinal in the answer always resolves to the chunk the model actually
// saw under that number.
package citation

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/secondbrain-app/secondbrain/internal/knowledge"
)

// Entry resolves one citation ordinal.
type Entry struct {
	Ordinal    int       `json:"ordinal"`
	ChunkID    uuid.UUID `json:"chunk_id"`
	DocumentID uuid.UUID `json:"document_id"`
	Title      string    `json:"title"`
	Page       int       `json:"page,omitempty"`
	Similarity float64   `json:"similarity"`
	Fallback   bool      `json:"fallback"`
}

// Map resolves ordinals to their source chunks.
type Map struct {
	entries map[int]Entry
}

// Build numbers results in order and returns the context block for the
// prompt together with the matching citation map. Each block entry reads:
//
//	1. [Source: Title] (Similarity: 87.3%)
//	chunk content
func Build(results []knowledge.SearchResult) (string, Map) {
	m := Map{entries: make(map[int]Entry, len(results))}
	if len(results) == 0 {
		return "", m
	}

	var b strings.Builder
	for i, r := range results {
		ordinal := i + 1
		m.entries[ordinal] = Entry{
			Ordinal:    ordinal,
			ChunkID:    r.ChunkID,
			DocumentID: r.DocumentID,
			Title:      r.DocumentTitle,
			Page:       r.Metadata.Page,
			Similarity: r.Similarity,
			Fallback:   r.Fallback,
		}

		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "%d. [Source: %s] (Similarity: %.1f%%)\n%s",
			ordinal, r.DocumentTitle, r.Similarity*100, r.Content)
	}
	return b.String(), m
}

// Lookup resolves an ordinal.
func (m Map) Lookup(ordinal int) (Entry, bool) {
	e, ok := m.entries[ordinal]
	return e, ok
}

// Entries returns all entries in ordinal order.
func (m Map) Entries() []Entry {
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out
}

// Len reports the number of entries.
func (m Map) Len() int { return len(m.entries) }

// citationPattern matches a bracketed ordinal, capturing a following "("
// when present. A match ending in "(" is an already-rewritten link and is
// left alone, which is what makes Rewrite idempotent (RE2 has no
// lookahead, so the parenthesis is matched instead of asserted).
var citationPattern = regexp.MustCompile(`\[[0-9]+\]\(?`)

// Rewrite turns bare [n] markers into markdown links targeting the cited
// chunk:
//
//	[1](secondbrain://documents/<doc_id>/chunks/<chunk_id> "Title")
//
// Ordinals with no map entry are left verbatim; models occasionally
// hallucinate citation numbers and a dead marker is better than a dead
// link. Rewrite is idempotent: running it over already rewritten text
// changes nothing.
func (m Map) Rewrite(answer string) string {
	return citationPattern.ReplaceAllStringFunc(answer, func(match string) string {
		if strings.HasSuffix(match, "(") {
			return match
		}
		ordinal, err := strconv.Atoi(match[1 : len(match)-1])
		if err != nil {
			return match
		}
		e, ok := m.entries[ordinal]
		if !ok {
			return match
		}
		return fmt.Sprintf("%s(secondbrain://documents/%s/chunks/%s %q)",
			match, e.DocumentID, e.ChunkID, e.tooltip())
	})
}

// bracketedNumber matches a bracketed number inside a document title.
// Left verbatim in a tooltip it would look like a citation marker to a
// later Rewrite pass and get a link nested inside the link, so tooltips
// carry it as "(n)" instead.
var bracketedNumber = regexp.MustCompile(`\[([0-9]+)\]`)

func (e Entry) tooltip() string {
	title := strings.ReplaceAll(e.Title, `"`, "'")
	title = bracketedNumber.ReplaceAllString(title, "($1)")
	if e.Page > 0 {
		return fmt.Sprintf("%s, p. %d", title, e.Page)
	}
	return title
}
