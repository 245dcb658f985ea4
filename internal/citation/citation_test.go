package citation

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/secondbrain-app/secondbrain/internal/knowledge"
)

func sampleResults(n int) []knowledge.SearchResult {
	results := make([]knowledge.SearchResult, n)
	for i := range results {
		results[i] = knowledge.SearchResult{
			ChunkID:       uuid.New(),
			DocumentID:    uuid.New(),
			DocumentTitle: fmt.Sprintf("Doc %d", i+1),
			Content:       fmt.Sprintf("content of chunk %d", i+1),
			Similarity:    0.873,
		}
	}
	return results
}

func TestBuildContextBlock(t *testing.T) {
	block, m := Build(sampleResults(2))

	if !strings.Contains(block, "1. [Source: Doc 1] (Similarity: 87.3%)\ncontent of chunk 1") {
		t.Errorf("first entry malformed:\n%s", block)
	}
	if !strings.Contains(block, "2. [Source: Doc 2] (Similarity: 87.3%)\ncontent of chunk 2") {
		t.Errorf("second entry malformed:\n%s", block)
	}
	if m.Len() != 2 {
		t.Errorf("map has %d entries, want 2", m.Len())
	}

	e, ok := m.Lookup(1)
	if !ok || e.Title != "Doc 1" {
		t.Errorf("Lookup(1) = (%+v, %v)", e, ok)
	}
	if _, ok := m.Lookup(3); ok {
		t.Error("Lookup(3) should miss")
	}
}

func TestBuildEmpty(t *testing.T) {
	block, m := Build(nil)
	if block != "" || m.Len() != 0 {
		t.Errorf("Build(nil) = (%q, %d entries), want empty", block, m.Len())
	}
}

func TestRewriteBasic(t *testing.T) {
	results := sampleResults(1)
	_, m := Build(results)

	got := m.Rewrite("Paris is the capital[1].")
	want := fmt.Sprintf(`Paris is the capital[1](secondbrain://documents/%s/chunks/%s "Doc 1").`,
		results[0].DocumentID, results[0].ChunkID)
	if got != want {
		t.Errorf("Rewrite:\n got %q\nwant %q", got, want)
	}
}

func TestRewriteUnknownOrdinalLeftVerbatim(t *testing.T) {
	_, m := Build(sampleResults(3))

	in := "Known[2] but hallucinated[7]."
	got := m.Rewrite(in)
	if !strings.Contains(got, "hallucinated[7].") {
		t.Errorf("unknown ordinal rewritten: %q", got)
	}
	if !strings.Contains(got, "[2](secondbrain://documents/") {
		t.Errorf("known ordinal not rewritten: %q", got)
	}
}

func TestRewriteIdempotent(t *testing.T) {
	_, m := Build(sampleResults(3))

	inputs := []string{
		"One citation[1].",
		"Two[1] citations[2], one unknown[9].",
		"Adjacent[1][2] markers.",
		"No citations at all.",
		"Bracketed number [12] beyond the map.",
	}
	for _, in := range inputs {
		once := m.Rewrite(in)
		twice := m.Rewrite(once)
		if once != twice {
			t.Errorf("not idempotent for %q:\n once %q\ntwice %q", in, once, twice)
		}
	}
}

func TestRewriteIdempotentWithBracketedTitle(t *testing.T) {
	results := sampleResults(2)
	results[0].DocumentTitle = "Meeting notes [2]"
	_, m := Build(results)

	once := m.Rewrite("Fact[1].")
	if !strings.Contains(once, `"Meeting notes (2)"`) {
		t.Errorf("bracketed number in title not neutralized: %q", once)
	}
	twice := m.Rewrite(once)
	if once != twice {
		t.Errorf("not idempotent with bracketed title:\n once %q\ntwice %q", once, twice)
	}
}

func TestRewritePageInTooltip(t *testing.T) {
	results := sampleResults(1)
	results[0].Metadata.Page = 4
	_, m := Build(results)

	got := m.Rewrite("See[1].")
	if !strings.Contains(got, `"Doc 1, p. 4"`) {
		t.Errorf("tooltip missing page: %q", got)
	}
}

func TestRewriteQuotesInTitle(t *testing.T) {
	results := sampleResults(1)
	results[0].DocumentTitle = `The "Deep" Notes`
	_, m := Build(results)

	got := m.Rewrite("See[1].")
	if !strings.Contains(got, `"The 'Deep' Notes"`) {
		t.Errorf("quotes not sanitized in tooltip: %q", got)
	}
}

func TestEntriesOrdered(t *testing.T) {
	_, m := Build(sampleResults(3))
	entries := m.Entries()
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	for i, e := range entries {
		if e.Ordinal != i+1 {
			t.Errorf("entries[%d].Ordinal = %d, want %d", i, e.Ordinal, i+1)
		}
	}
}
