// Package chunk splits text into overlapping pieces sized for embedding.
//
// Splitting is rune-based so multi-byte text never gets cut mid-character.
// Each piece records its exact half-open rune span [Start, End) in the
// source, which makes the split reversible: concatenating pieces with the
// overlapping prefix of each successor removed reproduces the source.
package chunk

import (
	"strings"

	"github.com/google/uuid"
)

// Separator priority for choosing cut points, highest first. When no
// separator occurs inside the window the chunk is cut hard at the size
// limit.
var separators = []string{"\n\n", "\n", " "}

// Piece is one chunk of a split source.
type Piece struct {
	Content string
	Index   int // 0-based position in the split sequence
	Page    int // 1-based source page, 0 when the source has no pages
	Start   int // rune offset of the first rune in the source
	End     int // rune offset one past the last rune

	// MessageIDs lists the conversation messages whose text overlaps this
	// piece. Only set by SplitMessages.
	MessageIDs []uuid.UUID
}

// Page is a unit of paginated source text (PDF pages, DOCX sections).
type Page struct {
	Number  int // 1-based
	Content string
}

// SourceMessage is a conversation turn to be flattened into chunks.
type SourceMessage struct {
	ID      uuid.UUID
	Role    string
	Content string
}

// Splitter produces overlapping chunks of at most Size runes, with
// consecutive chunks sharing up to Overlap runes.
type Splitter struct {
	Size    int
	Overlap int
}

// NewSplitter returns a Splitter. Size must be positive and Overlap must
// be in [0, Size); out-of-range values fall back to the nearest legal one.
func NewSplitter(size, overlap int) *Splitter {
	if size < 1 {
		size = 1
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}
	return &Splitter{Size: size, Overlap: overlap}
}

// Split splits content into pieces. Empty input yields no pieces.
func (s *Splitter) Split(content string) []Piece {
	return s.split(content, 0, 0)
}

// SplitPages splits each page independently so no chunk straddles a page
// boundary. Piece indices are continuous across pages; Start/End offsets
// are relative to each page.
func (s *Splitter) SplitPages(pages []Page) []Piece {
	var out []Piece
	index := 0
	for _, p := range pages {
		pieces := s.split(p.Content, index, p.Number)
		index += len(pieces)
		out = append(out, pieces...)
	}
	return out
}

// SplitMessages flattens a conversation into a transcript, splits it, and
// annotates each piece with the IDs of the messages whose text overlaps
// the piece's span.
func (s *Splitter) SplitMessages(messages []SourceMessage) []Piece {
	type span struct {
		id         uuid.UUID
		start, end int
	}

	var b strings.Builder
	spans := make([]span, 0, len(messages))
	offset := 0
	for _, m := range messages {
		line := m.Role + ": " + m.Content + "\n\n"
		n := len([]rune(line))
		spans = append(spans, span{id: m.ID, start: offset, end: offset + n})
		b.WriteString(line)
		offset += n
	}

	pieces := s.split(b.String(), 0, 0)
	for i := range pieces {
		p := &pieces[i]
		for _, sp := range spans {
			// Half-open interval overlap
			if sp.start < p.End && p.Start < sp.end {
				p.MessageIDs = append(p.MessageIDs, sp.id)
			}
		}
	}
	return pieces
}

func (s *Splitter) split(content string, firstIndex, page int) []Piece {
	runes := []rune(content)
	if len(runes) == 0 {
		return nil
	}

	var pieces []Piece
	start := 0
	index := firstIndex
	for start < len(runes) {
		end := start + s.Size
		cut := len(runes)
		if end < len(runes) {
			cut = findCut(runes, start, end)
		}

		pieces = append(pieces, Piece{
			Content: string(runes[start:cut]),
			Index:   index,
			Page:    page,
			Start:   start,
			End:     cut,
		})
		index++

		if cut >= len(runes) {
			break
		}

		// Step back by the overlap, but always move forward: a cut close
		// to start would otherwise loop.
		next := cut - s.Overlap
		if next <= start {
			next = cut
		}
		start = next
	}
	return pieces
}

// findCut picks the cut position inside (start, end]. It prefers the
// latest occurrence of the highest-priority separator, keeping the
// separator in the earlier chunk; with no separator it cuts hard at end.
func findCut(runes []rune, start, end int) int {
	for _, sep := range separators {
		sepRunes := []rune(sep)
		for i := end; i-len(sepRunes) > start; i-- {
			if matchAt(runes, i-len(sepRunes), sepRunes) {
				return i
			}
		}
	}
	return end
}

func matchAt(runes []rune, pos int, sep []rune) bool {
	for i, r := range sep {
		if runes[pos+i] != r {
			return false
		}
	}
	return true
}
