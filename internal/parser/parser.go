// Package parser extracts plain text from ingestible sources: PDF and
// DOCX files, plain text and markdown, and web pages. Output is paginated
// where the source has pages so chunk metadata can cite a page number.
package parser

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/secondbrain-app/secondbrain/internal/chunk"
)

// ErrUnsupportedType indicates the file extension has no parser.
var ErrUnsupportedType = errors.New("unsupported file type")

// Result is the extracted content of one source.
type Result struct {
	Title string       // best-effort title, may be empty
	Pages []chunk.Page // at least one page when content is non-empty
}

// FileType normalizes a filename to its parser type ("pdf", "docx",
// "text") or "" when unsupported.
func FileType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "pdf"
	case ".docx":
		return "docx"
	case ".txt", ".md", ".markdown":
		return "text"
	default:
		return ""
	}
}

// ParseFile extracts text from a file on disk, dispatching on extension.
func ParseFile(path string) (*Result, error) {
	switch FileType(path) {
	case "pdf":
		return ParsePDF(path)
	case "docx":
		return ParseDOCX(path)
	case "text":
		return ParseTextFile(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, filepath.Ext(path))
	}
}

// ParseText wraps already-loaded plain text as a single unpaginated page.
// The first non-empty line becomes the title.
func ParseText(name string, r io.Reader) (*Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}

	content := strings.TrimSpace(string(data))
	res := &Result{Title: titleFromContent(content)}
	if content != "" {
		res.Pages = []chunk.Page{{Number: 0, Content: content}}
	}
	return res, nil
}

// titleFromContent derives a title from the first non-empty line,
// stripping markdown heading markers.
func titleFromContent(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
		if line != "" {
			runes := []rune(line)
			if len(runes) > 80 {
				return string(runes[:80])
			}
			return line
		}
	}
	return ""
}
