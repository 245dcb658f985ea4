package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/secondbrain-app/secondbrain/internal/chunk"
)

// ParsePDF extracts text page by page. Pages that fail to decode are
// skipped rather than failing the whole document; scanned PDFs routinely
// contain a few unreadable pages.
func ParsePDF(path string) (*Result, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close() //nolint:errcheck

	res := &Result{Title: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))}

	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		res.Pages = append(res.Pages, chunk.Page{Number: i, Content: text})
	}

	return res, nil
}

// ParseTextFile reads a text or markdown file from disk.
func ParseTextFile(path string) (*Result, error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from our own upload directory
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	res, err := ParseText(filepath.Base(path), f)
	if err != nil {
		return nil, err
	}
	if res.Title == "" {
		res.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return res, nil
}
