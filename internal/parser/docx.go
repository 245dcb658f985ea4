package parser

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nguyenthenguyen/docx"

	"github.com/secondbrain-app/secondbrain/internal/chunk"
)

var (
	docxParagraphEnd = regexp.MustCompile(`</w:p>`)
	docxTabOrBreak   = regexp.MustCompile(`<w:(?:tab|br)[^>]*/?>`)
	xmlTag           = regexp.MustCompile(`<[^>]+>`)
)

// ParseDOCX extracts the document body as one unpaginated page. DOCX has
// no fixed page boundaries before layout, so no page numbers are claimed.
func ParseDOCX(path string) (*Result, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening docx: %w", err)
	}
	defer r.Close() //nolint:errcheck

	content := docxToText(r.Editable().GetContent())
	res := &Result{Title: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))}
	if content != "" {
		res.Pages = []chunk.Page{{Number: 0, Content: content}}
	}
	return res, nil
}

// docxToText flattens WordprocessingML to plain text: paragraph ends
// become newlines, tabs and breaks become whitespace, remaining markup is
// stripped.
func docxToText(xml string) string {
	text := docxParagraphEnd.ReplaceAllString(xml, "\n")
	text = docxTabOrBreak.ReplaceAllString(text, " ")
	text = xmlTag.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	text = strings.ReplaceAll(text, "&quot;", `"`)
	text = strings.ReplaceAll(text, "&apos;", "'")

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
