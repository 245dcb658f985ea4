package parser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/secondbrain-app/secondbrain/internal/chunk"
)

// maxFetchBytes caps how much of a remote page gets read.
const maxFetchBytes = 10 << 20 // 10MB

// fetchTimeout bounds the whole fetch including body read.
const fetchTimeout = 30 * time.Second

// FetchURL downloads a web page and extracts its readable content.
// Readability extraction is attempted first; when it cannot identify an
// article the raw visible text of the page is used instead.
func FetchURL(ctx context.Context, rawURL string) (*Result, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("invalid URL %q", rawURL)
	}

	reqCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", "secondbrain/1.0")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", parsed.Host, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: status %d", parsed.Host, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}

	if article, err := readability.FromReader(strings.NewReader(string(body)), parsed); err == nil {
		content := strings.TrimSpace(article.TextContent)
		if content != "" {
			title := strings.TrimSpace(article.Title)
			if title == "" {
				title = parsed.Host
			}
			return &Result{
				Title: title,
				Pages: []chunk.Page{{Number: 0, Content: content}},
			}, nil
		}
	}

	return extractVisibleText(parsed, string(body))
}

// extractVisibleText is the fallback for pages readability rejects:
// scripts and styles stripped, body text flattened.
func extractVisibleText(u *url.URL, html string) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = u.Host
	}

	doc.Find("script, style, noscript, nav, header, footer").Remove()
	var lines []string
	for _, line := range strings.Split(doc.Find("body").Text(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	content := strings.Join(lines, "\n")
	if content == "" {
		return nil, fmt.Errorf("no readable content at %s", u.Host)
	}

	return &Result{
		Title: title,
		Pages: []chunk.Page{{Number: 0, Content: content}},
	}, nil
}
