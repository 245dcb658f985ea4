package parser

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestFileType(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"report.pdf", "pdf"},
		{"Report.PDF", "pdf"},
		{"notes.docx", "docx"},
		{"readme.md", "text"},
		{"notes.txt", "text"},
		{"guide.markdown", "text"},
		{"image.png", ""},
		{"noextension", ""},
	}
	for _, tt := range tests {
		if got := FileType(tt.filename); got != tt.want {
			t.Errorf("FileType(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}

func TestParseText(t *testing.T) {
	res, err := ParseText("notes.md", strings.NewReader("# My Notes\n\nSome content here."))
	if err != nil {
		t.Fatalf("ParseText: %v", err)
	}
	if res.Title != "My Notes" {
		t.Errorf("Title = %q, want heading without markers", res.Title)
	}
	if len(res.Pages) != 1 {
		t.Fatalf("got %d pages, want 1", len(res.Pages))
	}
	if res.Pages[0].Number != 0 {
		t.Errorf("Page.Number = %d, want 0 (unpaginated)", res.Pages[0].Number)
	}
	if !strings.Contains(res.Pages[0].Content, "Some content here.") {
		t.Errorf("content lost: %q", res.Pages[0].Content)
	}
}

func TestParseTextEmpty(t *testing.T) {
	res, err := ParseText("empty.txt", strings.NewReader("   \n\n  "))
	if err != nil {
		t.Fatalf("ParseText: %v", err)
	}
	if len(res.Pages) != 0 {
		t.Errorf("got %d pages for blank input, want 0", len(res.Pages))
	}
}

func TestParseFileUnsupported(t *testing.T) {
	if _, err := ParseFile("/tmp/image.png"); err == nil {
		t.Error("unsupported extension must error")
	}
}

func TestDocxToText(t *testing.T) {
	xml := `<w:p><w:r><w:t>First paragraph</w:t></w:r></w:p>` +
		`<w:p><w:r><w:t>Tab</w:t><w:tab/><w:t>separated &amp; escaped</w:t></w:r></w:p>`
	got := docxToText(xml)
	want := "First paragraph\nTab separated & escaped"
	if got != want {
		t.Errorf("docxToText:\n got %q\nwant %q", got, want)
	}
}

func TestFetchURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><head><title>Test Page</title></head>
			<body><script>ignore()</script><p>Visible paragraph text.</p></body></html>`))
	}))
	defer srv.Close()

	res, err := FetchURL(t.Context(), srv.URL)
	if err != nil {
		t.Fatalf("FetchURL: %v", err)
	}
	if len(res.Pages) != 1 {
		t.Fatalf("got %d pages, want 1", len(res.Pages))
	}
	if !strings.Contains(res.Pages[0].Content, "Visible paragraph text.") {
		t.Errorf("content = %q", res.Pages[0].Content)
	}
	if strings.Contains(res.Pages[0].Content, "ignore()") {
		t.Error("script content leaked into extracted text")
	}
}

func TestFetchURLRejectsBadScheme(t *testing.T) {
	if _, err := FetchURL(t.Context(), "ftp://example.com/x"); err == nil {
		t.Error("non-http scheme must be rejected")
	}
}

func TestFetchURLStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := FetchURL(t.Context(), srv.URL); err == nil {
		t.Error("non-200 status must error")
	}
}
