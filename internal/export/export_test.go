package export

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"muse/api/internal/ideadoc"
	"muse/api/internal/store"
)

func sampleThread() store.Thread {
	return store.Thread{
		ID:        "2024/01/2024-01-15-morning-walk-aaaa1111.md",
		Title:     "morning walk",
		CreatedAt: time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC),
		Entries: []ideadoc.Entry{
			{ID: "e1", CreatedAt: time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC), Content: "Saw a heron by the canal."},
			{ID: "e2", CreatedAt: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), Content: "Herons hunt alone.", IsAI: true},
		},
	}
}

func TestRenderMarkdown(t *testing.T) {
	got := RenderMarkdown(sampleThread())

	if !strings.HasPrefix(got, "# morning walk\n\n") {
		t.Fatalf("missing title heading:\n%s", got)
	}
	if !strings.Contains(got, "## 2024-01-15 09:00\n\nSaw a heron by the canal.\n") {
		t.Fatalf("missing first entry:\n%s", got)
	}
	if !strings.Contains(got, "## 2024-01-15 10:30 (AI reflection)\n\nHerons hunt alone.\n") {
		t.Fatalf("missing labelled AI entry:\n%s", got)
	}
	if strings.Contains(got, "[//]: #") {
		t.Fatalf("markers leaked into export:\n%s", got)
	}
}

func TestRenderThreadHTML(t *testing.T) {
	html, err := RenderThreadHTML(sampleThread())
	if err != nil {
		t.Fatalf("RenderThreadHTML() error = %v", err)
	}
	if !strings.Contains(html, "<title>morning walk</title>") {
		t.Fatalf("missing title:\n%s", html)
	}
	if !strings.Contains(html, "Saw a heron by the canal.") {
		t.Fatalf("missing entry content:\n%s", html)
	}
	if !strings.Contains(html, `class="entry ai"`) {
		t.Fatalf("AI entry not marked:\n%s", html)
	}
}

func TestExportFormats(t *testing.T) {
	svc := NewService()
	ctx := context.Background()

	res, err := svc.Export(ctx, sampleThread(), FormatMarkdown)
	if err != nil {
		t.Fatalf("markdown export error = %v", err)
	}
	if res.Filename != "morning-walk.md" || res.MimeType != "text/markdown; charset=utf-8" {
		t.Fatalf("markdown result = %q, %q", res.Filename, res.MimeType)
	}

	res, err = svc.Export(ctx, sampleThread(), FormatHTML)
	if err != nil {
		t.Fatalf("html export error = %v", err)
	}
	if res.Filename != "morning-walk.html" {
		t.Fatalf("html filename = %q", res.Filename)
	}

	if _, err := svc.Export(ctx, sampleThread(), Format("epub")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("unsupported format error = %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat(""); err != nil || f != FormatMarkdown {
		t.Fatalf("default format = %v, %v", f, err)
	}
	if f, err := ParseFormat("pdf"); err != nil || f != FormatPDF {
		t.Fatalf("pdf format = %v, %v", f, err)
	}
	if _, err := ParseFormat("docx"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("docx error = %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	if got := sanitizeFilename("A walk: dawn/dusk?"); got != "A-walk-dawndusk" {
		t.Fatalf("sanitized = %q", got)
	}
	if got := sanitizeFilename("???"); got != "thread" {
		t.Fatalf("fallback = %q", got)
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	got := percentEncodeForDataURL("a b&c")
	if got != "a%20b%26c" {
		t.Fatalf("encoded = %q", got)
	}
}
