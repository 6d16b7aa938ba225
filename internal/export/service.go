package export

import (
	"context"
	"fmt"
	"strings"
	"time"

	"muse/api/internal/store"
)

// Service turns threads into downloadable documents.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

// Export renders the thread in the requested format.
func (s *Service) Export(ctx context.Context, t store.Thread, format Format) (*Result, error) {
	switch format {
	case FormatMarkdown:
		return &Result{
			Data:     []byte(RenderMarkdown(t)),
			Filename: sanitizeFilename(t.Title) + ".md",
			MimeType: "text/markdown; charset=utf-8",
		}, nil
	case FormatHTML:
		html, err := RenderThreadHTML(t)
		if err != nil {
			return nil, fmt.Errorf("render html: %w", err)
		}
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(t.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		html, err := RenderThreadHTML(t)
		if err != nil {
			return nil, fmt.Errorf("render html: %w", err)
		}
		return exportPDF(ctx, html, t.Title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// RenderMarkdown renders a thread as plain markdown without encoding
// markers. Entries keep chronological order; AI reflections are labelled.
func RenderMarkdown(t store.Thread) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", t.Title)
	for i, e := range t.Entries {
		if i > 0 {
			b.WriteString("\n")
		}
		label := ""
		if e.IsAI {
			label = " (AI reflection)"
		}
		fmt.Fprintf(&b, "## %s%s\n\n%s\n", formatStamp(e.CreatedAt), label, e.Content)
	}
	return b.String()
}

func formatStamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04")
}

// sanitizeFilename keeps a title usable as a download filename.
func sanitizeFilename(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('-')
		}
	}
	name := b.String()
	if len(name) > 50 {
		name = name[:50]
	}
	if name == "" {
		name = "thread"
	}
	return name
}
