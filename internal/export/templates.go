package export

import (
	"bytes"
	"html/template"
	"time"

	"muse/api/internal/store"
)

var threadTemplate = template.Must(template.New("thread").Funcs(template.FuncMap{
	"formatStamp": func(t time.Time) string {
		return t.UTC().Format("Jan 2, 2006 15:04")
	},
}).Parse(threadTemplateText))

// RenderThreadHTML renders one thread as a standalone HTML page.
func RenderThreadHTML(t store.Thread) (string, error) {
	var buf bytes.Buffer
	if err := threadTemplate.Execute(&buf, t); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const threadTemplateText = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Georgia, serif; line-height: 1.6; max-width: 700px; margin: 2rem auto; color: #222; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .entry { margin: 1.5rem 0; }
    .entry .stamp { color: #888; font-size: 0.85em; margin-bottom: 0.25rem; }
    .entry.ai { background: #f4f6fa; border-left: 3px solid #6a8caf; padding: 0.75rem 1rem; }
    .entry .content { white-space: pre-wrap; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">Started {{formatStamp .CreatedAt}}</div>
  {{range .Entries}}
  <div class="entry{{if .IsAI}} ai{{end}}">
    <div class="stamp">{{formatStamp .CreatedAt}}{{if .IsAI}} &middot; AI reflection{{end}}</div>
    <div class="content">{{.Content}}</div>
  </div>
  {{end}}
</body>
</html>`
