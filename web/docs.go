// ABOUTME: Renders a target's README.md as an HTML docs page.
// ABOUTME: Markdown conversion goes through goldmark; missing docs are a 404, not an error.
package web

import (
	"bytes"
	"html/template"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/yuin/goldmark"
)

var docsPage = template.Must(template.New("docs").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>{{.Title}} — appview</title>
  <style>
    body { font-family: -apple-system, sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; line-height: 1.5; }
    pre { background: #f4f4f4; padding: 0.75rem; overflow-x: auto; }
    code { font-family: ui-monospace, monospace; }
  </style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// handleDocs renders the target's README.md as HTML.
func (s *Server) handleDocs(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "targetID")
	if !validDocsTarget(targetID) {
		http.Error(w, "invalid target id", http.StatusBadRequest)
		return
	}

	readme := filepath.Join(s.targetsRoot, targetID, "README.md")
	source, err := os.ReadFile(readme)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "no docs for target "+targetID, http.StatusNotFound)
			return
		}
		log.Printf("web: reading docs target=%s: %v", targetID, err)
		http.Error(w, "docs unreadable", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := goldmark.New().Convert(source, &buf); err != nil {
		log.Printf("web: rendering docs target=%s: %v", targetID, err)
		http.Error(w, "docs unrenderable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := docsPage.Execute(w, struct {
		Title string
		Body  template.HTML
	}{
		Title: targetID,
		Body:  template.HTML(buf.String()),
	}); err != nil {
		log.Printf("web: writing docs page: %v", err)
	}
}

// validDocsTarget rejects path traversal in target IDs before they touch the
// filesystem.
func validDocsTarget(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	if strings.ContainsAny(id, `/\`) {
		return false
	}
	return filepath.Clean(id) == id
}
