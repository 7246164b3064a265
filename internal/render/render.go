// Package render turns page data into HTML with html/template.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/szaher/repoview/internal/templates"
)

// Renderer executes one template set. Output depends only on the data
// passed in, never on the clock or map order.
type Renderer struct {
	tmpl *template.Template
}

// New parses every required template from fsys.
func New(fsys fs.FS) (*Renderer, error) {
	tmpl, err := template.New("repoview").Funcs(funcs).ParseFS(fsys, templates.Required...)
	if err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render executes templateID with data into w. Nothing is written to w
// when execution fails.
func (r *Renderer) Render(w io.Writer, templateID string, data any) error {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, templateID, data); err != nil {
		return fmt.Errorf("executing %s: %w", templateID, err)
	}
	_, err := buf.WriteTo(w)
	return err
}

// String renders templateID and returns the result.
func (r *Renderer) String(templateID string, data any) (string, error) {
	var sb strings.Builder
	if err := r.Render(&sb, templateID, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}

var funcs = template.FuncMap{
	"date": func(unix int64) string {
		return time.Unix(unix, 0).UTC().Format("2006-01-02")
	},
	"datetime": func(unix int64) string {
		return time.Unix(unix, 0).UTC().Format("2006-01-02 15:04:05 UTC")
	},
	"lines": func(s string) []string {
		return strings.Split(strings.TrimRight(s, "\n"), "\n")
	},
}
