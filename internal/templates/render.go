// Package templates handles HTML fragment rendering for Datastar SSE responses.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"sync"

	"github.com/m-mizutani/goerr/v2"

	"github.com/joeblew999/plat-forest/internal/risk"
)

//go:embed fragments/*.html
var embedded embed.FS

// funcMap provides common template functions.
var funcMap = template.FuncMap{
	"hectares": func(m2 float64) string {
		return fmt.Sprintf("%.1f ha", risk.RoundTo(risk.Hectares(m2), 1))
	},
	"pct": func(v float64) string {
		return fmt.Sprintf("%.1f%%", risk.RoundTo(v, 1))
	},
}

// Renderer manages HTML fragment templates.
type Renderer struct {
	templates *template.Template
	mu        sync.RWMutex
}

// New creates a renderer. An empty fragmentsDir uses the built-in fragments;
// otherwise *.html files are loaded from that directory.
func New(fragmentsDir string) (*Renderer, error) {
	tmpl, err := parse(fragmentsDir)
	if err != nil {
		return nil, err
	}
	return &Renderer{templates: tmpl}, nil
}

func parse(fragmentsDir string) (*template.Template, error) {
	var (
		fsys    fs.FS = embedded
		pattern       = "fragments/*.html"
	)
	if fragmentsDir != "" {
		fsys, pattern = os.DirFS(fragmentsDir), "*.html"
	}
	tmpl, err := template.New("").Funcs(funcMap).ParseFS(fsys, pattern)
	if err != nil {
		return nil, goerr.Wrap(err, "parsing fragments", goerr.V("dir", fragmentsDir))
	}
	return tmpl, nil
}

// Render renders a named template to a string.
func (r *Renderer) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.RenderToBuffer(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderToBuffer renders a named template to a buffer.
func (r *Renderer) RenderToBuffer(buf *bytes.Buffer, name string, data any) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.templates.ExecuteTemplate(buf, name, data)
}

// Reload re-parses the fragments of fragmentsDir. On error the current
// templates stay in place.
func (r *Renderer) Reload(fragmentsDir string) error {
	tmpl, err := parse(fragmentsDir)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.templates = tmpl
	r.mu.Unlock()

	return nil
}
