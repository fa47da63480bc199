package templates

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderer_Embedded(t *testing.T) {
	r, err := New("")
	require.NoError(t, err)

	html, err := r.Render("legend-item", map[string]any{
		"Code": 4, "Label": "Critical (4)", "Color": "#ef4444", "Area": 25000.0, "Percent": 6.25,
	})
	require.NoError(t, err)
	assert.Contains(t, html, `id="legend-4"`)
	assert.Contains(t, html, "Critical (4)")
	assert.Contains(t, html, "2.5 ha")
	assert.Contains(t, html, "6.3%")

	html, err = r.Render("dataset-empty", map[string]string{"Title": "No datasets"})
	require.NoError(t, err)
	assert.Equal(t, `<option value="" disabled selected>No datasets</option>`, html)

	_, err = r.Render("missing", nil)
	assert.Error(t, err)
}

func TestRenderer_Reload(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.html"), []byte(`{{define "greet"}}hi {{.}}{{end}}`), 0644))

	r, err := New(dir)
	require.NoError(t, err)
	out, err := r.Render("greet", "there")
	require.NoError(t, err)
	assert.Equal(t, "hi there", out)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.html"), []byte(`{{define "greet"}}bye {{.}}{{end}}`), 0644))
	require.NoError(t, r.Reload(dir))
	out, err = r.Render("greet", "now")
	require.NoError(t, err)
	assert.Equal(t, "bye now", out)

	_, err = New(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestRenderer_Watch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.html")
	require.NoError(t, os.WriteFile(path, []byte(`{{define "greet"}}hi{{end}}`), 0644))

	r, err := New(dir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx, dir, nil) }()

	// The watch is registered asynchronously, so keep rewriting until it lands.
	require.Eventually(t, func() bool {
		if err := os.WriteFile(path, []byte(`{{define "greet"}}bye{{end}}`), 0644); err != nil {
			return false
		}
		out, err := r.Render("greet", nil)
		return err == nil && out == "bye"
	}, 5*time.Second, 50*time.Millisecond)

	// A broken fragment keeps the last good templates.
	require.NoError(t, os.WriteFile(path, []byte(`{{define "greet"}}{{end`), 0644))
	time.Sleep(100 * time.Millisecond)
	out, err := r.Render("greet", nil)
	require.NoError(t, err)
	assert.Equal(t, "bye", out)

	cancel()
	require.NoError(t, <-done)
}
