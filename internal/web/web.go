// Package web holds the browser UI served next to the stream.
package web

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"
)

//go:embed static
var staticFiles embed.FS

// IndexPage is the page rendered with a Context
const IndexPage = "index.html"

// Resolutions offered in the UI
var Resolutions = []int{240, 480, 720, 1080}

// Context is the data the index page is rendered with
type Context struct {
	VideoFeed   string
	FPS         int
	FrameRates  []int
	Resolution  int
	Resolutions []int
}

// Site serves the embedded UI files
type Site struct {
	files fs.FS
	index *template.Template
	fs    http.Handler
}

// New loads the embedded files and parses the index template
func New() (*Site, error) {
	files, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, err
	}

	index, err := template.ParseFS(files, IndexPage)
	if err != nil {
		return nil, fmt.Errorf("failed to parse index template: %w", err)
	}

	return &Site{
		files: files,
		index: index,
		fs:    http.FileServer(http.FS(files)),
	}, nil
}

// Has reports whether a UI file exists at the URL path
func (s *Site) Has(urlPath string) bool {
	name := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	if name == "" {
		return false
	}
	info, err := fs.Stat(s.files, name)
	return err == nil && !info.IsDir()
}

// RenderIndex writes the index page for ctx
func (s *Site) RenderIndex(w io.Writer, ctx Context) error {
	if ctx.Resolutions == nil {
		ctx.Resolutions = withValue(Resolutions, ctx.Resolution)
	}
	return s.index.Execute(w, ctx)
}

// ServeFile serves a static UI file
func (s *Site) ServeFile(w http.ResponseWriter, r *http.Request) {
	s.fs.ServeHTTP(w, r)
}

// withValue returns values plus v when it is not already listed
func withValue(values []int, v int) []int {
	out := make([]int, 0, len(values)+1)
	added := v <= 0
	for _, x := range values {
		if !added && v < x {
			out = append(out, v)
			added = true
		}
		if x == v {
			added = true
		}
		out = append(out, x)
	}
	if !added {
		out = append(out, v)
	}
	return out
}
