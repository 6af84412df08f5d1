// Package gallery loads the known-identity gallery from a directory of face images.
package gallery

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register decoders
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/andresmejia3/securiface/internal/encoder"
	"github.com/andresmejia3/securiface/internal/logger"
	"github.com/andresmejia3/securiface/internal/types"
	"github.com/schollz/progressbar/v3"
)

type Status string

const (
	StatusLoaded   Status = "loaded"
	StatusSkipped  Status = "skipped"
	StatusReplaced Status = "replaced"
)

// Outcome reports what happened to one image file during a load.
type Outcome struct {
	File   string `json:"file"`
	Name   string `json:"name"`
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Gallery is an immutable, ordered set of known faces.
type Gallery struct {
	Dir   string
	faces []types.KnownFace
}

// New builds a gallery from already encoded faces, in order.
func New(faces []types.KnownFace) *Gallery {
	return &Gallery{faces: faces}
}

func (g *Gallery) Faces() []types.KnownFace { return g.faces }

func (g *Gallery) Len() int { return len(g.faces) }

func (g *Gallery) Names() []string {
	names := make([]string, len(g.faces))
	for i, f := range g.faces {
		names[i] = f.Name
	}
	return names
}

// IsImage reports whether a file name carries a supported gallery extension.
func IsImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

// Loader encodes gallery directories once and serves later loads from memory.
type Loader struct {
	Provider encoder.Provider
	// Progress receives a progress bar while encoding. Nil disables it.
	Progress io.Writer

	mu    sync.Mutex
	cache map[string]cached
}

type cached struct {
	gallery  *Gallery
	outcomes []Outcome
}

func NewLoader(p encoder.Provider) *Loader {
	return &Loader{Provider: p, cache: make(map[string]cached)}
}

// Load returns the gallery for dir. A missing directory yields an empty gallery.
// Results are memoized by absolute path, so the provider runs once per directory.
func (l *Loader) Load(dir string) (*Gallery, []Outcome, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving gallery dir %s: %w", dir, err)
	}
	abs = filepath.Clean(abs)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cache == nil {
		l.cache = make(map[string]cached)
	}
	if c, ok := l.cache[abs]; ok {
		return c.gallery, c.outcomes, nil
	}

	g, outcomes, err := l.load(abs)
	if err != nil {
		return nil, nil, err
	}
	l.cache[abs] = cached{gallery: g, outcomes: outcomes}
	return g, outcomes, nil
}

func (l *Loader) load(dir string) (*Gallery, []Outcome, error) {
	g := &Gallery{Dir: dir}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warning("gallery directory missing", logger.LoggerOptions{Key: "dir", Data: dir})
		return g, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading gallery dir %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !IsImage(e.Name()) {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)

	var bar *progressbar.ProgressBar
	if l.Progress != nil && len(files) > 0 {
		bar = progressbar.NewOptions(len(files),
			progressbar.OptionSetWriter(l.Progress),
			progressbar.OptionSetDescription("Encoding gallery"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}

	index := make(map[string]int)
	outcomes := make([]Outcome, 0, len(files))
	for _, file := range files {
		name := strings.TrimSuffix(file, filepath.Ext(file))
		out := Outcome{File: file, Name: name}

		enc, err := l.encodeFile(filepath.Join(dir, file))
		switch {
		case err != nil:
			out.Status = StatusSkipped
			out.Reason = err.Error()
		default:
			if i, ok := index[name]; ok {
				g.faces[i].Encoding = enc
				out.Status = StatusReplaced
			} else {
				index[name] = len(g.faces)
				g.faces = append(g.faces, types.KnownFace{Name: name, Encoding: enc})
				out.Status = StatusLoaded
			}
		}
		outcomes = append(outcomes, out)
		if bar != nil {
			bar.Add(1)
		}
	}

	logger.Info("gallery loaded",
		logger.LoggerOptions{Key: "dir", Data: dir},
		logger.LoggerOptions{Key: "identities", Data: len(g.faces)},
		logger.LoggerOptions{Key: "files", Data: len(files)},
	)
	return g, outcomes, nil
}

func (l *Loader) encodeFile(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	enc, err := encoder.First(l.Provider, img)
	if err != nil {
		return nil, err
	}
	return enc, nil
}
