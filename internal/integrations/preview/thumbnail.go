// Package preview renders local thumbnails for picked attachments so the
// optimistic message can show them before the upload finishes.
package preview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"chatsync/internal/domain"
	"chatsync/internal/usecase"
)

const defaultMaxSide = 512

// Handle is a rendered thumbnail on disk, or the source file itself when it
// could not be decoded.
type Handle struct {
	url  string
	path string
	temp bool
}

func (h *Handle) URL() string { return h.url }

// Release removes the thumbnail file. Fallback handles own nothing.
func (h *Handle) Release() error {
	if !h.temp {
		return nil
	}
	if err := os.Remove(h.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("preview: remove %s: %w", h.path, err)
	}
	return nil
}

// Renderer writes thumbnails into dir.
type Renderer struct {
	dir     string
	maxSide int
	logger  *slog.Logger
}

type Option func(*Renderer)

func WithMaxSide(px int) Option {
	return func(r *Renderer) {
		if px > 0 {
			r.maxSide = px
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Renderer) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRenderer creates dir if needed. An empty dir means the OS temp dir.
func NewRenderer(dir string, opts ...Option) (*Renderer, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("preview: create dir: %w", err)
	}
	r := &Renderer{dir: dir, maxSide: defaultMaxSide, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Preview renders f as a JPEG no larger than the configured side.
func (r *Renderer) Preview(ctx context.Context, f domain.LocalFile) (usecase.PreviewHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := imaging.Open(f.Path, imaging.AutoOrientation(true))
	if err != nil {
		if _, statErr := os.Stat(f.Path); statErr != nil {
			return nil, fmt.Errorf("preview: open %s: %w", f.Name, statErr)
		}
		r.logger.Debug("preview falls back to source file", "file", f.Name, "err", err)
		return &Handle{url: fileURL(f.Path), path: f.Path}, nil
	}
	thumb := imaging.Fit(img, r.maxSide, r.maxSide, imaging.Lanczos)

	out, err := os.CreateTemp(r.dir, "preview-*.jpg")
	if err != nil {
		return nil, fmt.Errorf("preview: create file: %w", err)
	}
	if err := imaging.Encode(out, thumb, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		_ = out.Close()
		_ = os.Remove(out.Name())
		return nil, fmt.Errorf("preview: encode %s: %w", f.Name, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(out.Name())
		return nil, fmt.Errorf("preview: write %s: %w", f.Name, err)
	}
	return &Handle{url: fileURL(out.Name()), path: out.Name(), temp: true}, nil
}

func fileURL(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		abs = p
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}
