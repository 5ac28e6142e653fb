package preview

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"

	"chatsync/internal/domain"
)

func writePNG(t *testing.T, w, h int) domain.LocalFile {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		img.Set(x, 0, color.NRGBA{R: 255, A: 255})
	}
	p := filepath.Join(t.TempDir(), "pic.png")
	f, err := os.Create(p)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return domain.LocalFile{Path: p, Name: "pic.png", ContentType: "image/png"}
}

func TestPreview_RendersBoundedThumbnail(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRenderer(dir, WithMaxSide(64))
	require.NoError(t, err)

	h, err := r.Preview(context.Background(), writePNG(t, 400, 200))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(h.URL(), "file://"), h.URL())

	ph := h.(*Handle)
	thumb, err := imaging.Open(ph.path)
	require.NoError(t, err)
	require.Equal(t, 64, thumb.Bounds().Dx())
	require.Equal(t, 32, thumb.Bounds().Dy())

	require.NoError(t, h.Release())
	_, err = os.Stat(ph.path)
	require.True(t, os.IsNotExist(err))
}

func TestPreview_FallsBackForUndecodableFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "broken.gif")
	require.NoError(t, os.WriteFile(p, []byte("not an image"), 0o600))
	r, err := NewRenderer(t.TempDir())
	require.NoError(t, err)

	h, err := r.Preview(context.Background(), domain.LocalFile{Path: p, Name: "broken.gif"})
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(h.URL(), "/broken.gif"), h.URL())
	require.NoError(t, h.Release())
	_, err = os.Stat(p)
	require.NoError(t, err)
}

func TestPreview_MissingFile(t *testing.T) {
	r, err := NewRenderer(t.TempDir())
	require.NoError(t, err)
	_, err = r.Preview(context.Background(), domain.LocalFile{Path: "/nope/x.png", Name: "x.png"})
	require.ErrorContains(t, err, "open")
}

func TestPreview_CancelledContext(t *testing.T) {
	r, err := NewRenderer(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Preview(ctx, writePNG(t, 10, 10))
	require.ErrorIs(t, err, context.Canceled)
}
