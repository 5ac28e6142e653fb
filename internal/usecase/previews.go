package usecase

import (
	"log/slog"
	"sync"
)

// previewTracker owns every preview handle created in a session and makes
// sure each one is released exactly once, whoever gets there first.
type previewTracker struct {
	logger *slog.Logger

	mu      sync.Mutex
	handles map[*trackedPreview]struct{}
	closed  bool
}

type trackedPreview struct {
	handle PreviewHandle
	once   sync.Once
}

func newPreviewTracker(logger *slog.Logger) *previewTracker {
	return &previewTracker{logger: logger, handles: make(map[*trackedPreview]struct{})}
}

// track registers h. A handle arriving after teardown is released at once.
func (t *previewTracker) track(h PreviewHandle) *trackedPreview {
	tp := &trackedPreview{handle: h}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		t.release(tp)
		return tp
	}
	t.handles[tp] = struct{}{}
	t.mu.Unlock()
	return tp
}

func (t *previewTracker) release(tp *trackedPreview) {
	if tp == nil {
		return
	}
	t.mu.Lock()
	delete(t.handles, tp)
	t.mu.Unlock()
	tp.once.Do(func() {
		if err := tp.handle.Release(); err != nil {
			t.logger.Warn("failed to release attachment preview", "url", tp.handle.URL(), "err", err)
		}
	})
}

func (t *previewTracker) releaseAll() {
	t.mu.Lock()
	t.closed = true
	pending := make([]*trackedPreview, 0, len(t.handles))
	for tp := range t.handles {
		pending = append(pending, tp)
	}
	t.mu.Unlock()
	for _, tp := range pending {
		t.release(tp)
	}
}

func (t *previewTracker) outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handles)
}
