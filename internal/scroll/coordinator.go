package scroll

import (
	"sync"
	"time"

	"chatsync/internal/domain"
)

const (
	DefaultThreshold = 100.0
	DefaultDebounce  = 150 * time.Millisecond
)

// Metrics are the scroll container measurements reported by the host.
type Metrics struct {
	ScrollHeight float64
	ScrollTop    float64
	ClientHeight float64
}

// DistanceFromBottom is how far the viewport sits above the end of content.
func (m Metrics) DistanceFromBottom() float64 {
	return m.ScrollHeight - m.ScrollTop - m.ClientHeight
}

// Viewport is the host surface the coordinator drives.
type Viewport interface {
	ScrollToBottom(smooth bool)
	SetNewMessagesAffordance(visible bool)
}

type Option func(*Coordinator)

func WithThreshold(px float64) Option {
	return func(c *Coordinator) { c.threshold = px }
}

func WithDebounce(d time.Duration) Option {
	return func(c *Coordinator) { c.debounce = d }
}

// Coordinator decides between auto-scrolling and showing a "new messages"
// affordance.
type Coordinator struct {
	viewport  Viewport
	threshold float64
	debounce  time.Duration

	mu           sync.Mutex
	scrolledAway bool
	affordance   bool
	pending      Metrics
	timer        *time.Timer
	stopped      bool
}

// New returns a Coordinator that starts out at the bottom.
func New(v Viewport, opts ...Option) *Coordinator {
	c := &Coordinator{
		viewport:  v,
		threshold: DefaultThreshold,
		debounce:  DefaultDebounce,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnScroll records a scroll event. The position is re-evaluated once events
// have been quiet for the debounce interval.
func (c *Coordinator) OnScroll(m Metrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.pending = m
	if c.debounce <= 0 {
		c.evaluateLocked(m)
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.debounce, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.stopped {
			return
		}
		c.evaluateLocked(c.pending)
	})
}

// Evaluate applies m immediately, bypassing the debounce.
func (c *Coordinator) Evaluate(m Metrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evaluateLocked(m)
}

// OnMessageAdded reacts to growth of the message log.
func (c *Coordinator) OnMessageAdded(newest domain.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	if newest.Role == domain.RoleUser || !c.scrolledAway {
		c.scrollLocked()
		return
	}
	c.setAffordanceLocked(true)
}

// OnIndicatorChange follows typing and generating indicators when the user is
// already at the bottom.
func (c *Coordinator) OnIndicatorChange() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.scrolledAway {
		return
	}
	c.scrollLocked()
}

// IsScrolledAway reports whether the user has scrolled away from the bottom.
func (c *Coordinator) IsScrolledAway() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scrolledAway
}

// NewMessagesAvailable reports whether the affordance is raised.
func (c *Coordinator) NewMessagesAvailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.affordance
}

// Stop cancels a pending debounce and ignores further input.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Coordinator) evaluateLocked(m Metrics) {
	atBottom := m.DistanceFromBottom() < c.threshold
	c.scrolledAway = !atBottom
	if atBottom {
		c.setAffordanceLocked(false)
	}
}

func (c *Coordinator) scrollLocked() {
	c.setAffordanceLocked(false)
	if c.viewport != nil {
		c.viewport.ScrollToBottom(true)
	}
}

func (c *Coordinator) setAffordanceLocked(v bool) {
	if c.affordance == v {
		return
	}
	c.affordance = v
	if c.viewport != nil {
		c.viewport.SetNewMessagesAffordance(v)
	}
}
