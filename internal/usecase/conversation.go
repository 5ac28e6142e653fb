package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"chatsync/internal/messagestore"
)

// conversation bundles everything scoped to one conversation id. It is torn
// down as a unit when the id changes or the session ends.
type conversation struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	store    *messagestore.Store
	state    *sessionState
	previews *previewTracker
	sending  atomic.Bool

	// notifyMu orders observer deliveries. Snapshots are taken while it is
	// held so a later delivery never carries older state.
	notifyMu sync.Mutex

	mu        sync.Mutex
	channel   Channel
	hydrator  *HydrationService
	connected bool
	closed    bool
	typingCue *time.Timer
	inflight  map[string]struct{}
	wg        sync.WaitGroup
}

func newConversation(id string, logger *slog.Logger) *conversation {
	ctx, cancel := context.WithCancel(context.Background())
	logger = logger.With("conversation_id", id)
	return &conversation{
		id:       id,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
		store:    messagestore.New(),
		state:    newSessionState(id),
		previews: newPreviewTracker(logger),
		inflight: make(map[string]struct{}),
	}
}

// attach installs the opened channel. It fails if the conversation was torn
// down while the channel was being opened.
func (c *conversation) attach(ch Channel, hydrator *HydrationService) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.channel = ch
	c.hydrator = hydrator
	c.connected = true
	return true
}

func (c *conversation) isConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && !c.closed
}

func (c *conversation) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *conversation) live() (Channel, *HydrationService, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.closed {
		return nil, nil, false
	}
	return c.channel, c.hydrator, true
}

// goTracked runs fn on a goroutine that teardown waits for. It refuses to
// start once teardown has begun.
func (c *conversation) goTracked(fn func()) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.wg.Add(1)
	c.mu.Unlock()
	go func() {
		defer c.wg.Done()
		fn()
	}()
	return true
}

// bind derives a context that ends with either ctx or the conversation.
func (c *conversation) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (c *conversation) scheduleTypingCue(delay time.Duration, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.typingCue != nil {
		c.typingCue.Stop()
	}
	c.typingCue = time.AfterFunc(delay, fn)
}

func (c *conversation) cancelTypingCue() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.typingCue != nil {
		c.typingCue.Stop()
		c.typingCue = nil
	}
}

// newCorrelationID returns an id that no other in-flight send of this
// conversation is using.
func (c *conversation) newCorrelationID(now time.Time) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		id := fmt.Sprintf("%d-%s", now.UnixMilli(), strings.ToLower(shortuuid.New()[:8]))
		if _, taken := c.inflight[id]; taken {
			continue
		}
		c.inflight[id] = struct{}{}
		return id
	}
}

func (c *conversation) releaseCorrelationID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, id)
}

func (c *conversation) teardown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	ch := c.channel
	if c.typingCue != nil {
		c.typingCue.Stop()
		c.typingCue = nil
	}
	c.mu.Unlock()

	c.cancel()
	if ch != nil {
		if err := ch.Close(); err != nil {
			c.logger.Warn("failed to close channel", "err", err)
		}
	}
	c.wg.Wait()
	c.previews.releaseAll()
}
