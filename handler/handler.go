// Package handler is the host-facing surface of the engine. A host UI opens a
// conversation, forwards user input (sends, scrolling, retry) and receives
// every engine change through the Host interface.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"chatsync/internal/domain"
	"chatsync/internal/recovery"
	"chatsync/internal/scroll"
	"chatsync/internal/usecase"
)

// Host is implemented by the embedding UI. Methods are called from engine
// goroutines and must not call back into the Handler synchronously.
type Host interface {
	scroll.Viewport
	RenderMessages(conversationID string, messages []domain.Message)
	RenderSession(conversationID string, session domain.ConversationSession)
	ShowError(status recovery.Status)
	// ConversationUpdated is fired after a message was sent so the host can
	// refresh whatever lists conversations.
	ConversationUpdated(conversationID string)
}

type Config struct {
	Dialer      usecase.ChannelDialer
	History     usecase.HistoryFetcher
	Preferences usecase.PreferenceStore
	Identities  domain.Identities
	Uploader    usecase.Uploader
	Previewer   usecase.Previewer
	Submitter   usecase.MessageSubmitter
	Metrics     usecase.Metrics
	Logger      *slog.Logger

	TypingCueDelay time.Duration
	MaxRetries     int
	ScrollOptions  []scroll.Option
}

// Handler wires one host to the engine. Only one conversation is open at a
// time; opening another replaces it.
type Handler struct {
	host       Host
	logger     *slog.Logger
	session    *usecase.ChannelSession
	sender     *usecase.OptimisticSendController
	maxRetries int
	scrollOpts []scroll.Option

	mu             sync.Mutex
	conversationID string
	scroll         *scroll.Coordinator
	recovery       *recovery.Controller
	rendered       int
	indicators     [2]bool
	retry          func(context.Context) error
}

func NewHandler(host Host, cfg Config) (*Handler, error) {
	if host == nil {
		return nil, errors.New("handler: host must not be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = recovery.DefaultMaxRetries
	}
	h := &Handler{
		host:       host,
		logger:     logger,
		maxRetries: maxRetries,
		scrollOpts: cfg.ScrollOptions,
	}
	h.resetLocked("")

	session, err := usecase.NewChannelSession(usecase.SessionConfig{
		Dialer:      cfg.Dialer,
		History:     cfg.History,
		Preferences: cfg.Preferences,
		Identities:  cfg.Identities,
		Observer:    h,
		Logger:      logger,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("handler: %w", err)
	}
	sender, err := usecase.NewOptimisticSendController(session, usecase.SendConfig{
		Uploader:       cfg.Uploader,
		Previewer:      cfg.Previewer,
		Submitter:      cfg.Submitter,
		Errors:         activeRecovery{h},
		Logger:         logger,
		Metrics:        cfg.Metrics,
		TypingCueDelay: cfg.TypingCueDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("handler: %w", err)
	}
	h.session = session
	h.sender = sender
	return h, nil
}

// Open makes conversationID the active conversation. Switching ids resets
// scroll tracking and the retry budget.
func (h *Handler) Open(ctx context.Context, conversationID string) error {
	conversationID = strings.TrimSpace(conversationID)
	h.mu.Lock()
	var stale *scroll.Coordinator
	if conversationID != h.conversationID {
		stale = h.scroll
		h.resetLocked(conversationID)
	}
	rec := h.recovery
	h.mu.Unlock()
	if stale != nil {
		stale.Stop()
		h.host.ShowError(recovery.Status{})
	}

	// Connect may tear down the previous conversation, which waits for its
	// event loop; that loop calls back into h, so no lock is held here.
	err := h.session.Connect(ctx, conversationID)
	if err == nil || usecase.IsValidation(err) {
		return err
	}
	h.setRetry(conversationID, func(ctx context.Context) error {
		return h.session.Connect(ctx, conversationID)
	})
	rec.Handle(err)
	return err
}

// Send posts content with the files at paths. Validation errors are returned
// for inline display; other failures are also surfaced through Host.ShowError.
// A send ignored because another is in flight returns nil and does not
// report a conversation update.
func (h *Handler) Send(ctx context.Context, content string, paths ...string) error {
	files := make([]domain.LocalFile, 0, len(paths))
	for _, p := range paths {
		f, err := domain.LocalFileFromPath(p)
		if err != nil {
			return fmt.Errorf("handler: read attachment: %w", err)
		}
		files = append(files, f)
	}

	conversationID := h.session.ConversationID()
	err := h.sender.Send(ctx, content, files)
	switch {
	case err == nil:
		h.host.ConversationUpdated(conversationID)
		return nil
	case errors.Is(err, usecase.ErrSendInFlight):
		return nil
	case usecase.IsValidation(err):
		return err
	}

	h.setRetry(conversationID, func(ctx context.Context) error {
		err := h.sender.Send(ctx, content, files)
		if errors.Is(err, usecase.ErrSendInFlight) {
			return nil
		}
		if err != nil {
			return err
		}
		h.host.ConversationUpdated(conversationID)
		return nil
	})
	h.currentRecovery().Handle(err)
	return err
}

// Retry re-runs the last failed operation within the retry budget.
func (h *Handler) Retry(ctx context.Context) error {
	h.mu.Lock()
	rec, fn := h.recovery, h.retry
	h.retry = nil
	h.mu.Unlock()
	if fn == nil {
		rec.Dismiss()
		return nil
	}
	err := rec.Retry(ctx, fn)
	if err != nil && !errors.Is(err, recovery.ErrRetryExhausted) {
		h.mu.Lock()
		if h.recovery == rec && h.retry == nil {
			h.retry = fn
		}
		h.mu.Unlock()
	}
	return err
}

// ResetRetries clears the retry counter so Retry is available again.
func (h *Handler) ResetRetries() {
	h.currentRecovery().Reset()
}

// DismissError hides the surfaced error.
func (h *Handler) DismissError() {
	h.currentRecovery().Dismiss()
}

// Scroll forwards viewport scroll positions.
func (h *Handler) Scroll(m scroll.Metrics) {
	h.mu.Lock()
	sc := h.scroll
	h.mu.Unlock()
	sc.OnScroll(m)
}

func (h *Handler) MarkMinted(ctx context.Context) error {
	return h.session.MarkMinted(ctx)
}

func (h *Handler) Messages() []domain.Message {
	return h.session.Messages()
}

func (h *Handler) Session() domain.ConversationSession {
	return h.session.Session()
}

func (h *Handler) ErrorStatus() recovery.Status {
	return h.currentRecovery().Status()
}

// Close tears the active conversation down.
func (h *Handler) Close() {
	h.session.Teardown()
	h.mu.Lock()
	sc := h.scroll
	h.mu.Unlock()
	sc.Stop()
}

// MessagesChanged implements usecase.Observer.
func (h *Handler) MessagesChanged(conversationID string, messages []domain.Message) {
	h.mu.Lock()
	if conversationID != h.conversationID {
		h.mu.Unlock()
		return
	}
	grew := len(messages) > h.rendered
	h.rendered = len(messages)
	sc := h.scroll
	h.mu.Unlock()

	h.host.RenderMessages(conversationID, messages)
	if grew {
		sc.OnMessageAdded(messages[len(messages)-1])
	}
}

// SessionChanged implements usecase.Observer.
func (h *Handler) SessionChanged(conversationID string, session domain.ConversationSession) {
	h.mu.Lock()
	if conversationID != h.conversationID {
		h.mu.Unlock()
		return
	}
	next := [2]bool{session.IsTyping, session.IsGenerating}
	changed := next != h.indicators
	h.indicators = next
	sc := h.scroll
	h.mu.Unlock()

	h.host.RenderSession(conversationID, session)
	if changed {
		sc.OnIndicatorChange()
	}
}

func (h *Handler) resetLocked(conversationID string) {
	h.conversationID = conversationID
	h.scroll = scroll.New(h.host, h.scrollOpts...)
	h.recovery = recovery.NewController(
		recovery.WithLogger(h.logger.With("conversation_id", conversationID)),
		recovery.WithMaxRetries(h.maxRetries),
		recovery.OnChange(h.host.ShowError),
	)
	h.rendered = 0
	h.indicators = [2]bool{}
	h.retry = nil
}

func (h *Handler) currentRecovery() *recovery.Controller {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.recovery
}

func (h *Handler) setRetry(conversationID string, fn func(context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conversationID == conversationID {
		h.retry = fn
	}
}

// activeRecovery routes background errors to the current conversation's
// recovery controller.
type activeRecovery struct{ h *Handler }

func (a activeRecovery) Handle(err error) recovery.Class {
	return a.h.currentRecovery().Handle(err)
}
