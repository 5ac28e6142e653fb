package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"chatsync/internal/domain"
	"chatsync/internal/messagestore"
	"chatsync/internal/signal"
)

// ErrNoConversation is returned by operations that need a connected
// conversation when none is active.
var ErrNoConversation = errors.New("usecase: no active conversation")

type SessionConfig struct {
	Dialer      ChannelDialer
	History     HistoryFetcher
	Preferences PreferenceStore
	Identities  domain.Identities
	Observer    Observer
	Logger      *slog.Logger
	Metrics     Metrics
}

// ChannelSession owns the connection to the active conversation and routes
// its events into the message store and session state.
type ChannelSession struct {
	logger     *slog.Logger
	dialer     ChannelDialer
	history    HistoryFetcher
	prefs      PreferenceStore
	identities domain.Identities
	observer   Observer
	metrics    Metrics

	mu   sync.Mutex
	conv *conversation
}

func NewChannelSession(cfg SessionConfig) (*ChannelSession, error) {
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("usecase: channel dialer is nil")
	}
	if cfg.History == nil {
		return nil, fmt.Errorf("usecase: history fetcher is nil")
	}
	if cfg.Preferences == nil {
		return nil, fmt.Errorf("usecase: preference store is nil")
	}
	if cfg.Identities.UserID == "" || cfg.Identities.AssistantID == "" {
		return nil, fmt.Errorf("usecase: channel identities are incomplete")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ChannelSession{
		logger:     logger,
		dialer:     cfg.Dialer,
		history:    cfg.History,
		prefs:      cfg.Preferences,
		identities: cfg.Identities,
		observer:   cfg.Observer,
		metrics:    orNoopMetrics(cfg.Metrics),
	}, nil
}

// Connect makes conversationID the active conversation. Connecting to the
// already connected id is a no-op; any other id, or a retry of an attempt
// that has not finished, tears the current conversation down first.
// Hydration is started in the background once the channel is open.
func (s *ChannelSession) Connect(ctx context.Context, conversationID string) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return newError(ErrorValidation, "empty_conversation_id", nil)
	}

	s.mu.Lock()
	if s.conv != nil && s.conv.id == conversationID && s.conv.isConnected() {
		s.mu.Unlock()
		return nil
	}
	prev := s.conv
	conv := newConversation(conversationID, s.logger)
	s.conv = conv
	s.mu.Unlock()

	if prev != nil {
		prev.teardown()
	}

	dialCtx, stop := conv.bind(ctx)
	defer stop()

	prefs, err := s.prefs.LoadPreferences(dialCtx, conversationID)
	if err != nil {
		conv.logger.Warn("failed to load preferences", "err", err)
	} else {
		conv.state.applyPreferences(prefs)
	}

	ch, err := s.dialer.Open(dialCtx, conversationID)
	if err != nil {
		s.discard(conv)
		return newError(ErrorTransport, "channel_open_error", err)
	}
	hydrator := NewHydrationService(conversationID, s.history, ch, conv.logger, s.metrics)
	if !conv.attach(ch, hydrator) {
		_ = ch.Close()
		return newError(ErrorNotConnected, "superseded", context.Canceled)
	}
	conv.logger.Info("conversation connected")

	conv.goTracked(func() { s.listen(conv, ch) })
	s.notifySession(conv)
	conv.goTracked(func() { s.hydrate(conv.ctx, conv, hydrator) })
	return nil
}

// Hydrate runs the backfill for the active conversation if it has not run.
func (s *ChannelSession) Hydrate(ctx context.Context) error {
	conv := s.current()
	if conv == nil {
		return newError(ErrorNotConnected, "no_conversation", ErrNoConversation)
	}
	_, hydrator, ok := conv.live()
	if !ok {
		return newError(ErrorNotConnected, "channel_not_open", ErrNoConversation)
	}
	ctx, stop := conv.bind(ctx)
	defer stop()
	return s.hydrate(ctx, conv, hydrator)
}

func (s *ChannelSession) hydrate(ctx context.Context, conv *conversation, hydrator *HydrationService) error {
	err := hydrator.Hydrate(ctx)
	if hydrator.Hydrated() {
		if _, changed := conv.state.update(func(st *sessionState) { st.hydrated = true }); changed {
			s.notifySession(conv)
		}
	}
	return err
}

// MarkMinted records that the selected design was turned into a product.
func (s *ChannelSession) MarkMinted(ctx context.Context) error {
	conv, err := s.active()
	if err != nil {
		return err
	}
	if _, changed := conv.state.update(func(st *sessionState) { st.minted = true }); !changed {
		return nil
	}
	s.notifySession(conv)
	ctx, stop := conv.bind(ctx)
	defer stop()
	if err := s.prefs.SaveMinted(ctx, conv.id, true); err != nil {
		return fmt.Errorf("usecase: save minted flag: %w", err)
	}
	return nil
}

// Teardown closes the active conversation. It blocks until background work
// owned by the conversation has stopped.
func (s *ChannelSession) Teardown() {
	s.mu.Lock()
	conv := s.conv
	s.conv = nil
	s.mu.Unlock()
	if conv != nil {
		conv.teardown()
		conv.logger.Info("conversation closed")
	}
}

// ConversationID returns the active conversation id, or "".
func (s *ChannelSession) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv == nil {
		return ""
	}
	return s.conv.id
}

// Messages returns a copy of the active conversation's message log.
func (s *ChannelSession) Messages() []domain.Message {
	conv := s.current()
	if conv == nil {
		return nil
	}
	return conv.store.Snapshot()
}

// Session returns the active conversation's session state.
func (s *ChannelSession) Session() domain.ConversationSession {
	conv := s.current()
	if conv == nil {
		return domain.ConversationSession{}
	}
	return conv.state.snapshot()
}

func (s *ChannelSession) current() *conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv
}

// active returns the current conversation if its channel is open.
func (s *ChannelSession) active() (*conversation, error) {
	conv := s.current()
	if conv == nil {
		return nil, newError(ErrorNotConnected, "no_conversation", ErrNoConversation)
	}
	if !conv.isConnected() {
		return nil, newError(ErrorNotConnected, "channel_not_open", ErrNoConversation)
	}
	return conv, nil
}

func (s *ChannelSession) discard(conv *conversation) {
	s.mu.Lock()
	if s.conv == conv {
		s.conv = nil
	}
	s.mu.Unlock()
	conv.teardown()
}

func (s *ChannelSession) listen(conv *conversation, ch Channel) {
	events := ch.Events()
	for {
		select {
		case <-conv.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				if !conv.isClosed() {
					conv.logger.Warn("channel event stream ended")
				}
				return
			}
			s.handleEvent(conv, ev)
		}
	}
}

func (s *ChannelSession) handleEvent(conv *conversation, ev domain.ChannelEvent) {
	switch ev.Kind {
	case domain.EventMessageAppended:
		if ev.Message == nil {
			return
		}
		s.applyMessage(conv, toMessage(*ev.Message, s.identities))
	case domain.EventTypingStart, domain.EventTypingStop:
		if s.identities.RoleFor(ev.UserID) != domain.RoleAssistant {
			return
		}
		typing := ev.Kind == domain.EventTypingStart
		if _, changed := conv.state.update(func(st *sessionState) { st.isTyping = typing }); changed {
			s.notifySession(conv)
		}
	default:
		conv.logger.Debug("ignoring channel event", "kind", ev.Kind)
	}
}

func (s *ChannelSession) applyMessage(conv *conversation, msg domain.Message) {
	outcome := conv.store.MergeOutcome(msg)
	s.metrics.MergeObserved(outcomeLabel(outcome))
	if outcome == messagestore.Unchanged {
		return
	}
	history := s.notifyMessages(conv)

	if msg.Role != domain.RoleAssistant {
		return
	}
	conv.cancelTypingCue()
	res := signal.Extract(msg, history)
	persist := false
	_, changed := conv.state.update(func(st *sessionState) {
		st.assistantSeq++
		st.isTyping = false
		if res.IsGenerating != nil {
			st.isGenerating = *res.IsGenerating
		}
		if res.Selection != nil && !sameVariation(st.selected, res.Selection) {
			v := *res.Selection
			st.selected = &v
			persist = true
		}
	})
	if changed {
		s.notifySession(conv)
	}
	if persist {
		if err := s.prefs.SaveSelectedVariation(conv.ctx, conv.id, *res.Selection); err != nil {
			conv.logger.Warn("failed to persist selected variation", "token", res.Selection.Token, "err", err)
		}
	}
}

// notifyMessages delivers the current message log to the observer and
// returns it. notifyMessages and notifySession take their snapshot under
// the conversation's notify lock, and drop updates from a conversation that
// is no longer the active one.
func (s *ChannelSession) notifyMessages(conv *conversation) []domain.Message {
	conv.notifyMu.Lock()
	defer conv.notifyMu.Unlock()
	msgs := conv.store.Snapshot()
	if s.observer != nil && s.current() == conv && !conv.isClosed() {
		s.observer.MessagesChanged(conv.id, msgs)
	}
	return msgs
}

func (s *ChannelSession) notifySession(conv *conversation) {
	conv.notifyMu.Lock()
	defer conv.notifyMu.Unlock()
	if s.observer == nil || s.current() != conv || conv.isClosed() {
		return
	}
	s.observer.SessionChanged(conv.id, conv.state.snapshot())
}

func sameVariation(a, b *domain.Variation) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func toMessage(env domain.Envelope, ids domain.Identities) domain.Message {
	msg := domain.Message{
		ID:        env.ID,
		ClientID:  env.CorrelationID,
		Role:      ids.RoleFor(env.User.ID),
		Content:   env.Text,
		CreatedAt: env.CreatedAt,
		UpdatedAt: env.UpdatedAt,
	}
	if len(env.Attachments) > 0 {
		msg.Attachments = append([]domain.Attachment(nil), env.Attachments...)
	}
	return msg
}

func outcomeLabel(o messagestore.Outcome) string {
	switch o {
	case messagestore.Appended:
		return "appended"
	case messagestore.Replaced:
		return "replaced"
	default:
		return "unchanged"
	}
}
