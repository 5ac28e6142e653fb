package usecase

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"chatsync/internal/domain"
	"chatsync/internal/recovery"
)

var testIdentities = domain.Identities{UserID: "user-1", AssistantID: "assistant-1"}

// fakeChannel is an in-memory Channel. Publish calls publishFn when set.
type fakeChannel struct {
	mu        sync.Mutex
	count     int
	countErr  error
	publishFn func(domain.OutboundMessage) error
	published []domain.OutboundMessage
	events    chan domain.ChannelEvent
	closed    bool

	countCalls atomic.Int32
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan domain.ChannelEvent, 64)}
}

func (c *fakeChannel) MessageCount(_ context.Context) (int, error) {
	c.countCalls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count, c.countErr
}

func (c *fakeChannel) Publish(_ context.Context, msg domain.OutboundMessage) error {
	c.mu.Lock()
	c.published = append(c.published, msg)
	fn := c.publishFn
	c.mu.Unlock()
	if fn != nil {
		return fn(msg)
	}
	return nil
}

func (c *fakeChannel) Events() <-chan domain.ChannelEvent { return c.events }

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

func (c *fakeChannel) emit(ev domain.ChannelEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.events <- ev
	}
}

func (c *fakeChannel) emitMessage(env domain.Envelope) {
	c.emit(domain.ChannelEvent{Kind: domain.EventMessageAppended, UserID: env.User.ID, Message: &env})
}

func (c *fakeChannel) publishedMessages() []domain.OutboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.OutboundMessage(nil), c.published...)
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeDialer struct {
	mu       sync.Mutex
	channels map[string]*fakeChannel
	err      error
	opens    []string
}

func newFakeDialer(channels map[string]*fakeChannel) *fakeDialer {
	return &fakeDialer{channels: channels}
}

func (d *fakeDialer) Open(_ context.Context, id string) (Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens = append(d.opens, id)
	if d.err != nil {
		return nil, d.err
	}
	ch, ok := d.channels[id]
	if !ok {
		return nil, errors.New("unknown conversation")
	}
	return ch, nil
}

func (d *fakeDialer) openCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.opens)
}

type fakeHistory struct {
	records []domain.HistoryRecord
	err     error
	// release, when set, blocks FetchHistory until it is closed.
	release chan struct{}
	calls   atomic.Int32
}

func (h *fakeHistory) FetchHistory(ctx context.Context, _ string) ([]domain.HistoryRecord, error) {
	h.calls.Add(1)
	if h.release != nil {
		select {
		case <-h.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return h.records, h.err
}

type fakePrefs struct {
	mu       sync.Mutex
	prefs    map[string]domain.Preferences
	loadErr  error
	selected map[string]domain.Variation
	minted   map[string]bool
	saves    int
}

func newFakePrefs() *fakePrefs {
	return &fakePrefs{
		prefs:    make(map[string]domain.Preferences),
		selected: make(map[string]domain.Variation),
		minted:   make(map[string]bool),
	}
}

func (p *fakePrefs) LoadPreferences(_ context.Context, id string) (domain.Preferences, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prefs[id], p.loadErr
}

func (p *fakePrefs) SaveSelectedVariation(_ context.Context, id string, v domain.Variation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selected[id] = v
	p.saves++
	return nil
}

func (p *fakePrefs) SaveMinted(_ context.Context, id string, minted bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.minted[id] = minted
	return nil
}

func (p *fakePrefs) savedSelection(id string) (domain.Variation, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.selected[id]
	return v, ok
}

type recordingObserver struct {
	mu       sync.Mutex
	messages map[string][]domain.Message
	sessions map[string]domain.ConversationSession
	updates  int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		messages: make(map[string][]domain.Message),
		sessions: make(map[string]domain.ConversationSession),
	}
}

func (o *recordingObserver) MessagesChanged(id string, msgs []domain.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages[id] = msgs
	o.updates++
}

func (o *recordingObserver) SessionChanged(id string, s domain.ConversationSession) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sessions[id] = s
}

func (o *recordingObserver) lastMessages(id string) []domain.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.messages[id]
}

func (o *recordingObserver) lastSession(id string) domain.ConversationSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessions[id]
}

func (p *fakePrefs) selectionSaves() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saves
}

// gatedObserver holds the first message delivery that contains messageID
// until release is closed.
type gatedObserver struct {
	*recordingObserver
	messageID string
	entered   chan struct{}
	release   chan struct{}
	once      sync.Once
}

func newGatedObserver(messageID string) *gatedObserver {
	return &gatedObserver{
		recordingObserver: newRecordingObserver(),
		messageID:         messageID,
		entered:           make(chan struct{}),
		release:           make(chan struct{}),
	}
}

func (o *gatedObserver) MessagesChanged(id string, msgs []domain.Message) {
	if slices.ContainsFunc(msgs, func(m domain.Message) bool { return m.ID == o.messageID }) {
		o.once.Do(func() {
			close(o.entered)
			<-o.release
		})
	}
	o.recordingObserver.MessagesChanged(id, msgs)
}

// stallingDialer holds its first Open until release is closed, ignoring
// cancellation, and hands out first and then second.
type stallingDialer struct {
	first, second *fakeChannel
	entered       chan struct{}
	release       chan struct{}
	calls         atomic.Int32
}

func newStallingDialer() *stallingDialer {
	first, second := newFakeChannel(), newFakeChannel()
	first.count, second.count = 1, 1
	return &stallingDialer{
		first:   first,
		second:  second,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (d *stallingDialer) Open(context.Context, string) (Channel, error) {
	if d.calls.Add(1) == 1 {
		close(d.entered)
		<-d.release
		return d.first, nil
	}
	return d.second, nil
}

type fakeUploader struct {
	mu    sync.Mutex
	fail  map[string]error
	calls []string
}

func (u *fakeUploader) Upload(_ context.Context, _ string, f domain.LocalFile) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, f.Name)
	if err := u.fail[f.Name]; err != nil {
		return "", err
	}
	return "https://cdn.test/" + f.Name, nil
}

func (u *fakeUploader) callCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.calls)
}

type fakeHandle struct {
	url      string
	releases atomic.Int32
}

func (h *fakeHandle) URL() string { return h.url }

func (h *fakeHandle) Release() error {
	h.releases.Add(1)
	return nil
}

type fakePreviewer struct {
	mu      sync.Mutex
	handles []*fakeHandle
}

func (p *fakePreviewer) Preview(_ context.Context, f domain.LocalFile) (PreviewHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := &fakeHandle{url: "file:///previews/" + f.Name}
	p.handles = append(p.handles, h)
	return h, nil
}

func (p *fakePreviewer) created() []*fakeHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*fakeHandle(nil), p.handles...)
}

type fakeSubmitter struct {
	mu   sync.Mutex
	reqs []SubmitRequest
	err  error
}

func (s *fakeSubmitter) SubmitMessage(_ context.Context, req SubmitRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	return s.err
}

func (s *fakeSubmitter) requests() []SubmitRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SubmitRequest(nil), s.reqs...)
}

type fakeReporter struct {
	mu   sync.Mutex
	errs []error
}

func (r *fakeReporter) Handle(err error) recovery.Class {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
	return recovery.Classify(err)
}

func (r *fakeReporter) reported() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

type countingMetrics struct {
	noopMetrics
	rollbacks     atomic.Int32
	uploadFailure atomic.Int32
	mu            sync.Mutex
	hydrations    []string
}

func (m *countingMetrics) RollbackObserved() { m.rollbacks.Add(1) }
func (m *countingMetrics) UploadFailed()     { m.uploadFailure.Add(1) }

func (m *countingMetrics) HydrationObserved(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hydrations = append(m.hydrations, outcome)
}

func (m *countingMetrics) hydrationOutcomes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.hydrations...)
}
