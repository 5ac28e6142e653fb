// Package realtime implements the conversation channel over a websocket.
//
// Every frame is a JSON object with a "type". Publishes and state queries
// carry a request_id that the server echoes in its message.ack or
// channel.state reply; everything else is pushed by the server.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"chatsync/internal/domain"
	"chatsync/internal/usecase"
)

const (
	frameMessageSend  = "message.send"
	frameChannelQuery = "channel.query"
	frameMessageAck   = "message.ack"
	frameChannelState = "channel.state"

	defaultEventBuffer = 64
	readLimit          = 1 << 20
	closeTimeout       = 5 * time.Second
)

// ErrClosed is returned by requests on a channel whose connection is gone.
var ErrClosed = fmt.Errorf("realtime: channel closed: %w", net.ErrClosed)

// frame is the wire shape of every websocket message.
type frame struct {
	Type         string               `json:"type"`
	RequestID    string               `json:"request_id,omitempty"`
	Message      json.RawMessage      `json:"message,omitempty"`
	User         *domain.EnvelopeUser `json:"user,omitempty"`
	Error        string               `json:"error,omitempty"`
	MessageCount int                  `json:"message_count,omitempty"`
}

// PublishError is a publish the server acknowledged with an error.
type PublishError struct {
	Reason string
}

func (e *PublishError) Error() string {
	return "realtime: publish rejected: " + e.Reason
}

// Dialer opens conversation channels against one websocket endpoint.
type Dialer struct {
	url         string
	logger      *slog.Logger
	header      http.Header
	httpClient  *http.Client
	eventBuffer int
}

type Option func(*Dialer)

func WithLogger(l *slog.Logger) Option {
	return func(d *Dialer) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithHeader adds headers to the websocket handshake.
func WithHeader(h http.Header) Option {
	return func(d *Dialer) { d.header = h.Clone() }
}

func WithHTTPClient(c *http.Client) Option {
	return func(d *Dialer) { d.httpClient = c }
}

// WithEventBuffer sets how many inbound events may queue before the read
// loop waits for the consumer.
func WithEventBuffer(n int) Option {
	return func(d *Dialer) {
		if n > 0 {
			d.eventBuffer = n
		}
	}
}

func NewDialer(rawURL string, opts ...Option) (*Dialer, error) {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("realtime: parse url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return nil, fmt.Errorf("realtime: unsupported url scheme %q", u.Scheme)
	}
	d := &Dialer{url: rawURL, logger: slog.Default(), eventBuffer: defaultEventBuffer}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *Dialer) channelURL(conversationID string) string {
	u, _ := url.Parse(d.url)
	q := u.Query()
	q.Set("conversation_id", conversationID)
	u.RawQuery = q.Encode()
	return u.String()
}

// Open connects to the channel of conversationID.
func (d *Dialer) Open(ctx context.Context, conversationID string) (usecase.Channel, error) {
	conn, _, err := websocket.Dial(ctx, d.channelURL(conversationID), &websocket.DialOptions{
		HTTPHeader: d.header,
		HTTPClient: d.httpClient,
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: dial conversation %s: %w", conversationID, err)
	}
	conn.SetReadLimit(readLimit)
	c := newChannel(conn, d.logger.With("conversation_id", conversationID), d.eventBuffer)
	go c.readPump()
	return c, nil
}

// Channel is one open conversation channel.
type Channel struct {
	conn   *websocket.Conn
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	events chan domain.ChannelEvent
	done   chan struct{}

	mu      sync.Mutex
	pending map[string]chan frame
	closed  bool

	closeOnce sync.Once
}

func newChannel(conn *websocket.Conn, logger *slog.Logger, buffer int) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		conn:    conn,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		events:  make(chan domain.ChannelEvent, buffer),
		done:    make(chan struct{}),
		pending: make(map[string]chan frame),
	}
}

func (c *Channel) Events() <-chan domain.ChannelEvent { return c.events }

// MessageCount asks the server how many messages the channel holds.
func (c *Channel) MessageCount(ctx context.Context) (int, error) {
	reply, err := c.request(ctx, frame{Type: frameChannelQuery})
	if err != nil {
		return 0, fmt.Errorf("realtime: channel query: %w", err)
	}
	if reply.Error != "" {
		return 0, fmt.Errorf("realtime: channel query: %s", reply.Error)
	}
	return reply.MessageCount, nil
}

// Publish sends msg and waits for the server's acknowledgement.
func (c *Channel) Publish(ctx context.Context, msg domain.OutboundMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("realtime: marshal message: %w", err)
	}
	reply, err := c.request(ctx, frame{Type: frameMessageSend, Message: body})
	if err != nil {
		return fmt.Errorf("realtime: publish: %w", err)
	}
	if reply.Error != "" {
		return &PublishError{Reason: reply.Error}
	}
	return nil
}

// Close ends the connection and waits for the read loop to exit. The events
// channel is closed once it has.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		if err := c.conn.Close(websocket.StatusNormalClosure, ""); err != nil {
			c.logger.Debug("websocket close", "err", err)
		}
		c.cancel()
	})
	select {
	case <-c.done:
	case <-time.After(closeTimeout):
		c.logger.Warn("websocket read loop did not stop in time")
	}
	return nil
}

func (c *Channel) request(ctx context.Context, f frame) (frame, error) {
	f.RequestID = uuid.NewString()
	reply := make(chan frame, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return frame{}, ErrClosed
	}
	c.pending[f.RequestID] = reply
	c.mu.Unlock()

	if err := wsjson.Write(ctx, c.conn, f); err != nil {
		c.forget(f.RequestID)
		return frame{}, err
	}

	select {
	case r, ok := <-reply:
		if !ok {
			return frame{}, ErrClosed
		}
		return r, nil
	case <-ctx.Done():
		c.forget(f.RequestID)
		return frame{}, ctx.Err()
	}
}

func (c *Channel) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Channel) readPump() {
	defer close(c.done)
	defer close(c.events)
	defer c.failPending()

	for {
		var f frame
		if err := wsjson.Read(c.ctx, c.conn, &f); err != nil {
			if c.ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				c.logger.Warn("websocket read failed", "err", err)
			}
			return
		}
		c.dispatch(f)
	}
}

func (c *Channel) dispatch(f frame) {
	switch f.Type {
	case frameMessageAck, frameChannelState:
		c.mu.Lock()
		reply, ok := c.pending[f.RequestID]
		delete(c.pending, f.RequestID)
		c.mu.Unlock()
		if ok {
			reply <- f
		}
	case string(domain.EventMessageAppended):
		var env domain.Envelope
		if err := json.Unmarshal(f.Message, &env); err != nil {
			c.logger.Warn("dropping malformed message frame", "err", err)
			return
		}
		c.emit(domain.ChannelEvent{Kind: domain.EventMessageAppended, UserID: env.User.ID, Message: &env})
	case string(domain.EventTypingStart), string(domain.EventTypingStop):
		ev := domain.ChannelEvent{Kind: domain.EventKind(f.Type)}
		if f.User != nil {
			ev.UserID = f.User.ID
		}
		c.emit(ev)
	default:
		c.logger.Debug("ignoring frame", "type", f.Type)
	}
}

func (c *Channel) emit(ev domain.ChannelEvent) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

func (c *Channel) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, reply := range c.pending {
		close(reply)
		delete(c.pending, id)
	}
}

var _ usecase.Channel = (*Channel)(nil)
