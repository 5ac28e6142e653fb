package usecase

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"chatsync/internal/domain"
)

const (
	MaxAttachments     = 4
	MaxAttachmentBytes = 10 << 20
	// DefaultTypingCueDelay is how long after a send the assistant is shown
	// as typing, unless a reply arrived first.
	DefaultTypingCueDelay = 300 * time.Millisecond
)

// ErrSendInFlight is returned by Send when another send for the same
// conversation has not finished. Nothing is sent.
var ErrSendInFlight = errors.New("usecase: send already in flight")

var allowedExtensions = []string{"jpeg", "jpg", "png", "gif", "webp"}

// ValidateSend checks a send request before any I/O happens.
func ValidateSend(content string, files []domain.LocalFile) error {
	if strings.TrimSpace(content) == "" && len(files) == 0 {
		return newError(ErrorValidation, "empty_message", nil)
	}
	if len(files) > MaxAttachments {
		return newError(ErrorValidation, "too_many_attachments", fmt.Errorf("%d files, at most %d allowed", len(files), MaxAttachments))
	}
	for _, f := range files {
		if f.Size > MaxAttachmentBytes {
			return newError(ErrorValidation, "attachment_too_large", fmt.Errorf("%s is %d bytes", f.Name, f.Size))
		}
		if !slices.Contains(allowedExtensions, f.Extension()) {
			return newError(ErrorValidation, "unsupported_attachment_type", fmt.Errorf("%s has type %q", f.Name, f.Extension()))
		}
	}
	return nil
}

type SendConfig struct {
	Uploader  Uploader
	Previewer Previewer
	Submitter MessageSubmitter
	Errors    ErrorReporter
	Logger    *slog.Logger
	Metrics   Metrics

	// TypingCueDelay overrides DefaultTypingCueDelay when positive.
	TypingCueDelay time.Duration
	Now            func() time.Time
}

// OptimisticSendController shows a user message immediately, uploads its
// attachments, publishes it and notifies the backend. A publish failure
// rolls the placeholder back.
type OptimisticSendController struct {
	session   *ChannelSession
	logger    *slog.Logger
	uploader  Uploader
	previewer Previewer
	submitter MessageSubmitter
	errors    ErrorReporter
	metrics   Metrics
	typingCue time.Duration
	now       func() time.Time
}

func NewOptimisticSendController(session *ChannelSession, cfg SendConfig) (*OptimisticSendController, error) {
	if session == nil {
		return nil, fmt.Errorf("usecase: channel session is nil")
	}
	if cfg.Uploader == nil {
		return nil, fmt.Errorf("usecase: uploader is nil")
	}
	if cfg.Previewer == nil {
		return nil, fmt.Errorf("usecase: previewer is nil")
	}
	if cfg.Submitter == nil {
		return nil, fmt.Errorf("usecase: message submitter is nil")
	}
	if cfg.Errors == nil {
		return nil, fmt.Errorf("usecase: error reporter is nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	delay := cfg.TypingCueDelay
	if delay <= 0 {
		delay = DefaultTypingCueDelay
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &OptimisticSendController{
		session:   session,
		logger:    logger,
		uploader:  cfg.Uploader,
		previewer: cfg.Previewer,
		submitter: cfg.Submitter,
		errors:    cfg.Errors,
		metrics:   orNoopMetrics(cfg.Metrics),
		typingCue: delay,
		now:       now,
	}, nil
}

// Send posts content with files to the active conversation. While a send is
// in flight further calls do nothing and return ErrSendInFlight. Validation
// errors and publish failures are returned; backend notification errors go
// to the error reporter.
func (c *OptimisticSendController) Send(ctx context.Context, content string, files []domain.LocalFile) error {
	if err := ValidateSend(content, files); err != nil {
		return err
	}
	conv, err := c.session.active()
	if err != nil {
		return err
	}
	if !conv.sending.CompareAndSwap(false, true) {
		conv.logger.Debug("send ignored while another send is in flight")
		return ErrSendInFlight
	}
	defer conv.sending.Store(false)

	ch, _, ok := conv.live()
	if !ok {
		return newError(ErrorNotConnected, "channel_not_open", ErrNoConversation)
	}
	ctx, stop := conv.bind(ctx)
	defer stop()

	now := c.now()
	corr := conv.newCorrelationID(now)
	defer conv.releaseCorrelationID(corr)

	previews := make([]*trackedPreview, 0, len(files))
	defer func() {
		for _, tp := range previews {
			conv.previews.release(tp)
		}
	}()
	local := make([]domain.Attachment, 0, len(files))
	for _, f := range files {
		att := domain.Attachment{Type: "image", FallbackName: f.Name}
		h, err := c.previewer.Preview(ctx, f)
		if err != nil {
			conv.logger.Warn("failed to build attachment preview", "file", f.Name, "err", err)
		} else {
			previews = append(previews, conv.previews.track(h))
			att.URL = h.URL()
			att.ThumbnailURL = h.URL()
		}
		local = append(local, att)
	}

	placeholder := domain.Message{
		ID:           corr,
		ClientID:     corr,
		Role:         domain.RoleUser,
		Content:      content,
		CreatedAt:    now,
		UpdatedAt:    now,
		IsOptimistic: true,
	}
	if len(local) > 0 {
		placeholder.Attachments = local
	}
	if conv.store.Merge(placeholder) {
		c.session.notifyMessages(conv)
	}

	seq := conv.state.currentAssistantSeq()
	conv.scheduleTypingCue(c.typingCue, func() {
		_, changed := conv.state.update(func(st *sessionState) {
			if st.assistantSeq == seq {
				st.isTyping = true
			}
		})
		if changed {
			c.session.notifySession(conv)
		}
	})

	uploaded := c.uploadAll(ctx, conv, files)

	err = ch.Publish(ctx, domain.OutboundMessage{
		Text:          content,
		Attachments:   uploaded,
		CorrelationID: corr,
		Role:          domain.RoleUser,
		CreatedAt:     now,
	})
	if err != nil {
		c.rollback(conv, corr)
		conv.logger.Warn("publish rejected, placeholder rolled back", "correlation_id", corr, "err", err)
		c.metrics.SendObserved("rolled_back")
		return newError(ErrorSendFailure, "publish_rejected", err)
	}
	c.metrics.SendObserved("published")

	c.notifyBackend(conv, content, files)
	return nil
}

// uploadAll uploads files concurrently. Failed uploads are left out of the
// result; the rest keep their original order.
func (c *OptimisticSendController) uploadAll(ctx context.Context, conv *conversation, files []domain.LocalFile) []domain.Attachment {
	if len(files) == 0 {
		return nil
	}
	urls := make([]string, len(files))
	var g errgroup.Group
	for i, f := range files {
		g.Go(func() error {
			url, err := c.uploader.Upload(ctx, conv.id, f)
			if err != nil {
				conv.logger.Warn("attachment upload failed", "file", f.Name, "err", err)
				c.metrics.UploadFailed()
				c.errors.Handle(newError(ErrorTransport, "upload_failed", err))
				return nil
			}
			urls[i] = url
			return nil
		})
	}
	_ = g.Wait()

	out := make([]domain.Attachment, 0, len(files))
	for i, url := range urls {
		if url == "" {
			continue
		}
		out = append(out, domain.Attachment{Type: "image", URL: url, FallbackName: files[i].Name})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (c *OptimisticSendController) rollback(conv *conversation, corr string) {
	conv.cancelTypingCue()
	removed := conv.store.RemoveByClientID(corr)
	_, changed := conv.state.update(func(st *sessionState) { st.isTyping = false })
	if removed {
		c.metrics.RollbackObserved()
		c.session.notifyMessages(conv)
	}
	if changed {
		c.session.notifySession(conv)
	}
}

// notifyBackend tells the backend to process the message. It runs detached
// from the send and has no deadline of its own; it stops with the
// conversation.
func (c *OptimisticSendController) notifyBackend(conv *conversation, content string, files []domain.LocalFile) {
	req := SubmitRequest{Content: content, ConversationID: conv.id}
	if len(files) > 0 {
		data, err := os.ReadFile(files[0].Path)
		if err != nil {
			conv.logger.Warn("failed to read attachment for backend", "file", files[0].Name, "err", err)
		} else {
			req.ImageBase64 = base64.StdEncoding.EncodeToString(data)
		}
	}
	conv.goTracked(func() {
		if err := c.submitter.SubmitMessage(conv.ctx, req); err != nil {
			c.errors.Handle(newError(ErrorTransport, "backend_submit_error", err))
		}
	})
}
