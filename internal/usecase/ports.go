package usecase

import (
	"context"

	"chatsync/internal/domain"
	"chatsync/internal/recovery"
)

// Channel is an open subscription to one conversation's real-time channel.
type Channel interface {
	// MessageCount reports how many messages the channel currently holds.
	MessageCount(ctx context.Context) (int, error)
	// Publish sends msg and returns once the transport accepted or rejected it.
	Publish(ctx context.Context, msg domain.OutboundMessage) error
	// Events delivers inbound events until the channel is closed.
	Events() <-chan domain.ChannelEvent
	Close() error
}

// ChannelDialer opens conversation channels.
type ChannelDialer interface {
	Open(ctx context.Context, conversationID string) (Channel, error)
}

// HistoryFetcher reads the ordered REST history of a conversation.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, conversationID string) ([]domain.HistoryRecord, error)
}

// SubmitRequest is the backend processing notification for one send.
type SubmitRequest struct {
	Content        string
	ConversationID string
	ImageBase64    string
}

// MessageSubmitter notifies the backend that a user message needs processing.
type MessageSubmitter interface {
	SubmitMessage(ctx context.Context, req SubmitRequest) error
}

// PreferenceStore persists the per-conversation durable values.
type PreferenceStore interface {
	LoadPreferences(ctx context.Context, conversationID string) (domain.Preferences, error)
	SaveSelectedVariation(ctx context.Context, conversationID string, v domain.Variation) error
	SaveMinted(ctx context.Context, conversationID string, minted bool) error
}

// Uploader stores an attachment remotely and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, conversationID string, f domain.LocalFile) (string, error)
}

// PreviewHandle is a locally generated preview of a picked file. Release must
// be called exactly once.
type PreviewHandle interface {
	URL() string
	Release() error
}

// Previewer creates preview handles for picked files.
type Previewer interface {
	Preview(ctx context.Context, f domain.LocalFile) (PreviewHandle, error)
}

// Observer receives engine state changes. Calls are made without engine
// locks held.
type Observer interface {
	MessagesChanged(conversationID string, messages []domain.Message)
	SessionChanged(conversationID string, session domain.ConversationSession)
}

// Metrics records engine activity. A nil Metrics is valid.
type Metrics interface {
	MergeObserved(outcome string)
	RollbackObserved()
	HydrationObserved(outcome string)
	SendObserved(outcome string)
	UploadFailed()
}

// ErrorReporter receives errors from background work that has no caller to
// return them to.
type ErrorReporter interface {
	Handle(err error) recovery.Class
}
