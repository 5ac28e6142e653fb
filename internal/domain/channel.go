package domain

import "time"

// EnvelopeUser identifies the channel member that authored an envelope.
type EnvelopeUser struct {
	ID string `json:"id"`
}

// Envelope is the wire shape of a channel message.
type Envelope struct {
	ID            string       `json:"id"`
	Text          string       `json:"text"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	User          EnvelopeUser `json:"user"`
	Attachments   []Attachment `json:"attachments,omitempty"`
	CorrelationID string       `json:"correlationId,omitempty"`
}

// OutboundMessage is what the engine publishes to a channel. Role selects
// which of the two channel members the message is sent as.
type OutboundMessage struct {
	Text          string       `json:"text"`
	Attachments   []Attachment `json:"attachments,omitempty"`
	CorrelationID string       `json:"correlationId,omitempty"`
	Role          Role         `json:"role"`
	CreatedAt     time.Time    `json:"created_at,omitempty"`
}

// EventKind enumerates the channel events the engine consumes.
type EventKind string

const (
	EventMessageAppended EventKind = "message.new"
	EventTypingStart     EventKind = "typing.start"
	EventTypingStop      EventKind = "typing.stop"
)

// ChannelEvent is a single inbound event from the real-time channel.
type ChannelEvent struct {
	Kind    EventKind
	UserID  string
	Message *Envelope
}

// Identities holds the two fixed member ids of a conversation channel.
type Identities struct {
	UserID      string
	AssistantID string
}

// RoleFor maps a channel member id onto a message role. Unknown senders are
// treated as system traffic.
func (i Identities) RoleFor(userID string) Role {
	switch userID {
	case "":
		return RoleSystem
	case i.AssistantID:
		return RoleAssistant
	case i.UserID:
		return RoleUser
	default:
		return RoleSystem
	}
}
