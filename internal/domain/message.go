package domain

import (
	"slices"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Attachment is a single media item on a message.
type Attachment struct {
	Type         string `json:"type"`
	URL          string `json:"image_url"`
	ThumbnailURL string `json:"thumb_url,omitempty"`
	FallbackName string `json:"fallback,omitempty"`
}

// Message is one entry of a conversation log.
//
// ClientID is only set on locally created messages and on server echoes that
// carry the correlation id of the placeholder they confirm.
type Message struct {
	ID           string
	ClientID     string
	Role         Role
	Content      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Attachments  []Attachment
	IsOptimistic bool
}

// Equal reports whether two messages are structurally identical.
func (m Message) Equal(o Message) bool {
	return m.ID == o.ID &&
		m.ClientID == o.ClientID &&
		m.Role == o.Role &&
		m.Content == o.Content &&
		m.CreatedAt.Equal(o.CreatedAt) &&
		m.UpdatedAt.Equal(o.UpdatedAt) &&
		m.IsOptimistic == o.IsOptimistic &&
		slices.Equal(m.Attachments, o.Attachments)
}

// HistoryRecord is one row of the REST history backfill.
type HistoryRecord struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}
