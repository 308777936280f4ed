package models

import "time"

// Message is a durably written, immutable chat message.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Text           string    `json:"text"`
	SenderID       string    `json:"sender_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// PendingMessage is a locally originated message not yet confirmed by the store.
type PendingMessage struct {
	TempID    string    `json:"temp_id"`
	Text      string    `json:"text"`
	SenderID  string    `json:"sender_id"`
	CreatedAt time.Time `json:"created_at"`
	Acked     bool      `json:"-"`
	AckedAt   time.Time `json:"-"`
}

// HeadEntry is the latest known message of a conversation.
type HeadEntry struct {
	Text     string `json:"text"`
	AtMillis int64  `json:"at"`
}

// HeadOf builds the head entry for a message.
func HeadOf(m Message) HeadEntry {
	return HeadEntry{Text: Preview(m.Text), AtMillis: m.CreatedAt.UnixMilli()}
}

// MessageCursor positions a page after the given message.
type MessageCursor struct {
	CreatedAt time.Time
	ID        string
}

// SendMessageRequest defines the request body for sending a chat message
type SendMessageRequest struct {
	Text string `json:"text" validate:"required,max=4000"`
}
