package domain

import "time"

// TimestampLayout renders message timestamps: RFC 3339, UTC, milliseconds.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Message is a durably stored chat message.
type Message struct {
	ID           string
	Room         string
	SenderID     string
	SenderHandle string
	Content      string
	CreatedAt    time.Time
}

// MessageView is the client-facing shape of a message, shared by live
// frames and history reads.
type MessageView struct {
	ID           string `json:"id"`
	Room         string `json:"room"`
	SenderHandle string `json:"sender_handle"`
	Content      string `json:"content"`
	CreatedAt    string `json:"created_at"`
}

// View converts the message to its client-facing shape.
func (m *Message) View() MessageView {
	return MessageView{
		ID:           m.ID,
		Room:         m.Room,
		SenderHandle: m.SenderHandle,
		Content:      m.Content,
		CreatedAt:    FormatTimestamp(m.CreatedAt),
	}
}

// FormatTimestamp renders t with TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
