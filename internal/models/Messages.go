package models

import (
	"time"

	"github.com/google/uuid"
)

// Message is a stored chat record. It is encoded verbatim on the wire, so a
// missing attachment is sent as "fileUrl": null.
type Message struct {
	ID        uuid.UUID `json:"id"`
	User      string    `json:"user"`
	Content   string    `json:"content"`
	FileURL   *string   `json:"fileUrl"`
	CreatedAt time.Time `json:"createdAt"`
}

func NewMessage(user, content string, fileURL *string, createdAt time.Time) *Message {
	return &Message{
		ID:        uuid.New(),
		User:      user,
		Content:   content,
		FileURL:   fileURL,
		CreatedAt: createdAt,
	}
}
