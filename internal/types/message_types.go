package types

import "chat-relay/internal/models"

type FrameType string

const (
	TypeOldMessages FrameType = "oldMessages"
	TypeError       FrameType = "error"
)

// HistoryFrame is sent once to a joining connection.
type HistoryFrame struct {
	Type FrameType         `json:"type"`
	Data []*models.Message `json:"data"`
}

// ErrorFrame is sent only to the connection whose request failed.
type ErrorFrame struct {
	Type  FrameType `json:"type"`
	Error string    `json:"error"`
}

// InboundMessage is what a client sends. Pointers distinguish a missing field
// from an empty one.
type InboundMessage struct {
	User    *string `json:"user" validate:"required"`
	Content *string `json:"content" validate:"required"`
	FileURL *string `json:"fileUrl"`
}
