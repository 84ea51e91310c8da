package chat

import (
	"encoding/json"
	"errors"
	"fmt"

	"chat-relay/internal/types"

	"github.com/go-playground/validator/v10"
)

// ErrMalformedPayload is returned for inbound frames that are not a valid
// chat message.
var ErrMalformedPayload = errors.New("malformed payload")

var validate = validator.New()

// ParseInbound decodes a client frame. user and content must be present
// strings; fileUrl may be absent, null or a string.
func ParseInbound(raw []byte) (*types.InboundMessage, error) {
	var in types.InboundMessage
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if err := validate.Struct(&in); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return &in, nil
}
