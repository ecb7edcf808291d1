package request

import "fmt"

// Message is the body of a response that only carries text.
type Message struct {
	Message string `json:"message"`
}

// NewMessage creates a Message, formatting it when args are given.
func NewMessage(format string, args ...any) *Message {
	if len(args) == 0 {
		return &Message{Message: format}
	}
	return &Message{Message: fmt.Sprintf(format, args...)}
}

// MessageError is the body of a failed request. Message says what failed in words for an operator,
// Error is the underlying error and Field names the offending request field, when there is one.
type MessageError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
}

// NewMessageError creates a MessageError for err.
func NewMessageError(message string, err error) *MessageError {
	return &MessageError{
		Message: message,
		Error:   err.Error(),
	}
}

// WithField sets the offending field.
func (m *MessageError) WithField(field string) *MessageError {
	m.Field = field
	return m
}
