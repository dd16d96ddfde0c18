package rest

import (
	"fmt"

	"github.com/vovakirdan/chatsync-sdk/chatsync/model"
)

// Message endpoint types

// MessagesResponse is the snapshot of one room.
type MessagesResponse struct {
	Messages []model.Message `json:"messages"`
}

// SendRequest is the request body for POST /messages/send.
type SendRequest struct {
	RoomID        string            `json:"roomId"`
	Content       string            `json:"content,omitempty"`
	Type          model.MessageType `json:"type"`
	AttachmentRef string            `json:"attachmentRef,omitempty"`
	ReplyToID     string            `json:"replyToId,omitempty"`
}

// ReplyRequest is the request body for POST /messages/{id}/reply.
type ReplyRequest struct {
	Content       string            `json:"content,omitempty"`
	Type          model.MessageType `json:"type"`
	AttachmentRef string            `json:"attachmentRef,omitempty"`
}

// ReactRequest is the request body for POST /messages/{id}/react.
type ReactRequest struct {
	Emoji string `json:"emoji"`
}

// StatusRequest is the request body for PUT /messages/{id}/status.
type StatusRequest struct {
	Status model.DeliveryState `json:"status"`
}

// DeleteResponse acknowledges a delete-for-self.
type DeleteResponse struct {
	Message string `json:"message"`
}

// User types

// User is the public profile of a participant.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// UsersResponse is the wrapped form of GET /users.
type UsersResponse struct {
	Users []User `json:"users"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// APIError is returned for every non-success HTTP status.
type APIError struct {
	Status  int
	Message string
	Body    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("http error: %s (status %d)", e.Body, e.Status)
}

// StatusCode returns the HTTP status of the rejected request.
func (e *APIError) StatusCode() int { return e.Status }
