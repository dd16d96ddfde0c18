package model

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageType is the payload kind of a message.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeFile  MessageType = "file"
	TypeVoice MessageType = "voice"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeFile, TypeVoice:
		return true
	default:
		return false
	}
}

// DeliveryState tracks how far a message has progressed toward its readers.
// States only move forward: sent < delivered < read.
type DeliveryState string

const (
	StateSent      DeliveryState = "sent"
	StateDelivered DeliveryState = "delivered"
	StateRead      DeliveryState = "read"
)

func (s DeliveryState) rank() int {
	switch s {
	case StateSent:
		return 1
	case StateDelivered:
		return 2
	case StateRead:
		return 3
	default:
		return 0
	}
}

// Valid reports whether s is a known delivery state.
func (s DeliveryState) Valid() bool { return s.rank() > 0 }

// Max returns the further of s and other.
func (s DeliveryState) Max(other DeliveryState) DeliveryState {
	if other.rank() > s.rank() {
		return other
	}
	return s
}

// Reaction is a single (user, emoji) pair on a message.
type Reaction struct {
	UserID string `json:"userId"`
	Emoji  string `json:"emoji"`
}

// Message is the unit of a room timeline.
type Message struct {
	ID            string        `json:"id"`
	RoomID        string        `json:"roomId"`
	SenderID      string        `json:"senderId"`
	Content       string        `json:"content,omitempty"`
	Type          MessageType   `json:"type"`
	AttachmentRef string        `json:"attachmentRef,omitempty"`
	ReplyToID     string        `json:"replyToId,omitempty"`
	Reactions     []Reaction    `json:"reactions,omitempty"`
	DeletedFor    []string      `json:"deletedFor,omitempty"`
	Status        DeliveryState `json:"status,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// LocalIDPrefix marks client-generated ids that have not been confirmed.
const LocalIDPrefix = "local:"

// NewLocalID returns a fresh client-side id.
func NewLocalID() string {
	return LocalIDPrefix + uuid.NewString()
}

// IsLocalID reports whether id was produced by NewLocalID.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	out := m
	out.Reactions = slices.Clone(m.Reactions)
	out.DeletedFor = slices.Clone(m.DeletedFor)
	return out
}

// HiddenFor reports whether userID has deleted the message for themselves.
func (m Message) HiddenFor(userID string) bool {
	return userID != "" && slices.Contains(m.DeletedFor, userID)
}

// HasReaction reports whether userID holds emoji on m.
func (m Message) HasReaction(userID, emoji string) bool {
	return slices.Contains(m.Reactions, Reaction{UserID: userID, Emoji: emoji})
}

// Validate checks the fields a client must supply before sending.
func (m Message) Validate() error {
	if m.RoomID == "" {
		return errors.New("message: room id is required")
	}
	if !m.Type.Valid() {
		return fmt.Errorf("message: unknown type %q", m.Type)
	}
	if m.Type == TypeText && strings.TrimSpace(m.Content) == "" {
		return errors.New("message: text message requires content")
	}
	if m.Type != TypeText && m.AttachmentRef == "" {
		return fmt.Errorf("message: %s message requires an attachment", m.Type)
	}
	return nil
}

// Normalize enforces the set semantics of reactions and deletions in place:
// duplicate pairs collapse, and reactions held by users who deleted the
// message are dropped.
func (m *Message) Normalize() {
	if m.Type == "" {
		m.Type = TypeText
	}
	if !m.Status.Valid() {
		m.Status = StateSent
	}
	m.DeletedFor = uniqueStrings(m.DeletedFor)
	if len(m.Reactions) == 0 {
		m.Reactions = nil
		return
	}
	seen := make(map[Reaction]struct{}, len(m.Reactions))
	kept := m.Reactions[:0:0]
	for _, r := range m.Reactions {
		if r.UserID == "" || r.Emoji == "" {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		if slices.Contains(m.DeletedFor, r.UserID) {
			continue
		}
		seen[r] = struct{}{}
		kept = append(kept, r)
	}
	if len(kept) == 0 {
		kept = nil
	}
	m.Reactions = kept
}

// Merge overlays an authoritative server copy onto an existing entry.
// The deletion set is the union of both, delivery state never regresses,
// and identity or thread fields the server left blank are kept.
func Merge(existing, incoming Message) Message {
	out := incoming.Clone()
	if out.RoomID == "" {
		out.RoomID = existing.RoomID
	}
	if out.SenderID == "" {
		out.SenderID = existing.SenderID
	}
	if out.ReplyToID == "" {
		out.ReplyToID = existing.ReplyToID
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = existing.CreatedAt
	}
	out.DeletedFor = append(slices.Clone(existing.DeletedFor), incoming.DeletedFor...)
	out.Status = existing.Status.Max(incoming.Status)
	out.Normalize()
	return out
}

// ToggleReaction returns a new reaction set with (userID, emoji) removed if
// present, or added otherwise. The input slice is not modified.
func ToggleReaction(reactions []Reaction, userID, emoji string) []Reaction {
	target := Reaction{UserID: userID, Emoji: emoji}
	if i := slices.Index(reactions, target); i >= 0 {
		out := slices.Delete(slices.Clone(reactions), i, i+1)
		if len(out) == 0 {
			return nil
		}
		return out
	}
	return append(slices.Clone(reactions), target)
}

func uniqueStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || slices.Contains(out, s) {
			continue
		}
		out = append(out, s)
	}
	return out
}
