package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
)

// Patch is a partial message update as delivered by the live stream.
// It remembers which fields were present so that applying it only touches
// those fields; a field sent as JSON null is an explicit clear.
type Patch struct {
	ID     string
	RoomID string
	fields map[string]json.RawMessage
}

// Field names understood by Patch.
const (
	FieldContent       = "content"
	FieldType          = "type"
	FieldAttachmentRef = "attachmentRef"
	FieldReplyToID     = "replyToId"
	FieldReactions     = "reactions"
	FieldDeletedFor    = "deletedFor"
	FieldStatus        = "status"
	FieldCreatedAt     = "createdAt"
	FieldSenderID      = "senderId"
)

var nullJSON = []byte("null")

// UnmarshalJSON implements json.Unmarshaler.
func (p *Patch) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var id, room string
	if raw, ok := fields["id"]; ok {
		if err := json.Unmarshal(raw, &id); err != nil {
			return fmt.Errorf("patch id: %w", err)
		}
	}
	if raw, ok := fields["roomId"]; ok {
		if err := json.Unmarshal(raw, &room); err != nil {
			return fmt.Errorf("patch roomId: %w", err)
		}
	}
	if id == "" {
		return errors.New("patch: missing id")
	}
	delete(fields, "id")
	delete(fields, "roomId")
	p.ID, p.RoomID, p.fields = id, room, fields
	return nil
}

// MarshalJSON implements json.Marshaler.
func (p Patch) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(p.fields)+2)
	for k, v := range p.fields {
		out[k] = v
	}
	id, _ := json.Marshal(p.ID)
	out["id"] = id
	if p.RoomID != "" {
		room, _ := json.Marshal(p.RoomID)
		out["roomId"] = room
	}
	return json.Marshal(out)
}

// PatchOf builds a patch that sets every non-empty field of m.
func PatchOf(m Message) Patch {
	data, _ := json.Marshal(m)
	var p Patch
	_ = json.Unmarshal(data, &p)
	return p
}

// Has reports whether the patch carries field.
func (p Patch) Has(field string) bool {
	_, ok := p.fields[field]
	return ok
}

// Message decodes the patch as a complete message, for inserting an id the
// timeline has not seen yet.
func (p Patch) Message() (Message, error) {
	data, err := p.MarshalJSON()
	if err != nil {
		return Message{}, err
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, err
	}
	m.Normalize()
	return m, nil
}

// Apply patches m in place. Room and sender are immutable once set, the
// deletion set only grows, and delivery state never regresses.
func (p Patch) Apply(m *Message) error {
	if m.ID != "" && m.ID != p.ID {
		return fmt.Errorf("patch: id %q does not match message %q", p.ID, m.ID)
	}
	for field, raw := range p.fields {
		isNull := bytes.Equal(bytes.TrimSpace(raw), nullJSON)
		var err error
		switch field {
		case FieldContent:
			err = setString(&m.Content, raw, isNull)
		case FieldAttachmentRef:
			err = setString(&m.AttachmentRef, raw, isNull)
		case FieldReplyToID:
			err = setString(&m.ReplyToID, raw, isNull)
		case FieldSenderID:
			if m.SenderID == "" && !isNull {
				err = json.Unmarshal(raw, &m.SenderID)
			}
		case FieldType:
			if !isNull {
				var t MessageType
				if err = json.Unmarshal(raw, &t); err == nil && t.Valid() {
					m.Type = t
				}
			}
		case FieldReactions:
			if isNull {
				m.Reactions = nil
				continue
			}
			var rs []Reaction
			if err = json.Unmarshal(raw, &rs); err == nil {
				m.Reactions = rs
			}
		case FieldDeletedFor:
			if isNull {
				continue
			}
			var ids []string
			if err = json.Unmarshal(raw, &ids); err == nil {
				m.DeletedFor = append(slices.Clone(m.DeletedFor), ids...)
			}
		case FieldStatus:
			if isNull {
				continue
			}
			var s DeliveryState
			if err = json.Unmarshal(raw, &s); err == nil {
				m.Status = m.Status.Max(s)
			}
		case FieldCreatedAt:
			if isNull {
				continue
			}
			var ts time.Time
			if err = json.Unmarshal(raw, &ts); err == nil && !ts.IsZero() {
				m.CreatedAt = ts
			}
		}
		if err != nil {
			return fmt.Errorf("patch field %s: %w", field, err)
		}
	}
	if m.ID == "" {
		m.ID = p.ID
	}
	if m.RoomID == "" {
		m.RoomID = p.RoomID
	}
	m.Normalize()
	return nil
}

func setString(dst *string, raw json.RawMessage, isNull bool) error {
	if isNull {
		*dst = ""
		return nil
	}
	return json.Unmarshal(raw, dst)
}
