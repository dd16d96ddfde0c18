package timeline

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/vovakirdan/chatsync-sdk/chatsync/model"
)

// PlaceholderExcerpt stands in for a parent that is not held or is hidden
// from the viewer.
const PlaceholderExcerpt = "message"

const excerptRunes = 60

// Preview is the quoted parent shown above a reply.
type Preview struct {
	ParentID string
	SenderID string
	Excerpt  string
	// Missing is set when the parent could not be shown.
	Missing bool
}

// ReplyPreview resolves the parent of m within roomID. It returns false when
// m is not a reply.
func (s *Store) ReplyPreview(roomID string, m model.Message) (Preview, bool) {
	if m.ReplyToID == "" {
		return Preview{}, false
	}
	p := Preview{ParentID: m.ReplyToID, Excerpt: PlaceholderExcerpt, Missing: true}

	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[roomID]
	if !ok {
		return p, true
	}
	e, ok := r.entries[m.ReplyToID]
	if !ok || e.hiddenFor(s.viewer) {
		return p, true
	}
	p.SenderID = e.msg.SenderID
	p.Excerpt = Excerpt(e.msg)
	p.Missing = false
	return p, true
}

// Excerpt renders a one-line summary of m.
func Excerpt(m model.Message) string {
	if m.Type != model.TypeText && m.Type != "" {
		return fmt.Sprintf("[%s]", m.Type)
	}
	line := strings.Join(strings.Fields(m.Content), " ")
	if utf8.RuneCountInString(line) <= excerptRunes {
		return line
	}
	runes := []rune(line)
	return string(runes[:excerptRunes-1]) + "…"
}
