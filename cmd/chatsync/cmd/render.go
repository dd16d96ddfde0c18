package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/vovakirdan/chatsync-sdk/chatsync/model"
	"github.com/vovakirdan/chatsync-sdk/chatsync/timeline"
)

const shortIDLen = 8

// names resolves a user id to a display name.
type names func(userID string) string

type renderer struct {
	store *timeline.Store
	name  names
	now   func() time.Time
}

func (r renderer) render(w io.Writer, roomID string, items []timeline.Item) {
	for _, it := range items {
		r.item(w, roomID, it)
	}
}

func (r renderer) item(w io.Writer, roomID string, it timeline.Item) {
	m := it.Message
	if p, ok := r.store.ReplyPreview(roomID, m); ok {
		if p.Missing {
			fmt.Fprintf(w, "    > %s\n", p.Excerpt)
		} else {
			fmt.Fprintf(w, "    > %s: %s\n", r.name(p.SenderID), p.Excerpt)
		}
	}
	fmt.Fprintf(w, "%-8s %s %s: %s", shortID(m.ID), r.when(it), r.name(m.SenderID), body(m))
	if s := reactionSummary(m.Reactions); s != "" {
		fmt.Fprintf(w, "  %s", s)
	}
	fmt.Fprintf(w, "  %s\n", statusMark(it))
}

func (r renderer) when(it timeline.Item) string {
	if it.Pending || it.Message.CreatedAt.IsZero() {
		return "[now]"
	}
	return "[" + humanize.RelTime(it.Message.CreatedAt, r.now(), "ago", "from now") + "]"
}

func body(m model.Message) string {
	if m.Type != model.TypeText && m.Type != "" {
		return fmt.Sprintf("[%s] %s", m.Type, m.AttachmentRef)
	}
	return m.Content
}

// reactionSummary renders reactions as "👍×2 🎉" ordered by emoji.
func reactionSummary(rs []model.Reaction) string {
	counts := make(map[string]int)
	for _, r := range rs {
		counts[r.Emoji]++
	}
	emojis := make([]string, 0, len(counts))
	for e := range counts {
		emojis = append(emojis, e)
	}
	sort.Strings(emojis)
	parts := make([]string, 0, len(emojis))
	for _, e := range emojis {
		if n := counts[e]; n > 1 {
			parts = append(parts, fmt.Sprintf("%s×%d", e, n))
		} else {
			parts = append(parts, e)
		}
	}
	return strings.Join(parts, " ")
}

func statusMark(it timeline.Item) string {
	if it.Pending {
		return "(sending)"
	}
	switch it.Message.Status {
	case model.StateRead:
		return "(read)"
	case model.StateDelivered:
		return "(delivered)"
	default:
		return "(sent)"
	}
}

func shortID(id string) string {
	if model.IsLocalID(id) {
		return "local"
	}
	if len(id) > shortIDLen {
		return id[:shortIDLen]
	}
	return id
}

// resolveID expands a prefix typed by the user to the single server id in
// items that starts with it.
func resolveID(items []timeline.Item, prefix string) (string, error) {
	if prefix == "" {
		return "", fmt.Errorf("missing message id")
	}
	var match string
	for _, it := range items {
		id := it.Message.ID
		if it.Pending || !strings.HasPrefix(id, prefix) {
			continue
		}
		if id == prefix {
			return id, nil
		}
		if match != "" {
			return "", fmt.Errorf("id %q is ambiguous", prefix)
		}
		match = id
	}
	if match == "" {
		return "", fmt.Errorf("no message matches %q", prefix)
	}
	return match, nil
}
