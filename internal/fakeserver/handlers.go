package fakeserver

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/vovakirdan/chatsync-sdk/chatsync"
	"github.com/vovakirdan/chatsync-sdk/chatsync/model"
	"github.com/vovakirdan/chatsync-sdk/chatsync/rest"
)

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r, OpMessages) {
		return
	}
	roomID := chi.URLParam(r, "roomID")
	viewer := userFrom(r)

	s.mu.Lock()
	out := make([]model.Message, 0)
	for _, m := range s.messages {
		if m.RoomID == roomID && !m.HiddenFor(viewer) {
			out = append(out, m.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	writeJSON(w, http.StatusOK, rest.MessagesResponse{Messages: out})
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req rest.SendRequest
	if !decode(w, r, &req) || !s.gate(w, r, OpSend) {
		return
	}
	m := model.Message{
		RoomID:        req.RoomID,
		SenderID:      userFrom(r),
		Content:       req.Content,
		Type:          req.Type,
		AttachmentRef: req.AttachmentRef,
		ReplyToID:     req.ReplyToID,
		Status:        model.StateSent,
	}
	if m.Type == "" {
		m.Type = model.TypeText
	}
	if err := m.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.mu.Lock()
	m = s.insertLocked(m)
	s.mu.Unlock()

	s.broadcast(m.RoomID, chatsync.EventReceiveMessage, m)
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) reply(w http.ResponseWriter, r *http.Request) {
	var req rest.ReplyRequest
	if !decode(w, r, &req) || !s.gate(w, r, OpReply) {
		return
	}
	parentID := chi.URLParam(r, "messageID")

	s.mu.Lock()
	parent, ok := s.messages[parentID]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "parent message not found")
		return
	}
	m := model.Message{
		RoomID:        parent.RoomID,
		SenderID:      userFrom(r),
		Content:       req.Content,
		Type:          req.Type,
		AttachmentRef: req.AttachmentRef,
		ReplyToID:     parentID,
		Status:        model.StateSent,
	}
	if m.Type == "" {
		m.Type = model.TypeText
	}
	if err := m.Validate(); err != nil {
		s.mu.Unlock()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m = s.insertLocked(m)
	s.mu.Unlock()

	s.broadcast(m.RoomID, chatsync.EventReceiveMessage, m)
	writeJSON(w, http.StatusCreated, m)
}

// update runs fn on the stored message named in the URL and returns a
// copy of the result.
func (s *Server) update(w http.ResponseWriter, r *http.Request, fn func(m *model.Message)) (model.Message, bool) {
	id := chi.URLParam(r, "messageID")
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		writeError(w, http.StatusNotFound, "message not found")
		return model.Message{}, false
	}
	fn(m)
	m.Normalize()
	return m.Clone(), true
}

func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r, OpDelete) {
		return
	}
	viewer := userFrom(r)
	m, ok := s.update(w, r, func(m *model.Message) {
		m.DeletedFor = append(m.DeletedFor, viewer)
	})
	if !ok {
		return
	}
	s.broadcast(m.RoomID, chatsync.EventMessageUpdated, map[string]any{
		"id":         m.ID,
		"roomId":     m.RoomID,
		"deletedFor": m.DeletedFor,
	})
	writeJSON(w, http.StatusOK, rest.DeleteResponse{Message: "message deleted"})
}

func (s *Server) react(w http.ResponseWriter, r *http.Request) {
	var req rest.ReactRequest
	if !decode(w, r, &req) || !s.gate(w, r, OpReact) {
		return
	}
	if req.Emoji == "" {
		writeError(w, http.StatusBadRequest, "emoji is required")
		return
	}
	viewer := userFrom(r)
	m, ok := s.update(w, r, func(m *model.Message) {
		m.Reactions = model.ToggleReaction(m.Reactions, viewer, req.Emoji)
	})
	if !ok {
		return
	}
	s.broadcast(m.RoomID, chatsync.EventMessageUpdated, map[string]any{
		"id":        m.ID,
		"roomId":    m.RoomID,
		"reactions": m.Reactions,
	})
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req rest.StatusRequest
	if !decode(w, r, &req) || !s.gate(w, r, OpStatus) {
		return
	}
	if req.Status != model.StateDelivered && req.Status != model.StateRead {
		writeError(w, http.StatusBadRequest, "status must be delivered or read")
		return
	}
	m, ok := s.update(w, r, func(m *model.Message) {
		m.Status = m.Status.Max(req.Status)
	})
	if !ok {
		return
	}
	s.broadcast(m.RoomID, chatsync.EventMessageUpdated, map[string]any{
		"id":     m.ID,
		"roomId": m.RoomID,
		"status": m.Status,
	})
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r, OpUser) {
		return
	}
	s.mu.Lock()
	u, ok := s.users[chi.URLParam(r, "userID")]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r, OpUser) {
		return
	}
	s.mu.Lock()
	users := make([]rest.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	s.mu.Unlock()
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	writeJSON(w, http.StatusOK, rest.UsersResponse{Users: users})
}
