package fakeserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vovakirdan/chatsync-sdk/chatsync"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// peer is one socket connection and the rooms it has joined. Membership is
// connection-scoped and gone once the socket closes.
type peer struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
	rooms  map[string]bool
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", map[string]any{"error": err.Error()})
		return
	}
	p := &peer{
		userID: userFrom(r),
		conn:   conn,
		send:   make(chan []byte, 256),
		rooms:  make(map[string]bool),
	}
	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.dials++
	s.mu.Unlock()
	s.logger.Debug("socket connected", map[string]any{"user": p.userID})

	go s.writePump(p)
	s.readPump(p)
}

func (s *Server) readPump(p *peer) {
	defer func() {
		s.mu.Lock()
		if _, ok := s.peers[p]; ok {
			delete(s.peers, p)
			close(p.send)
		}
		s.mu.Unlock()
		_ = p.conn.Close()
		s.logger.Debug("socket closed", map[string]any{"user": p.userID})
	}()

	p.conn.SetReadLimit(maxMessageSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("socket read failed", map[string]any{"user": p.userID, "error": err.Error()})
			}
			return
		}
		var env chatsync.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.sendError(p, "bad_request", "malformed frame")
			continue
		}
		s.handleFrame(p, env)
	}
}

func (s *Server) handleFrame(p *peer, env chatsync.Envelope) {
	switch env.Event {
	case chatsync.EventJoinRoom, chatsync.EventLeaveRoom:
		var roomID string
		if err := json.Unmarshal(env.Data, &roomID); err != nil || roomID == "" {
			s.sendError(p, "bad_request", env.Event+" expects a room id")
			return
		}
		s.mu.Lock()
		if env.Event == chatsync.EventJoinRoom {
			p.rooms[roomID] = true
		} else {
			delete(p.rooms, roomID)
		}
		s.frames = append(s.frames, Frame{UserID: p.userID, Event: env.Event, RoomID: roomID})
		s.mu.Unlock()
	default:
		s.sendError(p, "bad_request", "unknown event "+env.Event)
	}
}

func (s *Server) writePump(p *peer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = p.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// broadcast queues event to every peer joined to roomID. Slow peers miss
// frames rather than stalling the sender.
func (s *Server) broadcast(roomID, event string, payload any) {
	env, err := chatsync.NewEnvelope(event, payload)
	if err != nil {
		s.logger.Error("broadcast encode failed", map[string]any{"event": event, "error": err.Error()})
		return
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := range s.peers {
		if !p.rooms[roomID] {
			continue
		}
		select {
		case p.send <- frame:
		default:
			s.logger.Warn("peer send buffer full, frame dropped", map[string]any{"user": p.userID, "event": event})
		}
	}
}

func (s *Server) sendError(p *peer, code, msg string) {
	env, err := chatsync.NewEnvelope(chatsync.EventError, chatsync.Error{Code: code, Msg: msg})
	if err != nil {
		return
	}
	frame, _ := json.Marshal(env)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[p]; !ok {
		return
	}
	select {
	case p.send <- frame:
	default:
	}
}
