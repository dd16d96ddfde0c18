// Package fakeserver is an in-memory chat backend speaking the REST and
// socket protocol the SDK consumes. It backs the engine tests and the
// chatsim command.
package fakeserver

import (
	"encoding/json"
	"net/http"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vovakirdan/chatsync-sdk/chatsync"
	"github.com/vovakirdan/chatsync-sdk/chatsync/model"
	"github.com/vovakirdan/chatsync-sdk/chatsync/rest"
)

// Operations that can be failed or held.
const (
	OpMessages = "messages"
	OpSend     = "send"
	OpReply    = "reply"
	OpDelete   = "delete"
	OpReact    = "react"
	OpStatus   = "status"
	OpUser     = "user"
)

// Config configures a Server.
type Config struct {
	// Secret signs and verifies HS256 bearer tokens.
	Secret []byte
	Logger chatsync.Logger
	// AccessLog enables chi's request logger.
	AccessLog bool
	Now       func() time.Time
}

// Frame is one join or leave received over a socket.
type Frame struct {
	UserID string
	Event  string
	RoomID string
}

// Server is safe for concurrent use.
type Server struct {
	secret   []byte
	logger   chatsync.Logger
	now      func() time.Time
	router   chi.Router
	upgrader websocket.Upgrader

	mu       sync.Mutex
	messages map[string]*model.Message
	users    map[string]rest.User
	peers    map[*peer]struct{}
	frames   []Frame
	failures map[string][]int
	holds    map[string]chan struct{}
	dials    int
}

// New returns an empty server.
func New(cfg Config) *Server {
	s := &Server{
		secret:   cfg.Secret,
		logger:   cfg.Logger,
		now:      cfg.Now,
		messages: make(map[string]*model.Message),
		users:    make(map[string]rest.User),
		peers:    make(map[*peer]struct{}),
		failures: make(map[string][]int),
		holds:    make(map[string]chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	if len(s.secret) == 0 {
		s.secret = []byte("chatsim")
	}
	if s.logger == nil {
		s.logger = chatsync.NopLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}

	r := chi.NewRouter()
	if cfg.AccessLog {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/ws", s.serveWS)
		r.Get("/messages/{roomID}", s.getMessages)
		r.Post("/messages/send", s.sendMessage)
		r.Delete("/messages/{messageID}", s.deleteMessage)
		r.Post("/messages/{messageID}/react", s.react)
		r.Post("/messages/{messageID}/reply", s.reply)
		r.Put("/messages/{messageID}/status", s.updateStatus)
		r.Get("/users", s.listUsers)
		r.Get("/users/{userID}", s.getUser)
	})
	s.router = r
	return s
}

// Handler returns the HTTP handler serving both REST and the socket.
func (s *Server) Handler() http.Handler { return s.router }

// AddUser registers a profile for the /users endpoints.
func (s *Server) AddUser(u rest.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// Seed stores m as-is, assigning an id and timestamp when missing, without
// broadcasting.
func (s *Server) Seed(m model.Message) model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(m)
}

// Post stores a message from senderID and broadcasts it like a send.
func (s *Server) Post(roomID, senderID, content string) model.Message {
	s.mu.Lock()
	m := s.insertLocked(model.Message{RoomID: roomID, SenderID: senderID, Content: content, Type: model.TypeText})
	s.mu.Unlock()
	s.broadcast(roomID, chatsync.EventReceiveMessage, m)
	return m
}

// Message returns the stored copy of id.
func (s *Server) Message(id string) (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return model.Message{}, false
	}
	return m.Clone(), true
}

// FailNext makes the next request for op answer with status.
func (s *Server) FailNext(op string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], status)
}

// Hold parks requests for op until the returned release func is called.
func (s *Server) Hold(op string) (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.holds[op] = ch
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.holds[op] == ch {
				delete(s.holds, op)
			}
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Frames returns the join and leave frames received so far.
func (s *Server) Frames() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.frames)
}

// Dials counts accepted socket connections.
func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// Members lists the users joined to roomID.
func (s *Server) Members(roomID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for p := range s.peers {
		if p.rooms[roomID] {
			out = append(out, p.userID)
		}
	}
	sort.Strings(out)
	return out
}

// DropConnections closes every socket without a close handshake, as a
// network failure would.
func (s *Server) DropConnections() {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()
	for _, p := range peers {
		_ = p.conn.Close()
	}
}

func (s *Server) insertLocked(m model.Message) model.Message {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now().UTC()
	}
	m.Normalize()
	stored := m.Clone()
	s.messages[m.ID] = &stored
	return m
}

// gate applies injected failures and holds. It reports false when the
// request has already been answered.
func (s *Server) gate(w http.ResponseWriter, r *http.Request, op string) bool {
	s.mu.Lock()
	hold := s.holds[op]
	s.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return false
		}
	}

	s.mu.Lock()
	var status int
	if queue := s.failures[op]; len(queue) > 0 {
		status = queue[0]
		s.failures[op] = queue[1:]
	}
	s.mu.Unlock()
	if status != 0 {
		writeError(w, status, "injected "+op+" failure")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, rest.ErrorResponse{Error: http.StatusText(status), Message: msg})
}
