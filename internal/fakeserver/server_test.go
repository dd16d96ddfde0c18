package fakeserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vovakirdan/chatsync-sdk/chatsync"
	"github.com/vovakirdan/chatsync-sdk/chatsync/model"
	"github.com/vovakirdan/chatsync-sdk/chatsync/rest"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New(Config{Secret: []byte("test-secret")})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func clientFor(t *testing.T, s *Server, ts *httptest.Server, userID string) *rest.Client {
	t.Helper()
	token, err := s.IssueToken(userID)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	c := rest.NewClient(ts.URL)
	c.SetToken(token)
	return c
}

func dialSocket(t *testing.T, s *Server, ts *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	token, _ := s.IssueToken(userID)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Authorization": []string{"Bearer " + token}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestRequiresToken(t *testing.T) {
	_, ts := newTestServer(t)
	c := rest.NewClient(ts.URL)
	c.SetToken("garbage")
	_, err := c.GetMessages(context.Background(), "r1")
	if !rest.IsStatus(err, http.StatusUnauthorized) {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestIssuedTokenCarriesViewer(t *testing.T) {
	s, _ := newTestServer(t)
	token, err := s.IssueToken("alice")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	viewer, err := chatsync.ViewerFromToken(token)
	if err != nil || viewer != "alice" {
		t.Fatalf("ViewerFromToken = %q, %v", viewer, err)
	}
}

func TestMessageLifecycle(t *testing.T) {
	s, ts := newTestServer(t)
	alice := clientFor(t, s, ts, "alice")
	bob := clientFor(t, s, ts, "bob")
	ctx := context.Background()

	sent, err := alice.SendMessage(ctx, rest.SendRequest{RoomID: "r1", Content: "hello", Type: model.TypeText})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if sent.ID == "" || sent.SenderID != "alice" || sent.Status != model.StateSent {
		t.Fatalf("unexpected message: %+v", sent)
	}

	reply, err := bob.Reply(ctx, sent.ID, rest.ReplyRequest{Content: "hi", Type: model.TypeText})
	if err != nil || reply.RoomID != "r1" || reply.ReplyToID != sent.ID {
		t.Fatalf("Reply: %+v, %v", reply, err)
	}
	reacted, err := bob.React(ctx, sent.ID, "👍")
	if err != nil || !reacted.HasReaction("bob", "👍") {
		t.Fatalf("React: %+v, %v", reacted, err)
	}
	if _, err := bob.UpdateStatus(ctx, sent.ID, model.StateRead); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	if err := alice.DeleteMessage(ctx, sent.ID); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	aliceView, _ := alice.GetMessages(ctx, "r1")
	bobView, _ := bob.GetMessages(ctx, "r1")
	if len(aliceView) != 1 || aliceView[0].ID != reply.ID {
		t.Fatalf("alice should only see the reply: %+v", aliceView)
	}
	if len(bobView) != 2 || bobView[0].ID != sent.ID || bobView[0].Status != model.StateRead {
		t.Fatalf("bob should see both messages: %+v", bobView)
	}

	if _, err := bob.Reply(ctx, "missing", rest.ReplyRequest{Content: "x", Type: model.TypeText}); !rest.IsStatus(err, http.StatusNotFound) {
		t.Fatalf("reply to missing parent: %v", err)
	}
}

func TestFailNext(t *testing.T) {
	s, ts := newTestServer(t)
	c := clientFor(t, s, ts, "alice")
	s.FailNext(OpSend, http.StatusServiceUnavailable)

	_, err := c.SendMessage(context.Background(), rest.SendRequest{RoomID: "r1", Content: "x", Type: model.TypeText})
	if !rest.IsStatus(err, http.StatusServiceUnavailable) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if _, err := c.SendMessage(context.Background(), rest.SendRequest{RoomID: "r1", Content: "x", Type: model.TypeText}); err != nil {
		t.Fatalf("failure should apply once: %v", err)
	}
}

func TestBroadcastToJoinedSockets(t *testing.T) {
	s, ts := newTestServer(t)
	conn := dialSocket(t, s, ts, "bob")
	if err := conn.WriteJSON(chatsync.Envelope{Event: chatsync.EventJoinRoom, Data: json.RawMessage(`"r1"`)}); err != nil {
		t.Fatalf("join: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(s.Members("r1")) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("join not registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.Post("r2", "carol", "elsewhere")
	posted := s.Post("r1", "carol", "hello")

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env chatsync.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	if env.Event != chatsync.EventReceiveMessage {
		t.Fatalf("unexpected event %q", env.Event)
	}
	var got model.Message
	if err := json.Unmarshal(env.Data, &got); err != nil || got.ID != posted.ID {
		t.Fatalf("unexpected payload %s: %v", env.Data, err)
	}

	frames := s.Frames()
	if len(frames) != 1 || frames[0] != (Frame{UserID: "bob", Event: chatsync.EventJoinRoom, RoomID: "r1"}) {
		t.Fatalf("unexpected frames: %+v", frames)
	}
}
