package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vovakirdan/chatsync-sdk/chatsync/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c := NewClient(server.URL + "/")
	c.SetToken("test-token")
	return c
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func assertAuth(t *testing.T, r *http.Request) {
	t.Helper()
	if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
		t.Errorf("unexpected Authorization header: %q", got)
	}
}

func TestGetMessages(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assertAuth(t, r)
		if r.Method != http.MethodGet || r.URL.Path != "/messages/room 1" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		writeJSON(w, MessagesResponse{Messages: []model.Message{
			{ID: "m1", RoomID: "room 1", SenderID: "alice", Content: "hi", Type: model.TypeText, CreatedAt: created},
		}})
	})

	msgs, err := c.GetMessages(context.Background(), "room 1")
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" || !msgs[0].CreatedAt.Equal(created) {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestSendMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assertAuth(t, r)
		if r.Method != http.MethodPost || r.URL.Path != "/messages/send" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body SendRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.RoomID != "r1" || body.Content != "hello" || body.ReplyToID != "m0" {
			t.Errorf("unexpected body: %+v", body)
		}
		writeJSON(w, model.Message{ID: "m1", RoomID: body.RoomID, Content: body.Content, ReplyToID: body.ReplyToID})
	})

	msg, err := c.SendMessage(context.Background(), SendRequest{RoomID: "r1", Content: "hello", Type: model.TypeText, ReplyToID: "m0"})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if msg.ID != "m1" {
		t.Fatalf("unexpected id: %s", msg.ID)
	}
}

func TestReactReplyStatusDelete(t *testing.T) {
	var seen []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assertAuth(t, r)
		seen = append(seen, r.Method+" "+r.URL.Path)
		switch r.URL.Path {
		case "/messages/m1/react":
			var body ReactRequest
			_ = json.NewDecoder(r.Body).Decode(&body)
			writeJSON(w, model.Message{ID: "m1", Reactions: []model.Reaction{{UserID: "alice", Emoji: body.Emoji}}})
		case "/messages/m1/reply":
			writeJSON(w, model.Message{ID: "m2", ReplyToID: "m1"})
		case "/messages/m1/status":
			var body StatusRequest
			_ = json.NewDecoder(r.Body).Decode(&body)
			writeJSON(w, model.Message{ID: "m1", Status: body.Status})
		case "/messages/m1":
			writeJSON(w, DeleteResponse{Message: "deleted"})
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	reacted, err := c.React(ctx, "m1", "👍")
	if err != nil || !reacted.HasReaction("alice", "👍") {
		t.Fatalf("React: %+v, %v", reacted, err)
	}
	reply, err := c.Reply(ctx, "m1", ReplyRequest{Content: "yes", Type: model.TypeText})
	if err != nil || reply.ReplyToID != "m1" {
		t.Fatalf("Reply: %+v, %v", reply, err)
	}
	updated, err := c.UpdateStatus(ctx, "m1", model.StateRead)
	if err != nil || updated.Status != model.StateRead {
		t.Fatalf("UpdateStatus: %+v, %v", updated, err)
	}
	if _, err := c.UpdateStatus(ctx, "m1", model.StateSent); err == nil {
		t.Fatalf("expected error for status sent")
	}
	if err := c.DeleteMessage(ctx, "m1"); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}

	want := []string{
		"POST /messages/m1/react",
		"POST /messages/m1/reply",
		"PUT /messages/m1/status",
		"DELETE /messages/m1",
	}
	if len(seen) != len(want) {
		t.Fatalf("unexpected requests: %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("request %d: got %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		writeJSON(w, ErrorResponse{Message: "not a member"})
	})

	_, err := c.SendMessage(context.Background(), SendRequest{RoomID: "r1", Content: "x", Type: model.TypeText})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode() != http.StatusForbidden || apiErr.Message != "not a member" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
	if !IsStatus(err, http.StatusForbidden) {
		t.Fatalf("IsStatus did not match")
	}
}

func TestListUsersAcceptsBothShapes(t *testing.T) {
	for name, payload := range map[string]any{
		"array":   []User{{ID: "u1", Name: "Alice"}},
		"wrapped": UsersResponse{Users: []User{{ID: "u1", Name: "Alice"}}},
	} {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, payload)
			})
			users, err := c.ListUsers(context.Background())
			if err != nil {
				t.Fatalf("ListUsers: %v", err)
			}
			if len(users) != 1 || users[0].Name != "Alice" {
				t.Fatalf("unexpected users: %+v", users)
			}
		})
	}
}

type failingTokens struct{}

func (failingTokens) Token(context.Context) (string, error) { return "", errors.New("expired") }

func TestTokenSourceError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("request should not be sent")
	})
	c.SetTokenSource(failingTokens{})
	if _, err := c.GetUser(context.Background(), "u1"); err == nil {
		t.Fatalf("expected credential error")
	}
}
