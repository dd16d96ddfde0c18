package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/vovakirdan/chatsync-sdk/chatsync"
	"github.com/vovakirdan/chatsync-sdk/internal/fakeserver"
)

func TestSeedIssuesTokens(t *testing.T) {
	srv := fakeserver.New(fakeserver.Config{Secret: []byte("s")})
	var out bytes.Buffer
	if err := seed(srv, []string{"alice", " bob ", ""}, "general", &out); err != nil {
		t.Fatalf("seed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two token lines, got %q", out.String())
	}
	for i, want := range []string{"alice", "bob"} {
		token, _, _ := strings.Cut(strings.TrimPrefix(lines[i], "CHATSYNC_TOKEN="), " ")
		viewer, err := chatsync.ViewerFromToken(token)
		if err != nil || viewer != want {
			t.Fatalf("line %d: viewer %q, %v", i, viewer, err)
		}
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	srv := fakeserver.New(fakeserver.Config{})
	var out bytes.Buffer
	if err := serve(ctx, "127.0.0.1:0", srv.Handler(), &out); err != nil {
		t.Fatalf("serve: %v", err)
	}
}
