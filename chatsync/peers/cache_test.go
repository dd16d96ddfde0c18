package peers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vovakirdan/chatsync-sdk/chatsync/rest"
)

type fakeResolver struct {
	calls atomic.Int32
	users map[string]rest.User
	delay time.Duration
	list  []rest.User
}

func (f *fakeResolver) GetUser(_ context.Context, id string) (*rest.User, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	u, ok := f.users[id]
	if !ok {
		return nil, &rest.APIError{Status: 404}
	}
	return &u, nil
}

func (f *fakeResolver) ListUsers(context.Context) ([]rest.User, error) {
	if f.list == nil {
		return nil, errors.New("directory unavailable")
	}
	return f.list, nil
}

func TestLookupMemoizes(t *testing.T) {
	r := &fakeResolver{users: map[string]rest.User{"u1": {ID: "u1", Name: "Alice", Avatar: "a.png"}}}
	c := New(r, nil)

	for i := 0; i < 3; i++ {
		if p := c.Lookup(context.Background(), "u1"); p.Name != "Alice" || p.Unknown {
			t.Fatalf("unexpected profile: %+v", p)
		}
	}
	if r.calls.Load() != 1 {
		t.Fatalf("resolver called %d times", r.calls.Load())
	}
}

func TestFailedLookupIsMemoizedAsUnknown(t *testing.T) {
	r := &fakeResolver{users: map[string]rest.User{}}
	c := New(r, nil)

	p := c.Lookup(context.Background(), "ghost")
	if !p.Unknown || p.Name != UnknownName {
		t.Fatalf("unexpected profile: %+v", p)
	}
	c.Lookup(context.Background(), "ghost")
	if r.calls.Load() != 1 {
		t.Fatalf("failed lookup retried: %d calls", r.calls.Load())
	}

	c.Forget("ghost")
	c.Lookup(context.Background(), "ghost")
	if r.calls.Load() != 2 {
		t.Fatalf("forget did not clear the memo")
	}
}

func TestConcurrentLookupsShareOneRequest(t *testing.T) {
	r := &fakeResolver{users: map[string]rest.User{"u1": {ID: "u1", Name: "Alice"}}, delay: 50 * time.Millisecond}
	c := New(r, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Lookup(context.Background(), "u1")
		}()
	}
	wg.Wait()
	if got := r.calls.Load(); got != 1 {
		t.Fatalf("expected one shared request, got %d", got)
	}
}

func TestNameResolvesInBackground(t *testing.T) {
	r := &fakeResolver{users: map[string]rest.User{"u1": {ID: "u1", Name: "Alice"}}}
	c := New(r, nil)
	resolved := make(chan Profile, 1)
	c.OnResolved(func(p Profile) { resolved <- p })

	if got := c.Name(context.Background(), "u1"); got != "u1" {
		t.Fatalf("miss should return the id, got %q", got)
	}
	select {
	case p := <-resolved:
		if p.Name != "Alice" {
			t.Fatalf("unexpected profile: %+v", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("background lookup did not complete")
	}
	if got := c.Name(context.Background(), "u1"); got != "Alice" {
		t.Fatalf("hit returned %q", got)
	}
}

func TestWarm(t *testing.T) {
	r := &fakeResolver{
		users: map[string]rest.User{"u1": {ID: "u1", Name: "Alice"}, "u2": {ID: "u2"}},
		list:  []rest.User{{ID: "u3", Name: "Carol"}},
	}
	c := New(r, nil)

	if err := c.Warm(context.Background(), "u1", "u2", "u9"); err != nil {
		t.Fatalf("Warm: %v", err)
	}
	if c.Len() != 3 {
		t.Fatalf("expected 3 profiles, got %d", c.Len())
	}
	if p, _ := c.Peek("u2"); p.Name != "u2" {
		t.Fatalf("nameless user should fall back to id: %+v", p)
	}
	if p, _ := c.Peek("u9"); !p.Unknown {
		t.Fatalf("missing user not memoized as unknown: %+v", p)
	}

	if err := c.Warm(context.Background()); err != nil {
		t.Fatalf("Warm directory: %v", err)
	}
	if p, ok := c.Peek("u3"); !ok || p.Name != "Carol" {
		t.Fatalf("directory not loaded: %+v", p)
	}

	r.list = nil
	if err := c.Warm(context.Background()); err == nil {
		t.Fatalf("expected directory error")
	}
}
