package clock

import (
	"testing"
	"time"
)

func TestFakeAdvanceFiresDueWaiters(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Fake(start)

	short := c.After(time.Second)
	long := c.After(time.Minute)

	c.Advance(2 * time.Second)
	select {
	case got := <-short:
		if !got.Equal(start.Add(2 * time.Second)) {
			t.Fatalf("unexpected fire time: %v", got)
		}
	default:
		t.Fatalf("short waiter did not fire")
	}
	select {
	case <-long:
		t.Fatalf("long waiter fired early")
	default:
	}
	if !c.Now().Equal(start.Add(2 * time.Second)) {
		t.Fatalf("unexpected now: %v", c.Now())
	}
}

func TestFakeAfterNonPositive(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	select {
	case <-c.After(0):
	default:
		t.Fatalf("zero duration should fire immediately")
	}
}

func TestWaitForTimers(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	done := make(chan struct{})
	go func() {
		<-c.After(time.Second)
		close(done)
	}()
	c.WaitForTimers(1)
	c.Advance(time.Second)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("waiter goroutine never released")
	}
}
