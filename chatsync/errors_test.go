package chatsync

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) StatusCode() int { return int(e) }

func TestChatErrorIsByCode(t *testing.T) {
	err := fmt.Errorf("send: %w", WrapError(ErrorTimeout, "request timed out", errors.New("deadline")))
	if !errors.Is(err, NewError(ErrorTimeout, "")) {
		t.Fatal("wrapped ChatError should match by code")
	}
	if errors.Is(err, NewError(ErrorNotFound, "")) {
		t.Fatal("different code must not match")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorCode
	}{
		{nil, ErrorUnknown},
		{errors.New("plain"), ErrorUnknown},
		{NewError(ErrorRolledBack, "x"), ErrorRolledBack},
		{statusErr(http.StatusNotFound), ErrorNotFound},
		{fmt.Errorf("ctx: %w", statusErr(http.StatusBadGateway)), ErrorInternalServer},
		{statusErr(http.StatusConflict), ErrorRequestRejected},
	}
	for _, c := range cases {
		if got := Classify(c.err); got != c.want {
			t.Errorf("Classify(%v) = %s, want %s", c.err, got, c.want)
		}
	}
	if !IsRequestError(statusErr(http.StatusTooManyRequests)) {
		t.Error("429 is a request error")
	}
	if IsRequestError(NewError(ErrorDisconnected, "x")) || !IsConnectionError(NewError(ErrorDisconnected, "x")) {
		t.Error("disconnects are connection errors")
	}
}

func TestParseErrorCode(t *testing.T) {
	if ParseErrorCode("access_denied") != ErrorForbidden || ParseErrorCode("whatever") != ErrorUnknown {
		t.Fatal("unexpected protocol code mapping")
	}
	if FromProtocolError(nil) != nil {
		t.Fatal("nil protocol error should map to nil")
	}
}
