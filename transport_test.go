package mailout

import (
	"context"
	"errors"
	"testing"
)

func TestFailureWrapping(t *testing.T) {
	base := errors.New("boom")

	perm := Permanent(base)
	if !IsPermanent(perm) {
		t.Fatalf("expected permanent classification")
	}
	if !errors.Is(perm, base) {
		t.Fatalf("expected wrapped error to unwrap")
	}

	transient := Transient(base)
	if IsPermanent(transient) {
		t.Fatalf("transient error classified as permanent")
	}
	if !errors.Is(transient, base) {
		t.Fatalf("expected wrapped error to unwrap")
	}

	if Permanent(nil) != nil || Transient(nil) != nil {
		t.Fatalf("wrapping nil must return nil")
	}
}

func TestDefaultFailureClassifier(t *testing.T) {
	ctx := context.Background()
	msg := Message{}

	if got := defaultFailureClassifier(ctx, msg, Permanent(errors.New("rejected"))); got != FailurePermanent {
		t.Fatalf("expected permanent action, got %v", got)
	}
	if got := defaultFailureClassifier(ctx, msg, Transient(errors.New("timeout"))); got != FailureRetry {
		t.Fatalf("expected retry action, got %v", got)
	}
	// Unclassified errors default to retry.
	if got := defaultFailureClassifier(ctx, msg, errors.New("unknown")); got != FailureRetry {
		t.Fatalf("expected retry action for bare error, got %v", got)
	}
}

func TestTransportFunc(t *testing.T) {
	called := false
	transport := TransportFunc(func(context.Context, Message) error {
		called = true

		return nil
	})

	if err := transport.Send(context.Background(), Message{}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !called {
		t.Fatalf("expected adapter to invoke the function")
	}
}
