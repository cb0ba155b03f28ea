package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
)

type fakeSender struct {
	name   string
	err    error
	titles []string
}

func (f *fakeSender) Send(_ context.Context, title, _ string) error {
	f.titles = append(f.titles, title)
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersByEvent(t *testing.T) {
	s := &fakeSender{name: "telegram"}
	n := NewNotifier([]Sender{s}, []string{"order_rejected"}, testLogger())
	ctx := context.Background()

	if err := n.Notify(ctx, "state_timeout", "ignored", "body"); err != nil {
		t.Fatalf("Notify filtered event: %v", err)
	}
	if err := n.Notify(ctx, "order_rejected", "delivered", "body"); err != nil {
		t.Fatalf("Notify allowed event: %v", err)
	}

	if len(s.titles) != 1 || s.titles[0] != "delivered" {
		t.Errorf("sent titles = %v, want only the allowed event", s.titles)
	}
}

func TestNotifyEmptyEventListAllowsAll(t *testing.T) {
	s := &fakeSender{name: "discord"}
	n := NewNotifier([]Sender{s}, nil, testLogger())

	if err := n.Notify(context.Background(), "anything", "t", "m"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(s.titles) != 1 {
		t.Errorf("sent = %d, want 1", len(s.titles))
	}
}

// NotifyAll bypasses the event filter; lifecycle announcements use it.
func TestNotifyAllBypassesFilter(t *testing.T) {
	s := &fakeSender{name: "telegram"}
	n := NewNotifier([]Sender{s}, []string{"order_rejected"}, testLogger())

	if err := n.NotifyAll(context.Background(), "started", "engine running"); err != nil {
		t.Fatalf("NotifyAll: %v", err)
	}
	if len(s.titles) != 1 || s.titles[0] != "started" {
		t.Errorf("sent titles = %v, want [started]", s.titles)
	}
}

func TestDispatchContinuesPastFailingSender(t *testing.T) {
	bad := &fakeSender{name: "telegram", err: errors.New("bot blocked")}
	good := &fakeSender{name: "discord"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.NotifyAll(context.Background(), "t", "m")
	if err == nil {
		t.Fatal("expected a combined error from the failing sender")
	}
	if !strings.Contains(err.Error(), "telegram") {
		t.Errorf("error = %v, want the failing sender named", err)
	}
	if len(good.titles) != 1 {
		t.Error("healthy sender skipped after another sender failed")
	}
}
