package ws

import (
	"context"
	"errors"
	"testing"
	"time"
)

// ============================================================================
// Inbound queue
// ============================================================================

func TestInboundQueue_FIFO(t *testing.T) {
	q := newInboundQueue()
	for _, s := range []string{"a", "b", "c"} {
		text := s
		q.push(&ReceiveEvent{Text: &text})
	}

	for _, want := range []string{"a", "b", "c"} {
		ev, err := q.pop(context.Background())
		if err != nil {
			t.Fatalf("pop() error = %v", err)
		}
		if ev.Receive == nil || *ev.Receive.Text != want {
			t.Errorf("pop() = %v, want text %q", ev, want)
		}
	}
}

func TestInboundQueue_DrainsBeforeTerminal(t *testing.T) {
	// Messages buffered before the close remain deliverable; the terminal
	// event only surfaces after the queue is drained.
	q := newInboundQueue()
	q.push(&ReceiveEvent{Bytes: []byte("abc")})
	q.push(&ReceiveEvent{Bytes: []byte("def")})
	q.close(1000, "")

	ev, err := q.pop(context.Background())
	if err != nil || ev.Receive == nil || string(ev.Receive.Bytes) != "abc" {
		t.Fatalf("first pop = %v, %v", ev, err)
	}
	ev, err = q.pop(context.Background())
	if err != nil || ev.Receive == nil || string(ev.Receive.Bytes) != "def" {
		t.Fatalf("second pop = %v, %v", ev, err)
	}
	ev, err = q.pop(context.Background())
	if err != nil || ev.Disconnect == nil || ev.Disconnect.Code != 1000 {
		t.Fatalf("third pop = %v, %v, want disconnect 1000", ev, err)
	}
}

func TestInboundQueue_TerminalExactlyOnce(t *testing.T) {
	q := newInboundQueue()
	q.close(1006, "")

	ev, err := q.pop(context.Background())
	if err != nil || ev.Disconnect == nil || ev.Disconnect.Code != 1006 {
		t.Fatalf("pop = %v, %v, want disconnect 1006", ev, err)
	}
	if _, err := q.pop(context.Background()); !errors.Is(err, ErrAfterDisconnect) {
		t.Errorf("second pop error = %v, want ErrAfterDisconnect", err)
	}
}

func TestInboundQueue_FirstCloseWins(t *testing.T) {
	q := newInboundQueue()
	if !q.close(1012, "") {
		t.Fatal("first close rejected")
	}
	if q.close(1006, "") {
		t.Error("second close accepted")
	}
	ev, err := q.pop(context.Background())
	if err != nil || ev.Disconnect == nil || ev.Disconnect.Code != 1012 {
		t.Fatalf("pop = %v, %v, want disconnect 1012", ev, err)
	}
}

func TestInboundQueue_BlocksUntilPushOrClose(t *testing.T) {
	q := newInboundQueue()
	got := make(chan Event, 1)
	go func() {
		ev, _ := q.pop(context.Background())
		got <- ev
	}()

	time.Sleep(20 * time.Millisecond)
	text := "late"
	q.push(&ReceiveEvent{Text: &text})

	select {
	case ev := <-got:
		if ev.Receive == nil || *ev.Receive.Text != "late" {
			t.Errorf("pop = %v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pop did not unblock on push")
	}
}

func TestInboundQueue_PopHonorsContext(t *testing.T) {
	q := newInboundQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := q.pop(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("pop error = %v, want deadline exceeded", err)
	}
}

// ============================================================================
// Event vocabulary
// ============================================================================

func TestEventKind(t *testing.T) {
	text := "x"
	tests := []struct {
		name string
		ev   Event
		want string
	}{
		{"connect", Event{Connect: &ConnectEvent{}}, "connect"},
		{"receive", Event{Receive: &ReceiveEvent{Text: &text}}, "receive"},
		{"disconnect", Event{Disconnect: &DisconnectEvent{Code: 1000}}, "disconnect"},
		{"empty", Event{}, "empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ev.Kind(); got != tt.want {
				t.Errorf("Kind() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxMessageSize != 16<<20 {
		t.Errorf("MaxMessageSize = %d, want 16 MiB", cfg.MaxMessageSize)
	}
	if cfg.PingInterval <= 0 {
		t.Error("PingInterval should default to a positive cadence")
	}
	if !cfg.IncludeServerHeader || !cfg.IncludeDateHeader {
		t.Error("default headers should be included unless suppressed")
	}
	if cfg.ServerHeader != "wsbridge" {
		t.Errorf("ServerHeader = %q", cfg.ServerHeader)
	}
}
