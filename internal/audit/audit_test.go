package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	got     []Event
}

func (s *blockingSink) Emit(_ context.Context, e Event) {
	<-s.release
	s.mu.Lock()
	s.got = append(s.got, e)
	s.mu.Unlock()
}

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{}, NoOpSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{Type: "x"})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher must report zero drops")
	}
}

func TestDispatcherDeliversAndFlushesOnClose(t *testing.T) {
	sink := NewChannelSink(16)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)
	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{Type: "login_success", UserID: "u"})
	}
	d.Close()

	if got := len(sink.Events()); got != 5 {
		t.Fatalf("expected 5 events after close, got %d", got)
	}
	d.Emit(context.Background(), Event{Type: "after_close"})
	if got := len(sink.Events()); got != 5 {
		t.Fatalf("emit after close must be ignored, got %d events", got)
	}
}

func TestDispatcherDropIfFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	var notified atomic.Uint64
	d := NewDispatcher(Config{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: true,
		OnDrop:     func() { notified.Add(1) },
	}, sink)

	deadline := time.Now().Add(time.Second)
	for d.Dropped() == 0 && time.Now().Before(deadline) {
		d.Emit(context.Background(), Event{Type: "logout"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected events to be dropped while the sink is blocked")
	}
	if got := notified.Load(); got != d.Dropped() {
		t.Fatalf("OnDrop called %d times for %d drops", got, d.Dropped())
	}
	close(sink.release)
	d.Close()
}

func TestDispatcherCancelledContextCountsDrop(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	var notified atomic.Uint64
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, OnDrop: func() { notified.Add(1) }}, sink)

	// One event is held by the blocked sink, one fills the buffer.
	d.Emit(context.Background(), Event{Type: "logout"})
	d.Emit(context.Background(), Event{Type: "logout"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	deadline := time.Now().Add(time.Second)
	for d.Dropped() == 0 && time.Now().Before(deadline) {
		d.Emit(ctx, Event{Type: "logout"})
	}
	if d.Dropped() == 0 || notified.Load() != d.Dropped() {
		t.Fatalf("dropped=%d notified=%d", d.Dropped(), notified.Load())
	}
	close(sink.release)
	d.Close()
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{Type: "access_renewed", UserID: "u-1", Success: true})
	sink.Emit(context.Background(), Event{Type: "refresh_rejected", Reason: "revoked"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var first Event
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.Type != "access_renewed" || first.UserID != "u-1" || !first.Success {
		t.Fatalf("unexpected event %+v", first)
	}
}

func TestSlogSinkLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sink := NewSlogSink(logger)

	sink.Emit(context.Background(), Event{Type: "login_success", UserID: "u", Success: true})
	sink.Emit(context.Background(), Event{Type: "refresh_rejected", Reason: "expired"})

	out := buf.String()
	if !strings.Contains(out, `"level":"INFO"`) || !strings.Contains(out, `"level":"WARN"`) {
		t.Fatalf("expected info and warn records, got %s", out)
	}
	if !strings.Contains(out, `"reason":"expired"`) {
		t.Fatalf("expected reason attribute, got %s", out)
	}
}
