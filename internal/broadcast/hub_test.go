package broadcast

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/me/opsched/pkg/model"
)

func testHub(t *testing.T) *Hub {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewHub(logger)
}

// recvEvent reads one event or fails the test.
func recvEvent(t *testing.T, sub *Subscription) model.StreamEvent {
	t.Helper()
	select {
	case ev, ok := <-sub.Events:
		if !ok {
			t.Fatal("subscription channel closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return model.StreamEvent{}
}

func TestHub_WelcomeOnRegister(t *testing.T) {
	h := testHub(t)
	sub := h.Register("t1")
	defer h.Deregister(sub)

	ev := recvEvent(t, sub)
	if ev.Type != model.StreamEventWelcome {
		t.Errorf("first event type = %s, want welcome", ev.Type)
	}
	if ev.TaskID != "t1" {
		t.Errorf("TaskID = %s, want t1", ev.TaskID)
	}
	if ev.Timestamp == 0 {
		t.Error("Timestamp is 0, want epoch millis")
	}
}

func TestHub_BroadcastWithoutObserverIsNoOp(t *testing.T) {
	h := testHub(t)

	// Must not panic or block.
	h.BroadcastLog("nobody", model.LogLevelInfo, "test", "hello")
	h.BroadcastProgress("nobody", 50, "halfway")
	h.BroadcastCompletion("nobody", true, nil, "")

	if h.Ping("nobody") {
		t.Error("Ping returned true with no observer attached")
	}
}

func TestHub_EventDelivery(t *testing.T) {
	h := testHub(t)
	sub := h.Register("t1")
	defer h.Deregister(sub)
	recvEvent(t, sub) // welcome

	h.BroadcastLog("t1", model.LogLevelInfo, "executor", "starting")
	h.BroadcastProgress("t1", 40, "working")
	h.BroadcastCompletion("t1", true, map[string]any{"status": "success"}, "")

	ev := recvEvent(t, sub)
	if ev.Type != model.StreamEventLog || ev.Message != "starting" || ev.Source != "executor" {
		t.Errorf("log event = %+v", ev)
	}

	ev = recvEvent(t, sub)
	if ev.Type != model.StreamEventProgress || ev.Progress == nil || *ev.Progress != 40 {
		t.Errorf("progress event = %+v", ev)
	}

	ev = recvEvent(t, sub)
	if ev.Type != model.StreamEventCompletion || ev.Success == nil || !*ev.Success {
		t.Errorf("completion event = %+v", ev)
	}
	if ev.Output["status"] != "success" {
		t.Errorf("completion output = %v", ev.Output)
	}
}

func TestHub_LastConnectWins(t *testing.T) {
	h := testHub(t)
	first := h.Register("t1")
	recvEvent(t, first)

	second := h.Register("t1")
	defer h.Deregister(second)
	recvEvent(t, second)

	// The replaced observer's channel is closed.
	select {
	case _, ok := <-first.Events:
		if ok {
			t.Error("replaced observer received an event, want closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("replaced observer channel never closed")
	}

	// Events flow to the new observer only.
	h.BroadcastLog("t1", model.LogLevelInfo, "executor", "line")
	ev := recvEvent(t, second)
	if ev.Message != "line" {
		t.Errorf("Message = %s, want line", ev.Message)
	}

	if n := h.ObserverCount(); n != 1 {
		t.Errorf("ObserverCount = %d, want 1", n)
	}
}

func TestHub_DeregisterStaleSubscriptionKeepsCurrent(t *testing.T) {
	h := testHub(t)
	first := h.Register("t1")
	second := h.Register("t1")
	defer h.Deregister(second)

	// Deregistering the replaced subscription must not detach the current one.
	h.Deregister(first)
	if n := h.ObserverCount(); n != 1 {
		t.Errorf("ObserverCount = %d, want 1", n)
	}
}

func TestHub_PingPong(t *testing.T) {
	h := testHub(t)
	sub := h.Register("t1")
	defer h.Deregister(sub)
	recvEvent(t, sub) // welcome

	if !h.Ping("t1") {
		t.Fatal("Ping returned false with an observer attached")
	}
	ev := recvEvent(t, sub)
	if ev.Type != model.StreamEventPong || ev.Message != "pong" {
		t.Errorf("pong event = %+v", ev)
	}
}

func TestHub_SlowObserverDropsEvents(t *testing.T) {
	h := testHub(t)
	sub := h.Register("t1")
	defer h.Deregister(sub)

	// Fill the buffer well past capacity without reading.
	for i := 0; i < eventBuffer*2; i++ {
		h.BroadcastLog("t1", model.LogLevelInfo, "executor", "line")
	}
	// The hub must not have blocked; draining yields at most the buffer.
	drained := 0
	for {
		select {
		case <-sub.Events:
			drained++
		default:
			if drained > eventBuffer {
				t.Errorf("drained %d events, buffer is %d", drained, eventBuffer)
			}
			return
		}
	}
}
