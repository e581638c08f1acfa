package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/Ekleog/risuto/internal/event"
)

func startServer(t *testing.T, f *fixture) *Server {
	t.Helper()
	srv := NewServer(f.coord, &Config{Port: 0, Logger: log.New(io.Discard, "", 0)})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

func dial(t *testing.T, srv *Server, user string, since int64) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("ws://%s/ws?user=%s&since=%d", srv.Addr(), user, since)
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial(%s): %v", user, err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("Unmarshal frame: %v", err)
	}
	return frame
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame Frame) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("Marshal frame: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

// readUntil skips frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want FrameType) Frame {
	t.Helper()
	for i := 0; i < 20; i++ {
		frame := readFrame(t, conn)
		if frame.Type == want {
			return frame
		}
	}
	t.Fatalf("no %s frame in 20 reads", want)
	return Frame{}
}

func TestSyncCatchUpAndSubmit(t *testing.T) {
	f := newFixture(t)
	srv := startServer(t, f)

	conn := dial(t, srv, "alice", 0)

	// The fixture committed one AddTag event; catch-up replays it.
	frame := readFrame(t, conn)
	if frame.Type != FrameCommitted || frame.Event == nil || frame.Event.Payload.Kind() != event.KindAddTag {
		t.Fatalf("catch-up frame = %+v", frame)
	}
	caught := readFrame(t, conn)
	if caught.Type != FrameCaughtUp || caught.Position != frame.Position {
		t.Fatalf("caught-up frame = %+v", caught)
	}

	// A live submission comes back committed with the next position.
	ev := event.New(f.alice.ID, f.task.ID, event.SetTitle{Title: "renamed"})
	writeFrame(t, conn, Frame{Type: FrameSubmit, Event: &ev})
	committed := readUntil(t, conn, FrameCommitted)
	if committed.Event.ID != ev.ID || committed.Position <= caught.Position {
		t.Fatalf("committed frame = %+v", committed)
	}
}

func TestSyncBroadcastReachesGrantee(t *testing.T) {
	f := newFixture(t)
	srv := startServer(t, f)

	alice := dial(t, srv, "alice", 0)
	readUntil(t, alice, FrameCaughtUp)
	bob := dial(t, srv, "bob", 0)
	readUntil(t, bob, FrameCaughtUp)

	ev := event.New(f.alice.ID, f.task.ID, event.AddComment{Text: "fyi"})
	writeFrame(t, alice, Frame{Type: FrameSubmit, Event: &ev})

	// Both the submitter and the grantee observe the commit.
	for name, conn := range map[string]*websocket.Conn{"alice": alice, "bob": bob} {
		frame := readUntil(t, conn, FrameCommitted)
		if frame.Event.ID != ev.ID {
			t.Errorf("%s got wrong event: %+v", name, frame)
		}
	}
}

func TestSyncRejectionsAndResume(t *testing.T) {
	f := newFixture(t)
	srv := startServer(t, f)

	bob := dial(t, srv, "bob", 0)
	caught := readUntil(t, bob, FrameCaughtUp)

	// bob may not retitle the task; the rejection is local to his session.
	ev := event.New(f.bob.ID, f.task.ID, event.SetTitle{Title: "hijacked"})
	writeFrame(t, bob, Frame{Type: FrameSubmit, Event: &ev})
	rejected := readUntil(t, bob, FrameRejected)
	if rejected.EventID != ev.ID || rejected.Reason != event.RejectPermissionDenied {
		t.Fatalf("rejected frame = %+v", rejected)
	}

	// Spoofed authorship is refused outright.
	spoof := event.New(f.alice.ID, f.task.ID, event.SetTitle{Title: "as alice"})
	writeFrame(t, bob, Frame{Type: FrameSubmit, Event: &spoof})
	if frame := readUntil(t, bob, FrameRejected); frame.Reason != event.RejectPermissionDenied {
		t.Fatalf("spoof not rejected: %+v", frame)
	}

	// Reconnecting from the last applied position yields an empty backlog.
	again := dial(t, srv, "bob", caught.Position)
	if frame := readFrame(t, again); frame.Type != FrameCaughtUp {
		t.Fatalf("resume frame = %+v", frame)
	}
}

func TestSyncUnknownUserRefused(t *testing.T) {
	f := newFixture(t)
	srv := startServer(t, f)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := fmt.Sprintf("ws://%s/ws?user=mallory&since=0", srv.Addr())
	if _, _, err := websocket.Dial(ctx, url, nil); err == nil {
		t.Fatal("dial as unknown user succeeded")
	}
}

func TestSyncPing(t *testing.T) {
	f := newFixture(t)
	srv := startServer(t, f)

	conn := dial(t, srv, "alice", 0)
	readUntil(t, conn, FrameCaughtUp)
	writeFrame(t, conn, Frame{Type: FramePing})
	if frame := readUntil(t, conn, FramePong); frame.Type != FramePong {
		t.Fatalf("pong missing: %+v", frame)
	}
}

// Concurrent submitters must never reorder the stream: every subscriber sees
// committed positions strictly increasing with no gaps, so resuming from the
// last received position can never skip a committed event.
func TestSyncConcurrentSubmissionsOrdered(t *testing.T) {
	f := newFixture(t)
	srv := startServer(t, f)

	watcher := dial(t, srv, "alice", 0)
	readUntil(t, watcher, FrameCaughtUp)

	const perWriter = 10
	writers := []*websocket.Conn{
		dial(t, srv, "alice", 0),
		dial(t, srv, "alice", 0),
	}
	var wg sync.WaitGroup
	errs := make(chan error, len(writers))
	for i, conn := range writers {
		wg.Add(1)
		go func(i int, conn *websocket.Conn) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				ev := event.New(f.alice.ID, f.task.ID,
					event.SetTitle{Title: fmt.Sprintf("writer %d rev %d", i, j)})
				data, err := json.Marshal(Frame{Type: FrameSubmit, Event: &ev})
				if err == nil {
					err = conn.Write(context.Background(), websocket.MessageText, data)
				}
				if err != nil {
					errs <- err
					return
				}
			}
		}(i, conn)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("writer: %v", err)
	}

	var positions []int64
	last := int64(0)
	for len(positions) < len(writers)*perWriter {
		frame := readFrame(t, watcher)
		if frame.Type != FrameCommitted {
			continue
		}
		if frame.Position <= last {
			t.Fatalf("position %d delivered after %d", frame.Position, last)
		}
		last = frame.Position
		positions = append(positions, frame.Position)
	}

	// No committed position may be missing from the stream.
	for i := 1; i < len(positions); i++ {
		if positions[i] != positions[i-1]+1 {
			t.Fatalf("gap in delivery: %d then %d", positions[i-1], positions[i])
		}
	}
}

func TestSyncResumeCaughtUpFloor(t *testing.T) {
	f := newFixture(t)
	srv := startServer(t, f)

	first := dial(t, srv, "alice", 0)
	caught := readUntil(t, first, FrameCaughtUp)

	// With an empty backlog the caught-up marker must echo the resume point,
	// not regress to zero.
	again := dial(t, srv, "alice", caught.Position)
	frame := readFrame(t, again)
	if frame.Type != FrameCaughtUp {
		t.Fatalf("resume frame = %+v", frame)
	}
	if frame.Position != caught.Position {
		t.Fatalf("caught-up position = %d, want %d", frame.Position, caught.Position)
	}
}

func TestStopDrainsSessions(t *testing.T) {
	f := newFixture(t)
	srv := NewServer(f.coord, &Config{Port: 0, Logger: log.New(io.Discard, "", 0)})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	conn := dial(t, srv, "alice", 0)
	readUntil(t, conn, FrameCaughtUp)

	// Stop must wait for both session loops before returning.
	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if n := srv.SessionCount(); n != 0 {
		t.Errorf("sessions after Stop = %d", n)
	}
}
