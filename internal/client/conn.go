package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"

	"github.com/Ekleog/risuto/internal/event"
	"github.com/Ekleog/risuto/internal/server"
	"github.com/Ekleog/risuto/internal/store"
)

// Conn is one sync connection to the server.
type Conn struct {
	ws *websocket.Conn
}

// Dial opens a sync connection for the named user, resuming after since.
func Dial(ctx context.Context, addr, user string, since int64) (*Conn, error) {
	url := fmt.Sprintf("ws://%s/ws?user=%s&since=%d", addr, user, since)
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Conn{ws: ws}, nil
}

// Close shuts the connection down.
func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "")
}

// Submit sends one event to the server. The outcome arrives asynchronously
// as a committed or rejected frame.
func (c *Conn) Submit(ctx context.Context, ev event.Event) error {
	return c.write(ctx, server.Frame{Type: server.FrameSubmit, Event: &ev})
}

// Ping asks the server for a pong, to probe liveness.
func (c *Conn) Ping(ctx context.Context) error {
	return c.write(ctx, server.Frame{Type: server.FramePing})
}

func (c *Conn) write(ctx context.Context, frame server.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// ReadFrame blocks for the next frame from the server.
func (c *Conn) ReadFrame(ctx context.Context) (server.Frame, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return server.Frame{}, err
	}
	var frame server.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return server.Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return frame, nil
}

// RunOptions configures Run's callbacks. All callbacks are optional.
type RunOptions struct {
	// OnCaughtUp fires once the catch-up backlog has been applied.
	OnCaughtUp func(position int64)
	// OnRejected fires when the server refuses one of our events, after
	// the optimistic rollback.
	OnRejected func(id event.EventID, reason event.RejectKind, detail string)
}

// Run consumes the stream and feeds the replica until the context is
// canceled or the connection fails. The caller reconnects with
// client.LastPosition() as the resume point.
func (c *Conn) Run(ctx context.Context, replica *Client, opts RunOptions) error {
	for {
		frame, err := c.ReadFrame(ctx)
		if err != nil {
			return err
		}
		switch frame.Type {
		case server.FrameCommitted:
			if frame.Event == nil {
				continue
			}
			entry := store.Committed{Position: frame.Position, Event: *frame.Event}
			if err := replica.ApplyCommitted(entry); err != nil {
				return err
			}
		case server.FrameCaughtUp:
			if opts.OnCaughtUp != nil {
				opts.OnCaughtUp(frame.Position)
			}
		case server.FrameRejected:
			if err := replica.Reject(frame.EventID); err != nil {
				return err
			}
			if opts.OnRejected != nil {
				opts.OnRejected(frame.EventID, frame.Reason, frame.Detail)
			}
		case server.FramePong:
			// liveness only
		}
	}
}
