package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Ekleog/risuto/internal/event"
	"github.com/Ekleog/risuto/internal/store"
)

// Config holds server configuration.
type Config struct {
	// Port to listen on (default: 8092)
	Port int

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:   8092,
		Logger: log.Default(),
	}
}

type session struct {
	user event.UserID
	conn *websocket.Conn
	// send serializes writes; the read loop and the broadcast fan-out both
	// push frames through it.
	send chan Frame
}

// Server exposes the coordinator over WebSocket plus a few HTTP endpoints.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	coord *Coordinator

	sessions   map[*session]bool
	sessionsMu sync.RWMutex

	// commitMu serializes commit-and-fan-out so frames enter every send
	// queue in canonical position order. Without it two concurrent
	// submissions could broadcast N+1 before N, and a client resuming from
	// N+1 would never see N.
	commitMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer wires a coordinator to its transport.
func NewServer(coord *Coordinator, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:     fmt.Sprintf(":%d", config.Port),
		coord:    coord,
		sessions: make(map[*session]bool),
		ctx:      ctx,
		cancel:   cancel,
		logger:   config.Logger,
	}
}

// Start begins serving. It returns once the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleSync)
	mux.HandleFunc("/snapshot", s.handleSnapshot)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("[server] listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("[server] serve error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.cancel()

	s.sessionsMu.Lock()
	for sess := range s.sessions {
		_ = sess.conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.sessions, sess)
	}
	s.sessionsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.wg.Wait()
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// SessionCount returns the number of live sync sessions.
func (s *Server) SessionCount() int {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	return len(s.sessions)
}

// handleSync upgrades to WebSocket and runs one sync session. The client
// identifies itself with ?user=<name> and resumes with ?since=<position>.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("user")
	u, err := s.coord.UserByName(r.Context(), name)
	if err != nil {
		http.Error(w, "unknown user", http.StatusForbidden)
		return
	}
	since := int64(0)
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "bad since position", http.StatusBadRequest)
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("[server] websocket upgrade failed: %v", err)
		return
	}

	sess := &session{user: u.ID, conn: conn, send: make(chan Frame, 64)}

	// Catch up before going live so the client sees canonical order. The
	// session is registered first; anything committed while the backlog
	// drains lands in the send queue behind it.
	s.sessionsMu.Lock()
	s.sessions[sess] = true
	count := len(s.sessions)
	s.sessionsMu.Unlock()
	s.logger.Printf("[server] %s connected since=%d (sessions: %d)", u.Name, since, count)

	backlog, err := s.coord.EventsSince(r.Context(), u.ID, since)
	if err != nil {
		s.logger.Printf("[server] catch-up failed for %s: %v", u.Name, err)
		s.dropSession(sess)
		return
	}

	s.wg.Add(2)
	go s.writeLoop(sess, backlog, since)
	go s.readLoop(sess)
}

func (s *Server) writeLoop(sess *session, backlog []store.Committed, since int64) {
	defer s.wg.Done()

	seen := make(map[event.EventID]bool, len(backlog))
	// The resume point is the floor: an empty backlog must not report a
	// caught-up position behind where the client already is.
	last := since
	for _, entry := range backlog {
		if !s.writeFrame(sess, committedFrame(entry)) {
			return
		}
		seen[entry.Event.ID] = true
		last = entry.Position
	}
	if !s.writeFrame(sess, Frame{Type: FrameCaughtUp, Position: last}) {
		return
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case frame := <-sess.send:
			// An event can be both in the backlog and in the live
			// queue; the client applies idempotently anyway, but
			// skipping here saves the bytes.
			if frame.Type == FrameCommitted && seen[frame.Event.ID] {
				continue
			}
			if !s.writeFrame(sess, frame) {
				return
			}
		}
	}
}

func (s *Server) writeFrame(sess *session, frame Frame) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		s.logger.Printf("[server] marshal frame: %v", err)
		return false
	}
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	err = sess.conn.Write(ctx, websocket.MessageText, data)
	cancel()
	if err != nil {
		s.dropSession(sess)
		return false
	}
	return true
}

func (s *Server) readLoop(sess *session) {
	defer s.wg.Done()
	defer s.dropSession(sess)

	for {
		_, data, err := sess.conn.Read(s.ctx)
		if err != nil {
			return
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Printf("[server] bad frame from %s: %v", sess.user, err)
			continue
		}
		switch frame.Type {
		case FramePing:
			s.enqueue(sess, Frame{Type: FramePong})
		case FrameSubmit:
			s.handleSubmit(sess, frame)
		default:
			s.logger.Printf("[server] unexpected frame type %q from %s", frame.Type, sess.user)
		}
	}
}

// enqueue hands a frame to the session's write loop without ever blocking the
// read loop.
func (s *Server) enqueue(sess *session, frame Frame) {
	select {
	case sess.send <- frame:
	default:
		s.logger.Printf("[server] send queue full for %s, dropping session", sess.user)
		go s.dropSession(sess)
	}
}

func (s *Server) handleSubmit(sess *session, frame Frame) {
	if frame.Event == nil {
		s.enqueue(sess, rejectedFrame("", event.Reject(event.RejectInvalidPayload, "submit frame without event")))
		return
	}
	ev := *frame.Event
	// The session owner is the author; a client cannot speak for others.
	if ev.Author != sess.user {
		s.enqueue(sess, rejectedFrame(ev.ID, event.Reject(event.RejectPermissionDenied,
			"event author %s does not match session user %s", ev.Author, sess.user)))
		return
	}

	s.commitMu.Lock()
	entry, readers, err := s.coord.Submit(s.ctx, ev)
	if err != nil {
		s.commitMu.Unlock()
		s.enqueue(sess, rejectedFrame(ev.ID, err))
		return
	}
	s.broadcast(entry, readers)
	s.commitMu.Unlock()
}

// broadcast fans a committed event out to every session whose user may read
// it. Only called after the append is durable.
func (s *Server) broadcast(entry store.Committed, readers []event.UserID) {
	allowed := make(map[event.UserID]bool, len(readers))
	for _, u := range readers {
		allowed[u] = true
	}

	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	for sess := range s.sessions {
		if allowed[sess.user] {
			s.enqueue(sess, committedFrame(entry))
		}
	}
}

func (s *Server) dropSession(sess *session) {
	s.sessionsMu.Lock()
	if _, exists := s.sessions[sess]; !exists {
		s.sessionsMu.Unlock()
		return
	}
	delete(s.sessions, sess)
	count := len(s.sessions)
	s.sessionsMu.Unlock()

	_ = sess.conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Printf("[server] %s disconnected (sessions: %d)", sess.user, count)
}

// handleSnapshot serves the full projected state visible to ?user=<name>.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	u, err := s.coord.UserByName(r.Context(), r.URL.Query().Get("user"))
	if err != nil {
		http.Error(w, "unknown user", http.StatusForbidden)
		return
	}
	snap, err := s.coord.SnapshotFor(r.Context(), u.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "ok",
		"sessions": s.SessionCount(),
	})
}
