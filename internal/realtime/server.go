// Package realtime exposes sessions and plugins over HTTP and pushes
// session activity to websocket clients.
package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tessro/atelier/internal/logging"
	"github.com/tessro/atelier/internal/plugin"
	"github.com/tessro/atelier/internal/session"
)

const (
	pingInterval  = 30 * time.Second
	readDeadline  = 60 * time.Second
	writeDeadline = 10 * time.Second
	sendBuffer    = 256

	// DefaultPollInterval is how often subscribed sessions are drained.
	DefaultPollInterval = 250 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server routes HTTP requests to the session registry and plugin manager
// and fans session activity out to websocket clients.
type Server struct {
	sessions     *session.Registry
	plugins      *plugin.Manager
	pollInterval time.Duration
	log          *slog.Logger
	unsubscribe  func()

	// +checklocks:clientsMu
	clients   map[*client]bool
	clientsMu sync.RWMutex
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	server *Server

	// +checklocks:mu
	subs map[string]chan struct{}
	// +checklocks:mu
	closed bool
	mu     sync.Mutex
}

// New creates a server. A non-positive pollInterval uses the default.
func New(sessions *session.Registry, plugins *plugin.Manager, pollInterval time.Duration) *Server {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	s := &Server{
		sessions:     sessions,
		plugins:      plugins,
		pollInterval: pollInterval,
		log:          slog.With("component", "realtime"),
		clients:      make(map[*client]bool),
	}
	s.unsubscribe = sessions.OnChange(s.broadcastChange)
	return s
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("GET /version", s.handleVersion)
	mux.HandleFunc("GET /plugins", s.handleListPlugins)
	mux.HandleFunc("GET /plugins/{name}/flags", s.handleListFlags)
	mux.HandleFunc("GET /plugins/{name}/flags/{id}", s.handleGetFlag)
	mux.HandleFunc("PUT /plugins/{name}/flags/{id}", s.handleSetFlag)

	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("GET /sessions", s.handleListSessions)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("GET /sessions/{id}/health", s.handleHealth)
	mux.HandleFunc("POST /sessions/{id}/messages", s.handleSendMessage)
	mux.HandleFunc("GET /sessions/{id}/output", s.handleReadOutput)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		server: s,
		subs:   make(map[string]chan struct{}),
	}

	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()
	s.log.Debug("client connected", "remote", r.RemoteAddr)

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer logging.LogPanic("realtime-read", nil)
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.log.Warn("websocket read failed", "error", err)
			}
			return
		}
		c.server.handleMessage(c, data)
	}
}

func (c *client) writePump() {
	defer logging.LogPanic("realtime-write", nil)
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// enqueue queues a frame without blocking. Frames for a full or closed
// client are dropped.
func (c *client) enqueue(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.server.log.Debug("client buffer full, dropping frame", "type", msg.Type)
	}
}

func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	if !s.clients[c] {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, c)
	s.clientsMu.Unlock()

	c.mu.Lock()
	c.closed = true
	for id, stop := range c.subs {
		close(stop)
		delete(c.subs, id)
	}
	c.mu.Unlock()

	close(c.done)
	s.log.Debug("client disconnected")
}

func (s *Server) handleMessage(c *client, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(c, "", "invalid message: "+err.Error())
		return
	}

	switch msg.Type {
	case TypeSubscribe:
		if _, err := s.sessions.Status(msg.SessionID); err != nil {
			s.sendError(c, msg.SessionID, err.Error())
			return
		}
		c.subscribe(msg.SessionID)
	case TypeUnsubscribe:
		c.unsubscribe(msg.SessionID)
	default:
		s.sendError(c, msg.SessionID, "unknown message type: "+msg.Type)
	}
}

// subscribe starts draining a session into session.events frames.
// It reports false once the client has disconnected.
func (c *client) subscribe(sessionID string) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if _, ok := c.subs[sessionID]; ok {
		c.mu.Unlock()
		return true
	}
	stop := make(chan struct{})
	c.subs[sessionID] = stop
	c.mu.Unlock()

	if msg, err := NewMessage(TypeSubscribed, sessionID, nil); err == nil {
		c.enqueue(msg)
	}
	go c.poll(sessionID, stop)
	return true
}

func (c *client) unsubscribe(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if stop, ok := c.subs[sessionID]; ok {
		close(stop)
		delete(c.subs, sessionID)
	}
}

func (c *client) poll(sessionID string, stop <-chan struct{}) {
	defer logging.LogPanic("realtime-poll", nil)
	ticker := time.NewTicker(c.server.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-c.done:
			return
		case <-ticker.C:
		}

		raw, events, err := c.server.sessions.ReadBoth(sessionID)
		if err != nil {
			c.server.sendError(c, sessionID, err.Error())
			c.unsubscribe(sessionID)
			return
		}
		if len(raw) == 0 && len(events) == 0 {
			continue
		}
		msg, err := NewMessage(TypeSessionEvents, sessionID, EventsPayload{Raw: raw, Events: events})
		if err != nil {
			continue
		}
		c.enqueue(msg)
	}
}

func (s *Server) broadcastChange(ch session.Change) {
	msg, err := NewMessage(TypeSessionChange, ch.SessionID, ChangePayload{Old: ch.Old, New: ch.New})
	if err != nil {
		return
	}
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for c := range s.clients {
		c.enqueue(msg)
	}
}

func (s *Server) sendError(c *client, sessionID, message string) {
	msg, err := NewMessage(TypeError, sessionID, ErrorPayload{Message: message})
	if err != nil {
		return
	}
	c.enqueue(msg)
}

// Close stops change delivery and disconnects every websocket client.
func (s *Server) Close() {
	s.unsubscribe()
	s.clientsMu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.RUnlock()
	for _, c := range clients {
		s.removeClient(c)
	}
}
