// Package web implements the optional live dashboard: an HTTP /stats
// endpoint plus a websocket broadcast of corpus deltas, adapted from the
// teacher's internal/web dashboard server.
package web

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
)

func marshalEvent(ev CorpusEvent) ([]byte, error) { return json.Marshal(ev) }

// Stats is the JSON shape served at GET /stats.
type Stats struct {
	Phase         string    `json:"phase"`
	StartTime     time.Time `json:"startTime"`
	Iterations    int64     `json:"iterations"`
	ExecsPerSec   float64   `json:"execsPerSec"`
	CorpusSize    int       `json:"corpusSize"`
	FailureCount  int       `json:"failureCount"`
	CoverageRatio float64   `json:"coverageRatio"`
}

// CorpusEvent is one broadcast message: an input was added to or evicted
// from a named pool.
type CorpusEvent struct {
	PoolName   string    `json:"poolName"`
	Kind       string    `json:"kind"` // "added" or "removed"
	EntryID    string    `json:"entryId"`
	Complexity float64   `json:"complexity"`
	Timestamp  time.Time `json:"timestamp"`
}

// Server is the fuzzer's optional live dashboard.
type Server struct {
	app *fiber.App

	mu    sync.RWMutex
	stats Stats

	clientsMu sync.Mutex
	clients   map[*websocket.Conn]struct{}
	broadcast chan CorpusEvent
}

// NewServer builds a dashboard server. Call Listen to start serving.
func NewServer() *Server {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	s := &Server{
		app:       app,
		clients:   make(map[*websocket.Conn]struct{}),
		broadcast: make(chan CorpusEvent, 256),
	}
	s.setupRoutes()
	go s.pump()
	return s
}

func (s *Server) setupRoutes() {
	s.app.Use(cors.New())

	s.app.Get("/stats", s.handleStats)

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws", websocket.New(s.handleWebSocket))
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return c.JSON(s.stats)
}

func (s *Server) handleWebSocket(c *websocket.Conn) {
	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	s.clientsMu.Unlock()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, c)
		s.clientsMu.Unlock()
		c.Close()
	}()

	// Read until the client disconnects; we never expect inbound
	// messages but must drain them to detect the close.
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}

// pump fans events from the broadcast channel out to every connected
// websocket client.
func (s *Server) pump() {
	for ev := range s.broadcast {
		data, err := marshalEvent(ev)
		if err != nil {
			continue
		}
		s.clientsMu.Lock()
		for c := range s.clients {
			_ = c.WriteMessage(websocket.TextMessage, data)
		}
		s.clientsMu.Unlock()
	}
}

// SetStats replaces the stats served at GET /stats.
func (s *Server) SetStats(st Stats) {
	s.mu.Lock()
	s.stats = st
	s.mu.Unlock()
}

// Broadcast queues a corpus event for delivery to connected clients,
// dropping it if the broadcast channel is saturated so a burst of
// admissions can never block the fuzzer loop.
func (s *Server) Broadcast(ev CorpusEvent) {
	select {
	case s.broadcast <- ev:
	default:
	}
}

// Listen starts serving on addr; blocks until the server stops.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
