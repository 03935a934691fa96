// Package live serves the most recent reading over HTTP and streams every
// outcome to WebSocket clients.
package live

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/luhtfiimanal/go-sensor-termio/driver"
	"github.com/luhtfiimanal/go-sensor-termio/frame"
)

const (
	clientQueue  = 16
	writeTimeout = 5 * time.Second
)

// Event is the JSON form of one outcome.
type Event struct {
	Kind      string         `json:"kind"`
	Cycle     uint64         `json:"cycle"`
	At        time.Time      `json:"at"`
	Reading   *frame.Reading `json:"reading,omitempty"`
	Formatted string         `json:"formatted,omitempty"`
	Raw       string         `json:"raw,omitempty"`
	Error     string         `json:"error,omitempty"`
	ElapsedMS int64          `json:"elapsed_ms,omitempty"`
	Length    int            `json:"length,omitempty"`
}

// NewEvent converts a driver outcome.
func NewEvent(o driver.Outcome) Event {
	e := Event{Kind: o.Kind.String(), Cycle: o.Cycle, At: o.At}
	switch o.Kind {
	case driver.KindReading:
		r := o.Reading
		e.Reading = &r
		e.Formatted = r.String()
	case driver.KindMalformed, driver.KindOverflowed:
		e.Raw = frame.Escape(o.Raw)
		e.Length = o.Length
	case driver.KindTimedOut:
		e.ElapsedMS = o.Elapsed.Milliseconds()
		e.Length = o.Length
	}
	if o.Err != nil {
		e.Error = o.Err.Error()
	}
	return e
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub is a driver.Reporter. Report never blocks on the network: a client
// whose queue is full misses the event.
type Hub struct {
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	latest  *Event
	clients map[*client]struct{}
}

// NewHub returns an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

func (h *Hub) Report(o driver.Outcome) {
	e := NewEvent(o)
	msg, err := json.Marshal(e)
	if err != nil {
		h.log.Error().Err(err).Msg("live: encode event")
		return
	}

	h.mu.Lock()
	if o.Kind == driver.KindReading {
		h.latest = &e
	}
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.log.Debug().Str("client", c.conn.RemoteAddr().String()).Msg("live: client queue full, dropping event")
		}
	}
	h.mu.Unlock()
}

// Seed sets the reading served by /latest without broadcasting it.
// Outcomes other than readings are ignored.
func (h *Hub) Seed(o driver.Outcome) {
	if o.Kind != driver.KindReading {
		return
	}
	e := NewEvent(o)
	h.mu.Lock()
	h.latest = &e
	h.mu.Unlock()
}

// Latest returns the last reading event, if any.
func (h *Hub) Latest() (Event, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.latest == nil {
		return Event{}, false
	}
	return *h.latest, true
}

// Clients returns the number of connected WebSocket clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Handler routes GET /latest and GET /ws.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /latest", h.serveLatest)
	mux.HandleFunc("GET /ws", h.serveWS)
	return mux
}

func (h *Hub) serveLatest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	e, ok := h.Latest()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "no readings available yet",
		})
		return
	}
	json.NewEncoder(w).Encode(e)
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("live: websocket upgrade")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientQueue)}
	h.mu.Lock()
	if h.latest != nil {
		if msg, err := json.Marshal(h.latest); err == nil {
			c.send <- msg
		}
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Debug().Str("client", conn.RemoteAddr().String()).Msg("live: client connected")

	go c.writeLoop()

	// Incoming messages are ignored; a read error means the client left.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	h.log.Debug().Str("client", c.conn.RemoteAddr().String()).Msg("live: client disconnected")
}

func (c *client) writeLoop() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}
