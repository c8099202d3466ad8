// Package web serves the live position view: a websocket hub pushing every
// fused estimate, a small JSON API, and the metrics endpoint.
package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"positioning-go/estimate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 512
	sendQueueSize  = 64
)

// wsPosition is the JSON pushed to websocket clients.
type wsPosition struct {
	TimestampMs int64   `json:"ts_ms"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	AccuracyM   float64 `json:"accuracy_m"`
	Confidence  float64 `json:"confidence"`
	Source      string  `json:"source"`
}

// Hub fans broadcast messages out to all connected websocket clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	log        *logrus.Entry
}

// NewHub builds a hub; call Run in its own goroutine.
func NewHub(log *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		log:        log.WithField("component", "web-hub"),
	}
}

// Run owns the client set; it never returns.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow consumer: drop it rather than stall the hub.
					delete(h.clients, c)
					close(c.send)
				}
			}
		}
	}
}

// Broadcast queues a raw message for every client; drops when the hub is
// saturated.
func (h *Hub) Broadcast(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
	}
}

// PublishPosition pushes a fused estimate to all websocket clients. It
// implements the ingest sinks' fan-out interface.
func (h *Hub) PublishPosition(pos estimate.PositionEstimate) {
	if !pos.IsValid() {
		return
	}
	b, err := json.Marshal(wsPosition{
		TimestampMs: pos.TimestampMs,
		X:           pos.X,
		Y:           pos.Y,
		AccuracyM:   pos.AccuracyM,
		Confidence:  pos.Confidence,
		Source:      pos.Source.String(),
	})
	if err != nil {
		return
	}
	h.Broadcast(b)
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// serveWs upgrades an HTTP request to a websocket client of the hub.
func serveWs(h *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("upgrade failed")
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, sendQueueSize)}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

// readPump discards inbound traffic; the stream is push-only, but reading
// is required to process control frames and notice disconnects.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
