package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/banshee-data/tracking.stimulator/internal/host"
	"github.com/banshee-data/tracking.stimulator/internal/tracking"
)

const writeWait = time.Second

// EventMessage is the websocket form of a tracking.Event.
type EventMessage struct {
	Kind         string  `json:"kind"`
	SampleNumber int64   `json:"sample_number"`
	SourceID     int     `json:"source_id,omitempty"`
	Source       string  `json:"source,omitempty"`
	Color        string  `json:"color,omitempty"`
	Timestamp    int64   `json:"timestamp,omitempty"`
	X            float32 `json:"x,omitempty"`
	Y            float32 `json:"y,omitempty"`
	Width        float32 `json:"width,omitempty"`
	Height       float32 `json:"height,omitempty"`
	Channel      int     `json:"channel,omitempty"`
	State        bool    `json:"state,omitempty"`
	Region       int     `json:"region,omitempty"`
}

// BatchMessage is one processed block pushed to websocket clients.
type BatchMessage struct {
	FirstSample int64          `json:"first_sample"`
	Recording   bool           `json:"recording"`
	Session     string         `json:"session,omitempty"`
	Events      []EventMessage `json:"events"`
}

func eventMessage(e tracking.Event) EventMessage {
	m := EventMessage{Kind: e.Kind.String(), SampleNumber: e.SampleNumber, SourceID: e.SourceID}
	switch e.Kind {
	case tracking.EventPosition:
		m.Source = e.Source
		m.Color = e.Color.String()
		m.Timestamp = e.Timestamp
		m.X, m.Y = e.Position.X, e.Position.Y
		m.Width, m.Height = e.Position.Width, e.Position.Height
	case tracking.EventTTL:
		m.Channel = e.Channel
		m.State = e.State
		m.Region = e.Region
	}
	return m
}

// Hub fans processed blocks out to websocket clients.
type Hub struct {
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	register  chan *websocket.Conn
	remove    chan *websocket.Conn
	broadcast chan []byte
	done      chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:   make(map[*websocket.Conn]bool),
		register:  make(chan *websocket.Conn),
		remove:    make(chan *websocket.Conn),
		broadcast: make(chan []byte, 64),
		done:      make(chan struct{}),
	}
}

// Run serves registrations and broadcasts until ctx is cancelled, then
// closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for conn := range h.clients {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				conn.Close()
				delete(h.clients, conn)
			}
			return
		case conn := <-h.register:
			h.clients[conn] = true
		case conn := <-h.remove:
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
		case msg := <-h.broadcast:
			for conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					logf("websocket write failed, dropping client: %v", err)
					delete(h.clients, conn)
					conn.Close()
				}
			}
		}
	}
}

// ServeHTTP upgrades the request and registers the client. Incoming
// messages are ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logf("websocket upgrade failed: %v", err)
		return
	}
	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	}

	go func() {
		defer func() {
			select {
			case h.remove <- conn:
			case <-h.done:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logf("websocket error: %v", err)
				}
				return
			}
		}
	}()
}

// HandleBatch queues b for every client, dropping it when the hub is
// backed up.
func (h *Hub) HandleBatch(_ context.Context, b host.Batch) error {
	msg := BatchMessage{
		FirstSample: b.FirstSample,
		Recording:   b.Recording,
		Session:     b.Session,
		Events:      make([]EventMessage, 0, len(b.Events)),
	}
	for _, e := range b.Events {
		msg.Events = append(msg.Events, eventMessage(e))
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- data:
	default:
	}
	return nil
}
