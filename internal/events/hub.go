package events

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/strefethen/sonos-fleet-go/internal/devices"
)

// Message types sent to clients.
const (
	TypeSnapshot            = "snapshot"
	TypeFleetChanged        = "fleet_changed"
	TypeGroupsChanged       = "groups_changed"
	TypeDeviceActiveChanged = "device_active_changed"
	TypeGroupActiveChanged  = "group_active_changed"
	TypeSweepCompleted      = "sweep_completed"
)

const (
	sendBuffer     = 64
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Message is the envelope of every frame written to a client.
type Message struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

type snapshot struct {
	Devices []devices.DeviceView `json:"devices"`
	Groups  []devices.GroupView  `json:"groups"`
}

// Hub fans fleet notifications out to websocket clients. It keeps the latest
// device and group lists so a new client starts from a snapshot taken in
// notification order.
type Hub struct {
	logger *log.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	devices []devices.DeviceView
	groups  []devices.GroupView
	closed  bool
}

// NewHub creates an empty hub. Subscribe it before the fleet starts changing.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		logger:  logger,
		clients: make(map[*client]struct{}),
		devices: []devices.DeviceView{},
		groups:  []devices.GroupView{},
	}
}

func (h *Hub) FleetChanged(views []devices.DeviceView) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.devices = views
	h.broadcastLocked(TypeFleetChanged, views)
}

func (h *Hub) GroupsChanged(views []devices.GroupView) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.groups = views
	h.broadcastLocked(TypeGroupsChanged, views)
}

func (h *Hub) DeviceActiveChanged(view devices.DeviceView) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.devices {
		if h.devices[i].UDN == view.UDN {
			h.devices = append([]devices.DeviceView(nil), h.devices...)
			h.devices[i] = view
			break
		}
	}
	h.broadcastLocked(TypeDeviceActiveChanged, view)
}

func (h *Hub) GroupActiveChanged(view devices.GroupView) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.groups {
		if h.groups[i].ID == view.ID {
			h.groups = append([]devices.GroupView(nil), h.groups...)
			h.groups[i] = view
			break
		}
	}
	h.broadcastLocked(TypeGroupActiveChanged, view)
}

func (h *Hub) SweepCompleted(result devices.SweepResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcastLocked(TypeSweepCompleted, result)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func encode(msgType string, data any) ([]byte, error) {
	return json.Marshal(Message{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
	})
}

// broadcastLocked queues the message for every client. Clients whose buffer
// is full are dropped rather than stalling the notifier.
func (h *Hub) broadcastLocked(msgType string, data any) {
	if len(h.clients) == 0 {
		return
	}
	payload, err := encode(msgType, data)
	if err != nil {
		h.logger.Printf("EVENTS: encode %s: %v", msgType, err)
		return
	}
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Printf("EVENTS: client %s too slow, disconnecting", c.remote)
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// register adds c and queues the current snapshot as its first message.
func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	payload, err := encode(TypeSnapshot, snapshot{Devices: h.devices, Groups: h.groups})
	if err != nil {
		h.logger.Printf("EVENTS: encode snapshot: %v", err)
		return false
	}
	c.send <- payload
	h.clients[c] = struct{}{}
	h.logger.Printf("EVENTS: client %s connected (%d total)", c.remote, len(h.clients))
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.logger.Printf("EVENTS: client %s disconnected (%d total)", c.remote, len(h.clients))
	}
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	remote string
}

// readPump discards client frames; it exists to process pongs and notice disconnects.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
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
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
