package events

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/strefethen/sonos-fleet-go/internal/api"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // controllers run on other hosts of the LAN
	},
}

// RegisterRoutes wires the event stream and its status endpoint.
func RegisterRoutes(router chi.Router, hub *Hub) {
	router.HandleFunc("/v1/events", websocketHandler(hub))

	router.Method(http.MethodGet, "/v1/events/status", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object":  "event_stream_status",
			"clients": hub.ClientCount(),
		})
	}))
}

func websocketHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade failed - error already written to response
			return
		}

		c := &client{hub: hub, conn: conn, send: make(chan []byte, sendBuffer), remote: r.RemoteAddr}
		if !hub.register(c) {
			conn.Close()
			return
		}
		go c.writePump()
		c.readPump()
	}
}
