package dashboard

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// wsBroadcast is one message queued for delivery: the marshaled
// audit.Entry plus the requester it concerns, so the hub can honor each
// connection's requester filter without re-parsing the JSON payload.
type wsBroadcast struct {
	data      []byte
	requester string
}

// wsHub manages the set of active WebSocket connections and fans out
// resolved-intent audit events to them. This is the backend for qpe's
// live activity feed: every HandleUtterance call that resolves an
// intent broadcasts its audit.Entry here (see Dashboard.BroadcastEvent),
// and each connected dashboard tab sees it in real time.
//
// Architecture: a single hub goroutine handles registration, unregistration,
// and broadcasting. This avoids needing locks on the connections map —
// all mutations happen in the hub goroutine via channels.
type wsHub struct {
	// connections is the set of active WebSocket clients.
	connections map[*wsConn]bool

	// broadcast channel — events sent here are fanned out to every
	// client whose requester filter allows them.
	broadcastCh chan wsBroadcast

	// register/unregister channels for adding/removing clients.
	registerCh   chan *wsConn
	unregisterCh chan *wsConn
}

// wsConn wraps a single WebSocket connection. requesterFilter narrows
// the feed this client receives to one requester's activity — an
// operator watching down a single caller (e.g. while investigating a
// block-list candidate) opens /dashboard/ws?requester=<id> instead of
// the unfiltered firehose. Empty means "every requester".
type wsConn struct {
	conn            *websocket.Conn
	send            chan []byte
	requesterFilter string
	mu              sync.Mutex // Protects concurrent writes.
}

// upgrader handles HTTP → WebSocket protocol upgrade.
// CheckOrigin allows all origins since the dashboard is served on the
// same port as the engine's HTTP API (same-origin) and we want to
// support dev tools.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newWSHub creates a new WebSocket hub.
func newWSHub() *wsHub {
	return &wsHub{
		connections:  make(map[*wsConn]bool),
		broadcastCh:  make(chan wsBroadcast, 256),
		registerCh:   make(chan *wsConn),
		unregisterCh: make(chan *wsConn),
	}
}

// run is the main hub event loop. Runs in a background goroutine.
// Handles client registration, unregistration, and event fan-out.
func (h *wsHub) run() {
	for {
		select {
		case conn := <-h.registerCh:
			h.connections[conn] = true
			slog.Debug("websocket client connected", "total", len(h.connections), "requester_filter", conn.requesterFilter)

		case conn := <-h.unregisterCh:
			if _, ok := h.connections[conn]; ok {
				delete(h.connections, conn)
				close(conn.send)
				slog.Debug("websocket client disconnected", "total", len(h.connections))
			}

		case ev := <-h.broadcastCh:
			for conn := range h.connections {
				if conn.requesterFilter != "" && conn.requesterFilter != ev.requester {
					continue
				}
				select {
				case conn.send <- ev.data:
				default:
					// Client's send buffer is full — drop the connection.
					// This prevents a slow client from blocking all broadcasts.
					delete(h.connections, conn)
					close(conn.send)
				}
			}
		}
	}
}

// broadcast queues a resolved-intent event for every connection whose
// requesterFilter admits requester. Non-blocking — if the broadcast
// channel is full, the event is dropped.
func (h *wsHub) broadcast(data []byte, requester string) {
	select {
	case h.broadcastCh <- wsBroadcast{data: data, requester: requester}:
	default:
		// Channel full — drop message. This is acceptable for the live
		// feed since it's best-effort (clients can refresh to catch up
		// via GET /api/audit).
	}
}

// handleWebSocket upgrades an HTTP connection to WebSocket and registers
// the client with the hub for receiving broadcast resolved-intent events.
// An optional ?requester=<id> query parameter scopes the feed to that
// requester alone.
func (d *Dashboard) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &wsConn{
		conn:            conn,
		send:            make(chan []byte, 64),
		requesterFilter: r.URL.Query().Get("requester"),
	}

	// Register with the hub.
	d.wsHub.registerCh <- client

	// Start the write pump in a goroutine.
	go client.writePump()

	// Read pump — just drains incoming messages (we don't expect any from
	// the client, but we need to read to detect disconnection).
	go client.readPump(d.wsHub)
}

// writePump sends queued events from the send channel to the WebSocket
// connection. Runs in a goroutine per client.
func (c *wsConn) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		c.mu.Lock()
		err := c.conn.WriteMessage(websocket.TextMessage, msg)
		c.mu.Unlock()
		if err != nil {
			return
		}
	}
}

// readPump reads messages from the WebSocket (to detect disconnection).
// When the client disconnects, unregisters from the hub.
func (c *wsConn) readPump(hub *wsHub) {
	defer func() {
		hub.unregisterCh <- c
		c.conn.Close()
	}()

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		// We ignore incoming messages — the resolved-intent feed is
		// one-directional (server → client).
	}
}
