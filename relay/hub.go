// Package relay is a minimal rendezvous server standing in for "relay
// discovery" — out of scope as a component per spec.md §1, but two host
// processes still need a way to find each other for a demo. It never
// parses a connection.NumberedConnectionMessage; it forwards whatever
// bytes one side writes to the other, verbatim, same as any opaque
// transport.
package relay

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Hub pairs at most two websocket connections per room id and relays
// every frame one sends to the other.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*room
}

type room struct {
	conns [2]*websocket.Conn
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*room)}
}

// Join registers ws under roomID and, once both participants have joined,
// relays frames read from one straight to the other. It blocks until ws
// disconnects or the room rejects it as full (only the first two callers
// for a given roomID are admitted), and closes ws before returning. Each
// websocket.Conn is written only by its peer's Join call, so no extra
// write-serialization is needed beyond what gorilla/websocket itself does
// per direction.
func (h *Hub) Join(roomID string, ws *websocket.Conn) {
	slot, r := h.enter(roomID, ws)
	if slot < 0 {
		log.Warn().Str("room", roomID).Msg("relay: room full, rejecting connection")
		_ = ws.Close()
		return
	}

	defer h.leave(roomID, r, slot, ws)

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		h.mu.Lock()
		peer := r.conns[1-slot]
		h.mu.Unlock()
		if peer == nil {
			continue
		}
		if err := peer.WriteMessage(mt, data); err != nil {
			log.Debug().Err(err).Str("room", roomID).Msg("relay: forward failed")
		}
	}
}

func (h *Hub) enter(roomID string, ws *websocket.Conn) (int, *room) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomID]
	if !ok {
		r = &room{}
		h.rooms[roomID] = r
	}
	for i, c := range r.conns {
		if c == nil {
			r.conns[i] = ws
			return i, r
		}
	}
	return -1, r
}

func (h *Hub) leave(roomID string, r *room, slot int, ws *websocket.Conn) {
	h.mu.Lock()
	if h.rooms[roomID] == r && r.conns[slot] == ws {
		r.conns[slot] = nil
		if r.conns[0] == nil && r.conns[1] == nil {
			delete(h.rooms, roomID)
		}
	}
	h.mu.Unlock()
	_ = ws.Close()
}
