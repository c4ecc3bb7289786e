// Package wsconn implements internal/connection.Transport over a gorilla
// websocket connection: one write mutex guarding outbound sends, and a
// single read-pump goroutine feeding inbound frames to a Connection's
// Deliver method — the same split the teacher uses for its remote
// notification service's websocket, adapted from a pubsub fan-out to a
// single peer's connection state machine.
package wsconn

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/piprate/teamkeep/internal/connection"
	"github.com/piprate/teamkeep/internal/jsonw"
	"github.com/rs/zerolog/log"
)

// Deliverer is the subset of *connection.Connection a Conn's read pump
// needs — just Deliver, so tests can substitute a stub.
type Deliverer interface {
	Deliver(connection.NumberedConnectionMessage)
}

// Conn adapts a *websocket.Conn to connection.Transport. Call Serve once
// the owning Connection has been constructed with this Conn as its
// Transport, so inbound frames can be handed to it.
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex
	closed  bool
}

var _ connection.Transport = (*Conn)(nil)

// New wraps an already-dialed or already-accepted websocket connection.
func New(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Send serializes msg as JSON and writes it as one text frame. Safe for
// concurrent use; gorilla/websocket requires writes to be serialized.
func (c *Conn) Send(msg connection.NumberedConnectionMessage) error {
	b, err := jsonw.Marshal(msg)
	if err != nil {
		return fmt.Errorf("wsconn: marshal: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return fmt.Errorf("wsconn: send on closed connection")
	}
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

// Serve runs the read pump until the socket closes or an unreadable frame
// arrives, decoding each text frame and handing it to dest.Deliver. It
// blocks; call it from its own goroutine. On return the underlying
// websocket has already been closed.
func (c *Conn) Serve(dest Deliverer) {
	defer c.Close()

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if !c.closed {
				log.Debug().Err(err).Msg("wsconn: read pump stopping")
			}
			return
		}

		var msg connection.NumberedConnectionMessage
		if err := jsonw.Unmarshal(raw, &msg); err != nil {
			log.Err(err).Msg("wsconn: malformed inbound frame, dropping")
			continue
		}
		dest.Deliver(msg)
	}
}

// Close closes the underlying websocket. Safe to call more than once.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.ws.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.ws.Close()
}
