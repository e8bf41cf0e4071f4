package hub

import (
	"github.com/austinkregel/local-media/tandem/internal/socket"
	"github.com/austinkregel/local-media/tandem/internal/types"
)

// MemoryConn is an in-process socket.Conn attached directly to a Hub.
// Inbound events are dispatched in order on a dedicated goroutine.
type MemoryConn struct {
	socket.Dispatcher
	hub  *Hub
	peer *peer
}

// Attach registers a new in-process socket for the given identity
func (h *Hub) Attach(info types.Participant) *MemoryConn {
	c := &MemoryConn{hub: h}
	c.peer = h.register(info)
	go c.peer.out.run(func(env socket.Envelope) {
		c.Dispatch(env.Event, env.Data)
	})
	return c
}

// ID returns the hub-assigned socket id
func (c *MemoryConn) ID() string {
	return c.peer.info.SocketID
}

// Emit hands the event to the hub
func (c *MemoryConn) Emit(event string, data any) error {
	env, err := socket.NewEnvelope(event, data)
	if err != nil {
		return err
	}
	c.hub.handle(c.peer, env)
	return nil
}

// Close detaches the socket, as if the connection dropped
func (c *MemoryConn) Close() {
	c.hub.unregister(c.peer)
}
