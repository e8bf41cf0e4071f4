// Package socket provides the persistent event connection used by the
// sync layer: connect, emit, on, off and disconnect.
package socket

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrNotConnected is returned by Emit when there is no live connection
var ErrNotConnected = errors.New("socket not connected")

// EventDisconnect is dispatched locally when the connection is lost or closed
const EventDisconnect = "disconnect"

// Handler receives the raw payload of an event
type Handler func(data json.RawMessage)

// Conn is an event-oriented connection to the relay
type Conn interface {
	// ID returns the relay-assigned connection id, empty until connected
	ID() string
	Emit(event string, data any) error
	On(event string, h Handler)
	Off(event string)
}

// Envelope is the wire frame for every event
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an envelope
func NewEnvelope(event string, data any) (Envelope, error) {
	env := Envelope{Event: event}
	if data == nil {
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return env, fmt.Errorf("marshal %s: %w", event, err)
	}
	env.Data = raw
	return env, nil
}

// Dispatcher is a registry of one handler per event name
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// On registers h for event, replacing any previous handler
func (d *Dispatcher) On(event string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handlers == nil {
		d.handlers = make(map[string]Handler)
	}
	d.handlers[event] = h
}

// Off removes the handler for event
func (d *Dispatcher) Off(event string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, event)
}

// Dispatch calls the handler registered for event, if any.
// It reports whether a handler was found.
func (d *Dispatcher) Dispatch(event string, data json.RawMessage) bool {
	d.mu.RLock()
	h := d.handlers[event]
	d.mu.RUnlock()
	if h == nil {
		return false
	}
	h(data)
	return true
}
