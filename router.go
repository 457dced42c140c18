package msgsock

import "sync"

// Handler processes one inbound message and produces the response.
// Implementations must be safe for concurrent use: one Router is shared
// by every connection on a server, and dispatch runs on the
// connection's goroutine.
type Handler interface {
	Handle(Message) Message
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(Message) Message

// Handle calls f(m).
func (f HandlerFunc) Handle(m Message) Message {
	return f(m)
}

// Router maps message ids to handlers. Register and Dispatch are safe
// to call concurrently from any number of goroutines without external
// locking; a Dispatch sees a handler either fully installed or not at
// all.
type Router struct {
	mu     sync.RWMutex
	routes map[uint32]Handler
}

// NewRouter creates an empty routing table.
func NewRouter() *Router {
	return &Router{
		routes: make(map[uint32]Handler),
	}
}

// Register installs the handler for id. At most one handler is
// associated with an id: a later registration replaces the earlier one
// silently. Concurrent registrations for the same id race with
// last-writer-wins semantics.
func (r *Router) Register(id uint32, h Handler) {
	r.mu.Lock()
	r.routes[id] = h
	r.mu.Unlock()
}

// RegisterFunc registers a plain function as the handler for id.
func (r *Router) RegisterFunc(id uint32, f func(Message) Message) {
	r.Register(id, HandlerFunc(f))
}

// Dispatch routes msg to the handler registered for its id and returns
// the handler's response. A message with no registered handler yields
// the reserved NotFound response; a missing route is a normal result,
// never an error. The handler runs synchronously on the caller's
// goroutine.
func (r *Router) Dispatch(msg Message) Message {
	r.mu.RLock()
	h, ok := r.routes[msg.ID()]
	r.mu.RUnlock()

	if !ok {
		return NotFound()
	}

	return h.Handle(msg)
}
