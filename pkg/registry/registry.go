// Package registry implements the Client-Registry: it multiplexes a
// single DF1 Connection's application stream among many TCP-registered
// clients, keyed by logical node address (spec section 4.4).
package registry

import (
	"log/slog"
	"sync"

	"github.com/abdf1/df1/pkg/link"
)

// RegistryCounters are the diagnostic counters spec section 4.4 names.
type RegistryCounters struct {
	UnknownDst uint64
	SinkFull   uint64
}

// Registry holds every client accepted on one Connection, keyed by a
// stable integer id rather than a raw pointer, so a client that
// disconnects mid-transmission simply stops resolving (design notes
// section 9) instead of leaving a dangling reference anywhere.
type Registry struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[uint64]*Client
	byNode  map[byte]uint64
	order   []uint64
	nextID  uint64
	cursor  int

	Counters RegistryCounters
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger.With("component", "registry"),
		clients: make(map[uint64]*Client),
		byNode:  make(map[byte]uint64),
		cursor:  -1,
	}
}

// Accept registers a newly connected socket and returns its Client
// handle in CONNECTED state, awaiting the node-address/name handshake.
// write places bytes on the client's TCP socket.
func (r *Registry) Accept(write func([]byte) (int, error), logger *slog.Logger) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	c := newClient(r.nextID, write, logger)
	r.clients[c.id] = c
	r.order = append(r.order, c.id)
	return c
}

// Feed routes one inbound byte from client id's socket into its FSM. It
// returns true if the client must be disconnected (protocol violation,
// or a duplicate node address at end of registration).
func (r *Registry) Feed(id uint64, b byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return true
	}
	switch c.Feed(b) {
	case feedRegistered:
		if _, dup := r.byNode[c.node]; dup {
			r.logger.Warn("rejecting duplicate node address", "node", c.node, "client_id", id)
			r.removeLocked(id)
			return true
		}
		r.byNode[c.node] = id
		r.logger.Debug("client registered", "node", c.node, "name", c.Name(), "client_id", id)
	case feedViolation:
		r.logger.Warn("client protocol violation, disconnecting", "client_id", id)
		r.removeLocked(id)
		return true
	}
	return false
}

// Disconnect removes client id, releasing its node address and clearing
// it from an in-flight transmission (whose completion no one is
// notified of), per spec section 4.4.
func (r *Registry) Disconnect(id uint64, tx *link.Transmitter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tx != nil && tx.OwnerIs(id) {
		tx.ClearOwner()
	}
	r.removeLocked(id)
}

func (r *Registry) removeLocked(id uint64) {
	c, ok := r.clients[id]
	if !ok {
		return
	}
	if c.registered {
		if owner, ok := r.byNode[c.node]; ok && owner == id {
			delete(r.byNode, c.node)
		}
	}
	delete(r.clients, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns the client with the given id, for callers (the scheduler)
// that need to flush its outbox or close its socket.
func (r *Registry) Get(id uint64) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	return c, ok
}

// Clients returns a snapshot of every currently registered client.
func (r *Registry) Clients() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Client, 0, len(r.order))
	for _, id := range r.order {
		if c, ok := r.clients[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Deliver implements link.MessageSink: it routes a payload accepted by
// DF1-RX to the client registered for its destination node byte (spec
// section 4.4). An unroutable destination is acknowledged on the
// client's behalf (unknown_dst++); a client whose output buffer is full
// is NAKed immediately (sink_full++).
func (r *Registry) Deliver(payload []byte, responder link.Responder) {
	if len(payload) == 0 {
		responder.Nak()
		return
	}
	dst := payload[0]

	r.mu.Lock()
	id, routed := r.byNode[dst]
	var c *Client
	if routed {
		c, routed = r.clients[id]
	}
	r.mu.Unlock()

	if !routed {
		r.mu.Lock()
		r.Counters.UnknownDst++
		r.mu.Unlock()
		responder.Ack()
		return
	}
	if !c.QueueOutbound(payload) {
		r.mu.Lock()
		r.Counters.SinkFull++
		r.mu.Unlock()
		responder.Nak()
		return
	}
	c.setPendingResponder(responder)
}

// OnTxOutcome is wired as the Transmitter's Notify callback: once a
// staged client message finishes transmitting (successfully or not), the
// owning client returns to clientIdle so it can stage its next message.
func (r *Registry) OnTxOutcome(owner any, _ link.TxOutcome) {
	id, ok := owner.(uint64)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return
	}
	c.clearStaged()
}

// NextReady dispatches the next clientMsgReady client's staged message
// into tx, round-robin from the previously served client. The cursor
// only advances on a successful dispatch, so a client that becomes ready
// exactly at the current cursor position is never skipped (the
// find_next_tx redesign decision).
func (r *Registry) NextReady(tx *link.Transmitter) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !tx.Idle() || len(r.order) == 0 {
		return false
	}
	n := len(r.order)
	for i := 0; i < n; i++ {
		idx := (r.cursor + 1 + i) % n
		id := r.order[idx]
		c, ok := r.clients[id]
		if !ok || c.State() != clientMsgReady {
			continue
		}
		if tx.Send(c.stagedPayload(), id) {
			r.cursor = idx
			return true
		}
	}
	return false
}
