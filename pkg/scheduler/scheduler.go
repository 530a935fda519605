// Package scheduler drives the tick-plus-readiness loop that ties one or
// more DF1 Connections to their Client-Registries and TCP listeners
// (spec section 5). It replaces the original's global connection list
// with a Service value owned by the run loop and passed explicitly,
// and its pselect-plus-SIGALRM design with a context.Context-driven
// select over a ticker and per-socket reader goroutines.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/abdf1/df1/pkg/link"
	"github.com/abdf1/df1/pkg/registry"
)

// tickPeriod is the scheduler's 10ms period (spec section 5).
const tickPeriod = 10 * time.Millisecond

// connEntry bundles one configured line's Connection, Registry, and TCP
// listener.
type connEntry struct {
	name     string
	conn     *link.Connection
	registry *registry.Registry
	listener net.Listener
}

type newClientEvent struct {
	entry *connEntry
	conn  net.Conn
}

type clientByteEvent struct {
	entry *connEntry
	id    uint64
	data  []byte
	err   error
}

// Service owns every configured Connection, its Registry, and its TCP
// listener, and runs the tick loop that drives them all.
type Service struct {
	logger  *slog.Logger
	entries []*connEntry

	newClients   chan newClientEvent
	clientEvents chan clientByteEvent
}

// New creates an empty Service; call AddConnection for each configured
// line before Run.
func New(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger:       logger.With("component", "scheduler"),
		newClients:   make(chan newClientEvent, 16),
		clientEvents: make(chan clientByteEvent, 256),
	}
}

// AddConnection wires a ByteChannel into a new Connection/Registry pair
// and opens a TCP listener for its clients.
func (s *Service) AddConnection(name string, channel link.ByteChannel, cfg link.Config, listenAddr string) error {
	logger := s.logger.With("connection", name)
	reg := registry.New(logger)
	conn, err := link.NewConnection(name, channel, cfg, reg, logger)
	if err != nil {
		return fmt.Errorf("scheduler: connection %q: %w", name, err)
	}
	conn.Transmitter().Notify = reg.OnTxOutcome

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("scheduler: listen %s for connection %q: %w", listenAddr, name, err)
	}
	s.entries = append(s.entries, &connEntry{name: name, conn: conn, registry: reg, listener: ln})
	return nil
}

// Run drives the accept/read/tick loop until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	for _, e := range s.entries {
		go s.acceptLoop(ctx, e)
	}

	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		case <-ticker.C:
			s.tick()
		case nc := <-s.newClients:
			s.handleNewClient(nc.entry, nc.conn)
		case ev := <-s.clientEvents:
			s.handleClientEvent(ev)
		}
	}
}

func (s *Service) acceptLoop(ctx context.Context, e *connEntry) {
	for {
		conn, err := e.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.logger.Error("accept failed", "connection", e.name, "err", err)
				return
			}
		}
		select {
		case s.newClients <- newClientEvent{entry: e, conn: conn}:
		case <-ctx.Done():
			conn.Close()
			return
		}
	}
}

func (s *Service) handleNewClient(e *connEntry, conn net.Conn) {
	c := e.registry.Accept(conn.Write, s.logger)
	s.logger.Debug("client accepted", "connection", e.name, "client_id", c.ID())
	go s.readLoop(e, c.ID(), conn)
}

func (s *Service) readLoop(e *connEntry, id uint64, conn net.Conn) {
	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			s.clientEvents <- clientByteEvent{entry: e, id: id, data: append([]byte(nil), buf[:n]...)}
		}
		if err != nil {
			s.clientEvents <- clientByteEvent{entry: e, id: id, err: err}
			return
		}
	}
}

func (s *Service) handleClientEvent(ev clientByteEvent) {
	if ev.err != nil {
		ev.entry.registry.Disconnect(ev.id, ev.entry.conn.Transmitter())
		return
	}
	for _, b := range ev.data {
		if disc := ev.entry.registry.Feed(ev.id, b); disc {
			ev.entry.registry.Disconnect(ev.id, ev.entry.conn.Transmitter())
			return
		}
	}
}

// tick advances every connection's line reads and RX/TX timers by one
// 10ms period, then lets each registry dispatch its next ready client
// and flush accumulated client output (spec section 5: "each tick: call
// rx_tick then tx_tick").
func (s *Service) tick() {
	for _, e := range s.entries {
		if err := e.conn.PumpReads(); err != nil {
			s.logger.Warn("line read failed", "connection", e.name, "err", err)
		}
		e.conn.Tick()
		e.registry.NextReady(e.conn.Transmitter())
		for _, c := range e.registry.Clients() {
			if err := c.Flush(); err != nil {
				s.logger.Warn("client flush failed", "connection", e.name, "client_id", c.ID(), "err", err)
			}
		}
	}
}

func (s *Service) shutdown() {
	for _, e := range s.entries {
		e.listener.Close()
		e.conn.Close()
	}
}
