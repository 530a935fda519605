package registry

import (
	"log/slog"

	"github.com/abdf1/df1/internal/bytebuf"
	"github.com/abdf1/df1/pkg/link"
)

// clientState is the per-client registration/message FSM (spec section
// 4.4).
type clientState uint8

const (
	clientConnected clientState = iota
	clientRegLen
	clientRegName
	clientIdle
	clientMsgLen
	clientMsg
	clientMsgReady
)

// Client-facing protocol bytes (spec section 6's TCP wire format).
const (
	msgSOH byte = 0x01
	msgAck byte = 0x06
	msgNak byte = 0x15
)

const (
	maxClientName  = 16
	outboxCapacity = 4096
	msgBufCapacity = 255
)

// feedResult reports what a single fed byte did to a client's FSM, so the
// Registry knows whether to register a node address, disconnect a client,
// or leave the outbound round-robin to notice a staged message later.
type feedResult uint8

const (
	feedNone feedResult = iota
	feedRegistered
	feedMsgReady
	feedViolation
)

// ClientCounters are the diagnostic counters spec section 4.4 implies for
// a registered client.
type ClientCounters struct {
	MessagesIn  uint64
	MessagesOut uint64
	Violations  uint64
}

// Client is one TCP peer registered against a Connection's DF1 service:
// its accept-to-registration state, its staged outbound message, and its
// output socket buffer (spec section 3 "Client").
type Client struct {
	id     uint64
	write  func([]byte) (int, error)
	logger *slog.Logger

	node       byte
	registered bool
	name       []byte

	state        clientState
	regRemaining int
	msgRemaining int
	msgBuf       *bytebuf.ByteBuf

	outbox *bytebuf.ByteBuf

	// pendingResponder is the DF1-RX Responder for the most recent
	// inbound message delivered to this client, held until the client
	// acknowledges or rejects it over its own MSG_ACK/MSG_NAK bytes
	// (spec section 4.4).
	pendingResponder link.Responder

	Counters ClientCounters
}

// newClient creates a Client in CONNECTED state. write places bytes on
// the client's TCP socket.
func newClient(id uint64, write func([]byte) (int, error), logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		id:     id,
		write:  write,
		logger: logger.With("component", "registry-client", "client_id", id),
		msgBuf: bytebuf.New(msgBufCapacity),
		outbox: bytebuf.New(outboxCapacity),
	}
}

// ID returns the client's stable registry id. This is never a raw
// pointer: a disconnected client's id simply stops resolving through the
// Registry, which stays well-defined even if the client disconnected
// mid-transmission.
func (c *Client) ID() uint64 { return c.id }

// Node returns the client's registered node address, and whether
// registration has completed.
func (c *Client) Node() (byte, bool) { return c.node, c.registered }

// Name returns the client's registered name.
func (c *Client) Name() string { return string(c.name) }

// State reports the client's current FSM state, mainly for tests.
func (c *Client) State() clientState { return c.state }

// Feed advances the client's FSM by one inbound byte read from its TCP
// socket (spec section 4.4).
func (c *Client) Feed(b byte) feedResult {
	switch c.state {
	case clientConnected:
		c.node = b
		c.state = clientRegLen
		return feedNone

	case clientRegLen:
		n := int(b)
		if n > maxClientName {
			c.Counters.Violations++
			return feedViolation
		}
		c.regRemaining = n
		c.name = c.name[:0]
		if n == 0 {
			c.registered = true
			c.state = clientIdle
			return feedRegistered
		}
		c.state = clientRegName
		return feedNone

	case clientRegName:
		c.name = append(c.name, b)
		c.regRemaining--
		if c.regRemaining == 0 {
			c.registered = true
			c.state = clientIdle
			return feedRegistered
		}
		return feedNone

	case clientIdle:
		switch b {
		case msgSOH:
			c.state = clientMsgLen
			return feedNone
		case msgAck:
			c.resolvePending(true)
			return feedNone
		case msgNak:
			c.resolvePending(false)
			return feedNone
		default:
			c.Counters.Violations++
			c.logger.Warn("unexpected byte in idle state", "byte", b)
			return feedViolation
		}

	case clientMsgLen:
		c.msgRemaining = int(b)
		c.msgBuf.Reset()
		if c.msgRemaining == 0 {
			c.state = clientMsgReady
			return feedMsgReady
		}
		c.state = clientMsg
		return feedNone

	case clientMsg:
		c.msgBuf.Append(b)
		c.msgRemaining--
		if c.msgRemaining == 0 {
			c.state = clientMsgReady
			return feedMsgReady
		}
		return feedNone

	case clientMsgReady:
		// A second MSG_SOH (or any byte) before the staged message has
		// finished transmitting (clearStaged) is a protocol violation
		// (spec section 4.4).
		c.Counters.Violations++
		return feedViolation
	}
	return feedNone
}

func (c *Client) resolvePending(ack bool) {
	if c.pendingResponder == nil {
		return
	}
	if ack {
		c.pendingResponder.Ack()
	} else {
		c.pendingResponder.Nak()
	}
	c.pendingResponder = nil
}

// stagedPayload returns the message staged in clientMsgReady, ready for
// Registry to hand to DF1-TX.
func (c *Client) stagedPayload() []byte {
	return append([]byte(nil), c.msgBuf.Bytes()...)
}

// clearStaged returns the client to clientIdle once DF1-TX has finished
// (successfully or not) transmitting its staged message.
func (c *Client) clearStaged() {
	c.Counters.MessagesOut++
	c.msgBuf.Reset()
	c.state = clientIdle
}

// QueueOutbound frames payload as MSG_SOH, length, payload and appends it
// to the client's output buffer. It returns false without queuing
// anything if the buffer cannot fit the frame (spec section 4.4:
// sink_full).
func (c *Client) QueueOutbound(payload []byte) bool {
	if len(payload) > 255 {
		return false
	}
	frame := make([]byte, 0, len(payload)+2)
	frame = append(frame, msgSOH, byte(len(payload)))
	frame = append(frame, payload...)
	if !c.outbox.Append(frame...) {
		return false
	}
	c.Counters.MessagesIn++
	return true
}

// setPendingResponder records the DF1-RX Responder to invoke once this
// client sends MSG_ACK/MSG_NAK for its most recently delivered message.
func (c *Client) setPendingResponder(r link.Responder) {
	c.pendingResponder = r
}

// Flush writes any buffered outbound bytes to the client's socket.
func (c *Client) Flush() error {
	if c.outbox.Len() == 0 {
		return nil
	}
	if _, err := c.write(c.outbox.Bytes()); err != nil {
		return err
	}
	c.outbox.Reset()
	return nil
}
