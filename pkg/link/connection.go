package link

import (
	"log/slog"
)

// Config bundles the per-connection attributes spec section 3 and
// section 6 name.
type Config struct {
	Name            string
	ErrorDetect     ErrorDetect
	Duplex          Duplex
	DuplicateDetect bool
	MaxNak          uint8
	MaxEnq          uint8
	AckTimeoutTicks uint32 // ack_timeout expressed in 10ms ticks
}

// Connection owns one serial line (or equivalent ByteChannel), its RX and
// TX state machines, and parses the raw byte stream, distinguishing link
// symbols from the application stream (spec section 3/4.4).
type Connection struct {
	logger *slog.Logger

	name    string
	channel ByteChannel

	rx *Receiver
	tx *Transmitter

	// prevDLE is the top-level (out-of-frame) DLE-escape tracking used
	// to recognise DLE STX / DLE ACK / DLE NAK / DLE ENQ when no frame
	// is currently being assembled.
	prevDLE bool

	// embedRsp latches once an embedded ACK/NAK has been observed
	// inside a received payload (spec section 4.2/4.3): from then on,
	// the transmitter's PEND_RESP timer pauses while the receiver is
	// mid-frame.
	embedRsp bool

	readBuf []byte
}

// NewConnection wires a ByteChannel into a fresh RX/TX pair. sink
// receives completed application messages (normally a client registry).
func NewConnection(name string, channel ByteChannel, cfg Config, sink MessageSink, logger *slog.Logger) (*Connection, error) {
	if cfg.Duplex != DuplexFull {
		return nil, ErrHalfDuplexUnsupported
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("connection", name)

	c := &Connection{
		logger:  logger,
		name:    name,
		channel: channel,
		readBuf: make([]byte, 512),
	}
	c.rx = NewReceiver(cfg.ErrorDetect, cfg.DuplicateDetect, c.writeRaw, sink, logger)
	c.tx = NewTransmitter(cfg.ErrorDetect, cfg.MaxNak, cfg.MaxEnq, cfg.AckTimeoutTicks, c.writeRaw, channel.WriteReady, c.embedRspActive, logger)
	return c, nil
}

func (c *Connection) writeRaw(b []byte) error {
	_, err := c.channel.Write(b)
	return err
}

func (c *Connection) embedRspActive() bool {
	return c.embedRsp && c.rx.InFrame()
}

// Transmitter exposes the connection's DF1-TX for the client registry to
// dispatch outbound messages into.
func (c *Connection) Transmitter() *Transmitter { return c.tx }

// Receiver exposes the connection's DF1-RX, mainly for tests.
func (c *Connection) Receiver() *Receiver { return c.rx }

// Name returns the connection's configured name.
func (c *Connection) Name() string { return c.name }

// PumpReads drains any bytes currently available on the channel and
// parses them. It is non-blocking: ByteChannel.Read returns immediately
// with whatever is available.
func (c *Connection) PumpReads() error {
	for {
		n, err := c.channel.Read(c.readBuf)
		if n == 0 {
			return err
		}
		c.Feed(c.readBuf[:n])
		if err != nil {
			return err
		}
	}
}

// Feed parses a chunk of raw bytes read from the line, routing them to
// the receiver (mid-frame) or interpreting top-level link symbols
// (out-of-frame: DLE STX starts a frame, DLE ACK/NAK/ENQ control the
// transmitter/receiver).
func (c *Connection) Feed(raw []byte) {
	for _, b := range raw {
		if c.rx.InFrame() {
			switch c.rx.Feed(b) {
			case feedEmbeddedAck:
				c.embedRsp = true
				c.tx.HandleAck()
			case feedEmbeddedNak:
				c.embedRsp = true
				c.tx.HandleNak()
			}
			continue
		}
		c.feedIdle(b)
	}
}

func (c *Connection) feedIdle(b byte) {
	if c.prevDLE {
		c.prevDLE = false
		switch b {
		case STX:
			c.rx.BeginFrame()
		case ENQ:
			c.rx.OnEnq()
		case ACK:
			c.tx.HandleAck()
		case NAK:
			c.tx.HandleNak()
		case DLE:
			// A literal DLE with no open frame is protocol noise;
			// nothing meaningful to append it to.
		default:
			c.logger.Warn("unexpected byte after top-level DLE", "byte", b)
		}
		return
	}
	if b == DLE {
		c.prevDLE = true
		return
	}
	// Stray byte outside any frame: ignore (line noise / resync).
}

// Tick advances RX then TX timers by one 10ms period (spec section 5:
// "each tick: call rx_tick then tx_tick").
func (c *Connection) Tick() {
	c.rx.Tick()
	c.tx.Tick()
}

// Close releases the underlying channel.
func (c *Connection) Close() error {
	return c.channel.Close()
}
