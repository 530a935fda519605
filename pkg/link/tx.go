package link

import (
	"log/slog"

	"github.com/abdf1/df1/internal/crc"
)

// TxState is the DF1-TX transmitter state (spec section 3/4.3).
type TxState uint8

const (
	TxIdle TxState = iota
	TxPendWrite
	TxPendResp
)

// TxOutcome is reported through Notify once a transmission attempt
// reaches a terminal state.
type TxOutcome struct {
	Success bool
	Reason  string
}

// TxCounters are the diagnostic counters spec section 4.3 implies.
type TxCounters struct {
	Sent      uint64
	Retries   uint64
	Enqs      uint64
	TooManyNak uint64
	NoResponse uint64
}

// Transmitter is the DF1-TX state machine: it frames one client message
// at a time, writes it to the line, and drives the ACK/NAK/ENQ recovery
// protocol described in spec section 4.3.
type Transmitter struct {
	logger *slog.Logger

	errorDetect ErrorDetect
	maxNak      uint8
	maxEnq      uint8
	timeoutTicks uint32

	write  func([]byte) error
	writeReady func() bool
	// embedRspActive reports whether the connection has latched the
	// embedded-response behaviour and whether the receiver is currently
	// mid-frame; when both true the PEND_RESP timer does not advance
	// (spec section 4.3).
	embedRspActive func() bool

	state    TxState
	frame    []byte
	owner    any
	hasOwner bool

	nakCount     uint8
	enqCount     uint8
	elapsedTicks uint32

	Notify func(owner any, outcome TxOutcome)

	Counters TxCounters
}

// NewTransmitter creates a Transmitter. write places raw bytes on the
// wire; writeReady reports when a prior Write has fully drained;
// embedRspActive reports whether the PEND_RESP timer should be paused
// this tick.
func NewTransmitter(errorDetect ErrorDetect, maxNak, maxEnq uint8, ackTimeoutTicks uint32, write func([]byte) error, writeReady func() bool, embedRspActive func() bool, logger *slog.Logger) *Transmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transmitter{
		logger:         logger.With("component", "df1-tx"),
		errorDetect:    errorDetect,
		maxNak:         maxNak,
		maxEnq:         maxEnq,
		timeoutTicks:   ackTimeoutTicks,
		write:          write,
		writeReady:     writeReady,
		embedRspActive: embedRspActive,
	}
}

func (t *Transmitter) State() TxState { return t.state }
func (t *Transmitter) Idle() bool     { return t.state == TxIdle }

// OwnerIs reports whether owner currently owns the in-flight (or staged)
// transmission, so a caller can decide whether ClearOwner applies to it.
func (t *Transmitter) OwnerIs(owner any) bool {
	return t.hasOwner && t.owner == owner
}

// frameMessage builds DLE STX <stuffed payload> DLE ETX <checksum>. The
// checksum runs over the stuffed wire bytes (both halves of any doubled
// DLE), plus the trailing ETX for CRC-16, matching what the receiver's
// accumulator sees (spec section 4.1).
func (t *Transmitter) frameMessage(payload []byte) []byte {
	stuffed := Stuff(payload)
	out := make([]byte, 0, len(stuffed)+8)
	out = append(out, DLE, STX)
	out = append(out, stuffed...)
	out = append(out, DLE, ETX)

	switch t.errorDetect {
	case ErrorDetectBCC:
		out = append(out, crc.BCC(stuffed))
	case ErrorDetectCRC16:
		withETX := append(append([]byte(nil), stuffed...), ETX)
		c := crc.Compute(withETX)
		buf := make([]byte, 2)
		crc.PutUint16(buf, uint16(c))
		out = append(out, buf...)
	}
	return out
}

// Send stages payload for transmission on behalf of owner. It returns
// false if the transmitter is not idle (spec section 8: at most one TX
// slot in PEND_WRITE/PEND_RESP at any instant).
func (t *Transmitter) Send(payload []byte, owner any) bool {
	if t.state != TxIdle {
		return false
	}
	t.frame = t.frameMessage(payload)
	t.owner = owner
	t.hasOwner = true
	t.nakCount = 0
	t.enqCount = 0
	t.elapsedTicks = 0
	if err := t.write(t.frame); err != nil {
		t.logger.Warn("write failed starting transmission", "err", err)
		t.finish(false, "write error")
		return true
	}
	t.state = TxPendWrite
	t.Counters.Sent++
	return true
}

// ClearOwner detaches the owning client without aborting the in-flight
// transmission (spec section 4.4: a client whose socket closes mid-
// transmission has its pointer cleared; the transmission still completes
// but no one is notified).
func (t *Transmitter) ClearOwner() {
	t.hasOwner = false
	t.owner = nil
}

func (t *Transmitter) finish(success bool, reason string) {
	if t.hasOwner && t.Notify != nil {
		t.Notify(t.owner, TxOutcome{Success: success, Reason: reason})
	}
	t.state = TxIdle
	t.frame = nil
	t.owner = nil
	t.hasOwner = false
}

// HandleAck processes an ACK (top-level or embedded) while a response is
// pending.
func (t *Transmitter) HandleAck() {
	if t.state != TxPendResp {
		return
	}
	t.finish(true, "")
}

// HandleNak processes a NAK while a response is pending: retransmit the
// identical frame up to maxNak times, then fail.
func (t *Transmitter) HandleNak() {
	if t.state != TxPendResp {
		return
	}
	if t.nakCount >= t.maxNak {
		t.Counters.TooManyNak++
		t.finish(false, "too many NAKs")
		return
	}
	t.nakCount++
	t.Counters.Retries++
	t.elapsedTicks = 0
	if err := t.write(t.frame); err != nil {
		t.logger.Warn("retransmit failed", "err", err)
		t.finish(false, "write error")
		return
	}
	t.state = TxPendWrite
}

// Tick advances the transmitter's timers by one 10ms period.
func (t *Transmitter) Tick() {
	switch t.state {
	case TxPendWrite:
		if t.writeReady() {
			t.state = TxPendResp
			t.elapsedTicks = 0
		}
	case TxPendResp:
		if t.embedRspActive != nil && t.embedRspActive() {
			return
		}
		t.elapsedTicks++
		if t.elapsedTicks < t.timeoutTicks {
			return
		}
		t.enqCount++
		t.Counters.Enqs++
		if t.enqCount > t.maxEnq {
			t.Counters.NoResponse++
			t.finish(false, "no response")
			return
		}
		if err := t.write([]byte{DLE, ENQ}); err != nil {
			t.logger.Warn("failed writing ENQ", "err", err)
			t.finish(false, "write error")
			return
		}
		t.elapsedTicks = 0
	}
}
