package link

import (
	"log/slog"

	"github.com/abdf1/df1/internal/bytebuf"
	"github.com/abdf1/df1/internal/crc"
)

// RxState is the DF1-RX receiver state (spec section 3/4.2).
type RxState uint8

const (
	RxIdle RxState = iota
	RxApp          // receiving payload after DLE STX
	RxCS1          // awaiting first checksum byte
	RxCS2          // CRC second byte
	RxPend         // delivered to client, awaiting client ACK/NAK
)

// receiveTimeoutTicks is the ~500ms total frame-completion budget at a
// 10ms tick period (spec section 4.2/5).
const receiveTimeoutTicks = 50

// Responder lets the owner of a delivered message (the client registry)
// acknowledge or reject it on the wire once it knows the outcome.
type Responder interface {
	Ack()
	Nak()
}

// MessageSink receives completed, checksum-valid, non-duplicate DF1
// application messages.
type MessageSink interface {
	Deliver(payload []byte, responder Responder)
}

// RxCounters are the diagnostic counters spec section 4.2 names.
type RxCounters struct {
	Runts       uint64
	BadChecksum uint64
	Overflows   uint64
	Duplicates  uint64
	MessagesRx  uint64
	RxTimeouts  uint64
}

// Receiver is the DF1-RX state machine. It consumes raw (not yet
// destuffed) bytes fed to it while a frame is open, destuffing as it
// goes, and hands completed application messages to a MessageSink.
type Receiver struct {
	logger *slog.Logger

	errorDetect     ErrorDetect
	duplicateDetect bool
	writeRaw        func([]byte) error
	sink            MessageSink

	state RxState
	buf   *bytebuf.ByteBuf

	prevDLE bool
	bccSum  byte
	crcAcc  crc.CRC16
	recvCS  [2]byte

	lastWasAck bool
	dupValid   bool
	dupWindow  [4]byte

	elapsedTicks uint32

	Counters RxCounters
}

// NewReceiver creates a Receiver. writeRaw is called to place raw
// ACK/NAK bytes on the wire; sink receives completed messages.
func NewReceiver(errorDetect ErrorDetect, duplicateDetect bool, writeRaw func([]byte) error, sink MessageSink, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{
		logger:          logger.With("component", "df1-rx"),
		errorDetect:     errorDetect,
		duplicateDetect: duplicateDetect,
		writeRaw:        writeRaw,
		sink:            sink,
		buf:             bytebuf.New(256),
	}
}

func (r *Receiver) State() RxState { return r.state }

// InFrame reports whether the receiver is currently assembling a message
// (APP/CS1/CS2), used by Connection to decide raw-byte routing and by the
// Transmitter to know whether to latch the embedded-response pause.
func (r *Receiver) InFrame() bool {
	return r.state == RxApp || r.state == RxCS1 || r.state == RxCS2
}

// BeginFrame starts assembling a new application message after a DLE STX
// was observed at the top level.
func (r *Receiver) BeginFrame() {
	r.buf.Reset()
	r.bccSum = 0
	r.crcAcc = 0
	r.prevDLE = false
	r.elapsedTicks = 0
	r.state = RxApp
}

type feedResult uint8

const (
	feedContinue feedResult = iota
	feedEmbeddedAck
	feedEmbeddedNak
)

// Feed consumes one raw byte while a frame is open (state APP/CS1/CS2).
// It returns feedEmbeddedAck/Nak when the destuffed stream yields an
// embedded ACK/NAK (spec section 4.2 "Embedded responses"); the caller
// (Connection) routes those to the Transmitter without disturbing this
// receiver's in-progress accumulation.
func (r *Receiver) Feed(b byte) feedResult {
	switch r.state {
	case RxCS1:
		r.recvCS[0] = b
		if r.errorDetect == ErrorDetectCRC16 {
			r.state = RxCS2
			return feedContinue
		}
		r.finalize()
		return feedContinue
	case RxCS2:
		r.recvCS[1] = b
		r.finalize()
		return feedContinue
	case RxApp:
		if r.prevDLE {
			r.prevDLE = false
			switch b {
			case DLE:
				// Stuffed literal 0x10: both wire bytes count toward the
				// checksum, but only one logical byte goes into payload.
				r.appendPayload(DLE)
				r.updateChecksum(DLE)
				r.updateChecksum(DLE)
			case ETX:
				if r.errorDetect == ErrorDetectCRC16 {
					r.crcAcc.Single(ETX)
				}
				r.state = RxCS1
			case ACK:
				return feedEmbeddedAck
			case NAK:
				return feedEmbeddedNak
			default:
				r.logger.Warn("unexpected link symbol mid-frame", "byte", b)
			}
			return feedContinue
		}
		if b == DLE {
			r.prevDLE = true
			return feedContinue
		}
		r.appendPayload(b)
		r.updateChecksum(b)
		return feedContinue
	}
	return feedContinue
}

// appendPayload adds one logical (destuffed) byte to the message buffer.
func (r *Receiver) appendPayload(b byte) {
	if !r.buf.Append(b) {
		r.Counters.Overflows++
	}
}

// updateChecksum folds one wire byte into the running BCC/CRC-16
// accumulator. Called once per plain byte, and twice for a stuffed
// literal DLE, since the checksum covers the bytes as transmitted
// (spec section 4.1: "sum of all stuffed payload bytes").
func (r *Receiver) updateChecksum(b byte) {
	switch r.errorDetect {
	case ErrorDetectBCC:
		r.bccSum += b
	case ErrorDetectCRC16:
		r.crcAcc.Single(b)
	}
}

// finalize runs the accept-or-reject decision once the checksum has been
// fully read (spec section 4.2).
func (r *Receiver) finalize() {
	payload := append([]byte(nil), r.buf.Bytes()...)

	if r.buf.Overflow() {
		r.nakDirect()
		r.state = RxIdle
		return
	}
	if len(payload) < 6 {
		r.Counters.Runts++
		r.nakDirect()
		r.state = RxIdle
		return
	}

	var ok bool
	switch r.errorDetect {
	case ErrorDetectBCC:
		ok = byte(-int8(r.bccSum)) == r.recvCS[0]
	case ErrorDetectCRC16:
		received := uint16(r.recvCS[1])<<8 | uint16(r.recvCS[0])
		ok = uint16(r.crcAcc) == received
	}
	if !ok {
		r.Counters.BadChecksum++
		r.nakDirect()
		r.state = RxIdle
		return
	}

	quad := [4]byte{payload[1], payload[2], payload[4], payload[5]}
	if r.duplicateDetect && r.dupValid && quad == r.dupWindow {
		r.Counters.Duplicates++
		r.ackDirect()
		r.state = RxIdle
		return
	}

	r.dupWindow = quad
	r.dupValid = true
	r.Counters.MessagesRx++
	r.state = RxPend
	r.sink.Deliver(payload, r)
}

// Ack implements Responder: the client accepted the delivered message.
func (r *Receiver) Ack() {
	r.ackDirect()
	r.state = RxIdle
}

// Nak implements Responder: the client rejected the delivered message.
func (r *Receiver) Nak() {
	r.nakDirect()
	r.state = RxIdle
}

func (r *Receiver) ackDirect() {
	r.lastWasAck = true
	if err := r.writeRaw([]byte{DLE, ACK}); err != nil {
		r.logger.Warn("failed writing ACK", "err", err)
	}
}

func (r *Receiver) nakDirect() {
	r.lastWasAck = false
	if err := r.writeRaw([]byte{DLE, NAK}); err != nil {
		r.logger.Warn("failed writing NAK", "err", err)
	}
}

// OnEnq handles an incoming top-level ENQ (spec section 4.2). When a
// message is pending client acknowledgement, the remote gave up waiting
// and we ACK anyway since we already delivered it upstream. Otherwise we
// resend whatever we last sent (the echo-reply protocol).
func (r *Receiver) OnEnq() {
	if r.state == RxPend {
		r.Counters.RxTimeouts++
		r.ackDirect()
		return
	}
	if r.lastWasAck {
		r.ackDirect()
	} else {
		r.nakDirect()
	}
}

// Tick advances the frame-completion timeout. Only APP/CS1/CS2 are
// subject to the ~500ms budget; IDLE has nothing running and PEND waits
// on the client, not a timer (spec section 4.2).
func (r *Receiver) Tick() {
	if r.state != RxApp && r.state != RxCS1 && r.state != RxCS2 {
		return
	}
	r.elapsedTicks++
	if r.elapsedTicks >= receiveTimeoutTicks {
		// Reset silently: spec section 4.2 calls for marking
		// last_was_ack false and returning to IDLE, not for
		// transmitting a NAK on this path.
		r.lastWasAck = false
		r.state = RxIdle
	}
}
