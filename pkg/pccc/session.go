package pccc

import (
	"encoding/binary"
	"errors"
	"math/rand"
	"time"

	"github.com/abdf1/df1/internal/bytebuf"
	"github.com/sirupsen/logrus"
)

// Transport is the byte-level connection a Session rides over: a TCP
// socket to a df1d instance's client port, speaking the same
// MSG_SOH/MSG_ACK/MSG_NAK framing the link-layer registry uses on its
// side (spec section 6). It deliberately does not depend on pkg/link:
// the PCCC application layer talks to df1d as an external service, not
// as an in-process component.
type Transport interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

const (
	clientMsgSOH byte = 0x01
	clientMsgAck byte = 0x06
	clientMsgNak byte = 0x15
)

// headerlessCommands carries no function-code byte after the TNS (spec
// section 4.5/4.6); everything else does.
var headerlessCommands = map[byte]bool{
	0x00: true, 0x01: true, 0x02: true, 0x04: true, 0x05: true, 0x08: true,
}

// IsHeaderless reports whether cmd omits the function-code byte.
func IsHeaderless(cmd byte) bool {
	return headerlessCommands[cmd]
}

type sessionState uint8

const (
	sessIdle sessionState = iota
	sessMsgLen
	sessMsg
)

// Session is one PCCC client conversation with a df1d node: it owns the
// transaction-number counter, the command slot pool, and the
// single-cursor outbound scheduler that the wire can carry at most one
// in-flight command at a time (spec section 4.5).
type Session struct {
	transport Transport
	srcNode   byte
	timeout   time.Duration
	pool      *MessagePool
	logger    *logrus.Entry

	nextTNS uint16

	state        sessionState
	msgRemaining int
	msgBuf       *bytebuf.ByteBuf

	txCursor *Slot
	readBuf  []byte

	connected bool
}

// NewSession builds a session with slotCount command slots, a source
// node address used in outbound headers, and a per-command timeout.
func NewSession(transport Transport, srcNode byte, timeout time.Duration, slotCount int, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	seed := uint16(rand.Intn(0xFFFF) + 1) // never 0 (spec section 4.5)
	return &Session{
		transport: transport,
		srcNode:   srcNode,
		timeout:   timeout,
		pool:      NewMessagePool(slotCount),
		logger:    logger.WithField("component", "pccc-session"),
		nextTNS:   seed,
		msgBuf:    bytebuf.New(slotBufSize),
		readBuf:   make([]byte, 512),
		connected: true,
	}
}

// Close marks the session disconnected; any in-flight blocking call
// observes ErrNotConnected on its next poll.
func (s *Session) Close() error {
	s.connected = false
	return s.transport.Close()
}

func (s *Session) allocTNS() uint16 {
	tns := s.nextTNS
	s.nextTNS++
	return tns
}

// CmdInit allocates a free slot and stages a command header plus body
// for dnode (spec section 4.5). fnc is ignored when cmd is headerless.
func (s *Session) CmdInit(cmd byte, hasFnc bool, fnc byte, dnode byte, body []byte, notify NotifyFunc, decoder ReplyDecoder) (*Slot, error) {
	slot := s.pool.acquire()
	if slot == nil {
		return nil, ErrNoBuf
	}
	tns := s.allocTNS()

	slot.buf = slot.buf[:0]
	slot.buf = append(slot.buf, dnode, s.srcNode, cmd, 0x00)
	tnsBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(tnsBytes, tns)
	slot.buf = append(slot.buf, tnsBytes...)
	if hasFnc && !IsHeaderless(cmd) {
		slot.buf = append(slot.buf, fnc)
	}
	slot.buf = append(slot.buf, body...)

	if len(slot.buf) > slotBufSize {
		return nil, ErrInvalidParameter
	}

	slot.tns = tns
	slot.dnode = dnode
	slot.isCmd = true
	slot.state = SlotPend
	slot.notify = notify
	slot.decoder = decoder
	return slot, nil
}

// CmdSend dispatches an initialised slot. Non-blocking mode (notify set
// on the slot) returns immediately; the outcome reaches the caller via
// notify. Blocking mode (notify nil) polls the transport until the slot
// completes or deadline elapses, returning the final result directly.
func (s *Session) CmdSend(slot *Slot, deadline time.Duration) (ResultCode, error) {
	if !s.connected {
		return ErrNotConnected, ErrNotConnected
	}
	s.tryDispatch(slot)

	if slot.notify != nil {
		return Success, nil
	}

	deadlineAt := time.Now().Add(deadline)
	for {
		if slot.done {
			code, err := slot.resultCode, slot.resultErr
			slot.reset()
			return code, err
		}
		if time.Now().After(deadlineAt) {
			s.complete(slot, ErrTimeout, ErrTimeout)
			slot.reset()
			return ErrTimeout, ErrTimeout
		}
		n, err := s.transport.Read(s.readBuf)
		if n > 0 {
			s.Feed(s.readBuf[:n])
		}
		if err != nil {
			return ErrNotConnected, err
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (s *Session) tryDispatch(slot *Slot) {
	if s.txCursor == nil {
		s.dispatch(slot)
	}
}

func (s *Session) dispatch(slot *Slot) {
	if _, err := s.transport.Write(slot.Frame()); err != nil {
		s.logger.WithError(err).Warn("write failed dispatching command")
		s.complete(slot, ErrNotConnected, err)
		return
	}
	slot.state = SlotTX
	s.txCursor = slot
}

func (s *Session) advanceTxCursor() {
	if s.txCursor != nil {
		return
	}
	for _, slot := range s.pool.all() {
		if slot.state == SlotPend {
			s.dispatch(slot)
			return
		}
	}
}

// Feed hands inbound bytes from the transport to the session's tiny
// framing state machine (spec section 6).
func (s *Session) Feed(data []byte) {
	for _, b := range data {
		s.feedByte(b)
	}
}

func (s *Session) feedByte(b byte) {
	switch s.state {
	case sessIdle:
		switch b {
		case clientMsgSOH:
			s.state = sessMsgLen
		case clientMsgAck:
			s.handleAck()
		case clientMsgNak:
			s.handleNak()
		default:
			s.logger.WithField("byte", b).Warn("unexpected byte from df1d service")
		}
	case sessMsgLen:
		s.msgRemaining = int(b)
		s.msgBuf.Reset()
		if s.msgRemaining == 0 {
			s.state = sessIdle
			s.handleReply(nil)
			return
		}
		s.state = sessMsg
	case sessMsg:
		s.msgBuf.Append(b)
		s.msgRemaining--
		if s.msgRemaining == 0 {
			s.state = sessIdle
			s.handleReply(append([]byte(nil), s.msgBuf.Bytes()...))
		}
	}
}

func (s *Session) handleAck() {
	slot := s.txCursor
	if slot == nil {
		return
	}
	slot.state |= SlotAckRcvd
	slot.expiry = time.Now().Add(s.timeout + time.Second)
	slot.hasExpiry = true
	s.checkComplete(slot)
}

func (s *Session) handleNak() {
	slot := s.txCursor
	if slot == nil {
		return
	}
	s.complete(slot, ErrNoDeliver, ErrNoDeliver)
}

func (s *Session) handleReply(payload []byte) {
	if len(payload) < 6 {
		return
	}
	cmdByte := payload[2]
	if cmdByte&0x40 == 0 {
		return
	}
	tns := binary.LittleEndian.Uint16(payload[4:6])
	slot := s.pool.findByTNS(tns)
	if slot == nil {
		return
	}

	slot.state |= SlotReplyRcvd
	cmd := cmdByte &^ 0x40
	sts := payload[3]
	switch {
	case sts != 0:
		var extSts byte
		if len(payload) > 6 {
			extSts = payload[6]
		}
		slot.pendingCode = ErrReplyMismatch
		slot.pendingErr = errors.New(DiagnoseSTS(cmd, sts, extSts))
	case slot.decoder != nil:
		code, err := slot.decoder(payload)
		slot.pendingCode = code
		slot.pendingErr = err
	default:
		slot.pendingCode = Success
		slot.pendingErr = nil
	}
	s.checkComplete(slot)
}

func (s *Session) checkComplete(slot *Slot) {
	if slot.state&(SlotAckRcvd|SlotReplyRcvd) != (SlotAckRcvd | SlotReplyRcvd) {
		return
	}
	s.complete(slot, slot.pendingCode, slot.pendingErr)
}

func (s *Session) complete(slot *Slot, code ResultCode, err error) {
	notify := slot.notify
	slot.resultCode = code
	slot.resultErr = err
	slot.done = true
	wasCursor := s.txCursor == slot

	if notify != nil {
		notify(code, err)
		slot.reset()
	}
	if wasCursor {
		s.txCursor = nil
		s.advanceTxCursor()
	}
}

// Tick sweeps the pool for expired slots (spec section 4.5: a slot
// whose expiry has elapsed is recycled and notified ErrTimeout). now is
// passed in explicitly so callers control the clock in tests.
func (s *Session) Tick(now time.Time) {
	for _, slot := range s.pool.all() {
		if slot.isCmd && slot.hasExpiry && !now.Before(slot.expiry) {
			s.complete(slot, ErrTimeout, ErrTimeout)
		}
	}
}
