package pccc

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	written [][]byte
	closed  bool
}

func (f *fakeTransport) Read(p []byte) (int, error) { return 0, nil }

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.written = append(f.written, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

func replyFrame(srcNode, dstSession byte, cmd, sts byte, tns uint16, body []byte) []byte {
	tnsBuf := make([]byte, 2)
	binary.LittleEndian.PutUint16(tnsBuf, tns)
	frame := []byte{dstSession, srcNode, cmd | 0x40, sts}
	frame = append(frame, tnsBuf...)
	frame = append(frame, body...)
	return frame
}

func feedServiceFrame(s *Session, frame []byte) {
	msg := append([]byte{clientMsgSOH, byte(len(frame))}, frame...)
	s.Feed(msg)
}

func TestCmdInitWritesHeaderAndAssignsTNS(t *testing.T) {
	tr := &fakeTransport{}
	s := NewSession(tr, 2, time.Second, 4, nil)

	slot, err := s.CmdInit(cmd06, true, fncEcho, 1, []byte{0xAA, 0x55}, nil, nil)
	require.NoError(t, err)

	frame := slot.Frame()
	assert.Equal(t, byte(1), frame[0])    // dnode
	assert.Equal(t, byte(2), frame[1])    // src_addr
	assert.Equal(t, cmd06, frame[2])
	assert.Equal(t, byte(0), frame[3]) // sts placeholder
	assert.Equal(t, fncEcho, frame[6])
	assert.Equal(t, []byte{0xAA, 0x55}, frame[7:])
	assert.NotEqual(t, uint16(0), slot.TNS())
}

func TestPoolExhaustionReturnsNoBuf(t *testing.T) {
	tr := &fakeTransport{}
	s := NewSession(tr, 2, time.Second, 1, nil)

	_, err := s.CmdInit(cmd06, true, fncEcho, 1, []byte{1}, func(ResultCode, error) {}, nil)
	require.NoError(t, err)

	_, err = s.CmdInit(cmd06, true, fncEcho, 1, []byte{2}, func(ResultCode, error) {}, nil)
	assert.Equal(t, ErrNoBuf, err)
}

func TestNonBlockingEchoCompletesOnAckThenReply(t *testing.T) {
	tr := &fakeTransport{}
	s := NewSession(tr, 2, time.Second, 4, nil)

	var gotCode ResultCode
	var gotErr error
	notify := func(code ResultCode, err error) { gotCode = code; gotErr = err }

	payload := []byte{0xAA, 0x55, 0x01}
	slot, err := s.CmdEcho(1, payload, notify)
	require.NoError(t, err)

	code, err := s.CmdSend(slot, 0)
	require.NoError(t, err)
	assert.Equal(t, Success, code)
	require.Len(t, tr.written, 1)

	tns := slot.TNS()

	s.Feed([]byte{clientMsgAck})
	feedServiceFrame(s, replyFrame(1, 2, cmd06, 0x00, tns, payload))

	assert.Equal(t, Success, gotCode)
	assert.NoError(t, gotErr)
}

func TestReplyBeforeAckStillCompletesWhenAckArrives(t *testing.T) {
	tr := &fakeTransport{}
	s := NewSession(tr, 2, time.Second, 4, nil)

	var gotCode ResultCode
	notify := func(code ResultCode, err error) { gotCode = code }

	payload := []byte{0x01}
	slot, err := s.CmdEcho(1, payload, notify)
	require.NoError(t, err)
	_, err = s.CmdSend(slot, 0)
	require.NoError(t, err)
	tns := slot.TNS()

	feedServiceFrame(s, replyFrame(1, 2, cmd06, 0x00, tns, payload))
	assert.Equal(t, ResultCode(0), gotCode) // reply alone: not yet complete (zero value is Success, but notify not called)

	s.Feed([]byte{clientMsgAck})
	assert.Equal(t, Success, gotCode)
}

func TestEchoMismatchIsReplyMismatch(t *testing.T) {
	tr := &fakeTransport{}
	s := NewSession(tr, 2, time.Second, 4, nil)

	var gotCode ResultCode
	notify := func(code ResultCode, err error) { gotCode = code }

	slot, err := s.CmdEcho(1, []byte{0x01, 0x02}, notify)
	require.NoError(t, err)
	_, err = s.CmdSend(slot, 0)
	require.NoError(t, err)
	tns := slot.TNS()

	s.Feed([]byte{clientMsgAck})
	feedServiceFrame(s, replyFrame(1, 2, cmd06, 0x00, tns, []byte{0x01, 0x09}))

	assert.Equal(t, ErrReplyMismatch, gotCode)
}

func TestNakRecyclesSlotAndNotifiesNoDeliver(t *testing.T) {
	tr := &fakeTransport{}
	s := NewSession(tr, 2, time.Second, 4, nil)

	var gotCode ResultCode
	notify := func(code ResultCode, err error) { gotCode = code }

	slot, err := s.CmdEcho(1, []byte{0x01}, notify)
	require.NoError(t, err)
	_, err = s.CmdSend(slot, 0)
	require.NoError(t, err)

	s.Feed([]byte{clientMsgNak})
	assert.Equal(t, ErrNoDeliver, gotCode)
}

func TestTickExpiresSlotAfterAckWithoutReply(t *testing.T) {
	tr := &fakeTransport{}
	s := NewSession(tr, 2, time.Second, 4, nil)

	var gotCode ResultCode
	notify := func(code ResultCode, err error) { gotCode = code }

	slot, err := s.CmdEcho(1, []byte{0x01}, notify)
	require.NoError(t, err)
	_, err = s.CmdSend(slot, 0)
	require.NoError(t, err)

	s.Feed([]byte{clientMsgAck})
	assert.Equal(t, ResultCode(0), gotCode)

	s.Tick(time.Now().Add(2 * time.Hour))
	assert.Equal(t, ErrTimeout, gotCode)
}

func TestSecondQueuedCommandDispatchesAfterFirstCompletes(t *testing.T) {
	tr := &fakeTransport{}
	s := NewSession(tr, 2, time.Second, 4, nil)

	slot1, err := s.CmdEcho(1, []byte{0x01}, func(ResultCode, error) {})
	require.NoError(t, err)
	_, err = s.CmdSend(slot1, 0)
	require.NoError(t, err)

	slot2, err := s.CmdEcho(1, []byte{0x02}, func(ResultCode, error) {})
	require.NoError(t, err)
	_, err = s.CmdSend(slot2, 0)
	require.NoError(t, err)

	// slot2 stays PEND since the wire can carry only one TX at a time.
	require.Len(t, tr.written, 1)

	tns1 := slot1.TNS()
	s.Feed([]byte{clientMsgAck})
	feedServiceFrame(s, replyFrame(1, 2, cmd06, 0x00, tns1, []byte{0x01}))

	require.Len(t, tr.written, 2)
	assert.Equal(t, slot2.Frame(), tr.written[1])
}
