package link

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingSink struct {
	payload   []byte
	responder Responder
}

func (s *capturingSink) Deliver(payload []byte, responder Responder) {
	s.payload = append([]byte(nil), payload...)
	s.responder = responder
}

func newTestConnection(t *testing.T, cfg Config) (*Connection, *VirtualChannel, *capturingSink) {
	t.Helper()
	ch := NewVirtualChannel()
	sink := &capturingSink{}
	conn, err := NewConnection("test", ch, cfg, sink, nil)
	require.NoError(t, err)
	return conn, ch, sink
}

func defaultConfig() Config {
	return Config{
		ErrorDetect:     ErrorDetectBCC,
		Duplex:          DuplexFull,
		DuplicateDetect: true,
		MaxNak:          3,
		MaxEnq:          3,
		AckTimeoutTicks: 10,
	}
}

// Scenario 1 (spec section 8): Echo round-trip with BCC.
func TestTransmitEchoFrameBCC(t *testing.T) {
	conn, ch, _ := newTestConnection(t, defaultConfig())
	payload := []byte{0x01, 0x02, 0x06, 0x00, 0x34, 0x12, 0x00, 0xAA, 0x55, 0x01}

	ok := conn.Transmitter().Send(payload, 1)
	require.True(t, ok)

	want := []byte{0x10, 0x02, 0x01, 0x02, 0x06, 0x00, 0x34, 0x12, 0x00, 0xAA, 0x55, 0x01, 0x10, 0x03, 0xB1}
	assert.Equal(t, want, ch.LastWritten())
}

// Scenario 2 (spec section 8): DLE stuffing of an embedded 0x10 byte.
func TestTransmitDLEStuffing(t *testing.T) {
	conn, ch, _ := newTestConnection(t, defaultConfig())
	payload := []byte{0x10, 0x20}

	conn.Transmitter().Send(payload, 1)
	frame := ch.LastWritten()
	// DLE STX, 0x10 0x10 (stuffed), 0x20, DLE ETX, BCC
	assert.Equal(t, byte(0x10), frame[2])
	assert.Equal(t, byte(0x10), frame[3])
	assert.Equal(t, byte(0x20), frame[4])
}

func TestReceiveAcceptsValidFrameAndDedups(t *testing.T) {
	conn, ch, sink := newTestConnection(t, defaultConfig())
	payload := []byte{0x01, 0x02, 0x06, 0x00, 0x34, 0x12, 0x00, 0xAA, 0x55, 0x01}
	frame := []byte{0x10, 0x02}
	frame = append(frame, Stuff(payload)...)
	frame = append(frame, 0x10, 0x03, 0xB1)

	conn.Feed(frame)
	require.NotNil(t, sink.responder)
	assert.Equal(t, payload, sink.payload)
	assert.Equal(t, RxPend, conn.Receiver().State())

	sink.responder.Ack()
	assert.Equal(t, RxIdle, conn.Receiver().State())
	assert.Equal(t, []byte{DLE, ACK}, ch.LastWritten())

	// Scenario 5: an identical second frame must not be re-delivered.
	sink.payload = nil
	sink.responder = nil
	conn.Feed(frame)
	assert.Nil(t, sink.payload)
	assert.Equal(t, uint64(1), conn.Receiver().Counters.Duplicates)
	assert.Equal(t, []byte{DLE, ACK}, ch.LastWritten())
}

func TestReceiveRejectsRunt(t *testing.T) {
	conn, ch, sink := newTestConnection(t, defaultConfig())
	payload := []byte{0x01, 0x02, 0x03} // fewer than 6 bytes
	frame := []byte{0x10, 0x02}
	frame = append(frame, Stuff(payload)...)
	frame = append(frame, 0x10, 0x03, 0x00)

	conn.Feed(frame)
	assert.Nil(t, sink.payload)
	assert.Equal(t, uint64(1), conn.Receiver().Counters.Runts)
	assert.Equal(t, []byte{DLE, NAK}, ch.LastWritten())
}

func TestReceiveBadChecksumNaks(t *testing.T) {
	conn, ch, sink := newTestConnection(t, defaultConfig())
	payload := []byte{0x01, 0x02, 0x06, 0x00, 0x34, 0x12, 0x00, 0xAA, 0x55, 0x01}
	frame := []byte{0x10, 0x02}
	frame = append(frame, Stuff(payload)...)
	frame = append(frame, 0x10, 0x03, 0x00) // wrong checksum

	conn.Feed(frame)
	assert.Nil(t, sink.payload)
	assert.Equal(t, uint64(1), conn.Receiver().Counters.BadChecksum)
	assert.Equal(t, []byte{DLE, NAK}, ch.LastWritten())
}

// Scenario 3: NAK retry succeeds on 2nd attempt, max_nak=3.
func TestTransmitNakThenAck(t *testing.T) {
	conn, ch, _ := newTestConnection(t, defaultConfig())
	payload := []byte{0x01, 0x02, 0x06, 0x00, 0x34, 0x12, 0x00, 0xAA, 0x55, 0x01}
	var outcome *TxOutcome
	conn.Transmitter().Notify = func(owner any, o TxOutcome) { outcome = &o }

	conn.Transmitter().Send(payload, 1)
	conn.Tick() // txPendWrite -> txPendResp

	conn.Feed([]byte{DLE, NAK})
	assert.Equal(t, TxPendWrite, conn.Transmitter().State())
	assert.Equal(t, uint64(1), conn.Transmitter().Counters.Retries)
	// Identical retransmission
	assert.Equal(t, ch.Written()[0], ch.Written()[1])

	conn.Tick() // back to txPendResp
	conn.Feed([]byte{DLE, ACK})
	require.NotNil(t, outcome)
	assert.True(t, outcome.Success)
}

// Scenario 4: ENQ timeout recovery.
func TestTransmitEnqTimeoutThenAck(t *testing.T) {
	cfg := defaultConfig()
	cfg.AckTimeoutTicks = 2
	conn, ch, _ := newTestConnection(t, cfg)
	payload := []byte{0x01, 0x02, 0x06, 0x00, 0x34, 0x12, 0x00, 0xAA, 0x55, 0x01}
	var outcome *TxOutcome
	conn.Transmitter().Notify = func(owner any, o TxOutcome) { outcome = &o }

	conn.Transmitter().Send(payload, 1)
	conn.Tick() // -> txPendResp
	conn.Tick() // elapsed 1
	conn.Tick() // elapsed reaches threshold -> ENQ sent
	assert.Equal(t, []byte{DLE, ENQ}, ch.LastWritten())
	assert.Equal(t, uint64(1), conn.Transmitter().Counters.Enqs)

	conn.Feed([]byte{DLE, ACK})
	require.NotNil(t, outcome)
	assert.True(t, outcome.Success)
	// No data retransmission happened, only ENQ then ACK
	assert.Equal(t, 2, len(ch.Written()))
}

func TestTransmitTooManyNaksFails(t *testing.T) {
	cfg := defaultConfig()
	cfg.MaxNak = 1
	conn, _, _ := newTestConnection(t, cfg)
	payload := []byte{0x01, 0x02, 0x06, 0x00, 0x34, 0x12, 0x00, 0xAA, 0x55, 0x01}
	var outcome *TxOutcome
	conn.Transmitter().Notify = func(owner any, o TxOutcome) { outcome = &o }

	conn.Transmitter().Send(payload, 1)
	conn.Tick()
	conn.Feed([]byte{DLE, NAK}) // retry 1 (allowed)
	conn.Tick()
	conn.Feed([]byte{DLE, NAK}) // exceeds max_nak
	require.NotNil(t, outcome)
	assert.False(t, outcome.Success)
	assert.Equal(t, "too many NAKs", outcome.Reason)
}

func TestEmbeddedResponsePausesTxTimeout(t *testing.T) {
	cfg := defaultConfig()
	cfg.AckTimeoutTicks = 1
	conn, _, sink := newTestConnection(t, cfg)
	_ = sink
	payload := []byte{0x01, 0x02, 0x06, 0x00, 0x34, 0x12, 0x00, 0xAA, 0x55, 0x01}

	// Latch embed_rsp by observing one embedded ACK within a frame.
	conn.Transmitter().Send(payload, 1)
	conn.Tick() // -> txPendResp
	conn.Feed([]byte{0x10, 0x02, 0xAA, 0x10, ACK})
	assert.True(t, conn.embedRsp)
	assert.Equal(t, TxIdle, conn.Transmitter().State())
	require.True(t, conn.Receiver().InFrame())

	// Now that embed_rsp is latched, a later in-flight transmission's
	// PEND_RESP timer must not advance while the receiver is mid-frame.
	conn.Transmitter().Send(payload, 1)
	conn.Tick() // -> txPendResp
	conn.Tick() // would time out if not paused
	assert.Equal(t, uint64(0), conn.Transmitter().Counters.Enqs)
}
