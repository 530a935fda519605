package pccc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialSendsRegistrationHandshake(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	acceptedCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			acceptedCh <- conn
		}
	}()

	cs, err := Dial(ln.Addr().String(), 5, "eng1", time.Second, 2, nil)
	require.NoError(t, err)
	defer cs.Close()

	conn := <-acceptedCh
	defer conn.Close()

	buf := make([]byte, 6)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 6, n)
	assert.Equal(t, byte(5), buf[0])
	assert.Equal(t, byte(4), buf[1])
	assert.Equal(t, []byte("eng1"), buf[2:6])
}

func TestDialRejectsOverlongName(t *testing.T) {
	_, err := Dial("127.0.0.1:0", 1, "this-name-is-way-too-long", time.Second, 1, nil)
	assert.Equal(t, ErrInvalidParameter, err)
}

func TestClientSessionRunStopsOnContextCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	acceptedCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			acceptedCh <- conn
		}
	}()

	cs, err := Dial(ln.Addr().String(), 5, "", time.Second, 1, nil)
	require.NoError(t, err)
	defer cs.Close()
	conn := <-acceptedCh
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = cs.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
