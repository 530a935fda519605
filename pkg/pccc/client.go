package pccc

import (
	"context"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// ClientSession is a PCCC client's TCP connection to a df1d instance:
// it performs the registration handshake, then wraps a *Session with
// the network plumbing a caller doesn't want to hand-roll (spec
// section 3's "PCCC-Client-Session").
type ClientSession struct {
	*Session
	conn   net.Conn
	logger *logrus.Entry
}

// Dial connects to a df1d client port at addr, registers as node with
// the given name (spec section 6's registration protocol), and returns
// a ready ClientSession with slotCount command slots and the given
// per-command timeout.
func Dial(addr string, node byte, name string, timeout time.Duration, slotCount int, logger *logrus.Logger) (*ClientSession, error) {
	if len(name) > 16 {
		return nil, ErrInvalidParameter
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	reg := append([]byte{node, byte(len(name))}, []byte(name)...)
	if _, err := conn.Write(reg); err != nil {
		conn.Close()
		return nil, err
	}
	return &ClientSession{
		conn:    conn,
		logger:  logger.WithField("component", "pccc-client"),
		Session: NewSession(conn, node, timeout, slotCount, logger),
	}, nil
}

// Run pumps inbound bytes from the TCP connection into the session and
// fires its periodic expiry sweep every 10ms, until ctx is cancelled or
// the connection errors.
func (c *ClientSession) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		buf := make([]byte, 512)
		for {
			n, err := c.conn.Read(buf)
			if n > 0 {
				c.Feed(buf[:n])
			}
			if err != nil {
				errCh <- err
				return
			}
		}
	}()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			c.connected = false
			c.logger.WithError(err).Warn("df1d connection lost")
			return err
		case now := <-ticker.C:
			c.Tick(now)
		}
	}
}
