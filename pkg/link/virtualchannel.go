package link

import "sync"

// VirtualChannel is an in-memory ByteChannel, adapted from the teacher
// codebase's loopback virtual CAN bus, used here so DF1-RX/TX and
// Connection tests don't need a real serial port or socket.
type VirtualChannel struct {
	mu      sync.Mutex
	inbox   []byte
	written [][]byte
	closed  bool
}

func NewVirtualChannel() *VirtualChannel {
	return &VirtualChannel{}
}

func (v *VirtualChannel) Read(p []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.inbox) == 0 {
		return 0, nil
	}
	n := copy(p, v.inbox)
	v.inbox = v.inbox[n:]
	return n, nil
}

func (v *VirtualChannel) Write(p []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	cp := append([]byte(nil), p...)
	v.written = append(v.written, cp)
	return len(p), nil
}

func (v *VirtualChannel) WriteReady() bool { return true }

func (v *VirtualChannel) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	return nil
}

// Inject appends bytes as if received from the remote end of the line.
func (v *VirtualChannel) Inject(p []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.inbox = append(v.inbox, p...)
}

// Written returns every byte slice passed to Write, in order.
func (v *VirtualChannel) Written() [][]byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([][]byte(nil), v.written...)
}

// LastWritten returns the most recent Write payload, or nil.
func (v *VirtualChannel) LastWritten() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.written) == 0 {
		return nil
	}
	return v.written[len(v.written)-1]
}
