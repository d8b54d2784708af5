package modem

import (
	"io"
	"sync"
	"time"
)

// NewInMemory returns an in-memory stand-in for the serial device, to be
// used in tests. Responses are queued with Respond and delivered to the
// reader in one piece, like the modem's bursty line discipline would.
func NewInMemory() *InMemory {
	return &InMemory{
		wrote:  make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

type InMemory struct {
	mu           sync.Mutex
	pending      []byte
	written      []byte
	closeOnDrain bool

	wrote     chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

func (d *InMemory) Read(p []byte) (int, error) {
	for {
		d.mu.Lock()
		if len(d.pending) > 0 {
			n := copy(p, d.pending)
			d.pending = d.pending[n:]
			drained := d.closeOnDrain && len(d.pending) == 0
			d.mu.Unlock()
			if drained {
				d.Close()
			}
			return n, nil
		}
		d.mu.Unlock()

		select {
		case <-d.closed:
			return 0, io.EOF
		case <-time.After(time.Millisecond):
		}
	}
}

func (d *InMemory) Write(p []byte) (int, error) {
	d.mu.Lock()
	d.written = append(d.written, p...)
	d.mu.Unlock()

	select {
	case d.wrote <- struct{}{}:
	default:
	}
	return len(p), nil
}

func (d *InMemory) Close() error {
	d.closeOnce.Do(func() {
		close(d.closed)
	})
	return nil
}

// Respond queues bytes for the next reads.
func (d *InMemory) Respond(s string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = append(d.pending, s...)
}

// CloseAfterDrain closes the device as soon as the read queue runs empty.
func (d *InMemory) CloseAfterDrain() {
	d.mu.Lock()
	drained := len(d.pending) == 0
	d.closeOnDrain = true
	d.mu.Unlock()
	if drained {
		d.Close()
	}
}

// Written returns everything written to the device so far.
func (d *InMemory) Written() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.written...)
}

// WaitUntilWritten blocks until at least one Write happened since the last
// call.
func (d *InMemory) WaitUntilWritten() {
	<-d.wrote
}
