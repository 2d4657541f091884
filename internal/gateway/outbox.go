// ABOUTME: Unbounded per-connection write queue drained by a single writer goroutine
// ABOUTME: Keeps writes in issue order without ever blocking broadcasters

package gateway

import (
	"errors"
	"sync"
)

var errOutboxClosed = errors.New("connection closed")

// outbox queues encoded envelopes for one connection.
type outbox struct {
	mu     sync.Mutex
	queue  [][]byte
	closed bool
	ready  chan struct{} // signalled when queue goes non-empty
}

func newOutbox() *outbox {
	return &outbox{ready: make(chan struct{}, 1)}
}

// push appends one record. It never blocks.
func (o *outbox) push(record []byte) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return errOutboxClosed
	}
	o.queue = append(o.queue, record)
	o.mu.Unlock()

	select {
	case o.ready <- struct{}{}:
	default:
	}
	return nil
}

// take removes and returns everything queued.
func (o *outbox) take() [][]byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	batch := o.queue
	o.queue = nil
	return batch
}

// close rejects further pushes and drops anything still queued.
func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.queue = nil
}

// pending returns the number of queued records.
func (o *outbox) pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}
