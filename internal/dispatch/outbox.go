package dispatch

import "sync"

// Outbox is a connection's FIFO of pending broadcasts.
//
// Broadcasting enqueues and returns immediately; the transport drains the
// outbox on its own goroutine. This decouples "decide to broadcast" from
// "deliver over the wire" so a slow peer never stalls the sender's Ack.
//
// The queue is unbounded unless a limit is set. With a limit, Enqueue drops
// the message and returns false once the limit is reached.
//
// Thread-safety: Enqueue may be called from any goroutine; one consumer is
// expected to drain.
type Outbox struct {
	mu       sync.Mutex
	messages []Message
	limit    int
	closed   bool
	signal   chan struct{} // buffered, size 1
}

// NewOutbox creates an outbox. limit <= 0 means unbounded.
func NewOutbox(limit int) *Outbox {
	return &Outbox{
		messages: make([]Message, 0, 16),
		limit:    limit,
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue appends a message. Returns false if the outbox is closed or full.
func (o *Outbox) Enqueue(m Message) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return false
	}
	if o.limit > 0 && len(o.messages) >= o.limit {
		return false
	}
	o.messages = append(o.messages, m)

	select {
	case o.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front message without blocking.
func (o *Outbox) TryDequeue() (Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.messages) == 0 {
		return Message{}, false
	}
	m := o.messages[0]
	o.messages[0] = Message{}
	if len(o.messages) == 1 {
		o.messages = o.messages[:0]
	} else {
		o.messages = o.messages[1:]
	}
	return m, true
}

// Drain removes and returns everything queued.
func (o *Outbox) Drain() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Message, len(o.messages))
	copy(out, o.messages)
	o.messages = o.messages[:0]
	return out
}

// Wait returns a channel that signals when messages may be available. The
// channel is closed by Close.
func (o *Outbox) Wait() <-chan struct{} {
	return o.signal
}

// Len returns the number of queued messages.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.messages)
}

// Close stops accepting messages and wakes the consumer. Already queued
// messages can still be drained.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	close(o.signal)
}

// Closed reports whether Close has been called.
func (o *Outbox) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
