package transport

import "sync"

// Ring is a bounded in-process transport between producer goroutines and
// one polling engine. Messages are copied in on send.
type Ring struct {
	mu     sync.Mutex
	slots  [][]byte
	head   int
	count  int
	closed bool
}

var (
	_ Sender   = (*Ring)(nil)
	_ Receiver = (*Ring)(nil)
)

// NewRing returns a ring holding at most capacity messages.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{slots: make([][]byte, capacity)}
}

// SendMessage copies buf into the ring. A full ring is BACK_PRESSURED.
func (r *Ring) SendMessage(buf []byte) SendResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return Closed
	}
	if r.count == len(r.slots) {
		return BackPressured
	}
	tail := (r.head + r.count) % len(r.slots)
	r.slots[tail] = append(r.slots[tail][:0], buf...)
	r.count++
	return Sent
}

// Poll hands the oldest message to h and removes it if h accepts it.
// Messages already queued are still delivered after Close.
func (r *Ring) Poll(h Handler) int {
	r.mu.Lock()
	if r.count == 0 {
		r.mu.Unlock()
		return 0
	}
	msg := r.slots[r.head]
	r.mu.Unlock()

	// Only this poller moves head, so msg stays put while h runs.
	if !h(msg) {
		return 1
	}

	r.mu.Lock()
	r.head = (r.head + 1) % len(r.slots)
	r.count--
	r.mu.Unlock()
	return 1
}

// Len returns the number of queued messages.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Close makes further sends return CLOSED.
func (r *Ring) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}
