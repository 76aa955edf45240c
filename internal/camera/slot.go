package camera

import "sync"

// slot is a single-frame mailbox between the capture goroutine and the loop.
// New frames overwrite unconsumed ones; the consumer always gets the latest
// frame or nothing. Drop frames, never queue.
type slot struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frame  *Frame
	seq    uint64
	closed bool
}

func newSlot() *slot {
	s := &slot{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// put publishes a frame, stamping its sequence number. It returns the
// overwritten frame, if any, for the caller to release. ok is false once the
// slot is closed; the caller keeps ownership of f.
func (s *slot) put(f *Frame) (dropped *Frame, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	dropped = s.frame
	s.seq++
	f.Seq = s.seq
	s.frame = f
	s.cond.Broadcast()
	return dropped, true
}

// close wakes all waiters; subsequent puts are rejected.
func (s *slot) close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

// drain empties the slot, returning the frame left in it.
func (s *slot) drain() *Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.frame
	s.frame = nil
	return f
}

// wake kicks waiters so they re-check deadlines and contexts.
func (s *slot) wake() {
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
}
