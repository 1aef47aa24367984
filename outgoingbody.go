package bridge

import "sync"

// defaultBufLimit is the outgoing body's bounded-buffer capacity (§3
// "Outgoing Body", BUF_LIMIT). It is overridable per Orchestrator for
// tests that exercise backpressure at a smaller scale (§4.J).
const defaultBufLimit = 4096

// OutgoingBody is the bounded-buffer producer the network layer
// consumes (§4.F). A single sync.Cond serves both halves of the
// handshake §9 calls out — "waker-then-unpark" — since in Go a
// condition variable's Broadcast wakes whichever side (producer blocked
// on headroom, consumer blocked on data) is currently parked; no
// separate waker callback and parked-thread field are needed to satisfy
// the same ordering guarantee.
type OutgoingBody struct {
	mu       sync.Mutex
	cond     *sync.Cond
	bufLimit int
	buf      []byte
	trailers *Fields
	done     bool
	newFlag  bool
	closed   bool // consumer gave up (peer disconnected); unblocks any parked producer
}

func newOutgoingBody(bufLimit int) *OutgoingBody {
	if bufLimit <= 0 {
		bufLimit = defaultBufLimit
	}
	b := &OutgoingBody{bufLimit: bufLimit, newFlag: true}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// takeWriteStream is allowed once, guarded by the new flag (§4.F).
func (b *OutgoingBody) takeWriteStream() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.newFlag {
		return errDoubleOperation
	}
	b.newFlag = false
	return nil
}

// CheckWrite returns BUF_LIMIT - current buffer size (§4.F, §8 "Buffer
// bound"): always >= 0, even if a previous write overran it.
func (b *OutgoingBody) CheckWrite() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	headroom := b.bufLimit - len(b.buf)
	if headroom < 0 {
		headroom = 0
	}
	return headroom
}

// Write appends bytes unconditionally (the guest is expected to have
// called CheckWrite first; overrunning capacity is permitted and simply
// causes the next subscribe/block to see no headroom, per §4.F and the
// Open Question in §9 resolved in DESIGN.md).
func (b *OutgoingBody) Write(p []byte) {
	b.mu.Lock()
	b.buf = append(b.buf, p...)
	b.mu.Unlock()
	b.cond.Broadcast()
}

// WriteZeroes appends n zero bytes, used by write-zeroes /
// blocking-write-zeroes-and-flush.
func (b *OutgoingBody) WriteZeroes(n int) {
	b.mu.Lock()
	b.buf = append(b.buf, make([]byte, n)...)
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Flush is a no-op: bytes are already visible in the buffer (§4.F).
func (b *OutgoingBody) Flush() {}

// BlockingFlush parks the calling goroutine, waking the consumer on
// every iteration, until the buffer has fully drained (§4.F).
func (b *OutgoingBody) BlockingFlush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.buf) > 0 && !b.closed {
		b.cond.Broadcast()
		b.cond.Wait()
	}
}

// Finish marks the body complete and, if trailers are supplied, stashes
// them to be emitted as the terminal frame (§4.F).
func (b *OutgoingBody) Finish(trailers *Fields) {
	b.mu.Lock()
	b.done = true
	b.trailers = trailers
	b.mu.Unlock()
	b.cond.Broadcast()
}

// hasHeadroom backs OutputPollable.ready: true when len(buf) < bufLimit
// (§4.C).
func (b *OutgoingBody) hasHeadroom() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf) < b.bufLimit
}

// waitHeadroom backs OutputPollable.block: park until the consumer
// drains the buffer below capacity, or the body is torn down.
func (b *OutgoingBody) waitHeadroom() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.buf) >= b.bufLimit && !b.closed && !b.done {
		b.cond.Wait()
	}
}

// ConsumerFrame is one unit of output the network layer pulls off the
// body: either a data chunk, trailers (terminal), or end-of-stream.
type ConsumerFrame struct {
	Data        []byte
	Trailers    *Fields
	EndOfStream bool
}

// NextFrame implements the consumer side described in §4.F: unpark any
// parked producer, then hand off whatever is available, blocking only
// when nothing is yet available and the body isn't done.
func (b *OutgoingBody) NextFrame() ConsumerFrame {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cond.Broadcast()
	for {
		if len(b.buf) > 0 {
			data := b.buf
			b.buf = nil
			b.cond.Broadcast()
			return ConsumerFrame{Data: data}
		}
		if b.trailers != nil {
			t := b.trailers
			b.trailers = nil
			return ConsumerFrame{Trailers: t}
		}
		if b.done {
			return ConsumerFrame{EndOfStream: true}
		}
		b.cond.Wait()
		b.cond.Broadcast()
	}
}

// Close tears the body down (peer disconnected): releases any parked
// producer, whose next output-stream write observes the teardown as a
// closed-stream error (§5 "Cancellation").
func (b *OutgoingBody) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
}

func (b *OutgoingBody) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
