package bridge

import "runtime"

// Pollable is the uniform shape every subscribable object implements
// (§4.C, §9 "Pollable dispatch"): a non-blocking readiness probe and a
// blocking wait, both given mutable access to the invocation state they
// were built against.
type Pollable interface {
	ready(st *State) bool
	block(st *State)
}

// pollableRegistry stores boxed Pollables by handle. ready/block/poll
// all remove the pollable from the table before invoking it and
// reinsert it afterward — the "borrow-out/borrow-back" discipline
// §9 requires, since a Pollable's own methods need &State while the
// Pollable itself lives inside State.
type pollableRegistry struct {
	table *resourceTable[Pollable]
}

func newPollableRegistry() *pollableRegistry {
	return &pollableRegistry{table: newResourceTable[Pollable]()}
}

func (r *pollableRegistry) insert(h Handle, p Pollable) {
	r.table.insert(h, p)
}

// Ready probes h's readiness without blocking (§4.C).
func (r *pollableRegistry) Ready(st *State, h Handle) (bool, error) {
	p, ok := r.table.remove(h)
	if !ok {
		return false, fatalf("pollable.ready", "unknown handle %d", h)
	}
	result := p.ready(st)
	r.table.insert(h, p)
	return result, nil
}

// Block waits synchronously for h to become ready (§4.C).
func (r *pollableRegistry) Block(st *State, h Handle) error {
	p, ok := r.table.remove(h)
	if !ok {
		return fatalf("pollable.block", "unknown handle %d", h)
	}
	p.block(st)
	r.table.insert(h, p)
	return nil
}

// Poll busy-loops calling ready on every handle in the list until at
// least one reports true, then returns the indices that were ready in
// that winning pass (§4.C, §8 "At-least-one ready"). All referenced
// pollables are removed up front and reinserted once, preserving the
// same borrow discipline as Ready/Block for a batch.
func (r *pollableRegistry) Poll(st *State, handles []Handle) ([]int, error) {
	type entry struct {
		h Handle
		p Pollable
	}
	entries := make([]entry, len(handles))
	for i, h := range handles {
		p, ok := r.table.remove(h)
		if !ok {
			for j := 0; j < i; j++ {
				r.table.insert(entries[j].h, entries[j].p)
			}
			return nil, fatalf("pollable.poll", "unknown handle %d", h)
		}
		entries[i] = entry{h, p}
	}
	defer func() {
		for _, e := range entries {
			r.table.insert(e.h, e.p)
		}
	}()

	for {
		var ready []int
		for i, e := range entries {
			if e.p.ready(st) {
				ready = append(ready, i)
			}
		}
		if len(ready) > 0 {
			return ready, nil
		}
		runtime.Gosched()
	}
}

func (r *pollableRegistry) drop(h Handle) {
	r.table.remove(h)
}

// trailerPollable is ready once the body wrapper has captured trailers
// or has been consumed (§4.C "Built-in pollables").
type trailerPollable struct {
	bodyHandle Handle
}

func (p *trailerPollable) ready(st *State) bool {
	b, ok := st.incoming.get(p.bodyHandle)
	if !ok {
		return true
	}
	if b.state == bodyStateConsumed || b.trailers != nil {
		return true
	}
	return drainForTrailers(b, false)
}

func (p *trailerPollable) block(st *State) {
	b, ok := st.incoming.get(p.bodyHandle)
	if !ok {
		return
	}
	if b.state == bodyStateConsumed || b.trailers != nil {
		return
	}
	drainForTrailers(b, true)
}

// drainForTrailers advances the producer until a trailers frame or
// terminal signal is observed, discarding any stray data frames the
// guest is no longer reading (it already dropped the input stream).
// A producer error is treated as an unadorned terminal signal here: the
// input-stream read path is where producer errors are interned and
// surfaced to the guest (§4.E); this simplification is recorded in
// DESIGN.md.
func drainForTrailers(b *IncomingBody, blocking bool) bool {
	for {
		if b.lastFrame == nil {
			var fr frameResult
			if blocking {
				fr = b.producer.block()
			} else {
				fr = b.producer.poll()
				if fr.pending {
					return false
				}
			}
			b.lastFrame = &fr
		}
		switch {
		case b.lastFrame.trailers != nil:
			b.trailers = b.lastFrame.trailers
			b.lastFrame = nil
			b.advance(bodyStateConsumed)
			return true
		case b.lastFrame.done || b.lastFrame.err != nil:
			b.lastFrame = nil
			b.advance(bodyStateConsumed)
			return true
		default:
			b.lastFrame = nil
			if !blocking {
				return false
			}
		}
	}
}

// inputStreamReady is ready once the next producer frame is available
// (cached in last_frame) or the producer is exhausted (§4.C).
type inputStreamReady struct {
	bodyHandle Handle
}

func (p *inputStreamReady) ready(st *State) bool {
	b, ok := st.incoming.get(p.bodyHandle)
	if !ok {
		return true
	}
	if b.state == bodyStateConsumed || b.lastFrame != nil {
		return true
	}
	fr := b.producer.poll()
	if fr.pending {
		return false
	}
	b.lastFrame = &fr
	return true
}

func (p *inputStreamReady) block(st *State) {
	b, ok := st.incoming.get(p.bodyHandle)
	if !ok {
		return
	}
	if b.state == bodyStateConsumed || b.lastFrame != nil {
		return
	}
	fr := b.producer.block()
	b.lastFrame = &fr
}

// outputPollable is ready once the outgoing buffer has headroom
// (len < BUF_LIMIT); block registers the calling goroutine on the
// outgoing body's condition variable and parks until the consumer
// drains it (§4.C).
type outputPollable struct {
	responseHandle Handle
}

func (p *outputPollable) ready(st *State) bool {
	resp, ok := st.responses.get(p.responseHandle)
	if !ok {
		return true
	}
	return resp.Body.hasHeadroom()
}

func (p *outputPollable) block(st *State) {
	resp, ok := st.responses.get(p.responseHandle)
	if !ok {
		return
	}
	resp.Body.waitHeadroom()
}
