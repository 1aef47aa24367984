package bridge

// bodyState is the Incoming Body Wrapper's one-shot state machine
// (§3 "Incoming Body Wrapper", §8 "Body state monotonicity"): it only
// ever advances New -> Data -> Trailers -> Consumed.
type bodyState int

const (
	bodyStateNew bodyState = iota
	bodyStateData
	bodyStateTrailers
	bodyStateConsumed
)

// streamErrorKind distinguishes the two ways a stream read can fail
// without being a fatal host error.
type streamErrorKind int

const (
	streamErrorClosed streamErrorKind = iota
	streamErrorLastOperationFailed
)

type streamError struct {
	Kind      streamErrorKind
	ErrHandle Handle
}

func (e *streamError) Error() string {
	if e.Kind == streamErrorClosed {
		return "closed"
	}
	return "last-operation-failed"
}

// IncomingBody is the host-side wrapper around a streaming incoming
// request body (§3, §4.E). last_frame holds at most one frame of
// carry-over: the portion of a producer frame not yet handed to the
// guest.
type IncomingBody struct {
	producer  bodyProducer
	state     bodyState
	trailers  *Fields
	lastFrame *frameResult
	streamed  bool
}

func newIncomingBody(producer bodyProducer) *IncomingBody {
	return &IncomingBody{producer: producer, state: bodyStateNew}
}

// advance enforces the one-shot, forward-only transition discipline
// required by §8; it never moves state backward.
func (b *IncomingBody) advance(next bodyState) {
	if next > b.state {
		b.state = next
	}
}

// bodyStream opens the input-stream view on body, transitioning
// New -> Data exactly once (§4.E). A second call returns the Go
// rendering of the guest contract's `Err(())`.
func bodyStream(b *IncomingBody) error {
	if b.streamed {
		return errDoubleOperation
	}
	b.streamed = true
	b.advance(bodyStateData)
	return nil
}

// errDoubleOperation is the sentinel for every system-interface
// operation documented as "succeeds at most once" (§8 "Single-consume").
var errDoubleOperation = &doubleOperationError{}

type doubleOperationError struct{}

func (*doubleOperationError) Error() string { return "operation already performed" }

// bodyRead implements §4.E's read algorithm. errs registers producer
// failures into the Error Registry (Component B) so the guest can
// retrieve them by handle.
func bodyRead(b *IncomingBody, n int, errs *errorRegistry, allocErr func() Handle) ([]byte, error) {
	return bodyReadImpl(b, n, errs, allocErr, false)
}

func bodyBlockingRead(b *IncomingBody, n int, errs *errorRegistry, allocErr func() Handle) ([]byte, error) {
	return bodyReadImpl(b, n, errs, allocErr, true)
}

func bodyReadImpl(b *IncomingBody, n int, errs *errorRegistry, allocErr func() Handle, blocking bool) ([]byte, error) {
	if b.state == bodyStateConsumed {
		return nil, &streamError{Kind: streamErrorClosed}
	}

	if b.lastFrame != nil {
		return consumeCarryOver(b, n, errs, allocErr)
	}

	var fr frameResult
	if blocking {
		fr = b.producer.block()
	} else {
		fr = b.producer.poll()
		if fr.pending {
			return []byte{}, nil
		}
	}
	b.lastFrame = &fr
	return consumeCarryOver(b, n, errs, allocErr)
}

// consumeCarryOver drains lastFrame according to its kind, splitting
// data frames at n bytes and putting any remainder back as the new
// carry-over (§4.E steps 2-4).
func consumeCarryOver(b *IncomingBody, n int, errs *errorRegistry, allocErr func() Handle) ([]byte, error) {
	fr := b.lastFrame
	switch {
	case fr.err != nil:
		b.lastFrame = nil
		h := allocErr()
		errs.intern(h, fr.err)
		return nil, &streamError{Kind: streamErrorLastOperationFailed, ErrHandle: h}

	case fr.trailers != nil:
		b.lastFrame = nil
		b.trailers = fr.trailers
		b.advance(bodyStateTrailers)
		return nil, &streamError{Kind: streamErrorClosed}

	case fr.done:
		b.lastFrame = nil
		b.advance(bodyStateTrailers)
		return nil, &streamError{Kind: streamErrorClosed}

	default:
		take := n
		if take > len(fr.data) {
			take = len(fr.data)
		}
		out := fr.data[:take]
		rest := fr.data[take:]
		if len(rest) > 0 {
			b.lastFrame = &frameResult{data: rest}
		} else {
			b.lastFrame = nil
		}
		return out, nil
	}
}

// bodySkip is read returning only the count (§4.E "skip is read
// returning the count").
func bodySkip(b *IncomingBody, n int, errs *errorRegistry, allocErr func() Handle) (int, error) {
	data, err := bodyRead(b, n, errs, allocErr)
	return len(data), err
}

func bodyBlockingSkip(b *IncomingBody, n int, errs *errorRegistry, allocErr func() Handle) (int, error) {
	data, err := bodyBlockingRead(b, n, errs, allocErr)
	return len(data), err
}

// dropInputStream advances the wrapper to Trailers even if the producer
// hasn't emitted trailers yet; the guest must still call finish to
// materialize the future-trailers handle (§9 "Body state after stream
// drop").
func dropInputStream(b *IncomingBody) {
	b.advance(bodyStateTrailers)
}

// bodyFinish requires state Trailers; any other state is a fatal host
// error from a conformant guest (§4.E).
func bodyFinish(b *IncomingBody) (*Fields, error) {
	if b.state != bodyStateTrailers {
		return nil, fatalf("incoming-body.finish", "body not in trailers state (state=%d)", b.state)
	}
	b.advance(bodyStateConsumed)
	return b.trailers, nil
}
