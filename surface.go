package bridge

import "errors"

// errUnimplemented is returned by every operation §6 lists as declared
// but deliberately unimplemented: outgoing-request, request-options,
// incoming-response, future-incoming-response, clock operations, and
// splice/blocking-splice. These are expected, well-defined failures, not
// host-fatal conditions — a guest that never calls them behaves
// identically to one linked against a host that implements them.
var errUnimplemented = errors.New("unimplemented")

// Surface binds every host-exported operation in §4 to the invocation
// state it reads and writes (Component H). One Surface is built per
// invocation, closing over a fresh *State; the Guest Runtime Adapter
// (Component I) wires its methods to the wasm linker's imports.
type Surface struct {
	st *State
}

// NewSurface wraps st for binding to a guest's imports.
func NewSurface(st *State) *Surface {
	return &Surface{st: st}
}

// --- Fields (Component D) ---------------------------------------------

func (s *Surface) FieldsNew() Handle {
	h := s.st.NewID()
	s.st.fields.insert(h, NewFields())
	return h
}

func (s *Surface) FieldsFromList(pairs [][2]string) (Handle, error) {
	f, err := FieldsFromList(pairs)
	if err != nil {
		return 0, err
	}
	h := s.st.NewID()
	s.st.fields.insert(h, f)
	return h, nil
}

func (s *Surface) FieldsGet(h Handle, name string) ([]string, error) {
	f, err := s.st.fields.mustGet("fields.get", h)
	if err != nil {
		return nil, err
	}
	return f.Get(name), nil
}

func (s *Surface) FieldsSet(h Handle, name string, values []string) error {
	f, err := s.st.fields.mustGet("fields.set", h)
	if err != nil {
		return err
	}
	return f.Set(name, values)
}

func (s *Surface) FieldsDelete(h Handle, name string) error {
	f, err := s.st.fields.mustGet("fields.delete", h)
	if err != nil {
		return err
	}
	return f.Delete(name)
}

func (s *Surface) FieldsAppend(h Handle, name, value string) error {
	f, err := s.st.fields.mustGet("fields.append", h)
	if err != nil {
		return err
	}
	return f.Append(name, value)
}

func (s *Surface) FieldsEntries(h Handle) ([][2]string, error) {
	f, err := s.st.fields.mustGet("fields.entries", h)
	if err != nil {
		return nil, err
	}
	return f.Entries(), nil
}

func (s *Surface) FieldsClone(h Handle) (Handle, error) {
	f, err := s.st.fields.mustGet("fields.clone", h)
	if err != nil {
		return 0, err
	}
	nh := s.st.NewID()
	s.st.fields.insert(nh, f.Clone())
	return nh, nil
}

func (s *Surface) FieldsDrop(h Handle) {
	s.st.fields.remove(h)
}

// insertImmutableFields stores an immutable snapshot of f and returns
// its handle; used whenever the surface exposes headers it owns rather
// than headers the guest constructed (§4.H).
func (s *Surface) insertImmutableFields(f *Fields) Handle {
	h := s.st.NewID()
	s.st.fields.insert(h, f.AsImmutable())
	return h
}

// --- Incoming Request ---------------------------------------------------

func (s *Surface) IncomingRequestMethod(h Handle) (Method, error) {
	r, err := s.st.requests.mustGet("incoming-request.method", h)
	if err != nil {
		return Method{}, err
	}
	return r.Method, nil
}

func (s *Surface) IncomingRequestScheme(h Handle) (Scheme, error) {
	r, err := s.st.requests.mustGet("incoming-request.scheme", h)
	if err != nil {
		return Scheme{}, err
	}
	return r.Scheme, nil
}

func (s *Surface) IncomingRequestAuthority(h Handle) (string, error) {
	r, err := s.st.requests.mustGet("incoming-request.authority", h)
	if err != nil {
		return "", err
	}
	return r.Authority, nil
}

func (s *Surface) IncomingRequestPathWithQuery(h Handle) (string, error) {
	r, err := s.st.requests.mustGet("incoming-request.path-with-query", h)
	if err != nil {
		return "", err
	}
	return r.PathQuery, nil
}

// IncomingRequestHeaders exposes an immutable snapshot of the request's
// headers (§4.H "operations that require an immutable view").
func (s *Surface) IncomingRequestHeaders(h Handle) (Handle, error) {
	r, err := s.st.requests.mustGet("incoming-request.headers", h)
	if err != nil {
		return 0, err
	}
	return s.insertImmutableFields(r.Headers), nil
}

// IncomingRequestConsume hands the request body to the guest at most
// once (§8 "Single-consume"); a second call returns Err(()).
func (s *Surface) IncomingRequestConsume(h Handle) (Handle, error) {
	r, err := s.st.requests.mustGet("incoming-request.consume", h)
	if err != nil {
		return 0, err
	}
	body, derr := r.consumeBody()
	if derr != nil {
		return 0, derr
	}
	bh := s.st.NewID()
	s.st.incoming.insert(bh, body)
	return bh, nil
}

// --- Incoming Body / Input Stream (Component E) -------------------------

// IncomingBodyStream opens the input-stream view, transitioning
// New -> Data exactly once; the returned handle equals the body handle
// (§4.E).
func (s *Surface) IncomingBodyStream(h Handle) (Handle, error) {
	b, err := s.st.incoming.mustGet("incoming-body.stream", h)
	if err != nil {
		return 0, err
	}
	if err := bodyStream(b); err != nil {
		return 0, err
	}
	return h, nil
}

// IncomingBodyFinish requires state Trailers; any other state is a
// fatal host error from a conformant guest (§4.E).
func (s *Surface) IncomingBodyFinish(h Handle) (Handle, error) {
	b, err := s.st.incoming.mustGet("incoming-body.finish", h)
	if err != nil {
		return 0, err
	}
	if _, ferr := bodyFinish(b); ferr != nil {
		return 0, ferr
	}
	return h, nil
}

func (s *Surface) IncomingBodyDrop(h Handle) {
	s.st.incoming.remove(h)
}

func (s *Surface) InputStreamRead(h Handle, n int) ([]byte, error) {
	b, err := s.st.incoming.mustGet("input-stream.read", h)
	if err != nil {
		return nil, err
	}
	return bodyRead(b, n, s.st.errors, s.st.NewID)
}

func (s *Surface) InputStreamBlockingRead(h Handle, n int) ([]byte, error) {
	b, err := s.st.incoming.mustGet("input-stream.blocking-read", h)
	if err != nil {
		return nil, err
	}
	return bodyBlockingRead(b, n, s.st.errors, s.st.NewID)
}

func (s *Surface) InputStreamSkip(h Handle, n int) (int, error) {
	b, err := s.st.incoming.mustGet("input-stream.skip", h)
	if err != nil {
		return 0, err
	}
	return bodySkip(b, n, s.st.errors, s.st.NewID)
}

func (s *Surface) InputStreamBlockingSkip(h Handle, n int) (int, error) {
	b, err := s.st.incoming.mustGet("input-stream.blocking-skip", h)
	if err != nil {
		return 0, err
	}
	return bodyBlockingSkip(b, n, s.st.errors, s.st.NewID)
}

func (s *Surface) InputStreamSubscribe(h Handle) (Handle, error) {
	if _, err := s.st.incoming.mustGet("input-stream.subscribe", h); err != nil {
		return 0, err
	}
	ph := s.st.NewID()
	s.st.pollables.insert(ph, &inputStreamReady{bodyHandle: h})
	return ph, nil
}

// InputStreamDrop sets the wrapper's state to Trailers even if the
// producer hasn't emitted trailers yet (§9 "Body state after stream
// drop").
func (s *Surface) InputStreamDrop(h Handle) {
	if b, ok := s.st.incoming.get(h); ok {
		dropInputStream(b)
	}
}

// --- Future Trailers ------------------------------------------------------

func (s *Surface) FutureTrailersSubscribe(h Handle) (Handle, error) {
	if _, err := s.st.incoming.mustGet("future-trailers.subscribe", h); err != nil {
		return 0, err
	}
	ph := s.st.NewID()
	s.st.pollables.insert(ph, &trailerPollable{bodyHandle: h})
	return ph, nil
}

// FutureTrailersGet returns the captured trailers, or nil if the body
// ended without any, as an immutable field set. Trailers are observable
// exactly once: a first successful get takes them, so a repeat call
// sees nil rather than handing out the same snapshot again.
func (s *Surface) FutureTrailersGet(h Handle) (Handle, error) {
	b, err := s.st.incoming.mustGet("future-trailers.get", h)
	if err != nil {
		return 0, err
	}
	if b.trailers == nil {
		return 0, nil
	}
	trailers := b.trailers
	b.trailers = nil
	return s.insertImmutableFields(trailers), nil
}

// --- Outgoing Response (Component F, G) ------------------------------------

// OutgoingResponseNew builds a response taking ownership of the headers
// handle the guest already constructed.
func (s *Surface) OutgoingResponseNew(headersHandle Handle) (Handle, error) {
	f, err := s.st.fields.mustGet("outgoing-response.new", headersHandle)
	if err != nil {
		return 0, err
	}
	s.st.fields.remove(headersHandle)
	resp := &OutgoingResponse{
		Status:  200,
		Headers: f,
		Body:    newOutgoingBody(s.st.bufLimit),
	}
	h := s.st.NewID()
	s.st.responses.insert(h, resp)
	return h, nil
}

func (s *Surface) OutgoingResponseSetStatusCode(h Handle, code uint16) error {
	resp, err := s.st.responses.mustGet("outgoing-response.set-status-code", h)
	if err != nil {
		return err
	}
	resp.Status = code
	return nil
}

// OutgoingResponseHeaders exposes the response's headers as an
// IMMUTABLE field set, preventing further guest mutation once the
// response exists — an intentional permissions choice carried over
// from the Open Question in §9 and resolved in DESIGN.md.
func (s *Surface) OutgoingResponseHeaders(h Handle) (Handle, error) {
	resp, err := s.st.responses.mustGet("outgoing-response.headers", h)
	if err != nil {
		return 0, err
	}
	return s.insertImmutableFields(resp.Headers), nil
}

// OutgoingResponseBody returns the output-stream handle, identical to h
// (§3 "Outgoing Response"), allowed once per response. Taking the body
// also wakes the orchestrator's drain loop: a guest may block writing
// and flushing body bytes long before it deposits the response, so
// draining can't wait for that deposit.
func (s *Surface) OutgoingResponseBody(h Handle) (Handle, error) {
	resp, err := s.st.responses.mustGet("outgoing-response.body", h)
	if err != nil {
		return 0, err
	}
	if err := resp.Body.takeWriteStream(); err != nil {
		return 0, err
	}
	select {
	case s.st.bodyReady <- resp:
	default:
	}
	return h, nil
}

// --- Outgoing Body / Output Stream (Component F) ---------------------------

func (s *Surface) OutputStreamCheckWrite(h Handle) (int, error) {
	resp, err := s.st.responses.mustGet("output-stream.check-write", h)
	if err != nil {
		return 0, err
	}
	return resp.Body.CheckWrite(), nil
}

func (s *Surface) OutputStreamWrite(h Handle, data []byte) error {
	resp, err := s.st.responses.mustGet("output-stream.write", h)
	if err != nil {
		return err
	}
	if resp.Body.isClosed() {
		return &streamError{Kind: streamErrorClosed}
	}
	resp.Body.Write(data)
	return nil
}

func (s *Surface) OutputStreamWriteZeroes(h Handle, n int) error {
	resp, err := s.st.responses.mustGet("output-stream.write-zeroes", h)
	if err != nil {
		return err
	}
	resp.Body.WriteZeroes(n)
	return nil
}

func (s *Surface) OutputStreamFlush(h Handle) error {
	resp, err := s.st.responses.mustGet("output-stream.flush", h)
	if err != nil {
		return err
	}
	resp.Body.Flush()
	return nil
}

func (s *Surface) OutputStreamBlockingFlush(h Handle) error {
	resp, err := s.st.responses.mustGet("output-stream.blocking-flush", h)
	if err != nil {
		return err
	}
	resp.Body.BlockingFlush()
	return nil
}

func (s *Surface) OutputStreamBlockingWriteAndFlush(h Handle, data []byte) error {
	resp, err := s.st.responses.mustGet("output-stream.blocking-write-and-flush", h)
	if err != nil {
		return err
	}
	resp.Body.Write(data)
	resp.Body.BlockingFlush()
	return nil
}

func (s *Surface) OutputStreamBlockingWriteZeroesAndFlush(h Handle, n int) error {
	resp, err := s.st.responses.mustGet("output-stream.blocking-write-zeroes-and-flush", h)
	if err != nil {
		return err
	}
	resp.Body.WriteZeroes(n)
	resp.Body.BlockingFlush()
	return nil
}

func (s *Surface) OutputStreamSubscribe(h Handle) (Handle, error) {
	if _, err := s.st.responses.mustGet("output-stream.subscribe", h); err != nil {
		return 0, err
	}
	ph := s.st.NewID()
	s.st.pollables.insert(ph, &outputPollable{responseHandle: h})
	return ph, nil
}

func (s *Surface) OutputStreamDrop(h Handle) {
	// The response itself, and therefore its body, stays alive in
	// st.responses until the invocation ends (response-outparam.set
	// leaves it there too); dropping the stream view has nothing further
	// to release.
}

// OutgoingBodyFinish marks the body complete, moving any supplied
// trailers out of the field set and into the body as the terminal frame
// (§4.F).
func (s *Surface) OutgoingBodyFinish(h Handle, trailersHandle Handle) error {
	resp, err := s.st.responses.mustGet("outgoing-body.finish", h)
	if err != nil {
		return err
	}
	var trailers *Fields
	if trailersHandle != 0 {
		f, ferr := s.st.fields.mustGet("outgoing-body.finish", trailersHandle)
		if ferr != nil {
			return ferr
		}
		trailers = f
		s.st.fields.remove(trailersHandle)
	}
	resp.Body.Finish(trailers)
	return nil
}

// OutgoingBodySplice and OutgoingBodyBlockingSplice are declared but
// unimplemented (§4.F).
func (s *Surface) OutgoingBodySplice(Handle, Handle, uint64) error {
	return errUnimplemented
}

func (s *Surface) OutgoingBodyBlockingSplice(Handle, Handle, uint64) error {
	return errUnimplemented
}

// --- Response Outparam (Component G) ---------------------------------------

// ResponseOutparamSet deposits the guest's finished response (or an
// error code) into the response-out slot, unblocking the Invocation
// Orchestrator's wait (§4.G, §6 "guest contract").
func (s *Surface) ResponseOutparamSet(outparamHandle Handle, responseHandle Handle, failure *errorCode) error {
	if _, ok := s.st.fullResponses.get(outparamHandle); !ok {
		return fatalf("response-outparam.set", "unknown outparam %d", outparamHandle)
	}
	if failure != nil {
		s.st.responseErr = failure
	} else {
		// The response (and, by the shared-identity design in §3, its
		// body/output-stream) stays reachable under responseHandle too:
		// the guest keeps writing body bytes through that handle after
		// set() returns, concurrently with the orchestrator streaming
		// the same *OutgoingResponse out to the network.
		resp, rerr := s.st.responses.mustGet("response-outparam.set", responseHandle)
		if rerr != nil {
			return rerr
		}
		s.st.fullResponses.insert(outparamHandle, resp)
	}
	if !s.st.signaled {
		s.st.signaled = true
		close(s.st.responseSignal)
	}
	return nil
}

// --- Pollable (Component C) --------------------------------------------

func (s *Surface) PollableReady(h Handle) (bool, error) {
	return s.st.pollables.Ready(s.st, h)
}

func (s *Surface) PollableBlock(h Handle) error {
	return s.st.pollables.Block(s.st, h)
}

func (s *Surface) Poll(handles []Handle) ([]int, error) {
	return s.st.pollables.Poll(s.st, handles)
}

func (s *Surface) PollableDrop(h Handle) {
	s.st.pollables.drop(h)
}

// --- Error Registry (Component B) --------------------------------------

func (s *Surface) ErrorToDebugString(h Handle) (string, error) {
	return s.st.errors.toDebugString(h)
}

func (s *Surface) ErrorHTTPErrorCode(h Handle) (*errorCode, error) {
	return s.st.errors.httpErrorCode(h)
}

func (s *Surface) ErrorDrop(h Handle) {
	s.st.errors.drop(h)
}

// --- Unimplemented host interfaces (§6) ----------------------------------

func (s *Surface) OutgoingRequestNew(Handle) (Handle, error)         { return 0, errUnimplemented }
func (s *Surface) RequestOptionsNew() (Handle, error)                { return 0, errUnimplemented }
func (s *Surface) HandleOutgoingRequest(Handle, Handle) (Handle, error) {
	return 0, errUnimplemented
}
func (s *Surface) IncomingResponseStatus(Handle) (uint16, error)     { return 0, errUnimplemented }
func (s *Surface) IncomingResponseHeaders(Handle) (Handle, error)    { return 0, errUnimplemented }
func (s *Surface) IncomingResponseConsume(Handle) (Handle, error)    { return 0, errUnimplemented }
func (s *Surface) FutureIncomingResponseGet(Handle) (Handle, error)  { return 0, errUnimplemented }
func (s *Surface) FutureIncomingResponseSubscribe(Handle) (Handle, error) {
	return 0, errUnimplemented
}
func (s *Surface) WallClockNow() (uint64, uint32, error)             { return 0, 0, errUnimplemented }
func (s *Surface) MonotonicClockNow() (uint64, error)                { return 0, errUnimplemented }
