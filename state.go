package bridge

// IncomingRequest is the host-side view of a request the guest is
// handling: method, URI pieces, and headers are fixed at creation, the
// body is consumed at most once (§3, §8 "Single-consume").
type IncomingRequest struct {
	Method    Method
	Scheme    Scheme
	Authority string
	PathQuery string
	Headers   *Fields
	RemoteAddr string

	body     *IncomingBody
	consumed bool
}

// consumeBody hands the request's body to the guest at most once
// (§8 "Single-consume").
func (r *IncomingRequest) consumeBody() (*IncomingBody, error) {
	if r.consumed {
		return nil, errDoubleOperation
	}
	r.consumed = true
	return r.body, nil
}

// OutgoingResponse is deposited by the guest into the response-out slot
// before handle returns. Its handle also names its body and output
// stream: each response has at most one body, each body at most one
// writer (§3 "Outgoing Response").
type OutgoingResponse struct {
	Status  uint16
	Headers *Fields
	Body    *OutgoingBody
}

// State is one invocation's full resource bundle (§3 "Invocation
// State"). It is created empty by the orchestrator, populated on demand
// by the system-interface surface, and dropped when the invocation
// ends; nothing in it persists across invocations.
type State struct {
	errors        *errorRegistry
	fields        *resourceTable[*Fields]
	requests      *resourceTable[*IncomingRequest]
	responses     *resourceTable[*OutgoingResponse]
	incoming      *resourceTable[*IncomingBody]
	pollables     *pollableRegistry
	fullResponses *resourceTable[*OutgoingResponse]

	bufLimit int
	nextID   uint32

	responseSignal chan struct{}
	responseErr    *errorCode
	signaled       bool

	// bodyReady fires the moment a guest takes a response's write stream
	// (OutgoingResponseBody), well before the guest necessarily deposits
	// that response into the outparam. The orchestrator drains the body
	// off this signal instead of waiting for deposit, since a guest is
	// free to block writing/flushing the body before ever calling
	// response-outparam.set.
	bodyReady chan *OutgoingResponse
}

// NewState allocates a fresh, empty invocation bundle.
func NewState(bufLimit int) *State {
	return &State{
		errors:         newErrorRegistry(),
		fields:         newResourceTable[*Fields](),
		requests:       newResourceTable[*IncomingRequest](),
		responses:      newResourceTable[*OutgoingResponse](),
		incoming:       newResourceTable[*IncomingBody](),
		pollables:      newPollableRegistry(),
		fullResponses:  newResourceTable[*OutgoingResponse](),
		bufLimit:       bufLimit,
		responseSignal: make(chan struct{}),
		bodyReady:      make(chan *OutgoingResponse, 1),
	}
}

// NewID allocates a fresh, non-zero, monotonically increasing handle.
// Exhaustion (wraparound past the 32-bit space) is a fatal host error
// (§3 "Handle").
func (s *State) NewID() Handle {
	s.nextID++
	if s.nextID == 0 {
		panic(fatalf("state.new_id", "handle space exhausted"))
	}
	return Handle(s.nextID)
}
