package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSurfaceFieldsRoundTrip(t *testing.T) {
	s := NewSurface(NewState(0))
	h := s.FieldsNew()
	require.NoError(t, s.FieldsAppend(h, "X-A", "1"))
	values, err := s.FieldsGet(h, "X-A")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, values)
}

func TestSurfaceIncomingRequestConsumeAllocatesFreshHandle(t *testing.T) {
	st := NewState(0)
	s := NewSurface(st)
	reqHandle := st.NewID()
	st.requests.insert(reqHandle, &IncomingRequest{
		Headers: NewFields(),
		body:    newIncomingBody(newStaticFrameProducer(frameResult{done: true})),
	})

	bodyHandle, err := s.IncomingRequestConsume(reqHandle)
	require.NoError(t, err)
	assert.NotEqual(t, reqHandle, bodyHandle)
	assert.True(t, st.requests.has(reqHandle))
	assert.True(t, st.incoming.has(bodyHandle))

	_, err = s.IncomingRequestConsume(reqHandle)
	require.Error(t, err)
	assert.Same(t, errDoubleOperation, err)
}

func TestSurfaceOutgoingResponseHeadersAreImmutable(t *testing.T) {
	st := NewState(0)
	s := NewSurface(st)
	headersHandle := s.FieldsNew()
	respHandle, err := s.OutgoingResponseNew(headersHandle)
	require.NoError(t, err)

	snapshotHandle, err := s.OutgoingResponseHeaders(respHandle)
	require.NoError(t, err)
	err = s.FieldsAppend(snapshotHandle, "X-New", "v")
	require.Error(t, err)
	var herr *headerError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, headerErrorImmutable, herr.Kind)
}

func TestSurfaceOutgoingResponseBodyIsSingleUse(t *testing.T) {
	st := NewState(0)
	s := NewSurface(st)
	headersHandle := s.FieldsNew()
	respHandle, err := s.OutgoingResponseNew(headersHandle)
	require.NoError(t, err)

	bodyHandle, err := s.OutgoingResponseBody(respHandle)
	require.NoError(t, err)
	assert.Equal(t, respHandle, bodyHandle)

	_, err = s.OutgoingResponseBody(respHandle)
	require.Error(t, err)
	assert.Same(t, errDoubleOperation, err)
}

func TestSurfaceResponseOutparamSetUnblocksSignal(t *testing.T) {
	st := NewState(0)
	s := NewSurface(st)
	outparam := st.NewID()
	st.fullResponses.insert(outparam, nil)

	headersHandle := s.FieldsNew()
	respHandle, err := s.OutgoingResponseNew(headersHandle)
	require.NoError(t, err)

	require.NoError(t, s.ResponseOutparamSet(outparam, respHandle, nil))

	select {
	case <-st.responseSignal:
	default:
		t.Fatal("expected responseSignal to be closed")
	}

	resp, ok := st.fullResponses.get(outparam)
	require.True(t, ok)
	require.NotNil(t, resp)

	// The original response handle must still resolve: the guest keeps
	// writing to the body under this handle after set() returns.
	assert.True(t, st.responses.has(respHandle))
}

func TestSurfacePollableDropThenReadyIsFatal(t *testing.T) {
	st := NewState(0)
	s := NewSurface(st)
	bh := st.NewID()
	st.incoming.insert(bh, newIncomingBody(newStaticFrameProducer(frameResult{done: true})))

	ph, err := s.InputStreamSubscribe(bh)
	require.NoError(t, err)
	s.PollableDrop(ph)

	_, err = s.PollableReady(ph)
	require.Error(t, err)
}

func TestSurfaceErrorRegistryDebugString(t *testing.T) {
	st := NewState(0)
	s := NewSurface(st)
	h := st.NewID()
	st.errors.intern(h, assertErr("disk on fire"))

	msg, err := s.ErrorToDebugString(h)
	require.NoError(t, err)
	assert.Contains(t, msg, "disk on fire")

	ec, err := s.ErrorHTTPErrorCode(h)
	require.NoError(t, err)
	assert.Equal(t, "internal-error", ec.Kind)

	s.ErrorDrop(h)
	_, err = s.ErrorToDebugString(h)
	require.Error(t, err)
}

func TestSurfaceUnimplementedOperationsReturnErrUnimplemented(t *testing.T) {
	s := NewSurface(NewState(0))
	_, err := s.OutgoingRequestNew(Handle(1))
	assert.ErrorIs(t, err, errUnimplemented)

	_, _, err = s.WallClockNow()
	assert.ErrorIs(t, err, errUnimplemented)
}
