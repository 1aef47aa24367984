package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestErrors() (*errorRegistry, func() Handle) {
	errs := newErrorRegistry()
	var next uint32
	alloc := func() Handle {
		next++
		return Handle(next)
	}
	return errs, alloc
}

func TestBodyStreamIsSingleConsume(t *testing.T) {
	b := newIncomingBody(newStaticFrameProducer(frameResult{done: true}))
	require.NoError(t, bodyStream(b))
	err := bodyStream(b)
	require.Error(t, err)
	assert.Same(t, errDoubleOperation, err)
}

func TestBodyReadSplitsFrameAcrossCalls(t *testing.T) {
	producer := newStaticFrameProducer(
		frameResult{data: []byte("hello world")},
		frameResult{done: true},
	)
	b := newIncomingBody(producer)
	errs, alloc := newTestErrors()
	require.NoError(t, bodyStream(b))

	first, err := bodyRead(b, 5, errs, alloc)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), first)

	second, err := bodyRead(b, 64, errs, alloc)
	require.NoError(t, err)
	assert.Equal(t, []byte(" world"), second)

	_, err = bodyRead(b, 1, errs, alloc)
	require.Error(t, err)
	var serr *streamError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, streamErrorClosed, serr.Kind)
	assert.Equal(t, bodyStateTrailers, b.state)

	got, err := bodyFinish(b)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, bodyStateConsumed, b.state)
}

func TestBodyStateNeverMovesBackward(t *testing.T) {
	b := newIncomingBody(newStaticFrameProducer(frameResult{done: true}))
	b.advance(bodyStateTrailers)
	b.advance(bodyStateData)
	assert.Equal(t, bodyStateTrailers, b.state)
}

func TestBodyReadCapturesTrailersThenRequiresFinish(t *testing.T) {
	trailers := NewFields()
	require.NoError(t, trailers.Append("X-Checksum", "abc"))
	producer := newStaticFrameProducer(frameResult{trailers: trailers})
	b := newIncomingBody(producer)
	errs, alloc := newTestErrors()
	require.NoError(t, bodyStream(b))

	_, err := bodyRead(b, 16, errs, alloc)
	require.Error(t, err)
	assert.Equal(t, bodyStateTrailers, b.state)

	got, err := bodyFinish(b)
	require.NoError(t, err)
	assert.Equal(t, []string{"abc"}, got.Get("X-Checksum"))
	assert.Equal(t, bodyStateConsumed, b.state)
}

func TestBodyFinishBeforeTrailersIsFatal(t *testing.T) {
	b := newIncomingBody(newStaticFrameProducer(frameResult{done: true}))
	_, err := bodyFinish(b)
	require.Error(t, err)
	var fatal *HostFatalError
	require.ErrorAs(t, err, &fatal)
}

func TestBodyReadInternsProducerError(t *testing.T) {
	producer := newStaticFrameProducer(frameResult{err: assertErr("boom")})
	b := newIncomingBody(producer)
	errs, alloc := newTestErrors()
	require.NoError(t, bodyStream(b))

	_, err := bodyRead(b, 8, errs, alloc)
	require.Error(t, err)
	var serr *streamError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, streamErrorLastOperationFailed, serr.Kind)

	msg, derr := errs.toDebugString(serr.ErrHandle)
	require.NoError(t, derr)
	assert.Contains(t, msg, "boom")
}

func TestDropInputStreamAdvancesToTrailersWithoutRealTrailers(t *testing.T) {
	b := newIncomingBody(newStaticFrameProducer(frameResult{done: true}))
	dropInputStream(b)
	assert.Equal(t, bodyStateTrailers, b.state)
	got, err := bodyFinish(b)
	require.NoError(t, err)
	assert.Nil(t, got)
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func assertErr(msg string) error { return simpleErr(msg) }
