package bridge

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutgoingBodyTakeWriteStreamOnce(t *testing.T) {
	b := newOutgoingBody(0)
	require.NoError(t, b.takeWriteStream())
	err := b.takeWriteStream()
	require.Error(t, err)
	assert.Same(t, errDoubleOperation, err)
}

func TestOutgoingBodyCheckWriteNeverNegative(t *testing.T) {
	b := newOutgoingBody(4)
	b.Write([]byte("12345678"))
	assert.Equal(t, 0, b.CheckWrite())
}

func TestOutgoingBodyBufferStaysWithinLimitUnderNormalUse(t *testing.T) {
	b := newOutgoingBody(8)
	for i := 0; i < 4; i++ {
		require.LessOrEqual(t, b.CheckWrite(), 8)
		b.Write([]byte("ab"))
		frame := b.NextFrame()
		assert.Equal(t, []byte("ab"), frame.Data)
	}
}

func TestOutgoingBodyFinishEmitsTrailersThenEndOfStream(t *testing.T) {
	b := newOutgoingBody(0)
	trailers := NewFields()
	require.NoError(t, trailers.Append("X-Digest", "xyz"))

	b.Write([]byte("payload"))
	b.Finish(trailers)

	frame := b.NextFrame()
	assert.Equal(t, []byte("payload"), frame.Data)

	frame = b.NextFrame()
	require.NotNil(t, frame.Trailers)
	assert.Equal(t, []string{"xyz"}, frame.Trailers.Get("X-Digest"))

	frame = b.NextFrame()
	assert.True(t, frame.EndOfStream)
}

func TestOutgoingBodyBackpressureParksProducerUntilConsumerDrains(t *testing.T) {
	b := newOutgoingBody(4)
	b.Write([]byte("abcd")) // fills the buffer exactly

	unblocked := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.waitHeadroom() // should park: no headroom yet
		close(unblocked)
	}()

	select {
	case <-unblocked:
		t.Fatal("waitHeadroom returned before the consumer drained the buffer")
	case <-time.After(20 * time.Millisecond):
	}

	frame := b.NextFrame() // drains the buffer, broadcasts headroom
	assert.Equal(t, []byte("abcd"), frame.Data)

	select {
	case <-unblocked:
	case <-time.After(time.Second):
		t.Fatal("waitHeadroom never woke up after the buffer drained")
	}
	wg.Wait()
}

func TestOutgoingBodyCloseReleasesParkedProducer(t *testing.T) {
	b := newOutgoingBody(4)
	b.Write([]byte("abcd"))

	done := make(chan struct{})
	go func() {
		b.waitHeadroom()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	b.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not release the parked producer")
	}
	assert.True(t, b.isClosed())
}
