package bridge

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

// echoGuest is a fake GuestInvoker standing in for a wasm component: it
// reads the whole incoming body (and any trailers) and writes them back
// verbatim on the response, echoing one request header as a response
// header so header plumbing is exercised end to end.
type echoGuest struct {
	echoTrailers bool
}

func (g *echoGuest) Invoke(s *Surface, reqHandle, outHandle Handle) error {
	echoed, err := s.IncomingRequestHeaders(reqHandle)
	if err != nil {
		return err
	}
	traceValues, err := s.FieldsGet(echoed, "X-Trace")
	if err != nil {
		return err
	}

	bodyHandle, err := s.IncomingRequestConsume(reqHandle)
	if err != nil {
		return err
	}
	if _, err := s.IncomingBodyStream(bodyHandle); err != nil {
		return err
	}

	var collected bytes.Buffer
	for {
		chunk, err := s.InputStreamBlockingRead(bodyHandle, 4096)
		if err != nil {
			var serr *streamError
			if isStreamError(err, &serr) && serr.Kind == streamErrorClosed {
				break
			}
			return err
		}
		collected.Write(chunk)
	}

	var echoedTrailerValue string
	if g.echoTrailers {
		if _, err := s.IncomingBodyFinish(bodyHandle); err != nil {
			return err
		}
		trailersFieldsHandle, err := s.FutureTrailersGet(bodyHandle)
		if err != nil {
			return err
		}
		if trailersFieldsHandle != 0 {
			values, _ := s.FieldsGet(trailersFieldsHandle, "X-Checksum")
			if len(values) > 0 {
				echoedTrailerValue = values[0]
			}
		}
	}

	respHeaders := s.FieldsNew()
	if len(traceValues) > 0 {
		if err := s.FieldsAppend(respHeaders, "X-Trace-Echo", traceValues[0]); err != nil {
			return err
		}
	}
	respHandle, err := s.OutgoingResponseNew(respHeaders)
	if err != nil {
		return err
	}
	if err := s.OutgoingResponseSetStatusCode(respHandle, 200); err != nil {
		return err
	}
	if _, err := s.OutgoingResponseBody(respHandle); err != nil {
		return err
	}
	if err := s.OutputStreamBlockingWriteAndFlush(respHandle, collected.Bytes()); err != nil {
		return err
	}

	var trailersHandle Handle
	if echoedTrailerValue != "" {
		trailersHandle = s.FieldsNew()
		if err := s.FieldsAppend(trailersHandle, "X-Checksum-Echo", echoedTrailerValue); err != nil {
			return err
		}
	}
	if err := s.OutgoingBodyFinish(respHandle, trailersHandle); err != nil {
		return err
	}
	return s.ResponseOutparamSet(outHandle, respHandle, nil)
}

func isStreamError(err error, target **streamError) bool {
	if serr, ok := err.(*streamError); ok {
		*target = serr
		return true
	}
	return false
}

func newTestOrchestrator(guest GuestInvoker) *Orchestrator {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewOrchestrator(guest, 0, log)
}

func TestOrchestratorEchoesGetWithEmptyBody(t *testing.T) {
	o := newTestOrchestrator(&echoGuest{})
	req := httptest.NewRequest(http.MethodGet, "/hello?x=1", nil)
	req.Header.Set("X-Trace", "abc-123")
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		o.ServeHTTP(rec, req)
		close(done)
	}()
	waitOrTimeout(t, done)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Trace-Echo"))
	assert.Empty(t, rec.Body.Bytes())
}

func TestOrchestratorEchoesPostedBody(t *testing.T) {
	o := newTestOrchestrator(&echoGuest{})
	payload := bytes.Repeat([]byte("0123456789abcdef"), 512) // 8KiB, larger than one 4096 chunk
	req := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewReader(payload))
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		o.ServeHTTP(rec, req)
		close(done)
	}()
	waitOrTimeout(t, done)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payload, rec.Body.Bytes())
}

func TestOrchestratorEchoesTrailers(t *testing.T) {
	o := newTestOrchestrator(&echoGuest{echoTrailers: true})
	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("payload"))
	req.Trailer = http.Header{"X-Checksum": []string{"deadbeef"}}
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		o.ServeHTTP(rec, req)
		close(done)
	}()
	waitOrTimeout(t, done)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "payload", rec.Body.String())
	assert.Equal(t, "deadbeef", rec.Result().Trailer.Get("X-Checksum-Echo"))
}

type fatalGuest struct{}

func (fatalGuest) Invoke(*Surface, Handle, Handle) error {
	return fatalf("guest.handle", "deliberate failure")
}

func TestOrchestratorWritesFatalStatusWhenGuestNeverResponds(t *testing.T) {
	o := newTestOrchestrator(fatalGuest{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		o.ServeHTTP(rec, req)
		close(done)
	}()
	waitOrTimeout(t, done)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func waitOrTimeout(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("ServeHTTP did not complete in time")
	}
}
