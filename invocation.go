// Copyright 2021-2022 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bridge

import (
	"net"
	"net/http"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// GuestInvoker drives a guest's handle(request, response-out) entry
// point against one invocation's Surface. A *WasmGuest (Component I)
// implements this against a real component; tests use fake
// implementations to exercise the orchestrator and pipelines without a
// wasm runtime.
type GuestInvoker interface {
	Invoke(surface *Surface, requestHandle, responseOutHandle Handle) error
}

// Orchestrator is the Invocation Orchestrator (Component G): it
// instantiates a guest per request, seeds the resource table, invokes
// handle, and harvests the response — adapted from connectrpc.com/connect's
// Handler.ServeHTTP, which plays the same "thin net/http.Handler wrapping
// a framework-specific call" role for Connect RPCs.
type Orchestrator struct {
	guest    GuestInvoker
	bufLimit int
	log      logrus.FieldLogger

	nextInvocation atomic.Uint64
}

// NewOrchestrator builds an Orchestrator dispatching every request to
// guest. bufLimit overrides BUF_LIMIT (§3); zero selects the default.
func NewOrchestrator(guest GuestInvoker, bufLimit int, log logrus.FieldLogger) *Orchestrator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Orchestrator{guest: guest, bufLimit: bufLimit, log: log}
}

// ServeHTTP implements http.Handler, playing the role the original's
// hyper::service_fn/blocking_service pair plays together: seed state,
// run the guest, stream the result back to the socket.
func (o *Orchestrator) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	invID := o.nextInvocation.Add(1)
	log := o.log.WithFields(logrus.Fields{
		"invocation": invID,
		"method":     req.Method,
		"path":       req.URL.RequestURI(),
	})

	st := NewState(o.bufLimit)
	surface := NewSurface(st)

	reqHandle := st.NewID()
	resOutHandle := st.NewID()

	st.requests.insert(reqHandle, seedIncomingRequest(req))
	st.fullResponses.insert(resOutHandle, nil)

	guestDone := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				guestDone <- fatalf("guest.handle", "panic: %v", r)
				return
			}
		}()
		guestDone <- o.guest.Invoke(surface, reqHandle, resOutHandle)
	}()

	// A guest is free to write and blocking-flush body bytes long before
	// it deposits the response (the demo guest writes the whole body,
	// then calls response-outparam.set last, mirroring a real streaming
	// handler). Draining therefore starts the moment the guest takes the
	// body's write stream (st.bodyReady), not when the response is
	// deposited (st.responseSignal) — otherwise a guest blocked flushing
	// into a buffer nobody is draining yet deadlocks against itself.
	select {
	case resp := <-st.bodyReady:
		o.stream(w, req, resp, guestDone, log)
		return
	case <-st.responseSignal:
		o.streamDeposited(w, req, st, resOutHandle, guestDone, log)
		return
	case guestErr := <-guestDone:
		select {
		case resp := <-st.bodyReady:
			o.stream(w, req, resp, guestDone, log)
			return
		case <-st.responseSignal:
			o.streamDeposited(w, req, st, resOutHandle, guestDone, log)
			return
		default:
		}
		log.WithError(guestErr).Error("guest returned without depositing a response")
		writeHostFatal(w, guestErr)
		return
	}
}

// streamDeposited handles the case where the response signal fired
// without bodyReady ever firing first: a guest that deposits a failure
// code, or one that skips taking the body entirely. If a response did
// make it through, it still gets streamed the normal way.
func (o *Orchestrator) streamDeposited(w http.ResponseWriter, req *http.Request, st *State, resOutHandle Handle, guestDone <-chan error, log logrus.FieldLogger) {
	resp, _ := st.fullResponses.get(resOutHandle)
	if resp == nil {
		log.WithField("error", st.responseErr).Error("guest deposited an error instead of a response")
		writeHostFatal(w, fatalf("response-outparam", "guest reported %v", st.responseErr))
		return
	}
	o.stream(w, req, resp, guestDone, log)
}

// stream writes resp to w, draining its outgoing body while the guest
// goroutine may still be writing to it (§4.G step 5, §5 "Suspension
// points"). guestDone is joined once streaming completes so a late
// guest error is still observed and logged.
func (o *Orchestrator) stream(w http.ResponseWriter, req *http.Request, resp *OutgoingResponse, guestDone <-chan error, log logrus.FieldLogger) {
	abort := req.Context().Done()
	aborted := make(chan struct{})
	go func() {
		select {
		case <-abort:
			resp.Body.Close()
		case <-aborted:
		}
	}()
	defer close(aborted)

	for _, kv := range resp.Headers.Entries() {
		w.Header().Add(kv[0], kv[1])
	}
	w.WriteHeader(int(resp.Status))
	flusher, _ := w.(http.Flusher)

	for {
		frame := resp.Body.NextFrame()
		if len(frame.Data) > 0 {
			if _, err := w.Write(frame.Data); err != nil {
				resp.Body.Close()
				break
			}
			if flusher != nil {
				flusher.Flush()
			}
			continue
		}
		if frame.Trailers != nil {
			for _, kv := range frame.Trailers.Entries() {
				w.Header().Set(http.TrailerPrefix+kv[0], kv[1])
			}
			continue
		}
		if frame.EndOfStream {
			break
		}
	}

	if err := <-guestDone; err != nil {
		log.WithError(err).Warn("guest returned an error after completing its response")
	}
}

// seedIncomingRequest converts a streaming *http.Request into the
// host-side IncomingRequest the surface exposes to the guest (§6
// "Method mapping", "Scheme mapping").
func seedIncomingRequest(req *http.Request) *IncomingRequest {
	headers := NewFields()
	for name, values := range req.Header {
		for _, v := range values {
			_ = headers.Append(name, v)
		}
	}

	scheme := "http"
	if req.TLS != nil {
		scheme = "https"
	}

	pathQuery := req.URL.Path
	if req.URL.RawQuery != "" {
		pathQuery += "?" + req.URL.RawQuery
	}

	remoteAddr := req.RemoteAddr
	if host, _, err := net.SplitHostPort(req.RemoteAddr); err == nil {
		remoteAddr = host
	}

	return &IncomingRequest{
		Method:     methodFromString(req.Method),
		Scheme:     schemeFromString(scheme),
		Authority:  req.Host,
		PathQuery:  pathQuery,
		Headers:    headers,
		RemoteAddr: remoteAddr,
		body:       newIncomingBody(newHTTPRequestProducer(req)),
	}
}

func writeHostFatal(w http.ResponseWriter, err error) {
	http.Error(w, "internal server error", http.StatusInternalServerError)
	_ = err // logged by the caller; body intentionally generic (§7 "A host fatal aborts the response with a generic 500")
}
