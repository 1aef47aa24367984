package bridge

import (
	"io"
	"net/http"
)

// frameResult is what a bodyProducer hands back from a single poll or
// block attempt: a mutually exclusive data frame, a trailers frame, a
// terminal "no more frames" signal, a producer error, or (poll only) a
// not-yet-ready signal.
type frameResult struct {
	pending  bool
	done     bool
	data     []byte
	trailers *Fields
	err      error
}

// bodyProducer is the streaming source an Incoming Body Pipeline wraps:
// in production it is backed by the network request body, in tests by a
// scripted sequence of frames. Grounded on the spec's description of the
// original's hyper::body::Incoming as "a producer body"; poll/block give
// the two suspension shapes Component C's pollables need.
type bodyProducer interface {
	poll() frameResult
	block() frameResult
}

const producerChunkSize = 4096

// httpRequestProducer adapts a streaming *http.Request body — a plain
// blocking io.ReadCloser — into the poll/block shape the rest of the
// pipeline expects. A background goroutine keeps one chunk read ahead so
// that poll() never blocks; this is the same "buffered channel ahead of
// a blocking reader" technique avidal/fastlike uses for its streaming
// BodyHandle.
type httpRequestProducer struct {
	req     *http.Request
	frames  chan frameResult
	started bool
	bufs    *chunkBufferPool
}

var sharedChunkBufferPool = newChunkBufferPool(producerChunkSize)

func newHTTPRequestProducer(req *http.Request) *httpRequestProducer {
	return &httpRequestProducer{req: req, frames: make(chan frameResult, 1), bufs: sharedChunkBufferPool}
}

func (p *httpRequestProducer) ensureStarted() {
	if p.started {
		return
	}
	p.started = true
	go p.pump()
}

func (p *httpRequestProducer) pump() {
	bufPtr := p.bufs.Get()
	defer p.bufs.Put(bufPtr)
	buf := *bufPtr
	for {
		n, err := p.req.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.frames <- frameResult{data: chunk}
		}
		if err != nil {
			if err == io.EOF {
				if trailers := trailersFromRequest(p.req); trailers != nil {
					p.frames <- frameResult{trailers: trailers}
				}
				p.frames <- frameResult{done: true}
			} else {
				p.frames <- frameResult{err: err}
			}
			close(p.frames)
			return
		}
	}
}

func trailersFromRequest(req *http.Request) *Fields {
	if len(req.Trailer) == 0 {
		return nil
	}
	f := NewFields()
	for name, values := range req.Trailer {
		for _, v := range values {
			_ = f.Append(name, v)
		}
	}
	if len(f.entries) == 0 {
		return nil
	}
	return f
}

func (p *httpRequestProducer) poll() frameResult {
	p.ensureStarted()
	select {
	case fr, ok := <-p.frames:
		if !ok {
			return frameResult{done: true}
		}
		return fr
	default:
		return frameResult{pending: true}
	}
}

func (p *httpRequestProducer) block() frameResult {
	p.ensureStarted()
	fr, ok := <-p.frames
	if !ok {
		return frameResult{done: true}
	}
	return fr
}

// staticFrameProducer replays a fixed sequence of frames; used by the
// incoming-body, pollable and surface tests (including the trailers
// scenario from §8) without a real network connection.
type staticFrameProducer struct {
	frames []frameResult
	pos    int
}

func newStaticFrameProducer(frames ...frameResult) *staticFrameProducer {
	return &staticFrameProducer{frames: frames}
}

func (p *staticFrameProducer) next() frameResult {
	if p.pos >= len(p.frames) {
		return frameResult{done: true}
	}
	fr := p.frames[p.pos]
	p.pos++
	return fr
}

func (p *staticFrameProducer) poll() frameResult  { return p.next() }
func (p *staticFrameProducer) block() frameResult { return p.next() }
