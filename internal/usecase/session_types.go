package usecase

import (
	"sync"

	"fieldtriage/internal/ports"
)

// activeRecording is the state owned by one capture between Start and Stop.
type activeRecording struct {
	cancel   func()
	audio    ports.AudioSession
	language string

	chunksMu sync.Mutex
	chunks   [][]byte
	readErr  error

	pumpDone chan struct{}
}

func (r *activeRecording) appendChunk(chunk []byte) {
	r.chunksMu.Lock()
	defer r.chunksMu.Unlock()
	r.chunks = append(r.chunks, chunk)
}

func (r *activeRecording) setReadErr(err error) {
	r.chunksMu.Lock()
	defer r.chunksMu.Unlock()
	r.readErr = err
}

// drain returns the captured chunks and any read failure.
func (r *activeRecording) drain() ([][]byte, error) {
	r.chunksMu.Lock()
	defer r.chunksMu.Unlock()
	chunks := r.chunks
	r.chunks = nil
	return chunks, r.readErr
}

// generation lets long calls detect that their owner was torn down while they
// were in flight.
type generation struct {
	mu     sync.Mutex
	n      uint64
	closed bool
}

func (g *generation) current() (uint64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n, g.closed
}

func (g *generation) stale(seen uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed || g.n != seen
}

func (g *generation) close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	g.closed = true
}
