package surge

import (
	"errors"
	"io"
	"sync"
)

// ErrClosedPipe is returned when writing after either end closed, or
// reading after CloseRead.
var ErrClosedPipe = errors.New("surge: read/write on closed pipe")

// Pipe is a bounded in-memory stream between one writer goroutine and one
// reader. Write blocks while size chunks are queued. Read returns io.EOF
// (or the CloseWithError error) once the writer closed and the queue is
// drained.
type Pipe struct {
	ch   chan []byte
	done chan struct{}

	wmu     sync.Mutex
	wclosed bool
	werr    error

	rclose sync.Once
	buf    []byte // unread tail of the current chunk
}

// NewPipe returns a pipe buffering up to size chunks.
func NewPipe(size int) *Pipe {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Pipe{
		ch:   make(chan []byte, size),
		done: make(chan struct{}),
	}
}

// Write queues a copy of b.
func (p *Pipe) Write(b []byte) (int, error) {
	p.wmu.Lock()
	closed := p.wclosed
	p.wmu.Unlock()
	if closed {
		return 0, ErrClosedPipe
	}
	if len(b) == 0 {
		return 0, nil
	}
	chunk := make([]byte, len(b))
	copy(chunk, b)
	select {
	case p.ch <- chunk:
		return len(b), nil
	case <-p.done:
		return 0, ErrClosedPipe
	}
}

// Close marks the end of the stream. It is safe to call more than once.
func (p *Pipe) Close() error { return p.CloseWithError(nil) }

// CloseWithError ends the stream; once drained, Read returns err instead
// of io.EOF. Only the first call has effect. It must be called from the
// writer's goroutine.
func (p *Pipe) CloseWithError(err error) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	if p.wclosed {
		return nil
	}
	p.wclosed = true
	p.werr = err
	close(p.ch)
	return nil
}

// Read implements io.Reader.
func (p *Pipe) Read(b []byte) (int, error) {
	if len(p.buf) > 0 {
		n := copy(b, p.buf)
		p.buf = p.buf[n:]
		return n, nil
	}
	select {
	case <-p.done:
		return 0, ErrClosedPipe
	default:
	}
	select {
	case chunk, ok := <-p.ch:
		if !ok {
			p.wmu.Lock()
			err := p.werr
			p.wmu.Unlock()
			if err == nil {
				err = io.EOF
			}
			return 0, err
		}
		n := copy(b, chunk)
		p.buf = chunk[n:]
		return n, nil
	case <-p.done:
		return 0, ErrClosedPipe
	}
}

// CloseRead tells the writer nobody will read any more; a blocked Write
// returns ErrClosedPipe.
func (p *Pipe) CloseRead() error {
	p.rclose.Do(func() { close(p.done) })
	return nil
}
