package body

import (
	"context"
	"io"
	"sync"
)

// Pipe carries a payload from a writer goroutine to a pulling reader.
//
// The write side calls Write and CloseWithError; the read side pulls with
// Next. An unbounded pipe never blocks in Write: the engine is expected to
// bound the amount of buffered data itself (HTTP/2 does this with its
// receive window). A bounded pipe blocks Write while the high-water mark is
// reached, until the reader pulls or closes. Every byte handed to the
// reader, or dropped by Close, is reported to the consume callback.
type Pipe struct {
	mu        sync.Mutex
	space     *sync.Cond
	queue     [][]byte
	buffered  int
	limit     int
	err       error
	closed    bool
	notify    chan struct{}
	onConsume func(n int)
}

// NewPipe returns an empty unbounded pipe. onConsume may be nil.
func NewPipe(onConsume func(n int)) *Pipe {
	return NewBoundedPipe(0, onConsume)
}

// NewBoundedPipe returns an empty pipe whose Write waits while limit or
// more bytes are buffered. A limit of zero or less means unbounded.
func NewBoundedPipe(limit int, onConsume func(n int)) *Pipe {
	p := &Pipe{
		limit:     limit,
		notify:    make(chan struct{}, 1),
		onConsume: onConsume,
	}
	p.space = sync.NewCond(&p.mu)
	return p
}

// Write queues a copy of b. It fails with ErrClosedPipe once the reader has
// closed the pipe and with the terminal error once the writer ended it.
func (p *Pipe) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	p.mu.Lock()
	for p.limit > 0 && p.buffered >= p.limit && !p.closed && p.err == nil {
		p.space.Wait()
	}
	if p.closed {
		p.mu.Unlock()
		return 0, ErrClosedPipe
	}
	if p.err != nil {
		err := p.err
		p.mu.Unlock()
		return 0, err
	}
	chunk := make([]byte, len(b))
	copy(chunk, b)
	p.queue = append(p.queue, chunk)
	p.buffered += len(chunk)
	p.mu.Unlock()
	p.signal()
	return len(b), nil
}

// CloseWithError ends the write side. A nil err marks a clean end of body.
// Only the first call has an effect.
func (p *Pipe) CloseWithError(err error) {
	if err == nil {
		err = io.EOF
	}
	p.mu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.space.Broadcast()
	p.mu.Unlock()
	p.signal()
}

// Buffered is the number of bytes written but not yet consumed.
func (p *Pipe) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffered
}

// Done reports whether the writer has ended the pipe.
func (p *Pipe) Done() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err != nil
}

func (p *Pipe) signal() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Next returns queued chunks in order, then the terminal error.
func (p *Pipe) Next(ctx context.Context) ([]byte, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, io.EOF
		}
		if len(p.queue) > 0 {
			chunk := p.queue[0]
			p.queue[0] = nil
			p.queue = p.queue[1:]
			p.buffered -= len(chunk)
			p.space.Broadcast()
			cb := p.onConsume
			p.mu.Unlock()
			if cb != nil {
				cb(len(chunk))
			}
			return chunk, nil
		}
		if p.err != nil {
			err := p.err
			p.mu.Unlock()
			return nil, err
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.notify:
		}
	}
}

// Close is called by the reader when it no longer wants the payload. Queued
// chunks are dropped and credited, later writes fail.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	dropped := p.buffered
	p.queue = nil
	p.buffered = 0
	p.space.Broadcast()
	cb := p.onConsume
	p.mu.Unlock()
	if cb != nil && dropped > 0 {
		cb(dropped)
	}
	p.signal()
	return nil
}
