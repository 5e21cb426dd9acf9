package body

import (
	"context"
	"errors"
	"io"
)

// DefaultChunkSize is the read size used by FromReader when none is given.
const DefaultChunkSize = 32 * 1024

type noneStream struct{}

func (noneStream) Next(context.Context) ([]byte, error) {
	return nil, io.EOF
}

// None returns a stream that is already exhausted.
func None() Stream {
	return noneStream{}
}

type chunkStream struct {
	chunks [][]byte
}

func (c *chunkStream) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for len(c.chunks) > 0 {
		chunk := c.chunks[0]
		c.chunks[0] = nil
		c.chunks = c.chunks[1:]
		if len(chunk) > 0 {
			return chunk, nil
		}
	}
	return nil, io.EOF
}

// Once returns a stream yielding b as a single chunk.
func Once(b []byte) Stream {
	return FromChunks(b)
}

// FromChunks returns a stream over the given chunks. Empty chunks are skipped
// so that a consumer never observes a zero-length chunk.
func FromChunks(chunks ...[]byte) Stream {
	return &chunkStream{chunks: chunks}
}

type readerStream struct {
	r    io.Reader
	size int
	done bool
}

func (s *readerStream) Next(ctx context.Context) ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		buf := make([]byte, s.size)
		n, err := s.r.Read(buf)
		if err == io.EOF {
			s.done = true
			if n > 0 {
				return buf[:n], nil
			}
			return nil, io.EOF
		}
		if err != nil {
			s.done = true
			if IsPayloadError(err) {
				return nil, err
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, &PayloadError{Kind: ErrKindIncomplete, Err: err}
			}
			return nil, &PayloadError{Kind: ErrKindIo, Err: err}
		}
		if n > 0 {
			return buf[:n], nil
		}
	}
}

func (s *readerStream) Close() error {
	s.done = true
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// FromReader returns a stream reading r in chunks of at most chunkSize bytes.
// Read failures are reported as *PayloadError of kind Io unless r already
// returns a *PayloadError. If r is an io.Closer, closing the stream closes r.
func FromReader(r io.Reader, chunkSize int) Stream {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &readerStream{r: r, size: chunkSize}
}

// Chunk is one element delivered over a channel stream. A non-nil Err ends
// the stream with that error.
type Chunk struct {
	Data []byte
	Err  error
}

type chanStream struct {
	ch   <-chan Chunk
	done bool
}

func (s *chanStream) Next(ctx context.Context) ([]byte, error) {
	for !s.done {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case c, ok := <-s.ch:
			if !ok {
				s.done = true
				break
			}
			if c.Err != nil {
				s.done = true
				return nil, c.Err
			}
			if len(c.Data) > 0 {
				return c.Data, nil
			}
		}
	}
	return nil, io.EOF
}

// FromChannel returns a stream fed by ch. The stream ends when ch is closed.
func FromChannel(ch <-chan Chunk) Stream {
	return &chanStream{ch: ch}
}

// ReadAll drains s and returns the concatenated bytes.
func ReadAll(ctx context.Context, s Stream) ([]byte, error) {
	var out []byte
	for {
		chunk, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, chunk...)
	}
}

// Copy drains s into w and returns the number of bytes written.
func Copy(ctx context.Context, w io.Writer, s Stream) (int64, error) {
	var written int64
	for {
		chunk, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return written, nil
		}
		if err != nil {
			return written, err
		}
		n, err := w.Write(chunk)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
}

// Close releases s if it holds resources. Streams that are dropped without
// being drained must be closed so producers observe the cancellation.
func Close(s Stream) error {
	if s == nil {
		return nil
	}
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
