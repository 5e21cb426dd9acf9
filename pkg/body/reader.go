package body

import (
	"context"
	"errors"
	"io"
)

type streamReader struct {
	ctx context.Context
	s   Stream
	buf []byte
	err error
}

// NewReader exposes s as an io.ReadCloser. Reads honour ctx.
func NewReader(ctx context.Context, s Stream) io.ReadCloser {
	return &streamReader{ctx: ctx, s: s}
}

func (r *streamReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for len(r.buf) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		chunk, err := r.s.Next(r.ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.EOF
			}
			r.err = err
			continue
		}
		r.buf = chunk
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *streamReader) Close() error {
	r.buf = nil
	if r.err == nil {
		r.err = io.ErrClosedPipe
	}
	return Close(r.s)
}
