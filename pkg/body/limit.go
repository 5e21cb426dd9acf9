package body

import (
	"context"
	"errors"
	"io"
)

type limitStream struct {
	s         Stream
	remaining int64
	declared  int64
	err       error
}

// Limit wraps s so that it yields exactly n bytes. A producer that stops
// short fails with ErrKindIncomplete, one that overruns with ErrKindOverflow.
func Limit(n int64, s Stream) Stream {
	return &limitStream{s: s, remaining: n, declared: n}
}

func (l *limitStream) Next(ctx context.Context) ([]byte, error) {
	if l.err != nil {
		return nil, l.err
	}
	chunk, err := l.s.Next(ctx)
	switch {
	case errors.Is(err, io.EOF):
		if l.remaining > 0 {
			l.err = incomplete("body ended %d bytes short of declared length %d", l.remaining, l.declared)
			return nil, l.err
		}
		l.err = io.EOF
		return nil, io.EOF
	case err != nil:
		l.err = err
		return nil, err
	}
	if int64(len(chunk)) > l.remaining {
		l.err = overflow("body exceeds declared length %d", l.declared)
		_ = Close(l.s)
		return nil, l.err
	}
	l.remaining -= int64(len(chunk))
	return chunk, nil
}

func (l *limitStream) Close() error {
	return Close(l.s)
}
