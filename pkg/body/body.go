// Package body provides the lazy byte-chunk streams shared by the HTTP/1 and
// HTTP/2 engines, for both inbound request payloads and outbound response bodies.
package body

import (
	"context"
	"fmt"
)

// Stream is a lazy, finite, non-restartable sequence of byte chunks.
//
// Next returns the next non-empty chunk, io.EOF once the sequence is over, or
// any other error when the producer failed. A stream is owned by exactly one
// consumer at a time; chunks handed out by Next belong to the caller.
type Stream interface {
	Next(ctx context.Context) ([]byte, error)
}

// StreamFunc adapts a plain function to the Stream interface.
type StreamFunc func(ctx context.Context) ([]byte, error)

func (f StreamFunc) Next(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

// Kind is the shape of a response body descriptor.
type Kind uint8

const (
	KindEmpty Kind = iota
	KindFixed
	KindSized
	KindChunked
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindFixed:
		return "fixed"
	case KindSized:
		return "sized"
	case KindChunked:
		return "chunked"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Body describes the payload of a response before it is framed on the wire.
// The zero value is an empty body.
type Body struct {
	kind   Kind
	data   []byte
	size   int64
	stream Stream
}

// Empty returns a body without any bytes.
func Empty() Body {
	return Body{kind: KindEmpty}
}

// Fixed returns a body whose bytes are fully known up front.
func Fixed(b []byte) Body {
	return Body{kind: KindFixed, data: b, size: int64(len(b))}
}

// Sized returns a streamed body whose exact length is declared in advance.
// The stream must yield exactly n bytes.
func Sized(n int64, s Stream) Body {
	if s == nil {
		s = None()
	}
	return Body{kind: KindSized, size: n, stream: s}
}

// Chunked returns a streamed body of unknown length.
func Chunked(s Stream) Body {
	if s == nil {
		s = None()
	}
	return Body{kind: KindChunked, size: -1, stream: s}
}

func (b Body) Kind() Kind {
	return b.kind
}

// Len is the number of bytes the body will produce, or -1 when unknown.
func (b Body) Len() int64 {
	switch b.kind {
	case KindEmpty:
		return 0
	case KindChunked:
		return -1
	default:
		return b.size
	}
}

// Bytes returns the buffer of a Fixed body and nil for every other kind.
func (b Body) Bytes() []byte {
	if b.kind != KindFixed {
		return nil
	}
	return b.data
}

// Stream returns a stream over the body regardless of its kind.
func (b Body) Stream() Stream {
	switch b.kind {
	case KindFixed:
		return Once(b.data)
	case KindSized, KindChunked:
		return b.stream
	default:
		return None()
	}
}

func (b Body) String() string {
	if b.kind == KindChunked {
		return b.kind.String()
	}
	return fmt.Sprintf("%s(%d)", b.kind, b.Len())
}
