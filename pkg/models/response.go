package models

import (
	"net/http"

	"go.keploy.io/httpengine/pkg/body"
)

// Response is what a service returns. A zero Status means 200.
type Response struct {
	Status int
	Header Header
	Body   body.Body
}

func (r *Response) StatusCode() int {
	if r.Status == 0 {
		return http.StatusOK
	}
	return r.Status
}

// ResponseBuilder assembles a Response. Header calls may be chained; the
// body methods finish the builder.
type ResponseBuilder struct {
	status int
	header Header
	length int64
}

// NewBuilder starts a response with the given status.
func NewBuilder(status int) *ResponseBuilder {
	return &ResponseBuilder{status: status, length: -1}
}

// Ok starts a 200 response.
func Ok() *ResponseBuilder {
	return NewBuilder(http.StatusOK)
}

// Header appends a field, keeping any existing ones with the same name.
func (b *ResponseBuilder) Header(name, value string) *ResponseBuilder {
	b.header.Add(name, value)
	return b
}

// InsertHeader sets a field, replacing existing ones with the same name.
func (b *ResponseBuilder) InsertHeader(name, value string) *ResponseBuilder {
	b.header.Set(name, value)
	return b
}

func (b *ResponseBuilder) ContentType(value string) *ResponseBuilder {
	return b.InsertHeader("Content-Type", value)
}

// ContentLength declares the length of a body given later to Streaming.
// The engine computes Content-Length itself, so this is only a hint for
// streamed bodies.
func (b *ResponseBuilder) ContentLength(n int64) *ResponseBuilder {
	b.length = n
	return b
}

func (b *ResponseBuilder) Body(p []byte) *Response {
	if len(p) == 0 {
		return b.build(body.Empty())
	}
	return b.build(body.Fixed(p))
}

func (b *ResponseBuilder) BodyString(s string) *Response {
	return b.Body([]byte(s))
}

// Streaming sends s with chunked framing, or as a sized body when a length
// was declared with ContentLength.
func (b *ResponseBuilder) Streaming(s body.Stream) *Response {
	if b.length >= 0 {
		return b.build(body.Sized(b.length, s))
	}
	return b.build(body.Chunked(s))
}

// Sized sends s as a body of exactly n bytes.
func (b *ResponseBuilder) Sized(n int64, s body.Stream) *Response {
	return b.build(body.Sized(n, s))
}

// Finish completes the response without a body.
func (b *ResponseBuilder) Finish() *Response {
	return b.build(body.Empty())
}

func (b *ResponseBuilder) build(bd body.Body) *Response {
	return &Response{Status: b.status, Header: b.header, Body: bd}
}
