package models

import "strings"

// Field is a single header line.
type Field struct {
	Name  string
	Value string
}

// Header is an ordered multimap of header fields. Names compare
// case-insensitively, repeated names keep every value in insertion order and
// are never folded into one line.
type Header struct {
	fields []Field
}

// NewHeader returns a header table holding the given fields in order.
func NewHeader(fields ...Field) Header {
	h := Header{}
	for _, f := range fields {
		h.Add(f.Name, f.Value)
	}
	return h
}

// Add appends a field.
func (h *Header) Add(name, value string) {
	h.fields = append(h.fields, Field{Name: name, Value: value})
}

// Set replaces every field named name with a single field. The new field
// takes the position of the first replaced one, or goes last.
func (h *Header) Set(name, value string) {
	idx := -1
	out := h.fields[:0]
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			if idx < 0 {
				idx = len(out)
				out = append(out, Field{Name: name, Value: value})
			}
			continue
		}
		out = append(out, f)
	}
	h.fields = out
	if idx < 0 {
		h.fields = append(h.fields, Field{Name: name, Value: value})
	}
}

// Get returns the first value for name, or "".
func (h Header) Get(name string) string {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Values returns every value for name in order.
func (h Header) Values(name string) []string {
	var out []string
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			out = append(out, f.Value)
		}
	}
	return out
}

func (h Header) Has(name string) bool {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

// Del removes every field named name.
func (h *Header) Del(name string) {
	out := h.fields[:0]
	for _, f := range h.fields {
		if !strings.EqualFold(f.Name, name) {
			out = append(out, f)
		}
	}
	for i := len(out); i < len(h.fields); i++ {
		h.fields[i] = Field{}
	}
	h.fields = out
}

// Len is the number of fields, counting repeated names separately.
func (h Header) Len() int {
	return len(h.fields)
}

// Fields returns the fields in order. The slice must not be modified.
func (h Header) Fields() []Field {
	return h.fields
}

func (h Header) Clone() Header {
	if h.fields == nil {
		return Header{}
	}
	out := make([]Field, len(h.fields))
	copy(out, h.fields)
	return Header{fields: out}
}
