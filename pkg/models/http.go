package models

import (
	"fmt"
	"strings"
)

// Version is the HTTP protocol version of an exchange.
type Version uint8

const (
	HTTP10 Version = iota + 1
	HTTP11
	HTTP20
)

func (v Version) String() string {
	switch v {
	case HTTP10:
		return "HTTP/1.0"
	case HTTP11:
		return "HTTP/1.1"
	case HTTP20:
		return "HTTP/2.0"
	default:
		return fmt.Sprintf("HTTP/?(%d)", uint8(v))
	}
}

// ParseVersion maps protocol major/minor numbers to a Version.
func ParseVersion(major, minor int) (Version, error) {
	switch {
	case major == 1 && minor == 0:
		return HTTP10, nil
	case major == 1 && minor == 1:
		return HTTP11, nil
	case major == 2 && minor == 0:
		return HTTP20, nil
	}
	return 0, fmt.Errorf("unsupported protocol version %d.%d", major, minor)
}

type Method string

const (
	MethodGet     Method = "GET"
	MethodHead    Method = "HEAD"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodPatch   Method = "PATCH"
	MethodDelete  Method = "DELETE"
	MethodOptions Method = "OPTIONS"
	MethodConnect Method = "CONNECT"
	MethodTrace   Method = "TRACE"
)

// IsHead reports whether m is HEAD. Methods are case sensitive.
func (m Method) IsHead() bool {
	return m == MethodHead
}

func (m Method) String() string {
	return string(m)
}

// NormalizeMethod trims surrounding whitespace; HTTP methods keep their case.
func NormalizeMethod(s string) Method {
	return Method(strings.TrimSpace(s))
}
