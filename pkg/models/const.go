package models

import (
	"fmt"

	"github.com/fatih/color"
)

// ALPN protocol identifiers offered during the TLS handshake.
const (
	ALPNHTTP2  string = "h2"
	ALPNHTTP11 string = "http/1.1"
)

const (
	ServerName    string = "httpengine"
	DefaultScheme string = "https"
)

var orangeColorSGR = []color.Attribute{38, 5, 208}

var IsAnsiDisabled = false

var HighlightString = func(a ...interface{}) string {
	if IsAnsiDisabled {
		return fmt.Sprint(a...)
	}
	return color.New(orangeColorSGR...).SprintFunc()(a...)
}

var HighlightGrayString = func(a ...interface{}) string {
	if IsAnsiDisabled {
		return fmt.Sprint(a...)
	}
	return color.New(color.FgHiBlack).SprintFunc()(a...)
}
