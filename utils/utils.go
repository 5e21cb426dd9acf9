// Package utils provides helpers shared by the engine and the cli.
package utils

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/cloudflare/cfssl/log"
	sentry "github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

var Emoji = "\U0001F310" + " httpengine:"

var Version string

// LogFilePath is attached to crash reports when present.
var LogFilePath = "./httpengine-logs.txt"

// LogError logs err at error level. Cancellation is expected during
// shutdown and is not logged.
func LogError(logger *zap.Logger, err error, msg string, fields ...zap.Field) {
	if logger == nil || errors.Is(err, context.Canceled) {
		return
	}
	logger.Error(msg, append(fields, zap.Error(err))...)
}

// IsClosedConnError reports whether err only says that the peer went away.
// Such errors are part of normal connection teardown.
func IsClosedConnError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	// crypto/tls does not wrap the underlying error on close_notify races.
	return strings.Contains(err.Error(), "use of closed network connection")
}

// LogConnError logs a connection failure: at debug level for ordinary
// teardown, at error level otherwise.
func LogConnError(logger *zap.Logger, err error, msg string, fields ...zap.Field) {
	if err == nil || logger == nil {
		return
	}
	if IsClosedConnError(err) || errors.Is(err, context.Canceled) {
		logger.Debug(msg, append(fields, zap.Error(err))...)
		return
	}
	LogError(logger, err, msg, fields...)
}

func CheckFileExists(path string) bool {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false
	}
	return true
}

func attachLogFileToSentry(logFilePath string) {
	content, err := os.ReadFile(logFilePath)
	if err != nil {
		return
	}
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetExtra("logfile", string(content))
	})
	sentry.Flush(time.Second * 5)
}

// HandlePanic reports a panic of the calling goroutine to sentry. It must be
// deferred directly.
func HandlePanic() {
	if r := recover(); r != nil {
		attachLogFileToSentry(LogFilePath)
		sentry.CaptureException(errors.New(fmt.Sprint(r)))
		stackTrace := debug.Stack()

		log.Error(Emoji+"Recovered from:", r, "\nstack trace:\n", string(stackTrace))
		sentry.Flush(time.Second * 2)
	}
}
