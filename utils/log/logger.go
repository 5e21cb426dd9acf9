// Package log builds the zap logger used by the cli and the server.
package log

import (
	"fmt"
	"io"
	"os"
	"time"

	"go.keploy.io/httpengine/utils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Emoji = "\U0001F310" + " httpengine:"

// LogCfg is the configuration the current logger was built from.
var LogCfg zap.Config

var (
	consoleWriter io.Writer = os.Stdout
	logFile       *os.File
	plain         bool
	osOpenFile    = os.OpenFile
)

// SetConsoleWriter redirects console output, mostly for tests.
func SetConsoleWriter(w io.Writer) {
	consoleWriter = w
}

// New builds the default logger. Entries go to the console and are
// appended to utils.LogFilePath.
func New() (*zap.Logger, *os.File, error) {
	LogCfg = zap.NewDevelopmentConfig()
	LogCfg.EncoderConfig.EncodeTime = customTimeEncoder
	LogCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	LogCfg.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	LogCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	LogCfg.DisableStacktrace = true
	LogCfg.EncoderConfig.EncodeCaller = nil

	f, err := osOpenFile(utils.LogFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open the log file: %w", err)
	}
	logFile = f
	return build(nil), f, nil
}

// DisableANSI turns off colored levels and strips escape sequences from
// messages. Loggers built afterwards are affected.
func DisableANSI() {
	plain = true
	LogCfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
}

func ChangeLogLevel(level zapcore.Level) (*zap.Logger, error) {
	LogCfg.Level = zap.NewAtomicLevelAt(level)
	if level == zap.DebugLevel {
		LogCfg.DisableStacktrace = false
		LogCfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	}
	return build(nil), nil
}

func build(wrap func(zapcore.Core) zapcore.Core) *zap.Logger {
	sinks := []zapcore.WriteSyncer{zapcore.AddSync(consoleWriter)}
	if logFile != nil {
		sinks = append(sinks, zapcore.AddSync(logFile))
	}
	level := LogCfg.Level
	if level == (zap.AtomicLevel{}) {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	var core zapcore.Core = zapcore.NewCore(NewColor(LogCfg.EncoderConfig, plain), zapcore.NewMultiWriteSyncer(sinks...), level)
	if wrap != nil {
		core = wrap(core)
	}

	var opts []zap.Option
	if !LogCfg.DisableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	if LogCfg.EncoderConfig.EncodeCaller != nil {
		opts = append(opts, zap.AddCaller())
	}
	return zap.New(core, opts...)
}

func customTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(Emoji + " " + t.Format(time.RFC3339) + " ")
}
