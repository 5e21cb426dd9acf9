package log

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger names used across the server. Children are joined with a dot,
// so "dispatch" covers "dispatch.h1" and "dispatch.h2".
const (
	ModuleServer   = "server"
	ModuleTLS      = "server.tls"
	ModuleDispatch = "dispatch"
	ModuleHTTP1    = "dispatch.h1"
	ModuleHTTP2    = "dispatch.h2"
	ModuleService  = "service"
)

// SetDebugModules rebuilds the logger at debug level with debug entries
// limited by logger name. A non-empty include list admits only the named
// modules and their children; otherwise every module except the excluded
// ones logs at debug. Info and above always pass.
func SetDebugModules(include, exclude []string) (*zap.Logger, error) {
	LogCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	include = normalize(include)
	exclude = normalize(exclude)
	if len(include) == 0 && len(exclude) == 0 {
		return build(nil), nil
	}
	return build(func(core zapcore.Core) zapcore.Core {
		return &moduleFilterCore{Core: core, include: include, exclude: exclude}
	}), nil
}

func normalize(modules []string) []string {
	out := modules[:0:0]
	for _, m := range modules {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}

func matches(name string, modules []string) bool {
	for _, m := range modules {
		if name == m || strings.HasPrefix(name, m+".") {
			return true
		}
	}
	return false
}

type moduleFilterCore struct {
	zapcore.Core
	include []string
	exclude []string
}

func (c *moduleFilterCore) allowed(name string) bool {
	if len(c.include) > 0 {
		return matches(name, c.include)
	}
	return !matches(name, c.exclude)
}

func (c *moduleFilterCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if entry.Level == zapcore.DebugLevel && !c.allowed(entry.LoggerName) {
		return ce
	}
	return c.Core.Check(entry, ce)
}

func (c *moduleFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &moduleFilterCore{Core: c.Core.With(fields), include: c.include, exclude: c.exclude}
}
