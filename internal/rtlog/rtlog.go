// Package rtlog is the structured-logging facade the rest of this runtime
// logs through: a thin wrapper over github.com/joeycumines/logiface, backed
// by github.com/joeycumines/izerolog's github.com/rs/zerolog adapter.
// Nothing outside this package imports zerolog or logiface directly, so the
// backend can be swapped (izerolog is one of several logiface adapters in
// the pack) without touching call sites.
package rtlog

import (
	"os"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

// Logger is a logiface logger bound to izerolog's event type; every call
// site builds and logs a Builder chain (Str/Int/Err fields, then Log/Logf).
type Logger = logiface.Logger[*izerolog.Event]

// Level re-exports logiface.Level so callers never need the logiface import
// just to name a level in Config.
type Level = logiface.Level

const (
	LevelDisabled Level = logiface.LevelDisabled
	LevelError    Level = logiface.LevelError
	LevelWarning  Level = logiface.LevelWarning
	LevelInfo     Level = logiface.LevelInformational
	LevelDebug    Level = logiface.LevelDebug
	LevelTrace    Level = logiface.LevelTrace
)

// ParseLevel maps a config string (per SPEC_FULL.md's "logging level"
// resolution) to a Level, defaulting to LevelInfo on an unrecognized name.
func ParseLevel(name string) Level {
	switch name {
	case "disabled", "off":
		return LevelDisabled
	case "error":
		return LevelError
	case "warn", "warning":
		return LevelWarning
	case "debug":
		return LevelDebug
	case "trace":
		return LevelTrace
	case "info", "":
		return LevelInfo
	default:
		return LevelInfo
	}
}

// New builds a Logger writing JSON lines to w (typically os.Stderr) at the
// given level, with a PE field attached to every event so a multi-process
// job's interleaved log stream stays attributable (spec.md §7: "every fatal
// error path logs ... the PE number").
func New(level Level, pe int) *Logger {
	z := zerolog.New(os.Stderr).With().Timestamp().Int("pe", pe).Logger()
	return logiface.New[*izerolog.Event](
		izerolog.WithZerolog(z),
		logiface.WithLevel[*izerolog.Event](level),
	)
}

// Discard builds a Logger with output silenced — used in tests that
// exercise init/fatal paths without expecting the real logging output.
func Discard(pe int) *Logger {
	z := zerolog.New(discardWriter{}).With().Int("pe", pe).Logger()
	return logiface.New[*izerolog.Event](
		izerolog.WithZerolog(z),
		logiface.WithLevel[*izerolog.Event](LevelDisabled),
	)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
