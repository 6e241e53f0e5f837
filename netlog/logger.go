// Package netlog defines the logging capability consumed by the rest of the
// module. The teacher implementation (grailbio/go-dicom's dicomlog) reaches a
// package-level Vprintf from anywhere in the call graph; this core never
// does that — every component that logs takes a Logger field, defaulted to
// Nop(), so the core stays free of ambient state.
package netlog

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger is the minimal structured-logging capability the DUL engine and
// SCU orchestrator depend on. kv is an even-length list of alternating
// key/value pairs, mirroring zerolog's field style without leaking the
// zerolog type into call sites.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, err error, kv ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any)        {}
func (nopLogger) Info(string, ...any)         {}
func (nopLogger) Warn(string, ...any)         {}
func (nopLogger) Error(string, error, ...any) {}

// Nop returns a Logger that discards everything. It is the default for
// every component in this module.
func Nop() Logger { return nopLogger{} }

// zerologAdapter backs Logger with github.com/rs/zerolog, the structured
// logging library used by the OtchereDev-ris-dicom-connector reference
// service.
type zerologAdapter struct {
	l zerolog.Logger
}

// NewZerolog wraps an existing zerolog.Logger as a Logger.
func NewZerolog(l zerolog.Logger) Logger {
	return zerologAdapter{l: l}
}

// Default returns a zerolog-backed Logger writing leveled JSON to stderr,
// suitable for production use by an embedding application.
func Default() Logger {
	l := zerolog.New(os.Stderr).With().Timestamp().Logger()
	return NewZerolog(l)
}

func withFields(e *zerolog.Event, kv []any) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	return e
}

func (a zerologAdapter) Debug(msg string, kv ...any) {
	withFields(a.l.Debug(), kv).Msg(msg)
}

func (a zerologAdapter) Info(msg string, kv ...any) {
	withFields(a.l.Info(), kv).Msg(msg)
}

func (a zerologAdapter) Warn(msg string, kv ...any) {
	withFields(a.l.Warn(), kv).Msg(msg)
}

func (a zerologAdapter) Error(msg string, err error, kv ...any) {
	withFields(a.l.Error().Err(err), kv).Msg(msg)
}
