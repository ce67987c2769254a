// Package rtlog provides a simple leveled logging sink for the runtime.
//
// It follows the same shape as most operator-facing daemons: no
// structured fields, no timestamps (the process supervisor adds those),
// just a prefix per level and an io.Writer per level that can be
// redirected or silenced independently. This keeps every component in
// the core free of a hard dependency on a specific logging library; the
// application embedding this module may replace the writers wholesale.
package rtlog

import (
	"fmt"
	"io"
	"os"
)

var (
	DebugWriter io.Writer = os.Stderr
	InfoWriter  io.Writer = os.Stderr
	WarnWriter  io.Writer = os.Stderr
	ErrorWriter io.Writer = os.Stderr
)

var (
	DebugPrefix = "<7>[DEBUG]   "
	InfoPrefix  = "<6>[INFO]    "
	WarnPrefix  = "<4>[WARNING] "
	ErrPrefix   = "<3>[ERROR]   "
	FatalPrefix = "<3>[FATAL]   "
)

// SetLevel silences every writer below lvl ("debug", "info", "warn", "err").
func SetLevel(lvl string) {
	switch lvl {
	case "err", "fatal":
		WarnWriter = io.Discard
		fallthrough
	case "warn":
		InfoWriter = io.Discard
		fallthrough
	case "info":
		DebugWriter = io.Discard
	case "debug":
		// nothing discarded
	default:
		Warnf("rtlog: unknown level %q, leaving at debug", lvl)
	}
}

func Debug(v ...any) { emit(DebugWriter, DebugPrefix, v...) }
func Info(v ...any)  { emit(InfoWriter, InfoPrefix, v...) }
func Warn(v ...any)  { emit(WarnWriter, WarnPrefix, v...) }
func Error(v ...any) { emit(ErrorWriter, ErrPrefix, v...) }

func Fatal(v ...any) {
	emit(ErrorWriter, FatalPrefix, v...)
	os.Exit(1)
}

func Debugf(format string, v ...any) { emitf(DebugWriter, DebugPrefix, format, v...) }
func Infof(format string, v ...any)  { emitf(InfoWriter, InfoPrefix, format, v...) }
func Warnf(format string, v ...any)  { emitf(WarnWriter, WarnPrefix, format, v...) }
func Errorf(format string, v ...any) { emitf(ErrorWriter, ErrPrefix, format, v...) }

func Fatalf(format string, v ...any) {
	emitf(ErrorWriter, FatalPrefix, format, v...)
	os.Exit(1)
}

func emit(w io.Writer, prefix string, v ...any) {
	if w == io.Discard {
		return
	}
	fmt.Fprintln(w, append([]any{prefix}, v...)...)
}

func emitf(w io.Writer, prefix, format string, v ...any) {
	if w == io.Discard {
		return
	}
	fmt.Fprintf(w, prefix+format+"\n", v...)
}
