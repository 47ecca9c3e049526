// Package log provides the relay's leveled, colorized logger. Every
// subsystem prints through one of the package-level loggers (T, D, I, W, E,
// F) rather than calling the standard library log package directly, so
// verbosity can be tuned at runtime via utils/lol.
package log

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"

	"nightjar.dev/utils/lol"
)

type logger struct {
	level lol.Level
	tag   string
	col   *color.Color
}

func (l *logger) enabled() bool { return lol.Current() >= l.level }

// F prints a formatted message if the logger's level is enabled.
func (l *logger) F(format string, args ...any) {
	if !l.enabled() {
		return
	}
	l.write(fmt.Sprintf(format, args...))
}

// Ln prints its arguments space-joined, Println style.
func (l *logger) Ln(args ...any) {
	if !l.enabled() {
		return
	}
	l.write(fmt.Sprintln(args...))
}

// S dumps a value with %+v; intended for ad hoc structure inspection while
// debugging, never for hot paths.
func (l *logger) S(args ...any) {
	if !l.enabled() {
		return
	}
	for _, a := range args {
		l.write(fmt.Sprintf("%+v", a))
	}
}

// C evaluates fn only if the logger is enabled, so expensive message
// construction (e.g. serializing an event) is skipped entirely at low
// verbosity.
func (l *logger) C(fn func() string) {
	if !l.enabled() {
		return
	}
	l.write(fn())
}

func (l *logger) write(msg string) {
	ts := time.Now().Format("15:04:05.000")
	_, _ = l.col.Fprintf(os.Stderr, "%s %s %s\n", ts, l.tag, msg)
}

var (
	// F is for fatal conditions; the process should not continue.
	F = &logger{level: lol.Fatal, tag: "FTL", col: color.New(color.FgHiRed, color.Bold)}
	// E is for recoverable errors worth an operator's attention.
	E = &logger{level: lol.Error, tag: "ERR", col: color.New(color.FgRed)}
	// W is for warnings: unusual but handled conditions.
	W = &logger{level: lol.Warn, tag: "WRN", col: color.New(color.FgYellow)}
	// I is for routine operational messages.
	I = &logger{level: lol.Info, tag: "INF", col: color.New(color.FgGreen)}
	// D is for developer diagnostics.
	D = &logger{level: lol.Debug, tag: "DBG", col: color.New(color.FgCyan)}
	// T is for high volume tracing, one line per frame/query.
	T = &logger{level: lol.Trace, tag: "TRC", col: color.New(color.FgHiBlack)}
)
