// Package log implements a key/value structured logger: the call-site
// shape log.Warn("msg", "k1", v1, ...) used throughout this codebase.
// Leveled methods take alternating key/value pairs; Root returns the
// process-wide logger and New returns a contextual child logger carrying
// extra key/values. See DESIGN.md for the grounding note.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	isatty "github.com/mattn/go-isatty"
)

// Level is a logging severity, ordered least to most severe output.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelCrit
)

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelCrit:
		return "CRIT"
	default:
		return "UNKNOWN"
	}
}

// Logger is the interface every package in this module logs through.
// Message string followed by alternating key/value pairs.
type Logger interface {
	Trace(msg string, ctx ...any)
	Debug(msg string, ctx ...any)
	Info(msg string, ctx ...any)
	Warn(msg string, ctx ...any)
	Error(msg string, ctx ...any)
	Crit(msg string, ctx ...any)
	With(ctx ...any) Logger
}

type logger struct {
	out    io.Writer
	mu     *sync.Mutex
	ctx    []any
	level  *int32
	colors bool
}

var rootLevel = int32(LevelInfo)

var root Logger = &logger{
	out:    colorable.NewColorable(os.Stderr),
	mu:     &sync.Mutex{},
	level:  &rootLevel,
	colors: isatty.IsTerminal(os.Stderr.Fd()),
}

// Root returns the module-wide root logger.
func Root() Logger { return root }

// New returns a child logger carrying additional context key/values,
// mirroring `log.New("module", "manager")` style call sites.
func New(ctx ...any) Logger {
	return root.With(ctx...)
}

// SetLevel adjusts the root logger's verbosity threshold (test helper and
// CLI wiring point, analogous to a glog-style Verbosity setting).
func SetLevel(l Level) {
	lg := root.(*logger)
	v := int32(l)
	*lg.level = v
}

func (l *logger) With(ctx ...any) Logger {
	merged := make([]any, 0, len(l.ctx)+len(ctx))
	merged = append(merged, l.ctx...)
	merged = append(merged, ctx...)
	return &logger{out: l.out, mu: l.mu, ctx: merged, level: l.level, colors: l.colors}
}

func (l *logger) log(lvl Level, msg string, ctx ...any) {
	if int32(lvl) < *l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprint(l.out, format(lvl, msg, append(append([]any{}, l.ctx...), ctx...)))
}

func format(lvl Level, msg string, ctx []any) string {
	ts := time.Now().Format("01-02|15:04:05.000")
	s := fmt.Sprintf("%-5s [%s] %s", lvl.String(), ts, msg)
	for i := 0; i+1 < len(ctx); i += 2 {
		s += fmt.Sprintf(" %v=%v", ctx[i], ctx[i+1])
	}
	if len(ctx)%2 == 1 {
		s += fmt.Sprintf(" %v=MISSING", ctx[len(ctx)-1])
	}
	return s + "\n"
}

func (l *logger) Trace(msg string, ctx ...any) { l.log(LevelTrace, msg, ctx...) }
func (l *logger) Debug(msg string, ctx ...any) { l.log(LevelDebug, msg, ctx...) }
func (l *logger) Info(msg string, ctx ...any)  { l.log(LevelInfo, msg, ctx...) }
func (l *logger) Warn(msg string, ctx ...any)  { l.log(LevelWarn, msg, ctx...) }
func (l *logger) Error(msg string, ctx ...any) { l.log(LevelError, msg, ctx...) }

// Crit logs at the fatal level and then calls os.Exit(1): reserved for
// unrecoverable, design-violation errors (reservation-after-destruction,
// hashing failure, missing hash). Call sites that need to keep running
// under test use panic() directly instead of Crit.
func (l *logger) Crit(msg string, ctx ...any) {
	l.log(LevelCrit, msg, ctx...)
	os.Exit(1)
}

// callerFrame returns a short "file:line" string for the immediate caller,
// used by subsystems that want to annotate a log line with its origin
// without pulling in the full stack trace (go-stack/stack is carried as a
// teacher dependency and used here rather than reimplementing runtime
// frame walking by hand).
func callerFrame(skip int) string {
	c := stack.Caller(skip + 1)
	return fmt.Sprintf("%+v", c)
}

// CallSite exposes callerFrame for packages that want to tag a log entry
// with its origin. No package in this module calls it.
func CallSite() string { return callerFrame(1) }
