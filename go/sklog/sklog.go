// Package sklog offers a module-level structured logging facade backed by
// zerolog. Every dispatcher component logs through the package-level
// functions (Infof, Errorf, ...) rather than importing zerolog directly, so
// the backing logger can be swapped (e.g. for tests) without touching call
// sites.
package sklog

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	DEBUG    = "DEBUG"
	INFO     = "INFO"
	NOTICE   = "NOTICE"
	WARNING  = "WARNING"
	ERROR    = "ERROR"
	CRITICAL = "CRITICAL"
	ALERT    = "ALERT"
)

// MetricsCallback is invoked once per log call with the severity seen, so
// callers can wire in counters without sklog depending on a metrics package.
type MetricsCallback func(severity string)

var (
	mtx    sync.RWMutex
	logger zerolog.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

	sawLogWithSeverity MetricsCallback = func(s string) {}

	// AllSeverities is the list of all severities that sklog supports.
	AllSeverities = []string{DEBUG, INFO, NOTICE, WARNING, ERROR, CRITICAL, ALERT}
)

// SetOutput redirects the module-level logger to w, e.g. for tests that
// want to assert on log contents.
func SetOutput(w io.Writer) {
	mtx.Lock()
	defer mtx.Unlock()
	logger = zerolog.New(w).With().Timestamp().Logger()
}

// SetMetricsCallback installs a callback invoked with the severity of every
// log line, breaking the dependency cycle a real metrics package would
// otherwise create with sklog.
func SetMetricsCallback(cb MetricsCallback) {
	mtx.Lock()
	defer mtx.Unlock()
	sawLogWithSeverity = cb
}

func current() zerolog.Logger {
	mtx.RLock()
	defer mtx.RUnlock()
	return logger
}

func noted(sev string) {
	mtx.RLock()
	cb := sawLogWithSeverity
	mtx.RUnlock()
	cb(sev)
}

func withCaller(depth int) (string, int) {
	_, file, line, ok := runtime.Caller(depth)
	if !ok {
		return "???", 0
	}
	if slash := strings.LastIndex(file, "/"); slash >= 0 {
		file = file[slash+1:]
	}
	return file, line
}

func log(depthOffset int, ev *zerolog.Event, sev, msg string) {
	file, line := withCaller(3 + depthOffset)
	ev.Str("caller", fmt.Sprintf("%s:%d", file, line)).Msg(msg)
	noted(sev)
}

func Debug(msg ...interface{})                 { log(0, current().Debug(), DEBUG, fmt.Sprint(msg...)) }
func Debugf(format string, v ...interface{})   { log(0, current().Debug(), DEBUG, fmt.Sprintf(format, v...)) }
func DebugfWithDepth(depth int, format string, v ...interface{}) {
	log(depth, current().Debug(), DEBUG, fmt.Sprintf(format, v...))
}

func Info(msg ...interface{})               { log(0, current().Info(), INFO, fmt.Sprint(msg...)) }
func Infof(format string, v ...interface{}) { log(0, current().Info(), INFO, fmt.Sprintf(format, v...)) }
func InfofWithDepth(depth int, format string, v ...interface{}) {
	log(depth, current().Info(), INFO, fmt.Sprintf(format, v...))
}

func Warning(msg ...interface{}) { log(0, current().Warn(), WARNING, fmt.Sprint(msg...)) }
func Warningf(format string, v ...interface{}) {
	log(0, current().Warn(), WARNING, fmt.Sprintf(format, v...))
}
func WarningfWithDepth(depth int, format string, v ...interface{}) {
	log(depth, current().Warn(), WARNING, fmt.Sprintf(format, v...))
}

func Error(msg ...interface{}) { log(0, current().Error(), ERROR, fmt.Sprint(msg...)) }
func Errorf(format string, v ...interface{}) {
	log(0, current().Error(), ERROR, fmt.Sprintf(format, v...))
}
func ErrorfWithDepth(depth int, format string, v ...interface{}) {
	log(depth, current().Error(), ERROR, fmt.Sprintf(format, v...))
}

// Fatal logs at ALERT and panics. The dispatcher itself never calls this --
// it is reserved for ambient-stack entrypoints (cmd/pixidispatch) that want
// glog-like fail-fast semantics.
func Fatal(msg ...interface{}) {
	log(0, current().Error(), ALERT, fmt.Sprint(msg...))
	panic(fmt.Sprint(msg...))
}

func Fatalf(format string, v ...interface{}) {
	log(0, current().Error(), ALERT, fmt.Sprintf(format, v...))
	panic(fmt.Sprintf(format, v...))
}

// StackTrace is a single file:line frame, kept for callers that want to
// render a caret-style diagnostic rather than just a formatted message.
type StackTrace struct {
	File string
	Line int
}

func (st *StackTrace) String() string {
	return fmt.Sprintf("%s:%d", st.File, st.Line)
}

// CallStack returns height frames of the current stack ("???" past its
// end). startAt is the runtime.Caller depth seen from an internal helper,
// so startAt 2 is the function that called CallStack.
func CallStack(height, startAt int) []StackTrace {
	stack := make([]StackTrace, 0, height)
	for i := 0; i < height; i++ {
		file, line := withCaller(startAt + i)
		stack = append(stack, StackTrace{File: file, Line: line})
	}
	return stack
}
