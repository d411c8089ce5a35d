package logging

import (
	"fmt"
	"io"
	"os"
	"time"
)

// EarlyLog reports startup failures before the configured logger exists.
type EarlyLog struct {
	out io.Writer
	now func() time.Time
}

func NewEarlyLog() *EarlyLog {
	return NewEarlyLogTo(os.Stderr)
}

func NewEarlyLogTo(w io.Writer) *EarlyLog {
	return &EarlyLog{out: w, now: time.Now}
}

func (l *EarlyLog) Error(msg string, args ...interface{}) {
	l.write("error", msg, args...)
}

func (l *EarlyLog) Warn(msg string, args ...interface{}) {
	l.write("warn", msg, args...)
}

func (l *EarlyLog) Info(msg string, args ...interface{}) {
	l.write("info", msg, args...)
}

func (l *EarlyLog) write(level, msg string, args ...interface{}) {
	fmt.Fprintf(l.out, "%s\t%s\t%s\n", l.now().UTC().Format(time.RFC3339), level, fmt.Sprintf(msg, args...))
}
