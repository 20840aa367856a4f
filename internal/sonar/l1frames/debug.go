package l1frames

import (
	"io"
	"log"
)

var (
	diagLogger  *log.Logger
	traceLogger *log.Logger
)

// SetLogWriters configures the logging streams for the l1frames package.
// Framing problems are never actionable on their own, so there is no ops
// stream here; the pipeline reports sustained desync instead.
// Pass nil for any writer to disable that stream.
func SetLogWriters(diag, trace io.Writer) {
	diagLogger = newLogger("[l1frames] ", diag)
	traceLogger = newLogger("[l1frames] ", trace)
}

func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// diagf logs to the diag stream (resync events, checksum failures).
func diagf(format string, args ...interface{}) {
	if diagLogger != nil {
		diagLogger.Printf(format, args...)
	}
}

// tracef logs to the trace stream (one line per decoded frame).
func tracef(format string, args ...interface{}) {
	if traceLogger != nil {
		traceLogger.Printf(format, args...)
	}
}
