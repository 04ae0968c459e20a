// Package kfmt provides the kernel log and the kernel panic handler.
package kfmt

import (
	"io"
	"log/slog"
	"sync"

	"gophervm/kernel"
)

var (
	// sinkMu serializes writes to the active sink with calls to
	// SetOutputSink. kernel/sync depends on this package for Panic so a
	// runtime mutex is used here.
	sinkMu sync.Mutex

	// earlyPrintBuffer is a ring buffer that stores log output before an
	// output sink is attached.
	earlyPrintBuffer ringBuffer

	// outputSink is a io.Writer where log records will be sent. If set to
	// nil, then the output will be redirected to the earlyPrintBuffer.
	outputSink io.Writer

	logLevel = new(slog.LevelVar)

	kernelLogger = slog.New(slog.NewTextHandler(sinkWriter{}, &slog.HandlerOptions{Level: logLevel}))

	errUnknownLevel = &kernel.Error{Module: "kfmt", Message: "unknown log level; falling back to INFO"}
)

// sinkWriter forwards handler output to the currently active sink.
type sinkWriter struct{}

func (sinkWriter) Write(p []byte) (int, error) {
	sinkMu.Lock()
	defer sinkMu.Unlock()

	if outputSink == nil {
		return earlyPrintBuffer.Write(p)
	}
	return outputSink.Write(p)
}

// SetOutputSink sets the target for all kernel log records to w and copies
// any data accumulated in the earlyPrintBuffer to it. Passing a nil writer
// redirects output back to the early ring buffer.
func SetOutputSink(w io.Writer) {
	sinkMu.Lock()
	defer sinkMu.Unlock()

	outputSink = w
	if w != nil {
		_, _ = io.Copy(w, &earlyPrintBuffer)
	}
}

// SetLevel sets the minimum level of records emitted by the kernel log.
func SetLevel(level slog.Level) {
	logLevel.Set(level)
}

// ParseLevel converts a config level string (DEBUG, INFO, WARN or ERROR) to
// a slog.Level. Unknown strings map to slog.LevelInfo and an error.
func ParseLevel(level string) (slog.Level, *kernel.Error) {
	switch level {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errUnknownLevel
	}
}

// Logger returns a kernel logger that tags each record with the supplied
// module name.
func Logger(module string) *slog.Logger {
	return kernelLogger.With("module", module)
}
