package kmain

import (
	"io"
	"os"

	"gophervm/kernel"
	"gophervm/kernel/kfmt"
)

// initLogger attaches the kernel log to stdout and, if logFile is set, to
// the end of logFile. The returned function detaches the log and closes the
// log file.
func initLogger(logFile, logLevel string) (func(), *kernel.Error) {
	var (
		w       io.Writer = os.Stdout
		closeFn           = func() { kfmt.SetOutputSink(nil) }
	)

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0666)
		if err != nil {
			return nil, &kernel.Error{Module: "kmain", Message: err.Error()}
		}

		w = io.MultiWriter(os.Stdout, f)
		closeFn = func() {
			kfmt.SetOutputSink(nil)
			_ = f.Close()
		}
	}

	level, err := kfmt.ParseLevel(logLevel)
	kfmt.SetLevel(level)
	kfmt.SetOutputSink(w)

	if err != nil {
		log.Warn(err.Message, "level", logLevel)
	}

	return closeFn, nil
}
