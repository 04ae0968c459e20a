package kfmt

import (
	"gophervm/kernel"
)

var (
	// haltFn is invoked by Panic once the error has been logged. The hosted
	// kernel halts the calling kernel thread by unwinding it with a Go
	// panic that carries the *kernel.Error. It is mocked by tests.
	haltFn = func(err *kernel.Error) { panic(err) }

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// Panic logs the supplied error (if not nil) and halts the calling kernel
// thread. Calls to Panic never return.
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		err = &kernel.Error{Module: errRuntimePanic.Module, Message: t}
	case error:
		err = &kernel.Error{Module: errRuntimePanic.Module, Message: t.Error()}
	}

	if err != nil {
		kernelLogger.Error("unrecoverable error", "module", err.Module, "err", err.Message)
	} else {
		err = errRuntimePanic
	}
	kernelLogger.Error("*** kernel panic: system halted ***")

	haltFn(err)
}
