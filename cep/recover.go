package cep

import (
	"fmt"
	"runtime/debug"

	"github.com/fxsml/gopipe-cep/message"
)

// RecoveryError is reported to a consumer's ErrorHandler when its Processor
// panics on the engine's dispatch goroutine.
type RecoveryError struct {
	// PanicValue is what the processor panicked with.
	PanicValue any
	// StackTrace is the processor goroutine's stack at recovery.
	StackTrace string
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("cep: processor panicked: %v", e.PanicValue)
}

func recoverProcessor(proc Processor) Processor {
	return func(msg *message.Message) (err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			err = &RecoveryError{PanicValue: r, StackTrace: string(debug.Stack())}
		}()
		return proc(msg)
	}
}
