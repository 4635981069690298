package vm

import (
	"errors"
	"fmt"
	"strings"
)

// InterpretResult classifies the outcome of running a program.
type InterpretResult int

const (
	InterpretOK InterpretResult = iota
	InterpretCompileError
	InterpretRuntimeError
)

func (r InterpretResult) String() string {
	switch r {
	case InterpretOK:
		return "ok"
	case InterpretCompileError:
		return "compile error"
	case InterpretRuntimeError:
		return "runtime error"
	default:
		return fmt.Sprintf("InterpretResult(%d)", int(r))
	}
}

// ErrNoCompiler is returned by Interpret when no compiler backend is set.
var ErrNoCompiler = errors.New("vm: no compiler configured")

// TraceFrame is one line of a runtime stack trace.
type TraceFrame struct {
	Line     int
	Function string // "name()" or "script"
}

// RuntimeError aborts interpretation of the current program. Trace lists
// the active calls, innermost first.
type RuntimeError struct {
	Message string
	Trace   []TraceFrame
}

func (e *RuntimeError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	for _, f := range e.Trace {
		sb.WriteString(fmt.Sprintf("\n[line %d] in %s", f.Line, f.Function))
	}
	return sb.String()
}

// Line returns the source line of the innermost frame, or 0.
func (e *RuntimeError) Line() int {
	if len(e.Trace) == 0 {
		return 0
	}
	return e.Trace[0].Line
}

// IsRuntimeError reports whether err is or wraps a *RuntimeError.
func IsRuntimeError(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re)
}

// stackOverflow is raised by push when the value stack is exhausted and
// recovered by run.
type stackOverflow struct{}

// runtimeError builds a RuntimeError carrying the current call stack and
// resets the VM so it can be reused.
func (v *VM) runtimeError(format string, args ...any) *RuntimeError {
	err := &RuntimeError{Message: fmt.Sprintf(format, args...)}
	for i := v.frameCount - 1; i >= 0; i-- {
		frame := &v.frames[i]
		fn := frame.closure.Function
		err.Trace = append(err.Trace, TraceFrame{
			Line:     fn.Chunk.LineAt(frame.ip - 1),
			Function: fn.DisplayName(),
		})
	}
	v.log.Debugf("runtime error: %s", err.Message)
	v.resetStack()
	return err
}
