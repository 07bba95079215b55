package vm

import "fmt"

// Chunk malformedness, detected at load. A failed load leaves the VM usable
// for a subsequent Load.
var (
	ErrBadSignature   = fmt.Errorf("bad chunk signature")
	ErrBadVersion     = fmt.Errorf("unsupported bytecode version")
	ErrBadFormat      = fmt.Errorf("unsupported bytecode format")
	ErrBadConvData    = fmt.Errorf("conversion marker mismatch")
	ErrBadSizes       = fmt.Errorf("unsupported type sizes")
	ErrBadEndianness  = fmt.Errorf("integer sentinel matches neither byte order")
	ErrBadNumberCheck = fmt.Errorf("float sentinel mismatch")
	ErrBadConstant    = fmt.Errorf("unknown constant tag")
	ErrBadCount       = fmt.Errorf("implausible count field")
	ErrTruncatedChunk = fmt.Errorf("truncated chunk")
	ErrActiveFrame    = fmt.Errorf("cannot load while a call is active")
)

// RuntimeError is a Lua-level fault (calling a non-function, stack overflow).
// It travels as a panic value inside the interpreter and is recovered into a
// plain error at the Call boundary; pool and stack state stay intact.
type RuntimeError struct {
	Msg string
}

func (e *RuntimeError) Error() string { return "runtime error: " + e.Msg }

// fault raises a RuntimeError out of the interpreter.
func (vm *VM) fault(format string, args ...interface{}) {
	panic(&RuntimeError{Msg: fmt.Sprintf(format, args...)})
}
