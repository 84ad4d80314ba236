package metadata

import "fmt"

// Fault is the panic-like value used for precondition violations: reads or
// writes beyond an object's bounds, unaligned writes, or operating on an
// uninitialized object. Spec design notes (§7, §9) distinguish these —
// fatal at the call site — from transient RPC failures and protocol
// errors, which are returned as ordinary errors instead.
type Fault struct {
	Op  string
	Msg string
}

// Error satisfies the error interface so a recovered Fault can still be
// logged or wrapped like any other error.
func (f Fault) Error() string {
	return f.Op + ": " + f.Msg
}

// Panic raises a Fault for op, formatting msg the way fmt.Errorf does.
// Callers that need to turn a precondition violation back into a normal
// error (e.g. at a CLI or RPC server boundary) recover and type-assert
// for Fault.
func Panic(op, format string, args ...any) {
	panic(Fault{Op: op, Msg: fmt.Sprintf(format, args...)})
}
