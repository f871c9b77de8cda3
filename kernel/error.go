package kernel

// Error describes a kernel error. Kernel errors are declared as global
// variables that point to an Error value so that reporting them never
// requires a memory allocation; this also allows callers to compare errors
// by pointer.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// String returns the error message prefixed with the originating module
// name, e.g. "[frame_pool] out of memory".
func (e *Error) String() string {
	return "[" + e.Module + "] " + e.Message
}
