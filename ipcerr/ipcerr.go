// Package ipcerr defines the error taxonomy shared by every layer of the
// runtime. Errors carry a Kind rather than relying on sentinel values or a
// deep type hierarchy, mirroring how gootp's CallError/Terminate structs
// carry a classification field instead of a class name.
package ipcerr

import "fmt"

// Kind classifies an Error without committing to a Go type per kind.
type Kind int

const (
	// Unspecified marks a required parameter that was not supplied.
	Unspecified Kind = iota
	// Tainted marks an untrusted string that failed validation.
	Tainted
	// NotifierIdNotUnique marks a (type,name) registration conflict.
	NotifierIdNotUnique
	// IoError wraps a syscall errno surfaced from read/write/watch.
	IoError
	// StreamClosing marks a write attempted on a closing stream.
	StreamClosing
	// EncodingUnknown marks a codec lookup failure.
	EncodingUnknown
	// WatcherCreateFailed marks an OS refusal to install a FS watch.
	WatcherCreateFailed
	// EventUnknown marks invoke_event given an unimplemented event name.
	EventUnknown
	// ClassLoadFailed marks a failed dynamic class/type resolution.
	ClassLoadFailed
)

func (k Kind) String() string {
	switch k {
	case Unspecified:
		return "Unspecified"
	case Tainted:
		return "Tainted"
	case NotifierIdNotUnique:
		return "NotifierIdNotUnique"
	case IoError:
		return "IoError"
	case StreamClosing:
		return "StreamClosing"
	case EncodingUnknown:
		return "EncodingUnknown"
	case WatcherCreateFailed:
		return "WatcherCreateFailed"
	case EventUnknown:
		return "EventUnknown"
	case ClassLoadFailed:
		return "ClassLoadFailed"
	default:
		return "Unknown"
	}
}

// Error is the single exception type the runtime raises. Message carries a
// template already interpolated with Args (kept around for logging), Level
// approximates the spec's "stack-depth level for the user error leader" —
// how many frames of internal plumbing a reporter should skip.
type Error struct {
	Kind    Kind
	Message string
	Args    []interface{}
	Level   int
	cause   error
}

func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Args: args}
}

func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Args: args, cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}
