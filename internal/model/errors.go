package model

// Error is the error type of the tracker's sentinel errors.
type Error struct {
	msg string
}

func (e *Error) Error() string { return e.msg }

// NewError returns a sentinel error with the given message.
func NewError(msg string) *Error { return &Error{msg: msg} }

var (
	ErrInvalidArgument = NewError("invalid argument")
	ErrInvalidHandle   = NewError("invalid handle")
	ErrAlreadyStopped  = NewError("tracking already stopped")
	ErrMalformedValue  = NewError("malformed value")
	ErrInternal        = NewError("internal error")
)
