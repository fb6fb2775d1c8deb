package samp

import "errors"

// Sentinel errors for the failure classes surfaced by hub operations.
// Hub handlers map these onto wire fault codes and clients map the codes
// back, so errors.Is works identically on both sides of the connection.
var (
	ErrAuth          = errors.New("private key not recognized")
	ErrNotFound      = errors.New("no such registered client")
	ErrNotSubscribed = errors.New("recipient not subscribed to mtype")
	ErrBind          = errors.New("cannot bind hub endpoint")
	ErrConnect       = errors.New("cannot contact hub")
	ErrTimeout       = errors.New("call timed out")
	ErrShutdown      = errors.New("hub is shutting down")
	ErrMalformed     = errors.New("malformed message")
)

// Fault codes carried on the wire. The numbering is part of the protocol
// surface and must stay stable across releases.
const (
	FaultGeneric       = 1
	FaultAuth          = 2
	FaultNotFound      = 3
	FaultNotSubscribed = 4
	FaultTimeout       = 5
	FaultShutdown      = 6
	FaultMalformed     = 7
)

// FaultCode returns the wire fault code for err. Errors outside the
// sentinel taxonomy report FaultGeneric.
func FaultCode(err error) int {
	switch {
	case errors.Is(err, ErrAuth):
		return FaultAuth
	case errors.Is(err, ErrNotFound):
		return FaultNotFound
	case errors.Is(err, ErrNotSubscribed):
		return FaultNotSubscribed
	case errors.Is(err, ErrTimeout):
		return FaultTimeout
	case errors.Is(err, ErrShutdown):
		return FaultShutdown
	case errors.Is(err, ErrMalformed):
		return FaultMalformed
	default:
		return FaultGeneric
	}
}

// remoteError reports a hub-side failure with the hub's own wording while
// unwrapping to the matching sentinel.
type remoteError struct {
	kind error
	text string
}

func (e *remoteError) Error() string { return e.text }

func (e *remoteError) Unwrap() error { return e.kind }

// FaultError reconstructs an error from a wire fault. The returned error
// carries the remote fault text and unwraps to the sentinel matching the
// code, so callers can test it with errors.Is.
func FaultError(code int, text string) error {
	var kind error
	switch code {
	case FaultAuth:
		kind = ErrAuth
	case FaultNotFound:
		kind = ErrNotFound
	case FaultNotSubscribed:
		kind = ErrNotSubscribed
	case FaultTimeout:
		kind = ErrTimeout
	case FaultShutdown:
		kind = ErrShutdown
	case FaultMalformed:
		kind = ErrMalformed
	default:
		return errors.New(text)
	}
	return &remoteError{kind: kind, text: text}
}
