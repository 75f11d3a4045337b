package websocket

import (
	"fmt"

	"golang.org/x/xerrors"
)

// HandshakeError is returned when the opening HTTP handshake fails, on
// either the client (Dial) or server (Accept) side: a bad request line,
// a non 101 status, a missing or mismatched header, an unoffered
// subprotocol, an unsupported extension, or a reserved extra header name.
type HandshakeError struct {
	err error
}

func (e *HandshakeError) Error() string { return e.err.Error() }
func (e *HandshakeError) Unwrap() error { return e.err }

func newHandshakeError(format string, v ...interface{}) error {
	return &HandshakeError{err: xerrors.Errorf(format, v...)}
}

// ProtocolError is returned when the peer violates RFC 6455. It carries
// the close code that was, or would have been, sent to the peer because
// of the violation.
type ProtocolError struct {
	Code StatusCode
	err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error (close %v): %v", e.Code, e.err)
}
func (e *ProtocolError) Unwrap() error { return e.err }

func newProtocolError(code StatusCode, format string, v ...interface{}) *ProtocolError {
	return &ProtocolError{Code: code, err: xerrors.Errorf(format, v...)}
}

// IOError is returned when the underlying transport fails outside of a
// clean close handshake, e.g. a read/write timeout or a dropped
// connection. CloseStatus on an error wrapping it reports
// statusAbnormalClosure (1006) rather than a code read off the wire.
type IOError struct {
	err error
}

func (e *IOError) Error() string { return e.err.Error() }
func (e *IOError) Unwrap() error { return e.err }

func newIOError(err error) *IOError {
	return &IOError{err: err}
}

// StateError is returned when an operation is not valid given the
// connection's current state, such as writing to a connection that has
// already sent or received a close frame.
type StateError struct {
	err error
}

func (e *StateError) Error() string { return e.err.Error() }
func (e *StateError) Unwrap() error { return e.err }

func newStateError(format string, v ...interface{}) *StateError {
	return &StateError{err: xerrors.Errorf(format, v...)}
}
