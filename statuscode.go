package websocket

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"unicode/utf8"

	"golang.org/x/xerrors"
)

// StatusCode represents a WebSocket status code.
type StatusCode int

//go:generate go run golang.org/x/tools/cmd/stringer -type=StatusCode

// These codes were retrieved from:
// https://www.iana.org/assignments/websocket/websocket.xhtml#close-code-number
const (
	StatusNormalClosure StatusCode = 1000 + iota
	StatusGoingAway
	StatusProtocolError
	StatusUnsupportedData
	_ // 1004 is reserved.
	StatusNoStatusRcvd
	// statusAbnormalClosure is never sent on the wire. CloseStatus
	// reports it for an error wrapping an IOError, i.e. a transport
	// that failed without a close frame.
	statusAbnormalClosure
	StatusInvalidFramePayloadData
	StatusPolicyViolation
	StatusMessageTooBig
	StatusMandatoryExtension
	StatusInternalError
	StatusServiceRestart
	StatusTryAgainLater
	StatusBadGateway
	// statusTLSHandshake is unexported because we just return
	// handshake error in dial. We do not return a conn
	// so there is nothing to use this on. At least until WASM.
	statusTLSHandshake
)

// CloseError represents an error from a WebSocket close frame.
// Methods on the Conn return this, wrapped, once a close frame has been
// received from the peer, whatever its code, including StatusNormalClosure.
type CloseError struct {
	Code   StatusCode
	Reason string
}

func (ce CloseError) Error() string {
	return fmt.Sprintf("WebSocket closed with status = %v and reason = %q", ce.Code, ce.Reason)
}

// CloseStatus is a convenience wrapper around errors.As to grab
// the status code from a CloseError. If the passed error wraps an
// IOError instead, the returned StatusCode is statusAbnormalClosure
// (1006). If the passed error is nil or wraps neither, the returned
// StatusCode is -1.
func CloseStatus(err error) StatusCode {
	var ce CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	var ioe *IOError
	if errors.As(err, &ioe) {
		return statusAbnormalClosure
	}
	return -1
}

func parseClosePayload(p []byte) (CloseError, error) {
	if len(p) == 0 {
		return CloseError{
			Code: StatusNoStatusRcvd,
		}, nil
	}

	if len(p) < 2 {
		return CloseError{}, newProtocolError(StatusProtocolError, "close payload too small, cannot even contain the 2 byte status code")
	}

	ce := CloseError{
		Code:   StatusCode(binary.BigEndian.Uint16(p)),
		Reason: string(p[2:]),
	}

	if !validWireCloseCode(ce.Code) {
		return CloseError{}, newProtocolError(StatusProtocolError, "invalid code %v", ce.Code)
	}

	if !utf8.Valid(p[2:]) {
		return CloseError{}, newProtocolError(StatusInvalidFramePayloadData, "invalid UTF-8 in close frame reason")
	}

	return ce, nil
}

// validWireCloseCode reports whether code is allowed to appear on the wire,
// either sent by us or received from the peer.
//
// This is a strict whitelist rather than the broader IANA range: 1012-1014
// are registered status codes but this implementation has no defined
// behavior for them and treats them as protocol errors like any other
// code this library does not recognize.
// See http://www.iana.org/assignments/websocket/websocket.xhtml#close-code-number
// and https://tools.ietf.org/html/rfc6455#section-7.4.1
func validWireCloseCode(code StatusCode) bool {
	switch code {
	case StatusNormalClosure, StatusGoingAway, StatusProtocolError, StatusUnsupportedData,
		StatusInvalidFramePayloadData, StatusPolicyViolation, StatusMessageTooBig,
		StatusMandatoryExtension, StatusInternalError:
		return true
	}
	if code >= 3000 && code <= 4999 {
		return true
	}

	return false
}

const maxControlFramePayload = 125

func (ce CloseError) bytes() ([]byte, error) {
	if len(ce.Reason) > maxControlFramePayload-2 {
		return nil, xerrors.Errorf("reason string max is %v but got %q with length %v", maxControlFramePayload-2, ce.Reason, len(ce.Reason))
	}
	if bits.Len(uint(ce.Code)) > 16 {
		return nil, errors.New("status code is larger than 2 bytes")
	}
	if !validWireCloseCode(ce.Code) {
		return nil, fmt.Errorf("status code %v cannot be set", ce.Code)
	}

	buf := make([]byte, 2+len(ce.Reason))
	binary.BigEndian.PutUint16(buf[:], uint16(ce.Code))
	copy(buf[2:], ce.Reason)
	return buf, nil
}
