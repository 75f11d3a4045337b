package websocket

import (
	"io"
	"math"
	"strings"
	"testing"

	"github.com/driftsock/wsclient/internal/test/assert"
)

func TestCloseError(t *testing.T) {
	t.Parallel()

	// Other parts of close error are tested by websocket_test.go right now
	// with the autobahn tests.

	testCases := []struct {
		name    string
		ce      CloseError
		success bool
	}{
		{
			name: "normal",
			ce: CloseError{
				Code:   StatusNormalClosure,
				Reason: strings.Repeat("x", maxControlFramePayload-2),
			},
			success: true,
		},
		{
			name: "bigReason",
			ce: CloseError{
				Code:   StatusNormalClosure,
				Reason: strings.Repeat("x", maxControlFramePayload-1),
			},
			success: false,
		},
		{
			name: "bigCode",
			ce: CloseError{
				Code:   math.MaxUint16,
				Reason: strings.Repeat("x", maxControlFramePayload-2),
			},
			success: false,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := tc.ce.bytes()
			if (err == nil) != tc.success {
				t.Fatalf("unexpected error value: %v", err)
			}
		})
	}
}

func Test_parseClosePayload(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		p       []byte
		success bool
		ce      CloseError
	}{
		{
			name:    "normal",
			p:       append([]byte{0x3, 0xE8}, []byte("hello")...),
			success: true,
			ce: CloseError{
				Code:   StatusNormalClosure,
				Reason: "hello",
			},
		},
		{
			name:    "nothing",
			success: true,
			ce: CloseError{
				Code: StatusNoStatusRcvd,
			},
		},
		{
			name:    "oneByte",
			p:       []byte{0},
			success: false,
		},
		{
			name:    "forbiddenCode",
			p:       []byte{0x3, 0xF4},
			success: false,
		},
		{
			name:    "invalidUTF8Reason",
			p:       append([]byte{0x3, 0xE8}, 0xff, 0xfe, 0xfd),
			success: false,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ce, err := parseClosePayload(tc.p)
			if tc.success {
				assert.Success(t, err)
				assert.Equal(t, "CloseError", tc.ce, ce)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func Test_validWireCloseCode(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		code  StatusCode
		valid bool
	}{
		{name: "normal", code: StatusNormalClosure, valid: true},
		{name: "noStatus", code: StatusNoStatusRcvd, valid: false},
		{name: "abnormal", code: statusAbnormalClosure, valid: false},
		{name: "reserved1012", code: 1012, valid: false},
		{name: "reserved1013", code: 1013, valid: false},
		{name: "reserved1014", code: 1014, valid: false},
		{name: "3000", code: 3000, valid: true},
		{name: "4999", code: 4999, valid: true},
		{name: "unknown", code: 5000, valid: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, "validWireCloseCode", tc.valid, validWireCloseCode(tc.code))
		})
	}
}

func TestCloseStatus(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		in   error
		exp  StatusCode
	}{
		{name: "nil", in: nil, exp: -1},
		{name: "io.EOF", in: io.EOF, exp: -1},
		{
			name: "StatusInternalError",
			in:   CloseError{Code: StatusInternalError},
			exp:  StatusInternalError,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, "CloseStatus", tc.exp, CloseStatus(tc.in))
		})
	}
}
