package websocket

import "golang.org/x/xerrors"

// messageAssembler tracks per-message validation state that must survive
// across the frame boundaries of a fragmented message. Right now that is
// only the incremental UTF-8 validator used for text messages; binary
// messages pass through untouched.
type messageAssembler struct {
	utf8 utf8Validator
}

// begin resets the assembler for a new message of type typ.
func (a *messageAssembler) begin(typ MessageType) {
	a.utf8.reset()
}

// write validates the next chunk of a message's payload as it is
// unmasked and handed to the caller of Read.
func (a *messageAssembler) write(typ MessageType, p []byte) error {
	if typ != MessageText {
		return nil
	}
	if !a.utf8.write(p) {
		return xerrors.New("invalid utf8")
	}
	return nil
}

// end is called once the final frame of a message has been fully read.
// It catches a message that ends mid way through a multi-byte sequence.
func (a *messageAssembler) end(typ MessageType) error {
	if typ != MessageText {
		return nil
	}
	if !a.utf8.complete() {
		return xerrors.New("truncated utf8 sequence")
	}
	return nil
}
