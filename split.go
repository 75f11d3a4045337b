package websocket

import (
	"context"
	"io"
)

// Split returns a Reader and Writer that share c's underlying state
// machine, letting the read and write paths be driven from separate
// goroutines without either side holding a reference to the full Conn.
//
// Control frames (ping, pong, close) are handled by the machinery
// backing both halves the same way they are for Conn itself; Reader
// only ever surfaces data messages.
func (c *Conn) Split(ctx context.Context) (*Reader, *Writer) {
	return &Reader{c: c}, &Writer{c: c}
}

// Reader is the read half of a split Conn.
type Reader struct {
	c *Conn
}

// Receive reads the next data message from the connection.
func (r *Reader) Receive(ctx context.Context) (MessageType, io.Reader, error) {
	return r.c.Reader(ctx)
}

// Read reads the next data message into memory.
func (r *Reader) Read(ctx context.Context) (MessageType, []byte, error) {
	return r.c.Read(ctx)
}

// SetReadLimit sets the max size in bytes of a message read off the
// underlying Conn.
func (r *Reader) SetReadLimit(n int64) {
	r.c.SetReadLimit(n)
}

// Writer is the write half of a split Conn.
type Writer struct {
	c *Conn
}

// Writer returns a writer for a message of the given type.
func (w *Writer) Writer(ctx context.Context, typ MessageType) (io.WriteCloser, error) {
	return w.c.Writer(ctx, typ)
}

// Write writes a message of the given type.
func (w *Writer) Write(ctx context.Context, typ MessageType, p []byte) error {
	return w.c.Write(ctx, typ, p)
}

// Ping sends a ping and waits for a pong from the peer.
func (w *Writer) Ping(ctx context.Context) error {
	return w.c.Ping(ctx)
}

// Close performs the close handshake on the underlying Conn.
func (w *Writer) Close(code StatusCode, reason string) error {
	return w.c.Close(code, reason)
}
