package websocket

import (
	"sync"

	"github.com/eapache/queue"
)

// queuedControlFrame is a control frame waiting to be written.
type queuedControlFrame struct {
	opcode  opcode
	payload []byte
}

// controlFrameQueue buffers outbound control frames (currently just
// automatic pongs) so that several arriving in quick succession, while the
// writer half is busy with a data message, are flushed in FIFO order as
// soon as the write frame lock is free rather than being dropped or
// fought over.
type controlFrameQueue struct {
	mu sync.Mutex
	q  *queue.Queue
}

func newControlFrameQueue() *controlFrameQueue {
	return &controlFrameQueue{q: queue.New()}
}

func (cq *controlFrameQueue) push(f queuedControlFrame) {
	cq.mu.Lock()
	cq.q.Add(f)
	cq.mu.Unlock()
}

func (cq *controlFrameQueue) pop() (queuedControlFrame, bool) {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	if cq.q.Length() == 0 {
		return queuedControlFrame{}, false
	}
	f := cq.q.Peek().(queuedControlFrame)
	cq.q.Remove()
	return f, true
}
