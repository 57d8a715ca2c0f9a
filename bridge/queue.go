package bridge

import "sync"

// ByteQueue is a FIFO of byte chunks. Any number of producers may Put; a
// single consumer drains. Chunks are copied on Put so producers can reuse
// their read buffers.
type ByteQueue struct {
	mu     sync.Mutex
	chunks [][]byte
	size   int
	ready  chan struct{}
}

func NewByteQueue() *ByteQueue {
	return &ByteQueue{ready: make(chan struct{}, 1)}
}

// Put appends a copy of chunk. Empty chunks are ignored.
func (q *ByteQueue) Put(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	c := make([]byte, len(chunk))
	copy(c, chunk)

	q.mu.Lock()
	q.chunks = append(q.chunks, c)
	q.size += len(c)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Drain removes and returns everything queued, oldest first.
func (q *ByteQueue) Drain() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.chunks
	q.chunks = nil
	q.size = 0
	return out
}

// Requeue puts undelivered chunks back at the front, ahead of anything that
// arrived since they were drained. It does not signal Ready.
func (q *ByteQueue) Requeue(chunks ...[]byte) {
	var keep [][]byte
	n := 0
	for _, c := range chunks {
		if len(c) > 0 {
			keep = append(keep, c)
			n += len(c)
		}
	}
	if len(keep) == 0 {
		return
	}
	q.mu.Lock()
	q.chunks = append(keep, q.chunks...)
	q.size += n
	q.mu.Unlock()
}

// Len is the number of queued bytes.
func (q *ByteQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Ready receives after a Put.
func (q *ByteQueue) Ready() <-chan struct{} {
	return q.ready
}
