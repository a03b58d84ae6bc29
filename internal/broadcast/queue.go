package broadcast

import (
	"errors"
	"sync"
)

var (
	ErrBufferFull = errors.New("subscriber buffer full")
	ErrClosed     = errors.New("subscriber closed")
)

type QueueStats struct {
	Sent    int64
	Dropped int64
}

// Queue is a Subscriber backed by a bounded channel. A reader drains C; when
// it falls behind Send fails instead of blocking the publisher.
type Queue struct {
	id string
	ch chan []byte

	mu     sync.Mutex
	closed bool
	stats  QueueStats
}

func NewQueue(id string, size int) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{id: id, ch: make(chan []byte, size)}
}

func (q *Queue) ID() string { return q.id }

func (q *Queue) Send(payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- payload:
		q.stats.Sent++
		return nil
	default:
		q.stats.Dropped++
		return ErrBufferFull
	}
}

// C returns the receive side. It is closed by Close.
func (q *Queue) C() <-chan []byte { return q.ch }

// Close makes later sends fail with ErrClosed. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}
