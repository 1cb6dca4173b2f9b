package queue

import (
	"context"
	"sync/atomic"

	"github.com/Chichichkin/CWLoggingAgent/internal/logging"
)

// Queue is the bounded buffer between producer goroutines and the single
// shipper worker. Producers never block; on overflow the incoming event is
// discarded and counted, keeping the older queued events.
type Queue struct {
	ch      chan logging.Event
	dropped atomic.Int64
}

func New(capacity int) *Queue {
	return &Queue{ch: make(chan logging.Event, capacity)}
}

func (q *Queue) Put(e logging.Event) bool {
	select {
	case q.ch <- e:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Drain blocks until at least one event is queued, then moves everything
// currently queued into buf in arrival order, returning it with the drop
// count since the previous drain and resetting that counter. A cancelled
// ctx returns buf unchanged with a zero count, the counter keeps
// accumulating. Single consumer only.
func (q *Queue) Drain(ctx context.Context, buf []logging.Event) ([]logging.Event, int) {
	select {
	case e := <-q.ch:
		buf = append(buf, e)
	case <-ctx.Done():
		return buf, 0
	}
	for {
		select {
		case e := <-q.ch:
			buf = append(buf, e)
		default:
			return buf, int(q.dropped.Swap(0))
		}
	}
}

func (q *Queue) Len() int { return len(q.ch) }

func (q *Queue) Cap() int { return cap(q.ch) }
