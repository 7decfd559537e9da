package ws

import (
	"context"
	"sync"

	"github.com/eapache/queue"
)

// inboundQueue is the connection's inbound buffer. The producer (reader
// pump) and consumer (application receive calls) have independent
// lifecycles: the producer closes its end by setting the terminal disconnect
// event, and the consumer still drains every buffered message before
// observing it. Messages read off the wire before a close is detected are
// therefore never lost.
type inboundQueue struct {
	mu        sync.Mutex
	cond      *sync.Cond
	items     *queue.Queue
	terminal  *DisconnectEvent
	delivered bool
}

func newInboundQueue() *inboundQueue {
	q := &inboundQueue{items: queue.New()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends one assembled message. Messages arriving after the terminal
// event has been set are dropped; the producer stops before that in normal
// operation.
func (q *inboundQueue) push(ev *ReceiveEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.terminal != nil {
		return
	}
	q.items.Add(ev)
	q.cond.Broadcast()
}

// close sets the terminal disconnect event. The first close wins; later
// calls are ignored so the disconnect code observed by the application is
// the code of whichever condition fired first.
func (q *inboundQueue) close(code int, reason string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.terminal != nil {
		return false
	}
	q.terminal = &DisconnectEvent{Code: code, Reason: reason}
	q.cond.Broadcast()
	return true
}

// pop blocks until a buffered message or the terminal event is available.
// Buffered messages always drain before the terminal event. The terminal
// event is delivered exactly once; a pop after that returns
// ErrAfterDisconnect. Cancelling ctx unblocks the wait.
func (q *inboundQueue) pop(ctx context.Context) (Event, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.items.Length() > 0 {
			ev := q.items.Remove().(*ReceiveEvent)
			return Event{Receive: ev}, nil
		}
		if q.terminal != nil {
			if q.delivered {
				return Event{}, ErrAfterDisconnect
			}
			q.delivered = true
			return Event{Disconnect: q.terminal}, nil
		}
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}
		q.cond.Wait()
	}
}
