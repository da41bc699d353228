package hub

import (
	"sync"
	"sync/atomic"

	"github.com/dgnsrekt/haptic_agent/internal/protocol"
)

const subscriberBufSize = 64

// Broker fans state updates out to all subscribed receivers: websocket
// sessions, SSE streams, anything that wants the broadcast envelope.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]chan protocol.StateUpdate
	nextID      atomic.Int64
}

// NewBroker creates a state-update broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[int64]chan protocol.StateUpdate),
	}
}

// Subscribe registers a new receiver. Returns the subscriber ID and a
// channel to receive updates on. The channel is buffered; slow consumers
// have updates dropped.
func (b *Broker) Subscribe() (int64, <-chan protocol.StateUpdate) {
	id := b.nextID.Add(1)
	ch := make(chan protocol.StateUpdate, subscriberBufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish sends an update to all subscribers. Non-blocking: a receiver
// that has gone away or fallen behind is skipped, never waited on.
func (b *Broker) Publish(upd protocol.StateUpdate) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- upd:
		default:
		}
	}
}

// ClientCount returns the number of active subscribers.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
