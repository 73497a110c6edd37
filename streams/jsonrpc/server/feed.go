package server

import (
	"sync"

	"github.com/defistate/defistate-router-go/streams/jsonrpc"
)

// feed fans snapshot events out to stream subscribers. A subscriber whose
// queue is full misses the event and has to resynchronize from a full
// snapshot.
type feed struct {
	mu     sync.Mutex
	subs   map[uint64]chan jsonrpc.SubscriptionEvent
	nextID uint64
	buffer int
}

func newFeed(buffer int) *feed {
	return &feed{
		subs:   make(map[uint64]chan jsonrpc.SubscriptionEvent),
		buffer: buffer,
	}
}

func (f *feed) subscribe() (uint64, <-chan jsonrpc.SubscriptionEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	ch := make(chan jsonrpc.SubscriptionEvent, f.buffer)
	f.subs[f.nextID] = ch
	return f.nextID, ch
}

func (f *feed) unsubscribe(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, id)
}

// publish queues event for every subscriber and returns how many missed it.
func (f *feed) publish(event jsonrpc.SubscriptionEvent) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	dropped := 0
	for _, ch := range f.subs {
		select {
		case ch <- event:
		default:
			dropped++
		}
	}
	return dropped
}

func (f *feed) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
