package realtime

import (
	"context"
	"sync"
)

// MemoryFeed is an in-process Feed used when no broker is configured.
type MemoryFeed struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]Handler
}

// NewMemoryFeed constructs an empty in-process feed.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[string]map[int]Handler)}
}

// Publish delivers the change synchronously to current subscribers.
func (f *MemoryFeed) Publish(ctx context.Context, change Change) error {
	change = normalise(change)
	var handlers []Handler
	f.mu.RLock()
	for _, channel := range channelsFor("", change) {
		for _, h := range f.subs[channel] {
			handlers = append(handlers, h)
		}
	}
	f.mu.RUnlock()

	for _, h := range handlers {
		h(change)
	}
	return nil
}

// Subscribe registers onChange until the returned func is called or ctx ends.
func (f *MemoryFeed) Subscribe(ctx context.Context, table string, filter Filter, onChange Handler) (func(), error) {
	channel := channelName("", table, filter)

	f.mu.Lock()
	f.nextID++
	id := f.nextID
	if f.subs[channel] == nil {
		f.subs[channel] = make(map[int]Handler)
	}
	f.subs[channel][id] = onChange
	f.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs[channel], id)
			if len(f.subs[channel]) == 0 {
				delete(f.subs, channel)
			}
			f.mu.Unlock()
		})
	}

	go func() {
		<-ctx.Done()
		unsubscribe()
	}()

	return unsubscribe, nil
}

// Subscribers returns the number of live subscriptions on a channel.
func (f *MemoryFeed) Subscribers(table string, filter Filter) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs[channelName("", table, filter)])
}
