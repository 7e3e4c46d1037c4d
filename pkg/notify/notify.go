// Package notify delivers state change events to interested listeners, such
// as the CLI's progress output or the watch daemon.
package notify

import (
	"sort"
	goSync "sync"

	"github.com/sidkik/remotesync/pkg/transfer"
)

// Event is anything published on a Bus.
type Event interface {
	isEvent()
}

// RunCompleted is published once per finished upload, download or sync.
type RunCompleted struct {
	Mode   string
	RunID  string
	Result transfer.BatchResult
}

// WatchListChanged is published after the watch list is modified.
type WatchListChanged struct {
	Files []string
}

func (RunCompleted) isEvent()     {}
func (WatchListChanged) isEvent() {}

// Listener receives events. It's called synchronously by Publish, so it
// should return quickly.
type Listener func(Event)

// Bus is a publish/subscribe event bus. The zero value is ready to use.
type Bus struct {
	lock      goSync.Mutex
	nextID    int
	listeners map[int]Listener
}

// Subscribe registers l, and returns a function that unregisters it.
func (b *Bus) Subscribe(l Listener) (unsubscribe func()) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.listeners == nil {
		b.listeners = map[int]Listener{}
	}
	id := b.nextID
	b.nextID++
	b.listeners[id] = l

	var once goSync.Once
	return func() {
		once.Do(func() {
			b.lock.Lock()
			delete(b.listeners, id)
			b.lock.Unlock()
		})
	}
}

// Publish delivers e to every current listener, in subscription order.
func (b *Bus) Publish(e Event) {
	b.lock.Lock()
	ids := make([]int, 0, len(b.listeners))
	for id := range b.listeners {
		ids = append(ids, id)
	}
	listeners := make([]Listener, 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		listeners = append(listeners, b.listeners[id])
	}
	b.lock.Unlock()

	for _, l := range listeners {
		l(e)
	}
}
