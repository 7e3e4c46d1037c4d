package app

import (
	"sort"
	goSync "sync"
)

// Status is a snapshot of State.
type Status struct {
	// Text is a short human readable description of the last thing that
	// happened, such as the outcome of the most recent run.
	Text string

	// Profile is the name of the active profile.
	Profile string
}

// State holds the status shown to the user. Listeners are notified after
// every change.
type State struct {
	lock      goSync.Mutex
	status    Status
	nextID    int
	listeners map[int]func(Status)
}

// Get returns the current status.
func (s *State) Get() Status {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.status
}

// SetText updates the status text.
func (s *State) SetText(text string) {
	s.update(func(status *Status) { status.Text = text })
}

// SetProfile updates the active profile.
func (s *State) SetProfile(name string) {
	s.update(func(status *Status) { status.Profile = name })
}

// Subscribe registers listener, and returns a function that unregisters it.
func (s *State) Subscribe(listener func(Status)) (unsubscribe func()) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.listeners == nil {
		s.listeners = map[int]func(Status){}
	}
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener

	var once goSync.Once
	return func() {
		once.Do(func() {
			s.lock.Lock()
			delete(s.listeners, id)
			s.lock.Unlock()
		})
	}
}

func (s *State) update(apply func(*Status)) {
	s.lock.Lock()
	apply(&s.status)
	status := s.status

	var ids []int
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	listeners := make([]func(Status), 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.lock.Unlock()

	for _, listener := range listeners {
		listener(status)
	}
}
