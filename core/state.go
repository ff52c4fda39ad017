package core

import "sync"

// UserState is the user as the shell currently displays it. nil means
// signed out.
type UserState struct {
	mu         sync.RWMutex
	user       *User
	generation uint64
	watchers   map[int]chan *User
	nextID     int
}

func NewUserState() *UserState {
	return &UserState{watchers: make(map[int]chan *User)}
}

func (s *UserState) Set(u *User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.user = u
	s.generation++
	for _, ch := range s.watchers {
		// latest value wins for slow watchers
		select {
		case <-ch:
		default:
		}
		ch <- u
	}
}

func (s *UserState) Current() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Generation counts Set calls.
func (s *UserState) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Watch returns a channel receiving every subsequent value and a cancel func.
func (s *UserState) Watch() (<-chan *User, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan *User, 1)
	s.watchers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
		})
	}
}
