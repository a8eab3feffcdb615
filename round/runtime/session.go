package runtime

import (
	"sync"

	"github.com/BaSui01/roundflow/round"
)

type slot struct {
	round int
	index int
}

// Session binds one conversation's orchestrator to its view subscribers.
type Session struct {
	id   string
	orch *round.Orchestrator

	mu      sync.Mutex
	subs    map[int]chan round.View
	nextSub int
	resumes map[slot]int
	// live counts the engine's readers per participant slot.
	live map[slot]int
}

func newSession(id string, orch *round.Orchestrator) *Session {
	return &Session{
		id:      id,
		orch:    orch,
		subs:    make(map[int]chan round.View),
		resumes: make(map[slot]int),
		live:    make(map[slot]int),
	}
}

// ID returns the conversation ID.
func (s *Session) ID() string { return s.id }

// Orchestrator returns the session's orchestrator.
func (s *Session) Orchestrator() *round.Orchestrator { return s.orch }

// subscribe registers a view listener. The channel holds only the latest
// view; a slow reader skips intermediate ones.
func (s *Session) subscribe() (<-chan round.View, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan round.View, 1)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

func (s *Session) hasSubscribers() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs) > 0
}

func (s *Session) broadcast(v round.View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- v:
			continue
		default:
		}
		// Replace the stale view.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}

func (s *Session) closeSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

// nextResumeAttempt counts resumption attempts for one participant slot.
func (s *Session) nextResumeAttempt(roundNumber, idx int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := slot{roundNumber, idx}
	s.resumes[k]++
	return s.resumes[k]
}

func (s *Session) acquire(roundNumber, idx int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live[slot{roundNumber, idx}]++
}

func (s *Session) release(roundNumber, idx int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := slot{roundNumber, idx}
	if s.live[k] <= 1 {
		delete(s.live, k)
		return
	}
	s.live[k]--
}

// pumping reports whether the engine already reads the slot's stream or is
// fetching its final message.
func (s *Session) pumping(roundNumber, idx int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live[slot{roundNumber, idx}] > 0
}
