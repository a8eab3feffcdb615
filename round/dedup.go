package round

import "sort"

// Tracker records that a trigger was issued for a round, independently of
// whether the resulting record has been observed yet. Only Mark, Has and
// Clear mutate or read it; the backing set is never exposed.
//
// A Tracker is owned by an Orchestrator and relies on the orchestrator's
// transition lock for safety.
type Tracker struct {
	name   string
	rounds map[int]struct{}
}

// NewTracker creates an empty tracker. The name only appears in logs.
func NewTracker(name string) *Tracker {
	return &Tracker{name: name, rounds: make(map[int]struct{})}
}

// Name returns the tracker label.
func (t *Tracker) Name() string { return t.name }

// Mark records the round and reports whether it was newly inserted.
// Marking an already-marked round is a no-op that returns false.
func (t *Tracker) Mark(round int) bool {
	if _, ok := t.rounds[round]; ok {
		return false
	}
	t.rounds[round] = struct{}{}
	return true
}

// Has reports whether a trigger was issued for the round.
func (t *Tracker) Has(round int) bool {
	_, ok := t.rounds[round]
	return ok
}

// Clear forgets the round. Use only on explicit failure or retry.
func (t *Tracker) Clear(round int) {
	delete(t.rounds, round)
}

// Rounds returns the marked rounds in ascending order.
func (t *Tracker) Rounds() []int {
	out := make([]int, 0, len(t.rounds))
	for r := range t.rounds {
		out = append(out, r)
	}
	sort.Ints(out)
	return out
}
