package round

import (
	"github.com/BaSui01/roundflow/types"
)

// NoParticipant is the index reported when no participant is expected to
// stream.
const NoParticipant = -1

// Sequencer walks the priority-sorted roster of a round one participant at a
// time. Indices always refer to the sorted roster, never to the insertion
// order of the configured participant list.
//
// The roster is snapshotted by Start. Participants disabled afterwards are
// skipped for the rest of the round; participants added afterwards wait for
// the next Start.
type Sequencer struct {
	configured []types.Participant
	roster     []types.Participant
	disabled   map[string]bool
	round      int
	index      int
	active     bool
}

// NewSequencer creates a sequencer over the configured participants.
func NewSequencer(participants []types.Participant) *Sequencer {
	s := &Sequencer{round: -1, index: NoParticipant}
	s.SetParticipants(participants)
	return s
}

// SetParticipants replaces the configured participant list.
func (s *Sequencer) SetParticipants(participants []types.Participant) {
	s.configured = append([]types.Participant(nil), participants...)
	if !s.active {
		return
	}
	enabled := make(map[string]bool, len(participants))
	for _, p := range participants {
		if p.Enabled {
			enabled[p.ID] = true
		}
	}
	for _, p := range s.roster {
		if !enabled[p.ID] {
			s.disabled[p.ID] = true
		}
	}
}

// Configured returns the participant list that the next Start will use.
func (s *Sequencer) Configured() []types.Participant {
	return append([]types.Participant(nil), s.configured...)
}

// Start snapshots the sorted roster for round and moves to the first
// participant. It returns false when nobody is enabled.
func (s *Sequencer) Start(round int) (int, bool) {
	s.roster = types.SortByPriority(s.configured)
	s.disabled = make(map[string]bool)
	s.round = round
	s.index = NoParticipant
	s.active = len(s.roster) > 0
	if !s.active {
		return NoParticipant, false
	}
	s.index = 0
	return s.index, true
}

// Advance moves past the current participant and returns the next index, or
// (NoParticipant, false) once the roster is exhausted. Calling it on an
// exhausted sequencer keeps returning the sentinel.
func (s *Sequencer) Advance() (int, bool) {
	if !s.active {
		return NoParticipant, false
	}
	for next := s.index + 1; next < len(s.roster); next++ {
		if !s.disabled[s.roster[next].ID] {
			s.index = next
			return next, true
		}
	}
	s.index = NoParticipant
	s.active = false
	return NoParticipant, false
}

// AdvanceFrom advances only when completed is the participant currently
// expected to stream. Completion reports for already-passed indices are
// no-ops, so several uncoordinated callbacks may report the same completion.
// The bool result reports whether the sequencer moved.
func (s *Sequencer) AdvanceFrom(round, completed int) (next int, moved bool) {
	if !s.active || round != s.round || completed != s.index {
		return NoParticipant, false
	}
	next, _ = s.Advance()
	return next, true
}

// Current returns the index currently expected to stream, or NoParticipant.
func (s *Sequencer) Current() int { return s.index }

// Round returns the round the sequencer last started, or -1.
func (s *Sequencer) Round() int { return s.round }

// Active reports whether a participant is still expected for the round.
func (s *Sequencer) Active() bool { return s.active }

// Started reports whether Start ran for round.
func (s *Sequencer) Started(round int) bool { return s.round == round }

// Count returns the roster size of the current round.
func (s *Sequencer) Count() int { return len(s.roster) }

// At returns the roster entry at idx.
func (s *Sequencer) At(idx int) (types.Participant, bool) {
	if idx < 0 || idx >= len(s.roster) {
		return types.Participant{}, false
	}
	return s.roster[idx], true
}

// Roster returns a copy of the round's sorted roster.
func (s *Sequencer) Roster() []types.Participant {
	return append([]types.Participant(nil), s.roster...)
}
