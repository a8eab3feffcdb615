package round

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestTracker_MarkHasClear(t *testing.T) {
	tr := NewTracker("synthesis")
	assert.Equal(t, "synthesis", tr.Name())
	assert.False(t, tr.Has(0))

	assert.True(t, tr.Mark(0), "first mark inserts")
	assert.False(t, tr.Mark(0), "second mark is a no-op")
	assert.True(t, tr.Has(0))
	assert.False(t, tr.Has(1))

	tr.Clear(0)
	assert.False(t, tr.Has(0))
	tr.Clear(42) // clearing an unmarked round is harmless
	assert.True(t, tr.Mark(0), "marking after clear inserts again")
}

func TestTracker_IndependentInstances(t *testing.T) {
	search := NewTracker("search")
	synthesis := NewTracker("synthesis")

	search.Mark(3)
	assert.True(t, search.Has(3))
	assert.False(t, synthesis.Has(3))

	synthesis.Mark(3)
	search.Clear(3)
	assert.True(t, synthesis.Has(3), "clearing one tracker never touches the other")
}

func TestTracker_RoundsSortedCopy(t *testing.T) {
	tr := NewTracker("t")
	for _, r := range []int{5, 1, 3, 1} {
		tr.Mark(r)
	}
	rounds := tr.Rounds()
	assert.Equal(t, []int{1, 3, 5}, rounds)

	rounds[0] = 99
	assert.False(t, tr.Has(99), "Rounds returns a copy")
}

// Property: after any sequence of marks, exactly one Mark per distinct round
// reports an insertion.
func TestProperty_Tracker_SingleInsertionPerRound(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		marks := rapid.SliceOf(rapid.IntRange(0, 20)).Draw(rt, "marks")
		tr := NewTracker("p")
		inserted := map[int]int{}
		for _, r := range marks {
			if tr.Mark(r) {
				inserted[r]++
			}
		}
		for r, n := range inserted {
			if n != 1 {
				rt.Fatalf("round %d inserted %d times", r, n)
			}
		}
		if len(inserted) != len(tr.Rounds()) {
			rt.Fatalf("inserted %d rounds, tracker holds %d", len(inserted), len(tr.Rounds()))
		}
	})
}
