package round

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/BaSui01/roundflow/types"
)

// Property: whatever mix of duplicated completions and re-evaluations the
// uncoordinated callers produce, every participant is triggered once and the
// round ends with exactly one synthesis record.
func TestProperty_Orchestrator_ExactlyOnceUnderDuplicateEvents(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("one trigger per participant and one synthesis", prop.ForAll(
		func(n int, noise []int) bool {
			participants := make([]types.Participant, n)
			for i := range participants {
				participants[i] = types.Participant{ID: fmt.Sprintf("p%d", i), Priority: n - i, Enabled: true}
			}
			observer := newRecordingObserver()
			o := NewOrchestrator(Options{ConversationID: "prop", Participants: participants, Observer: observer})
			if _, _, err := o.SubmitUserMessage("q", RoundOptions{}); err != nil {
				return false
			}

			synth := 0
			count := func(cmds []Command) {
				for _, c := range cmds {
					if c.Kind == CmdTriggerSynthesis {
						synth++
					}
				}
			}
			step := 0
			for idx := 0; idx < n; idx++ {
				_ = o.AppendParticipantChunk(0, idx, "answer")
				count(o.CompleteParticipant(complete(0, idx, types.FinishStop)))
				// replay noise: duplicate completions of already-finished
				// participants and bare re-evaluations
				for ; step < len(noise) && noise[step]%3 != 0; step++ {
					if noise[step]%2 == 0 {
						count(o.Evaluate())
					} else {
						count(o.CompleteParticipant(complete(0, noise[step]%(idx+1), types.FinishStop)))
					}
				}
				step++
			}
			count(o.Evaluate())

			v := o.View()
			return synth == 1 &&
				len(v.SynthesisRecords) == 1 &&
				observer.commands[CmdTriggerParticipant] == n &&
				len(observer.completed) == n
		},
		gen.IntRange(1, 5),
		gen.SliceOf(gen.IntRange(0, 20)),
	))

	properties.TestingRun(t)
}
