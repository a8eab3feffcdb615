package round

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"pgregory.net/rapid"

	"github.com/BaSui01/roundflow/types"
)

var allStatuses = []Status{StatusPending, StatusStreaming, StatusComplete, StatusFailed}

// Property: with search disabled the gate never waits, whatever the records say.
func TestProperty_ShouldWaitForSearch_DisabledNeverWaits(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("search disabled never blocks participants", prop.ForAll(
		func(round int, statusIdx []int) bool {
			records := make([]SearchRecord, len(statusIdx))
			for i, s := range statusIdx {
				records[i] = SearchRecord{RoundNumber: i, Status: allStatuses[s]}
			}
			return !ShouldWaitForSearch(false, records, round)
		},
		gen.IntRange(0, 10),
		gen.SliceOf(gen.IntRange(0, len(allStatuses)-1)),
	))

	properties.TestingRun(t)
}

// Property: AllComplete implies expected > 0, completed == expected and no
// participant still streaming.
func TestProperty_CompletionStatus_AllCompleteConsistency(t *testing.T) {
	reasons := []types.FinishReason{
		types.FinishNone, types.FinishStop, types.FinishLength, types.FinishError, types.FinishUnknown,
	}
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 5).Draw(rt, "participants")
		participants := make([]types.Participant, n)
		var messages []types.Message
		for i := 0; i < n; i++ {
			participants[i] = types.Participant{
				ID:       fmt.Sprintf("p%d", i),
				Priority: rapid.IntRange(0, 3).Draw(rt, fmt.Sprintf("priority_%d", i)),
				Enabled:  rapid.Bool().Draw(rt, fmt.Sprintf("enabled_%d", i)),
			}
			if !rapid.Bool().Draw(rt, fmt.Sprintf("has_message_%d", i)) {
				continue
			}
			text := rapid.SampledFrom([]string{"", " ", "answer"}).Draw(rt, fmt.Sprintf("text_%d", i))
			messages = append(messages, pmsg(0, i, participants[i].ID,
				rapid.SampledFrom(reasons).Draw(rt, fmt.Sprintf("reason_%d", i)),
				text,
				rapid.Bool().Draw(rt, fmt.Sprintf("streaming_%d", i)),
			))
		}

		status := GetParticipantCompletionStatus(messages, participants, 0)

		if status.ExpectedCount == 0 && status.AllComplete {
			rt.Fatalf("zero expected participants reported complete")
		}
		if status.AllComplete != (status.ExpectedCount > 0 &&
			status.CompletedCount == status.ExpectedCount && status.StreamingCount == 0) {
			rt.Fatalf("AllComplete inconsistent with counts: %+v", status)
		}
		if status.CompletedCount+status.StreamingCount > status.ExpectedCount {
			rt.Fatalf("classified more participants than expected: %+v", status)
		}
		if len(status.CompletedIDs) != status.CompletedCount || len(status.StreamingIDs) != status.StreamingCount {
			rt.Fatalf("id lists disagree with counts: %+v", status)
		}
	})
}

// Property: an error-terminated message always counts as a response.
func TestProperty_ErrorCountsAsResponded(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		text := rapid.SampledFrom([]string{"", "  ", "partial"}).Draw(rt, "text")
		streaming := rapid.Bool().Draw(rt, "streaming")
		participants := []types.Participant{{ID: "p0", Enabled: true}}
		msgs := []types.Message{pmsg(0, 0, "p0", types.FinishError, text, streaming)}

		status := GetParticipantCompletionStatus(msgs, participants, 0)
		if status.CompletedCount != 1 {
			rt.Fatalf("error message not counted as completed: %+v", status)
		}
	})
}
