package round

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/roundflow/types"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		state LifecycleState
		want  Action
	}{
		{StreamActive, ActionResume},
		{StreamCompleted, ActionSyncMessage},
		{StreamFailed, ActionFail},
		{StreamTimedOut, ActionFail},
		{LifecycleState("bogus"), ActionNone},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.state))
		})
	}
}

func TestParseLifecycleState(t *testing.T) {
	s, ok := ParseLifecycleState("timedOut")
	assert.True(t, ok)
	assert.Equal(t, StreamTimedOut, s)
	_, ok = ParseLifecycleState("paused")
	assert.False(t, ok)
}

func TestReconciler_CompletedDescriptorNeedsSyncOnly(t *testing.T) {
	messages := []types.Message{
		&types.UserMessage{RoundNumber: 1, Text: "q"},
		pmsg(1, 0, "p0", types.FinishStop, "done", false),
	}
	var r Reconciler
	action := r.Begin(StreamDescriptor{RoundNumber: 1, ParticipantIndex: 1, State: StreamCompleted}, messages)

	assert.Equal(t, ActionSyncMessage, action)
	assert.False(t, r.NeedsStreamResumption())
	assert.True(t, r.NeedsMessageSync())
}

func TestReconciler_ActiveNeedsResumption(t *testing.T) {
	var r Reconciler
	action := r.Begin(StreamDescriptor{RoundNumber: 0, ParticipantIndex: 0, State: StreamActive}, nil)
	assert.Equal(t, ActionResume, action)
	assert.True(t, r.NeedsStreamResumption())
	assert.False(t, r.NeedsMessageSync())
	assert.True(t, r.Matches(0, 0))
	assert.False(t, r.Matches(0, 1))
}

func TestReconciler_FailedResumeFallsThrough(t *testing.T) {
	var r Reconciler
	r.Begin(StreamDescriptor{RoundNumber: 0, ParticipantIndex: 2, State: StreamActive}, nil)
	r.FallThrough()

	assert.False(t, r.NeedsStreamResumption())
	_, action, ok := r.Pending()
	assert.True(t, ok)
	assert.Equal(t, ActionFail, action)

	r.Clear()
	_, _, ok = r.Pending()
	assert.False(t, ok)
	r.FallThrough()
	_, _, ok = r.Pending()
	assert.False(t, ok, "fall through without a descriptor is a no-op")
}

func TestReconciler_StaleDescriptors(t *testing.T) {
	messages := []types.Message{
		&types.UserMessage{RoundNumber: 0},
		pmsg(0, 0, "p0", types.FinishStop, "done", false),
		&types.UserMessage{RoundNumber: 1},
	}
	var r Reconciler

	assert.Equal(t, ActionNone, r.Begin(StreamDescriptor{RoundNumber: 0, ParticipantIndex: 1, State: StreamActive}, messages),
		"descriptor from an older round")
	assert.Equal(t, ActionNone, r.Begin(StreamDescriptor{RoundNumber: 1, ParticipantIndex: 0, State: StreamCompleted},
		append(messages, pmsg(1, 0, "p0", types.FinishStop, "x", false))),
		"message already complete locally")
	assert.False(t, r.NeedsMessageSync())
}

func TestReconciler_InterruptedLocalMessageStillResumes(t *testing.T) {
	messages := []types.Message{
		&types.UserMessage{RoundNumber: 0},
		pmsg(0, 0, "p0", types.FinishUnknown, "", false),
	}
	var r Reconciler
	assert.Equal(t, ActionResume, r.Begin(StreamDescriptor{RoundNumber: 0, ParticipantIndex: 0, State: StreamActive}, messages))
}

func TestAction_String(t *testing.T) {
	assert.Equal(t, "resume", ActionResume.String())
	assert.Equal(t, "sync_message", ActionSyncMessage.String())
	assert.Equal(t, "fail", ActionFail.String())
	assert.Equal(t, "none", ActionNone.String())
}
