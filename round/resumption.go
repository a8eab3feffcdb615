package round

import (
	"time"

	"github.com/BaSui01/roundflow/types"
)

// LifecycleState is the externally reported state of a participant stream.
type LifecycleState string

const (
	StreamActive    LifecycleState = "active"
	StreamCompleted LifecycleState = "completed"
	StreamFailed    LifecycleState = "failed"
	StreamTimedOut  LifecycleState = "timed_out"
)

// ParseLifecycleState accepts both "timed_out" and "timedOut".
func ParseLifecycleState(s string) (LifecycleState, bool) {
	switch s {
	case "active":
		return StreamActive, true
	case "completed":
		return StreamCompleted, true
	case "failed":
		return StreamFailed, true
	case "timed_out", "timedOut", "timeout":
		return StreamTimedOut, true
	default:
		return "", false
	}
}

// StreamDescriptor describes a participant stream that may still be running
// on the transport side.
type StreamDescriptor struct {
	ConversationID   string         `json:"conversation_id"`
	RoundNumber      int            `json:"round_number"`
	ParticipantIndex int            `json:"participant_index"`
	State            LifecycleState `json:"state"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Action is the recovery step chosen for a reconnect.
type Action int

const (
	// ActionNone means the descriptor needs no work.
	ActionNone Action = iota
	// ActionResume reattaches to the live stream without re-triggering it.
	ActionResume
	// ActionSyncMessage fetches the final persisted message and completes
	// the participant normally.
	ActionSyncMessage
	// ActionFail completes the participant with an error reason.
	ActionFail
)

func (a Action) String() string {
	switch a {
	case ActionResume:
		return "resume"
	case ActionSyncMessage:
		return "sync_message"
	case ActionFail:
		return "fail"
	default:
		return "none"
	}
}

// Classify maps a lifecycle state to its recovery action.
func Classify(state LifecycleState) Action {
	switch state {
	case StreamActive:
		return ActionResume
	case StreamCompleted:
		return ActionSyncMessage
	case StreamFailed, StreamTimedOut:
		return ActionFail
	default:
		return ActionNone
	}
}

// Reconciler holds the resumption state of a single reconnect. It is
// evaluated once per descriptor and cleared when the recovery finishes.
type Reconciler struct {
	desc   *StreamDescriptor
	action Action
}

// Begin classifies desc against the locally known messages. Descriptors for
// an older round than the current one, or whose message is already complete
// locally, are stale and yield ActionNone.
func (r *Reconciler) Begin(desc StreamDescriptor, messages []types.Message) Action {
	r.Clear()

	current := types.CurrentRound(messages)
	if current >= 0 && desc.RoundNumber < current {
		return ActionNone
	}
	if localComplete(messages, desc.RoundNumber, desc.ParticipantIndex) {
		return ActionNone
	}

	action := Classify(desc.State)
	if action == ActionNone {
		return ActionNone
	}
	d := desc
	r.desc = &d
	r.action = action
	return action
}

// FallThrough converts a failed resume or sync into the fail path.
func (r *Reconciler) FallThrough() {
	if r.desc != nil {
		r.action = ActionFail
	}
}

// NeedsStreamResumption is true only while an active stream awaits reattach.
func (r *Reconciler) NeedsStreamResumption() bool {
	return r.desc != nil && r.action == ActionResume
}

// NeedsMessageSync is true only while a completed stream awaits its final
// message.
func (r *Reconciler) NeedsMessageSync() bool {
	return r.desc != nil && r.action == ActionSyncMessage
}

// Pending returns the descriptor under reconciliation, if any.
func (r *Reconciler) Pending() (StreamDescriptor, Action, bool) {
	if r.desc == nil {
		return StreamDescriptor{}, ActionNone, false
	}
	return *r.desc, r.action, true
}

// Matches reports whether round and idx identify the pending descriptor.
func (r *Reconciler) Matches(round, idx int) bool {
	return r.desc != nil && r.desc.RoundNumber == round && r.desc.ParticipantIndex == idx
}

// Clear drops the resumption state.
func (r *Reconciler) Clear() {
	r.desc = nil
	r.action = ActionNone
}

func localComplete(messages []types.Message, round, idx int) bool {
	for _, msg := range messages {
		pm, ok := msg.(*types.ParticipantMessage)
		if ok && pm.RoundNumber == round && pm.ParticipantIndex == idx && IsMessageComplete(pm) {
			return true
		}
	}
	return false
}
