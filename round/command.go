package round

import (
	"github.com/BaSui01/roundflow/types"
)

// CommandKind identifies a side effect the host must issue to a collaborator.
type CommandKind int

const (
	CmdTriggerSearch CommandKind = iota + 1
	CmdTriggerParticipant
	CmdTriggerSynthesis
	CmdResumeStream
	CmdSyncMessage
)

func (k CommandKind) String() string {
	switch k {
	case CmdTriggerSearch:
		return "trigger_search"
	case CmdTriggerParticipant:
		return "trigger_participant"
	case CmdTriggerSynthesis:
		return "trigger_synthesis"
	case CmdResumeStream:
		return "resume_stream"
	case CmdSyncMessage:
		return "sync_message"
	default:
		return "unknown"
	}
}

// Command is emitted by a transition after its gates passed and its tracker
// was marked. Each command is issued exactly once.
type Command struct {
	Kind             CommandKind
	ConversationID   string
	RoundNumber      int
	ParticipantIndex int
	Participant      types.Participant
	MessageID        string
	Query            string
	Messages         []types.Message
	Descriptor       *StreamDescriptor
}

// Observer receives orchestration events, typically for metrics.
type Observer interface {
	RoundStarted(conversationID string, round int)
	CommandIssued(kind CommandKind)
	ParticipantCompleted(reason types.FinishReason)
	SearchFinished(status Status, timedOut bool)
	SynthesisFinished(status Status, coercions int)
	Reconnected(action Action)
}

type nopObserver struct{}

func (nopObserver) RoundStarted(string, int)               {}
func (nopObserver) CommandIssued(CommandKind)              {}
func (nopObserver) ParticipantCompleted(types.FinishReason) {}
func (nopObserver) SearchFinished(Status, bool)            {}
func (nopObserver) SynthesisFinished(Status, int)          {}
func (nopObserver) Reconnected(Action)                     {}
