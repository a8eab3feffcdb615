package round

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/roundflow/types"
)

// RoundOptions are the per-round settings supplied with the user message.
type RoundOptions struct {
	SearchEnabled bool `json:"search_enabled"`
}

// Options configures an Orchestrator.
type Options struct {
	ConversationID string
	Participants   []types.Participant

	// SearchActivityTimeout force-completes a search whose record saw no
	// activity for this long. Zero disables the check.
	SearchActivityTimeout time.Duration
	// SearchTriggerTimeout fails a triggered search whose record never
	// arrived. Zero disables the check.
	SearchTriggerTimeout time.Duration

	Logger   *zap.Logger
	Observer Observer
	Clock    func() time.Time
	NewID    func() string
}

// ParticipantCompletion is the terminal signal of one participant stream.
// The streaming callback, the reconnect handler and message sync all report
// through it.
type ParticipantCompletion struct {
	RoundNumber      int
	ParticipantIndex int
	FinishReason     types.FinishReason
	Usage            types.Usage
	ErrorMessage     string
	// Parts, when non-empty, replaces the accumulated content.
	Parts  []types.Part
	Source string
}

type roundState struct {
	searchEnabled      bool
	query              string
	searchTriggeredAt  time.Time
	roster             []types.Participant
	expected           []types.Participant
	participantsLocked bool
}

// Orchestrator owns the state of one conversation and exposes every mutation
// as a named transition. A transition evaluates its gates, marks trackers and
// returns the commands to issue, all under one lock, so two callers racing on
// the same round cannot both obtain a trigger.
type Orchestrator struct {
	mu sync.Mutex

	id       string
	logger   *zap.Logger
	observer Observer
	now      func() time.Time
	newID    func() string

	searchActivityTimeout time.Duration
	searchTriggerTimeout  time.Duration

	messages         []types.Message
	searchRecords    []SearchRecord
	synthesisRecords []SynthesisRecord

	searchTriggered  *Tracker
	synthesisCreated *Tracker

	seq      *Sequencer
	recon    Reconciler
	rounds   map[int]*roundState
	watching bool
}

// NewOrchestrator creates an orchestrator for one conversation.
func NewOrchestrator(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Orchestrator{
		id: opts.ConversationID,
		logger: logger.With(
			zap.String("component", "round_orchestrator"),
			zap.String("conversation_id", opts.ConversationID),
		),
		observer:              observer,
		now:                   clock,
		newID:                 newID,
		searchActivityTimeout: opts.SearchActivityTimeout,
		searchTriggerTimeout:  opts.SearchTriggerTimeout,
		searchTriggered:       NewTracker("search_triggered"),
		synthesisCreated:      NewTracker("synthesis_created"),
		seq:                   NewSequencer(opts.Participants),
		rounds:                make(map[int]*roundState),
	}
}

// ConversationID returns the conversation this orchestrator owns.
func (o *Orchestrator) ConversationID() string { return o.id }

// SubmitUserMessage records the user message that opens a new round and
// returns the round number with the commands it unlocks. A new round is
// refused while the current one is still waiting on search or participants.
func (o *Orchestrator) SubmitUserMessage(text string, opts RoundOptions) (int, []Command, error) {
	if strings.TrimSpace(text) == "" {
		return 0, nil, types.NewError(types.ErrInvalidMessage, "user message is empty")
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	current := types.CurrentRound(o.messages)
	if current >= 0 && o.busy(current) {
		return 0, nil, types.Errorf(types.ErrInvalidTransition, "round %d is still in progress", current)
	}

	round := current + 1
	now := o.now()
	o.messages = append(o.messages, &types.UserMessage{
		ID:          o.newID(),
		RoundNumber: round,
		Text:        text,
		CreatedAt:   now,
	})
	o.rounds[round] = &roundState{searchEnabled: opts.SearchEnabled, query: text}
	o.observer.RoundStarted(o.id, round)
	o.logger.Debug("round started",
		zap.Int("round", round),
		zap.Bool("search_enabled", opts.SearchEnabled),
	)
	return round, o.evaluate(round), nil
}

func (o *Orchestrator) busy(round int) bool {
	rs := o.rounds[round]
	if rs == nil {
		return false
	}
	if ShouldWaitForSearch(rs.searchEnabled, o.searchRecords, round) {
		return true
	}
	return o.seq.Started(round) && o.seq.Active()
}

// evaluate computes every gate for round and issues the commands whose gates
// passed and whose trackers were unmarked. It is safe to call any number of
// times; it only returns work that was never issued before.
func (o *Orchestrator) evaluate(round int) []Command {
	rs := o.rounds[round]
	if rs == nil {
		return nil
	}
	var cmds []Command

	if rs.searchEnabled && o.searchTriggered.Mark(round) {
		rs.searchTriggeredAt = o.now()
		cmds = append(cmds, o.issue(Command{
			Kind:        CmdTriggerSearch,
			RoundNumber: round,
			Query:       rs.query,
		}))
	}
	if ShouldWaitForSearch(rs.searchEnabled, o.searchRecords, round) {
		return cmds
	}

	if !rs.participantsLocked && round >= o.seq.Round() {
		rs.participantsLocked = true
		idx, ok := o.seq.Start(round)
		rs.roster = o.seq.Roster()
		rs.expected = o.seq.Roster()
		if ok {
			cmds = append(cmds, o.triggerParticipant(round, idx))
		} else {
			o.logger.Warn("round has no enabled participants", zap.Int("round", round))
		}
	}

	if !rs.participantsLocked || o.synthesisCreated.Has(round) {
		return cmds
	}
	if _, exists := findSynthesis(o.synthesisRecords, round); exists {
		return cmds
	}
	status := GetParticipantCompletionStatus(o.messages, rs.expected, round)
	if !status.AllComplete {
		return cmds
	}

	o.synthesisCreated.Mark(round)
	now := o.now()
	o.synthesisRecords = append(o.synthesisRecords, SynthesisRecord{
		RoundNumber: round,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	cmds = append(cmds, o.issue(Command{
		Kind:        CmdTriggerSynthesis,
		RoundNumber: round,
		Messages:    o.roundMessages(round),
	}))
	return cmds
}

func (o *Orchestrator) issue(cmd Command) Command {
	cmd.ConversationID = o.id
	o.observer.CommandIssued(cmd.Kind)
	o.logger.Debug("command issued",
		zap.String("kind", cmd.Kind.String()),
		zap.Int("round", cmd.RoundNumber),
		zap.Int("participant_index", cmd.ParticipantIndex),
	)
	return cmd
}

func (o *Orchestrator) triggerParticipant(round, idx int) Command {
	p, _ := o.seq.At(idx)
	now := o.now()
	msg := &types.ParticipantMessage{
		ID:               o.newID(),
		RoundNumber:      round,
		ParticipantIndex: idx,
		ParticipantID:    p.ID,
		Model:            p.Model,
		Streaming:        true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	o.messages = append(o.messages, msg)
	o.watching = true
	return o.issue(Command{
		Kind:             CmdTriggerParticipant,
		RoundNumber:      round,
		ParticipantIndex: idx,
		Participant:      p,
		MessageID:        msg.ID,
	})
}

func (o *Orchestrator) roundMessages(round int) []types.Message {
	var out []types.Message
	for _, m := range o.messages {
		if m.Round() == round {
			out = append(out, types.CloneMessage(m))
		}
	}
	return out
}

func (o *Orchestrator) findParticipantMessage(round, idx int) *types.ParticipantMessage {
	for i := len(o.messages) - 1; i >= 0; i-- {
		pm, ok := o.messages[i].(*types.ParticipantMessage)
		if ok && pm.RoundNumber == round && pm.ParticipantIndex == idx {
			return pm
		}
	}
	return nil
}

// AppendParticipantChunk appends streamed text to the participant's message.
// Chunks arriving after the terminal signal are dropped, except for an
// interrupted message whose resumed stream is delivering again.
func (o *Orchestrator) AppendParticipantChunk(round, idx int, delta string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	msg := o.findParticipantMessage(round, idx)
	if msg == nil {
		return types.Errorf(types.ErrInvalidTransition, "no message for round %d participant %d", round, idx)
	}
	if IsMessageInterrupted(msg) {
		msg.FinishReason = types.FinishNone
	}
	if msg.FinishReason.IsTerminal() {
		return nil
	}
	msg.AppendText(delta)
	msg.Streaming = true
	msg.UpdatedAt = o.now()
	return nil
}

// CompleteParticipant records the terminal signal of a participant stream
// and advances the round. It is idempotent: a second completion for the same
// participant changes nothing and issues nothing. An "unknown" reason without
// content marks an interrupted stream; the sequencer then waits for a
// reconnect instead of advancing.
func (o *Orchestrator) CompleteParticipant(c ParticipantCompletion) []Command {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.completeLocked(c)
}

func (o *Orchestrator) completeLocked(c ParticipantCompletion) []Command {
	msg := o.findParticipantMessage(c.RoundNumber, c.ParticipantIndex)
	if msg == nil {
		rs := o.rounds[c.RoundNumber]
		if rs == nil || c.ParticipantIndex < 0 || c.ParticipantIndex >= len(rs.roster) {
			o.logger.Warn("completion for unknown participant",
				zap.Int("round", c.RoundNumber),
				zap.Int("participant_index", c.ParticipantIndex),
			)
			return nil
		}
		p := rs.roster[c.ParticipantIndex]
		msg = &types.ParticipantMessage{
			ID:               o.newID(),
			RoundNumber:      c.RoundNumber,
			ParticipantIndex: c.ParticipantIndex,
			ParticipantID:    p.ID,
			Model:            p.Model,
			CreatedAt:        o.now(),
		}
		o.messages = append(o.messages, msg)
	}

	if msg.FinishReason.IsTerminal() && IsMessageComplete(msg) {
		o.logger.Debug("duplicate participant completion ignored",
			zap.Int("round", c.RoundNumber),
			zap.Int("participant_index", c.ParticipantIndex),
			zap.String("source", c.Source),
		)
		return nil
	}

	if len(c.Parts) > 0 {
		msg.Parts = append([]types.Part(nil), c.Parts...)
	}
	reason := c.FinishReason
	if reason == types.FinishNone {
		reason = types.FinishUnknown
		if msg.HasContent() {
			reason = types.FinishStop
		}
	}
	msg.FinishReason = reason
	msg.Streaming = false
	if !c.Usage.IsZero() {
		msg.Usage = c.Usage
	}
	if c.ErrorMessage != "" {
		msg.ErrorMessage = c.ErrorMessage
	}
	msg.UpdatedAt = o.now()

	if IsMessageInterrupted(msg) {
		o.logger.Warn("participant stream interrupted",
			zap.Int("round", c.RoundNumber),
			zap.Int("participant_index", c.ParticipantIndex),
			zap.String("source", c.Source),
		)
		return nil
	}

	o.observer.ParticipantCompleted(reason)
	if o.recon.Matches(c.RoundNumber, c.ParticipantIndex) {
		o.recon.Clear()
	}

	var cmds []Command
	next, moved := o.seq.AdvanceFrom(c.RoundNumber, c.ParticipantIndex)
	if moved {
		if next == NoParticipant {
			o.watching = false
		} else {
			cmds = append(cmds, o.triggerParticipant(c.RoundNumber, next))
		}
	}
	return append(cmds, o.evaluate(c.RoundNumber)...)
}

// RecordSearchUpdate applies a search record reported by the search
// collaborator. Regressions are rejected.
func (o *Orchestrator) RecordSearchUpdate(rec SearchRecord) []Command {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.searchUpdateLocked(rec)
}

func (o *Orchestrator) searchUpdateLocked(rec SearchRecord) []Command {
	now := o.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.LastActivityAt.IsZero() {
		rec.LastActivityAt = now
	}
	var applied bool
	o.searchRecords, applied = upsertSearch(o.searchRecords, rec)
	if !applied {
		o.logger.Debug("search update rejected",
			zap.Int("round", rec.RoundNumber),
			zap.String("status", string(rec.Status)),
		)
		return nil
	}
	if rec.Status.IsTerminal() {
		o.observer.SearchFinished(rec.Status, rec.TimedOut)
	}
	return o.evaluate(rec.RoundNumber)
}

// ExpireStuckSearches fails open every search that exceeded its activity or
// trigger timeout so downstream phases are unblocked.
func (o *Orchestrator) ExpireStuckSearches(now time.Time) []Command {
	o.mu.Lock()
	defer o.mu.Unlock()

	var cmds []Command
	for _, round := range o.searchTriggered.Rounds() {
		rs := o.rounds[round]
		if rs == nil {
			continue
		}
		i, ok := findSearch(o.searchRecords, round)
		switch {
		case ok && !o.searchRecords[i].Status.IsTerminal() && o.searchActivityTimeout > 0:
			idle := now.Sub(o.searchRecords[i].LastActivityAt)
			if idle < o.searchActivityTimeout {
				continue
			}
			o.logger.Warn("search activity timeout",
				zap.Int("round", round),
				zap.Duration("idle", idle),
			)
			cmds = append(cmds, o.searchUpdateLocked(SearchRecord{
				RoundNumber:    round,
				Status:         StatusComplete,
				TimedOut:       true,
				Error:          "search activity timeout",
				LastActivityAt: now,
			})...)
		case !ok && o.searchTriggerTimeout > 0 && !rs.searchTriggeredAt.IsZero():
			waited := now.Sub(rs.searchTriggeredAt)
			if waited < o.searchTriggerTimeout {
				continue
			}
			o.logger.Warn("search record never arrived",
				zap.Int("round", round),
				zap.Duration("waited", waited),
			)
			cmds = append(cmds, o.searchUpdateLocked(SearchRecord{
				RoundNumber:    round,
				Status:         StatusFailed,
				Query:          rs.query,
				TimedOut:       true,
				Error:          "search trigger timeout",
				CreatedAt:      now,
				LastActivityAt: now,
			})...)
		}
	}
	return cmds
}

// Reconnect reconciles a resumable-stream descriptor reported after a
// (re)connect and returns the chosen action with its commands.
func (o *Orchestrator) Reconnect(desc StreamDescriptor) (Action, []Command) {
	o.mu.Lock()
	defer o.mu.Unlock()

	action := o.recon.Begin(desc, o.messages)
	o.observer.Reconnected(action)
	o.logger.Info("reconnect reconciled",
		zap.Int("round", desc.RoundNumber),
		zap.Int("participant_index", desc.ParticipantIndex),
		zap.String("state", string(desc.State)),
		zap.String("action", action.String()),
	)

	d := desc
	d.ConversationID = o.id
	switch action {
	case ActionResume:
		o.watching = true
		return action, []Command{o.issue(Command{
			Kind:             CmdResumeStream,
			RoundNumber:      desc.RoundNumber,
			ParticipantIndex: desc.ParticipantIndex,
			Descriptor:       &d,
		})}
	case ActionSyncMessage:
		return action, []Command{o.issue(Command{
			Kind:             CmdSyncMessage,
			RoundNumber:      desc.RoundNumber,
			ParticipantIndex: desc.ParticipantIndex,
			Descriptor:       &d,
		})}
	case ActionFail:
		return action, o.failReconnectLocked("stream " + string(desc.State))
	default:
		current := types.CurrentRound(o.messages)
		if current < 0 {
			return action, nil
		}
		return action, o.evaluate(current)
	}
}

func (o *Orchestrator) failReconnectLocked(reason string) []Command {
	desc, _, ok := o.recon.Pending()
	if !ok {
		return nil
	}
	o.recon.FallThrough()
	o.recon.Clear()
	return o.completeLocked(ParticipantCompletion{
		RoundNumber:      desc.RoundNumber,
		ParticipantIndex: desc.ParticipantIndex,
		FinishReason:     types.FinishError,
		ErrorMessage:     reason,
		Source:           "reconnect",
	})
}

// ResumeFailed falls a failed reattach through to the fail path so the
// sequencer can proceed.
func (o *Orchestrator) ResumeFailed(round, idx int, cause error) []Command {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.recon.Matches(round, idx) {
		return nil
	}
	o.logger.Warn("stream resumption failed", zap.Int("round", round), zap.Int("participant_index", idx), zap.Error(cause))
	return o.failReconnectLocked("resumption failed")
}

// SyncFailed falls a failed message sync through to the fail path.
func (o *Orchestrator) SyncFailed(round, idx int, cause error) []Command {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.recon.Matches(round, idx) {
		return nil
	}
	o.logger.Warn("message sync failed", zap.Int("round", round), zap.Int("participant_index", idx), zap.Error(cause))
	return o.failReconnectLocked("message sync failed")
}

// ApplySyncedMessage applies the final persisted message fetched for a
// completed stream and completes the participant.
func (o *Orchestrator) ApplySyncedMessage(msg *types.ParticipantMessage) []Command {
	if msg == nil {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.recon.Matches(msg.RoundNumber, msg.ParticipantIndex) {
		o.recon.Clear()
	}
	reason := msg.FinishReason
	errMsg := msg.ErrorMessage
	if reason == types.FinishNone {
		reason = types.FinishStop
	}
	// The stream reported completion, so an empty final message is a failure
	// rather than an interruption.
	if !msg.HasContent() && (reason == types.FinishStop || reason == types.FinishUnknown) {
		reason = types.FinishError
		if errMsg == "" {
			errMsg = "synced message has no content"
		}
	}
	return o.completeLocked(ParticipantCompletion{
		RoundNumber:      msg.RoundNumber,
		ParticipantIndex: msg.ParticipantIndex,
		FinishReason:     reason,
		Usage:            msg.Usage,
		ErrorMessage:     errMsg,
		Parts:            msg.Parts,
		Source:           "sync",
	})
}

// MarkSynthesisStreaming moves a pending synthesis record to streaming.
func (o *Orchestrator) MarkSynthesisStreaming(round int) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.updateSynthesisLocked(round, func(rec *SynthesisRecord) {
		rec.Status = StatusStreaming
	})
}

// RecordSynthesisResult validates the collaborator's payload, coercing
// invalid fields, and closes the round's synthesis. A payload that cannot be
// parsed at all fails the synthesis instead.
func (o *Orchestrator) RecordSynthesisResult(round int, raw json.RawMessage) bool {
	payload, coercions, err := CoercePayload(raw)
	if err != nil {
		return o.SynthesisFailed(round, err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	ok := o.updateSynthesisLocked(round, func(rec *SynthesisRecord) {
		rec.Status = StatusComplete
		rec.Payload = &payload
		rec.Coercions = coercions
	})
	if !ok {
		return false
	}
	for _, c := range coercions {
		o.logger.Warn("synthesis field coerced",
			zap.Int("round", round),
			zap.String("field", c.Field),
			zap.String("got", c.Got),
			zap.String("default", c.Default),
		)
	}
	o.messages = append(o.messages, &types.SynthesisMessage{
		ID:          o.newID(),
		RoundNumber: round,
		Summary:     payload.Summary,
		CreatedAt:   o.now(),
	})
	o.observer.SynthesisFinished(StatusComplete, len(coercions))
	return true
}

// SynthesisFailed closes the round's synthesis with a failed status. It is
// not retried automatically.
func (o *Orchestrator) SynthesisFailed(round int, cause error) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	msg := "synthesis failed"
	if cause != nil {
		msg = cause.Error()
	}
	ok := o.updateSynthesisLocked(round, func(rec *SynthesisRecord) {
		rec.Status = StatusFailed
		rec.ErrorMessage = msg
	})
	if ok {
		o.logger.Warn("synthesis failed", zap.Int("round", round), zap.String("error", msg))
		o.observer.SynthesisFinished(StatusFailed, 0)
	}
	return ok
}

func (o *Orchestrator) updateSynthesisLocked(round int, mutate func(*SynthesisRecord)) bool {
	i, ok := findSynthesis(o.synthesisRecords, round)
	if !ok {
		return false
	}
	next := o.synthesisRecords[i]
	mutate(&next)
	if !CanTransition(o.synthesisRecords[i].Status, next.Status) ||
		(o.synthesisRecords[i].Status.IsTerminal() && next.Status == o.synthesisRecords[i].Status) {
		return false
	}
	next.UpdatedAt = o.now()
	o.synthesisRecords[i] = next
	return true
}

// RetrySynthesis explicitly retries a failed synthesis. It clears the
// synthesis tracker for round and re-runs the gate.
func (o *Orchestrator) RetrySynthesis(round int) ([]Command, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	i, ok := findSynthesis(o.synthesisRecords, round)
	if !ok {
		return nil, types.Errorf(types.ErrRoundNotFound, "round %d has no synthesis", round)
	}
	if o.synthesisRecords[i].Status != StatusFailed {
		return nil, types.Errorf(types.ErrSynthesisNotRetryable,
			"synthesis for round %d is %s", round, o.synthesisRecords[i].Status)
	}
	o.synthesisRecords = append(o.synthesisRecords[:i], o.synthesisRecords[i+1:]...)
	o.synthesisCreated.Clear(round)
	o.logger.Info("synthesis retry", zap.Int("round", round))
	return o.evaluate(round), nil
}

// SetParticipants replaces the participant configuration. Disabling takes
// effect in the running round; additions apply from the next round.
func (o *Orchestrator) SetParticipants(participants []types.Participant) ([]Command, error) {
	seen := make(map[string]bool, len(participants))
	for _, p := range participants {
		if strings.TrimSpace(p.ID) == "" {
			return nil, types.NewError(types.ErrInvalidRequest, "participant id is required")
		}
		if seen[p.ID] {
			return nil, types.Errorf(types.ErrInvalidRequest, "duplicate participant id %q", p.ID)
		}
		seen[p.ID] = true
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.seq.SetParticipants(participants)
	current := types.CurrentRound(o.messages)
	rs := o.rounds[current]
	if rs == nil || !rs.participantsLocked {
		return nil, nil
	}
	enabled := make(map[string]bool, len(participants))
	for _, p := range participants {
		if p.Enabled {
			enabled[p.ID] = true
		}
	}
	kept := rs.expected[:0:0]
	for _, p := range rs.expected {
		if enabled[p.ID] {
			kept = append(kept, p)
		}
	}
	rs.expected = kept
	return o.evaluate(current), nil
}

// Detach records that the client stopped watching. In-flight streams are
// never cancelled; the producer runs to completion and the client reconciles
// on return.
func (o *Orchestrator) Detach() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.watching = false
}

// Attach marks the client as watching again without touching the round.
// Hosts call it when they already own the live stream the client returns to.
func (o *Orchestrator) Attach() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.watching = true
}

// Evaluate re-runs the gates of the current round. Hosts call it after a
// restart or whenever they are unsure whether work is outstanding.
func (o *Orchestrator) Evaluate() []Command {
	o.mu.Lock()
	defer o.mu.Unlock()
	current := types.CurrentRound(o.messages)
	if current < 0 {
		return nil
	}
	return o.evaluate(current)
}

// View is a read-only snapshot of the conversation.
type View struct {
	ConversationID          string              `json:"conversation_id"`
	CurrentRound            int                 `json:"current_round"`
	Messages                []types.Message     `json:"messages"`
	SearchRecords           []SearchRecord      `json:"search_records"`
	SynthesisRecords        []SynthesisRecord   `json:"synthesis_records"`
	Participants            []types.Participant `json:"participants"`
	Completion              CompletionStatus    `json:"completion"`
	AllComplete             bool                `json:"all_complete"`
	ShouldWaitForSearch     bool                `json:"should_wait_for_search"`
	NeedsStreamResumption   bool                `json:"needs_stream_resumption"`
	NeedsMessageSync        bool                `json:"needs_message_sync"`
	CurrentParticipantIndex int                 `json:"current_participant_index"`
	Watching                bool                `json:"watching"`
	SearchTriggeredRounds   []int               `json:"search_triggered_rounds"`
	SynthesisCreatedRounds  []int               `json:"synthesis_created_rounds"`
}

// View returns a snapshot of the derived read-only state.
func (o *Orchestrator) View() View {
	o.mu.Lock()
	defer o.mu.Unlock()

	current := types.CurrentRound(o.messages)
	v := View{
		ConversationID:          o.id,
		CurrentRound:            current,
		Messages:                make([]types.Message, 0, len(o.messages)),
		SearchRecords:           append([]SearchRecord(nil), o.searchRecords...),
		SynthesisRecords:        append([]SynthesisRecord(nil), o.synthesisRecords...),
		Participants:            o.seq.Configured(),
		NeedsStreamResumption:   o.recon.NeedsStreamResumption(),
		NeedsMessageSync:        o.recon.NeedsMessageSync(),
		CurrentParticipantIndex: NoParticipant,
		Watching:                o.watching,
		SearchTriggeredRounds:   o.searchTriggered.Rounds(),
		SynthesisCreatedRounds:  o.synthesisCreated.Rounds(),
	}
	for _, m := range o.messages {
		v.Messages = append(v.Messages, types.CloneMessage(m))
	}
	if o.seq.Started(current) {
		v.CurrentParticipantIndex = o.seq.Current()
	}
	if rs := o.rounds[current]; rs != nil {
		expected := rs.expected
		if !rs.participantsLocked {
			expected = types.SortByPriority(o.seq.Configured())
		}
		v.Completion = GetParticipantCompletionStatus(o.messages, expected, current)
		v.AllComplete = v.Completion.AllComplete
		v.ShouldWaitForSearch = ShouldWaitForSearch(rs.searchEnabled, o.searchRecords, current)
	}
	return v
}

// Watching reports whether the client is currently watching a stream.
func (o *Orchestrator) Watching() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.watching
}

// Transcript returns copies of the messages a participant prompt is built
// from. Participant messages that are not complete are left out.
func (o *Orchestrator) Transcript() []types.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]types.Message, 0, len(o.messages))
	for _, m := range o.messages {
		if pm, ok := m.(*types.ParticipantMessage); ok && !IsMessageComplete(pm) {
			continue
		}
		out = append(out, types.CloneMessage(m))
	}
	return out
}

// ParticipantMessage returns a copy of the message for one participant slot.
func (o *Orchestrator) ParticipantMessage(round, idx int) (*types.ParticipantMessage, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	msg := o.findParticipantMessage(round, idx)
	if msg == nil {
		return nil, false
	}
	return msg.Clone(), true
}

// SearchRecord returns the search record of round.
func (o *Orchestrator) SearchRecord(round int) (SearchRecord, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	i, ok := findSearch(o.searchRecords, round)
	if !ok {
		return SearchRecord{}, false
	}
	return o.searchRecords[i], true
}

// SynthesisRecord returns the synthesis record of round.
func (o *Orchestrator) SynthesisRecord(round int) (SynthesisRecord, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	i, ok := findSynthesis(o.synthesisRecords, round)
	if !ok {
		return SynthesisRecord{}, false
	}
	return o.synthesisRecords[i], true
}
