package runtime

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/roundflow/round"
	"github.com/BaSui01/roundflow/types"
)

var (
	errSearchUnavailable    = errors.New("search service not configured")
	errSynthesisUnavailable = errors.New("synthesis service not configured")
	errStoreUnavailable     = errors.New("message store not configured")
	errMessageNotPersisted  = errors.New("final message not found in store")
)

// dispatch issues every command on its own goroutine and publishes the new
// view. Stream slots are claimed before the goroutine starts so a handoff
// from a finished pump to its resume never leaves the slot unowned.
func (e *Engine) dispatch(s *Session, cmds []round.Command) {
	for _, cmd := range cmds {
		cmd := cmd
		owns := ownsSlot(cmd.Kind)
		if owns {
			s.acquire(cmd.RoundNumber, cmd.ParticipantIndex)
		}
		e.wg.Go(func() {
			if owns {
				defer s.release(cmd.RoundNumber, cmd.ParticipantIndex)
			}
			e.execute(s, cmd)
		})
	}
	e.publish(s)
}

func ownsSlot(kind round.CommandKind) bool {
	switch kind {
	case round.CmdTriggerParticipant, round.CmdResumeStream, round.CmdSyncMessage:
		return true
	}
	return false
}

func (e *Engine) publish(s *Session) {
	if s.hasSubscribers() {
		s.broadcast(s.orch.View())
	}
}

func (e *Engine) execute(s *Session, cmd round.Command) {
	ctx, span := e.tracer.Start(e.ctx, "round."+cmd.Kind.String(), trace.WithAttributes(
		attribute.String("conversation_id", cmd.ConversationID),
		attribute.Int("round", cmd.RoundNumber),
		attribute.Int("participant_index", cmd.ParticipantIndex),
	))
	defer span.End()

	var err error
	switch cmd.Kind {
	case round.CmdTriggerSearch:
		err = e.runSearch(ctx, s, cmd)
	case round.CmdTriggerParticipant:
		err = e.runParticipant(ctx, s, cmd)
	case round.CmdResumeStream:
		err = e.runResume(ctx, s, cmd)
	case round.CmdSyncMessage:
		err = e.runSync(ctx, s, cmd)
	case round.CmdTriggerSynthesis:
		err = e.runSynthesis(ctx, s, cmd)
	default:
		e.logger.Error("unknown command", zap.Int("kind", int(cmd.Kind)))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.CollaboratorTimeout > 0 {
		return context.WithTimeout(ctx, e.cfg.CollaboratorTimeout)
	}
	return context.WithCancel(ctx)
}

// =============================================================================
// Search
// =============================================================================

func (e *Engine) runSearch(ctx context.Context, s *Session, cmd round.Command) error {
	now := e.deps.Clock()
	e.dispatch(s, s.orch.RecordSearchUpdate(round.SearchRecord{
		RoundNumber:    cmd.RoundNumber,
		Status:         round.StatusStreaming,
		Query:          cmd.Query,
		CreatedAt:      now,
		LastActivityAt: now,
	}))

	var (
		result *round.SearchResult
		err    error
	)
	if e.deps.Search == nil {
		err = errSearchUnavailable
	} else {
		cctx, cancel := e.callContext(ctx)
		start := time.Now()
		result, err = e.deps.Search.Search(cctx, SearchRequest{
			ConversationID: s.id,
			RoundNumber:    cmd.RoundNumber,
			Query:          cmd.Query,
		})
		cancel()
		e.metrics.RecordCollaboratorCall("search", err, time.Since(start))
	}

	rec := round.SearchRecord{
		RoundNumber:    cmd.RoundNumber,
		Status:         round.StatusComplete,
		Query:          cmd.Query,
		Result:         result,
		LastActivityAt: e.deps.Clock(),
	}
	if err != nil {
		rec.Status = round.StatusFailed
		rec.Result = nil
		rec.Error = err.Error()
		rec.TimedOut = errors.Is(err, context.DeadlineExceeded)
		e.logger.Warn("search failed, continuing without it",
			zap.String("conversation_id", s.id),
			zap.Int("round", cmd.RoundNumber),
			zap.Error(err),
		)
	}
	cmds := s.orch.RecordSearchUpdate(rec)
	e.saveSearch(ctx, s, cmd.RoundNumber)
	e.dispatch(s, cmds)
	return err
}

// =============================================================================
// Participants
// =============================================================================

func (e *Engine) runParticipant(ctx context.Context, s *Session, cmd round.Command) error {
	e.putDescriptor(ctx, s, cmd.RoundNumber, cmd.ParticipantIndex, round.StreamActive)

	req := StreamRequest{
		ConversationID:   s.id,
		RoundNumber:      cmd.RoundNumber,
		ParticipantIndex: cmd.ParticipantIndex,
		Participant:      cmd.Participant,
		MessageID:        cmd.MessageID,
		Messages:         s.orch.Transcript(),
	}
	start := time.Now()
	ch, err := e.deps.Streamer.Stream(ctx, req)
	if err != nil {
		e.metrics.RecordCollaboratorCall("stream", err, time.Since(start))
		e.logger.Warn("participant stream failed to start",
			zap.String("conversation_id", s.id),
			zap.Int("round", cmd.RoundNumber),
			zap.Int("participant_index", cmd.ParticipantIndex),
			zap.Error(err),
		)
		e.finishParticipant(ctx, s, round.ParticipantCompletion{
			RoundNumber:      cmd.RoundNumber,
			ParticipantIndex: cmd.ParticipantIndex,
			FinishReason:     types.FinishError,
			ErrorMessage:     err.Error(),
			Source:           "stream",
		}, req.Messages)
		return err
	}
	err = e.pump(ctx, s, cmd.RoundNumber, cmd.ParticipantIndex, ch, "stream", req.Messages)
	e.metrics.RecordCollaboratorCall("stream", err, time.Since(start))
	return err
}

func (e *Engine) runResume(ctx context.Context, s *Session, cmd round.Command) error {
	if cmd.Descriptor == nil {
		return errors.New("resume command without descriptor")
	}
	start := time.Now()
	ch, err := e.deps.Streamer.Resume(ctx, *cmd.Descriptor)
	if err != nil {
		e.metrics.RecordCollaboratorCall("resume", err, time.Since(start))
		cmds := s.orch.ResumeFailed(cmd.RoundNumber, cmd.ParticipantIndex, err)
		e.settle(ctx, s, cmd.RoundNumber, cmd.ParticipantIndex)
		e.dispatch(s, cmds)
		return err
	}
	err = e.pump(ctx, s, cmd.RoundNumber, cmd.ParticipantIndex, ch, "resume", s.orch.Transcript())
	e.metrics.RecordCollaboratorCall("resume", err, time.Since(start))
	return err
}

func (e *Engine) runSync(ctx context.Context, s *Session, cmd round.Command) error {
	var (
		msg   *types.ParticipantMessage
		found bool
		err   error
	)
	if e.deps.Messages == nil {
		err = errStoreUnavailable
	} else {
		msg, found, err = e.deps.Messages.FetchParticipantMessage(ctx, s.id, cmd.RoundNumber, cmd.ParticipantIndex)
		if err == nil && !found {
			err = errMessageNotPersisted
		}
	}

	var cmds []round.Command
	if err != nil {
		cmds = s.orch.SyncFailed(cmd.RoundNumber, cmd.ParticipantIndex, err)
	} else {
		msg.RoundNumber = cmd.RoundNumber
		msg.ParticipantIndex = cmd.ParticipantIndex
		cmds = s.orch.ApplySyncedMessage(msg)
	}
	e.settle(ctx, s, cmd.RoundNumber, cmd.ParticipantIndex)
	e.dispatch(s, cmds)
	return err
}

// pump feeds stream events into the orchestrator until the stream ends. A
// stream that closes without a terminal event is completed with no reason,
// which the orchestrator resolves to stop or interrupted from the content.
func (e *Engine) pump(ctx context.Context, s *Session, roundNumber, idx int, ch <-chan StreamEvent, source string, prompt []types.Message) error {
	c := round.ParticipantCompletion{
		RoundNumber:      roundNumber,
		ParticipantIndex: idx,
		Source:           source,
	}
	var streamErr error

loop:
	for ev := range ch {
		if ev.Delta != "" {
			if err := s.orch.AppendParticipantChunk(roundNumber, idx, ev.Delta); err != nil {
				e.logger.Warn("chunk dropped", zap.String("conversation_id", s.id), zap.Error(err))
			}
			e.publish(s)
		}
		switch {
		case ev.Err != nil:
			streamErr = ev.Err
			c.FinishReason = types.FinishError
			c.ErrorMessage = ev.Err.Error()
			break loop
		case ev.FinishReason.IsTerminal():
			c.FinishReason = ev.FinishReason
			c.Usage = ev.Usage
			c.ErrorMessage = ev.ErrorMessage
			break loop
		}
	}
	// Let the producer finish sending.
	go func() {
		for range ch {
		}
	}()

	e.finishParticipant(ctx, s, c, prompt)
	return streamErr
}

func (e *Engine) finishParticipant(ctx context.Context, s *Session, c round.ParticipantCompletion, prompt []types.Message) {
	if c.Usage.IsZero() && e.deps.Usage != nil {
		if cur, ok := s.orch.ParticipantMessage(c.RoundNumber, c.ParticipantIndex); ok && cur.HasContent() {
			c.Usage = e.deps.Usage.Backfill(c.Usage, prompt, cur.Text())
		}
	}

	cmds := s.orch.CompleteParticipant(c)
	msg, ok := s.orch.ParticipantMessage(c.RoundNumber, c.ParticipantIndex)
	if ok && round.IsMessageInterrupted(msg) {
		e.publish(s)
		e.recoverInterrupted(ctx, s, c.RoundNumber, c.ParticipantIndex)
		return
	}
	if ok && round.IsMessageComplete(msg) {
		e.metrics.RecordTokens(msg.Model, msg.Usage)
	}
	e.settle(ctx, s, c.RoundNumber, c.ParticipantIndex)
	e.dispatch(s, cmds)
}

// recoverInterrupted consults the descriptor store for a stream that ended
// without content. A live descriptor leads to a resume, a completed one to a
// message sync; anything else fails the participant so the round proceeds.
func (e *Engine) recoverInterrupted(ctx context.Context, s *Session, roundNumber, idx int) {
	attempt := s.nextResumeAttempt(roundNumber, idx)
	reason := "stream interrupted"

	if e.deps.Descriptors != nil && attempt <= e.cfg.MaxResumeAttempts {
		desc, found, err := e.deps.Descriptors.Get(ctx, s.id)
		switch {
		case err != nil:
			e.logger.Warn("descriptor lookup failed", zap.String("conversation_id", s.id), zap.Error(err))
		case found && desc.RoundNumber == roundNumber && desc.ParticipantIndex == idx:
			action, cmds := s.orch.Reconnect(desc)
			if action != round.ActionNone {
				e.logger.Info("recovering interrupted stream",
					zap.String("conversation_id", s.id),
					zap.Int("round", roundNumber),
					zap.Int("participant_index", idx),
					zap.String("action", action.String()),
					zap.Int("attempt", attempt),
				)
				if action == round.ActionFail {
					e.settle(ctx, s, roundNumber, idx)
				}
				e.dispatch(s, cmds)
				return
			}
			e.dispatch(s, cmds)
		}
	} else if attempt > e.cfg.MaxResumeAttempts {
		reason = "stream interrupted, resume attempts exhausted"
	}

	e.logger.Warn("interrupted stream cannot be recovered",
		zap.String("conversation_id", s.id),
		zap.Int("round", roundNumber),
		zap.Int("participant_index", idx),
		zap.String("reason", reason),
	)
	cmds := s.orch.CompleteParticipant(round.ParticipantCompletion{
		RoundNumber:      roundNumber,
		ParticipantIndex: idx,
		FinishReason:     types.FinishError,
		ErrorMessage:     reason,
		Source:           "runtime",
	})
	e.settle(ctx, s, roundNumber, idx)
	e.dispatch(s, cmds)
}

// settle records the final state of a participant slot: its descriptor
// lifecycle and its persisted message.
func (e *Engine) settle(ctx context.Context, s *Session, roundNumber, idx int) {
	msg, ok := s.orch.ParticipantMessage(roundNumber, idx)
	if !ok || !round.IsMessageComplete(msg) {
		return
	}
	state := round.StreamCompleted
	if msg.FinishReason == types.FinishError {
		state = round.StreamFailed
	}
	e.putDescriptor(ctx, s, roundNumber, idx, state)
	if e.deps.Messages != nil {
		if err := e.deps.Messages.SaveParticipantMessage(ctx, s.id, msg); err != nil {
			e.logger.Warn("persist participant message failed",
				zap.String("conversation_id", s.id),
				zap.Int("round", roundNumber),
				zap.Int("participant_index", idx),
				zap.Error(err),
			)
		}
	}
}

func (e *Engine) putDescriptor(ctx context.Context, s *Session, roundNumber, idx int, state round.LifecycleState) {
	if e.deps.Descriptors == nil {
		return
	}
	err := e.deps.Descriptors.Put(ctx, round.StreamDescriptor{
		ConversationID:   s.id,
		RoundNumber:      roundNumber,
		ParticipantIndex: idx,
		State:            state,
		CreatedAt:        e.deps.Clock(),
	})
	if err != nil {
		e.logger.Warn("store stream descriptor failed", zap.String("conversation_id", s.id), zap.Error(err))
	}
}

// =============================================================================
// Synthesis
// =============================================================================

func (e *Engine) runSynthesis(ctx context.Context, s *Session, cmd round.Command) error {
	s.orch.MarkSynthesisStreaming(cmd.RoundNumber)
	e.publish(s)
	if e.deps.Descriptors != nil {
		if err := e.deps.Descriptors.Clear(ctx, s.id); err != nil {
			e.logger.Warn("clear stream descriptor failed", zap.String("conversation_id", s.id), zap.Error(err))
		}
	}

	var err error
	if e.deps.Synthesis == nil {
		err = errSynthesisUnavailable
		s.orch.SynthesisFailed(cmd.RoundNumber, err)
	} else {
		cctx, cancel := e.callContext(ctx)
		start := time.Now()
		raw, callErr := e.deps.Synthesis.Synthesize(cctx, SynthesisRequest{
			ConversationID: s.id,
			RoundNumber:    cmd.RoundNumber,
			Messages:       cmd.Messages,
		})
		cancel()
		e.metrics.RecordCollaboratorCall("synthesis", callErr, time.Since(start))
		err = callErr
		if err != nil {
			s.orch.SynthesisFailed(cmd.RoundNumber, err)
		} else {
			s.orch.RecordSynthesisResult(cmd.RoundNumber, raw)
		}
	}
	if err != nil {
		e.logger.Warn("synthesis failed",
			zap.String("conversation_id", s.id),
			zap.Int("round", cmd.RoundNumber),
			zap.Error(err),
		)
	}
	e.saveSynthesis(ctx, s, cmd.RoundNumber)
	e.publish(s)
	return err
}

// =============================================================================
// Persistence
// =============================================================================

func (e *Engine) saveSearch(ctx context.Context, s *Session, roundNumber int) {
	if e.deps.Messages == nil {
		return
	}
	rec, ok := s.orch.SearchRecord(roundNumber)
	if !ok {
		return
	}
	if err := e.deps.Messages.SaveSearchRecord(ctx, s.id, rec); err != nil {
		e.logger.Warn("persist search record failed", zap.String("conversation_id", s.id), zap.Error(err))
	}
}

func (e *Engine) saveSynthesis(ctx context.Context, s *Session, roundNumber int) {
	if e.deps.Messages == nil {
		return
	}
	rec, ok := s.orch.SynthesisRecord(roundNumber)
	if !ok {
		return
	}
	if err := e.deps.Messages.SaveSynthesisRecord(ctx, s.id, rec); err != nil {
		e.logger.Warn("persist synthesis record failed", zap.String("conversation_id", s.id), zap.Error(err))
	}
}
