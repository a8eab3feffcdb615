package runtime

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/roundflow/config"
	"github.com/BaSui01/roundflow/round"
	"github.com/BaSui01/roundflow/types"
)

const tracerName = "github.com/BaSui01/roundflow/round/runtime"

// Config holds the engine's timing and roster settings.
type Config struct {
	// Participants is the roster every new conversation starts with.
	Participants []types.Participant

	SearchActivityTimeout time.Duration
	SearchTriggerTimeout  time.Duration
	WatchdogInterval      time.Duration
	// CollaboratorTimeout bounds search and synthesis calls. Participant
	// streams are not bounded.
	CollaboratorTimeout time.Duration
	// MaxResumeAttempts caps automatic resumption of one interrupted stream.
	MaxResumeAttempts int
}

// ConfigFrom builds a Config from the orchestrator section of the
// application config.
func ConfigFrom(c config.OrchestratorConfig, participants []types.Participant) Config {
	return Config{
		Participants:          participants,
		SearchActivityTimeout: c.SearchActivityTimeout,
		SearchTriggerTimeout:  c.SearchTriggerTimeout,
		WatchdogInterval:      c.WatchdogInterval,
		CollaboratorTimeout:   c.CollaboratorTimeout,
	}
}

// Dependencies are the collaborators the engine issues commands to. Only
// Streamer is required.
type Dependencies struct {
	Streamer    ParticipantStreamer
	Search      SearchService
	Synthesis   SynthesisService
	Messages    MessageStore
	Descriptors DescriptorStore
	Usage       UsageEstimator
	Metrics     Metrics
	Observer    round.Observer
	Clock       func() time.Time
	NewID       func() string
}

// Engine hosts one orchestrator per conversation and performs the commands
// they emit. Collaborator calls run on goroutines rooted in the engine's own
// context, so a client going away never cancels work in flight.
type Engine struct {
	cfg     Config
	deps    Dependencies
	metrics Metrics
	logger  *zap.Logger
	tracer  trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup

	lifeMu sync.RWMutex
	closed bool

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewEngine creates an engine.
func NewEngine(cfg Config, deps Dependencies, logger *zap.Logger) (*Engine, error) {
	if deps.Streamer == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "participant streamer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = 5 * time.Second
	}
	if cfg.MaxResumeAttempts <= 0 {
		cfg.MaxResumeAttempts = 3
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:      cfg,
		deps:     deps,
		metrics:  metrics,
		logger:   logger.With(zap.String("component", "round_engine")),
		tracer:   otel.Tracer(tracerName),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}, nil
}

// guard runs fn unless the engine is closed. Close waits for running guards
// before it waits for in-flight work.
func (e *Engine) guard(fn func() error) error {
	e.lifeMu.RLock()
	defer e.lifeMu.RUnlock()
	if e.closed {
		return types.NewError(types.ErrEngineClosed, "engine is closed")
	}
	return fn()
}

func validConversationID(id string) error {
	if strings.TrimSpace(id) == "" {
		return types.NewError(types.ErrInvalidRequest, "conversation id is required")
	}
	return nil
}

// open returns the session for id, creating it on first use.
func (e *Engine) open(id string) *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.sessions[id]; ok {
		return s
	}
	orch := round.NewOrchestrator(round.Options{
		ConversationID:        id,
		Participants:          e.cfg.Participants,
		SearchActivityTimeout: e.cfg.SearchActivityTimeout,
		SearchTriggerTimeout:  e.cfg.SearchTriggerTimeout,
		Logger:                e.logger,
		Observer:              e.deps.Observer,
		Clock:                 e.deps.Clock,
		NewID:                 e.deps.NewID,
	})
	s := newSession(id, orch)
	e.sessions[id] = s
	e.metrics.SetActiveSessions(len(e.sessions))
	e.logger.Debug("session opened", zap.String("conversation_id", id))
	return s
}

func (e *Engine) lookup(id string) (*Session, error) {
	if err := validConversationID(id); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[id]
	if !ok {
		return nil, types.Errorf(types.ErrConversationNotFound, "conversation %q not found", id)
	}
	return s, nil
}

// Session returns the session of an existing conversation.
func (e *Engine) Session(id string) (*Session, error) {
	return e.lookup(id)
}

// Sessions returns the number of conversations held by the engine.
func (e *Engine) Sessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

func (e *Engine) snapshot() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// =============================================================================
// Conversation operations
// =============================================================================

// Submit opens a new round with the user's message and starts its work.
func (e *Engine) Submit(conversationID, text string, opts round.RoundOptions) (int, error) {
	if err := validConversationID(conversationID); err != nil {
		return 0, err
	}
	var roundNumber int
	err := e.guard(func() error {
		s := e.open(conversationID)
		n, cmds, err := s.orch.SubmitUserMessage(text, opts)
		if err != nil {
			return err
		}
		roundNumber = n
		e.dispatch(s, cmds)
		return nil
	})
	return roundNumber, err
}

// SetParticipants replaces the conversation's roster. Configuring a roster
// before the first message creates the conversation.
func (e *Engine) SetParticipants(conversationID string, participants []types.Participant) error {
	if err := validConversationID(conversationID); err != nil {
		return err
	}
	return e.guard(func() error {
		s := e.open(conversationID)
		cmds, err := s.orch.SetParticipants(participants)
		if err != nil {
			return err
		}
		e.dispatch(s, cmds)
		return nil
	})
}

// Reconnect reconciles a client's return. With a nil descriptor the stored
// descriptor, if any, is used; without one the current round is simply
// re-evaluated. A descriptor for a slot the engine is still reading only
// re-attaches the client; no resume or message sync is issued.
func (e *Engine) Reconnect(ctx context.Context, conversationID string, desc *round.StreamDescriptor) (round.Action, error) {
	s, err := e.lookup(conversationID)
	if err != nil {
		return round.ActionNone, err
	}
	if desc == nil && e.deps.Descriptors != nil {
		stored, found, err := e.deps.Descriptors.Get(ctx, conversationID)
		if err != nil {
			return round.ActionNone, types.NewError(types.ErrStoreUnavailable, "load stream descriptor failed").WithCause(err)
		}
		if found {
			desc = &stored
		}
	}

	action := round.ActionNone
	err = e.guard(func() error {
		if desc == nil {
			e.dispatch(s, s.orch.Evaluate())
			return nil
		}
		if s.pumping(desc.RoundNumber, desc.ParticipantIndex) {
			// The engine is still reading this stream; the client only needs
			// to follow it.
			s.orch.Attach()
			action = round.ActionResume
			e.logger.Debug("reconnect attached to live stream",
				zap.String("conversation_id", conversationID),
				zap.Int("round", desc.RoundNumber),
				zap.Int("participant_index", desc.ParticipantIndex),
			)
			e.publish(s)
			return nil
		}
		var cmds []round.Command
		action, cmds = s.orch.Reconnect(*desc)
		e.dispatch(s, cmds)
		return nil
	})
	return action, err
}

// Detach records that the client stopped watching. Streams keep running.
func (e *Engine) Detach(conversationID string) error {
	s, err := e.lookup(conversationID)
	if err != nil {
		return err
	}
	s.orch.Detach()
	e.publish(s)
	return nil
}

// RetrySynthesis retries a failed synthesis.
func (e *Engine) RetrySynthesis(conversationID string, roundNumber int) error {
	s, err := e.lookup(conversationID)
	if err != nil {
		return err
	}
	return e.guard(func() error {
		cmds, err := s.orch.RetrySynthesis(roundNumber)
		if err != nil {
			return err
		}
		e.dispatch(s, cmds)
		return nil
	})
}

// View returns the conversation's current view.
func (e *Engine) View(conversationID string) (round.View, error) {
	s, err := e.lookup(conversationID)
	if err != nil {
		return round.View{}, err
	}
	return s.orch.View(), nil
}

// Subscribe streams views of the conversation, starting with the current
// one. The returned function unsubscribes; the channel is also closed when
// the engine closes.
func (e *Engine) Subscribe(conversationID string) (<-chan round.View, func(), error) {
	if err := validConversationID(conversationID); err != nil {
		return nil, nil, err
	}
	var (
		ch     <-chan round.View
		cancel func()
	)
	err := e.guard(func() error {
		s := e.open(conversationID)
		ch, cancel = s.subscribe()
		s.broadcast(s.orch.View())
		return nil
	})
	return ch, cancel, err
}

// =============================================================================
// Lifecycle
// =============================================================================

// Run drives the search watchdog until ctx is done or the engine closes.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.WatchdogInterval)
	defer ticker.Stop()

	e.logger.Info("search watchdog started", zap.Duration("interval", e.cfg.WatchdogInterval))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.ctx.Done():
			return nil
		case <-ticker.C:
			e.Sweep()
		}
	}
}

// Sweep runs one watchdog pass, failing open every stuck search.
func (e *Engine) Sweep() {
	_ = e.guard(func() error {
		now := e.deps.Clock()
		sessions := e.snapshot()
		for _, s := range sessions {
			cmds := s.orch.ExpireStuckSearches(now)
			if len(cmds) == 0 {
				continue
			}
			seen := make(map[int]bool)
			for _, cmd := range cmds {
				if !seen[cmd.RoundNumber] {
					seen[cmd.RoundNumber] = true
					e.saveSearch(e.ctx, s, cmd.RoundNumber)
				}
			}
			e.dispatch(s, cmds)
		}
		e.metrics.SetActiveSessions(len(sessions))
		return nil
	})
}

// Ping reports whether the engine still accepts work.
func (e *Engine) Ping() error {
	return e.guard(func() error { return nil })
}

// Close stops accepting work and waits for in-flight collaborator calls
// until ctx is done, after which they are cancelled.
func (e *Engine) Close(ctx context.Context) error {
	e.lifeMu.Lock()
	if e.closed {
		e.lifeMu.Unlock()
		return nil
	}
	e.closed = true
	e.lifeMu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if r := e.wg.WaitAndRecover(); r != nil {
			e.logger.Error("collaborator task panicked", zap.String("panic", r.String()))
		}
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		e.logger.Warn("engine close timed out, cancelling in-flight work")
	}
	e.cancel()
	for _, s := range e.snapshot() {
		s.closeSubscribers()
	}
	e.logger.Info("engine closed")
	return err
}
