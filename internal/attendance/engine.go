package attendance

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultCollectWindow = 20 * time.Second
	defaultSearchTTL     = 60 * time.Second
	defaultSelectionTTL  = 30 * time.Second
	defaultReviewTTL     = 2 * time.Hour
)

var (
	errMissingPresenter = errors.New("presenter is required")
	errMissingDirectory = errors.New("member directory is required")
	errMissingCrediter  = errors.New("attendance crediter is required")
)

// Config wires the engine dependencies and timings.
type Config struct {
	Presenter Presenter
	Directory Directory
	Crediter  Crediter
	Observers []Observer
	Recorder  Recorder

	CollectWindow time.Duration
	SearchTTL     time.Duration
	SelectionTTL  time.Duration
	ReviewTTL     time.Duration

	Clock  func() time.Time
	Logger *zap.Logger
}

// Engine owns the live sessions. Each session is served by one goroutine
// that applies events in arrival order.
type Engine struct {
	cfg    Config
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	sessions map[string]*session
	stopped  bool
}

// NewEngine validates the configuration and applies default timings.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Presenter == nil {
		return nil, errMissingPresenter
	}
	if cfg.Directory == nil {
		return nil, errMissingDirectory
	}
	if cfg.Crediter == nil {
		return nil, errMissingCrediter
	}
	if cfg.CollectWindow <= 0 {
		cfg.CollectWindow = defaultCollectWindow
	}
	if cfg.SearchTTL <= 0 {
		cfg.SearchTTL = defaultSearchTTL
	}
	if cfg.SelectionTTL <= 0 {
		cfg.SelectionTTL = defaultSelectionTTL
	}
	if cfg.ReviewTTL <= 0 {
		cfg.ReviewTTL = defaultReviewTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:      cfg,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
	}, nil
}

// Start posts the collecting view and opens the registration window.
func (e *Engine) Start(ctx context.Context, event Event) (Snapshot, error) {
	if e.isStopped() {
		return Snapshot{}, ErrEngineStopped
	}
	id, err := uuid.NewV7()
	if err != nil {
		return Snapshot{}, err
	}
	state := &session{
		engine:    e,
		id:        id.String(),
		event:     event,
		phase:     PhaseCollecting,
		attending: make(map[string]struct{}),
		prompts:   make(map[string]promptState),
		startedAt: e.cfg.Clock().UTC(),
		events:    make(chan envelope),
		done:      make(chan struct{}),
	}
	snapshot := state.snapshot()
	if err := e.cfg.Presenter.ShowCollecting(ctx, snapshot); err != nil {
		return Snapshot{}, err
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return Snapshot{}, ErrEngineStopped
	}
	e.sessions[state.id] = state
	e.wg.Add(1)
	e.mu.Unlock()

	if e.cfg.Recorder != nil {
		e.cfg.Recorder.SessionStarted(string(event.EventType))
	}
	e.logger.Info("attendance session started",
		zap.String("session_id", state.id),
		zap.String("host_id", event.HostID),
		zap.String("event_type", string(event.EventType)))
	go state.run(e.ctx)
	return snapshot, nil
}

// Register records a self-registration during the collecting window.
// It reports false when the member was already registered.
func (e *Engine) Register(ctx context.Context, sessionID, memberID string) (bool, error) {
	result, err := e.dispatch(ctx, sessionID, registerEvent{memberID: memberID})
	return result.added, err
}

// OpenPrompt starts a host review control. Member controls return a search
// form token; the event-type control returns a selection directly.
func (e *Engine) OpenPrompt(ctx context.Context, sessionID, actorID string, kind PromptKind) (Prompt, error) {
	result, err := e.dispatch(ctx, sessionID, openPromptEvent{actorID: actorID, kind: kind})
	return result.prompt, err
}

// Search consumes a search form token and returns the member selection.
func (e *Engine) Search(ctx context.Context, sessionID, actorID, token, term string) (Prompt, error) {
	result, err := e.dispatch(ctx, sessionID, searchEvent{actorID: actorID, token: token, term: term})
	return result.prompt, err
}

// Pick consumes a selection token and applies the chosen value.
func (e *Engine) Pick(ctx context.Context, sessionID, actorID, token, value string) (Snapshot, error) {
	result, err := e.dispatch(ctx, sessionID, pickEvent{actorID: actorID, token: token, value: value})
	return result.snapshot, err
}

// Submit finalizes the session and credits every attendee.
func (e *Engine) Submit(ctx context.Context, sessionID, actorID string) (Summary, error) {
	result, err := e.dispatch(ctx, sessionID, submitEvent{actorID: actorID})
	return result.summary, err
}

// Snapshot returns the current state of one session.
func (e *Engine) Snapshot(ctx context.Context, sessionID string) (Snapshot, error) {
	result, err := e.dispatch(ctx, sessionID, snapshotEvent{})
	return result.snapshot, err
}

// Sessions returns snapshots of every live session.
func (e *Engine) Sessions(ctx context.Context) []Snapshot {
	e.mu.RLock()
	ids := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	snapshots := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		snapshot, err := e.Snapshot(ctx, id)
		if err != nil {
			continue
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots
}

// Shutdown stops every session without crediting and waits for the
// session goroutines to exit.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	e.cancel()

	finished := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) isStopped() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stopped
}

func (e *Engine) dispatch(ctx context.Context, sessionID string, event sessionEvent) (eventResult, error) {
	e.mu.RLock()
	state, ok := e.sessions[sessionID]
	e.mu.RUnlock()
	if !ok {
		return eventResult{}, ErrSessionNotFound
	}
	reply := make(chan eventResult, 1)
	select {
	case state.events <- envelope{event: event, reply: reply}:
	case <-state.done:
		return eventResult{}, ErrSessionNotFound
	case <-ctx.Done():
		return eventResult{}, ctx.Err()
	}
	select {
	case result := <-reply:
		return result, result.err
	case <-ctx.Done():
		return eventResult{}, ctx.Err()
	}
}

func (e *Engine) remove(id string) {
	e.mu.Lock()
	delete(e.sessions, id)
	e.mu.Unlock()
	e.wg.Done()
}

func (e *Engine) observe(ctx context.Context, summary Summary) {
	for _, observer := range e.cfg.Observers {
		observer.SessionFinalized(ctx, summary)
	}
}
