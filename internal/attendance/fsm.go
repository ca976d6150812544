package attendance

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/regiment/internal/progression"
	"github.com/MarcoPoloResearchLab/regiment/internal/records"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type sessionEvent interface {
	apply(ctx context.Context, s *session) eventResult
}

type envelope struct {
	event sessionEvent
	reply chan eventResult
}

type eventResult struct {
	added    bool
	prompt   Prompt
	snapshot Snapshot
	summary  Summary
	err      error
}

type promptStage int

const (
	stageSearch promptStage = iota
	stageSelect
)

type promptState struct {
	kind      PromptKind
	stage     promptStage
	expiresAt time.Time
	allowed   map[string]struct{}
}

// session is owned by its run goroutine; no other goroutine touches it
// after Start hands it over.
type session struct {
	engine *Engine
	id     string
	event  Event
	phase  Phase

	attendees []string
	attending map[string]struct{}
	prompts   map[string]promptState
	startedAt time.Time

	events chan envelope
	done   chan struct{}
}

func (s *session) run(ctx context.Context) {
	defer s.engine.remove(s.id)
	defer close(s.done)

	cfg := s.engine.cfg
	collect := time.NewTimer(cfg.CollectWindow)
	defer collect.Stop()
	var (
		review  *time.Timer
		reviewC <-chan time.Time
	)
	defer func() {
		if review != nil {
			review.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger().Info("attendance session stopped", zap.String("phase", string(s.phase)))
			return
		case <-collect.C:
			s.phase = PhaseReviewing
			review = time.NewTimer(cfg.ReviewTTL)
			reviewC = review.C
			s.render(ctx)
		case <-reviewC:
			s.phase = PhaseAbandoned
			if err := cfg.Presenter.ShowAbandoned(ctx, s.snapshot()); err != nil {
				s.logger().Warn("attendance abandon render failed", zap.Error(err))
			}
			if cfg.Recorder != nil {
				cfg.Recorder.SessionAbandoned(string(s.event.EventType))
			}
			s.logger().Info("attendance session abandoned in review")
			return
		case incoming := <-s.events:
			incoming.reply <- incoming.event.apply(ctx, s)
			if s.phase == PhaseFinalized {
				return
			}
		}
	}
}

func (s *session) logger() *zap.Logger {
	return s.engine.logger.With(zap.String("session_id", s.id))
}

func (s *session) snapshot() Snapshot {
	return Snapshot{
		ID:        s.id,
		HostID:    s.event.HostID,
		HostName:  s.event.HostName,
		EventType: s.event.EventType,
		MapName:   s.event.MapName,
		Phase:     s.phase,
		Attendees: slices.Clone(s.attendees),
		StartedAt: s.startedAt,
	}
}

func (s *session) render(ctx context.Context) {
	if err := s.engine.cfg.Presenter.ShowReview(ctx, s.snapshot()); err != nil {
		s.logger().Warn("attendance review render failed", zap.Error(err))
	}
}

func (s *session) authorizeReview(actorID string) error {
	if actorID != s.event.HostID {
		return ErrNotHost
	}
	if s.phase != PhaseReviewing {
		return ErrPhaseClosed
	}
	return nil
}

func (s *session) issuePrompt(kind PromptKind, stage promptStage, ttl time.Duration, options []Candidate) Prompt {
	now := s.engine.cfg.Clock()
	for token, state := range s.prompts {
		if !now.Before(state.expiresAt) {
			delete(s.prompts, token)
		}
	}
	allowed := make(map[string]struct{}, len(options))
	for _, option := range options {
		allowed[option.Value] = struct{}{}
	}
	token := uuid.NewString()
	expiresAt := now.Add(ttl)
	s.prompts[token] = promptState{kind: kind, stage: stage, expiresAt: expiresAt, allowed: allowed}
	return Prompt{SessionID: s.id, Kind: kind, Token: token, Options: options, ExpiresAt: expiresAt}
}

// consumePrompt removes the token whether or not it is still valid.
func (s *session) consumePrompt(token string, stage promptStage) (promptState, error) {
	state, ok := s.prompts[token]
	delete(s.prompts, token)
	if !ok || state.stage != stage || !s.engine.cfg.Clock().Before(state.expiresAt) {
		return promptState{}, ErrSelectionExpired
	}
	return state, nil
}

func (s *session) isAttending(memberID string) bool {
	_, ok := s.attending[memberID]
	return ok
}

func (s *session) addAttendee(memberID string) bool {
	if s.isAttending(memberID) {
		return false
	}
	s.attending[memberID] = struct{}{}
	s.attendees = append(s.attendees, memberID)
	return true
}

func (s *session) removeAttendee(memberID string) {
	if !s.isAttending(memberID) {
		return
	}
	delete(s.attending, memberID)
	s.attendees = slices.DeleteFunc(s.attendees, func(id string) bool { return id == memberID })
}

func matchesTerm(member Member, term string) bool {
	if strings.Contains(strings.ToLower(member.Username), term) {
		return true
	}
	return member.Nickname != "" && strings.Contains(strings.ToLower(member.Nickname), term)
}

func (s *session) candidates(kind PromptKind, members []Member, term string) []Candidate {
	term = strings.ToLower(strings.TrimSpace(term))
	candidates := make([]Candidate, 0, MaxCandidates)
	for _, member := range members {
		if len(candidates) == MaxCandidates {
			break
		}
		if kind == PromptAddMember && s.isAttending(member.ID) {
			continue
		}
		if kind == PromptRemoveMember && !s.isAttending(member.ID) {
			continue
		}
		if matchesTerm(member, term) {
			candidates = append(candidates, Candidate{Value: member.ID, Label: member.DisplayName()})
		}
	}
	return candidates
}

func eventTypeOptions() []Candidate {
	types := progression.EventTypes()
	options := make([]Candidate, 0, len(types))
	for _, eventType := range types {
		options = append(options, Candidate{Value: string(eventType), Label: string(eventType)})
	}
	return options
}

type registerEvent struct {
	memberID string
}

func (e registerEvent) apply(_ context.Context, s *session) eventResult {
	if s.phase != PhaseCollecting {
		return eventResult{err: ErrPhaseClosed}
	}
	return eventResult{added: s.addAttendee(e.memberID)}
}

type openPromptEvent struct {
	actorID string
	kind    PromptKind
}

func (e openPromptEvent) apply(_ context.Context, s *session) eventResult {
	if err := s.authorizeReview(e.actorID); err != nil {
		return eventResult{err: err}
	}
	cfg := s.engine.cfg
	switch e.kind {
	case PromptAddMember, PromptRemoveMember:
		return eventResult{prompt: s.issuePrompt(e.kind, stageSearch, cfg.SearchTTL, nil)}
	case PromptEventType:
		return eventResult{prompt: s.issuePrompt(e.kind, stageSelect, cfg.SelectionTTL, eventTypeOptions())}
	default:
		return eventResult{err: ErrInvalidChoice}
	}
}

type searchEvent struct {
	actorID string
	token   string
	term    string
}

func (e searchEvent) apply(ctx context.Context, s *session) eventResult {
	if err := s.authorizeReview(e.actorID); err != nil {
		return eventResult{err: err}
	}
	form, err := s.consumePrompt(e.token, stageSearch)
	if err != nil {
		return eventResult{err: err}
	}
	members, err := s.engine.cfg.Directory.Members(ctx)
	if err != nil {
		return eventResult{err: err}
	}
	candidates := s.candidates(form.kind, members, e.term)
	if len(candidates) == 0 {
		return eventResult{err: ErrNoMatchingMembers}
	}
	return eventResult{prompt: s.issuePrompt(form.kind, stageSelect, s.engine.cfg.SelectionTTL, candidates)}
}

type pickEvent struct {
	actorID string
	token   string
	value   string
}

func (e pickEvent) apply(ctx context.Context, s *session) eventResult {
	if err := s.authorizeReview(e.actorID); err != nil {
		return eventResult{err: err}
	}
	selection, err := s.consumePrompt(e.token, stageSelect)
	if err != nil {
		return eventResult{err: err}
	}
	if _, offered := selection.allowed[e.value]; !offered {
		return eventResult{err: ErrInvalidChoice}
	}
	switch selection.kind {
	case PromptAddMember:
		s.addAttendee(e.value)
	case PromptRemoveMember:
		s.removeAttendee(e.value)
	case PromptEventType:
		eventType, err := progression.ParseEventType(e.value)
		if err != nil {
			return eventResult{err: err}
		}
		s.event.EventType = eventType
	}
	s.render(ctx)
	return eventResult{snapshot: s.snapshot()}
}

type submitEvent struct {
	actorID string
}

func (e submitEvent) apply(ctx context.Context, s *session) eventResult {
	if err := s.authorizeReview(e.actorID); err != nil {
		return eventResult{err: err}
	}
	s.phase = PhaseFinalized
	cfg := s.engine.cfg
	summary := Summary{Session: s.snapshot(), Credits: make([]AttendeeCredit, 0, len(s.attendees))}
	for _, attendee := range s.attendees {
		credit, err := cfg.Crediter.CreditAttendance(ctx, records.DiscordID(attendee), s.event.EventType)
		switch {
		case errors.Is(err, records.ErrNotFound):
			s.logger().Debug("attendee has no progression record", zap.String("discord_id", attendee))
		case err != nil:
			s.logger().Warn("attendance credit failed", zap.String("discord_id", attendee), zap.Error(err))
		}
		summary.Credits = append(summary.Credits, AttendeeCredit{DiscordID: attendee, Credit: credit, Err: err})
	}

	if err := cfg.Presenter.ShowFinalized(ctx, summary); err != nil {
		s.logger().Warn("attendance summary render failed", zap.Error(err))
	}
	s.engine.observe(ctx, summary)
	if cfg.Recorder != nil {
		cfg.Recorder.SessionFinalized(string(s.event.EventType), summary.Credited())
	}
	s.logger().Info("attendance session submitted",
		zap.String("event_type", string(s.event.EventType)),
		zap.Int("attendees", len(s.attendees)),
		zap.Int("credited", summary.Credited()))
	return eventResult{summary: summary}
}

type snapshotEvent struct{}

func (snapshotEvent) apply(_ context.Context, s *session) eventResult {
	return eventResult{snapshot: s.snapshot()}
}
