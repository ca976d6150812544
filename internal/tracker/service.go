// Package tracker persists progress mutations and runs the follow-up
// evaluation and completion check for each affected member.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/regiment/internal/notify"
	"github.com/MarcoPoloResearchLab/regiment/internal/progression"
	"github.com/MarcoPoloResearchLab/regiment/internal/records"
	"github.com/MarcoPoloResearchLab/regiment/internal/reports"
	"go.uber.org/zap"
)

var (
	// ErrNotVerified indicates the member has not completed verification.
	ErrNotVerified = errors.New("tracker: member not verified")
	// ErrHeliosLeadershipField indicates a general edit of a counter that
	// Helios Pathway members track through leadership edits.
	ErrHeliosLeadershipField = errors.New("tracker: field is edited through helios leadership progress")
	// ErrNotHeliosPathway indicates a leadership edit for a member outside the Helios Pathway.
	ErrNotHeliosPathway = errors.New("tracker: member is not on the helios pathway")
	// ErrFieldOutOfScope indicates the field cannot be edited in the requested scope.
	ErrFieldOutOfScope = errors.New("tracker: field not editable in this scope")

	errMissingStore    = errors.New("record store is required")
	errMissingGroups   = errors.New("group service is required")
	errMissingNotifier = errors.New("notifier is required")
)

// RecordStore is the persistence surface used by the tracker.
type RecordStore interface {
	Get(ctx context.Context, discordID records.DiscordID) (records.Record, error)
	FindByUsername(ctx context.Context, username string) (records.Record, error)
	Update(ctx context.Context, discordID records.DiscordID, mutate func(*records.Record) error) (records.Record, error)
	Delete(ctx context.Context, discordID records.DiscordID) (records.Record, error)
}

// GroupService answers the primary-group question.
type GroupService interface {
	IsPrimaryGroup(ctx context.Context, robloxUserID int64) (bool, error)
}

// Notifier runs the completion dedup for an evaluation.
type Notifier interface {
	Process(ctx context.Context, record records.Record, evaluation progression.Evaluation) (notify.Outcome, error)
}

// ReportQueue accepts deletion reports.
type ReportQueue interface {
	Enqueue(report reports.Report) bool
}

// Config wires the tracker dependencies.
type Config struct {
	Store    RecordStore
	Groups   GroupService
	Notifier Notifier
	Reports  ReportQueue
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service owns progress edits, attendance credits and progress refreshes.
type Service struct {
	store    RecordStore
	groups   GroupService
	notifier Notifier
	reports  ReportQueue
	clock    func() time.Time
	logger   *zap.Logger
}

// NewService validates the configuration.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Groups == nil {
		return nil, errMissingGroups
	}
	if cfg.Notifier == nil {
		return nil, errMissingNotifier
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    cfg.Store,
		groups:   cfg.Groups,
		notifier: cfg.Notifier,
		reports:  cfg.Reports,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Status is a member's evaluated progress after a refresh or edit.
type Status struct {
	Record     records.Record
	Evaluation progression.Evaluation
	Outcome    notify.Outcome
}

// Refresh recomputes the primary-group flag, evaluates the record and runs
// the completion check.
func (s *Service) Refresh(ctx context.Context, discordID records.DiscordID) (Status, error) {
	record, err := s.store.Get(ctx, discordID)
	if err != nil {
		return Status{}, err
	}
	return s.refresh(ctx, record)
}

// RefreshByUsername is Refresh keyed by external username.
func (s *Service) RefreshByUsername(ctx context.Context, username string) (Status, error) {
	record, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		return Status{}, err
	}
	return s.refresh(ctx, record)
}

func (s *Service) refresh(ctx context.Context, record records.Record) (Status, error) {
	if !record.Verified() {
		return Status{}, ErrNotVerified
	}
	primary := s.primaryGroup(ctx, record)
	if record.Progress.GroupPrimaried != primary {
		var err error
		record, err = s.store.Update(ctx, records.DiscordID(record.DiscordID), func(current *records.Record) error {
			current.Progress.GroupPrimaried = primary
			return nil
		})
		if err != nil {
			return Status{}, err
		}
	}
	return s.evaluate(ctx, record)
}

// primaryGroup looks up the primary-group flag for a verified member. Lookup
// failures count as not primaried; unverified records keep the stored value.
func (s *Service) primaryGroup(ctx context.Context, record records.Record) bool {
	if !record.Verified() {
		return record.Progress.GroupPrimaried
	}
	primary, err := s.groups.IsPrimaryGroup(ctx, record.RobloxUserID)
	if err != nil {
		s.logger.Warn("primary group lookup failed, treating as not primaried",
			zap.String("discord_id", record.DiscordID),
			zap.Error(err))
		return false
	}
	return primary
}

func (s *Service) evaluate(ctx context.Context, record records.Record) (Status, error) {
	evaluation, err := record.Evaluate()
	if err != nil {
		return Status{}, err
	}
	outcome, err := s.notifier.Process(ctx, record, evaluation)
	if err != nil {
		s.logger.Error("completion check failed",
			zap.String("discord_id", record.DiscordID),
			zap.Error(err))
	}
	return Status{Record: record, Evaluation: evaluation, Outcome: outcome}, nil
}

// Scope selects which cap table and field set an edit uses.
type Scope string

const (
	// ScopeGeneral is the staff progress edit.
	ScopeGeneral Scope = "general"
	// ScopeHeliosLeadership edits the leadership counters of Helios Pathway members.
	ScopeHeliosLeadership Scope = "helios_leadership"
	// ScopeAssignments toggles the complete-assignments flag.
	ScopeAssignments Scope = "assignments"
)

// Edit is a staff progress edit request.
type Edit struct {
	Username string
	Field    progression.Field
	Action   progression.Action
	Scope    Scope
}

// EditResult carries the applied change and the follow-up status.
type EditResult struct {
	Change progression.Change
	Status Status
}

// EditProgress applies a staff edit and runs the follow-up progress check.
func (s *Service) EditProgress(ctx context.Context, edit Edit) (EditResult, error) {
	target, err := s.store.FindByUsername(ctx, edit.Username)
	if err != nil {
		return EditResult{}, err
	}

	primary := s.primaryGroup(ctx, target)
	var change progression.Change
	updated, err := s.store.Update(ctx, records.DiscordID(target.DiscordID), func(record *records.Record) error {
		caps, err := editCaps(edit.Scope, record.Rank, edit.Field)
		if err != nil {
			return err
		}
		change, err = progression.Mutate(&record.Progress, edit.Field, edit.Action, caps)
		if err != nil {
			return err
		}
		record.Progress.GroupPrimaried = primary
		return nil
	})
	if err != nil {
		return EditResult{}, err
	}
	s.logger.Info("progress edited",
		zap.String("discord_id", updated.DiscordID),
		zap.String("scope", string(edit.Scope)),
		zap.String("change", change.String()))

	status, err := s.evaluate(ctx, updated)
	if err != nil {
		return EditResult{}, err
	}
	return EditResult{Change: change, Status: status}, nil
}

func editCaps(scope Scope, rank progression.Rank, field progression.Field) (progression.Caps, error) {
	switch scope {
	case ScopeGeneral:
		if field == progression.FieldCompleteAssignments {
			return nil, fmt.Errorf("%w: %s", ErrFieldOutOfScope, field)
		}
		if rank == progression.RankHeliosPathway && field.IsCounter() && !field.IsTrooperTraining() {
			return nil, fmt.Errorf("%w: %s", ErrHeliosLeadershipField, field)
		}
		return progression.ManualCaps, nil
	case ScopeHeliosLeadership:
		if rank != progression.RankHeliosPathway {
			return nil, ErrNotHeliosPathway
		}
		if _, ok := progression.HeliosLeadershipCaps[field]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrFieldOutOfScope, field)
		}
		return progression.HeliosLeadershipCaps, nil
	case ScopeAssignments:
		if field != progression.FieldCompleteAssignments {
			return nil, fmt.Errorf("%w: %s", ErrFieldOutOfScope, field)
		}
		return progression.Caps{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown scope %q", ErrFieldOutOfScope, scope)
	}
}

// Credit is the outcome of crediting one attendee.
type Credit struct {
	DiscordID string
	Credited  bool
	Change    progression.Change
	Status    Status
}

// CreditAttendance applies one event submission credit to the member,
// recomputes the primary-group flag and re-runs evaluation and the
// completion check.
func (s *Service) CreditAttendance(ctx context.Context, discordID records.DiscordID, event progression.EventType) (Credit, error) {
	current, err := s.store.Get(ctx, discordID)
	if err != nil {
		return Credit{}, err
	}
	primary := s.primaryGroup(ctx, current)

	result := Credit{DiscordID: discordID.String()}
	updated, err := s.store.Update(ctx, discordID, func(record *records.Record) error {
		change, credited, err := progression.Credit(record.Rank, &record.Progress, event)
		if err != nil {
			return err
		}
		result.Change = change
		result.Credited = credited
		record.Progress.GroupPrimaried = primary
		return nil
	})
	if err != nil {
		return Credit{}, err
	}
	status, err := s.evaluate(ctx, updated)
	if err != nil {
		return Credit{}, err
	}
	result.Status = status
	return result, nil
}

// Departure describes a member who left the guild.
type Departure struct {
	DiscordID  records.DiscordID
	DiscordTag string
}

// HandleMemberLeft deletes the member's record and queues a deletion report.
// Members without a record are ignored.
func (s *Service) HandleMemberLeft(ctx context.Context, departure Departure) (bool, error) {
	removed, err := s.store.Delete(ctx, departure.DiscordID)
	if errors.Is(err, records.ErrNotFound) {
		s.logger.Debug("departed member had no record", zap.String("discord_id", departure.DiscordID.String()))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.logger.Info("record deleted for departed member",
		zap.String("discord_id", removed.DiscordID),
		zap.String("roblox_username", removed.RobloxUsername))
	if s.reports != nil {
		s.reports.Enqueue(reports.Report{
			DiscordID:      removed.DiscordID,
			DiscordTag:     departure.DiscordTag,
			RobloxUserID:   removed.RobloxUserID,
			RobloxUsername: removed.RobloxUsername,
			Reason:         "User exited the server.",
			RemovedAt:      s.clock().UTC(),
		})
	}
	return true, nil
}
