// Package promotion rewrites member roles, labels and progress on rank changes.
package promotion

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/regiment/internal/progression"
	"github.com/MarcoPoloResearchLab/regiment/internal/records"
	"github.com/MarcoPoloResearchLab/regiment/internal/roblox"
	"go.uber.org/zap"
)

var (
	// ErrNotGroupMember indicates the account is not in the configured group.
	ErrNotGroupMember = errors.New("promotion: not a member of the group")
	// ErrUnrecognizedRank indicates a group rank outside the tracked ranks.
	ErrUnrecognizedRank = errors.New("promotion: group rank not recognized")
	// ErrAlreadyAtRank indicates a promotion to the rank the member holds.
	ErrAlreadyAtRank = errors.New("promotion: member already holds the rank")
	// ErrNotPathway indicates a pathway assignment to a non-pathway rank.
	ErrNotPathway = errors.New("promotion: rank is not a pathway")
	// ErrNotVerified indicates the member has not completed verification.
	ErrNotVerified = errors.New("promotion: member not verified")

	errMissingStore   = errors.New("record store is required")
	errMissingGroup   = errors.New("group manager is required")
	errMissingMembers = errors.New("member editor is required")
)

// RecordStore is the persistence surface used for transitions.
type RecordStore interface {
	Get(ctx context.Context, discordID records.DiscordID) (records.Record, error)
	FindByUsername(ctx context.Context, username string) (records.Record, error)
	Update(ctx context.Context, discordID records.DiscordID, mutate func(*records.Record) error) (records.Record, error)
}

// GroupManager reads and writes group ranks.
type GroupManager interface {
	ResolveUsername(ctx context.Context, username string) (roblox.User, error)
	GroupRank(ctx context.Context, robloxUserID int64) (int, error)
	SetGroupRank(ctx context.Context, robloxUserID int64, rank int) error
}

// MemberEditor changes a guild member's roles and nickname.
type MemberEditor interface {
	RemoveRoles(ctx context.Context, discordID string, roleIDs []string) error
	AddRoles(ctx context.Context, discordID string, roleIDs []string) error
	SetNickname(ctx context.Context, discordID, nickname string) error
}

// Recorder observes rank transitions; metrics.Collectors satisfies it.
type Recorder interface {
	RankTransition(from, to string)
}

// RoleMap names the guild roles tied to verification and ranks.
// Ranks without a role map to an empty string.
type RoleMap struct {
	Verified string
	Ranks    map[progression.Rank]string
}

// RankRoles lists every configured rank role.
func (m RoleMap) RankRoles() []string {
	roles := make([]string, 0, len(m.Ranks))
	for _, rank := range progression.Ranks() {
		if role := m.Ranks[rank]; role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}

// Config wires the service dependencies.
type Config struct {
	Store    RecordStore
	Group    GroupManager
	Members  MemberEditor
	Roles    RoleMap
	Recorder Recorder
	Logger   *zap.Logger
}

// Service performs rank transitions.
type Service struct {
	store    RecordStore
	group    GroupManager
	members  MemberEditor
	roles    RoleMap
	recorder Recorder
	logger   *zap.Logger
}

// NewService validates the configuration.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Group == nil {
		return nil, errMissingGroup
	}
	if cfg.Members == nil {
		return nil, errMissingMembers
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    cfg.Store,
		group:    cfg.Group,
		members:  cfg.Members,
		roles:    cfg.Roles,
		recorder: cfg.Recorder,
		logger:   logger,
	}, nil
}

// ApplyMemberRoles removes every rank role, grants the verified role plus
// the rank role and any extra roles, and rewrites the nickname label.
// Platform failures are logged and do not stop the remaining steps.
func (s *Service) ApplyMemberRoles(ctx context.Context, discordID, robloxUsername string, rank progression.Rank, extraRoles ...string) {
	if rankRoles := s.roles.RankRoles(); len(rankRoles) > 0 {
		if err := s.members.RemoveRoles(ctx, discordID, rankRoles); err != nil {
			s.logPlatformError("remove_roles", discordID, err)
		}
	}

	grant := make([]string, 0, 2+len(extraRoles))
	if s.roles.Verified != "" {
		grant = append(grant, s.roles.Verified)
	}
	if role := s.roles.Ranks[rank]; role != "" {
		grant = append(grant, role)
	}
	for _, role := range extraRoles {
		if role != "" {
			grant = append(grant, role)
		}
	}
	if len(grant) > 0 {
		if err := s.members.AddRoles(ctx, discordID, grant); err != nil {
			s.logPlatformError("add_roles", discordID, err)
		}
	}

	if err := s.members.SetNickname(ctx, discordID, progression.Label(robloxUsername, rank)); err != nil {
		s.logPlatformError("set_nickname", discordID, err)
	}
}

func (s *Service) logPlatformError(step, discordID string, err error) {
	s.logger.Warn("member update step failed",
		zap.String("operation", "promotion.transition"),
		zap.String("reason", step),
		zap.String("discord_id", discordID),
		zap.Error(err))
}

// Transition moves the member to rank: roles and label first, then the
// progress and notification flags are reset and the record is persisted.
func (s *Service) Transition(ctx context.Context, discordID records.DiscordID, rank progression.Rank, extraRoles ...string) (records.Record, error) {
	if !rank.Valid() {
		return records.Record{}, fmt.Errorf("%w: %d", progression.ErrUnknownRank, int(rank))
	}
	current, err := s.store.Get(ctx, discordID)
	if err != nil {
		return records.Record{}, err
	}
	s.ApplyMemberRoles(ctx, current.DiscordID, current.RobloxUsername, rank, extraRoles...)

	previous := current.Rank
	updated, err := s.store.Update(ctx, discordID, func(record *records.Record) error {
		record.Rank = rank
		record.Progress.Reset()
		record.Notified.Reset()
		return nil
	})
	if err != nil {
		s.logger.Error("rank transition not persisted",
			zap.String("discord_id", discordID.String()),
			zap.String("rank", rank.String()),
			zap.Error(err))
		return records.Record{}, err
	}
	if s.recorder != nil {
		s.recorder.RankTransition(previous.String(), rank.String())
	}
	s.logger.Info("rank transition applied",
		zap.String("discord_id", discordID.String()),
		zap.String("from", previous.String()),
		zap.String("to", rank.String()))
	return updated, nil
}

// Promote sets the member's group rank and applies the transition.
// Pathway targets are routed to AssignPathway.
func (s *Service) Promote(ctx context.Context, username string, rank progression.Rank) (records.Record, error) {
	if rank.IsPathway() {
		return s.AssignPathway(ctx, username, rank)
	}
	if !rank.Valid() {
		return records.Record{}, fmt.Errorf("%w: %d", progression.ErrUnknownRank, int(rank))
	}
	user, err := s.group.ResolveUsername(ctx, username)
	if err != nil {
		return records.Record{}, err
	}
	groupRank, err := s.group.GroupRank(ctx, user.ID)
	if err != nil {
		return records.Record{}, err
	}
	if groupRank == 0 {
		return records.Record{}, ErrNotGroupMember
	}
	record, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		return records.Record{}, err
	}
	if record.Rank == rank {
		return records.Record{}, fmt.Errorf("%w: %s", ErrAlreadyAtRank, rank)
	}
	if err := s.group.SetGroupRank(ctx, user.ID, rank.GroupRank()); err != nil {
		return records.Record{}, err
	}
	return s.Transition(ctx, records.DiscordID(record.DiscordID), rank)
}

// AssignPathway moves the member to Senior Trooper in the group and to the
// pathway internally. The Senior Trooper role is granted alongside.
func (s *Service) AssignPathway(ctx context.Context, username string, pathway progression.Rank) (records.Record, error) {
	if !pathway.IsPathway() {
		return records.Record{}, fmt.Errorf("%w: %s", ErrNotPathway, pathway)
	}
	record, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		return records.Record{}, err
	}
	user, err := s.group.ResolveUsername(ctx, username)
	if err != nil {
		return records.Record{}, err
	}
	if err := s.group.SetGroupRank(ctx, user.ID, int(progression.RankSeniorTrooper)); err != nil {
		return records.Record{}, err
	}
	return s.Transition(ctx, records.DiscordID(record.DiscordID), pathway, s.roles.Ranks[progression.RankSeniorTrooper])
}

// SyncResult reports what SyncFromGroup did.
type SyncResult struct {
	Record  records.Record
	Changed bool
}

// SyncFromGroup aligns the member's internal rank with the group rank.
// Pathway members whose group rank is Senior Trooper are already in sync.
func (s *Service) SyncFromGroup(ctx context.Context, discordID records.DiscordID) (SyncResult, error) {
	record, err := s.store.Get(ctx, discordID)
	if err != nil {
		return SyncResult{}, err
	}
	if !record.Verified() {
		return SyncResult{}, ErrNotVerified
	}
	groupRank, err := s.group.GroupRank(ctx, record.RobloxUserID)
	if err != nil {
		return SyncResult{}, err
	}
	if groupRank == 0 {
		return SyncResult{}, ErrNotGroupMember
	}
	rank, err := progression.RankFromGroup(groupRank)
	if err != nil {
		return SyncResult{}, fmt.Errorf("%w: %d", ErrUnrecognizedRank, groupRank)
	}
	if record.Rank.GroupRank() == groupRank {
		return SyncResult{Record: record}, nil
	}
	updated, err := s.Transition(ctx, discordID, rank)
	if err != nil {
		return SyncResult{}, err
	}
	return SyncResult{Record: updated, Changed: true}, nil
}
