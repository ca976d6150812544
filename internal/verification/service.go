// Package verification links chat members to group accounts through a
// profile-description code.
package verification

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/MarcoPoloResearchLab/regiment/internal/progression"
	"github.com/MarcoPoloResearchLab/regiment/internal/promotion"
	"github.com/MarcoPoloResearchLab/regiment/internal/records"
	"github.com/MarcoPoloResearchLab/regiment/internal/roblox"
	"github.com/MarcoPoloResearchLab/regiment/internal/tracker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	codeLength   = 8
	codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

var (
	// ErrNoActiveVerification indicates /check-verification without a pending code.
	ErrNoActiveVerification = errors.New("verification: no active verification")
	// ErrCodeNotFound indicates the profile description lacks the code.
	ErrCodeNotFound = errors.New("verification: code not found in profile")

	errMissingStore   = errors.New("record store is required")
	errMissingAccount = errors.New("account directory is required")
	errMissingRoles   = errors.New("role applier is required")
	errMissingTracker = errors.New("progress refresher is required")
)

// RecordStore persists verification links.
type RecordStore interface {
	Get(ctx context.Context, discordID records.DiscordID) (records.Record, error)
	UpsertVerification(ctx context.Context, link records.Link) (records.Record, error)
	Update(ctx context.Context, discordID records.DiscordID, mutate func(*records.Record) error) (records.Record, error)
}

// AccountDirectory is the group-management lookup surface.
type AccountDirectory interface {
	ResolveUsername(ctx context.Context, username string) (roblox.User, error)
	GroupRank(ctx context.Context, robloxUserID int64) (int, error)
	ProfileDescription(ctx context.Context, robloxUserID int64) (string, error)
}

// RoleApplier grants verification roles and the rank label.
type RoleApplier interface {
	ApplyMemberRoles(ctx context.Context, discordID, robloxUsername string, rank progression.Rank, extraRoles ...string)
}

// ProgressRefresher recomputes the primary-group flag and completion state.
type ProgressRefresher interface {
	Refresh(ctx context.Context, discordID records.DiscordID) (tracker.Status, error)
}

// Config wires the verification service.
type Config struct {
	Store    RecordStore
	Accounts AccountDirectory
	Roles    RoleApplier
	Tracker  ProgressRefresher
	// CodeGenerator overrides the random code source in tests.
	CodeGenerator func() (string, error)
	Logger        *zap.Logger
}

// Service runs the two-step verification flow.
type Service struct {
	store    RecordStore
	accounts AccountDirectory
	roles    RoleApplier
	tracker  ProgressRefresher
	newCode  func() (string, error)
	logger   *zap.Logger
}

// NewService validates the configuration.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Accounts == nil {
		return nil, errMissingAccount
	}
	if cfg.Roles == nil {
		return nil, errMissingRoles
	}
	if cfg.Tracker == nil {
		return nil, errMissingTracker
	}
	newCode := cfg.CodeGenerator
	if newCode == nil {
		newCode = GenerateCode
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    cfg.Store,
		accounts: cfg.Accounts,
		roles:    cfg.Roles,
		tracker:  cfg.Tracker,
		newCode:  newCode,
		logger:   logger,
	}, nil
}

// GenerateCode returns a random uppercase alphanumeric code.
func GenerateCode() (string, error) {
	var builder strings.Builder
	limit := big.NewInt(int64(len(codeAlphabet)))
	for range codeLength {
		index, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate verification code: %w", err)
		}
		builder.WriteByte(codeAlphabet[index.Int64()])
	}
	return builder.String(), nil
}

// Challenge is the pending verification handed back to the member.
type Challenge struct {
	Code   string
	Record records.Record
}

// Start resolves the username and stores a fresh code for the member.
func (s *Service) Start(ctx context.Context, discordID records.DiscordID, username string) (Challenge, error) {
	user, err := s.accounts.ResolveUsername(ctx, username)
	if err != nil {
		return Challenge{}, err
	}
	code, err := s.newCode()
	if err != nil {
		return Challenge{}, err
	}
	record, err := s.store.UpsertVerification(ctx, records.Link{
		DiscordID:        discordID,
		RobloxUserID:     user.ID,
		RobloxUsername:   user.Name,
		VerificationCode: code,
	})
	if err != nil {
		return Challenge{}, err
	}
	s.logger.Info("verification started",
		zap.String("discord_id", discordID.String()),
		zap.Int64("roblox_user_id", user.ID))
	return Challenge{Code: code, Record: record}, nil
}

// Check confirms the pending code and completes the link.
func (s *Service) Check(ctx context.Context, discordID records.DiscordID) (tracker.Status, error) {
	record, err := s.store.Get(ctx, discordID)
	if err != nil {
		return tracker.Status{}, err
	}
	if !record.ActiveVerification {
		return tracker.Status{}, ErrNoActiveVerification
	}

	var (
		groupRank   int
		description string
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		rank, lookupErr := s.accounts.GroupRank(groupCtx, record.RobloxUserID)
		groupRank = rank
		return lookupErr
	})
	group.Go(func() error {
		text, lookupErr := s.accounts.ProfileDescription(groupCtx, record.RobloxUserID)
		description = text
		return lookupErr
	})
	if err := group.Wait(); err != nil {
		return tracker.Status{}, err
	}

	if groupRank == 0 {
		return tracker.Status{}, promotion.ErrNotGroupMember
	}
	rank, err := progression.RankFromGroup(groupRank)
	if err != nil {
		return tracker.Status{}, fmt.Errorf("%w: %d", promotion.ErrUnrecognizedRank, groupRank)
	}
	if !strings.Contains(description, record.VerificationCode) {
		return tracker.Status{}, ErrCodeNotFound
	}

	updated, err := s.store.Update(ctx, discordID, func(current *records.Record) error {
		current.ActiveVerification = false
		// pathway members re-verifying keep their internal rank
		if current.Rank.GroupRank() != groupRank {
			current.Rank = rank
			current.Progress.Reset()
			current.Notified.Reset()
		}
		return nil
	})
	if err != nil {
		return tracker.Status{}, err
	}
	s.roles.ApplyMemberRoles(ctx, updated.DiscordID, updated.RobloxUsername, updated.Rank)
	s.logger.Info("verification completed",
		zap.String("discord_id", discordID.String()),
		zap.String("rank", updated.Rank.String()))
	return s.tracker.Refresh(ctx, discordID)
}
