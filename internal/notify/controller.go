// Package notify sends each rank-completion announcement once per earn cycle.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/regiment/internal/progression"
	"github.com/MarcoPoloResearchLab/regiment/internal/records"
	"go.uber.org/zap"
)

var (
	errMissingFlags     = errors.New("flag store is required")
	errMissingAnnouncer = errors.New("announcer is required")
)

// Outcome describes what a Process call did to the notification flag.
type Outcome string

const (
	// OutcomeAnnounced means this call set the flag and sent the announcement.
	OutcomeAnnounced Outcome = "announced"
	// OutcomeAlreadyNotified means the flag was already set by an earlier call.
	OutcomeAlreadyNotified Outcome = "already_notified"
	// OutcomeRearmed means a regression cleared the flag.
	OutcomeRearmed Outcome = "rearmed"
	// OutcomeIncomplete means requirements are unmet and the flag was already clear.
	OutcomeIncomplete Outcome = "incomplete"
)

// Completion is the payload of a completion announcement.
type Completion struct {
	DiscordID      string                       `json:"discord_id"`
	RobloxUserID   int64                        `json:"roblox_user_id"`
	RobloxUsername string                       `json:"roblox_username"`
	Rank           progression.Rank             `json:"rank"`
	Target         progression.CompletionTarget `json:"target"`
	AvatarURL      string                       `json:"avatar_url"`
}

// Announcer publishes completion announcements.
type Announcer interface {
	AnnounceCompletion(ctx context.Context, completion Completion) error
}

// Announcers fans one completion out to several announcers. Every announcer
// is called; failures are joined.
type Announcers []Announcer

// AnnounceCompletion implements Announcer.
func (a Announcers) AnnounceCompletion(ctx context.Context, completion Completion) error {
	var errs []error
	for _, announcer := range a {
		if err := announcer.AnnounceCompletion(ctx, completion); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AvatarSource resolves a headshot URL, falling back to a placeholder.
type AvatarSource interface {
	AvatarURL(ctx context.Context, robloxUserID int64) string
}

// FlagStore performs conditional flag transitions.
type FlagStore interface {
	SetFlag(ctx context.Context, discordID records.DiscordID, flag progression.NotificationFlag, value bool) (bool, error)
}

// Recorder observes announcements; metrics.Collectors satisfies it.
type Recorder interface {
	CompletionAnnounced(rank string)
}

// Config wires the controller dependencies.
type Config struct {
	Flags     FlagStore
	Announcer Announcer
	Avatars   AvatarSource
	Recorder  Recorder
	Logger    *zap.Logger
}

// Controller ties evaluations to notification flags.
type Controller struct {
	flags     FlagStore
	announcer Announcer
	avatars   AvatarSource
	recorder  Recorder
	logger    *zap.Logger
}

// NewController validates the configuration.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Flags == nil {
		return nil, errMissingFlags
	}
	if cfg.Announcer == nil {
		return nil, errMissingAnnouncer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		flags:     cfg.Flags,
		announcer: cfg.Announcer,
		avatars:   cfg.Avatars,
		recorder:  cfg.Recorder,
		logger:    logger,
	}, nil
}

// Process applies the evaluation to the rank's flag. A met evaluation sets
// the flag with a conditional update and announces only when that update
// made the transition; an unmet one clears the flag so the next completion
// announces again. The flag stays set if the announcement itself fails.
func (c *Controller) Process(ctx context.Context, record records.Record, evaluation progression.Evaluation) (Outcome, error) {
	policy, err := progression.PolicyFor(evaluation.Rank)
	if err != nil {
		return "", err
	}
	discordID := records.DiscordID(record.DiscordID)

	if !evaluation.OverallMet {
		cleared, err := c.flags.SetFlag(ctx, discordID, policy.Flag, false)
		if err != nil {
			return "", err
		}
		if cleared {
			c.logger.Info("completion flag rearmed",
				zap.String("discord_id", record.DiscordID),
				zap.String("flag", string(policy.Flag)))
			return OutcomeRearmed, nil
		}
		return OutcomeIncomplete, nil
	}

	set, err := c.flags.SetFlag(ctx, discordID, policy.Flag, true)
	if err != nil {
		return "", err
	}
	if !set {
		return OutcomeAlreadyNotified, nil
	}

	completion := Completion{
		DiscordID:      record.DiscordID,
		RobloxUserID:   record.RobloxUserID,
		RobloxUsername: record.RobloxUsername,
		Rank:           evaluation.Rank,
		Target:         policy.Completion,
	}
	if c.avatars != nil {
		completion.AvatarURL = c.avatars.AvatarURL(ctx, record.RobloxUserID)
	}
	if err := c.announcer.AnnounceCompletion(ctx, completion); err != nil {
		c.logger.Error("completion announcement failed",
			zap.String("discord_id", record.DiscordID),
			zap.String("rank", evaluation.Rank.String()),
			zap.Error(err))
		return OutcomeAnnounced, fmt.Errorf("announce completion: %w", err)
	}
	if c.recorder != nil {
		c.recorder.CompletionAnnounced(evaluation.Rank.String())
	}
	c.logger.Info("completion announced",
		zap.String("discord_id", record.DiscordID),
		zap.String("rank", evaluation.Rank.String()))
	return OutcomeAnnounced, nil
}
