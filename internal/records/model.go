package records

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/regiment/internal/progression"
	"gorm.io/datatypes"
)

const maxIdentifierLength = 32

var (
	// ErrInvalidDiscordID indicates an empty or oversized platform identifier.
	ErrInvalidDiscordID = errors.New("records: invalid discord id")
	// ErrInvalidUsername indicates an empty external username.
	ErrInvalidUsername = errors.New("records: invalid username")
)

// DiscordID is a validated chat-platform user identifier.
type DiscordID string

// NewDiscordID validates raw input and returns a DiscordID.
func NewDiscordID(rawInput string) (DiscordID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDiscordID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidDiscordID, maxIdentifierLength)
	}
	return DiscordID(trimmed), nil
}

// String returns the underlying identifier.
func (id DiscordID) String() string {
	return string(id)
}

// Snapshot is a prior verification link kept in the record history.
type Snapshot struct {
	DiscordID         string `json:"discord_id"`
	RobloxUserID      int64  `json:"roblox_user_id"`
	RobloxUsername    string `json:"roblox_username"`
	VerificationCode  string `json:"verification_code"`
	VerifiedAtSeconds int64  `json:"verified_at_s"`
}

// Record is the persisted per-member progression state.
type Record struct {
	DiscordID          string                        `gorm:"column:discord_id;primaryKey;size:32;not null" json:"discord_id"`
	RobloxUserID       int64                         `gorm:"column:roblox_user_id;not null;default:0;index:idx_records_roblox_user" json:"roblox_user_id"`
	RobloxUsername     string                        `gorm:"column:roblox_username;size:64;not null;default:'';index:idx_records_roblox_username" json:"roblox_username"`
	VerificationCode   string                        `gorm:"column:verification_code;size:16;not null;default:''" json:"-"`
	ActiveVerification bool                          `gorm:"column:active_verification;not null;default:false" json:"active_verification"`
	Rank               progression.Rank              `gorm:"column:rank;not null;default:2" json:"rank"`
	Progress           progression.Progress          `gorm:"embedded;embeddedPrefix:progress_" json:"progress"`
	Notified           progression.NotificationFlags `gorm:"embedded;embeddedPrefix:notified_" json:"notifications_sent"`
	History            datatypes.JSONSlice[Snapshot] `gorm:"column:history" json:"history"`
	Version            int64                         `gorm:"column:version;not null;default:1" json:"version"`
	CreatedAtSeconds   int64                         `gorm:"column:created_at_s;not null" json:"created_at_s"`
	UpdatedAtSeconds   int64                         `gorm:"column:updated_at_s;not null" json:"updated_at_s"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "progression_records"
}

// Verified reports whether the member has completed the profile-code check.
func (r Record) Verified() bool {
	return r.RobloxUserID != 0 && !r.ActiveVerification
}

// Evaluate checks the record's progress against its current rank.
func (r Record) Evaluate() (progression.Evaluation, error) {
	return progression.Evaluate(r.Rank, r.Progress)
}

// notifiedColumn maps a notification flag to its persisted column.
func notifiedColumn(flag progression.NotificationFlag) (string, error) {
	switch flag {
	case progression.FlagConscript,
		progression.FlagTrooper,
		progression.FlagSeniorTrooper,
		progression.FlagHeliosPathway,
		progression.FlagCommissariatPathway:
		return "notified_" + string(flag), nil
	default:
		return "", fmt.Errorf("records: unknown notification flag %q", flag)
	}
}
