package records

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/regiment/internal/progression"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxUpdateAttempts = 3

var (
	// ErrNotFound indicates that no record matches the lookup.
	ErrNotFound = errors.New("records: record not found")
	// ErrConcurrentUpdate indicates the record kept changing underneath an update.
	ErrConcurrentUpdate = errors.New("records: concurrent update")

	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries an operation/reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opStoreNew           = "records.store.new"
	opGet                = "records.get"
	opFindByUsername     = "records.find_by_username"
	opFindByRobloxUserID = "records.find_by_roblox_user_id"
	opUpsertVerification = "records.upsert_verification"
	opUpdate             = "records.update"
	opSetFlag            = "records.set_flag"
	opDelete             = "records.delete"
	opList               = "records.list"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// StoreConfig wires the store dependencies.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Store persists progression records. Every read-modify-write is guarded by
// the record version; notification flags move through conditional updates.
type Store struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewStore validates the configuration and constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Get loads the record keyed by the platform identifier.
func (s *Store) Get(ctx context.Context, discordID DiscordID) (Record, error) {
	return s.take(ctx, opGet, "discord_id = ?", discordID.String())
}

// FindByUsername loads the record linked to an external username, ignoring case.
func (s *Store) FindByUsername(ctx context.Context, username string) (Record, error) {
	trimmed := strings.TrimSpace(username)
	if trimmed == "" {
		return Record{}, newServiceError(opFindByUsername, "missing_username", ErrInvalidUsername)
	}
	return s.take(ctx, opFindByUsername, "LOWER(roblox_username) = LOWER(?)", trimmed)
}

// FindByRobloxUserID loads the record linked to an external-group user id.
func (s *Store) FindByRobloxUserID(ctx context.Context, robloxUserID int64) (Record, error) {
	return s.take(ctx, opFindByRobloxUserID, "roblox_user_id = ?", robloxUserID)
}

func (s *Store) take(ctx context.Context, operation, query string, args ...any) (Record, error) {
	var record Record
	err := s.db.WithContext(ctx).Where(query, args...).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, newServiceError(operation, "not_found", ErrNotFound)
	}
	if err != nil {
		s.logError(operation, "select_failed", err)
		return Record{}, newServiceError(operation, "select_failed", err)
	}
	return record, nil
}

// List returns every record ordered by platform identifier.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	var stored []Record
	if err := s.db.WithContext(ctx).Order("discord_id ASC").Find(&stored).Error; err != nil {
		s.logError(opList, "select_failed", err)
		return nil, newServiceError(opList, "select_failed", err)
	}
	return stored, nil
}

// Link is the identity captured when a member starts verification.
type Link struct {
	DiscordID        DiscordID
	RobloxUserID     int64
	RobloxUsername   string
	VerificationCode string
}

// UpsertVerification creates the record on first verification or re-links an
// existing one. A previously linked identity is appended to the history.
func (s *Store) UpsertVerification(ctx context.Context, link Link) (Record, error) {
	if strings.TrimSpace(link.RobloxUsername) == "" {
		return Record{}, newServiceError(opUpsertVerification, "missing_username", ErrInvalidUsername)
	}
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		_, err := s.Get(ctx, link.DiscordID)
		if errors.Is(err, ErrNotFound) {
			created, createErr := s.create(ctx, link)
			if createErr == nil {
				return created, nil
			}
			// a concurrent verification may have inserted first
			if _, getErr := s.Get(ctx, link.DiscordID); getErr != nil {
				s.logError(opUpsertVerification, "insert_failed", createErr,
					zap.String("discord_id", link.DiscordID.String()))
				return Record{}, newServiceError(opUpsertVerification, "insert_failed", createErr)
			}
			continue
		}
		if err != nil {
			return Record{}, err
		}
		return s.Update(ctx, link.DiscordID, func(record *Record) error {
			if record.RobloxUserID != 0 {
				record.History = append(record.History, Snapshot{
					DiscordID:         record.DiscordID,
					RobloxUserID:      record.RobloxUserID,
					RobloxUsername:    record.RobloxUsername,
					VerificationCode:  record.VerificationCode,
					VerifiedAtSeconds: record.UpdatedAtSeconds,
				})
			}
			record.RobloxUserID = link.RobloxUserID
			record.RobloxUsername = link.RobloxUsername
			record.VerificationCode = link.VerificationCode
			record.ActiveVerification = true
			return nil
		})
	}
	return Record{}, newServiceError(opUpsertVerification, "conflict", ErrConcurrentUpdate)
}

func (s *Store) create(ctx context.Context, link Link) (Record, error) {
	now := s.clock().UTC().Unix()
	record := Record{
		DiscordID:          link.DiscordID.String(),
		RobloxUserID:       link.RobloxUserID,
		RobloxUsername:     link.RobloxUsername,
		VerificationCode:   link.VerificationCode,
		ActiveVerification: true,
		Rank:               progression.RankConscript,
		History:            []Snapshot{},
		Version:            1,
		CreatedAtSeconds:   now,
		UpdatedAtSeconds:   now,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return Record{}, err
	}
	return record, nil
}

// Update applies mutate to the freshly loaded record and saves it only if no
// other writer changed the record in between. Conflicts are retried.
// Errors returned by mutate abort the update unchanged.
func (s *Store) Update(ctx context.Context, discordID DiscordID, mutate func(*Record) error) (Record, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		record, err := s.Get(ctx, discordID)
		if err != nil {
			return Record{}, err
		}
		if err := mutate(&record); err != nil {
			return Record{}, err
		}
		if !record.Rank.Valid() {
			return Record{}, newServiceError(opUpdate, "invalid_rank", progression.ErrUnknownRank)
		}

		expectedVersion := record.Version
		record.Version = expectedVersion + 1
		record.UpdatedAtSeconds = s.clock().UTC().Unix()
		result := s.db.WithContext(ctx).
			Model(&Record{}).
			Where("discord_id = ? AND version = ?", discordID.String(), expectedVersion).
			Select("*").
			Omit("discord_id", "created_at_s").
			Updates(&record)
		if result.Error != nil {
			s.logError(opUpdate, "save_failed", result.Error,
				zap.String("discord_id", discordID.String()))
			return Record{}, newServiceError(opUpdate, "save_failed", result.Error)
		}
		if result.RowsAffected == 1 {
			return record, nil
		}
		s.logger.Debug("record version conflict",
			zap.String("operation", opUpdate),
			zap.String("discord_id", discordID.String()),
			zap.Int("attempt", attempt+1))
	}
	s.logError(opUpdate, "conflict", ErrConcurrentUpdate, zap.String("discord_id", discordID.String()))
	return Record{}, newServiceError(opUpdate, "conflict", ErrConcurrentUpdate)
}

// SetFlag atomically moves a notification flag to value if it currently
// holds the opposite value. It reports whether this call made the transition.
func (s *Store) SetFlag(ctx context.Context, discordID DiscordID, flag progression.NotificationFlag, value bool) (bool, error) {
	column, err := notifiedColumn(flag)
	if err != nil {
		return false, newServiceError(opSetFlag, "unknown_flag", err)
	}
	result := s.db.WithContext(ctx).
		Model(&Record{}).
		Where("discord_id = ? AND "+column+" = ?", discordID.String(), !value).
		Updates(map[string]any{
			column:         value,
			"version":      gorm.Expr("version + 1"),
			"updated_at_s": s.clock().UTC().Unix(),
		})
	if result.Error != nil {
		s.logError(opSetFlag, "update_failed", result.Error,
			zap.String("discord_id", discordID.String()),
			zap.String("flag", string(flag)))
		return false, newServiceError(opSetFlag, "update_failed", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// Delete removes the record and returns its last persisted state.
func (s *Store) Delete(ctx context.Context, discordID DiscordID) (Record, error) {
	var removed Record
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("discord_id = ?", discordID.String()).Take(&removed).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opDelete, "not_found", ErrNotFound)
		}
		if err != nil {
			s.logError(opDelete, "select_failed", err, zap.String("discord_id", discordID.String()))
			return newServiceError(opDelete, "select_failed", err)
		}
		if err := tx.Where("discord_id = ?", discordID.String()).Delete(&Record{}).Error; err != nil {
			s.logError(opDelete, "delete_failed", err, zap.String("discord_id", discordID.String()))
			return newServiceError(opDelete, "delete_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return Record{}, txErr
	}
	return removed, nil
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	if s == nil || s.logger == nil {
		return
	}
	allFields := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}, fields...)
	if err != nil {
		allFields = append(allFields, zap.Error(err))
	}
	s.logger.Error("records store failure", allFields...)
}
