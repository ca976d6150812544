package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/regiment/internal/progression"
	"github.com/MarcoPoloResearchLab/regiment/internal/records"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationNormalizeUnknownRanks = "2026-09-14_normalize_unknown_ranks"
	migrationBackfillRecordVersion = "2026-09-14_backfill_record_version"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) (int64, error)
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeUnknownRanks, apply: normalizeUnknownRanks},
		{name: migrationBackfillRecordVersion, apply: backfillRecordVersion},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			affected, err := migration.apply(tx)
			if err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			if err := tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
				return err
			}
			logger.Info("database migration applied",
				zap.String("migration", migration.name),
				zap.Int64("rows", affected),
			)
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// normalizeUnknownRanks rewrites ranks outside the tracked set to Conscript.
func normalizeUnknownRanks(db *gorm.DB) (int64, error) {
	tracked := make([]int, 0, len(progression.Ranks()))
	for _, rank := range progression.Ranks() {
		tracked = append(tracked, int(rank))
	}
	result := db.Model(&records.Record{}).
		Where("`rank` NOT IN ?", tracked).
		Update("rank", int(progression.RankConscript))
	return result.RowsAffected, result.Error
}

func backfillRecordVersion(db *gorm.DB) (int64, error) {
	result := db.Model(&records.Record{}).
		Where("version < ?", 1).
		Update("version", 1)
	return result.RowsAffected, result.Error
}
