package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/lankaed/internal/profiles"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillPreferredLanguage = "2026-09-14_backfill_preferred_language"
	migrationClampNegativeXP           = "2026-09-14_clamp_negative_xp"
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
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillPreferredLanguage, apply: backfillPreferredLanguage},
		{name: migrationClampNegativeXP, apply: clampNegativeXP},
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
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Rows imported before the language column existed carry an empty value.
func backfillPreferredLanguage(db *gorm.DB) error {
	return db.Model(&profiles.Profile{}).
		Where("preferred_language IS NULL OR preferred_language = ''").
		Update("preferred_language", string(profiles.DefaultLanguage)).Error
}

func clampNegativeXP(db *gorm.DB) error {
	return db.Model(&profiles.Profile{}).
		Where("xp_total < 0").
		Update("xp_total", 0).Error
}
