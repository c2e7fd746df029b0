package database

import (
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/odysseylabs/odyssey/backend/internal/slides"
)

const migrationRepairSlidePositionDensity = "2026-07-14_repair_slide_position_density"

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
		{name: migrationRepairSlidePositionDensity, apply: repairSlidePositionDensity},
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

// repairSlidePositionDensity rewrites every presentation's slide positions to a
// dense 0..n-1 run. An interrupted position rewrite can leave parked negative
// positions behind; a parked value -(k+1) sorts as k.
func repairSlidePositionDensity(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var rows []slides.Slide
		if err := tx.Order("presentation_id ASC, position ASC").Find(&rows).Error; err != nil {
			return err
		}

		byPresentation := map[string][]slides.Slide{}
		for _, row := range rows {
			byPresentation[row.PresentationID] = append(byPresentation[row.PresentationID], row)
		}

		for _, group := range byPresentation {
			sort.SliceStable(group, func(i, j int) bool {
				return effectivePosition(group[i].Position) < effectivePosition(group[j].Position)
			})
			dense := true
			for index, row := range group {
				if row.Position != index {
					dense = false
					break
				}
			}
			if dense {
				continue
			}
			for index, row := range group {
				parked := -(index + 1)
				if err := tx.Model(&slides.Slide{}).
					Where("slide_id = ?", row.ID).
					Update("position", parked).Error; err != nil {
					return err
				}
			}
			for index, row := range group {
				if err := tx.Model(&slides.Slide{}).
					Where("slide_id = ?", row.ID).
					Update("position", index).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func effectivePosition(position int) int {
	if position < 0 {
		return -position - 1
	}
	return position
}
