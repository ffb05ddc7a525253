package migration_1

import (
	"fmt"

	"gorm.io/gorm"
)

type InferenceJob struct {
	TripletCount int `gorm:"default:0"`
}

func Migration(db *gorm.DB) error {
	if err := db.Migrator().AddColumn(&InferenceJob{}, "triplet_count"); err != nil {
		return fmt.Errorf("error adding TripletCount column: %w", err)
	}

	if err := db.Model(&InferenceJob{}).
		Where("triplet_count IS NULL").
		Update("triplet_count", 0).Error; err != nil {
		return fmt.Errorf("error setting default value for TripletCount: %w", err)
	}

	return nil
}

func Rollback(db *gorm.DB) error {
	if err := db.Migrator().DropColumn(&InferenceJob{}, "TripletCount"); err != nil {
		return fmt.Errorf("error dropping TripletCount column: %w", err)
	}

	return nil
}
