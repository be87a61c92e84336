package migration_1

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Model struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Evaluations []ModelEvaluation `gorm:"foreignKey:ModelId;constraint:OnDelete:CASCADE"`
}

type ModelEvaluation struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	ModelId uuid.UUID `gorm:"type:uuid;not null;index"`

	Dataset  string `gorm:"not null"`
	Accuracy float64
	Samples  int

	CreationTime time.Time
}

func Migration(db *gorm.DB) error {
	if err := db.Migrator().CreateTable(&ModelEvaluation{}); err != nil {
		return fmt.Errorf("error creating model_evaluations table: %w", err)
	}
	return nil
}

func Rollback(db *gorm.DB) error {
	if err := db.Migrator().DropTable(&ModelEvaluation{}); err != nil {
		return fmt.Errorf("error dropping model_evaluations table: %w", err)
	}
	return nil
}
