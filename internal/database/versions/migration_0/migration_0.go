package migration_0

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Schema of the first release, frozen so later migrations have a fixed
// starting point.

type User struct {
	Id           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Username     string    `gorm:"size:80;not null;uniqueIndex"`
	PasswordHash string    `gorm:"not null"`
	CreationTime time.Time

	Models []Model `gorm:"foreignKey:UserId;constraint:OnDelete:CASCADE"`
}

type Model struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	UserId uuid.UUID `gorm:"type:uuid;not null;index"`
	User   *User     `gorm:"foreignKey:UserId"`

	Name      string `gorm:"size:120;not null"`
	Directory string `gorm:"not null;uniqueIndex"`
	Uploaded  bool   `gorm:"not null;default:false"`

	CreationTime time.Time

	TrainingRecords []TrainingRecord `gorm:"foreignKey:ModelId;constraint:OnDelete:CASCADE"`
}

type TrainingRecord struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	ModelId uuid.UUID `gorm:"type:uuid;not null;index"`
	Model   *Model    `gorm:"foreignKey:ModelId"`

	TaskId  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	Dataset string    `gorm:"not null"`
	Epochs  int       `gorm:"not null"`

	Losses        datatypes.JSONSlice[float64] `gorm:"type:jsonb;not null"`
	Accuracies    datatypes.JSONSlice[float64] `gorm:"type:jsonb;not null"`
	TrainAccuracy float64
	TestAccuracy  float64

	CreationTime time.Time `gorm:"index"`
}

func Migration(db *gorm.DB) error {
	return db.AutoMigrate(&User{}, &Model{}, &TrainingRecord{})
}
