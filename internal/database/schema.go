package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobQueued    string = "QUEUED"
	JobRunning   string = "RUNNING"
	JobCompleted string = "COMPLETED"
	JobFailed    string = "FAILED"
)

type FinetuneJob struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name     string
	Task     string `gorm:"size:20;not null"`
	Dataset  string `gorm:"size:20;not null"`
	Paradigm string `gorm:"size:20;not null"`
	Status   string `gorm:"size:20;not null"`

	// Full TrainParams as submitted, so a run can be reproduced exactly.
	Hyperparameters datatypes.JSON `gorm:"type:jsonb"`

	// Parsed test_results.txt, populated on completion.
	Metrics datatypes.JSON `gorm:"type:jsonb"`

	CreationTime   time.Time
	CompletionTime sql.NullTime

	Checkpoint *Checkpoint `gorm:"foreignKey:FinetuneJobId;constraint:OnDelete:CASCADE"`
	Errors     []JobError  `gorm:"foreignKey:JobId;constraint:OnDelete:CASCADE"`
}

type Checkpoint struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	FinetuneJobId uuid.UUID `gorm:"type:uuid;not null"`

	Epoch  int
	Bucket string
	Key    string
	Size   int64

	CreationTime time.Time
}

type InferenceJob struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	CheckpointId uuid.UUID   `gorm:"type:uuid;not null"`
	Checkpoint   *Checkpoint `gorm:"foreignKey:CheckpointId"`

	Task     string `gorm:"size:20;not null"`
	Paradigm string `gorm:"size:20;not null"`

	InputBucket string
	InputKey    string

	ResultsBucket string
	ResultsKey    sql.NullString

	Status string `gorm:"size:20;not null"`

	LineCount    int `gorm:"default:0"`
	TripletCount int `gorm:"default:0"`

	CreationTime   time.Time
	CompletionTime sql.NullTime

	Predictions []Prediction `gorm:"foreignKey:JobId;constraint:OnDelete:CASCADE"`
	Errors      []JobError   `gorm:"foreignKey:JobId;constraint:OnDelete:CASCADE"`
}

type Prediction struct {
	JobId uuid.UUID `gorm:"type:uuid;primaryKey"`
	Line  int       `gorm:"primaryKey"`
	Seq   int       `gorm:"primaryKey"`

	Sentence  string
	Target    string
	Aspect    string
	Sentiment string
}

type JobError struct {
	JobId     uuid.UUID `gorm:"type:uuid;primaryKey"`
	ErrorId   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Error     string
	Timestamp time.Time
}
