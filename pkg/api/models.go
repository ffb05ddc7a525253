package api

import (
	"time"

	"github.com/google/uuid"
)

// Hyperparameters mirrors the training harness arguments. Zero values for the
// optional fields mean the harness default applies.
type Hyperparameters struct {
	ModelNameOrPath string `json:",omitempty"`

	NGPU                      int     `json:",omitempty"`
	TrainBatchSize            int     `json:",omitempty"`
	GradientAccumulationSteps int     `json:",omitempty"`
	EvalBatchSize             int     `json:",omitempty"`
	LearningRate              float64 `json:",omitempty"`
	NumTrainEpochs            int     `json:",omitempty"`

	MaxSeqLength int     `json:",omitempty"`
	Seed         int     `json:",omitempty"`
	WeightDecay  float64 `json:",omitempty"`
	AdamEpsilon  float64 `json:",omitempty"`
	WarmupSteps  float64 `json:",omitempty"`
}

type FinetuneRequest struct {
	Name     string
	Task     string
	Dataset  string
	Paradigm string

	Hyperparameters Hyperparameters `json:",omitempty"`
}

type FinetuneSubmitResponse struct {
	JobId uuid.UUID
}

type Checkpoint struct {
	Id    uuid.UUID
	Epoch int
	Key   string
	Size  int64
}

type FinetuneJob struct {
	Id       uuid.UUID
	Name     string
	Task     string
	Dataset  string
	Paradigm string
	Status   string

	Hyperparameters Hyperparameters    `json:",omitempty"`
	Metrics         map[string]float64 `json:",omitempty"`

	Checkpoint *Checkpoint `json:",omitempty"`
	Errors     []string    `json:",omitempty"`

	CreationTime   time.Time
	CompletionTime *time.Time `json:",omitempty"`
}

type ListFinetuneJobsResponse struct {
	Jobs []FinetuneJob
}

type InferenceRequest struct {
	FinetuneJobId uuid.UUID

	// Location of the input sentences file, one sentence per line.
	InputBucket string
	InputKey    string
}

type InferenceSubmitResponse struct {
	JobId uuid.UUID
}

type InferenceJob struct {
	Id            uuid.UUID
	FinetuneJobId uuid.UUID
	Task          string
	Paradigm      string
	Status        string

	InputBucket string
	InputKey    string

	ResultsBucket string `json:",omitempty"`
	ResultsKey    string `json:",omitempty"`

	LineCount    int
	TripletCount int

	Errors []string `json:",omitempty"`

	CreationTime   time.Time
	CompletionTime *time.Time `json:",omitempty"`
}

type ListInferenceJobsResponse struct {
	Jobs []InferenceJob
}

// Prediction is one extracted (target, aspect, sentiment) tuple tied back to
// its input line.
type Prediction struct {
	Line      int
	Sentence  string
	Target    string
	Aspect    string
	Sentiment string
}

type InferenceResultsResponse struct {
	JobId        uuid.UUID
	Status       string
	LineCount    int
	TripletCount int
	Predictions  []Prediction
}

type Dataset struct {
	Name  string
	Files []string
}

type ListDatasetsResponse struct {
	Datasets []Dataset
}
