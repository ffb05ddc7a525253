package t5

import (
	"fmt"
	"path/filepath"
	"strconv"
)

// Tasks understood by the fine-tuning harness.
const (
	TaskUABSA = "uabsa"
	TaskASTE  = "aste"
	TaskTASD  = "tasd"
	TaskAOPE  = "aope"
)

// Paradigms control how the harness formats target sequences.
const (
	ParadigmAnnotation = "annotation"
	ParadigmExtraction = "extraction"
)

var validTasks = map[string]struct{}{
	TaskUABSA: {}, TaskASTE: {}, TaskTASD: {}, TaskAOPE: {},
}

var validParadigms = map[string]struct{}{
	ParadigmAnnotation: {}, ParadigmExtraction: {},
}

var validDatasets = map[string]struct{}{
	"laptop14": {}, "rest14": {}, "rest15": {}, "rest16": {},
}

func ValidTask(task string) bool {
	_, ok := validTasks[task]
	return ok
}

func ValidParadigm(paradigm string) bool {
	_, ok := validParadigms[paradigm]
	return ok
}

func ValidDataset(dataset string) bool {
	_, ok := validDatasets[dataset]
	return ok
}

// TrainParams holds the arguments for a fine-tuning invocation of main.py.
// Flag names and value types are the contract with the harness and must not
// change.
type TrainParams struct {
	Task            string
	Dataset         string
	ModelNameOrPath string
	Paradigm        string

	NGPU                      int
	TrainBatchSize            int
	GradientAccumulationSteps int
	EvalBatchSize             int
	LearningRate              float64
	NumTrainEpochs            int

	// Optional overrides. Zero means "let the harness use its default" and
	// the flag is omitted.
	MaxSeqLength int
	Seed         int
	WeightDecay  float64
	AdamEpsilon  float64
	WarmupSteps  float64
}

// DefaultTrainParams mirrors the harness argparse defaults.
func DefaultTrainParams(task, dataset string) TrainParams {
	return TrainParams{
		Task:                      task,
		Dataset:                   dataset,
		ModelNameOrPath:           "t5-base",
		Paradigm:                  ParadigmAnnotation,
		NGPU:                      1,
		TrainBatchSize:            16,
		GradientAccumulationSteps: 1,
		EvalBatchSize:             16,
		LearningRate:              3e-4,
		NumTrainEpochs:            20,
	}
}

func (p TrainParams) Validate() error {
	if !ValidTask(p.Task) {
		return fmt.Errorf("invalid task %q: must be one of uabsa, aste, tasd, aope", p.Task)
	}
	if !ValidParadigm(p.Paradigm) {
		return fmt.Errorf("invalid paradigm %q: must be annotation or extraction", p.Paradigm)
	}
	if !ValidDataset(p.Dataset) {
		return fmt.Errorf("invalid dataset %q: must be one of laptop14, rest14, rest15, rest16", p.Dataset)
	}
	if p.ModelNameOrPath == "" {
		return fmt.Errorf("model_name_or_path is required")
	}
	if p.TrainBatchSize <= 0 || p.EvalBatchSize <= 0 {
		return fmt.Errorf("batch sizes must be positive")
	}
	if p.GradientAccumulationSteps <= 0 {
		return fmt.Errorf("gradient_accumulation_steps must be positive")
	}
	if p.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be positive")
	}
	if p.NumTrainEpochs <= 0 {
		return fmt.Errorf("num_train_epochs must be positive")
	}
	return nil
}

// Args builds the argv passed to main.py. Training runs always request
// evaluation and never carry --file_path or --ckpt.
func (p TrainParams) Args() []string {
	args := []string{
		"--task", p.Task,
		"--dataset", p.Dataset,
		"--model_name_or_path", p.ModelNameOrPath,
		"--paradigm", p.Paradigm,
		"--n_gpu", strconv.Itoa(p.NGPU),
		"--do_eval",
		"--train_batch_size", strconv.Itoa(p.TrainBatchSize),
		"--gradient_accumulation_steps", strconv.Itoa(p.GradientAccumulationSteps),
		"--eval_batch_size", strconv.Itoa(p.EvalBatchSize),
		"--learning_rate", formatFloat(p.LearningRate),
		"--num_train_epochs", strconv.Itoa(p.NumTrainEpochs),
	}
	return append(args, p.extraArgs()...)
}

func (p TrainParams) extraArgs() []string {
	var args []string
	if p.MaxSeqLength > 0 {
		args = append(args, "--max_seq_length", strconv.Itoa(p.MaxSeqLength))
	}
	if p.Seed > 0 {
		args = append(args, "--seed", strconv.Itoa(p.Seed))
	}
	if p.WeightDecay > 0 {
		args = append(args, "--weight_decay", formatFloat(p.WeightDecay))
	}
	if p.AdamEpsilon > 0 {
		args = append(args, "--adam_epsilon", formatFloat(p.AdamEpsilon))
	}
	if p.WarmupSteps > 0 {
		args = append(args, "--warmup_steps", formatFloat(p.WarmupSteps))
	}
	return args
}

// OutputDir is where the harness writes checkpoints and eval results,
// relative to its working directory.
func (p TrainParams) OutputDir() string {
	return filepath.Join("outputs", p.Task, p.Dataset, p.Paradigm)
}

// InferenceParams holds the arguments for an invocation of inference.py.
type InferenceParams struct {
	Task            string
	FilePath        string
	ModelNameOrPath string
	Paradigm        string

	NGPU                      int
	TrainBatchSize            int
	GradientAccumulationSteps int
	EvalBatchSize             int
	LearningRate              float64
	Ckpt                      string

	MaxSeqLength int
	Seed         int
}

func (p InferenceParams) Validate() error {
	if !ValidTask(p.Task) {
		return fmt.Errorf("invalid task %q: must be one of uabsa, aste, tasd, aope", p.Task)
	}
	if !ValidParadigm(p.Paradigm) {
		return fmt.Errorf("invalid paradigm %q: must be annotation or extraction", p.Paradigm)
	}
	if p.FilePath == "" {
		return fmt.Errorf("file_path is required")
	}
	if p.Ckpt == "" {
		return fmt.Errorf("ckpt is required")
	}
	if p.ModelNameOrPath == "" {
		return fmt.Errorf("model_name_or_path is required")
	}
	return nil
}

// Args builds the argv passed to inference.py. Inference runs always carry
// --file_path and --ckpt and never --do_eval.
func (p InferenceParams) Args() []string {
	args := []string{
		"--task", p.Task,
		"--file_path", p.FilePath,
		"--model_name_or_path", p.ModelNameOrPath,
		"--paradigm", p.Paradigm,
		"--n_gpu", strconv.Itoa(p.NGPU),
		"--train_batch_size", strconv.Itoa(p.TrainBatchSize),
		"--gradient_accumulation_steps", strconv.Itoa(p.GradientAccumulationSteps),
		"--eval_batch_size", strconv.Itoa(p.EvalBatchSize),
		"--learning_rate", formatFloat(p.LearningRate),
		"--ckpt", p.Ckpt,
	}
	if p.MaxSeqLength > 0 {
		args = append(args, "--max_seq_length", strconv.Itoa(p.MaxSeqLength))
	}
	if p.Seed > 0 {
		args = append(args, "--seed", strconv.Itoa(p.Seed))
	}
	return args
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
