package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestManifestToRequest(t *testing.T) {
	doc := `
name: laptop-tasd
task: tasd
dataset: rest15
paradigm: extraction
hyperparameters:
  model_name_or_path: t5-base
  n_gpu: 1
  train_batch_size: 8
  gradient_accumulation_steps: 2
  learning_rate: 0.0003
  num_train_epochs: 20
  seed: 25
`

	var manifest finetuneManifest
	require.NoError(t, yaml.Unmarshal([]byte(doc), &manifest))

	req := manifest.toRequest()
	assert.Equal(t, "laptop-tasd", req.Name)
	assert.Equal(t, "tasd", req.Task)
	assert.Equal(t, "rest15", req.Dataset)
	assert.Equal(t, "extraction", req.Paradigm)
	assert.Equal(t, "t5-base", req.Hyperparameters.ModelNameOrPath)
	assert.Equal(t, 8, req.Hyperparameters.TrainBatchSize)
	assert.Equal(t, 2, req.Hyperparameters.GradientAccumulationSteps)
	assert.Equal(t, 0.0003, req.Hyperparameters.LearningRate)
	assert.Equal(t, 20, req.Hyperparameters.NumTrainEpochs)
	assert.Equal(t, 25, req.Hyperparameters.Seed)

	// Unset hyperparameters stay zero so the server applies its defaults.
	assert.Equal(t, 0, req.Hyperparameters.MaxSeqLength)
	assert.Equal(t, 0.0, req.Hyperparameters.WeightDecay)
}

func TestCommandWiring(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"finetune", "infer", "status", "results", "datasets"} {
		assert.True(t, names[name], "missing subcommand %s", name)
	}

	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("server"))
	assert.NotNil(t, finetuneCmd.Flags().Lookup("file"))
	assert.NotNil(t, finetuneCmd.Flags().Lookup("watch"))
	assert.NotNil(t, inferCmd.Flags().Lookup("watch"))
}
