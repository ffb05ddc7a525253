package t5_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"absa-backend/internal/t5"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The runner only cares about argv and the exit status, so a shell script
// standing in for the Python harness is enough to exercise it.
func fakeHarness(t *testing.T, script, body string) string {
	if runtime.GOOS == "windows" {
		t.Skip("fake harness requires a POSIX shell")
	}

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, script), []byte(body), 0755))
	return dir
}

func TestTrainSuccess(t *testing.T) {
	dir := fakeHarness(t, t5.TrainScript, "echo training done\n")

	runner := t5.NewRunner("/bin/sh", dir)
	err := runner.Train(context.Background(), t5.DefaultTrainParams("tasd", "rest15"), "")
	assert.NoError(t, err)
}

func TestTrainPropagatesExitCode(t *testing.T) {
	dir := fakeHarness(t, t5.TrainScript, "exit 7\n")

	runner := t5.NewRunner("/bin/sh", dir)
	err := runner.Train(context.Background(), t5.DefaultTrainParams("tasd", "rest15"), "")

	var exitErr *t5.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 7, exitErr.Code)
	assert.Equal(t, t5.TrainScript, exitErr.Script)
}

func TestTrainRejectsInvalidParams(t *testing.T) {
	runner := t5.NewRunner("/bin/sh", t.TempDir())

	params := t5.DefaultTrainParams("tasd", "rest15")
	params.Task = "bogus"

	assert.Error(t, runner.Train(context.Background(), params, ""))
}

func TestInferWritesResults(t *testing.T) {
	dir := fakeHarness(t, t5.InferenceScript, "echo '(sushi, food quality, positive)' > inference_results.txt\n")

	runner := t5.NewRunner("/bin/sh", dir)
	params := t5.InferenceParams{
		Task:                      "tasd",
		FilePath:                  "reviews.txt",
		ModelNameOrPath:           "t5-base",
		Paradigm:                  "extraction",
		TrainBatchSize:            16,
		EvalBatchSize:             16,
		LearningRate:              3e-4,
		GradientAccumulationSteps: 1,
		Ckpt:                      "cktepoch=18.ckpt",
	}
	require.NoError(t, runner.Infer(context.Background(), params, ""))

	data, err := os.ReadFile(filepath.Join(dir, t5.InferenceResultsFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "sushi")
}

func TestRunInterruptedByContext(t *testing.T) {
	dir := fakeHarness(t, t5.TrainScript, "sleep 30\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := t5.NewRunner("/bin/sh", dir)
	err := runner.Train(ctx, t5.DefaultTrainParams("tasd", "rest15"), "")
	assert.Error(t, err)
}
