package t5_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"absa-backend/internal/t5"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindLatestCheckpoint(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"cktepoch=3.ckpt", "cktepoch=18.ckpt", "cktepoch=7.ckpt", "hparams.yaml"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}

	path, epoch, err := t5.FindLatestCheckpoint(dir)
	require.NoError(t, err)
	assert.Equal(t, 18, epoch)
	assert.Equal(t, filepath.Join(dir, "cktepoch=18.ckpt"), path)
}

func TestFindLatestCheckpointEmptyDir(t *testing.T) {
	_, _, err := t5.FindLatestCheckpoint(t.TempDir())
	assert.Error(t, err)
}

func TestCheckpointName(t *testing.T) {
	assert.Equal(t, "cktepoch=18.ckpt", t5.CheckpointName(18))
}

func TestParseEvalResults(t *testing.T) {
	input := strings.Join([]string{
		"precision = 0.6412",
		"recall = 0.5871",
		"f1 = 0.6130",
		"val_loss = 0.0821",
		"",
		"log = {'train_loss': 0.1}",
	}, "\n")

	metrics, err := t5.ParseEvalResults(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, map[string]float64{
		"precision": 0.6412,
		"recall":    0.5871,
		"f1":        0.6130,
		"val_loss":  0.0821,
	}, metrics)
}
