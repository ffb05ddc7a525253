package t5

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// EvalResultsFile is written by the training harness after evaluation, one
// "key = value" line per metric.
const EvalResultsFile = "test_results.txt"

var checkpointPattern = regexp.MustCompile(`^cktepoch=(\d+)\.ckpt$`)

// CheckpointName returns the filename the harness uses for the checkpoint
// saved at the given epoch.
func CheckpointName(epoch int) string {
	return fmt.Sprintf("cktepoch=%d.ckpt", epoch)
}

// FindLatestCheckpoint scans a harness output directory for checkpoint files
// and returns the one with the highest epoch.
func FindLatestCheckpoint(dir string) (path string, epoch int, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", 0, fmt.Errorf("error reading checkpoint dir %s: %w", dir, err)
	}

	best := -1
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := checkpointPattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > best {
			best = n
			path = filepath.Join(dir, entry.Name())
		}
	}

	if best < 0 {
		return "", 0, fmt.Errorf("no checkpoint files found in %s", dir)
	}
	return path, best, nil
}

// ParseEvalResults reads a test_results.txt stream into a metrics map.
// Values that are not numeric are skipped.
func ParseEvalResults(r io.Reader) (map[string]float64, error) {
	scanner := bufio.NewScanner(r)

	metrics := make(map[string]float64)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}

		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			continue
		}
		metrics[strings.TrimSpace(key)] = f
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading eval results: %w", err)
	}
	return metrics, nil
}
