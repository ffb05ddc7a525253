package t5

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"sync"
)

// Scripts invoked by the runner. These live next to the datasets inside the
// harness directory.
const (
	TrainScript     = "main.py"
	InferenceScript = "inference.py"
)

// ExitError reports that the harness process terminated with a non-zero
// status. The code is the harness's own exit code, surfaced unchanged.
type ExitError struct {
	Script string
	Code   int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Script, e.Code)
}

// Runner launches the Python harness scripts.
type Runner struct {
	// Python is the interpreter used to run the harness, e.g. "python3" or
	// a path into a conda env.
	Python string

	// HarnessDir is the directory containing main.py and inference.py. It is
	// used as the working directory so relative outputs (outputs/,
	// inference_results.txt) land in a predictable place.
	HarnessDir string
}

func NewRunner(python, harnessDir string) *Runner {
	return &Runner{Python: python, HarnessDir: harnessDir}
}

// Train runs main.py with the given params in dir. dir overrides the
// configured harness directory when non-empty, which lets workers run each
// job in its own scratch copy.
func (r *Runner) Train(ctx context.Context, params TrainParams, dir string) error {
	if err := params.Validate(); err != nil {
		return err
	}
	return r.run(ctx, TrainScript, params.Args(), dir)
}

// Infer runs inference.py with the given params in dir.
func (r *Runner) Infer(ctx context.Context, params InferenceParams, dir string) error {
	if err := params.Validate(); err != nil {
		return err
	}
	return r.run(ctx, InferenceScript, params.Args(), dir)
}

func (r *Runner) run(ctx context.Context, script string, args []string, dir string) error {
	if dir == "" {
		dir = r.HarnessDir
	}

	// The script lives in the harness directory but runs with the job's
	// scratch directory as cwd, so relative outputs (outputs/,
	// inference_results.txt) land in the scratch space.
	scriptPath := script
	if r.HarnessDir != "" {
		scriptPath = filepath.Join(r.HarnessDir, script)
	}

	cmd := exec.CommandContext(ctx, r.Python, append([]string{scriptPath}, args...)...)
	cmd.Dir = dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	slog.Info("launching harness", "python", r.Python, "script", script, "args", args, "dir", dir)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", script, err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		forwardOutput(stdout, script, "stdout")
	}()
	go func() {
		defer wg.Done()
		forwardOutput(stderr, script, "stderr")
	}()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("%s interrupted: %w", script, ctxErr)
			}
			return &ExitError{Script: script, Code: exitErr.ExitCode()}
		}
		return fmt.Errorf("error running %s: %w", script, err)
	}

	slog.Info("harness finished", "script", script)
	return nil
}

func forwardOutput(r io.Reader, script, stream string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		slog.Info("harness output", "script", script, "stream", stream, "line", scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("error reading harness output", "script", script, "stream", stream, "error", err)
	}
}
