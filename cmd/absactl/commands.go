package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"absa-backend/pkg/api"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
)

// finetuneManifest is the YAML shape accepted by `absactl finetune -f`.
type finetuneManifest struct {
	Name     string `yaml:"name"`
	Task     string `yaml:"task"`
	Dataset  string `yaml:"dataset"`
	Paradigm string `yaml:"paradigm"`

	Hyperparameters struct {
		ModelNameOrPath           string  `yaml:"model_name_or_path"`
		NGPU                      int     `yaml:"n_gpu"`
		TrainBatchSize            int     `yaml:"train_batch_size"`
		GradientAccumulationSteps int     `yaml:"gradient_accumulation_steps"`
		EvalBatchSize             int     `yaml:"eval_batch_size"`
		LearningRate              float64 `yaml:"learning_rate"`
		NumTrainEpochs            int     `yaml:"num_train_epochs"`
		MaxSeqLength              int     `yaml:"max_seq_length"`
		Seed                      int     `yaml:"seed"`
		WeightDecay               float64 `yaml:"weight_decay"`
		AdamEpsilon               float64 `yaml:"adam_epsilon"`
		WarmupSteps               float64 `yaml:"warmup_steps"`
	} `yaml:"hyperparameters"`
}

func (m finetuneManifest) toRequest() api.FinetuneRequest {
	h := m.Hyperparameters
	return api.FinetuneRequest{
		Name:     m.Name,
		Task:     m.Task,
		Dataset:  m.Dataset,
		Paradigm: m.Paradigm,
		Hyperparameters: api.Hyperparameters{
			ModelNameOrPath:           h.ModelNameOrPath,
			NGPU:                      h.NGPU,
			TrainBatchSize:            h.TrainBatchSize,
			GradientAccumulationSteps: h.GradientAccumulationSteps,
			EvalBatchSize:             h.EvalBatchSize,
			LearningRate:              h.LearningRate,
			NumTrainEpochs:            h.NumTrainEpochs,
			MaxSeqLength:              h.MaxSeqLength,
			Seed:                      h.Seed,
			WeightDecay:               h.WeightDecay,
			AdamEpsilon:               h.AdamEpsilon,
			WarmupSteps:               h.WarmupSteps,
		},
	}
}

type client struct {
	http *resty.Client
}

func newClient() *client {
	return &client{http: resty.New().SetBaseURL(strings.TrimRight(serverURL, "/"))}
}

func (c *client) post(path string, body, out any) error {
	resp, err := c.http.R().SetBody(body).SetResult(out).Post(path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("%s: %s", resp.Status(), strings.TrimSpace(string(resp.Body())))
	}
	return nil
}

func (c *client) get(path string, out any) error {
	resp, err := c.http.R().SetResult(out).Get(path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("%s: %s", resp.Status(), strings.TrimSpace(string(resp.Body())))
	}
	return nil
}

// watch polls the job until it reaches a terminal state, showing a spinner
// since the harness reports no intermediate progress.
func (c *client) watch(kind string, jobId uuid.UUID) error {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(fmt.Sprintf("%s %s", kind, jobId)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWriter(os.Stderr),
	)
	defer func() { _ = bar.Finish() }()

	for {
		var status string
		switch kind {
		case "finetune":
			var job api.FinetuneJob
			if err := c.get("/finetune/"+jobId.String(), &job); err != nil {
				return err
			}
			status = job.Status
		case "inference":
			var job api.InferenceJob
			if err := c.get("/inference/"+jobId.String(), &job); err != nil {
				return err
			}
			status = job.Status
		}

		switch status {
		case "COMPLETED":
			fmt.Fprintln(os.Stderr)
			fmt.Printf("job %s completed\n", jobId)
			return nil
		case "FAILED":
			fmt.Fprintln(os.Stderr)
			return fmt.Errorf("job %s failed", jobId)
		}

		_ = bar.Add(1)
		time.Sleep(2 * time.Second)
	}
}

func runFinetune(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return fmt.Errorf("error reading manifest: %w", err)
	}

	var manifest finetuneManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("error parsing manifest: %w", err)
	}

	c := newClient()

	var resp api.FinetuneSubmitResponse
	if err := c.post("/finetune", manifest.toRequest(), &resp); err != nil {
		return err
	}
	fmt.Printf("submitted finetune job %s\n", resp.JobId)

	if watchJob {
		return c.watch("finetune", resp.JobId)
	}
	return nil
}

func runInfer(cmd *cobra.Command, args []string) error {
	jobId, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid finetune job id: %w", err)
	}

	c := newClient()

	var resp api.InferenceSubmitResponse
	req := api.InferenceRequest{FinetuneJobId: jobId, InputBucket: args[1], InputKey: args[2]}
	if err := c.post("/inference", req, &resp); err != nil {
		return err
	}
	fmt.Printf("submitted inference job %s\n", resp.JobId)

	if watchJob {
		return c.watch("inference", resp.JobId)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	jobId, err := uuid.Parse(args[1])
	if err != nil {
		return fmt.Errorf("invalid job id: %w", err)
	}

	c := newClient()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	switch args[0] {
	case "finetune":
		var job api.FinetuneJob
		if err := c.get("/finetune/"+jobId.String(), &job); err != nil {
			return err
		}
		fmt.Fprintf(w, "id\t%s\nname\t%s\ntask\t%s\ndataset\t%s\nparadigm\t%s\nstatus\t%s\n",
			job.Id, job.Name, job.Task, job.Dataset, job.Paradigm, job.Status)
		if job.Checkpoint != nil {
			fmt.Fprintf(w, "checkpoint\t%s (epoch %d)\n", job.Checkpoint.Key, job.Checkpoint.Epoch)
		}
		for name, value := range job.Metrics {
			fmt.Fprintf(w, "metric %s\t%.4f\n", name, value)
		}
		for _, e := range job.Errors {
			fmt.Fprintf(w, "error\t%s\n", e)
		}
	case "inference":
		var job api.InferenceJob
		if err := c.get("/inference/"+jobId.String(), &job); err != nil {
			return err
		}
		fmt.Fprintf(w, "id\t%s\ntask\t%s\nparadigm\t%s\nstatus\t%s\nlines\t%d\ntriplets\t%d\n",
			job.Id, job.Task, job.Paradigm, job.Status, job.LineCount, job.TripletCount)
		for _, e := range job.Errors {
			fmt.Fprintf(w, "error\t%s\n", e)
		}
	default:
		return fmt.Errorf("unknown job kind %q", args[0])
	}
	return nil
}

func runResults(cmd *cobra.Command, args []string) error {
	jobId, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid job id: %w", err)
	}

	c := newClient()

	var results api.InferenceResultsResponse
	if err := c.get(fmt.Sprintf("/inference/%s/results", jobId), &results); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "line\ttarget\taspect\tsentiment\n")
	for _, p := range results.Predictions {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", p.Line, p.Target, p.Aspect, p.Sentiment)
	}
	return nil
}

func runDatasets(cmd *cobra.Command, args []string) error {
	c := newClient()

	var listed api.ListDatasetsResponse
	if err := c.get("/datasets", &listed); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "dataset\tfiles\n")
	for _, d := range listed.Datasets {
		fmt.Fprintf(w, "%s\t%s\n", d.Name, strings.Join(d.Files, ", "))
	}
	return nil
}
