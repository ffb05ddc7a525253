package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL    string
	manifestPath string
	watchJob     bool
)

var rootCmd = &cobra.Command{
	Use:           "absactl",
	Short:         "Operator CLI for the ABSA finetune/inference backend",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var finetuneCmd = &cobra.Command{
	Use:   "finetune -f <manifest.yaml>",
	Short: "Submit a finetune job from a YAML manifest",
	Args:  cobra.NoArgs,
	RunE:  runFinetune,
}

var inferCmd = &cobra.Command{
	Use:   "infer <finetune_job_id> <bucket> <key>",
	Short: "Submit an inference job against a finished finetune job",
	Args:  cobra.ExactArgs(3),
	RunE:  runInfer,
}

var statusCmd = &cobra.Command{
	Use:   "status <finetune|inference> <job_id>",
	Short: "Show the status of a job",
	Args:  cobra.ExactArgs(2),
	RunE:  runStatus,
}

var resultsCmd = &cobra.Command{
	Use:   "results <job_id>",
	Short: "Print the extracted (target, aspect, sentiment) triplets",
	Args:  cobra.ExactArgs(1),
	RunE:  runResults,
}

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "List the datasets available for finetuning",
	Args:  cobra.NoArgs,
	RunE:  runDatasets,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:3001", "backend server url")

	finetuneCmd.Flags().StringVarP(&manifestPath, "file", "f", "", "path to finetune manifest yaml")
	_ = finetuneCmd.MarkFlagRequired("file")
	finetuneCmd.Flags().BoolVar(&watchJob, "watch", false, "poll until the job completes")
	inferCmd.Flags().BoolVar(&watchJob, "watch", false, "poll until the job completes")

	rootCmd.AddCommand(finetuneCmd, inferCmd, statusCmd, resultsCmd, datasetsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "absactl: %v\n", err)
		os.Exit(1)
	}
}
