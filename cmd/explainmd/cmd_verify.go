// This file implements the verify command family: a thin CLI over
// internal/verification.Workflow, persisting to a JSON ledger between
// invocations (spec §4.10's toLedger/readVerificationLedger/
// writeVerificationLedger round trip).
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Th0rgal/explain.md-sub002/internal/verification"
)

var verifyLedgerPath string

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Manage the verification job ledger",
}

var verifyEnqueueCmd = &cobra.Command{
	Use:   "enqueue --leaf-id <id> -- <command> [args...]",
	Short: "Enqueue a verification job for one leaf",
	RunE:  runVerifyEnqueue,
}

var verifyRunCmd = &cobra.Command{
	Use:   "run <jobId>",
	Short: "Run one queued job",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerifyRun,
}

var verifyRunNextCmd = &cobra.Command{
	Use:   "run-next",
	Short: "Run the earliest-queued job",
	RunE:  runVerifyRunNext,
}

var verifyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs in the ledger",
	RunE:  runVerifyList,
}

var (
	verifyLeafID     string
	verifyWorkingDir  string
	verifyTimeoutMs   int
	verifySourceRev   string
	verifyJobIDFlag   string
)

func init() {
	verifyCmd.PersistentFlags().StringVar(&verifyLedgerPath, "ledger", "", "Verification ledger path (default: <workspace>/.explainmd/verification-ledger.json)")

	verifyEnqueueCmd.Flags().StringVar(&verifyLeafID, "leaf-id", "", "Leaf id under verification (required)")
	verifyEnqueueCmd.Flags().StringVar(&verifyWorkingDir, "working-directory", "", "Working directory for the replay command")
	verifyEnqueueCmd.Flags().IntVar(&verifyTimeoutMs, "timeout-ms", 30000, "Job timeout in milliseconds")
	verifyEnqueueCmd.Flags().StringVar(&verifySourceRev, "source-revision", "", "Source revision recorded in the reproducibility contract")
	verifyEnqueueCmd.Flags().StringVar(&verifyJobIDFlag, "job-id", "", "Job id (default: a generated uuid)")

	verifyCmd.AddCommand(verifyEnqueueCmd, verifyRunCmd, verifyRunNextCmd, verifyListCmd)
}

func resolveLedgerPath() string {
	if verifyLedgerPath != "" {
		return verifyLedgerPath
	}
	ws := workspace
	if ws == "" {
		ws, _ = os.Getwd()
	}
	return filepath.Join(ws, ".explainmd", "verification-ledger.json")
}

// openOrCreateWorkflow loads the ledger at path, or starts a fresh
// in-memory Workflow when no ledger has been written yet.
func openOrCreateWorkflow(path string) (*verification.Workflow, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return verification.NewWorkflow(verification.NewProcessRunner(), 500), nil
	}
	return verification.ReadVerificationLedger(path, verification.NewProcessRunner(), 500)
}

func persistWorkflow(w *verification.Workflow, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return verification.WriteVerificationLedger(w, path)
}

func runVerifyEnqueue(cmd *cobra.Command, args []string) error {
	if verifyLeafID == "" {
		return fmt.Errorf("verify enqueue: --leaf-id is required")
	}
	if len(args) == 0 {
		return fmt.Errorf("verify enqueue: a command to run is required after --")
	}

	path := resolveLedgerPath()
	w, err := openOrCreateWorkflow(path)
	if err != nil {
		return err
	}

	jobID := verifyJobIDFlag
	if jobID == "" {
		jobID = uuid.NewString()
	}

	ws := verifyWorkingDir
	if ws == "" {
		ws = workspace
		if ws == "" {
			ws, _ = os.Getwd()
		}
	}

	job, err := w.Enqueue(jobID, verification.Target{LeafID: verifyLeafID}, verification.ReproducibilityContract{
		SourceRevision:   verifySourceRev,
		WorkingDirectory: ws,
		Command:          args[0],
		Args:             args[1:],
	}, verifyTimeoutMs)
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}

	if err := persistWorkflow(w, path); err != nil {
		return err
	}
	fmt.Printf("enqueued %s (queueSequence=%d)\n", job.JobID, job.QueueSequence)
	return nil
}

func runVerifyRun(cmd *cobra.Command, args []string) error {
	path := resolveLedgerPath()
	w, err := openOrCreateWorkflow(path)
	if err != nil {
		return err
	}

	job, err := w.RunJob(args[0])
	if err != nil {
		return fmt.Errorf("run %s: %w", args[0], err)
	}
	if err := persistWorkflow(w, path); err != nil {
		return err
	}
	return printJobStatus(job)
}

func runVerifyRunNext(cmd *cobra.Command, args []string) error {
	path := resolveLedgerPath()
	w, err := openOrCreateWorkflow(path)
	if err != nil {
		return err
	}

	job, err := w.RunNextQueuedJob()
	if err != nil {
		return fmt.Errorf("run-next: %w", err)
	}
	if job == nil {
		fmt.Println("no queued jobs")
		return nil
	}
	if err := persistWorkflow(w, path); err != nil {
		return err
	}
	return printJobStatus(job)
}

func runVerifyList(cmd *cobra.Command, args []string) error {
	path := resolveLedgerPath()
	w, err := openOrCreateWorkflow(path)
	if err != nil {
		return err
	}
	jobs := w.ListJobs()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(jobs)
}

func printJobStatus(job *verification.Job) error {
	fmt.Printf("%s: %s\n", job.JobID, job.Status)
	if job.Result != nil && job.Result.ExitCode != nil {
		fmt.Printf("  exitCode=%d durationMs=%d\n", *job.Result.ExitCode, job.Result.DurationMs)
	}
	fmt.Printf("  replay: %s\n", verification.ReplayCommand(job.Reproducibility))
	return nil
}
