package verification

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"
)

// ledgerJob is the JSON-persisted shape of one job; field order matches
// spec §6's "stable key order" requirement via struct tag ordering.
type ledgerJob struct {
	SchemaVersion   string             `json:"schemaVersion"`
	JobID           string             `json:"jobId"`
	QueueSequence   int                `json:"queueSequence"`
	Status          string             `json:"status"`
	Target          ledgerTarget       `json:"target"`
	Reproducibility ledgerContract     `json:"reproducibility"`
	TimeoutMs       int                `json:"timeoutMs"`
	CreatedAt       string             `json:"createdAt"`
	UpdatedAt       string             `json:"updatedAt"`
	StartedAt       *string            `json:"startedAt,omitempty"`
	FinishedAt      *string            `json:"finishedAt,omitempty"`
	Logs            []ledgerLogLine    `json:"logs"`
	Result          *ledgerResult      `json:"result,omitempty"`
}

type ledgerTarget struct {
	LeafID      string `json:"leafId"`
	Description string `json:"description"`
}

type ledgerContract struct {
	SourceRevision   string            `json:"sourceRevision"`
	WorkingDirectory string            `json:"workingDirectory"`
	Command          string            `json:"command"`
	Args             []string          `json:"args"`
	Env              map[string]string `json:"env"`
	Toolchain        ledgerToolchain   `json:"toolchain"`
}

type ledgerToolchain struct {
	LeanVersion string `json:"leanVersion"`
	LakeVersion string `json:"lakeVersion,omitempty"`
}

type ledgerLogLine struct {
	Stream string `json:"stream"`
	Text   string `json:"text"`
}

type ledgerResult struct {
	ExitCode   *int    `json:"exitCode"`
	Signal     *string `json:"signal"`
	DurationMs int     `json:"durationMs"`
}

// Ledger is the persisted form of an entire workflow's job set.
type Ledger struct {
	SchemaVersion string      `json:"schemaVersion"`
	Jobs          []ledgerJob `json:"jobs"`
}

const timeLayout = time.RFC3339Nano

func toLedgerJob(j *Job) ledgerJob {
	out := ledgerJob{
		SchemaVersion: j.SchemaVersion,
		JobID:         j.JobID,
		QueueSequence: j.QueueSequence,
		Status:        string(j.Status),
		Target:        ledgerTarget{LeafID: j.Target.LeafID, Description: j.Target.Description},
		Reproducibility: ledgerContract{
			SourceRevision:   j.Reproducibility.SourceRevision,
			WorkingDirectory: j.Reproducibility.WorkingDirectory,
			Command:          j.Reproducibility.Command,
			Args:             j.Reproducibility.Args,
			Env:              j.Reproducibility.Env,
			Toolchain: ledgerToolchain{
				LeanVersion: j.Reproducibility.Toolchain.LeanVersion,
				LakeVersion: j.Reproducibility.Toolchain.LakeVersion,
			},
		},
		TimeoutMs: j.TimeoutMs,
		CreatedAt: j.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt: j.UpdatedAt.UTC().Format(timeLayout),
	}
	if j.StartedAt != nil {
		s := j.StartedAt.UTC().Format(timeLayout)
		out.StartedAt = &s
	}
	if j.FinishedAt != nil {
		s := j.FinishedAt.UTC().Format(timeLayout)
		out.FinishedAt = &s
	}
	for _, l := range j.Logs {
		out.Logs = append(out.Logs, ledgerLogLine{Stream: l.Stream, Text: l.Text})
	}
	if j.Result != nil {
		out.Result = &ledgerResult{ExitCode: j.Result.ExitCode, Signal: j.Result.Signal, DurationMs: j.Result.DurationMs}
	}
	return out
}

func fromLedgerJob(lj ledgerJob) (*Job, error) {
	created, err := time.Parse(timeLayout, lj.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("verification: parse createdAt for %s: %w", lj.JobID, err)
	}
	updated, err := time.Parse(timeLayout, lj.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("verification: parse updatedAt for %s: %w", lj.JobID, err)
	}

	j := &Job{
		SchemaVersion: lj.SchemaVersion,
		JobID:         lj.JobID,
		QueueSequence: lj.QueueSequence,
		Status:        Status(lj.Status),
		Target:        Target{LeafID: lj.Target.LeafID, Description: lj.Target.Description},
		Reproducibility: ReproducibilityContract{
			SourceRevision:   lj.Reproducibility.SourceRevision,
			WorkingDirectory: lj.Reproducibility.WorkingDirectory,
			Command:          lj.Reproducibility.Command,
			Args:             lj.Reproducibility.Args,
			Env:              lj.Reproducibility.Env,
			Toolchain: ToolchainInfo{
				LeanVersion: lj.Reproducibility.Toolchain.LeanVersion,
				LakeVersion: lj.Reproducibility.Toolchain.LakeVersion,
			},
		},
		TimeoutMs: lj.TimeoutMs,
		CreatedAt: created,
		UpdatedAt: updated,
	}
	if lj.StartedAt != nil {
		t, err := time.Parse(timeLayout, *lj.StartedAt)
		if err != nil {
			return nil, fmt.Errorf("verification: parse startedAt for %s: %w", lj.JobID, err)
		}
		j.StartedAt = &t
	}
	if lj.FinishedAt != nil {
		t, err := time.Parse(timeLayout, *lj.FinishedAt)
		if err != nil {
			return nil, fmt.Errorf("verification: parse finishedAt for %s: %w", lj.JobID, err)
		}
		j.FinishedAt = &t
	}
	for _, l := range lj.Logs {
		j.Logs = append(j.Logs, LogLine{Stream: l.Stream, Text: l.Text})
	}
	if lj.Result != nil {
		j.Result = &Result{ExitCode: lj.Result.ExitCode, Signal: lj.Result.Signal, DurationMs: lj.Result.DurationMs}
	}
	return j, nil
}

// ToLedger renders the workflow's jobs in queueSequence order.
func (w *Workflow) ToLedger() Ledger {
	w.mu.Lock()
	defer w.mu.Unlock()

	jobs := make([]*Job, 0, len(w.jobs))
	for _, id := range w.order {
		jobs = append(jobs, w.jobs[id])
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].QueueSequence < jobs[j].QueueSequence })

	out := Ledger{SchemaVersion: SchemaVersion}
	for _, j := range jobs {
		out.Jobs = append(out.Jobs, toLedgerJob(j))
	}
	return out
}

// WriteVerificationLedger persists the workflow's canonical ledger form to
// path as JSON with stable key order and a trailing newline (spec §6).
func WriteVerificationLedger(w *Workflow, path string) error {
	ledger := w.ToLedger()
	data, err := json.MarshalIndent(ledger, "", "  ")
	if err != nil {
		return fmt.Errorf("verification: marshal ledger: %w", err)
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0644)
}

// ReadVerificationLedger loads a previously-persisted ledger into a fresh
// Workflow. nextSequence resumes from 1 + max(queueSequence) across the
// loaded jobs (spec §4.10).
func ReadVerificationLedger(path string, runner RunnerPort, logCap int) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("verification: read ledger %s: %w", path, err)
	}

	var ledger Ledger
	if err := json.Unmarshal(data, &ledger); err != nil {
		return nil, fmt.Errorf("verification: parse ledger %s: %w", path, err)
	}

	w := NewWorkflow(runner, logCap)
	maxSeq := -1
	for _, lj := range ledger.Jobs {
		j, err := fromLedgerJob(lj)
		if err != nil {
			return nil, err
		}
		w.jobs[j.JobID] = j
		w.order = append(w.order, j.JobID)
		if j.QueueSequence > maxSeq {
			maxSeq = j.QueueSequence
		}
	}
	w.nextSequence = maxSeq + 1
	return w, nil
}
