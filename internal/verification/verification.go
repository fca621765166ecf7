// Package verification implements the queued, sequentially-numbered
// verification job ledger (spec §4.10): enqueue/run lifecycle, a
// reproducibility-hashing contract, and canonical ledger persistence.
// Grounded on the teacher's internal/tactile executor (process-execution
// shape: timeout context, captured stdout/stderr, audit events) and the
// same package's config/logging idioms.
package verification

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Th0rgal/explain.md-sub002/internal/canon"
	"github.com/Th0rgal/explain.md-sub002/internal/logging"
)

// Status is a verification job's lifecycle state (spec §3).
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusTimeout Status = "timeout"
)

func (s Status) isTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusTimeout:
		return true
	}
	return false
}

// Target identifies what a verification job checks.
type Target struct {
	LeafID      string
	Description string
}

// ToolchainInfo records the Lean/Lake versions a run was reproducible under.
type ToolchainInfo struct {
	LeanVersion string
	LakeVersion string // optional, empty when unknown
}

// ReproducibilityContract is the bit-exact tuple that makes a verification
// run replayable (spec §3).
type ReproducibilityContract struct {
	SourceRevision   string
	WorkingDirectory string // absolute
	Command          string
	Args             []string
	Env              map[string]string
	Toolchain        ToolchainInfo
}

// Result is a terminal job's outcome.
type Result struct {
	ExitCode   *int
	Signal     *string
	DurationMs int
}

// LogLine is one merged stdout/stderr/system log entry.
type LogLine struct {
	Stream string // "stdout" | "stderr" | "system"
	Text   string
}

// Job is one verification job record (spec §3's "Verification job").
type Job struct {
	SchemaVersion   string
	JobID           string
	QueueSequence   int
	Status          Status
	Target          Target
	Reproducibility ReproducibilityContract
	TimeoutMs       int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
	Logs            []LogLine
	Result          *Result
}

func (j *Job) clone() *Job {
	cp := *j
	cp.Reproducibility.Args = append([]string(nil), j.Reproducibility.Args...)
	if j.Reproducibility.Env != nil {
		cp.Reproducibility.Env = make(map[string]string, len(j.Reproducibility.Env))
		for k, v := range j.Reproducibility.Env {
			cp.Reproducibility.Env[k] = v
		}
	}
	cp.Logs = append([]LogLine(nil), j.Logs...)
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		cp.FinishedAt = &t
	}
	if j.Result != nil {
		r := *j.Result
		if j.Result.ExitCode != nil {
			v := *j.Result.ExitCode
			r.ExitCode = &v
		}
		if j.Result.Signal != nil {
			v := *j.Result.Signal
			r.Signal = &v
		}
		cp.Result = &r
	}
	return &cp
}

// SchemaVersion is the persisted verification-ledger schema version.
const SchemaVersion = "1.0.0"

// RunOutput is what a RunnerPort returns for one invocation.
type RunOutput struct {
	ExitCode   int
	Signal     string
	DurationMs int
	TimedOut   bool
	Stdout     string
	Stderr     string
}

// RunnerPort abstracts the external proof-checker subprocess invocation
// (spec §6's "Verification runner port").
type RunnerPort interface {
	Run(contract ReproducibilityContract, timeoutMs int) (RunOutput, error)
}

// EnqueueError reports a duplicate job id.
type EnqueueError struct {
	JobID string
}

func (e *EnqueueError) Error() string {
	return fmt.Sprintf("verification: job id %q already enqueued", e.JobID)
}

// Workflow owns an in-memory job map keyed by jobId and a monotone
// nextSequence counter (spec §4.10). Not safe for concurrent use; callers
// serialize access per the spec's single-threaded cooperative model.
type Workflow struct {
	mu           sync.Mutex
	jobs         map[string]*Job
	order        []string // insertion order, for deterministic listJobs
	nextSequence int
	runner       RunnerPort
	logCap       int
}

// NewWorkflow constructs an empty workflow. logCap bounds the number of
// merged log lines retained per job; 0 means unbounded.
func NewWorkflow(runner RunnerPort, logCap int) *Workflow {
	return &Workflow{
		jobs:   map[string]*Job{},
		runner: runner,
		logCap: logCap,
	}
}

// Enqueue mints a new queued job, assigning the next queueSequence.
// Rejects a duplicate jobID.
func (w *Workflow) Enqueue(jobID string, target Target, repro ReproducibilityContract, timeoutMs int) (*Job, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.jobs[jobID]; exists {
		return nil, &EnqueueError{JobID: jobID}
	}

	repro.Env = sortedEnvCopy(repro.Env)

	now := time.Now().UTC()
	job := &Job{
		SchemaVersion:   SchemaVersion,
		JobID:           jobID,
		QueueSequence:   w.nextSequence,
		Status:          StatusQueued,
		Target:          target,
		Reproducibility: repro,
		TimeoutMs:       timeoutMs,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	w.jobs[jobID] = job
	w.order = append(w.order, jobID)
	w.nextSequence++

	logging.Get(logging.CategoryVerification).Info("enqueued job %s (seq=%d) for leaf %s", jobID, job.QueueSequence, target.LeafID)
	return job.clone(), nil
}

func sortedEnvCopy(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}

// RunJob transitions queued -> running -> {success|failure|timeout},
// invoking the runner with timeoutMs. Runner errors downgrade to status
// failure with a single synthetic system log line (spec §7).
func (w *Workflow) RunJob(jobID string) (*Job, error) {
	w.mu.Lock()
	job, ok := w.jobs[jobID]
	if !ok {
		w.mu.Unlock()
		return nil, fmt.Errorf("verification: unknown job id %q", jobID)
	}
	if job.Status != StatusQueued {
		w.mu.Unlock()
		return nil, fmt.Errorf("verification: job %q is not queued (status=%s)", jobID, job.Status)
	}

	started := time.Now().UTC()
	job.Status = StatusRunning
	job.StartedAt = &started
	job.UpdatedAt = started
	w.mu.Unlock()

	logging.Get(logging.CategoryVerification).Info("running job %s", jobID)

	output, err := w.runner.Run(job.Reproducibility, job.TimeoutMs)

	w.mu.Lock()
	defer w.mu.Unlock()

	finished := time.Now().UTC()
	job.FinishedAt = &finished
	job.UpdatedAt = finished

	if err != nil {
		logging.Get(logging.CategoryVerification).Error("job %s runner failure: %v", jobID, err)
		job.Status = StatusFailure
		job.Result = &Result{DurationMs: 0}
		job.Logs = []LogLine{{Stream: "system", Text: fmt.Sprintf("runner error: %v", err)}}
		return job.clone(), nil
	}

	job.Logs = mergeLogs(output.Stdout, output.Stderr, w.logCap)

	exitCode := output.ExitCode
	var signal *string
	if output.Signal != "" {
		s := output.Signal
		signal = &s
	}
	job.Result = &Result{ExitCode: &exitCode, Signal: signal, DurationMs: output.DurationMs}

	switch {
	case output.TimedOut:
		job.Status = StatusTimeout
	case output.ExitCode == 0:
		job.Status = StatusSuccess
	default:
		job.Status = StatusFailure
	}

	logging.Get(logging.CategoryVerification).Info("job %s finished status=%s exitCode=%d", jobID, job.Status, output.ExitCode)
	return job.clone(), nil
}

// mergeLogs interleaves stdout then stderr into a line-oriented log,
// capping total lines; when capped, appends a synthetic system line
// reporting how many lines were truncated (spec §4.10).
func mergeLogs(stdout, stderr string, cap int) []LogLine {
	var lines []LogLine
	for _, l := range splitNonEmptyLines(stdout) {
		lines = append(lines, LogLine{Stream: "stdout", Text: l})
	}
	for _, l := range splitNonEmptyLines(stderr) {
		lines = append(lines, LogLine{Stream: "stderr", Text: l})
	}

	if cap <= 0 || len(lines) <= cap {
		return lines
	}

	truncated := len(lines) - cap
	kept := append([]LogLine(nil), lines[:cap]...)
	kept = append(kept, LogLine{Stream: "system", Text: fmt.Sprintf("Truncated %d log lines.", truncated)})
	return kept
}

func splitNonEmptyLines(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	var out []string
	for _, l := range raw {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

// RunNextQueuedJob runs the earliest-queued job (by queueSequence), or
// returns nil if none are queued.
func (w *Workflow) RunNextQueuedJob() (*Job, error) {
	w.mu.Lock()
	var next *Job
	for _, id := range w.order {
		j := w.jobs[id]
		if j.Status == StatusQueued && (next == nil || j.QueueSequence < next.QueueSequence) {
			next = j
		}
	}
	w.mu.Unlock()

	if next == nil {
		return nil, nil
	}
	return w.RunJob(next.JobID)
}

// ListJobs returns defensive deep copies of all jobs, in insertion order.
func (w *Workflow) ListJobs() []Job {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Job, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, *w.jobs[id].clone())
	}
	return out
}

// ListJobsForLeaf returns defensive deep copies of jobs targeting leafID.
func (w *Workflow) ListJobsForLeaf(leafID string) []Job {
	all := w.ListJobs()
	var out []Job
	for _, j := range all {
		if j.Target.LeafID == leafID {
			out = append(out, j)
		}
	}
	return out
}

// GetJob returns a defensive deep copy of one job.
func (w *Workflow) GetJob(jobID string) (*Job, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	j, ok := w.jobs[jobID]
	if !ok {
		return nil, false
	}
	return j.clone(), true
}

// computeVerificationReproducibilityHash canonically hashes a
// reproducibility contract per spec §4.1's discipline.
func computeVerificationReproducibilityHash(c ReproducibilityContract) string {
	b := canon.NewBuilder()
	b.SortedFields("args", c.Args)
	b.Field("command", canon.QuoteString(c.Command))
	envKeys := canon.SortedMapKeys(c.Env)
	var envLines []string
	for _, k := range envKeys {
		envLines = append(envLines, k+"="+c.Env[k])
	}
	b.Fields("env", envLines)
	b.Field("sourceRevision", c.SourceRevision)
	b.OptionalField("toolchain.lakeVersion", c.Toolchain.LakeVersion)
	b.Field("toolchain.leanVersion", c.Toolchain.LeanVersion)
	b.Field("workingDirectory", c.WorkingDirectory)
	return b.Hash()
}

// ComputeVerificationReproducibilityHash is the exported form.
func ComputeVerificationReproducibilityHash(c ReproducibilityContract) string {
	return computeVerificationReproducibilityHash(c)
}

// computeVerificationJobHash canonically hashes a job's identity and
// reproducibility contract, excluding wall-clock fields (spec §4.1).
func computeVerificationJobHash(j *Job) string {
	b := canon.NewBuilder()
	b.Field("jobId", j.JobID)
	b.Field("queueSequence", strconv.Itoa(j.QueueSequence))
	b.Field("reproducibilityHash", computeVerificationReproducibilityHash(j.Reproducibility))
	b.Field("target.leafId", j.Target.LeafID)
	b.Field("timeoutMs", strconv.Itoa(j.TimeoutMs))
	return b.Hash()
}

// ComputeVerificationJobHash is the exported form.
func ComputeVerificationJobHash(j *Job) string {
	return computeVerificationJobHash(j)
}

// isShellSafe reports whether r is in the allowlist of characters
// ReplayCommand will emit unquoted.
func isShellSafe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case strings.ContainsRune("_-./:@%+=,", r):
		return true
	}
	return false
}

// shellQuote quotes tok for safe shell replay: emits it unquoted if every
// character is in the safe allowlist, else single-quotes it, escaping any
// embedded single quote as '\''.
func shellQuote(tok string) string {
	if tok == "" {
		return "''"
	}
	safe := true
	for _, r := range tok {
		if !isShellSafe(r) {
			safe = false
			break
		}
	}
	if safe {
		return tok
	}
	return "'" + strings.ReplaceAll(tok, "'", `'\''`) + "'"
}

// ReplayCommand renders a human-readable, shell-quoted replay command for
// a reproducibility contract (spec §4.10).
func ReplayCommand(c ReproducibilityContract) string {
	tokens := make([]string, 0, len(c.Args)+1)
	tokens = append(tokens, shellQuote(c.Command))
	for _, a := range c.Args {
		tokens = append(tokens, shellQuote(a))
	}
	return strings.Join(tokens, " ")
}
