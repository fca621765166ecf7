package verification

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	outputs []RunOutput
	errs    []error
	calls   int
}

func (f *fakeRunner) Run(contract ReproducibilityContract, timeoutMs int) (RunOutput, error) {
	i := f.calls
	f.calls++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return RunOutput{}, err
	}
	if i < len(f.outputs) {
		return f.outputs[i], nil
	}
	return RunOutput{ExitCode: 0}, nil
}

func sampleContract() ReproducibilityContract {
	return ReproducibilityContract{
		SourceRevision:   "abc123",
		WorkingDirectory: "/repo",
		Command:          "lake",
		Args:             []string{"env", "lean", "Foo.lean"},
		Env:              map[string]string{"PATH": "/usr/bin", "LEAN_PATH": "/lean"},
		Toolchain:        ToolchainInfo{LeanVersion: "4.9.0"},
	}
}

func TestEnqueue_AssignsSequentialQueueSequence(t *testing.T) {
	w := NewWorkflow(&fakeRunner{}, 0)
	j1, err := w.Enqueue("job-1", Target{LeafID: "l1"}, sampleContract(), 1000)
	require.NoError(t, err)
	j2, err := w.Enqueue("job-2", Target{LeafID: "l2"}, sampleContract(), 1000)
	require.NoError(t, err)

	assert.Equal(t, 0, j1.QueueSequence)
	assert.Equal(t, 1, j2.QueueSequence)
	assert.Equal(t, StatusQueued, j1.Status)
}

func TestEnqueue_RejectsDuplicateJobID(t *testing.T) {
	w := NewWorkflow(&fakeRunner{}, 0)
	_, err := w.Enqueue("job-1", Target{LeafID: "l1"}, sampleContract(), 1000)
	require.NoError(t, err)

	_, err = w.Enqueue("job-1", Target{LeafID: "l2"}, sampleContract(), 1000)
	require.Error(t, err)
	assert.IsType(t, &EnqueueError{}, err)
}

func TestRunJob_SuccessTransition(t *testing.T) {
	runner := &fakeRunner{outputs: []RunOutput{{ExitCode: 0, Stdout: "ok\n"}}}
	w := NewWorkflow(runner, 0)
	_, err := w.Enqueue("job-1", Target{LeafID: "l1"}, sampleContract(), 1000)
	require.NoError(t, err)

	job, err := w.RunJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, job.Status)
	require.NotNil(t, job.Result)
	assert.Equal(t, 0, *job.Result.ExitCode)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.FinishedAt)
}

func TestRunJob_NonZeroExitIsFailure(t *testing.T) {
	runner := &fakeRunner{outputs: []RunOutput{{ExitCode: 1, Stderr: "boom\n"}}}
	w := NewWorkflow(runner, 0)
	w.Enqueue("job-1", Target{LeafID: "l1"}, sampleContract(), 1000)

	job, err := w.RunJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, job.Status)
}

func TestRunJob_TimeoutFromRunner(t *testing.T) {
	runner := &fakeRunner{outputs: []RunOutput{{TimedOut: true}}}
	w := NewWorkflow(runner, 0)
	w.Enqueue("job-1", Target{LeafID: "l1"}, sampleContract(), 1000)

	job, err := w.RunJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusTimeout, job.Status)
}

func TestRunJob_RunnerErrorDowngradesToFailure(t *testing.T) {
	runner := &fakeRunner{errs: []error{fmt.Errorf("spawn failed")}}
	w := NewWorkflow(runner, 0)
	w.Enqueue("job-1", Target{LeafID: "l1"}, sampleContract(), 1000)

	job, err := w.RunJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, job.Status)
	require.NotNil(t, job.Result)
	assert.Nil(t, job.Result.ExitCode)
	require.Len(t, job.Logs, 1)
	assert.Equal(t, "system", job.Logs[0].Stream)
}

func TestMergeLogs_CapsAndEmitsSyntheticTruncationLine(t *testing.T) {
	lines := mergeLogs("a\nb\nc\n", "d\n", 2)
	require.Len(t, lines, 3)
	assert.Equal(t, "system", lines[2].Stream)
	assert.Contains(t, lines[2].Text, "Truncated 2 log lines.")
}

func TestRunNextQueuedJob_RunsEarliestSequence(t *testing.T) {
	runner := &fakeRunner{outputs: []RunOutput{{ExitCode: 0}, {ExitCode: 0}}}
	w := NewWorkflow(runner, 0)
	w.Enqueue("job-2", Target{LeafID: "l2"}, sampleContract(), 1000)
	w.Enqueue("job-1", Target{LeafID: "l1"}, sampleContract(), 1000)

	job, err := w.RunJob("job-2")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, job.Status)

	next, err := w.RunNextQueuedJob()
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "job-1", next.JobID)
}

func TestRunNextQueuedJob_NilWhenNoneQueued(t *testing.T) {
	w := NewWorkflow(&fakeRunner{}, 0)
	next, err := w.RunNextQueuedJob()
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestListJobsForLeaf_FiltersByLeaf(t *testing.T) {
	w := NewWorkflow(&fakeRunner{}, 0)
	w.Enqueue("job-1", Target{LeafID: "l1"}, sampleContract(), 1000)
	w.Enqueue("job-2", Target{LeafID: "l2"}, sampleContract(), 1000)

	jobs := w.ListJobsForLeaf("l1")
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-1", jobs[0].JobID)
}

func TestGetJob_ReturnsDeepCopy(t *testing.T) {
	w := NewWorkflow(&fakeRunner{}, 0)
	w.Enqueue("job-1", Target{LeafID: "l1"}, sampleContract(), 1000)

	job, ok := w.GetJob("job-1")
	require.True(t, ok)
	job.Reproducibility.Args[0] = "mutated"

	job2, _ := w.GetJob("job-1")
	assert.NotEqual(t, "mutated", job2.Reproducibility.Args[0])
}

func TestLedgerRoundTrip_ResumesSequenceFromMax(t *testing.T) {
	runner := &fakeRunner{outputs: []RunOutput{{ExitCode: 0}}}
	w := NewWorkflow(runner, 0)
	w.Enqueue("job-1", Target{LeafID: "l1"}, sampleContract(), 1000)
	w.RunJob("job-1")
	w.Enqueue("job-2", Target{LeafID: "l2"}, sampleContract(), 1000)

	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.json")
	require.NoError(t, WriteVerificationLedger(w, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, len(data) > 0 && data[len(data)-1] == '\n')

	reloaded, err := ReadVerificationLedger(path, runner, 0)
	require.NoError(t, err)

	j3, err := reloaded.Enqueue("job-3", Target{LeafID: "l3"}, sampleContract(), 1000)
	require.NoError(t, err)
	assert.Equal(t, 2, j3.QueueSequence)

	job1, ok := reloaded.GetJob("job-1")
	require.True(t, ok)
	assert.Equal(t, StatusSuccess, job1.Status)
}

func TestComputeVerificationReproducibilityHash_StableUnderEnvReordering(t *testing.T) {
	c1 := sampleContract()
	c2 := sampleContract()
	c2.Env = map[string]string{"LEAN_PATH": "/lean", "PATH": "/usr/bin"}

	assert.Equal(t, ComputeVerificationReproducibilityHash(c1), ComputeVerificationReproducibilityHash(c2))
}

func TestComputeVerificationReproducibilityHash_DiffersOnCommandChange(t *testing.T) {
	c1 := sampleContract()
	c2 := sampleContract()
	c2.Command = "other"

	assert.NotEqual(t, ComputeVerificationReproducibilityHash(c1), ComputeVerificationReproducibilityHash(c2))
}

func TestReplayCommand_QuotesUnsafeTokens(t *testing.T) {
	c := ReproducibilityContract{Command: "lake", Args: []string{"build", "it's unsafe", "plain"}}
	cmd := ReplayCommand(c)
	assert.Equal(t, `lake build 'it'\''s unsafe' plain`, cmd)
}

func TestReplayCommand_EmptyArgQuoted(t *testing.T) {
	c := ReproducibilityContract{Command: "lake", Args: []string{""}}
	assert.Equal(t, "lake ''", ReplayCommand(c))
}
