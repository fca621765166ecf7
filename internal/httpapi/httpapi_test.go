package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Th0rgal/explain.md-sub002/internal/verification"
)

type fakeRunner struct{}

func (fakeRunner) Run(contract verification.ReproducibilityContract, timeoutMs int) (verification.RunOutput, error) {
	return verification.RunOutput{ExitCode: 0, Stdout: "verified\n"}, nil
}

func newTestServer() *Server {
	return NewServer(verification.NewWorkflow(fakeRunner{}, 0))
}

func decodeEnvelope(t *testing.T, body *bytes.Buffer) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(body.Bytes(), &env))
	return env
}

func TestHandleHealth_ReturnsOK(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec.Body)
	assert.True(t, env.OK)
}

func TestHandleEnqueue_CreatesJobReturns201(t *testing.T) {
	s := newTestServer()
	body, _ := json.Marshal(map[string]any{
		"jobId":   "job-1",
		"leafId":  "lean:Mod:x:1:1",
		"command": "lake",
		"args":    []string{"build"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/verification/jobs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	env := decodeEnvelope(t, rec.Body)
	assert.True(t, env.OK)
}

func TestHandleEnqueue_MissingFieldsReturns400(t *testing.T) {
	s := newTestServer()
	body, _ := json.Marshal(map[string]any{"jobId": "job-1"})
	req := httptest.NewRequest(http.MethodPost, "/api/verification/jobs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleEnqueue_DuplicateJobIDReturns409(t *testing.T) {
	s := newTestServer()
	body, _ := json.Marshal(map[string]any{"jobId": "job-1", "leafId": "l1", "command": "lake"})

	req1 := httptest.NewRequest(http.MethodPost, "/api/verification/jobs", bytes.NewReader(body))
	rec1 := httptest.NewRecorder()
	s.ServeHTTP(rec1, req1)
	require.Equal(t, http.StatusCreated, rec1.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/api/verification/jobs", bytes.NewReader(body))
	rec2 := httptest.NewRecorder()
	s.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusConflict, rec2.Code)
}

func TestHandleGetJob_UnknownIDReturns404(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/verification/jobs/missing", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleRunJob_RunsQueuedJobThenConflictsOnSecondRun(t *testing.T) {
	s := newTestServer()
	body, _ := json.Marshal(map[string]any{"jobId": "job-1", "leafId": "l1", "command": "lake"})
	enqueueReq := httptest.NewRequest(http.MethodPost, "/api/verification/jobs", bytes.NewReader(body))
	enqueueRec := httptest.NewRecorder()
	s.ServeHTTP(enqueueRec, enqueueReq)
	require.Equal(t, http.StatusCreated, enqueueRec.Code)

	runReq := httptest.NewRequest(http.MethodPost, "/api/verification/jobs/job-1/run", nil)
	runRec := httptest.NewRecorder()
	s.ServeHTTP(runRec, runReq)
	assert.Equal(t, http.StatusOK, runRec.Code)

	runReq2 := httptest.NewRequest(http.MethodPost, "/api/verification/jobs/job-1/run", nil)
	runRec2 := httptest.NewRecorder()
	s.ServeHTTP(runRec2, runReq2)
	assert.Equal(t, http.StatusConflict, runRec2.Code)
}

func TestHandleListJobs_FiltersByLeafIDQueryParam(t *testing.T) {
	s := newTestServer()
	for _, id := range []string{"job-1", "job-2"} {
		leaf := "l1"
		if id == "job-2" {
			leaf = "l2"
		}
		body, _ := json.Marshal(map[string]any{"jobId": id, "leafId": leaf, "command": "lake"})
		req := httptest.NewRequest(http.MethodPost, "/api/verification/jobs", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/verification/jobs?leafId=l1", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var env struct {
		OK   bool              `json:"ok"`
		Data []map[string]any  `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Len(t, env.Data, 1)
	assert.Equal(t, "job-1", env.Data[0]["jobId"])
}

func TestHandleRunNext_EmptyQueueReturnsNilData(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/api/verification/run-next", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
