package invoker

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicolasances/gale-broker/internal/broker/errs"
	"github.com/nicolasances/gale-broker/internal/broker/ports"
)

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

func agentFor(t *testing.T, srv *httptest.Server, authToken string) ports.AgentDefinition {
	t.Helper()
	return ports.AgentDefinition{
		Name:      "summarizer",
		TaskKind:  "summarize",
		Endpoint:  ports.Endpoint{BaseURL: srv.URL, ExecutionPath: "/run"},
		AuthToken: authToken,
	}
}

func TestExecute_SendsExpectedHeadersAndBody(t *testing.T) {
	var gotMethod, gotPath, gotCID, gotAuth string
	var gotBody wireRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotCID = r.Header.Get("x-correlation-id")
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ports.AgentTaskResponse{StopReason: ports.StopCompleted, TaskOutput: map[string]any{"ok": true}})
	}))
	defer srv.Close()

	inv := New(2*time.Second, noopLogger{})
	task := ports.Task{CorrelationID: "cid-1", TaskKind: "summarize", TaskInstanceID: "ti-1"}

	resp, err := inv.Execute(t.Context(), agentFor(t, srv, "secret-token"), task)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/run", gotPath)
	assert.Equal(t, "cid-1", gotCID)
	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, ports.CorrelationID("cid-1"), gotBody.CorrelationID)
	assert.Equal(t, ports.TaskKind("summarize"), gotBody.TaskKind)

	assert.Equal(t, ports.StopCompleted, resp.StopReason)
	assert.Equal(t, true, resp.TaskOutput["ok"])
}

func TestExecute_NoAuthTokenOmitsHeader(t *testing.T) {
	var gotAuth string
	var sawHeader bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth, sawHeader = r.Header.Get("Authorization"), len(r.Header["Authorization"]) > 0
		json.NewEncoder(w).Encode(ports.AgentTaskResponse{StopReason: ports.StopCompleted})
	}))
	defer srv.Close()
	_ = gotAuth

	inv := New(2*time.Second, noopLogger{})
	_, err := inv.Execute(t.Context(), agentFor(t, srv, ""), ports.Task{CorrelationID: "cid", TaskKind: "k"})
	require.NoError(t, err)
	assert.False(t, sawHeader)
}

func TestExecute_NonTwoXXSynthesizesFailedStopReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	inv := New(2*time.Second, noopLogger{})
	resp, err := inv.Execute(t.Context(), agentFor(t, srv, ""), ports.Task{CorrelationID: "cid", TaskKind: "k"})
	require.NoError(t, err)
	assert.Equal(t, ports.StopFailed, resp.StopReason)
	assert.Equal(t, 500, resp.TaskOutput["status"])
}

func TestExecute_UnparseableBodyIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all {{{"))
	}))
	defer srv.Close()

	inv := New(2*time.Second, noopLogger{})
	_, err := inv.Execute(t.Context(), agentFor(t, srv, ""), ports.Task{CorrelationID: "cid", TaskKind: "k"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindProtocol))
}

func TestExecute_RepairableBodyRecovers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// missing closing brace and a trailing comma; jsonrepair should fix this.
		w.Write([]byte(`{"stopReason": "completed", "taskOutput": {"x": 1},`))
	}))
	defer srv.Close()

	inv := New(2*time.Second, noopLogger{})
	resp, err := inv.Execute(t.Context(), agentFor(t, srv, ""), ports.Task{CorrelationID: "cid", TaskKind: "k"})
	require.NoError(t, err)
	assert.Equal(t, ports.StopCompleted, resp.StopReason)
}

func TestExecute_UnknownStopReasonIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"stopReason": "confused"})
	}))
	defer srv.Close()

	inv := New(2*time.Second, noopLogger{})
	_, err := inv.Execute(t.Context(), agentFor(t, srv, ""), ports.Task{CorrelationID: "cid", TaskKind: "k"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindProtocol))
}

func TestExecute_SubtasksResponseDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ports.AgentTaskResponse{
			StopReason: ports.StopSubtasks,
			Subtasks: []ports.ResponseGroup{
				{GroupID: "g1", Tasks: []ports.TaskRequest{{TaskKind: "fetch", InputData: map[string]any{"url": "x"}}}},
			},
		})
	}))
	defer srv.Close()

	inv := New(2*time.Second, noopLogger{})
	resp, err := inv.Execute(t.Context(), agentFor(t, srv, ""), ports.Task{CorrelationID: "cid", TaskKind: "k"})
	require.NoError(t, err)
	require.Len(t, resp.Subtasks, 1)
	assert.Equal(t, ports.GroupID("g1"), resp.Subtasks[0].GroupID)
}
