package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/robinvdvleuten/flowcast/logging"
	"github.com/robinvdvleuten/flowcast/simulation"
)

const testScenario = `name: Test
horizon_years: 1
nodes:
  - id: salary
    kind: income
    inflow: {amount: 1000, cadence: monthly}
  - id: checking
    kind: account
rules:
  - source: salary
    allocations: [{target: checking, percentage: 100}]
`

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	assert.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func newTestServer(t *testing.T, file string, opts ...Option) (*Server, *http.ServeMux) {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	server := New(8080, file, opts...)
	assert.NoError(t, server.reloadScenario(context.Background()))
	return server, server.setupRouter()
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestAPISource(t *testing.T) {
	tmpDir := t.TempDir()
	file := writeScenario(t, tmpDir, "household.yaml", testScenario)

	_, mux := newTestServer(t, file)

	t.Run("WithDefaultFile", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/source", nil)
		rec := httptest.NewRecorder()

		mux.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)

		var response SourceResponse
		decodeJSON(t, rec, &response)
		assert.Equal(t, testScenario, response.Source)
		assert.Equal(t, file, response.Filepath)
		assert.Equal(t, file, response.Files.Root)
		assert.Equal(t, []string{}, response.Files.Includes)
		assert.Equal(t, 0, len(response.Issues))
	})

	t.Run("WithQueryParameter", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/source?filepath="+file, nil)
		rec := httptest.NewRecorder()

		mux.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)

		var response SourceResponse
		decodeJSON(t, rec, &response)
		assert.Equal(t, testScenario, response.Source)
	})

	t.Run("FileNotInAllowlist", func(t *testing.T) {
		other := writeScenario(t, tmpDir, "other.yaml", "nodes: []\n")

		req := httptest.NewRequest(http.MethodGet, "/api/source?filepath="+other, nil)
		rec := httptest.NewRecorder()

		mux.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "access denied")
	})

	t.Run("TraversalIsDenied", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/source?filepath="+filepath.Join(tmpDir, "..", "etc", "passwd"), nil)
		rec := httptest.NewRecorder()

		mux.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "access denied")
	})

	t.Run("NoScenarioLoaded", func(t *testing.T) {
		muxNoFile := New(8080, "").setupRouter()

		req := httptest.NewRequest(http.MethodGet, "/api/source", nil)
		rec := httptest.NewRecorder()

		muxNoFile.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("PutUpdateContent", func(t *testing.T) {
		updated := strings.Replace(testScenario, "amount: 1000", "amount: 2000", 1)
		body, err := json.Marshal(map[string]string{"source": updated})
		assert.NoError(t, err)

		req := httptest.NewRequest(http.MethodPut, "/api/source", strings.NewReader(string(body)))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		mux.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)

		var response SourceResponse
		decodeJSON(t, rec, &response)
		assert.Equal(t, updated, response.Source)
		assert.Equal(t, file, response.Files.Root)

		content, err := os.ReadFile(file)
		assert.NoError(t, err)
		assert.Equal(t, updated, string(content))

		// The reloaded scenario is projected
		req = httptest.NewRequest(http.MethodGet, "/api/projection", nil)
		rec = httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		var result simulation.Result
		decodeJSON(t, rec, &result)
		assert.Equal(t, 24000.0, result.FinalTotal)
	})

	t.Run("PutRejectsParseError", func(t *testing.T) {
		before, err := os.ReadFile(file)
		assert.NoError(t, err)

		invalid := "nodes:\n  - id: a\n    kind: account\n    balance: lots\n"
		body, err := json.Marshal(map[string]string{"source": invalid})
		assert.NoError(t, err)

		req := httptest.NewRequest(http.MethodPut, "/api/source", strings.NewReader(string(body)))
		rec := httptest.NewRecorder()

		mux.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		var response struct {
			Errors []struct {
				Kind     string `json:"kind"`
				Position struct {
					Line int `json:"line"`
				} `json:"position"`
			} `json:"errors"`
		}
		decodeJSON(t, rec, &response)
		assert.Equal(t, 1, len(response.Errors))
		assert.Equal(t, "parse", response.Errors[0].Kind)
		assert.Equal(t, 4, response.Errors[0].Position.Line)

		after, err := os.ReadFile(file)
		assert.NoError(t, err)
		assert.Equal(t, string(before), string(after))
	})

	t.Run("PutToFileNotInAllowlist", func(t *testing.T) {
		other := writeScenario(t, tmpDir, "victim.yaml", "nodes: []\n")

		body, err := json.Marshal(map[string]string{
			"filepath": other,
			"source":   "nodes: [{id: x, kind: pod}]\n",
		})
		assert.NoError(t, err)

		req := httptest.NewRequest(http.MethodPut, "/api/source", strings.NewReader(string(body)))
		rec := httptest.NewRecorder()

		mux.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "access denied")

		content, err := os.ReadFile(other)
		assert.NoError(t, err)
		assert.Equal(t, "nodes: []\n", string(content))
	})

	t.Run("PutInvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/api/source", strings.NewReader(`invalid json`))
		rec := httptest.NewRecorder()

		mux.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("GetWithValidationIssues", func(t *testing.T) {
		issuesFile := writeScenario(t, tmpDir, "issues.yaml", `
nodes:
  - id: salary
    kind: income
    inflow: {amount: 500}
  - id: checking
    kind: account
rules:
  - source: checking
    allocations: [{target: ghost, percentage: 10}]
`)
		_, muxIssues := newTestServer(t, issuesFile)

		req := httptest.NewRequest(http.MethodGet, "/api/source", nil)
		rec := httptest.NewRecorder()

		muxIssues.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)

		var response SourceResponse
		decodeJSON(t, rec, &response)
		assert.Equal(t, 2, len(response.Issues))
		assert.Equal(t, "missing_node", response.Issues[0].Kind)
		assert.Equal(t, "unallocated_income", response.Issues[1].Kind)
	})
}

func TestAPISource_Includes(t *testing.T) {
	tmpDir := t.TempDir()
	pods := writeScenario(t, tmpDir, "pods.yaml", "nodes:\n  - {id: savings, kind: pod}\n")
	mainFile := writeScenario(t, tmpDir, "main.yaml", "include: [pods.yaml]\n"+testScenario)

	_, mux := newTestServer(t, mainFile)

	req := httptest.NewRequest(http.MethodGet, "/api/source?filepath="+pods, nil)
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var response SourceResponse
	decodeJSON(t, rec, &response)
	assert.Equal(t, pods, response.Filepath)
	assert.Equal(t, mainFile, response.Files.Root)
	assert.Equal(t, []string{pods}, response.Files.Includes)
}

func TestRequireWritable(t *testing.T) {
	file := writeScenario(t, t.TempDir(), "household.yaml", testScenario)
	_, mux := newTestServer(t, file, WithReadOnly(true))

	body, err := json.Marshal(map[string]string{"source": "nodes: []\n"})
	assert.NoError(t, err)

	req := httptest.NewRequest(http.MethodPut, "/api/source", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "read-only")

	content, err := os.ReadFile(file)
	assert.NoError(t, err)
	assert.Equal(t, testScenario, string(content))
}

func TestAPIVersion(t *testing.T) {
	server := New(8080, "", WithVersion("1.2.3", "abc123"))
	mux := server.setupRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/version", nil)
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	var response map[string]string
	decodeJSON(t, rec, &response)
	assert.Equal(t, map[string]string{"version": "1.2.3", "commitSHA": "abc123"}, response)
}

func TestReloadScenario(t *testing.T) {
	tmpDir := t.TempDir()
	pods := writeScenario(t, tmpDir, "pods.yaml", "nodes:\n  - {id: savings, kind: pod}\n")
	mainFile := writeScenario(t, tmpDir, "main.yaml", testScenario)

	server, _ := newTestServer(t, mainFile)
	assert.Equal(t, 0, len(server.includeFiles))

	writeScenario(t, tmpDir, "main.yaml", "include: [pods.yaml]\n"+testScenario)
	assert.NoError(t, server.reloadScenario(context.Background()))
	assert.Equal(t, []string{pods}, server.includeFiles)
	assert.Equal(t, 3, len(server.scenario.Nodes))

	// A broken file keeps the last good scenario
	writeScenario(t, tmpDir, "main.yaml", "nodes: [\n")
	assert.Error(t, server.reloadScenario(context.Background()))
	assert.Equal(t, 3, len(server.scenario.Nodes))
}

func TestBroadcast(t *testing.T) {
	server := New(8080, "")

	fast := make(chan string, 1)
	full := make(chan string)
	server.sseClients[fast] = struct{}{}
	server.sseClients[full] = struct{}{}
	assert.Equal(t, 2, server.clientCount())

	server.broadcast("reload")

	assert.Equal(t, "reload", <-fast)
	select {
	case <-full:
		t.Fatal("unbuffered client should have been skipped")
	default:
	}
}

func TestHandleSSE(t *testing.T) {
	server := New(8080, "")
	mux := server.setupRouter()

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		mux.ServeHTTP(rec, req)
		close(done)
	}()

	cancel()
	<-done

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "data: connected\n\n"))
	assert.Equal(t, 0, server.clientCount())
}
