package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reply(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"status_code": status, "data": data})
}

func run(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", srv.URL}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestQueryWaitPollsUntilTerminal(t *testing.T) {
	dir := t.TempDir()
	ruleFile := filepath.Join(dir, "r.yar")
	require.NoError(t, os.WriteFile(ruleFile, []byte(`rule r { strings: $a = "evil" condition: $a }`), 0o644))

	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/query/high":
			var in map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			assert.Equal(t, "query", in["method"])
			assert.Equal(t, "prod", in["taint"])
			reply(w, http.StatusOK, map[string]any{"query_hash": "job-1"})
		case r.Method == http.MethodGet && r.URL.Path == "/api/matches/job-1":
			status := "running"
			if polls.Add(1) > 2 {
				status = "done"
			}
			reply(w, http.StatusOK, map[string]any{
				"job":     map[string]any{"id": "job-1", "status": status, "files_processed": 2, "files_total": 2, "files_matched": 1},
				"matches": []map[string]any{{"file": "/s/a.bin", "dataset": "ds1"}},
				"total":   1,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	out, err := run(t, srv, "query", ruleFile, "--priority", "high", "--taint", "prod", "--wait", "--poll", "1ms")
	require.NoError(t, err)
	assert.Contains(t, out, "job-1")
	assert.Contains(t, out, "done")
	assert.Contains(t, out, "ds1\t/s/a.bin")
	assert.GreaterOrEqual(t, polls.Load(), int32(3))
}

func TestErrorEnvelopeSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"status_code":409,"error":{"code":5,"kind":"conflict","message":"job already done"}}`))
	}))
	defer srv.Close()

	_, err := run(t, srv, "cancel", "job-9")
	require.Error(t, err)
	var ae *apiError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusConflict, ae.Status)
	assert.Equal(t, "conflict", ae.Wire.Kind)
	assert.Contains(t, err.Error(), "job already done")
}

func TestDatasetsByTaintUsesDashForUntainted(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		reply(w, http.StatusOK, map[string]any{"taint": "", "datasets": []string{"a", "b"}})
	}))
	defer srv.Close()

	out, err := run(t, srv, "datasets", "--taint", "")
	require.NoError(t, err)
	assert.Equal(t, "/api/taints/-/datasets", path)
	assert.Equal(t, "a\nb\n", out)
}

func TestIndexSendsAbsolutePath(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		reply(w, http.StatusCreated, map[string]any{
			"dataset": map[string]any{"id": "ds1", "file_count": 3, "schemes": []string{"gram3", "text4"}},
			"skipped": []map[string]any{{"path": "big.bin", "reason": "too large"}},
		})
	}))
	defer srv.Close()

	out, err := run(t, srv, "index", ".", "--schemes", "gram3,text4", "--taint", "prod", "--recursive=false")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got["path"].(string)))
	assert.Equal(t, false, got["recursive"])
	assert.Equal(t, []any{"gram3", "text4"}, got["schemes"])
	assert.Contains(t, out, "dataset ds1: 3 files")
	assert.Contains(t, out, "skipped big.bin: too large")
}
