// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io/fs"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codecloop/cmd/codecloop/config"
	"github.com/AleutianAI/codecloop/services/feedback"
	"github.com/AleutianAI/codecloop/services/feedback/api"
	"github.com/AleutianAI/codecloop/services/feedback/runstore"
	"github.com/AleutianAI/codecloop/services/feedback/stub"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// isolate points HOME at a temp dir so no user config is read.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	c := newCLI(&out, &errOut)
	defer c.close()

	root := c.rootCommand()
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func decodeRecord(t *testing.T, out string) runstore.RunRecord {
	t.Helper()
	var rec runstore.RunRecord
	require.NoError(t, json.Unmarshal([]byte(out), &rec), out)
	return rec
}

func collabServer(t *testing.T) *httptest.Server {
	t.Helper()
	collab, err := stub.Collaborators(stub.DefaultVerifierConfig())
	require.NoError(t, err)
	srv := httptest.NewServer(api.NewRouter(api.RouterConfig{Collab: api.NewCollabHandlers(collab)}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_StoresAndShows(t *testing.T) {
	isolate(t)
	storeDir := t.TempDir()

	out, err := runCLI(t, "run", "sample-001.wav", "-o", "json", "--store", storeDir)
	require.NoError(t, err)
	rec := decodeRecord(t, out)

	assert.Equal(t, "sample-001.wav", rec.ArtifactID)
	assert.True(t, rec.State.IsTerminal())
	assert.NotEqual(t, feedback.StateFailed, rec.State)
	assert.GreaterOrEqual(t, rec.Steps, 1)
	assert.LessOrEqual(t, rec.Steps, feedback.DefaultMaxIterations)
	assert.Equal(t, rec.State == feedback.StateSucceeded, rec.Success)
	assert.Nil(t, rec.Error)

	out, err = runCLI(t, "show", rec.ID, "-o", "json", "--store", storeDir)
	require.NoError(t, err)
	shown := decodeRecord(t, out)
	assert.Equal(t, rec.ID, shown.ID)
	assert.Equal(t, rec.Digest, shown.Digest)

	out, err = runCLI(t, "list", "-o", "json", "--store", storeDir)
	require.NoError(t, err)
	var list api.ListResponse
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, rec.ID, list.Runs[0].ID)

	out, err = runCLI(t, "list", "-o", "json", "--store", storeDir, "--artifact", "other.wav")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	assert.Equal(t, 0, list.Count)
	assert.NotNil(t, list.Runs)
}

func TestRun_Deterministic(t *testing.T) {
	isolate(t)

	first, err := runCLI(t, "run", "clip_short.mp3", "-o", "json", "--no-store")
	require.NoError(t, err)
	second, err := runCLI(t, "run", "clip_short.mp3", "-o", "json", "--no-store")
	require.NoError(t, err)

	a, b := decodeRecord(t, first), decodeRecord(t, second)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, a.Digest, b.Digest)
	assert.JSONEq(t, string(a.Summary), string(b.Summary))
}

func TestRun_RemoteMatchesLocal(t *testing.T) {
	isolate(t)
	srv := collabServer(t)

	local, err := runCLI(t, "run", "sample-001.wav", "-o", "json", "--no-store")
	require.NoError(t, err)
	remote, err := runCLI(t, "run", "sample-001.wav", "-o", "json", "--no-store", "--remote", srv.URL)
	require.NoError(t, err)

	assert.Equal(t, decodeRecord(t, local).Digest, decodeRecord(t, remote).Digest)
}

func TestRun_RemoteUnreachable(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	out, err := runCLI(t, "run", "sample-001.wav", "-o", "json", "--no-store", "--remote", url)
	require.Error(t, err)
	assert.ErrorIs(t, err, feedback.ErrDetectionUnavailable)
	assert.Contains(t, err.Error(), "aborted")

	rec := decodeRecord(t, out)
	assert.Equal(t, feedback.StateFailed, rec.State)
	assert.False(t, rec.Success)
	assert.Equal(t, 0, rec.Steps)
	require.NotNil(t, rec.Error)
	assert.Equal(t, feedback.CodeDetectionUnavailable, rec.Error.Code)
	assert.Equal(t, string(feedback.ComponentDetector), rec.Error.Component)
}

func TestRun_ExhaustedExitStatus(t *testing.T) {
	isolate(t)

	// The stub verifier never reports confidence 1, so the run exhausts.
	out, err := runCLI(t, "run", "sample-001.wav", "-o", "json", "--no-store", "--target-confidence", "1")
	require.NoError(t, err)
	rec := decodeRecord(t, out)
	assert.Equal(t, feedback.StateExhausted, rec.State)
	assert.Equal(t, feedback.DefaultMaxIterations, rec.Steps)

	_, err = runCLI(t, "run", "sample-001.wav", "-o", "json", "--no-store", "--target-confidence", "1", "--fail-on-exhausted")
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestRun_MaxIterationsFlag(t *testing.T) {
	isolate(t)

	out, err := runCLI(t, "run", "sample-001.wav", "-o", "json", "--no-store",
		"--target-confidence", "1", "--max-iterations", "5")
	require.NoError(t, err)
	assert.Equal(t, 5, decodeRecord(t, out).Steps)
}

func TestRun_InvalidConfiguration(t *testing.T) {
	isolate(t)

	tests := [][]string{
		{"run", "a.wav", "--no-store", "--max-iterations", "0"},
		{"run", "a.wav", "--no-store", "--target-confidence", "0"},
		{"run", "a.wav", "--no-store", "--target-confidence", "1.5"},
		{"run", " ", "--no-store"},
	}
	for _, args := range tests {
		t.Run(strings.Join(args[1:], " "), func(t *testing.T) {
			out, err := runCLI(t, args...)
			assert.ErrorIs(t, err, feedback.ErrConfiguration)
			assert.Empty(t, out)
		})
	}
}

func TestRun_ArgsAndFormat(t *testing.T) {
	isolate(t)

	_, err := runCLI(t, "run")
	assert.Error(t, err)

	_, err = runCLI(t, "run", "a.wav", "--no-store", "-o", "xml")
	assert.ErrorContains(t, err, "unknown output format")
}

func TestRun_YAMLAndText(t *testing.T) {
	isolate(t)

	out, err := runCLI(t, "run", "sample-001.wav", "-o", "yaml", "--no-store")
	require.NoError(t, err)
	assert.Contains(t, out, "artifact_id: sample-001.wav")
	assert.Contains(t, out, "codec_name: PCM")

	out, err = runCLI(t, "run", "sample-001.wav", "-o", "text", "--no-store")
	require.NoError(t, err)
	assert.Contains(t, out, "sample-001.wav")
	assert.Contains(t, out, "#1")
	assert.Contains(t, out, "strategy=")
}

func TestRun_EnvSelectsMemoryStore(t *testing.T) {
	home := isolate(t)
	t.Setenv("CODECLOOP_STORE_BACKEND", "memory")

	_, err := runCLI(t, "run", "sample-001.wav", "-o", "json")
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(home, ".codecloop", "runs"))
	assert.ErrorIs(t, statErr, fs.ErrNotExist)
}

func TestBatch(t *testing.T) {
	isolate(t)
	storeDir := t.TempDir()

	out, err := runCLI(t, "batch", "a.wav", "b.mp3", "c.flac", "-o", "json",
		"--store", storeDir, "--parallel", "2", "--target-confidence", "1")
	require.NoError(t, err)

	var resp api.BatchResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Results, 3)
	assert.Equal(t, "a.wav", resp.Results[0].ArtifactID)
	assert.Equal(t, "b.mp3", resp.Results[1].ArtifactID)
	assert.Equal(t, "c.flac", resp.Results[2].ArtifactID)
	assert.Equal(t, 3, resp.Stats.Total)
	assert.Equal(t, 3, resp.Stats.Exhausted)
	for _, item := range resp.Results {
		assert.NotEmpty(t, item.RunID)
		assert.Equal(t, feedback.StateExhausted, item.State)
	}

	out, err = runCLI(t, "list", "-o", "json", "--store", storeDir)
	require.NoError(t, err)
	var list api.ListResponse
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	assert.Equal(t, 3, list.Count)

	_, err = runCLI(t, "batch", "a.wav", "--no-store", "--target-confidence", "1", "--fail-on-exhausted")
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestBatch_FromFile(t *testing.T) {
	isolate(t)
	list := filepath.Join(t.TempDir(), "artifacts.txt")
	require.NoError(t, os.WriteFile(list, []byte("# corpus\nx.wav\n\n  y.m4a  \n"), 0o600))

	out, err := runCLI(t, "batch", "w.wav", "--from", list, "-o", "json", "--no-store")
	require.NoError(t, err)

	var resp api.BatchResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Results, 3)
	assert.Equal(t, "w.wav", resp.Results[0].ArtifactID)
	assert.Equal(t, "x.wav", resp.Results[1].ArtifactID)
	assert.Equal(t, "y.m4a", resp.Results[2].ArtifactID)
}

func TestBatch_Errors(t *testing.T) {
	isolate(t)

	_, err := runCLI(t, "batch", "--no-store")
	assert.ErrorIs(t, err, feedback.ErrConfiguration)

	_, err = runCLI(t, "batch", "a.wav", "--no-store", "--parallel", "0")
	assert.ErrorIs(t, err, feedback.ErrConfiguration)

	_, err = runCLI(t, "batch", "--from", filepath.Join(t.TempDir(), "missing.txt"), "--no-store")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	out, err := runCLI(t, "batch", "a.wav", "b.wav", "-o", "json", "--no-store", "--remote", url)
	assert.ErrorContains(t, err, "2 of 2 runs failed")
	var resp api.BatchResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 2, resp.Stats.Failed)
}

func TestShow_NotFound(t *testing.T) {
	isolate(t)
	_, err := runCLI(t, "show", "missing", "--store", t.TempDir())
	assert.ErrorIs(t, err, runstore.ErrNotFound)
}

func TestList_TextEmpty(t *testing.T) {
	isolate(t)
	out, err := runCLI(t, "list", "-o", "text", "--store", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded.")
}

func TestConfigInitAndShow(t *testing.T) {
	home := isolate(t)

	out, err := runCLI(t, "config", "init")
	require.NoError(t, err)
	path := filepath.Join(home, ".codecloop", "codecloop.yaml")
	assert.Contains(t, out, path)
	assert.FileExists(t, path)

	_, err = runCLI(t, "config", "init")
	assert.ErrorIs(t, err, fs.ErrExist)

	custom := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(custom, []byte("loop:\n  max_iterations: 9\n"), 0o600))
	out, err = runCLI(t, "--config", custom, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "max_iterations: 9")
}

func TestConfig_InvalidFileRejected(t *testing.T) {
	isolate(t)
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("loop:\n  max_iterations: 0\n"), 0o600))

	_, err := runCLI(t, "--config", bad, "run", "a.wav", "--no-store")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	// init does not read the existing config.
	_, err = runCLI(t, "--config", bad, "config", "init", "--path", filepath.Join(t.TempDir(), "new.yaml"))
	assert.NoError(t, err)
}

func TestBuildHandler(t *testing.T) {
	c := newCLI(&bytes.Buffer{}, &bytes.Buffer{})
	c.cfg.Store.Backend = config.StoreMemory

	handler, closeStore, err := c.buildHandler()
	require.NoError(t, err)
	defer closeStore()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/feedback/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/feedback/runs", strings.NewReader(`{"artifact_id":"sample-001.wav"}`))
	req.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var resp api.RunResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Stored)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/v1/collab/detect", strings.NewReader(`{"artifact_id":"x.flac"}`))
	req.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	c.cfg.Server.ServeCollab = false
	handler2, closeStore2, err := c.buildHandler()
	require.NoError(t, err)
	defer closeStore2()
	w = httptest.NewRecorder()
	handler2.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/collab/detect", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServe_GracefulShutdown(t *testing.T) {
	c := newCLI(&bytes.Buffer{}, &bytes.Buffer{})
	c.cfg.Store.Backend = config.StoreMemory
	c.cfg.Telemetry.TraceExporter = "none"
	c.cfg.Telemetry.MetricExporter = "none"

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/v1/feedback/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestReadArtifactList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.txt")
	require.NoError(t, os.WriteFile(path, []byte("a\n#b\n\nc\n"), 0o600))
	ids, err := readArtifactList(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids)
}

func TestResolveFormat(t *testing.T) {
	var buf bytes.Buffer
	got, err := resolveFormat("", &buf)
	require.NoError(t, err)
	assert.Equal(t, formatJSON, got)

	got, err = resolveFormat("YAML", &buf)
	require.NoError(t, err)
	assert.Equal(t, formatYAML, got)

	_, err = resolveFormat("csv", &buf)
	assert.Error(t, err)
}
