// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.level.String())
		})
	}
}

func TestLevel_toSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LevelDebug.toSlogLevel())
	assert.Equal(t, slog.LevelInfo, LevelInfo.toSlogLevel())
	assert.Equal(t, slog.LevelWarn, LevelWarn.toSlogLevel())
	assert.Equal(t, slog.LevelError, LevelError.toSlogLevel())
	assert.Equal(t, slog.LevelInfo, Level(-1).toSlogLevel())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"", LevelInfo},
		{" warn ", LevelWarn},
		{"warning", LevelWarn},
		{"Error", LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseLevel("verbose")
	assert.ErrorIs(t, err, ErrUnknownLevel)
}

func TestNew_TextOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Service: "test-svc", Output: &buf})
	defer logger.Close()

	logger.Info("run finished", "artifact_id", "sample-001.wav")
	logger.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "run finished")
	assert.Contains(t, out, "artifact_id=sample-001.wav")
	assert.Contains(t, out, "service=test-svc")
	assert.NotContains(t, out, "hidden")
}

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelDebug, JSON: true, Output: &buf})
	defer logger.Close()

	logger.Debug("iteration completed", "iteration", 2)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "iteration completed", record["msg"])
	assert.Equal(t, "DEBUG", record["level"])
	assert.Equal(t, DefaultService, record["service"])
	assert.Equal(t, float64(2), record["iteration"])
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Output: &buf})
	defer logger.Close()

	logger.Debug("d")
	logger.Info("i")
	logger.Warn("w")
	logger.Error("e")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "msg=w")
	assert.Contains(t, lines[1], "msg=e")
}

func TestNew_QuietWithoutFile(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Quiet: true, Output: &buf})
	defer logger.Close()

	logger.Error("dropped")
	assert.Empty(t, buf.String())
}

func TestNew_FileLogging(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "codecloop-test",
		Output:  &buf,
	})

	logger.Info("stored run", "run_id", "abc")
	require.NoError(t, logger.Close())

	path := filepath.Join(dir, LogFileName("codecloop-test", time.Now()))
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &record))
	assert.Equal(t, "stored run", record["msg"])
	assert.Equal(t, "abc", record["run_id"])
	assert.Equal(t, "codecloop-test", record["service"])

	// Console output is text even when the file is JSON.
	assert.Contains(t, buf.String(), "msg=\"stored run\"")
}

func TestNew_FileLoggingAppends(t *testing.T) {
	dir := t.TempDir()
	for _, msg := range []string{"first", "second"} {
		logger := New(Config{LogDir: dir, Quiet: true})
		logger.Info(msg)
		require.NoError(t, logger.Close())
	}

	data, err := os.ReadFile(filepath.Join(dir, LogFileName("", time.Now())))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2)
}

func TestNew_UnwritableLogDir(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	var buf bytes.Buffer
	logger := New(Config{LogDir: filepath.Join(blocker, "logs"), Output: &buf})
	defer logger.Close()

	assert.Nil(t, logger.file)
	assert.Contains(t, buf.String(), "File logging disabled")

	logger.Info("still works")
	assert.Contains(t, buf.String(), "still works")
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf})
	child := logger.With("request_id", "r-1")

	child.Info("child record")
	logger.Info("parent record")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "request_id=r-1")
	assert.NotContains(t, lines[1], "request_id")
}

func TestLogger_Slog(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf})

	logger.Slog().LogAttrs(context.Background(), slog.LevelInfo, "via slog",
		slog.String("component", "verifier"))
	assert.Contains(t, buf.String(), "component=verifier")
	assert.Equal(t, DefaultService, logger.Service())
}

func TestLogger_CloseIdempotent(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{LogDir: dir, Quiet: true})
	child := logger.With("k", "v")

	require.NoError(t, logger.Close())
	assert.NoError(t, logger.Close())
	assert.NoError(t, child.Close())
}

func TestLogger_ConcurrentWrites(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{LogDir: dir, Quiet: true})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			logger.Info("concurrent", "n", n)
		}(i)
	}
	wg.Wait()
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(filepath.Join(dir, LogFileName("", time.Now())))
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 16)
}

func TestDefault(t *testing.T) {
	logger := Default()
	require.NotNil(t, logger)
	assert.NotNil(t, logger.Slog())
	assert.NoError(t, logger.Close())
}

type failingHandler struct{ slog.Handler }

func (failingHandler) Handle(context.Context, slog.Record) error { return errors.New("boom") }

func TestMultiHandler(t *testing.T) {
	var a, b bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelError}),
	}}

	assert.True(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))

	logger := slog.New(h.WithAttrs([]slog.Attr{slog.String("k", "v")}).WithGroup("g"))
	logger.Info("info only", "x", 1)
	logger.Error("both")

	assert.Contains(t, a.String(), "info only")
	assert.Contains(t, a.String(), "k=v")
	assert.Contains(t, a.String(), "g.x=1")
	assert.NotContains(t, b.String(), "info only")
	assert.Contains(t, b.String(), "both")

	var c bytes.Buffer
	failing := &multiHandler{handlers: []slog.Handler{
		failingHandler{slog.NewTextHandler(&c, nil)},
		slog.NewTextHandler(&c, nil),
	}}
	r := slog.NewRecord(time.Now(), slog.LevelInfo, "m", 0)
	assert.Error(t, failing.Handle(context.Background(), r))
	assert.Contains(t, c.String(), "msg=m")
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".codecloop/logs"), expandPath("~/.codecloop/logs"))
	assert.Equal(t, home, expandPath("~"))
	assert.Equal(t, "/var/log", expandPath("/var/log"))
	assert.Equal(t, "~user/logs", expandPath("~user/logs"))
	assert.Equal(t, "relative/path", expandPath("relative/path"))
}

func TestLogFileName(t *testing.T) {
	day := time.Date(2026, 3, 9, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "svc_2026-03-09.log", LogFileName("svc", day))
	assert.Equal(t, "codecloop_2026-03-09.log", LogFileName("", day))
}
