// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the codecloop CLI configuration.
//
// Values are resolved in three layers: built-in defaults, then the YAML
// file, then CODECLOOP_* environment variables. Command-line flags are
// applied last by the commands themselves.
package config

import (
	"time"

	"github.com/AleutianAI/codecloop/services/feedback"
	"github.com/AleutianAI/codecloop/services/feedback/api"
	"github.com/AleutianAI/codecloop/services/feedback/batch"
	"github.com/AleutianAI/codecloop/services/feedback/remote"
	"github.com/AleutianAI/codecloop/services/feedback/runstore"
	"github.com/AleutianAI/codecloop/services/feedback/stub"
	"github.com/AleutianAI/codecloop/services/feedback/telemetry"
)

// Store backends.
const (
	StoreBadger = "badger"
	StoreMemory = "memory"
)

// Config is the top-level CLI configuration.
type Config struct {
	Loop      LoopConfig      `yaml:"loop" envPrefix:"LOOP_"`
	Verifier  VerifierConfig  `yaml:"verifier" envPrefix:"VERIFIER_"`
	Store     StoreConfig     `yaml:"store" envPrefix:"STORE_"`
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Telemetry TelemetryConfig `yaml:"telemetry" envPrefix:"TELEMETRY_"`
	Logging   LoggingConfig   `yaml:"logging" envPrefix:"LOG_"`
	Remote    RemoteConfig    `yaml:"remote" envPrefix:"REMOTE_"`
	Batch     BatchConfig     `yaml:"batch" envPrefix:"BATCH_"`
}

// LoopConfig holds the per-run defaults.
type LoopConfig struct {
	MaxIterations    int           `yaml:"max_iterations" env:"MAX_ITERATIONS" validate:"gte=1"`
	TargetConfidence float64       `yaml:"target_confidence" env:"TARGET_CONFIDENCE" validate:"gt=0,lte=1"`
	CallTimeout      time.Duration `yaml:"call_timeout" env:"CALL_TIMEOUT" validate:"gte=0"`
}

// Feedback converts to the controller's run configuration.
func (c LoopConfig) Feedback() feedback.Config {
	return feedback.Config{
		MaxIterations:    c.MaxIterations,
		TargetConfidence: c.TargetConfidence,
		CallTimeout:      c.CallTimeout,
	}
}

// VerifierConfig holds the stub verifier thresholds.
type VerifierConfig struct {
	PassThreshold float64 `yaml:"pass_threshold" env:"PASS_THRESHOLD" validate:"gte=0,lte=1"`
	MinConfidence float64 `yaml:"min_confidence" env:"MIN_CONFIDENCE" validate:"gte=0,lte=1"`
	MaxConfidence float64 `yaml:"max_confidence" env:"MAX_CONFIDENCE" validate:"gte=0,lte=1,gtfield=MinConfidence"`
}

// Stub converts to the stub verifier configuration.
func (c VerifierConfig) Stub() stub.VerifierConfig {
	return stub.VerifierConfig{
		PassThreshold: c.PassThreshold,
		MinConfidence: c.MinConfidence,
		MaxConfidence: c.MaxConfidence,
	}
}

// StoreConfig selects where run records are kept.
type StoreConfig struct {
	// Backend is "badger" or "memory".
	Backend    string        `yaml:"backend" env:"BACKEND" validate:"oneof=badger memory"`
	Path       string        `yaml:"path" env:"PATH" validate:"required_if=Backend badger"`
	SyncWrites bool          `yaml:"sync_writes" env:"SYNC_WRITES"`
	GCInterval time.Duration `yaml:"gc_interval" env:"GC_INTERVAL" validate:"gte=0"`
}

// Badger converts to a runstore.BadgerConfig with ~ expanded in Path.
func (c StoreConfig) Badger() runstore.BadgerConfig {
	cfg := runstore.DefaultBadgerConfig(ExpandPath(c.Path))
	cfg.SyncWrites = c.SyncWrites
	cfg.GCInterval = c.GCInterval
	return cfg
}

// ServerConfig configures `codecloop serve`.
type ServerConfig struct {
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT" validate:"gte=1,lte=65535"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" validate:"gte=0"`
	MaxBatchSize    int           `yaml:"max_batch_size" env:"MAX_BATCH_SIZE" validate:"gte=1"`
	// ServeCollab mounts the stub collaborators under /v1/collab.
	ServeCollab bool `yaml:"serve_collab" env:"SERVE_COLLAB"`
}

// TelemetryConfig selects the OpenTelemetry exporters.
type TelemetryConfig struct {
	Environment    string `yaml:"environment" env:"ENVIRONMENT"`
	TraceExporter  string `yaml:"trace_exporter" env:"TRACE_EXPORTER" validate:"oneof=otlp stdout none"`
	MetricExporter string `yaml:"metric_exporter" env:"METRIC_EXPORTER" validate:"oneof=prometheus stdout none"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	OTLPInsecure   bool   `yaml:"otlp_insecure" env:"OTLP_INSECURE"`
}

// Telemetry converts to telemetry.Config for serviceName.
func (c TelemetryConfig) Telemetry(serviceName string) telemetry.Config {
	return telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: api.ServiceVersion,
		Environment:    c.Environment,
		TraceExporter:  c.TraceExporter,
		MetricExporter: c.MetricExporter,
		OTLPEndpoint:   c.OTLPEndpoint,
		OTLPInsecure:   c.OTLPInsecure,
	}
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level" env:"LEVEL" validate:"oneof=debug info warn warning error"`
	JSON  bool   `yaml:"json" env:"JSON"`
	// Dir enables daily log files when set.
	Dir string `yaml:"dir" env:"DIR"`
}

// RemoteConfig points the loop at collaborator services instead of the stubs.
type RemoteConfig struct {
	// BaseURL enables the remote collaborators when set.
	BaseURL       string        `yaml:"base_url" env:"BASE_URL" validate:"omitempty,url"`
	Timeout       time.Duration `yaml:"timeout" env:"TIMEOUT" validate:"gte=0"`
	RatePerSecond float64       `yaml:"rate_per_second" env:"RATE_PER_SECOND" validate:"gte=0"`
	Burst         int           `yaml:"burst" env:"BURST" validate:"gte=0"`
}

// BatchConfig configures batch runs.
type BatchConfig struct {
	Parallel int `yaml:"parallel" env:"PARALLEL" validate:"gte=1"`
	// Gate caps concurrent iterations across all runs. Zero disables it.
	Gate int `yaml:"gate" env:"GATE" validate:"gte=0"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	loop := feedback.DefaultConfig()
	verifier := stub.DefaultVerifierConfig()
	tel := telemetry.DefaultConfig()
	return Config{
		Loop: LoopConfig{
			MaxIterations:    loop.MaxIterations,
			TargetConfidence: loop.TargetConfidence,
			CallTimeout:      loop.CallTimeout,
		},
		Verifier: VerifierConfig{
			PassThreshold: verifier.PassThreshold,
			MinConfidence: verifier.MinConfidence,
			MaxConfidence: verifier.MaxConfidence,
		},
		Store: StoreConfig{
			Backend:    StoreBadger,
			Path:       "~/.codecloop/runs",
			SyncWrites: true,
			GCInterval: 5 * time.Minute,
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8090,
			ShutdownTimeout: 10 * time.Second,
			MaxBatchSize:    api.DefaultMaxBatchSize,
			ServeCollab:     true,
		},
		Telemetry: TelemetryConfig{
			Environment:    tel.Environment,
			TraceExporter:  tel.TraceExporter,
			MetricExporter: tel.MetricExporter,
			OTLPEndpoint:   tel.OTLPEndpoint,
			OTLPInsecure:   tel.OTLPInsecure,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Remote: RemoteConfig{
			Timeout: remote.DefaultTimeout,
		},
		Batch: BatchConfig{
			Parallel: batch.DefaultParallel,
		},
	}
}
