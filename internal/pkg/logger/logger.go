// Copyright (c) 2025 Lazycat Apps
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package logger provides structured logging interfaces for the scan orchestrator.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger defines the logging interface with three severity levels plus a
// field-scoping constructor, used everywhere a component needs to log
// without depending on the zap API directly.
type Logger interface {
	Info(format string, args ...interface{})  // Informational messages
	Error(format string, args ...interface{}) // Error messages
	Debug(format string, args ...interface{}) // Debug messages
	With(fields ...zap.Field) Logger          // Returns a logger scoped with additional fields
}

// ZapLogger implements the Logger interface on top of go.uber.org/zap.
// Production builds use JSON encoding at Info level, so Debug entries are
// dropped; every log entry, Error included, goes to stdout, and stderr
// receives only zap's own internal errors.
type ZapLogger struct {
	z *zap.SugaredLogger
}

// New creates a production ZapLogger (JSON encoding, ISO8601 timestamps).
func New() *ZapLogger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Build only fails on malformed config; fall back to a no-frills logger
		// rather than leave the process without one.
		z = zap.NewExample()
	}
	return &ZapLogger{z: z.Sugar()}
}

// NewDevelopment creates a human-readable console ZapLogger at Debug level.
// cmd/server does not use it; it always calls New.
func NewDevelopment() *ZapLogger {
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stdout"}
	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		z = zap.NewExample()
	}
	return &ZapLogger{z: z.Sugar()}
}

func (l *ZapLogger) Info(format string, args ...interface{}) {
	l.z.Infof(format, args...)
}

func (l *ZapLogger) Error(format string, args ...interface{}) {
	l.z.Errorf(format, args...)
}

func (l *ZapLogger) Debug(format string, args ...interface{}) {
	l.z.Debugf(format, args...)
}

func (l *ZapLogger) With(fields ...zap.Field) Logger {
	return &ZapLogger{z: l.z.Desugar().With(fields...).Sugar()}
}

// Sync flushes any buffered log entries. Call before process exit.
func (l *ZapLogger) Sync() error {
	return l.z.Sync()
}

// noopLogger discards everything; used by tests that don't care about log
// output and don't want to pay for a zap.Build() call per case.
type noopLogger struct{}

// NewNoop returns a Logger that discards all output.
func NewNoop() Logger { return noopLogger{} }

func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}
func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) With(...zap.Field) Logger     { return noopLogger{} }
