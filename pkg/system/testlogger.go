package system

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// NewObservedLogger returns a logger that records every entry at or above
// level, for tests asserting on what was logged.
func NewObservedLogger(level zapcore.Level) (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return zap.New(core), logs
}

// NewObservedSugar is NewObservedLogger for code taking a sugared logger.
func NewObservedSugar(level zapcore.Level) (*zap.SugaredLogger, *observer.ObservedLogs) {
	logger, logs := NewObservedLogger(level)
	return logger.Sugar(), logs
}
