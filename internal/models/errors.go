package models

import (
	"errors"
)

// Fatal error classes. Only these propagate out of a run; per-item failures
// are collected into the Summary instead.
var (
	// ErrRootNotFound 输入目录不存在
	ErrRootNotFound = errors.New("input root does not exist")

	// ErrNotDirectory 输入路径不是目录
	ErrNotDirectory = errors.New("input root is not a directory")

	// ErrLedgerCorrupt means the progress file exists but cannot be parsed.
	// It is never silently discarded: reprocessing would duplicate output and
	// resetting must be an explicit caller decision.
	ErrLedgerCorrupt = errors.New("progress ledger is corrupt")

	// ErrEngineInit means the engine factory failed. A failing engine almost
	// always indicates an environment problem (missing models, bad
	// credentials), so the whole run aborts rather than retrying.
	ErrEngineInit = errors.New("engine initialization failed")
)
