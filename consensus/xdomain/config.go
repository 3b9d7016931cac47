// Package xdomain coordinates cross-domain two-phase commit sessions: a
// local node acts as Coordinator over a set of participant sync-domains,
// driving Prepare -> Commit -> Completed, or aborting and, if a commit was
// already broadcast, rolling back via compensating actions.
package xdomain

import "time"

// Config holds the spec's cross-domain timeout and batching parameters
// (§6 "Cross-domain").
type Config struct {
	CoordinationTimeout time.Duration
	SettlementTimeout   time.Duration
	RollbackTimeout     time.Duration
	BatchSize           int
	MaxRetries          int
}

// DefaultConfig returns conservative defaults consistent with the base
// consensus liveness timeout used elsewhere in this module.
func DefaultConfig() Config {
	return Config{
		CoordinationTimeout: 10 * time.Second,
		SettlementTimeout:   30 * time.Second,
		RollbackTimeout:     30 * time.Second,
		BatchSize:           16,
		MaxRetries:          3,
	}
}
