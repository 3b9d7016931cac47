// Package penalty computes and applies slashing penalties for adjudicated
// evidence. It generalizes the teacher's consensus/potso/penalty package
// (decay-based weight penalties keyed by POTSO evidence type) to the
// spec's basis-point slashing against a validator.Set, keeping the same
// rule-catalog/idempotent-apply shape.
package penalty

import (
	"github.com/synclabs/consensuscore/core/types"
)

// Severity classifies how serious a penalty's consequences are, purely for
// labeling/logging.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rule pairs an evidence kind with its configured basis-point penalty,
// whether it forces Jailed, and the reporter reward basis points.
type Rule struct {
	Kind         types.EvidenceKind
	Severity     Severity
	PenaltyBp    uint64
	ForceJail    bool
	ReporterBp   uint64
}

// Config mirrors the spec's §6 slashing policy parameters.
type Config struct {
	DoubleSignPenaltyBp   uint64
	EquivocationPenaltyBp uint64
	LivenessPenaltyBp     uint64
	JailDurationSecs      int64
	ReporterRewardBp      uint64
}

// DefaultConfig returns reasonable defaults in the absence of operator
// configuration, matching the teacher's DefaultConfig() shape.
func DefaultConfig() Config {
	return Config{
		DoubleSignPenaltyBp:   1000,
		EquivocationPenaltyBp: 500,
		LivenessPenaltyBp:     100,
		JailDurationSecs:      7 * 24 * 3600,
		ReporterRewardBp:      50,
	}
}

// Catalog maps each evidence kind to its Rule, built once from Config.
type Catalog struct {
	rules map[types.EvidenceKind]Rule
}

// BuildCatalog constructs a Catalog from cfg. DoubleSign and Equivocation
// force Jailed per §4.1's apply_slashing contract; LivenessFault does not.
func BuildCatalog(cfg Config) *Catalog {
	return &Catalog{rules: map[types.EvidenceKind]Rule{
		types.EvidenceDoubleSign: {
			Kind: types.EvidenceDoubleSign, Severity: SeverityCritical,
			PenaltyBp: cfg.DoubleSignPenaltyBp, ForceJail: true, ReporterBp: cfg.ReporterRewardBp,
		},
		types.EvidenceEquivocation: {
			Kind: types.EvidenceEquivocation, Severity: SeverityHigh,
			PenaltyBp: cfg.EquivocationPenaltyBp, ForceJail: true, ReporterBp: cfg.ReporterRewardBp,
		},
		types.EvidenceLivenessFault: {
			Kind: types.EvidenceLivenessFault, Severity: SeverityMedium,
			PenaltyBp: cfg.LivenessPenaltyBp, ForceJail: false, ReporterBp: cfg.ReporterRewardBp,
		},
	}}
}

// Rule returns the configured rule for kind.
func (c *Catalog) Rule(kind types.EvidenceKind) (Rule, bool) {
	if c == nil {
		return Rule{}, false
	}
	r, ok := c.rules[kind]
	return r, ok
}

// KindName maps an EvidenceKind to the string ApplySlashing expects for
// forced-jail classification, matching validator.Set.ApplySlashing's kind
// parameter.
func KindName(kind types.EvidenceKind) string {
	return kind.String()
}
