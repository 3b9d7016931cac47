package config

import "fmt"

// Validate enforces the configuration invariants the spec's §6 parameter
// table documents: quorum ratio and penalty basis points are bounded
// fractions, timeouts are positive, and the cross-domain/slashing windows
// make sense on their own.
func (c *Config) Validate() error {
	if c.QuorumRatioThousandths == 0 || c.QuorumRatioThousandths > 1000 {
		return fmt.Errorf("config: QuorumRatioThousandths must be in (0, 1000]")
	}
	if c.MaxViewChanges == 0 {
		return fmt.Errorf("config: MaxViewChanges must be > 0")
	}
	if c.LivenessTimeoutMs <= 0 {
		return fmt.Errorf("config: LivenessTimeoutMs must be > 0")
	}
	if c.MaxValidators <= 0 {
		return fmt.Errorf("config: MaxValidators must be > 0")
	}
	if c.UnbondingPeriodSecs <= 0 {
		return fmt.Errorf("config: UnbondingPeriodSecs must be > 0")
	}
	for name, bp := range map[string]uint64{
		"DoubleSignPenaltyBp":   c.DoubleSignPenaltyBp,
		"EquivocationPenaltyBp": c.EquivocationPenaltyBp,
		"LivenessPenaltyBp":     c.LivenessPenaltyBp,
	} {
		if bp > 10000 {
			return fmt.Errorf("config: %s must be <= 10000 basis points", name)
		}
	}
	if c.JailDurationSecs <= 0 {
		return fmt.Errorf("config: JailDurationSecs must be > 0")
	}
	if c.CoordinationTimeoutMs <= 0 || c.SettlementTimeoutMs <= 0 || c.RollbackTimeoutMs <= 0 {
		return fmt.Errorf("config: cross-domain timeouts must be > 0")
	}
	if c.XDomainBatchSize <= 0 {
		return fmt.Errorf("config: XDomainBatchSize must be > 0")
	}
	if c.XDomainMaxRetries < 0 {
		return fmt.Errorf("config: XDomainMaxRetries must be >= 0")
	}
	if _, err := parseBig(c.MinSelfBond, 1); err != nil {
		return err
	}
	if _, err := parseBig(c.MinDelegation, 1); err != nil {
		return err
	}
	return nil
}
