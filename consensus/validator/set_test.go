package validator

import (
	"math/big"
	"testing"

	coreerrors "github.com/synclabs/consensuscore/core/errors"
)

func testParams() Params {
	return Params{
		MinSelfBond:         big.NewInt(10),
		MinDelegation:       big.NewInt(1),
		MaxValidators:       3,
		UnbondingPeriodSecs: 100,
		QuorumRatioThousand: 667,
		JailDurationSecs:    200,
	}
}

func mustAdd(t *testing.T, s *Set, id string, bond int64) {
	t.Helper()
	if err := s.Add(id, []byte(id+"-pub"), big.NewInt(bond), 0, 0); err != nil {
		t.Fatalf("add %s: %v", id, err)
	}
	if err := s.UpdateStatus(id, StatusActive); err != nil {
		t.Fatalf("activate %s: %v", id, err)
	}
}

func TestAddRejectsInsufficientBond(t *testing.T) {
	s := New(testParams())
	if err := s.Add("v1", []byte("pub"), big.NewInt(1), 0, 0); err != coreerrors.ErrInsufficientBond {
		t.Fatalf("expected ErrInsufficientBond, got %v", err)
	}
}

func TestAddRejectsDuplicate(t *testing.T) {
	s := New(testParams())
	mustAdd(t, s, "v1", 10)
	if err := s.Add("v1", []byte("pub"), big.NewInt(10), 0, 0); err != coreerrors.ErrValidatorExists {
		t.Fatalf("expected ErrValidatorExists, got %v", err)
	}
}

func TestRequiredPowerRoundsUp(t *testing.T) {
	s := New(testParams())
	mustAdd(t, s, "v1", 10)
	mustAdd(t, s, "v2", 10)
	mustAdd(t, s, "v3", 10)
	// total power 30, quorum ratio 667/1000 -> 20.01 -> ceil to 21
	got := s.RequiredPower()
	if got.Cmp(big.NewInt(21)) != 0 {
		t.Fatalf("expected required power 21, got %s", got.String())
	}
}

func TestDelegateBelowMinimumRejected(t *testing.T) {
	s := New(testParams())
	mustAdd(t, s, "v1", 10)
	if err := s.Delegate("alice", "v1", big.NewInt(0)); err != coreerrors.ErrBelowMinDelegation {
		t.Fatalf("expected ErrBelowMinDelegation, got %v", err)
	}
}

func TestDelegateUpdatesPowerInstantaneously(t *testing.T) {
	s := New(testParams())
	mustAdd(t, s, "v1", 10)
	if err := s.Delegate("alice", "v1", big.NewInt(5)); err != nil {
		t.Fatalf("delegate: %v", err)
	}
	v, ok := s.Get("v1")
	if !ok {
		t.Fatalf("expected v1 to exist")
	}
	if v.Power.Cmp(big.NewInt(15)) != 0 {
		t.Fatalf("expected power 15, got %s", v.Power.String())
	}
}

func TestUndelegateSchedulesUnbonding(t *testing.T) {
	s := New(testParams())
	mustAdd(t, s, "v1", 10)
	if err := s.Delegate("alice", "v1", big.NewInt(5)); err != nil {
		t.Fatalf("delegate: %v", err)
	}
	if err := s.Undelegate("alice", "v1", big.NewInt(5), 1000); err != nil {
		t.Fatalf("undelegate: %v", err)
	}
	v, _ := s.Get("v1")
	if v.Power.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("expected power back to 10, got %s", v.Power.String())
	}
	if released := s.CompleteUnbonding(1050); len(released) != 0 {
		t.Fatalf("expected nothing released before unbonding period elapses, got %d", len(released))
	}
	released := s.CompleteUnbonding(1100)
	if len(released) != 1 || released[0].Amount.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("expected one released unbonding of 5, got %+v", released)
	}
}

func TestApplySlashingSaturatesAtZeroAndJailsOnEquivocation(t *testing.T) {
	s := New(testParams())
	mustAdd(t, s, "v1", 10)
	amount, err := s.ApplySlashing("v1", "equivocation", 15000, "test", 1)
	if err != nil {
		t.Fatalf("apply slashing: %v", err)
	}
	if amount.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("expected slash amount saturated at 10, got %s", amount.String())
	}
	v, _ := s.Get("v1")
	if v.Power.Sign() != 0 {
		t.Fatalf("expected power zeroed, got %s", v.Power.String())
	}
	if v.Status != StatusJailed {
		t.Fatalf("expected validator jailed after equivocation, got %s", v.Status)
	}
	if len(v.SlashingHistory) != 1 {
		t.Fatalf("expected one slashing history entry, got %d", len(v.SlashingHistory))
	}
}

func TestReputationClampedToBounds(t *testing.T) {
	s := New(testParams())
	mustAdd(t, s, "v1", 10)
	for i := 0; i < 60; i++ {
		if err := s.RecordSuccessfulProposal("v1"); err != nil {
			t.Fatalf("record success: %v", err)
		}
	}
	v, _ := s.Get("v1")
	if v.Reputation != 100 {
		t.Fatalf("expected reputation clamped at 100, got %d", v.Reputation)
	}
	for i := 0; i < 30; i++ {
		if err := s.RecordFaultReputation("v1", "double_sign"); err != nil {
			t.Fatalf("record fault: %v", err)
		}
	}
	v, _ = s.Get("v1")
	if v.Reputation != 0 {
		t.Fatalf("expected reputation clamped at 0, got %d", v.Reputation)
	}
}

func TestDistributeRewardsSplitsByPowerAndCommission(t *testing.T) {
	s := New(testParams())
	if err := s.Add("v1", []byte("v1-pub"), big.NewInt(10), 1000, 0); err != nil {
		t.Fatalf("add v1: %v", err)
	}
	if err := s.UpdateStatus("v1", StatusActive); err != nil {
		t.Fatalf("activate v1: %v", err)
	}
	if err := s.Delegate("alice", "v1", big.NewInt(10)); err != nil {
		t.Fatalf("delegate: %v", err)
	}
	shares := s.DistributeRewards(big.NewInt(100))
	if len(shares) != 1 {
		t.Fatalf("expected one share, got %d", len(shares))
	}
	share := shares[0]
	// portion = 100 (only validator), commission 10% -> 10, remainder 90 to alice.
	if share.CommissionPaid.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("expected commission 10, got %s", share.CommissionPaid.String())
	}
	if got := share.DelegatorShares["alice"]; got.Cmp(big.NewInt(90)) != 0 {
		t.Fatalf("expected alice share 90, got %s", got.String())
	}
}

func TestRotateAndAdvanceEffectiveIsDeferred(t *testing.T) {
	s := New(testParams())
	mustAdd(t, s, "v1", 30)
	mustAdd(t, s, "v2", 20)
	mustAdd(t, s, "v3", 15)
	mustAdd(t, s, "v4", 10)
	s.Rotate()
	// Rotate alone must not change the effective (Active) set yet.
	if !s.IsActive("v4") {
		t.Fatalf("expected v4 still active before AdvanceEffective")
	}
	s.AdvanceEffective()
	if s.IsActive("v4") {
		t.Fatalf("expected v4 inactive after AdvanceEffective dropped it for max_validators=3")
	}
	active := s.ActiveIDs()
	if len(active) != 3 {
		t.Fatalf("expected 3 active validators, got %d: %v", len(active), active)
	}
}

func TestGetUnknownValidator(t *testing.T) {
	s := New(testParams())
	if _, ok := s.Get("missing"); ok {
		t.Fatalf("expected unknown validator to be absent")
	}
}
