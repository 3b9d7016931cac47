// Package validator implements the ValidatorSet: the exclusive owner of
// validator records, their stake/delegation/reputation/status lifecycle,
// reward distribution and slashing. It generalizes the teacher's POTSO
// weight ledger (a flat decay table) into the full lifecycle this module's
// consensus engine depends on for quorum accounting.
package validator

import (
	"math/big"
	"sort"
	"sync"

	coreerrors "github.com/synclabs/consensuscore/core/errors"
)

// Status names a validator's membership state.
type Status byte

const (
	StatusActive Status = iota
	StatusInactive
	StatusJailed
	StatusBanned
)

// String renders the status for logs and metrics labels.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusInactive:
		return "inactive"
	case StatusJailed:
		return "jailed"
	case StatusBanned:
		return "banned"
	default:
		return "unknown"
	}
}

// SlashingEvent records one application of a penalty against a validator.
type SlashingEvent struct {
	Kind      string
	PenaltyBp uint64
	Amount    *big.Int
	Reason    string
	Height    uint64
}

// Delegation is one delegator's stake behind a validator.
type Delegation struct {
	Delegator string
	Amount    *big.Int
}

// UnbondingRequest is a pending undelegation awaiting the unbonding period.
type UnbondingRequest struct {
	Delegator  string
	Amount     *big.Int
	CompleteAt int64
}

// Validator is one member of the validator set. Power is kept in *big.Int
// for API parity with the teacher's Account.Stake; the fork graph sums
// many validators' power via uint256 internally for speed.
type Validator struct {
	ID              string
	PublicKey       []byte
	SelfBond        *big.Int
	Delegated       *big.Int
	Power           *big.Int
	CommissionBp    uint64
	Reputation      int
	Status          Status
	JoinedAt        int64
	LastSeen        int64
	SuccessfulProps uint64
	FailedProps     uint64
	MissedVotes     uint64
	Delegations     map[string]*Delegation
	SlashingHistory []SlashingEvent
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (v *Validator) clone() *Validator {
	out := &Validator{
		ID:              v.ID,
		PublicKey:       append([]byte(nil), v.PublicKey...),
		SelfBond:        cloneBig(v.SelfBond),
		Delegated:       cloneBig(v.Delegated),
		Power:           cloneBig(v.Power),
		CommissionBp:    v.CommissionBp,
		Reputation:      v.Reputation,
		Status:          v.Status,
		JoinedAt:        v.JoinedAt,
		LastSeen:        v.LastSeen,
		SuccessfulProps: v.SuccessfulProps,
		FailedProps:     v.FailedProps,
		MissedVotes:     v.MissedVotes,
		Delegations:     make(map[string]*Delegation, len(v.Delegations)),
		SlashingHistory: append([]SlashingEvent(nil), v.SlashingHistory...),
	}
	for k, d := range v.Delegations {
		out.Delegations[k] = &Delegation{Delegator: d.Delegator, Amount: cloneBig(d.Amount)}
	}
	return out
}

// recomputePower keeps the invariant voting_power = self_bond + delegated.
func (v *Validator) recomputePower() {
	v.Power = new(big.Int).Add(v.SelfBond, v.Delegated)
}

// Params bundles the staking/quorum parameters from configuration (§6).
type Params struct {
	MinSelfBond         *big.Int
	MinDelegation       *big.Int
	MaxValidators       int
	UnbondingPeriodSecs int64
	QuorumRatioThousand uint64 // quorum_ratio_thousandths, default 667
	JailDurationSecs    int64
}

// DefaultParams mirrors the spec's documented defaults.
func DefaultParams() Params {
	return Params{
		MinSelfBond:         big.NewInt(1),
		MinDelegation:       big.NewInt(1),
		MaxValidators:       100,
		UnbondingPeriodSecs: 21 * 24 * 3600,
		QuorumRatioThousand: 667,
		JailDurationSecs:    7 * 24 * 3600,
	}
}

// snapshot is the consistent view guarded by Set.mu: validators plus the
// cached totals computed from them, updated together under the write lock.
// Readers holding the read lock always see a pair of
// (validators, total_power) that was computed together, never a partial
// update — the grouping the teacher's own Design Notes call for.
type snapshot struct {
	validators map[string]*Validator
	totalPower *big.Int
	active     map[string]bool
	// effective is the set judged active for block-validation purposes;
	// it is advanced to validators/active only when AdvanceEffective is
	// called at an effective_height boundary (Open Question 4 decision).
	effective map[string]bool
}

// Set is the exclusive owner of validator records. All mutation goes
// through a single write path under mu; reads take mu's read lock.
type Set struct {
	mu          sync.RWMutex
	snap        *snapshot
	params      Params
	unbonding   []UnbondingRequest
	nextEffSet  map[string]bool
	hasPending  bool
}

// New constructs an empty validator set governed by params.
func New(params Params) *Set {
	snap := &snapshot{
		validators: make(map[string]*Validator),
		totalPower: big.NewInt(0),
		active:     make(map[string]bool),
		effective:  make(map[string]bool),
	}
	return &Set{snap: snap, params: params}
}

func (s *Set) recomputeTotalsLocked() {
	total := big.NewInt(0)
	active := make(map[string]bool)
	for id, v := range s.snap.validators {
		if v.Status == StatusActive {
			total.Add(total, v.Power)
			active[id] = true
		}
	}
	s.snap.totalPower = total
	s.snap.active = active
}

// RequiredPower returns ceil(quorum_ratio_thousandths * total_power / 1000).
func (s *Set) RequiredPower() *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requiredPowerLocked()
}

func (s *Set) requiredPowerLocked() *big.Int {
	total := s.snap.totalPower
	if total == nil || total.Sign() <= 0 {
		return big.NewInt(0)
	}
	num := new(big.Int).Mul(total, big.NewInt(int64(s.params.QuorumRatioThousand)))
	result := new(big.Int)
	thousand := big.NewInt(1000)
	quotient, rem := new(big.Int).QuoRem(num, thousand, new(big.Int))
	result.Set(quotient)
	if rem.Sign() != 0 {
		result.Add(result, big.NewInt(1))
	}
	return result
}

// TotalPower returns the cumulative power of Active validators.
func (s *Set) TotalPower() *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneBig(s.snap.totalPower)
}

// Add onboards a new validator, failing with ErrInsufficientBond if
// selfBond is below the configured minimum.
func (s *Set) Add(id string, publicKey []byte, selfBond *big.Int, commissionBp uint64, now int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.snap.validators[id]; exists {
		return coreerrors.ErrValidatorExists
	}
	if selfBond == nil || selfBond.Cmp(s.params.MinSelfBond) < 0 {
		return coreerrors.ErrInsufficientBond
	}
	v := &Validator{
		ID:           id,
		PublicKey:    append([]byte(nil), publicKey...),
		SelfBond:     cloneBig(selfBond),
		Delegated:    big.NewInt(0),
		CommissionBp: commissionBp,
		Reputation:   100,
		Status:       StatusInactive,
		JoinedAt:     now,
		LastSeen:     now,
		Delegations:  make(map[string]*Delegation),
	}
	v.recomputePower()
	s.snap.validators[id] = v
	s.recomputeTotalsLocked()
	return nil
}

// Remove deletes a validator outright (used for Banned cleanup / testing).
func (s *Set) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snap.validators[id]; !ok {
		return coreerrors.ErrUnknownValidator
	}
	delete(s.snap.validators, id)
	s.recomputeTotalsLocked()
	return nil
}

// UpdateStatus transitions a validator's membership status and recomputes
// totals under the same write section.
func (s *Set) UpdateStatus(id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.snap.validators[id]
	if !ok {
		return coreerrors.ErrUnknownValidator
	}
	v.Status = status
	s.recomputeTotalsLocked()
	return nil
}

// UpdatePower overrides a validator's power directly (used by onboarding
// tests and genesis loading; normal operation derives power from
// self-bond + delegated via recomputePower).
func (s *Set) UpdatePower(id string, power *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.snap.validators[id]
	if !ok {
		return coreerrors.ErrUnknownValidator
	}
	v.Power = cloneBig(power)
	s.recomputeTotalsLocked()
	return nil
}

// Delegate increases delegator's stake behind validator id, failing with
// ErrBelowMinDelegation if amount is below the configured minimum. Power
// updates instantaneously (Open Question 4 decision); set membership
// itself only changes at the next Rotate/AdvanceEffective boundary.
func (s *Set) Delegate(delegator, id string, amount *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.snap.validators[id]
	if !ok {
		return coreerrors.ErrUnknownValidator
	}
	if amount == nil || amount.Cmp(s.params.MinDelegation) < 0 {
		return coreerrors.ErrBelowMinDelegation
	}
	d, ok := v.Delegations[delegator]
	if !ok {
		d = &Delegation{Delegator: delegator, Amount: big.NewInt(0)}
		v.Delegations[delegator] = d
	}
	d.Amount.Add(d.Amount, amount)
	v.Delegated.Add(v.Delegated, amount)
	v.recomputePower()
	s.recomputeTotalsLocked()
	return nil
}

// Undelegate decrements a delegator's stake and schedules an
// UnbondingRequest completing at now + unbonding_period. Funds are only
// released when CompleteUnbonding is called after that instant.
func (s *Set) Undelegate(delegator, id string, amount *big.Int, now int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.snap.validators[id]
	if !ok {
		return coreerrors.ErrUnknownValidator
	}
	d, ok := v.Delegations[delegator]
	if !ok || d.Amount.Cmp(amount) < 0 {
		return coreerrors.ErrBelowMinDelegation
	}
	d.Amount.Sub(d.Amount, amount)
	v.Delegated.Sub(v.Delegated, amount)
	v.recomputePower()
	s.recomputeTotalsLocked()
	s.unbonding = append(s.unbonding, UnbondingRequest{
		Delegator:  delegator,
		Amount:     cloneBig(amount),
		CompleteAt: now + s.params.UnbondingPeriodSecs,
	})
	return nil
}

// CompleteUnbonding releases every unbonding request whose CompleteAt has
// elapsed as of now, returning the released amounts.
func (s *Set) CompleteUnbonding(now int64) []UnbondingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var released []UnbondingRequest
	var remaining []UnbondingRequest
	for _, r := range s.unbonding {
		if now >= r.CompleteAt {
			released = append(released, r)
		} else {
			remaining = append(remaining, r)
		}
	}
	s.unbonding = remaining
	return released
}

// RewardShare is one validator's (and its delegators') allocation from a
// DistributeRewards call.
type RewardShare struct {
	ValidatorID     string
	CommissionPaid  *big.Int
	DelegatorShares map[string]*big.Int
}

// DistributeRewards allocates total proportionally to Active validators'
// power; within each validator, commission_bp/10000 is kept by the
// validator and the remainder splits among delegators pro rata to their
// delegated amount. Generalizes the teacher's SplitRewards dust-bucket
// rounding so no wei is silently dropped: leftover dust from integer
// division goes to the last Active validator in id order, and within a
// validator to its last delegator in id order.
func (s *Set) DistributeRewards(total *big.Int) []RewardShare {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if total == nil || total.Sign() <= 0 || s.snap.totalPower.Sign() <= 0 {
		return nil
	}
	ids := s.sortedActiveIDsLocked()
	shares := make([]RewardShare, 0, len(ids))
	distributed := big.NewInt(0)
	for i, id := range ids {
		v := s.snap.validators[id]
		var portion *big.Int
		if i == len(ids)-1 {
			portion = new(big.Int).Sub(total, distributed)
		} else {
			portion = new(big.Int).Mul(total, v.Power)
			portion.Div(portion, s.snap.totalPower)
			distributed.Add(distributed, portion)
		}
		commission := new(big.Int).Mul(portion, big.NewInt(int64(v.CommissionBp)))
		commission.Div(commission, big.NewInt(10000))
		remainder := new(big.Int).Sub(portion, commission)
		share := RewardShare{ValidatorID: id, CommissionPaid: commission, DelegatorShares: make(map[string]*big.Int)}
		if v.Delegated.Sign() > 0 {
			delegDistributed := big.NewInt(0)
			delegIDs := sortedDelegatorIDs(v.Delegations)
			for j, did := range delegIDs {
				d := v.Delegations[did]
				var delegShare *big.Int
				if j == len(delegIDs)-1 {
					delegShare = new(big.Int).Sub(remainder, delegDistributed)
				} else {
					delegShare = new(big.Int).Mul(remainder, d.Amount)
					delegShare.Div(delegShare, v.Delegated)
					delegDistributed.Add(delegDistributed, delegShare)
				}
				share.DelegatorShares[did] = delegShare
			}
		} else {
			share.CommissionPaid = portion
		}
		shares = append(shares, share)
	}
	return shares
}

func sortedDelegatorIDs(m map[string]*Delegation) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ApplySlashing subtracts power * penalty_bp / 10000 (saturating at zero),
// appends a SlashingEvent, and forces Jailed for Equivocation/DoubleSign
// kinds.
func (s *Set) ApplySlashing(id string, kind string, penaltyBp uint64, reason string, height uint64) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.snap.validators[id]
	if !ok {
		return nil, coreerrors.ErrUnknownValidator
	}
	amount := new(big.Int).Mul(v.Power, big.NewInt(int64(penaltyBp)))
	amount.Div(amount, big.NewInt(10000))
	if amount.Cmp(v.Power) > 0 {
		amount = cloneBig(v.Power)
	}
	v.Power.Sub(v.Power, amount)
	if v.Power.Sign() < 0 {
		v.Power.SetInt64(0)
	}
	v.SlashingHistory = append(v.SlashingHistory, SlashingEvent{
		Kind: kind, PenaltyBp: penaltyBp, Amount: cloneBig(amount), Reason: reason, Height: height,
	})
	if kind == "equivocation" || kind == "double_sign" {
		v.Status = StatusJailed
	}
	s.recomputeTotalsLocked()
	return cloneBig(amount), nil
}

// Reputation deltas, matching original_source/common/src/validator.rs.
const (
	ReputationSuccessDelta    = 2
	ReputationFailDelta       = -5
	ReputationMissedVoteDelta = -1
	ReputationDoubleSignDelta = -30
	ReputationEquivocationDelta = -25
	ReputationLivenessDelta   = -10
)

func clampReputation(v int) int {
	if v > 100 {
		return 100
	}
	if v < 0 {
		return 0
	}
	return v
}

// RecordSuccessfulProposal applies the +2 reputation delta (clamped to 100).
func (s *Set) RecordSuccessfulProposal(id string) error {
	return s.adjustReputation(id, ReputationSuccessDelta, func(v *Validator) { v.SuccessfulProps++ })
}

// RecordFailedProposal applies the -5 reputation delta.
func (s *Set) RecordFailedProposal(id string) error {
	return s.adjustReputation(id, ReputationFailDelta, func(v *Validator) { v.FailedProps++ })
}

// RecordMissedVote applies the -1 reputation delta.
func (s *Set) RecordMissedVote(id string) error {
	return s.adjustReputation(id, ReputationMissedVoteDelta, func(v *Validator) { v.MissedVotes++ })
}

// RecordFaultReputation applies the -{30,25,10} deltas for
// DoubleSign/Equivocation/Liveness respectively.
func (s *Set) RecordFaultReputation(id string, kind string) error {
	delta := 0
	switch kind {
	case "double_sign":
		delta = ReputationDoubleSignDelta
	case "equivocation":
		delta = ReputationEquivocationDelta
	case "liveness_fault":
		delta = ReputationLivenessDelta
	}
	return s.adjustReputation(id, delta, nil)
}

func (s *Set) adjustReputation(id string, delta int, extra func(*Validator)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.snap.validators[id]
	if !ok {
		return coreerrors.ErrUnknownValidator
	}
	v.Reputation = clampReputation(v.Reputation + delta)
	if extra != nil {
		extra(v)
	}
	return nil
}

func (s *Set) sortedActiveIDsLocked() []string {
	ids := make([]string, 0, len(s.snap.active))
	for id := range s.snap.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Rotate sorts validators by (reputation desc, power desc); the top
// max_validators become Active, the rest Inactive. Per Open Question 4,
// this changes *pending* membership — callers observe the change in the
// effective set only after AdvanceEffective is called for the relevant
// effective_height.
func (s *Set) Rotate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.snap.validators))
	for id, v := range s.snap.validators {
		if v.Status == StatusJailed || v.Status == StatusBanned {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		vi, vj := s.snap.validators[ids[i]], s.snap.validators[ids[j]]
		if vi.Reputation != vj.Reputation {
			return vi.Reputation > vj.Reputation
		}
		if vi.Power.Cmp(vj.Power) != 0 {
			return vi.Power.Cmp(vj.Power) > 0
		}
		return ids[i] < ids[j]
	})
	next := make(map[string]bool, len(ids))
	for i, id := range ids {
		if i < s.params.MaxValidators {
			next[id] = true
		}
	}
	s.nextEffSet = next
	s.hasPending = true
}

// AdvanceEffective commits a pending Rotate() result as the effective set
// used to judge blocks from this point forward, and applies the
// corresponding Active/Inactive status to every validator.
func (s *Set) AdvanceEffective() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasPending {
		return
	}
	for id, v := range s.snap.validators {
		if v.Status == StatusJailed || v.Status == StatusBanned {
			continue
		}
		if s.nextEffSet[id] {
			v.Status = StatusActive
		} else {
			v.Status = StatusInactive
		}
	}
	s.snap.effective = s.nextEffSet
	s.hasPending = false
	s.recomputeTotalsLocked()
}

// Get returns a defensive copy of the validator record, or false if unknown.
func (s *Set) Get(id string) (*Validator, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.snap.validators[id]
	if !ok {
		return nil, false
	}
	return v.clone(), true
}

// ActiveIDs returns the sorted ids of all Active validators.
func (s *Set) ActiveIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedActiveIDsLocked()
}

// IsActive reports whether id is currently an Active validator.
func (s *Set) IsActive(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.active[id]
}

// PowerOf returns id's power, or zero if id is unknown. It does not check
// Active status itself; callers that must only count active voters (e.g. the
// engine's vote tally) are expected to have already gated on IsActive, as
// HandleVote does before a vote ever reaches the tally.
func (s *Set) PowerOf(id string) *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.snap.validators[id]
	if !ok {
		return big.NewInt(0)
	}
	return cloneBig(v.Power)
}

// Params returns the staking parameters governing this set.
func (s *Set) Params() Params {
	return s.params
}
