package evidence

import (
	"testing"

	"github.com/synclabs/consensuscore/core/types"
)

func TestDetectorObserveVoteNoEquivocationOnRepeat(t *testing.T) {
	d := NewDetector(3)
	v := types.Vote{Voter: []byte("v1"), Height: 5, View: 0, Round: 0, Type: types.VotePreCommit, BlockHash: []byte("blockA"), Approve: true}
	if _, found := d.ObserveVote(v, 100); found {
		t.Fatalf("first vote must never be evidence")
	}
	if _, found := d.ObserveVote(v, 101); found {
		t.Fatalf("repeating the same vote must not be evidence")
	}
}

func TestDetectorObserveVoteDetectsEquivocation(t *testing.T) {
	d := NewDetector(3)
	v1 := types.Vote{Voter: []byte("v1"), Height: 5, View: 0, Round: 0, Type: types.VotePreCommit, BlockHash: []byte("blockA"), Approve: true}
	v2 := v1
	v2.BlockHash = []byte("blockB")
	if _, found := d.ObserveVote(v1, 100); found {
		t.Fatalf("first vote must never be evidence")
	}
	ev, found := d.ObserveVote(v2, 101)
	if !found {
		t.Fatalf("expected equivocation evidence for conflicting vote")
	}
	if ev.Kind != types.EvidenceEquivocation {
		t.Fatalf("expected EvidenceEquivocation, got %v", ev.Kind)
	}
	if string(ev.Validator) != "v1" {
		t.Fatalf("expected offending validator v1, got %s", ev.Validator)
	}
}

func TestDetectorObserveProposalDetectsDoubleSign(t *testing.T) {
	d := NewDetector(3)
	p1 := types.Proposal{Proposer: []byte("leader"), Height: 10, View: 1, BlockRef: []byte("blockA")}
	p2 := p1
	p2.BlockRef = []byte("blockB")
	if _, found := d.ObserveProposal(p1, 100); found {
		t.Fatalf("first proposal must never be evidence")
	}
	ev, found := d.ObserveProposal(p2, 101)
	if !found {
		t.Fatalf("expected double-sign evidence for conflicting proposal")
	}
	if ev.Kind != types.EvidenceDoubleSign {
		t.Fatalf("expected EvidenceDoubleSign, got %v", ev.Kind)
	}
}

func TestDetectorRecordRoundOutcomeResetsOnParticipation(t *testing.T) {
	d := NewDetector(3)
	id := []byte("v1")
	for i := 0; i < 2; i++ {
		if _, found := d.RecordRoundOutcome(id, uint64(i), 0, false, 0); found {
			t.Fatalf("should not fire before threshold")
		}
	}
	if _, found := d.RecordRoundOutcome(id, 2, 0, true, 0); found {
		t.Fatalf("participation must reset the miss counter, not report evidence")
	}
	for i := 0; i < 2; i++ {
		if _, found := d.RecordRoundOutcome(id, uint64(3+i), 0, false, 0); found {
			t.Fatalf("counter should have been reset by participation")
		}
	}
	ev, found := d.RecordRoundOutcome(id, 5, 0, false, 0)
	if !found {
		t.Fatalf("expected liveness fault once threshold reached")
	}
	if ev.Kind != types.EvidenceLivenessFault {
		t.Fatalf("expected EvidenceLivenessFault, got %v", ev.Kind)
	}
}

func TestDetectorResetSlotForgetsOldHeights(t *testing.T) {
	d := NewDetector(3)
	v := types.Vote{Voter: []byte("v1"), Height: 5, Type: types.VotePreCommit, BlockHash: []byte("blockA"), Approve: true}
	d.ObserveVote(v, 100)
	d.ResetSlot(5)
	// Having forgotten height 5, the same vote now looks "first seen" again
	// and a conflicting vote at that height is no longer detected.
	v2 := v
	v2.BlockHash = []byte("blockB")
	if _, found := d.ObserveVote(v2, 101); found {
		t.Fatalf("expected no evidence after ResetSlot forgot the prior vote")
	}
}

func TestStorePutIsIdempotent(t *testing.T) {
	s := NewStore()
	ev := types.Evidence{Validator: []byte("v1"), Kind: types.EvidenceEquivocation, Height: 1, ObservedAt: 100}
	rec1, inserted1 := s.Put(ev, 100)
	if !inserted1 {
		t.Fatalf("expected first Put to insert")
	}
	rec2, inserted2 := s.Put(ev, 200)
	if inserted2 {
		t.Fatalf("expected replay Put to be idempotent (not re-inserted)")
	}
	if rec1 != rec2 {
		t.Fatalf("expected replay Put to return the original record")
	}
	if rec2.ReceivedAt != 100 {
		t.Fatalf("expected original ReceivedAt preserved, got %d", rec2.ReceivedAt)
	}
}

func TestStoreLifecycleTransitions(t *testing.T) {
	s := NewStore()
	ev := types.Evidence{Validator: []byte("v1"), Kind: types.EvidenceDoubleSign, Height: 1, ObservedAt: 100}
	rec, _ := s.Put(ev, 100)
	hash := rec.Hash()

	pending := s.Pending()
	if len(pending) != 1 {
		t.Fatalf("expected one pending record, got %d", len(pending))
	}

	if err := s.MarkVerified(hash, 150); err != nil {
		t.Fatalf("mark verified: %v", err)
	}
	got, ok := s.Get(hash)
	if !ok || got.Status != StatusVerified {
		t.Fatalf("expected status Verified, got %+v", got)
	}
	if len(s.Pending()) != 0 {
		t.Fatalf("expected no pending records once verified")
	}

	if err := s.MarkAdjudicated(hash); err != nil {
		t.Fatalf("mark adjudicated: %v", err)
	}
	got, _ = s.Get(hash)
	if got.Status != StatusAdjudicated {
		t.Fatalf("expected status Adjudicated, got %s", got.Status)
	}
}

func TestStoreMarkUnknownRecordFails(t *testing.T) {
	s := NewStore()
	var missing [32]byte
	if err := s.MarkVerified(missing, 0); err == nil {
		t.Fatalf("expected error marking an unknown record verified")
	}
}

func TestStorePruneKeepsPendingAndRecentRecords(t *testing.T) {
	s := NewStore()
	old := types.Evidence{Validator: []byte("old"), Kind: types.EvidenceLivenessFault, Height: 1, ObservedAt: 0}
	recent := types.Evidence{Validator: []byte("recent"), Kind: types.EvidenceLivenessFault, Height: 2, ObservedAt: 0}
	pending := types.Evidence{Validator: []byte("pending"), Kind: types.EvidenceLivenessFault, Height: 3, ObservedAt: 0}

	oldRec, _ := s.Put(old, 0)
	recentRec, _ := s.Put(recent, RetentionSeconds-10)
	pendingRec, _ := s.Put(pending, 0)

	if err := s.MarkVerified(oldRec.Hash(), 0); err != nil {
		t.Fatalf("mark old verified: %v", err)
	}
	if err := s.MarkVerified(recentRec.Hash(), 0); err != nil {
		t.Fatalf("mark recent verified: %v", err)
	}
	// pendingRec stays Pending.

	pruned := s.Prune(RetentionSeconds + 1)
	if pruned != 1 {
		t.Fatalf("expected exactly 1 record pruned, got %d", pruned)
	}
	if _, ok := s.Get(oldRec.Hash()); ok {
		t.Fatalf("expected old verified record to be pruned")
	}
	if _, ok := s.Get(recentRec.Hash()); !ok {
		t.Fatalf("expected recent verified record to survive pruning")
	}
	if _, ok := s.Get(pendingRec.Hash()); !ok {
		t.Fatalf("expected pending record to survive pruning regardless of age")
	}
}

func TestValidateRejectsFutureHeight(t *testing.T) {
	ev := types.Evidence{Validator: []byte("v1"), Reporter: []byte("r1"), Height: 100, ObservedAt: 0}
	err := Validate(ev, 50, MaxAgeSeconds, 0, nil, nil, types.Signature{})
	if err == nil {
		t.Fatalf("expected error for evidence referencing a future height")
	}
}

func TestValidateRejectsTooOld(t *testing.T) {
	ev := types.Evidence{Validator: []byte("v1"), Reporter: []byte("r1"), Height: 1, ObservedAt: 0}
	err := Validate(ev, 100, 10, 100, nil, nil, types.Signature{})
	if err == nil {
		t.Fatalf("expected error for evidence exceeding max age")
	}
}

func TestValidateAcceptsWellFormedEvidence(t *testing.T) {
	ev := types.Evidence{Validator: []byte("v1"), Reporter: []byte("r1"), Height: 5, ObservedAt: 100}
	err := Validate(ev, 10, MaxAgeSeconds, 100, func(uint64) bool { return true }, nil, types.Signature{})
	if err != nil {
		t.Fatalf("expected well-formed evidence to validate, got %v", err)
	}
}
