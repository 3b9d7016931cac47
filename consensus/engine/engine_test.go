package engine

import (
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/synclabs/consensuscore/consensus/evidence"
	"github.com/synclabs/consensuscore/consensus/forkgraph"
	"github.com/synclabs/consensuscore/consensus/validator"
	coreerrors "github.com/synclabs/consensuscore/core/errors"
	"github.com/synclabs/consensuscore/core/types"
)

type fakeSigner struct{ id string }

func (s fakeSigner) Sign(digest []byte) []byte { return append([]byte("sig-"+s.id+"-"), digest...) }
func (s fakeSigner) ValidatorID() string       { return s.id }

type fakeBuilder struct{}

func (fakeBuilder) BuildBlock(height, slot uint64, parentHash []byte) (types.Block, error) {
	return types.Block{Header: types.BlockHeader{Height: height, Slot: slot, ParentHash: parentHash}}, nil
}

type fakeBroadcaster struct {
	mu   sync.Mutex
	sent []string
}

func (b *fakeBroadcaster) Broadcast(kind string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, kind)
	return nil
}

func acceptAllVerifier(pubKey, digest, sig []byte) error { return nil }

func rejectAllVerifier(pubKey, digest, sig []byte) error { return coreerrors.ErrInvalidSignature }

func newSingleValidatorEngine(t *testing.T, verify Verifier, bcast Broadcaster) (*Engine, *validator.Set) {
	t.Helper()
	params := validator.DefaultParams()
	params.MinSelfBond = big.NewInt(1)
	set := validator.New(params)
	if err := set.Add("v1", []byte("v1-pub"), big.NewInt(10), 0, 0); err != nil {
		t.Fatalf("add validator: %v", err)
	}
	if err := set.UpdateStatus("v1", validator.StatusActive); err != nil {
		t.Fatalf("activate validator: %v", err)
	}
	genesis := types.Block{Header: types.BlockHeader{Height: 0, Slot: 0}}
	graph := forkgraph.New(genesis)
	detector := evidence.NewDetector(5)
	evStore := evidence.NewStore()
	cfg := DefaultConfig()
	cfg.LivenessTimeout = 50 * time.Millisecond
	return New(cfg, 1, set, graph, detector, evStore, fakeBuilder{}, fakeSigner{id: "v1"}, verify, bcast, nil), set
}

func TestProposeBySoleValidatorReachesCommitQuorum(t *testing.T) {
	bcast := &fakeBroadcaster{}
	e, _ := newSingleValidatorEngine(t, acceptAllVerifier, bcast)
	committed, err := e.propose(1, 0)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if !committed {
		t.Fatalf("expected the sole validator's own cascading votes to reach commit quorum")
	}
	bcast.mu.Lock()
	defer bcast.mu.Unlock()
	if len(bcast.sent) == 0 {
		t.Fatalf("expected at least one broadcast (proposal and/or votes)")
	}
}

func TestProposeBySoleValidatorProducesFinalityCertificate(t *testing.T) {
	// Regression test: reaching Commit-quorum for a block must itself finalize
	// it (the FSM's Precommit-quorum -> Commit transition), not wait for a
	// later child block to be notarized — a single round has no child yet.
	e, _ := newSingleValidatorEngine(t, acceptAllVerifier, &fakeBroadcaster{})
	committed, err := e.propose(1, 0)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if !committed {
		t.Fatalf("expected commit quorum")
	}
	cert, ok := e.graph.FinalityByHeight(1)
	if !ok {
		t.Fatalf("expected a FinalityCertificate at height 1 once Commit quorum formed")
	}
	if cert.Height != 1 {
		t.Fatalf("expected certificate height 1, got %d", cert.Height)
	}
}

func TestLockPermitsSameBlockRegardlessOfView(t *testing.T) {
	e, _ := newSingleValidatorEngine(t, acceptAllVerifier, &fakeBroadcaster{})
	var locked [32]byte
	locked[0] = 1
	e.mu.Lock()
	e.lock = lockState{held: true, view: 2, blockHash: locked}
	e.mu.Unlock()
	if !e.lockPermits(2, locked, nil) {
		t.Fatalf("expected the already-locked block to always be permitted")
	}
	if !e.lockPermits(5, locked, nil) {
		t.Fatalf("expected the already-locked block to be permitted at a later view too")
	}
}

func TestLockRejectsConflictingBlockWithoutJustification(t *testing.T) {
	e, _ := newSingleValidatorEngine(t, acceptAllVerifier, &fakeBroadcaster{})
	var locked, other [32]byte
	locked[0] = 1
	other[0] = 2
	e.mu.Lock()
	e.lock = lockState{held: true, view: 2, blockHash: locked}
	e.mu.Unlock()
	if e.lockPermits(1, other, nil) {
		t.Fatalf("expected a conflicting block at a lower-or-equal view to be rejected")
	}
	if e.lockPermits(3, other, nil) {
		t.Fatalf("expected a conflicting block at a higher view with no JustifyQC to be rejected")
	}
	if e.lockPermits(3, other, &types.QuorumCertificate{View: 1}) {
		t.Fatalf("expected a JustifyQC below the locked view to be rejected")
	}
}

func TestLockPermitsConflictingBlockJustifiedAtOrAboveLockView(t *testing.T) {
	e, _ := newSingleValidatorEngine(t, acceptAllVerifier, &fakeBroadcaster{})
	var locked, other [32]byte
	locked[0] = 1
	other[0] = 2
	e.mu.Lock()
	e.lock = lockState{held: true, view: 2, blockHash: locked}
	e.mu.Unlock()
	if !e.lockPermits(3, other, &types.QuorumCertificate{View: 2}) {
		t.Fatalf("expected a JustifyQC at the locked view to permit the conflicting block")
	}
}

func TestHandleProposalRejectsInvalidSignature(t *testing.T) {
	e, _ := newSingleValidatorEngine(t, rejectAllVerifier, &fakeBroadcaster{})
	proposal := types.Proposal{Proposer: []byte("v1"), Height: 1, View: 0, ExpiresAt: nowMillis() + 10000}
	sp := types.SignedProposal{Proposal: proposal, Signature: types.Signature{Scheme: types.SchemeEd25519, Bytes: []byte("sig")}}
	if err := e.HandleProposal(sp); err == nil {
		t.Fatalf("expected HandleProposal to reject an invalid signature")
	}
}

func TestHandleProposalRejectsUnknownProposer(t *testing.T) {
	e, _ := newSingleValidatorEngine(t, acceptAllVerifier, &fakeBroadcaster{})
	proposal := types.Proposal{Proposer: []byte("ghost"), Height: 1, View: 0, ExpiresAt: nowMillis() + 10000}
	sp := types.SignedProposal{Proposal: proposal, Signature: types.Signature{Scheme: types.SchemeEd25519, Bytes: []byte("sig")}}
	if err := e.HandleProposal(sp); err == nil {
		t.Fatalf("expected HandleProposal to reject a proposer outside the validator set")
	}
}

func TestHandleProposalRejectsExpired(t *testing.T) {
	e, _ := newSingleValidatorEngine(t, acceptAllVerifier, &fakeBroadcaster{})
	proposal := types.Proposal{Proposer: []byte("v1"), Height: 1, View: 0, ExpiresAt: nowMillis() - 1}
	sp := types.SignedProposal{Proposal: proposal, Signature: types.Signature{Scheme: types.SchemeEd25519, Bytes: []byte("sig")}}
	if err := e.HandleProposal(sp); err == nil {
		t.Fatalf("expected HandleProposal to reject an expired proposal")
	}
}

func TestHandleProposalRejectsWrongHeight(t *testing.T) {
	e, _ := newSingleValidatorEngine(t, acceptAllVerifier, &fakeBroadcaster{})
	proposal := types.Proposal{Proposer: []byte("v1"), Height: 99, View: 0, ExpiresAt: nowMillis() + 10000}
	sp := types.SignedProposal{Proposal: proposal, Signature: types.Signature{Scheme: types.SchemeEd25519, Bytes: []byte("sig")}}
	if err := e.HandleProposal(sp); err == nil {
		t.Fatalf("expected HandleProposal to reject a proposal for a different height")
	}
}

func TestHandleVoteDropsPastHeightSilently(t *testing.T) {
	e, _ := newSingleValidatorEngine(t, acceptAllVerifier, &fakeBroadcaster{})
	// engine starts at height 1; a vote at height 0 is in the past.
	vote := types.Vote{Voter: []byte("v1"), Height: 0, View: 0, Type: types.VotePrepare, BlockHash: []byte("x"), Approve: true}
	sv := types.SignedVote{Vote: vote, Signature: types.Signature{Scheme: types.SchemeEd25519, Bytes: []byte("sig")}}
	if err := e.HandleVote(sv); err != nil {
		t.Fatalf("expected past-height votes to be dropped silently, got %v", err)
	}
}

func TestHandleVoteRejectsInactiveVoter(t *testing.T) {
	e, _ := newSingleValidatorEngine(t, acceptAllVerifier, &fakeBroadcaster{})
	vote := types.Vote{Voter: []byte("ghost"), Height: 1, View: 0, Type: types.VotePrepare, BlockHash: []byte("x"), Approve: true}
	sv := types.SignedVote{Vote: vote, Signature: types.Signature{Scheme: types.SchemeEd25519, Bytes: []byte("sig")}}
	if err := e.HandleVote(sv); err == nil {
		t.Fatalf("expected HandleVote to reject a voter outside the active validator set")
	}
}

func TestAdvanceViewLockedIncrementsViewAndClearsProposal(t *testing.T) {
	e, _ := newSingleValidatorEngine(t, acceptAllVerifier, &fakeBroadcaster{})
	e.mu.Lock()
	e.activeProposal = &types.SignedProposal{}
	e.advanceViewLocked(1)
	view := e.view
	proposal := e.activeProposal
	e.mu.Unlock()
	if view != 1 {
		t.Fatalf("expected view to advance to 1, got %d", view)
	}
	if proposal != nil {
		t.Fatalf("expected active proposal cleared after a view change")
	}
}

func TestIsLeaderRotatesByHeightPlusView(t *testing.T) {
	e, set := newSingleValidatorEngine(t, acceptAllVerifier, &fakeBroadcaster{})
	if err := set.Add("v2", []byte("v2-pub"), big.NewInt(10), 0, 0); err != nil {
		t.Fatalf("add v2: %v", err)
	}
	if err := set.UpdateStatus("v2", validator.StatusActive); err != nil {
		t.Fatalf("activate v2: %v", err)
	}
	// With 2 active validators sorted lexicographically, leader(height,view)
	// alternates between v1 and v2 as (height+view) toggles parity.
	leaderAtZero := e.isLeader(0, 0)
	leaderAtOne := e.isLeader(1, 0)
	if leaderAtZero == leaderAtOne {
		t.Fatalf("expected leadership to rotate between v1 and v2 across adjacent heights")
	}
}
