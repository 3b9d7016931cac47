package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/synclabs/consensuscore/crypto"
	"github.com/synclabs/consensuscore/core/types"
)

type testSigner struct {
	id  string
	key *crypto.Ed25519PrivateKey
}

func (s testSigner) Sign(digest []byte) []byte { return s.key.Sign(digest) }
func (s testSigner) ValidatorID() string       { return s.id }

type staticResolver map[string][]byte

func (r staticResolver) PublicKey(id string) ([]byte, bool) {
	k, ok := r[id]
	return k, ok
}

type recordingDispatcher struct {
	mu        sync.Mutex
	proposals []types.SignedProposal
	votes     []types.SignedVote
	proposalC chan struct{}
	voteC     chan struct{}
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{
		proposalC: make(chan struct{}, 8),
		voteC:     make(chan struct{}, 8),
	}
}

func (d *recordingDispatcher) HandleProposal(sp types.SignedProposal) error {
	d.mu.Lock()
	d.proposals = append(d.proposals, sp)
	d.mu.Unlock()
	d.proposalC <- struct{}{}
	return nil
}

func (d *recordingDispatcher) HandleVote(sv types.SignedVote) error {
	d.mu.Lock()
	d.votes = append(d.votes, sv)
	d.mu.Unlock()
	d.voteC <- struct{}{}
	return nil
}

func mustGenerateKey(t *testing.T) *crypto.Ed25519PrivateKey {
	t.Helper()
	k, err := crypto.GenerateEd25519PrivateKey()
	if err != nil {
		t.Fatalf("GenerateEd25519PrivateKey: %v", err)
	}
	return k
}

func TestNodeBroadcastDeliversProposalAcrossConnection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"

	keyA := mustGenerateKey(t)
	keyB := mustGenerateKey(t)

	dispatchA := newRecordingDispatcher()
	dispatchB := newRecordingDispatcher()

	resolver := staticResolver{
		"node-a": keyA.PubKey().Bytes(),
		"node-b": keyB.PubKey().Bytes(),
	}

	nodeA := NewNode(cfg, "node-a", testSigner{id: "node-a", key: keyA}, crypto.VerifyEd25519, resolver, dispatchA, nil, nil)
	nodeB := NewNode(cfg, "node-b", testSigner{id: "node-b", key: keyB}, crypto.VerifyEd25519, resolver, dispatchB, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := nodeA.Listen(ctx); err != nil {
		t.Fatalf("nodeA.Listen: %v", err)
	}
	defer nodeA.Close()
	if err := nodeB.Listen(ctx); err != nil {
		t.Fatalf("nodeB.Listen: %v", err)
	}
	defer nodeB.Close()

	addrA := nodeA.listener.Addr().String()
	book := NewStaticAddressBook(map[string]string{"node-a": addrA})
	nodeB.book = book
	nodeB.Connect(ctx, "node-a")

	waitForPeers(t, nodeA, nodeB)

	sp := types.SignedProposal{
		Proposal: types.Proposal{
			ProposalID: []byte("p1"),
			Proposer:   []byte("node-b"),
			Height:     1,
			View:       0,
			BlockRef:   []byte("block-1"),
			Timestamp:  time.Now().UnixMilli(),
		},
	}
	if err := nodeB.Broadcast("proposal", sp.CanonicalBytes()); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	select {
	case <-dispatchA.proposalC:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for proposal delivery")
	}

	dispatchA.mu.Lock()
	defer dispatchA.mu.Unlock()
	if len(dispatchA.proposals) != 1 {
		t.Fatalf("expected exactly one proposal delivered, got %d", len(dispatchA.proposals))
	}
	if string(dispatchA.proposals[0].Proposal.ProposalID) != "p1" {
		t.Fatalf("unexpected proposal id: %q", dispatchA.proposals[0].Proposal.ProposalID)
	}
}

func waitForPeers(t *testing.T, nodes ...*Node) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		allConnected := true
		for _, n := range nodes {
			if n.PeerCount() == 0 {
				allConnected = false
				break
			}
		}
		if allConnected {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("peers did not connect in time")
}
