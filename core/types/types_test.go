package types

import (
	"bytes"
	"testing"
)

func TestVoteRoundTrip(t *testing.T) {
	v := Vote{
		Voter:      []byte("validator-1"),
		ProposalID: []byte("proposal-1"),
		Height:     10,
		View:       2,
		Round:      1,
		Type:       VotePreCommit,
		BlockHash:  []byte("block-hash"),
		Approve:    true,
		Timestamp:  1234567,
	}
	got, err := DecodeVote(v.CanonicalBytes())
	if err != nil {
		t.Fatalf("decode vote: %v", err)
	}
	if got.Height != v.Height || got.View != v.View || got.Round != v.Round || got.Type != v.Type {
		t.Fatalf("decoded vote mismatch: %+v vs %+v", got, v)
	}
	if !bytes.Equal(got.BlockHash, v.BlockHash) || got.Approve != v.Approve || got.Timestamp != v.Timestamp {
		t.Fatalf("decoded vote payload mismatch: %+v vs %+v", got, v)
	}
}

func TestVoteIsNilForUnapprovedOrEmptyHash(t *testing.T) {
	v := Vote{BlockHash: []byte("x"), Approve: false}
	if !v.IsNil() {
		t.Fatalf("expected an unapproved vote to be nil")
	}
	v2 := Vote{BlockHash: nil, Approve: true}
	if !v2.IsNil() {
		t.Fatalf("expected a vote with no block hash to be nil")
	}
	v3 := Vote{BlockHash: []byte("x"), Approve: true}
	if v3.IsNil() {
		t.Fatalf("expected an approved vote with a block hash not to be nil")
	}
}

func TestSignedVoteRoundTrip(t *testing.T) {
	sv := SignedVote{
		Vote:      Vote{Voter: []byte("v1"), Height: 1, Type: VotePrepare, BlockHash: []byte("h"), Approve: true},
		Signature: Signature{Scheme: SchemeEd25519, Bytes: []byte("sig-bytes")},
	}
	got, err := DecodeSignedVote(sv.CanonicalBytes())
	if err != nil {
		t.Fatalf("decode signed vote: %v", err)
	}
	if got.Vote.Height != sv.Vote.Height || !bytes.Equal(got.Signature.Bytes, sv.Signature.Bytes) {
		t.Fatalf("decoded signed vote mismatch: %+v vs %+v", got, sv)
	}
}

func TestProposalRoundTripWithJustifyQC(t *testing.T) {
	qc := QuorumCertificate{
		Height: 4, View: 1, BlockHash: []byte("qc-hash"),
		Signatures: []AggregatedSignature{{ValidatorID: []byte("v1"), Signature: Signature{Scheme: SchemeEd25519, Bytes: []byte("s1")}}},
	}
	p := Proposal{
		ProposalID: []byte("p1"),
		Proposer:   []byte("leader"),
		Height:     5,
		View:       1,
		ParentHash: []byte("parent"),
		BlockRef:   []byte("block"),
		PayloadTag: PayloadValidatorSetChange,
		Payload:    []byte("payload-bytes"),
		JustifyQC:  &qc,
		ExpiresAt:  9999,
		Timestamp:  8888,
	}
	got, err := DecodeProposal(p.CanonicalBytes())
	if err != nil {
		t.Fatalf("decode proposal: %v", err)
	}
	if got.Height != p.Height || got.PayloadTag != p.PayloadTag || !bytes.Equal(got.Payload, p.Payload) {
		t.Fatalf("decoded proposal mismatch: %+v vs %+v", got, p)
	}
	if got.JustifyQC == nil {
		t.Fatalf("expected JustifyQC to round-trip as present")
	}
	if got.JustifyQC.Height != qc.Height || len(got.JustifyQC.Signatures) != 1 {
		t.Fatalf("decoded JustifyQC mismatch: %+v vs %+v", got.JustifyQC, qc)
	}
}

func TestProposalRoundTripWithoutJustifyQC(t *testing.T) {
	p := Proposal{ProposalID: []byte("p1"), Proposer: []byte("leader"), Height: 1}
	got, err := DecodeProposal(p.CanonicalBytes())
	if err != nil {
		t.Fatalf("decode proposal: %v", err)
	}
	if got.JustifyQC != nil {
		t.Fatalf("expected JustifyQC to round-trip as absent")
	}
}

func TestProposalExpired(t *testing.T) {
	p := Proposal{ExpiresAt: 1000}
	if p.Expired(1000) {
		t.Fatalf("expected a proposal to still be valid exactly at its expiry instant")
	}
	if !p.Expired(1001) {
		t.Fatalf("expected a proposal to be expired strictly past its expiry instant")
	}
}

func TestQuorumCertificateRoundTrip(t *testing.T) {
	qc := QuorumCertificate{
		Height: 7, View: 2, BlockHash: []byte("hash"),
		Signatures: []AggregatedSignature{
			{ValidatorID: []byte("v1"), Signature: Signature{Scheme: SchemeEd25519, Bytes: []byte("s1")}},
			{ValidatorID: []byte("v2"), Signature: Signature{Scheme: SchemeEd25519, Bytes: []byte("s2")}},
		},
	}
	got, err := DecodeQuorumCertificate(qc.CanonicalBytes())
	if err != nil {
		t.Fatalf("decode qc: %v", err)
	}
	if got.Height != qc.Height || got.View != qc.View || len(got.Signatures) != 2 {
		t.Fatalf("decoded qc mismatch: %+v vs %+v", got, qc)
	}
	if got.VoterCount() != 2 {
		t.Fatalf("expected voter count 2, got %d", got.VoterCount())
	}
}

func TestSignedEnvelopeRoundTrip(t *testing.T) {
	se := SignedEnvelope{
		Envelope: Envelope{
			MessageID:   []byte("m1"),
			Sender:      []byte("v1"),
			View:        3,
			TimestampMs: 5555,
			Kind:        EnvelopeVote,
			Payload:     []byte("inner-payload"),
		},
		Signature: Signature{Scheme: SchemeEd25519, Bytes: []byte("outer-sig")},
	}
	got, err := DecodeSignedEnvelope(se.CanonicalBytes())
	if err != nil {
		t.Fatalf("decode signed envelope: %v", err)
	}
	if got.Envelope.Kind != EnvelopeVote || !bytes.Equal(got.Envelope.Payload, se.Envelope.Payload) {
		t.Fatalf("decoded envelope mismatch: %+v vs %+v", got.Envelope, se.Envelope)
	}
	if !bytes.Equal(got.Signature.Bytes, se.Signature.Bytes) {
		t.Fatalf("decoded signature mismatch: %+v vs %+v", got.Signature, se.Signature)
	}
}

func TestBlockHeaderIsGenesis(t *testing.T) {
	genesis := BlockHeader{Height: 0}
	if !genesis.IsGenesis() {
		t.Fatalf("expected a height-0, parentless header to be genesis")
	}
	child := BlockHeader{Height: 1, ParentHash: []byte("parent")}
	if child.IsGenesis() {
		t.Fatalf("expected a header with a parent hash not to be genesis")
	}
}

func TestBlockValidateRequiresParentForNonGenesis(t *testing.T) {
	b := Block{Header: BlockHeader{Height: 1}}
	if err := b.Validate(); err != ErrMissingParent {
		t.Fatalf("expected ErrMissingParent, got %v", err)
	}
	b.Header.ParentHash = []byte("parent")
	if err := b.Validate(); err != nil {
		t.Fatalf("expected a well-formed non-genesis block to validate, got %v", err)
	}
}

func TestBlockHeaderHashIsDeterministic(t *testing.T) {
	h := BlockHeader{Height: 1, Slot: 1, ParentHash: []byte("p"), Proposer: []byte("leader")}
	if h.Hash() != h.Hash() {
		t.Fatalf("expected block header hash to be deterministic")
	}
	h2 := h
	h2.Proposer = []byte("other")
	if h.Hash() == h2.Hash() {
		t.Fatalf("expected different headers to hash differently")
	}
}

func TestEvidenceHashIsDeterministic(t *testing.T) {
	ev := Evidence{Validator: []byte("v1"), Kind: EvidenceEquivocation, Height: 1, ObservedAt: 100}
	if ev.Hash() != ev.Hash() {
		t.Fatalf("expected evidence hash to be deterministic")
	}
	ev2 := ev
	ev2.Kind = EvidenceDoubleSign
	if ev.Hash() == ev2.Hash() {
		t.Fatalf("expected different evidence kinds to hash differently")
	}
}

func TestVoteKeyDistinguishesVoters(t *testing.T) {
	v1 := Vote{Voter: []byte("v1"), Height: 1, View: 0, Round: 0, Type: VotePrepare}
	v2 := v1
	v2.Voter = []byte("v2")
	if v1.Key() == v2.Key() {
		t.Fatalf("expected different voters to produce different VoteKeys")
	}
}
