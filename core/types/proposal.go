package types

import "github.com/synclabs/consensuscore/codec"

// PayloadKind tags what a proposal's opaque payload represents, matching
// the wire envelope's payload_tag values (block, batch:<n>, vset:<height>,
// cfg:<k>=<v>, emergency:<type>). A fork graph consumer dispatches on it
// without the consensus core needing to understand payload semantics.
type PayloadKind byte

const (
	PayloadBlock PayloadKind = iota
	PayloadTransactionBatch
	PayloadValidatorSetChange
	PayloadParameterUpdate
	PayloadEmergencyAction
)

// Proposal is the unsigned content a leader broadcasts for a given height
// and view. ProposalID is the identifier votes reference; BlockRef is the
// candidate block's hash this proposal proposes to extend the chain with.
type Proposal struct {
	ProposalID []byte
	Proposer   []byte
	Height     uint64
	View       uint64
	Round      uint64
	ParentHash []byte
	BlockRef   []byte
	PayloadTag PayloadKind
	Payload    []byte
	JustifyQC  *QuorumCertificate
	ExpiresAt  int64
	Timestamp  int64
}

// CanonicalBytes is the tagged, length-delimited encoding a proposal is
// hashed and signed over.
func (p Proposal) CanonicalBytes() []byte {
	w := codec.NewWriter()
	w.WriteBytes(p.ProposalID)
	w.WriteBytes(p.Proposer)
	w.WriteUint64(p.Height)
	w.WriteUint64(p.View)
	w.WriteUint64(p.Round)
	w.WriteBytes(p.ParentHash)
	w.WriteBytes(p.BlockRef)
	w.WriteByte(byte(p.PayloadTag))
	w.WriteBytes(p.Payload)
	if p.JustifyQC != nil {
		w.WriteBool(true)
		w.WriteBytes(p.JustifyQC.CanonicalBytes())
	} else {
		w.WriteBool(false)
	}
	w.WriteInt64(p.ExpiresAt)
	w.WriteInt64(p.Timestamp)
	return w.Bytes()
}

// Hash returns the blake3 digest a Proposal's signature is computed over.
func (p Proposal) Hash() [32]byte {
	return codec.Hash(p.CanonicalBytes())
}

// Expired reports whether the proposal is no longer acceptable at now (unix
// millis). A proposal at exactly ExpiresAt is still accepted; strictly past
// it is not.
func (p Proposal) Expired(nowUnixMilli int64) bool {
	return nowUnixMilli > p.ExpiresAt
}

// DecodeProposal parses bytes produced by Proposal.CanonicalBytes.
func DecodeProposal(buf []byte) (Proposal, error) {
	r, err := codec.NewReader(buf)
	if err != nil {
		return Proposal{}, err
	}
	p := Proposal{
		ProposalID: r.ReadBytes(),
		Proposer:   r.ReadBytes(),
		Height:     r.ReadUint64(),
		View:       r.ReadUint64(),
		Round:      r.ReadUint64(),
		ParentHash: r.ReadBytes(),
		BlockRef:   r.ReadBytes(),
	}
	p.PayloadTag = PayloadKind(r.ReadByte())
	p.Payload = r.ReadBytes()
	if r.ReadBool() {
		qcBytes := r.ReadBytes()
		if err := r.Err(); err != nil {
			return Proposal{}, err
		}
		qc, err := DecodeQuorumCertificate(qcBytes)
		if err != nil {
			return Proposal{}, err
		}
		p.JustifyQC = &qc
	}
	p.ExpiresAt = r.ReadInt64()
	p.Timestamp = r.ReadInt64()
	if err := r.Err(); err != nil {
		return Proposal{}, err
	}
	return p, nil
}

// SignedProposal pairs a Proposal with the leader's signature over its hash.
type SignedProposal struct {
	Proposal  Proposal
	Signature Signature
}

// CanonicalBytes is the tagged encoding a SignedProposal is framed as: the
// proposal's own canonical bytes followed by its detached signature.
func (sp SignedProposal) CanonicalBytes() []byte {
	w := codec.NewWriter()
	w.WriteBytes(sp.Proposal.CanonicalBytes())
	w.WriteByte(byte(sp.Signature.Scheme))
	w.WriteBytes(sp.Signature.Bytes)
	return w.Bytes()
}

// DecodeSignedProposal parses bytes produced by SignedProposal.CanonicalBytes,
// the wire shape consensus/engine and consensus/transport exchange for
// proposals.
func DecodeSignedProposal(buf []byte) (SignedProposal, error) {
	r, err := codec.NewReader(buf)
	if err != nil {
		return SignedProposal{}, err
	}
	proposalBytes := r.ReadBytes()
	scheme := r.ReadByte()
	sigBytes := r.ReadBytes()
	if err := r.Err(); err != nil {
		return SignedProposal{}, err
	}
	p, err := DecodeProposal(proposalBytes)
	if err != nil {
		return SignedProposal{}, err
	}
	return SignedProposal{Proposal: p, Signature: Signature{Scheme: SignatureScheme(scheme), Bytes: sigBytes}}, nil
}
