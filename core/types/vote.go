package types

import "github.com/synclabs/consensuscore/codec"

// VoteType names the phase a vote belongs to: Prepare (Tendermint's
// "prevote"), PreCommit, Commit, or ViewChange. The engine casts Prepare,
// PreCommit and Commit in that order for every protocol flavor, so the
// tallying code is uniform.
type VoteType byte

const (
	VotePrepare VoteType = iota
	VotePreCommit
	VoteCommit
	VoteViewChange
)

// String renders the vote type name for logs and metrics labels.
func (t VoteType) String() string {
	switch t {
	case VotePrepare:
		return "prepare"
	case VotePreCommit:
		return "precommit"
	case VoteCommit:
		return "commit"
	case VoteViewChange:
		return "view_change"
	default:
		return "unknown"
	}
}

// Vote is the unsigned content a validator casts for a proposal at a given
// height, view and round. BlockHash names the candidate block being voted
// on and is nil for a nil-vote (the validator saw no valid proposal in
// time, or is voting Approve=false). ProposalID ties the vote back to the
// specific Proposal it responds to, independent of which block hash that
// proposal carries.
type Vote struct {
	Voter      []byte
	ProposalID []byte
	Height     uint64
	View       uint64
	Round      uint64
	Type       VoteType
	BlockHash  []byte
	Approve    bool
	Timestamp  int64
}

// Validator returns the voting validator's id. Kept as a method (rather than
// renaming the field) so existing call sites reading "the validator who
// cast this vote" read naturally; the field itself is named Voter to match
// the data model's {voter, proposal_id, step, view, approve} shape.
func (v Vote) Validator() []byte {
	return v.Voter
}

// IsNil reports whether this is a nil-vote (no block approved).
func (v Vote) IsNil() bool {
	return len(v.BlockHash) == 0 || !v.Approve
}

// CanonicalBytes is the tagged, length-delimited encoding a vote is hashed
// and signed over.
func (v Vote) CanonicalBytes() []byte {
	w := codec.NewWriter()
	w.WriteBytes(v.Voter)
	w.WriteBytes(v.ProposalID)
	w.WriteUint64(v.Height)
	w.WriteUint64(v.View)
	w.WriteUint64(v.Round)
	w.WriteByte(byte(v.Type))
	w.WriteBytes(v.BlockHash)
	w.WriteBool(v.Approve)
	w.WriteInt64(v.Timestamp)
	return w.Bytes()
}

// Hash returns the blake3 digest a Vote's signature is computed over.
func (v Vote) Hash() [32]byte {
	return codec.Hash(v.CanonicalBytes())
}

// DecodeVote parses bytes produced by Vote.CanonicalBytes.
func DecodeVote(buf []byte) (Vote, error) {
	r, err := codec.NewReader(buf)
	if err != nil {
		return Vote{}, err
	}
	v := Vote{
		Voter:      r.ReadBytes(),
		ProposalID: r.ReadBytes(),
		Height:     r.ReadUint64(),
		View:       r.ReadUint64(),
		Round:      r.ReadUint64(),
	}
	v.Type = VoteType(r.ReadByte())
	v.BlockHash = r.ReadBytes()
	v.Approve = r.ReadBool()
	v.Timestamp = r.ReadInt64()
	if err := r.Err(); err != nil {
		return Vote{}, err
	}
	return v, nil
}

// SignedVote pairs a Vote with the casting validator's signature over its
// hash.
type SignedVote struct {
	Vote      Vote
	Signature Signature
}

// CanonicalBytes is the tagged encoding a SignedVote is framed as: the
// vote's own canonical bytes followed by its detached signature.
func (sv SignedVote) CanonicalBytes() []byte {
	w := codec.NewWriter()
	w.WriteBytes(sv.Vote.CanonicalBytes())
	w.WriteByte(byte(sv.Signature.Scheme))
	w.WriteBytes(sv.Signature.Bytes)
	return w.Bytes()
}

// DecodeSignedVote parses bytes produced by SignedVote.CanonicalBytes, the
// wire shape consensus/engine and consensus/transport exchange for votes.
func DecodeSignedVote(buf []byte) (SignedVote, error) {
	r, err := codec.NewReader(buf)
	if err != nil {
		return SignedVote{}, err
	}
	voteBytes := r.ReadBytes()
	scheme := r.ReadByte()
	sigBytes := r.ReadBytes()
	if err := r.Err(); err != nil {
		return SignedVote{}, err
	}
	v, err := DecodeVote(voteBytes)
	if err != nil {
		return SignedVote{}, err
	}
	return SignedVote{Vote: v, Signature: Signature{Scheme: SignatureScheme(scheme), Bytes: sigBytes}}, nil
}

// VoteKey identifies the (height, view, round, type, validator) tuple a
// vote belongs to, used to detect a validator double-voting within the same
// slot — the precondition for Equivocation evidence.
type VoteKey struct {
	Height    uint64
	View      uint64
	Round     uint64
	Type      VoteType
	Validator string
}

// Key derives the VoteKey for v. Validator is hex-encoded so VoteKey is
// comparable and usable as a map key.
func (v Vote) Key() VoteKey {
	return VoteKey{
		Height:    v.Height,
		View:      v.View,
		Round:     v.Round,
		Type:      v.Type,
		Validator: hexString(v.Voter),
	}
}

func hexString(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexdigits[c>>4]
		out[i*2+1] = hexdigits[c&0x0f]
	}
	return string(out)
}
