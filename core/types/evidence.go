package types

import "github.com/synclabs/consensuscore/codec"

// EvidenceKind names the fault an Evidence record documents.
type EvidenceKind byte

const (
	// EvidenceEquivocation records two validated votes from the same voter
	// at the same (height, view, step) naming different block hashes.
	EvidenceEquivocation EvidenceKind = iota
	// EvidenceDoubleSign records two validated proposals from the same
	// proposer at the same (height, view) naming different block hashes.
	EvidenceDoubleSign
	// EvidenceLivenessFault records a validator missing at least N
	// consecutive rounds, N being policy-configured.
	EvidenceLivenessFault
)

// String renders the evidence kind for logs and metrics labels.
func (k EvidenceKind) String() string {
	switch k {
	case EvidenceEquivocation:
		return "equivocation"
	case EvidenceDoubleSign:
		return "double_sign"
	case EvidenceLivenessFault:
		return "liveness_fault"
	default:
		return "unknown"
	}
}

// Evidence documents a detected fault pending verification and adjudication.
type Evidence struct {
	ID         []byte
	Validator  []byte
	Kind       EvidenceKind
	Height     uint64
	View       uint64
	ProofBytes []byte
	Reporter   []byte
	ObservedAt int64
}

// CanonicalBytes is the tagged, length-delimited encoding an Evidence
// record is hashed over for storage keys and dedup.
func (e Evidence) CanonicalBytes() []byte {
	w := codec.NewWriter()
	w.WriteBytes(e.ID)
	w.WriteBytes(e.Validator)
	w.WriteByte(byte(e.Kind))
	w.WriteUint64(e.Height)
	w.WriteUint64(e.View)
	w.WriteBytes(e.ProofBytes)
	w.WriteBytes(e.Reporter)
	w.WriteInt64(e.ObservedAt)
	return w.Bytes()
}

// Hash returns the blake3 digest of the evidence's canonical bytes, used as
// its dedup/idempotency key independent of the caller-assigned ID.
func (e Evidence) Hash() [32]byte {
	return codec.Hash(e.CanonicalBytes())
}
