package types

import "github.com/synclabs/consensuscore/codec"

// QuorumCertificate is the aggregated proof that at least two-thirds of
// validator power voted for a block at a given height and view. It is what
// lets a block enter the fork graph as notarized rather than merely
// proposed.
type QuorumCertificate struct {
	Height     uint64
	View       uint64
	BlockHash  []byte
	Signatures []AggregatedSignature
}

// AggregatedSignature names one validator's contribution to a QC.
type AggregatedSignature struct {
	ValidatorID []byte
	Signature   Signature
}

// CanonicalBytes returns the canonical encoding of the QC, used both for its
// own hash and as part of the envelope a proposer gossips.
func (qc QuorumCertificate) CanonicalBytes() []byte {
	w := codec.NewWriter()
	w.WriteUint64(qc.Height)
	w.WriteUint64(qc.View)
	w.WriteBytes(qc.BlockHash)
	w.WriteUint32(uint32(len(qc.Signatures)))
	for _, sig := range qc.Signatures {
		w.WriteBytes(sig.ValidatorID)
		w.WriteByte(byte(sig.Signature.Scheme))
		w.WriteBytes(sig.Signature.Bytes)
	}
	return w.Bytes()
}

// Hash returns the blake3 digest of the QC's canonical bytes.
func (qc QuorumCertificate) Hash() [32]byte {
	return codec.Hash(qc.CanonicalBytes())
}

// DecodeQuorumCertificate parses bytes produced by QuorumCertificate.CanonicalBytes.
func DecodeQuorumCertificate(buf []byte) (QuorumCertificate, error) {
	r, err := codec.NewReader(buf)
	if err != nil {
		return QuorumCertificate{}, err
	}
	qc := QuorumCertificate{
		Height:    r.ReadUint64(),
		View:      r.ReadUint64(),
		BlockHash: r.ReadBytes(),
	}
	count := r.ReadUint32()
	qc.Signatures = make([]AggregatedSignature, 0, count)
	for i := uint32(0); i < count; i++ {
		id := r.ReadBytes()
		scheme := r.ReadByte()
		sigBytes := r.ReadBytes()
		qc.Signatures = append(qc.Signatures, AggregatedSignature{
			ValidatorID: id,
			Signature:   Signature{Scheme: SignatureScheme(scheme), Bytes: sigBytes},
		})
	}
	if err := r.Err(); err != nil {
		return QuorumCertificate{}, err
	}
	return qc, nil
}

// VoterCount returns the number of signatures present in the QC. The QC
// itself does not carry power values; a caller that needs the signed power
// looks each ValidatorID up in the validator set that was active at Height.
func (qc QuorumCertificate) VoterCount() int {
	return len(qc.Signatures)
}
