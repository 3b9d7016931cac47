package types

import "github.com/synclabs/consensuscore/codec"

// EnvelopeKind tags what an Envelope's payload carries, matching the wire
// kind_tag values the proposal/vote protocol exchanges over the network.
type EnvelopeKind byte

const (
	EnvelopeProposal EnvelopeKind = iota
	EnvelopeVote
	EnvelopeViewChange
)

// String renders the envelope kind for logs.
func (k EnvelopeKind) String() string {
	switch k {
	case EnvelopeProposal:
		return "proposal"
	case EnvelopeVote:
		return "vote"
	case EnvelopeViewChange:
		return "view_change"
	default:
		return "unknown"
	}
}

// Envelope is the outer wire message every frame on the network carries:
// message_id | sender | view | timestamp_ms | kind_tag | kind_payload, with
// its own signature covering the whole canonical byte string. The inner
// kind_payload (a SignedProposal or SignedVote's own canonical+signature
// bytes) carries a second, independent signature over its own content, so a
// relay that only forwards envelopes never needs to unwrap kind_payload to
// preserve authenticity end to end.
type Envelope struct {
	MessageID   []byte
	Sender      []byte
	View        uint64
	TimestampMs int64
	Kind        EnvelopeKind
	Payload     []byte
}

// CanonicalBytes is the tagged, length-delimited encoding an Envelope is
// hashed and signed over.
func (e Envelope) CanonicalBytes() []byte {
	w := codec.NewWriter()
	w.WriteBytes(e.MessageID)
	w.WriteBytes(e.Sender)
	w.WriteUint64(e.View)
	w.WriteInt64(e.TimestampMs)
	w.WriteByte(byte(e.Kind))
	w.WriteBytes(e.Payload)
	return w.Bytes()
}

// Hash returns the blake3 digest an Envelope's signature is computed over.
func (e Envelope) Hash() [32]byte {
	return codec.Hash(e.CanonicalBytes())
}

// SignedEnvelope pairs an Envelope with the sender's signature over its
// hash, the unit actually written to and read from a transport frame.
type SignedEnvelope struct {
	Envelope  Envelope
	Signature Signature
}

// CanonicalBytes is the tagged encoding a SignedEnvelope is framed as: the
// envelope's own canonical bytes followed by its detached signature.
func (se SignedEnvelope) CanonicalBytes() []byte {
	w := codec.NewWriter()
	w.WriteBytes(se.Envelope.CanonicalBytes())
	w.WriteByte(byte(se.Signature.Scheme))
	w.WriteBytes(se.Signature.Bytes)
	return w.Bytes()
}

// DecodeSignedEnvelope parses bytes produced by SignedEnvelope.CanonicalBytes.
func DecodeSignedEnvelope(buf []byte) (SignedEnvelope, error) {
	r, err := codec.NewReader(buf)
	if err != nil {
		return SignedEnvelope{}, err
	}
	envBytes := r.ReadBytes()
	scheme := r.ReadByte()
	sigBytes := r.ReadBytes()
	if err := r.Err(); err != nil {
		return SignedEnvelope{}, err
	}
	env, err := decodeEnvelope(envBytes)
	if err != nil {
		return SignedEnvelope{}, err
	}
	return SignedEnvelope{
		Envelope:  env,
		Signature: Signature{Scheme: SignatureScheme(scheme), Bytes: sigBytes},
	}, nil
}

func decodeEnvelope(buf []byte) (Envelope, error) {
	r, err := codec.NewReader(buf)
	if err != nil {
		return Envelope{}, err
	}
	env := Envelope{
		MessageID: r.ReadBytes(),
		Sender:    r.ReadBytes(),
		View:      r.ReadUint64(),
	}
	env.TimestampMs = r.ReadInt64()
	env.Kind = EnvelopeKind(r.ReadByte())
	env.Payload = r.ReadBytes()
	if err := r.Err(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
