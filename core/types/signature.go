package types

// SignatureScheme names which cryptographic scheme produced a Signature.
// Ed25519 is the protocol's primary scheme; Secp256k1 is accepted for
// validators that bridge in an address-compatible key from the account
// layer.
type SignatureScheme byte

const (
	// SchemeEd25519 signs with a 32-byte public key and a 64-byte signature.
	SchemeEd25519 SignatureScheme = iota
	// SchemeSecp256k1 signs with a recoverable ECDSA signature over the
	// secp256k1 curve, matching the account address scheme.
	SchemeSecp256k1
)

// String renders the scheme name for logs.
func (s SignatureScheme) String() string {
	switch s {
	case SchemeEd25519:
		return "ed25519"
	case SchemeSecp256k1:
		return "secp256k1"
	default:
		return "unknown"
	}
}

// Signature carries a scheme-tagged signature over a message's canonical
// hash. Carrying the scheme alongside the bytes lets a verifier pick the
// right curve without guessing from signature length alone.
type Signature struct {
	Scheme SignatureScheme
	Bytes  []byte
}
