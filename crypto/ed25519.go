package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
)

// Ed25519PrivateKey is the consensus core's primary wire signing key: 32-byte
// public keys, 64-byte signatures, as named in the external interface's
// canonical envelope/vote/proposal signing scheme. secp256k1 (PrivateKey in
// keys.go) remains available for components that still address validators by
// bech32 account address.
type Ed25519PrivateKey struct {
	priv ed25519.PrivateKey
}

// Ed25519PublicKey wraps a raw 32-byte ed25519 public key.
type Ed25519PublicKey struct {
	pub ed25519.PublicKey
}

// GenerateEd25519PrivateKey creates a new signing key.
func GenerateEd25519PrivateKey() (*Ed25519PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Ed25519PrivateKey{priv: priv}, nil
}

// Ed25519PrivateKeyFromSeed rebuilds a key from its 32-byte seed.
func Ed25519PrivateKeyFromSeed(seed []byte) (*Ed25519PrivateKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, errors.New("crypto: ed25519 seed must be 32 bytes")
	}
	return &Ed25519PrivateKey{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

// Sign produces a 64-byte signature over digest.
func (k *Ed25519PrivateKey) Sign(digest []byte) []byte {
	return ed25519.Sign(k.priv, digest)
}

// Seed returns the 32-byte seed this key was generated or derived from, the
// form persisted to the validator key file and passed back through
// Ed25519PrivateKeyFromSeed on reload.
func (k *Ed25519PrivateKey) Seed() []byte {
	return append([]byte(nil), k.priv.Seed()...)
}

// PubKey returns the public half of the key.
func (k *Ed25519PrivateKey) PubKey() *Ed25519PublicKey {
	pub := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(pub, k.priv.Public().(ed25519.PublicKey))
	return &Ed25519PublicKey{pub: pub}
}

// Bytes returns the raw 32-byte public key, the form carried on the wire as
// a ValidatorId/proposer/voter identifier.
func (p *Ed25519PublicKey) Bytes() []byte {
	return append([]byte(nil), p.pub...)
}

// VerifyEd25519 checks a strict, non-malleable ed25519 signature: pubKey must
// be exactly 32 bytes and sig exactly 64 bytes, matching the wire format
// the external interfaces mandate.
func VerifyEd25519(pubKey, digest, sig []byte) error {
	if len(pubKey) != ed25519.PublicKeySize {
		return errors.New("crypto: ed25519 public key must be 32 bytes")
	}
	if len(sig) != ed25519.SignatureSize {
		return errors.New("crypto: ed25519 signature must be 64 bytes")
	}
	if !ed25519.Verify(ed25519.PublicKey(pubKey), digest, sig) {
		return errors.New("crypto: ed25519 signature verification failed")
	}
	return nil
}
