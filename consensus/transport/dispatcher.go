package transport

import "github.com/synclabs/consensuscore/core/types"

// Dispatcher is the inbound seam a Node delivers verified proposals and
// votes through. consensus/engine.Engine satisfies this structurally
// (HandleProposal/HandleVote), so a Node never imports consensus/engine —
// matching the Design Notes' engine-exposes-inbox/outbox inversion of
// control, kept one layer removed from the concrete wire transport.
type Dispatcher interface {
	HandleProposal(types.SignedProposal) error
	HandleVote(types.SignedVote) error
}

// Signer produces the transport-level envelope signature, pairing
// crypto.Ed25519PrivateKey.Sign with the caller's own validator id.
type Signer interface {
	Sign(digest []byte) []byte
	ValidatorID() string
}

// Verifier checks a detached signature over digest for the named scheme,
// satisfied by crypto.VerifyEd25519/crypto verification helpers.
type Verifier func(pubKey, digest, sig []byte) error

// PublicKeyResolver looks up a sender's public key by validator id, used to
// verify an inbound envelope's signature before dispatching its payload.
type PublicKeyResolver interface {
	PublicKey(validatorID string) ([]byte, bool)
}
