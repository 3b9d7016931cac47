package engine

import "github.com/synclabs/consensuscore/core/types"

// encodeSignedVote/encodeSignedProposal produce the canonical, tagged bytes
// carried as a transport envelope's kind_payload (§6): the vote/proposal's
// own canonical bytes followed by its detached signature, never a
// stringified/JSON representation.
func encodeSignedVote(sv types.SignedVote) []byte {
	return sv.CanonicalBytes()
}

func encodeSignedProposal(sp types.SignedProposal) []byte {
	return sp.CanonicalBytes()
}
