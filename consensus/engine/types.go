// Package engine implements the pluggable BFT consensus state machine:
// Propose, cast Prepare/PreCommit/Commit votes, view-change on timeout, and
// hand finalized blocks to the fork graph. It generalizes the teacher's
// consensus/bft.Engine (Tendermint-style, map[string]*big.Int validator set,
// JSON-stringified vote/proposal hashing) to the validator.Set/forkgraph/
// codec stack built for this module, and adds the view-change vote type and
// exponential timeout backoff the teacher's engine does not have.
package engine

import (
	"time"

	"github.com/synclabs/consensuscore/core/types"
)

// ProtocolFlavor names which consensus algorithm a Config selects. The
// engine's phase machine is shared across flavors; only the finality
// predicate and capability set differ. Streamlet finalizes via the Streamlet
// rule; every other value, Tendermint and Raft included, finalizes a block
// directly on its Commit quorum (the Raft-majority rule).
type ProtocolFlavor string

const (
	FlavorTendermint ProtocolFlavor = "tendermint"
	FlavorRaft       ProtocolFlavor = "raft"
	FlavorStreamlet  ProtocolFlavor = "streamlet"
)

// Capability names one behavior a ConsensusProtocol may support, per the
// dynamic-dispatch-across-BFT-flavors design note. A Protocol advertises its
// set through Supports; the engine itself does not consult it and selects
// its finality rule from Protocol.Flavor.
type Capability string

const (
	CapPropose    Capability = "propose"
	CapVote       Capability = "vote"
	CapViewChange Capability = "view_change"
	CapFinalize   Capability = "finalize"
)

// Protocol describes one pluggable consensus flavor's parameters and
// supported capabilities.
type Protocol struct {
	Flavor       ProtocolFlavor
	Capabilities map[Capability]bool
}

// Supports reports whether the protocol advertises cap.
func (p Protocol) Supports(cap Capability) bool {
	if p.Capabilities == nil {
		return false
	}
	return p.Capabilities[cap]
}

// TendermintProtocol is the default, full-capability flavor.
func TendermintProtocol() Protocol {
	return Protocol{Flavor: FlavorTendermint, Capabilities: map[Capability]bool{
		CapPropose: true, CapVote: true, CapViewChange: true, CapFinalize: true,
	}}
}

// RaftProtocol finalizes on majority ack; it still proposes and votes but
// has no adversarial view-change since Raft leader election is out of this
// engine's scope — callers that need Raft-style leader failover drive it by
// timing out locally, which still routes through the engine's own
// quorum-gated ViewChange vote path like every other flavor.
func RaftProtocol() Protocol {
	return Protocol{Flavor: FlavorRaft, Capabilities: map[Capability]bool{
		CapPropose: true, CapVote: true, CapViewChange: false, CapFinalize: true,
	}}
}

// Config holds the spec's §6 consensus parameters.
type Config struct {
	Protocol             Protocol
	QuorumRatioThousand  uint64
	MaxViewChanges       uint64
	LivenessTimeout      time.Duration
	ProposalQueueSize    int
	VoteQueueSize        int
	LivenessFaultRounds  uint64 // consecutive missed rounds before a liveness fault
}

// DefaultConfig returns the spec's default parameters (quorum_ratio_thousandths
// 667, max_view_changes 10, liveness_timeout_ms 10000).
func DefaultConfig() Config {
	return Config{
		Protocol:            TendermintProtocol(),
		QuorumRatioThousand: 667,
		MaxViewChanges:      10,
		LivenessTimeout:     10 * time.Second,
		ProposalQueueSize:   16,
		VoteQueueSize:       128,
		LivenessFaultRounds: 5,
	}
}

// Broadcaster sends a framed, already-signed message to the rest of the
// validator set. The concrete implementation lives in consensus/transport;
// the engine only depends on this narrow contract, matching the teacher's
// p2p.Broadcaster seam in consensus/bft.Engine.
type Broadcaster interface {
	Broadcast(kind string, payload []byte) error
}

// EpochIncident is logged (never causes a halt) when a height exceeds
// MaxViewChanges, per the Open Question decision that view-change storms are
// an operational signal, not a fatal condition.
type EpochIncident struct {
	Height      uint64
	ViewChanges uint64
	ObservedAt  int64
}

// Outcome is what HandleProposal-triggered processing resolves to from the
// caller's perspective — the engine's error-propagation policy (§7) only
// lets Unrecoverable errors cross the boundary; everything else resolves to
// one of these.
type Outcome byte

const (
	OutcomePending Outcome = iota
	OutcomeApproved
	OutcomeRejected
	OutcomeTimeout
	OutcomeInsufficientVotes
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApproved:
		return "approved"
	case OutcomeRejected:
		return "rejected"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeInsufficientVotes:
		return "insufficient_votes"
	default:
		return "pending"
	}
}

type quorumKey struct {
	height    uint64
	view      uint64
	voteType  types.VoteType
	blockHash [32]byte
}
