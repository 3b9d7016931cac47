package xdomain

import (
	"context"

	"github.com/synclabs/consensuscore/core/types"
)

// Participant is the coordinator's view of one cooperating sync-domain. A
// concrete implementation carries the actual transport (framed TCP via
// consensus/transport, or an in-process test double).
type Participant interface {
	// Prepare asks the participant to validate and tentatively pin payload
	// under txID, returning its vote. A non-nil error is treated the same
	// as ParticipantNotPrepared/ParticipantAborted depending on phase.
	Prepare(ctx context.Context, txID string, payload []byte) (types.ParticipantVote, error)
	// Commit tells the participant to make its pinned state durable.
	Commit(ctx context.Context, txID string) error
	// Abort tells the participant to release any pin taken during Prepare.
	Abort(ctx context.Context, txID string) error
	// Compensate runs a compensating action against a participant that was
	// already told to Commit, as part of a RollbackPlan.
	Compensate(ctx context.Context, txID string, action types.CompensatingAction) error
}

// Registry resolves a ParticipantID to the Participant used to reach it.
// The coordinator takes this as a narrow seam so tests can supply fakes
// without standing up real transport.
type Registry interface {
	Participant(id types.ParticipantID) (Participant, bool)
}

// staticRegistry is the in-memory Registry used by NewStaticRegistry.
type staticRegistry map[types.ParticipantID]Participant

func (r staticRegistry) Participant(id types.ParticipantID) (Participant, bool) {
	p, ok := r[id]
	return p, ok
}

// NewStaticRegistry builds a Registry from a fixed id->Participant map,
// the common case for a coordinator wired at startup from configuration.
func NewStaticRegistry(participants map[types.ParticipantID]Participant) Registry {
	reg := make(staticRegistry, len(participants))
	for id, p := range participants {
		reg[id] = p
	}
	return reg
}
