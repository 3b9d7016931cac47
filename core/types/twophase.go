package types

// XPhase names where a TwoPhaseCommit session currently stands.
type XPhase byte

const (
	XPhasePrepare XPhase = iota
	XPhaseCommit
	XPhaseAbort
	XPhaseCompleted
	// XPhaseRolledBack is reached when a Commit was broadcast but a
	// participant later reported Aborted or Failed, forcing the coordinator
	// to run compensating actions against the already-committed
	// participants.
	XPhaseRolledBack
)

// String renders the phase name for logs and metrics labels.
func (p XPhase) String() string {
	switch p {
	case XPhasePrepare:
		return "prepare"
	case XPhaseCommit:
		return "commit"
	case XPhaseAbort:
		return "abort"
	case XPhaseCompleted:
		return "completed"
	case XPhaseRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// ParticipantVote is a participant domain's reply during a 2PC round.
type ParticipantVote byte

const (
	ParticipantPending ParticipantVote = iota
	ParticipantPrepared
	ParticipantNotPrepared
	ParticipantCommitted
	ParticipantAborted
)

// String renders the participant vote for logs.
func (v ParticipantVote) String() string {
	switch v {
	case ParticipantPending:
		return "pending"
	case ParticipantPrepared:
		return "prepared"
	case ParticipantNotPrepared:
		return "not_prepared"
	case ParticipantCommitted:
		return "committed"
	case ParticipantAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// ParticipantID names a cooperating sync-domain participating in a 2PC
// session.
type ParticipantID string

// TwoPhaseCommit tracks one cross-domain atomic-commit session.
type TwoPhaseCommit struct {
	TxID         string
	Coordinator  string
	Participants []ParticipantID
	Phase        XPhase
	Votes        map[ParticipantID]ParticipantVote
	CreatedAt    int64
	TimeoutAt    int64
}

// AllPrepared reports whether every participant has replied Prepared.
func (t *TwoPhaseCommit) AllPrepared() bool {
	if len(t.Votes) < len(t.Participants) {
		return false
	}
	for _, p := range t.Participants {
		if t.Votes[p] != ParticipantPrepared {
			return false
		}
	}
	return true
}

// AnyNotPrepared reports whether at least one participant replied
// NotPrepared.
func (t *TwoPhaseCommit) AnyNotPrepared() bool {
	for _, p := range t.Participants {
		if t.Votes[p] == ParticipantNotPrepared {
			return true
		}
	}
	return false
}

// CompensatingAction names the kind of rollback action a coordinator issues
// against an already-committed participant when a later participant
// reports failure.
type CompensatingAction byte

const (
	ActionReverseTransaction CompensatingAction = iota
	ActionCompensateTransaction
	ActionRestoreState
	ActionCancelOperation
)

// String renders the compensating action for logs.
func (a CompensatingAction) String() string {
	switch a {
	case ActionReverseTransaction:
		return "reverse_transaction"
	case ActionCompensateTransaction:
		return "compensate_transaction"
	case ActionRestoreState:
		return "restore_state"
	case ActionCancelOperation:
		return "cancel_operation"
	default:
		return "unknown"
	}
}

// RollbackStep is one compensating action targeting a single participant,
// with its own timeout independent of the session's overall rollback
// timeout.
type RollbackStep struct {
	Participant ParticipantID
	Action      CompensatingAction
	TimeoutAt   int64
	Done        bool
}

// RollbackPlan is the set of compensating actions a coordinator drives when
// a Commit was broadcast but the session cannot reach Completed.
type RollbackPlan struct {
	TxID  string
	Steps []RollbackStep
}

// Pending returns the steps not yet marked done, in plan order.
func (p *RollbackPlan) Pending() []RollbackStep {
	var out []RollbackStep
	for _, s := range p.Steps {
		if !s.Done {
			out = append(out, s)
		}
	}
	return out
}
