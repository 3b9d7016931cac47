// Package errors collects the sentinel error values the consensus core
// classifies messages and operations against. Callers use errors.Is against
// these sentinels; components that need extra context wrap one of them with
// fmt.Errorf("...: %w", ErrX) rather than inventing a parallel error string.
package errors

import "errors"

// Validator set errors (§4.1).
var (
	ErrInsufficientBond   = errors.New("consensus: self bond below minimum")
	ErrBelowMinDelegation = errors.New("consensus: delegation below minimum")
	ErrUnknownValidator   = errors.New("consensus: unknown validator id")
	ErrValidatorExists    = errors.New("consensus: validator already present")
	ErrUnbondingPending   = errors.New("consensus: unbonding period has not elapsed")
)

// Proposal & vote protocol errors (§4.2).
var (
	ErrInvalidProposal    = errors.New("consensus: invalid proposal")
	ErrInvalidSignature   = errors.New("consensus: invalid signature")
	ErrUnauthorizedVoter  = errors.New("consensus: voter not in active validator set")
	ErrViewMismatch       = errors.New("consensus: vote does not match current height/view")
	ErrExpiredMessage     = errors.New("consensus: message expired")
	ErrEnvelopeMismatch   = errors.New("consensus: envelope sender does not match payload author")
)

// Engine errors (§4.3, §7). QuorumNotMet is informational, not a failure —
// the engine keeps collecting votes — so it is exported as a sentinel
// purely so callers can name it in logs/metrics, not to imply a failure.
var (
	ErrQuorumNotMet       = errors.New("consensus: quorum not yet met")
	ErrEquivocationFound  = errors.New("consensus: equivocation evidence detected")
	ErrDoubleSignFound    = errors.New("consensus: double-sign evidence detected")
	ErrTimeoutExpired     = errors.New("consensus: timeout expired")
	ErrEngineHalted       = errors.New("consensus: engine halted on unrecoverable error")
)

// Fork graph & finality errors (§4.4).
var (
	ErrUnknownParent   = errors.New("consensus: parent block not present in fork graph")
	ErrBlockNotFound   = errors.New("consensus: block not found")
	ErrAlreadyFinal    = errors.New("consensus: conflicting finality certificate already recorded")
)

// Evidence & slashing errors (§4.5).
var (
	ErrEvidenceTooOld     = errors.New("consensus: evidence exceeds max age")
	ErrEvidenceFromFuture = errors.New("consensus: evidence references a future height")
	ErrEvidenceInvalid    = errors.New("consensus: evidence failed verification")
	ErrEvidenceDuplicate  = errors.New("consensus: evidence already processed")
)

// Cross-domain 2PC errors (§4.6).
var (
	ErrSessionNotFound  = errors.New("consensus: 2pc session not found")
	ErrSessionTerminal  = errors.New("consensus: 2pc session already terminal")
	ErrParticipantVoted = errors.New("consensus: participant already voted this phase")
)

// Unrecoverable errors (§7). These halt the engine's owning goroutine and
// are surfaced via Engine.Halted(); every other error in this package stays
// within the engine and only affects the current height's progress.
var (
	ErrStorageFailure = errors.New("consensus: storage failure")
	ErrKeyUnavailable = errors.New("consensus: signing key unavailable")
)

// ValidationError wraps a sentinel with message-specific context, mirroring
// the evidence package's pattern of carrying a reason alongside a
// classification the caller can still match with errors.Is.
type ValidationError struct {
	Err    error
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + e.Reason
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError builds a ValidationError classified under sentinel err
// with the given human-readable reason.
func NewValidationError(err error, reason string) *ValidationError {
	return &ValidationError{Err: err, Reason: reason}
}

// IsUnrecoverable reports whether err classifies as one of the unrecoverable
// kinds that must halt the engine.
func IsUnrecoverable(err error) bool {
	return errors.Is(err, ErrStorageFailure) || errors.Is(err, ErrKeyUnavailable)
}
