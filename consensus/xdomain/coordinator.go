package xdomain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	coreerrors "github.com/synclabs/consensuscore/core/errors"
	"github.com/synclabs/consensuscore/core/types"
	"github.com/synclabs/consensuscore/observability/metrics"
)

const (
	retryBaseDelay = 50 * time.Millisecond
	retryMaxDelay  = 2 * time.Second
)

// session is a coordinator's in-memory bookkeeping for one TwoPhaseCommit,
// paired with whatever RollbackPlan it needed.
type session struct {
	tx   *types.TwoPhaseCommit
	plan *types.RollbackPlan
}

// Coordinator drives Prepare/Commit/Abort sessions across a set of
// participant sync-domains, one session per transaction id, and runs
// compensating rollback when a commit cannot be completed end to end.
//
// Sessions are looked up and mutated under a single mutex (single-writer,
// many-reader per the shared-resource policy), matching the locking idiom
// of consensus/validator.Set and consensus/forkgraph.Graph.
type Coordinator struct {
	mu       sync.Mutex
	cfg      Config
	coordID  string
	registry Registry
	sessions map[string]*session
	log      *slog.Logger
	metrics  *metrics.ConsensusMetrics
}

// NewCoordinator builds a Coordinator identified as coordID (carried as
// TwoPhaseCommit.Coordinator) resolving participants through registry.
func NewCoordinator(cfg Config, coordID string, registry Registry, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		cfg:      cfg,
		coordID:  coordID,
		registry: registry,
		sessions: make(map[string]*session),
		log:      log.With(slog.String("component", "consensus.xdomain")),
		metrics:  metrics.Consensus(),
	}
}

// Get returns the current state of a session, if known.
func (c *Coordinator) Get(txID string) (*types.TwoPhaseCommit, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[txID]
	if !ok {
		return nil, false
	}
	return s.tx, true
}

// Pending returns every session not yet in a terminal phase (Completed or
// Abort), in no particular order.
func (c *Coordinator) Pending() []*types.TwoPhaseCommit {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.TwoPhaseCommit, 0, len(c.sessions))
	for _, s := range c.sessions {
		if s.tx.Phase != types.XPhaseCompleted && s.tx.Phase != types.XPhaseAbort {
			out = append(out, s.tx)
		}
	}
	return out
}

// RollbackPlan returns the compensating-action plan for txID, if the
// session ever entered rollback.
func (c *Coordinator) RollbackPlan(txID string) (*types.RollbackPlan, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[txID]
	if !ok || s.plan == nil {
		return nil, false
	}
	return s.plan, true
}

// Restore re-registers a session recovered from persisted state (the
// `2pc/<tx_id>` keyspace) after a restart, without re-running Prepare. A
// session restored mid-Commit or mid-RolledBack should be handed to Resume
// so the coordinator finishes driving it.
func (c *Coordinator) Restore(tx *types.TwoPhaseCommit, plan *types.RollbackPlan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[tx.TxID] = &session{tx: tx, plan: plan}
}

// Resume continues a restored, non-terminal session from whatever phase it
// was left in, re-driving Commit fan-out or rollback as needed. Calling
// Resume on an already-terminal session is a no-op.
func (c *Coordinator) Resume(ctx context.Context, txID string) error {
	c.mu.Lock()
	s, ok := c.sessions[txID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("xdomain: resume %s: %w", txID, coreerrors.ErrSessionNotFound)
	}

	c.mu.Lock()
	phase := s.tx.Phase
	c.mu.Unlock()

	switch phase {
	case types.XPhaseCompleted, types.XPhaseAbort:
		return nil
	case types.XPhasePrepare:
		c.runAbort(ctx, s)
		return nil
	case types.XPhaseCommit:
		c.resumeCommit(ctx, s)
		return nil
	case types.XPhaseRolledBack:
		c.resumeRollback(ctx, s)
		return nil
	default:
		return fmt.Errorf("xdomain: resume %s: unknown phase %s", txID, phase)
	}
}

// resumeCommit retries Commit only against participants not already
// confirmed Committed, then applies the same completed/rollback decision
// runCommit's tail makes.
func (c *Coordinator) resumeCommit(ctx context.Context, s *session) {
	c.mu.Lock()
	var pending, committed []types.ParticipantID
	for _, id := range s.tx.Participants {
		if s.tx.Votes[id] == types.ParticipantCommitted {
			committed = append(committed, id)
		} else {
			pending = append(pending, id)
		}
	}
	c.mu.Unlock()

	commitCtx, cancel := context.WithTimeout(ctx, c.cfg.SettlementTimeout)
	defer cancel()

	var failed []types.ParticipantID
	results := c.fanOut(commitCtx, pending, func(pctx context.Context, id types.ParticipantID, p Participant) error {
		err := c.callWithRetries(pctx, func(attemptCtx context.Context) error {
			return p.Commit(attemptCtx, s.tx.TxID)
		})
		c.mu.Lock()
		if err != nil {
			s.tx.Votes[id] = types.ParticipantAborted
		} else {
			s.tx.Votes[id] = types.ParticipantCommitted
		}
		c.mu.Unlock()
		return err
	})
	for id, err := range results {
		if err != nil {
			failed = append(failed, id)
			c.log.Warn("resumed commit failed", slog.String("tx_id", s.tx.TxID), slog.String("participant", string(id)), slog.Any("err", err))
			continue
		}
		committed = append(committed, id)
	}

	if len(failed) == 0 {
		c.mu.Lock()
		s.tx.Phase = types.XPhaseCompleted
		c.mu.Unlock()
		c.metrics.IncTwoPCOutcome("committed")
		return
	}
	c.runRollback(ctx, s, committed)
}

// resumeRollback re-drives whatever compensating steps a previously
// recorded RollbackPlan left Pending.
func (c *Coordinator) resumeRollback(ctx context.Context, s *session) {
	c.mu.Lock()
	plan := s.plan
	c.mu.Unlock()
	if plan == nil || len(plan.Steps) == 0 {
		return
	}

	deadline := time.Unix(plan.Steps[0].TimeoutAt, 0)
	for _, st := range plan.Steps {
		if t := time.Unix(st.TimeoutAt, 0); t.After(deadline) {
			deadline = t
		}
	}
	rollbackCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	for i := range plan.Steps {
		step := &plan.Steps[i]
		if step.Done {
			continue
		}
		p, ok := c.registry.Participant(step.Participant)
		if !ok {
			c.log.Warn("rollback participant unknown", slog.String("tx_id", s.tx.TxID), slog.String("participant", string(step.Participant)))
			continue
		}
		err := c.callWithRetries(rollbackCtx, func(attemptCtx context.Context) error {
			return p.Compensate(attemptCtx, s.tx.TxID, step.Action)
		})
		c.mu.Lock()
		if err == nil {
			step.Done = true
		} else {
			c.log.Warn("compensating action failed", slog.String("tx_id", s.tx.TxID), slog.String("participant", string(step.Participant)), slog.Any("err", err))
		}
		c.mu.Unlock()
	}
}

// Begin starts a new 2PC session for txID across participants, driving it
// through Prepare and then either Commit or Abort before returning. The
// returned TwoPhaseCommit reflects the session's terminal (or, for a
// rollback-in-progress session, its RolledBack) phase.
func (c *Coordinator) Begin(ctx context.Context, txID string, participants []types.ParticipantID, payload []byte) (*types.TwoPhaseCommit, error) {
	c.mu.Lock()
	if _, exists := c.sessions[txID]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("xdomain: tx %s: %w", txID, coreerrors.ErrSessionTerminal)
	}
	now := time.Now()
	tx := &types.TwoPhaseCommit{
		TxID:         txID,
		Coordinator:  c.coordID,
		Participants: append([]types.ParticipantID(nil), participants...),
		Phase:        types.XPhasePrepare,
		Votes:        make(map[types.ParticipantID]types.ParticipantVote, len(participants)),
		CreatedAt:    now.Unix(),
		TimeoutAt:    now.Add(c.cfg.CoordinationTimeout).Unix(),
	}
	s := &session{tx: tx}
	c.sessions[txID] = s
	c.mu.Unlock()

	c.runPrepare(ctx, s, payload)
	return s.tx, nil
}

// runPrepare fans Prepare out to every participant in batches of
// cfg.BatchSize, bounded by CoordinationTimeout, then decides Commit or
// Abort and drives that phase to completion.
func (c *Coordinator) runPrepare(ctx context.Context, s *session, payload []byte) {
	prepCtx, cancel := context.WithTimeout(ctx, c.cfg.CoordinationTimeout)
	defer cancel()

	votes := c.fanOut(prepCtx, s.tx.Participants, func(pctx context.Context, id types.ParticipantID, p Participant) error {
		vote, err := p.Prepare(pctx, s.tx.TxID, payload)
		c.mu.Lock()
		if err != nil {
			s.tx.Votes[id] = types.ParticipantNotPrepared
		} else {
			s.tx.Votes[id] = vote
		}
		c.mu.Unlock()
		return err
	})
	for id, err := range votes {
		if err != nil {
			c.log.Warn("prepare failed", slog.String("tx_id", s.tx.TxID), slog.String("participant", string(id)), slog.Any("err", err))
		}
	}

	c.mu.Lock()
	allPrepared := s.tx.AllPrepared()
	c.mu.Unlock()

	if allPrepared {
		c.runCommit(ctx, s)
		return
	}
	c.runAbort(ctx, s)
}

// runCommit moves a fully-Prepared session to Commit and fans Commit out to
// every participant. A participant that fails to commit triggers a
// RollbackPlan against whichever participants already committed, since the
// invariant "no participant is Committed without a corresponding Commit
// broadcast" has already been satisfied by the time any one commit fails.
func (c *Coordinator) runCommit(ctx context.Context, s *session) {
	c.mu.Lock()
	s.tx.Phase = types.XPhaseCommit
	c.mu.Unlock()

	commitCtx, cancel := context.WithTimeout(ctx, c.cfg.SettlementTimeout)
	defer cancel()

	results := c.fanOut(commitCtx, s.tx.Participants, func(pctx context.Context, id types.ParticipantID, p Participant) error {
		err := c.callWithRetries(pctx, func(attemptCtx context.Context) error {
			return p.Commit(attemptCtx, s.tx.TxID)
		})
		c.mu.Lock()
		if err != nil {
			s.tx.Votes[id] = types.ParticipantAborted
		} else {
			s.tx.Votes[id] = types.ParticipantCommitted
		}
		c.mu.Unlock()
		return err
	})

	var failed []types.ParticipantID
	var committed []types.ParticipantID
	for id, err := range results {
		if err != nil {
			failed = append(failed, id)
			c.log.Warn("commit failed", slog.String("tx_id", s.tx.TxID), slog.String("participant", string(id)), slog.Any("err", err))
			continue
		}
		committed = append(committed, id)
	}

	if len(failed) == 0 {
		c.mu.Lock()
		s.tx.Phase = types.XPhaseCompleted
		c.mu.Unlock()
		c.metrics.IncTwoPCOutcome("committed")
		return
	}

	c.runRollback(ctx, s, committed)
}

// runAbort fans Abort out to every participant, best-effort: a participant
// that cannot be reached for Abort released nothing it shouldn't have,
// since it never received Commit. The session still lands in Abort, since
// no Abort decision is ever undone.
func (c *Coordinator) runAbort(ctx context.Context, s *session) {
	c.mu.Lock()
	s.tx.Phase = types.XPhaseAbort
	c.mu.Unlock()
	c.metrics.IncTwoPCOutcome("aborted")

	abortCtx, cancel := context.WithTimeout(ctx, c.cfg.SettlementTimeout)
	defer cancel()

	results := c.fanOut(abortCtx, s.tx.Participants, func(pctx context.Context, id types.ParticipantID, p Participant) error {
		return p.Abort(pctx, s.tx.TxID)
	})
	for id, err := range results {
		if err != nil {
			c.log.Warn("abort notification failed", slog.String("tx_id", s.tx.TxID), slog.String("participant", string(id)), slog.Any("err", err))
		}
	}
}

// runRollback builds a RollbackPlan covering every already-committed
// participant and drives each step's compensating action, retrying up to
// cfg.MaxRetries before giving up on that step (left Pending for a later
// retry by an operator or a resumed coordinator).
func (c *Coordinator) runRollback(ctx context.Context, s *session, committed []types.ParticipantID) {
	deadline := time.Now().Add(c.cfg.RollbackTimeout)
	steps := make([]types.RollbackStep, 0, len(committed))
	for _, id := range committed {
		steps = append(steps, types.RollbackStep{
			Participant: id,
			Action:      ActionForParticipant(id),
			TimeoutAt:   deadline.Unix(),
		})
	}
	plan := &types.RollbackPlan{TxID: s.tx.TxID, Steps: steps}

	c.mu.Lock()
	s.plan = plan
	s.tx.Phase = types.XPhaseRolledBack
	c.mu.Unlock()
	c.metrics.IncTwoPCOutcome("rolled_back")

	rollbackCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	for i := range plan.Steps {
		step := &plan.Steps[i]
		p, ok := c.registry.Participant(step.Participant)
		if !ok {
			c.log.Warn("rollback participant unknown", slog.String("tx_id", s.tx.TxID), slog.String("participant", string(step.Participant)))
			continue
		}
		err := c.callWithRetries(rollbackCtx, func(attemptCtx context.Context) error {
			return p.Compensate(attemptCtx, s.tx.TxID, step.Action)
		})
		c.mu.Lock()
		if err == nil {
			step.Done = true
		} else {
			c.log.Warn("compensating action failed", slog.String("tx_id", s.tx.TxID), slog.String("participant", string(step.Participant)), slog.Any("err", err))
		}
		c.mu.Unlock()
	}
}

// ActionForParticipant picks the compensating action a rollback issues for
// a given participant. Every participant in this module reverses via a
// plain transaction reversal; a coordinator wired against richer domains
// can post-process the RollbackPlan returned from Begin/RollbackPlan to
// substitute CompensateTransaction/RestoreState/CancelOperation per
// participant kind before executing it.
func ActionForParticipant(types.ParticipantID) types.CompensatingAction {
	return types.ActionReverseTransaction
}

// fanOut runs fn concurrently for each participant, chunked into batches of
// cfg.BatchSize to bound simultaneous outbound connections, and collects
// each participant's resulting error.
func (c *Coordinator) fanOut(ctx context.Context, participants []types.ParticipantID, fn func(context.Context, types.ParticipantID, Participant) error) map[types.ParticipantID]error {
	results := make(map[types.ParticipantID]error, len(participants))
	var resultsMu sync.Mutex

	batchSize := c.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = len(participants)
	}
	if batchSize <= 0 {
		return results
	}

	for start := 0; start < len(participants); start += batchSize {
		end := start + batchSize
		if end > len(participants) {
			end = len(participants)
		}
		batch := participants[start:end]

		var wg sync.WaitGroup
		for _, id := range batch {
			id := id
			p, ok := c.registry.Participant(id)
			if !ok {
				resultsMu.Lock()
				results[id] = fmt.Errorf("xdomain: participant %s not registered", id)
				resultsMu.Unlock()
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := fn(ctx, id, p)
				resultsMu.Lock()
				results[id] = err
				resultsMu.Unlock()
			}()
		}
		wg.Wait()
	}
	return results
}

// callWithRetries retries fn up to cfg.MaxRetries times with exponential
// backoff, matching the teacher's outbound-broadcast retry shape in
// cmd/consensusd/resilient_broadcaster.go.
func (c *Coordinator) callWithRetries(ctx context.Context, fn func(context.Context) error) error {
	delay := retryBaseDelay
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == c.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
	return lastErr
}
