package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/synclabs/consensuscore/consensus/evidence"
	"github.com/synclabs/consensuscore/consensus/forkgraph"
	"github.com/synclabs/consensuscore/consensus/validator"
	"github.com/synclabs/consensuscore/core/errors"
	"github.com/synclabs/consensuscore/core/types"
	"github.com/synclabs/consensuscore/observability/metrics"
)

// Signer produces ed25519 signatures over canonical digests and exposes the
// local validator's identity, matching the shape of crypto.Ed25519PrivateKey
// without importing it directly (keeps the engine's crypto dependency
// narrow and mockable, as the teacher's bft.Engine does with *crypto.PrivateKey).
type Signer interface {
	Sign(digest []byte) []byte
	ValidatorID() string
}

// Verifier checks an ed25519 signature against a canonical digest.
type Verifier func(pubKey, digest, sig []byte) error

// BlockBuilder produces a new block proposal when this node is leader,
// mirroring the teacher's NodeInterface.CreateBlock seam.
type BlockBuilder interface {
	BuildBlock(height, slot uint64, parentHash []byte) (types.Block, error)
}

// quorumState tallies power for one (height, view, vote type, block hash).
type quorumState struct {
	power     *big.Int
	voters    map[string]types.Signature
	formed    bool
	startedAt int64 // ms, set when the first vote for this key arrives
}

// lockState is the locking rule's memory: once Prepare quorum forms for a
// block (and this validator casts PreCommit for it), the engine will not
// cast a conflicting Prepare at a later view unless the conflicting proposal
// carries a JustifyQC at a view at or above the held lock. Checked by
// lockPermits/lockPermitsLocked before a Prepare vote is cast, whether the
// proposal arrived over the network (roundLoop) or is this validator's own
// (propose).
type lockState struct {
	held      bool
	view      uint64
	blockHash [32]byte
}

// Engine is the single-writer-per-height BFT consensus state machine.
// Exactly one goroutine (Run) owns currentHeight/View/Phase and the quorum
// tallies; all other access comes through the bounded proposalCh/voteCh
// queues, mirroring the teacher's consensus/bft.Engine design.
type Engine struct {
	mu sync.RWMutex

	cfg       Config
	validators *validator.Set
	graph     *forkgraph.Graph
	detector  *evidence.Detector
	evStore   *evidence.Store
	builder   BlockBuilder
	signer    Signer
	verify    Verifier
	broadcast Broadcaster
	log       *slog.Logger
	metrics   *metrics.ConsensusMetrics

	height           uint64
	view             uint64
	lastFinalizedAt  int64 // ms, 0 until the first block finalizes

	activeProposal *types.SignedProposal
	lock           lockState

	tallies      map[quorumKey]*quorumState
	viewChangeAt map[uint64]uint64 // height -> number of view changes so far

	baseTimeout time.Duration

	proposalCh chan types.SignedProposal
	voteCh     chan types.SignedVote

	haltCh chan error
	halted bool
}

// New constructs an Engine at the given starting height.
func New(cfg Config, startHeight uint64, validators *validator.Set, graph *forkgraph.Graph, detector *evidence.Detector, evStore *evidence.Store, builder BlockBuilder, signer Signer, verify Verifier, broadcast Broadcaster, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		cfg:          cfg,
		validators:   validators,
		graph:        graph,
		detector:     detector,
		evStore:      evStore,
		builder:      builder,
		signer:       signer,
		verify:       verify,
		broadcast:    broadcast,
		log:          log.With(slog.String("component", "consensus.engine")),
		metrics:      metrics.Consensus(),
		height:       startHeight,
		view:         0,
		tallies:      make(map[quorumKey]*quorumState),
		viewChangeAt: make(map[uint64]uint64),
		baseTimeout:  cfg.LivenessTimeout,
		proposalCh:   make(chan types.SignedProposal, cfg.ProposalQueueSize),
		voteCh:       make(chan types.SignedVote, cfg.VoteQueueSize),
		haltCh:       make(chan error, 1),
	}
}

// Halted signals unrecoverable errors that stopped the engine's owning
// goroutine — the only error class allowed to cross the engine boundary
// per §7's propagation policy.
func (e *Engine) Halted() <-chan error {
	return e.haltCh
}

// HandleProposal validates and enqueues an inbound proposal. Returns
// ErrInvalidSignature/ErrUnauthorizedVoter/ErrExpiredMessage/ErrViewMismatch
// for conditions the caller should drop-and-count rather than retry; a full
// queue rejects the newest message rather than blocking the network reader.
func (e *Engine) HandleProposal(sp types.SignedProposal) error {
	if err := e.verifyProposalSignature(sp); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidSignature, err)
	}
	if _, ok := e.validators.Get(string(sp.Proposal.Proposer)); !ok {
		return errors.ErrUnauthorizedVoter
	}
	now := nowMillis()
	if sp.Proposal.Expired(now) {
		return errors.ErrExpiredMessage
	}
	e.mu.RLock()
	height := e.height
	e.mu.RUnlock()
	if sp.Proposal.Height != height {
		return errors.ErrViewMismatch
	}
	select {
	case e.proposalCh <- sp:
		return nil
	default:
		return fmt.Errorf("consensus: proposal queue full, rejecting newest")
	}
}

// HandleVote validates and enqueues an inbound vote.
func (e *Engine) HandleVote(sv types.SignedVote) error {
	if err := e.verifyVoteSignature(sv); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidSignature, err)
	}
	if !e.validators.IsActive(string(sv.Vote.Voter)) {
		return errors.ErrUnauthorizedVoter
	}
	e.mu.RLock()
	height := e.height
	e.mu.RUnlock()
	if sv.Vote.Height != height {
		// Votes for already-finalized heights are silently dropped
		// (drop-oldest backpressure policy, §5); future heights are kept.
		if sv.Vote.Height < height {
			return nil
		}
	}
	select {
	case e.voteCh <- sv:
		return nil
	default:
		return fmt.Errorf("consensus: vote queue full, rejecting newest")
	}
}

// Run drives the engine's single-writer loop until ctx is cancelled or an
// unrecoverable error halts it. It is meant to be launched in its own
// goroutine by the hosting process.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := e.runHeight(ctx); err != nil {
			if errors.IsUnrecoverable(err) {
				e.mu.Lock()
				e.halted = true
				e.mu.Unlock()
				e.haltCh <- err
				return
			}
			e.log.Warn("height round ended with recoverable error", slog.Any("err", err))
		}
	}
}

func (e *Engine) runHeight(ctx context.Context) error {
	e.mu.Lock()
	height := e.height
	e.view = 0
	e.lock = lockState{}
	e.resetTalliesLocked()
	timeout := e.currentTimeoutLocked()
	e.mu.Unlock()

	for {
		if e.isLeader(height, e.currentView()) {
			proposeCommitted, err := e.propose(height, e.currentView())
			if err != nil {
				e.log.Warn("propose failed", slog.Uint64("height", height), slog.Any("err", err))
			}
			if proposeCommitted {
				e.mu.Lock()
				e.height++
				e.mu.Unlock()
				return nil
			}
		}

		timer := time.NewTimer(timeout)
		committed, err := e.roundLoop(ctx, timer, height)
		timer.Stop()
		if err != nil {
			return err
		}
		if committed {
			e.mu.Lock()
			e.height++
			e.mu.Unlock()
			return nil
		}
		// View change: timeout fired without reaching Commit quorum.
		if err := e.triggerViewChange(height); err != nil {
			return err
		}
		e.mu.Lock()
		timeout = e.currentTimeoutLocked()
		e.mu.Unlock()
	}
}

func (e *Engine) roundLoop(ctx context.Context, timer *time.Timer, height uint64) (committed bool, err error) {
	for {
		select {
		case <-ctx.Done():
			return false, nil
		case <-timer.C:
			return false, nil
		case sp := <-e.proposalCh:
			if sp.Proposal.Height != height || sp.Proposal.View != e.currentView() {
				continue
			}
			if ev, found := e.detector.ObserveProposal(sp.Proposal, nowMillis()); found {
				e.recordEvidence(ev)
			}
			var blockHash [32]byte
			copy(blockHash[:], sp.Proposal.BlockRef)
			if !e.lockPermits(sp.Proposal.View, blockHash, sp.Proposal.JustifyQC) {
				e.log.Warn("rejecting proposal conflicting with held lock",
					slog.Uint64("height", height), slog.Uint64("view", sp.Proposal.View))
				continue
			}
			e.acceptProposal(sp)
			committed, err := e.castVote(types.VotePrepare, sp.Proposal.Height, sp.Proposal.View, sp.Proposal.BlockRef)
			if err != nil {
				e.log.Warn("cast prepare vote failed", slog.Any("err", err))
			}
			if committed {
				return true, nil
			}
		case sv := <-e.voteCh:
			if sv.Vote.Height != height || sv.Vote.View != e.currentView() {
				continue
			}
			if ev, found := e.detector.ObserveVote(sv.Vote, nowMillis()); found {
				e.recordEvidence(ev)
			}
			advanced, done := e.tallyVote(sv)
			if advanced {
				timer.Reset(e.currentTimeoutDuration())
			}
			if done {
				return true, nil
			}
		}
	}
}

// acceptProposal stores the first proposal seen this height/view as active.
func (e *Engine) acceptProposal(sp types.SignedProposal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activeProposal != nil {
		return
	}
	e.activeProposal = &sp
}

// tallyVote records sv's power and, on reaching quorum for the vote's type,
// advances the phase by casting the next vote (PreCommit after Prepare,
// Commit after PreCommit) or finalizing (after Commit). Returns whether the
// phase advanced and whether the height is now committed.
func (e *Engine) tallyVote(sv types.SignedVote) (advanced bool, committed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tallyVoteLocked(sv)
}

// tallyVoteLocked is tallyVote's body, callable from castVoteLocked so that
// the engine's own cast votes cascade through the same quorum checks as
// votes arriving over the network (mirroring the teacher's addVoteIfRelevant
// being reachable from both the network path and the local propose/prevote
// path).
func (e *Engine) tallyVoteLocked(sv types.SignedVote) (advanced bool, committed bool) {
	var blockHash [32]byte
	copy(blockHash[:], sv.Vote.BlockHash)
	key := quorumKey{height: sv.Vote.Height, view: sv.Vote.View, voteType: sv.Vote.Type, blockHash: blockHash}
	state, ok := e.tallies[key]
	if !ok {
		state = &quorumState{power: big.NewInt(0), voters: make(map[string]types.Signature), startedAt: nowMillis()}
		e.tallies[key] = state
	}
	voterID := string(sv.Vote.Voter)
	if _, already := state.voters[voterID]; already {
		return false, false
	}
	power := e.validators.PowerOf(voterID)
	state.voters[voterID] = sv.Signature
	state.power = new(big.Int).Add(state.power, power)

	required := e.validators.RequiredPower()
	if state.power.Cmp(required) < 0 {
		return false, false
	}
	if state.formed {
		return false, false
	}
	state.formed = true
	e.metrics.ObserveQuorumLatency(sv.Vote.Type.String(), float64(nowMillis()-state.startedAt)/1000)

	switch sv.Vote.Type {
	case types.VotePrepare:
		e.lock = lockState{held: true, view: sv.Vote.View, blockHash: blockHash}
		cascaded, err := e.castVoteLocked(types.VotePreCommit, sv.Vote.Height, sv.Vote.View, sv.Vote.BlockHash)
		if err != nil {
			e.log.Warn("cast precommit vote failed", slog.Any("err", err))
		}
		return true, cascaded
	case types.VotePreCommit:
		cascaded, err := e.castVoteLocked(types.VoteCommit, sv.Vote.Height, sv.Vote.View, sv.Vote.BlockHash)
		if err != nil {
			e.log.Warn("cast commit vote failed", slog.Any("err", err))
		}
		return true, cascaded
	case types.VoteCommit:
		qc := e.buildQC(state, sv.Vote.Height, sv.Vote.View, sv.Vote.BlockHash)
		e.finalizeLocked(qc, blockHash)
		return true, true
	case types.VoteViewChange:
		e.advanceViewLocked(sv.Vote.Height)
		return true, false
	}
	return false, false
}

// advanceViewLocked is invoked once a quorum of ViewChange votes forms for
// the current view. It advances to the next view, doubles the liveness
// timeout (exponential backoff per view-change within a height), and clears
// any in-flight proposal so the new leader's proposal starts a clean round.
// Exceeding max_view_changes within a height logs an EpochIncident rather
// than halting the engine, per the accepted design decision that
// view-change storms are an operational signal, not a fatal condition.
func (e *Engine) advanceViewLocked(height uint64) {
	e.view++
	e.viewChangeAt[height]++
	count := e.viewChangeAt[height]
	e.metrics.IncViewChange(string(e.cfg.Protocol.Flavor))
	if count > e.cfg.MaxViewChanges {
		e.log.Warn("max view changes exceeded, logging epoch incident and continuing",
			slog.Uint64("height", height), slog.Uint64("view_changes", count))
	}
	e.activeProposal = nil
}

func (e *Engine) buildQC(state *quorumState, height, view uint64, blockHash []byte) *types.QuorumCertificate {
	sigs := make([]types.AggregatedSignature, 0, len(state.voters))
	ids := make([]string, 0, len(state.voters))
	for id := range state.voters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		sigs = append(sigs, types.AggregatedSignature{ValidatorID: []byte(id), Signature: state.voters[id]})
	}
	return &types.QuorumCertificate{Height: height, View: view, BlockHash: blockHash, Signatures: sigs}
}

// lockPermits reports whether the engine may vote for blockHash at view,
// given any lock taken when a Prepare quorum formed: the same block is
// always permitted, a lower-or-equal view is never permitted (it cannot be a
// later proposal), and a strictly higher view is permitted only when
// justifyQC itself attests to a view at or above the held lock — the §4.3
// locking rule that keeps two conflicting blocks from both committing at one
// height.
func (e *Engine) lockPermits(view uint64, blockHash [32]byte, justifyQC *types.QuorumCertificate) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lockPermitsLocked(view, blockHash, justifyQC)
}

func (e *Engine) lockPermitsLocked(view uint64, blockHash [32]byte, justifyQC *types.QuorumCertificate) bool {
	if !e.lock.held || blockHash == e.lock.blockHash {
		return true
	}
	if view <= e.lock.view {
		return false
	}
	return justifyQC != nil && justifyQC.View >= e.lock.view
}

func (e *Engine) finalizeLocked(qc *types.QuorumCertificate, blockHash [32]byte) {
	if e.activeProposal == nil {
		return
	}
	if err := e.graph.RecordQC(blockHash, qc); err != nil {
		e.log.Warn("record QC on fork graph failed", slog.Any("err", err))
		return
	}
	if e.cfg.Protocol.Flavor == FlavorStreamlet {
		// Streamlet finalizes the earlier of two consecutive notarized
		// blocks: blockHash just notarized, which can newly satisfy either
		// blockHash itself (if its own parent was already notarized) or its
		// parent (if blockHash is the second of the pair), so try both.
		e.tryFinalizeLocked(blockHash, forkgraph.RuleStreamlet)
		if parentHash, ok := e.graph.ParentOf(blockHash); ok {
			e.tryFinalizeLocked(parentHash, forkgraph.RuleStreamlet)
		}
		return
	}
	// Tendermint (default) and Raft: reaching Commit-quorum for B is itself
	// the proof of finality — the FSM's "Precommit-quorum for B -> Commit
	// (finalize B)" transition (§4.3) finalizes B directly rather than
	// waiting for a later child block to notarize, matching the happy-path
	// scenario (a single round finalizes height 1 and advances straight to
	// height 2) and the teacher's immediate e.commit() pattern.
	e.tryFinalizeLocked(blockHash, forkgraph.RuleRaftMajority)
}

func (e *Engine) tryFinalizeLocked(blockHash [32]byte, rule forkgraph.FinalityRule) {
	cert, ok := e.graph.TryFinalize(blockHash, rule)
	if !ok {
		return
	}
	e.log.Info("block finalized", slog.Uint64("height", cert.Height))
	now := nowMillis()
	if e.lastFinalizedAt > 0 {
		e.metrics.ObserveBlockInterval(float64(now-e.lastFinalizedAt) / 1000)
	}
	e.lastFinalizedAt = now
}

// recordEvidence stages detected evidence in the evidence store for later
// verification and adjudication (§4.5).
func (e *Engine) recordEvidence(ev types.Evidence) {
	e.evStore.Put(ev, nowMillis())
}

// castVote builds, signs, tallies (as our own vote), and broadcasts a vote
// of the given type. The returned bool reports whether this cast's
// cascading quorum checks finalized the height.
func (e *Engine) castVote(voteType types.VoteType, height, view uint64, blockHash []byte) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.castVoteLocked(voteType, height, view, blockHash)
}

func (e *Engine) castVoteLocked(voteType types.VoteType, height, view uint64, blockHash []byte) (bool, error) {
	vote := types.Vote{
		Voter:      []byte(e.signer.ValidatorID()),
		Height:     height,
		View:       view,
		Type:       voteType,
		BlockHash:  blockHash,
		Approve:    true,
		Timestamp:  nowMillis(),
	}
	digest := vote.Hash()
	sig := types.Signature{Scheme: types.SchemeEd25519, Bytes: e.signer.Sign(digest[:])}
	signed := types.SignedVote{Vote: vote, Signature: sig}

	payload := encodeSignedVote(signed)
	if e.broadcast != nil {
		if err := e.broadcast.Broadcast("vote", payload); err != nil {
			e.log.Warn("broadcast vote failed", slog.Any("err", err))
		}
	}
	// Tally our own vote through the same quorum path votes received over
	// the network take, so reaching quorum unaided (e.g. this validator
	// alone holds >= required_power) cascades into the next phase exactly
	// as it would if the vote had arrived on voteCh.
	_, committed := e.tallyVoteLocked(signed)
	return committed, nil
}

// propose builds and broadcasts a new proposal when this node is the
// leader for (height, view). The returned bool reports whether the engine's
// own cascading Prepare vote immediately finalized the height (possible
// when this validator alone already holds required_power).
func (e *Engine) propose(height, view uint64) (bool, error) {
	parent := e.graph.BestFork()
	block, err := e.builder.BuildBlock(height, height, parent[:])
	if err != nil {
		return false, fmt.Errorf("build block: %w", err)
	}
	block.Header.View = view
	if _, err := e.graph.Insert(block); err != nil && !stderrors.Is(err, errors.ErrUnknownParent) {
		return false, fmt.Errorf("insert proposed block: %w", err)
	}
	blockHash := block.Header.Hash()
	proposal := types.Proposal{
		ProposalID: blockHash[:],
		Proposer:   []byte(e.signer.ValidatorID()),
		Height:     height,
		View:       view,
		ParentHash: block.Header.ParentHash,
		BlockRef:   blockHash[:],
		PayloadTag: types.PayloadBlock,
		ExpiresAt:  nowMillis() + e.cfg.LivenessTimeout.Milliseconds(),
		Timestamp:  nowMillis(),
	}
	digest := proposal.Hash()
	sig := types.Signature{Scheme: types.SchemeEd25519, Bytes: e.signer.Sign(digest[:])}
	signed := types.SignedProposal{Proposal: proposal, Signature: sig}
	if !e.lockPermits(view, blockHash, proposal.JustifyQC) {
		e.log.Warn("suppressing own proposal conflicting with held lock",
			slog.Uint64("height", height), slog.Uint64("view", view))
		return false, nil
	}
	e.acceptProposal(signed)
	if e.broadcast != nil {
		if err := e.broadcast.Broadcast("proposal", encodeSignedProposal(signed)); err != nil {
			return false, fmt.Errorf("broadcast proposal: %w", err)
		}
	}
	return e.castVote(types.VotePrepare, height, view, blockHash[:])
}

// triggerViewChange casts this validator's ViewChange vote for the current
// view on local timeout. The shared view only actually advances once a
// quorum of ViewChange votes forms (handled in tallyVoteLocked), matching
// the spec's quorum-gated view-change rather than a unilateral per-node
// advance.
func (e *Engine) triggerViewChange(height uint64) error {
	view := e.currentView()
	if _, err := e.castVote(types.VoteViewChange, height, view, nil); err != nil {
		return fmt.Errorf("cast view-change vote: %w", err)
	}
	return nil
}

func (e *Engine) currentView() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.view
}

func (e *Engine) currentTimeoutLocked() time.Duration {
	changes := e.viewChangeAt[e.height]
	d := e.baseTimeout
	for i := uint64(0); i < changes; i++ {
		d *= 2
	}
	return d
}

func (e *Engine) currentTimeoutDuration() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentTimeoutLocked()
}

func (e *Engine) resetTalliesLocked() {
	e.tallies = make(map[quorumKey]*quorumState)
	e.activeProposal = nil
}

// isLeader computes leader(height,view) = validators_sorted_by_id[(height+view) mod |Active|].
func (e *Engine) isLeader(height, view uint64) bool {
	ids := e.validators.ActiveIDs()
	if len(ids) == 0 {
		return false
	}
	sort.Strings(ids)
	idx := (height + view) % uint64(len(ids))
	return ids[idx] == e.signer.ValidatorID()
}

func (e *Engine) verifyProposalSignature(sp types.SignedProposal) error {
	v, ok := e.validators.Get(string(sp.Proposal.Proposer))
	if !ok {
		return errors.ErrUnauthorizedVoter
	}
	digest := sp.Proposal.Hash()
	return e.verify(v.PublicKey, digest[:], sp.Signature.Bytes)
}

func (e *Engine) verifyVoteSignature(sv types.SignedVote) error {
	v, ok := e.validators.Get(string(sv.Vote.Voter))
	if !ok {
		return errors.ErrUnauthorizedVoter
	}
	digest := sv.Vote.Hash()
	return e.verify(v.PublicKey, digest[:], sv.Signature.Bytes)
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
