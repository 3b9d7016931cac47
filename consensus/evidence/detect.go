package evidence

import (
	"bytes"
	"sync"

	"github.com/synclabs/consensuscore/core/types"
)

// Detector watches vote and proposal ingest for the two same-slot-conflict
// faults (Equivocation, DoubleSign) and tracks per-validator round misses
// for LivenessFault. It is meant to sit inline in the engine's single
// ingest path, not behind its own lock contention with the engine state —
// it keeps a narrow map of "first vote/proposal seen this slot" the same
// way the teacher's Engine.addVoteIfRelevant keeps "first vote wins".
type Detector struct {
	mu             sync.Mutex
	firstVote      map[types.VoteKey][]byte // key -> first-seen block hash
	firstProposal  map[proposalKey][]byte
	missedRounds   map[string]uint64
	livenessThresh uint64
}

type proposalKey struct {
	height, view uint64
	proposer     string
}

// NewDetector constructs a Detector. livenessThreshold is the
// policy-configured N consecutive missed rounds that trigger a
// LivenessFault.
func NewDetector(livenessThreshold uint64) *Detector {
	return &Detector{
		firstVote:      make(map[types.VoteKey][]byte),
		firstProposal:  make(map[proposalKey][]byte),
		missedRounds:   make(map[string]uint64),
		livenessThresh: livenessThreshold,
	}
}

// ObserveVote records v and returns Evidence if it equivocates against a
// previously observed vote from the same voter at the same
// (height, view, round, step).
func (d *Detector) ObserveVote(v types.Vote, now int64) (types.Evidence, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := v.Key()
	prior, seen := d.firstVote[key]
	if !seen {
		d.firstVote[key] = append([]byte(nil), v.BlockHash...)
		return types.Evidence{}, false
	}
	if bytes.Equal(prior, v.BlockHash) {
		return types.Evidence{}, false
	}
	return types.Evidence{
		Validator:  v.Voter,
		Kind:       types.EvidenceEquivocation,
		Height:     v.Height,
		View:       v.View,
		ProofBytes: v.CanonicalBytes(),
		ObservedAt: now,
	}, true
}

// ObserveProposal records p and returns Evidence if it double-signs against
// a previously observed proposal from the same proposer at the same
// (height, view).
func (d *Detector) ObserveProposal(p types.Proposal, now int64) (types.Evidence, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := proposalKey{height: p.Height, view: p.View, proposer: string(p.Proposer)}
	prior, seen := d.firstProposal[key]
	if !seen {
		d.firstProposal[key] = append([]byte(nil), p.BlockRef...)
		return types.Evidence{}, false
	}
	if bytes.Equal(prior, p.BlockRef) {
		return types.Evidence{}, false
	}
	return types.Evidence{
		Validator:  p.Proposer,
		Kind:       types.EvidenceDoubleSign,
		Height:     p.Height,
		View:       p.View,
		ProofBytes: p.CanonicalBytes(),
		ObservedAt: now,
	}, true
}

// RecordRoundOutcome tracks whether validatorID participated in the round
// that just concluded; it returns LivenessFault evidence once the
// consecutive-miss counter reaches the configured threshold, then resets
// the counter so a fault is not reported every subsequent round.
func (d *Detector) RecordRoundOutcome(validatorID []byte, height, view uint64, participated bool, now int64) (types.Evidence, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := string(validatorID)
	if participated {
		d.missedRounds[key] = 0
		return types.Evidence{}, false
	}
	d.missedRounds[key]++
	if d.livenessThresh == 0 || d.missedRounds[key] < d.livenessThresh {
		return types.Evidence{}, false
	}
	d.missedRounds[key] = 0
	return types.Evidence{
		Validator:  validatorID,
		Kind:       types.EvidenceLivenessFault,
		Height:     height,
		View:       view,
		ObservedAt: now,
	}, true
}

// ResetSlot forgets per-slot first-seen tracking for a height below which
// the engine has moved on, bounding the Detector's memory to in-flight
// heights only.
func (d *Detector) ResetSlot(height uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for k := range d.firstVote {
		if k.Height <= height {
			delete(d.firstVote, k)
		}
	}
	for k := range d.firstProposal {
		if k.height <= height {
			delete(d.firstProposal, k)
		}
	}
}
