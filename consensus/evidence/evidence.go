// Package evidence implements fault detection, staging and verification for
// the three kinds this module adjudicates: Equivocation, DoubleSign and
// LivenessFault. It generalizes the teacher's consensus/potso/evidence
// package (Downtime/Equivocation/InvalidBlockProposal, string-typed) to the
// spec's three kinds, keeping the same Pending→Verified pipeline shape and
// canonical-hash dedup.
package evidence

import (
	"fmt"
	"sync"
	"time"

	"github.com/synclabs/consensuscore/core/types"
	"github.com/synclabs/consensuscore/observability/metrics"
)

// Status names where an Evidence record sits in the adjudication pipeline.
type Status byte

const (
	StatusPending Status = iota
	StatusVerified
	StatusRejected
	StatusAdjudicated
)

// String renders the status for logs.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusVerified:
		return "verified"
	case StatusRejected:
		return "rejected"
	case StatusAdjudicated:
		return "adjudicated"
	default:
		return "unknown"
	}
}

// MaxAgeSeconds is the default verification age bound (14 days, §4.5).
const MaxAgeSeconds int64 = 14 * 24 * 3600

// RetentionSeconds is the minimum retention for verified evidence before
// pruning (≥30 days, §4.5).
const RetentionSeconds int64 = 30 * 24 * 3600

// Record tracks one piece of evidence through its lifecycle.
type Record struct {
	Evidence   types.Evidence
	Status     Status
	ReceivedAt int64
	VerifiedAt int64
}

// Hash returns the record's dedup/idempotency key.
func (r *Record) Hash() [32]byte {
	return r.Evidence.Hash()
}

// SignatureVerifier checks a reporter's signature over an evidence digest;
// it is an interface (rather than a concrete dual-scheme dependency here)
// so the store stays independent of the crypto package, matching the
// teacher's verify.go taking a pluggable recover function.
type SignatureVerifier func(digest []byte, sig types.Signature, expectedReporter []byte) error

// HeightKnown reports whether height has been observed in the fork graph,
// matching the teacher's HeightLookup hook.
type HeightKnown func(height uint64) bool

// Store persists evidence records and answers idempotency/listing queries.
// Single writer under mu, many readers, same discipline as the teacher's
// potso/evidence.Store.
type Store struct {
	mu      sync.RWMutex
	records map[[32]byte]*Record
	order   [][32]byte
	metrics *metrics.ConsensusMetrics
}

// NewStore constructs an empty evidence store.
func NewStore() *Store {
	return &Store{records: make(map[[32]byte]*Record), metrics: metrics.Consensus()}
}

// Put inserts ev if not already present, returning the stored record and
// whether this call actually inserted it (false means idempotent replay).
func (s *Store) Put(ev types.Evidence, receivedAt int64) (*Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hash := ev.Hash()
	if existing, ok := s.records[hash]; ok {
		return existing, false
	}
	rec := &Record{Evidence: ev, Status: StatusPending, ReceivedAt: receivedAt}
	s.records[hash] = rec
	s.order = append(s.order, hash)
	s.metrics.IncEvidenceAccepted(ev.Kind.String())
	return rec, true
}

// MarkVerified promotes a pending record to Verified.
func (s *Store) MarkVerified(hash [32]byte, now int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[hash]
	if !ok {
		return fmt.Errorf("evidence: unknown record %x", hash)
	}
	rec.Status = StatusVerified
	rec.VerifiedAt = now
	return nil
}

// MarkRejected records that a pending record failed verification.
func (s *Store) MarkRejected(hash [32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[hash]
	if !ok {
		return fmt.Errorf("evidence: unknown record %x", hash)
	}
	rec.Status = StatusRejected
	return nil
}

// MarkAdjudicated records that a verified record has been adjudicated
// (slashing applied).
func (s *Store) MarkAdjudicated(hash [32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[hash]
	if !ok {
		return fmt.Errorf("evidence: unknown record %x", hash)
	}
	rec.Status = StatusAdjudicated
	return nil
}

// Get returns the stored record for hash.
func (s *Store) Get(hash [32]byte) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[hash]
	return rec, ok
}

// Pending returns all Pending records, oldest first.
func (s *Store) Pending() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Record
	for _, h := range s.order {
		if rec := s.records[h]; rec.Status == StatusPending {
			out = append(out, rec)
		}
	}
	return out
}

// Prune removes Verified/Adjudicated/Rejected records older than
// RetentionSeconds relative to now, returning how many were pruned.
func (s *Store) Prune(now int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	pruned := 0
	kept := s.order[:0]
	for _, h := range s.order {
		rec := s.records[h]
		if rec.Status != StatusPending && now-rec.ReceivedAt > RetentionSeconds {
			delete(s.records, h)
			pruned++
			continue
		}
		kept = append(kept, h)
	}
	s.order = kept
	return pruned
}

// Validate re-checks an Evidence record's signature and temporal
// constraints before it can be promoted to Verified, mirroring the
// teacher's ValidateEvidence: type/offender/reporter sanity, height bounds,
// max age, and signature recovery.
func Validate(ev types.Evidence, currentHeight uint64, maxAgeSeconds int64, nowUnix int64, heightKnown HeightKnown, verify SignatureVerifier, sig types.Signature) error {
	if len(ev.Validator) == 0 {
		return fmt.Errorf("evidence: missing offending validator")
	}
	if len(ev.Reporter) == 0 {
		return fmt.Errorf("evidence: missing reporter")
	}
	if ev.Height > currentHeight {
		return fmt.Errorf("evidence: height %d is in the future", ev.Height)
	}
	if heightKnown != nil && !heightKnown(ev.Height) {
		return fmt.Errorf("evidence: unknown height %d", ev.Height)
	}
	age := nowUnix - ev.ObservedAt
	if age < 0 {
		age = 0
	}
	if maxAgeSeconds > 0 && age > maxAgeSeconds {
		return fmt.Errorf("evidence: exceeds max age of %s", time.Duration(maxAgeSeconds)*time.Second)
	}
	if verify != nil {
		digest := ev.Hash()
		if err := verify(digest[:], sig, ev.Reporter); err != nil {
			return fmt.Errorf("evidence: signature verification failed: %w", err)
		}
	}
	return nil
}
