package penalty

import (
	"fmt"
	"math/big"

	"github.com/synclabs/consensuscore/consensus/evidence"
	"github.com/synclabs/consensuscore/consensus/validator"
	"github.com/synclabs/consensuscore/core/events"
	"github.com/synclabs/consensuscore/core/types"
	"github.com/synclabs/consensuscore/observability/metrics"
)

// ValidatorSet is the subset of validator.Set's contract the penalty engine
// needs, kept narrow so tests can substitute a fake.
type ValidatorSet interface {
	ApplySlashing(id string, kind string, penaltyBp uint64, reason string, height uint64) (*big.Int, error)
	RecordFaultReputation(id string, kind string) error
	PowerOf(id string) *big.Int
}

// Engine adjudicates Verified evidence against the validator set, applying
// the configured penalty and forcing Jailed where the rule requires it.
type Engine struct {
	catalog *Catalog
	set     ValidatorSet
	store   *evidence.Store
	emitter events.Emitter
	metrics *metrics.ConsensusMetrics
}

// validatorSetSatisfiesInterface is a compile-time check that the concrete
// validator.Set type this engine is wired against in production satisfies
// the narrow ValidatorSet contract declared above.
var _ ValidatorSet = (*validator.Set)(nil)

// NewEngine constructs a penalty Engine. emitter may be events.NoopEmitter{}
// if the caller does not want adjudication events.
func NewEngine(catalog *Catalog, set ValidatorSet, store *evidence.Store, emitter events.Emitter) *Engine {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	return &Engine{catalog: catalog, set: set, store: store, emitter: emitter, metrics: metrics.Consensus()}
}

// Result is the outcome of adjudicating one evidence record.
type Result struct {
	SlashAmount  *big.Int
	Idempotent   bool
	ReporterFee  *big.Int
}

// Adjudicate applies the slashing and reputation consequences for a
// Verified record at height. It is idempotent: a record already marked
// Adjudicated in the store short-circuits to a zero-amount result instead
// of double-penalizing, mirroring the teacher's WasPenaltyApplied guard.
func (e *Engine) Adjudicate(rec *evidence.Record, height uint64) (*Result, error) {
	if rec == nil {
		return nil, fmt.Errorf("penalty: nil evidence record")
	}
	if rec.Status == evidence.StatusAdjudicated {
		return &Result{SlashAmount: big.NewInt(0), ReporterFee: big.NewInt(0), Idempotent: true}, nil
	}
	rule, ok := e.catalog.Rule(rec.Evidence.Kind)
	if !ok {
		return nil, fmt.Errorf("penalty: no rule for evidence kind %s", rec.Evidence.Kind)
	}
	offenderID := string(rec.Evidence.Validator)
	amount, err := e.set.ApplySlashing(offenderID, KindName(rec.Evidence.Kind), rule.PenaltyBp, "evidence adjudication", height)
	if err != nil {
		return nil, fmt.Errorf("penalty: apply slashing: %w", err)
	}
	if err := e.set.RecordFaultReputation(offenderID, KindName(rec.Evidence.Kind)); err != nil {
		return nil, fmt.Errorf("penalty: record reputation: %w", err)
	}
	reporterFee := big.NewInt(0)
	if rule.ReporterBp > 0 && len(rec.Evidence.Reporter) > 0 {
		reporterFee = new(big.Int).Mul(amount, big.NewInt(int64(rule.ReporterBp)))
		reporterFee.Div(reporterFee, big.NewInt(10000))
	}
	if err := e.store.MarkAdjudicated(rec.Hash()); err != nil {
		return nil, fmt.Errorf("penalty: mark adjudicated: %w", err)
	}
	e.emitter.Emit(evidenceAdjudicatedEvent{
		offender: offenderID,
		kind:     rec.Evidence.Kind,
		amount:   amount,
		height:   height,
	})
	e.metrics.IncSlashingEvent(rec.Evidence.Kind.String())
	return &Result{SlashAmount: amount, ReporterFee: reporterFee}, nil
}

type evidenceAdjudicatedEvent struct {
	offender string
	kind     types.EvidenceKind
	amount   *big.Int
	height   uint64
}

func (evidenceAdjudicatedEvent) EventType() string { return "evidence.adjudicated" }
