// Package store persists consensus state to a storage.Database using the
// flat KV layout: block/<hash>, height/<u64>, finality/hash/<hash>,
// finality/height/<u64>, evidence/<id>, validator/<id>, 2pc/<tx_id>.
// Entries are RLP-encoded, the teacher's own persistence codec for the
// validator set, generalized here to every entity kind. Types that carry a
// Go map (validator.Validator's delegations, TwoPhaseCommit's
// per-participant votes) are flattened to a slice-only DTO first, since RLP
// cannot encode maps.
package store

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/synclabs/consensuscore/consensus/validator"
	"github.com/synclabs/consensuscore/core/types"
	"github.com/synclabs/consensuscore/storage"
)

// Store persists consensus metadata: blocks, the height index, finality
// certificates, evidence, validators, and cross-domain 2PC sessions.
type Store struct {
	db storage.Database
}

// New creates a consensus store backed by the provided database.
func New(db storage.Database) *Store {
	return &Store{db: db}
}

func (s *Store) checkReady() error {
	if s == nil || s.db == nil {
		return fmt.Errorf("consensus store uninitialised")
	}
	return nil
}

func heightBytes(height uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], height)
	return b[:]
}

func blockKey(hash []byte) []byte          { return append([]byte("block/"), hash...) }
func heightKey(height uint64) []byte       { return append([]byte("height/"), heightBytes(height)...) }
func finalityHashKey(hash []byte) []byte   { return append([]byte("finality/hash/"), hash...) }
func finalityHeightKey(h uint64) []byte    { return append([]byte("finality/height/"), heightBytes(h)...) }
func evidenceKey(id []byte) []byte         { return append([]byte("evidence/"), id...) }
func validatorKey(id string) []byte        { return append([]byte("validator/"), []byte(id)...) }
func twoPhaseCommitKey(txID string) []byte { return append([]byte("2pc/"), []byte(txID)...) }

// blockDTO is the RLP-encodable persistence shape of types.Block: JustifyQC
// carried as a value plus a present flag, since RLP's handling of a nil
// struct pointer is the kind of format edge case this module avoids relying
// on (the same reason Proposal's own codec encoding uses an explicit
// present-flag for its JustifyQC rather than a bare pointer).
type blockDTO struct {
	Header       types.BlockHeader
	Payload      []byte
	HasJustifyQC bool
	JustifyQC    types.QuorumCertificate
}

func toBlockDTO(block types.Block) blockDTO {
	dto := blockDTO{Header: block.Header, Payload: block.Payload}
	if block.JustifyQC != nil {
		dto.HasJustifyQC = true
		dto.JustifyQC = *block.JustifyQC
	}
	return dto
}

func fromBlockDTO(dto blockDTO) types.Block {
	block := types.Block{Header: dto.Header, Payload: dto.Payload}
	if dto.HasJustifyQC {
		qc := dto.JustifyQC
		block.JustifyQC = &qc
	}
	return block
}

// SaveBlock persists a block under block/<hash>.
func (s *Store) SaveBlock(hash []byte, block types.Block) error {
	if err := s.checkReady(); err != nil {
		return err
	}
	dto := toBlockDTO(block)
	encoded, err := rlp.EncodeToBytes(&dto)
	if err != nil {
		return fmt.Errorf("consensus store: encode block: %w", err)
	}
	return s.db.Put(blockKey(hash), encoded)
}

// LoadBlock retrieves the block stored under hash.
func (s *Store) LoadBlock(hash []byte) (types.Block, error) {
	if err := s.checkReady(); err != nil {
		return types.Block{}, err
	}
	raw, err := s.db.Get(blockKey(hash))
	if err != nil {
		return types.Block{}, err
	}
	var dto blockDTO
	if err := rlp.DecodeBytes(raw, &dto); err != nil {
		return types.Block{}, fmt.Errorf("consensus store: decode block: %w", err)
	}
	return fromBlockDTO(dto), nil
}

// SaveHeightIndex records the canonical block hash at height.
func (s *Store) SaveHeightIndex(height uint64, hash []byte) error {
	if err := s.checkReady(); err != nil {
		return err
	}
	return s.db.Put(heightKey(height), append([]byte(nil), hash...))
}

// LoadHeightIndex returns the canonical block hash at height.
func (s *Store) LoadHeightIndex(height uint64) ([]byte, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	return s.db.Get(heightKey(height))
}

// SaveFinalityCertificate persists a certificate under both its
// finality/hash/<hash> and finality/height/<u64> keys. Height and Hash are
// not separately encoded: both are recoverable from the QC itself
// (QC.Height, QC.BlockHash), the same invariant FinalityCertificate.CanonicalBytes
// already relies on.
func (s *Store) SaveFinalityCertificate(fc types.FinalityCertificate) error {
	if err := s.checkReady(); err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(&fc.QC)
	if err != nil {
		return fmt.Errorf("consensus store: encode finality certificate: %w", err)
	}
	if err := s.db.Put(finalityHashKey(fc.Hash), encoded); err != nil {
		return err
	}
	return s.db.Put(finalityHeightKey(fc.Height), encoded)
}

func decodeFinalityCertificate(raw []byte) (types.FinalityCertificate, error) {
	var qc types.QuorumCertificate
	if err := rlp.DecodeBytes(raw, &qc); err != nil {
		return types.FinalityCertificate{}, fmt.Errorf("consensus store: decode finality certificate: %w", err)
	}
	return types.FinalityCertificate{QC: qc, Height: qc.Height, Hash: qc.BlockHash}, nil
}

// LoadFinalityCertificateByHash retrieves a certificate by its block hash.
func (s *Store) LoadFinalityCertificateByHash(hash []byte) (types.FinalityCertificate, error) {
	if err := s.checkReady(); err != nil {
		return types.FinalityCertificate{}, err
	}
	raw, err := s.db.Get(finalityHashKey(hash))
	if err != nil {
		return types.FinalityCertificate{}, err
	}
	return decodeFinalityCertificate(raw)
}

// LoadFinalityCertificateByHeight retrieves a certificate by height.
func (s *Store) LoadFinalityCertificateByHeight(height uint64) (types.FinalityCertificate, error) {
	if err := s.checkReady(); err != nil {
		return types.FinalityCertificate{}, err
	}
	raw, err := s.db.Get(finalityHeightKey(height))
	if err != nil {
		return types.FinalityCertificate{}, err
	}
	return decodeFinalityCertificate(raw)
}

// SaveEvidence persists an evidence record keyed by its caller-assigned ID.
func (s *Store) SaveEvidence(ev types.Evidence) error {
	if err := s.checkReady(); err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(&ev)
	if err != nil {
		return fmt.Errorf("consensus store: encode evidence: %w", err)
	}
	return s.db.Put(evidenceKey(ev.ID), encoded)
}

// LoadEvidence retrieves an evidence record by id.
func (s *Store) LoadEvidence(id []byte) (types.Evidence, error) {
	if err := s.checkReady(); err != nil {
		return types.Evidence{}, err
	}
	raw, err := s.db.Get(evidenceKey(id))
	if err != nil {
		return types.Evidence{}, err
	}
	var ev types.Evidence
	if err := rlp.DecodeBytes(raw, &ev); err != nil {
		return types.Evidence{}, fmt.Errorf("consensus store: decode evidence: %w", err)
	}
	return ev, nil
}

// delegationDTO is one delegator's stake, the RLP-encodable shape of
// validator.Delegation (whose Amount is already *big.Int, RLP-native).
type delegationDTO struct {
	Delegator string
	Amount    *big.Int
}

// validatorDTO is the RLP-encodable persistence shape of validator.Validator:
// Delegations flattened from a map to a sorted slice of delegationDTO.
type validatorDTO struct {
	ID              string
	PublicKey       []byte
	SelfBond        *big.Int
	Delegated       *big.Int
	Power           *big.Int
	CommissionBp    uint64
	Reputation      int64
	Status          uint8
	JoinedAt        int64
	LastSeen        int64
	SuccessfulProps uint64
	FailedProps     uint64
	MissedVotes     uint64
	Delegations     []delegationDTO
	SlashingHistory []validator.SlashingEvent
}

func toValidatorDTO(v *validator.Validator) validatorDTO {
	dto := validatorDTO{
		ID:              v.ID,
		PublicKey:       v.PublicKey,
		SelfBond:        v.SelfBond,
		Delegated:       v.Delegated,
		Power:           v.Power,
		CommissionBp:    v.CommissionBp,
		Reputation:      int64(v.Reputation),
		Status:          uint8(v.Status),
		JoinedAt:        v.JoinedAt,
		LastSeen:        v.LastSeen,
		SuccessfulProps: v.SuccessfulProps,
		FailedProps:     v.FailedProps,
		MissedVotes:     v.MissedVotes,
		SlashingHistory: v.SlashingHistory,
	}
	for _, d := range v.Delegations {
		dto.Delegations = append(dto.Delegations, delegationDTO{Delegator: d.Delegator, Amount: d.Amount})
	}
	return dto
}

func fromValidatorDTO(dto validatorDTO) *validator.Validator {
	v := &validator.Validator{
		ID:              dto.ID,
		PublicKey:       dto.PublicKey,
		SelfBond:        dto.SelfBond,
		Delegated:       dto.Delegated,
		Power:           dto.Power,
		CommissionBp:    dto.CommissionBp,
		Reputation:      int(dto.Reputation),
		Status:          validator.Status(dto.Status),
		JoinedAt:        dto.JoinedAt,
		LastSeen:        dto.LastSeen,
		SuccessfulProps: dto.SuccessfulProps,
		FailedProps:     dto.FailedProps,
		MissedVotes:     dto.MissedVotes,
		Delegations:     make(map[string]*validator.Delegation, len(dto.Delegations)),
		SlashingHistory: dto.SlashingHistory,
	}
	for _, d := range dto.Delegations {
		v.Delegations[d.Delegator] = &validator.Delegation{Delegator: d.Delegator, Amount: d.Amount}
	}
	return v
}

// SaveValidator persists one validator's full record under validator/<id>.
func (s *Store) SaveValidator(v *validator.Validator) error {
	if err := s.checkReady(); err != nil {
		return err
	}
	dto := toValidatorDTO(v)
	encoded, err := rlp.EncodeToBytes(&dto)
	if err != nil {
		return fmt.Errorf("consensus store: encode validator: %w", err)
	}
	return s.db.Put(validatorKey(v.ID), encoded)
}

// LoadValidator retrieves a validator record by id.
func (s *Store) LoadValidator(id string) (*validator.Validator, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	raw, err := s.db.Get(validatorKey(id))
	if err != nil {
		return nil, err
	}
	var dto validatorDTO
	if err := rlp.DecodeBytes(raw, &dto); err != nil {
		return nil, fmt.Errorf("consensus store: decode validator: %w", err)
	}
	return fromValidatorDTO(dto), nil
}

// voteEntryDTO is one participant's recorded vote, the RLP-encodable shape
// of a TwoPhaseCommit.Votes map entry.
type voteEntryDTO struct {
	Participant string
	Vote        uint8
}

// twoPhaseCommitDTO is the RLP-encodable persistence shape of
// types.TwoPhaseCommit: Votes flattened from a map to a slice.
type twoPhaseCommitDTO struct {
	TxID         string
	Coordinator  string
	Participants []string
	Phase        uint8
	Votes        []voteEntryDTO
	CreatedAt    int64
	TimeoutAt    int64
}

func toTwoPhaseCommitDTO(tx *types.TwoPhaseCommit) twoPhaseCommitDTO {
	dto := twoPhaseCommitDTO{
		TxID:        tx.TxID,
		Coordinator: tx.Coordinator,
		Phase:       uint8(tx.Phase),
		CreatedAt:   tx.CreatedAt,
		TimeoutAt:   tx.TimeoutAt,
	}
	for _, p := range tx.Participants {
		dto.Participants = append(dto.Participants, string(p))
	}
	for p, v := range tx.Votes {
		dto.Votes = append(dto.Votes, voteEntryDTO{Participant: string(p), Vote: uint8(v)})
	}
	return dto
}

func fromTwoPhaseCommitDTO(dto twoPhaseCommitDTO) *types.TwoPhaseCommit {
	tx := &types.TwoPhaseCommit{
		TxID:        dto.TxID,
		Coordinator: dto.Coordinator,
		Phase:       types.XPhase(dto.Phase),
		Votes:       make(map[types.ParticipantID]types.ParticipantVote, len(dto.Votes)),
		CreatedAt:   dto.CreatedAt,
		TimeoutAt:   dto.TimeoutAt,
	}
	for _, p := range dto.Participants {
		tx.Participants = append(tx.Participants, types.ParticipantID(p))
	}
	for _, v := range dto.Votes {
		tx.Votes[types.ParticipantID(v.Participant)] = types.ParticipantVote(v.Vote)
	}
	return tx
}

// SaveTwoPhaseCommit persists a cross-domain session under 2pc/<tx_id>, the
// durability a coordinator needs to Resume a session interrupted by a crash.
func (s *Store) SaveTwoPhaseCommit(tx *types.TwoPhaseCommit) error {
	if err := s.checkReady(); err != nil {
		return err
	}
	dto := toTwoPhaseCommitDTO(tx)
	encoded, err := rlp.EncodeToBytes(&dto)
	if err != nil {
		return fmt.Errorf("consensus store: encode 2pc session: %w", err)
	}
	return s.db.Put(twoPhaseCommitKey(tx.TxID), encoded)
}

// LoadTwoPhaseCommit retrieves a cross-domain session by tx id.
func (s *Store) LoadTwoPhaseCommit(txID string) (*types.TwoPhaseCommit, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	raw, err := s.db.Get(twoPhaseCommitKey(txID))
	if err != nil {
		return nil, err
	}
	var dto twoPhaseCommitDTO
	if err := rlp.DecodeBytes(raw, &dto); err != nil {
		return nil, fmt.Errorf("consensus store: decode 2pc session: %w", err)
	}
	return fromTwoPhaseCommitDTO(dto), nil
}
