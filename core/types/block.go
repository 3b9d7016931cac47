package types

import (
	"errors"

	"github.com/synclabs/consensuscore/codec"
)

// BlockHeader carries the metadata a block commits to. Payload bytes are
// opaque to the core: the hosting process decides what a block's payload
// means (a batch of transactions, a validator-set change, a parameter
// update, an emergency action — see the canonical proposal payload tags);
// the consensus core only needs to agree on its hash.
type BlockHeader struct {
	Height     uint64
	Slot       uint64
	View       uint64 // the consensus view this block was proposed in, for two-chain view-adjacency
	ParentHash []byte
	Proposer   []byte
	TxRoot     []byte
	Timestamp  int64
}

// Block is a proposed or committed block in the fork graph.
type Block struct {
	Header    BlockHeader
	Payload   []byte
	JustifyQC *QuorumCertificate
}

// ErrMissingParent is returned when a non-genesis block carries no parent
// hash.
var ErrMissingParent = errors.New("types: non-genesis block missing parent hash")

// CanonicalBytes returns the tagged, length-delimited byte encoding the
// block's hash is computed over. This never relies on a stringified Go
// representation, which is fragile across versions.
func (h BlockHeader) CanonicalBytes() []byte {
	w := codec.NewWriter()
	w.WriteUint64(h.Height)
	w.WriteUint64(h.Slot)
	w.WriteUint64(h.View)
	w.WriteBytes(h.ParentHash)
	w.WriteBytes(h.Proposer)
	w.WriteBytes(h.TxRoot)
	w.WriteInt64(h.Timestamp)
	return w.Bytes()
}

// Hash returns the blake3 digest of the header's canonical bytes. The
// payload and justify QC are not part of the hash: the payload is committed
// to indirectly via TxRoot, and the QC's own BlockHash already names this
// block.
func (h BlockHeader) Hash() [32]byte {
	return codec.Hash(h.CanonicalBytes())
}

// IsGenesis reports whether this block has no parent.
func (h BlockHeader) IsGenesis() bool {
	return h.Height == 0 && len(h.ParentHash) == 0
}

// Validate enforces the block invariants from the data model: every
// non-genesis block must carry a parent hash. Reachability of ParentHash and
// JustifyQC.BlockHash within the fork graph is checked by the graph itself,
// since that requires knowledge of what has already been inserted.
func (b *Block) Validate() error {
	if b == nil {
		return errors.New("types: nil block")
	}
	if !b.Header.IsGenesis() && len(b.Header.ParentHash) == 0 {
		return ErrMissingParent
	}
	return nil
}
