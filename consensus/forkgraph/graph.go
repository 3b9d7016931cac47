// Package forkgraph implements the block DAG rooted at the last finalized
// block, fork-choice ranking, and the finality predicates (two-chain by
// default, Streamlet as an alternative). No direct teacher analogue exists
// for this structure — it is new code written in the teacher's locking
// idiom (single writer under a mutex, readers work from snapshots) seen
// throughout consensus/bft.Engine and state/potso.Ledger.
package forkgraph

import (
	"bytes"
	"sort"
	"sync"

	"github.com/holiman/uint256"

	coreerrors "github.com/synclabs/consensuscore/core/errors"
	"github.com/synclabs/consensuscore/core/types"
)

// Node is one block in the DAG plus its accumulated vote power and
// notarization/finality status.
type Node struct {
	Block         types.Block
	Hash          [32]byte
	Parent        [32]byte
	Children      [][32]byte
	Power         *uint256.Int // cumulative power of votes referencing this hash
	Notarized     bool         // has a QC
	QC            *types.QuorumCertificate
	Finalized     bool
}

// Graph is the exclusive owner of block nodes and their accumulated vote
// tallies. Readers observe consistent snapshots taken under RLock; the
// tree itself is mutated only by the owning goroutine under Lock, matching
// the spec's single-writer/many-reader discipline.
type Graph struct {
	mu       sync.RWMutex
	nodes    map[[32]byte]*Node
	root     [32]byte
	lastFinal [32]byte
	finalityByHash   map[[32]byte]*types.FinalityCertificate
	finalityByHeight map[uint64]*types.FinalityCertificate
}

// New constructs a Graph rooted at genesis.
func New(genesis types.Block) *Graph {
	hash := genesis.Header.Hash()
	root := &Node{
		Block:     genesis,
		Hash:      hash,
		Power:     uint256.NewInt(0),
		Notarized: true,
		Finalized: true,
	}
	g := &Graph{
		nodes:            map[[32]byte]*Node{hash: root},
		root:             hash,
		lastFinal:        hash,
		finalityByHash:   make(map[[32]byte]*types.FinalityCertificate),
		finalityByHeight: make(map[uint64]*types.FinalityCertificate),
	}
	return g
}

// Insert adds a new block to the graph. The parent must already be present;
// ErrUnknownParent is returned otherwise, including for a block whose
// ParentHash is empty (Insert does not call Block.Validate).
func (g *Graph) Insert(b types.Block) ([32]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	hash := b.Header.Hash()
	if _, exists := g.nodes[hash]; exists {
		return hash, nil
	}
	var parentHash [32]byte
	copy(parentHash[:], b.Header.ParentHash)
	parent, ok := g.nodes[parentHash]
	if !ok {
		return hash, coreerrors.ErrUnknownParent
	}
	node := &Node{Block: b, Hash: hash, Parent: parentHash, Power: uint256.NewInt(0)}
	if b.JustifyQC != nil {
		node.Notarized = true
		node.QC = b.JustifyQC
	}
	g.nodes[hash] = node
	parent.Children = append(parent.Children, hash)
	return hash, nil
}

// AddVotePower adds power to the cumulative tally for blockHash. Callers
// are expected to have already verified the vote and validator.
func (g *Graph) AddVotePower(blockHash [32]byte, power *uint256.Int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	node, ok := g.nodes[blockHash]
	if !ok {
		return coreerrors.ErrBlockNotFound
	}
	node.Power = new(uint256.Int).Add(node.Power, power)
	return nil
}

// RecordQC marks blockHash as notarized with qc, used once a QC forms for
// it (power has met required_power at the QC's epoch).
func (g *Graph) RecordQC(blockHash [32]byte, qc *types.QuorumCertificate) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	node, ok := g.nodes[blockHash]
	if !ok {
		return coreerrors.ErrBlockNotFound
	}
	node.Notarized = true
	node.QC = qc
	return nil
}

// BestFork walks children from root selecting the child with the highest
// cumulative power at each step, tie-broken by lower block hash
// (lexicographic). Returns the resulting head's hash.
func (g *Graph) BestFork() [32]byte {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.bestForkFromLocked(g.lastFinal)
}

func (g *Graph) bestForkFromLocked(from [32]byte) [32]byte {
	current := from
	for {
		node := g.nodes[current]
		if node == nil || len(node.Children) == 0 {
			return current
		}
		best := node.Children[0]
		bestPower := g.nodes[best].Power
		for _, child := range node.Children[1:] {
			childPower := g.nodes[child].Power
			cmp := childPower.Cmp(bestPower)
			if cmp > 0 || (cmp == 0 && bytes.Compare(child[:], best[:]) < 0) {
				best = child
				bestPower = childPower
			}
		}
		current = best
	}
}

// LongestChainForkChoice compares refs by (slot desc, weight desc, hash
// asc) rather than walking strictly from the root; used for lightweight
// chain-selection outside the main consensus loop (e.g. a read replica
// syncing without participating in voting).
func (g *Graph) LongestChainForkChoice(candidates [][32]byte) [32]byte {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(candidates) == 0 {
		return [32]byte{}
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if g.preferredLocked(c, best) {
			best = c
		}
	}
	return best
}

func (g *Graph) preferredLocked(a, b [32]byte) bool {
	na, nb := g.nodes[a], g.nodes[b]
	if na == nil {
		return false
	}
	if nb == nil {
		return true
	}
	if na.Block.Header.Slot != nb.Block.Header.Slot {
		return na.Block.Header.Slot > nb.Block.Header.Slot
	}
	cmp := na.Power.Cmp(nb.Power)
	if cmp != 0 {
		return cmp > 0
	}
	return bytes.Compare(a[:], b[:]) < 0
}

// FinalityRule names which finalization predicate TryFinalize applies.
type FinalityRule byte

const (
	// RuleTwoChain finalizes B when a direct child B' of B at an adjacent
	// view (V(B')=V(B)+1) is also notarized (Tendermint default).
	RuleTwoChain FinalityRule = iota
	// RuleStreamlet finalizes the earlier of two consecutive notarized
	// blocks.
	RuleStreamlet
	// RuleRaftMajority finalizes the leader's committed entry immediately
	// on majority acknowledgment — TryFinalize treats any notarized block
	// as final under this rule since Raft's QC already implies majority
	// ack.
	RuleRaftMajority
)

// TryFinalize checks whether blockHash now satisfies rule given its
// children's notarization status, and if so produces (and stores) the
// FinalityCertificate. Returns (cert, true) on success.
//
// consensus/engine's own live path finalizes Tendermint and Raft blocks via
// RuleRaftMajority (immediately on reaching Commit-quorum, matching the BFT
// state machine's "Precommit-quorum for B -> Commit (finalize B)"
// transition) rather than RuleTwoChain: RuleTwoChain's literal
// notarized-direct-child-at-adjacent-view definition describes reconciling
// a batch of already-notarized blocks (e.g. a syncing read-replica applying
// certificates it received without itself participating in voting), not the
// engine's per-round commit decision.
func (g *Graph) TryFinalize(blockHash [32]byte, rule FinalityRule) (*types.FinalityCertificate, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	node, ok := g.nodes[blockHash]
	if !ok || !node.Notarized {
		return nil, false
	}
	switch rule {
	case RuleRaftMajority:
		return g.finalizeLocked(node)
	case RuleStreamlet, RuleTwoChain:
		for _, childHash := range node.Children {
			child := g.nodes[childHash]
			if child == nil || !child.Notarized {
				continue
			}
			if rule == RuleTwoChain && child.Block.Header.View != node.Block.Header.View+1 {
				continue
			}
			return g.finalizeLocked(node)
		}
	}
	return nil, false
}

func (g *Graph) finalizeLocked(node *Node) (*types.FinalityCertificate, bool) {
	if node.Finalized {
		return g.finalityByHash[node.Hash], true
	}
	cert := &types.FinalityCertificate{Height: node.Block.Header.Height, Hash: node.Hash[:]}
	if node.QC != nil {
		cert.QC = *node.QC
	}
	node.Finalized = true
	g.finalityByHash[node.Hash] = cert
	g.finalityByHeight[cert.Height] = cert
	g.lastFinal = node.Hash
	return cert, true
}

// ParentOf returns blockHash's parent hash, if blockHash is known.
func (g *Graph) ParentOf(blockHash [32]byte) ([32]byte, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node, ok := g.nodes[blockHash]
	if !ok {
		return [32]byte{}, false
	}
	return node.Parent, true
}

// FinalityByHash looks up a FinalityCertificate by block hash.
func (g *Graph) FinalityByHash(hash [32]byte) (*types.FinalityCertificate, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	cert, ok := g.finalityByHash[hash]
	return cert, ok
}

// FinalityByHeight looks up a FinalityCertificate by height.
func (g *Graph) FinalityByHeight(height uint64) (*types.FinalityCertificate, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	cert, ok := g.finalityByHeight[height]
	return cert, ok
}

// LastFinalized returns the hash of the most recently finalized block.
func (g *Graph) LastFinalized() [32]byte {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.lastFinal
}

// AncestorsFinalized reports whether every ancestor of blockHash, down to
// the root, is finalized — the testable property "all ancestors of a
// finalized block are finalized" expressed as a walk.
func (g *Graph) AncestorsFinalized(blockHash [32]byte) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	current := blockHash
	for {
		node, ok := g.nodes[current]
		if !ok {
			return false
		}
		if !node.Finalized {
			return false
		}
		if current == g.root {
			return true
		}
		current = node.Parent
	}
}

// Prune removes nodes below the last finalized block's height that are not
// on the finalized chain (competing forks that lost), bounding graph
// memory as consensus progresses.
func (g *Graph) Prune() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	finalHeight := g.nodes[g.lastFinal].Block.Header.Height
	onChain := make(map[[32]byte]bool)
	current := g.lastFinal
	for {
		onChain[current] = true
		node, ok := g.nodes[current]
		if !ok || current == g.root {
			break
		}
		current = node.Parent
	}
	var toRemove []uint64
	pruned := 0
	keys := make([][32]byte, 0, len(g.nodes))
	for h := range g.nodes {
		keys = append(keys, h)
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i][:], keys[j][:]) < 0 })
	for _, h := range keys {
		node := g.nodes[h]
		if node.Block.Header.Height < finalHeight && !node.Finalized && !onChain[h] {
			delete(g.nodes, h)
			pruned++
		}
	}
	_ = toRemove
	return pruned
}
