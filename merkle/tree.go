// Package merkle implements the insertion-ordered keccak256 tree the
// on-chain verifier expects: leaves are NOT sorted or canonicalized,
// pairs hash left||right, and an odd node is promoted unchanged to the
// next level. Tree shape is therefore a pure function of insertion
// order.
package merkle

import (
	"errors"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrLeafNotFound = errors.New("leaf is not in the tree")

// Tree is an append-only Merkle tree. It is not safe for concurrent
// mutation; the accumulator serializes writers per chain/tree.
type Tree struct {
	leaves []ethcommon.Hash
	index  map[ethcommon.Hash]int
}

func NewTree() *Tree {
	return &Tree{index: make(map[ethcommon.Hash]int)}
}

// Append adds a leaf hash. Returns false (and leaves the tree, and
// hence the root, unchanged) when the leaf is already present.
func (t *Tree) Append(leaf ethcommon.Hash) bool {
	if _, ok := t.index[leaf]; ok {
		return false
	}
	t.index[leaf] = len(t.leaves)
	t.leaves = append(t.leaves, leaf)
	return true
}

func (t *Tree) Has(leaf ethcommon.Hash) bool {
	_, ok := t.index[leaf]
	return ok
}

func (t *Tree) Size() int {
	return len(t.leaves)
}

// Root returns the tree root; the zero hash for an empty tree.
func (t *Tree) Root() ethcommon.Hash {
	if len(t.leaves) == 0 {
		return ethcommon.Hash{}
	}
	level := make([]ethcommon.Hash, len(t.leaves))
	copy(level, t.leaves)
	for len(level) > 1 {
		level = nextLevel(level)
	}
	return level[0]
}

// ProofNode is one sibling on the path from a leaf to the root. Left
// tells whether the sibling sits left of the running hash.
type ProofNode struct {
	Hash ethcommon.Hash `json:"hash"`
	Left bool           `json:"left"`
}

// Proof returns the inclusion proof for a leaf.
func (t *Tree) Proof(leaf ethcommon.Hash) ([]ProofNode, error) {
	i, ok := t.index[leaf]
	if !ok {
		return nil, ErrLeafNotFound
	}

	var proof []ProofNode
	level := make([]ethcommon.Hash, len(t.leaves))
	copy(level, t.leaves)

	for len(level) > 1 {
		sib := i ^ 1
		if sib < len(level) {
			proof = append(proof, ProofNode{Hash: level[sib], Left: sib < i})
		}
		// else: odd node promoted, nothing to prove at this level
		level = nextLevel(level)
		i /= 2
	}
	return proof, nil
}

// Verify folds a proof back to the root.
func Verify(root, leaf ethcommon.Hash, proof []ProofNode) bool {
	h := leaf
	for _, p := range proof {
		if p.Left {
			h = crypto.Keccak256Hash(p.Hash.Bytes(), h.Bytes())
		} else {
			h = crypto.Keccak256Hash(h.Bytes(), p.Hash.Bytes())
		}
	}
	return h == root
}

func nextLevel(level []ethcommon.Hash) []ethcommon.Hash {
	next := make([]ethcommon.Hash, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		if i+1 < len(level) {
			next = append(next, crypto.Keccak256Hash(level[i].Bytes(), level[i+1].Bytes()))
		} else {
			next = append(next, level[i])
		}
	}
	return next
}
