// Package merkle implements the sorted-pair keccak Merkle tree the protocol
// contracts verify results and reward claims against.
//
// Leaves are deduplicated and sorted. The tree is kept in a flat array of
// 2n-1 nodes with the root at index 0 and the children of node i at 2i+1 and
// 2i+2. Sibling hashes are concatenated smaller first, so a proof is a plain
// list of hashes without direction bits.
package merkle

import (
	"bytes"
	"errors"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrNotInTree is returned when a proof is requested for an unknown leaf.
var ErrNotInTree = errors.New("leaf not in tree")

// Tree is an immutable Merkle tree.
type Tree struct {
	nodes []common.Hash
	n     int
}

// HashPair hashes two nodes in canonical order.
func HashPair(a, b common.Hash) common.Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return crypto.Keccak256Hash(a[:], b[:])
}

// New builds a tree over leaves. The input slice is not modified.
func New(leaves []common.Hash) *Tree {
	sorted := append([]common.Hash(nil), leaves...)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})
	unique := sorted[:0]
	for i, h := range sorted {
		if i == 0 || h != sorted[i-1] {
			unique = append(unique, h)
		}
	}
	n := len(unique)
	t := &Tree{n: n}
	if n == 0 {
		return t
	}
	t.nodes = make([]common.Hash, 2*n-1)
	copy(t.nodes[n-1:], unique)
	for i := n - 2; i >= 0; i-- {
		t.nodes[i] = HashPair(t.nodes[2*i+1], t.nodes[2*i+2])
	}
	return t
}

// Root returns the root hash and false for an empty tree.
func (t *Tree) Root() (common.Hash, bool) {
	if t.n == 0 {
		return common.Hash{}, false
	}
	return t.nodes[0], true
}

// Len returns the number of distinct leaves.
func (t *Tree) Len() int {
	return t.n
}

// Leaves returns the sorted distinct leaves.
func (t *Tree) Leaves() []common.Hash {
	if t.n == 0 {
		return nil
	}
	return append([]common.Hash(nil), t.nodes[t.n-1:]...)
}

// Proof returns the sibling hashes from leaf up to the root.
func (t *Tree) Proof(leaf common.Hash) ([]common.Hash, error) {
	leaves := t.nodes[max(t.n-1, 0):]
	i := sort.Search(len(leaves), func(i int) bool {
		return bytes.Compare(leaves[i][:], leaf[:]) >= 0
	})
	if i == len(leaves) || leaves[i] != leaf {
		return nil, ErrNotInTree
	}
	proof := []common.Hash{}
	for pos := t.n - 1 + i; pos > 0; pos = (pos - 1) / 2 {
		sibling := pos + 1
		if pos%2 == 0 {
			sibling = pos - 1
		}
		proof = append(proof, t.nodes[sibling])
	}
	return proof, nil
}

// Verify checks that proof links leaf to root.
func Verify(leaf common.Hash, proof []common.Hash, root common.Hash) bool {
	h := leaf
	for _, p := range proof {
		h = HashPair(h, p)
	}
	return h == root
}
