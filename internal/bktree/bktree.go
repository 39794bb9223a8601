// Package bktree provides a Burkhard-Keller tree over 64-bit perceptual
// hashes, supporting exact bounded-distance range queries under the
// Hamming metric.
//
// The tree invariant is that the edge from a node to a child is labelled
// with the exact Hamming distance between their hashes. Because Hamming
// distance satisfies the triangle inequality, a query at threshold t may
// skip any subtree whose edge label d violates |dist(query, node) - d| <= t
// without computing a single distance inside it.
//
// Trees are built once per run and queried afterwards; there is no removal
// operation and no internal locking. Concurrent queries against a finished
// tree are safe, concurrent inserts are not.
package bktree

import "imagedup/internal/phash"

type node struct {
	hash     phash.Hash
	children map[int]*node
}

// Tree is a BK-tree over distinct hash values. Inserting a hash that is
// already present is a no-op; multiplicity (several files sharing one
// hash) is tracked by the index layer, not here.
type Tree struct {
	root *node
	size int
}

// Match is a hash found within the query threshold, with its exact
// distance to the query.
type Match struct {
	Hash     phash.Hash
	Distance int
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{}
}

// Len reports the number of distinct hashes stored.
func (t *Tree) Len() int {
	return t.size
}

// Insert adds a hash to the tree, descending by distance until a free edge
// is found. Duplicate values are discarded.
func (t *Tree) Insert(h phash.Hash) {
	if t.root == nil {
		t.root = &node{hash: h}
		t.size = 1
		return
	}

	cur := t.root
	for {
		d := phash.Distance(h, cur.hash)
		if d == 0 {
			return
		}
		next, ok := cur.children[d]
		if !ok {
			if cur.children == nil {
				cur.children = make(map[int]*node)
			}
			cur.children[d] = &node{hash: h}
			t.size++
			return
		}
		cur = next
	}
}

// Query returns every stored hash within threshold Hamming distance of h,
// with exact distances. Results are unordered. An empty tree yields an
// empty result.
func (t *Tree) Query(h phash.Hash, threshold int) []Match {
	if t.root == nil {
		return nil
	}

	var matches []Match
	pending := []*node{t.root}
	for len(pending) > 0 {
		cur := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		d := phash.Distance(h, cur.hash)
		if d <= threshold {
			matches = append(matches, Match{Hash: cur.hash, Distance: d})
		}

		// Triangle-inequality prune: only edges within [d-t, d+t] can
		// lead to hashes inside the query ball.
		for label, child := range cur.children {
			if label >= d-threshold && label <= d+threshold {
				pending = append(pending, child)
			}
		}
	}
	return matches
}
