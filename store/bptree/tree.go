// Copyright 2025 the chunkstore authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bptree implements an in-memory B+ tree over byte-slice keys.
//
// All entries live in leaf nodes; internal nodes only route. Leaves are
// linked left to right, so ordered iteration never touches internal nodes.
// Nodes are allocated out of a flat arena and addressed by index, which
// keeps the tree compact and GC-friendly.
package bptree

import (
	"bytes"
	"sort"
)

// KeyOrder compares two keys, returning -1, 0 or +1.
type KeyOrder func(l, r []byte) (cmp int)

// Tree is a B+ tree mapping byte-slice keys to byte-slice values. The zero
// value is not usable; construct with NewTree. A Tree is not safe for
// concurrent use.
type Tree struct {
	nodes    []node
	root     nodeID
	degree   int
	count    int
	keyOrder KeyOrder
}

// NewTree returns an empty tree with branching factor |degree|: leaves hold
// between degree and 2*degree-1 entries, internal nodes between degree-1
// and 2*degree-2 keys (the root is exempt from the minimums). A nil |order|
// defaults to bytes.Compare.
func NewTree(degree int, order KeyOrder) *Tree {
	if degree < 2 {
		panic("bptree: degree must be at least 2")
	}
	if order == nil {
		order = bytes.Compare
	}
	nodes := make([]node, 0, 8)
	nodes = append(nodes, node{leaf: true, next: nilID})
	return &Tree{
		nodes:    nodes,
		root:     0,
		degree:   degree,
		keyOrder: order,
	}
}

// Count returns the number of entries in the tree.
func (t *Tree) Count() int {
	return t.count
}

// Has returns true if |key| is present.
func (t *Tree) Has(key []byte) (ok bool) {
	_, ok = t.Get(key)
	return
}

// Get returns the value stored for |key|, if any.
func (t *Tree) Get(key []byte) (val []byte, ok bool) {
	id := t.root
	for !t.nodes[id].leaf {
		id = t.nodes[id].children[t.childIndex(id, key)]
	}
	n := &t.nodes[id]
	idx, found := t.searchLeaf(n, key)
	if !found {
		return nil, false
	}
	return n.entries[idx].val, true
}

// Put inserts |key| with |val|, replacing the value in place if the key is
// already present.
func (t *Tree) Put(key, val []byte) {
	if key == nil {
		panic("key must be non-nil")
	}
	right, mid, split := t.insert(t.root, key, val)
	if split {
		newRoot := node{
			keys:     [][]byte{mid},
			children: []nodeID{t.root, right},
			next:     nilID,
		}
		t.root = t.addNode(newRoot)
	}
}

// Delete removes |key|, returning true if it was present. Underfull nodes
// borrow from or merge with a sibling on the way back up, and the root
// collapses a level once emptied.
func (t *Tree) Delete(key []byte) bool {
	found := t.delete(t.root, key)
	if found {
		t.count--
	}
	r := &t.nodes[t.root]
	if !r.leaf && len(r.keys) == 0 {
		t.root = r.children[0]
	}
	return found
}

func (t *Tree) insert(id nodeID, key, val []byte) (right nodeID, mid []byte, split bool) {
	if t.nodes[id].leaf {
		n := &t.nodes[id]
		idx, found := t.searchLeaf(n, key)
		if found {
			n.entries[idx].val = val
			return 0, nil, false
		}
		n.entries = append(n.entries, entry{})
		copy(n.entries[idx+1:], n.entries[idx:])
		n.entries[idx] = entry{key: key, val: val}
		t.count++

		if len(n.entries) == 2*t.degree {
			right, mid = t.splitLeaf(id)
			return right, mid, true
		}
		return 0, nil, false
	}

	pos := t.childIndex(id, key)
	child := t.nodes[id].children[pos]
	r, m, s := t.insert(child, key, val)
	if !s {
		return 0, nil, false
	}

	n := &t.nodes[id]
	n.keys = append(n.keys, nil)
	copy(n.keys[pos+1:], n.keys[pos:])
	n.keys[pos] = m

	n.children = append(n.children, 0)
	copy(n.children[pos+2:], n.children[pos+1:])
	n.children[pos+1] = r

	if len(n.keys) == 2*t.degree-1 {
		right, mid = t.splitInternal(id)
		return right, mid, true
	}
	return 0, nil, false
}

func (t *Tree) delete(id nodeID, key []byte) bool {
	if t.nodes[id].leaf {
		n := &t.nodes[id]
		idx, found := t.searchLeaf(n, key)
		if !found {
			return false
		}
		n.entries = append(n.entries[:idx], n.entries[idx+1:]...)
		return true
	}

	pos := t.childIndex(id, key)
	child := t.nodes[id].children[pos]
	found := t.delete(child, key)
	if found && t.underflow(child) {
		t.rebalance(id, pos)
	}
	return found
}

// childIndex returns the index of the child to descend into for |key|.
// Separator keys route equal keys to the right, matching the promotion of
// the right half's first key on leaf split.
func (t *Tree) childIndex(id nodeID, key []byte) int {
	keys := t.nodes[id].keys
	return sort.Search(len(keys), func(i int) bool {
		return t.keyOrder(keys[i], key) > 0
	})
}

func (t *Tree) searchLeaf(n *node, key []byte) (idx int, found bool) {
	idx = sort.Search(len(n.entries), func(i int) bool {
		return t.keyOrder(n.entries[i].key, key) >= 0
	})
	found = idx < len(n.entries) && t.keyOrder(n.entries[idx].key, key) == 0
	return
}

func (t *Tree) addNode(n node) nodeID {
	id := nodeID(len(t.nodes))
	t.nodes = append(t.nodes, n)
	return id
}

// Iter iterates entries in key order by walking the leaf sibling links.
type Iter struct {
	tree *Tree
	id   nodeID
	idx  int
}

// IterAtStart returns an iterator positioned at the smallest key.
func (t *Tree) IterAtStart() *Iter {
	id := t.root
	for !t.nodes[id].leaf {
		id = t.nodes[id].children[0]
	}
	it := &Iter{tree: t, id: id, idx: -1}
	it.Advance()
	return it
}

// Current returns the entry under the iterator, or nil, nil once the
// iterator is exhausted.
func (it *Iter) Current() (key, val []byte) {
	if it.id == nilID {
		return nil, nil
	}
	n := &it.tree.nodes[it.id]
	if it.idx >= len(n.entries) {
		return nil, nil
	}
	e := n.entries[it.idx]
	return e.key, e.val
}

// Advance moves the iterator to the next entry, hopping to the next leaf
// when the current one is exhausted.
func (it *Iter) Advance() {
	if it.id == nilID {
		return
	}
	it.idx++
	for it.id != nilID && it.idx >= len(it.tree.nodes[it.id].entries) {
		it.id = it.tree.nodes[it.id].next
		it.idx = 0
	}
}
