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

package bptree

import "math"

type nodeID uint32

const nilID = nodeID(math.MaxUint32)

type entry struct {
	key, val []byte
}

// node is either a leaf or an internal node. Leaves hold entries and a
// sibling link; internal nodes hold separator keys and child ids, with
// len(children) == len(keys)+1.
type node struct {
	leaf     bool
	entries  []entry
	keys     [][]byte
	children []nodeID
	next     nodeID
}

// splitLeaf splits the leaf |id| in half, returning the id of the new right
// sibling and the key that separates the halves (the right half's first key).
// The caller links the new node into the parent.
func (t *Tree) splitLeaf(id nodeID) (right nodeID, mid []byte) {
	src := t.nodes[id]
	mid = src.entries[t.degree].key

	rn := node{
		leaf:    true,
		entries: append([]entry(nil), src.entries[t.degree:]...),
		next:    src.next,
	}
	right = t.addNode(rn)

	// addNode may have grown the arena; re-take the pointer.
	left := &t.nodes[id]
	left.entries = left.entries[:t.degree:t.degree]
	left.next = right
	return right, mid
}

// splitInternal splits the internal node |id|, promoting its middle key.
func (t *Tree) splitInternal(id nodeID) (right nodeID, mid []byte) {
	src := t.nodes[id]
	mid = src.keys[t.degree-1]

	rn := node{
		keys:     append([][]byte(nil), src.keys[t.degree:]...),
		children: append([]nodeID(nil), src.children[t.degree:]...),
		next:     nilID,
	}
	right = t.addNode(rn)

	left := &t.nodes[id]
	left.keys = left.keys[: t.degree-1 : t.degree-1]
	left.children = left.children[:t.degree:t.degree]
	return right, mid
}

// underflow reports whether |id| has fallen below its minimum occupancy.
// Leaves go down to degree entries, internal nodes to degree-1 keys; the
// root is exempt.
func (t *Tree) underflow(id nodeID) bool {
	n := &t.nodes[id]
	if n.leaf {
		return len(n.entries) < t.degree
	}
	return len(n.keys) < t.degree-1
}

func (t *Tree) surplus(id nodeID) bool {
	n := &t.nodes[id]
	if n.leaf {
		return len(n.entries) > t.degree
	}
	return len(n.keys) > t.degree-1
}

// rebalance restores the occupancy invariant for the |pos|'th child of
// |parent| after a delete, borrowing from a sibling when one has surplus
// and merging otherwise.
func (t *Tree) rebalance(parent nodeID, pos int) {
	p := &t.nodes[parent]
	if pos > 0 && t.surplus(p.children[pos-1]) {
		t.borrowFromLeft(parent, pos)
		return
	}
	if pos < len(p.children)-1 && t.surplus(p.children[pos+1]) {
		t.borrowFromRight(parent, pos)
		return
	}
	if pos > 0 {
		t.merge(parent, pos-1)
	} else {
		t.merge(parent, pos)
	}
}

func (t *Tree) borrowFromLeft(parent nodeID, pos int) {
	p := &t.nodes[parent]
	left := &t.nodes[p.children[pos-1]]
	child := &t.nodes[p.children[pos]]

	if child.leaf {
		last := left.entries[len(left.entries)-1]
		left.entries = left.entries[:len(left.entries)-1]
		child.entries = append([]entry{last}, child.entries...)
		p.keys[pos-1] = child.entries[0].key
		return
	}

	// rotate through the separator
	child.keys = append([][]byte{p.keys[pos-1]}, child.keys...)
	p.keys[pos-1] = left.keys[len(left.keys)-1]
	left.keys = left.keys[:len(left.keys)-1]

	child.children = append([]nodeID{left.children[len(left.children)-1]}, child.children...)
	left.children = left.children[:len(left.children)-1]
}

func (t *Tree) borrowFromRight(parent nodeID, pos int) {
	p := &t.nodes[parent]
	child := &t.nodes[p.children[pos]]
	right := &t.nodes[p.children[pos+1]]

	if child.leaf {
		first := right.entries[0]
		right.entries = right.entries[1:]
		child.entries = append(child.entries, first)
		p.keys[pos] = right.entries[0].key
		return
	}

	child.keys = append(child.keys, p.keys[pos])
	p.keys[pos] = right.keys[0]
	right.keys = right.keys[1:]

	child.children = append(child.children, right.children[0])
	right.children = right.children[1:]
}

// merge folds the |i+1|'th child of |parent| into the |i|'th and drops the
// separator between them. The emptied node is left behind in the arena.
func (t *Tree) merge(parent nodeID, i int) {
	p := &t.nodes[parent]
	left := &t.nodes[p.children[i]]
	right := &t.nodes[p.children[i+1]]

	if left.leaf {
		left.entries = append(left.entries, right.entries...)
		left.next = right.next
	} else {
		left.keys = append(left.keys, p.keys[i])
		left.keys = append(left.keys, right.keys...)
		left.children = append(left.children, right.children...)
	}

	p.keys = append(p.keys[:i], p.keys[i+1:]...)
	p.children = append(p.children[:i+1], p.children[i+2:]...)
}
