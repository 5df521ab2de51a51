package ctc

import (
	"math"
	"slices"

	"github.com/MrWong99/ctcdecode/pkg/lm"
)

// noLabel marks a node that emitted nothing (root, blank or collapsed
// repeat) and a root with no previous label.
const noLabel = -1

var negInf = math.Inf(-1)

// node is one surviving hypothesis at one timestep. Nodes are immutable once
// appended to the arena.
type node struct {
	parent int32
	// label is the label emitted on the transition from parent, or noLabel.
	label int32
	// last is the last non-blank label on the path, or noLabel.
	last int32
	// prefix identifies the output sequence in the arena's prefix trie.
	prefix int32

	state lm.State

	// Acoustic log-probability of the paths ending in blank and in a
	// non-blank label respectively.
	blank    float64
	nonBlank float64

	lm float64
}

// prefix is a trie entry for an output sequence.
type prefix struct {
	parent int32
	label  int32
	// wordStart is the prefix at which the current word begins, i.e. the
	// prefix right after the last boundary.
	wordStart int32
}

type edge struct {
	parent int32
	label  int32
}

// arena owns every node and output prefix of one decode. Nodes are appended
// and never removed, so indices stay valid until the arena is discarded.
type arena struct {
	nodes    []node
	prefixes []prefix
	children map[edge]int32
}

func newArena(sizeHint int) *arena {
	a := &arena{
		nodes:    make([]node, 0, sizeHint),
		prefixes: make([]prefix, 1, sizeHint),
		children: make(map[edge]int32, sizeHint),
	}
	a.prefixes[0] = prefix{parent: noLabel, label: noLabel, wordStart: 0}
	return a
}

// root appends the empty hypothesis and returns its index.
func (a *arena) root(state lm.State) int32 {
	return a.push(node{
		parent:   noLabel,
		label:    noLabel,
		last:     noLabel,
		state:    state,
		nonBlank: negInf,
	})
}

// extend appends a node derived from parent and returns its index.
func (a *arena) extend(parent, label, last, prefixID int32, state lm.State, blank, nonBlank, lmScore float64) int32 {
	return a.push(node{
		parent:   parent,
		label:    label,
		last:     last,
		prefix:   prefixID,
		state:    state,
		blank:    blank,
		nonBlank: nonBlank,
		lm:       lmScore,
	})
}

func (a *arena) push(n node) int32 {
	a.nodes = append(a.nodes, n)
	return int32(len(a.nodes) - 1)
}

func (a *arena) node(i int32) *node { return &a.nodes[i] }

// child returns the prefix that extends p by label, interning it on first
// use. boundary marks label as a word boundary.
func (a *arena) child(p, label int32, boundary bool) int32 {
	e := edge{parent: p, label: label}
	if id, ok := a.children[e]; ok {
		return id
	}
	id := int32(len(a.prefixes))
	ws := a.prefixes[p].wordStart
	if boundary {
		ws = id
	}
	a.prefixes = append(a.prefixes, prefix{parent: p, label: label, wordStart: ws})
	a.children[e] = id
	return id
}

// word returns the labels of the unfinished word at the end of prefix p,
// excluding any boundary.
func (a *arena) word(p int32, boundary int32) []int {
	var out []int
	stop := a.prefixes[p].wordStart
	for id := p; id != stop && id > 0; id = a.prefixes[id].parent {
		if l := a.prefixes[id].label; l != boundary {
			out = append(out, int(l))
		}
	}
	slices.Reverse(out)
	return out
}

// reconstruct walks from node i to the root and returns the emitted labels
// in order.
func (a *arena) reconstruct(i int32) []int {
	out := []int{}
	for ; i >= 0; i = a.nodes[i].parent {
		if l := a.nodes[i].label; l != noLabel {
			out = append(out, int(l))
		}
	}
	slices.Reverse(out)
	return out
}

// size returns the number of nodes.
func (a *arena) size() int { return len(a.nodes) }
