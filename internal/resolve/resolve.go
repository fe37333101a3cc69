/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package resolve turns a scene graph into a statement tree.
//
// Each entry label is traversed on its own. A depth-first pass first collects
// the blocks reachable from the entry and classifies back edges; the number
// of forward edges arriving at a block decides whether it is a merge point.
// The resolution pass then builds sequences: linear runs follow single edges,
// branching blocks start one run per output port, and a merge point is
// emitted once, after the composite whose branches all arrived at it. Each
// block heads a run at most once per traversal, which bounds the work even
// for arbitrary cyclic input.
package resolve

import (
	"log/slog"
	"slices"

	"vnforge/internal/diag"
	"vnforge/internal/graph"
	"vnforge/internal/schema"
	"vnforge/internal/stmt"
)

// Options tunes a resolution pass.
type Options struct {
	Logger *slog.Logger
}

// Scene resolves every entry label of s. Diagnostics produced here are
// InternalInvariantError warnings for truncated paths.
func Scene(s *graph.Scene, opts Options) (stmt.SceneTree, diag.List) {
	tree := stmt.SceneTree{Scene: s.ID, Name: s.Name}
	var out diag.List
	for _, e := range s.Entries() {
		t := newTraversal(s, e.ID)
		body := t.root(e.ID)
		tree.Entries = append(tree.Entries, stmt.Entry{Block: e.ID, Label: e.Params.String("label"), Body: body})
		out = append(out, t.diags...)
		if opts.Logger != nil {
			opts.Logger.Debug("entry resolved", "block", int(e.ID), "reachable", len(t.expected), "truncated", len(t.diags))
		}
	}
	return tree, out
}

type edge struct {
	conn graph.ConnID
	from graph.BlockID
	to   graph.BlockID
}

type traversal struct {
	s        *graph.Scene
	expected map[graph.BlockID]int
	back     map[graph.ConnID]bool
	arrivals map[graph.BlockID]int
	emitted  map[graph.BlockID]bool
	diags    diag.List
}

func newTraversal(s *graph.Scene, entry graph.BlockID) *traversal {
	t := &traversal{
		s:        s,
		expected: map[graph.BlockID]int{entry: 0},
		back:     map[graph.ConnID]bool{},
		arrivals: map[graph.BlockID]int{},
		emitted:  map[graph.BlockID]bool{},
	}
	t.classify(entry)
	return t
}

// edges lists the live connections leaving role of block id.
func (t *traversal) edges(id graph.BlockID, role schema.Role) []edge {
	conns := t.s.ConnectionsFrom(graph.Port{Block: id, Role: role})
	out := make([]edge, 0, len(conns))
	for _, c := range conns {
		out = append(out, edge{conn: c.ID, from: id, to: c.To.Block})
	}
	return out
}

func (t *traversal) allEdges(id graph.BlockID) []edge {
	b, ok := t.s.Block(id)
	if !ok {
		return nil
	}
	var out []edge
	for _, r := range b.Kind.OutputRoles(len(b.Params.Choices())) {
		out = append(out, t.edges(id, r)...)
	}
	return out
}

// classify runs an iterative DFS from entry. Edges into a block that is on
// the DFS stack are back edges; every other edge counts towards the target's
// expected arrivals.
func (t *traversal) classify(entry graph.BlockID) {
	type frame struct {
		id    graph.BlockID
		edges []edge
		next  int
	}
	const (
		onStack = 1
		done    = 2
	)
	state := map[graph.BlockID]int{entry: onStack}
	stack := []*frame{{id: entry, edges: t.allEdges(entry)}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		if f.next == len(f.edges) {
			state[f.id] = done
			stack = stack[:len(stack)-1]
			continue
		}
		e := f.edges[f.next]
		f.next++
		switch state[e.to] {
		case onStack:
			t.back[e.conn] = true
		case done:
			t.expected[e.to]++
		default:
			t.expected[e.to]++
			state[e.to] = onStack
			stack = append(stack, &frame{id: e.to, edges: t.allEdges(e.to)})
		}
	}
}

func (t *traversal) merge(id graph.BlockID) bool { return t.expected[id] > 1 }

func (t *traversal) revisit(e edge, why string) {
	d := diag.Warnf(diag.InternalInvariantError, diag.CodeRevisit,
		"path from block %d to block %d truncated: %s", e.from, e.to, why).OnConn(t.s.ID, int(e.conn))
	d.Block = int(e.from)
	t.diags = append(t.diags, d)
}

// root resolves one entry. Merge points still incomplete after the entry's
// run (an arriving path was truncated) are emitted at the top level.
func (t *traversal) root(entry graph.BlockID) stmt.Seq {
	t.emitted[entry] = true
	seq, exits := t.chain(entry, nil, true)
	for {
		more, rest := t.settle(exits, nil)
		seq = append(seq, more...)
		rest = t.pending(rest)
		if len(rest) == 0 {
			return seq
		}
		forced, ex := t.run(rest[0], nil)
		seq = append(seq, forced...)
		exits = append(rest[1:], ex...)
	}
}

// run resolves the linear run headed by head.
func (t *traversal) run(head graph.BlockID, loops []graph.BlockID) (stmt.Seq, []graph.BlockID) {
	if t.emitted[head] {
		return nil, nil
	}
	t.emitted[head] = true
	return t.chain(head, loops, false)
}

// chain builds the node for cur and keeps following single plain edges. An
// entry block produces no node of its own; the run starts at its "next" port.
func (t *traversal) chain(cur graph.BlockID, loops []graph.BlockID, entry bool) (stmt.Seq, []graph.BlockID) {
	var (
		seq    stmt.Seq
		cands  []graph.BlockID
		follow []edge
	)
	if entry {
		follow = t.edges(cur, schema.RoleNext)
	}
	for {
		if !entry {
			var (
				node  stmt.Node
				exits []graph.BlockID
			)
			node, follow, exits = t.node(cur, loops)
			seq = append(seq, node)
			cands = append(cands, exits...)
		}
		entry = false

		if next, ok := t.plain(follow, loops); ok {
			t.emitted[next] = true
			cur = next
			continue
		}
		if len(follow) > 0 {
			fseq, fex := t.branch(follow, loops)
			seq = append(seq, fseq...)
			cands = append(cands, fex...)
		}
		break
	}
	more, exits := t.settle(cands, loops)
	return append(seq, more...), exits
}

// plain returns the target of follow when it is the only edge and leads to a
// block no other path arrives at.
func (t *traversal) plain(follow []edge, loops []graph.BlockID) (graph.BlockID, bool) {
	if len(follow) != 1 {
		return 0, false
	}
	e := follow[0]
	if t.back[e.conn] || t.emitted[e.to] || t.merge(e.to) || slices.Contains(loops, e.to) {
		return 0, false
	}
	return e.to, true
}

// node builds the statement for block id. It returns the edges that continue
// the run at this level and the merge points its branches stopped at.
func (t *traversal) node(id graph.BlockID, loops []graph.BlockID) (stmt.Node, []edge, []graph.BlockID) {
	b, _ := t.s.Block(id)
	switch b.Kind.Class() {
	case schema.ClassTerminal:
		return &stmt.Leaf{Block: id}, nil, nil
	case schema.ClassConditional:
		then, ex1 := t.branch(t.edges(id, schema.RoleThen), loops)
		els, ex2 := t.branch(t.edges(id, schema.RoleElse), loops)
		return &stmt.Cond{Block: id, Then: then, Else: els}, nil, append(ex1, ex2...)
	case schema.ClassMenu:
		n := &stmt.Menu{Block: id}
		var exits []graph.BlockID
		for i := range b.Params.Choices() {
			body, ex := t.branch(t.edges(id, schema.OptionRole(i)), loops)
			n.Options = append(n.Options, stmt.Option{Index: i, Body: body})
			exits = append(exits, ex...)
		}
		return n, nil, exits
	case schema.ClassLoop:
		inner := append(slices.Clone(loops), id)
		body, ex := t.branch(t.edges(id, schema.RoleBody), inner)
		return &stmt.Loop{Block: id, Body: body}, t.edges(id, schema.RoleAfter), ex
	default:
		return &stmt.Leaf{Block: id}, t.edges(id, schema.RoleNext), nil
	}
}

// branch resolves the targets of one output port. A single target's merge
// points are handed to the caller; fan-out targets are emitted one after the
// other and the merges they share are settled here.
func (t *traversal) branch(edges []edge, loops []graph.BlockID) (stmt.Seq, []graph.BlockID) {
	var (
		seq   stmt.Seq
		exits []graph.BlockID
	)
	for _, e := range edges {
		switch {
		case slices.Contains(loops, e.to):
			// implicit continue
		case t.back[e.conn]:
			t.revisit(e, "cycle without a loop block")
		case t.emitted[e.to]:
			t.revisit(e, "block already emitted")
		case t.merge(e.to):
			t.arrivals[e.to]++
			exits = append(exits, e.to)
		default:
			s, ex := t.run(e.to, loops)
			seq = append(seq, s...)
			exits = append(exits, ex...)
		}
	}
	if len(edges) > 1 {
		more, rest := t.settle(exits, loops)
		return append(seq, more...), rest
	}
	return seq, exits
}

// settle emits every candidate merge point whose expected arrivals are all in,
// earliest candidate first, and returns the rest.
func (t *traversal) settle(cands []graph.BlockID, loops []graph.BlockID) (stmt.Seq, []graph.BlockID) {
	var seq stmt.Seq
	for {
		cands = t.pending(cands)
		i := slices.IndexFunc(cands, func(id graph.BlockID) bool {
			return t.arrivals[id] >= t.expected[id]
		})
		if i < 0 {
			return seq, cands
		}
		s, ex := t.run(cands[i], loops)
		seq = append(seq, s...)
		cands = append(slices.Delete(cands, i, i+1), ex...)
	}
}

// pending drops emitted blocks and duplicates, keeping first occurrences.
func (t *traversal) pending(ids []graph.BlockID) []graph.BlockID {
	out := ids[:0:0]
	for _, id := range ids {
		if !t.emitted[id] && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
