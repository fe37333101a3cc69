/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package stmt holds the statement tree: the nested, acyclic form of a scene
// that the emitter renders. Nodes refer to graph blocks by id only.
package stmt

import "vnforge/internal/graph"

// Node is one statement.
type Node interface {
	BlockID() graph.BlockID
	node()
}

// Seq is an ordered statement sequence at one nesting level.
type Seq []Node

// Leaf is a non-branching block.
type Leaf struct {
	Block graph.BlockID
}

// Cond is an if block with its two branches.
type Cond struct {
	Block graph.BlockID
	Then  Seq
	Else  Seq
}

// Option is the body of one menu choice. Index is the zero based position of
// the choice in the block's declared list.
type Option struct {
	Index int
	Body  Seq
}

// Menu is a choice menu with one body per declared choice.
type Menu struct {
	Block   graph.BlockID
	Options []Option
}

// Loop is a while or for block. The continuation after the loop follows the
// node in the parent sequence.
type Loop struct {
	Block graph.BlockID
	Body  Seq
}

func (n *Leaf) BlockID() graph.BlockID { return n.Block }
func (n *Cond) BlockID() graph.BlockID { return n.Block }
func (n *Menu) BlockID() graph.BlockID { return n.Block }
func (n *Loop) BlockID() graph.BlockID { return n.Block }

func (*Leaf) node() {}
func (*Cond) node() {}
func (*Menu) node() {}
func (*Loop) node() {}

// Entry is the top-level sequence of one label block. The label block itself
// is not part of Body.
type Entry struct {
	Block graph.BlockID
	Label string
	Body  Seq
}

// SceneTree is the resolved form of one scene.
type SceneTree struct {
	Scene   string
	Name    string
	Entries []Entry
}

// Walk visits every node of seq depth first. depth is 0 for seq itself.
// Returning false from fn skips the node's children.
func Walk(seq Seq, fn func(n Node, depth int) bool) {
	walk(seq, 0, fn)
}

func walk(seq Seq, depth int, fn func(Node, int) bool) {
	for _, n := range seq {
		if !fn(n, depth) {
			continue
		}
		switch t := n.(type) {
		case *Cond:
			walk(t.Then, depth+1, fn)
			walk(t.Else, depth+1, fn)
		case *Menu:
			for _, o := range t.Options {
				walk(o.Body, depth+1, fn)
			}
		case *Loop:
			walk(t.Body, depth+1, fn)
		}
	}
}

// Blocks lists the block ids of seq in visiting order.
func Blocks(seq Seq) []graph.BlockID {
	var out []graph.BlockID
	Walk(seq, func(n Node, _ int) bool {
		out = append(out, n.BlockID())
		return true
	})
	return out
}

// Depth returns the nesting depth at which block id appears in seq, or -1.
func Depth(seq Seq, id graph.BlockID) int {
	d := -1
	Walk(seq, func(n Node, depth int) bool {
		if d < 0 && n.BlockID() == id {
			d = depth
		}
		return d < 0
	})
	return d
}
