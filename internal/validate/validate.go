/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package validate runs structural checks over a scene. Checks never mutate
// the graph and all of them run even when an earlier one reports problems.
package validate

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"vnforge/internal/diag"
	"vnforge/internal/graph"
	"vnforge/internal/labels"
	"vnforge/internal/schema"
)

// Options tunes the checks.
type Options struct {
	// DispatchLabel is the name of the generated top-level label. Authored
	// labels may not use it.
	DispatchLabel string
}

// DefaultDispatchLabel is the label Ren'Py starts a game at.
const DefaultDispatchLabel = "start"

var labelRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// identRe matches a Python name; dotted names like persistent.seen are
// allowed where the target is a store attribute.
var (
	identRe  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	dottedRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
)

// identParams lists the parameters written verbatim as Python names.
var identParams = map[schema.Kind]struct {
	key    string
	dotted bool
}{
	schema.For:       {"variable", false},
	schema.SetVar:    {"variable", true},
	schema.Default:   {"variable", true},
	schema.Define:    {"name", true},
	schema.Character: {"name", false},
}

// LegalLabel reports whether name can be used as a Ren'Py label.
func LegalLabel(name string) bool { return labelRe.MatchString(name) }

// Scene checks one scene against the project registry and the kind catalog.
func Scene(s *graph.Scene, reg *labels.Registry, cat *schema.Catalog, opts Options) diag.List {
	if opts.DispatchLabel == "" {
		opts.DispatchLabel = DefaultDispatchLabel
	}
	if cat == nil {
		cat = schema.Builtin()
	}
	var out diag.List
	out = append(out, checkLabels(s, opts)...)
	out = append(out, checkDuplicates(s, reg)...)
	out = append(out, checkParams(s, cat)...)
	out = append(out, checkPorts(s)...)
	out = append(out, checkReachability(s)...)
	out = append(out, checkCycles(s)...)
	if len(s.Entries()) == 0 {
		out = append(out, diag.Warnf(diag.StructuralError, diag.CodeNoEntry,
			"scene %q has no entry label", s.Name).At(s.ID, 0))
	}
	return out
}

func checkLabels(s *graph.Scene, opts Options) diag.List {
	var out diag.List
	for _, b := range s.Entries() {
		name := b.Params.String("label")
		switch {
		case name == "":
			out = append(out, diag.Errorf(diag.SchemaError, diag.CodeLabelEmpty,
				"label block has no name").At(s.ID, int(b.ID)))
		case !LegalLabel(name):
			out = append(out, diag.Errorf(diag.SchemaError, diag.CodeLabelIllegal,
				"label %q is not a legal identifier", name).At(s.ID, int(b.ID)))
		case name == opts.DispatchLabel:
			out = append(out, diag.Errorf(diag.SchemaError, diag.CodeLabelReserved,
				"label %q is reserved for the generated dispatcher", name).At(s.ID, int(b.ID)))
		}
	}
	return out
}

func checkDuplicates(s *graph.Scene, reg *labels.Registry) diag.List {
	if reg == nil {
		return nil
	}
	var out diag.List
	for _, dup := range reg.Duplicates() {
		winner := dup.Defs[0]
		for _, d := range dup.Defs {
			if d.Scene != s.ID {
				continue
			}
			out = append(out, diag.Warnf(diag.StructuralError, diag.CodeLabelDuplicate,
				"label %q is defined %d times; references bind to scene %s block %d",
				dup.Name, len(dup.Defs), winner.Scene, winner.Block).At(s.ID, int(d.Block)))
		}
	}
	return out
}

func checkParams(s *graph.Scene, cat *schema.Catalog) diag.List {
	var out diag.List
	for _, b := range s.Blocks() {
		if b.Kind == schema.Label {
			continue
		}
		for _, p := range cat.Required(b.Kind) {
			if !b.Params.Has(p.Key) {
				out = append(out, diag.Errorf(diag.SchemaError, diag.CodeParamMissing,
					"%s block is missing required parameter %q", b.Kind, p.Key).At(s.ID, int(b.ID)))
			}
		}
		if ip, ok := identParams[b.Kind]; ok && b.Params.Has(ip.key) {
			name := strings.TrimSpace(b.Params.String(ip.key))
			re := identRe
			if ip.dotted {
				re = dottedRe
			}
			if !re.MatchString(name) {
				out = append(out, diag.Errorf(diag.SchemaError, diag.CodeParamIllegal,
					"%s parameter %q is not a valid Python name: %q", b.Kind, ip.key, name).At(s.ID, int(b.ID)))
			}
		}
		if b.Kind == schema.Menu {
			out = append(out, checkChoices(s.ID, b)...)
		}
	}
	return out
}

func checkChoices(scene string, b graph.Block) diag.List {
	choices := b.Params.Choices()
	if len(choices) == 0 {
		return nil
	}
	var out diag.List
	named := 0
	for i, c := range choices {
		if c.Text == "" {
			out = append(out, diag.Warnf(diag.SchemaError, diag.CodeChoiceEmpty,
				"menu choice %d has no text and is skipped", i+1).At(scene, int(b.ID)))
			continue
		}
		named++
	}
	if named == 0 {
		out = append(out, diag.Errorf(diag.SchemaError, diag.CodeParamMissing,
			"menu needs at least one choice with text").At(scene, int(b.ID)))
	}
	return out
}

// Live reports whether c leaves a port its source block still has.
func Live(s *graph.Scene, c graph.Connection) bool {
	b, ok := s.Block(c.From.Block)
	if !ok {
		return false
	}
	return b.Kind.HasOutput(c.From.Role, len(b.Params.Choices()))
}

func checkPorts(s *graph.Scene) diag.List {
	var out diag.List
	for _, c := range s.Connections() {
		if !Live(s, c) {
			out = append(out, diag.Warnf(diag.StructuralError, diag.CodeStalePort,
				"connection leaves port %s which the block no longer has; ignored", c.From).OnConn(s.ID, int(c.ID)))
		}
	}
	return out
}

func checkReachability(s *graph.Scene) diag.List {
	var out diag.List
	for _, b := range s.Blocks() {
		if b.Kind == schema.Label {
			continue
		}
		incoming := 0
		for _, c := range s.ConnectionsTo(b.ID) {
			if Live(s, c) {
				incoming++
			}
		}
		if incoming == 0 {
			out = append(out, diag.Warnf(diag.StructuralError, diag.CodeUnreachable,
				"%s block has no incoming connection and is never executed", b.Kind).At(s.ID, int(b.ID)))
		}
	}
	return out
}

// checkCycles flags strongly connected components that survive removing every
// loop-kind block. Such a cycle has no loop statement to anchor it.
func checkCycles(s *graph.Scene) diag.List {
	t := tarjan{s: s, index: map[graph.BlockID]int{}, low: map[graph.BlockID]int{}, on: map[graph.BlockID]bool{}}
	for _, b := range s.Blocks() {
		if b.Kind.IsLoop() {
			continue
		}
		if _, seen := t.index[b.ID]; !seen {
			t.visit(b.ID)
		}
	}
	var out diag.List
	for _, comp := range t.comps {
		if len(comp) == 1 && !t.selfLoop(comp[0]) {
			continue
		}
		first := comp[0]
		for _, id := range comp {
			if id < first {
				first = id
			}
		}
		out = append(out, diag.Warnf(diag.StructuralError, diag.CodeCycle,
			"blocks %s form a cycle without a loop block", idList(comp)).At(s.ID, int(first)))
	}
	return out
}

type tarjan struct {
	s     *graph.Scene
	next  int
	index map[graph.BlockID]int
	low   map[graph.BlockID]int
	on    map[graph.BlockID]bool
	stack []graph.BlockID
	comps [][]graph.BlockID
}

func (t *tarjan) edges(id graph.BlockID) []graph.BlockID {
	var out []graph.BlockID
	for _, w := range t.s.Successors(id) {
		if b, ok := t.s.Block(w); ok && !b.Kind.IsLoop() {
			out = append(out, w)
		}
	}
	return out
}

func (t *tarjan) visit(v graph.BlockID) {
	t.index[v] = t.next
	t.low[v] = t.next
	t.next++
	t.stack = append(t.stack, v)
	t.on[v] = true
	for _, w := range t.edges(v) {
		if _, seen := t.index[w]; !seen {
			t.visit(w)
			t.low[v] = min(t.low[v], t.low[w])
		} else if t.on[w] {
			t.low[v] = min(t.low[v], t.index[w])
		}
	}
	if t.low[v] != t.index[v] {
		return
	}
	var comp []graph.BlockID
	for {
		w := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]
		t.on[w] = false
		comp = append(comp, w)
		if w == v {
			break
		}
	}
	t.comps = append(t.comps, comp)
}

func (t *tarjan) selfLoop(id graph.BlockID) bool {
	for _, w := range t.edges(id) {
		if w == id {
			return true
		}
	}
	return false
}

func idList(ids []graph.BlockID) string {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ", ")
}
