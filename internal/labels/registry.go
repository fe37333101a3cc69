/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package labels indexes the entry labels of a project. The registry is
// rebuilt from scratch for every compile and never updated in place.
package labels

import (
	"sort"

	"vnforge/internal/graph"
	"vnforge/internal/schema"
)

// Def is one label definition.
type Def struct {
	Name  string
	Scene string
	Block graph.BlockID
}

// Duplicate lists every definition of a name defined more than once.
type Duplicate struct {
	Name string
	Defs []Def
}

// Registry maps label names to their definitions.
type Registry struct {
	byName  map[string][]Def
	order   []Def
	dropped map[string][]Def
}

// Rebuild scans every label block of p in scene order, then block id order.
// Blocks with a blank label are skipped; the validator reports them.
func Rebuild(p *graph.Project) *Registry {
	r := &Registry{byName: map[string][]Def{}}
	if p == nil {
		return r
	}
	for _, s := range p.Scenes() {
		for _, b := range s.Entries() {
			name := b.Params.String("label")
			if name == "" {
				continue
			}
			d := Def{Name: name, Scene: s.ID, Block: b.ID}
			r.byName[name] = append(r.byName[name], d)
			r.order = append(r.order, d)
		}
	}
	return r
}

// Lookup binds name to its first definition.
func (r *Registry) Lookup(name string) (Def, bool) {
	defs := r.byName[name]
	if len(defs) == 0 {
		return Def{}, false
	}
	return defs[0], true
}

// Without returns a registry with the definitions of the given scenes
// removed. Lookups that would have bound to a removed definition rebind to
// the next remaining one; Excluded reports what was removed.
func (r *Registry) Without(scenes map[string]bool) *Registry {
	out := &Registry{byName: map[string][]Def{}, dropped: map[string][]Def{}}
	for _, d := range r.order {
		if scenes[d.Scene] {
			out.dropped[d.Name] = append(out.dropped[d.Name], d)
			continue
		}
		out.byName[d.Name] = append(out.byName[d.Name], d)
		out.order = append(out.order, d)
	}
	return out
}

// Excluded returns the first definition of name removed by Without.
func (r *Registry) Excluded(name string) (Def, bool) {
	defs := r.dropped[name]
	if len(defs) == 0 {
		return Def{}, false
	}
	return defs[0], true
}

// Definitions returns all definitions of name in registry order.
func (r *Registry) Definitions(name string) []Def {
	return append([]Def(nil), r.byName[name]...)
}

// Binds reports whether the definition at (scene, block) is the one a lookup
// of its name resolves to.
func (r *Registry) Binds(scene string, block graph.BlockID) bool {
	for _, d := range r.order {
		if d.Scene == scene && d.Block == block {
			first, _ := r.Lookup(d.Name)
			return first == d
		}
	}
	return false
}

// Duplicates reports every name with more than one definition, ordered by
// the position of its first definition.
func (r *Registry) Duplicates() []Duplicate {
	var out []Duplicate
	seen := map[string]bool{}
	for _, d := range r.order {
		if seen[d.Name] {
			continue
		}
		seen[d.Name] = true
		if defs := r.byName[d.Name]; len(defs) > 1 {
			out = append(out, Duplicate{Name: d.Name, Defs: append([]Def(nil), defs...)})
		}
	}
	return out
}

// All returns every definition in registry order.
func (r *Registry) All() []Def { return append([]Def(nil), r.order...) }

// Names returns the distinct label names sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for n := range r.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of distinct names.
func (r *Registry) Len() int { return len(r.byName) }

// References lists the jump and call blocks of p whose target names the
// label. Menu choices with a jump field count too.
func References(p *graph.Project, name string) []Def {
	var out []Def
	for _, s := range p.Scenes() {
		for _, b := range s.Blocks() {
			switch b.Kind {
			case schema.Jump, schema.Call:
				if b.Params.String("target") == name {
					out = append(out, Def{Name: name, Scene: s.ID, Block: b.ID})
				}
			case schema.Menu:
				for _, c := range b.Params.Choices() {
					if c.Jump == name {
						out = append(out, Def{Name: name, Scene: s.ID, Block: b.ID})
						break
					}
				}
			}
		}
	}
	return out
}
