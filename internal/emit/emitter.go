/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package emit renders statement trees as Ren'Py script text.
//
// The emitter writes a header, the project definitions, the generated
// dispatcher label and then one section per scene, in the order the caller
// asks for them. Indentation tracks statement nesting only. Jump and call
// targets are looked up in the label registry; unresolved ones are left out
// of the script and reported as ReferenceError diagnostics.
package emit

import (
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"vnforge/internal/assets"
	"vnforge/internal/diag"
	"vnforge/internal/graph"
	"vnforge/internal/labels"
	applog "vnforge/internal/log"
	"vnforge/internal/schema"
	"vnforge/internal/stmt"
)

// Options controls the emitted layout.
type Options struct {
	// Indent is the number of spaces per nesting level. Zero means 4.
	Indent int
	// DispatchLabel names the generated top-level label. Empty means "start".
	DispatchLabel string
	// Generator names the tool in the header comment.
	Generator string
	Catalog   *schema.Catalog
	Logger    *slog.Logger
}

// Emitter renders one script. It is used for a single compile and discarded.
type Emitter struct {
	opts     Options
	reg      *labels.Registry
	assets   *assets.Resolver
	w        writer
	diags    diag.List
	speakers map[string]string
}

// New returns an emitter resolving references through reg and file
// parameters through res.
func New(reg *labels.Registry, res *assets.Resolver, opts Options) *Emitter {
	if opts.Indent <= 0 {
		opts.Indent = 4
	}
	if opts.DispatchLabel == "" {
		opts.DispatchLabel = "start"
	}
	if opts.Generator == "" {
		opts.Generator = "vnforge"
	}
	if opts.Catalog == nil {
		opts.Catalog = schema.Builtin()
	}
	if opts.Logger == nil {
		opts.Logger = applog.WithComponent("emit")
	}
	if reg == nil {
		reg = labels.Rebuild(nil)
	}
	if res == nil {
		res = assets.NewResolver("")
	}
	e := &Emitter{opts: opts, reg: reg, assets: res, speakers: map[string]string{}}
	e.w.unit = strings.Repeat(" ", opts.Indent)
	return e
}

// Text returns the script written so far.
func (e *Emitter) Text() string { return e.w.b.String() }

// Diagnostics returns the reference errors recorded while emitting.
func (e *Emitter) Diagnostics() diag.List { return e.diags }

// Header writes the generated-file banner.
func (e *Emitter) Header() {
	e.w.line("# Generated by %s", e.opts.Generator)
	e.w.line("# This file is auto-generated. Do not edit manually.")
	e.w.blank()
}

// Definitions writes project-level images, characters and variables and
// defines a Character for every speaker of the given trees that has no
// definition of its own.
func (e *Emitter) Definitions(p *graph.Project, scenes []*graph.Scene, trees []stmt.SceneTree) {
	if len(p.Images) > 0 {
		e.w.line("# Image Definitions")
		for _, name := range sortedKeys(p.Images) {
			e.w.line("image %s = %s", name, quote(e.assets.Resolve(p.Images[name], schema.AssetImages)))
		}
		e.w.blank()
	}
	if len(p.Characters) > 0 {
		e.w.line("# Character Definitions")
		for _, name := range sortedKeys(p.Characters) {
			e.w.line("define %s = %s", name, character(p.Characters[name]))
		}
		e.w.blank()
	}
	if len(p.Variables) > 0 {
		e.w.line("# Variables")
		for _, name := range sortedKeys(p.Variables) {
			e.w.line("default %s = %s", name, valueLiteral(p.Variables[name]))
		}
		e.w.blank()
	}

	auto := e.collectSpeakers(p, scenes, trees)
	if len(auto) > 0 {
		e.w.line("# Characters (auto-detected)")
		for _, who := range auto {
			e.w.line("define %s = Character(%s)", e.speakers[who], singleQuote(who))
		}
		e.w.blank()
	}
}

// collectSpeakers maps every say speaker to the identifier used in say lines
// and returns, sorted, the speakers that still need a definition.
func (e *Emitter) collectSpeakers(p *graph.Project, scenes []*graph.Scene, trees []stmt.SceneTree) []string {
	defined := map[string]bool{}
	for name := range p.Characters {
		defined[name] = true
	}
	var whos []string
	seen := map[string]bool{}
	for i, tree := range trees {
		sc := scenes[i]
		for _, en := range tree.Entries {
			for _, id := range stmt.Blocks(en.Body) {
				b, ok := sc.Block(id)
				if !ok {
					continue
				}
				switch b.Kind {
				case schema.Character:
					if n := b.Params.String("name"); n != "" {
						defined[n] = true
					}
				case schema.Say:
					if who := b.Params.String("who"); who != "" && !seen[who] {
						seen[who] = true
						whos = append(whos, who)
					}
				}
			}
		}
	}
	sort.Strings(whos)

	taken := map[string]string{}
	var auto []string
	for _, who := range whos {
		if defined[who] {
			e.speakers[who] = who
			taken[who] = who
		}
	}
	for _, who := range whos {
		if defined[who] {
			continue
		}
		id := identifier(who)
		for n := 2; ; n++ {
			if owner, ok := taken[id]; !ok || owner == who {
				break
			}
			id = identifier(who) + "_" + strconv.Itoa(n)
		}
		taken[id] = who
		e.speakers[who] = id
		auto = append(auto, who)
	}
	return auto
}

// Dispatcher writes the generated top-level label. With no entry point it
// returns immediately.
func (e *Emitter) Dispatcher(first string) {
	e.w.line("label %s:", e.opts.DispatchLabel)
	e.w.indent()
	if first == "" {
		e.w.line("return")
	} else {
		e.w.line("jump %s", first)
	}
	e.w.dedent()
	e.w.blank()
}

// Scene writes the labels of one resolved scene.
func (e *Emitter) Scene(s *graph.Scene, tree stmt.SceneTree) {
	e.w.line("# Scene: %s", s.Name)
	for _, en := range tree.Entries {
		if en.Label == "" {
			continue
		}
		if !e.reg.Binds(s.ID, en.Block) {
			first, _ := e.reg.Lookup(en.Label)
			e.w.line("# label %s is already defined in scene %s (block %d); skipped", en.Label, first.Scene, first.Block)
			continue
		}
		e.w.line("label %s:", en.Label)
		e.body(s, en.Body)
	}
	e.w.blank()
}

// Skipped writes the placeholder for a scene whose errors blocked emission.
func (e *Emitter) Skipped(s *graph.Scene, errs int) {
	e.w.line("# Scene: %s", s.Name)
	e.w.line("# skipped: %d error(s)", errs)
	e.w.blank()
}

// body writes seq one level deeper, falling back to pass when nothing was
// written.
func (e *Emitter) body(s *graph.Scene, seq stmt.Seq) {
	e.w.indent()
	before := e.w.lines
	e.seq(s, seq)
	if e.w.lines == before {
		e.w.line("pass")
	}
	e.w.dedent()
}

func (e *Emitter) seq(s *graph.Scene, seq stmt.Seq) {
	for _, n := range seq {
		b, ok := s.Block(n.BlockID())
		if !ok {
			continue
		}
		switch t := n.(type) {
		case *stmt.Cond:
			e.w.line("if %s:", b.Params.String("condition"))
			e.body(s, t.Then)
			if len(t.Else) > 0 {
				e.w.line("else:")
				e.body(s, t.Else)
			}
		case *stmt.Menu:
			e.menu(s, b, t)
		case *stmt.Loop:
			e.loop(s, b, t)
		default:
			e.leaf(s, b)
		}
	}
}

func (e *Emitter) menu(s *graph.Scene, b graph.Block, n *stmt.Menu) {
	if q := b.Params.String("question"); q != "" {
		e.w.line("%s", quote(q))
	}
	bodies := make(map[int]stmt.Seq, len(n.Options))
	for _, o := range n.Options {
		bodies[o.Index] = o.Body
	}
	e.w.line("menu:")
	e.w.indent()
	for i, c := range b.Params.Choices() {
		if c.Text == "" {
			continue
		}
		if c.Condition != "" {
			e.w.line("%s if %s:", quote(c.Text), c.Condition)
		} else {
			e.w.line("%s:", quote(c.Text))
		}
		e.w.indent()
		before := e.w.lines
		e.seq(s, bodies[i])
		if c.Jump != "" {
			e.reference(s, b, "jump", c.Jump)
		}
		if e.w.lines == before {
			e.w.line("pass")
		}
		e.w.dedent()
	}
	e.w.dedent()
}

func (e *Emitter) loop(s *graph.Scene, b graph.Block, n *stmt.Loop) {
	if b.Kind == schema.While {
		e.w.line("while %s:", b.Params.String("condition"))
		e.body(s, n.Body)
		return
	}
	// Ren'Py script has no for statement; iterate a private copy instead.
	tmp := "_for_" + strconv.Itoa(int(b.ID))
	e.w.line("$ %s = list(%s)", tmp, b.Params.String("iterable"))
	e.w.line("while %s:", tmp)
	e.w.indent()
	e.w.line("$ %s = %s.pop(0)", b.Params.String("variable"), tmp)
	e.seq(s, n.Body)
	e.w.dedent()
}

// reference writes a jump or call when target resolves and records a
// ReferenceError otherwise.
func (e *Emitter) reference(s *graph.Scene, b graph.Block, verb, target string) {
	if _, ok := e.reg.Lookup(target); ok {
		e.w.line("%s %s", verb, target)
		return
	}
	e.opts.Logger.Warn("unresolved reference omitted", "scene", s.ID, "block", int(b.ID), "verb", verb, "target", target)
	if def, skipped := e.reg.Excluded(target); skipped {
		e.diags = append(e.diags, diag.Warnf(diag.ReferenceError, diag.CodeUnresolvedTarget,
			"%s target %q is defined in skipped scene %s; statement omitted", verb, target, def.Scene).At(s.ID, int(b.ID)))
		return
	}
	e.diags = append(e.diags, diag.Warnf(diag.ReferenceError, diag.CodeUnresolvedTarget,
		"%s target %q does not exist; statement omitted", verb, target).At(s.ID, int(b.ID)))
}

func (e *Emitter) speaker(who string) string {
	if id, ok := e.speakers[who]; ok {
		return id
	}
	return identifier(who)
}

func character(display string) string {
	if display == "" {
		return "Character(None)"
	}
	return "Character(" + singleQuote(display) + ")"
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
