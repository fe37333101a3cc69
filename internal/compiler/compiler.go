/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package compiler runs the whole pipeline for a project: label registry,
// validation, resolution and emission. A compile is synchronous and keeps no
// state between calls; Scheduler serialises compiles triggered by edits.
package compiler

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"vnforge/internal/assets"
	"vnforge/internal/diag"
	"vnforge/internal/emit"
	"vnforge/internal/graph"
	"vnforge/internal/labels"
	applog "vnforge/internal/log"
	"vnforge/internal/resolve"
	"vnforge/internal/schema"
	"vnforge/internal/stmt"
	"vnforge/internal/validate"
)

// Options configures a compile.
type Options struct {
	// TargetRoot is the game project the script will be placed in. Asset
	// paths are made relative to <TargetRoot>/game.
	TargetRoot    string
	DispatchLabel string
	Indent        int
	// Generator names the tool in the script banner.
	Generator string
	// OmitHeader leaves the banner out, e.g. for golden-file comparisons.
	OmitHeader bool
	Catalog    *schema.Catalog
	Logger     *slog.Logger
}

// SceneResult summarises one scene of a compile.
type SceneResult struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Emitted  bool     `json:"emitted"`
	Errors   int      `json:"errors"`
	Warnings int      `json:"warnings"`
	Entries  []string `json:"entries,omitempty"`
}

// Result is the outcome of one compile.
type Result struct {
	Project     string        `json:"project"`
	Script      string        `json:"-"`
	Hash        string        `json:"hash"`
	Diagnostics diag.List     `json:"diagnostics"`
	Scenes      []SceneResult `json:"scenes"`
	Assets      []assets.Copy `json:"assets"`

	// Entry is the label the dispatcher jumps to, empty when none exists.
	Entry string `json:"entry,omitempty"`
	// Request is the scheduler sequence number; zero for direct compiles.
	Request  uint64        `json:"request,omitempty"`
	Duration time.Duration `json:"duration"`

	Registry *labels.Registry `json:"-"`
}

// Counts returns the number of error and warning diagnostics.
func (r *Result) Counts() (errs, warns int) { return r.Diagnostics.Count() }

// Compile translates p into a Ren'Py script. It never fails: problems are
// reported as diagnostics and a scene with errors is left out of the script.
func Compile(p *graph.Project, opts Options) *Result {
	start := time.Now()
	if opts.Catalog == nil {
		opts.Catalog = schema.Builtin()
	}
	if opts.DispatchLabel == "" {
		opts.DispatchLabel = validate.DefaultDispatchLabel
	}
	l := opts.Logger
	if l == nil {
		l = applog.WithComponent("compiler")
	}
	l = applog.WithOperation(l, "compile")

	reg := labels.Rebuild(p)
	res := &Result{Project: p.Name, Registry: reg}

	var (
		all     diag.List
		emitted []*graph.Scene
		trees   []stmt.SceneTree
		skipped = map[string]int{}
	)
	for _, s := range p.Scenes() {
		sl := applog.WithScene(l, s.ID)
		ds := validate.Scene(s, reg, opts.Catalog, validate.Options{DispatchLabel: opts.DispatchLabel})
		if ds.HasErrors() {
			errs, _ := ds.Count()
			skipped[s.ID] = errs
			all = append(all, ds...)
			all = append(all, diag.Errorf(diag.SchemaError, diag.CodeSceneSkipped,
				"scene %q not emitted: %d error(s)", s.Name, errs).At(s.ID, 0))
			sl.Warn("scene skipped", "errors", errs)
			continue
		}
		tree, rd := resolve.Scene(s, resolve.Options{Logger: sl})
		all = append(all, ds...)
		all = append(all, rd...)
		emitted = append(emitted, s)
		trees = append(trees, tree)
		sl.Debug("scene resolved", "entries", len(tree.Entries), "warnings", len(ds)+len(rd))
	}

	// references and duplicates bind among the scenes that are emitted
	if len(skipped) > 0 {
		gone := make(map[string]bool, len(skipped))
		for id := range skipped {
			gone[id] = true
		}
		reg = reg.Without(gone)
		res.Registry = reg
	}

	for i, tree := range trees {
		for _, en := range tree.Entries {
			if en.Label != "" && reg.Binds(emitted[i].ID, en.Block) {
				res.Entry = en.Label
				break
			}
		}
		if res.Entry != "" {
			break
		}
	}

	resolver := assets.NewResolver(opts.TargetRoot)
	e := emit.New(reg, resolver, emit.Options{
		Indent:        opts.Indent,
		DispatchLabel: opts.DispatchLabel,
		Generator:     opts.Generator,
		Catalog:       opts.Catalog,
		Logger:        l,
	})
	if !opts.OmitHeader {
		e.Header()
	}
	e.Definitions(p, emitted, trees)
	e.Dispatcher(res.Entry)
	next := 0
	for _, s := range p.Scenes() {
		if errs, ok := skipped[s.ID]; ok {
			e.Skipped(s, errs)
			continue
		}
		e.Scene(s, trees[next])
		next++
	}
	all = append(all, e.Diagnostics()...)
	all.Sort(p.SceneOrder())

	res.Script = e.Text()
	sum := sha256.Sum256([]byte(res.Script))
	res.Hash = hex.EncodeToString(sum[:])
	res.Diagnostics = all
	res.Assets = resolver.AssetsToCopy()
	res.Scenes = summarise(p, all, skipped, trees)
	res.Duration = time.Since(start)

	errs, warns := all.Count()
	l.Info("compiled", "project", p.Name, "scenes", len(p.Scenes()), "errors", errs, "warnings", warns,
		"assets", len(res.Assets), "bytes", len(res.Script), "took", res.Duration)
	return res
}

func summarise(p *graph.Project, all diag.List, skipped map[string]int, trees []stmt.SceneTree) []SceneResult {
	byScene := map[string]stmt.SceneTree{}
	for _, t := range trees {
		byScene[t.Scene] = t
	}
	out := make([]SceneResult, 0, len(p.Scenes()))
	for _, s := range p.Scenes() {
		sr := SceneResult{ID: s.ID, Name: s.Name}
		_, skip := skipped[s.ID]
		sr.Emitted = !skip
		sr.Errors, sr.Warnings = all.Filter(func(d diag.Diagnostic) bool { return d.Scene == s.ID }).Count()
		for _, en := range byScene[s.ID].Entries {
			sr.Entries = append(sr.Entries, en.Label)
		}
		out = append(out, sr)
	}
	return out
}
