/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package compiler

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vnforge/internal/diag"
	"vnforge/internal/graph"
	"vnforge/internal/schema"

	"github.com/stretchr/testify/require"
)

type sb struct {
	t *testing.T
	s *graph.Scene
}

func scene(t *testing.T, p *graph.Project, id, name string) sb {
	t.Helper()
	s := graph.NewScene(id, name)
	require.NoError(t, p.AddScene(s))
	return sb{t: t, s: s}
}

func (b sb) add(k schema.Kind, params graph.Params) graph.BlockID {
	b.t.Helper()
	id, err := b.s.AddBlock(k, params, 0, 0)
	require.NoError(b.t, err)
	return id
}

func (b sb) link(from graph.BlockID, role schema.Role, to graph.BlockID) {
	b.t.Helper()
	_, err := b.s.AddConnection(graph.Port{Block: from, Role: role}, graph.Port{Block: to, Role: schema.RoleIn})
	require.NoError(b.t, err)
}

func (b sb) chain(ids ...graph.BlockID) {
	for i := 1; i < len(ids); i++ {
		b.link(ids[i-1], schema.RoleNext, ids[i])
	}
}

func story(t *testing.T) *graph.Project {
	p := graph.NewProject("story")
	p.Characters["e"] = "Eileen"
	a := scene(t, p, "s1", "Morning")
	l := a.add(schema.Label, graph.Params{"label": "morning"})
	say := a.add(schema.Say, graph.Params{"who": "e", "text": "Good morning."})
	cond := a.add(schema.If, graph.Params{"condition": "coffee"})
	drink := a.add(schema.Narration, graph.Params{"text": "You drink coffee."})
	tea := a.add(schema.Narration, graph.Params{"text": "You drink tea."})
	leave := a.add(schema.Say, graph.Params{"who": "e", "text": "Let's go."})
	jump := a.add(schema.Jump, graph.Params{"target": "evening"})
	a.chain(l, say, cond)
	a.link(cond, schema.RoleThen, drink)
	a.link(cond, schema.RoleElse, tea)
	a.chain(drink, leave)
	a.chain(tea, leave)
	a.chain(leave, jump)

	b := scene(t, p, "s2", "Evening")
	l2 := b.add(schema.Label, graph.Params{"label": "evening"})
	call := b.add(schema.Call, graph.Params{"target": "morning"})
	ret := b.add(schema.Return, nil)
	b.chain(l2, call, ret)
	return p
}

func TestCompileIsDeterministic(t *testing.T) {
	p := story(t)
	first := Compile(p, Options{})
	second := Compile(p, Options{})
	require.Equal(t, first.Script, second.Script)
	require.Equal(t, first.Hash, second.Hash)
	require.Equal(t, first.Diagnostics, second.Diagnostics)
	require.Equal(t, first.Script, Compile(p.Clone(), Options{}).Script)
}

func TestBranchMergeShape(t *testing.T) {
	res := Compile(story(t), Options{})
	require.Empty(t, res.Diagnostics)
	want := strings.Join([]string{
		"label morning:",
		`    e "Good morning."`,
		"    if coffee:",
		`        "You drink coffee."`,
		"    else:",
		`        "You drink tea."`,
		`    e "Let's go."`,
		"    jump evening",
	}, "\n")
	require.Contains(t, res.Script, want)
	require.Equal(t, 1, strings.Count(res.Script, "Let's go."))
}

func TestLabelRoundTrip(t *testing.T) {
	res := Compile(story(t), Options{})
	require.Contains(t, res.Script, "label start:\n    jump morning\n")
	require.Contains(t, res.Script, "    jump evening\n")
	require.Contains(t, res.Script, "    call morning\n")
	require.Empty(t, res.Diagnostics.ByCategory(diag.ReferenceError))
	require.Equal(t, "morning", res.Entry)
	require.Len(t, res.Scenes, 2)
	require.True(t, res.Scenes[0].Emitted)
	require.Equal(t, []string{"evening"}, res.Scenes[1].Entries)
}

func TestDuplicateLabelsBindToFirstScene(t *testing.T) {
	p := graph.NewProject("dup")
	a := scene(t, p, "a", "A")
	b := scene(t, p, "b", "B")
	la := a.add(schema.Label, graph.Params{"label": "same"})
	a.chain(la, a.add(schema.Say, graph.Params{"text": "from a"}))
	lb := b.add(schema.Label, graph.Params{"label": "same"})
	b.chain(lb, b.add(schema.Jump, graph.Params{"target": "same"}))

	res := Compile(p, Options{})
	dups := res.Diagnostics.Filter(func(d diag.Diagnostic) bool { return d.Code == diag.CodeLabelDuplicate })
	require.Len(t, dups, 2)
	require.Equal(t, "a", dups[0].Scene)
	require.Equal(t, "b", dups[1].Scene)
	require.False(t, res.Diagnostics.HasErrors())

	def, ok := res.Registry.Lookup("same")
	require.True(t, ok)
	require.Equal(t, "a", def.Scene)
	require.Equal(t, 1, strings.Count(res.Script, "label same:"))
	require.Contains(t, res.Script, `"from a"`)
}

func TestLoopCompilesWithoutRepeatingHead(t *testing.T) {
	p := graph.NewProject("loop")
	a := scene(t, p, "s", "S")
	l := a.add(schema.Label, graph.Params{"label": "count"})
	w := a.add(schema.While, graph.Params{"condition": "n < 3"})
	inc := a.add(schema.SetVar, graph.Params{"variable": "n", "value": "n + 1"})
	a.chain(l, w)
	a.link(w, schema.RoleBody, inc)
	a.link(inc, schema.RoleNext, w)

	done := make(chan *Result, 1)
	go func() { done <- Compile(p, Options{}) }()
	var res *Result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("compile did not terminate")
	}
	require.Equal(t, 1, strings.Count(res.Script, "while n < 3:"))
	require.Contains(t, res.Script, "    while n < 3:\n        $ n = \"n + 1\"\n")
	require.Empty(t, res.Diagnostics)
}

func TestSharedAssetsProduceOneCopy(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(t.TempDir(), "bg.png")
	p := graph.NewProject("assets")
	p.Images["room"] = src
	a := scene(t, p, "s", "S")
	l := a.add(schema.Label, graph.Params{"label": "x"})
	i1 := a.add(schema.Image, graph.Params{"name": "room2", "path": src})
	i2 := a.add(schema.Image, graph.Params{"name": "room3", "path": src})
	a.chain(l, i1, i2)

	res := Compile(p, Options{TargetRoot: root})
	require.Len(t, res.Assets, 1)
	require.Equal(t, filepath.Join(root, "game", "images", "bg.png"), res.Assets[0].Dest)
	require.Equal(t, 3, strings.Count(res.Script, `"images/bg.png"`))
}

func TestEmptyGraph(t *testing.T) {
	p := graph.NewProject("empty")
	scene(t, p, "s", "Nothing")

	res := Compile(p, Options{})
	require.Contains(t, res.Script, "label start:\n    return\n")
	require.False(t, res.Diagnostics.HasErrors())
	nd := res.Diagnostics.Filter(func(d diag.Diagnostic) bool { return d.Code == diag.CodeNoEntry })
	require.Len(t, nd, 1)
	require.Equal(t, diag.Warning, nd[0].Severity)
	require.Empty(t, res.Entry)
}

func TestUnresolvedReference(t *testing.T) {
	p := graph.NewProject("refs")
	a := scene(t, p, "s", "S")
	l := a.add(schema.Label, graph.Params{"label": "x"})
	before := a.add(schema.Say, graph.Params{"text": "before"})
	j := a.add(schema.Jump, graph.Params{"target": "missing"})
	a.chain(l, before, j)

	res := Compile(p, Options{})
	refs := res.Diagnostics.ByCategory(diag.ReferenceError)
	require.Len(t, refs, 1)
	require.Equal(t, int(j), refs[0].Block)
	require.NotContains(t, res.Script, "missing")
	require.Contains(t, res.Script, "label x:\n    \"before\"\n")
}

func TestSchemaErrorSkipsOnlyThatScene(t *testing.T) {
	p := graph.NewProject("broken")
	bad := scene(t, p, "bad", "Bad")
	l := bad.add(schema.Label, graph.Params{"label": "bad"})
	bad.chain(l, bad.add(schema.Say, graph.Params{"who": "e"}))
	good := scene(t, p, "good", "Good")
	lg := good.add(schema.Label, graph.Params{"label": "good"})
	good.chain(lg, good.add(schema.Return, nil))

	res := Compile(p, Options{})
	require.True(t, res.Diagnostics.HasErrors())
	require.Contains(t, res.Script, "# Scene: Bad\n# skipped: 1 error(s)\n")
	require.NotContains(t, res.Script, "label bad:")
	require.Contains(t, res.Script, "label start:\n    jump good\n")
	require.False(t, res.Scenes[0].Emitted)
	require.Equal(t, 2, res.Scenes[0].Errors)
	require.True(t, res.Scenes[1].Emitted)
}

func TestReferenceIntoSkippedSceneIsOmitted(t *testing.T) {
	p := graph.NewProject("broken")
	bad := scene(t, p, "bad", "Bad")
	bad.chain(bad.add(schema.Label, graph.Params{"label": "ending"}), bad.add(schema.Say, graph.Params{"who": "e"}))
	good := scene(t, p, "good", "Good")
	good.chain(good.add(schema.Label, graph.Params{"label": "intro"}), good.add(schema.Jump, graph.Params{"target": "ending"}))

	res := Compile(p, Options{})
	require.NotContains(t, res.Script, "jump ending")
	require.NotContains(t, res.Script, "label ending:")
	require.Contains(t, res.Script, "label intro:\n    pass\n")
	require.Equal(t, "intro", res.Entry)

	refs := res.Diagnostics.ByCategory(diag.ReferenceError)
	require.Len(t, refs, 1)
	require.Equal(t, diag.CodeUnresolvedTarget, refs[0].Code)
	require.Equal(t, "good", refs[0].Scene)
	require.Contains(t, refs[0].Message, "skipped scene bad")
	require.True(t, res.Scenes[1].Emitted)
}

func TestDuplicateInEmittedSceneWinsOverSkippedOne(t *testing.T) {
	p := graph.NewProject("broken")
	bad := scene(t, p, "bad", "Bad")
	bad.chain(bad.add(schema.Label, graph.Params{"label": "ending"}), bad.add(schema.Say, graph.Params{"who": "e"}))
	good := scene(t, p, "good", "Good")
	good.chain(good.add(schema.Label, graph.Params{"label": "ending"}), good.add(schema.Narration, graph.Params{"text": "The end."}))

	res := Compile(p, Options{})
	require.Equal(t, "ending", res.Entry)
	require.Contains(t, res.Script, "label start:\n    jump ending\n")
	require.Contains(t, res.Script, "label ending:\n    \"The end.\"\n")
	require.NotContains(t, res.Script, "already defined")

	def, ok := res.Registry.Lookup("ending")
	require.True(t, ok)
	require.Equal(t, "good", def.Scene)
}

func TestCustomDispatchAndIndent(t *testing.T) {
	res := Compile(story(t), Options{DispatchLabel: "begin", Indent: 2})
	require.Contains(t, res.Script, "label begin:\n  jump morning\n")
	require.Contains(t, res.Script, "  if coffee:\n    \"You drink coffee.\"\n")
}

func TestHeaderOptions(t *testing.T) {
	res := Compile(story(t), Options{Generator: "vnforge test"})
	require.True(t, strings.HasPrefix(res.Script, "# Generated by vnforge test\n"))

	bare := Compile(story(t), Options{OmitHeader: true})
	require.False(t, strings.Contains(bare.Script, "# Generated by"))
	require.NotEqual(t, res.Hash, bare.Hash)
}
