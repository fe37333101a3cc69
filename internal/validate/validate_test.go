/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package validate

import (
	"testing"

	"vnforge/internal/diag"
	"vnforge/internal/graph"
	"vnforge/internal/labels"
	"vnforge/internal/schema"

	"github.com/stretchr/testify/require"
)

func link(t *testing.T, s *graph.Scene, from graph.BlockID, role schema.Role, to graph.BlockID) graph.ConnID {
	t.Helper()
	id, err := s.AddConnection(graph.Port{Block: from, Role: role}, graph.Port{Block: to, Role: schema.RoleIn})
	require.NoError(t, err)
	return id
}

func add(t *testing.T, s *graph.Scene, k schema.Kind, p graph.Params) graph.BlockID {
	t.Helper()
	id, err := s.AddBlock(k, p, 0, 0)
	require.NoError(t, err)
	return id
}

func run(p *graph.Project, s *graph.Scene) diag.List {
	return Scene(s, labels.Rebuild(p), schema.Builtin(), Options{})
}

func codes(l diag.List) []string {
	out := make([]string, len(l))
	for i, d := range l {
		out[i] = d.Code
	}
	return out
}

func single(t *testing.T, s *graph.Scene) *graph.Project {
	t.Helper()
	p := graph.NewProject("t")
	require.NoError(t, p.AddScene(s))
	return p
}

func TestCleanSceneHasNoDiagnostics(t *testing.T) {
	s := graph.NewScene("s", "S")
	l := add(t, s, schema.Label, graph.Params{"label": "intro"})
	say := add(t, s, schema.Say, graph.Params{"who": "Eileen", "text": "Hi"})
	ret := add(t, s, schema.Return, nil)
	link(t, s, l, schema.RoleNext, say)
	link(t, s, say, schema.RoleNext, ret)

	require.Empty(t, run(single(t, s), s))
}

func TestLabelChecks(t *testing.T) {
	s := graph.NewScene("s", "S")
	empty := add(t, s, schema.Label, nil)
	bad := add(t, s, schema.Label, graph.Params{"label": "9lives"})
	res := add(t, s, schema.Label, graph.Params{"label": "start"})
	add(t, s, schema.Label, graph.Params{"label": "chapter.one"})

	l := run(single(t, s), s)
	require.Equal(t, []string{diag.CodeLabelEmpty, diag.CodeLabelIllegal, diag.CodeLabelReserved}, codes(l))
	require.Equal(t, int(empty), l[0].Block)
	require.Equal(t, int(bad), l[1].Block)
	require.Equal(t, int(res), l[2].Block)
	require.True(t, l.HasErrors())
}

func TestDuplicateLabelsWarnOnEveryDefinition(t *testing.T) {
	a := graph.NewScene("a", "A")
	b := graph.NewScene("b", "B")
	add(t, a, schema.Label, graph.Params{"label": "same"})
	add(t, b, schema.Label, graph.Params{"label": "same"})
	p := graph.NewProject("t")
	require.NoError(t, p.AddScene(a))
	require.NoError(t, p.AddScene(b))

	for _, s := range []*graph.Scene{a, b} {
		l := run(p, s).ByCategory(diag.StructuralError)
		require.Len(t, l, 1)
		require.Equal(t, diag.CodeLabelDuplicate, l[0].Code)
		require.Equal(t, diag.Warning, l[0].Severity)
		require.Contains(t, l[0].Message, "scene a block 1")
	}
}

func TestMissingRequiredParamIsSchemaError(t *testing.T) {
	s := graph.NewScene("s", "S")
	l := add(t, s, schema.Label, graph.Params{"label": "x"})
	j := add(t, s, schema.Jump, graph.Params{"target": "  "})
	link(t, s, l, schema.RoleNext, j)

	ds := run(single(t, s), s)
	require.Len(t, ds, 1)
	require.Equal(t, diag.CodeParamMissing, ds[0].Code)
	require.Equal(t, diag.SchemaError, ds[0].Category)
	require.Equal(t, diag.Error, ds[0].Severity)
	require.Equal(t, int(j), ds[0].Block)
}

func TestPythonNamesAreChecked(t *testing.T) {
	s := graph.NewScene("s", "S")
	l := add(t, s, schema.Label, graph.Params{"label": "intro"})
	loop := add(t, s, schema.For, graph.Params{"variable": "my var", "iterable": "items"})
	set := add(t, s, schema.SetVar, graph.Params{"variable": "persistent.seen", "value": "True"})
	def := add(t, s, schema.Define, graph.Params{"name": "1st", "value": "1"})
	ch := add(t, s, schema.Character, graph.Params{"name": "e.x"})
	link(t, s, l, schema.RoleNext, loop)
	link(t, s, loop, schema.RoleAfter, set)
	link(t, s, set, schema.RoleNext, def)
	link(t, s, def, schema.RoleNext, ch)

	var bad []int
	for _, d := range run(single(t, s), s) {
		if d.Code == diag.CodeParamIllegal {
			require.Equal(t, diag.Error, d.Severity)
			bad = append(bad, d.Block)
		}
	}
	require.Equal(t, []int{int(loop), int(def), int(ch)}, bad)
}

func TestMenuChoices(t *testing.T) {
	s := graph.NewScene("s", "S")
	l := add(t, s, schema.Label, graph.Params{"label": "x"})
	m := add(t, s, schema.Menu, graph.Params{"choices": []graph.Choice{{Text: ""}, {Text: "ok"}}})
	link(t, s, l, schema.RoleNext, m)
	require.Equal(t, []string{diag.CodeChoiceEmpty}, codes(run(single(t, s), s)))

	require.NoError(t, s.SetParam(m, "choices", []graph.Choice{{Text: ""}}))
	require.Equal(t, []string{diag.CodeChoiceEmpty, diag.CodeParamMissing}, codes(run(single(t, s), s)))
}

func TestStalePortAfterChoiceRemoval(t *testing.T) {
	s := graph.NewScene("s", "S")
	l := add(t, s, schema.Label, graph.Params{"label": "x"})
	m := add(t, s, schema.Menu, graph.Params{"choices": "a, b"})
	ret := add(t, s, schema.Return, nil)
	link(t, s, l, schema.RoleNext, m)
	c := link(t, s, m, schema.OptionRole(1), ret)

	require.NoError(t, s.SetParam(m, "choices", "a"))
	ds := run(single(t, s), s)
	require.Equal(t, []string{diag.CodeStalePort, diag.CodeUnreachable}, codes(ds))
	require.Equal(t, int(c), ds[0].Conn)
	require.Equal(t, int(ret), ds[1].Block)
}

func TestUnreachableAndNoEntry(t *testing.T) {
	s := graph.NewScene("s", "S")
	say := add(t, s, schema.Say, graph.Params{"text": "orphan"})

	ds := run(single(t, s), s)
	require.Equal(t, []string{diag.CodeUnreachable, diag.CodeNoEntry}, codes(ds))
	require.Equal(t, int(say), ds[0].Block)
	require.False(t, ds.HasErrors())
}

func TestCycleThroughLoopIsFine(t *testing.T) {
	s := graph.NewScene("s", "S")
	l := add(t, s, schema.Label, graph.Params{"label": "x"})
	w := add(t, s, schema.While, graph.Params{"condition": "n < 3"})
	body := add(t, s, schema.SetVar, graph.Params{"variable": "n", "value": "n + 1"})
	link(t, s, l, schema.RoleNext, w)
	link(t, s, w, schema.RoleBody, body)
	link(t, s, body, schema.RoleNext, w)

	require.Empty(t, run(single(t, s), s))
}

func TestCycleWithoutLoopIsWarned(t *testing.T) {
	s := graph.NewScene("s", "S")
	l := add(t, s, schema.Label, graph.Params{"label": "x"})
	a := add(t, s, schema.Say, graph.Params{"text": "a"})
	b := add(t, s, schema.Say, graph.Params{"text": "b"})
	self := add(t, s, schema.Say, graph.Params{"text": "again"})
	link(t, s, l, schema.RoleNext, a)
	link(t, s, a, schema.RoleNext, b)
	link(t, s, b, schema.RoleNext, a)
	link(t, s, b, schema.RoleNext, self)
	link(t, s, self, schema.RoleNext, self)

	ds := run(single(t, s), s).Filter(func(d diag.Diagnostic) bool { return d.Code == diag.CodeCycle })
	require.Len(t, ds, 2)
	blocks := []int{ds[0].Block, ds[1].Block}
	require.ElementsMatch(t, []int{int(a), int(self)}, blocks)
	for _, d := range ds {
		require.Equal(t, diag.Warning, d.Severity)
	}
}

func TestLegalLabel(t *testing.T) {
	for _, ok := range []string{"a", "_x1", "chapter.intro"} {
		require.True(t, LegalLabel(ok), ok)
	}
	for _, bad := range []string{"", "1a", "a b", "a.b.c", "a-b", ".x"} {
		require.False(t, LegalLabel(bad), bad)
	}
}
