/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package workspace

import (
	"errors"
	"testing"
	"time"

	"vnforge/internal/compiler"
	"vnforge/internal/graph"
	"vnforge/internal/schema"
	"vnforge/internal/storage"

	"github.com/stretchr/testify/require"
)

func newSession(t *testing.T) *Session {
	t.Helper()
	p := graph.NewProject("Harbor")
	require.NoError(t, p.AddScene(graph.NewScene("s1", "Dock")))
	ph, err := storage.InitProject(t.TempDir(), p)
	require.NoError(t, err)
	s, err := Open(ph, Options{})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// latest waits for the compile of the current state.
func latest(t *testing.T, s *Session) *compiler.Result {
	t.Helper()
	seq := s.Recompile()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case r, ok := <-s.Results():
			require.True(t, ok, "results closed")
			if r.Request >= seq {
				return r
			}
		case <-deadline:
			t.Fatal("no compile result")
			return nil
		}
	}
}

func dock(t *testing.T, s *Session) (graph.BlockID, graph.BlockID) {
	t.Helper()
	l, err := s.AddBlock("s1", schema.Label, graph.Params{"label": "dock"}, 0, 0)
	require.NoError(t, err)
	say, err := s.AddBlock("s1", schema.Narration, graph.Params{"text": "Gulls circle the pier."}, 0, 100)
	require.NoError(t, err)
	_, err = s.Connect("s1", graph.Port{Block: l, Role: schema.RoleNext}, say)
	require.NoError(t, err)
	return l, say
}

func TestEditsAreCompiled(t *testing.T) {
	s := newSession(t)
	dock(t, s)
	r := latest(t, s)
	require.Equal(t, "dock", r.Entry)
	require.Contains(t, r.Script, "label dock:\n    \"Gulls circle the pier.\"\n")
	require.True(t, s.Dirty())
}

func TestUndoRedoRestoresScene(t *testing.T) {
	s := newSession(t)
	_, say := dock(t, s)
	require.NoError(t, s.SetParam("s1", say, "text", "The tide rolls in."))
	require.Contains(t, latest(t, s).Script, `"The tide rolls in."`)

	require.NoError(t, s.Undo("s1"))
	r := latest(t, s)
	require.Contains(t, r.Script, `"Gulls circle the pier."`)
	require.NotContains(t, r.Script, "tide")
	require.True(t, s.CanRedo("s1"))

	require.NoError(t, s.Redo("s1"))
	require.Contains(t, latest(t, s).Script, `"The tide rolls in."`)
	require.False(t, s.CanRedo("s1"))
}

func TestUndoRemovedBlockBringsConnectionsBack(t *testing.T) {
	s := newSession(t)
	_, say := dock(t, s)
	require.NoError(t, s.RemoveBlock("s1", say))
	sc, _ := s.Project().Scene("s1")
	require.Empty(t, sc.Connections())

	require.NoError(t, s.Undo("s1"))
	sc, _ = s.Project().Scene("s1")
	require.Len(t, sc.Connections(), 1)
	b, ok := sc.Block(say)
	require.True(t, ok)
	require.Equal(t, "Gulls circle the pier.", b.Params.String("text"))
}

func TestParamBurstIsOneUndoStep(t *testing.T) {
	s := newSession(t)
	_, say := dock(t, s)
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return at }
	for _, text := range []string{"G", "Gu", "Gul"} {
		require.NoError(t, s.SetParam("s1", say, "text", text))
		at = at.Add(50 * time.Millisecond)
	}
	require.NoError(t, s.Undo("s1"))
	sc, _ := s.Project().Scene("s1")
	b, _ := sc.Block(say)
	require.Equal(t, "Gulls circle the pier.", b.Params.String("text"))
}

func TestUndoWithoutHistory(t *testing.T) {
	s := newSession(t)
	require.ErrorIs(t, s.Undo("s1"), ErrNothingToUndo)
	require.ErrorIs(t, s.Redo("s1"), ErrNothingToRedo)
	require.ErrorIs(t, s.Undo("missing"), graph.ErrSceneNotFound)
}

func TestFailedEditLeavesNoHistory(t *testing.T) {
	s := newSession(t)
	err := s.Move("s1", 42, 1, 1)
	require.True(t, errors.Is(err, graph.ErrBlockNotFound))
	require.False(t, s.CanUndo("s1"))
	require.False(t, s.Dirty())
}

func TestSavePersistsEdits(t *testing.T) {
	s := newSession(t)
	dock(t, s)
	require.NoError(t, s.AddScene("s2", "Lighthouse"))
	require.NoError(t, s.Save())
	require.False(t, s.Dirty())

	ph, err := storage.Open(s.ph.Root)
	require.NoError(t, err)
	require.Len(t, ph.Project.Scenes(), 2)
	sc, _ := ph.Project.Scene("s1")
	require.Equal(t, 2, sc.Len())
}

func TestRemoveSceneClearsHistory(t *testing.T) {
	s := newSession(t)
	dock(t, s)
	require.True(t, s.CanUndo("s1"))
	require.NoError(t, s.RemoveScene("s1"))
	require.False(t, s.CanUndo("s1"))
}

func TestClosedSessionRejectsEdits(t *testing.T) {
	s := newSession(t)
	s.Close()
	_, err := s.AddBlock("s1", schema.Label, graph.Params{"label": "x"}, 0, 0)
	require.ErrorIs(t, err, ErrClosed)
	require.Zero(t, s.Recompile())
}
