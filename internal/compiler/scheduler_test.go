/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package compiler

import (
	"strings"
	"testing"
	"time"

	"vnforge/internal/graph"
	"vnforge/internal/schema"

	"github.com/stretchr/testify/require"
)

func next(t *testing.T, s *Scheduler) *Result {
	t.Helper()
	select {
	case r, ok := <-s.Results():
		require.True(t, ok, "results closed")
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("no compile result")
		return nil
	}
}

func TestSchedulerUsesStateAtRequestTime(t *testing.T) {
	p := graph.NewProject("live")
	a := scene(t, p, "s", "S")
	l := a.add(schema.Label, graph.Params{"label": "x"})
	say := a.add(schema.Say, graph.Params{"text": "v1"})
	a.chain(l, say)

	s := NewScheduler(Options{})
	defer s.Close()

	seq := s.Request(p)
	require.NoError(t, a.s.SetParam(say, "text", "v2"))

	r := next(t, s)
	require.Equal(t, seq, r.Request)
	require.Contains(t, r.Script, `"v1"`)
	require.NotContains(t, r.Script, `"v2"`)
}

func TestSchedulerLastWriterWins(t *testing.T) {
	p := graph.NewProject("live")
	a := scene(t, p, "s", "S")
	l := a.add(schema.Label, graph.Params{"label": "x"})
	say := a.add(schema.Say, graph.Params{"text": "rev0"})
	a.chain(l, say)

	s := NewScheduler(Options{})
	defer s.Close()

	var last uint64
	for i := 1; i <= 20; i++ {
		require.NoError(t, a.s.SetParam(say, "text", "rev"+strings.Repeat("I", i)))
		last = s.Request(p)
	}

	var prev uint64
	for {
		r := next(t, s)
		require.Greater(t, r.Request, prev, "results arrive in request order")
		prev = r.Request
		if r.Request == last {
			require.Contains(t, r.Script, `"rev`+strings.Repeat("I", 20)+`"`)
			return
		}
	}
}

func TestSchedulerReplacesUnreadResults(t *testing.T) {
	p := graph.NewProject("live")
	a := scene(t, p, "s", "S")
	l := a.add(schema.Label, graph.Params{"label": "x"})
	say := a.add(schema.Say, graph.Params{"text": "rev0"})
	a.chain(l, say)

	s := NewScheduler(Options{})
	defer s.Close()

	// nobody reads until every request has been compiled and delivered
	var last uint64
	for i := 1; i <= 3; i++ {
		require.NoError(t, a.s.SetParam(say, "text", "rev"+strings.Repeat("I", i)))
		last = s.Request(p)
		require.Eventually(t, func() bool {
			s.mu.Lock()
			defer s.mu.Unlock()
			return s.delivered == last
		}, 5*time.Second, 5*time.Millisecond)
	}

	r := next(t, s)
	require.Equal(t, last, r.Request)
	require.Contains(t, r.Script, `"revIII"`)
	select {
	case stale := <-s.Results():
		t.Fatalf("unexpected extra result for request %d", stale.Request)
	default:
	}
}

func TestSchedulerCloseIsIdempotent(t *testing.T) {
	s := NewScheduler(Options{})
	s.Close()
	s.Close()
	require.Zero(t, s.Request(graph.NewProject("late")))
	_, ok := <-s.Results()
	require.False(t, ok)
}
