/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package compiler

import (
	"sync"

	"vnforge/internal/graph"
	applog "vnforge/internal/log"
)

// Scheduler runs compiles on a single worker goroutine. A request snapshots
// the project when it is made; a request still waiting when a newer one
// arrives is dropped, so callers only ever see results for the latest state
// or for a compile that was already running.
type Scheduler struct {
	opts    Options
	mu      sync.Mutex
	pending *request
	seq     uint64
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	results chan *Result
	wg      sync.WaitGroup

	// delivered is the sequence number of the last result handed to results.
	delivered uint64
}

type request struct {
	seq     uint64
	project *graph.Project
}

// NewScheduler starts the worker. Close must be called to stop it.
func NewScheduler(opts Options) *Scheduler {
	s := &Scheduler{
		opts:    opts,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		results: make(chan *Result, 1),
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

// Request schedules a compile of a snapshot of p and returns its sequence
// number. After Close it returns 0.
func (s *Scheduler) Request(p *graph.Project) uint64 {
	snap := p.Clone()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0
	}
	s.seq++
	if s.pending != nil {
		applog.WithComponent("scheduler").Debug("compile request superseded", "dropped", s.pending.seq, "by", s.seq)
	}
	s.pending = &request{seq: s.seq, project: snap}
	seq := s.seq
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return seq
}

// Results delivers compile results in request order. It holds at most one
// result: an unread result is replaced by a newer one. It is closed by Close.
func (s *Scheduler) Results() <-chan *Result { return s.results }

// Close stops the worker after the compile in flight, if any, and closes
// the results channel.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.pending = nil
	s.mu.Unlock()
	close(s.done)
	s.wg.Wait()
	close(s.results)
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		s.mu.Lock()
		req := s.pending
		s.pending = nil
		s.mu.Unlock()
		if req == nil {
			continue
		}
		res := Compile(req.project, s.opts)
		res.Request = req.seq
		// an unread older result is replaced; this goroutine is the only sender
		select {
		case old := <-s.results:
			applog.WithComponent("scheduler").Debug("stale result replaced", "dropped", old.Request, "by", res.Request)
		default:
		}
		s.results <- res
		s.mu.Lock()
		s.delivered = res.Request
		s.mu.Unlock()
	}
}
