/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package workspace is an editing session over an open project: graph
// mutations with per-scene undo history and a recompile after every change.
package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"vnforge/internal/compiler"
	"vnforge/internal/graph"
	applog "vnforge/internal/log"
	"vnforge/internal/schema"
	"vnforge/internal/storage"
	"vnforge/internal/undo"
)

var (
	ErrClosed        = errors.New("session closed")
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
)

// Options configures a session.
type Options struct {
	Compiler compiler.Options
	Undo     undo.Config
	Logger   *slog.Logger
}

// DefaultUndo is the history budget used when Options.Undo is zero.
var DefaultUndo = undo.Config{
	MaxBytes:    32 * 1024 * 1024,
	MaxPerScene: 50,
	MinInterval: 300 * time.Millisecond,
}

// Session serialises edits to one project. Every successful mutation records
// the prior state of the touched scene and requests a compile.
type Session struct {
	mu    sync.Mutex
	ph    *storage.ProjectHandle
	hist  *undo.Manager
	sched *compiler.Scheduler
	log   *slog.Logger
	now   func() time.Time

	dirty  bool
	closed bool
}

// Open starts a session on ph. Close must be called to stop the compile worker.
func Open(ph *storage.ProjectHandle, opts Options) (*Session, error) {
	if ph == nil || ph.Project == nil {
		return nil, errors.New("no project open")
	}
	if opts.Undo == (undo.Config{}) {
		opts.Undo = DefaultUndo
	}
	l := opts.Logger
	if l == nil {
		l = applog.WithComponent("workspace")
	}
	if opts.Compiler.Logger == nil {
		opts.Compiler.Logger = l
	}
	return &Session{
		ph:    ph,
		hist:  undo.NewManager(opts.Undo),
		sched: compiler.NewScheduler(opts.Compiler),
		log:   l,
		now:   time.Now,
	}, nil
}

// Results delivers compile results for the session's edits.
func (s *Session) Results() <-chan *compiler.Result { return s.sched.Results() }

// Project returns the live project. Callers must not mutate it directly.
func (s *Session) Project() *graph.Project { return s.ph.Project }

// Dirty reports whether there are edits not yet saved.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Recompile requests a compile of the current state without editing it.
func (s *Session) Recompile() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	return s.sched.Request(s.ph.Project)
}

// AddScene appends an empty scene.
func (s *Session) AddScene(id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.ph.Project.AddScene(graph.NewScene(id, name)); err != nil {
		return err
	}
	s.changedLocked("add scene", id)
	return nil
}

// RemoveScene deletes a scene and its history. It cannot be undone.
func (s *Session) RemoveScene(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.ph.Project.RemoveScene(id); err != nil {
		return err
	}
	s.hist.Clear(id)
	s.changedLocked("remove scene", id)
	return nil
}

// AddBlock places a new block in a scene.
func (s *Session) AddBlock(sceneID string, kind schema.Kind, params graph.Params, x, y float64) (graph.BlockID, error) {
	var id graph.BlockID
	err := s.edit(sceneID, "add block", func(sc *graph.Scene) error {
		var err error
		id, err = sc.AddBlock(kind, params, x, y)
		return err
	})
	return id, err
}

// RemoveBlock deletes a block and its connections.
func (s *Session) RemoveBlock(sceneID string, id graph.BlockID) error {
	return s.edit(sceneID, "remove block", func(sc *graph.Scene) error { return sc.RemoveBlock(id) })
}

// SetParam changes one parameter. Rapid edits of the same scene coalesce
// into one undo step.
func (s *Session) SetParam(sceneID string, id graph.BlockID, key string, value any) error {
	return s.edit(sceneID, "set param", func(sc *graph.Scene) error { return sc.SetParam(id, key, value) })
}

// SetParams replaces all parameters of a block.
func (s *Session) SetParams(sceneID string, id graph.BlockID, params graph.Params) error {
	return s.edit(sceneID, "set params", func(sc *graph.Scene) error { return sc.SetParams(id, params) })
}

// Move repositions a block on the canvas.
func (s *Session) Move(sceneID string, id graph.BlockID, x, y float64) error {
	return s.edit(sceneID, "move", func(sc *graph.Scene) error { return sc.Move(id, x, y) })
}

// Connect links an output port to the input of another block.
func (s *Session) Connect(sceneID string, from graph.Port, to graph.BlockID) (graph.ConnID, error) {
	var id graph.ConnID
	err := s.edit(sceneID, "connect", func(sc *graph.Scene) error {
		var err error
		id, err = sc.AddConnection(from, graph.Port{Block: to, Role: schema.RoleIn})
		return err
	})
	return id, err
}

// Disconnect removes a connection.
func (s *Session) Disconnect(sceneID string, id graph.ConnID) error {
	return s.edit(sceneID, "disconnect", func(sc *graph.Scene) error { return sc.RemoveConnection(id) })
}

// Undo restores a scene to the state before its last edit.
func (s *Session) Undo(sceneID string) error {
	return s.travel(sceneID, s.hist.Undo, ErrNothingToUndo, "undo")
}

// Redo re-applies the last undone edit of a scene.
func (s *Session) Redo(sceneID string) error {
	return s.travel(sceneID, s.hist.Redo, ErrNothingToRedo, "redo")
}

func (s *Session) CanUndo(sceneID string) bool { return s.hist.CanUndo(sceneID) }

func (s *Session) CanRedo(sceneID string) bool { return s.hist.CanRedo(sceneID) }

// Save writes the project with a backup of the previous manifest.
func (s *Session) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := storage.Save(s.ph); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

// Close stops the compile worker. Unsaved edits are not written.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	dirty := s.dirty
	s.mu.Unlock()
	if dirty {
		s.log.Warn("session closed with unsaved edits", "project", s.ph.Root)
	}
	s.sched.Close()
}

// coalescing lists the edits whose bursts collapse into one undo step.
var coalescing = map[string]bool{"set param": true, "move": true}

func (s *Session) edit(sceneID, label string, fn func(*graph.Scene) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	sc, ok := s.ph.Project.Scene(sceneID)
	if !ok {
		return fmt.Errorf("%w: %q", graph.ErrSceneNotFound, sceneID)
	}
	before, err := storage.EncodeScene(sc)
	if err != nil {
		return err
	}
	if err := fn(sc); err != nil {
		return err
	}
	s.hist.Push(undo.Snapshot{Scene: sceneID, Blob: before, TS: s.now(), Label: label, Merge: coalescing[label]})
	s.changedLocked(label, sceneID)
	return nil
}

func (s *Session) travel(sceneID string, step func(undo.Snapshot) (undo.Snapshot, bool), none error, op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	sc, ok := s.ph.Project.Scene(sceneID)
	if !ok {
		return fmt.Errorf("%w: %q", graph.ErrSceneNotFound, sceneID)
	}
	current, err := storage.EncodeScene(sc)
	if err != nil {
		return err
	}
	snap, ok := step(undo.Snapshot{Scene: sceneID, Blob: current, TS: s.now(), Label: op})
	if !ok {
		return none
	}
	restored, err := storage.DecodeScene(snap.Blob)
	if err != nil {
		return fmt.Errorf("%s scene %q: %w", op, sceneID, err)
	}
	if err := s.ph.Project.ReplaceScene(restored); err != nil {
		return err
	}
	s.changedLocked(op, sceneID)
	return nil
}

func (s *Session) changedLocked(op, sceneID string) {
	s.dirty = true
	seq := s.sched.Request(s.ph.Project)
	applog.WithScene(applog.WithOperation(s.log, op), sceneID).Debug("edit applied", "compile", seq)
}
