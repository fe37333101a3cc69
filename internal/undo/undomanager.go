/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package undo keeps bounded per-scene undo/redo history of opaque snapshots.
package undo

import (
	"sync"
	"time"
)

// Snapshot is the serialised state of one scene before an edit.
// Blob is opaque to the manager; its size is len(Blob).
type Snapshot struct {
	Scene string
	Blob  []byte
	TS    time.Time
	// Label describes the edit that followed, e.g. "add block".
	Label string
	// Merge lets the push coalesce with an earlier one of the same label.
	Merge bool
}

// Config controls memory and depth caps and coalescing behavior.
type Config struct {
	// MaxBytes is a soft cap; the oldest undo entries across all scenes are dropped when exceeded.
	MaxBytes int
	// MaxPerScene limits the undo depth of one scene (0 means unlimited).
	MaxPerScene int
	// MinInterval coalesces mergeable pushes for the same scene and label that
	// arrive within the interval. The earlier snapshot is kept, so one undo reverts the burst.
	MinInterval time.Duration
}

// Manager provides per-scene undo/redo stacks. It is safe for concurrent use.
type Manager struct {
	cfg Config
	mu  sync.Mutex
	// last push per scene, for coalescing
	last map[string]time.Time
	undo map[string][]Snapshot
	redo map[string][]Snapshot
	// bytes held by undo and redo stacks
	totalBytes int
}

func NewManager(cfg Config) *Manager {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 16 * 1024 * 1024 // 16 MiB
	}
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	}
	return &Manager{
		cfg:  cfg,
		last: make(map[string]time.Time),
		undo: make(map[string][]Snapshot),
		redo: make(map[string][]Snapshot),
	}
}

// Push records the state of a scene before an edit and clears its redo stack.
// It reports whether a new entry was created; false means the push was coalesced.
func (m *Manager) Push(s Snapshot) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropRedoLocked(s.Scene)
	prev, seen := m.last[s.Scene]
	m.last[s.Scene] = s.TS
	stack := m.undo[s.Scene]
	if n := len(stack); n > 0 && seen && s.Merge && m.cfg.MinInterval > 0 &&
		stack[n-1].Label == s.Label && s.TS.Sub(prev) < m.cfg.MinInterval {
		return false
	}
	m.undo[s.Scene] = append(stack, s)
	m.totalBytes += len(s.Blob)
	m.enforceCapsLocked(s.Scene)
	return true
}

// Undo exchanges the current state of a scene for the newest undo entry.
// current is kept for Redo.
func (m *Manager) Undo(current Snapshot) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.popLocked(m.undo, current.Scene)
	if !ok {
		return Snapshot{}, false
	}
	m.redo[current.Scene] = append(m.redo[current.Scene], current)
	m.totalBytes += len(current.Blob)
	delete(m.last, current.Scene)
	return s, true
}

// Redo exchanges the current state of a scene for the newest redo entry.
func (m *Manager) Redo(current Snapshot) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.popLocked(m.redo, current.Scene)
	if !ok {
		return Snapshot{}, false
	}
	m.undo[current.Scene] = append(m.undo[current.Scene], current)
	m.totalBytes += len(current.Blob)
	delete(m.last, current.Scene)
	m.enforceCapsLocked(current.Scene)
	return s, true
}

// CanUndo and CanRedo report whether history exists for the scene.
func (m *Manager) CanUndo(scene string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.undo[scene]) > 0
}

func (m *Manager) CanRedo(scene string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.redo[scene]) > 0
}

// Clear drops the history of a scene, e.g. after it was removed.
func (m *Manager) Clear(scene string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.undo[scene] {
		m.totalBytes -= len(s.Blob)
	}
	m.dropRedoLocked(scene)
	delete(m.undo, scene)
	delete(m.last, scene)
}

// Stats returns current sizes for diagnostics.
func (m *Manager) Stats() (totalBytes int, scenes int, undoEntries int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.undo {
		if len(v) > 0 {
			scenes++
			undoEntries += len(v)
		}
	}
	return m.totalBytes, scenes, undoEntries
}

func (m *Manager) popLocked(stacks map[string][]Snapshot, scene string) (Snapshot, bool) {
	stack := stacks[scene]
	if len(stack) == 0 {
		return Snapshot{}, false
	}
	s := stack[len(stack)-1]
	stacks[scene] = stack[:len(stack)-1]
	m.totalBytes -= len(s.Blob)
	return s, true
}

func (m *Manager) dropRedoLocked(scene string) {
	for _, s := range m.redo[scene] {
		m.totalBytes -= len(s.Blob)
	}
	delete(m.redo, scene)
}

func (m *Manager) enforceCapsLocked(scene string) {
	if m.cfg.MaxPerScene > 0 {
		stack := m.undo[scene]
		if extra := len(stack) - m.cfg.MaxPerScene; extra > 0 {
			for _, s := range stack[:extra] {
				m.totalBytes -= len(s.Blob)
			}
			m.undo[scene] = append([]Snapshot(nil), stack[extra:]...)
		}
	}
	// Global memory cap: prune the oldest undo entry across all scenes
	for m.totalBytes > m.cfg.MaxBytes {
		oldest := ""
		var oldestTS time.Time
		for sc, stack := range m.undo {
			if len(stack) == 0 {
				continue
			}
			if oldest == "" || stack[0].TS.Before(oldestTS) {
				oldest, oldestTS = sc, stack[0].TS
			}
		}
		if oldest == "" {
			break
		}
		stack := m.undo[oldest]
		m.totalBytes -= len(stack[0].Blob)
		if len(stack) == 1 {
			delete(m.undo, oldest)
		} else {
			m.undo[oldest] = stack[1:]
		}
	}
}
