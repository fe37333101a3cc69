/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package graph

import (
	"errors"
	"fmt"
	"maps"
)

// ErrSceneNotFound is returned for unknown scene ids.
var ErrSceneNotFound = errors.New("scene not found")

// Project aggregates scenes in their authored order together with the
// project-level definitions emitted ahead of any scene.
type Project struct {
	Name string
	// Variables are emitted as `default name = value`.
	Variables map[string]any
	// Characters maps a speaker identifier to its display name.
	Characters map[string]string
	// Images maps an image name to its file path.
	Images map[string]string

	scenes []*Scene
	rev    uint64
}

// NewProject returns an empty project.
func NewProject(name string) *Project {
	return &Project{Name: name, Variables: map[string]any{}, Characters: map[string]string{}, Images: map[string]string{}}
}

// AddScene appends a scene. Scene ids must be unique.
func (p *Project) AddScene(s *Scene) error {
	if s == nil {
		return errors.New("nil scene")
	}
	if _, ok := p.Scene(s.ID); ok {
		return fmt.Errorf("%w: scene %q", ErrIDInUse, s.ID)
	}
	p.scenes = append(p.scenes, s)
	p.rev++
	return nil
}

// RemoveScene deletes a scene by id.
func (p *Project) RemoveScene(id string) error {
	for i, s := range p.scenes {
		if s.ID == id {
			p.scenes = append(p.scenes[:i], p.scenes[i+1:]...)
			p.rev++
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrSceneNotFound, id)
}

// ReplaceScene swaps the scene with the same id for s, keeping its position.
func (p *Project) ReplaceScene(s *Scene) error {
	if s == nil {
		return errors.New("nil scene")
	}
	for i, old := range p.scenes {
		if old.ID == s.ID {
			p.scenes[i] = s
			// keep Revision monotonic across the swap
			p.rev += old.Revision() + 1
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrSceneNotFound, s.ID)
}

// Scene returns a scene by id.
func (p *Project) Scene(id string) (*Scene, bool) {
	for _, s := range p.scenes {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// Scenes returns the scenes in project order.
func (p *Project) Scenes() []*Scene { return append([]*Scene(nil), p.scenes...) }

// SceneOrder maps scene ids to their position.
func (p *Project) SceneOrder() map[string]int {
	m := make(map[string]int, len(p.scenes))
	for i, s := range p.scenes {
		m[s.ID] = i
	}
	return m
}

// Revision sums the scene revisions; it changes whenever any scene changes.
func (p *Project) Revision() uint64 {
	r := p.rev
	for _, s := range p.scenes {
		r += s.Revision()
	}
	return r
}

// Clone returns a deep copy used as an immutable compile snapshot.
func (p *Project) Clone() *Project {
	c := &Project{
		Name:       p.Name,
		Variables:  Params(p.Variables).Clone(),
		Characters: maps.Clone(p.Characters),
		Images:     maps.Clone(p.Images),
		scenes:     make([]*Scene, len(p.scenes)),
		rev:        p.rev,
	}
	for i, s := range p.scenes {
		c.scenes[i] = s.Clone()
	}
	return c
}
