/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package assets maps author-time file references to stable game-relative
// ids. It only computes paths; copying is left to the export step.
package assets

import (
	"fmt"
	"hash/fnv"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// GameDir is the directory below the target root the runtime loads from.
const GameDir = "game"

// Copy is one file the export step has to place.
type Copy struct {
	Source string `json:"source"`
	Dest   string `json:"dest"`
	ID     string `json:"id"`
}

// Resolver resolves paths for one target root. It remembers every mapping so
// repeated calls agree. Not safe for concurrent use; each compile owns one.
type Resolver struct {
	targetRoot string
	bySource   map[string]string
	owner      map[string]string
	copies     map[string]Copy
}

// NewResolver returns a resolver for the given target root. An empty root
// yields copy destinations relative to the working directory.
func NewResolver(targetRoot string) *Resolver {
	return &Resolver{
		targetRoot: targetRoot,
		bySource:   map[string]string{},
		owner:      map[string]string{},
		copies:     map[string]Copy{},
	}
}

// TargetRoot returns the root the resolver was created for.
func (r *Resolver) TargetRoot() string { return r.targetRoot }

// Resolve returns the game-relative id of original. category is the asset
// sub-directory (images, audio, voice) used for files outside the game tree.
func (r *Resolver) Resolve(original, category string) string {
	p := strings.TrimSpace(original)
	if p == "" {
		return ""
	}
	if !filepath.IsAbs(p) {
		return strings.TrimPrefix(path.Clean(filepath.ToSlash(p)), "./")
	}
	src := filepath.Clean(p)
	if id, ok := r.bySource[src]; ok {
		return id
	}
	if r.targetRoot != "" {
		game := filepath.Join(r.targetRoot, GameDir)
		if rel, err := filepath.Rel(game, src); err == nil && insideTree(rel) {
			id := filepath.ToSlash(rel)
			r.bySource[src] = id
			return id
		}
	}
	id := r.allocate(src, category)
	r.bySource[src] = id
	r.owner[id] = src
	r.copies[id] = Copy{Source: src, Dest: filepath.Join(r.targetRoot, GameDir, filepath.FromSlash(id)), ID: id}
	return id
}

// allocate picks <category>/<basename>, adding a hash of the source path when
// another source already holds that name.
func (r *Resolver) allocate(src, category string) string {
	if category == "" {
		category = "images"
	}
	base := filepath.Base(src)
	id := category + "/" + base
	if other, taken := r.owner[id]; !taken || other == src {
		return id
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(src))
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for salt := uint32(0); ; salt++ {
		id = fmt.Sprintf("%s/%s_%08x%s", category, stem, h.Sum32()+salt, ext)
		if _, taken := r.owner[id]; !taken {
			return id
		}
	}
}

// AssetsToCopy returns the copy list sorted by destination.
func (r *Resolver) AssetsToCopy() []Copy {
	out := make([]Copy, 0, len(r.copies))
	for _, c := range r.copies {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dest < out[j].Dest })
	return out
}

// insideTree reports whether a filepath.Rel result stays below its base.
func insideTree(rel string) bool {
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
