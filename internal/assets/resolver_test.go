/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package assets

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveIsIdempotentAndDeduplicates(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(t.TempDir(), "art", "bg.png")
	r := NewResolver(root)

	a := r.Resolve(src, "images")
	b := r.Resolve(src, "images")
	require.Equal(t, "images/bg.png", a)
	require.Equal(t, a, b)

	copies := r.AssetsToCopy()
	require.Len(t, copies, 1)
	require.Equal(t, src, copies[0].Source)
	require.Equal(t, filepath.Join(root, "game", "images", "bg.png"), copies[0].Dest)
}

func TestBasenameCollisionGetsHashSuffix(t *testing.T) {
	r := NewResolver(t.TempDir())
	one := filepath.Join(t.TempDir(), "a", "theme.ogg")
	two := filepath.Join(t.TempDir(), "b", "theme.ogg")

	id1 := r.Resolve(one, "audio")
	id2 := r.Resolve(two, "audio")
	require.Equal(t, "audio/theme.ogg", id1)
	require.NotEqual(t, id1, id2)
	require.Regexp(t, `^audio/theme_[0-9a-f]{8}\.ogg$`, id2)
	require.Equal(t, id2, r.Resolve(two, "audio"))
	require.Len(t, r.AssetsToCopy(), 2)
}

func TestRelativeAndInGamePathsNeedNoCopy(t *testing.T) {
	root := t.TempDir()
	r := NewResolver(root)

	require.Equal(t, "images/bg.png", r.Resolve("images/bg.png", "images"))
	require.Equal(t, "images/bg.png", r.Resolve("./images/../images/bg.png", "images"))
	require.Equal(t, "voice/l1.ogg", r.Resolve(filepath.Join(root, "game", "voice", "l1.ogg"), "voice"))
	require.Equal(t, "", r.Resolve("   ", "images"))
	require.Equal(t, "..cover.png", r.Resolve(filepath.Join(root, "game", "..cover.png"), "images"))
	require.Empty(t, r.AssetsToCopy())
}

func TestSiblingOfGameDirIsCopied(t *testing.T) {
	root := t.TempDir()
	r := NewResolver(root)
	require.Equal(t, "images/cover.png", r.Resolve(filepath.Join(root, "cover.png"), "images"))
	require.Len(t, r.AssetsToCopy(), 1)
}

func TestCopyListSortedByDestination(t *testing.T) {
	r := NewResolver(t.TempDir())
	dir := t.TempDir()
	r.Resolve(filepath.Join(dir, "z.png"), "images")
	r.Resolve(filepath.Join(dir, "a.ogg"), "audio")
	r.Resolve(filepath.Join(dir, "m.png"), "images")

	var ids []string
	for _, c := range r.AssetsToCopy() {
		ids = append(ids, c.ID)
	}
	require.Equal(t, []string{"audio/a.ogg", "images/m.png", "images/z.png"}, ids)
}
