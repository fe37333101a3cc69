/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestBatch_ReviewPreset(t *testing.T) {
	root := t.TempDir()
	target, _ := ResolveTarget(root, string(PresetReview))
	res := compiled(t, target)

	rep, err := Batch(context.Background(), root, res, BatchOptions{Preset: PresetReview})
	if err != nil {
		t.Fatalf("batch export review: %v", err)
	}
	checks := []string{
		filepath.Join(root, "exports", "review", "game", "script.rpy"),
		filepath.Join(root, "exports", "review", "game", "audio", "theme.ogg"),
		filepath.Join(root, "exports", "review", "script-proof.pdf"),
	}
	for _, p := range checks {
		st, err := os.Stat(p)
		if err != nil {
			t.Fatalf("missing %s: %v", p, err)
		}
		if st.Size() <= 0 {
			t.Fatalf("empty file: %s", p)
		}
	}
	if rep.Files() != 3 {
		t.Fatalf("files = %d, want 3", rep.Files())
	}
}

func TestBatch_ReleasePresetSkipsProof(t *testing.T) {
	root := t.TempDir()
	target, _ := ResolveTarget(root, "release")
	rep, err := Batch(context.Background(), root, compiled(t, target), BatchOptions{})
	if err != nil {
		t.Fatalf("batch export release: %v", err)
	}
	if rep.ProofPath != "" || rep.Game == nil {
		t.Fatalf("report = %+v", rep)
	}
	if _, err := os.Stat(filepath.Join(root, "exports", "release", "script-proof.pdf")); !os.IsNotExist(err) {
		t.Fatalf("release preset must not print a proof")
	}
}

func TestBatch_UnknownFormat(t *testing.T) {
	root := t.TempDir()
	if _, err := Batch(context.Background(), root, compiled(t, root), BatchOptions{Formats: []string{"epub"}}); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}
