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
	"strings"
	"testing"

	"vnforge/internal/compiler"
	"vnforge/internal/graph"
	"vnforge/internal/schema"
)

// compiled builds a one-scene project that plays an external music file and
// compiles it for target.
func compiled(t *testing.T, target string) *compiler.Result {
	t.Helper()
	src := filepath.Join(t.TempDir(), "theme.ogg")
	if err := os.WriteFile(src, []byte("OggS fake audio"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	p := graph.NewProject("Harbor")
	s := graph.NewScene("s1", "Dock")
	l, _ := s.AddBlock(schema.Label, graph.Params{"label": "dock"}, 0, 0)
	m, _ := s.AddBlock(schema.Music, graph.Params{"music_file": src}, 0, 100)
	n, _ := s.AddBlock(schema.Narration, graph.Params{"text": "Gulls circle the pier."}, 0, 200)
	for _, pair := range [][2]graph.BlockID{{l, m}, {m, n}} {
		if _, err := s.AddConnection(graph.Port{Block: pair[0], Role: schema.RoleNext}, graph.Port{Block: pair[1], Role: schema.RoleIn}); err != nil {
			t.Fatalf("connect: %v", err)
		}
	}
	if err := p.AddScene(s); err != nil {
		t.Fatalf("add scene: %v", err)
	}
	res := compiler.Compile(p, compiler.Options{TargetRoot: target})
	if len(res.Assets) != 1 {
		t.Fatalf("assets = %d, want 1", len(res.Assets))
	}
	return res
}

func TestWriteGamePlacesScriptAndAssets(t *testing.T) {
	root := t.TempDir()
	target, err := ResolveTarget(root, "build")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if want := filepath.Join(root, "exports", "build"); target != want {
		t.Fatalf("target = %q, want %q", target, want)
	}
	res := compiled(t, target)

	rep, err := WriteGame(context.Background(), root, res, GameOptions{Target: "build", Workers: 2})
	if err != nil {
		t.Fatalf("WriteGame: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(target, "game", "script.rpy"))
	if err != nil {
		t.Fatalf("read script: %v", err)
	}
	if string(data) != res.Script {
		t.Fatalf("script on disk differs from compile result")
	}
	if !strings.Contains(res.Script, `play music "audio/theme.ogg"`) {
		t.Fatalf("script does not reference the placed asset:\n%s", res.Script)
	}
	if _, err := os.Stat(filepath.Join(target, "game", "audio", "theme.ogg")); err != nil {
		t.Fatalf("asset not copied: %v", err)
	}
	if rep.Copied != 1 || rep.Unchanged != 0 || rep.Files() != 2 {
		t.Fatalf("report = %+v", rep)
	}

	again, err := WriteGame(context.Background(), root, res, GameOptions{Target: "build"})
	if err != nil {
		t.Fatalf("second WriteGame: %v", err)
	}
	if again.Copied != 0 || again.Unchanged != 1 {
		t.Fatalf("second report = %+v, want the asset to be up to date", again)
	}
	entries, _ := os.ReadDir(filepath.Join(target, "game"))
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestWriteGameFailsOnMissingSource(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "out")
	res := compiled(t, target)
	if err := os.Remove(res.Assets[0].Source); err != nil {
		t.Fatalf("remove source: %v", err)
	}
	rep, err := WriteGame(context.Background(), root, res, GameOptions{Target: target})
	if err == nil {
		t.Fatalf("expected error for a missing asset source")
	}
	if !strings.Contains(err.Error(), "audio/theme.ogg") {
		t.Fatalf("error does not name the asset: %v", err)
	}
	if rep.ScriptPath == "" {
		t.Fatalf("script should have been written before the copies")
	}
}

func TestWriteGameRequiresTarget(t *testing.T) {
	if _, err := WriteGame(context.Background(), t.TempDir(), &compiler.Result{}, GameOptions{}); err == nil {
		t.Fatalf("expected error without target")
	}
}
