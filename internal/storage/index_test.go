/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vnforge/internal/compiler"
	"vnforge/internal/diag"

	_ "modernc.org/sqlite"
)

func indexedProject(t *testing.T) (*ProjectHandle, context.Context) {
	t.Helper()
	root := t.TempDir()
	ph, err := InitProject(root, sampleProject(t))
	if err != nil {
		t.Fatalf("InitProject error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	if err := UpdateIndex(ctx, root, ph.Project); err != nil {
		t.Fatalf("UpdateIndex error: %v", err)
	}
	return ph, ctx
}

func TestSearchFindsDialogueAndMenuText(t *testing.T) {
	ph, ctx := indexedProject(t)

	res, err := Search(ctx, ph.Root, SearchQuery{Text: "lighthouse"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 1 || res[0].Type != "say" || res[0].SceneID != "intro" || res[0].Speaker != "e" {
		t.Fatalf("unexpected results: %+v", res)
	}
	if res[0].Snippet == "" {
		t.Fatalf("expected snippet")
	}

	res, err = Search(ctx, ph.Root, SearchQuery{Text: "cliffs"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 1 || res[0].Type != "menu" {
		t.Fatalf("menu choice not indexed: %+v", res)
	}
}

func TestSearchFiltersWithoutText(t *testing.T) {
	ph, ctx := indexedProject(t)

	res, err := Search(ctx, ph.Root, SearchQuery{Types: []string{"label"}})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("labels = %d, want 2: %+v", len(res), res)
	}
	res, err = Search(ctx, ph.Root, SearchQuery{Scene: "end"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, r := range res {
		if r.SceneID != "end" {
			t.Fatalf("scene filter leaked %+v", r)
		}
	}
	res, err = Search(ctx, ph.Root, SearchQuery{Speaker: "E", Types: []string{"say"}})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res) != 1 {
		t.Fatalf("speaker filter = %d results, want 1", len(res))
	}
}

func TestWhereUsedListsJumpsAndMenus(t *testing.T) {
	ph, ctx := indexedProject(t)

	res, err := WhereUsed(ctx, ph.Root, "ending", 0, 0)
	if err != nil {
		t.Fatalf("where-used: %v", err)
	}
	types := map[string]bool{}
	for _, r := range res {
		types[r.Type] = true
	}
	if len(res) != 2 || !types["jump"] || !types["menu"] {
		t.Fatalf("where-used = %+v", res)
	}

	res, err = WhereUsed(ctx, ph.Root, "nowhere", 0, 0)
	if err != nil {
		t.Fatalf("where-used: %v", err)
	}
	if len(res) != 0 {
		t.Fatalf("expected no references, got %+v", res)
	}
}

func TestRecordAndLoadBuilds(t *testing.T) {
	ph, ctx := indexedProject(t)
	ph.Project.Images["bg"] = filepath.Join(t.TempDir(), "bg.png")

	res := compiler.Compile(ph.Project, compiler.Options{})
	b := BuildFromResult(res, time.Now())
	b.Diagnostics = append(b.Diagnostics, diag.Errorf(diag.SchemaError, diag.CodeParamMissing, "synthetic").At("intro", 2))
	id, err := RecordBuild(ctx, ph, b)
	if err != nil {
		t.Fatalf("RecordBuild: %v", err)
	}
	if id <= 0 {
		t.Fatalf("build id = %d", id)
	}

	got, err := LatestBuild(ctx, ph)
	if err != nil {
		t.Fatalf("LatestBuild: %v", err)
	}
	if got.ID != id || got.Hash != res.Hash || got.Script != res.Script || got.Entry != res.Entry {
		t.Fatalf("latest build mismatch: %+v", got)
	}
	if len(got.Diagnostics) != len(b.Diagnostics) {
		t.Fatalf("diagnostics = %d, want %d", len(got.Diagnostics), len(b.Diagnostics))
	}
	last := got.Diagnostics[len(got.Diagnostics)-1]
	if last.Severity != diag.Error || last.Code != diag.CodeParamMissing || last.Scene != "intro" || last.Block != 2 {
		t.Fatalf("diagnostic round trip: %+v", last)
	}
	if len(got.Assets) != 1 || got.Assets[0].ID != "images/bg.png" {
		t.Fatalf("assets = %+v", got.Assets)
	}
}

func TestLatestBuildWithoutHistory(t *testing.T) {
	ph, ctx := indexedProject(t)
	if _, err := LatestBuild(ctx, ph); !errors.Is(err, ErrNoBuilds) {
		t.Fatalf("err = %v, want ErrNoBuilds", err)
	}
}

func TestListAndPruneBuilds(t *testing.T) {
	ph, ctx := indexedProject(t)
	for i := 0; i < 5; i++ {
		b := Build{Project: "Sample", Hash: fmt.Sprintf("h%d", i), Script: "x", Warnings: i,
			Diagnostics: diag.List{diag.Warnf(diag.StructuralError, diag.CodeUnreachable, "w")}}
		if _, err := RecordBuild(ctx, ph, b); err != nil {
			t.Fatalf("RecordBuild: %v", err)
		}
	}
	list, err := ListBuilds(ctx, ph, 3)
	if err != nil {
		t.Fatalf("ListBuilds: %v", err)
	}
	if len(list) != 3 || list[0].Hash != "h4" || list[0].Script != "" {
		t.Fatalf("list = %+v", list)
	}

	n, err := PruneBuilds(ctx, ph, 2)
	if err != nil {
		t.Fatalf("PruneBuilds: %v", err)
	}
	if n != 3 {
		t.Fatalf("pruned = %d, want 3", n)
	}
	db, err := InitOrOpenIndex(ph.Root)
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	defer db.Close()
	var orphans int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM diagnostics`).Scan(&orphans); err != nil {
		t.Fatalf("count diagnostics: %v", err)
	}
	if orphans != 2 {
		t.Fatalf("diagnostics rows = %d, want 2", orphans)
	}
}

func TestMigrationsUpgradeV1(t *testing.T) {
	root := t.TempDir()
	idx := IndexPath(root)
	if err := os.MkdirAll(filepath.Dir(idx), 0o755); err != nil {
		t.Fatalf("mk index dir: %v", err)
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(2000)", filepath.ToSlash(idx))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS version (id INTEGER PRIMARY KEY CHECK(id=1), schema INTEGER NOT NULL, app TEXT, created_at TEXT NOT NULL, updated_at TEXT NOT NULL);`,
		`INSERT INTO version(id, schema, app, created_at, updated_at) VALUES(1, 1, 'test', '2020-01-01T00:00:00Z', '2020-01-01T00:00:00Z');`,
	}
	for _, q := range stmts {
		if _, err := db.ExecContext(ctx, q); err != nil {
			t.Fatalf("seed v1 schema: %v (q=%s)", err, q)
		}
	}
	_ = db.Close()

	mdb, err := InitOrOpenIndex(root)
	if err != nil {
		t.Fatalf("InitOrOpenIndex: %v", err)
	}
	defer mdb.Close()
	var schemaV int
	if err := mdb.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&schemaV); err != nil {
		t.Fatalf("read schema: %v", err)
	}
	if schemaV != schemaVersion {
		t.Fatalf("schema = %d, want %d", schemaV, schemaVersion)
	}
	var cnt int
	if err := mdb.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name IN ('idx_cross_refs_to','idx_cross_refs_from','idx_diagnostics_build')`).Scan(&cnt); err != nil {
		t.Fatalf("query indexes: %v", err)
	}
	if cnt != 3 {
		t.Fatalf("indexes = %d, want 3", cnt)
	}
}

func TestDetectAndRebuildIndexOnCorruption(t *testing.T) {
	ph, ctx := indexedProject(t)
	idx := IndexPath(ph.Root)
	removeIndexFiles(idx)
	if err := os.WriteFile(idx, []byte("THIS IS NOT SQLITE"), 0o644); err != nil {
		t.Fatalf("write corrupt: %v", err)
	}
	rebuilt, err := DetectAndRebuildIndex(ctx, ph.Root, ph.Project)
	if err != nil {
		t.Fatalf("DetectAndRebuildIndex: %v", err)
	}
	if !rebuilt {
		t.Fatalf("expected rebuild to occur")
	}
	entries, _ := os.ReadDir(filepath.Join(ph.Root, IndexDirName, "backups"))
	if len(entries) == 0 {
		t.Fatalf("expected backup of the damaged index")
	}
	res, err := Search(ctx, ph.Root, SearchQuery{Text: "storm"})
	if err != nil {
		t.Fatalf("search after rebuild: %v", err)
	}
	if len(res) != 1 {
		t.Fatalf("search after rebuild = %+v", res)
	}

	rebuilt, err = DetectAndRebuildIndex(ctx, ph.Root, ph.Project)
	if err != nil || rebuilt {
		t.Fatalf("healthy index: rebuilt=%v err=%v", rebuilt, err)
	}
}

func TestRebuildIndexKeepsBuildHistory(t *testing.T) {
	ph, ctx := indexedProject(t)
	if _, err := RecordBuild(ctx, ph, Build{Project: "Sample", Hash: "h", Script: "s"}); err != nil {
		t.Fatalf("RecordBuild: %v", err)
	}
	if err := RebuildIndex(ctx, ph.Root, ph.Project); err != nil {
		t.Fatalf("RebuildIndex: %v", err)
	}
	if _, err := LatestBuild(ctx, ph); err != nil {
		t.Fatalf("LatestBuild after rebuild: %v", err)
	}
	res, err := WhereUsed(ctx, ph.Root, "ending", 0, 0)
	if err != nil || len(res) != 2 {
		t.Fatalf("where-used after rebuild = %+v, %v", res, err)
	}
}
