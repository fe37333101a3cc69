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
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"vnforge/internal/graph"
	"vnforge/internal/labels"
	applog "vnforge/internal/log"
	"vnforge/internal/schema"
	"vnforge/internal/version"

	// Pure-Go SQLite driver (CGO-free)
	_ "modernc.org/sqlite"
)

const (
	// IndexDirName stores all per-project derived data under the project root.
	IndexDirName  = ".vnf"
	IndexFileName = "index.sqlite"

	// schemaVersion tracks the local SQLite schema for the embedded index.
	schemaVersion = 2
)

// IndexPath returns the full path to the project's embedded index database file.
func IndexPath(projectRoot string) string {
	return filepath.Join(projectRoot, IndexDirName, IndexFileName)
}

// InitOrOpenIndex ensures that the per-project SQLite index exists at .vnf/index.sqlite,
// opens the database, enables WAL mode, and brings the schema up to date.
// Callers close the returned *sql.DB when done.
func InitOrOpenIndex(projectRoot string) (*sql.DB, error) {
	l := applog.WithOperation(applog.WithComponent("storage"), "index_init").With(
		slog.String("root", projectRoot),
	)
	if strings.TrimSpace(projectRoot) == "" {
		return nil, errors.New("project root is required")
	}
	if err := os.MkdirAll(filepath.Join(projectRoot, IndexDirName), 0o755); err != nil {
		l.Error("create index dir failed", slog.Any("err", err))
		return nil, fmt.Errorf("create %s dir: %w", IndexDirName, err)
	}

	path := IndexPath(projectRoot)
	uriPath := filepath.ToSlash(path)
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", uriPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		l.Error("sqlite open failed", slog.Any("err", err))
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		l.Error("enable WAL failed", slog.Any("err", err))
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := ensureMetaAndVersion(ctx, db); err != nil {
		_ = db.Close()
		l.Error("ensure meta/version failed", slog.Any("err", err))
		return nil, err
	}
	if err := ensureIndexSchema(ctx, db); err != nil {
		_ = db.Close()
		l.Error("ensure index schema failed", slog.Any("err", err))
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		l.Error("run migrations failed", slog.Any("err", err))
		return nil, err
	}

	l.Debug("index ready", slog.String("path", path))
	return db, nil
}

func ensureMetaAndVersion(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS version (
			id          INTEGER PRIMARY KEY CHECK(id=1),
			schema      INTEGER NOT NULL,
			app         TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	now := time.Now().UTC().Format(time.RFC3339)
	appv := version.String()
	var curSchema int
	err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&curSchema)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// A fresh DB starts at schema 1 and is walked forward by runMigrations.
		if _, err := db.ExecContext(ctx, `INSERT INTO version (id, schema, app, created_at, updated_at) VALUES(1, 1, ?, ?, ?)`, appv, now, now); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read version: %w", err)
	default:
		if _, err := db.ExecContext(ctx, `UPDATE version SET app=?, updated_at=? WHERE id=1`, appv, now); err != nil {
			return fmt.Errorf("update version: %w", err)
		}
	}
	return nil
}

// migrations maps a target schema version to the statements that reach it.
var migrations = map[int][]string{
	2: {
		`CREATE INDEX IF NOT EXISTS idx_cross_refs_to ON cross_refs(to_id);`,
		`CREATE INDEX IF NOT EXISTS idx_cross_refs_from ON cross_refs(from_id);`,
		`CREATE INDEX IF NOT EXISTS idx_diagnostics_build ON diagnostics(build_id);`,
	},
}

// runMigrations applies incremental schema migrations up to schemaVersion.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var cur int
	if err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for cur < schemaVersion {
		next := cur + 1
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", next, err)
		}
		for _, q := range migrations[next] {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d stmt failed: %w", next, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE version SET schema=?, updated_at=? WHERE id=1`, next, time.Now().UTC().Format(time.RFC3339)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d update version: %w", next, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d commit: %w", next, err)
		}
		cur = next
	}
	return nil
}

// ensureIndexSchema creates core index tables and FTS structures if they do not exist.
func ensureIndexSchema(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		// One row per searchable piece of authored text.
		`CREATE TABLE IF NOT EXISTS documents (
			doc_id    INTEGER PRIMARY KEY,
			type      TEXT    NOT NULL,
			path      TEXT    NOT NULL,
			scene_id  TEXT,
			block_id  INTEGER,
			speaker   TEXT,
			text      TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_documents_path ON documents(path);`,
		`CREATE INDEX IF NOT EXISTS idx_documents_scene ON documents(scene_id, block_id);`,

		// External-content FTS5 index fed from documents via triggers.
		`CREATE VIRTUAL TABLE IF NOT EXISTS fts_documents USING fts5(
			text,
			content='documents',
			content_rowid='doc_id',
			tokenize = 'unicode61'
		);`,

		// jump/call/menu documents pointing at label documents
		`CREATE TABLE IF NOT EXISTS cross_refs (
			from_id INTEGER NOT NULL,
			to_id   INTEGER NOT NULL,
			PRIMARY KEY(from_id, to_id),
			FOREIGN KEY(from_id) REFERENCES documents(doc_id) ON DELETE CASCADE,
			FOREIGN KEY(to_id)   REFERENCES documents(doc_id) ON DELETE CASCADE
		);`,

		// Copy-list of the last recorded build
		`CREATE TABLE IF NOT EXISTS assets (
			dest     TEXT PRIMARY KEY,
			source   TEXT NOT NULL,
			asset_id TEXT NOT NULL,
			category TEXT
		);`,

		`CREATE TABLE IF NOT EXISTS builds (
			build_id    INTEGER PRIMARY KEY AUTOINCREMENT,
			ts          TEXT    NOT NULL,
			project     TEXT    NOT NULL,
			script_hash TEXT    NOT NULL,
			script      TEXT    NOT NULL,
			entry       TEXT,
			errors      INTEGER NOT NULL DEFAULT 0,
			warnings    INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_builds_ts ON builds(ts);`,
		`CREATE TABLE IF NOT EXISTS diagnostics (
			build_id INTEGER NOT NULL,
			seq      INTEGER NOT NULL,
			severity TEXT    NOT NULL,
			category TEXT    NOT NULL,
			code     TEXT    NOT NULL,
			message  TEXT    NOT NULL,
			scene_id TEXT,
			block_id INTEGER,
			conn_id  INTEGER,
			PRIMARY KEY(build_id, seq),
			FOREIGN KEY(build_id) REFERENCES builds(build_id) ON DELETE CASCADE
		);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure index schema: %w", err)
		}
	}
	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS documents_ai AFTER INSERT ON documents BEGIN
			INSERT INTO fts_documents(rowid, text) VALUES (new.doc_id, new.text);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS documents_ad AFTER DELETE ON documents BEGIN
			INSERT INTO fts_documents(fts_documents, rowid, text) VALUES ('delete', old.doc_id, old.text);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS documents_au AFTER UPDATE OF text ON documents BEGIN
			INSERT INTO fts_documents(fts_documents, rowid, text) VALUES ('delete', old.doc_id, old.text);
			INSERT INTO fts_documents(rowid, text) VALUES (new.doc_id, new.text);
		END;`,
	}
	for _, q := range triggers {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure fts triggers: %w", err)
		}
	}
	return nil
}

// DetectAndRebuildIndex checks for corruption or missing schema and rebuilds the index if needed.
// It returns true when a rebuild was performed. Build history does not survive a rebuild
// caused by corruption; the damaged file is kept under .vnf/backups.
func DetectAndRebuildIndex(ctx context.Context, projectRoot string, proj *graph.Project) (bool, error) {
	l := applog.WithOperation(applog.WithComponent("storage"), "index_check")
	path := IndexPath(projectRoot)
	db, err := InitOrOpenIndex(projectRoot)
	if err != nil {
		l.Warn("index unusable, rebuilding", slog.Any("err", err))
		backupIndexFile(path)
		removeIndexFiles(path)
		if rbErr := RebuildIndex(ctx, projectRoot, proj); rbErr != nil {
			return false, fmt.Errorf("rebuild after open failure: %w (open err: %v)", rbErr, err)
		}
		return true, nil
	}
	needs := false
	var chk string
	if err := db.QueryRowContext(ctx, `PRAGMA quick_check;`).Scan(&chk); err != nil || !strings.Contains(strings.ToLower(chk), "ok") {
		needs = true
	}
	if !needs {
		if _, err := db.ExecContext(ctx, `SELECT 1 FROM documents LIMIT 1;`); err != nil {
			needs = true
		}
	}
	_ = db.Close()
	if !needs {
		return false, nil
	}
	l.Warn("index failed integrity check, rebuilding", slog.String("check", chk))
	backupIndexFile(path)
	removeIndexFiles(path)
	if err := RebuildIndex(ctx, projectRoot, proj); err != nil {
		return false, err
	}
	return true, nil
}

// backupIndexFile copies the current index file into a timestamped backup in .vnf/backups.
func backupIndexFile(indexPath string) {
	bdir := filepath.Join(filepath.Dir(indexPath), "backups")
	_ = os.MkdirAll(bdir, 0o755)
	stamp := time.Now().Format("20060102-150405")
	bak := filepath.Join(bdir, fmt.Sprintf("%s.%s.bak", filepath.Base(indexPath), stamp))
	if data, err := os.ReadFile(indexPath); err == nil {
		_ = os.WriteFile(bak, data, 0o644)
	}
}

func removeIndexFiles(indexPath string) {
	for _, suffix := range []string{"", "-wal", "-shm"} {
		_ = os.Remove(indexPath + suffix)
	}
}

// BuildIndexIfEmpty populates the documents table from proj when it has no rows yet.
func BuildIndexIfEmpty(ctx context.Context, projectRoot string, proj *graph.Project) error {
	db, err := InitOrOpenIndex(projectRoot)
	if err != nil {
		return err
	}
	defer db.Close()
	var cnt int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents;").Scan(&cnt); err != nil {
		return fmt.Errorf("check documents count: %w", err)
	}
	if cnt > 0 {
		return nil
	}
	return rebuildDocumentsFromProject(ctx, db, proj)
}

// UpdateIndex replaces the documents content from the given project.
func UpdateIndex(ctx context.Context, projectRoot string, proj *graph.Project) error {
	db, err := InitOrOpenIndex(projectRoot)
	if err != nil {
		return err
	}
	defer db.Close()
	return rebuildDocumentsFromProject(ctx, db, proj)
}

// RebuildIndex drops and recreates the derived tables and refills them from proj.
// Meta, version and build history are preserved.
func RebuildIndex(ctx context.Context, projectRoot string, proj *graph.Project) error {
	db, err := InitOrOpenIndex(projectRoot)
	if err != nil {
		return err
	}
	defer db.Close()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	drops := []string{
		"DROP TABLE IF EXISTS cross_refs;",
		"DROP TABLE IF EXISTS assets;",
		"DROP TRIGGER IF EXISTS documents_ai;",
		"DROP TRIGGER IF EXISTS documents_ad;",
		"DROP TRIGGER IF EXISTS documents_au;",
		"DROP TABLE IF EXISTS fts_documents;",
		"DROP TABLE IF EXISTS documents;",
	}
	for _, q := range drops {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("drop schema: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("drop commit: %w", err)
	}
	if err := ensureIndexSchema(ctx, db); err != nil {
		return err
	}
	for _, q := range migrations[2] {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("recreate indexes: %w", err)
		}
	}
	return rebuildDocumentsFromProject(ctx, db, proj)
}

type docRow struct {
	typeStr string
	path    string
	scene   sql.NullString
	block   sql.NullInt64
	speaker sql.NullString
	text    string
	// refs names the labels this document points at
	refs []string
}

// DocumentPath is the index path of a block: "scene:<id>/block:<n>".
func DocumentPath(sceneID string, block graph.BlockID) string {
	return fmt.Sprintf("scene:%s/block:%d", sceneID, block)
}

// documentRows flattens the searchable text of proj.
func documentRows(proj *graph.Project) []docRow {
	rows := make([]docRow, 0, 256)
	if proj == nil {
		return rows
	}
	if s := strings.TrimSpace(proj.Name); s != "" {
		rows = append(rows, docRow{typeStr: "project_name", path: "project:name", text: s})
	}
	for _, name := range sortedNames(proj.Characters) {
		text := strings.TrimSpace(name + " " + proj.Characters[name])
		rows = append(rows, docRow{typeStr: "character", path: "project:character:" + name, speaker: nullStr(name), text: text})
	}
	for _, s := range proj.Scenes() {
		sid := nullStr(s.ID)
		if n := strings.TrimSpace(s.Name); n != "" {
			rows = append(rows, docRow{typeStr: "scene", path: "scene:" + s.ID, scene: sid, text: n})
		}
		for _, b := range s.Blocks() {
			r := docRow{
				typeStr: b.Kind.String(),
				path:    DocumentPath(s.ID, b.ID),
				scene:   sid,
				block:   sql.NullInt64{Int64: int64(b.ID), Valid: true},
			}
			switch b.Kind {
			case schema.Label:
				r.text = b.Params.String("label")
			case schema.Say:
				r.speaker = nullStr(b.Params.String("who"))
				r.text = b.Params.String("text")
			case schema.Narration, schema.Center, schema.Text:
				r.text = b.Params.String("text")
			case schema.Menu:
				parts := []string{b.Params.String("question")}
				for _, c := range b.Params.Choices() {
					parts = append(parts, c.Text)
					if c.Jump != "" {
						r.refs = append(r.refs, c.Jump)
					}
				}
				r.text = strings.TrimSpace(strings.Join(parts, "\n"))
			case schema.Jump, schema.Call:
				target := b.Params.String("target")
				r.text = target
				if target != "" {
					r.refs = append(r.refs, target)
				}
			case schema.Character:
				r.speaker = nullStr(b.Params.String("name"))
				r.text = strings.TrimSpace(b.Params.String("name") + " " + b.Params.String("display_name"))
			default:
				continue
			}
			if r.text == "" && len(r.refs) == 0 {
				continue
			}
			rows = append(rows, r)
		}
	}
	return rows
}

// rebuildDocumentsFromProject replaces documents and cross_refs with the content of proj.
func rebuildDocumentsFromProject(ctx context.Context, db *sql.DB, proj *graph.Project) error {
	rows := documentRows(proj)
	reg := labels.Rebuild(proj)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	rollback := func(e error) error {
		_ = tx.Rollback()
		return e
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM cross_refs;"); err != nil {
		return rollback(fmt.Errorf("clear cross_refs: %w", err))
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM documents;"); err != nil {
		return rollback(fmt.Errorf("clear documents: %w", err))
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO documents(type, path, scene_id, block_id, speaker, text) VALUES(?,?,?,?,?,?)`)
	if err != nil {
		return rollback(fmt.Errorf("prepare insert: %w", err))
	}
	defer stmt.Close()

	ids := make([]int64, len(rows))
	byPath := make(map[string]int64, len(rows))
	for i, r := range rows {
		res, err := stmt.ExecContext(ctx, r.typeStr, r.path, r.scene, r.block, r.speaker, r.text)
		if err != nil {
			return rollback(fmt.Errorf("insert document %s: %w", r.path, err))
		}
		id, err := res.LastInsertId()
		if err != nil {
			return rollback(fmt.Errorf("document id: %w", err))
		}
		ids[i] = id
		byPath[r.path] = id
	}
	for i, r := range rows {
		for _, name := range r.refs {
			def, ok := reg.Lookup(name)
			if !ok {
				continue
			}
			to, ok := byPath[DocumentPath(def.Scene, def.Block)]
			if !ok {
				continue
			}
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO cross_refs(from_id, to_id) VALUES(?,?)`, ids[i], to); err != nil {
				return rollback(fmt.Errorf("insert cross_ref: %w", err))
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit documents: %w", err)
	}
	return nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func sortedNames(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
