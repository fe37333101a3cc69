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
	"strings"
	"time"

	"vnforge/internal/assets"
	"vnforge/internal/compiler"
	"vnforge/internal/diag"
)

// ErrNoBuilds is returned by LatestBuild when nothing has been recorded yet.
var ErrNoBuilds = errors.New("no builds recorded")

// language=SQL
// dialect=SQLite
const insertBuildSQL = `INSERT INTO builds(ts, project, script_hash, script, entry, errors, warnings, duration_ms) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// language=SQL
// dialect=SQLite
const insertDiagnosticSQL = `INSERT INTO diagnostics(build_id, seq, severity, category, code, message, scene_id, block_id, conn_id) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

// language=SQL
// dialect=SQLite
const selectLatestBuildSQL = `SELECT build_id, ts, project, script_hash, script, COALESCE(entry,''), errors, warnings, duration_ms
	FROM builds ORDER BY build_id DESC LIMIT 1`

// language=SQL
// dialect=SQLite
const listBuildsSQL = `SELECT build_id, ts, project, script_hash, '', COALESCE(entry,''), errors, warnings, duration_ms
	FROM builds ORDER BY build_id DESC LIMIT ?`

// language=SQL
// dialect=SQLite
const selectDiagnosticsSQL = `SELECT severity, category, code, message, COALESCE(scene_id,''), COALESCE(block_id,0), COALESCE(conn_id,0)
	FROM diagnostics WHERE build_id = ? ORDER BY seq`

// language=SQL
// dialect=SQLite
const pruneOldBuildsSQL = `DELETE FROM builds WHERE build_id NOT IN (
	SELECT build_id FROM builds ORDER BY build_id DESC LIMIT ?
)`

// Build is one recorded compile.
type Build struct {
	ID       int64
	At       time.Time
	Project  string
	Hash     string
	Script   string
	Entry    string
	Errors   int
	Warnings int
	Duration time.Duration
	// Diagnostics is filled by LatestBuild only.
	Diagnostics diag.List
	// Assets is the copy-list recorded with the build; it replaces the assets table.
	Assets []assets.Copy
}

// BuildFromResult captures a compile result for the history.
func BuildFromResult(res *compiler.Result, at time.Time) Build {
	errs, warns := res.Counts()
	return Build{
		At:          at,
		Project:     res.Project,
		Hash:        res.Hash,
		Script:      res.Script,
		Entry:       res.Entry,
		Errors:      errs,
		Warnings:    warns,
		Duration:    res.Duration,
		Diagnostics: res.Diagnostics,
		Assets:      res.Assets,
	}
}

// RecordBuild stores b with its diagnostics and replaces the assets catalog
// with b.Assets, all in one transaction. It returns the new build id.
// The index database is derived; this history is meant for change tracking, not canonical storage.
func RecordBuild(ctx context.Context, ph *ProjectHandle, b Build) (int64, error) {
	if ph == nil {
		return 0, errors.New("nil ProjectHandle")
	}
	db, err := InitOrOpenIndex(ph.Root)
	if err != nil {
		return 0, err
	}
	defer func() { _ = db.Close() }()

	if b.At.IsZero() {
		b.At = time.Now()
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	rollback := func(e error) (int64, error) {
		_ = tx.Rollback()
		return 0, e
	}
	res, err := tx.ExecContext(ctx, insertBuildSQL,
		b.At.UTC().Format(time.RFC3339Nano), b.Project, b.Hash, b.Script, nullStr(b.Entry),
		b.Errors, b.Warnings, b.Duration.Milliseconds())
	if err != nil {
		return rollback(fmt.Errorf("insert build: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return rollback(fmt.Errorf("build id: %w", err))
	}
	for i, d := range b.Diagnostics {
		_, err := tx.ExecContext(ctx, insertDiagnosticSQL, id, i, d.Severity.String(), string(d.Category), d.Code, d.Message,
			nullStr(d.Scene), nullInt(d.Block), nullInt(d.Conn))
		if err != nil {
			return rollback(fmt.Errorf("insert diagnostic: %w", err))
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM assets`); err != nil {
		return rollback(fmt.Errorf("clear assets: %w", err))
	}
	for _, a := range b.Assets {
		category, _, _ := strings.Cut(a.ID, "/")
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO assets(dest, source, asset_id, category) VALUES (?, ?, ?, ?)`, a.Dest, a.Source, a.ID, category); err != nil {
			return rollback(fmt.Errorf("insert asset: %w", err))
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit build: %w", err)
	}
	return id, nil
}

// LatestBuild returns the most recent build with its diagnostics and the
// current assets catalog, or ErrNoBuilds.
func LatestBuild(ctx context.Context, ph *ProjectHandle) (*Build, error) {
	if ph == nil {
		return nil, errors.New("nil ProjectHandle")
	}
	db, err := InitOrOpenIndex(ph.Root)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	b, err := scanBuild(db.QueryRowContext(ctx, selectLatestBuildSQL))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoBuilds
	}
	if err != nil {
		return nil, err
	}
	if b.Diagnostics, err = loadDiagnostics(ctx, db, b.ID); err != nil {
		return nil, err
	}
	if b.Assets, err = loadAssets(ctx, db); err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBuilds returns up to limit most recent builds, newest first, without script text.
func ListBuilds(ctx context.Context, ph *ProjectHandle, limit int) ([]Build, error) {
	if ph == nil {
		return nil, errors.New("nil ProjectHandle")
	}
	if limit <= 0 {
		limit = 50
	}
	db, err := InitOrOpenIndex(ph.Root)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()
	rows, err := db.QueryContext(ctx, listBuildsSQL, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// PruneBuilds keeps at most keepLast builds and deletes older ones together with their diagnostics.
func PruneBuilds(ctx context.Context, ph *ProjectHandle, keepLast int) (int64, error) {
	if ph == nil {
		return 0, errors.New("nil ProjectHandle")
	}
	if keepLast <= 0 {
		return 0, nil
	}
	db, err := InitOrOpenIndex(ph.Root)
	if err != nil {
		return 0, err
	}
	defer func() { _ = db.Close() }()
	res, err := db.ExecContext(ctx, pruneOldBuildsSQL, keepLast)
	if err != nil {
		return 0, err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM diagnostics WHERE build_id NOT IN (SELECT build_id FROM builds)`); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBuild(r rowScanner) (Build, error) {
	var b Build
	var ts string
	var ms int64
	if err := r.Scan(&b.ID, &ts, &b.Project, &b.Hash, &b.Script, &b.Entry, &b.Errors, &b.Warnings, &ms); err != nil {
		return Build{}, err
	}
	b.At, _ = time.Parse(time.RFC3339Nano, ts)
	b.Duration = time.Duration(ms) * time.Millisecond
	return b, nil
}

func loadDiagnostics(ctx context.Context, db *sql.DB, buildID int64) (diag.List, error) {
	rows, err := db.QueryContext(ctx, selectDiagnosticsSQL, buildID)
	if err != nil {
		return nil, fmt.Errorf("query diagnostics: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out diag.List
	for rows.Next() {
		var d diag.Diagnostic
		var sev, cat string
		if err := rows.Scan(&sev, &cat, &d.Code, &d.Message, &d.Scene, &d.Block, &d.Conn); err != nil {
			return nil, fmt.Errorf("scan diagnostic: %w", err)
		}
		if sev == diag.Error.String() {
			d.Severity = diag.Error
		}
		d.Category = diag.Category(cat)
		out = append(out, d)
	}
	return out, rows.Err()
}

func loadAssets(ctx context.Context, db *sql.DB) ([]assets.Copy, error) {
	rows, err := db.QueryContext(ctx, `SELECT dest, source, asset_id FROM assets ORDER BY dest`)
	if err != nil {
		return nil, fmt.Errorf("query assets: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []assets.Copy
	for rows.Next() {
		var c assets.Copy
		if err := rows.Scan(&c.Dest, &c.Source, &c.ID); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func nullInt(v int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v != 0}
}
