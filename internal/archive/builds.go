/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"vnforge/internal/diag"
	"vnforge/internal/storage"
)

// language=PostgreSQL
const upsertProjectSQL = `INSERT INTO projects(name) VALUES ($1)
	ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
	RETURNING id`

// language=PostgreSQL
const insertBuildSQL = `INSERT INTO builds(project_id, script_hash, script, entry, errors, warnings, duration_ms, built_at)
	VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8)
	ON CONFLICT (project_id, script_hash) DO NOTHING
	RETURNING id`

// language=PostgreSQL
const insertDiagnosticSQL = `INSERT INTO build_diagnostics(build_id, seq, severity, category, code, message, scene_id, block_id, conn_id)
	VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, 0), NULLIF($9, 0))`

// language=PostgreSQL
const selectLatestSQL = `SELECT b.id, b.built_at, p.name, b.script_hash, b.script, COALESCE(b.entry, ''), b.errors, b.warnings, b.duration_ms
	FROM builds b JOIN projects p ON p.id = b.project_id
	WHERE p.name = $1
	ORDER BY b.built_at DESC, b.id DESC LIMIT 1`

// language=PostgreSQL
const selectDiagnosticsSQL = `SELECT severity, category, code, message, COALESCE(scene_id, ''), COALESCE(block_id, 0), COALESCE(conn_id, 0)
	FROM build_diagnostics WHERE build_id = $1 ORDER BY seq`

// Published reports the outcome of Publish.
type Published struct {
	ID int64
	// Existing is set when the same script had already been published.
	Existing bool
}

// Publish stores b under its project. Publishing a script hash that already
// exists for the project is a no-op that returns the existing id.
func (a *Archive) Publish(ctx context.Context, b storage.Build) (Published, error) {
	var out Published
	if b.Project == "" || b.Hash == "" {
		return out, errors.New("build needs a project name and script hash")
	}
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return out, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var projectID int64
	if err := tx.QueryRowContext(ctx, upsertProjectSQL, b.Project).Scan(&projectID); err != nil {
		return out, fmt.Errorf("upsert project: %w", err)
	}
	at := b.At
	if at.IsZero() {
		at = time.Now()
	}
	err = tx.QueryRowContext(ctx, insertBuildSQL, projectID, b.Hash, b.Script, b.Entry,
		b.Errors, b.Warnings, b.Duration.Milliseconds(), at.UTC()).Scan(&out.ID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if err := tx.QueryRowContext(ctx, `SELECT id FROM builds WHERE project_id = $1 AND script_hash = $2`,
			projectID, b.Hash).Scan(&out.ID); err != nil {
			return out, fmt.Errorf("find existing build: %w", err)
		}
		out.Existing = true
		a.log.Info("build already published", "project", b.Project, "hash", b.Hash, "id", out.ID)
		return out, tx.Commit()
	case err != nil:
		return out, fmt.Errorf("insert build: %w", err)
	}
	for i, d := range b.Diagnostics {
		if _, err := tx.ExecContext(ctx, insertDiagnosticSQL, out.ID, i, d.Severity.String(), string(d.Category),
			d.Code, d.Message, d.Scene, d.Block, d.Conn); err != nil {
			return out, fmt.Errorf("insert diagnostic: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return out, fmt.Errorf("commit: %w", err)
	}
	a.log.Info("build published", "project", b.Project, "hash", b.Hash, "id", out.ID)
	return out, nil
}

// Latest returns the most recent published build of a project with its diagnostics.
func (a *Archive) Latest(ctx context.Context, project string) (*storage.Build, error) {
	var (
		b  storage.Build
		ms int64
	)
	err := a.db.QueryRowContext(ctx, selectLatestSQL, project).Scan(&b.ID, &b.At, &b.Project, &b.Hash, &b.Script,
		&b.Entry, &b.Errors, &b.Warnings, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, project)
	}
	if err != nil {
		return nil, fmt.Errorf("query latest build: %w", err)
	}
	b.Duration = time.Duration(ms) * time.Millisecond

	rows, err := a.db.QueryContext(ctx, selectDiagnosticsSQL, b.ID)
	if err != nil {
		return nil, fmt.Errorf("query diagnostics: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			d        diag.Diagnostic
			sev, cat string
		)
		if err := rows.Scan(&sev, &cat, &d.Code, &d.Message, &d.Scene, &d.Block, &d.Conn); err != nil {
			return nil, fmt.Errorf("scan diagnostic: %w", err)
		}
		if sev == diag.Error.String() {
			d.Severity = diag.Error
		}
		d.Category = diag.Category(cat)
		b.Diagnostics = append(b.Diagnostics, d)
	}
	return &b, rows.Err()
}
