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
	"fmt"
	"strings"
	"time"
)

// Hit is one published build whose script matches a search.
type Hit struct {
	BuildID int64
	Project string
	Hash    string
	At      time.Time
	Snippet string
}

// SearchQuery filters Search. An empty Project searches every project.
type SearchQuery struct {
	Text    string
	Project string
	Limit   int
	Offset  int
}

// searchSQL builds the query for q with numbered placeholders.
func searchSQL(q SearchQuery) (string, []any) {
	var (
		args []any
		b    strings.Builder
	)
	place := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	text := place(strings.TrimSpace(q.Text))
	b.WriteString("SELECT b.id, p.name, b.script_hash, b.built_at, ")
	b.WriteString("COALESCE(ts_headline('simple', b.script, plainto_tsquery('simple', " + text + "), 'StartSel=[, StopSel=], MaxFragments=1, MaxWords=12'), '') ")
	b.WriteString("FROM builds b JOIN projects p ON p.id = b.project_id ")
	b.WriteString("WHERE b.search_vector @@ plainto_tsquery('simple', " + text + ") ")
	if s := strings.TrimSpace(q.Project); s != "" {
		b.WriteString("AND p.name = " + place(s) + " ")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := max(q.Offset, 0)
	b.WriteString("ORDER BY b.built_at DESC, b.id DESC ")
	b.WriteString("LIMIT " + place(limit) + " OFFSET " + place(offset))
	return b.String(), args
}

// Search finds published scripts containing the words of q.Text.
func (a *Archive) Search(ctx context.Context, q SearchQuery) ([]Hit, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, nil
	}
	query, args := searchSQL(q)
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search archive: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.BuildID, &h.Project, &h.Hash, &h.At, &h.Snippet); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
