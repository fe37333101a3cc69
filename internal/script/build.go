/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package script

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"vnforge/internal/graph"
	"vnforge/internal/schema"
)

// row spacing of imported blocks on the canvas
const rowHeight = 80

// ImportOptions controls how a draft becomes scenes.
type ImportOptions struct {
	// Reserved is the dispatcher label; generated labels never use it.
	Reserved string
}

// Imported describes one scene created from a draft.
type Imported struct {
	SceneID string
	Label   string
	Blocks  int
}

// Import appends one scene per draft scene to p. Each scene starts with a
// label derived from its title and chains its lines in order. Speakers not
// yet known to p are added to p.Characters.
func Import(p *graph.Project, d Draft, opts ImportOptions) ([]Imported, error) {
	if opts.Reserved == "" {
		opts.Reserved = "start"
	}
	taken := map[string]bool{opts.Reserved: true}
	for _, s := range p.Scenes() {
		taken[s.ID] = true
		for _, b := range s.Blocks() {
			if b.Kind == schema.Label {
				if name, ok := b.Params["label"].(string); ok {
					taken[name] = true
				}
			}
		}
	}

	var out []Imported
	for _, ds := range d.Scenes {
		id := unique(Slug(ds.Title), taken)
		taken[id] = true
		s := graph.NewScene(id, ds.Title)
		prev, err := s.AddBlock(schema.Label, graph.Params{"label": id}, 0, 0)
		if err != nil {
			return out, err
		}
		n := 1
		for _, l := range ds.Lines {
			kind, params, ok := blockFor(p, l)
			if !ok {
				continue
			}
			b, err := s.AddBlock(kind, params, 0, float64(n*rowHeight))
			if err != nil {
				return out, fmt.Errorf("line %d: %w", l.LineNo, err)
			}
			n++
			if prev != 0 {
				if _, err := s.AddConnection(graph.Port{Block: prev, Role: schema.RoleNext}, graph.Port{Block: b, Role: schema.RoleIn}); err != nil {
					return out, fmt.Errorf("line %d: %w", l.LineNo, err)
				}
			}
			prev = b
			if kind == schema.Jump {
				// nothing follows a jump until the next label
				prev = 0
			}
		}
		if err := p.AddScene(s); err != nil {
			return out, err
		}
		out = append(out, Imported{SceneID: id, Label: id, Blocks: n})
	}
	return out, nil
}

func blockFor(p *graph.Project, l Line) (schema.Kind, graph.Params, bool) {
	switch l.Type {
	case LineDialogue:
		who := speakerID(l.Speaker)
		if _, ok := p.Characters[who]; !ok {
			p.Characters[who] = l.Speaker
		}
		return schema.Say, graph.Params{"who": who, "text": l.Text}, true
	case LineNarration:
		return schema.Narration, graph.Params{"text": l.Text}, true
	case LineJump:
		return schema.Jump, graph.Params{"target": l.Text}, true
	case LinePause:
		params := graph.Params{}
		if sec, err := strconv.ParseFloat(l.Text, 64); err == nil {
			params["duration"] = sec
		}
		return schema.Pause, params, true
	default:
		return schema.KindInvalid, nil, false
	}
}

// Slug turns a title into a Ren'Py identifier: lower case, runs of other
// characters collapsed to "_", never starting with a digit.
func Slug(title string) string {
	var b strings.Builder
	sep := false
	for _, r := range strings.ToLower(title) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
			sep = false
			continue
		}
		sep = true
	}
	s := b.String()
	if s == "" {
		return "scene"
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = "s_" + s
	}
	return s
}

func speakerID(name string) string {
	s := Slug(name)
	if s == "scene" && strings.TrimSpace(name) == "" {
		return "narrator"
	}
	return s
}

func unique(base string, taken map[string]bool) string {
	if !taken[base] {
		return base
	}
	for i := 2; ; i++ {
		c := fmt.Sprintf("%s_%d", base, i)
		if !taken[c] {
			return c
		}
	}
}
