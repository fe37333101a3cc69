/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package graph

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Params is a block's parameter mapping. Values come from project documents
// (strings, float64, bool, lists) or from code; accessors normalise them.
type Params map[string]any

// Clone returns a deep copy of p.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case []any:
		c := make([]any, len(t))
		for i := range t {
			c[i] = cloneValue(t[i])
		}
		return c
	case map[string]any:
		c := make(map[string]any, len(t))
		for k, x := range t {
			c[k] = cloneValue(x)
		}
		return c
	case []Choice:
		return append([]Choice(nil), t...)
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// String returns the trimmed textual form of a parameter, or "" when absent.
func (p Params) String(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(scalarString(v))
}

// Raw returns the untrimmed textual form of a parameter. Code fragments keep
// their leading indentation this way.
func (p Params) Raw(key string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return ""
	}
	return scalarString(v)
}

// Has reports whether key holds a non-blank value.
func (p Params) Has(key string) bool {
	if key == "choices" {
		return len(p.Choices()) > 0
	}
	return p.String(key) != ""
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Choice is one entry of a menu's option list.
type Choice struct {
	Text      string `json:"text"`
	Condition string `json:"condition,omitempty"`
	Jump      string `json:"jump,omitempty"`
}

// Choices decodes the "choices" parameter. Accepted shapes: []Choice, a list of
// objects or strings, a JSON array string, or a comma separated string.
func (p Params) Choices() []Choice {
	switch t := p["choices"].(type) {
	case []Choice:
		return append([]Choice(nil), t...)
	case []any:
		out := make([]Choice, 0, len(t))
		for _, item := range t {
			out = append(out, choiceFrom(item))
		}
		return out
	case []string:
		out := make([]Choice, 0, len(t))
		for _, s := range t {
			out = append(out, Choice{Text: strings.TrimSpace(s)})
		}
		return out
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		if strings.HasPrefix(s, "[") {
			var raw []any
			if err := json.Unmarshal([]byte(s), &raw); err == nil {
				return Params{"choices": raw}.Choices()
			}
		}
		var out []Choice
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, Choice{Text: part})
			}
		}
		return out
	default:
		return nil
	}
}

func choiceFrom(item any) Choice {
	switch c := item.(type) {
	case Choice:
		return c
	case map[string]any:
		return Choice{
			Text:      strings.TrimSpace(optString(c["text"])),
			Condition: strings.TrimSpace(optString(c["condition"])),
			Jump:      strings.TrimSpace(optString(c["jump"])),
		}
	default:
		return Choice{Text: strings.TrimSpace(optString(c))}
	}
}

func optString(v any) string {
	if v == nil {
		return ""
	}
	return scalarString(v)
}
