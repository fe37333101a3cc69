/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package emit

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// writer accumulates script lines at a nesting depth.
type writer struct {
	b     strings.Builder
	unit  string
	depth int
	lines int
}

func (w *writer) line(format string, args ...any) {
	for i := 0; i < w.depth; i++ {
		w.b.WriteString(w.unit)
	}
	if len(args) == 0 {
		w.b.WriteString(format)
	} else {
		fmt.Fprintf(&w.b, format, args...)
	}
	w.b.WriteByte('\n')
	w.lines++
}

func (w *writer) blank() { w.b.WriteByte('\n') }

func (w *writer) indent() { w.depth++ }

func (w *writer) dedent() {
	if w.depth > 0 {
		w.depth--
	}
}

// escapeText prepares text for a double quoted Ren'Py string.
func escapeText(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\r\n", `\n`)
	return strings.ReplaceAll(s, "\n", `\n`)
}

func quote(s string) string { return `"` + escapeText(s) + `"` }

// singleQuote renders s as a single quoted Python string.
func singleQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}

// formatValue renders an authored value as a Python expression. Numbers,
// constants, quoted strings and list/dict literals pass through; anything else
// becomes a string literal.
func formatValue(s string) string {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return `""`
	case s == "True" || s == "False" || s == "None":
		return s
	case strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{"):
		return s
	case len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"':
		return s
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return s
	}
	return quote(s)
}

// valueLiteral renders a project variable value decoded from JSON.
func valueLiteral(v any) string {
	switch t := v.(type) {
	case nil:
		return "None"
	case bool:
		if t {
			return "True"
		}
		return "False"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case string:
		return formatValue(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return `""`
		}
		return string(b)
	}
}

// identifier turns a speaker name into a Python identifier.
func identifier(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	id := b.String()
	if id == "" || unicode.IsDigit(rune(id[0])) {
		id = "c_" + id
	}
	return id
}

// dedent removes the indentation common to all non-blank lines of code.
func dedent(code string) []string {
	lines := strings.Split(strings.ReplaceAll(code, "\r\n", "\n"), "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	common := -1
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		n := len(l) - len(strings.TrimLeft(l, " \t"))
		if common < 0 || n < common {
			common = n
		}
	}
	for i, l := range lines {
		if strings.TrimSpace(l) == "" {
			lines[i] = ""
		} else {
			lines[i] = strings.TrimRight(l[common:], " \t")
		}
	}
	return lines
}

func isTrue(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true
	}
	return false
}
