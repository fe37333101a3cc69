/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package script

import (
	"bufio"
	"regexp"
	"strings"
)

var (
	reScene    = regexp.MustCompile(`^(#+)\s*(.*)$`)
	reSceneAlt = regexp.MustCompile(`^(?i)\s*Scene:\s*(.+)$`)
	reName     = regexp.MustCompile(`^([A-Za-z0-9_\- ]{1,64})\s*:\s*(.*)$`)
	rePause    = regexp.MustCompile(`^(?i)\s*(beat|pause)\b\s*([0-9]*\.?[0-9]*)\s*$`)
	reJump     = regexp.MustCompile(`^->\s*(\S+)\s*$`)
)

// Parse reads a draft.
// Supported syntax:
//   - Lines starting with "#" or "Scene:" introduce a new scene. The rest of the line is the title.
//   - NAME: text is dialogue. NARRATION: and CAPTION: mark narration.
//   - Continuation lines indented by 2+ spaces are appended to the previous dialogue or narration.
//   - "-> label" jumps; "Beat" or "Pause 1.5" pause.
//   - Lines starting with ';' are notes.
//
// Anything else is narration. Blank lines separate paragraphs.
func Parse(input string) (Draft, []Error) {
	d := Draft{Scenes: []Scene{}}
	var errs []Error

	scanner := bufio.NewScanner(strings.NewReader(input))
	lineNo := 0
	current := Scene{}
	var last *Line

	flush := func() {
		if strings.TrimSpace(current.Title) != "" || len(current.Lines) > 0 {
			d.Scenes = append(d.Scenes, current)
		}
	}
	add := func(l Line) *Line {
		if len(d.Scenes) == 0 && current.Title == "" && len(current.Lines) == 0 {
			current.Title = "Untitled"
		}
		current.Lines = append(current.Lines, l)
		return &current.Lines[len(current.Lines)-1]
	}

	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r\n")

		if strings.HasPrefix(line, "  ") && last != nil {
			if cont := strings.TrimSpace(line); cont != "" {
				last.Text += " " + cont
			}
			continue
		}

		trim := strings.TrimSpace(line)
		if trim == "" {
			last = nil
			continue
		}
		if m := reScene.FindStringSubmatch(trim); m != nil {
			flush()
			current = Scene{Title: strings.TrimSpace(m[2])}
			last = nil
			continue
		}
		if m := reSceneAlt.FindStringSubmatch(trim); m != nil {
			flush()
			current = Scene{Title: strings.TrimSpace(m[1])}
			last = nil
			continue
		}
		if strings.HasPrefix(trim, ";") {
			add(Line{Type: LineNote, Text: strings.TrimSpace(strings.TrimPrefix(trim, ";")), LineNo: lineNo})
			last = nil
			continue
		}
		if strings.HasPrefix(trim, "->") {
			m := reJump.FindStringSubmatch(trim)
			if m == nil {
				errs = append(errs, Error{Line: lineNo, Column: 1, Message: "jump needs exactly one target label"})
				last = nil
				continue
			}
			add(Line{Type: LineJump, Text: m[1], LineNo: lineNo})
			last = nil
			continue
		}
		if m := rePause.FindStringSubmatch(trim); m != nil {
			add(Line{Type: LinePause, Text: m[2], LineNo: lineNo})
			last = nil
			continue
		}
		if m := reName.FindStringSubmatch(trim); m != nil {
			name := strings.TrimSpace(m[1])
			text := strings.TrimSpace(m[2])
			switch strings.ToUpper(name) {
			case "CAPTION", "NARRATION":
				last = add(Line{Type: LineNarration, Text: text, LineNo: lineNo})
			default:
				if text == "" {
					errs = append(errs, Error{Line: lineNo, Column: len(m[1]) + 2, Message: "dialogue without text"})
				}
				last = add(Line{Type: LineDialogue, Speaker: name, Text: text, LineNo: lineNo})
			}
			continue
		}
		last = add(Line{Type: LineNarration, Text: trim, LineNo: lineNo})
	}
	flush()

	if err := scanner.Err(); err != nil {
		errs = append(errs, Error{Line: lineNo, Column: 1, Message: err.Error()})
	}
	return d, errs
}
