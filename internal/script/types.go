/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package script

// Draft is a plain-text story outline: scenes of dialogue and narration
// that can be turned into block graphs.
type Draft struct {
	Scenes []Scene
}

type Scene struct {
	Title string
	Lines []Line
}

// LineType indicates the kind of a draft line.
// Dialogue:  NAME: text
// Narration: NARRATION: text, CAPTION: text or any unmarked line
// Jump:      -> label
// Pause:     "Beat" or "Pause" markers, optionally followed by seconds
// Note:      lines starting with ";" are author notes and never imported
type LineType int

const (
	LineNarration LineType = iota
	LineDialogue
	LineJump
	LinePause
	LineNote
)

// Line captures a single logical line (possibly with continuations) in a scene.
// For Dialogue, Speaker holds the name as written; Text is the spoken content.
// For Jump, Text is the target label. For Pause, Text is the duration or empty.
type Line struct {
	Type    LineType
	Speaker string
	Text    string
	LineNo  int // 1-based starting line number in the source
}

// Error represents a parse error with position context.
type Error struct {
	Line    int
	Column  int
	Message string
}
