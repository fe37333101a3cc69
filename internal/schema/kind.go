/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package schema holds the closed enumeration of block kinds, the port shape
// each kind has, and the parameter catalog loaded from the block-kind
// description.
package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies a block variant. Adding a kind means adding a constant, its
// name, its class and an emitter template.
type Kind uint8

const (
	KindInvalid Kind = iota
	Label
	Say
	Narration
	Menu
	If
	While
	For
	Jump
	Call
	Return
	Scene
	Show
	Hide
	Image
	Pause
	Transition
	With
	Sound
	Music
	StopMusic
	StopSound
	QueueMusic
	QueueSound
	SetVar
	Default
	Define
	Python
	Character
	Voice
	Center
	Text
	kindCount
)

var kindNames = [kindCount]string{
	KindInvalid: "",
	Label:       "label",
	Say:         "say",
	Narration:   "narration",
	Menu:        "menu",
	If:          "if",
	While:       "while",
	For:         "for",
	Jump:        "jump",
	Call:        "call",
	Return:      "return",
	Scene:       "scene",
	Show:        "show",
	Hide:        "hide",
	Image:       "image",
	Pause:       "pause",
	Transition:  "transition",
	With:        "with",
	Sound:       "sound",
	Music:       "music",
	StopMusic:   "stop_music",
	StopSound:   "stop_sound",
	QueueMusic:  "queue_music",
	QueueSound:  "queue_sound",
	SetVar:      "set_var",
	Default:     "default",
	Define:      "define",
	Python:      "python",
	Character:   "character",
	Voice:       "voice",
	Center:      "center",
	Text:        "text",
}

// Kinds returns every valid kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount-1)
	for k := Label; k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

func (k Kind) String() string {
	if k < kindCount && k != KindInvalid {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Valid reports whether k is one of the enumerated kinds.
func (k Kind) Valid() bool { return k > KindInvalid && k < kindCount }

// ParseKind maps a kind name to its constant. Names are case-insensitive and
// accept upper-case spellings such as "STOP_MUSIC".
func ParseKind(s string) (Kind, error) {
	n := strings.ToLower(strings.TrimSpace(s))
	for k := Label; k < kindCount; k++ {
		if kindNames[k] == n {
			return k, nil
		}
	}
	return KindInvalid, fmt.Errorf("unknown block kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid block kind %d", k)
	}
	return []byte(kindNames[k]), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Class groups kinds by the shape of their ports and statement node.
type Class uint8

const (
	// ClassLeaf has one input and a single "next" output.
	ClassLeaf Class = iota
	// ClassEntry starts a traversal and has no input.
	ClassEntry
	// ClassTerminal ends control flow and has no output.
	ClassTerminal
	// ClassConditional has "then" and "else" outputs.
	ClassConditional
	// ClassMenu has one output per declared choice.
	ClassMenu
	// ClassLoop has "body" and "after" outputs; the body flows back to the loop.
	ClassLoop
)

// Class returns the port/statement class of k.
func (k Kind) Class() Class {
	switch k {
	case Label:
		return ClassEntry
	case Jump, Return:
		return ClassTerminal
	case If:
		return ClassConditional
	case Menu:
		return ClassMenu
	case While, For:
		return ClassLoop
	default:
		return ClassLeaf
	}
}

// IsLoop reports whether k is a loop kind.
func (k Kind) IsLoop() bool { return k.Class() == ClassLoop }

// IsBranching reports whether k produces a composite statement.
func (k Kind) IsBranching() bool {
	switch k.Class() {
	case ClassConditional, ClassMenu, ClassLoop:
		return true
	}
	return false
}

// Role names a port on a block.
type Role string

const (
	RoleIn    Role = "in"
	RoleNext  Role = "next"
	RoleThen  Role = "then"
	RoleElse  Role = "else"
	RoleBody  Role = "body"
	RoleAfter Role = "after"
)

const optionPrefix = "option"

// OptionRole returns the output role of the i-th menu choice (zero based).
func OptionRole(i int) Role { return Role(optionPrefix + strconv.Itoa(i)) }

// OptionIndex parses a menu option role.
func (r Role) OptionIndex() (int, bool) {
	s, ok := strings.CutPrefix(string(r), optionPrefix)
	if !ok || s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || strconv.Itoa(n) != s {
		return 0, false
	}
	return n, true
}

// HasInput reports whether blocks of kind k accept incoming connections.
func (k Kind) HasInput() bool { return k.Valid() && k.Class() != ClassEntry }

// OutputRoles lists the output roles of kind k in port order. options is the
// number of declared menu choices and is ignored for other kinds.
func (k Kind) OutputRoles(options int) []Role {
	switch k.Class() {
	case ClassEntry, ClassLeaf:
		return []Role{RoleNext}
	case ClassConditional:
		return []Role{RoleThen, RoleElse}
	case ClassLoop:
		return []Role{RoleBody, RoleAfter}
	case ClassMenu:
		out := make([]Role, options)
		for i := range out {
			out[i] = OptionRole(i)
		}
		return out
	default:
		return nil
	}
}

// HasOutput reports whether role is an output port of kind k for a block with
// the given number of menu choices.
func (k Kind) HasOutput(role Role, options int) bool {
	if k.Class() == ClassMenu {
		i, ok := role.OptionIndex()
		return ok && i < options
	}
	for _, r := range k.OutputRoles(options) {
		if r == role {
			return true
		}
	}
	return false
}
