/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package diag defines compiler diagnostics. A diagnostic is a value, never a
// panic: it carries a severity, a category from the compiler's error taxonomy
// and the scene/block/connection it is attributed to.
package diag

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Severity of a diagnostic. Errors block emission of the scene they belong to.
type Severity uint8

const (
	Warning Severity = iota
	Error
)

func (s Severity) String() string {
	if s == Error {
		return "error"
	}
	return "warning"
}

// Category is the error taxonomy used by the validator, resolver and emitter.
type Category string

const (
	// StructuralError covers unanchored cycles, unreachable blocks and duplicate labels.
	StructuralError Category = "structural"
	// ReferenceError is a jump/call whose target label does not exist. The statement is dropped.
	ReferenceError Category = "reference"
	// SchemaError is a missing or illegal parameter. The scene is not emitted.
	SchemaError Category = "schema"
	// InternalInvariantError is a traversal that would revisit a run head. The branch is truncated.
	InternalInvariantError Category = "invariant"
)

// Stable diagnostic codes.
const (
	CodeLabelEmpty       = "label.empty"
	CodeLabelIllegal     = "label.illegal"
	CodeLabelReserved    = "label.reserved"
	CodeLabelDuplicate   = "label.duplicate"
	CodeParamMissing     = "param.missing"
	CodeParamIllegal     = "param.illegal"
	CodeChoiceEmpty      = "menu.choice_empty"
	CodeUnreachable      = "block.unreachable"
	CodeCycle            = "graph.cycle"
	CodeNoEntry          = "scene.no_entry"
	CodeStalePort        = "connection.stale_port"
	CodeDanglingEndpoint = "connection.dangling"
	CodeUnresolvedTarget = "reference.unresolved"
	CodeRevisit          = "resolve.revisit"
	CodeSceneSkipped     = "scene.skipped"
	CodeUnknownKind      = "block.unknown_kind"
)

// Diagnostic is one finding attributed to a concrete graph element.
// Block and Conn are zero when not applicable; graph ids start at 1.
type Diagnostic struct {
	Severity Severity `json:"severity"`
	Category Category `json:"category"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Scene    string   `json:"scene,omitempty"`
	Block    int      `json:"block,omitempty"`
	Conn     int      `json:"connection,omitempty"`
}

func (d Diagnostic) Error() string { return d.String() }

func (d Diagnostic) String() string {
	var b strings.Builder
	b.WriteString(d.Severity.String())
	b.WriteString(" [")
	b.WriteString(d.Code)
	b.WriteString("]")
	if d.Scene != "" {
		fmt.Fprintf(&b, " scene=%s", d.Scene)
	}
	if d.Block != 0 {
		fmt.Fprintf(&b, " block=%d", d.Block)
	}
	if d.Conn != 0 {
		fmt.Fprintf(&b, " connection=%d", d.Conn)
	}
	b.WriteString(": ")
	b.WriteString(d.Message)
	return b.String()
}

// Warnf builds a warning diagnostic.
func Warnf(cat Category, code string, format string, args ...any) Diagnostic {
	return Diagnostic{Severity: Warning, Category: cat, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Errorf builds an error diagnostic.
func Errorf(cat Category, code string, format string, args ...any) Diagnostic {
	return Diagnostic{Severity: Error, Category: cat, Code: code, Message: fmt.Sprintf(format, args...)}
}

// At attributes the diagnostic to a scene and block.
func (d Diagnostic) At(scene string, block int) Diagnostic {
	d.Scene = scene
	d.Block = block
	return d
}

// OnConn attributes the diagnostic to a scene and connection.
func (d Diagnostic) OnConn(scene string, conn int) Diagnostic {
	d.Scene = scene
	d.Conn = conn
	return d
}

// List is an ordered collection of diagnostics. It satisfies error so outer
// layers can return it when a caller wants a failure value.
type List []Diagnostic

// HasErrors reports whether any diagnostic has error severity.
func (l List) HasErrors() bool {
	for _, d := range l {
		if d.Severity == Error {
			return true
		}
	}
	return false
}

// Count returns the number of errors and warnings.
func (l List) Count() (errs, warns int) {
	for _, d := range l {
		if d.Severity == Error {
			errs++
		} else {
			warns++
		}
	}
	return errs, warns
}

// Filter returns diagnostics matching keep.
func (l List) Filter(keep func(Diagnostic) bool) List {
	var out List
	for _, d := range l {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out
}

// ByCategory returns diagnostics of the given category.
func (l List) ByCategory(c Category) List {
	return l.Filter(func(d Diagnostic) bool { return d.Category == c })
}

// ForBlock returns diagnostics attributed to a block of a scene.
func (l List) ForBlock(scene string, block int) List {
	return l.Filter(func(d Diagnostic) bool { return d.Scene == scene && d.Block == block })
}

// Sort orders diagnostics by scene, block, connection and code while keeping
// the relative order of equal entries.
func (l List) Sort(sceneOrder map[string]int) {
	sort.SliceStable(l, func(i, j int) bool {
		a, b := l[i], l[j]
		if a.Scene != b.Scene {
			return sceneOrder[a.Scene] < sceneOrder[b.Scene]
		}
		if a.Block != b.Block {
			return a.Block < b.Block
		}
		if a.Conn != b.Conn {
			return a.Conn < b.Conn
		}
		return a.Code < b.Code
	})
}

func (l List) Error() string {
	if len(l) == 0 {
		return "no diagnostics"
	}
	msgs := make([]string, len(l))
	for i, d := range l {
		msgs[i] = d.String()
	}
	return strings.Join(msgs, "; ")
}

// Unwrap exposes each diagnostic to errors.Is/As.
func (l List) Unwrap() []error {
	errs := make([]error, len(l))
	for i, d := range l {
		errs[i] = d
	}
	return errs
}

// AsList extracts a diagnostic list from an error chain.
func AsList(err error) (List, bool) {
	var l List
	if errors.As(err, &l) {
		return l, true
	}
	return nil, false
}
