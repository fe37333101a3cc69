/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"errors"
	"testing"

	gojsonschema "github.com/xeipuuv/gojsonschema"

	"vnforge/internal/diag"
	"vnforge/internal/graph"
	"vnforge/internal/schema"
)

func TestEncodedDocumentConformsToSchema(t *testing.T) {
	data, err := Encode(sampleProject(t))
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(projectSchema), gojsonschema.NewBytesLoader(data))
	if err != nil {
		t.Fatalf("schema validate error: %v", err)
	}
	if !result.Valid() {
		for _, e := range result.Errors() {
			t.Logf("schema error: %s", e)
		}
		t.Fatalf("document does not conform to schema")
	}
}

func TestDecodeRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"missing scenes": `{"format_version": 1, "name": "x"}`,
		"bad block id":   `{"format_version": 1, "name": "x", "scenes": [{"id": "s", "blocks": [{"id": 0, "kind": "say"}]}]}`,
		"not an object":  `[]`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := Decode([]byte(doc))
			if !errors.Is(err, ErrInvalidDocument) {
				t.Fatalf("err = %v, want ErrInvalidDocument", err)
			}
		})
	}
}

func TestDecodeRejectsNewerFormat(t *testing.T) {
	_, _, err := Decode([]byte(`{"format_version": 99, "name": "x", "scenes": []}`))
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("err = %v, want ErrUnsupportedVersion", err)
	}
}

func TestDecodeDropsDanglingConnectionsAndUnknownKinds(t *testing.T) {
	doc := `{
	  "format_version": 1,
	  "name": "Lossy",
	  "scenes": [{
	    "id": "s1",
	    "blocks": [
	      {"id": 1, "kind": "label", "params": {"label": "start_here"}},
	      {"id": 2, "kind": "say", "params": {"text": "hi"}},
	      {"id": 3, "kind": "teleport"}
	    ],
	    "connections": [
	      {"id": 1, "from": {"block": 1, "port": "next"}, "to": {"block": 2, "port": "in"}},
	      {"id": 2, "from": {"block": 2, "port": "next"}, "to": {"block": 3, "port": "in"}},
	      {"id": 3, "from": {"block": 2, "port": "then"}, "to": {"block": 1, "port": "in"}}
	    ]
	  }]
	}`
	p, diags, err := Decode([]byte(doc))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	s, ok := p.Scene("s1")
	if !ok {
		t.Fatalf("scene s1 missing")
	}
	if s.Len() != 2 {
		t.Fatalf("blocks = %d, want 2", s.Len())
	}
	if n := len(s.Connections()); n != 1 {
		t.Fatalf("connections = %d, want 1", n)
	}
	if got := diags.Filter(func(d diag.Diagnostic) bool { return d.Code == diag.CodeUnknownKind }); len(got) != 1 || got[0].Block != 3 {
		t.Fatalf("unknown kind diagnostics = %v", got)
	}
	dangling := diags.Filter(func(d diag.Diagnostic) bool { return d.Code == diag.CodeDanglingEndpoint })
	if len(dangling) != 2 {
		t.Fatalf("dangling diagnostics = %v", dangling)
	}
	for _, d := range dangling {
		if d.Category != diag.StructuralError || d.Scene != "s1" || d.Conn == 0 {
			t.Fatalf("bad dangling diagnostic: %+v", d)
		}
	}
}

func TestDecodeKeepsRetiredIDs(t *testing.T) {
	s := graph.NewScene("s", "")
	a, _ := s.AddBlock(schema.Label, graph.Params{"label": "a"}, 0, 0)
	b, _ := s.AddBlock(schema.Say, graph.Params{"text": "gone"}, 0, 0)
	if _, err := s.AddConnection(graph.Port{Block: a, Role: schema.RoleNext}, graph.Port{Block: b, Role: schema.RoleIn}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := s.RemoveBlock(b); err != nil {
		t.Fatalf("remove: %v", err)
	}
	p := graph.NewProject("ids")
	_ = p.AddScene(s)

	data, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	back, _, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	bs, _ := back.Scene("s")
	nb, nc := bs.NextIDs()
	if nb != 3 || nc != 2 {
		t.Fatalf("NextIDs = %d, %d, want 3, 2", nb, nc)
	}
}

func TestEncodeSceneRoundTrip(t *testing.T) {
	p := sampleProject(t)
	intro, _ := p.Scene("intro")
	data, err := EncodeScene(intro)
	if err != nil {
		t.Fatalf("EncodeScene error: %v", err)
	}
	back, err := DecodeScene(data)
	if err != nil {
		t.Fatalf("DecodeScene error: %v", err)
	}
	if back.ID != "intro" || back.Len() != intro.Len() {
		t.Fatalf("scene = %q with %d blocks, want intro with %d", back.ID, back.Len(), intro.Len())
	}
	if got, want := len(back.Connections()), len(intro.Connections()); got != want {
		t.Fatalf("connections = %d, want %d", got, want)
	}
	b, ok := back.Block(2)
	if !ok || b.Params.String("text") != "Hello lighthouse keeper" {
		t.Fatalf("block 2 = %+v", b)
	}
	if _, err := DecodeScene([]byte(`{"blocks": []}`)); !errors.Is(err, ErrInvalidDocument) {
		t.Fatalf("err = %v, want ErrInvalidDocument", err)
	}
}
