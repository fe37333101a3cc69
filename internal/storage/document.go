/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	gojsonschema "github.com/xeipuuv/gojsonschema"

	"vnforge/internal/diag"
	"vnforge/internal/graph"
	"vnforge/internal/schema"
)

// FormatVersion is the project.json layout written by Encode.
const FormatVersion = 1

var (
	// ErrInvalidDocument is returned when project.json does not conform to the document schema.
	ErrInvalidDocument = errors.New("invalid project document")
	// ErrUnsupportedVersion is returned for documents written by a newer format.
	ErrUnsupportedVersion = errors.New("unsupported project format version")
)

//go:embed project.schema.json
var projectSchema []byte

var projectSchemaLoader = gojsonschema.NewBytesLoader(projectSchema)

type document struct {
	FormatVersion int               `json:"format_version"`
	Name          string            `json:"name"`
	Variables     map[string]any    `json:"variables,omitempty"`
	Characters    map[string]string `json:"characters,omitempty"`
	Images        map[string]string `json:"images,omitempty"`
	Scenes        []sceneDoc        `json:"scenes"`
}

type sceneDoc struct {
	ID          string     `json:"id"`
	Name        string     `json:"name,omitempty"`
	NextBlock   int        `json:"next_block_id,omitempty"`
	NextConn    int        `json:"next_connection_id,omitempty"`
	Blocks      []blockDoc `json:"blocks"`
	Connections []connDoc  `json:"connections,omitempty"`
}

type blockDoc struct {
	ID     int            `json:"id"`
	Kind   string         `json:"kind"`
	Params map[string]any `json:"params,omitempty"`
	X      float64        `json:"x"`
	Y      float64        `json:"y"`
}

type endpointDoc struct {
	Block int    `json:"block"`
	Port  string `json:"port"`
}

type connDoc struct {
	ID   int         `json:"id"`
	From endpointDoc `json:"from"`
	To   endpointDoc `json:"to"`
}

// ValidateDocument checks raw project.json bytes against the embedded schema.
func ValidateDocument(data []byte) error {
	res, err := gojsonschema.Validate(projectSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidDocument, strings.Join(msgs, "; "))
}

// Decode parses and validates a project document. Blocks of unknown kinds and
// connections whose endpoints do not exist are dropped; each drop is reported
// in the returned diagnostics. Malformed documents yield an error.
func Decode(data []byte) (*graph.Project, diag.List, error) {
	if err := ValidateDocument(data); err != nil {
		return nil, nil, err
	}
	var doc document
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return nil, nil, fmt.Errorf("parse project document: %w", err)
	}
	if doc.FormatVersion > FormatVersion {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, doc.FormatVersion)
	}

	p := graph.NewProject(doc.Name)
	for k, v := range doc.Variables {
		p.Variables[k] = v
	}
	for k, v := range doc.Characters {
		p.Characters[k] = v
	}
	for k, v := range doc.Images {
		p.Images[k] = v
	}

	var diags diag.List
	for _, sd := range doc.Scenes {
		sc, ds, err := sceneFromDoc(sd)
		if err != nil {
			return nil, nil, err
		}
		diags = append(diags, ds...)
		if err := p.AddScene(sc); err != nil {
			return nil, nil, err
		}
	}
	return p, diags, nil
}

// Encode renders p as an indented project document with a trailing newline.
// Scenes keep project order; blocks and connections are written in id order.
func Encode(p *graph.Project) ([]byte, error) {
	if p == nil {
		return nil, errors.New("nil project")
	}
	doc := document{
		FormatVersion: FormatVersion,
		Name:          p.Name,
		Variables:     p.Variables,
		Characters:    p.Characters,
		Images:        p.Images,
		Scenes:        []sceneDoc{},
	}
	for _, s := range p.Scenes() {
		doc.Scenes = append(doc.Scenes, sceneToDoc(s))
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal project document: %w", err)
	}
	return append(data, '\n'), nil
}

func sceneFromDoc(sd sceneDoc) (*graph.Scene, diag.List, error) {
	var diags diag.List
	s := graph.NewScene(sd.ID, sd.Name)
	for _, bd := range sd.Blocks {
		kind, err := schema.ParseKind(bd.Kind)
		if err != nil {
			diags = append(diags, diag.Errorf(diag.SchemaError, diag.CodeUnknownKind,
				"unknown block kind %q; block dropped", bd.Kind).At(sd.ID, bd.ID))
			continue
		}
		if err := s.InsertBlock(graph.Block{ID: graph.BlockID(bd.ID), Kind: kind, Params: graph.Params(bd.Params), X: bd.X, Y: bd.Y}); err != nil {
			return nil, nil, fmt.Errorf("scene %q: %w", sd.ID, err)
		}
	}
	for _, cd := range sd.Connections {
		c := graph.Connection{
			ID:   graph.ConnID(cd.ID),
			From: graph.Port{Block: graph.BlockID(cd.From.Block), Role: schema.Role(cd.From.Port)},
			To:   graph.Port{Block: graph.BlockID(cd.To.Block), Role: schema.Role(cd.To.Port)},
		}
		err := s.InsertConnection(c)
		switch {
		case err == nil:
		case errors.Is(err, graph.ErrBlockNotFound), errors.Is(err, graph.ErrPortNotFound):
			diags = append(diags, diag.Warnf(diag.StructuralError, diag.CodeDanglingEndpoint,
				"connection %s -> %s dropped: %v", c.From, c.To, err).OnConn(sd.ID, cd.ID))
		default:
			return nil, nil, fmt.Errorf("scene %q: %w", sd.ID, err)
		}
	}
	s.Reserve(graph.BlockID(sd.NextBlock), graph.ConnID(sd.NextConn))
	return s, diags, nil
}

func sceneToDoc(s *graph.Scene) sceneDoc {
	nb, nc := s.NextIDs()
	sd := sceneDoc{ID: s.ID, Name: s.Name, NextBlock: int(nb), NextConn: int(nc), Blocks: []blockDoc{}}
	for _, b := range s.Blocks() {
		sd.Blocks = append(sd.Blocks, blockDoc{ID: int(b.ID), Kind: b.Kind.String(), Params: b.Params, X: b.X, Y: b.Y})
	}
	for _, c := range s.Connections() {
		sd.Connections = append(sd.Connections, connDoc{
			ID:   int(c.ID),
			From: endpointDoc{Block: int(c.From.Block), Port: string(c.From.Role)},
			To:   endpointDoc{Block: int(c.To.Block), Port: string(c.To.Role)},
		})
	}
	return sd
}

// EncodeScene renders a single scene in the project.json scene layout.
// The undo history stores scenes this way.
func EncodeScene(s *graph.Scene) ([]byte, error) {
	if s == nil {
		return nil, errors.New("nil scene")
	}
	data, err := json.Marshal(sceneToDoc(s))
	if err != nil {
		return nil, fmt.Errorf("marshal scene %q: %w", s.ID, err)
	}
	return data, nil
}

// DecodeScene is the inverse of EncodeScene.
func DecodeScene(data []byte) (*graph.Scene, error) {
	var sd sceneDoc
	if err := json.Unmarshal(data, &sd); err != nil {
		return nil, fmt.Errorf("parse scene: %w", err)
	}
	if sd.ID == "" {
		return nil, fmt.Errorf("%w: scene without id", ErrInvalidDocument)
	}
	s, _, err := sceneFromDoc(sd)
	return s, err
}
