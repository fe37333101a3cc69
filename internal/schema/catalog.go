/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package schema

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed kinds.yaml
var builtinKinds []byte

// ParamType is the value type of a block parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeBool    ParamType = "bool"
	TypeEnum    ParamType = "enum"
	TypeFile    ParamType = "file"
	TypeOptions ParamType = "options"
	TypeCode    ParamType = "code"
)

// Asset categories for file parameters; they name the sub-directory of the
// game directory the file is placed in.
const (
	AssetImages = "images"
	AssetAudio  = "audio"
	AssetVoice  = "voice"
)

// Param describes one parameter of a kind.
type Param struct {
	Key      string    `yaml:"key"`
	Type     ParamType `yaml:"type"`
	Required bool      `yaml:"required"`
	Default  string    `yaml:"default"`
	Asset    string    `yaml:"asset"`
	Values   []string  `yaml:"values"`
}

// KindSpec is the parameter schema of one kind.
type KindSpec struct {
	Kind   Kind    `yaml:"-"`
	Title  string  `yaml:"title"`
	Params []Param `yaml:"params"`
}

// Param looks up a parameter by key.
func (s *KindSpec) Param(key string) (Param, bool) {
	for _, p := range s.Params {
		if p.Key == key {
			return p, true
		}
	}
	return Param{}, false
}

// Catalog maps every kind to its parameter schema. It is read-only once loaded.
type Catalog struct {
	Version int
	specs   [kindCount]*KindSpec
}

type catalogDoc struct {
	Version int                  `yaml:"version"`
	Kinds   map[string]*KindSpec `yaml:"kinds"`
}

// ErrIncompleteCatalog is returned when the description omits a kind.
var ErrIncompleteCatalog = errors.New("block-kind description is incomplete")

// Load parses a block-kind description.
func Load(r io.Reader) (*Catalog, error) {
	var doc catalogDoc
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode kinds: %w", err)
	}
	c := &Catalog{Version: doc.Version}
	for name, spec := range doc.Kinds {
		k, err := ParseKind(name)
		if err != nil {
			return nil, err
		}
		if spec == nil {
			spec = &KindSpec{}
		}
		spec.Kind = k
		if err := checkParams(k, spec.Params); err != nil {
			return nil, err
		}
		c.specs[k] = spec
	}
	for _, k := range Kinds() {
		if c.specs[k] == nil {
			return nil, fmt.Errorf("%w: kind %q missing", ErrIncompleteCatalog, k)
		}
	}
	return c, nil
}

func checkParams(k Kind, params []Param) error {
	seen := map[string]bool{}
	for _, p := range params {
		if p.Key == "" {
			return fmt.Errorf("kind %s: parameter without key", k)
		}
		if seen[p.Key] {
			return fmt.Errorf("kind %s: duplicate parameter %q", k, p.Key)
		}
		seen[p.Key] = true
		switch p.Type {
		case TypeString, TypeNumber, TypeBool, TypeOptions, TypeCode:
		case TypeEnum:
			if len(p.Values) == 0 {
				return fmt.Errorf("kind %s: enum parameter %q has no values", k, p.Key)
			}
		case TypeFile:
			switch p.Asset {
			case AssetImages, AssetAudio, AssetVoice:
			default:
				return fmt.Errorf("kind %s: file parameter %q has unknown asset category %q", k, p.Key, p.Asset)
			}
		default:
			return fmt.Errorf("kind %s: parameter %q has unknown type %q", k, p.Key, p.Type)
		}
	}
	return nil
}

// LoadFile reads a block-kind description from disk.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open kinds file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

var (
	builtinOnce sync.Once
	builtin     *Catalog
)

// Builtin returns the catalog embedded in the binary.
func Builtin() *Catalog {
	builtinOnce.Do(func() {
		c, err := Load(bytes.NewReader(builtinKinds))
		if err != nil {
			panic(fmt.Sprintf("embedded kinds.yaml: %v", err))
		}
		builtin = c
	})
	return builtin
}

// Spec returns the schema of kind k.
func (c *Catalog) Spec(k Kind) (*KindSpec, bool) {
	if c == nil || !k.Valid() || c.specs[k] == nil {
		return nil, false
	}
	return c.specs[k], true
}

// Required lists the required parameters of kind k.
func (c *Catalog) Required(k Kind) []Param {
	s, ok := c.Spec(k)
	if !ok {
		return nil
	}
	var out []Param
	for _, p := range s.Params {
		if p.Required {
			out = append(out, p)
		}
	}
	return out
}

// FileParams lists the file-typed parameters of kind k.
func (c *Catalog) FileParams(k Kind) []Param {
	s, ok := c.Spec(k)
	if !ok {
		return nil
	}
	var out []Param
	for _, p := range s.Params {
		if p.Type == TypeFile {
			out = append(out, p)
		}
	}
	return out
}

// DefaultValue returns the declared default of a parameter, or "".
func (c *Catalog) DefaultValue(k Kind, key string) string {
	s, ok := c.Spec(k)
	if !ok {
		return ""
	}
	p, _ := s.Param(key)
	return p.Default
}
