/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package graph is the authoring model: scenes of blocks joined by connections
// between role-tagged ports. Blocks and connections live in flat id-indexed
// arenas and refer to each other only by id, so cycles in the authored graph
// never become pointer cycles.
package graph

import (
	"errors"
	"fmt"

	"vnforge/internal/schema"
)

// BlockID identifies a block within its scene. Ids start at 1 and are never reused.
type BlockID int

// ConnID identifies a connection within its scene. Ids start at 1 and are never reused.
type ConnID int

var (
	ErrBlockNotFound       = errors.New("block not found")
	ErrConnectionNotFound  = errors.New("connection not found")
	ErrPortNotFound        = errors.New("port not found")
	ErrDuplicateConnection = errors.New("duplicate connection")
	ErrInvalidKind         = errors.New("invalid block kind")
	ErrIDInUse             = errors.New("id already in use")
)

// Block is one authored unit. Params must be treated as read-only by callers
// of Scene.Block; use Scene.SetParams to change them.
type Block struct {
	ID     BlockID
	Kind   schema.Kind
	Params Params
	X, Y   float64
}

// Port addresses one attachment point of a block.
type Port struct {
	Block BlockID
	Role  schema.Role
}

func (p Port) String() string { return fmt.Sprintf("%d.%s", p.Block, p.Role) }

// Connection links an output port to an input port.
type Connection struct {
	ID   ConnID
	From Port
	To   Port
}

// Scene owns one namespace of block ids and the connections between them.
type Scene struct {
	ID   string
	Name string

	blocks []*Block      // index = id-1, nil once removed
	conns  []*Connection // index = id-1, nil once removed
	out    map[Port][]ConnID
	in     map[BlockID][]ConnID
	rev    uint64
}

// NewScene returns an empty scene.
func NewScene(id, name string) *Scene {
	return &Scene{ID: id, Name: name, out: map[Port][]ConnID{}, in: map[BlockID][]ConnID{}}
}

// Revision increases with every mutation.
func (s *Scene) Revision() uint64 { return s.rev }

// AddBlock places a new block and returns its id.
func (s *Scene) AddBlock(kind schema.Kind, params Params, x, y float64) (BlockID, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidKind, kind)
	}
	id := BlockID(len(s.blocks) + 1)
	s.blocks = append(s.blocks, &Block{ID: id, Kind: kind, Params: params.Clone(), X: x, Y: y})
	s.rev++
	return id, nil
}

// InsertBlock places a block under its own id. Used when loading documents;
// ids skipped in between stay unused.
func (s *Scene) InsertBlock(b Block) error {
	if !b.Kind.Valid() {
		return fmt.Errorf("%w: block %d", ErrInvalidKind, b.ID)
	}
	if b.ID <= 0 {
		return fmt.Errorf("block id %d must be positive", b.ID)
	}
	idx := int(b.ID) - 1
	if idx < len(s.blocks) && s.blocks[idx] != nil {
		return fmt.Errorf("%w: block %d", ErrIDInUse, b.ID)
	}
	for len(s.blocks) <= idx {
		s.blocks = append(s.blocks, nil)
	}
	b.Params = b.Params.Clone()
	s.blocks[idx] = &b
	s.rev++
	return nil
}

// RemoveBlock deletes a block together with every connection touching it.
// The connections are gone before the block is.
func (s *Scene) RemoveBlock(id BlockID) error {
	b := s.block(id)
	if b == nil {
		return fmt.Errorf("%w: %d", ErrBlockNotFound, id)
	}
	var incident []ConnID
	for _, c := range s.conns {
		if c != nil && (c.From.Block == id || c.To.Block == id) {
			incident = append(incident, c.ID)
		}
	}
	for _, cid := range incident {
		if err := s.RemoveConnection(cid); err != nil {
			return err
		}
	}
	s.blocks[int(id)-1] = nil
	s.rev++
	return nil
}

// SetParams replaces a block's parameters.
func (s *Scene) SetParams(id BlockID, params Params) error {
	b := s.block(id)
	if b == nil {
		return fmt.Errorf("%w: %d", ErrBlockNotFound, id)
	}
	b.Params = params.Clone()
	s.rev++
	return nil
}

// SetParam sets a single parameter.
func (s *Scene) SetParam(id BlockID, key string, value any) error {
	b := s.block(id)
	if b == nil {
		return fmt.Errorf("%w: %d", ErrBlockNotFound, id)
	}
	p := b.Params.Clone()
	if p == nil {
		p = Params{}
	}
	p[key] = value
	b.Params = p
	s.rev++
	return nil
}

// Move updates a block's canvas position.
func (s *Scene) Move(id BlockID, x, y float64) error {
	b := s.block(id)
	if b == nil {
		return fmt.Errorf("%w: %d", ErrBlockNotFound, id)
	}
	b.X, b.Y = x, y
	s.rev++
	return nil
}

// AddConnection links from (an output port) to the input port of another block.
func (s *Scene) AddConnection(from, to Port) (ConnID, error) {
	if err := s.checkEndpoints(from, to); err != nil {
		return 0, err
	}
	for _, cid := range s.out[from] {
		if s.conns[int(cid)-1].To == to {
			return 0, fmt.Errorf("%w: %s -> %s", ErrDuplicateConnection, from, to)
		}
	}
	id := ConnID(len(s.conns) + 1)
	s.conns = append(s.conns, &Connection{ID: id, From: from, To: to})
	s.link(id, from, to)
	return id, nil
}

// InsertConnection adds a connection under its own id. Used when loading documents.
func (s *Scene) InsertConnection(c Connection) error {
	if c.ID <= 0 {
		return fmt.Errorf("connection id %d must be positive", c.ID)
	}
	idx := int(c.ID) - 1
	if idx < len(s.conns) && s.conns[idx] != nil {
		return fmt.Errorf("%w: connection %d", ErrIDInUse, c.ID)
	}
	if err := s.checkEndpoints(c.From, c.To); err != nil {
		return err
	}
	for len(s.conns) <= idx {
		s.conns = append(s.conns, nil)
	}
	s.conns[idx] = &Connection{ID: c.ID, From: c.From, To: c.To}
	s.link(c.ID, c.From, c.To)
	return nil
}

func (s *Scene) link(id ConnID, from, to Port) {
	s.out[from] = insertSorted(s.out[from], id)
	s.in[to.Block] = insertSorted(s.in[to.Block], id)
	s.rev++
}

func insertSorted(ids []ConnID, id ConnID) []ConnID {
	i := len(ids)
	for i > 0 && ids[i-1] > id {
		i--
	}
	ids = append(ids, 0)
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}

func (s *Scene) checkEndpoints(from, to Port) error {
	src := s.block(from.Block)
	if src == nil {
		return fmt.Errorf("%w: source %d", ErrBlockNotFound, from.Block)
	}
	dst := s.block(to.Block)
	if dst == nil {
		return fmt.Errorf("%w: target %d", ErrBlockNotFound, to.Block)
	}
	if !src.Kind.HasOutput(from.Role, len(src.Params.Choices())) {
		return fmt.Errorf("%w: %s has no output %q", ErrPortNotFound, src.Kind, from.Role)
	}
	if to.Role != schema.RoleIn || !dst.Kind.HasInput() {
		return fmt.Errorf("%w: %s has no input %q", ErrPortNotFound, dst.Kind, to.Role)
	}
	return nil
}

// RemoveConnection deletes a connection.
func (s *Scene) RemoveConnection(id ConnID) error {
	c := s.conn(id)
	if c == nil {
		return fmt.Errorf("%w: %d", ErrConnectionNotFound, id)
	}
	s.out[c.From] = without(s.out[c.From], id)
	if len(s.out[c.From]) == 0 {
		delete(s.out, c.From)
	}
	s.in[c.To.Block] = without(s.in[c.To.Block], id)
	if len(s.in[c.To.Block]) == 0 {
		delete(s.in, c.To.Block)
	}
	s.conns[int(id)-1] = nil
	s.rev++
	return nil
}

func without(ids []ConnID, id ConnID) []ConnID {
	out := ids[:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

func (s *Scene) block(id BlockID) *Block {
	if id <= 0 || int(id) > len(s.blocks) {
		return nil
	}
	return s.blocks[int(id)-1]
}

func (s *Scene) conn(id ConnID) *Connection {
	if id <= 0 || int(id) > len(s.conns) {
		return nil
	}
	return s.conns[int(id)-1]
}

// Block returns a block by id.
func (s *Scene) Block(id BlockID) (Block, bool) {
	b := s.block(id)
	if b == nil {
		return Block{}, false
	}
	return *b, true
}

// Blocks returns the scene's blocks in id order.
func (s *Scene) Blocks() []Block {
	out := make([]Block, 0, len(s.blocks))
	for _, b := range s.blocks {
		if b != nil {
			out = append(out, *b)
		}
	}
	return out
}

// Len returns the number of live blocks.
func (s *Scene) Len() int {
	n := 0
	for _, b := range s.blocks {
		if b != nil {
			n++
		}
	}
	return n
}

// Connection returns a connection by id.
func (s *Scene) Connection(id ConnID) (Connection, bool) {
	c := s.conn(id)
	if c == nil {
		return Connection{}, false
	}
	return *c, true
}

// Connections returns every connection in id order.
func (s *Scene) Connections() []Connection {
	out := make([]Connection, 0, len(s.conns))
	for _, c := range s.conns {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out
}

// ConnectionsFrom returns the connections leaving p in insertion order.
func (s *Scene) ConnectionsFrom(p Port) []Connection {
	ids := s.out[p]
	out := make([]Connection, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.conns[int(id)-1])
	}
	return out
}

// ConnectionsTo returns the connections entering block id in insertion order.
func (s *Scene) ConnectionsTo(id BlockID) []Connection {
	ids := s.in[id]
	out := make([]Connection, 0, len(ids))
	for _, cid := range ids {
		out = append(out, *s.conns[int(cid)-1])
	}
	return out
}

// Targets returns the blocks reached from the given output port, in insertion order.
func (s *Scene) Targets(id BlockID, role schema.Role) []BlockID {
	ids := s.out[Port{Block: id, Role: role}]
	out := make([]BlockID, 0, len(ids))
	for _, cid := range ids {
		out = append(out, s.conns[int(cid)-1].To.Block)
	}
	return out
}

// Successors returns every block reached from any output port of id, ports in
// role order and connections in insertion order. Stale ports (roles the block
// no longer has) are skipped.
func (s *Scene) Successors(id BlockID) []BlockID {
	b := s.block(id)
	if b == nil {
		return nil
	}
	var out []BlockID
	for _, r := range b.Kind.OutputRoles(len(b.Params.Choices())) {
		out = append(out, s.Targets(id, r)...)
	}
	return out
}

// NextIDs returns the ids the next AddBlock and AddConnection calls will assign.
func (s *Scene) NextIDs() (BlockID, ConnID) {
	return BlockID(len(s.blocks) + 1), ConnID(len(s.conns) + 1)
}

// Reserve advances the id counters so that ids below block and conn are never
// assigned. Loaders use it to keep ids of deleted trailing elements retired.
func (s *Scene) Reserve(block BlockID, conn ConnID) {
	for BlockID(len(s.blocks)+1) < block {
		s.blocks = append(s.blocks, nil)
	}
	for ConnID(len(s.conns)+1) < conn {
		s.conns = append(s.conns, nil)
	}
}

// Entries returns the label blocks of the scene in id order.
func (s *Scene) Entries() []Block {
	var out []Block
	for _, b := range s.blocks {
		if b != nil && b.Kind == schema.Label {
			out = append(out, *b)
		}
	}
	return out
}

// Clone returns a deep copy sharing no storage with s.
func (s *Scene) Clone() *Scene {
	c := NewScene(s.ID, s.Name)
	c.rev = s.rev
	c.blocks = make([]*Block, len(s.blocks))
	for i, b := range s.blocks {
		if b != nil {
			cp := *b
			cp.Params = b.Params.Clone()
			c.blocks[i] = &cp
		}
	}
	c.conns = make([]*Connection, len(s.conns))
	for i, x := range s.conns {
		if x != nil {
			cp := *x
			c.conns[i] = &cp
		}
	}
	for p, ids := range s.out {
		c.out[p] = append([]ConnID(nil), ids...)
	}
	for b, ids := range s.in {
		c.in[b] = append([]ConnID(nil), ids...)
	}
	return c
}
