// Package dump caches decoded chunks as CBOR. Parsing the Lua binary
// format is cheap but not free; a host that runs the same scripts on every
// start can dump the decoded prototype tree once and restore it without
// touching the chunk reader again. Encoding is canonical, so equal chunks
// produce byte-identical dumps and the cache can be content-addressed.
package dump

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/quoll-lang/quoll/vm"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("dump: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// FormatVersion is the dump envelope version. Bump it when the encoding
// changes incompatibly; old dumps are then rejected rather than misread.
const FormatVersion = 1

// Constant kind tags in the dump encoding.
const (
	constNil = iota
	constBool
	constInt
	constFloat
	constString
)

// Chunk is the serializable form of a decoded chunk.
type Chunk struct {
	Version   int   `cbor:"1,keyasint"`
	NumUpvals int   `cbor:"2,keyasint"`
	Root      Proto `cbor:"3,keyasint"`
}

// Proto mirrors vm.Prototype field for field. Instructions travel as raw
// 32-bit words.
type Proto struct {
	Source          string   `cbor:"1,keyasint,omitempty"`
	LineDefined     int      `cbor:"2,keyasint,omitempty"`
	LastLineDefined int      `cbor:"3,keyasint,omitempty"`
	NumParams       int      `cbor:"4,keyasint,omitempty"`
	IsVararg        bool     `cbor:"5,keyasint,omitempty"`
	MaxStackSize    int      `cbor:"6,keyasint"`
	Code            []uint32 `cbor:"7,keyasint"`
	Consts          []Const  `cbor:"8,keyasint,omitempty"`
	Upvals          []Upval  `cbor:"9,keyasint,omitempty"`
	Protos          []Proto  `cbor:"10,keyasint,omitempty"`
}

// Const is one constant-table entry with an explicit kind tag.
type Const struct {
	Kind  int     `cbor:"1,keyasint"`
	Bool  bool    `cbor:"2,keyasint,omitempty"`
	Int   int64   `cbor:"3,keyasint,omitempty"`
	Float float64 `cbor:"4,keyasint,omitempty"`
	Str   string  `cbor:"5,keyasint,omitempty"`
}

// Upval is one upvalue descriptor.
type Upval struct {
	InStack bool `cbor:"1,keyasint,omitempty"`
	Index   int  `cbor:"2,keyasint,omitempty"`
}

// MarshalChunk serializes a Chunk to canonical CBOR bytes.
func MarshalChunk(c *Chunk) ([]byte, error) {
	return cborEncMode.Marshal(c)
}

// UnmarshalChunk deserializes a Chunk from CBOR bytes, rejecting dumps
// written by an incompatible format version.
func UnmarshalChunk(data []byte) (*Chunk, error) {
	var c Chunk
	if err := cbor.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("dump: unmarshal chunk: %w", err)
	}
	if c.Version != FormatVersion {
		return nil, fmt.Errorf("dump: unsupported format version %d (want %d)",
			c.Version, FormatVersion)
	}
	return &c, nil
}

// FromChunk converts a decoded chunk into its serializable form.
func FromChunk(c *vm.Chunk) *Chunk {
	return &Chunk{
		Version:   FormatVersion,
		NumUpvals: c.NumUpvals,
		Root:      fromProto(c.Root),
	}
}

// ToChunk reconstructs a runnable chunk. Fails on constant kinds the dump
// format does not carry, which indicates a corrupt or foreign dump.
func (c *Chunk) ToChunk() (*vm.Chunk, error) {
	root, err := c.Root.toProto()
	if err != nil {
		return nil, err
	}
	return &vm.Chunk{NumUpvals: c.NumUpvals, Root: root}, nil
}

func fromProto(p *vm.Prototype) Proto {
	out := Proto{
		Source:          p.Source,
		LineDefined:     p.LineDefined,
		LastLineDefined: p.LastLineDefined,
		NumParams:       p.NumParams,
		IsVararg:        p.IsVararg,
		MaxStackSize:    p.MaxStackSize,
	}
	out.Code = make([]uint32, len(p.Code))
	for i, inst := range p.Code {
		out.Code[i] = uint32(inst)
	}
	for _, k := range p.Constants {
		out.Consts = append(out.Consts, fromConst(k))
	}
	for _, u := range p.Upvalues {
		out.Upvals = append(out.Upvals, Upval{InStack: u.InStack, Index: u.Index})
	}
	for _, sub := range p.Protos {
		out.Protos = append(out.Protos, fromProto(sub))
	}
	return out
}

func (p *Proto) toProto() (*vm.Prototype, error) {
	out := &vm.Prototype{
		Source:          p.Source,
		LineDefined:     p.LineDefined,
		LastLineDefined: p.LastLineDefined,
		NumParams:       p.NumParams,
		IsVararg:        p.IsVararg,
		MaxStackSize:    p.MaxStackSize,
	}
	out.Code = make([]vm.Instruction, len(p.Code))
	for i, w := range p.Code {
		out.Code[i] = vm.Instruction(w)
	}
	for i, k := range p.Consts {
		v, err := k.toValue()
		if err != nil {
			return nil, fmt.Errorf("dump: constant %d of %q: %w", i, p.Source, err)
		}
		out.Constants = append(out.Constants, v)
	}
	for _, u := range p.Upvals {
		out.Upvalues = append(out.Upvalues, vm.UpvalDesc{InStack: u.InStack, Index: u.Index})
	}
	for i := range p.Protos {
		sub, err := p.Protos[i].toProto()
		if err != nil {
			return nil, err
		}
		out.Protos = append(out.Protos, sub)
	}
	return out, nil
}

func fromConst(v vm.Value) Const {
	switch v.Kind() {
	case vm.KindBool:
		return Const{Kind: constBool, Bool: v.Bool()}
	case vm.KindInt:
		return Const{Kind: constInt, Int: v.Int()}
	case vm.KindFloat:
		return Const{Kind: constFloat, Float: v.Float()}
	case vm.KindString:
		return Const{Kind: constString, Str: v.Str()}
	}
	return Const{Kind: constNil}
}

func (k Const) toValue() (vm.Value, error) {
	switch k.Kind {
	case constNil:
		return vm.NilValue, nil
	case constBool:
		return vm.BoolValue(k.Bool), nil
	case constInt:
		return vm.IntValue(k.Int), nil
	case constFloat:
		return vm.FloatValue(k.Float), nil
	case constString:
		return vm.StringValue(k.Str), nil
	}
	return vm.NilValue, fmt.Errorf("unknown kind %d", k.Kind)
}
