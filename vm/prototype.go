package vm

// UpvalDesc describes how one upvalue of a prototype is resolved at
// CLOSURE time: from the parent frame's registers, or inherited from the
// parent closure's own upvalues.
type UpvalDesc struct {
	InStack bool
	Index   int
}

// Prototype is a compiled Lua function as the chunk reader produces it:
// read-only at runtime except for the closure cache.
type Prototype struct {
	Source          string
	LineDefined     int
	LastLineDefined int

	NumParams    int
	IsVararg     bool
	MaxStackSize int

	Code      []Instruction
	Constants []Value // only nil/bool/int/float/string kinds occur
	Upvalues  []UpvalDesc
	Protos    []*Prototype

	// cache deduplicates closures materialised from this prototype with
	// equal captured upvalues. Owned reference; overwritten on miss.
	cache ObjRef
}

// Chunk is a loaded bytecode file: the root prototype plus its declared
// upvalue count (always 1 in practice, the _ENV binding).
type Chunk struct {
	NumUpvals int
	Root      *Prototype
}

// ---------------------------------------------------------------------------
// ProtoBuilder: programmatic bytecode assembly
// ---------------------------------------------------------------------------

// ProtoBuilder assembles a Prototype instruction by instruction. It exists
// for tests and for hosts that generate chunks in memory instead of loading
// compiled files.
type ProtoBuilder struct {
	p Prototype
}

// NewProtoBuilder starts a prototype with the given source name and fixed
// parameter count.
func NewProtoBuilder(source string, numParams int) *ProtoBuilder {
	return &ProtoBuilder{p: Prototype{
		Source:       source,
		NumParams:    numParams,
		MaxStackSize: 2,
	}}
}

// SetVararg marks the prototype variadic.
func (b *ProtoBuilder) SetVararg() *ProtoBuilder {
	b.p.IsVararg = true
	return b
}

// SetMaxStack sets the register count the frame reserves.
func (b *ProtoBuilder) SetMaxStack(n int) *ProtoBuilder {
	b.p.MaxStackSize = n
	return b
}

// Const appends a constant and returns its index.
func (b *ProtoBuilder) Const(v Value) int {
	b.p.Constants = append(b.p.Constants, v)
	return len(b.p.Constants) - 1
}

// AddUpvalue appends an upvalue descriptor and returns its index.
func (b *ProtoBuilder) AddUpvalue(inStack bool, idx int) int {
	b.p.Upvalues = append(b.p.Upvalues, UpvalDesc{InStack: inStack, Index: idx})
	return len(b.p.Upvalues) - 1
}

// AddProto appends a nested prototype and returns its index.
func (b *ProtoBuilder) AddProto(p *Prototype) int {
	b.p.Protos = append(b.p.Protos, p)
	return len(b.p.Protos) - 1
}

// EmitABC appends an iABC instruction and returns its index.
func (b *ProtoBuilder) EmitABC(op Opcode, a, bb, c int) int {
	b.p.Code = append(b.p.Code, MakeABC(op, a, bb, c))
	return len(b.p.Code) - 1
}

// EmitABx appends an iABx instruction and returns its index.
func (b *ProtoBuilder) EmitABx(op Opcode, a, bx int) int {
	b.p.Code = append(b.p.Code, MakeABx(op, a, bx))
	return len(b.p.Code) - 1
}

// EmitAsBx appends an iAsBx instruction and returns its index.
func (b *ProtoBuilder) EmitAsBx(op Opcode, a, sbx int) int {
	b.p.Code = append(b.p.Code, MakeAsBx(op, a, sbx))
	return len(b.p.Code) - 1
}

// EmitAx appends an iAx instruction and returns its index.
func (b *ProtoBuilder) EmitAx(op Opcode, ax int) int {
	b.p.Code = append(b.p.Code, MakeAx(op, ax))
	return len(b.p.Code) - 1
}

// Build finalizes and returns the prototype.
func (b *ProtoBuilder) Build() *Prototype {
	p := b.p
	return &p
}
