package vm

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"
)

// Official Lua 5.3 chunk header layout.
const (
	luaSignature = "\x1bLua"
	luacVersion  = 0x53
	luacFormat   = 0x00
	luacData     = "\x19\x93\r\n\x1a\n"
	luacInt      = 0x5678 // integer sentinel, doubles as the endianness probe
	luacNum      = 370.5  // float sentinel
)

// Constant tag bytes as they appear in the constant pool. The high nibble
// carries the compiler's short/long string and int/float variant bits.
const (
	tagNil      = 0x00
	tagBoolean  = 0x01
	tagNumFloat = 0x03
	tagNumInt   = 0x13
	tagShortStr = 0x04
	tagLongStr  = 0x14
)

// Arch describes the word widths and byte order a chunk was compiled for.
// The reader adapts to the chunk; the writer targets a chosen Arch.
type Arch struct {
	Little          bool
	IntSize         int
	SizeTSize       int
	InstructionSize int
	IntegerSize     int
	NumberSize      int
}

// SystemArch is the layout the stock Lua 5.3 compiler emits on common
// 64-bit little-endian hosts.
func SystemArch() Arch {
	return Arch{
		Little:          true,
		IntSize:         4,
		SizeTSize:       8,
		InstructionSize: 4,
		IntegerSize:     8,
		NumberSize:      8,
	}
}

func validSize(n int) bool { return n == 4 || n == 8 }

// ChunkReader decodes official Lua 5.3 bytecode into Prototype trees,
// byte-swapping and width-extending as the chunk's declared architecture
// requires. It is a format decoder only; it allocates nothing in the pools.
type ChunkReader struct {
	r    io.Reader
	arch Arch
}

// NewChunkReader wraps r. The architecture is discovered from the header.
func NewChunkReader(r io.Reader) *ChunkReader {
	return &ChunkReader{r: r}
}

// ReadChunk decodes a complete chunk: header, root-closure upvalue count,
// and the recursive root prototype.
func (cr *ChunkReader) ReadChunk() (*Chunk, error) {
	if err := cr.readHeader(); err != nil {
		return nil, err
	}
	nup, err := cr.readByte()
	if err != nil {
		return nil, err
	}
	root, err := cr.readFunction()
	if err != nil {
		return nil, err
	}
	return &Chunk{NumUpvals: int(nup), Root: root}, nil
}

func (cr *ChunkReader) readHeader() error {
	var sig [4]byte
	if err := cr.readFull(sig[:]); err != nil {
		return err
	}
	if string(sig[:]) != luaSignature {
		return ErrBadSignature
	}
	version, err := cr.readByte()
	if err != nil {
		return err
	}
	if version != luacVersion {
		return fmt.Errorf("%w: 0x%02x", ErrBadVersion, version)
	}
	format, err := cr.readByte()
	if err != nil {
		return err
	}
	if format != luacFormat {
		return fmt.Errorf("%w: %d", ErrBadFormat, format)
	}
	var data [6]byte
	if err := cr.readFull(data[:]); err != nil {
		return err
	}
	if string(data[:]) != luacData {
		return ErrBadConvData
	}

	var sizes [5]byte
	if err := cr.readFull(sizes[:]); err != nil {
		return err
	}
	cr.arch = Arch{
		IntSize:         int(sizes[0]),
		SizeTSize:       int(sizes[1]),
		InstructionSize: int(sizes[2]),
		IntegerSize:     int(sizes[3]),
		NumberSize:      int(sizes[4]),
	}
	if !validSize(cr.arch.IntSize) || !validSize(cr.arch.SizeTSize) ||
		!validSize(cr.arch.InstructionSize) || !validSize(cr.arch.IntegerSize) ||
		!validSize(cr.arch.NumberSize) {
		return ErrBadSizes
	}

	// The integer sentinel tells us the chunk's byte order.
	probe := make([]byte, cr.arch.IntegerSize)
	if err := cr.readFull(probe); err != nil {
		return err
	}
	switch {
	case decodeUint(probe, true) == luacInt:
		cr.arch.Little = true
	case decodeUint(probe, false) == luacInt:
		cr.arch.Little = false
	default:
		return ErrBadEndianness
	}

	num, err := cr.readNumber()
	if err != nil {
		return err
	}
	if num != luacNum {
		return ErrBadNumberCheck
	}
	return nil
}

func (cr *ChunkReader) readFunction() (*Prototype, error) {
	p := &Prototype{}
	var err error
	if p.Source, err = cr.readString(); err != nil {
		return nil, err
	}
	if p.LineDefined, err = cr.readInt(); err != nil {
		return nil, err
	}
	if p.LastLineDefined, err = cr.readInt(); err != nil {
		return nil, err
	}
	var b byte
	if b, err = cr.readByte(); err != nil {
		return nil, err
	}
	p.NumParams = int(b)
	if b, err = cr.readByte(); err != nil {
		return nil, err
	}
	p.IsVararg = b != 0
	if b, err = cr.readByte(); err != nil {
		return nil, err
	}
	p.MaxStackSize = int(b)

	// Code.
	n, err := cr.readCount()
	if err != nil {
		return nil, err
	}
	p.Code = make([]Instruction, 0, min(n, preallocLimit))
	for i := 0; i < n; i++ {
		inst, err := cr.readInstruction()
		if err != nil {
			return nil, err
		}
		p.Code = append(p.Code, inst)
	}

	// Constants.
	if n, err = cr.readCount(); err != nil {
		return nil, err
	}
	p.Constants = make([]Value, 0, min(n, preallocLimit))
	for i := 0; i < n; i++ {
		k, err := cr.readConstant()
		if err != nil {
			return nil, err
		}
		p.Constants = append(p.Constants, k)
	}

	// Upvalue descriptors.
	if n, err = cr.readCount(); err != nil {
		return nil, err
	}
	p.Upvalues = make([]UpvalDesc, 0, min(n, preallocLimit))
	for i := 0; i < n; i++ {
		inStack, err := cr.readByte()
		if err != nil {
			return nil, err
		}
		idx, err := cr.readByte()
		if err != nil {
			return nil, err
		}
		p.Upvalues = append(p.Upvalues, UpvalDesc{InStack: inStack != 0, Index: int(idx)})
	}

	// Nested prototypes.
	if n, err = cr.readCount(); err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		sub, err := cr.readFunction()
		if err != nil {
			return nil, err
		}
		p.Protos = append(p.Protos, sub)
	}

	return p, cr.skipDebugInfo()
}

func (cr *ChunkReader) readConstant() (Value, error) {
	tag, err := cr.readByte()
	if err != nil {
		return NilValue, err
	}
	switch tag {
	case tagNil:
		return NilValue, nil
	case tagBoolean:
		b, err := cr.readByte()
		if err != nil {
			return NilValue, err
		}
		return BoolValue(b != 0), nil
	case tagNumFloat:
		f, err := cr.readNumber()
		if err != nil {
			return NilValue, err
		}
		return FloatValue(f), nil
	case tagNumInt:
		i, err := cr.readInteger()
		if err != nil {
			return NilValue, err
		}
		return IntValue(i), nil
	case tagShortStr, tagLongStr:
		s, err := cr.readString()
		if err != nil {
			return NilValue, err
		}
		return StringValue(s), nil
	}
	return NilValue, fmt.Errorf("%w: 0x%02x", ErrBadConstant, tag)
}

// skipDebugInfo parses and discards the three trailing debug vectors.
func (cr *ChunkReader) skipDebugInfo() error {
	// Instruction-to-line map.
	n, err := cr.readCount()
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if _, err := cr.readInt(); err != nil {
			return err
		}
	}
	// Local variable records.
	if n, err = cr.readCount(); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if _, err := cr.readString(); err != nil {
			return err
		}
		if _, err := cr.readInt(); err != nil {
			return err
		}
		if _, err := cr.readInt(); err != nil {
			return err
		}
	}
	// Upvalue names.
	if n, err = cr.readCount(); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if _, err := cr.readString(); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Primitive readers
// ---------------------------------------------------------------------------

// preallocLimit caps speculative allocation from chunk-declared counts and
// lengths. A hostile count then fails with a truncation error as the reads
// run out of input, instead of exhausting memory up front.
const preallocLimit = 1 << 16

func (cr *ChunkReader) readFull(buf []byte) error {
	if _, err := io.ReadFull(cr.r, buf); err != nil {
		return fmt.Errorf("%w: %s", ErrTruncatedChunk, err.Error())
	}
	return nil
}

func (cr *ChunkReader) readByte() (byte, error) {
	var b [1]byte
	if err := cr.readFull(b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (cr *ChunkReader) readWord(size int) (uint64, error) {
	buf := make([]byte, size)
	if err := cr.readFull(buf); err != nil {
		return 0, err
	}
	return decodeUint(buf, cr.arch.Little), nil
}

// readCount reads an element count, rejecting negatives before they reach a
// slice allocation or loop bound.
func (cr *ChunkReader) readCount() (int, error) {
	n, err := cr.readInt()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: %d", ErrBadCount, n)
	}
	return n, nil
}

// readInt reads a chunk-native int, sign-extending the 32-bit width.
func (cr *ChunkReader) readInt() (int, error) {
	w, err := cr.readWord(cr.arch.IntSize)
	if err != nil {
		return 0, err
	}
	if cr.arch.IntSize == 4 {
		return int(int32(uint32(w))), nil
	}
	return int(int64(w)), nil
}

func (cr *ChunkReader) readSizeT() (uint64, error) {
	return cr.readWord(cr.arch.SizeTSize)
}

// readInstruction widens or narrows the chunk's instruction word to the
// engine's 32-bit format.
func (cr *ChunkReader) readInstruction() (Instruction, error) {
	w, err := cr.readWord(cr.arch.InstructionSize)
	if err != nil {
		return 0, err
	}
	return Instruction(uint32(w)), nil
}

func (cr *ChunkReader) readInteger() (int64, error) {
	w, err := cr.readWord(cr.arch.IntegerSize)
	if err != nil {
		return 0, err
	}
	if cr.arch.IntegerSize == 4 {
		return int64(int32(uint32(w))), nil
	}
	return int64(w), nil
}

func (cr *ChunkReader) readNumber() (float64, error) {
	w, err := cr.readWord(cr.arch.NumberSize)
	if err != nil {
		return 0, err
	}
	if cr.arch.NumberSize == 4 {
		return float64(math.Float32frombits(uint32(w))), nil
	}
	return math.Float64frombits(w), nil
}

// readString decodes a length-prefixed string: a zero byte is the empty
// string, 0xFF means a size_t length word follows, anything else is the
// length plus one.
func (cr *ChunkReader) readString() (string, error) {
	b, err := cr.readByte()
	if err != nil {
		return "", err
	}
	var n uint64
	switch b {
	case 0:
		return "", nil
	case 0xFF:
		if n, err = cr.readSizeT(); err != nil {
			return "", err
		}
		// Lengths encode as len+1, so zero never occurs in a valid chunk
		// and would underflow below.
		if n == 0 {
			return "", fmt.Errorf("%w: zero long-string length", ErrBadCount)
		}
	default:
		n = uint64(b)
	}
	return cr.readStringBody(n - 1)
}

// readStringBody reads n bytes of string payload in bounded steps, so a
// hostile declared length fails on truncation rather than in allocation.
func (cr *ChunkReader) readStringBody(n uint64) (string, error) {
	var sb strings.Builder
	buf := make([]byte, min(n, preallocLimit))
	for n > 0 {
		step := min(n, uint64(len(buf)))
		if err := cr.readFull(buf[:step]); err != nil {
			return "", err
		}
		sb.Write(buf[:step])
		n -= step
	}
	return sb.String(), nil
}

// decodeUint assembles a little- or big-endian word of len(buf) bytes.
func decodeUint(buf []byte, little bool) uint64 {
	if len(buf) == 4 {
		if little {
			return uint64(binary.LittleEndian.Uint32(buf))
		}
		return uint64(binary.BigEndian.Uint32(buf))
	}
	if little {
		return binary.LittleEndian.Uint64(buf)
	}
	return binary.BigEndian.Uint64(buf)
}
