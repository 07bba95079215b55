package vm

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// ChunkWriter encodes a Prototype tree as an official Lua 5.3 binary chunk
// for a chosen target architecture. The emitted debug vectors are empty.
type ChunkWriter struct {
	w    io.Writer
	arch Arch
}

// NewChunkWriter targets the common 64-bit little-endian layout. Use
// NewChunkWriterArch to cross-compile for another target.
func NewChunkWriter(w io.Writer) *ChunkWriter {
	return NewChunkWriterArch(w, SystemArch())
}

// NewChunkWriterArch targets an explicit architecture.
func NewChunkWriterArch(w io.Writer, arch Arch) *ChunkWriter {
	return &ChunkWriter{w: w, arch: arch}
}

// WriteChunk emits the header, the root-closure upvalue count and the
// recursive root prototype.
func (cw *ChunkWriter) WriteChunk(chunk *Chunk) error {
	if err := cw.writeHeader(); err != nil {
		return err
	}
	if err := cw.writeByte(byte(chunk.NumUpvals)); err != nil {
		return err
	}
	return cw.writeFunction(chunk.Root)
}

func (cw *ChunkWriter) writeHeader() error {
	if err := cw.write([]byte(luaSignature)); err != nil {
		return err
	}
	if err := cw.writeByte(luacVersion); err != nil {
		return err
	}
	if err := cw.writeByte(luacFormat); err != nil {
		return err
	}
	if err := cw.write([]byte(luacData)); err != nil {
		return err
	}
	sizes := []byte{
		byte(cw.arch.IntSize),
		byte(cw.arch.SizeTSize),
		byte(cw.arch.InstructionSize),
		byte(cw.arch.IntegerSize),
		byte(cw.arch.NumberSize),
	}
	if err := cw.write(sizes); err != nil {
		return err
	}
	if err := cw.writeWord(luacInt, cw.arch.IntegerSize); err != nil {
		return err
	}
	return cw.writeNumber(luacNum)
}

func (cw *ChunkWriter) writeFunction(p *Prototype) error {
	if err := cw.writeString(p.Source); err != nil {
		return err
	}
	if err := cw.writeInt(p.LineDefined); err != nil {
		return err
	}
	if err := cw.writeInt(p.LastLineDefined); err != nil {
		return err
	}
	vararg := byte(0)
	if p.IsVararg {
		vararg = 1
	}
	for _, b := range []byte{byte(p.NumParams), vararg, byte(p.MaxStackSize)} {
		if err := cw.writeByte(b); err != nil {
			return err
		}
	}

	if err := cw.writeInt(len(p.Code)); err != nil {
		return err
	}
	for _, inst := range p.Code {
		if err := cw.writeWord(uint64(inst), cw.arch.InstructionSize); err != nil {
			return err
		}
	}

	if err := cw.writeInt(len(p.Constants)); err != nil {
		return err
	}
	for _, k := range p.Constants {
		if err := cw.writeConstant(k); err != nil {
			return err
		}
	}

	if err := cw.writeInt(len(p.Upvalues)); err != nil {
		return err
	}
	for _, u := range p.Upvalues {
		inStack := byte(0)
		if u.InStack {
			inStack = 1
		}
		if err := cw.writeByte(inStack); err != nil {
			return err
		}
		if err := cw.writeByte(byte(u.Index)); err != nil {
			return err
		}
	}

	if err := cw.writeInt(len(p.Protos)); err != nil {
		return err
	}
	for _, sub := range p.Protos {
		if err := cw.writeFunction(sub); err != nil {
			return err
		}
	}

	// Empty debug vectors: line map, local records, upvalue names.
	for i := 0; i < 3; i++ {
		if err := cw.writeInt(0); err != nil {
			return err
		}
	}
	return nil
}

func (cw *ChunkWriter) writeConstant(k Value) error {
	switch k.Kind() {
	case KindNil:
		return cw.writeByte(tagNil)
	case KindBool:
		if err := cw.writeByte(tagBoolean); err != nil {
			return err
		}
		b := byte(0)
		if k.Bool() {
			b = 1
		}
		return cw.writeByte(b)
	case KindInt:
		if err := cw.writeByte(tagNumInt); err != nil {
			return err
		}
		return cw.writeWord(uint64(k.Int()), cw.arch.IntegerSize)
	case KindFloat:
		if err := cw.writeByte(tagNumFloat); err != nil {
			return err
		}
		return cw.writeNumber(k.Float())
	case KindString:
		if err := cw.writeByte(tagShortStr); err != nil {
			return err
		}
		return cw.writeString(k.Str())
	}
	return fmt.Errorf("%w: kind %d not encodable", ErrBadConstant, k.Kind())
}

// ---------------------------------------------------------------------------
// Primitive writers
// ---------------------------------------------------------------------------

func (cw *ChunkWriter) write(buf []byte) error {
	_, err := cw.w.Write(buf)
	return err
}

func (cw *ChunkWriter) writeByte(b byte) error {
	return cw.write([]byte{b})
}

func (cw *ChunkWriter) writeWord(w uint64, size int) error {
	buf := make([]byte, size)
	if size == 4 {
		if cw.arch.Little {
			binary.LittleEndian.PutUint32(buf, uint32(w))
		} else {
			binary.BigEndian.PutUint32(buf, uint32(w))
		}
	} else {
		if cw.arch.Little {
			binary.LittleEndian.PutUint64(buf, w)
		} else {
			binary.BigEndian.PutUint64(buf, w)
		}
	}
	return cw.write(buf)
}

func (cw *ChunkWriter) writeInt(n int) error {
	return cw.writeWord(uint64(int64(n)), cw.arch.IntSize)
}

func (cw *ChunkWriter) writeNumber(f float64) error {
	if cw.arch.NumberSize == 4 {
		return cw.writeWord(uint64(math.Float32bits(float32(f))), 4)
	}
	return cw.writeWord(math.Float64bits(f), 8)
}

func (cw *ChunkWriter) writeString(s string) error {
	if s == "" {
		return cw.writeByte(0)
	}
	n := len(s) + 1
	if n < 0xFF {
		if err := cw.writeByte(byte(n)); err != nil {
			return err
		}
	} else {
		if err := cw.writeByte(0xFF); err != nil {
			return err
		}
		if err := cw.writeWord(uint64(n), cw.arch.SizeTSize); err != nil {
			return err
		}
	}
	return cw.write([]byte(s))
}
