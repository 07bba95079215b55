package vm

// Opcode is a Lua 5.3 instruction opcode.
type Opcode uint8

// The full Lua 5.3 opcode set, in bytecode numbering order.
const (
	OpMove Opcode = iota
	OpLoadK
	OpLoadKX
	OpLoadBool
	OpLoadNil
	OpGetUpval
	OpGetTabUp
	OpGetTable
	OpSetTabUp
	OpSetUpval
	OpSetTable
	OpNewTable
	OpSelf
	OpAdd
	OpSub
	OpMul
	OpMod
	OpPow
	OpDiv
	OpIDiv
	OpBAnd
	OpBOr
	OpBXor
	OpShl
	OpShr
	OpUnm
	OpBNot
	OpNot
	OpLen
	OpConcat
	OpJmp
	OpEq
	OpLt
	OpLe
	OpTest
	OpTestSet
	OpCall
	OpTailCall
	OpReturn
	OpForLoop
	OpForPrep
	OpTForCall
	OpTForLoop
	OpSetList
	OpClosure
	OpVararg
	OpExtraArg
)

var opcodeNames = [...]string{
	"MOVE", "LOADK", "LOADKX", "LOADBOOL", "LOADNIL", "GETUPVAL",
	"GETTABUP", "GETTABLE", "SETTABUP", "SETUPVAL", "SETTABLE", "NEWTABLE",
	"SELF", "ADD", "SUB", "MUL", "MOD", "POW", "DIV", "IDIV",
	"BAND", "BOR", "BXOR", "SHL", "SHR", "UNM", "BNOT", "NOT",
	"LEN", "CONCAT", "JMP", "EQ", "LT", "LE", "TEST", "TESTSET",
	"CALL", "TAILCALL", "RETURN", "FORLOOP", "FORPREP", "TFORCALL",
	"TFORLOOP", "SETLIST", "CLOSURE", "VARARG", "EXTRAARG",
}

// String returns the opcode's mnemonic.
func (op Opcode) String() string {
	if int(op) < len(opcodeNames) {
		return opcodeNames[op]
	}
	return "UNKNOWN"
}

// ---------------------------------------------------------------------------
// Instruction encoding (Lua 5.3: 6-bit opcode, 8-bit A, 9-bit B/C,
// 18-bit Bx/sBx, 26-bit Ax)
// ---------------------------------------------------------------------------

// Instruction is one 32-bit Lua instruction word.
type Instruction uint32

const (
	maxArgSBx = 1<<17 - 1 // excess-K bias for sBx

	// bitRK marks a B/C operand as a constant-table index.
	bitRK = 1 << 8

	// MultiRet is the sentinel return count meaning "all results".
	MultiRet = -1

	// fieldsPerFlush is SETLIST's batch size, fixed by the Lua compiler.
	fieldsPerFlush = 50
)

// Opcode extracts bits 0-5.
func (i Instruction) Opcode() Opcode { return Opcode(i & 0x3F) }

// A extracts the 8-bit A operand.
func (i Instruction) A() int { return int(i>>6) & 0xFF }

// C extracts the 9-bit C operand.
func (i Instruction) C() int { return int(i>>14) & 0x1FF }

// B extracts the 9-bit B operand.
func (i Instruction) B() int { return int(i>>23) & 0x1FF }

// Bx extracts the 18-bit unsigned Bx operand.
func (i Instruction) Bx() int { return int(i>>14) & 0x3FFFF }

// SBx extracts the signed 18-bit sBx operand (excess-2^17-1).
func (i Instruction) SBx() int { return i.Bx() - maxArgSBx }

// Ax extracts the 26-bit Ax operand.
func (i Instruction) Ax() int { return int(i>>6) & 0x3FFFFFF }

// isConst reports whether an RK operand selects the constant table.
func isConst(x int) bool { return x&bitRK != 0 }

// rkIndex strips the constant bit from an RK operand.
func rkIndex(x int) int { return x & 0xFF }

// RK builds an RK operand selecting constant k.
func RK(k int) int { return k | bitRK }

// MakeABC assembles an iABC instruction.
func MakeABC(op Opcode, a, b, c int) Instruction {
	return Instruction(op) | Instruction(a)<<6 | Instruction(c)<<14 | Instruction(b)<<23
}

// MakeABx assembles an iABx instruction.
func MakeABx(op Opcode, a, bx int) Instruction {
	return Instruction(op) | Instruction(a)<<6 | Instruction(bx)<<14
}

// MakeAsBx assembles an iAsBx instruction.
func MakeAsBx(op Opcode, a, sbx int) Instruction {
	return MakeABx(op, a, sbx+maxArgSBx)
}

// MakeAx assembles an iAx instruction.
func MakeAx(op Opcode, ax int) Instruction {
	return Instruction(op) | Instruction(ax)<<6
}
