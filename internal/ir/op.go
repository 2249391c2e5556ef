package ir

// Op is the closed set of instruction kinds.
type Op uint8

const (
	OpInvalid Op = iota

	// arithmetic and logic, two operands of the result type
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr

	// unary
	OpNeg
	OpNot
	OpICast
	OpIToF
	OpFToI

	OpCmp

	// memory
	OpAlloca
	OpLoad
	OpStore
	OpElemPtr
	OpGlobalAddr

	OpParam
	OpCall
	OpPhi

	// vector
	OpVectorAdd
	OpVectorSub
	OpVectorMul
	OpBroadcast
	OpVectorLoad
	OpVectorStore

	// terminators
	OpBr
	OpCondBr
	OpSwitch
	OpRet

	opCount
)

var opNames = [...]string{
	OpInvalid:     "invalid",
	OpAdd:         "add",
	OpSub:         "sub",
	OpMul:         "mul",
	OpDiv:         "div",
	OpRem:         "rem",
	OpAnd:         "and",
	OpOr:          "or",
	OpXor:         "xor",
	OpShl:         "shl",
	OpShr:         "shr",
	OpNeg:         "neg",
	OpNot:         "not",
	OpICast:       "icast",
	OpIToF:        "itof",
	OpFToI:        "ftoi",
	OpCmp:         "cmp",
	OpAlloca:      "alloca",
	OpLoad:        "load",
	OpStore:       "store",
	OpElemPtr:     "elemptr",
	OpGlobalAddr:  "global",
	OpParam:       "param",
	OpCall:        "call",
	OpPhi:         "phi",
	OpVectorAdd:   "vadd",
	OpVectorSub:   "vsub",
	OpVectorMul:   "vmul",
	OpBroadcast:   "broadcast",
	OpVectorLoad:  "vload",
	OpVectorStore: "vstore",
	OpBr:          "br",
	OpCondBr:      "condbr",
	OpSwitch:      "switch",
	OpRet:         "ret",
}

func (op Op) String() string {
	if op < opCount {
		return opNames[op]
	}

	return "op?"
}

func (op Op) IsTerminator() bool { return op >= OpBr && op <= OpRet }

// IsBinary covers the two-operand scalar arithmetic and logic ops.
func (op Op) IsBinary() bool { return op >= OpAdd && op <= OpShr }

func (op Op) IsUnary() bool { return op >= OpNeg && op <= OpFToI }

func (op Op) IsVector() bool { return op >= OpVectorAdd && op <= OpVectorStore }

// HasSideEffects reports whether an instruction must be kept even if its
// result is unused.
func (op Op) HasSideEffects() bool {
	switch op {
	case OpStore, OpVectorStore, OpCall:
		return true
	default:
		return op.IsTerminator()
	}
}

// VectorOf maps a scalar arithmetic op to its lane-wise counterpart.
func VectorOf(op Op) (Op, bool) {
	switch op {
	case OpAdd:
		return OpVectorAdd, true
	case OpSub:
		return OpVectorSub, true
	case OpMul:
		return OpVectorMul, true
	default:
		return OpInvalid, false
	}
}

// ScalarOf is the inverse of VectorOf.
func ScalarOf(op Op) Op {
	switch op {
	case OpVectorAdd:
		return OpAdd
	case OpVectorSub:
		return OpSub
	case OpVectorMul:
		return OpMul
	default:
		return OpInvalid
	}
}

// Pred is a comparison predicate. Signedness comes from the operand type.
type Pred uint8

const (
	PredEQ Pred = iota
	PredNE
	PredLT
	PredLE
	PredGT
	PredGE
)

var predNames = [...]string{"eq", "ne", "lt", "le", "gt", "ge"}

func (p Pred) String() string {
	if int(p) < len(predNames) {
		return predNames[p]
	}

	return "pred?"
}

// Swap returns the predicate with operands exchanged.
func (p Pred) Swap() Pred {
	switch p {
	case PredLT:
		return PredGT
	case PredLE:
		return PredGE
	case PredGT:
		return PredLT
	case PredGE:
		return PredLE
	default:
		return p
	}
}

// Negate returns the predicate of the opposite outcome.
func (p Pred) Negate() Pred {
	switch p {
	case PredEQ:
		return PredNE
	case PredNE:
		return PredEQ
	case PredLT:
		return PredGE
	case PredLE:
		return PredGT
	case PredGT:
		return PredLE
	default:
		return PredLT
	}
}

// ParsePred parses eq/ne/lt/le/gt/ge and the C operator spellings.
func ParsePred(s string) (Pred, bool) {
	switch s {
	case "eq", "==":
		return PredEQ, true
	case "ne", "!=":
		return PredNE, true
	case "lt", "<":
		return PredLT, true
	case "le", "<=":
		return PredLE, true
	case "gt", ">":
		return PredGT, true
	case "ge", ">=":
		return PredGE, true
	default:
		return 0, false
	}
}
