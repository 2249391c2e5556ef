package ir

import "fmt"

// Pos is a source position attached to instructions by the front end.
type Pos struct {
	File string
	Line int
	Col  int
}

func (p Pos) IsZero() bool { return p.Line == 0 && p.File == "" }

func (p Pos) String() string {
	if p.File == "" {
		return fmt.Sprintf("%d:%d", p.Line, p.Col)
	}

	return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Col)
}

// Instr is one SSA instruction. Which fields are meaningful depends on Op:
//
//	binary/unary/vector   Args
//	Cmp                   Pred, Args[0], Args[1]
//	Alloca                Type (allocated type)
//	Load/VectorLoad       Args[0] = ptr
//	Store/VectorStore     Args[0] = value, Args[1] = ptr
//	ElemPtr               Type (element type), Args[0] = base, Args[1] = index
//	GlobalAddr            Callee = global name
//	Param                 Index
//	Call                  Callee, Args
//	Phi                   Args[i] flows in from Incoming[i]
//	Br                    Targets[0]
//	CondBr                Args[0], Targets = [then, else]
//	Switch                Args[0], Targets = [default, case...], Cases
//	Ret                   optional Args[0]
type Instr struct {
	ID     InstrID
	Op     Op
	Block  BlockID
	Result ValueID
	Args   []ValueID

	Pred     Pred
	Type     Type
	Index    int
	Callee   string
	Targets  []BlockID
	Cases    []int64
	Incoming []BlockID

	Pos  Pos
	Meta map[string]string

	dead bool
}

func (in *Instr) IsDead() bool { return in.dead }

func (in *Instr) IsTerminator() bool { return in.Op.IsTerminator() }

// SetMeta records an annotation; annotations are part of the printed form.
func (in *Instr) SetMeta(key, val string) {
	if in.Meta == nil {
		in.Meta = map[string]string{}
	}

	in.Meta[key] = val
}

func (in *Instr) GetMeta(key string) (string, bool) {
	v, ok := in.Meta[key]
	return v, ok
}

// ReplaceTarget redirects every successor edge from old to new.
func (in *Instr) ReplaceTarget(old, new BlockID) bool {
	changed := false

	for i, t := range in.Targets {
		if t == old {
			in.Targets[i] = new
			changed = true
		}
	}

	return changed
}

// PhiValue returns the value flowing in from pred.
func (in *Instr) PhiValue(pred BlockID) (ValueID, bool) {
	for i, b := range in.Incoming {
		if b == pred {
			return in.Args[i], true
		}
	}

	return NoValue, false
}

// RemoveIncoming drops the phi edge from pred.
func (in *Instr) RemoveIncoming(pred BlockID) {
	for i := 0; i < len(in.Incoming); i++ {
		if in.Incoming[i] != pred {
			continue
		}

		in.Incoming = append(in.Incoming[:i], in.Incoming[i+1:]...)
		in.Args = append(in.Args[:i], in.Args[i+1:]...)
		i--
	}
}

// SetIncoming replaces or appends the phi edge from pred.
func (in *Instr) SetIncoming(pred BlockID, v ValueID) {
	for i, b := range in.Incoming {
		if b == pred {
			in.Args[i] = v
			return
		}
	}

	in.Incoming = append(in.Incoming, pred)
	in.Args = append(in.Args, v)
}

// RenameIncoming changes the predecessor an edge is attributed to.
func (in *Instr) RenameIncoming(old, new BlockID) {
	for i, b := range in.Incoming {
		if b == old {
			in.Incoming[i] = new
		}
	}
}
