package ir

import (
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/crypto/blake2b"
)

// String renders the module in its textual form. Two modules are
// considered identical when their textual forms are.
func (m *Module) String() string {
	var b strings.Builder
	m.Print(&b)

	return b.String()
}

// Print writes the textual form of m to w.
func (m *Module) Print(w io.Writer) {
	fmt.Fprintf(w, "module %s\n", m.Name)

	for _, s := range m.Structs {
		fmt.Fprintf(w, "\ntype %%%s = %v\n", s.Name, Struct("", s.Fields...))
	}

	for _, g := range m.Globals {
		fmt.Fprintf(w, "\nglobal @%s %v", g.Name, g.Type)

		if g.Init != nil {
			fmt.Fprintf(w, " = %s", strconv.Quote(string(g.Init)))
		}

		fmt.Fprintln(w)
	}

	for _, e := range m.Externs {
		params := lo.Map(e.Params, func(t Type, _ int) string { return t.String() })
		fmt.Fprintf(w, "\nextern @%s(%s) %v\n", e.Name, strings.Join(params, ", "), e.Result)
	}

	for _, f := range m.Funcs {
		fmt.Fprintln(w)
		f.Print(w)
	}
}

func (f *Function) String() string {
	var b strings.Builder
	f.Print(&b)

	return b.String()
}

// Print writes the function in block id order.
func (f *Function) Print(w io.Writer) {
	params := lo.Map(f.Params, func(p Param, _ int) string { return p.Name + " " + p.Type.String() })

	fmt.Fprintf(w, "func @%s(%s) %v {\n", f.Name, strings.Join(params, ", "), f.Result)

	for _, b := range f.Blocks() {
		fmt.Fprintf(w, "%v:", b)

		if b.ID == f.Entry {
			fmt.Fprintf(w, " ; entry")
		}

		if len(b.Preds) != 0 {
			preds := slices.Clone(b.Preds)
			slices.Sort(preds)

			fmt.Fprintf(w, " ; preds %s", strings.Join(lo.Map(preds, func(p BlockID, _ int) string { return p.String() }), ", "))
		}

		fmt.Fprintln(w)

		for _, id := range b.Instrs {
			fmt.Fprintf(w, "  %s\n", f.FormatInstr(f.instrs[id]))
		}
	}

	fmt.Fprintln(w, "}")
}

// FormatOperand prints a register as %N and a constant as literal:type.
func (f *Function) FormatOperand(v ValueID) string {
	val := f.Value(v)
	if val == nil {
		return v.String() + "?"
	}

	if !val.IsConst() {
		return v.String()
	}

	switch {
	case val.Type.Kind == KindBool:
		return strconv.FormatBool(val.Bits != 0)
	case val.Type.IsFloat():
		fv := val.Float()
		s := strconv.FormatFloat(fv, 'g', -1, 64)

		if math.IsInf(fv, 0) || math.IsNaN(fv) {
			s = "0x" + strconv.FormatUint(val.Bits, 16)
		}

		return s + ":" + val.Type.String()
	case val.Type.Kind.IsSigned():
		return strconv.FormatInt(val.Int(), 10) + ":" + val.Type.String()
	default:
		return strconv.FormatUint(val.Uint(), 10) + ":" + val.Type.String()
	}
}

func (f *Function) operands(args []ValueID) string {
	return strings.Join(lo.Map(args, func(a ValueID, _ int) string { return f.FormatOperand(a) }), ", ")
}

// FormatInstr renders one instruction on a single line.
func (f *Function) FormatInstr(in *Instr) string {
	var b strings.Builder

	rt := Void
	if in.Result != NoValue {
		rt = f.TypeOf(in.Result)
		fmt.Fprintf(&b, "%v = ", in.Result)
	}

	b.WriteString(in.Op.String())

	switch {
	case in.Op.IsBinary(), in.Op.IsUnary(), in.Op == OpVectorAdd, in.Op == OpVectorSub, in.Op == OpVectorMul,
		in.Op == OpBroadcast, in.Op == OpLoad, in.Op == OpVectorLoad:
		fmt.Fprintf(&b, " %v %s", rt, f.operands(in.Args))
	case in.Op == OpCmp:
		fmt.Fprintf(&b, " %v %s", in.Pred, f.operands(in.Args))
	case in.Op == OpAlloca:
		fmt.Fprintf(&b, " %v", in.Type)
	case in.Op == OpElemPtr:
		fmt.Fprintf(&b, " %v %s", in.Type, f.operands(in.Args))
	case in.Op == OpGlobalAddr:
		fmt.Fprintf(&b, " @%s", in.Callee)
	case in.Op == OpParam:
		fmt.Fprintf(&b, " %d %v", in.Index, rt)
	case in.Op == OpCall:
		fmt.Fprintf(&b, " %v @%s(%s)", rt, in.Callee, f.operands(in.Args))
	case in.Op == OpPhi:
		fmt.Fprintf(&b, " %v", rt)

		for i, a := range in.Args {
			if i != 0 {
				b.WriteString(",")
			}

			fmt.Fprintf(&b, " [%s, %v]", f.FormatOperand(a), in.Incoming[i])
		}
	case in.Op == OpBr:
		fmt.Fprintf(&b, " %v", in.Targets[0])
	case in.Op == OpCondBr:
		fmt.Fprintf(&b, " %s, %v, %v", f.FormatOperand(in.Args[0]), in.Targets[0], in.Targets[1])
	case in.Op == OpSwitch:
		fmt.Fprintf(&b, " %s, default %v [", f.FormatOperand(in.Args[0]), in.Targets[0])

		for i, c := range in.Cases {
			if i != 0 {
				b.WriteString(", ")
			}

			fmt.Fprintf(&b, "%d: %v", c, in.Targets[i+1])
		}

		b.WriteString("]")
	default:
		if len(in.Args) != 0 {
			fmt.Fprintf(&b, " %s", f.operands(in.Args))
		}
	}

	if len(in.Meta) != 0 {
		keys := lo.Keys(in.Meta)
		slices.Sort(keys)

		for _, k := range keys {
			fmt.Fprintf(&b, " !%s=%q", k, in.Meta[k])
		}
	}

	return b.String()
}

// Fingerprint is the blake2b-256 digest of the textual form.
func (m *Module) Fingerprint() string {
	sum := blake2b.Sum256([]byte(m.String()))
	return hex.EncodeToString(sum[:])
}
