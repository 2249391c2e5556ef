package ir

import (
	"slices"

	"github.com/samber/lo"
)

// Block is a basic block. Instrs is ordered; phis come first and the
// terminator last.
type Block struct {
	ID     BlockID
	Label  string
	Instrs []InstrID
	Preds  []BlockID
	Succs  []BlockID
}

func (b *Block) String() string {
	if b.Label == "" {
		return b.ID.String()
	}

	return b.ID.String() + " " + b.Label
}

// Param is a formal function parameter.
type Param struct {
	Name string
	Type Type
}

// Function owns arenas of blocks, instructions and values addressed by
// dense ids. Removed blocks leave a nil hole until Compact.
type Function struct {
	Name   string
	Params []Param
	Result Type
	Entry  BlockID

	Module *Module

	blocks []*Block
	instrs []*Instr
	values []*Value

	consts map[constKey]ValueID
}

func newFunction(m *Module, name string, params []Param, result Type) *Function {
	return &Function{
		Name:   name,
		Params: params,
		Result: result,
		Entry:  NoBlock,
		Module: m,
		instrs: []*Instr{nil},
		values: []*Value{nil},
		consts: map[constKey]ValueID{},
	}
}

// Block returns the block with id or nil if it was removed.
func (f *Function) Block(id BlockID) *Block {
	if int(id) >= len(f.blocks) {
		return nil
	}

	return f.blocks[id]
}

func (f *Function) Instr(id InstrID) *Instr {
	if id == NoInstr || int(id) >= len(f.instrs) {
		return nil
	}

	return f.instrs[id]
}

func (f *Function) Value(id ValueID) *Value {
	if id == NoValue || int(id) >= len(f.values) {
		return nil
	}

	return f.values[id]
}

// Blocks returns the live blocks in id order.
func (f *Function) Blocks() []*Block {
	return lo.Filter(f.blocks, func(b *Block, _ int) bool { return b != nil })
}

func (f *Function) NumBlocks() int { return len(f.blocks) }
func (f *Function) NumValues() int { return len(f.values) }
func (f *Function) NumInstrs() int { return len(f.instrs) }

// Def returns the instruction defining a register, or nil for constants.
func (f *Function) Def(v ValueID) *Instr {
	val := f.Value(v)
	if val == nil || val.IsConst() {
		return nil
	}

	return f.Instr(val.Def)
}

// Terminator returns the last instruction of b if it is a terminator.
func (f *Function) Terminator(b BlockID) *Instr {
	blk := f.Block(b)
	if blk == nil || len(blk.Instrs) == 0 {
		return nil
	}

	in := f.Instr(blk.Instrs[len(blk.Instrs)-1])
	if !in.IsTerminator() {
		return nil
	}

	return in
}

// Phis returns the leading phi instructions of b, nil if b was removed.
func (f *Function) Phis(b BlockID) []*Instr {
	blk := f.Block(b)
	if blk == nil {
		return nil
	}

	var r []*Instr

	for _, id := range blk.Instrs {
		in := f.Instr(id)
		if in.Op != OpPhi {
			break
		}

		r = append(r, in)
	}

	return r
}

// ConstInt interns an integer (or bool/pointer) constant of type t.
func (f *Function) ConstInt(t Type, v int64) ValueID {
	return f.constant(t, uint64(Normalize(t.Kind, uint64(v))))
}

// ConstFloat interns a float constant.
func (f *Function) ConstFloat(t Type, v float64) ValueID {
	return f.constant(t, FloatBits(t.Kind, v))
}

// ConstBits interns a constant from its raw bit pattern, as produced by
// EvalBinary and friends.
func (f *Function) ConstBits(t Type, bits uint64) ValueID {
	if t.IsFloat() {
		return f.constant(t, uint64(Normalize(t.Kind, bits)))
	}

	return f.ConstInt(t, int64(bits))
}

func (f *Function) constant(t Type, bits uint64) ValueID {
	key := constKey{kind: t.Kind, bits: bits}

	if id, ok := f.consts[key]; ok {
		return id
	}

	id := ValueID(len(f.values))
	f.values = append(f.values, &Value{ID: id, Kind: ValueConstant, Type: t, Bits: bits})
	f.consts[key] = id

	return id
}

// IsConst reports whether v is a constant and returns it.
func (f *Function) IsConst(v ValueID) (*Value, bool) {
	val := f.Value(v)
	if val == nil || !val.IsConst() {
		return nil, false
	}

	return val, true
}

// TypeOf returns the type of a value.
func (f *Function) TypeOf(v ValueID) Type {
	if val := f.Value(v); val != nil {
		return val.Type
	}

	return Void
}

func (f *Function) newBlock(label string) *Block {
	b := &Block{ID: BlockID(len(f.blocks)), Label: label}
	f.blocks = append(f.blocks, b)

	if f.Entry == NoBlock {
		f.Entry = b.ID
	}

	return b
}

func (f *Function) newInstr(in *Instr) *Instr {
	in.ID = InstrID(len(f.instrs))
	f.instrs = append(f.instrs, in)

	return in
}

func (f *Function) newRegister(t Type, def InstrID) ValueID {
	id := ValueID(len(f.values))
	f.values = append(f.values, &Value{ID: id, Kind: ValueRegister, Type: t, Def: def})

	return id
}

// RemoveInstr unlinks an instruction from its block. Its result, if any,
// must no longer be used.
func (f *Function) RemoveInstr(id InstrID) {
	in := f.Instr(id)
	if in == nil || in.dead {
		return
	}

	in.dead = true

	if b := f.Block(in.Block); b != nil {
		if i := slices.Index(b.Instrs, id); i >= 0 {
			b.Instrs = slices.Delete(b.Instrs, i, i+1)
		}
	}
}

// RemoveBlock deletes an unreachable block together with its instructions
// and the phi edges it fed.
func (f *Function) RemoveBlock(id BlockID) {
	b := f.Block(id)
	if b == nil {
		return
	}

	for _, s := range b.Succs {
		for _, phi := range f.Phis(s) {
			phi.RemoveIncoming(id)
		}
	}

	for _, iid := range b.Instrs {
		f.instrs[iid].dead = true
	}

	f.blocks[id] = nil

	f.RebuildCFG()
}

// MergeBlocks appends s to b and deletes s. b must end in a Br to s and be
// its only predecessor. Phis of s are replaced by their single operand.
func (f *Function) MergeBlocks(b, s BlockID) {
	bb, sb := f.Block(b), f.Block(s)

	for _, phi := range f.Phis(s) {
		v, _ := phi.PhiValue(b)
		f.ReplaceAllUses(phi.Result, v)
		f.RemoveInstr(phi.ID)
	}

	if t := f.Terminator(b); t != nil {
		f.RemoveInstr(t.ID)
	}

	for _, id := range sb.Instrs {
		f.instrs[id].Block = b
	}

	bb.Instrs = append(bb.Instrs, sb.Instrs...)

	for _, succ := range sb.Succs {
		for _, phi := range f.Phis(succ) {
			phi.RenameIncoming(s, b)
		}
	}

	f.blocks[s] = nil

	f.RebuildCFG()
}

// ReplaceAllUses rewrites every operand old to new.
func (f *Function) ReplaceAllUses(old, new ValueID) {
	if old == new {
		return
	}

	for _, b := range f.blocks {
		if b == nil {
			continue
		}

		for _, iid := range b.Instrs {
			in := f.instrs[iid]

			for i, a := range in.Args {
				if a == old {
					in.Args[i] = new
				}
			}
		}
	}
}

// UseCounts counts operand references by live instructions.
func (f *Function) UseCounts() map[ValueID]int {
	uses := map[ValueID]int{}

	for _, b := range f.blocks {
		if b == nil {
			continue
		}

		for _, iid := range b.Instrs {
			for _, a := range f.instrs[iid].Args {
				uses[a]++
			}
		}
	}

	return uses
}

// successors derives the deduplicated successor list of a terminator.
func successors(in *Instr) []BlockID {
	if in == nil {
		return nil
	}

	var r []BlockID

	for _, t := range in.Targets {
		if !slices.Contains(r, t) {
			r = append(r, t)
		}
	}

	return r
}

// RebuildCFG recomputes Preds and Succs from block terminators.
func (f *Function) RebuildCFG() {
	for _, b := range f.blocks {
		if b != nil {
			b.Preds = b.Preds[:0]
		}
	}

	for _, b := range f.blocks {
		if b == nil {
			continue
		}

		b.Succs = successors(f.Terminator(b.ID))

		for _, s := range b.Succs {
			if sb := f.Block(s); sb != nil {
				sb.Preds = append(sb.Preds, b.ID)
			}
		}
	}
}

// insertAt places an already created instruction at index i of block b.
func (f *Function) insertAt(b *Block, i int, id InstrID) {
	b.Instrs = slices.Insert(b.Instrs, i, id)
	f.instrs[id].Block = b.ID
}
