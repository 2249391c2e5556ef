// Package regalloc assigns SSA values to a fixed pool of physical
// registers while a function is being encoded.
//
// The policy is least recently used: a value is bound to a free register
// when defined or reloaded; when none is free the value touched longest
// ago is spilled to a stack slot. Values the encoder knows to be live
// across blocks own a home slot that is written at definition, so at
// block boundaries no register holds anything that must survive.
//
// The allocator decides, a Mover performs: every store or load it
// requires is reported through the Mover interface.
package regalloc

import (
	"slices"

	"github.com/samber/lo"
	"tlog.app/go/tlog"

	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/diag"
	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/ir"
)

type (
	// Reg is a physical register number. Its meaning belongs to the target.
	Reg uint8

	// Mover emits the moves the allocator decides on.
	Mover interface {
		Spill(r Reg, slot int)
		Reload(slot int, r Reg)
	}

	Config struct {
		Pool        []Reg // allocation order
		CallerSaved []Reg // members of Pool clobbered by calls
	}

	// Loc is where a value currently lives. A value may be in a register
	// and a slot at the same time.
	Loc struct {
		Reg   Reg
		InReg bool
		Slot  int // -1 if none
	}

	Allocator struct {
		cfg Config
		mv  Mover

		owner map[Reg]ir.ValueID
		reg   map[ir.ValueID]Reg
		touch map[ir.ValueID]uint64
		tick  uint64

		slot  map[ir.ValueID]int
		home  map[ir.ValueID]bool
		clean map[ir.ValueID]bool // register copy equals slot
		dead  map[ir.ValueID]bool

		freeSlots []int
		nslots    int

		pinned map[Reg]bool
		saved  []saved
		used   map[Reg]bool

		Spills  int
		Reloads int

		Func string
		tr   tlog.Span
	}

	saved struct {
		r Reg
		v ir.ValueID
	}
)

func New(cfg Config, mv Mover) *Allocator {
	return &Allocator{
		cfg:    cfg,
		mv:     mv,
		owner:  map[Reg]ir.ValueID{},
		reg:    map[ir.ValueID]Reg{},
		touch:  map[ir.ValueID]uint64{},
		slot:   map[ir.ValueID]int{},
		home:   map[ir.ValueID]bool{},
		clean:  map[ir.ValueID]bool{},
		dead:   map[ir.ValueID]bool{},
		pinned: map[Reg]bool{},
		used:   map[Reg]bool{},
	}
}

// SetSpan enables "regalloc" topic logging into tr.
func (a *Allocator) SetSpan(tr tlog.Span) { a.tr = tr }

func (a *Allocator) errf(kind diag.Kind, v ir.ValueID, format string, args ...any) error {
	e := diag.New(kind, diag.Where{Func: a.Func}, format, args...)
	if v != ir.NoValue {
		e = e.WithHelp("value %v", v)
	}

	return e
}

// SetHome gives v a stack slot of its own that Written keeps current.
func (a *Allocator) SetHome(v ir.ValueID) int {
	if s, ok := a.slot[v]; ok && a.home[v] {
		return s
	}

	s := a.newSlot()
	a.slot[v] = s
	a.home[v] = true

	return s
}

// HasHome reports whether v was given a home slot.
func (a *Allocator) HasHome(v ir.ValueID) bool { return a.home[v] }

// Slot returns the home or spill slot of v.
func (a *Allocator) Slot(v ir.ValueID) (int, bool) {
	s, ok := a.slot[v]
	return s, ok
}

func (a *Allocator) newSlot() int {
	if n := len(a.freeSlots); n != 0 {
		s := a.freeSlots[n-1]
		a.freeSlots = a.freeSlots[:n-1]

		return s
	}

	a.nslots++

	return a.nslots - 1
}

// Def binds a register for the new value v.
func (a *Allocator) Def(v ir.ValueID) (Reg, error) {
	if _, ok := a.reg[v]; ok {
		return 0, a.errf(diag.KindVerify, v, "value %v defined twice", v)
	}

	if a.dead[v] {
		return 0, a.errf(diag.KindVerify, v, "value %v redefined after its last use", v)
	}

	r, err := a.take()
	if err != nil {
		return 0, err
	}

	a.bind(v, r)
	a.clean[v] = false

	return r, nil
}

// Written is called once the defining instruction has stored v into its
// register. Values with a home slot are written through.
func (a *Allocator) Written(v ir.ValueID) {
	r, ok := a.reg[v]
	if !ok || !a.home[v] {
		return
	}

	a.mv.Spill(r, a.slot[v])
	a.clean[v] = true
}

// Use returns the register holding v, reloading it if it was spilled.
func (a *Allocator) Use(v ir.ValueID) (Reg, error) {
	if a.dead[v] {
		return 0, a.errf(diag.KindVerify, v, "use of freed value %v", v)
	}

	if r, ok := a.reg[v]; ok {
		a.mark(v)
		return r, nil
	}

	s, ok := a.slot[v]
	if !ok {
		return 0, a.errf(diag.KindVerify, v, "value %v used before definition", v)
	}

	r, err := a.take()
	if err != nil {
		return 0, err
	}

	a.mv.Reload(s, r)
	a.Reloads++
	a.bind(v, r)
	a.clean[v] = true

	if a.tr.If("regalloc") {
		a.tr.Printw("reload", "func", a.Func, "value", v, "slot", s, "reg", r)
	}

	return r, nil
}

// Loc reports where v is without moving anything.
func (a *Allocator) Loc(v ir.ValueID) (Loc, error) {
	if a.dead[v] {
		return Loc{}, a.errf(diag.KindVerify, v, "use of freed value %v", v)
	}

	l := Loc{Slot: -1}

	if s, ok := a.slot[v]; ok {
		l.Slot = s
	}

	if r, ok := a.reg[v]; ok {
		l.Reg, l.InReg = r, true
		a.mark(v)
	}

	if !l.InReg && l.Slot < 0 {
		return Loc{}, a.errf(diag.KindVerify, v, "value %v used before definition", v)
	}

	return l, nil
}

// Free ends the life of v: its register returns to the pool immediately
// and a spill slot is recycled. Any later Use is an error.
func (a *Allocator) Free(v ir.ValueID) {
	if a.dead[v] {
		return
	}

	a.dead[v] = true
	a.unbind(v)

	if s, ok := a.slot[v]; ok {
		delete(a.slot, v)
		delete(a.home, v)
		a.freeSlots = append(a.freeSlots, s)
	}
}

// Pin keeps r from being chosen for eviction until Unpin.
func (a *Allocator) Pin(r Reg)   { a.pinned[r] = true }
func (a *Allocator) Unpin(r Reg) { delete(a.pinned, r) }

func (a *Allocator) UnpinAll() { clear(a.pinned) }

// SaveAroundCall moves values out of caller-saved registers. Values
// without a current slot copy are stored first.
func (a *Allocator) SaveAroundCall() error {
	a.saved = a.saved[:0]

	for _, r := range a.cfg.CallerSaved {
		v, ok := a.owner[r]
		if !ok {
			continue
		}

		if err := a.writeBack(v, r); err != nil {
			return err
		}

		a.unbind(v)
		a.saved = append(a.saved, saved{r: r, v: v})
	}

	return nil
}

// RestoreAfterCall reloads the values saved by SaveAroundCall that are
// still alive into the registers they had.
func (a *Allocator) RestoreAfterCall() {
	for _, s := range a.saved {
		if a.dead[s.v] {
			continue
		}

		if _, busy := a.owner[s.r]; busy {
			continue
		}

		a.mv.Reload(a.slot[s.v], s.r)
		a.Reloads++
		a.bind(s.v, s.r)
		a.clean[s.v] = true
	}

	a.saved = a.saved[:0]
}

// Clobber evicts whatever lives in r, for instructions that use fixed
// registers. The register stays free afterwards.
func (a *Allocator) Clobber(r Reg) error {
	v, ok := a.owner[r]
	if !ok {
		return nil
	}

	if err := a.writeBack(v, r); err != nil {
		return err
	}

	a.unbind(v)

	return nil
}

// EndBlock drops every register binding. Only values with a home slot
// may still be alive.
func (a *Allocator) EndBlock() error {
	for _, v := range a.live() {
		if !a.home[v] {
			return a.errf(diag.KindAlloc, v, "value %v live at block end without a home slot", v)
		}

		a.unbind(v)
	}

	clear(a.pinned)

	return nil
}

// FrameSize is the number of bytes the slots need.
func (a *Allocator) FrameSize() int { return a.nslots * 8 }

// Slots is the number of slots ever allocated.
func (a *Allocator) Slots() int { return a.nslots }

// Used returns the registers that held a value at some point, in pool
// order.
func (a *Allocator) Used() []Reg {
	return lo.Filter(a.cfg.Pool, func(r Reg, _ int) bool { return a.used[r] })
}

func (a *Allocator) take() (Reg, error) {
	for _, r := range a.cfg.Pool {
		if _, busy := a.owner[r]; !busy {
			return r, nil
		}
	}

	victim := ir.NoValue

	for _, v := range a.live() {
		if a.pinned[a.reg[v]] {
			continue
		}

		if victim == ir.NoValue || a.touch[v] < a.touch[victim] {
			victim = v
		}
	}

	if victim == ir.NoValue {
		return 0, a.errf(diag.KindAlloc, ir.NoValue, "all %d registers are pinned", len(a.cfg.Pool))
	}

	r := a.reg[victim]

	if err := a.writeBack(victim, r); err != nil {
		return 0, err
	}

	a.unbind(victim)

	return r, nil
}

// writeBack makes sure the slot of v holds its value.
func (a *Allocator) writeBack(v ir.ValueID, r Reg) error {
	if a.clean[v] {
		return nil
	}

	s, ok := a.slot[v]
	if !ok {
		s = a.newSlot()
		a.slot[v] = s
	} else if !a.home[v] && slices.Contains(a.freeSlots, s) {
		return a.errf(diag.KindAlloc, v, "spill slot %d of %v is on the free list", s, v)
	}

	a.mv.Spill(r, s)
	a.Spills++
	a.clean[v] = true

	if a.tr.If("regalloc") {
		a.tr.Printw("spill", "func", a.Func, "value", v, "slot", s, "reg", r)
	}

	return nil
}

func (a *Allocator) bind(v ir.ValueID, r Reg) {
	a.owner[r] = v
	a.reg[v] = r
	a.used[r] = true
	a.mark(v)
}

func (a *Allocator) unbind(v ir.ValueID) {
	r, ok := a.reg[v]
	if !ok {
		return
	}

	delete(a.reg, v)
	delete(a.owner, r)
	delete(a.pinned, r)
}

func (a *Allocator) mark(v ir.ValueID) {
	a.tick++
	a.touch[v] = a.tick
}

// live returns bound values in register pool order.
func (a *Allocator) live() []ir.ValueID {
	var r []ir.ValueID

	for _, reg := range a.cfg.Pool {
		if v, ok := a.owner[reg]; ok {
			r = append(r, v)
		}
	}

	return r
}
