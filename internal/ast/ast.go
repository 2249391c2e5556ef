// Package ast is the typed program tree handed to the back end by a front
// end. Programs are usually read from YAML, see Decode.
package ast

// Pos is a 1-based source position.
type Pos struct {
	Line int
	Col  int
}

type Program struct {
	Name    string
	Globals []*Global
	Externs []*Extern
	Funcs   []*Func
}

// Global is a named piece of static data. Data is the initial content;
// Type defaults to a byte array of len(Data).
type Global struct {
	Name string
	Type string
	Data string
	Pos  Pos
}

type Extern struct {
	Name   string
	Params []string
	Result string
	Pos    Pos
}

type Param struct {
	Name string
	Type string
}

type Func struct {
	Name   string
	Params []Param
	Result string
	Body   []Stmt
	Pos    Pos
}

type (
	Stmt interface {
		stmt()
		At() Pos
	}

	Expr interface {
		expr()
		At() Pos
	}
)

type (
	// Let binds an immutable name. Var declares a mutable one; a Var with
	// an array Type and no Value reserves stack storage for the array.
	Let struct {
		Pos
		Name  string
		Type  string
		Value Expr
	}

	Var struct {
		Pos
		Name  string
		Type  string
		Value Expr
	}

	Assign struct {
		Pos
		Name  string
		Value Expr
	}

	// Store writes Array[Index] = Value.
	Store struct {
		Pos
		Array string
		Index Expr
		Value Expr
	}

	If struct {
		Pos
		Cond Expr
		Then []Stmt
		Else []Stmt
	}

	While struct {
		Pos
		Cond Expr
		Body []Stmt
	}

	// Loop repeats Body until a Break.
	Loop struct {
		Pos
		Body []Stmt
	}

	// For runs Body with Var taking From, From+1, ... while Var < To.
	// To is evaluated once.
	For struct {
		Pos
		Var  string
		From Expr
		To   Expr
		Body []Stmt
	}

	Break struct {
		Pos
	}

	Continue struct {
		Pos
	}

	Return struct {
		Pos
		Value Expr
	}

	ExprStmt struct {
		Pos
		X Expr
	}
)

type (
	// Int is an integer literal. An empty Type makes it take the type of
	// the other operand, or i64.
	Int struct {
		Pos
		Value int64
		Type  string
	}

	Float struct {
		Pos
		Value float64
		Type  string
	}

	Bool struct {
		Pos
		Value bool
	}

	Ident struct {
		Pos
		Name string
	}

	Binary struct {
		Pos
		Op   string
		L, R Expr
	}

	Unary struct {
		Pos
		Op string
		X  Expr
	}

	Call struct {
		Pos
		Func string
		Args []Expr
	}

	Index struct {
		Pos
		Array string
		Index Expr
	}

	Cast struct {
		Pos
		Type string
		X    Expr
	}

	// AddrOf yields the address of a global or an array variable.
	AddrOf struct {
		Pos
		Name string
	}
)

func (p Pos) At() Pos { return p }

func (*Let) stmt()      {}
func (*Var) stmt()      {}
func (*Assign) stmt()   {}
func (*Store) stmt()    {}
func (*If) stmt()       {}
func (*While) stmt()    {}
func (*Loop) stmt()     {}
func (*For) stmt()      {}
func (*Break) stmt()    {}
func (*Continue) stmt() {}
func (*Return) stmt()   {}
func (*ExprStmt) stmt() {}

func (*Int) expr()    {}
func (*Float) expr()  {}
func (*Bool) expr()   {}
func (*Ident) expr()  {}
func (*Binary) expr() {}
func (*Unary) expr()  {}
func (*Call) expr()   {}
func (*Index) expr()  {}
func (*Cast) expr()   {}
func (*AddrOf) expr() {}

// Func returns the function named name or nil.
func (p *Program) Func(name string) *Func {
	for _, f := range p.Funcs {
		if f.Name == name {
			return f
		}
	}

	return nil
}
