package ast

import (
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JoeySoprano420/C.A.S.E.-Programming-Language--sub003/internal/diag"
)

type (
	programYAML struct {
		Name    string      `yaml:"name"`
		Globals []yaml.Node `yaml:"globals"`
		Externs []yaml.Node `yaml:"externs"`
		Funcs   []yaml.Node `yaml:"funcs"`
	}

	globalYAML struct {
		Name string `yaml:"name"`
		Type string `yaml:"type"`
		Data string `yaml:"data"`
	}

	externYAML struct {
		Name   string   `yaml:"name"`
		Params []string `yaml:"params"`
		Result string   `yaml:"result"`
	}

	paramYAML struct {
		Name string `yaml:"name"`
		Type string `yaml:"type"`
	}

	funcYAML struct {
		Name   string      `yaml:"name"`
		Params []paramYAML `yaml:"params"`
		Result string      `yaml:"result"`
		Body   yaml.Node   `yaml:"body"`
	}

	letYAML struct {
		Name  string    `yaml:"name"`
		Type  string    `yaml:"type"`
		Value yaml.Node `yaml:"value"`
	}

	storeYAML struct {
		Array string    `yaml:"array"`
		Index yaml.Node `yaml:"index"`
		Value yaml.Node `yaml:"value"`
	}

	ifYAML struct {
		Cond yaml.Node `yaml:"cond"`
		Then yaml.Node `yaml:"then"`
		Else yaml.Node `yaml:"else"`
	}

	whileYAML struct {
		Cond yaml.Node `yaml:"cond"`
		Body yaml.Node `yaml:"body"`
	}

	forYAML struct {
		Var  string    `yaml:"var"`
		From yaml.Node `yaml:"from"`
		To   yaml.Node `yaml:"to"`
		Body yaml.Node `yaml:"body"`
	}

	binYAML struct {
		Op string    `yaml:"op"`
		L  yaml.Node `yaml:"l"`
		R  yaml.Node `yaml:"r"`
	}

	unYAML struct {
		Op string    `yaml:"op"`
		X  yaml.Node `yaml:"x"`
	}

	callYAML struct {
		Func string      `yaml:"func"`
		Args []yaml.Node `yaml:"args"`
	}

	indexYAML struct {
		Array string    `yaml:"array"`
		Index yaml.Node `yaml:"index"`
	}

	castYAML struct {
		Type string    `yaml:"type"`
		X    yaml.Node `yaml:"x"`
	}

	litYAML struct {
		Value yaml.Node `yaml:"value"`
		Type  string    `yaml:"type"`
	}
)

// Decode reads a program from its YAML form:
//
//	name: demo
//	externs:
//	  - {name: exit, params: [i64], result: void}
//	funcs:
//	  - name: main
//	    result: i64
//	    body:
//	      - let: {name: a, value: {bin: ["+", 2, 3]}}
//	      - return: a
//
// Scalars are literals or identifiers. Compound expressions are single-key
// maps: bin, un, call, index, cast, addr, int, float.
func Decode(data []byte) (*Program, error) {
	var doc yaml.Node

	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, diag.Wrap(diag.KindFrontend, err, diag.Where{}, "parse program")
	}

	if len(doc.Content) == 0 {
		return nil, diag.New(diag.KindFrontend, diag.Where{}, "empty program")
	}

	var d decoder

	return d.program(doc.Content[0])
}

type decoder struct {
	fn string
}

func (d *decoder) errf(n *yaml.Node, format string, args ...any) error {
	e := diag.New(diag.KindFrontend, diag.Where{Func: d.fn}, format, args...)

	if n != nil && n.Line != 0 {
		e.Message = strconv.Itoa(n.Line) + ":" + strconv.Itoa(n.Column) + ": " + e.Message
	}

	return e
}

func pos(n *yaml.Node) Pos { return Pos{Line: n.Line, Col: n.Column} }

func (d *decoder) program(n *yaml.Node) (*Program, error) {
	var py programYAML

	if err := n.Decode(&py); err != nil {
		return nil, d.errf(n, "program: %v", err)
	}

	p := &Program{Name: py.Name}

	for i := range py.Globals {
		gn := &py.Globals[i]

		var gy globalYAML
		if err := gn.Decode(&gy); err != nil {
			return nil, d.errf(gn, "global: %v", err)
		}

		if gy.Name == "" {
			return nil, d.errf(gn, "global without name")
		}

		p.Globals = append(p.Globals, &Global{Name: gy.Name, Type: gy.Type, Data: gy.Data, Pos: pos(gn)})
	}

	for i := range py.Externs {
		en := &py.Externs[i]

		var ey externYAML
		if err := en.Decode(&ey); err != nil {
			return nil, d.errf(en, "extern: %v", err)
		}

		if ey.Name == "" {
			return nil, d.errf(en, "extern without name")
		}

		p.Externs = append(p.Externs, &Extern{Name: ey.Name, Params: ey.Params, Result: ey.Result, Pos: pos(en)})
	}

	for i := range py.Funcs {
		f, err := d.function(&py.Funcs[i])
		if err != nil {
			return nil, err
		}

		p.Funcs = append(p.Funcs, f)
	}

	d.fn = ""

	return p, nil
}

func (d *decoder) function(n *yaml.Node) (*Func, error) {
	var fy funcYAML

	if err := n.Decode(&fy); err != nil {
		return nil, d.errf(n, "func: %v", err)
	}

	if fy.Name == "" {
		return nil, d.errf(n, "func without name")
	}

	d.fn = fy.Name

	f := &Func{Name: fy.Name, Result: fy.Result, Pos: pos(n)}

	for _, p := range fy.Params {
		f.Params = append(f.Params, Param(p))
	}

	var err error

	f.Body, err = d.stmts(&fy.Body)
	if err != nil {
		return nil, err
	}

	return f, nil
}

func (d *decoder) stmts(n *yaml.Node) ([]Stmt, error) {
	if n.Kind == 0 {
		return nil, nil
	}

	if n.Kind != yaml.SequenceNode {
		return nil, d.errf(n, "statement list expected")
	}

	r := make([]Stmt, 0, len(n.Content))

	for _, c := range n.Content {
		s, err := d.stmt(c)
		if err != nil {
			return nil, err
		}

		r = append(r, s)
	}

	return r, nil
}

func (d *decoder) stmt(n *yaml.Node) (Stmt, error) {
	p := pos(n)

	if n.Kind == yaml.ScalarNode {
		switch n.Value {
		case "break":
			return &Break{Pos: p}, nil
		case "continue":
			return &Continue{Pos: p}, nil
		case "return":
			return &Return{Pos: p}, nil
		}

		return nil, d.errf(n, "unknown statement %q", n.Value)
	}

	key, val, err := d.single(n)
	if err != nil {
		return nil, err
	}

	switch key {
	case "let", "var":
		var y letYAML
		if err := val.Decode(&y); err != nil {
			return nil, d.errf(val, "%s: %v", key, err)
		}

		if y.Name == "" {
			return nil, d.errf(val, "%s without name", key)
		}

		var x Expr

		if y.Value.Kind != 0 {
			if x, err = d.expr(&y.Value); err != nil {
				return nil, err
			}
		} else if key == "let" {
			return nil, d.errf(val, "let %s without value", y.Name)
		}

		if key == "let" {
			return &Let{Pos: p, Name: y.Name, Type: y.Type, Value: x}, nil
		}

		return &Var{Pos: p, Name: y.Name, Type: y.Type, Value: x}, nil
	case "assign":
		var y letYAML
		if err := val.Decode(&y); err != nil {
			return nil, d.errf(val, "assign: %v", err)
		}

		x, err := d.expr(&y.Value)
		if err != nil {
			return nil, err
		}

		return &Assign{Pos: p, Name: y.Name, Value: x}, nil
	case "store":
		var y storeYAML
		if err := val.Decode(&y); err != nil {
			return nil, d.errf(val, "store: %v", err)
		}

		idx, err := d.expr(&y.Index)
		if err != nil {
			return nil, err
		}

		x, err := d.expr(&y.Value)
		if err != nil {
			return nil, err
		}

		return &Store{Pos: p, Array: y.Array, Index: idx, Value: x}, nil
	case "if":
		var y ifYAML
		if err := val.Decode(&y); err != nil {
			return nil, d.errf(val, "if: %v", err)
		}

		s := &If{Pos: p}

		if s.Cond, err = d.expr(&y.Cond); err != nil {
			return nil, err
		}

		if s.Then, err = d.stmts(&y.Then); err != nil {
			return nil, err
		}

		if s.Else, err = d.stmts(&y.Else); err != nil {
			return nil, err
		}

		return s, nil
	case "while":
		var y whileYAML
		if err := val.Decode(&y); err != nil {
			return nil, d.errf(val, "while: %v", err)
		}

		s := &While{Pos: p}

		if s.Cond, err = d.expr(&y.Cond); err != nil {
			return nil, err
		}

		if s.Body, err = d.stmts(&y.Body); err != nil {
			return nil, err
		}

		return s, nil
	case "loop":
		body, err := d.stmts(val)
		if err != nil {
			return nil, err
		}

		return &Loop{Pos: p, Body: body}, nil
	case "for":
		var y forYAML
		if err := val.Decode(&y); err != nil {
			return nil, d.errf(val, "for: %v", err)
		}

		if y.Var == "" {
			return nil, d.errf(val, "for without var")
		}

		s := &For{Pos: p, Var: y.Var}

		if s.From, err = d.expr(&y.From); err != nil {
			return nil, err
		}

		if s.To, err = d.expr(&y.To); err != nil {
			return nil, err
		}

		if s.Body, err = d.stmts(&y.Body); err != nil {
			return nil, err
		}

		return s, nil
	case "return":
		x, err := d.expr(val)
		if err != nil {
			return nil, err
		}

		return &Return{Pos: p, Value: x}, nil
	case "expr", "call":
		if key == "call" {
			val = n
		}

		x, err := d.expr(val)
		if err != nil {
			return nil, err
		}

		return &ExprStmt{Pos: p, X: x}, nil
	}

	return nil, d.errf(n, "unknown statement %q", key)
}

// single splits a one-key mapping.
func (d *decoder) single(n *yaml.Node) (string, *yaml.Node, error) {
	if n.Kind != yaml.MappingNode || len(n.Content) != 2 {
		return "", nil, d.errf(n, "expected a single-key map")
	}

	return n.Content[0].Value, n.Content[1], nil
}

func (d *decoder) expr(n *yaml.Node) (Expr, error) {
	p := pos(n)

	switch n.Kind {
	case 0:
		return nil, d.errf(nil, "missing expression")
	case yaml.ScalarNode:
		return d.scalar(n, "")
	case yaml.MappingNode:
	default:
		return nil, d.errf(n, "expression expected")
	}

	key, val, err := d.single(n)
	if err != nil {
		return nil, err
	}

	switch key {
	case "int", "float":
		if val.Kind == yaml.ScalarNode {
			return d.scalar(val, key)
		}

		var y litYAML
		if err := val.Decode(&y); err != nil {
			return nil, d.errf(val, "%s: %v", key, err)
		}

		x, err := d.scalar(&y.Value, key)
		if err != nil {
			return nil, err
		}

		switch x := x.(type) {
		case *Int:
			x.Type = y.Type
		case *Float:
			x.Type = y.Type
		}

		return x, nil
	case "bin":
		var y binYAML

		if val.Kind == yaml.SequenceNode {
			if len(val.Content) != 3 {
				return nil, d.errf(val, "bin takes [op, l, r]")
			}

			y.Op = val.Content[0].Value
			y.L = *val.Content[1]
			y.R = *val.Content[2]
		} else if err := val.Decode(&y); err != nil {
			return nil, d.errf(val, "bin: %v", err)
		}

		l, err := d.expr(&y.L)
		if err != nil {
			return nil, err
		}

		r, err := d.expr(&y.R)
		if err != nil {
			return nil, err
		}

		return &Binary{Pos: p, Op: y.Op, L: l, R: r}, nil
	case "un":
		var y unYAML

		if val.Kind == yaml.SequenceNode {
			if len(val.Content) != 2 {
				return nil, d.errf(val, "un takes [op, x]")
			}

			y.Op = val.Content[0].Value
			y.X = *val.Content[1]
		} else if err := val.Decode(&y); err != nil {
			return nil, d.errf(val, "un: %v", err)
		}

		x, err := d.expr(&y.X)
		if err != nil {
			return nil, err
		}

		return &Unary{Pos: p, Op: y.Op, X: x}, nil
	case "call":
		var y callYAML
		if err := val.Decode(&y); err != nil {
			return nil, d.errf(val, "call: %v", err)
		}

		c := &Call{Pos: p, Func: y.Func}

		for i := range y.Args {
			a, err := d.expr(&y.Args[i])
			if err != nil {
				return nil, err
			}

			c.Args = append(c.Args, a)
		}

		return c, nil
	case "index":
		var y indexYAML
		if err := val.Decode(&y); err != nil {
			return nil, d.errf(val, "index: %v", err)
		}

		idx, err := d.expr(&y.Index)
		if err != nil {
			return nil, err
		}

		return &Index{Pos: p, Array: y.Array, Index: idx}, nil
	case "cast":
		var y castYAML
		if err := val.Decode(&y); err != nil {
			return nil, d.errf(val, "cast: %v", err)
		}

		x, err := d.expr(&y.X)
		if err != nil {
			return nil, err
		}

		return &Cast{Pos: p, Type: y.Type, X: x}, nil
	case "addr":
		if val.Kind != yaml.ScalarNode {
			return nil, d.errf(val, "addr takes a name")
		}

		return &AddrOf{Pos: p, Name: val.Value}, nil
	}

	return nil, d.errf(n, "unknown expression %q", key)
}

// scalar interprets a plain scalar by its resolved tag. want forces int or
// float interpretation.
func (d *decoder) scalar(n *yaml.Node, want string) (Expr, error) {
	p := pos(n)
	tag := n.ShortTag()

	switch {
	case want == "float" || want == "" && tag == "!!float":
		v, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return nil, d.errf(n, "bad float %q", n.Value)
		}

		return &Float{Pos: p, Value: v}, nil
	case want == "int" || tag == "!!int":
		v, err := parseInt(n.Value)
		if err != nil {
			return nil, d.errf(n, "bad integer %q", n.Value)
		}

		return &Int{Pos: p, Value: v}, nil
	case tag == "!!bool":
		return &Bool{Pos: p, Value: n.Value == "true"}, nil
	case tag == "!!str" && n.Value != "":
		return &Ident{Pos: p, Name: n.Value}, nil
	}

	return nil, d.errf(n, "unexpected scalar %q", n.Value)
}

// parseInt accepts decimal, 0x, 0o and 0b forms. Values above MaxInt64
// wrap, so 0xffffffffffffffff is -1.
func parseInt(s string) (int64, error) {
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "-"), "+")

	u, err := strconv.ParseUint(strings.ReplaceAll(s, "_", ""), 0, 64)
	if err != nil {
		return 0, err
	}

	if neg {
		return -int64(u), nil
	}

	return int64(u), nil
}
