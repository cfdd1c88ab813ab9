package dql

// Expr is a node of a filter expression.
type Expr interface {
	exprNode()
}

type argKind uint8

const (
	argValue argKind = iota
	argIdent
	argRegex
	argVar
	argParam
)

// Arg is one argument of a function.
type Arg struct {
	kind argKind
	val  Value
	text string
}

// Lit is a literal value argument.
func Lit(v Value) Arg { return Arg{kind: argValue, val: v} }

// Ident is a bare identifier argument such as a type name.
func Ident(name string) Arg { return Arg{kind: argIdent, text: name} }

// Regex is a regular expression literal argument built by RegexLiteral.
func Regex(literal string) Arg { return Arg{kind: argRegex, text: literal} }

// VarRef references a value variable defined by another block.
func VarRef(name string) Arg { return Arg{kind: argVar, text: name} }

// Param references a query parameter such as $terms.
func Param(name string) Arg { return Arg{kind: argParam, text: name} }

// Value returns the literal value of a Lit argument.
func (a Arg) Value() (Value, bool) { return a.val, a.kind == argValue }

// Text returns the identifier, regex, variable or parameter text.
func (a Arg) Text() string { return a.text }

func (a Arg) IsVar() bool   { return a.kind == argVar }
func (a Arg) IsParam() bool { return a.kind == argParam }
func (a Arg) IsRegex() bool { return a.kind == argRegex }

// Func is a root selector or filter function: name(predicate, args...).
type Func struct {
	Name      string
	Predicate string
	Args      []Arg
}

func (Func) exprNode() {}

// IsZero reports whether f is unset.
func (f Func) IsZero() bool { return f.Name == "" }

// And joins expressions that must all hold.
type And []Expr

// Or joins expressions of which one must hold.
type Or []Expr

// Not negates an expression.
type Not struct{ X Expr }

func (And) exprNode() {}
func (Or) exprNode()  {}
func (Not) exprNode() {}

// AllOf returns the conjunction of the non-nil expressions, collapsing the
// trivial cases.
func AllOf(xs ...Expr) Expr {
	var out And
	for _, x := range xs {
		switch v := x.(type) {
		case nil:
		case And:
			out = append(out, v...)
		default:
			out = append(out, v)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}

// AnyOf returns the disjunction of the non-nil expressions.
func AnyOf(xs ...Expr) Expr {
	var out Or
	for _, x := range xs {
		switch v := x.(type) {
		case nil:
		case Or:
			out = append(out, v...)
		default:
			out = append(out, v)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}

// Function constructors.

func Type(name string) Func { return Func{Name: "type", Args: []Arg{Ident(name)}} }
func Has(pred string) Func  { return Func{Name: "has", Predicate: pred} }

func Eq(pred string, v Value) Func {
	return Func{Name: "eq", Predicate: pred, Args: []Arg{Lit(v)}}
}

// Cmp builds one of the inequality functions ge, le, gt, lt.
func Cmp(op, pred string, v Value) Func {
	return Func{Name: op, Predicate: pred, Args: []Arg{Lit(v)}}
}

func AllOfTerms(pred string, a Arg) Func {
	return Func{Name: "allofterms", Predicate: pred, Args: []Arg{a}}
}

func AnyOfTerms(pred string, a Arg) Func {
	return Func{Name: "anyofterms", Predicate: pred, Args: []Arg{a}}
}

// Regexp matches pred against text as an escaped substring pattern.
func Regexp(pred, text string, insensitive bool) Func {
	return Func{Name: "regexp", Predicate: pred, Args: []Arg{Regex(RegexLiteral(text, insensitive))}}
}

// UIDs selects nodes by identifier.
func UIDs(uids ...UID) Func {
	args := make([]Arg, len(uids))
	for i, u := range uids {
		args[i] = Lit(Node(Existing(u)))
	}
	return Func{Name: "uid", Args: args}
}

// UIDVars selects the nodes bound to the named variables.
func UIDVars(vars ...string) Func {
	args := make([]Arg, len(vars))
	for i, v := range vars {
		args[i] = VarRef(v)
	}
	return Func{Name: "uid", Args: args}
}

// UIDIn holds when pred has an edge to uid.
func UIDIn(pred string, uid UID) Func {
	return Func{Name: "uid_in", Predicate: pred, Args: []Arg{Lit(Node(Existing(uid)))}}
}

// Order is one sort key.
type Order struct {
	Predicate string
	Desc      bool
}

// Field is one selection inside a block.
type Field struct {
	Alias     string
	Predicate string
	// Var binds the selected nodes to a variable: `Var as Predicate`.
	Var    string
	Count  bool
	Facets bool
	Filter Expr
	Order  []Order
	First  int
	Fields []*Field
}

// Block is a named query block or, when Var is set, a variable block.
type Block struct {
	Name   string
	Var    string
	Root   Func
	Filter Expr
	Order  []Order
	First  int
	Offset int
	// Cascade lists the predicates that must be non-empty for a node to
	// survive; an empty non-nil slice cascades over every selection.
	Cascade   []string
	Normalize bool
	Fields    []*Field
}

// QueryParam declares a query variable passed alongside the text.
type QueryParam struct {
	Name  string
	Type  string
	Value string
}

// Query is a set of blocks executed in one request.
type Query struct {
	Name   string
	Params []QueryParam
	Blocks []*Block
}

// Block returns the named block.
func (q *Query) Block(name string) *Block {
	for _, b := range q.Blocks {
		if b.Name == name && b.Var == "" {
			return b
		}
	}
	return nil
}

// VarBlock returns the block binding variable name.
func (q *Query) VarBlock(name string) *Block {
	for _, b := range q.Blocks {
		if b.Var == name {
			return b
		}
	}
	return nil
}

// Vars returns the parameter values keyed by their $-prefixed names.
func (q *Query) Vars() map[string]string {
	if len(q.Params) == 0 {
		return nil
	}
	out := make(map[string]string, len(q.Params))
	for _, p := range q.Params {
		out[p.Name] = p.Value
	}
	return out
}

// Param returns the value of the named parameter.
func (q *Query) Param(name string) (string, bool) {
	for _, p := range q.Params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// Select is shorthand for a list of plain predicate selections.
func Select(preds ...string) []*Field {
	out := make([]*Field, len(preds))
	for i, p := range preds {
		out[i] = &Field{Predicate: p}
	}
	return out
}
