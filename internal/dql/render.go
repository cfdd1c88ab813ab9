package dql

import (
	"strconv"
	"strings"
)

type renderer struct {
	b      strings.Builder
	indent int
}

// String renders the query text.
func (q *Query) String() string {
	r := &renderer{}
	if len(q.Params) > 0 {
		name := q.Name
		if name == "" {
			name = "q"
		}
		r.b.WriteString("query " + name + "(")
		for i, p := range q.Params {
			if i > 0 {
				r.b.WriteString(", ")
			}
			r.b.WriteString(p.Name + ": " + p.Type)
		}
		r.b.WriteString(") ")
	}
	r.b.WriteString("{\n")
	r.indent++
	for _, blk := range q.Blocks {
		r.block(blk)
	}
	r.indent--
	r.b.WriteString("}")
	return r.b.String()
}

// ExprString renders a filter expression.
func ExprString(e Expr) string {
	r := &renderer{}
	r.expr(e)
	return r.b.String()
}

func (r *renderer) line() {
	r.b.WriteString(strings.Repeat("  ", r.indent))
}

func (r *renderer) block(blk *Block) {
	r.line()
	if blk.Var != "" {
		r.b.WriteString(blk.Var + " as var(func: ")
	} else {
		r.b.WriteString(blk.Name + "(func: ")
	}
	r.fn(blk.Root)
	r.order(blk.Order, true)
	if blk.First > 0 {
		r.b.WriteString(", first: " + strconv.Itoa(blk.First))
	}
	if blk.Offset > 0 {
		r.b.WriteString(", offset: " + strconv.Itoa(blk.Offset))
	}
	r.b.WriteString(")")
	if blk.Filter != nil {
		r.b.WriteString(" @filter(")
		r.expr(blk.Filter)
		r.b.WriteString(")")
	}
	if blk.Cascade != nil {
		r.b.WriteString(" @cascade")
		if len(blk.Cascade) > 0 {
			r.b.WriteString("(")
			for i, p := range blk.Cascade {
				if i > 0 {
					r.b.WriteString(", ")
				}
				r.b.WriteString(predicate(p))
			}
			r.b.WriteString(")")
		}
	}
	if blk.Normalize {
		r.b.WriteString(" @normalize")
	}
	fields := blk.Fields
	if len(fields) == 0 && blk.Var == "" {
		fields = Select("uid")
	}
	r.selection(fields)
	r.b.WriteString("\n")
}

// order writes sort keys. A trailing "uid" key is the store's native tie
// break and is not rendered.
func (r *renderer) order(keys []Order, leadingComma bool) int {
	n := 0
	for _, o := range keys {
		if o.Predicate == "uid" {
			continue
		}
		if leadingComma || n > 0 {
			r.b.WriteString(", ")
		}
		if o.Desc {
			r.b.WriteString("orderdesc: ")
		} else {
			r.b.WriteString("orderasc: ")
		}
		r.b.WriteString(predicate(o.Predicate))
		n++
	}
	return n
}

func (r *renderer) selection(fields []*Field) {
	if len(fields) == 0 {
		return
	}
	r.b.WriteString(" {\n")
	r.indent++
	for _, f := range fields {
		r.field(f)
	}
	r.indent--
	r.line()
	r.b.WriteString("}")
}

func (r *renderer) field(f *Field) {
	r.line()
	if f.Var != "" {
		r.b.WriteString(f.Var + " as ")
	} else if f.Alias != "" {
		r.b.WriteString(f.Alias + ": ")
	}
	if f.Count {
		r.b.WriteString("count(" + predicate(f.Predicate) + ")")
		r.b.WriteString("\n")
		return
	}
	r.b.WriteString(predicate(f.Predicate))
	if f.First > 0 || hasRenderedOrder(f.Order) {
		r.b.WriteString(" (")
		n := r.order(f.Order, false)
		if f.First > 0 {
			if n > 0 {
				r.b.WriteString(", ")
			}
			r.b.WriteString("first: " + strconv.Itoa(f.First))
		}
		r.b.WriteString(")")
	}
	if f.Facets {
		r.b.WriteString(" @facets")
	}
	if f.Filter != nil {
		r.b.WriteString(" @filter(")
		r.expr(f.Filter)
		r.b.WriteString(")")
	}
	r.selection(f.Fields)
	r.b.WriteString("\n")
}

func hasRenderedOrder(keys []Order) bool {
	for _, o := range keys {
		if o.Predicate != "uid" {
			return true
		}
	}
	return false
}

func (r *renderer) fn(f Func) {
	r.b.WriteString(f.Name + "(")
	n := 0
	if f.Predicate != "" {
		r.b.WriteString(predicate(f.Predicate))
		n++
	}
	for _, a := range f.Args {
		if n > 0 {
			r.b.WriteString(", ")
		}
		r.arg(a)
		n++
	}
	r.b.WriteString(")")
}

func (r *renderer) arg(a Arg) {
	switch a.kind {
	case argValue:
		r.b.WriteString(a.val.literal())
	case argIdent:
		if ValidName(a.text) {
			r.b.WriteString(a.text)
		} else {
			r.b.WriteString(quote(a.text))
		}
	case argRegex:
		r.b.WriteString(a.text)
	case argVar, argParam:
		r.b.WriteString(a.text)
	}
}

func (r *renderer) expr(e Expr) {
	switch x := e.(type) {
	case Func:
		r.fn(x)
	case And:
		r.join(x, " AND ")
	case Or:
		r.join(x, " OR ")
	case Not:
		r.b.WriteString("NOT ")
		r.operand(x.X)
	}
}

func (r *renderer) join(xs []Expr, op string) {
	for i, x := range xs {
		if i > 0 {
			r.b.WriteString(op)
		}
		r.operand(x)
	}
}

func (r *renderer) operand(e Expr) {
	switch e.(type) {
	case Func, Not:
		r.expr(e)
		return
	}
	r.b.WriteString("(")
	r.expr(e)
	r.b.WriteString(")")
}
