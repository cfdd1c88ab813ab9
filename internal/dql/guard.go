package dql

import (
	"fmt"
	"strings"
)

// guardVar names the variable a guard binds its subject to.
const guardVar = "guard"

// takenVar prefixes the variables binding nodes that already hold a
// claimed value.
const takenVar = "taken"

// GuardBlock is the name of the block that reports whether the guard held.
const GuardBlock = "guard_check"

// TakenBlock is the name of the block listing nodes that hold a claimed
// value.
const TakenBlock = "guard_taken"

// Guard is an optimistic-concurrency precondition checked by the store
// inside the mutation's transaction. Subject, when set, must still match
// Filter; no stored node may hold any of the Unclaimed values.
type Guard struct {
	Subject   UID
	Filter    Expr
	Unclaimed []Claim
}

// Claim is a predicate value a mutation takes for itself.
type Claim struct {
	Predicate string
	Value     Value
}

// Query returns the upsert query that binds the subject when the filter
// still holds and the nodes holding claimed values, plus blocks reporting
// both.
func (g *Guard) Query() *Query {
	var blocks []*Block
	if g.Subject != "" {
		blocks = append(blocks,
			&Block{Var: guardVar, Root: UIDs(g.Subject), Filter: g.Filter},
			&Block{Name: GuardBlock, Root: UIDVars(guardVar), Fields: Select("uid")},
		)
	}
	vars := g.takenVars()
	for i, c := range g.Unclaimed {
		blocks = append(blocks, &Block{Var: vars[i], Root: Eq(c.Predicate, c.Value)})
	}
	if len(vars) > 0 {
		blocks = append(blocks, &Block{Name: TakenBlock, Root: UIDVars(vars...), Fields: Select("uid")})
	}
	return &Query{Blocks: blocks}
}

// Cond returns the mutation condition that applies the mutation only when
// the guard bound its subject and found no claimed value taken.
func (g *Guard) Cond() string {
	var conds []string
	if g.Subject != "" {
		conds = append(conds, "eq(len("+guardVar+"), 1)")
	}
	for _, v := range g.takenVars() {
		conds = append(conds, "eq(len("+v+"), 0)")
	}
	return "@if(" + strings.Join(conds, " AND ") + ")"
}

// Held reports whether the guard held, given the number of results the
// store returned for each reporting block.
func (g *Guard) Held(results func(block string) int) bool {
	if g.Subject != "" && results(GuardBlock) != 1 {
		return false
	}
	return len(g.Unclaimed) == 0 || results(TakenBlock) == 0
}

func (g *Guard) takenVars() []string {
	vars := make([]string, len(g.Unclaimed))
	for i := range g.Unclaimed {
		vars[i] = fmt.Sprintf("%s%d", takenVar, i+1)
	}
	return vars
}
