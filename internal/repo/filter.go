package repo

import (
	"fmt"
	"strings"
)

// Field names a package column a Rule may test.
type Field string

const (
	FieldName Field = "name"
	FieldArch Field = "arch"
)

// Op is a comparison a Rule applies.
type Op string

const (
	OpEqual    Op = "="
	OpNotEqual Op = "!="
	OpGlob     Op = "GLOB"
	OpNotGlob  Op = "NOT GLOB"

	// OpNotIGlob is NOT GLOB with ASCII case folded on both sides, the
	// same folding SQLite applies to LIKE.
	OpNotIGlob Op = "NOT IGLOB"
)

var columns = map[Field]string{
	FieldName: "name",
	FieldArch: "arch",
}

var ops = map[Op]bool{
	OpEqual:    true,
	OpNotEqual: true,
	OpGlob:     true,
	OpNotGlob:  true,
	OpNotIGlob: true,
}

// Rule is one condition a package must satisfy to be considered at all.
type Rule struct {
	Field Field
	Op    Op
	Value string
}

// Predicate is a conjunction of rules. The zero value admits everything.
type Predicate []Rule

// Exclusions builds the predicate for ignore globs and excluded arches.
// Ignore globs match package names without regard to case.
func Exclusions(ignore, arches []string) Predicate {
	var p Predicate
	for _, a := range arches {
		p = append(p, Rule{Field: FieldArch, Op: OpNotEqual, Value: a})
	}
	for _, g := range ignore {
		p = append(p, Rule{Field: FieldName, Op: OpNotIGlob, Value: g})
	}
	return p
}

// Validate rejects unknown fields and operators.
func (p Predicate) Validate() error {
	for i, r := range p {
		if _, ok := columns[r.Field]; !ok {
			return fmt.Errorf("rule %d: unknown field %q", i, r.Field)
		}
		if !ops[r.Op] {
			return fmt.Errorf("rule %d: unknown operator %q", i, r.Op)
		}
	}
	return nil
}

// SQL renders the predicate as a parameterized WHERE fragment. Column
// names come from a fixed table; values are always bound parameters.
func (p Predicate) SQL() (string, []any, error) {
	if err := p.Validate(); err != nil {
		return "", nil, err
	}
	clauses := []string{"1=1"}
	args := make([]any, 0, len(p))
	for _, r := range p {
		col := columns[r.Field]
		if r.Op == OpNotIGlob {
			clauses = append(clauses, fmt.Sprintf("lower(%s) NOT GLOB lower(?)", col))
		} else {
			clauses = append(clauses, fmt.Sprintf("%s %s ?", col, r.Op))
		}
		args = append(args, r.Value)
	}
	return strings.Join(clauses, " AND "), args, nil
}
