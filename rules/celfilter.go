package rules

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// filterCostLimit prevents resource exhaustion from complex filter expressions
const filterCostLimit = 1000000

// RuleFilter is a compiled CEL predicate over rule rows.
// Safe for concurrent use.
type RuleFilter struct {
	expr string
	prog cel.Program
}

func newFilterEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("rule", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// CompileRuleFilter compiles a boolean CEL expression over the variable rule,
// e.g. `rule.areaId == 0 && "DenyWrite" in rule.flags`
func CompileRuleFilter(expr string) (*RuleFilter, error) {
	env, err := newFilterEnv()
	if err != nil {
		return nil, err
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}

	prog, err := env.Program(ast, cel.CostLimit(filterCostLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	return &RuleFilter{expr: expr, prog: prog}, nil
}

// String returns the source expression
func (f *RuleFilter) String() string {
	return f.expr
}

// Match evaluates the filter for one row. Non-boolean results are no match.
func (f *RuleFilter) Match(row *Row) (bool, error) {
	out, _, err := f.prog.Eval(map[string]any{"rule": filterFacts(row)})
	if err != nil {
		return false, fmt.Errorf("rule %d: %w", row.RuleID, err)
	}

	matched, ok := out.Value().(bool)
	return ok && matched, nil
}

// Filter returns the rows the filter matches, keeping their order
func (f *RuleFilter) Filter(rows []*Row) ([]*Row, error) {
	out := make([]*Row, 0, len(rows))
	for _, row := range rows {
		ok, err := f.Match(row)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func filterFacts(row *Row) map[string]any {
	flags := append(row.Flags1.Names(), row.Flags2.Names()...)
	if flags == nil {
		flags = []string{}
	}

	var scopeFields []int64
	for _, s := range row.Slots() {
		if s.ID != 0 {
			scopeFields = append(scopeFields, int64(s.ID))
		}
	}
	if scopeFields == nil {
		scopeFields = []int64{}
	}

	return map[string]any{
		"id":          int64(row.RuleID),
		"areaId":      int64(row.AreaID),
		"personId":    int64(row.PersonID),
		"kind":        decodeAction(*row).Kind(),
		"thenFldId":   int64(row.ThenFldID),
		"thenConstId": int64(row.ThenConstID),
		"ifFldId":     int64(row.IfFldID),
		"ifConstId":   int64(row.IfConstID),
		"if2FldId":    int64(row.If2FldID),
		"if2ConstId":  int64(row.If2ConstID),
		"flags":       flags,
		"scopeFields": scopeFields,
		"deleted":     row.Deleted,
	}
}
