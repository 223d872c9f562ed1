package rules

import (
	"errors"
	"fmt"
)

var (
	// ErrRuleNotFound is returned by stores for unknown rule ids
	ErrRuleNotFound = errors.New("rule not found")

	// ErrFieldNotFound is returned when a rule references a field the target does not have
	ErrFieldNotFound = errors.New("field not found")
)

// UnhandledRuleStateError reports a flag combination the engine has no semantics for
type UnhandledRuleStateError struct {
	Rule    *Rule
	Message string
}

func (e *UnhandledRuleStateError) Error() string {
	return fmt.Sprintf("unhandled rule state in rule %d: %s", e.Rule.RuleID, e.Message)
}

// UnhandledSpecialConstantIDError reports a special constant used where it is not legal
type UnhandledSpecialConstantIDError struct {
	ConstID  int
	Rule     *Rule
	Position string
}

func (e *UnhandledSpecialConstantIDError) Error() string {
	return fmt.Sprintf("unhandled special constant %d in rule %d (%s)", e.ConstID, e.Rule.RuleID, e.Position)
}

func unhandledState(rule *Rule, format string, args ...any) error {
	return &UnhandledRuleStateError{Rule: rule, Message: fmt.Sprintf(format, args...)}
}

func unhandledConst(constID int, rule *Rule, position string) error {
	return &UnhandledSpecialConstantIDError{ConstID: constID, Rule: rule, Position: position}
}
