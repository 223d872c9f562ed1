package rules

import (
	"fmt"
	"slices"
	"time"

	"github.com/liamcoop/witrules/internal/logger"
	"github.com/liamcoop/witrules/metadata"
)

// fieldChangeDepth bounds how far a field change propagates through affected fields
const fieldChangeDepth = 2

// Metadata resolves the constants rules refer to
type Metadata interface {
	ConstantByID(id int) (string, error)
	ConstantSet(rootID int, scope metadata.SetScope) (*metadata.ConstantSet, error)
}

// EngineConfig holds what an Engine needs besides its target
type EngineConfig struct {
	Cache    RuleCache
	Metadata Metadata

	// CurrentUser is the display name copied by current-user default rules
	CurrentUser string

	// Clock defaults to UTC wall time
	Clock func() time.Time
}

// Engine runs the rules of a work item type against one target.
// An Engine is not safe for concurrent use; it expects exclusive access to its target.
type Engine struct {
	target RuleTarget
	cache  RuleCache
	md     Metadata
	user   string
	clock  func() time.Time
}

// NewEngine creates an engine for target
func NewEngine(target RuleTarget, cfg EngineConfig) *Engine {
	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		target: target,
		cache:  cfg.Cache,
		md:     cfg.Metadata,
		user:   cfg.CurrentUser,
		clock:  clock,
	}
}

// Open runs the global rules and then the rules of the target's area
func (en *Engine) Open() error {
	isNew := en.target.ID() == 0
	logger.Trace("opening rule target", "workItemId", en.target.ID(), "isNew", isNew)

	if err := en.runOnOpen(isNew, 0); err != nil {
		return err
	}
	return en.runOnOpen(isNew, en.target.AreaID())
}

func (en *Engine) runOnOpen(isNew bool, areaID int) error {
	results, err := en.cache.Rules(areaID)
	if err != nil {
		return fmt.Errorf("failed to load rules for area %d: %w", areaID, err)
	}

	if err := en.preProcess(results.AffectedFieldIDs); err != nil {
		return err
	}
	if err := en.runDefaultRules(results.DefaultRules); err != nil {
		return err
	}
	if isNew {
		// new targets run their default rules twice
		if err := en.runDefaultRules(results.DefaultRules); err != nil {
			return err
		}
	}
	if err := en.runNonDefaultRules(results.NonDefaultRules); err != nil {
		return err
	}
	return en.postProcess(results.AffectedFieldIDs)
}

// FieldChanged reruns the rules affected by a user edit of fieldID and reports
// whether the changed field itself was among the affected fields
func (en *Engine) FieldChanged(fieldID int) (bool, error) {
	affected := make(map[int]struct{})
	if err := en.fieldChanged(fieldID, fieldChangeDepth, affected); err != nil {
		return false, err
	}
	if err := en.postProcess(sortedIDs(affected)); err != nil {
		return false, err
	}
	_, ok := affected[fieldID]
	return ok, nil
}

func (en *Engine) fieldChanged(fieldID, depth int, all map[int]struct{}) error {
	logger.Trace("field changed", "fieldId", fieldID, "workItemId", en.target.ID(), "depth", depth)

	global, err := en.cache.RulesForChangedField(0, fieldID)
	if err != nil {
		return fmt.Errorf("failed to load global rules for field %d: %w", fieldID, err)
	}
	area, err := en.cache.RulesForChangedField(en.target.AreaID(), fieldID)
	if err != nil {
		return fmt.Errorf("failed to load area rules for field %d: %w", fieldID, err)
	}

	level := make(map[int]struct{})
	for _, id := range global.AffectedFieldIDs {
		level[id] = struct{}{}
	}
	for _, id := range area.AffectedFieldIDs {
		level[id] = struct{}{}
	}
	for id := range level {
		all[id] = struct{}{}
	}
	levelIDs := sortedIDs(level)

	if err := en.preProcess(levelIDs); err != nil {
		return err
	}
	if err := en.runDefaultRules(global.DefaultRules); err != nil {
		return err
	}
	if err := en.runNonDefaultRules(global.NonDefaultRules); err != nil {
		return err
	}
	if err := en.runDefaultRules(area.DefaultRules); err != nil {
		return err
	}
	if err := en.runNonDefaultRules(area.NonDefaultRules); err != nil {
		return err
	}

	if depth > 0 {
		for _, id := range levelIDs {
			if err := en.fieldChanged(id, depth-1, all); err != nil {
				return err
			}
		}
	}
	return nil
}

// preProcess resets the rule-owned state of fields about to be re-evaluated
func (en *Engine) preProcess(fieldIDs []int) error {
	for _, id := range fieldIDs {
		f, err := en.field(id)
		if err != nil {
			return err
		}
		f.PickList().Reset()
		f.SetStatus(StatusValid)
		f.SetReadOnly(false)
	}
	return nil
}

func (en *Engine) postProcess(fieldIDs []int) error {
	logger.Trace("post processing fields", "fieldIds", fieldIDs)
	for _, id := range fieldIDs {
		f, err := en.field(id)
		if err != nil {
			return err
		}
		f.PostProcessAfterRuleRun()
	}
	return nil
}

func (en *Engine) runNonDefaultRules(rules []*Rule) error {
	for _, rule := range rules {
		ok, err := en.inScope(rule, nil)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := en.runNonDefaultRule(rule); err != nil {
			return err
		}
	}
	return nil
}

func (en *Engine) runDefaultRules(rules []*Rule) error {
	batch, err := en.stageDefaultRules(rules)
	if err != nil {
		return err
	}
	return en.applyBatch(batch)
}

// stageDefaultRules evaluates value-providing rules without touching the target,
// so that one rule's value cannot change whether a later rule in the batch applies
func (en *Engine) stageDefaultRules(rules []*Rule) (*valueBatch, error) {
	batch := newValueBatch()
	for _, rule := range rules {
		ok, err := en.inScope(rule, batch)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if err := en.stageDefaultRule(rule, batch); err != nil {
			return nil, err
		}
	}
	return batch, nil
}

func (en *Engine) stageDefaultRule(rule *Rule, batch *valueBatch) error {
	fieldID, constID := rule.ThenFldID, rule.ThenConstID
	if fieldID == WorkItemFormID {
		return nil
	}

	trace := func(source string, value any) {
		logger.Trace("staging default rule",
			"ruleId", rule.RuleID, "areaId", rule.AreaID, "fieldId", fieldID,
			"source", source, "value", value)
	}

	if !IsSpecialConstantID(constID) {
		value, err := en.md.ConstantByID(constID)
		if err != nil {
			return fmt.Errorf("default rule %d: %w", rule.RuleID, err)
		}
		trace("constant", value)
		batch.stage(fieldID, pendingValue{value: value})
		return nil
	}

	switch constID {
	case ConstCurrentUser:
		trace("ConstCurrentUser", en.user)
		batch.stage(fieldID, pendingValue{value: en.user})

	case ConstOldValueInOtherField:
		if rule.If2ConstID != ConstOldValueInOtherField {
			return unhandledState(rule, "default ConstOldValueInOtherField rule with If2ConstID=%d", rule.If2ConstID)
		}
		if rule.If2FldID == 0 {
			return unhandledState(rule, "default ConstOldValueInOtherField with If2FldID=%d", rule.If2FldID)
		}
		other, err := en.field(rule.If2FldID)
		if err != nil {
			return err
		}
		trace("ConstOldValueInOtherField", other.OriginalValue())
		batch.stage(fieldID, pendingValue{value: other.OriginalValue()})

	case ConstEmptyValue:
		trace("ConstEmptyValue", nil)
		batch.stage(fieldID, pendingValue{})

	case ConstServerCurrentUser:
		trace("ConstServerCurrentUser", nil)
		batch.stage(fieldID, pendingValue{computed: ServerComputedCurrentUser})

	case ConstServerDateTime:
		trace("ConstServerDateTime", nil)
		batch.stage(fieldID, pendingValue{computed: ServerComputedDateTime})

	case ConstServerRandomGuid:
		trace("ConstServerRandomGuid", nil)
		batch.stage(fieldID, pendingValue{computed: ServerComputedRandomGUID})

	case ConstUtcDateTime:
		now := en.clock()
		trace("ConstUtcDateTime", now)
		batch.stage(fieldID, pendingValue{value: now})

	default:
		return unhandledConst(constID, rule, "value providing rule ThenConstID")
	}
	return nil
}

func (en *Engine) applyBatch(batch *valueBatch) error {
	for _, id := range batch.order {
		f, err := en.field(id)
		if err != nil {
			return err
		}
		pv := batch.values[id]
		if pv.computed != ServerComputedNone {
			f.SetServerComputed(pv.computed)
		} else {
			f.SetValueFromRule(pv.value)
		}
	}
	return nil
}

func (en *Engine) runNonDefaultRule(rule *Rule) error {
	switch a := rule.Action.(type) {
	case DenyWrite:
		return en.runDenyWrite(rule, a)
	case Suggestion:
		return en.runSuggestion(rule, a)
	case HelpText:
		return en.runHelpText(rule, a)
	default:
		return nil
	}
}

func (en *Engine) runDenyWrite(rule *Rule, a DenyWrite) error {
	f, err := en.field(a.FieldID)
	if err != nil {
		return err
	}
	require := a.Polarity == Require
	effect := "no effect"

	if IsSpecialConstantID(a.ConstID) {
		switch a.ConstID {
		case ConstEmptyValue:
			empty := isEmpty(f)
			switch {
			case require && !empty:
				f.SetValueFromRule(nil)
				f.SetReadOnly(true)
				effect = "cleared value and set read-only"
			case require:
				f.SetReadOnly(true)
				effect = "set read-only"
			case empty:
				setInvalid(f, StatusInvalidEmpty)
				effect = "InvalidEmpty"
			}

		case ConstSameAsOldValue:
			if !require {
				return unhandledState(rule, "unless==thennot for denywrite ConstSameAsOldValue")
			}
			f.SetReadOnly(true)
			f.UnsetNewValue()
			effect = "unset new value and set read-only"

		case ConstWasEmptyOrSameAsOldValue:
			if !require {
				return unhandledState(rule, "unless==thennot for denywrite ConstWasEmptyOrSameAsOldValue")
			}
			if f.OriginalValue() != nil && !isSameAsOldValue(f) {
				setInvalid(f, StatusInvalidNotEmptyOrOldValue)
				effect = "InvalidNotEmptyOrOldValue"
			}

		case ConstServerDateTime:
			if isEmpty(f) {
				f.SetServerComputed(ServerComputedDateTime)
				effect = "set server computed date time"
			}

		case ConstValueInOtherField:
			if rule.If2ConstID != ConstValueInOtherField {
				return unhandledState(rule, "denywrite ConstValueInOtherField rule with If2ConstID=%d", rule.If2ConstID)
			}
			if rule.If2FldID == 0 {
				return unhandledState(rule, "denywrite ConstValueInOtherField with If2FldID=%d", rule.If2FldID)
			}
			other, err := en.field(rule.If2FldID)
			if err != nil {
				return err
			}
			if require {
				return unhandledState(rule, "unless!=thennot for denywrite ConstValueInOtherField")
			}
			if fieldValuesEqual(f.Value(), other.Value()) {
				setInvalid(f, StatusInvalidValueInOtherField)
				effect = fmt.Sprintf("InvalidValueInOtherField (%d)", rule.If2FldID)
			}

		case ConstCurrentUser, ConstOldValuePlusOne, ConstServerCurrentUser, ConstServerRandomGuid,
			ConstGreaterThanOldValue, ConstDeletedTreeLocation, ConstAdminOnlyTreeLocation,
			ConstNotGreaterThanServerTime:
			// enforced by the server

		default:
			return unhandledConst(a.ConstID, rule, "deny write rule ThenConstID")
		}
	} else {
		effect, err = en.runDenyWriteList(rule, a, f)
		if err != nil {
			return err
		}
	}

	logger.Trace("applied deny-write rule",
		"ruleId", rule.RuleID, "areaId", rule.AreaID, "fieldId", a.FieldID,
		"polarity", a.Polarity.String(), "effect", effect)
	return nil
}

// runDenyWriteList handles deny-write rules whose THEN constant names a value list
func (en *Engine) runDenyWriteList(rule *Rule, a DenyWrite, f RuleTargetField) (string, error) {
	set, err := en.md.ConstantSet(a.ConstID, a.Set)
	if err != nil {
		return "", fmt.Errorf("deny-write rule %d: %w", rule.RuleID, err)
	}
	require := a.Polarity == Require
	effect := ""

	if !a.Like {
		values := set.Values()
		if require {
			if a.ImplicitEmpty {
				values = append(values, implicitEmpty)
			}
			f.PickList().AddAllowedValues(values)
			effect = fmt.Sprintf("allowed values (%d)", set.Len())
		} else {
			f.PickList().AddProhibitedValues(values)
			effect = fmt.Sprintf("prohibited values (%d)", set.Len())
		}
	}

	switch {
	case a.ImplicitEmpty && f.Value() == nil:
		return effect + " (implicit empty)", nil

	case a.ImplicitUnchanged && isSameAsOldValue(f):
		return effect + " (implicit unchanged)", nil

	case a.Like:
		if !require {
			return "", unhandledState(rule, "pattern match unless=%t thennot=%t",
				rule.Flags1.Has(FlagUnless), rule.Flags1.Has(FlagThenNot))
		}
		matches, err := set.PatternMatch(f.Value())
		if err != nil {
			return "", fmt.Errorf("rule %d field %d: %w", rule.RuleID, a.FieldID, err)
		}
		if !matches {
			setInvalid(f, StatusInvalidFormat)
			return "InvalidFormat", nil
		}
		return effect + " (pattern matches)", nil

	default:
		s, ok := valueAsString(f.Value())
		inList := ok && set.Contains(s)
		if inList != require {
			setInvalid(f, StatusInvalidListValue)
			return effect + ", InvalidListValue", nil
		}
		return effect, nil
	}
}

func (en *Engine) runSuggestion(rule *Rule, a Suggestion) error {
	f, err := en.field(a.FieldID)
	if err != nil {
		return err
	}
	set, err := en.md.ConstantSet(a.ConstID, a.Set)
	if err != nil {
		return fmt.Errorf("suggestion rule %d: %w", rule.RuleID, err)
	}
	f.PickList().AddSuggestedValues(set.Values())

	logger.Trace("applied suggestion rule", "ruleId", rule.RuleID, "fieldId", a.FieldID, "values", set.Len())
	return nil
}

func (en *Engine) runHelpText(rule *Rule, a HelpText) error {
	text, err := en.md.ConstantByID(a.ConstID)
	if err != nil {
		return fmt.Errorf("help text rule %d: %w", rule.RuleID, err)
	}
	f, err := en.field(a.FieldID)
	if err != nil {
		return err
	}
	f.SetHelpText(text)

	logger.Trace("applied help text rule", "ruleId", rule.RuleID, "fieldId", a.FieldID)
	return nil
}

func (en *Engine) field(id int) (RuleTargetField, error) {
	f, ok := en.target.Field(id)
	if !ok {
		return nil, fmt.Errorf("field %d on work item %d: %w", id, en.target.ID(), ErrFieldNotFound)
	}
	return f, nil
}

// setInvalid records an invalid status; read-only fields stay valid
func setInvalid(f RuleTargetField, status FieldStatus) {
	if f.IsEditable() {
		f.SetStatus(status)
	}
}

func sortedIDs(set map[int]struct{}) []int {
	ids := make([]int, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
