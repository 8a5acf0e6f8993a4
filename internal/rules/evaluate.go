package rules

import (
	"fmt"
	"strings"

	"deskflow/internal/models"
)

// ConditionResult is one entry of the per-condition evaluation trace.
type ConditionResult struct {
	Condition models.Condition `json:"condition"`
	Result    bool             `json:"result"`
	// Anomaly is set when the condition could not be evaluated cleanly
	// (unknown operator, malformed list operand). The result is then false.
	Anomaly string `json:"anomaly,omitempty"`
}

// EvaluateCondition evaluates a single condition against the entity data.
// It never fails: a malformed condition evaluates to false with the anomaly
// recorded, so one bad condition cannot abort the rest of the ruleset.
func EvaluateCondition(cond models.Condition, data map[string]interface{}) ConditionResult {
	res := ConditionResult{Condition: cond}
	actual, present := Resolve(data, cond.Field)

	switch cond.Operator {
	case OpEquals:
		res.Result = present && toString(actual) == toString(cond.Value)
	case OpNotEquals:
		res.Result = !(present && toString(actual) == toString(cond.Value))
	case OpContains:
		res.Result = present && strings.Contains(toString(actual), toString(cond.Value))
	case OpNotContains:
		res.Result = !(present && strings.Contains(toString(actual), toString(cond.Value)))
	case OpStartsWith:
		res.Result = present && strings.HasPrefix(toString(actual), toString(cond.Value))
	case OpEndsWith:
		res.Result = present && strings.HasSuffix(toString(actual), toString(cond.Value))
	case OpGreaterThan:
		res.Result = compareNumeric(actual, cond.Value, present, func(a, b float64) bool { return a > b })
	case OpLessThan:
		res.Result = compareNumeric(actual, cond.Value, present, func(a, b float64) bool { return a < b })
	case OpIsEmpty:
		res.Result = !present || isEmpty(actual)
	case OpIsNotEmpty:
		res.Result = present && !isEmpty(actual)
	case OpInList, OpNotInList:
		list, ok := asList(cond.Value)
		if !ok {
			res.Anomaly = fmt.Sprintf("operator %s expects a list value, got %T", cond.Operator, cond.Value)
			return res
		}
		in := present && member(actual, list)
		if cond.Operator == OpInList {
			res.Result = in
		} else {
			res.Result = !in
		}
	default:
		res.Anomaly = fmt.Sprintf("unknown operator %q", cond.Operator)
	}
	return res
}

// compareNumeric applies cmp when both operands are numeric. A non-numeric
// operand makes the predicate false, never an error.
func compareNumeric(actual, expected interface{}, present bool, cmp func(a, b float64) bool) bool {
	if !present {
		return false
	}
	a, okA := toFloat64(actual)
	b, okB := toFloat64(expected)
	if !okA || !okB {
		return false
	}
	return cmp(a, b)
}

// EvaluateAll combines the ordered condition list into one verdict.
//
// Every condition is evaluated (the trace is always complete), then the
// results are folded left to right: the connector stored on condition[i]
// joins its result with condition[i+1]'s. A missing connector means AND.
// There is no grouping or precedence, just the fold. An empty list matches
// vacuously.
func EvaluateAll(conds []models.Condition, data map[string]interface{}) (bool, []ConditionResult) {
	if len(conds) == 0 {
		return true, nil
	}

	results := make([]ConditionResult, len(conds))
	for i, cond := range conds {
		results[i] = EvaluateCondition(cond, data)
	}

	verdict := results[0].Result
	for i := 1; i < len(results); i++ {
		if strings.EqualFold(conds[i-1].LogicalOperator, ConnectorOr) {
			verdict = verdict || results[i].Result
		} else {
			verdict = verdict && results[i].Result
		}
	}
	return verdict, results
}
