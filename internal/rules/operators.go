package rules

import (
	"fmt"
	"strconv"
	"strings"
)

// Condition operators. Negated operators are exact inverses of their
// positive counterparts, including for missing fields.
const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpContains    = "contains"
	OpNotContains = "not_contains"
	OpStartsWith  = "starts_with"
	OpEndsWith    = "ends_with"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
	OpIsEmpty     = "is_empty"
	OpIsNotEmpty  = "is_not_empty"
	OpInList      = "in_list"
	OpNotInList   = "not_in_list"
)

// Logical connectors between adjacent conditions.
const (
	ConnectorAnd = "AND"
	ConnectorOr  = "OR"
)

var operators = map[string]bool{
	OpEquals:      true,
	OpNotEquals:   true,
	OpContains:    true,
	OpNotContains: true,
	OpStartsWith:  true,
	OpEndsWith:    true,
	OpGreaterThan: true,
	OpLessThan:    true,
	OpIsEmpty:     true,
	OpIsNotEmpty:  true,
	OpInList:      true,
	OpNotInList:   true,
}

// IsValidOperator reports whether op is one of the supported operators.
func IsValidOperator(op string) bool { return operators[op] }

// ListOperator reports whether op expects a list comparison value.
func ListOperator(op string) bool { return op == OpInList || op == OpNotInList }

// toString renders a value the way the comparison operators see it. Both
// operands of equals/contains/prefix/suffix are compared through this, so
// string "5" and number 5 compare equal on purpose.
func toString(v interface{}) string {
	return fmt.Sprintf("%v", v)
}

// toFloat64 converts numeric types (including numeric strings) to float64.
// Handles float64/int/int64 from JSON unmarshaling and DB scans.
func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// asList normalizes the comparison value of in_list/not_in_list.
func asList(v interface{}) ([]interface{}, bool) {
	switch l := v.(type) {
	case []interface{}:
		return l, true
	case []string:
		out := make([]interface{}, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

// isEmpty reports whether a present value counts as empty: nil, empty string,
// or empty list. Missing fields are handled by the caller.
func isEmpty(v interface{}) bool {
	if v == nil {
		return true
	}
	switch t := v.(type) {
	case string:
		return t == ""
	case []interface{}:
		return len(t) == 0
	case []string:
		return len(t) == 0
	default:
		return false
	}
}

// member reports whether actual equals any element of list, using the same
// string-rendered equality as the equals operator.
func member(actual interface{}, list []interface{}) bool {
	a := toString(actual)
	for _, elem := range list {
		if a == toString(elem) {
			return true
		}
	}
	return false
}
