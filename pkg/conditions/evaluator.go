// Package conditions evaluates tenant-authored predicate sets against entity field maps.
//
// Evaluation never fails: a predicate that cannot be evaluated (unknown operator,
// operands of the wrong type) is false, and the reason is sent to a Diagnostics sink.
package conditions

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/dukex/crmflow/pkg/models"
)

// Evaluator evaluates condition sets with AND semantics.
type Evaluator struct {
	diagnostics Diagnostics
}

// NewEvaluator creates an evaluator reporting to diagnostics. A nil sink discards reports.
func NewEvaluator(diagnostics Diagnostics) *Evaluator {
	if diagnostics == nil {
		diagnostics = discard{}
	}

	return &Evaluator{diagnostics: diagnostics}
}

// Evaluate reports whether every condition holds against fields. An empty set is true.
func (e *Evaluator) Evaluate(ctx context.Context, conditions []models.Condition, fields models.FieldMap) bool {
	for _, condition := range conditions {
		if !e.evaluateOne(ctx, condition, fields) {
			return false
		}
	}

	return true
}

func (e *Evaluator) evaluateOne(ctx context.Context, condition models.Condition, fields models.FieldMap) bool {
	actual, present := fields[condition.Field]
	if !present {
		actual = nil
	}

	switch normalizeOperator(condition.Operator) {
	case models.OperatorIsEmpty:
		return isEmpty(actual)
	case models.OperatorIsNotEmpty:
		return !isEmpty(actual)
	case models.OperatorEquals:
		return actual != nil && equal(actual, condition.Value)
	case models.OperatorNotEquals:
		return actual == nil || !equal(actual, condition.Value)
	case models.OperatorGreater:
		return e.compare(ctx, condition, actual, func(a, b float64) bool { return a > b })
	case models.OperatorLess:
		return e.compare(ctx, condition, actual, func(a, b float64) bool { return a < b })
	case models.OperatorContains:
		return actual != nil && contains(actual, condition.Value)
	case models.OperatorStartsWith:
		return actual != nil && strings.HasPrefix(stringify(actual), stringify(condition.Value))
	case models.OperatorInList:
		return actual != nil && inList(actual, condition.Value)
	default:
		e.diagnostics.Report(ctx, Diagnostic{
			Kind:      MalformedOperator,
			Condition: condition,
			Detail:    fmt.Sprintf("unknown operator %q", condition.Operator),
		})

		return false
	}
}

func (e *Evaluator) compare(ctx context.Context, condition models.Condition, actual any, cmp func(a, b float64) bool) bool {
	if actual == nil {
		return false
	}

	left, leftOK := toFloat(actual)
	right, rightOK := toFloat(condition.Value)

	if !leftOK || !rightOK {
		e.diagnostics.Report(ctx, Diagnostic{
			Kind:      TypeMismatch,
			Condition: condition,
			Detail:    fmt.Sprintf("cannot compare %v with %v numerically", actual, condition.Value),
		})

		return false
	}

	return cmp(left, right)
}

// normalizeOperator accepts hyphenated and mixed-case spellings of operators.
func normalizeOperator(op models.Operator) models.Operator {
	return models.Operator(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(string(op))), "-", "_"))
}

func isEmpty(value any) bool {
	if value == nil {
		return true
	}

	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v) == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

func equal(actual, expected any) bool {
	if expected == nil {
		return false
	}

	// Two strings compare as text, so "02134" and "2134" stay distinct.
	if isNumber(actual) || isNumber(expected) {
		left, leftOK := toFloat(actual)
		right, rightOK := toFloat(expected)

		if leftOK && rightOK {
			return left == right
		}
	}

	return stringify(actual) == stringify(expected)
}

func isNumber(value any) bool {
	switch value.(type) {
	case float64, float32, int, int32, int64, uint, uint64, json.Number:
		return true
	default:
		return false
	}
}

func contains(actual, expected any) bool {
	if items, ok := asList(actual); ok {
		for _, item := range items {
			if equal(item, expected) {
				return true
			}
		}

		return false
	}

	return strings.Contains(stringify(actual), stringify(expected))
}

func inList(actual, list any) bool {
	items, ok := asList(list)
	if !ok {
		s, isString := list.(string)
		if !isString {
			return false
		}

		for _, part := range strings.Split(s, ",") {
			items = append(items, strings.TrimSpace(part))
		}
	}

	for _, item := range items {
		if equal(actual, item) {
			return true
		}
	}

	return false
}

func asList(value any) ([]any, bool) {
	if items, ok := value.([]any); ok {
		return items, true
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}

	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}

	return items, true
}

// toFloat reads value as a finite number.
func toFloat(value any) (float64, bool) {
	f, ok := parseFloat(value)

	return f, ok && !math.IsNaN(f) && !math.IsInf(f, 0)
}

func parseFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()

		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)

		return f, err == nil
	default:
		return 0, false
	}
}

func stringify(value any) string {
	if value == nil {
		return ""
	}

	if s, ok := value.(string); ok {
		return s
	}

	return fmt.Sprintf("%v", value)
}
