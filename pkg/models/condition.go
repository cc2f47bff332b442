package models

// Operator is a predicate operator in the condition language.
type Operator string

const (
	OperatorEquals     Operator = "equals"
	OperatorNotEquals  Operator = "not_equals"
	OperatorGreater    Operator = "greater_than"
	OperatorLess       Operator = "less_than"
	OperatorContains   Operator = "contains"
	OperatorStartsWith Operator = "starts_with"
	OperatorIsEmpty    Operator = "is_empty"
	OperatorIsNotEmpty Operator = "is_not_empty"
	OperatorInList     Operator = "in_list"
)

// Condition is a single field/operator/value predicate. Conditions in a set
// combine with AND semantics.
type Condition struct {
	Field    string   `json:"field" validate:"required"`
	Operator Operator `json:"operator" validate:"required"`
	Value    any      `json:"value,omitempty"`
}

// FieldMap is a flat snapshot of entity fields, keyed by field name.
type FieldMap map[string]any

// Merge returns a new map holding m overlaid with each of others in turn.
func (m FieldMap) Merge(others ...map[string]any) FieldMap {
	merged := make(FieldMap, len(m))
	for k, v := range m {
		merged[k] = v
	}

	for _, other := range others {
		for k, v := range other {
			merged[k] = v
		}
	}

	return merged
}
