package datafile

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/OrlandoBitencourt/flagbridge/internal/domain"
)

// customAttribute is the only leaf condition type evaluated locally
const customAttribute = "custom_attribute"

// matchOperators maps leaf match types onto audience operators
var matchOperators = map[string]domain.Operator{
	"exact":     domain.OperatorEQ,
	"exists":    domain.OperatorEXISTS,
	"gt":        domain.OperatorGT,
	"ge":        domain.OperatorGTE,
	"lt":        domain.OperatorLT,
	"le":        domain.OperatorLTE,
	"substring": domain.OperatorCONTAINS,
}

// audienceConditions decodes the conditions of an audience into either the flat
// list form or a condition tree
func audienceConditions(raw json.RawMessage) ([]domain.Condition, *domain.ConditionTree, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil, nil
	}

	// a JSON string holds the encoded tree
	if raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, nil, err
		}
		raw = bytes.TrimSpace([]byte(encoded))
		if len(raw) == 0 {
			return nil, nil, nil
		}
	}

	if flat, ok := flatConditions(raw); ok {
		return flat, nil, nil
	}

	tree, err := conditionTree(raw, false)
	return nil, tree, err
}

// flatConditions decodes the list-of-objects form, where every object names an attribute and operator
func flatConditions(raw json.RawMessage) ([]domain.Condition, bool) {
	var list []Condition
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, false
	}

	var probe []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, false
	}
	for _, obj := range probe {
		if _, ok := obj["attribute"]; !ok {
			return nil, false
		}
		if _, ok := obj["operator"]; !ok {
			return nil, false
		}
	}

	out := make([]domain.Condition, 0, len(list))
	for _, c := range list {
		out = append(out, domain.Condition{
			Attribute: c.Attribute,
			Operator:  domain.Operator(c.Operator),
			Value:     c.Value,
		})
	}
	return out, true
}

// conditionTree decodes an and/or/not tree. With audienceRefs, string leaves are
// audience ids; otherwise leaves are condition objects.
func conditionTree(raw json.RawMessage, audienceRefs bool) (*domain.ConditionTree, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var node any
	if err := dec.Decode(&node); err != nil {
		return nil, err
	}

	// an empty list places no restriction
	if list, ok := node.([]any); ok && len(list) == 0 {
		return nil, nil
	}

	return buildTree(node, audienceRefs)
}

func buildTree(node any, audienceRefs bool) (*domain.ConditionTree, error) {
	switch n := node.(type) {
	case []any:
		tree := &domain.ConditionTree{Logic: domain.LogicOr}
		children := n
		if len(n) > 0 {
			if op, ok := n[0].(string); ok {
				switch domain.Logic(op) {
				case domain.LogicAnd, domain.LogicOr, domain.LogicNot:
					tree.Logic = domain.Logic(op)
					children = n[1:]
				}
			}
		}
		for _, child := range children {
			sub, err := buildTree(child, audienceRefs)
			if err != nil {
				return nil, err
			}
			tree.Children = append(tree.Children, sub)
		}
		return tree, nil

	case string:
		if !audienceRefs {
			return nil, fmt.Errorf("unexpected audience reference %q in conditions", n)
		}
		return &domain.ConditionTree{AudienceID: n}, nil

	case map[string]any:
		if audienceRefs {
			return nil, fmt.Errorf("unexpected condition object in audience conditions")
		}
		return leafCondition(n), nil

	default:
		return nil, fmt.Errorf("unexpected condition node of type %T", node)
	}
}

// leafCondition converts a condition object; types and match kinds that cannot be
// evaluated locally become unknown leaves
func leafCondition(obj map[string]any) *domain.ConditionTree {
	if kind, _ := obj["type"].(string); kind != customAttribute {
		return &domain.ConditionTree{}
	}

	name, _ := obj["name"].(string)
	match, _ := obj["match"].(string)
	if match == "" {
		match = "exact"
	}

	op, ok := matchOperators[match]
	if !ok || name == "" {
		return &domain.ConditionTree{}
	}

	return &domain.ConditionTree{Condition: &domain.Condition{
		Attribute: name,
		Operator:  op,
		Value:     obj["value"],
	}}
}
