package domain

// Logic combines the children of a condition tree
type Logic string

const (
	LogicAnd Logic = "and"
	LogicOr  Logic = "or"
	LogicNot Logic = "not"
)

// ConditionTree is an and/or/not tree.
// A leaf holds either an attribute Condition or an AudienceID. A leaf with
// neither is a condition this SDK cannot evaluate and yields an unknown result.
type ConditionTree struct {
	Logic    Logic
	Children []*ConditionTree

	Condition  *Condition
	AudienceID string
}

// IsLeaf reports whether the node has no logic operator
func (t *ConditionTree) IsLeaf() bool {
	return t.Logic == ""
}

// Walk calls fn for every leaf; a nil tree has no leaves
func (t *ConditionTree) Walk(fn func(leaf *ConditionTree) error) error {
	if t == nil {
		return nil
	}
	if t.IsLeaf() {
		return fn(t)
	}
	for _, child := range t.Children {
		if err := child.Walk(fn); err != nil {
			return err
		}
	}
	return nil
}
