package evaluator

import (
	"github.com/OrlandoBitencourt/flagbridge/internal/domain"
)

// match is the three-valued result of a condition tree: a leaf that cannot be
// evaluated, or whose attribute is missing, is unknown rather than false
type match int

const (
	matchUnknown match = iota
	matchFalse
	matchTrue
)

func matchOf(b bool) match {
	if b {
		return matchTrue
	}
	return matchFalse
}

// audienceMatch reports whether the user qualifies for the experiment's audiences.
// AudienceConditions decides when present; otherwise any of AudienceIDs must match.
func (e *LocalEvaluator) audienceMatch(project *domain.Project, exp *domain.Experiment, evalCtx domain.EvaluationContext) (bool, error) {
	if exp.AudienceConditions != nil {
		m, err := evaluateTree(exp.AudienceConditions, func(leaf *domain.ConditionTree) (match, error) {
			audience, ok := project.Audiences[leaf.AudienceID]
			if !ok {
				return matchUnknown, nil
			}
			return e.evaluateAudience(audience, evalCtx)
		})
		return m == matchTrue, err
	}

	// No audiences = everyone
	if len(exp.AudienceIDs) == 0 {
		return true, nil
	}

	for _, id := range exp.AudienceIDs {
		audience, ok := project.Audiences[id]
		if !ok {
			continue
		}

		m, err := e.evaluateAudience(audience, evalCtx)
		if err != nil {
			return false, err
		}
		if m == matchTrue {
			return true, nil
		}
	}

	return false, nil
}

// evaluateAudience checks the audience's tree, or requires all of its flat conditions
func (e *LocalEvaluator) evaluateAudience(audience domain.Audience, evalCtx domain.EvaluationContext) (match, error) {
	if audience.Tree != nil {
		return evaluateTree(audience.Tree, func(leaf *domain.ConditionTree) (match, error) {
			if leaf.Condition == nil {
				return matchUnknown, nil
			}
			return e.evaluateLeaf(*leaf.Condition, evalCtx)
		})
	}

	for _, cond := range audience.Conditions {
		matched, err := e.evaluateCondition(cond, evalCtx)
		if err != nil {
			return matchFalse, err
		}
		if !matched {
			return matchFalse, nil
		}
	}

	return matchTrue, nil
}

// evaluateLeaf is evaluateCondition with a missing attribute reported as unknown
func (e *LocalEvaluator) evaluateLeaf(cond domain.Condition, evalCtx domain.EvaluationContext) (match, error) {
	if cond.Operator != domain.OperatorEXISTS {
		if v, ok := evalCtx.GetAttribute(cond.Attribute); !ok || v == nil {
			return matchUnknown, nil
		}
	}

	matched, err := e.evaluateCondition(cond, evalCtx)
	if err != nil {
		return matchUnknown, err
	}
	return matchOf(matched), nil
}

// evaluateTree applies and/or/not over three-valued leaves.
// and: any false is false, else any unknown is unknown.
// or: any true is true, else any unknown is unknown.
// not: negates its first child; unknown stays unknown.
func evaluateTree(tree *domain.ConditionTree, leaf func(*domain.ConditionTree) (match, error)) (match, error) {
	if tree.IsLeaf() {
		return leaf(tree)
	}

	switch tree.Logic {
	case domain.LogicNot:
		if len(tree.Children) == 0 {
			return matchUnknown, nil
		}
		m, err := evaluateTree(tree.Children[0], leaf)
		if err != nil {
			return matchUnknown, err
		}
		switch m {
		case matchTrue:
			return matchFalse, nil
		case matchFalse:
			return matchTrue, nil
		}
		return matchUnknown, nil

	case domain.LogicAnd:
		sawUnknown := false
		for _, child := range tree.Children {
			m, err := evaluateTree(child, leaf)
			if err != nil {
				return matchUnknown, err
			}
			if m == matchFalse {
				return matchFalse, nil
			}
			if m == matchUnknown {
				sawUnknown = true
			}
		}
		if sawUnknown {
			return matchUnknown, nil
		}
		return matchTrue, nil

	default:
		sawUnknown := false
		for _, child := range tree.Children {
			m, err := evaluateTree(child, leaf)
			if err != nil {
				return matchUnknown, err
			}
			if m == matchTrue {
				return matchTrue, nil
			}
			if m == matchUnknown {
				sawUnknown = true
			}
		}
		if sawUnknown {
			return matchUnknown, nil
		}
		return matchFalse, nil
	}
}
