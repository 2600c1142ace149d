package datafile

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OrlandoBitencourt/flagbridge/internal/domain"
)

func TestParse_OptimizelyDatafile(t *testing.T) {
	data, err := os.ReadFile("testdata/optimizely_v4.json")
	require.NoError(t, err)

	project, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "17", project.Revision)
	assert.Equal(t, []string{"checkout_flow", "mobile_nav"}, project.FeatureKeys())
	assert.Len(t, project.Audiences, 5)
	assert.Len(t, project.Experiments, 3)

	// string-encoded tree
	pro := project.Audiences["20415611520"]
	require.NotNil(t, pro.Tree)
	assert.Empty(t, pro.Conditions)
	var leaves []*domain.ConditionTree
	require.NoError(t, pro.Tree.Walk(func(leaf *domain.ConditionTree) error {
		leaves = append(leaves, leaf)
		return nil
	}))
	require.Len(t, leaves, 1)
	assert.Equal(t, domain.Condition{Attribute: "plan", Operator: domain.OperatorEQ, Value: "pro"}, *leaves[0].Condition)

	// typed audience replaces its placeholder
	adults := project.Audiences["20406066925"]
	require.NotNil(t, adults.Tree)
	assert.Equal(t, domain.LogicAnd, adults.Tree.Logic)
	inner := adults.Tree.Children[0].Children[0].Children[0]
	assert.Equal(t, domain.Condition{Attribute: "age", Operator: domain.OperatorGTE, Value: json.Number("18")}, *inner.Condition)

	// third party dimensions cannot be evaluated locally
	beta := project.Audiences["20411223344"]
	require.Len(t, beta.Tree.Children, 2)
	assert.Equal(t, domain.OperatorCONTAINS, beta.Tree.Children[0].Condition.Operator)
	assert.Nil(t, beta.Tree.Children[1].Condition)
	assert.Empty(t, beta.Tree.Children[1].AudienceID)

	exp := project.Experiments["20419470283"]
	require.NotNil(t, exp.AudienceConditions)
	assert.Equal(t, domain.LogicOr, exp.AudienceConditions.Logic)
	assert.Equal(t, "20415611520", exp.AudienceConditions.Children[0].AudienceID)

	// an empty list places no restriction
	assert.Nil(t, project.Rollouts["20432093211"].Rules[1].AudienceConditions)

	group := project.Groups["19228"]
	assert.Equal(t, domain.GroupPolicyRandom, group.Policy)
	assert.Equal(t, "19228", project.Experiments["20430920002"].GroupID)
	assert.Empty(t, exp.GroupID)

	checkoutFlow := project.Features["checkout_flow"]
	config, ok := checkoutFlow.Variable("config")
	require.True(t, ok)
	assert.Equal(t, domain.VariableJSON, config.Type)

	treatment, ok := exp.VariationByID("20419470285")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"color": "green", "discount": "0.25"}, treatment.Variables)
}

func TestAudienceConditions(t *testing.T) {
	t.Run("flat list", func(t *testing.T) {
		flat, tree, err := audienceConditions(json.RawMessage(`[{"attribute":"plan","operator":"EQ","value":"pro"}]`))
		require.NoError(t, err)
		assert.Nil(t, tree)
		assert.Equal(t, []domain.Condition{{Attribute: "plan", Operator: domain.OperatorEQ, Value: "pro"}}, flat)
	})

	t.Run("implicit or", func(t *testing.T) {
		flat, tree, err := audienceConditions(json.RawMessage(`[{"type":"custom_attribute","name":"plan","value":"pro"}]`))
		require.NoError(t, err)
		assert.Nil(t, flat)
		require.NotNil(t, tree)
		assert.Equal(t, domain.LogicOr, tree.Logic)
		// a missing match type means exact
		assert.Equal(t, domain.OperatorEQ, tree.Children[0].Condition.Operator)
	})

	t.Run("match types", func(t *testing.T) {
		for match, op := range matchOperators {
			raw, err := json.Marshal(`["and", {"type":"custom_attribute","name":"a","match":"` + match + `","value":1}]`)
			require.NoError(t, err)

			_, tree, err := audienceConditions(raw)
			require.NoError(t, err)
			assert.Equal(t, op, tree.Children[0].Condition.Operator, match)
		}
	})

	t.Run("unsupported match", func(t *testing.T) {
		_, tree, err := audienceConditions(json.RawMessage(`["or", {"type":"custom_attribute","name":"v","match":"semver_eq","value":"1.0"}]`))
		require.NoError(t, err)
		assert.Nil(t, tree.Children[0].Condition)
	})

	t.Run("absent", func(t *testing.T) {
		for _, raw := range []string{``, `null`, `""`} {
			flat, tree, err := audienceConditions(json.RawMessage(raw))
			require.NoError(t, err)
			assert.Nil(t, flat)
			assert.Nil(t, tree)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		for _, raw := range []string{`"[\"and\""`, `["and", "20415611520"]`, `42`} {
			_, _, err := audienceConditions(json.RawMessage(raw))
			assert.Error(t, err, raw)
		}
	})
}

func TestExperimentAudienceConditions(t *testing.T) {
	exp, err := ExperimentToDomain(Experiment{
		ID:                 "e",
		Key:                "e",
		AudienceConditions: json.RawMessage(`["and", "a1", ["not", "a2"]]`),
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, exp.AudienceConditions)
	assert.Equal(t, domain.LogicAnd, exp.AudienceConditions.Logic)
	assert.Equal(t, "a1", exp.AudienceConditions.Children[0].AudienceID)
	assert.Equal(t, domain.LogicNot, exp.AudienceConditions.Children[1].Logic)

	_, err = ExperimentToDomain(Experiment{
		ID:                 "e",
		Key:                "e",
		AudienceConditions: json.RawMessage(`["or", {"type":"custom_attribute","name":"plan","value":"pro"}]`),
	}, nil)
	assert.Error(t, err)
}
