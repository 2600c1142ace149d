package events

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OrlandoBitencourt/flagbridge/internal/datafile"
	"github.com/OrlandoBitencourt/flagbridge/internal/domain"
)

func loadProject(t *testing.T) *domain.Project {
	t.Helper()

	data, err := os.ReadFile("../datafile/testdata/project.json")
	require.NoError(t, err)

	project, err := datafile.Parse(data)
	require.NoError(t, err)
	return project
}

func TestNewImpression(t *testing.T) {
	project := loadProject(t)
	user := domain.NewEvaluationContext("u1").WithAttribute("plan", "pro")

	result := &domain.EvaluationResult{
		FlagKey:      "checkout_v2",
		Enabled:      true,
		ExperimentID: "e_checkout",
		RuleKey:      "checkout_test",
		VariationID:  "v_treatment",
		VariationKey: "treatment",
		Source:       domain.SourceFeatureTest,
	}

	event := NewImpression(project, user, result)

	assert.Equal(t, KindImpression, event.Kind)
	assert.NotEmpty(t, event.UUID)
	assert.Equal(t, "1001", event.ProjectID)
	assert.Equal(t, "42", event.Revision)
	assert.Equal(t, "u1", event.UserID)
	assert.Equal(t, "pro", event.Attributes["plan"])
	require.NotNil(t, event.Impression)
	assert.Equal(t, "checkout_v2", event.Impression.FlagKey)
	assert.Equal(t, "feature-test", event.Impression.RuleType)
	assert.Equal(t, "treatment", event.Impression.VariationKey)
	assert.True(t, event.Impression.Enabled)
	assert.Nil(t, event.Conversion)
}

func TestNewConversion(t *testing.T) {
	project := loadProject(t)
	user := domain.NewEvaluationContext("u1")

	t.Run("extracts revenue and value", func(t *testing.T) {
		event, err := NewConversion(project, user, "purchase", map[string]interface{}{
			"revenue": float64(4200),
			"value":   42,
			"sku":     "abc",
		})
		require.NoError(t, err)

		require.NotNil(t, event.Conversion)
		assert.Equal(t, KindConversion, event.Kind)
		assert.Equal(t, "purchase", event.Conversion.EventKey)
		assert.ElementsMatch(t, []string{"e_checkout", "e_pricing"}, event.Conversion.ExperimentIDs)
		require.NotNil(t, event.Conversion.Revenue)
		assert.Equal(t, int64(4200), *event.Conversion.Revenue)
		require.NotNil(t, event.Conversion.Value)
		assert.Equal(t, 42.0, *event.Conversion.Value)
		assert.Equal(t, "abc", event.Conversion.Tags["sku"])
	})

	t.Run("fractional revenue is not lifted", func(t *testing.T) {
		event, err := NewConversion(project, user, "purchase", map[string]interface{}{"revenue": 1.5})
		require.NoError(t, err)
		assert.Nil(t, event.Conversion.Revenue)
		assert.Nil(t, event.Conversion.Value)
	})

	t.Run("empty tags", func(t *testing.T) {
		event, err := NewConversion(project, user, "signup", map[string]interface{}{})
		require.NoError(t, err)
		assert.Equal(t, "signup", event.Conversion.EventKey)
	})

	t.Run("unknown event", func(t *testing.T) {
		_, err := NewConversion(project, user, "nope", nil)
		require.Error(t, err)
		assert.True(t, domain.IsNotFound(err))
	})
}
