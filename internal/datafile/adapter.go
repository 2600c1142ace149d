package datafile

import (
	"fmt"

	"github.com/OrlandoBitencourt/flagbridge/internal/domain"
)

// ToDomain converts a decoded datafile into a project, resolving variable ids to keys
func ToDomain(df *Datafile) (*domain.Project, error) {
	p := &domain.Project{
		ProjectID:   df.ProjectID,
		AccountID:   df.AccountID,
		Revision:    df.Revision,
		Version:     df.Version,
		Attributes:  make(map[string]domain.Attribute, len(df.Attributes)),
		Audiences:   make(map[string]domain.Audience, len(df.Audiences)),
		Events:      make(map[string]domain.Event, len(df.Events)),
		Features:    make(map[string]domain.Feature, len(df.FeatureFlags)),
		Experiments: make(map[string]domain.Experiment, len(df.Experiments)),
		Rollouts:    make(map[string]domain.Rollout, len(df.Rollouts)),
		Groups:      make(map[string]domain.Group, len(df.Groups)),
	}

	for _, a := range df.Attributes {
		p.Attributes[a.Key] = domain.Attribute{ID: a.ID, Key: a.Key}
	}

	// typed audiences come second so they replace their string-encoded placeholders
	for _, list := range [][]Audience{df.Audiences, df.TypedAudiences} {
		for _, a := range list {
			audience, err := AudienceToDomain(a)
			if err != nil {
				return nil, err
			}
			p.Audiences[a.ID] = audience
		}
	}

	for _, e := range df.Events {
		p.Events[e.Key] = domain.Event{ID: e.ID, Key: e.Key, ExperimentIDs: e.ExperimentIDs}
	}

	// variable ids are scoped to the feature that owns the experiment or rollout
	variableKeys := make(map[string]map[string]string)
	for _, f := range df.FeatureFlags {
		feature := FeatureToDomain(f)
		p.Features[feature.Key] = feature
		p.FeatureOrder = append(p.FeatureOrder, feature.Key)

		ids := make(map[string]string, len(f.Variables))
		for _, v := range f.Variables {
			ids[v.ID] = v.Key
		}
		for _, expID := range f.ExperimentIDs {
			variableKeys[expID] = ids
		}
		if f.RolloutID != "" {
			variableKeys[f.RolloutID] = ids
		}
	}

	for _, e := range df.Experiments {
		exp, err := ExperimentToDomain(e, variableKeys[e.ID])
		if err != nil {
			return nil, err
		}
		p.Experiments[e.ID] = exp
	}

	for _, g := range df.Groups {
		group := domain.Group{
			ID:                g.ID,
			Policy:            domain.GroupPolicy(g.Policy),
			TrafficAllocation: trafficToDomain(g.TrafficAllocation),
		}
		p.Groups[g.ID] = group

		for _, e := range g.Experiments {
			exp, err := ExperimentToDomain(e, variableKeys[e.ID])
			if err != nil {
				return nil, err
			}
			exp.GroupID = g.ID
			p.Experiments[e.ID] = exp
		}
	}

	for _, r := range df.Rollouts {
		rollout := domain.Rollout{ID: r.ID, Rules: make([]domain.Experiment, 0, len(r.Experiments))}
		for _, rule := range r.Experiments {
			exp, err := ExperimentToDomain(rule, variableKeys[r.ID])
			if err != nil {
				return nil, err
			}
			rollout.Rules = append(rollout.Rules, exp)
		}
		p.Rollouts[r.ID] = rollout
	}

	return p, nil
}

// AudienceToDomain converts an audience in any of its condition encodings
func AudienceToDomain(a Audience) (domain.Audience, error) {
	conditions, tree, err := audienceConditions(a.Conditions)
	if err != nil {
		return domain.Audience{}, domain.NewValidationErrorWithCause(fmt.Sprintf("audience %s conditions", a.ID), err)
	}
	return domain.Audience{ID: a.ID, Name: a.Name, Conditions: conditions, Tree: tree}, nil
}

// FeatureToDomain converts a feature flag
func FeatureToDomain(f FeatureFlag) domain.Feature {
	variables := make([]domain.Variable, 0, len(f.Variables))
	for _, v := range f.Variables {
		kind := domain.VariableType(v.Type)
		// json variables are declared as strings with a json subtype
		if kind == domain.VariableString && v.SubType == string(domain.VariableJSON) {
			kind = domain.VariableJSON
		}
		variables = append(variables, domain.Variable{
			ID:           v.ID,
			Key:          v.Key,
			Type:         kind,
			DefaultValue: v.DefaultValue,
		})
	}

	return domain.Feature{
		ID:            f.ID,
		Key:           f.Key,
		ExperimentIDs: f.ExperimentIDs,
		RolloutID:     f.RolloutID,
		Variables:     variables,
	}
}

// ExperimentToDomain converts an experiment or rollout rule.
// variableKeys maps feature variable ids to keys; unknown ids are kept as-is so validation reports them.
func ExperimentToDomain(e Experiment, variableKeys map[string]string) (domain.Experiment, error) {
	conditions, err := conditionTree(e.AudienceConditions, true)
	if err != nil {
		return domain.Experiment{}, domain.NewValidationErrorWithCause(fmt.Sprintf("experiment %s audience conditions", e.Key), err)
	}

	variations := make([]domain.Variation, 0, len(e.Variations))
	for _, v := range e.Variations {
		variations = append(variations, VariationToDomain(v, variableKeys))
	}

	status := domain.ExperimentStatus(e.Status)
	if status == "" {
		status = domain.StatusRunning
	}

	return domain.Experiment{
		ID:                 e.ID,
		Key:                e.Key,
		LayerID:            e.LayerID,
		Status:             status,
		AudienceIDs:        e.AudienceIDs,
		AudienceConditions: conditions,
		TrafficAllocation:  trafficToDomain(e.TrafficAllocation),
		Variations:         variations,
	}, nil
}

func trafficToDomain(ranges []TrafficRange) []domain.TrafficRange {
	out := make([]domain.TrafficRange, 0, len(ranges))
	for _, tr := range ranges {
		out = append(out, domain.TrafficRange{EntityID: tr.EntityID, EndOfRange: tr.EndOfRange})
	}
	return out
}

// VariationToDomain converts a variation
func VariationToDomain(v Variation, variableKeys map[string]string) domain.Variation {
	out := domain.Variation{
		ID:             v.ID,
		Key:            v.Key,
		FeatureEnabled: v.FeatureEnabled,
	}

	if len(v.Variables) == 0 {
		return out
	}

	out.Variables = make(map[string]string, len(v.Variables))
	for _, usage := range v.Variables {
		key := usage.Key
		if key == "" {
			if resolved, ok := variableKeys[usage.ID]; ok {
				key = resolved
			} else {
				key = usage.ID
			}
		}
		out.Variables[key] = usage.Value
	}

	return out
}
