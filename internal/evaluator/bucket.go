package evaluator

import (
	"github.com/cespare/xxhash/v2"

	"github.com/OrlandoBitencourt/flagbridge/internal/domain"
)

// BucketingIDAttribute overrides the user id as the bucketing identity when set to a string
const BucketingIDAttribute = "$opt_bucketing_id"

// Bucket maps a bucketing id and entity id onto the traffic space [0, MaxTrafficValue)
func Bucket(bucketingID, entityID string) int {
	return int(xxhash.Sum64String(bucketingID+":"+entityID) % domain.MaxTrafficValue)
}

// Allocate returns the entity id whose range contains bucket, or "" when no range does
func Allocate(ranges []domain.TrafficRange, bucket int) string {
	for _, tr := range ranges {
		if bucket < tr.EndOfRange {
			return tr.EntityID
		}
	}
	return ""
}

// bucketingID returns the identity used for bucketing
func bucketingID(evalCtx domain.EvaluationContext) string {
	if v, ok := evalCtx.GetAttribute(BucketingIDAttribute); ok {
		if id, ok := v.(string); ok && id != "" {
			return id
		}
	}
	return evalCtx.UserID
}

// bucketInto assigns the user to a variation of exp, or nil when the bucket falls outside the allocation
func bucketInto(exp *domain.Experiment, evalCtx domain.EvaluationContext) *domain.Variation {
	bucket := Bucket(bucketingID(evalCtx), exp.ID)
	entityID := Allocate(exp.TrafficAllocation, bucket)
	if entityID == "" {
		return nil
	}

	variation, ok := exp.VariationByID(entityID)
	if !ok {
		return nil
	}
	return variation
}

// inGroupSlot reports whether a random-policy group gives the user's traffic to exp.
// Experiments outside a group, or in an overlapping group, always qualify.
func inGroupSlot(project *domain.Project, exp *domain.Experiment, evalCtx domain.EvaluationContext) bool {
	if exp.GroupID == "" {
		return true
	}
	group, ok := project.Groups[exp.GroupID]
	if !ok || group.Policy != domain.GroupPolicyRandom {
		return true
	}

	bucket := Bucket(bucketingID(evalCtx), group.ID)
	return Allocate(group.TrafficAllocation, bucket) == exp.ID
}
