package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"chatflow/internal/database"
	"chatflow/internal/models"
)

// SegmentResolver evaluates audience filter trees into contact id sets.
// Each rule is resolved independently; combinators fold the sets.
type SegmentResolver struct {
	db *database.Database
}

func NewSegmentResolver(db *database.Database) *SegmentResolver {
	return &SegmentResolver{db: db}
}

// Resolve returns the contact ids matching the filter, in ascending order.
// A nil filter (or one with no groups) means every subscribed contact.
// Whatever the filter selects, the audience never includes unsubscribed
// contacts.
func (r *SegmentResolver) Resolve(ctx context.Context, workspaceID int64, filter *models.SegmentFilter) ([]int64, error) {
	subscribed, err := r.db.ListSubscribedContactIDs(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load base audience: %w", err)
	}
	base := toSet(subscribed)

	if filter == nil || len(filter.Groups) == 0 {
		return sortedIDs(base), nil
	}

	var result map[int64]struct{}
	for i, group := range filter.Groups {
		groupSet, err := r.resolveGroup(ctx, workspaceID, group)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			result = groupSet
			continue
		}
		if strings.EqualFold(filter.Combinator, models.CombinatorOr) {
			result = union(result, groupSet)
		} else {
			result = intersect(result, groupSet)
		}
	}

	return sortedIDs(intersect(result, base)), nil
}

func (r *SegmentResolver) resolveGroup(ctx context.Context, workspaceID int64, group models.SegmentGroup) (map[int64]struct{}, error) {
	if len(group.Rules) == 0 {
		return map[int64]struct{}{}, nil
	}

	var result map[int64]struct{}
	for i, rule := range group.Rules {
		ruleSet, err := r.resolveRule(ctx, workspaceID, rule)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			result = ruleSet
			continue
		}
		if strings.EqualFold(group.Combinator, models.CombinatorOr) {
			result = union(result, ruleSet)
		} else {
			result = intersect(result, ruleSet)
		}
	}
	return result, nil
}

func (r *SegmentResolver) resolveRule(ctx context.Context, workspaceID int64, rule models.SegmentRule) (map[int64]struct{}, error) {
	switch {
	case rule.Field == models.SegmentFieldHasTag:
		ids, err := r.db.ContactIDsWithTag(ctx, workspaceID, rule.Value)
		if err != nil {
			return nil, err
		}
		return toSet(ids), nil

	case rule.Field == models.SegmentFieldNotHasTag:
		all, err := r.db.ListContactsWithFields(ctx, workspaceID)
		if err != nil {
			return nil, err
		}
		tagged, err := r.db.ContactIDsWithTag(ctx, workspaceID, rule.Value)
		if err != nil {
			return nil, err
		}
		taggedSet := toSet(tagged)
		result := map[int64]struct{}{}
		for _, c := range all {
			if _, ok := taggedSet[c.ID]; !ok {
				result[c.ID] = struct{}{}
			}
		}
		return result, nil

	case rule.Field == models.SegmentFieldPlatform:
		ids, err := r.db.ContactIDsOnPlatform(ctx, workspaceID, rule.Value)
		if err != nil {
			return nil, err
		}
		return toSet(ids), nil

	case rule.Field == models.SegmentFieldIsSubscribed:
		want := strings.EqualFold(rule.Value, "true")
		ids, err := r.db.ContactIDsBySubscription(ctx, workspaceID, want)
		if err != nil {
			return nil, err
		}
		return toSet(ids), nil

	case rule.Field == models.SegmentFieldLastInteraction:
		after := rule.Operator == "after" || rule.Operator == "greater_than"
		ids, err := r.db.ContactIDsByInteraction(ctx, workspaceID, after, rule.Value)
		if err != nil {
			return nil, err
		}
		return toSet(ids), nil

	case strings.HasPrefix(rule.Field, models.SegmentFieldCustomPrefix):
		field := strings.TrimPrefix(rule.Field, models.SegmentFieldCustomPrefix)
		return r.resolveCustomField(ctx, workspaceID, field, rule.Operator, rule.Value)

	default:
		return nil, fmt.Errorf("unknown segment rule field %q", rule.Field)
	}
}

// resolveCustomField evaluates custom-field rules in memory; field values
// live in a JSON column and are not queryable with SQL predicates.
func (r *SegmentResolver) resolveCustomField(ctx context.Context, workspaceID int64, field, operator, value string) (map[int64]struct{}, error) {
	contacts, err := r.db.ListContactsWithFields(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	result := map[int64]struct{}{}
	for _, c := range contacts {
		fieldValue, exists := c.CustomFields[field]
		if matchFieldRule(fieldValue, exists, operator, value) {
			result[c.ID] = struct{}{}
		}
	}
	return result, nil
}

func matchFieldRule(fieldValue string, exists bool, operator, value string) bool {
	switch operator {
	case "equals":
		return exists && strings.EqualFold(fieldValue, value)
	case "not_equals":
		return !exists || !strings.EqualFold(fieldValue, value)
	case "contains":
		return exists && strings.Contains(strings.ToLower(fieldValue), strings.ToLower(value))
	case "exists":
		return exists && fieldValue != ""
	case "greater_than", "less_than":
		if !exists {
			return false
		}
		a, errA := strconv.ParseFloat(strings.TrimSpace(fieldValue), 64)
		b, errB := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if errA != nil || errB != nil {
			return false
		}
		if operator == "greater_than" {
			return a > b
		}
		return a < b
	default:
		return false
	}
}

func toSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func intersect(a, b map[int64]struct{}) map[int64]struct{} {
	if len(b) < len(a) {
		a, b = b, a
	}
	result := map[int64]struct{}{}
	for id := range a {
		if _, ok := b[id]; ok {
			result[id] = struct{}{}
		}
	}
	return result
}

func union(a, b map[int64]struct{}) map[int64]struct{} {
	result := make(map[int64]struct{}, len(a)+len(b))
	for id := range a {
		result[id] = struct{}{}
	}
	for id := range b {
		result[id] = struct{}{}
	}
	return result
}

func sortedIDs(set map[int64]struct{}) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
