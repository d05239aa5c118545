package service

import (
	"context"
	"testing"

	"chatflow/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type segmentFixture struct {
	env *testEnv

	vipIG    *models.Contact // instagram, tag vip, city=berlin
	plainIG  *models.Contact // instagram, no tags
	vipMSG   *models.Contact // messenger, tag vip
	optedOut *models.Contact // instagram, tag vip, unsubscribed
}

func setupSegmentFixture(t *testing.T) *segmentFixture {
	t.Helper()
	env := setupTestEnv(t)
	ctx := context.Background()

	msgChannel := &models.Channel{
		WorkspaceID:       env.workspaceID,
		Platform:          "messenger",
		ExternalAccountID: "acct-msg",
		Name:              "Acme Messenger",
		IsActive:          true,
	}
	var err error
	msgChannel.ID, err = env.db.CreateChannel(ctx, msgChannel)
	require.NoError(t, err)

	f := &segmentFixture{env: env}
	f.vipIG = env.seedContact(t, "ig-vip", "Vip Insta")
	f.plainIG = env.seedContact(t, "ig-plain", "Plain Insta")
	f.optedOut = env.seedContact(t, "ig-gone", "Gone Insta")

	f.vipMSG = &models.Contact{
		WorkspaceID:  env.workspaceID,
		Name:         "Vip Msgr",
		Username:     "msg-vip",
		IsSubscribed: true,
	}
	f.vipMSG.ID, err = env.db.CreateContactWithChannel(ctx, f.vipMSG, msgChannel.ID, "msg-vip")
	require.NoError(t, err)

	for _, id := range []int64{f.vipIG.ID, f.vipMSG.ID, f.optedOut.ID} {
		require.NoError(t, env.db.AddContactTag(ctx, id, "vip"))
	}
	require.NoError(t, env.db.SetContactField(ctx, f.vipIG.ID, "city", "berlin"))
	require.NoError(t, env.db.SetContactSubscribed(ctx, f.optedOut.ID, false))

	return f
}

func TestResolveNilFilterIsAllSubscribed(t *testing.T) {
	f := setupSegmentFixture(t)

	ids, err := NewSegmentResolver(f.env.db).Resolve(context.Background(), f.env.workspaceID, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{f.vipIG.ID, f.plainIG.ID, f.vipMSG.ID}, ids)
}

func TestResolveExcludesUnsubscribedEvenWhenRulesMatch(t *testing.T) {
	f := setupSegmentFixture(t)

	filter := &models.SegmentFilter{
		Combinator: models.CombinatorAnd,
		Groups: []models.SegmentGroup{{
			Combinator: models.CombinatorAnd,
			Rules:      []models.SegmentRule{{Field: models.SegmentFieldHasTag, Value: "vip"}},
		}},
	}
	ids, err := NewSegmentResolver(f.env.db).Resolve(context.Background(), f.env.workspaceID, filter)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{f.vipIG.ID, f.vipMSG.ID}, ids,
		"the opted-out vip never makes the audience")
}

func TestResolveAndGroupIntersectsRules(t *testing.T) {
	f := setupSegmentFixture(t)

	filter := &models.SegmentFilter{
		Combinator: models.CombinatorAnd,
		Groups: []models.SegmentGroup{{
			Combinator: models.CombinatorAnd,
			Rules: []models.SegmentRule{
				{Field: models.SegmentFieldHasTag, Value: "vip"},
				{Field: models.SegmentFieldPlatform, Value: "instagram"},
			},
		}},
	}
	ids, err := NewSegmentResolver(f.env.db).Resolve(context.Background(), f.env.workspaceID, filter)
	require.NoError(t, err)
	assert.Equal(t, []int64{f.vipIG.ID}, ids)
}

func TestResolveOrGroupUnionsRules(t *testing.T) {
	f := setupSegmentFixture(t)

	filter := &models.SegmentFilter{
		Combinator: models.CombinatorAnd,
		Groups: []models.SegmentGroup{{
			Combinator: models.CombinatorOr,
			Rules: []models.SegmentRule{
				{Field: models.SegmentFieldHasTag, Value: "vip"},
				{Field: models.SegmentFieldPlatform, Value: "instagram"},
			},
		}},
	}
	ids, err := NewSegmentResolver(f.env.db).Resolve(context.Background(), f.env.workspaceID, filter)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{f.vipIG.ID, f.plainIG.ID, f.vipMSG.ID}, ids)
}

func TestResolveTopLevelOrUnionsGroups(t *testing.T) {
	f := setupSegmentFixture(t)

	filter := &models.SegmentFilter{
		Combinator: models.CombinatorOr,
		Groups: []models.SegmentGroup{
			{
				Combinator: models.CombinatorAnd,
				Rules:      []models.SegmentRule{{Field: models.SegmentFieldPlatform, Value: "messenger"}},
			},
			{
				Combinator: models.CombinatorAnd,
				Rules:      []models.SegmentRule{{Field: "custom:city", Operator: "equals", Value: "berlin"}},
			},
		},
	}
	ids, err := NewSegmentResolver(f.env.db).Resolve(context.Background(), f.env.workspaceID, filter)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{f.vipMSG.ID, f.vipIG.ID}, ids)
}

func TestResolveNotHasTag(t *testing.T) {
	f := setupSegmentFixture(t)

	filter := &models.SegmentFilter{
		Combinator: models.CombinatorAnd,
		Groups: []models.SegmentGroup{{
			Combinator: models.CombinatorAnd,
			Rules:      []models.SegmentRule{{Field: models.SegmentFieldNotHasTag, Value: "vip"}},
		}},
	}
	ids, err := NewSegmentResolver(f.env.db).Resolve(context.Background(), f.env.workspaceID, filter)
	require.NoError(t, err)
	assert.Equal(t, []int64{f.plainIG.ID}, ids)
}

func TestResolveCustomFieldOperators(t *testing.T) {
	f := setupSegmentFixture(t)
	ctx := context.Background()
	require.NoError(t, f.env.db.SetContactField(ctx, f.plainIG.ID, "score", "42"))
	require.NoError(t, f.env.db.SetContactField(ctx, f.vipIG.ID, "score", "7"))

	resolver := NewSegmentResolver(f.env.db)

	rule := func(op, value string) *models.SegmentFilter {
		return &models.SegmentFilter{
			Combinator: models.CombinatorAnd,
			Groups: []models.SegmentGroup{{
				Combinator: models.CombinatorAnd,
				Rules:      []models.SegmentRule{{Field: "custom:score", Operator: op, Value: value}},
			}},
		}
	}

	ids, err := resolver.Resolve(ctx, f.env.workspaceID, rule("greater_than", "10"))
	require.NoError(t, err)
	assert.Equal(t, []int64{f.plainIG.ID}, ids)

	ids, err = resolver.Resolve(ctx, f.env.workspaceID, rule("exists", ""))
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{f.plainIG.ID, f.vipIG.ID}, ids)

	ids, err = resolver.Resolve(ctx, f.env.workspaceID, rule("equals", "7"))
	require.NoError(t, err)
	assert.Equal(t, []int64{f.vipIG.ID}, ids)
}

func TestResolveEmptyGroupMatchesNobody(t *testing.T) {
	f := setupSegmentFixture(t)

	filter := &models.SegmentFilter{
		Combinator: models.CombinatorAnd,
		Groups:     []models.SegmentGroup{{Combinator: models.CombinatorAnd}},
	}
	ids, err := NewSegmentResolver(f.env.db).Resolve(context.Background(), f.env.workspaceID, filter)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
