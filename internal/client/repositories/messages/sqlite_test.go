package messages

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/client/cachetest"
	"github.com/dmitrijs2005/chatkeeper/internal/client/models"
	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scope = models.Scope{AccountID: "acc", OrganizationID: "org"}

func msg(id, conv string, at int64, origin models.MessageOrigin) models.Message {
	return models.Message{
		Scope:          scope,
		ID:             id,
		ConversationID: conv,
		UserID:         "u1",
		Content:        "cipher-" + id,
		Type:           "TEXT",
		Origin:         origin,
		CreatedAt:      time.UnixMilli(at).UTC(),
		UpdatedAt:      time.UnixMilli(at).UTC(),
	}
}

func TestUpsertMany_GetRoundTrip(t *testing.T) {
	r := NewSQLiteRepository(cachetest.Open(t))
	ctx := context.Background()

	root := "m0"
	in := msg("m1", "c1", 1_700_000_000_000, models.OriginUser)
	in.RootID = &root
	in.Important = true
	in.Reactions = []models.Reaction{{UserID: "u2", Emoji: "+1"}}
	require.NoError(t, r.UpsertMany(ctx, []models.Message{in}))

	got, err := r.Get(ctx, scope, "m1")
	require.NoError(t, err)
	assert.Equal(t, in, *got)

	_, err = r.Get(ctx, scope, "missing")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestUpsertMany_DefaultsOriginToUser(t *testing.T) {
	r := NewSQLiteRepository(cachetest.Open(t))
	ctx := context.Background()

	require.NoError(t, r.UpsertMany(ctx, []models.Message{msg("m1", "c1", 1000, "")}))

	got, err := r.Get(ctx, scope, "m1")
	require.NoError(t, err)
	assert.Equal(t, models.OriginUser, got.Origin)
}

func TestLatestUserMessage_IgnoresSystemMessages(t *testing.T) {
	r := NewSQLiteRepository(cachetest.Open(t))
	ctx := context.Background()

	require.NoError(t, r.UpsertMany(ctx, []models.Message{
		msg("m1", "c1", 1000, models.OriginUser),
		msg("m2", "c1", 2000, models.OriginUser),
		msg("m3", "c1", 9000, models.OriginSystem),
		msg("m4", "c2", 5000, models.OriginUser),
	}))

	latest, err := r.LatestUserMessage(ctx, scope, "c1")
	require.NoError(t, err)
	assert.Equal(t, "m2", latest.ID)

	_, err = r.LatestUserMessage(ctx, scope, "empty")
	require.ErrorIs(t, err, common.ErrorNotFound)

	_, err = r.LatestUserMessage(ctx, models.Scope{AccountID: "other"}, "c1")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestTombstone_KeepsRows(t *testing.T) {
	r := NewSQLiteRepository(cachetest.Open(t))
	ctx := context.Background()

	require.NoError(t, r.UpsertMany(ctx, []models.Message{
		msg("m1", "c1", 1000, models.OriginUser),
		msg("m2", "c1", 2000, models.OriginUser),
		msg("m3", "c1", 3000, models.OriginUser),
	}))

	at := time.UnixMilli(4000).UTC()
	require.NoError(t, r.Tombstone(ctx, scope, "c1", []string{"m1", "m3"}, at))
	require.NoError(t, r.Tombstone(ctx, scope, "c1", nil, at))

	all, err := r.ListByConversation(ctx, scope, "c1", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].Deleted())
	assert.Equal(t, at, *all[0].DeletedAt)
	assert.False(t, all[1].Deleted())
	assert.True(t, all[2].Deleted())
}

func TestListByConversation_Paging(t *testing.T) {
	r := NewSQLiteRepository(cachetest.Open(t))
	ctx := context.Background()

	var rows []models.Message
	for i := 1; i <= 6; i++ {
		rows = append(rows, msg(fmt.Sprintf("m%d", i), "c1", int64(i*1000), models.OriginUser))
	}
	require.NoError(t, r.UpsertMany(ctx, rows))

	page, err := r.ListByConversation(ctx, scope, "c1", 2, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, []string{"m3", "m4", "m5"}, []string{page[0].ID, page[1].ID, page[2].ID})
}

func TestDeleteAndTruncate(t *testing.T) {
	r := NewSQLiteRepository(cachetest.Open(t))
	ctx := context.Background()

	require.NoError(t, r.UpsertMany(ctx, []models.Message{
		msg("m1", "c1", 1000, models.OriginUser),
		msg("m2", "c2", 2000, models.OriginUser),
	}))

	require.NoError(t, r.Delete(ctx, scope, "m1"))
	_, err := r.Get(ctx, scope, "m1")
	require.ErrorIs(t, err, common.ErrorNotFound)

	require.NoError(t, r.Truncate(ctx, scope))
	_, err = r.Get(ctx, scope, "m2")
	require.ErrorIs(t, err, common.ErrorNotFound)
}
