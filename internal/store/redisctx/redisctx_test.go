package redisctx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kotonoha-app/kaiwa/internal/models"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewWithClient(client, zap.NewNop()), mr
}

func TestGetContextAbsent(t *testing.T) {
	s, _ := newTestStore(t)

	got, err := s.GetContext(context.Background(), "inst-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpsertAndGetContext(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	expires := time.Now().Add(30 * time.Minute)
	proposed := time.Date(2026, 2, 7, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertContext(ctx, &models.ConversationContext{
		InstallationID:   "inst-1",
		PendingType:      models.PendingDueTimeConfirm,
		CandidateTaskIDs: []string{"t1", "t2"},
		ProposedDueAt:    &proposed,
		ExpiresAt:        expires,
		Payload: models.ContextPayload{
			OriginalText: "明日までに資料を提出",
			Summary:      "資料を提出",
			Step:         "confirm_default_time",
		},
	}))

	got, err := s.GetContext(ctx, "inst-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.PendingDueTimeConfirm, got.PendingType)
	assert.Equal(t, []string{"t1", "t2"}, got.CandidateTaskIDs)
	require.NotNil(t, got.ProposedDueAt)
	assert.True(t, got.ProposedDueAt.Equal(proposed))
	assert.Equal(t, "confirm_default_time", got.Payload.Step)

	ttl := mr.TTL("kaiwa:context:inst-1")
	assert.Greater(t, ttl, 29*time.Minute)
	assert.LessOrEqual(t, ttl, 30*time.Minute)
}

func TestUpsertAlreadyExpiredClears(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertContext(ctx, &models.ConversationContext{
		InstallationID: "inst-1",
		PendingType:    models.PendingDueChoice,
		ExpiresAt:      time.Now().Add(30 * time.Minute),
	}))
	require.True(t, mr.Exists("kaiwa:context:inst-1"))

	require.NoError(t, s.UpsertContext(ctx, &models.ConversationContext{
		InstallationID: "inst-1",
		PendingType:    models.PendingDueChoice,
		ExpiresAt:      time.Now().Add(-time.Minute),
	}))
	assert.False(t, mr.Exists("kaiwa:context:inst-1"))
}

func TestContextGoneAfterKeyExpiry(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertContext(ctx, &models.ConversationContext{
		InstallationID: "inst-1",
		PendingType:    models.PendingDueChoice,
		ExpiresAt:      time.Now().Add(time.Minute),
	}))

	mr.FastForward(2 * time.Minute)

	got, err := s.GetContext(ctx, "inst-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCorruptContextIsDropped(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("kaiwa:context:inst-1", "{not json"))

	got, err := s.GetContext(ctx, "inst-1")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, mr.Exists("kaiwa:context:inst-1"))
}

func TestClearContextIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ClearContext(ctx, "inst-1"))

	require.NoError(t, s.UpsertContext(ctx, &models.ConversationContext{
		InstallationID: "inst-1",
		PendingType:    models.PendingDueChoice,
		ExpiresAt:      time.Now().Add(time.Minute),
	}))
	require.NoError(t, s.ClearContext(ctx, "inst-1"))

	got, err := s.GetContext(ctx, "inst-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}
