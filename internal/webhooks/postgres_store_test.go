package webhooks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/tiltcheck/internal/apperr"
	"github.com/mbd888/tiltcheck/internal/testutil"
)

func TestPostgresStore_CRUD(t *testing.T) {
	store := NewPostgresStore(testutil.Postgres(t))
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	sub := &Subscription{
		ID:        "wh_pg1",
		UserID:    "u1",
		URL:       "https://example.com/hook",
		Secret:    "secret",
		Events:    []EventType{EventAlertRaised, EventRiskFlagged},
		Active:    true,
		CreatedAt: now,
	}
	require.NoError(t, store.Create(ctx, sub))
	assert.ErrorIs(t, store.Create(ctx, sub), ErrDuplicate)
	require.NoError(t, store.Create(ctx, &Subscription{ID: "wh_pg2", UserID: "u1", URL: "https://example.com/2",
		Secret: "s", Events: []EventType{EventSessionEnded}, Active: true, CreatedAt: now.Add(time.Second)}))

	got, err := store.Get(ctx, "wh_pg1")
	require.NoError(t, err)
	assert.Equal(t, sub.Events, got.Events)
	assert.Nil(t, got.LastSuccess)
	assert.Empty(t, got.LastError)

	success := now.Add(time.Minute)
	got.LastSuccess = &success
	got.ConsecutiveFailures = 3
	got.LastError = "status 500"
	got.Events = []EventType{EventReportFiled}
	require.NoError(t, store.Update(ctx, got))

	got, err = store.Get(ctx, "wh_pg1")
	require.NoError(t, err)
	require.NotNil(t, got.LastSuccess)
	assert.Equal(t, 3, got.ConsecutiveFailures)
	assert.Equal(t, "status 500", got.LastError)
	assert.Equal(t, []EventType{EventReportFiled}, got.Events)

	list, err := store.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "wh_pg2", list[0].ID)

	require.NoError(t, store.Delete(ctx, "wh_pg1"))
	_, err = store.Get(ctx, "wh_pg1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "wh_pg1"), apperr.ErrNotFound)
}
