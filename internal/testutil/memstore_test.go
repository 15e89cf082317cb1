package testutil_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scarson/leadpilot/internal/store"
	"github.com/scarson/leadpilot/internal/testutil"
)

func TestMemStore_ListJobs_KeysetOnCreatedAtAndID(t *testing.T) {
	t.Parallel()
	ms := testutil.NewMemStore()
	at := ms.Now()

	low := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	mid := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	high := uuid.MustParse("00000000-0000-0000-0000-000000000003")
	older := uuid.MustParse("ffffffff-0000-0000-0000-000000000000")

	// Inserted out of id order; all but one share created_at.
	for _, id := range []uuid.UUID{mid, high, low} {
		ms.Put(store.Job{ID: id, Type: "t", Status: store.JobPending, MaxAttempts: 3, CreatedAt: at, UpdatedAt: at})
	}
	ms.Put(store.Job{ID: older, Type: "t", Status: store.JobPending, MaxAttempts: 3,
		CreatedAt: at.Add(-time.Second), UpdatedAt: at.Add(-time.Second)})

	ctx := context.Background()
	all, err := ms.ListJobs(ctx, store.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, []uuid.UUID{high, mid, low, older},
		[]uuid.UUID{all[0].ID, all[1].ID, all[2].ID, all[3].ID},
		"created_at desc, then id desc")

	page, err := ms.ListJobs(ctx, store.JobFilter{BeforeCreatedAt: at, BeforeID: mid})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, low, page[0].ID, "same created_at, smaller id is after the cursor")
	assert.Equal(t, older, page[1].ID)

	page, err = ms.ListJobs(ctx, store.JobFilter{BeforeCreatedAt: at, BeforeID: mid, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, low, page[0].ID)
}
