package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hupe1980/aegis/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "aegis.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	require.NoError(t, a.Migrate(context.Background()))
	return a
}

func TestArchive_PutGetList(t *testing.T) {
	ctx := context.Background()
	a := openTestArchive(t)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i, key := range []string{"a", "b", "c"} {
		require.NoError(t, a.Put(ctx, core.Record{
			Collection: "resolutions",
			Key:        key,
			Data:       core.Payload{"anomaly_id": key, "success_count": i},
			ArchivedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, a.Put(ctx, core.Record{Collection: "communications", Key: "x", Data: core.Payload{}}))

	rec, err := a.Get(ctx, "resolutions", "b")
	require.NoError(t, err)
	assert.Equal(t, "b", rec.Data.String("anomaly_id"))
	assert.Equal(t, 1, rec.Data.Int("success_count", -1))
	assert.True(t, rec.ArchivedAt.Equal(base.Add(time.Minute)))

	recs, err := a.List(ctx, "resolutions", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "c", recs[0].Key)
	assert.Equal(t, "b", recs[1].Key)

	all, err := a.List(ctx, "resolutions", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	n, err := a.Count(ctx, "resolutions")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestArchive_UpsertAndMissing(t *testing.T) {
	ctx := context.Background()
	a := openTestArchive(t)

	require.NoError(t, a.Put(ctx, core.Record{Collection: "c", Key: "k", Data: core.Payload{"v": 1}}))
	require.NoError(t, a.Put(ctx, core.Record{Collection: "c", Key: "k", Data: core.Payload{"v": 2}}))

	rec, err := a.Get(ctx, "c", "k")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Data.Int("v", 0))

	_, err = a.Get(ctx, "c", "missing")
	assert.ErrorIs(t, err, core.ErrRecordNotFound)
	assert.Error(t, a.Put(ctx, core.Record{Key: "k"}))
}
