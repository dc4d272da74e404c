package loader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adspend-etl/internal/model"
	"adspend-etl/internal/store"
)

var loadTime = time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)

func record(account string, clicks, impressions int64) model.TaggedRecord {
	return model.TaggedRecord{
		SpendRecord: model.SpendRecord{
			Date: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), Platform: model.PlatformMeta,
			Account: account, Campaign: "Prospecting", Country: model.CountryUS, Device: model.DeviceMobile,
			Spend: decimal.RequireFromString("12.34"), Clicks: clicks, Impressions: impressions, Conversions: 1,
		},
		LoadTimestamp:  loadTime,
		SourceFileName: "spend.csv",
		BatchID:        "b1",
	}
}

// schemaFailStore fails EnsureSchema and counts calls.
type schemaFailStore struct {
	*store.Memory
	calls int
}

func (s *schemaFailStore) EnsureSchema(context.Context) error {
	s.calls++
	return errors.New("permission denied for schema public")
}

func TestLoadBatchSucceeds(t *testing.T) {
	mem := store.NewMemory()
	res, err := New(mem).Load(context.Background(), []model.TaggedRecord{record("A", 1, 10), record("B", 2, 20)})
	require.NoError(t, err)
	assert.Equal(t, &Result{Inserted: 2}, res)
}

func TestLoadFallsBackPerRecord(t *testing.T) {
	mem := store.NewMemory()
	l := New(mem)
	ctx := context.Background()

	res, err := l.Load(ctx, []model.TaggedRecord{record("A", 1, 10), record("B", 50, 20), record("C", 3, 30), record("D", 99, 1)})
	require.NoError(t, err)
	assert.True(t, res.FellBack)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 2, res.Failed)
	require.Len(t, res.Errors, 2)
	assert.Contains(t, res.Errors[0], "Failed to insert record 2: ")
	assert.Contains(t, res.Errors[0], "raw_ads_spend_clicks_le_impressions")
	assert.Contains(t, res.Errors[1], "Failed to insert record 4: ")

	stats, err := l.GetTableStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalRecords, "batch failure leaves nothing behind before the fallback")
}

func TestLoadAllRecordsFail(t *testing.T) {
	res, err := New(store.NewMemory()).Load(context.Background(), []model.TaggedRecord{record("A", 5, 1)})
	require.NoError(t, err)
	assert.Zero(t, res.Inserted)
	assert.Equal(t, 1, res.Failed)
}

func TestLoadSchemaFailureIsFatal(t *testing.T) {
	s := &schemaFailStore{Memory: store.NewMemory()}
	res, err := New(s).Load(context.Background(), []model.TaggedRecord{record("A", 1, 10)})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, 1, s.calls)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestLoadEmpty(t *testing.T) {
	res, err := New(store.NewMemory()).Load(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, &Result{}, res)
}

func TestBatchOperations(t *testing.T) {
	l := New(store.NewMemory())
	ctx := context.Background()
	_, err := l.Load(ctx, []model.TaggedRecord{record("A", 1, 10), record("B", 0, 0)})
	require.NoError(t, err)

	exists, err := l.CheckBatchExists(ctx, "b1")
	require.NoError(t, err)
	assert.True(t, exists)

	info, err := l.GetBatchInfo(ctx, "b1")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, int64(2), info.RecordCount)
	assert.Equal(t, loadTime, info.FirstLoad)

	missing, err := l.GetBatchInfo(ctx, "other")
	require.NoError(t, err)
	assert.Nil(t, missing)

	quality, err := l.DataQuality(ctx)
	require.NoError(t, err)
	require.Len(t, quality, 1)
	assert.Equal(t, int64(2), quality[0].RecordCount)

	n, err := l.DeleteBatch(ctx, "other")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = l.DeleteBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	exists, err = l.CheckBatchExists(ctx, "b1")
	require.NoError(t, err)
	assert.False(t, exists)
}
