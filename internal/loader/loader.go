// Package loader persists tagged spend records into the raw table.
package loader

import (
	"context"
	"fmt"

	"adspend-etl/internal/logging"
	"adspend-etl/internal/model"
	"adspend-etl/internal/store"
)

// Result reports the outcome of one Load call.
type Result struct {
	Inserted int      `json:"inserted"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
	// FellBack is set when the batch insert failed and records were inserted one at a time.
	FellBack bool `json:"fell_back"`
}

// Loader writes records through a Store.
type Loader struct {
	store store.Store
}

// New creates a Loader over s.
func New(s store.Store) *Loader {
	return &Loader{store: s}
}

// Load ensures the schema, then inserts all records in one batch. When the batch
// fails it inserts records one at a time, once each, collecting a message per failure.
// An error is returned only when the schema cannot be ensured or ctx ends.
func (l *Loader) Load(ctx context.Context, records []model.TaggedRecord) (*Result, error) {
	if err := l.store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("loader: %w", err)
	}
	result := &Result{}
	if len(records) == 0 {
		logging.Logf(logging.Warning, "No records to load")
		return result, nil
	}

	logging.Logf(logging.Info, "Loading %d records into %s", len(records), store.RawTable)
	n, err := l.store.InsertRaw(ctx, records)
	if err == nil {
		result.Inserted = n
		logging.Logf(logging.Info, "Successfully inserted %d records", n)
		return result, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("loader: batch insert interrupted: %w", ctx.Err())
	}

	logging.Logf(logging.Warning, "Batch insert failed, falling back to individual inserts: %v", err)
	result.FellBack = true
	for i, rec := range records {
		if ctx.Err() != nil {
			return result, fmt.Errorf("loader: stopped after %d of %d records: %w", i, len(records), ctx.Err())
		}
		if err := l.store.InsertRawOne(ctx, rec); err != nil {
			result.Failed++
			msg := fmt.Sprintf("Failed to insert record %d: %v", i+1, err)
			result.Errors = append(result.Errors, msg)
			logging.Logf(logging.Error, "%s", msg)
			continue
		}
		result.Inserted++
	}
	logging.Logf(logging.Info, "Individual inserts complete: %d inserted, %d failed", result.Inserted, result.Failed)
	return result, nil
}

// CheckBatchExists reports whether any raw row carries batchID. The answer is
// advisory: a concurrent run can insert the same batch after the check.
func (l *Loader) CheckBatchExists(ctx context.Context, batchID string) (bool, error) {
	exists, err := l.store.BatchExists(ctx, batchID)
	if err != nil {
		return false, fmt.Errorf("loader: %w", err)
	}
	logging.Logf(logging.Debug, "Batch %s exists: %t", batchID, exists)
	return exists, nil
}

// GetBatchInfo returns batch statistics, or nil when the batch has no rows.
func (l *Loader) GetBatchInfo(ctx context.Context, batchID string) (*store.BatchInfo, error) {
	info, err := l.store.BatchInfo(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("loader: %w", err)
	}
	return info, nil
}

// DeleteBatch removes every row of batchID. Deleting an unknown batch returns 0.
func (l *Loader) DeleteBatch(ctx context.Context, batchID string) (int64, error) {
	n, err := l.store.DeleteBatch(ctx, batchID)
	if err != nil {
		return 0, fmt.Errorf("loader: %w", err)
	}
	if n == 0 {
		logging.Logf(logging.Warning, "No records found for batch %s", batchID)
	} else {
		logging.Logf(logging.Info, "Deleted %d records for batch %s", n, batchID)
	}
	return n, nil
}

// GetTableStats returns counts and ranges across all batches.
func (l *Loader) GetTableStats(ctx context.Context) (*store.TableStats, error) {
	stats, err := l.store.TableStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("loader: %w", err)
	}
	return stats, nil
}

// DataQuality returns the per-batch quality summary.
func (l *Loader) DataQuality(ctx context.Context) ([]store.QualityRow, error) {
	rows, err := l.store.DataQuality(ctx)
	if err != nil {
		return nil, fmt.Errorf("loader: %w", err)
	}
	return rows, nil
}
