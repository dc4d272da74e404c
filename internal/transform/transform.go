package transform

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"adspend-etl/internal/logging"
	"adspend-etl/internal/model"
	"adspend-etl/internal/validation"
)

// batchTimeLayout is the timestamp portion of generated batch ids.
const batchTimeLayout = "20060102_150405"

// Metadata is the provenance stamped on every record of one run.
type Metadata struct {
	BatchID        string    `json:"batch_id"`
	SourceFileName string    `json:"source_file_name"`
	SourceFilePath string    `json:"source_file_path"`
	LoadTimestamp  time.Time `json:"load_timestamp"`
}

// Transformer attaches one run's Metadata to validated records.
type Transformer struct {
	meta Metadata
}

// GenerateBatchID returns batch_<YYYYMMDD_HHMMSS>_<8 hex> for now.
func GenerateBatchID(now time.Time) string {
	return fmt.Sprintf("batch_%s_%s", now.Format(batchTimeLayout), uuid.NewString()[:8])
}

// New creates a Transformer. An empty batchID is generated from now, and now
// becomes the load timestamp shared by every record.
func New(batchID, sourcePath string, now time.Time) *Transformer {
	if batchID == "" {
		batchID = GenerateBatchID(now)
	}
	t := &Transformer{meta: Metadata{
		BatchID:        batchID,
		SourceFileName: filepath.Base(sourcePath),
		SourceFilePath: sourcePath,
		LoadTimestamp:  now,
	}}
	logging.Logf(logging.Info, "Initialized transformer for %s with batch id %s", t.meta.SourceFileName, batchID)
	return t
}

// Metadata returns the provenance applied by this transformer.
func (t *Transformer) Metadata() Metadata {
	return t.meta
}

// TransformOne tags a copy of rec and checks the result.
func (t *Transformer) TransformOne(rec model.SpendRecord) (model.TaggedRecord, error) {
	tagged := model.TaggedRecord{
		SpendRecord:    rec,
		LoadTimestamp:  t.meta.LoadTimestamp,
		SourceFileName: t.meta.SourceFileName,
		BatchID:        t.meta.BatchID,
	}
	if err := validation.Struct(&tagged); err != nil {
		return model.TaggedRecord{}, err
	}
	return tagged, nil
}

// Transform tags every record, preserving order. Any failure fails the whole batch.
func (t *Transformer) Transform(records []model.SpendRecord) ([]model.TaggedRecord, error) {
	logging.Logf(logging.Info, "Transforming %d records with metadata", len(records))
	out := make([]model.TaggedRecord, 0, len(records))
	for i, rec := range records {
		tagged, err := t.TransformOne(rec)
		if err != nil {
			logging.Logf(logging.Error, "Error transforming record %d of batch %s: %v", i+1, t.meta.BatchID, err)
			return nil, fmt.Errorf("record %d: %w", i+1, err)
		}
		out = append(out, tagged)
	}
	logging.Logf(logging.Debug, "Transformed %d records for batch %s", len(out), t.meta.BatchID)
	return out, nil
}
