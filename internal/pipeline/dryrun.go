package pipeline

import (
	"context"
	"errors"
	"fmt"
	goio "io"
	"os"
	"path/filepath"
	"time"

	etlio "adspend-etl/internal/io"
	"adspend-etl/internal/logging"
	"adspend-etl/internal/model"
	"adspend-etl/internal/transform"
	"adspend-etl/internal/validation"
)

// sampleRows is how many input rows a dry run echoes.
const sampleRows = 3

// FileInfo describes an input file.
type FileInfo struct {
	Path          string    `json:"path"`
	Name          string    `json:"name"`
	SizeBytes     int64     `json:"size_bytes"`
	SizeMB        float64   `json:"size_mb"`
	Modified      time.Time `json:"modified"`
	EstimatedRows int       `json:"estimated_rows"`
}

// DryRunResult is everything a dry run learned about a file without loading it.
type DryRunResult struct {
	BatchID                string                   `json:"batch_id"`
	FileInfo               *FileInfo                `json:"file_info,omitempty"`
	SampleData             []map[string]interface{} `json:"sample_data,omitempty"`
	ValidationSummary      *validation.Summary      `json:"validation_summary,omitempty"`
	SampleTransformed      *model.TaggedRecord      `json:"sample_transformed_record,omitempty"`
	TransformationMetadata *transform.Metadata      `json:"transformation_metadata,omitempty"`
	ReadyForProcessing     bool                     `json:"ready_for_processing"`
	Error                  string                   `json:"error,omitempty"`
}

// inspectFile stats path and reads its first rows. EstimatedRows counts the data rows
// the reader returns, so it includes rows validation would later skip.
func inspectFile(path string, opts etlio.ReaderOptions) (*FileInfo, []map[string]interface{}, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, nil, err
	}
	info := &FileInfo{
		Path:      path,
		Name:      filepath.Base(path),
		SizeBytes: st.Size(),
		SizeMB:    round2(float64(st.Size()) / (1024 * 1024)),
		Modified:  st.ModTime(),
	}

	reader, err := etlio.OpenRowReader(path, opts)
	if err != nil {
		return info, nil, err
	}
	defer reader.Close()

	var sample []map[string]interface{}
	for {
		_, row, err := reader.Next()
		if errors.Is(err, goio.EOF) {
			break
		}
		var rowErr *etlio.RowError
		if errors.As(err, &rowErr) {
			info.EstimatedRows++
			continue
		}
		if err != nil {
			return info, sample, err
		}
		if len(sample) < sampleRows {
			sample = append(sample, row)
		}
		info.EstimatedRows++
	}
	return info, sample, nil
}

// DryRun validates the file at path and shows what a load would produce. Nothing
// is written to the store, and rejected rows are not written to the reject directory.
func (p *Pipeline) DryRun(ctx context.Context, path, batchID string) *DryRunResult {
	now := p.now()
	if batchID == "" {
		batchID = transform.GenerateBatchID(now)
	}
	out := &DryRunResult{BatchID: batchID}
	logging.Logf(logging.Info, "Starting dry run for %s", path)

	if err := checkPrerequisites(path); err != nil {
		out.Error = err.Error()
		return out
	}

	fv := validation.NewFileValidator(p.records, p.fileOpts...)
	info, sample, err := inspectFile(path, fv.ReaderOptions())
	out.FileInfo = info
	out.SampleData = sample
	if err != nil {
		out.Error = fmt.Sprintf("Dry run failed: %v", err)
		logging.Logf(logging.Error, "%s", out.Error)
		return out
	}

	vr := fv.ValidateFile(ctx, path)
	summary := vr.Summary()
	out.ValidationSummary = &summary

	tr := transform.New(batchID, path, now)
	meta := tr.Metadata()
	out.TransformationMetadata = &meta
	if len(vr.ValidRecords) > 0 {
		tagged, err := tr.TransformOne(vr.ValidRecords[0])
		if err != nil {
			out.Error = fmt.Sprintf("Dry run failed: %v", err)
			return out
		}
		out.SampleTransformed = &tagged
	}

	out.ReadyForProcessing = vr.IsValid() && len(vr.ValidRecords) > 0
	logging.Logf(logging.Info, "Dry run for %s complete: %s (ready: %t)", path, summary, out.ReadyForProcessing)
	return out
}
