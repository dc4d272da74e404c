package validation

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	etlio "adspend-etl/internal/io"
)

const spendHeader = "date,platform,account,campaign,country,device,spend,clicks,impressions,conversions\n"

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// tenRowFile has nine valid rows and one where clicks exceed impressions.
func tenRowFile(t *testing.T) string {
	var b strings.Builder
	b.WriteString(spendHeader)
	rows := []string{
		"2025-06-01,Meta,AcctA,Prospecting,US,Desktop,100.00,40,1000,5",
		"2025-06-01,Google,AcctB,Brand,CA,Mobile,50.25,30,800,2",
		"2025-06-02,Meta,AcctA,Retargeting,BR,Mobile,\"1,200.00\",90,\"2,000\",10",
		"2025-06-02,Google,AcctB,Brand,MX,Desktop,0,0,0,0",
		"2025-06-03,Meta,AcctC,Prospecting,US,Mobile,75.5,150,100,3",
		"06/03/2025,Google,AcctB,Search,US,Desktop,20,10,500,1",
		"2025-06-04,Meta,AcctA,Prospecting,ca,Desktop,33.33,20,400,3",
		"2025-06-04,Google,AcctD,Brand,US,Mobile,10,5,100,0",
		"2025-06-05,Meta,AcctA,Video,MX,Desktop,60,12,900,2",
		"2025-06-05,Google,AcctD,Search,BR,Mobile,44.4,25,700,4",
	}
	for _, r := range rows {
		b.WriteString(r + "\n")
	}
	return writeFile(t, "ten_rows.csv", b.String())
}

func TestValidateFileTenRowScenario(t *testing.T) {
	fv := NewFileValidator(NewRecordValidator(testRules()))
	result := fv.ValidateFile(context.Background(), tenRowFile(t))

	assert.Equal(t, 10, result.TotalProcessed)
	assert.Len(t, result.ValidRecords, 9)
	require.Len(t, result.InvalidRecords, 1)
	assert.InDelta(t, 90.0, result.SuccessRate(), 1e-9)
	assert.False(t, result.IsValid())

	invalid := result.InvalidRecords[0]
	assert.Equal(t, 6, invalid.Row)
	assert.Equal(t, "Row 6: Clicks (150) cannot exceed impressions (100)", invalid.Error)
	assert.Equal(t, "AcctC", invalid.Data["account"])

	summary := result.Summary()
	assert.Equal(t, 90.0, summary.SuccessRate)
	assert.Equal(t, 1, summary.ErrorCount)
	assert.Equal(t, []string{"Row 6: Clicks (150) cannot exceed impressions (100)"}, summary.FirstErrors)
	assert.Contains(t, summary.String(), "10 processed, 9 valid, 1 invalid")
}

func TestValidateFileFileProblems(t *testing.T) {
	fv := NewFileValidator(NewRecordValidator(testRules()))
	ctx := context.Background()

	t.Run("missing file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nope.csv")
		result := fv.ValidateFile(ctx, path)
		assert.Equal(t, []string{"File not found: " + path}, result.Errors)
		assert.Equal(t, "File not found: "+path, result.FileError())
		assert.Zero(t, result.SuccessRate())
	})

	t.Run("missing columns", func(t *testing.T) {
		path := writeFile(t, "partial.csv", "date;platform;account;campaign;spend;clicks\n2025-06-01;Meta;A;C;1;1\n")
		result := fv.ValidateFile(ctx, path)
		assert.Equal(t, []string{"Missing required columns: country, device, impressions, conversions"}, result.Errors)
		assert.Equal(t, result.Errors, result.FileErrors)
		assert.Zero(t, result.TotalProcessed)
	})

	t.Run("empty file", func(t *testing.T) {
		result := fv.ValidateFile(ctx, writeFile(t, "empty.csv", ""))
		require.Len(t, result.Errors, 1)
		assert.True(t, strings.HasPrefix(result.Errors[0], "Error reading file:"))
		assert.Equal(t, result.Errors[0], result.FileError())
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		result := fv.ValidateFile(cctx, tenRowFile(t))
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], "Validation cancelled")
		assert.Equal(t, result.Errors[0], result.FileError())
		assert.Zero(t, result.TotalProcessed)
	})
}

func TestValidateFileSkipsBlankAndFilteredRows(t *testing.T) {
	content := "extra|" + strings.ReplaceAll(spendHeader, ",", "|") +
		"x|2025-06-01|Meta|AcctA|P|US|Desktop|10|5|100|1\n" +
		"||||||||||\n" +
		"y|2025-06-01|Google|AcctB|P|US|Desktop|10|5|100|1\n" +
		"z|2025-06-02|Meta|AcctA|P|US|Tablet|10|5|100|1\n"
	path := writeFile(t, "piped.txt", content)

	filter, err := CompileExpression("platform == 'Meta'")
	require.NoError(t, err)
	rejectPath := filepath.Join(t.TempDir(), "rejects", "piped.csv")
	rejects, err := etlio.NewCSVErrorWriter(rejectPath, nil)
	require.NoError(t, err)

	fv := NewFileValidator(NewRecordValidator(testRules()), WithFilter(filter), WithRejectWriter(rejects))
	result := fv.ValidateFile(context.Background(), path)
	require.NoError(t, rejects.Close())

	assert.Equal(t, 2, result.TotalProcessed)
	assert.Equal(t, 1, result.Skipped)
	assert.Len(t, result.ValidRecords, 1)
	assert.Equal(t, []string{"Row 3: Empty row skipped", "Row 4: Skipped by filter"}, result.Warnings)
	assert.Equal(t, []string{"Row 5: Invalid device: Tablet. Must be one of: Desktop, Mobile"}, result.Errors)
	assert.InDelta(t, 50.0, result.SuccessRate(), 1e-9)

	data, err := os.ReadFile(rejectPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[0], etlio.ErrorColumn))
	assert.Contains(t, lines[1], "Invalid device: Tablet")
}

func TestValidateFileFilterErrorsRejectRow(t *testing.T) {
	path := writeFile(t, "spend.csv", spendHeader+"2025-06-01,Meta,AcctA,P,US,Desktop,10,5,100,1\n")
	filter, err := CompileExpression("spend * 2")
	require.NoError(t, err)

	result := NewFileValidator(NewRecordValidator(testRules()), WithFilter(filter)).ValidateFile(context.Background(), path)
	assert.Equal(t, 1, result.TotalProcessed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Row 2: Filter evaluation failed")
}

func TestValidateFileMalformedLineIsOneInvalidRow(t *testing.T) {
	content := spendHeader +
		"2025-06-01,Meta,AcctA,Prospecting,US,Desktop,100.00,40,1000,5\n" +
		"2025-06-01,Google,AcctB,Sum\"mer,CA,Mobile,50.25,30,800,2\n" +
		"2025-06-02,Meta,AcctA,Retargeting,BR,Mobile,12,9,200,1\n" +
		"2025-06-02,Google,AcctB,Brand,MX,Desktop,0,0,0,0\n" +
		"2025-06-03,Meta,AcctC,Video,US,Mobile,75.5,15,100,3\n"
	path := writeFile(t, "stray_quote.csv", content)
	rejectPath := filepath.Join(t.TempDir(), "rejects.csv")
	rejects, err := etlio.NewCSVErrorWriter(rejectPath, nil)
	require.NoError(t, err)

	result := NewFileValidator(NewRecordValidator(testRules()), WithRejectWriter(rejects)).ValidateFile(context.Background(), path)
	require.NoError(t, rejects.Close())

	assert.Empty(t, result.FileErrors)
	assert.Equal(t, 5, result.TotalProcessed)
	assert.Len(t, result.ValidRecords, 4)
	require.Len(t, result.InvalidRecords, 1)
	assert.Equal(t, 3, result.InvalidRecords[0].Row)
	assert.True(t, strings.HasPrefix(result.InvalidRecords[0].Error, "Row 3: Malformed row:"), result.InvalidRecords[0].Error)
	assert.Contains(t, result.InvalidRecords[0].Error, "bare \"")
	assert.InDelta(t, 80.0, result.SuccessRate(), 1e-9)
	assert.Equal(t, "AcctC", result.ValidRecords[3].Account)

	data, err := os.ReadFile(rejectPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "account,campaign,clicks,conversions,country,date,device,impressions,platform,spend,"+etlio.ErrorColumn, lines[0])
}
