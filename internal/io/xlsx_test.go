package io

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

// writeWorkbook builds a workbook whose sheets hold the given string rows.
func writeWorkbook(t *testing.T, sheets map[string][][]interface{}, active string) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	first := true
	for name, rows := range sheets {
		if first {
			if err := f.SetSheetName("Sheet1", name); err != nil {
				t.Fatalf("SetSheetName: %v", err)
			}
			first = false
		} else if _, err := f.NewSheet(name); err != nil {
			t.Fatalf("NewSheet(%s): %v", name, err)
		}
		for i, row := range rows {
			cell, _ := excelize.CoordinatesToCellName(1, i+1)
			r := row
			if err := f.SetSheetRow(name, cell, &r); err != nil {
				t.Fatalf("SetSheetRow: %v", err)
			}
		}
	}
	if active != "" {
		idx, err := f.GetSheetIndex(active)
		if err != nil {
			t.Fatalf("GetSheetIndex(%s): %v", active, err)
		}
		f.SetActiveSheet(idx)
	}

	path := filepath.Join(t.TempDir(), "spend.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	return path
}

func TestXLSXReaderReadsSheet(t *testing.T) {
	path := writeWorkbook(t, map[string][][]interface{}{
		"Spend": {
			{" date", "platform ", "spend"},
			{"2025-01-01", "Meta", "10.50"},
			{"2025-01-02", "Google"},
		},
	}, "")

	r, err := OpenXLSXReader(path, "Spend")
	if err != nil {
		t.Fatalf("OpenXLSXReader() unexpected error: %v", err)
	}
	defer r.Close()

	if got := strings.Join(r.Header(), ","); got != "date,platform,spend" {
		t.Errorf("Header() = %q", got)
	}
	rows := readAllRows(t, r)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Num != 2 || rows[1].Num != 3 {
		t.Errorf("row numbers = %d,%d, want 2,3", rows[0].Num, rows[1].Num)
	}
	compareRecordsDeep(t, []map[string]interface{}{rows[0].Row, rows[1].Row}, []map[string]interface{}{
		{"date": "2025-01-01", "platform": "Meta", "spend": "10.50"},
		{"date": "2025-01-02", "platform": "Google", "spend": ""},
	})

	if err := r.Close(); err != nil {
		t.Errorf("Close() unexpected error: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close() unexpected error: %v", err)
	}
}

func TestXLSXReaderSheetSelection(t *testing.T) {
	path := writeWorkbook(t, map[string][][]interface{}{
		"Data": {{"date"}, {"2025-01-01"}},
	}, "Data")

	r, err := OpenXLSXReader(path, "")
	if err != nil {
		t.Fatalf("OpenXLSXReader() with active sheet unexpected error: %v", err)
	}
	r.Close()

	if _, err := OpenXLSXReader(path, "Missing"); err == nil || !strings.Contains(err.Error(), "sheet 'Missing' not found") {
		t.Errorf("missing sheet error = %v", err)
	}
	if _, err := OpenXLSXReader(filepath.Join(t.TempDir(), "nope.xlsx"), ""); err == nil {
		t.Error("expected error for missing workbook")
	}
}

func TestXLSXReaderEmptySheet(t *testing.T) {
	path := writeWorkbook(t, map[string][][]interface{}{"Empty": {}}, "")
	if _, err := OpenXLSXReader(path, "Empty"); err == nil || !strings.Contains(err.Error(), "is empty") {
		t.Errorf("empty sheet error = %v, want 'is empty'", err)
	}
}

func TestXLSXWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "kpis.xlsx")
	w := NewXLSXWriter("", []string{"date", "platform", "roas"})
	records := []map[string]interface{}{
		{"date": "ALL", "platform": "Meta", "roas": "5.0000"},
		{"date": "2025-01-01", "platform": "Google", "roas": nil},
	}
	if err := w.Write(records, path); err != nil {
		t.Fatalf("Write() unexpected error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() unexpected error: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	if sheets := f.GetSheetList(); len(sheets) != 1 || sheets[0] != DefaultSheetName {
		t.Fatalf("sheets = %v, want [%s]", sheets, DefaultSheetName)
	}
	rows, err := f.GetRows(DefaultSheetName)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %v", rows)
	}
	if strings.Join(rows[0], ",") != "date,platform,roas" {
		t.Errorf("header = %v", rows[0])
	}
	if strings.Join(rows[1], ",") != "ALL,Meta,5.0000" {
		t.Errorf("row 1 = %v", rows[1])
	}
	if rows[2][1] != "Google" {
		t.Errorf("row 2 = %v", rows[2])
	}
}
