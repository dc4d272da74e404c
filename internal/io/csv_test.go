package io

import (
	"encoding/csv"
	"errors"
	goio "io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSniffDelimiter(t *testing.T) {
	testCases := []struct {
		name   string
		sample string
		want   rune
	}{
		{name: "comma", sample: "date,platform,spend\n2025-01-01,Meta,10\n", want: ','},
		{name: "semicolon", sample: "date;platform;spend\n2025-01-01;Meta;1,5\n", want: ';'},
		{name: "tab", sample: "date\tplatform\tspend\n2025-01-01\tMeta\t10\n", want: '\t'},
		{name: "pipe", sample: "date|platform|spend\n2025-01-01|Meta|10\n", want: '|'},
		{name: "quoted commas ignored", sample: "date;campaign;spend\n2025-01-01;\"a,b,c\";10\n", want: ';'},
		{name: "thousands separators in values", sample: "date,platform,spend\n2025-01-01,Meta,\"1,200.50\"\n", want: ','},
		{name: "header only", sample: "date;platform;spend", want: ';'},
		{name: "empty", sample: "", want: ','},
		{name: "no candidates", sample: "date\n2025-01-01\n", want: ','},
		{name: "bom stripped", sample: "\uFEFFdate|spend\n2025-01-01|3\n", want: '|'},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SniffDelimiter([]byte(tc.sample)); got != tc.want {
				t.Errorf("SniffDelimiter() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestCSVReaderStreamsRows(t *testing.T) {
	content := "\uFEFF date ;platform; spend \n2025-01-01;Meta;10\n\n;;\n2025-01-02;Google\n2025-01-03;Meta;7;extra\n"
	path := createTempFile(t, content, "spend_*.csv")

	r, err := OpenCSVReader(path, "")
	if err != nil {
		t.Fatalf("OpenCSVReader() unexpected error: %v", err)
	}
	defer r.Close()

	if r.Delimiter != ';' {
		t.Errorf("Delimiter = %q, want ';'", r.Delimiter)
	}
	if got := strings.Join(r.Header(), "|"); got != "date|platform|spend" {
		t.Errorf("Header() = %q, want date|platform|spend", got)
	}

	rows := readAllRows(t, r)
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d: %+v", len(rows), rows)
	}
	wantNums := []int{2, 3, 4, 5}
	for i, row := range rows {
		if row.Num != wantNums[i] {
			t.Errorf("row %d number = %d, want %d", i, row.Num, wantNums[i])
		}
	}
	compareRecordsDeep(t, []map[string]interface{}{rows[0].Row, rows[1].Row, rows[2].Row, rows[3].Row}, []map[string]interface{}{
		{"date": "2025-01-01", "platform": "Meta", "spend": "10"},
		{"date": "", "platform": "", "spend": ""},
		{"date": "2025-01-02", "platform": "Google", "spend": ""},
		{"date": "2025-01-03", "platform": "Meta", "spend": "7"},
	})
	if !IsBlankRow(rows[1].Row) || IsBlankRow(rows[0].Row) {
		t.Errorf("IsBlankRow misclassified rows")
	}
}

func TestCSVReaderForcedDelimiter(t *testing.T) {
	path := createTempFile(t, "a|b\n1|2\n", "forced_*.csv")
	r, err := OpenCSVReader(path, ",")
	if err != nil {
		t.Fatalf("OpenCSVReader() unexpected error: %v", err)
	}
	defer r.Close()
	if got := r.Header(); len(got) != 1 || got[0] != "a|b" {
		t.Errorf("Header() = %v, want single column 'a|b'", got)
	}

	if _, err := OpenCSVReader(path, "::"); err == nil {
		t.Error("expected error for multi-character delimiter")
	}
}

func TestCSVReaderErrors(t *testing.T) {
	if _, err := OpenCSVReader(filepath.Join(t.TempDir(), "missing.csv"), ""); err == nil || !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file error = %v, want os.ErrNotExist", err)
	}

	empty := createTempFile(t, "", "empty_*.csv")
	if _, err := OpenCSVReader(empty, ""); err == nil || !strings.Contains(err.Error(), "is empty") {
		t.Errorf("empty file error = %v, want 'is empty'", err)
	}

	bad := createTempFile(t, "a,b\n1,\"unterminated\n", "bad_*.csv")
	r, err := OpenCSVReader(bad, "")
	if err != nil {
		t.Fatalf("OpenCSVReader() unexpected error: %v", err)
	}
	defer r.Close()
	n, _, err := r.Next()
	if err == nil || !strings.Contains(err.Error(), "parse error") {
		t.Errorf("Next() error = %v, want parse error", err)
	}
	if n != 2 {
		t.Errorf("row number on parse error = %d, want 2", n)
	}
}

func TestCSVReaderContinuesAfterMalformedRow(t *testing.T) {
	path := createTempFile(t, "id,name,qty\n1,alpha,3\n2,be\"ta,4\n3,gamma,5\n", "stray_quote_*.csv")
	r, err := OpenCSVReader(path, "")
	if err != nil {
		t.Fatalf("OpenCSVReader() unexpected error: %v", err)
	}
	defer r.Close()

	if n, row, err := r.Next(); err != nil || n != 2 || row["name"] != "alpha" {
		t.Fatalf("first Next() = %d, %v, %v", n, row, err)
	}

	n, row, err := r.Next()
	var rowErr *RowError
	if !errors.As(err, &rowErr) {
		t.Fatalf("second Next() error = %v, want *RowError", err)
	}
	if n != 3 || rowErr.Row != 3 {
		t.Errorf("malformed row number = %d (error row %d), want 3", n, rowErr.Row)
	}
	if !strings.Contains(err.Error(), "bare \"") {
		t.Errorf("malformed row error = %v, want bare quote", err)
	}
	if len(row) != 3 || row["id"] != "" {
		t.Errorf("malformed row data = %v, want every header blank", row)
	}

	if n, row, err := r.Next(); err != nil || n != 4 || row["name"] != "gamma" {
		t.Errorf("third Next() = %d, %v, %v; want row 4 gamma", n, row, err)
	}
	if _, _, err := r.Next(); !errors.Is(err, goio.EOF) {
		t.Errorf("final Next() error = %v, want EOF", err)
	}
}

func TestCSVWriterColumnOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "kpis.csv")
	w, err := NewCSVWriter(",", []string{"date", "platform", "cac"})
	if err != nil {
		t.Fatalf("NewCSVWriter() unexpected error: %v", err)
	}
	if err := w.Write([]map[string]interface{}{
		{"platform": "Meta", "date": "2025-01-01", "cac": "20.0000", "ignored": 1},
	}, path); err != nil {
		t.Fatalf("Write() unexpected error: %v", err)
	}
	if err := w.Write([]map[string]interface{}{{"platform": "Google", "date": "ALL"}}, path); err != nil {
		t.Fatalf("second Write() unexpected error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() unexpected error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() should be a no-op, got %v", err)
	}

	got := readCSVFile(t, path)
	want := [][]string{{"date", "platform", "cac"}, {"2025-01-01", "Meta", "20.0000"}, {"ALL", "Google", ""}}
	if strings.Join(flatten(got), ",") != strings.Join(flatten(want), ",") {
		t.Errorf("file rows = %v, want %v", got, want)
	}
}

func TestCSVErrorWriterAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rejects", "batch.csv")

	for round := 0; round < 2; round++ {
		ew, err := NewCSVErrorWriter(path, []string{"date", "spend"})
		if err != nil {
			t.Fatalf("NewCSVErrorWriter() unexpected error: %v", err)
		}
		if err := ew.Write(map[string]interface{}{"date": "bad", "spend": "1"}, errors.New("Row 2: Unable to parse date")); err != nil {
			t.Fatalf("Write() unexpected error: %v", err)
		}
		if ew.Count() != 1 {
			t.Errorf("Count() = %d, want 1", ew.Count())
		}
		if err := ew.Close(); err != nil {
			t.Fatalf("Close() unexpected error: %v", err)
		}
		if err := ew.Write(map[string]interface{}{}, nil); err == nil {
			t.Error("Write() after Close() should fail")
		}
	}

	got := readCSVFile(t, path)
	if len(got) != 3 {
		t.Fatalf("expected header + 2 rows, got %v", got)
	}
	if strings.Join(got[0], ",") != "date,spend,"+ErrorColumn {
		t.Errorf("header = %v", got[0])
	}
	if got[2][2] != "Row 2: Unable to parse date" {
		t.Errorf("error column = %q", got[2][2])
	}
}

func readCSVFile(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return rows
}

func flatten(rows [][]string) []string {
	var out []string
	for _, r := range rows {
		out = append(out, strings.Join(r, "|"))
	}
	return out
}
