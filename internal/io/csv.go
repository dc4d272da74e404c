package io

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	goio "io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"adspend-etl/internal/logging"
)

// sniffSize is how much of a file is inspected to detect its delimiter.
const sniffSize = 1024

// candidateDelimiters are tried by SniffDelimiter, in preference order on ties.
var candidateDelimiters = []rune{',', ';', '\t', '|'}

// ErrorColumn is the extra column appended to rejected-row files.
const ErrorColumn = "etl_error_message"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// SniffDelimiter guesses the field delimiter from a sample of delimited text.
// A candidate wins when it appears the same non-zero number of times (outside
// quotes) on every complete line of the sample; among those, the highest count
// wins. Without a consistent candidate, the most frequent one on the first line
// is used, and ',' is the final fallback.
func SniffDelimiter(sample []byte) rune {
	sample = bytes.TrimPrefix(sample, utf8BOM)
	lines := strings.Split(strings.ReplaceAll(string(sample), "\r\n", "\n"), "\n")
	// The last line of a truncated sample may be partial.
	if len(sample) >= sniffSize && len(lines) > 1 {
		lines = lines[:len(lines)-1]
	}
	var nonEmpty []string
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			nonEmpty = append(nonEmpty, l)
		}
	}
	if len(nonEmpty) == 0 {
		return ','
	}

	best, bestCount := rune(0), 0
	for _, c := range candidateDelimiters {
		count := countOutsideQuotes(nonEmpty[0], c)
		if count == 0 {
			continue
		}
		consistent := true
		for _, l := range nonEmpty[1:] {
			if countOutsideQuotes(l, c) != count {
				consistent = false
				break
			}
		}
		if consistent && count > bestCount {
			best, bestCount = c, count
		}
	}
	if best != 0 {
		return best
	}

	for _, c := range candidateDelimiters {
		if count := countOutsideQuotes(nonEmpty[0], c); count > bestCount {
			best, bestCount = c, count
		}
	}
	if best != 0 {
		return best
	}
	return ','
}

func countOutsideQuotes(line string, delim rune) int {
	n := 0
	inQuotes := false
	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == delim && !inQuotes:
			n++
		}
	}
	return n
}

// CSVReader streams rows from a delimited text file.
type CSVReader struct {
	Delimiter rune // Field delimiter in use (sniffed or configured).

	path    string
	file    *os.File
	reader  *csv.Reader
	headers []string
	rowNum  int
}

// OpenCSVReader opens path, detects its delimiter (unless one is given), and reads the header row.
func OpenCSVReader(path, delimiter string) (*CSVReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("CSVReader failed to open file '%s': %w", path, err)
	}

	br := bufio.NewReaderSize(f, 64*1024)
	var delim rune
	if delimiter != "" {
		if utf8.RuneCountInString(delimiter) != 1 {
			f.Close()
			return nil, fmt.Errorf("invalid delimiter '%s': must be a single character", delimiter)
		}
		delim = []rune(delimiter)[0]
	} else {
		sample, err := br.Peek(sniffSize)
		if err != nil && !errors.Is(err, goio.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
			f.Close()
			return nil, fmt.Errorf("CSVReader failed to sample '%s': %w", path, err)
		}
		delim = SniffDelimiter(sample)
		logging.Logf(logging.Debug, "CSVReader detected delimiter %q for %s", delim, path)
	}

	// Drop a UTF-8 byte order mark so it does not end up in the first header.
	if bom, _ := br.Peek(len(utf8BOM)); bytes.Equal(bom, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	reader := csv.NewReader(br)
	reader.Comma = delim
	reader.FieldsPerRecord = -1 // Row length problems surface as missing fields during validation.
	reader.ReuseRecord = false

	cr := &CSVReader{Delimiter: delim, path: path, file: f, reader: reader, rowNum: 1}

	header, err := reader.Read()
	if err != nil {
		f.Close()
		if errors.Is(err, goio.EOF) {
			return nil, fmt.Errorf("CSVReader: file '%s' is empty", path)
		}
		return nil, wrapParseError(path, err)
	}
	cr.headers = normalizeHeaders(header, path)
	return cr, nil
}

// Header returns the normalized header names.
func (cr *CSVReader) Header() []string {
	return cr.headers
}

// Next reads the next record. Blank lines are skipped by encoding/csv and do not consume a row number.
// A line that cannot be parsed is returned as a *RowError with every column set to "".
func (cr *CSVReader) Next() (int, map[string]interface{}, error) {
	fields, err := cr.reader.Read()
	if err != nil {
		if errors.Is(err, goio.EOF) {
			return 0, nil, goio.EOF
		}
		var parseErr *csv.ParseError
		if !errors.As(err, &parseErr) {
			return 0, nil, wrapParseError(cr.path, err)
		}
		cr.rowNum++
		return cr.rowNum, rowMap(cr.headers, nil), &RowError{Row: cr.rowNum, Err: wrapParseError(cr.path, err)}
	}
	cr.rowNum++
	return cr.rowNum, rowMap(cr.headers, fields), nil
}

// Close closes the underlying file.
func (cr *CSVReader) Close() error {
	if cr.file == nil {
		return nil
	}
	err := cr.file.Close()
	cr.file = nil
	return err
}

func wrapParseError(path string, err error) error {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return fmt.Errorf("CSVReader parse error in '%s' on line %d, column %d: %w", path, parseErr.Line, parseErr.Column, parseErr.Err)
	}
	return fmt.Errorf("CSVReader failed to read rows from '%s': %w", path, err)
}

// normalizeHeaders trims header names and warns about empty or duplicate ones.
func normalizeHeaders(raw []string, path string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]bool, len(raw))
	for i, h := range raw {
		header := strings.TrimSpace(h)
		if header == "" {
			logging.Logf(logging.Warning, "Empty header found in column %d of '%s'; this column will be ignored", i+1, path)
		} else if seen[header] {
			logging.Logf(logging.Warning, "Duplicate header '%s' at column %d in '%s'; the last occurrence wins", header, i+1, path)
		}
		seen[header] = true
		headers[i] = header
	}
	return headers
}

// rowMap keys a row by header. Short rows get "" for the missing columns;
// values beyond the header are dropped.
func rowMap(headers, fields []string) map[string]interface{} {
	rec := make(map[string]interface{}, len(headers))
	for i, h := range headers {
		if h == "" {
			continue
		}
		if i < len(fields) {
			rec[h] = fields[i]
		} else if _, exists := rec[h]; !exists {
			rec[h] = ""
		}
	}
	return rec
}

// IsBlankRow reports whether every value in the row is empty or whitespace.
func IsBlankRow(row map[string]interface{}) bool {
	for _, v := range row {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		return false
	}
	return true
}

// CSVWriter implements the OutputWriter interface for CSV files.
// It buffers writes and requires Close() to be called to finalize the file.
type CSVWriter struct {
	Delimiter rune
	columns   []string

	mu            sync.Mutex
	filePath      string
	file          *os.File
	writer        *csv.Writer
	headers       []string
	headerWritten bool
}

// NewCSVWriter creates a CSVWriter; the file is opened on the first Write call.
func NewCSVWriter(delimiter string, columns []string) (*CSVWriter, error) {
	delim := ','
	if delimiter != "" {
		if utf8.RuneCountInString(delimiter) != 1 {
			return nil, fmt.Errorf("invalid delimiter '%s': must be a single character", delimiter)
		}
		delim = []rune(delimiter)[0]
	}
	return &CSVWriter{Delimiter: delim, columns: columns}, nil
}

// Write appends records to the CSV file, writing the header once.
func (cw *CSVWriter) Write(records []map[string]interface{}, filePath string) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.writer == nil {
		if err := ensureDir(filePath); err != nil {
			return fmt.Errorf("CSVWriter failed to create directory for '%s': %w", filePath, err)
		}
		f, err := os.Create(filePath)
		if err != nil {
			return fmt.Errorf("CSVWriter failed to create file '%s': %w", filePath, err)
		}
		cw.filePath = filePath
		cw.file = f
		cw.writer = csv.NewWriter(f)
		cw.writer.Comma = cw.Delimiter
	}

	if !cw.headerWritten {
		cw.headers = resolveColumns(cw.columns, records)
		if len(cw.headers) == 0 {
			return nil
		}
		if err := cw.writer.Write(cw.headers); err != nil {
			return fmt.Errorf("CSVWriter failed to write header to '%s': %w", cw.filePath, err)
		}
		cw.headerWritten = true
	}

	row := make([]string, len(cw.headers))
	for _, rec := range records {
		for i, h := range cw.headers {
			row[i] = formatCell(rec[h])
		}
		if err := cw.writer.Write(row); err != nil {
			return fmt.Errorf("CSVWriter failed to write row to '%s': %w", cw.filePath, err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("CSVWriter flush error for '%s': %w", cw.filePath, err)
	}
	logging.Logf(logging.Debug, "CSVWriter wrote %d records to %s", len(records), cw.filePath)
	return nil
}

// Close flushes and closes the file. Safe to call multiple times.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.file == nil {
		return nil
	}
	cw.writer.Flush()
	firstErr := cw.writer.Error()
	if err := cw.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("CSVWriter file close error for '%s': %w", cw.filePath, err)
	}
	cw.file, cw.writer = nil, nil
	return firstErr
}

// CSVErrorWriter implements the ErrorWriter interface, writing rejected rows to a CSV file.
type CSVErrorWriter struct {
	filePath string
	columns  []string

	mu            sync.Mutex
	file          *os.File
	writer        *csv.Writer
	headers       []string
	headerWritten bool
	closed        bool
	count         int
}

// NewCSVErrorWriter opens (appending to) the rejected-row file. Columns fixes the
// order of the data columns; nil means the sorted keys of the first row.
func NewCSVErrorWriter(filePath string, columns []string) (*CSVErrorWriter, error) {
	if err := ensureDir(filePath); err != nil {
		return nil, fmt.Errorf("CSVErrorWriter failed to create directory for '%s': %w", filePath, err)
	}
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("CSVErrorWriter failed to open/create file '%s': %w", filePath, err)
	}
	return &CSVErrorWriter{filePath: filePath, columns: columns, file: f, writer: csv.NewWriter(f)}, nil
}

// Path returns the file the writer appends to.
func (cew *CSVErrorWriter) Path() string {
	return cew.filePath
}

// Count returns the number of rows written so far.
func (cew *CSVErrorWriter) Count() int {
	cew.mu.Lock()
	defer cew.mu.Unlock()
	return cew.count
}

// Write appends a rejected row and its error. The header is written only for a new or empty file.
func (cew *CSVErrorWriter) Write(record map[string]interface{}, processError error) error {
	cew.mu.Lock()
	defer cew.mu.Unlock()

	if cew.closed {
		return errors.New("CSVErrorWriter: write called on closed writer")
	}

	if !cew.headerWritten {
		info, err := cew.file.Stat()
		writeHeader := err != nil || info.Size() == 0
		cew.headers = append(resolveColumns(cew.columns, []map[string]interface{}{record}), ErrorColumn)
		if writeHeader {
			if err := cew.writer.Write(cew.headers); err != nil {
				return fmt.Errorf("CSVErrorWriter failed to write header to '%s': %w", cew.filePath, err)
			}
		}
		cew.headerWritten = true
	}

	row := make([]string, len(cew.headers))
	for i, h := range cew.headers {
		if h == ErrorColumn {
			if processError != nil {
				row[i] = processError.Error()
			}
			continue
		}
		row[i] = formatCell(record[h])
	}
	if err := cew.writer.Write(row); err != nil {
		return fmt.Errorf("CSVErrorWriter failed to write error row to '%s': %w", cew.filePath, err)
	}
	cew.writer.Flush()
	if err := cew.writer.Error(); err != nil {
		return fmt.Errorf("CSVErrorWriter error after flushing error row to '%s': %w", cew.filePath, err)
	}
	cew.count++
	return nil
}

// Close flushes buffered rows and closes the file. Safe to call multiple times.
func (cew *CSVErrorWriter) Close() error {
	cew.mu.Lock()
	defer cew.mu.Unlock()
	if cew.closed {
		return nil
	}
	cew.closed = true
	cew.writer.Flush()
	firstErr := cew.writer.Error()
	if err := cew.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("CSVErrorWriter file close error for '%s': %w", cew.filePath, err)
	}
	return firstErr
}

// resolveColumns returns the configured column order, or the sorted union of record keys.
func resolveColumns(columns []string, records []map[string]interface{}) []string {
	if len(columns) > 0 {
		return columns
	}
	set := make(map[string]bool)
	for _, rec := range records {
		for k := range rec {
			set[k] = true
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func formatCell(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

func ensureDir(filePath string) error {
	dir := filepath.Dir(filePath)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
