package importflow

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

// MaxFileBytes is the largest upload accepted.
const MaxFileBytes = 10 << 20

// SampleRows is how many data rows are sent for analysis.
const SampleRows = 5

// Upload errors. They are reported inline and never reach the server.
var (
	ErrTooLarge    = fmt.Errorf("file exceeds the %d MB limit", MaxFileBytes>>20)
	ErrNoData      = errors.New("file must have a header row and at least one data row")
	ErrUnsupported = errors.New("only .csv and .xlsx files are supported")
	ErrHeaders     = errors.New("every column needs its own header")
)

// Table is a parsed upload: the header row and the data rows, each padded
// or trimmed to the header width.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Samples returns up to n leading data rows.
func (t *Table) Samples(n int) [][]string {
	if len(t.Rows) < n {
		n = len(t.Rows)
	}
	return t.Rows[:n]
}

// Records keys every row by header.
func (t *Table) Records() []map[string]string {
	out := make([]map[string]string, len(t.Rows))
	for i, row := range t.Rows {
		rec := make(map[string]string, len(t.Headers))
		for j, h := range t.Headers {
			rec[h] = row[j]
		}
		out[i] = rec
	}
	return out
}

// ReadTable parses name's contents from r. size is the declared byte size;
// reads are also capped so an undeclared size cannot exceed the limit.
func ReadTable(name string, r io.Reader, size int64) (*Table, error) {
	if size > MaxFileBytes {
		return nil, ErrTooLarge
	}
	lr := &io.LimitedReader{R: r, N: MaxFileBytes + 1}

	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		rows, err = readCSV(lr)
	case ".xlsx":
		rows, err = readXLSX(lr)
	default:
		return nil, ErrUnsupported
	}
	if lr.N <= 0 {
		return nil, ErrTooLarge
	}
	if err != nil {
		return nil, err
	}
	return newTable(rows)
}

func newTable(rows [][]string) (*Table, error) {
	var kept [][]string
	for _, row := range rows {
		if !blank(row) {
			kept = append(kept, row)
		}
	}
	if len(kept) < 2 {
		return nil, ErrNoData
	}
	t := &Table{Headers: make([]string, len(kept[0]))}
	seen := make(map[string]int, len(kept[0]))
	for i, h := range kept[0] {
		h = strings.TrimSpace(h)
		if !utf8.ValidString(h) {
			return nil, fmt.Errorf("importflow: invalid header encoding in column %d", i+1)
		}
		if h == "" {
			return nil, fmt.Errorf("%w: column %d is blank", ErrHeaders, i+1)
		}
		// Records are keyed by header, so a repeat would drop a column.
		key := strings.ToLower(h)
		if prev, ok := seen[key]; ok {
			return nil, fmt.Errorf("%w: %q appears in columns %d and %d", ErrHeaders, h, prev+1, i+1)
		}
		seen[key] = i
		t.Headers[i] = h
	}
	for _, row := range kept[1:] {
		norm := make([]string, len(t.Headers))
		copy(norm, row)
		t.Rows = append(t.Rows, norm)
	}
	return t, nil
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func readCSV(r io.Reader) ([][]string, error) {
	br := bufio.NewReader(r)
	if b, err := br.Peek(3); err == nil && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		_, _ = br.Discard(3)
	}
	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("importflow: parse csv: %w", err)
	}
	return rows, nil
}

// readXLSX reads the first sheet.
func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("importflow: open workbook: %w", err)
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoData
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("importflow: read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}
