package dataset

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Load reads a dataset file, dispatching on its extension (.csv or .json).
func Load(path string) (*Frame, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return LoadCSV(path)
	case ".json":
		return LoadJSON(path)
	}
	return nil, fmt.Errorf("unsupported dataset format %q", filepath.Ext(path))
}

// LoadCSV reads a CSV file with a header row into a Frame, inferring column
// types from the data.
func LoadCSV(path string) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return ReadCSV(f, name)
}

// ReadCSV parses CSV content with a header row into a Frame.
func ReadCSV(r io.Reader, name string) (*Frame, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	var records [][]string
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row: %w", err)
		}
		records = append(records, rec)
	}

	columns := make([]Column, len(header))
	for i, h := range header {
		columns[i] = Column{Name: strings.TrimSpace(h), Type: inferColumnType(records, i)}
	}

	rows := make([][]any, len(records))
	for r, rec := range records {
		row := make([]any, len(columns))
		for c := range columns {
			if c < len(rec) {
				row[c] = coerce(rec[c], columns[c].Type)
			}
		}
		rows[r] = row
	}

	return &Frame{Name: name, Columns: columns, Rows: rows}, nil
}

// LoadJSON reads a JSON array of flat records into a Frame. Column order
// follows the first record's keys sorted lexically for determinism.
func LoadJSON(path string) (*Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}

	var records []map[string]any
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse JSON records: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("dataset contains no records")
	}

	var names []string
	for k := range records[0] {
		names = append(names, k)
	}
	sort.Strings(names)

	columns := make([]Column, len(names))
	for i, n := range names {
		columns[i] = Column{Name: n, Type: inferJSONType(records, n)}
	}

	rows := make([][]any, len(records))
	for r, rec := range records {
		row := make([]any, len(columns))
		for c, col := range columns {
			row[c] = rec[col.Name]
		}
		rows[r] = row
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return &Frame{Name: name, Columns: columns, Rows: rows}, nil
}

// inferColumnType picks the narrowest type that fits every non-empty value.
// Each candidate type is checked independently, so a column mixing kinds
// (say floats and booleans) falls to string rather than to whichever
// candidate the last value happened to satisfy.
func inferColumnType(records [][]string, col int) ColumnType {
	seen := false
	integer, float, boolean := true, true, true
	for _, rec := range records {
		if col >= len(rec) {
			continue
		}
		v := strings.TrimSpace(rec[col])
		if v == "" {
			continue
		}
		seen = true
		if integer {
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				integer = false
			}
		}
		if float {
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				float = false
			}
		}
		if boolean && !isBool(v) {
			boolean = false
		}
		if !integer && !float && !boolean {
			return TypeString
		}
	}
	switch {
	case !seen:
		return TypeString
	case integer:
		return TypeInteger
	case float:
		return TypeFloat
	case boolean:
		return TypeBoolean
	}
	return TypeString
}

func inferJSONType(records []map[string]any, name string) ColumnType {
	for _, rec := range records {
		switch v := rec[name].(type) {
		case bool:
			return TypeBoolean
		case float64:
			if v == float64(int64(v)) {
				return TypeInteger
			}
			return TypeFloat
		case string:
			return TypeString
		}
	}
	return TypeString
}

func isBool(v string) bool {
	switch strings.ToLower(v) {
	case "true", "false":
		return true
	}
	return false
}

func coerce(v string, t ColumnType) any {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	switch t {
	case TypeInteger:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	case TypeFloat:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	case TypeBoolean:
		if b, err := strconv.ParseBool(strings.ToLower(v)); err == nil {
			return b
		}
	}
	return v
}
