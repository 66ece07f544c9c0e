package svi

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/carebridge-hub/backend/internal/domain/entities"
	"github.com/carebridge-hub/backend/internal/domain/providers"
)

// Columns a CDC county table must carry
const (
	columnCounty = "COUNTY"
	columnState  = "STATE"
	columnTheme1 = "F_THEME1"
	columnLimEng = "F_LIMENG"
	columnCrowd  = "F_CROWD"
	columnNoVeh  = "F_NOVEH"
	columnGroupQ = "F_GROUPQ"
)

var requiredColumns = []string{columnCounty, columnState, columnTheme1, columnLimEng, columnCrowd, columnNoVeh, columnGroupQ}

// Table is an in-memory CDC SVI county table
type Table struct {
	rows map[string]entities.SVIFlags
}

var _ providers.SVIProvider = (*Table)(nil)

// LoadTable reads a CDC SVI county CSV export
func LoadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SVI table: %w", err)
	}
	defer f.Close()
	return ParseTable(f)
}

// ParseTable reads an SVI table. Missing or unparseable flag values count as
// 0; the first row for a county wins.
func ParseTable(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read SVI header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	var missing []string
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("SVI table is missing columns: %s", strings.Join(missing, ", "))
	}

	t := &Table{rows: make(map[string]entities.SVIFlags)}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read SVI row: %w", err)
		}
		cell := func(col string) string {
			if i := index[col]; i < len(record) {
				return record[i]
			}
			return ""
		}
		key := countyKey(cell(columnCounty), cell(columnState))
		if _, seen := t.rows[key]; seen {
			continue
		}
		t.rows[key] = entities.SVIFlags{
			Theme1:         flagValue(cell(columnTheme1)),
			LimitedEnglish: flagValue(cell(columnLimEng)),
			Crowding:       flagValue(cell(columnCrowd)),
			NoVehicle:      flagValue(cell(columnNoVeh)),
			GroupQuarters:  flagValue(cell(columnGroupQ)),
		}
	}
	return t, nil
}

// Len returns the number of counties loaded
func (t *Table) Len() int {
	return len(t.rows)
}

// Flags returns the flags of a county. County names match with or without
// the "County" suffix, case-insensitively.
func (t *Table) Flags(_ context.Context, county, state string) (*entities.SVIFlags, error) {
	flags, ok := t.rows[countyKey(county, state)]
	if !ok {
		return nil, fmt.Errorf("%w: %s, %s", providers.ErrLocationNotFound, county, state)
	}
	return &flags, nil
}

func countyKey(county, state string) string {
	c := strings.ToLower(strings.TrimSpace(county))
	c = strings.TrimSpace(strings.TrimSuffix(c, " county"))
	return c + "|" + strings.ToLower(strings.TrimSpace(state))
}

// flagValue reads "2", "2.0" and blanks alike. CDC exports use -999 for
// missing data; that counts as unflagged.
func flagValue(s string) int {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 {
		return 0
	}
	return int(v)
}
