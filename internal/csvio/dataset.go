// Package csvio loads municipal indicator datasets (CSV or XLSX), finds
// their missing cells and writes the filled outputs plus the audit CSVs.
package csvio

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/civicdata/comune-cli/internal/model"
)

// Dataset is one loaded input table: indicator rows crossed with year
// columns.
type Dataset struct {
	Name   string
	Header []string
	Rows   [][]string

	indicatorCol int
	categoryCol  int
	yearCols     map[int]int // column index -> year
}

// missing cell markers, lowercase.
var missingMarkers = map[string]bool{
	"":          true,
	"nan":       true,
	"n.d.":      true,
	"nd":        true,
	"not_found": true,
	"-":         true,
}

// Load reads a dataset from a .csv or .xlsx file.
func Load(path string) (*Dataset, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	var records [][]string
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		records, err = readXLSX(path)
	default:
		records, err = readCSV(path)
	}
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, eris.Errorf("csvio: %s is empty", path)
	}

	ds := &Dataset{
		Name:         name,
		Header:       records[0],
		Rows:         records[1:],
		indicatorCol: 0,
		categoryCol:  -1,
		yearCols:     make(map[int]int),
	}
	for i, h := range ds.Header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "indicatore", "indicator":
			ds.indicatorCol = i
		case "categoria", "category":
			ds.categoryCol = i
		default:
			if y, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && y >= 1990 && y <= 2030 {
				ds.yearCols[i] = y
			}
		}
	}
	if len(ds.yearCols) == 0 {
		return nil, eris.Errorf("csvio: %s has no year columns", path)
	}
	return ds, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "csvio: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrapf(err, "csvio: parse %s", path)
	}
	return records, nil
}

// MissingCells returns every empty or placeholder cell under a year column,
// in row-major order.
func (d *Dataset) MissingCells() []model.MissingCell {
	var cells []model.MissingCell
	for rowIdx, row := range d.Rows {
		indicator := d.cellAt(row, d.indicatorCol)
		if strings.TrimSpace(indicator) == "" {
			continue
		}
		category := ""
		if d.categoryCol >= 0 {
			category = strings.TrimSpace(d.cellAt(row, d.categoryCol))
		}
		for col, year := range d.yearCols {
			if !isMissing(d.cellAt(row, col)) {
				continue
			}
			cells = append(cells, model.MissingCell{
				Dataset:   d.Name,
				RowIdx:    rowIdx,
				Indicator: strings.TrimSpace(indicator),
				Category:  category,
				Year:      year,
			})
		}
	}
	sortCells(cells)
	return cells
}

// Fill writes resolved values back into the table. Accepted cells get the
// canonical decimal rendering; unresolved cells get the explicit NOT_FOUND
// marker, never a blank.
func (d *Dataset) Fill(resolutions []model.CellResolution) {
	colByYear := make(map[int]int, len(d.yearCols))
	for col, year := range d.yearCols {
		colByYear[year] = col
	}

	for _, res := range resolutions {
		if res.Cell.Dataset != d.Name || res.Cell.RowIdx >= len(d.Rows) {
			continue
		}
		col, ok := colByYear[res.Cell.Year]
		if !ok {
			continue
		}
		row := d.padRow(res.Cell.RowIdx, col)
		if res.Status == model.CellAccepted && res.Result != nil {
			row[col] = strconv.FormatFloat(res.Result.Value, 'f', -1, 64)
		} else {
			row[col] = string(model.CellNotFound)
		}
	}
}

// WriteFilled writes the dataset as <name>_filled.csv under dir.
func (d *Dataset) WriteFilled(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrap(err, "csvio: create output dir")
	}
	path := filepath.Join(dir, d.Name+"_filled.csv")

	f, err := os.Create(path)
	if err != nil {
		return "", eris.Wrapf(err, "csvio: create %s", path)
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write(d.Header); err != nil {
		return "", eris.Wrap(err, "csvio: write header")
	}
	for _, row := range d.Rows {
		if err := w.Write(row); err != nil {
			return "", eris.Wrap(err, "csvio: write row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", eris.Wrap(err, "csvio: flush")
	}
	return path, nil
}

func (d *Dataset) cellAt(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}

// padRow extends a ragged row so col is addressable.
func (d *Dataset) padRow(rowIdx, col int) []string {
	row := d.Rows[rowIdx]
	for len(row) <= col {
		row = append(row, "")
	}
	d.Rows[rowIdx] = row
	return row
}

func isMissing(value string) bool {
	return missingMarkers[strings.ToLower(strings.TrimSpace(value))]
}

// sortCells orders cells by row, then year, for deterministic processing.
func sortCells(cells []model.MissingCell) {
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].RowIdx != cells[j].RowIdx {
			return cells[i].RowIdx < cells[j].RowIdx
		}
		return cells[i].Year < cells[j].Year
	})
}
