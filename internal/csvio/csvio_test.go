package csvio

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/civicdata/comune-cli/internal/model"
)

func writeTestCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const sampleCSV = `indicatore,categoria,2022,2023
popolazione residente,demografia,1200,
spesa corrente,bilancio,NaN,45000
raccolta differenziata,ambiente,65.4,n.d.
`

func TestLoad_DetectsColumns(t *testing.T) {
	ds, err := Load(writeTestCSV(t, "comune.csv", sampleCSV))
	require.NoError(t, err)

	assert.Equal(t, "comune", ds.Name)
	assert.Equal(t, []string{"indicatore", "categoria", "2022", "2023"}, ds.Header)
	assert.Len(t, ds.Rows, 3)
	assert.Equal(t, map[int]int{2: 2022, 3: 2023}, ds.yearCols)
	assert.Equal(t, 0, ds.indicatorCol)
	assert.Equal(t, 1, ds.categoryCol)
}

func TestLoad_NoYearColumnsIsError(t *testing.T) {
	_, err := Load(writeTestCSV(t, "bad.csv", "indicatore,note\nspesa,x\n"))
	require.Error(t, err)
}

func TestLoad_EmptyFileIsError(t *testing.T) {
	_, err := Load(writeTestCSV(t, "empty.csv", ""))
	require.Error(t, err)
}

func TestMissingCells(t *testing.T) {
	ds, err := Load(writeTestCSV(t, "comune.csv", sampleCSV))
	require.NoError(t, err)

	cells := ds.MissingCells()
	require.Len(t, cells, 3)

	assert.Equal(t, model.MissingCell{
		Dataset: "comune", RowIdx: 0, Indicator: "popolazione residente",
		Category: "demografia", Year: 2023,
	}, cells[0])
	assert.Equal(t, model.MissingCell{
		Dataset: "comune", RowIdx: 1, Indicator: "spesa corrente",
		Category: "bilancio", Year: 2022,
	}, cells[1])
	assert.Equal(t, model.MissingCell{
		Dataset: "comune", RowIdx: 2, Indicator: "raccolta differenziata",
		Category: "ambiente", Year: 2023,
	}, cells[2])
}

func TestMissingCells_SkipsBlankIndicatorRows(t *testing.T) {
	ds, err := Load(writeTestCSV(t, "gaps.csv", "indicatore,2023\nspesa,\n,\n"))
	require.NoError(t, err)

	cells := ds.MissingCells()
	require.Len(t, cells, 1)
	assert.Equal(t, "spesa", cells[0].Indicator)
}

func TestFill_AcceptedAndNotFound(t *testing.T) {
	ds, err := Load(writeTestCSV(t, "comune.csv", sampleCSV))
	require.NoError(t, err)

	cells := ds.MissingCells()
	ds.Fill([]model.CellResolution{
		{
			Cell:   cells[0],
			Status: model.CellAccepted,
			Result: &model.Result{Value: 1234},
		},
		{Cell: cells[1], Status: model.CellNotFound},
		{
			Cell:   cells[2],
			Status: model.CellAccepted,
			Result: &model.Result{Value: 67.8, Unit: model.UnitPercent},
		},
	})

	assert.Equal(t, "1234", ds.Rows[0][3])
	assert.Equal(t, "NOT_FOUND", ds.Rows[1][2])
	assert.Equal(t, "67.8", ds.Rows[2][3])
}

func TestFill_NeverLeavesBlank(t *testing.T) {
	ds, err := Load(writeTestCSV(t, "comune.csv", sampleCSV))
	require.NoError(t, err)

	for _, cell := range ds.MissingCells() {
		ds.Fill([]model.CellResolution{{Cell: cell, Status: model.CellNotFound}})
	}
	for _, row := range ds.Rows {
		for col := range ds.yearCols {
			assert.NotEmpty(t, strings.TrimSpace(row[col]))
		}
	}
}

func TestWriteFilled_RoundTrip(t *testing.T) {
	ds, err := Load(writeTestCSV(t, "comune.csv", sampleCSV))
	require.NoError(t, err)

	cells := ds.MissingCells()
	ds.Fill([]model.CellResolution{{
		Cell:   cells[0],
		Status: model.CellAccepted,
		Result: &model.Result{Value: 1234},
	}})

	outDir := t.TempDir()
	path, err := ds.WriteFilled(outDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, "comune_filled.csv"), path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, ds.Header, records[0])
	assert.Equal(t, "1234", records[1][3])
	// Untouched cells keep their input values.
	assert.Equal(t, "NaN", records[2][2])
}

func TestLoad_XLSXParityWithCSV(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("dati")
	require.NoError(t, err)
	for _, record := range [][]string{
		{"indicatore", "categoria", "2022", "2023"},
		{"popolazione residente", "demografia", "1200", ""},
		{"spesa corrente", "bilancio", "NaN", "45000"},
		{"raccolta differenziata", "ambiente", "65.4", "n.d."},
	} {
		row := sheet.AddRow()
		for _, value := range record {
			row.AddCell().Value = value
		}
	}
	path := filepath.Join(t.TempDir(), "comune.xlsx")
	require.NoError(t, f.Save(path))

	fromXLSX, err := Load(path)
	require.NoError(t, err)
	fromCSV, err := Load(writeTestCSV(t, "comune.csv", sampleCSV))
	require.NoError(t, err)

	assert.Equal(t, fromCSV.Header, fromXLSX.Header)
	assert.Equal(t, fromCSV.yearCols, fromXLSX.yearCols)
	assert.Equal(t, fromCSV.MissingCells(), fromXLSX.MissingCells())
}

func TestWriteSources(t *testing.T) {
	dir := t.TempDir()
	rows := []model.SourceRow{{
		Indicator: "spesa corrente", Year: 2023, Value: "45000",
		Confidence: 0.91, Method: "heuristic", Accepted: true,
		ContentHash: "abc", PageNo: 3, Evidence: "spesa corrente 45.000",
	}}

	path, err := WriteSources(dir, rows)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "evidence_snippet")
	assert.Contains(t, lines[1], "spesa corrente")
	assert.Contains(t, lines[1], "abc")
}

func TestWriteQueries_EmptyStillWritesHeader(t *testing.T) {
	path, err := WriteQueries(t.TempDir(), nil)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "canonical_query")
}
