package export

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/noah-isme/gridkit/internal/models"
	appErrors "github.com/noah-isme/gridkit/pkg/errors"
)

var testColumns = []models.Column{
	{Field: "id", Title: "ID"},
	{Field: "name", Title: "Name"},
	{Field: "price", Title: "Price"},
	{Field: "active"},
}

func testRows() []models.Row {
	return []models.Row{
		{"id": 1, "name": "Caderno, capa dura", "price": 12.5, "active": true},
		{"id": 2, "name": "Lápis \"HB\"", "price": 1.25, "active": false},
		{"id": 3, "name": "Mochila", "price": nil, "active": true},
	}
}

func testMeta() models.ExportMeta {
	return models.ExportMeta{
		Title:        "Produtos",
		GeneratedAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		TotalRows:    3,
		QuerySummary: `search="lap" (contains)`,
	}
}

type failingIterator struct {
	*SliceIterator
}

func (failingIterator) Err() error { return errors.New("source failed") }

func TestSliceIterator(t *testing.T) {
	it := NewSliceIterator(testRows())
	assert.Nil(t, it.Row())
	count := 0
	for it.Next() {
		count++
		assert.Equal(t, count, it.Row()["id"])
	}
	assert.Equal(t, 3, count)
	assert.False(t, it.Next())
	assert.Nil(t, it.Row())
	assert.NoError(t, it.Err())
}

func TestCSVExporterRoundTrip(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "nested", "products.csv")
	res, err := NewCSVExporter().Export(context.Background(), NewSliceIterator(testRows()), testColumns, testMeta(), dest)
	require.NoError(t, err)
	assert.Equal(t, 3, res.RowsExported)
	assert.Equal(t, dest, res.Destination)

	f, err := os.Open(dest)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, records, 4)
	assert.Equal(t, []string{"ID", "Name", "Price", "active"}, records[0], "missing titles fall back to the field name")
	assert.Equal(t, []string{"1", "Caderno, capa dura", "12.5", "true"}, records[1])
	assert.Equal(t, []string{"2", `Lápis "HB"`, "1.25", "false"}, records[2])
	assert.Equal(t, []string{"3", "Mochila", "", "true"}, records[3])
}

func TestCSVExporterPropagatesIteratorError(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "broken.csv")
	_, err := NewCSVExporter().Export(context.Background(), failingIterator{NewSliceIterator(testRows())}, testColumns, testMeta(), dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source failed")
}

func TestExportersRejectMissingColumns(t *testing.T) {
	dir := t.TempDir()
	for name, exp := range map[string]Exporter{"csv": NewCSVExporter(), "xlsx": NewXLSXExporter(), "pdf": NewPDFExporter()} {
		_, err := exp.Export(context.Background(), NewSliceIterator(nil), nil, testMeta(), filepath.Join(dir, "out."+name))
		assert.Error(t, err, name)
	}
}

func TestExportersStopOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dir := t.TempDir()
	for name, exp := range map[string]Exporter{"csv": NewCSVExporter(), "xlsx": NewXLSXExporter(), "pdf": NewPDFExporter()} {
		_, err := exp.Export(ctx, NewSliceIterator(testRows()), testColumns, testMeta(), filepath.Join(dir, "out."+name))
		assert.ErrorIs(t, err, context.Canceled, name)
	}
}

func TestXLSXExporterLayout(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "products.xlsx")
	res, err := NewXLSXExporter().Export(context.Background(), NewSliceIterator(testRows()), testColumns, testMeta(), dest)
	require.NoError(t, err)
	assert.Equal(t, 3, res.RowsExported)

	f, err := excelize.OpenFile(dest)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Data"}, f.GetSheetList())
	cell := func(ref string) string {
		v, err := f.GetCellValue("Data", ref)
		require.NoError(t, err)
		return v
	}
	assert.Equal(t, "Produtos", cell("A1"))
	assert.Equal(t, "2024-05-01T12:00:00Z", cell("B2"))
	assert.Equal(t, "3", cell("B3"))
	assert.Equal(t, `search="lap" (contains)`, cell("B4"))
	assert.Equal(t, "ID", cell("A6"))
	assert.Equal(t, "active", cell("D6"))
	assert.Equal(t, "1", cell("A7"))
	assert.Equal(t, "Caderno, capa dura", cell("B7"))
	assert.Equal(t, "Mochila", cell("B9"))
	assert.Equal(t, "", cell("C9"))
}

func TestColumnWidth(t *testing.T) {
	assert.Equal(t, 10.0, columnWidth("ID"))
	assert.Equal(t, 22.0, columnWidth("Nome do produto long"))
	assert.Equal(t, 60.0, columnWidth(fmt.Sprintf("%080d", 0)))
}

func TestPDFExporterWritesDocument(t *testing.T) {
	rows := make([]models.Row, 0, 120)
	for i := 0; i < 120; i++ {
		rows = append(rows, models.Row{"id": i + 1, "name": fmt.Sprintf("Produto %d com um nome bastante comprido para caber na célula", i+1), "price": float64(i), "active": i%2 == 0})
	}
	dest := filepath.Join(t.TempDir(), "products.pdf")
	res, err := NewPDFExporter().Export(context.Background(), NewSliceIterator(rows), testColumns, testMeta(), dest)
	require.NoError(t, err)
	assert.Equal(t, 120, res.RowsExported)

	raw, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.True(t, len(raw) > 4 && string(raw[:4]) == "%PDF")
}

func TestRegistry(t *testing.T) {
	r := NewDefaultRegistry()
	assert.Equal(t, []string{"csv", "pdf", "xlsx"}, r.Formats())

	e, err := r.Get("  XLSX ")
	require.NoError(t, err)
	assert.IsType(t, &XLSXExporter{}, e)

	_, err = r.Get("docx")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrUnsupportedFormat))

	r.Register("TSV", NewCSVExporter())
	_, err = r.Get("tsv")
	assert.NoError(t, err)
}
