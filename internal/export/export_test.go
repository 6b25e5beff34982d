package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/bartek5186/catalog2erp/internal/catalog"
	"github.com/bartek5186/catalog2erp/internal/db/dbtest"
	"github.com/bartek5186/catalog2erp/internal/repository"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func newExporter(t *testing.T, s Settings) (*Exporter, dbtest.Fixture, *repository.AccessLogs) {
	t.Helper()
	h := dbtest.Open(t)
	fx := dbtest.Seed(t, h)
	access := repository.NewAccessLogs(h.DB)
	return New(zerolog.Nop(), catalog.NewRepository(h.DB), access, s), fx, access
}

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"=SUM(A1)": "'=SUM(A1)",
		"+1":       "'+1",
		"-5":       "'-5",
		"@cmd":     "'@cmd",
		"\tx":      "'\tx",
		"Hammer":   "Hammer",
		"":         "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Sanitize(in), "input %q", in)
	}
}

func TestExportCSV(t *testing.T) {
	e, fx, access := newExporter(t, Settings{IncludeSupplierInfo: true, SupplierExternalID: "supplier_partner"})

	var buf bytes.Buffer
	n, err := e.Export(context.Background(), Request{
		ClientID:   fx.Client.ID,
		ProductIDs: []int64{1, 2, 99},
		Format:     FormatCSV,
	}, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	header := records[0]
	assert.Equal(t, "id", header[0])
	assert.Equal(t, "seller_ids/partner_id/id", header[13])
	assert.Equal(t, "image_1920", header[len(header)-1])

	hammer := records[1]
	assert.Equal(t, "__import__.supplier_1_product_1", hammer[0])
	assert.Equal(t, "Hammer", hammer[1])
	assert.Equal(t, "10.00", hammer[4])
	assert.Equal(t, "", hammer[5])
	assert.Equal(t, "__import__.tools", hammer[6])
	assert.Equal(t, "__import__.supplier_partner", hammer[13])

	count, err := access.CountSince(context.Background(), fx.Client.ID, "export_", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestExportXLSX(t *testing.T) {
	e, fx, _ := newExporter(t, Settings{})

	var buf bytes.Buffer
	_, err := e.Export(context.Background(), Request{ClientID: fx.Client.ID, ProductIDs: []int64{3}, Format: FormatXLSX}, &buf)
	require.NoError(t, err)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Products")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "name", rows[0][1])
	assert.Equal(t, "Drill", rows[1][1])
	assert.Equal(t, "99.99", rows[1][4])
}

func TestExportLimits(t *testing.T) {
	e, fx, access := newExporter(t, Settings{MaxProducts: 2, RateLimitPerHour: 1})
	ctx := context.Background()

	_, err := e.Build(ctx, Request{ClientID: fx.Client.ID, ProductIDs: []int64{1, 2, 3}})
	var limit *LimitError
	require.ErrorAs(t, err, &limit)
	assert.Contains(t, limit.Message, "maximum 2")

	_, err = e.Build(ctx, Request{ClientID: fx.Client.ID})
	assert.ErrorAs(t, err, &limit)

	require.NoError(t, access.Record(ctx, fx.Client.ID, "export_csv", 1, "csv", "127.0.0.1"))
	_, err = e.Build(ctx, Request{ClientID: fx.Client.ID, ProductIDs: []int64{1}})
	require.ErrorAs(t, err, &limit)
	assert.Contains(t, limit.Message, "export limit reached")
}

func TestExportSkipsInaccessible(t *testing.T) {
	e, fx, _ := newExporter(t, Settings{})
	_, err := e.Build(context.Background(), Request{ClientID: fx.Client.ID, ProductIDs: []int64{404}})
	assert.ErrorIs(t, err, ErrNoProducts)
}

func TestFileNameAndIDs(t *testing.T) {
	at := time.Date(2024, 3, 1, 14, 5, 9, 0, time.UTC)
	assert.Equal(t, "catalog_export_Acme_Co_20240301_140509.xlsx", FileName("Acme Co", FormatXLSX, at))

	ids, err := ParseIDs(" 1, 2,,3 ")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)
	_, err = ParseIDs("1,x")
	assert.Error(t, err)

	f, err := ParseFormat("Excel")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)
}
