// Package export generuje plik importu produktów (CSV/XLSX) z wybranych produktów katalogu.
package export

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/bartek5186/catalog2erp/internal/catalog"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatCSV, "":
		return FormatCSV, nil
	case FormatXLSX, "excel":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

var ErrNoProducts = errors.New("no accessible products to export")

type LimitError struct {
	Message string
}

func (e *LimitError) Error() string { return e.Message }

// Kolumny w formacie importu instancji klienta.
var baseHeaders = []string{
	"id",
	"name",
	"default_code",
	"barcode",
	"list_price",
	"standard_price",
	"categ_id/id",
	"type",
	"sale_ok",
	"purchase_ok",
	"weight",
	"volume",
	"description_sale",
}

var supplierHeaders = []string{
	"seller_ids/partner_id/id",
	"seller_ids/product_code",
	"seller_ids/product_name",
	"seller_ids/price",
	"seller_ids/min_qty",
}

type Products interface {
	AccessibleProducts(ctx context.Context, clientID uint, ids []int64) ([]*catalog.Product, error)
	Price(ctx context.Context, clientID uint, p *catalog.Product) (decimal.Decimal, error)
}

type AccessLog interface {
	Record(ctx context.Context, clientID uint, action string, count int, format, ip string) error
	CountSince(ctx context.Context, clientID uint, actionPrefix string, since time.Time) (int64, error)
}

type Settings struct {
	MaxProducts         int
	RateLimitPerHour    int
	IncludeSupplierInfo bool
	SupplierExternalID  string
}

type Request struct {
	ClientID      uint
	ProductIDs    []int64
	Format        Format
	IncludeImages bool
	IP            string
}

// Sheet to wiersze gotowe do zapisania w dowolnym formacie.
type Sheet struct {
	Headers []string
	Rows    [][]string
}

type Exporter struct {
	log      zerolog.Logger
	products Products
	access   AccessLog
	settings Settings
	now      func() time.Time
}

func New(log zerolog.Logger, products Products, access AccessLog, s Settings) *Exporter {
	if s.SupplierExternalID == "" {
		s.SupplierExternalID = "catalog_supplier"
	}
	return &Exporter{
		log:      log.With().Str("component", "export").Logger(),
		products: products,
		access:   access,
		settings: s,
		now:      time.Now,
	}
}

// Export sprawdza limity, buduje arkusz, zapisuje go do w i odnotowuje eksport.
// Zwraca liczbę wyeksportowanych produktów.
func (e *Exporter) Export(ctx context.Context, req Request, w io.Writer) (int, error) {
	sheet, err := e.Build(ctx, req)
	if err != nil {
		return 0, err
	}
	switch req.Format {
	case FormatXLSX:
		err = WriteXLSX(w, sheet)
	default:
		err = WriteCSV(w, sheet)
	}
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", req.Format, err)
	}
	if err := e.access.Record(ctx, req.ClientID, "export_"+string(req.Format), len(sheet.Rows), string(req.Format), req.IP); err != nil {
		e.log.Warn().Err(err).Uint("client_id", req.ClientID).Msg("access log write failed")
	}
	e.log.Info().
		Uint("client_id", req.ClientID).
		Str("format", string(req.Format)).
		Int("products", len(sheet.Rows)).
		Msg("catalog exported")
	return len(sheet.Rows), nil
}

func (e *Exporter) Build(ctx context.Context, req Request) (*Sheet, error) {
	if len(req.ProductIDs) == 0 {
		return nil, &LimitError{Message: "no products selected for export"}
	}
	if n := e.settings.MaxProducts; n > 0 && len(req.ProductIDs) > n {
		return nil, &LimitError{Message: fmt.Sprintf("maximum %d products per export, please reduce your selection", n)}
	}
	if limit := e.settings.RateLimitPerHour; limit > 0 {
		since := e.now().Truncate(time.Hour)
		n, err := e.access.CountSince(ctx, req.ClientID, "export_", since)
		if err != nil {
			return nil, err
		}
		if n >= int64(limit) {
			return nil, &LimitError{Message: fmt.Sprintf("export limit reached (%d exports per hour), please try again later", limit)}
		}
	}

	prods, err := e.products.AccessibleProducts(ctx, req.ClientID, req.ProductIDs)
	if err != nil {
		return nil, err
	}
	if len(prods) == 0 {
		return nil, ErrNoProducts
	}

	sheet := &Sheet{Headers: append([]string(nil), baseHeaders...)}
	if e.settings.IncludeSupplierInfo {
		sheet.Headers = append(sheet.Headers, supplierHeaders...)
	}
	sheet.Headers = append(sheet.Headers, "image_1920")

	for _, p := range prods {
		price, err := e.products.Price(ctx, req.ClientID, p)
		if err != nil {
			return nil, err
		}
		sheet.Rows = append(sheet.Rows, e.row(req, p, price))
	}
	return sheet, nil
}

func (e *Exporter) row(req Request, p *catalog.Product, price decimal.Decimal) []string {
	typ := p.Type
	if typ == "" {
		typ = "consu"
	}
	row := []string{
		fmt.Sprintf("__import__.supplier_%d_product_%d", req.ClientID, p.ID),
		Sanitize(p.Name),
		Sanitize(p.Code),
		Sanitize(p.Barcode),
		price.StringFixed(2),
		"", // koszt dostawcy nie wychodzi na zewnątrz
		categoryExternalID(p),
		typ,
		"True",
		"True",
		p.Weight.String(),
		p.Volume.String(),
		Sanitize(p.DescriptionSale),
	}
	if e.settings.IncludeSupplierInfo {
		row = append(row,
			"__import__."+e.settings.SupplierExternalID,
			Sanitize(p.Code),
			Sanitize(p.Name),
			price.StringFixed(2),
			"1.0",
		)
	}
	img := ""
	if req.IncludeImages {
		img = p.Image
	}
	return append(row, img)
}

func categoryExternalID(p *catalog.Product) string {
	if p.Category == nil {
		return ""
	}
	return "__import__." + strings.ReplaceAll(strings.ToLower(p.Category.Name), " ", "_")
}

// Sanitize poprzedza apostrofem wartości, które arkusz potraktowałby jako formułę.
func Sanitize(s string) string {
	if s == "" {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + s
	}
	return s
}

// FileName: catalog_export_<klient>_<czas>.<ext>, bez spacji i ukośników.
func FileName(client string, f Format, at time.Time) string {
	name := fmt.Sprintf("catalog_export_%s_%s.%s", client, at.Format("20060102_150405"), f)
	return strings.NewReplacer(" ", "_", "/", "_", "\\", "_").Replace(name)
}

func WriteCSV(w io.Writer, s *Sheet) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(s.Headers); err != nil {
		return err
	}
	if err := cw.WriteAll(s.Rows); err != nil {
		return err
	}
	return cw.Error()
}

func WriteXLSX(w io.Writer, s *Sheet) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Products"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})

	for i, h := range s.Headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
		f.SetCellStyle(sheet, cell, cell, headerStyle)
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheet, col, col, 18)
	}
	for r, row := range s.Rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellStr(sheet, cell, v); err != nil {
				return err
			}
		}
	}
	_, err := f.WriteTo(w)
	return err
}

// ParseIDs czyta listę "1,2,3" z formularza.
func ParseIDs(raw string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid product id %q", part)
		}
		out = append(out, id)
	}
	return out, nil
}
