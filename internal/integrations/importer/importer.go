package importer

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bartek5186/catalog2erp/internal/db"
	"github.com/bartek5186/catalog2erp/internal/integrations"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/net/html/charset"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Config struct {
	WatchDir string `json:"watch_dir"` // np. ~/catalog2erp/feeds
	PollSec  int    `json:"poll_sec"`
	Remove   bool   `json:"remove_processed"` // usuń plik po udanym imporcie
}

// statusy import_files
const (
	filePending = 0
	fileDone    = 1
	fileError   = 2
)

const batchSize = 500

// Importer wczytuje pliki feedu dostawcy (catalog_*.xml) do katalogu.
type Importer struct {
	log zerolog.Logger
	cfg Config
	db  *gorm.DB

	ctx    context.Context
	cancel context.CancelFunc
}

func New(log zerolog.Logger, cfg Config, gdb *gorm.DB) *Importer {
	return &Importer{log: log, cfg: cfg, db: gdb}
}

// ---- format feedu ----

type xmlCategory struct {
	ID           int64  `xml:"id"`
	ParentID     string `xml:"parent_id"` // bywa puste
	Name         string `xml:"name"`
	CompleteName string `xml:"complete_name"`
}

type xmlValue struct {
	ID   int64  `xml:"id"`
	Name string `xml:"name"`
}

type xmlAttribute struct {
	ID     int64      `xml:"id"`
	Name   string     `xml:"name"`
	Values []xmlValue `xml:"values>value"`
}

type xmlVariant struct {
	ID         int64   `xml:"id"`
	Code       string  `xml:"code"`
	Barcode    string  `xml:"barcode"`
	Weight     string  `xml:"weight"`
	Volume     string  `xml:"volume"`
	PriceExtra string  `xml:"price_extra"`
	Image      string  `xml:"image"`
	Active     string  `xml:"active"`
	ValueIDs   []int64 `xml:"value_ids>value_id"`
}

type xmlProduct struct {
	ID                  int64        `xml:"id"`
	Code                string       `xml:"code"`
	Name                string       `xml:"name"`
	Barcode             string       `xml:"barcode"`
	ListPrice           string       `xml:"list_price"`
	StandardPrice       string       `xml:"standard_price"`
	Weight              string       `xml:"weight"`
	Volume              string       `xml:"volume"`
	UoM                 string       `xml:"uom"`
	CategoryID          string       `xml:"category_id"`
	Type                string       `xml:"type"`
	SaleOK              string       `xml:"sale_ok"`
	PurchaseOK          string       `xml:"purchase_ok"`
	Published           string       `xml:"published"`
	Active              string       `xml:"active"`
	DescriptionSale     string       `xml:"description_sale"`
	Description         string       `xml:"description"`
	DescriptionPurchase string       `xml:"description_purchase"`
	Image               string       `xml:"image"`
	Variants            []xmlVariant `xml:"variants>variant"`
}

// Stats podsumowuje jeden plik.
type Stats struct {
	Categories int
	Attributes int
	Values     int
	Products   int
	Variants   int
}

func (i *Importer) Name() string { return "importer" }

func (i *Importer) Start(ctx context.Context) error {
	i.ctx, i.cancel = context.WithCancel(ctx)
	i.log.Info().Str("integration", i.Name()).Msg("start")

	dir := expandHome(i.cfg.WatchDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("importer: watch dir: %w", err)
	}
	integrations.Every(i.ctx, i.interval, func(ctx context.Context) { i.ScanOnce(ctx, dir) })
	i.log.Info().Str("integration", i.Name()).Msg("stop")
	return nil
}

func (i *Importer) Stop() {
	if i.cancel != nil {
		i.cancel()
	}
}

func (i *Importer) interval() time.Duration {
	return integrations.PollInterval(i.cfg.PollSec, 30*time.Second)
}

// ScanOnce przetwarza wszystkie nowe (albo wcześniej nieudane) pliki feedu z katalogu.
func (i *Importer) ScanOnce(ctx context.Context, dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		i.log.Error().Err(err).Str("dir", dir).Msg("cannot read feed directory")
		return 0
	}

	done := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return done
		}
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, "catalog_") || !strings.EqualFold(filepath.Ext(name), ".xml") {
			continue
		}
		full := filepath.Join(dir, name)

		importID, status, err := i.registerFile(ctx, full, name)
		if err != nil {
			i.log.Error().Err(err).Str("file", name).Msg("feed registration failed")
			continue
		}
		if status == fileDone {
			i.log.Debug().Str("file", name).Msg("feed already imported, skipping")
			continue
		}

		stats, err := i.processFile(ctx, importID, full)
		if err != nil {
			i.log.Error().Err(err).Str("file", name).Uint("import_id", importID).Msg("feed import failed")
			_ = i.db.Model(&db.ImportFile{}).Where("import_id = ?", importID).
				Updates(map[string]any{"status": fileError, "last_error": err.Error()})
			continue
		}

		now := time.Now()
		_ = i.db.Model(&db.ImportFile{}).Where("import_id = ?", importID).
			Updates(map[string]any{"status": fileDone, "last_error": "", "processed_at": now})
		if i.cfg.Remove {
			_ = os.Remove(full)
		}
		done++
		i.log.Info().
			Str("file", name).
			Uint("import_id", importID).
			Int("categories", stats.Categories).
			Int("attributes", stats.Attributes).
			Int("products", stats.Products).
			Int("variants", stats.Variants).
			Msg("feed imported")
	}
	return done
}

// registerFile zakłada rekord import_files; istniejący (po SHA albo nazwie) zwraca ze statusem.
func (i *Importer) registerFile(ctx context.Context, fullPath, name string) (uint, int, error) {
	fi, err := os.Stat(fullPath)
	if err != nil {
		return 0, 0, err
	}
	h, err := fileSHA256(fullPath)
	if err != nil {
		return 0, 0, err
	}

	var existing db.ImportFile
	err = i.db.WithContext(ctx).Where("sha256 = ? OR filename = ?", h, name).Take(&existing).Error
	if err == nil {
		if existing.Status != fileDone {
			i.log.Warn().Str("file", name).Uint("import_id", existing.ImportID).
				Int("status", existing.Status).Msg("feed known but not done, reprocessing")
		}
		return existing.ImportID, existing.Status, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, 0, err
	}

	rec := db.ImportFile{Filename: name, SHA256: h, SizeBytes: fi.Size(), Status: filePending}
	if err := i.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return 0, 0, err
	}
	return rec.ImportID, filePending, nil
}

// processFile strumieniowo dekoduje feed i wpisuje go do katalogu w jednej transakcji.
func (i *Importer) processFile(ctx context.Context, importID uint, fullPath string) (Stats, error) {
	f, err := os.Open(fullPath)
	if err != nil {
		return Stats{}, err
	}
	defer f.Close()
	return i.Import(ctx, importID, f)
}

// Import wczytuje feed z r; importID może być 0 (bez rekordu import_files).
func (i *Importer) Import(ctx context.Context, importID uint, r io.Reader) (Stats, error) {
	dec := xml.NewDecoder(bufio.NewReader(r))
	dec.CharsetReader = func(cs string, in io.Reader) (io.Reader, error) {
		return charset.NewReaderLabel(normalizeCharset(cs), in)
	}

	var st Stats
	err := i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b := &batch{tx: tx, stats: &st}
		for {
			tok, err := dec.Token()
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			se, ok := tok.(xml.StartElement)
			if !ok {
				continue
			}
			switch se.Name.Local {
			case "feed_id":
				var id string
				if err := dec.DecodeElement(&id, &se); err != nil {
					return err
				}
				if id = strings.TrimSpace(id); id != "" && importID > 0 {
					if err := tx.Model(&db.ImportFile{}).Where("import_id = ?", importID).
						Update("feed_id", id).Error; err != nil {
						return err
					}
				}
			case "category":
				var c xmlCategory
				if err := dec.DecodeElement(&c, &se); err != nil {
					return err
				}
				if err := b.category(c); err != nil {
					return err
				}
			case "attribute":
				var a xmlAttribute
				if err := dec.DecodeElement(&a, &se); err != nil {
					return err
				}
				if err := b.attribute(a); err != nil {
					return err
				}
			case "product":
				var p xmlProduct
				if err := dec.DecodeElement(&p, &se); err != nil {
					return err
				}
				if err := b.product(p); err != nil {
					return err
				}
			}
		}
		return b.flush()
	})
	return st, err
}

// batch zbiera wiersze i wpisuje je paczkami (upsert po kluczu głównym).
type batch struct {
	tx       *gorm.DB
	stats    *Stats
	products []db.Product
	variants []db.Variant
	combos   []db.VariantValue
}

func (b *batch) upsert(rows any) error {
	return b.tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(rows).Error
}

func (b *batch) category(c xmlCategory) error {
	if c.ID <= 0 {
		return nil
	}
	row := db.Category{
		ID:           c.ID,
		Name:         strings.TrimSpace(c.Name),
		ParentID:     optID(c.ParentID),
		CompleteName: strings.TrimSpace(c.CompleteName),
		UpdatedAt:    time.Now(),
	}
	if row.CompleteName == "" {
		row.CompleteName = row.Name
	}
	b.stats.Categories++
	return b.upsert(&row)
}

func (b *batch) attribute(a xmlAttribute) error {
	if a.ID <= 0 {
		return nil
	}
	now := time.Now()
	if err := b.upsert(&db.Attribute{ID: a.ID, Name: strings.TrimSpace(a.Name), UpdatedAt: now}); err != nil {
		return err
	}
	b.stats.Attributes++
	if len(a.Values) == 0 {
		return nil
	}
	vals := make([]db.AttributeValue, 0, len(a.Values))
	for _, v := range a.Values {
		vals = append(vals, db.AttributeValue{ID: v.ID, AttributeID: a.ID, Name: strings.TrimSpace(v.Name), UpdatedAt: now})
	}
	b.stats.Values += len(vals)
	return b.upsert(&vals)
}

func (b *batch) product(p xmlProduct) error {
	if p.ID <= 0 {
		return nil
	}
	now := time.Now()
	b.products = append(b.products, db.Product{
		ID:                  p.ID,
		Code:                strings.TrimSpace(p.Code),
		Name:                strings.TrimSpace(p.Name),
		Barcode:             strings.TrimSpace(p.Barcode),
		ListPrice:           num(p.ListPrice),
		StandardPrice:       num(p.StandardPrice),
		Weight:              num(p.Weight),
		Volume:              num(p.Volume),
		UoM:                 strings.TrimSpace(p.UoM),
		CategoryID:          optID(p.CategoryID),
		Type:                strings.TrimSpace(p.Type),
		SaleOK:              yn(p.SaleOK, true),
		PurchaseOK:          yn(p.PurchaseOK, true),
		IsPublished:         yn(p.Published, false),
		Active:              yn(p.Active, true),
		DescriptionSale:     p.DescriptionSale,
		Description:         p.Description,
		DescriptionPurchase: p.DescriptionPurchase,
		Image:               strings.TrimSpace(p.Image),
		UpdatedAt:           now,
	})
	b.stats.Products++
	for _, v := range p.Variants {
		if v.ID <= 0 {
			continue
		}
		b.variants = append(b.variants, db.Variant{
			ID:         v.ID,
			ProductID:  p.ID,
			Code:       strings.TrimSpace(v.Code),
			Barcode:    strings.TrimSpace(v.Barcode),
			Weight:     num(v.Weight),
			Volume:     num(v.Volume),
			PriceExtra: num(v.PriceExtra),
			Image:      strings.TrimSpace(v.Image),
			Active:     yn(v.Active, true),
			UpdatedAt:  now,
		})
		for _, vid := range v.ValueIDs {
			b.combos = append(b.combos, db.VariantValue{VariantID: v.ID, ValueID: vid})
		}
		b.stats.Variants++
	}
	if len(b.products) >= batchSize || len(b.variants) >= batchSize {
		return b.flush()
	}
	return nil
}

func (b *batch) flush() error {
	if len(b.products) > 0 {
		if err := b.upsert(&b.products); err != nil {
			return fmt.Errorf("upsert products: %w", err)
		}
		b.products = b.products[:0]
	}
	if len(b.variants) > 0 {
		ids := make([]int64, 0, len(b.variants))
		for _, v := range b.variants {
			ids = append(ids, v.ID)
		}
		if err := b.upsert(&b.variants); err != nil {
			return fmt.Errorf("upsert variants: %w", err)
		}
		// kombinacja wariantu jest zastępowana w całości
		if err := b.tx.Where("variant_id IN ?", ids).Delete(&db.VariantValue{}).Error; err != nil {
			return err
		}
		if len(b.combos) > 0 {
			if err := b.tx.Create(&b.combos).Error; err != nil {
				return fmt.Errorf("insert variant values: %w", err)
			}
		}
		b.variants = b.variants[:0]
		b.combos = b.combos[:0]
	}
	return nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

func factory(log zerolog.Logger, raw json.RawMessage, d integrations.Deps) (integrations.Integration, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.WatchDir == "" {
		return nil, errors.New("importer: watch_dir required")
	}
	if d.DB == nil {
		return nil, errors.New("importer: database handle missing")
	}
	return New(log, cfg, d.DB), nil
}

func init() {
	integrations.Register("importer", factory)
}

// normalizeCharset mapuje nietypowe etykiety na nazwy rozpoznawane przez charset.NewReaderLabel
func normalizeCharset(cs string) string {
	c := strings.TrimSpace(strings.ToLower(cs))
	switch c {
	case "latin ii", "latin-2", "latin2", "iso8859-2", "iso_8859-2":
		return "iso-8859-2"
	case "cp1250", "windows1250", "win-1250":
		return "windows-1250"
	default:
		return c
	}
}

// yn czyta flagi Y/N (też T/1/TAK/true); puste pole daje def.
func yn(s string, def bool) bool {
	switch strings.TrimSpace(strings.ToUpper(s)) {
	case "":
		return def
	case "Y", "T", "1", "TAK", "TRUE":
		return true
	default:
		return false
	}
}

// num akceptuje przecinek dziesiętny; śmieci dają zero.
func num(s string) decimal.Decimal {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}

func optID(s string) *int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || v <= 0 {
		return nil
	}
	return &v
}
