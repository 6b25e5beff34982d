package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bartek5186/catalog2erp/internal/db"
	"github.com/bartek5186/catalog2erp/internal/mapping"
	"github.com/bartek5186/catalog2erp/internal/remote"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("not found")

type Connections struct {
	db *gorm.DB
}

func NewConnections(gdb *gorm.DB) *Connections {
	return &Connections{db: gdb}
}

func (r *Connections) ByClient(ctx context.Context, clientID uint) (*db.Connection, error) {
	var c db.Connection
	err := r.db.WithContext(ctx).Where("client_id = ?", clientID).Take(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &c, err
}

func (r *Connections) ByID(ctx context.Context, id uint) (*db.Connection, error) {
	var c db.Connection
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &c, err
}

// Usable zwraca połączenia, których ostatni test się powiódł.
func (r *Connections) Usable(ctx context.Context) ([]db.Connection, error) {
	var out []db.Connection
	err := r.db.WithContext(ctx).Where("status = ?", "ok").Order("id").Find(&out).Error
	return out, err
}

func (r *Connections) Save(ctx context.Context, c *db.Connection) error {
	if _, err := mapping.ParseReferenceMode(c.ReferenceMode); err != nil {
		return err
	}
	if err := ReferenceRule(c).Validate(); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Save(c).Error
}

// MarkTested zapisuje wynik testu połączenia.
func (r *Connections) MarkTested(ctx context.Context, id uint, testErr error) error {
	now := time.Now()
	upd := map[string]any{"status": "ok", "last_error": "", "last_test_at": now}
	if testErr != nil {
		upd["status"] = "error"
		upd["last_error"] = testErr.Error()
	}
	return r.db.WithContext(ctx).Model(&db.Connection{}).Where("id = ?", id).Updates(upd).Error
}

func (r *Connections) MarkSynced(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&db.Connection{}).Where("id = ?", id).Update("last_sync_at", at).Error
}

// TargetFor buduje adres i dane logowania sesji z rekordu połączenia.
func TargetFor(c *db.Connection, defaultTimeout time.Duration, rps float64) remote.Target {
	timeout := defaultTimeout
	if c.TimeoutSec > 0 {
		timeout = time.Duration(c.TimeoutSec) * time.Second
	}
	return remote.Target{
		Endpoint: remote.Endpoint{
			URL:               c.URL,
			VerifySSL:         c.VerifySSL,
			Timeout:           timeout,
			RequestsPerSecond: rps,
		},
		Credentials: remote.Credentials{
			Database: c.Database,
			Username: c.Username,
			APIKey:   c.APIKey,
		},
	}
}

func ReferenceRule(c *db.Connection) mapping.ReferenceRule {
	mode, err := mapping.ParseReferenceMode(c.ReferenceMode)
	if err != nil {
		mode = mapping.ReferenceMode(c.ReferenceMode)
	}
	return mapping.ReferenceRule{
		Mode:      mode,
		Prefix:    c.ReferencePrefix,
		Suffix:    c.ReferenceSuffix,
		Separator: c.ReferenceSeparator,
		Format:    c.ReferenceFormat,
	}
}

// SupplierCoefficient: zero w bazie znaczy "bez zmian".
func SupplierCoefficient(c *db.Connection) decimal.Decimal {
	if c.SupplierInfoCoefficient.IsZero() {
		return decimal.NewFromInt(1)
	}
	return c.SupplierInfoCoefficient
}
