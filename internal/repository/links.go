package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bartek5186/catalog2erp/internal/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LinkKey identyfikuje rekord po stronie dostawcy; VariantID 0 to szablon.
type LinkKey struct {
	ProductID int64
	VariantID int64
}

// Link wiąże produkt dostawcy z rekordem w instancji klienta.
type Link struct {
	LinkKey
	RemoteID    int64
	ExternalKey string
	LastValues  map[string]any
	SyncedAt    time.Time
}

type Links struct {
	db *gorm.DB
}

func NewLinks(gdb *gorm.DB) *Links {
	return &Links{db: gdb}
}

// ForProducts zwraca linki szablonów i wariantów dla podanych produktów.
func (r *Links) ForProducts(ctx context.Context, connectionID uint, productIDs []int64) (map[LinkKey]Link, error) {
	out := map[LinkKey]Link{}
	if len(productIDs) == 0 {
		return out, nil
	}
	var rows []db.ProductLink
	if err := r.db.WithContext(ctx).
		Where("connection_id = ? AND product_id IN ?", connectionID, productIDs).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		l := linkFromRow(row)
		out[l.LinkKey] = l
	}
	return out, nil
}

func (r *Links) All(ctx context.Context, connectionID uint) ([]Link, error) {
	var rows []db.ProductLink
	if err := r.db.WithContext(ctx).Where("connection_id = ?", connectionID).
		Order("product_id, variant_id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Link, 0, len(rows))
	for _, row := range rows {
		out = append(out, linkFromRow(row))
	}
	return out, nil
}

func linkFromRow(row db.ProductLink) Link {
	l := Link{
		LinkKey:     LinkKey{ProductID: row.ProductID, VariantID: row.VariantID},
		RemoteID:    row.RemoteID,
		ExternalKey: row.ExternalKey,
		SyncedAt:    row.LastSyncedAt,
	}
	if len(row.LastValues) > 0 {
		_ = json.Unmarshal(row.LastValues, &l.LastValues)
	}
	return l
}

// Save zapisuje link po udanym zapisie; LastValues służy planerowi do wartości "przed".
func (r *Links) Save(ctx context.Context, connectionID uint, l Link) error {
	raw, err := json.Marshal(l.LastValues)
	if err != nil {
		return err
	}
	if l.SyncedAt.IsZero() {
		l.SyncedAt = time.Now()
	}
	row := db.ProductLink{
		ConnectionID: connectionID,
		ProductID:    l.ProductID,
		VariantID:    l.VariantID,
		RemoteID:     l.RemoteID,
		ExternalKey:  l.ExternalKey,
		LastValues:   datatypes.JSON(raw),
		LastSyncedAt: l.SyncedAt,
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "connection_id"}, {Name: "product_id"}, {Name: "variant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"remote_id", "external_key", "last_values", "last_synced_at"}),
	}).Create(&row).Error
}

// Forget usuwa link, np. gdy rekord zniknął po stronie klienta.
func (r *Links) Forget(ctx context.Context, connectionID uint, key LinkKey) error {
	return r.db.WithContext(ctx).
		Where("connection_id = ? AND product_id = ? AND variant_id = ?", connectionID, key.ProductID, key.VariantID).
		Delete(&db.ProductLink{}).Error
}
