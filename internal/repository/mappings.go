package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bartek5186/catalog2erp/internal/db"
	"github.com/bartek5186/catalog2erp/internal/mapping"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Mappings zapisuje i odtwarza mapping.Store połączenia.
type Mappings struct {
	db *gorm.DB
}

func NewMappings(gdb *gorm.DB) *Mappings {
	return &Mappings{db: gdb}
}

// Load składa Store z tabel mapowań; regułę referencji bierze z połączenia.
func (r *Mappings) Load(ctx context.Context, conn *db.Connection) (*mapping.Store, error) {
	s := mapping.NewStore()
	s.Reference = ReferenceRule(conn)

	var fields []db.FieldMappingRow
	if err := r.db.WithContext(ctx).Where("connection_id = ?", conn.ID).Order("sequence, id").Find(&fields).Error; err != nil {
		return nil, fmt.Errorf("load field mappings: %w", err)
	}
	for _, f := range fields {
		m := fieldFromRow(f)
		if err := s.SetFieldMapping(m); err != nil {
			// wiersz z nieznanym polem (np. po zmianie wersji) pomijamy, reszta działa
			continue
		}
	}

	var cats []db.CategoryMappingRow
	if err := r.db.WithContext(ctx).Where("connection_id = ?", conn.ID).Find(&cats).Error; err != nil {
		return nil, fmt.Errorf("load category mappings: %w", err)
	}
	for _, c := range cats {
		s.SetCategoryMapping(mapping.CategoryMapping{
			SupplierCategoryID: c.SupplierCategoryID,
			ClientCategoryID:   c.ClientCategoryID,
			ClientCategoryName: c.ClientCategoryName,
			AutoCreate:         c.AutoCreate,
		})
	}

	var attrs []db.AttributeMappingRow
	if err := r.db.WithContext(ctx).Where("connection_id = ?", conn.ID).Find(&attrs).Error; err != nil {
		return nil, fmt.Errorf("load attribute mappings: %w", err)
	}
	for _, a := range attrs {
		s.SetAttributeMapping(mapping.AttributeMapping{
			SupplierAttributeID: a.SupplierAttributeID,
			ClientAttributeID:   a.ClientAttributeID,
			ClientAttributeName: a.ClientAttributeName,
			AutoCreate:          a.AutoCreate,
		})
	}

	var vals []db.AttributeValueMappingRow
	if err := r.db.WithContext(ctx).Where("connection_id = ?", conn.ID).Find(&vals).Error; err != nil {
		return nil, fmt.Errorf("load attribute value mappings: %w", err)
	}
	for _, v := range vals {
		s.SetAttributeValueMapping(mapping.AttributeValueMapping{
			SupplierValueID: v.SupplierValueID,
			ClientValueID:   v.ClientValueID,
			ClientValueName: v.ClientValueName,
			AutoCreate:      v.AutoCreate,
		})
	}
	return s, nil
}

func fieldFromRow(f db.FieldMappingRow) mapping.FieldMapping {
	return mapping.FieldMapping{
		Source:           mapping.SourceField(f.SourceField),
		Target:           mapping.TargetField(f.TargetField),
		Mode:             mapping.SyncMode(f.SyncMode),
		ApplyCoefficient: f.ApplyCoefficient,
		Coefficient:      f.Coefficient,
		DefaultValue:     f.DefaultValue,
		DefaultApply:     mapping.DefaultApply(f.DefaultApply),
		Sequence:         f.Sequence,
		Active:           f.Active,
	}
}

// SaveField waliduje i zapisuje mapowanie; drugie mapowanie na ten sam cel zastępuje pierwsze.
func (r *Mappings) SaveField(ctx context.Context, connectionID uint, m mapping.FieldMapping) error {
	m = m.Normalized()
	if err := m.Validate(); err != nil {
		return err
	}
	row := db.FieldMappingRow{
		ConnectionID:     connectionID,
		TargetField:      string(m.Target),
		SourceField:      string(m.Source),
		SyncMode:         string(m.Mode),
		ApplyCoefficient: m.ApplyCoefficient,
		Coefficient:      m.Coefficient,
		DefaultValue:     m.DefaultValue,
		DefaultApply:     string(m.DefaultApply),
		Sequence:         m.Sequence,
		Active:           m.Active,
		UpdatedAt:        time.Now(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "connection_id"}, {Name: "target_field"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"source_field", "sync_mode", "apply_coefficient", "coefficient",
			"default_value", "default_apply", "sequence", "active", "updated_at",
		}),
	}).Create(&row).Error
}

func (r *Mappings) DeleteField(ctx context.Context, connectionID uint, target mapping.TargetField) error {
	res := r.db.WithContext(ctx).Where("connection_id = ? AND target_field = ?", connectionID, string(target)).
		Delete(&db.FieldMappingRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateDefaults dodaje domyślne mapowania tylko dla pól, które ich jeszcze nie mają.
func (r *Mappings) CreateDefaults(ctx context.Context, connectionID uint) (int, error) {
	var existing []string
	if err := r.db.WithContext(ctx).Model(&db.FieldMappingRow{}).
		Where("connection_id = ?", connectionID).Pluck("target_field", &existing).Error; err != nil {
		return 0, err
	}
	have := map[string]bool{}
	for _, t := range existing {
		have[t] = true
	}
	created := 0
	for _, m := range mapping.DefaultFieldMappings() {
		if have[string(m.Target)] {
			continue
		}
		if err := r.SaveField(ctx, connectionID, m); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

func (r *Mappings) SaveCategory(ctx context.Context, connectionID uint, m mapping.CategoryMapping) error {
	row := db.CategoryMappingRow{
		ConnectionID:       connectionID,
		SupplierCategoryID: m.SupplierCategoryID,
		ClientCategoryID:   m.ClientCategoryID,
		ClientCategoryName: m.ClientCategoryName,
		AutoCreate:         m.AutoCreate,
		UpdatedAt:          time.Now(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "connection_id"}, {Name: "supplier_category_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"client_category_id", "client_category_name", "auto_create", "updated_at"}),
	}).Create(&row).Error
}

func (r *Mappings) DeleteCategory(ctx context.Context, connectionID uint, supplierCategoryID int64) error {
	return r.db.WithContext(ctx).
		Where("connection_id = ? AND supplier_category_id = ?", connectionID, supplierCategoryID).
		Delete(&db.CategoryMappingRow{}).Error
}

// LearnCategory zapamiętuje id kategorii utworzonej albo znalezionej podczas synchronizacji.
func (r *Mappings) LearnCategory(ctx context.Context, connectionID uint, supplierCategoryID, clientID int64, name string) error {
	row := db.CategoryMappingRow{
		ConnectionID:       connectionID,
		SupplierCategoryID: supplierCategoryID,
		ClientCategoryID:   &clientID,
		ClientCategoryName: name,
		AutoCreate:         true,
		UpdatedAt:          time.Now(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "connection_id"}, {Name: "supplier_category_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"client_category_id", "client_category_name", "updated_at"}),
	}).Create(&row).Error
}

func (r *Mappings) LearnAttribute(ctx context.Context, connectionID uint, supplierAttributeID, clientID int64, name string) error {
	row := db.AttributeMappingRow{
		ConnectionID:        connectionID,
		SupplierAttributeID: supplierAttributeID,
		ClientAttributeID:   &clientID,
		ClientAttributeName: name,
		AutoCreate:          true,
		UpdatedAt:           time.Now(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "connection_id"}, {Name: "supplier_attribute_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"client_attribute_id", "client_attribute_name", "updated_at"}),
	}).Create(&row).Error
}

func (r *Mappings) LearnAttributeValue(ctx context.Context, connectionID uint, supplierValueID, clientID int64, name string) error {
	row := db.AttributeValueMappingRow{
		ConnectionID:    connectionID,
		SupplierValueID: supplierValueID,
		ClientValueID:   &clientID,
		ClientValueName: name,
		AutoCreate:      true,
		UpdatedAt:       time.Now(),
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "connection_id"}, {Name: "supplier_value_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"client_value_id", "client_value_name", "updated_at"}),
	}).Create(&row).Error
}
