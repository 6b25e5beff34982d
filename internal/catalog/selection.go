package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bartek5186/catalog2erp/internal/db"
	"gorm.io/gorm"
)

// Selections obsługuje zapisane selekcje produktów i bieżący koszyk klienta.
type Selections struct {
	db *gorm.DB
}

func NewSelections(gdb *gorm.DB) *Selections {
	return &Selections{db: gdb}
}

type SavedSummary struct {
	ID        uint   `json:"id"`
	Name      string `json:"name"`
	Count     int    `json:"count"`
	CreatedAt string `json:"created_at"`
}

func (s *Selections) Save(ctx context.Context, clientID uint, name string, refs []Ref) (uint, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("selection name required")
	}
	if len(refs) == 0 {
		return 0, fmt.Errorf("selection is empty")
	}
	sel := db.SavedSelection{ClientID: clientID, Name: name}
	for i, r := range refs {
		sel.Items = append(sel.Items, db.SavedSelectionItem{Position: i, ProductID: r.ProductID, VariantID: r.VariantID})
	}
	if err := s.db.WithContext(ctx).Create(&sel).Error; err != nil {
		return 0, fmt.Errorf("save selection: %w", err)
	}
	return sel.ID, nil
}

func (s *Selections) List(ctx context.Context, clientID uint) ([]SavedSummary, error) {
	var rows []db.SavedSelection
	if err := s.db.WithContext(ctx).Preload("Items").
		Where("client_id = ?", clientID).Order("created_at DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]SavedSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, SavedSummary{ID: r.ID, Name: r.Name, Count: len(r.Items), CreatedAt: r.CreatedAt.Format("2006-01-02 15:04")})
	}
	return out, nil
}

// Load zastępuje bieżący koszyk zapisaną selekcją i zwraca jej referencje w kolejności.
func (s *Selections) Load(ctx context.Context, clientID, selectionID uint) ([]Ref, error) {
	var sel db.SavedSelection
	err := s.db.WithContext(ctx).
		Preload("Items", func(tx *gorm.DB) *gorm.DB { return tx.Order("position") }).
		Where("id = ? AND client_id = ?", selectionID, clientID).Take(&sel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	refs := make([]Ref, 0, len(sel.Items))
	for _, it := range sel.Items {
		refs = append(refs, Ref{ProductID: it.ProductID, VariantID: it.VariantID})
	}
	if err := s.SetCurrent(ctx, clientID, refs); err != nil {
		return nil, err
	}
	return refs, nil
}

func (s *Selections) Delete(ctx context.Context, clientID, selectionID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND client_id = ?", selectionID, clientID).Delete(&db.SavedSelection{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("selection_id = ?", selectionID).Delete(&db.SavedSelectionItem{}).Error
	})
}

func (s *Selections) Current(ctx context.Context, clientID uint) ([]Ref, error) {
	var rows []db.CurrentSelection
	if err := s.db.WithContext(ctx).Where("client_id = ?", clientID).Order("position").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Ref, 0, len(rows))
	for _, r := range rows {
		out = append(out, Ref{ProductID: r.ProductID, VariantID: r.VariantID})
	}
	return out, nil
}

func (s *Selections) SetCurrent(ctx context.Context, clientID uint, refs []Ref) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("client_id = ?", clientID).Delete(&db.CurrentSelection{}).Error; err != nil {
			return err
		}
		if len(refs) == 0 {
			return nil
		}
		rows := make([]db.CurrentSelection, 0, len(refs))
		for i, r := range refs {
			rows = append(rows, db.CurrentSelection{ClientID: clientID, Position: i, ProductID: r.ProductID, VariantID: r.VariantID})
		}
		return tx.Create(&rows).Error
	})
}

// GroupRefs składa referencje w kolejności pierwszego wystąpienia produktu;
// warianty z selekcji trafiają do listy przy produkcie.
func GroupRefs(refs []Ref) ([]int64, map[int64][]int64) {
	var order []int64
	variants := map[int64][]int64{}
	seen := map[int64]bool{}
	for _, r := range refs {
		if !seen[r.ProductID] {
			seen[r.ProductID] = true
			order = append(order, r.ProductID)
		}
		if r.VariantID != 0 {
			variants[r.ProductID] = append(variants[r.ProductID], r.VariantID)
		}
	}
	return order, variants
}
