package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/bartek5186/catalog2erp/internal/db"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("catalog: not found")

// Repository czyta katalog dostawcy i dane klientów portalu.
type Repository struct {
	db *gorm.DB
}

func NewRepository(gdb *gorm.DB) *Repository {
	return &Repository{db: gdb}
}

func (r *Repository) Client(ctx context.Context, id uint) (*db.Client, error) {
	var c db.Client
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// ClientByToken rozwiązuje tożsamość klienta portalu po tokenie dostępu.
func (r *Repository) ClientByToken(ctx context.Context, token string) (*db.Client, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	var c db.Client
	err := r.db.WithContext(ctx).Where("access_token = ? AND active = ?", token, true).Take(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &c, err
}

// Product ładuje produkt z kategorią, wariantami i wartościami atrybutów.
func (r *Repository) Product(ctx context.Context, id int64) (*Product, error) {
	var p db.Product
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	out := &Product{Product: p}

	if p.CategoryID != nil {
		var c db.Category
		if err := r.db.WithContext(ctx).Where("id = ?", *p.CategoryID).Take(&c).Error; err == nil {
			out.Category = &c
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	var vars []db.Variant
	if err := r.db.WithContext(ctx).Where("product_id = ?", id).Order("id").Find(&vars).Error; err != nil {
		return nil, err
	}
	if len(vars) == 0 {
		return out, nil
	}

	ids := make([]int64, 0, len(vars))
	for _, v := range vars {
		ids = append(ids, v.ID)
	}
	var rows []struct {
		VariantID     int64
		AttributeID   int64
		AttributeName string
		ValueID       int64
		ValueName     string
	}
	err := r.db.WithContext(ctx).Table("variant_values vv").
		Select("vv.variant_id, av.attribute_id, a.name AS attribute_name, av.id AS value_id, av.name AS value_name").
		Joins("JOIN attribute_values av ON av.id = vv.value_id").
		Joins("JOIN attributes a ON a.id = av.attribute_id").
		Where("vv.variant_id IN ?", ids).
		Order("vv.variant_id, av.attribute_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("variant values: %w", err)
	}
	byVariant := map[int64][]AttributeValue{}
	for _, row := range rows {
		byVariant[row.VariantID] = append(byVariant[row.VariantID], AttributeValue{
			AttributeID:   row.AttributeID,
			AttributeName: row.AttributeName,
			ValueID:       row.ValueID,
			ValueName:     row.ValueName,
		})
	}
	for _, v := range vars {
		out.Variants = append(out.Variants, Variant{Variant: v, Values: byVariant[v.ID]})
	}
	return out, nil
}

// Accessible: produkt aktywny i w kategorii, którą klient widzi.
func (r *Repository) Accessible(ctx context.Context, clientID uint, p *Product) (bool, error) {
	if p == nil || !p.Active {
		return false, nil
	}
	c, err := r.Client(ctx, clientID)
	if err != nil {
		return false, err
	}
	if !c.Active {
		return false, nil
	}
	if c.AllCategories {
		return true, nil
	}
	if p.CategoryID == nil {
		return false, nil
	}
	var n int64
	err = r.db.WithContext(ctx).Model(&db.ClientCategory{}).
		Where("client_id = ? AND category_id = ?", clientID, *p.CategoryID).
		Count(&n).Error
	return n > 0, err
}

// Price zwraca cenę z cennika klienta.
func (r *Repository) Price(ctx context.Context, clientID uint, p *Product) (decimal.Decimal, error) {
	c, err := r.Client(ctx, clientID)
	if err != nil {
		return decimal.Zero, err
	}
	var cp db.ClientPrice
	err = r.db.WithContext(ctx).Where("client_id = ? AND product_id = ?", clientID, p.ID).Take(&cp).Error
	switch {
	case err == nil:
		return DiscountedPrice(p.ListPrice, &cp.Price, c.DiscountPercent), nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return DiscountedPrice(p.ListPrice, nil, c.DiscountPercent), nil
	default:
		return decimal.Zero, err
	}
}

// AccessibleProducts ładuje wiele produktów naraz, pomijając niedostępne.
func (r *Repository) AccessibleProducts(ctx context.Context, clientID uint, ids []int64) ([]*Product, error) {
	out := make([]*Product, 0, len(ids))
	for _, id := range ids {
		p, err := r.Product(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		ok, err := r.Accessible(ctx, clientID, p)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, p)
		}
	}
	return out, nil
}
