package catalog

import (
	"github.com/bartek5186/catalog2erp/internal/db"
	"github.com/bartek5186/catalog2erp/internal/mapping"
	"github.com/shopspring/decimal"
)

// Ref wskazuje produkt (VariantID == 0) albo konkretny wariant w selekcji.
type Ref struct {
	ProductID int64 `json:"product_id"`
	VariantID int64 `json:"variant_id,omitempty"`
}

// Product to produkt dostawcy razem z kategorią i wariantami.
type Product struct {
	db.Product
	Category *db.Category
	Variants []Variant
}

type Variant struct {
	db.Variant
	Values []AttributeValue
}

type AttributeValue struct {
	AttributeID   int64  `json:"attribute_id"`
	AttributeName string `json:"attribute_name"`
	ValueID       int64  `json:"value_id"`
	ValueName     string `json:"value_name"`
}

// Field zwraca wartość pola źródłowego w typach oczekiwanych przez mapping.
func (p *Product) Field(f mapping.SourceField) any {
	switch f {
	case mapping.SourceName:
		return p.Name
	case mapping.SourceDefaultCode:
		return p.Code
	case mapping.SourceListPrice:
		return p.ListPrice
	case mapping.SourceStandardPrice:
		return p.StandardPrice
	case mapping.SourceBarcode:
		return p.Barcode
	case mapping.SourceWeight:
		return p.Weight
	case mapping.SourceVolume:
		return p.Volume
	case mapping.SourceDescriptionSale:
		return p.DescriptionSale
	case mapping.SourceDescription:
		return p.Description
	case mapping.SourceDescriptionPurchase:
		return p.DescriptionPurchase
	case mapping.SourceType:
		if p.Type == "" {
			return "consu"
		}
		return p.Type
	case mapping.SourceSaleOK:
		return p.SaleOK
	case mapping.SourcePurchaseOK:
		return p.PurchaseOK
	case mapping.SourceIsPublished:
		return p.IsPublished
	}
	return nil
}

func (p *Product) CategoryNamed() (mapping.Named, bool) {
	if p.Category == nil {
		return mapping.Named{}, false
	}
	return mapping.Named{ID: p.Category.ID, Name: p.Category.Name}, true
}

// VariantsFor zwraca warianty z selekcji; pusta lista id = wszystkie aktywne.
func (p *Product) VariantsFor(ids []int64) []Variant {
	if len(ids) == 0 {
		out := make([]Variant, 0, len(p.Variants))
		for _, v := range p.Variants {
			if v.Active {
				out = append(out, v)
			}
		}
		return out
	}
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []Variant
	for _, v := range p.Variants {
		if want[v.ID] {
			out = append(out, v)
		}
	}
	return out
}

// PriceField to źródło ceny dla supplier info.
type PriceField string

const (
	PriceList      PriceField = "list_price"
	PriceStandard  PriceField = "standard_price"
	PricePricelist PriceField = "pricelist"
)

// DiscountedPrice liczy cenę cennikową klienta: nadpisanie albo rabat procentowy.
func DiscountedPrice(list decimal.Decimal, override *decimal.Decimal, discountPercent decimal.Decimal) decimal.Decimal {
	if override != nil {
		return *override
	}
	if discountPercent.IsZero() {
		return list
	}
	hundred := decimal.NewFromInt(100)
	return list.Mul(hundred.Sub(discountPercent)).Div(hundred).Round(4)
}
