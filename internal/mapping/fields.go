package mapping

import (
	"strings"

	"github.com/shopspring/decimal"
)

// SourceField to pole produktu dostawcy, z którego czytamy wartość.
type SourceField string

const (
	SourceNone                SourceField = "_none"
	SourceName                SourceField = "name"
	SourceDefaultCode         SourceField = "default_code"
	SourceListPrice           SourceField = "list_price"
	SourceStandardPrice       SourceField = "standard_price"
	SourceBarcode             SourceField = "barcode"
	SourceWeight              SourceField = "weight"
	SourceVolume              SourceField = "volume"
	SourceDescriptionSale     SourceField = "description_sale"
	SourceDescription         SourceField = "description"
	SourceDescriptionPurchase SourceField = "description_purchase"
	SourceType                SourceField = "type"
	SourceSaleOK              SourceField = "sale_ok"
	SourcePurchaseOK          SourceField = "purchase_ok"
	SourceIsPublished         SourceField = "is_published"
)

var sourceFields = []SourceField{
	SourceNone, SourceName, SourceDefaultCode, SourceListPrice, SourceStandardPrice,
	SourceBarcode, SourceWeight, SourceVolume, SourceDescriptionSale, SourceDescription,
	SourceDescriptionPurchase, SourceType, SourceSaleOK, SourcePurchaseOK, SourceIsPublished,
}

func (s SourceField) Valid() bool {
	for _, f := range sourceFields {
		if f == s {
			return true
		}
	}
	return false
}

// SourceFields zwraca znane pola źródłowe w stałej kolejności.
func SourceFields() []SourceField {
	out := make([]SourceField, len(sourceFields))
	copy(out, sourceFields)
	return out
}

// TargetField to pole produktu po stronie instancji klienta.
// Kategoria nie jest tu celem: obsługuje ją CategoryMapping.
type TargetField string

const (
	TargetName                TargetField = "name"
	TargetDefaultCode         TargetField = "default_code"
	TargetListPrice           TargetField = "list_price"
	TargetStandardPrice       TargetField = "standard_price"
	TargetBarcode             TargetField = "barcode"
	TargetWeight              TargetField = "weight"
	TargetVolume              TargetField = "volume"
	TargetDescriptionSale     TargetField = "description_sale"
	TargetDescription         TargetField = "description"
	TargetDescriptionPurchase TargetField = "description_purchase"
	TargetType                TargetField = "type"
	TargetSaleOK              TargetField = "sale_ok"
	TargetPurchaseOK          TargetField = "purchase_ok"
	TargetIsPublished         TargetField = "is_published"
)

type Kind string

const (
	KindChar      Kind = "char"
	KindText      Kind = "text"
	KindFloat     Kind = "float"
	KindSelection Kind = "selection"
	KindBoolean   Kind = "boolean"
)

var targetKinds = map[TargetField]Kind{
	TargetName:                KindChar,
	TargetDefaultCode:         KindChar,
	TargetListPrice:           KindFloat,
	TargetStandardPrice:       KindFloat,
	TargetBarcode:             KindChar,
	TargetWeight:              KindFloat,
	TargetVolume:              KindFloat,
	TargetDescriptionSale:     KindText,
	TargetDescription:         KindText,
	TargetDescriptionPurchase: KindText,
	TargetType:                KindSelection,
	TargetSaleOK:              KindBoolean,
	TargetPurchaseOK:          KindBoolean,
	TargetIsPublished:         KindBoolean,
}

var targetOrder = []TargetField{
	TargetName, TargetDefaultCode, TargetListPrice, TargetStandardPrice, TargetBarcode,
	TargetWeight, TargetVolume, TargetDescriptionSale, TargetDescription,
	TargetDescriptionPurchase, TargetType, TargetSaleOK, TargetPurchaseOK, TargetIsPublished,
}

func (t TargetField) Valid() bool {
	_, ok := targetKinds[t]
	return ok
}

func (t TargetField) Kind() Kind { return targetKinds[t] }

func (t TargetField) Numeric() bool { return targetKinds[t] == KindFloat }

// TargetFields zwraca znane pola docelowe w kolejności wyświetlania.
func TargetFields() []TargetField {
	out := make([]TargetField, len(targetOrder))
	copy(out, targetOrder)
	return out
}

// SyncMode decyduje, przy jakiej akcji mapowanie jest stosowane.
type SyncMode string

const (
	ModeAlways     SyncMode = "always"
	ModeCreateOnly SyncMode = "create_only"
	ModeUpdateOnly SyncMode = "update_only"
	ModeIfEmpty    SyncMode = "if_empty"
)

func (m SyncMode) Valid() bool {
	switch m {
	case ModeAlways, ModeCreateOnly, ModeUpdateOnly, ModeIfEmpty:
		return true
	}
	return false
}

// DefaultApply mówi, kiedy użyć wartości domyślnej zamiast źródła.
type DefaultApply string

const (
	ApplyNever   DefaultApply = "never"
	ApplyIfEmpty DefaultApply = "if_empty"
	ApplyAlways  DefaultApply = "always"
)

func (a DefaultApply) Valid() bool {
	switch a {
	case ApplyNever, ApplyIfEmpty, ApplyAlways:
		return true
	}
	return false
}

// Action to klasyfikacja wiersza podglądu.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionSkip   Action = "skip"
)

// Fielder udostępnia wartości pól źródłowych produktu.
// Wartości: string, decimal.Decimal, bool albo nil.
type Fielder interface {
	Field(SourceField) any
}

// IsEmpty odpowiada "pustej" wartości źródła: nil, "", 0, false.
func IsEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case decimal.Decimal:
		return x.IsZero()
	case bool:
		return !x
	case int64:
		return x == 0
	case int:
		return x == 0
	case float64:
		return x == 0
	}
	return false
}

// ConvertDefault zamienia tekstową wartość domyślną na typ pola docelowego.
func ConvertDefault(t TargetField, raw string) any {
	switch t.Kind() {
	case KindFloat:
		d, err := decimal.NewFromString(strings.TrimSpace(strings.ReplaceAll(raw, ",", ".")))
		if err != nil {
			return decimal.Zero
		}
		return d
	case KindBoolean:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "true", "1", "yes", "oui", "tak":
			return true
		}
		return false
	default:
		return raw
	}
}
