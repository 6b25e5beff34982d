package mapping

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Store trzyma mapowania jednego połączenia. Nie robi I/O; zapis i odczyt
// z bazy jest po stronie repozytorium. Nie jest bezpieczny współbieżnie:
// planner pracuje na Snapshot().
type Store struct {
	fields     map[TargetField]FieldMapping
	categories map[int64]CategoryMapping
	attributes map[int64]AttributeMapping
	values     map[int64]AttributeValueMapping
	Reference  ReferenceRule
}

func NewStore() *Store {
	return &Store{
		fields:     map[TargetField]FieldMapping{},
		categories: map[int64]CategoryMapping{},
		attributes: map[int64]AttributeMapping{},
		values:     map[int64]AttributeValueMapping{},
		Reference:  ReferenceRule{Mode: RefKeepOriginal},
	}
}

// SetFieldMapping dodaje albo zastępuje mapowanie dla pola docelowego,
// więc na jedno pole przypada najwyżej jedno aktywne mapowanie.
func (s *Store) SetFieldMapping(m FieldMapping) error {
	m = m.Normalized()
	if err := m.Validate(); err != nil {
		return err
	}
	s.fields[m.Target] = m
	return nil
}

func (s *Store) RemoveFieldMapping(t TargetField) {
	delete(s.fields, t)
}

// ResolveFieldMapping zwraca aktywne mapowanie dla pola albo false.
func (s *Store) ResolveFieldMapping(t TargetField) (FieldMapping, bool) {
	m, ok := s.fields[t]
	if !ok || !m.Active {
		return FieldMapping{}, false
	}
	return m, true
}

// FieldMappings zwraca wszystkie mapowania posortowane po sekwencji.
func (s *Store) FieldMappings() []FieldMapping {
	out := make([]FieldMapping, 0, len(s.fields))
	for _, m := range s.fields {
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Sequence != out[j].Sequence {
			return out[i].Sequence < out[j].Sequence
		}
		return out[i].Target < out[j].Target
	})
	return out
}

func (s *Store) SetCategoryMapping(m CategoryMapping) {
	s.categories[m.SupplierCategoryID] = m
}

func (s *Store) RemoveCategoryMapping(supplierCategoryID int64) {
	delete(s.categories, supplierCategoryID)
}

func (s *Store) CategoryMappings() []CategoryMapping {
	out := make([]CategoryMapping, 0, len(s.categories))
	for _, m := range s.categories {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SupplierCategoryID < out[j].SupplierCategoryID })
	return out
}

// ResolveCategory: mapowanie z id -> Mapped, mapowanie z auto_create -> AutoCreate,
// brak mapowania -> AutoCreate tylko gdy autoCreate, inaczej None.
func (s *Store) ResolveCategory(cat Named, autoCreate bool) Resolution {
	m, ok := s.categories[cat.ID]
	return resolve(m.ClientCategoryID, m.ClientCategoryName, m.AutoCreate, ok, cat, autoCreate)
}

func (s *Store) SetAttributeMapping(m AttributeMapping) {
	s.attributes[m.SupplierAttributeID] = m
}

func (s *Store) AttributeMappings() []AttributeMapping {
	out := make([]AttributeMapping, 0, len(s.attributes))
	for _, m := range s.attributes {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SupplierAttributeID < out[j].SupplierAttributeID })
	return out
}

// Atrybuty i wartości bez mapowania zawsze są auto-tworzone (wariant bez nich nie istnieje).
func (s *Store) ResolveAttribute(attr Named) Resolution {
	m, ok := s.attributes[attr.ID]
	return resolve(m.ClientAttributeID, m.ClientAttributeName, m.AutoCreate, ok, attr, true)
}

func (s *Store) SetAttributeValueMapping(m AttributeValueMapping) {
	s.values[m.SupplierValueID] = m
}

func (s *Store) AttributeValueMappings() []AttributeValueMapping {
	out := make([]AttributeValueMapping, 0, len(s.values))
	for _, m := range s.values {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SupplierValueID < out[j].SupplierValueID })
	return out
}

func (s *Store) ResolveAttributeValue(val Named) Resolution {
	m, ok := s.values[val.ID]
	return resolve(m.ClientValueID, m.ClientValueName, m.AutoCreate, ok, val, true)
}

// ResolveReference liczy referencję wg reguły połączenia.
func (s *Store) ResolveReference(in ReferenceInput) (string, error) {
	return s.Reference.Resolve(in)
}

// Snapshot zwraca niezależną kopię: późniejsze zmiany w Store nie wpływają na podgląd.
func (s *Store) Snapshot() *Store {
	c := NewStore()
	for k, v := range s.fields {
		if v.DefaultValue != nil {
			d := *v.DefaultValue
			v.DefaultValue = &d
		}
		c.fields[k] = v
	}
	for k, v := range s.categories {
		c.categories[k] = v
	}
	for k, v := range s.attributes {
		c.attributes[k] = v
	}
	for k, v := range s.values {
		c.values[k] = v
	}
	c.Reference = s.Reference
	return c
}

// DefaultFieldMappings daje po jednym mapowaniu na każde znane pole docelowe:
// źródło o tej samej nazwie, tryb always, współczynnik 1.
func DefaultFieldMappings() []FieldMapping {
	out := make([]FieldMapping, 0, len(targetOrder))
	for i, t := range targetOrder {
		out = append(out, FieldMapping{
			Source:       SourceField(t),
			Target:       t,
			Mode:         ModeAlways,
			Coefficient:  decimal.NewFromInt(1),
			DefaultApply: ApplyNever,
			Sequence:     (i + 1) * 10,
			Active:       true,
		})
	}
	return out
}
