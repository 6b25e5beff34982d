package planner

import (
	"errors"
	"strings"
	"time"

	"github.com/bartek5186/catalog2erp/internal/catalog"
	"github.com/bartek5186/catalog2erp/internal/mapping"
	"github.com/bartek5186/catalog2erp/internal/remote"
	"github.com/shopspring/decimal"
)

var (
	ErrPreviewNotFound = errors.New("preview not found or expired")
	ErrPreviewConsumed = errors.New("preview already executed")
)

// IncompleteMappingError: wymagane pole docelowe nie ma aktywnego mapowania ani wartości domyślnej.
type IncompleteMappingError struct {
	Fields []string
}

func (e *IncompleteMappingError) Error() string {
	return "incomplete mapping: no active mapping for " + strings.Join(e.Fields, ", ")
}

// requiredTargets muszą dać wartość przy tworzeniu produktu.
var requiredTargets = []mapping.TargetField{mapping.TargetName}

type SupplierInfoOptions struct {
	PartnerID   int64              `json:"partner_id"`
	PriceField  catalog.PriceField `json:"price_field"`
	Coefficient decimal.Decimal    `json:"coefficient"`
}

type Options struct {
	IncludeImages        bool                 `json:"include_images"`
	PreserveClientImages bool                 `json:"preserve_client_images"`
	AutoCreateCategories bool                 `json:"auto_create_categories"`
	SyncVariants         bool                 `json:"sync_variants"`
	SupplierInfo         *SupplierInfoOptions `json:"supplier_info,omitempty"`
}

type Request struct {
	ClientID     uint
	ConnectionID uint
	Selection    []catalog.Ref
	Target       remote.Target
	Options      Options
}

// Staged to kategoria, atrybut albo wartość po stronie klienta: znana (ClientID)
// albo do utworzenia dopiero przy wykonaniu (Create).
type Staged struct {
	SupplierID int64  `json:"supplier_id"`
	Name       string `json:"name"`
	ClientID   int64  `json:"client_id,omitempty"`
	Create     bool   `json:"create,omitempty"`
}

// LinePlan to atrybut szablonu z wartościami użytymi przez wybrane warianty.
type LinePlan struct {
	Attribute Staged   `json:"attribute"`
	Values    []Staged `json:"values"`
}

type FieldChange struct {
	Field   string `json:"field"`
	Before  any    `json:"before,omitempty"`
	After   any    `json:"after"`
	IfEmpty bool   `json:"if_empty,omitempty"`
}

// Change to jedna zaplanowana pozycja podglądu (szablon albo wariant).
type Change struct {
	Seq          int                  `json:"seq"`
	ProductID    int64                `json:"product_id"`
	VariantID    int64                `json:"variant_id,omitempty"`
	Name         string               `json:"name"`
	Action       mapping.Action       `json:"action"`
	Reason       string               `json:"reason,omitempty"`
	ExternalKey  string               `json:"external_key,omitempty"`
	RemoteID     int64                `json:"remote_id,omitempty"`
	Category     *Staged              `json:"category,omitempty"`
	Values       remote.Values        `json:"-"`
	IfEmpty      []string             `json:"if_empty,omitempty"`
	Changes      []FieldChange        `json:"changes,omitempty"`
	Lines        []LinePlan           `json:"attribute_lines,omitempty"`
	ValueRefs    []Staged             `json:"attribute_values,omitempty"`
	SupplierInfo *remote.SupplierInfo `json:"supplier_info,omitempty"`
	Warnings     []string             `json:"warnings,omitempty"`
}

func (c Change) IsVariant() bool { return c.VariantID != 0 }

type Summary struct {
	Total              int      `json:"total"`
	Create             int      `json:"create"`
	Update             int      `json:"update"`
	Skip               int      `json:"skip"`
	CategoriesToCreate []string `json:"categories_to_create,omitempty"`
	Warnings           int      `json:"warnings"`
}

// Preview jest migawką: zmiany mapowań po zbudowaniu nie mają na nią wpływu.
type Preview struct {
	ID           string                `json:"preview_id"`
	ClientID     uint                  `json:"client_id"`
	ConnectionID uint                  `json:"connection_id"`
	Target       remote.Target         `json:"-"`
	Options      Options               `json:"options"`
	Reference    mapping.ReferenceRule `json:"reference"`
	Rows         []Change              `json:"rows"`
	Summary      Summary               `json:"summary"`
	CreatedAt    time.Time             `json:"created_at"`
	ExpiresAt    time.Time             `json:"expires_at"`
}

func (p *Preview) summarize() {
	s := Summary{Total: len(p.Rows)}
	seen := map[string]bool{}
	for _, r := range p.Rows {
		switch r.Action {
		case mapping.ActionCreate:
			s.Create++
		case mapping.ActionUpdate:
			s.Update++
		default:
			s.Skip++
		}
		s.Warnings += len(r.Warnings)
		if r.Category != nil && r.Category.Create && !seen[r.Category.Name] {
			seen[r.Category.Name] = true
			s.CategoriesToCreate = append(s.CategoriesToCreate, r.Category.Name)
		}
	}
	p.Summary = s
}

// clone kopiuje podgląd razem z wierszami; Values wierszy są współdzielone, ale nikt ich nie modyfikuje.
func (p *Preview) clone() *Preview {
	c := *p
	c.Rows = append([]Change(nil), p.Rows...)
	return &c
}
