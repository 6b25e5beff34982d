package planner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/bartek5186/catalog2erp/internal/catalog"
	"github.com/bartek5186/catalog2erp/internal/mapping"
	"github.com/bartek5186/catalog2erp/internal/remote"
	"github.com/bartek5186/catalog2erp/internal/repository"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Catalog to źródło produktów dostawcy razem z kontrolą dostępu i cennikiem klienta.
type Catalog interface {
	Product(ctx context.Context, id int64) (*catalog.Product, error)
	Accessible(ctx context.Context, clientID uint, p *catalog.Product) (bool, error)
	Price(ctx context.Context, clientID uint, p *catalog.Product) (decimal.Decimal, error)
}

// Links zwraca wcześniejsze powiązania produktów z rekordami klienta.
type Links interface {
	ForProducts(ctx context.Context, connectionID uint, productIDs []int64) (map[repository.LinkKey]repository.Link, error)
}

type Planner struct {
	log     zerolog.Logger
	catalog Catalog
	links   Links
	now     func() time.Time
}

func New(log zerolog.Logger, cat Catalog, links Links) *Planner {
	return &Planner{
		log:     log.With().Str("component", "planner").Logger(),
		catalog: cat,
		links:   links,
		now:     time.Now,
	}
}

// spadek ceny powyżej tego progu dostaje ostrzeżenie
var priceDropWarn = decimal.RequireFromString("0.9")

// BuildPreview buduje podgląd bez żadnych zapisów po stronie klienta.
// Sesja służy tylko do odczytu list kategorii i atrybutów; może być nil.
func (p *Planner) BuildPreview(ctx context.Context, req Request, store *mapping.Store, session remote.Session) (*Preview, error) {
	if len(req.Selection) == 0 {
		return nil, &mapping.ValidationError{Field: "selection", Reason: "no products selected"}
	}
	snap := store.Snapshot()
	if err := snap.Reference.Validate(); err != nil {
		return nil, err
	}
	if err := checkRequired(snap); err != nil {
		return nil, err
	}

	ids, variantSel := catalog.GroupRefs(req.Selection)
	links, err := p.links.ForProducts(ctx, req.ConnectionID, ids)
	if err != nil {
		return nil, fmt.Errorf("load links: %w", err)
	}

	b := &builder{
		req:   req,
		store: snap,
		links: links,
		cache: newReadCache(session),
		cat:   p.catalog,
		keys:  map[string]int64{},
	}
	now := p.now()
	prev := &Preview{
		ClientID:     req.ClientID,
		ConnectionID: req.ConnectionID,
		Target:       req.Target,
		Options:      req.Options,
		Reference:    snap.Reference,
		CreatedAt:    now,
	}
	for _, id := range ids {
		rows, err := b.product(ctx, id, variantSel[id])
		if err != nil {
			return nil, fmt.Errorf("plan product %d: %w", id, err)
		}
		prev.Rows = append(prev.Rows, rows...)
	}
	for i := range prev.Rows {
		prev.Rows[i].Seq = i + 1
	}
	prev.summarize()

	p.log.Info().
		Uint("client_id", req.ClientID).
		Int("rows", prev.Summary.Total).
		Int("create", prev.Summary.Create).
		Int("update", prev.Summary.Update).
		Int("skip", prev.Summary.Skip).
		Msg("preview built")
	return prev, nil
}

func checkRequired(s *mapping.Store) error {
	var missing []string
	for _, t := range requiredTargets {
		m, ok := s.ResolveFieldMapping(t)
		if !ok || !m.Produces() {
			missing = append(missing, string(t))
		}
	}
	if len(missing) > 0 {
		return &IncompleteMappingError{Fields: missing}
	}
	return nil
}

type builder struct {
	req   Request
	store *mapping.Store
	links map[repository.LinkKey]repository.Link
	cache *readCache
	cat   Catalog
	keys  map[string]int64 // referencja -> produkt, w obrębie jednego podglądu
}

func skipRow(productID int64, name, reason string) Change {
	return Change{ProductID: productID, Name: name, Action: mapping.ActionSkip, Reason: reason}
}

func (b *builder) product(ctx context.Context, id int64, variantIDs []int64) ([]Change, error) {
	prod, err := b.cat.Product(ctx, id)
	if errors.Is(err, catalog.ErrNotFound) {
		return []Change{skipRow(id, "product "+strconv.FormatInt(id, 10), "product not found")}, nil
	}
	if err != nil {
		return nil, err
	}
	ok, err := b.cat.Accessible(ctx, b.req.ClientID, prod)
	if err != nil {
		return nil, err
	}
	if !ok {
		reason := "product not available for this client"
		if !prod.Active {
			reason = "product is archived"
		}
		return []Change{skipRow(id, prod.Name, reason)}, nil
	}

	row, err := b.template(ctx, prod)
	if err != nil {
		return nil, err
	}
	out := []Change{row}

	if !b.req.Options.SyncVariants || len(prod.Variants) == 0 {
		return out, nil
	}
	variants := prod.VariantsFor(variantIDs)
	if len(variants) == 0 {
		return out, nil
	}
	lines, byValue, err := b.lines(ctx, variants)
	if err != nil {
		return nil, err
	}
	out[0].Lines = lines
	for _, v := range variants {
		out = append(out, b.variant(prod, v, byValue))
	}
	return out, nil
}

func (b *builder) template(ctx context.Context, prod *catalog.Product) (Change, error) {
	link, linked := b.links[repository.LinkKey{ProductID: prod.ID}]
	action := mapping.ActionCreate
	if linked {
		action = mapping.ActionUpdate
	}

	ref, err := b.store.ResolveReference(mapping.ReferenceInput{ID: prod.ID, Code: prod.Code})
	if err != nil {
		return Change{}, err
	}
	if ref == "" {
		ref = mapping.ExternalKey(b.req.ClientID, prod.ID)
	}
	var dupWarn string
	if other, used := b.keys[ref]; used && other != prod.ID {
		fallback := mapping.ExternalKey(b.req.ClientID, prod.ID)
		dupWarn = fmt.Sprintf("reference %q is already used by product %d, using %s", ref, other, fallback)
		ref = fallback
	}
	b.keys[ref] = prod.ID

	row := Change{
		ProductID:   prod.ID,
		Name:        prod.Name,
		Action:      action,
		ExternalKey: ref,
		Values:      remote.Values{},
	}
	if dupWarn != "" {
		row.Warnings = append(row.Warnings, dupWarn)
	}
	if linked {
		row.RemoteID = link.RemoteID
	}

	for _, m := range b.store.FieldMappings() {
		// default_code wynika z reguły referencji
		if !m.Active || m.Target == mapping.TargetDefaultCode || !m.AppliesTo(action) {
			continue
		}
		v := m.Resolve(prod)
		if v == nil {
			continue
		}
		ifEmpty := m.Mode == mapping.ModeIfEmpty && action == mapping.ActionUpdate
		b.set(&row, link.LastValues, string(m.Target), v, ifEmpty)
	}
	b.set(&row, link.LastValues, "default_code", ref, false)

	if b.req.Options.IncludeImages && prod.Image != "" {
		preserve := action == mapping.ActionUpdate && b.req.Options.PreserveClientImages
		row.Values["image_1920"] = prod.Image
		row.Changes = append(row.Changes, FieldChange{Field: "image_1920", After: "(image)", IfEmpty: preserve})
		if preserve {
			row.IfEmpty = append(row.IfEmpty, "image_1920")
		}
	}

	if cat, ok := prod.CategoryNamed(); ok {
		staged, warn, err := b.category(ctx, cat)
		if err != nil {
			return Change{}, err
		}
		row.Category = staged
		if warn != "" {
			row.Warnings = append(row.Warnings, warn)
		}
	}

	if si := b.req.Options.SupplierInfo; si != nil && si.PartnerID > 0 {
		info, err := b.supplierInfo(ctx, prod, si)
		if err != nil {
			return Change{}, err
		}
		row.SupplierInfo = info
	}

	if action == mapping.ActionUpdate {
		row.Warnings = append(row.Warnings, priceWarnings(row, link.LastValues)...)
	}
	return row, nil
}

// set dodaje wartość do zapisu i do listy zmian (przed/po).
func (b *builder) set(row *Change, last map[string]any, field string, v any, ifEmpty bool) {
	row.Values[field] = v
	if ifEmpty {
		row.IfEmpty = append(row.IfEmpty, field)
	}
	before, had := last[field]
	if had && sameValue(before, v) {
		return
	}
	fc := FieldChange{Field: field, After: v, IfEmpty: ifEmpty}
	if had {
		fc.Before = before
	}
	row.Changes = append(row.Changes, fc)
}

// sameValue porównuje wartość bieżącą z zapisaną w linku (po JSON-ie liczby to stringi albo float64).
func sameValue(before, after any) bool {
	return normalize(before) == normalize(after)
}

func normalize(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case decimal.Decimal:
		return x.String()
	case float64:
		return decimal.NewFromFloat(x).String()
	case string:
		if d, err := decimal.NewFromString(x); err == nil {
			return d.String()
		}
		return x
	}
	return fmt.Sprint(v)
}

func asDecimal(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, true
	case float64:
		return decimal.NewFromFloat(x), true
	case string:
		d, err := decimal.NewFromString(x)
		return d, err == nil
	}
	return decimal.Zero, false
}

func priceWarnings(row Change, last map[string]any) []string {
	var out []string
	for _, f := range []string{"list_price", "standard_price"} {
		after, ok := asDecimal(row.Values[f])
		if !ok {
			continue
		}
		before, ok := asDecimal(last[f])
		if !ok || !before.IsPositive() {
			continue
		}
		if after.LessThan(before.Mul(priceDropWarn)) {
			out = append(out, fmt.Sprintf("%s drops by more than 10%% (%s -> %s)", f, before.StringFixed(2), after.StringFixed(2)))
		}
	}
	return out
}

func (b *builder) category(ctx context.Context, cat mapping.Named) (*Staged, string, error) {
	res := b.store.ResolveCategory(cat, b.req.Options.AutoCreateCategories)
	switch res.Kind {
	case mapping.ResolvedMapped:
		return &Staged{SupplierID: cat.ID, Name: res.Name, ClientID: res.ClientID}, "", nil
	case mapping.ResolvedAutoCreate:
		id, err := b.cache.categoryID(ctx, res.Name)
		if err != nil {
			return nil, "", err
		}
		if id > 0 {
			return &Staged{SupplierID: cat.ID, Name: res.Name, ClientID: id}, "", nil
		}
		return &Staged{SupplierID: cat.ID, Name: res.Name, Create: true}, "", nil
	case mapping.ResolvedInvalid:
		return nil, fmt.Sprintf("category %q is mapped without a target; category not set", cat.Name), nil
	}
	return nil, "", nil
}

func (b *builder) supplierInfo(ctx context.Context, prod *catalog.Product, opt *SupplierInfoOptions) (*remote.SupplierInfo, error) {
	var price decimal.Decimal
	switch opt.PriceField {
	case catalog.PriceStandard:
		price = prod.StandardPrice
	case catalog.PricePricelist:
		p, err := b.cat.Price(ctx, b.req.ClientID, prod)
		if err != nil {
			return nil, err
		}
		price = p
	default:
		price = prod.ListPrice
	}
	coef := opt.Coefficient
	if coef.IsZero() {
		coef = decimal.NewFromInt(1)
	}
	return &remote.SupplierInfo{
		PartnerID:   opt.PartnerID,
		ProductCode: prod.Code,
		ProductName: prod.Name,
		Price:       price.Mul(coef).Round(4),
		MinQty:      decimal.NewFromInt(1),
	}, nil
}

// lines składa linie atrybutów szablonu z wartości wybranych wariantów.
func (b *builder) lines(ctx context.Context, variants []catalog.Variant) ([]LinePlan, map[int64]Staged, error) {
	type acc struct {
		line LinePlan
		seen map[int64]bool
	}
	byAttr := map[int64]*acc{}
	var order []int64
	byValue := map[int64]Staged{}

	for _, v := range variants {
		for _, av := range v.Values {
			a, ok := byAttr[av.AttributeID]
			if !ok {
				attr, err := b.attribute(ctx, mapping.Named{ID: av.AttributeID, Name: av.AttributeName})
				if err != nil {
					return nil, nil, err
				}
				a = &acc{line: LinePlan{Attribute: attr}, seen: map[int64]bool{}}
				byAttr[av.AttributeID] = a
				order = append(order, av.AttributeID)
			}
			if a.seen[av.ValueID] {
				continue
			}
			a.seen[av.ValueID] = true
			val, err := b.value(ctx, a.line.Attribute.ClientID, mapping.Named{ID: av.ValueID, Name: av.ValueName})
			if err != nil {
				return nil, nil, err
			}
			a.line.Values = append(a.line.Values, val)
			byValue[av.ValueID] = val
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return order[i] < order[j] })
	out := make([]LinePlan, 0, len(order))
	for _, id := range order {
		out = append(out, byAttr[id].line)
	}
	return out, byValue, nil
}

func (b *builder) attribute(ctx context.Context, attr mapping.Named) (Staged, error) {
	res := b.store.ResolveAttribute(attr)
	st := Staged{SupplierID: attr.ID, Name: res.Name}
	if st.Name == "" {
		st.Name = attr.Name
	}
	if res.Kind == mapping.ResolvedMapped {
		st.ClientID = res.ClientID
		return st, nil
	}
	id, err := b.cache.attributeID(ctx, st.Name)
	if err != nil {
		return Staged{}, err
	}
	st.ClientID = id
	st.Create = id == 0
	return st, nil
}

func (b *builder) value(ctx context.Context, attributeClientID int64, val mapping.Named) (Staged, error) {
	res := b.store.ResolveAttributeValue(val)
	st := Staged{SupplierID: val.ID, Name: res.Name}
	if st.Name == "" {
		st.Name = val.Name
	}
	if res.Kind == mapping.ResolvedMapped {
		st.ClientID = res.ClientID
		return st, nil
	}
	id, err := b.cache.valueID(ctx, attributeClientID, st.Name)
	if err != nil {
		return Staged{}, err
	}
	st.ClientID = id
	st.Create = id == 0
	return st, nil
}

func (b *builder) variant(prod *catalog.Product, v catalog.Variant, byValue map[int64]Staged) Change {
	key := repository.LinkKey{ProductID: prod.ID, VariantID: v.ID}
	link, linked := b.links[key]
	action := mapping.ActionCreate
	if linked {
		action = mapping.ActionUpdate
	}
	ref := mapping.VariantExternalKey(b.req.ClientID, v.ID)
	if v.Code != "" {
		if r, err := b.store.ResolveReference(mapping.ReferenceInput{ID: v.ID, Code: v.Code}); err == nil && r != "" {
			ref = r
		}
	}

	name := prod.Name
	for _, av := range v.Values {
		name += ", " + av.ValueName
	}
	row := Change{
		ProductID:   prod.ID,
		VariantID:   v.ID,
		Name:        name,
		Action:      action,
		ExternalKey: ref,
		Values:      remote.Values{},
	}
	if linked {
		row.RemoteID = link.RemoteID
	}
	b.set(&row, link.LastValues, "default_code", ref, false)
	if v.Barcode != "" {
		b.set(&row, link.LastValues, "barcode", v.Barcode, false)
	}
	if !v.Weight.IsZero() {
		b.set(&row, link.LastValues, "weight", v.Weight, false)
	}
	if !v.Volume.IsZero() {
		b.set(&row, link.LastValues, "volume", v.Volume, false)
	}
	if b.req.Options.IncludeImages && v.Image != "" {
		preserve := action == mapping.ActionUpdate && b.req.Options.PreserveClientImages
		row.Values["image_variant_1920"] = v.Image
		row.Changes = append(row.Changes, FieldChange{Field: "image_variant_1920", After: "(image)", IfEmpty: preserve})
		if preserve {
			row.IfEmpty = append(row.IfEmpty, "image_variant_1920")
		}
	}
	for _, av := range v.Values {
		if st, ok := byValue[av.ValueID]; ok {
			row.ValueRefs = append(row.ValueRefs, st)
		}
	}
	return row
}
