package remote

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var noActiveTest = map[string]any{"active_test": false}

func (s *xmlrpcSession) Close() error {
	if s.common != nil {
		_ = s.common.Close()
	}
	if s.object != nil {
		_ = s.object.Close()
	}
	return nil
}

func (s *xmlrpcSession) TestConnection(ctx context.Context) error {
	_, err := exec[int64](ctx, s, "product.template", "search_count", []any{[]any{}}, nil)
	return err
}

func (s *xmlrpcSession) FetchCategories(ctx context.Context) ([]Category, error) {
	rows, err := exec[[]map[string]any](ctx, s, "product.category", "search_read", []any{[]any{}},
		map[string]any{"fields": []any{"id", "name", "complete_name"}, "order": "complete_name"})
	if err != nil {
		return nil, err
	}
	out := make([]Category, 0, len(rows))
	for _, r := range rows {
		id, _ := asInt64(r["id"])
		name := asString(r["name"])
		full := asString(r["complete_name"])
		if full == "" {
			full = name
		}
		out = append(out, Category{ID: id, Name: name, CompleteName: full})
	}
	return out, nil
}

func (s *xmlrpcSession) FetchAttributes(ctx context.Context) ([]Attribute, error) {
	rows, err := exec[[]map[string]any](ctx, s, "product.attribute", "search_read", []any{[]any{}},
		map[string]any{"fields": []any{"id", "name"}, "order": "name"})
	if err != nil {
		return nil, err
	}
	out := make([]Attribute, 0, len(rows))
	for _, r := range rows {
		id, _ := asInt64(r["id"])
		out = append(out, Attribute{ID: id, Name: asString(r["name"])})
	}
	return out, nil
}

func (s *xmlrpcSession) FetchAttributeValues(ctx context.Context, attributeID int64) ([]AttributeValue, error) {
	rows, err := exec[[]map[string]any](ctx, s, "product.attribute.value", "search_read",
		[]any{[]any{[]any{"attribute_id", "=", attributeID}}},
		map[string]any{"fields": []any{"id", "name", "attribute_id"}, "order": "sequence, id"})
	if err != nil {
		return nil, err
	}
	out := make([]AttributeValue, 0, len(rows))
	for _, r := range rows {
		id, _ := asInt64(r["id"])
		out = append(out, AttributeValue{ID: id, Name: asString(r["name"]), AttributeID: many2oneID(r["attribute_id"])})
	}
	return out, nil
}

func (s *xmlrpcSession) searchOne(ctx context.Context, model string, domain []any, kw map[string]any) (int64, error) {
	if kw == nil {
		kw = map[string]any{}
	}
	kw["limit"] = 1
	ids, err := exec[[]int64](ctx, s, model, "search", []any{domain}, kw)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return ids[0], nil
}

func (s *xmlrpcSession) create(ctx context.Context, model string, vals Values) (int64, error) {
	return exec[int64](ctx, s, model, "create", []any{encodeValues(vals)}, nil)
}

func (s *xmlrpcSession) write(ctx context.Context, model string, ids []int64, vals Values) error {
	if len(vals) == 0 {
		return nil
	}
	_, err := exec[bool](ctx, s, model, "write", []any{int64sToAny(ids), encodeValues(vals)}, nil)
	return err
}

func (s *xmlrpcSession) FindOrCreateCategory(ctx context.Context, name string, parentID int64) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("category name required")
	}
	domain := []any{[]any{"name", "=", name}}
	if parentID > 0 {
		domain = append(domain, []any{"parent_id", "=", parentID})
	}
	id, err := s.searchOne(ctx, "product.category", domain, nil)
	if err != nil || id > 0 {
		return id, err
	}
	vals := Values{"name": name}
	if parentID > 0 {
		vals["parent_id"] = parentID
	}
	return s.create(ctx, "product.category", vals)
}

func (s *xmlrpcSession) FindOrCreateAttribute(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	id, err := s.searchOne(ctx, "product.attribute", []any{[]any{"name", "=ilike", name}}, nil)
	if err != nil || id > 0 {
		return id, err
	}
	return s.create(ctx, "product.attribute", Values{"name": name, "create_variant": "always"})
}

func (s *xmlrpcSession) FindOrCreateAttributeValue(ctx context.Context, attributeID int64, name string) (int64, error) {
	name = strings.TrimSpace(name)
	id, err := s.searchOne(ctx, "product.attribute.value",
		[]any{[]any{"attribute_id", "=", attributeID}, []any{"name", "=ilike", name}}, nil)
	if err != nil || id > 0 {
		return id, err
	}
	return s.create(ctx, "product.attribute.value", Values{"name": name, "attribute_id": attributeID})
}

// FindOrCreateProduct: najpierw znany RemoteID (o ile rekord jeszcze istnieje),
// potem wyszukanie po default_code, na końcu create.
func (s *xmlrpcSession) FindOrCreateProduct(ctx context.Context, ref ProductRef, values Values) (int64, bool, error) {
	const model = "product.template"
	if ref.RemoteID > 0 {
		id, err := s.searchOne(ctx, model, []any{[]any{"id", "=", ref.RemoteID}}, map[string]any{"context": noActiveTest})
		if err != nil {
			return 0, false, err
		}
		if id > 0 {
			return id, false, s.write(ctx, model, []int64{id}, values)
		}
	}
	if ref.ExternalKey != "" {
		id, err := s.searchOne(ctx, model, []any{[]any{"default_code", "=", ref.ExternalKey}}, map[string]any{"context": noActiveTest})
		if err != nil {
			return 0, false, err
		}
		if id > 0 {
			return id, false, s.write(ctx, model, []int64{id}, values)
		}
	}

	vals := Values{}
	for k, v := range values {
		vals[k] = v
	}
	if _, ok := vals["default_code"]; !ok && ref.ExternalKey != "" {
		vals["default_code"] = ref.ExternalKey
	}
	id, err := s.create(ctx, model, vals)
	return id, err == nil, err
}

func (s *xmlrpcSession) ReadProduct(ctx context.Context, id int64, fields []string) (Values, error) {
	f := make([]any, 0, len(fields))
	for _, x := range fields {
		f = append(f, x)
	}
	rows, err := exec[[]map[string]any](ctx, s, "product.template", "read", []any{[]any{id}},
		map[string]any{"fields": f, "context": noActiveTest})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &RemoteError{Op: "product.template.read", Message: fmt.Sprintf("record %d not found", id)}
	}
	return Values(rows[0]), nil
}

func (s *xmlrpcSession) UpsertSupplierInfo(ctx context.Context, templateID int64, info SupplierInfo) error {
	const model = "product.supplierinfo"
	minQty := info.MinQty
	if minQty.IsZero() {
		minQty = decimal.NewFromInt(1)
	}
	vals := Values{
		"partner_id":      info.PartnerID,
		"product_tmpl_id": templateID,
		"product_code":    info.ProductCode,
		"product_name":    info.ProductName,
		"price":           info.Price,
		"min_qty":         minQty,
	}
	id, err := s.searchOne(ctx, model, []any{
		[]any{"partner_id", "=", info.PartnerID},
		[]any{"product_tmpl_id", "=", templateID},
	}, nil)
	if err != nil {
		return err
	}
	if id > 0 {
		return s.write(ctx, model, []int64{id}, vals)
	}
	_, err = s.create(ctx, model, vals)
	return err
}

func (s *xmlrpcSession) EnsureAttributeLines(ctx context.Context, templateID int64, lines []AttributeLine) error {
	const model = "product.template.attribute.line"
	for _, l := range lines {
		rows, err := exec[[]map[string]any](ctx, s, model, "search_read",
			[]any{[]any{[]any{"product_tmpl_id", "=", templateID}, []any{"attribute_id", "=", l.AttributeID}}},
			map[string]any{"fields": []any{"id", "value_ids"}, "limit": 1})
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			_, err := s.create(ctx, model, Values{
				"product_tmpl_id": templateID,
				"attribute_id":    l.AttributeID,
				"value_ids":       []any{[]any{6, 0, int64sToAny(l.ValueIDs)}},
			})
			if err != nil {
				return err
			}
			continue
		}
		lineID, _ := asInt64(rows[0]["id"])
		have := map[int64]bool{}
		for _, v := range asInt64s(rows[0]["value_ids"]) {
			have[v] = true
		}
		var cmds []any
		for _, v := range l.ValueIDs {
			if !have[v] {
				cmds = append(cmds, []any{4, v})
			}
		}
		if len(cmds) > 0 {
			if err := s.write(ctx, model, []int64{lineID}, Values{"value_ids": cmds}); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteVariant szuka wariantu szablonu o dokładnie tej kombinacji wartości.
func (s *xmlrpcSession) WriteVariant(ctx context.Context, templateID int64, valueIDs []int64, values Values) (int64, bool, error) {
	variants, err := exec[[]map[string]any](ctx, s, "product.product", "search_read",
		[]any{[]any{[]any{"product_tmpl_id", "=", templateID}}},
		map[string]any{"fields": []any{"id", "product_template_attribute_value_ids"}, "context": noActiveTest})
	if err != nil {
		return 0, false, err
	}
	var ptavIDs []int64
	for _, v := range variants {
		ptavIDs = append(ptavIDs, asInt64s(v["product_template_attribute_value_ids"])...)
	}
	ptavToValue := map[int64]int64{}
	if len(ptavIDs) > 0 {
		rows, err := exec[[]map[string]any](ctx, s, "product.template.attribute.value", "read",
			[]any{int64sToAny(ptavIDs)}, map[string]any{"fields": []any{"id", "product_attribute_value_id"}})
		if err != nil {
			return 0, false, err
		}
		for _, r := range rows {
			id, _ := asInt64(r["id"])
			ptavToValue[id] = many2oneID(r["product_attribute_value_id"])
		}
	}

	want := combinationKey(valueIDs)
	for _, v := range variants {
		var combo []int64
		for _, p := range asInt64s(v["product_template_attribute_value_ids"]) {
			combo = append(combo, ptavToValue[p])
		}
		if combinationKey(combo) != want {
			continue
		}
		id, _ := asInt64(v["id"])
		return id, true, s.write(ctx, "product.product", []int64{id}, values)
	}
	return 0, false, nil
}

func (s *xmlrpcSession) ListProducts(ctx context.Context, keyPrefix string, offset, limit int) ([]RemoteProduct, error) {
	domain := []any{}
	if keyPrefix != "" {
		domain = append(domain, []any{"default_code", "=like", keyPrefix + "%"})
	}
	rows, err := exec[[]map[string]any](ctx, s, "product.template", "search_read", []any{domain},
		map[string]any{
			"fields":  []any{"id", "default_code", "barcode", "name", "active", "write_date"},
			"offset":  offset,
			"limit":   limit,
			"order":   "id",
			"context": noActiveTest,
		})
	if err != nil {
		return nil, err
	}
	out := make([]RemoteProduct, 0, len(rows))
	for _, r := range rows {
		id, _ := asInt64(r["id"])
		active, _ := r["active"].(bool)
		out = append(out, RemoteProduct{
			ID:          id,
			DefaultCode: asString(r["default_code"]),
			Barcode:     asString(r["barcode"]),
			Name:        asString(r["name"]),
			Active:      active,
			WriteDate:   asString(r["write_date"]),
		})
	}
	return out, nil
}

func combinationKey(ids []int64) string {
	c := append([]int64(nil), ids...)
	sort.Slice(c, func(i, j int) bool { return c[i] < c[j] })
	var b strings.Builder
	for i, id := range c {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%d", id)
	}
	return b.String()
}
