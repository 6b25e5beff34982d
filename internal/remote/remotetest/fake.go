// Package remotetest udostępnia instancję ERP w pamięci do testów planera, wykonawcy i portalu.
package remotetest

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/bartek5186/catalog2erp/internal/remote"
)

// Instance to jednocześnie Dialer i stan instancji współdzielony przez sesje.
type Instance struct {
	mu sync.Mutex

	nextID     int64
	Categories map[int64]remote.Category
	Attributes map[int64]remote.Attribute
	Values     map[int64]remote.AttributeValue
	Products   map[int64]remote.Values
	Supplier   map[int64]remote.SupplierInfo      // po id szablonu
	Lines      map[int64][]remote.AttributeLine   // po id szablonu
	Variants   map[int64]map[string]remote.Values // szablon -> kombinacja -> wartości

	// wstrzykiwanie błędów
	ConnectErr   error
	FailProducts map[string]error  // po nazwie produktu
	FailAll      error             // każdy zapis produktu
	BeforeWrite  func(name string) // hook wywoływany przed zapisem produktu

	// liczniki
	Connects        int
	CategoryFetches int
	AttributeFetch  int
	ProductWrites   int
	Writes          int
	Closed          int
}

func New() *Instance {
	return &Instance{
		nextID:       1000,
		Categories:   map[int64]remote.Category{},
		Attributes:   map[int64]remote.Attribute{},
		Values:       map[int64]remote.AttributeValue{},
		Products:     map[int64]remote.Values{},
		Supplier:     map[int64]remote.SupplierInfo{},
		Lines:        map[int64][]remote.AttributeLine{},
		Variants:     map[int64]map[string]remote.Values{},
		FailProducts: map[string]error{},
	}
}

func (f *Instance) id() int64 {
	f.nextID++
	return f.nextID
}

// AddCategory dodaje istniejącą kategorię po stronie klienta.
func (f *Instance) AddCategory(name string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.id()
	f.Categories[id] = remote.Category{ID: id, Name: name, CompleteName: name}
	return id
}

func (f *Instance) Product(id int64) (remote.Values, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.Products[id]
	return v, ok
}

func (f *Instance) ProductCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Products)
}

func (f *Instance) Connect(ctx context.Context, t remote.Target) (remote.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Connects++
	if f.ConnectErr != nil {
		return nil, f.ConnectErr
	}
	return &session{f: f}, nil
}

type session struct {
	f *Instance
}

func (s *session) TestConnection(ctx context.Context) error { return nil }

func (s *session) FetchCategories(ctx context.Context) ([]remote.Category, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	s.f.CategoryFetches++
	out := make([]remote.Category, 0, len(s.f.Categories))
	for _, c := range s.f.Categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *session) FetchAttributes(ctx context.Context) ([]remote.Attribute, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	s.f.AttributeFetch++
	out := make([]remote.Attribute, 0, len(s.f.Attributes))
	for _, a := range s.f.Attributes {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *session) FetchAttributeValues(ctx context.Context, attributeID int64) ([]remote.AttributeValue, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	var out []remote.AttributeValue
	for _, v := range s.f.Values {
		if v.AttributeID == attributeID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *session) FindOrCreateCategory(ctx context.Context, name string, parentID int64) (int64, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	for id, c := range s.f.Categories {
		if c.Name == name {
			return id, nil
		}
	}
	s.f.Writes++
	id := s.f.id()
	s.f.Categories[id] = remote.Category{ID: id, Name: name, CompleteName: name}
	return id, nil
}

func (s *session) FindOrCreateAttribute(ctx context.Context, name string) (int64, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	for id, a := range s.f.Attributes {
		if strings.EqualFold(a.Name, name) {
			return id, nil
		}
	}
	s.f.Writes++
	id := s.f.id()
	s.f.Attributes[id] = remote.Attribute{ID: id, Name: name}
	return id, nil
}

func (s *session) FindOrCreateAttributeValue(ctx context.Context, attributeID int64, name string) (int64, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	for id, v := range s.f.Values {
		if v.AttributeID == attributeID && strings.EqualFold(v.Name, name) {
			return id, nil
		}
	}
	s.f.Writes++
	id := s.f.id()
	s.f.Values[id] = remote.AttributeValue{ID: id, Name: name, AttributeID: attributeID}
	return id, nil
}

func (s *session) FindOrCreateProduct(ctx context.Context, ref remote.ProductRef, values remote.Values) (int64, bool, error) {
	name, _ := values["name"].(string)
	if hook := s.f.BeforeWrite; hook != nil {
		hook(name)
	}
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	s.f.ProductWrites++
	if s.f.FailAll != nil {
		return 0, false, s.f.FailAll
	}
	if err := s.f.FailProducts[name]; err != nil {
		return 0, false, err
	}
	s.f.Writes++

	if ref.RemoteID > 0 {
		if cur, ok := s.f.Products[ref.RemoteID]; ok {
			merge(cur, values)
			return ref.RemoteID, false, nil
		}
	}
	if ref.ExternalKey != "" {
		for id, p := range s.f.Products {
			if p["default_code"] == ref.ExternalKey {
				merge(p, values)
				return id, false, nil
			}
		}
	}
	id := s.f.id()
	rec := remote.Values{}
	merge(rec, values)
	if _, ok := rec["default_code"]; !ok {
		rec["default_code"] = ref.ExternalKey
	}
	s.f.Products[id] = rec
	return id, true, nil
}

func merge(dst, src remote.Values) {
	for k, v := range src {
		dst[k] = v
	}
}

func (s *session) ReadProduct(ctx context.Context, id int64, fields []string) (remote.Values, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	p, ok := s.f.Products[id]
	if !ok {
		return nil, &remote.RemoteError{Op: "product.template.read", Code: 1, Message: "record not found"}
	}
	out := remote.Values{"id": id}
	for _, f := range fields {
		if v, ok := p[f]; ok {
			out[f] = v
		} else {
			out[f] = false
		}
	}
	return out, nil
}

func (s *session) UpsertSupplierInfo(ctx context.Context, templateID int64, info remote.SupplierInfo) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	s.f.Writes++
	s.f.Supplier[templateID] = info
	return nil
}

func (s *session) EnsureAttributeLines(ctx context.Context, templateID int64, lines []remote.AttributeLine) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	s.f.Writes++
	s.f.Lines[templateID] = append([]remote.AttributeLine(nil), lines...)
	return nil
}

func (s *session) WriteVariant(ctx context.Context, templateID int64, valueIDs []int64, values remote.Values) (int64, bool, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	s.f.Writes++
	ids := append([]int64(nil), valueIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	key := ""
	for _, id := range ids {
		key += "," + strconv.FormatInt(id, 10)
	}
	if s.f.Variants[templateID] == nil {
		s.f.Variants[templateID] = map[string]remote.Values{}
	}
	rec, ok := s.f.Variants[templateID][key]
	if !ok {
		rec = remote.Values{"id": s.f.id()}
		s.f.Variants[templateID][key] = rec
	}
	merge(rec, values)
	id, _ := rec["id"].(int64)
	return id, true, nil
}

func (s *session) ListProducts(ctx context.Context, keyPrefix string, offset, limit int) ([]remote.RemoteProduct, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	var all []remote.RemoteProduct
	for id, p := range s.f.Products {
		code, _ := p["default_code"].(string)
		if !strings.HasPrefix(code, keyPrefix) {
			continue
		}
		name, _ := p["name"].(string)
		all = append(all, remote.RemoteProduct{ID: id, DefaultCode: code, Name: name, Active: true})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (s *session) Close() error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	s.f.Closed++
	return nil
}
