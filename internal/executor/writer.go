package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/bartek5186/catalog2erp/internal/mapping"
	"github.com/bartek5186/catalog2erp/internal/planner"
	"github.com/bartek5186/catalog2erp/internal/remote"
	"github.com/bartek5186/catalog2erp/internal/repository"
	"github.com/rs/zerolog"
)

// outcome to wynik zapisu jednej pozycji.
type outcome struct {
	remoteID int64
	created  bool
	skipped  bool
	blocked  string // powód pominięcia pozycji zależnej od nieudanego szablonu
	warnings []string
	err      error
}

// writer zapisuje pozycje podglądu w instancji klienta. Pamięta id utworzone
// w tym przebiegu, żeby warianty trafiły do właściwego szablonu.
type writer struct {
	log     zerolog.Logger
	sess    remote.Session
	retrier *Retrier
	deps    Deps
	p       *planner.Preview

	templates  map[int64]int64 // produkt dostawcy -> szablon u klienta
	categories map[int64]int64
	attributes map[int64]int64
	values     map[int64]int64
}

func newWriter(log zerolog.Logger, sess remote.Session, r *Retrier, deps Deps, p *planner.Preview) *writer {
	return &writer{
		log:        log,
		sess:       sess,
		retrier:    r,
		deps:       deps,
		p:          p,
		templates:  map[int64]int64{},
		categories: map[int64]int64{},
		attributes: map[int64]int64{},
		values:     map[int64]int64{},
	}
}

func (w *writer) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := w.retrier.Do(ctx, op, fn)
	return err
}

func (w *writer) process(ctx context.Context, row planner.Change) outcome {
	if row.Action == mapping.ActionSkip {
		return outcome{skipped: true}
	}
	if row.IsVariant() {
		return w.variant(ctx, row)
	}
	return w.template(ctx, row)
}

func (w *writer) template(ctx context.Context, row planner.Change) outcome {
	var out outcome
	values := copyValues(row.Values)

	if row.Category != nil {
		id, err := w.category(ctx, *row.Category)
		if err != nil {
			out.err = err
			return out
		}
		if id > 0 {
			values["categ_id"] = id
		}
	}

	if row.Action == mapping.ActionUpdate && row.RemoteID > 0 && len(row.IfEmpty) > 0 {
		var cur remote.Values
		err := w.call(ctx, "product.template.read", func(ctx context.Context) error {
			var err error
			cur, err = w.sess.ReadProduct(ctx, row.RemoteID, row.IfEmpty)
			return err
		})
		switch {
		case err == nil:
			for _, f := range row.IfEmpty {
				if !remote.IsBlank(cur[f]) {
					delete(values, f)
				}
			}
		case remote.IsRemote(err):
			// rekord mógł zniknąć; FindOrCreateProduct poszuka po kluczu
			w.log.Debug().Err(err).Int64("remote_id", row.RemoteID).Msg("read before update failed")
		default:
			out.err = err
			return out
		}
	}

	ref := remote.ProductRef{ExternalKey: row.ExternalKey, RemoteID: row.RemoteID}
	err := w.call(ctx, "product.template.write", func(ctx context.Context) error {
		id, created, err := w.sess.FindOrCreateProduct(ctx, ref, values)
		out.remoteID, out.created = id, created
		return err
	})
	if err != nil {
		out.err = err
		return out
	}

	if len(row.Lines) > 0 {
		lines, err := w.lines(ctx, row.Lines)
		if err != nil {
			out.err = fmt.Errorf("attribute lines: %w", err)
			return out
		}
		err = w.call(ctx, "product.template.attribute_lines", func(ctx context.Context) error {
			return w.sess.EnsureAttributeLines(ctx, out.remoteID, lines)
		})
		if err != nil {
			out.err = fmt.Errorf("attribute lines: %w", err)
			return out
		}
	}
	// warianty trafiają tylko do szablonu z kompletnymi liniami atrybutów
	w.templates[row.ProductID] = out.remoteID

	if row.SupplierInfo != nil {
		info := *row.SupplierInfo
		err := w.call(ctx, "product.supplierinfo.write", func(ctx context.Context) error {
			return w.sess.UpsertSupplierInfo(ctx, out.remoteID, info)
		})
		if err != nil {
			if fatal(err) {
				out.err = err
				return out
			}
			out.warnings = append(out.warnings, "supplier info not saved: "+err.Error())
		}
	}

	out.warnings = append(out.warnings, w.link(ctx, row, out.remoteID, values)...)
	return out
}

func (w *writer) variant(ctx context.Context, row planner.Change) outcome {
	var out outcome
	tpl, ok := w.templates[row.ProductID]
	if !ok {
		out.blocked = fmt.Sprintf("template of product %d was not synchronized", row.ProductID)
		return out
	}
	valueIDs := make([]int64, 0, len(row.ValueRefs))
	for _, v := range row.ValueRefs {
		id := v.ClientID
		if id == 0 {
			id = w.values[v.SupplierID]
		}
		if id == 0 {
			out.err = fmt.Errorf("attribute value %q has no id in the client instance", v.Name)
			return out
		}
		valueIDs = append(valueIDs, id)
	}

	values := copyValues(row.Values)
	err := w.call(ctx, "product.product.write", func(ctx context.Context) error {
		id, found, err := w.sess.WriteVariant(ctx, tpl, valueIDs, values)
		if err != nil {
			return err
		}
		if !found {
			return &remote.RemoteError{Op: "product.product.write", Message: "variant combination not found on template"}
		}
		out.remoteID = id
		return nil
	})
	if err != nil {
		out.err = err
		return out
	}
	out.created = row.Action == mapping.ActionCreate
	out.warnings = w.link(ctx, row, out.remoteID, values)
	return out
}

func (w *writer) category(ctx context.Context, c planner.Staged) (int64, error) {
	if c.ClientID > 0 {
		return c.ClientID, nil
	}
	if id, ok := w.categories[c.SupplierID]; ok {
		return id, nil
	}
	if !c.Create {
		return 0, nil
	}
	var id int64
	err := w.call(ctx, "product.category.create", func(ctx context.Context) error {
		var err error
		id, err = w.sess.FindOrCreateCategory(ctx, c.Name, 0)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("category %q: %w", c.Name, err)
	}
	w.categories[c.SupplierID] = id
	if w.deps.Learner != nil {
		if err := w.deps.Learner.LearnCategory(ctx, w.p.ConnectionID, c.SupplierID, id, c.Name); err != nil {
			w.log.Warn().Err(err).Str("category", c.Name).Msg("remember category mapping failed")
		}
	}
	return id, nil
}

func (w *writer) lines(ctx context.Context, plans []planner.LinePlan) ([]remote.AttributeLine, error) {
	out := make([]remote.AttributeLine, 0, len(plans))
	for _, lp := range plans {
		attrID, err := w.attribute(ctx, lp.Attribute)
		if err != nil {
			return nil, err
		}
		line := remote.AttributeLine{AttributeID: attrID}
		for _, v := range lp.Values {
			id, err := w.value(ctx, attrID, v)
			if err != nil {
				return nil, err
			}
			line.ValueIDs = append(line.ValueIDs, id)
		}
		out = append(out, line)
	}
	return out, nil
}

func (w *writer) attribute(ctx context.Context, a planner.Staged) (int64, error) {
	if a.ClientID > 0 {
		return a.ClientID, nil
	}
	if id, ok := w.attributes[a.SupplierID]; ok {
		return id, nil
	}
	var id int64
	err := w.call(ctx, "product.attribute.create", func(ctx context.Context) error {
		var err error
		id, err = w.sess.FindOrCreateAttribute(ctx, a.Name)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("attribute %q: %w", a.Name, err)
	}
	w.attributes[a.SupplierID] = id
	if w.deps.Learner != nil {
		if err := w.deps.Learner.LearnAttribute(ctx, w.p.ConnectionID, a.SupplierID, id, a.Name); err != nil {
			w.log.Warn().Err(err).Str("attribute", a.Name).Msg("remember attribute mapping failed")
		}
	}
	return id, nil
}

func (w *writer) value(ctx context.Context, attrID int64, v planner.Staged) (int64, error) {
	if v.ClientID > 0 {
		w.values[v.SupplierID] = v.ClientID
		return v.ClientID, nil
	}
	if id, ok := w.values[v.SupplierID]; ok {
		return id, nil
	}
	var id int64
	err := w.call(ctx, "product.attribute.value.create", func(ctx context.Context) error {
		var err error
		id, err = w.sess.FindOrCreateAttributeValue(ctx, attrID, v.Name)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("attribute value %q: %w", v.Name, err)
	}
	w.values[v.SupplierID] = id
	if w.deps.Learner != nil {
		if err := w.deps.Learner.LearnAttributeValue(ctx, w.p.ConnectionID, v.SupplierID, id, v.Name); err != nil {
			w.log.Warn().Err(err).Str("value", v.Name).Msg("remember attribute value mapping failed")
		}
	}
	return id, nil
}

// link zapisuje powiązanie; błąd bazy to tylko ostrzeżenie, bo rekord u klienta już istnieje.
func (w *writer) link(ctx context.Context, row planner.Change, remoteID int64, values remote.Values) []string {
	if w.deps.Links == nil {
		return nil
	}
	last := make(map[string]any, len(values))
	for k, v := range values {
		if strings.HasPrefix(k, "image_") {
			continue
		}
		last[k] = v
	}
	l := repository.Link{
		LinkKey:     repository.LinkKey{ProductID: row.ProductID, VariantID: row.VariantID},
		RemoteID:    remoteID,
		ExternalKey: row.ExternalKey,
		LastValues:  last,
	}
	if err := w.deps.Links.Save(ctx, w.p.ConnectionID, l); err != nil {
		w.log.Warn().Err(err).Int64("product_id", row.ProductID).Msg("save product link failed")
		return []string{"link not saved: " + err.Error()}
	}
	return nil
}

func copyValues(v remote.Values) remote.Values {
	out := make(remote.Values, len(v))
	for k, x := range v {
		out[k] = x
	}
	return out
}
