// Package reconciler porównuje zapisane linki produktów ze stanem instancji klienta.
// Po stronie klienta tylko czyta.
package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bartek5186/catalog2erp/internal/db"
	"github.com/bartek5186/catalog2erp/internal/integrations"
	"github.com/bartek5186/catalog2erp/internal/remote"
	"github.com/bartek5186/catalog2erp/internal/repository"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// powody w link_issues
const (
	ReasonMissing   = "missing_in_remote"
	ReasonDuplicate = "duplicate_key_in_remote"
	ReasonMismatch  = "remote_id_mismatch"
)

type Config struct {
	PollSec  int `json:"poll_sec"`
	PageSize int `json:"page_size"`
}

type Reconciler struct {
	log zerolog.Logger
	cfg Config
	d   integrations.Deps

	ctx    context.Context
	cancel context.CancelFunc
}

func New(log zerolog.Logger, cfg Config, d integrations.Deps) *Reconciler {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 200
	}
	return &Reconciler{log: log, cfg: cfg, d: d}
}

// Result to liczniki jednego przebiegu dla połączenia.
type Result struct {
	Cached     int
	Checked    int
	Missing    int
	Duplicates int
	Mismatched int
}

func (r *Reconciler) Name() string { return "reconciler" }

func (r *Reconciler) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.log.Info().Str("integration", r.Name()).Msg("start")
	integrations.Every(r.ctx, r.interval, r.tick)
	r.log.Info().Str("integration", r.Name()).Msg("stop")
	return nil
}

func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Reconciler) interval() time.Duration {
	return integrations.PollInterval(r.cfg.PollSec, time.Hour)
}

func (r *Reconciler) tick(ctx context.Context) {
	conns, err := r.d.Connections.Usable(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("list connections failed")
		return
	}
	for i := range conns {
		if ctx.Err() != nil {
			return
		}
		c := &conns[i]
		res, err := r.Reconcile(ctx, c)
		if err != nil {
			r.log.Error().Err(err).Uint("connection_id", c.ID).Msg("reconcile failed")
			continue
		}
		r.log.Info().
			Uint("connection_id", c.ID).
			Int("cached", res.Cached).
			Int("checked", res.Checked).
			Int(ReasonMissing, res.Missing).
			Int(ReasonDuplicate, res.Duplicates).
			Int(ReasonMismatch, res.Mismatched).
			Msg("reconcile finished")
	}
}

// Reconcile odświeża cache produktów klienta i przebudowuje link_issues połączenia.
func (r *Reconciler) Reconcile(ctx context.Context, conn *db.Connection) (Result, error) {
	sess, err := r.d.Dialer.Connect(ctx, repository.TargetFor(conn, r.d.RemoteTimeout, r.d.RemoteRPS))
	if err != nil {
		return Result{}, err
	}
	defer sess.Close()

	// bez filtra po prefiksie: referencje z kodem dostawcy i klucze supplier_* nie mają wspólnego początku
	var products []remote.RemoteProduct
	for offset := 0; ; offset += r.cfg.PageSize {
		page, err := sess.ListProducts(ctx, "", offset, r.cfg.PageSize)
		if err != nil {
			return Result{}, fmt.Errorf("list remote products at %d: %w", offset, err)
		}
		products = append(products, page...)
		if len(page) < r.cfg.PageSize {
			break
		}
	}

	links, err := r.d.Links.All(ctx, conn.ID)
	if err != nil {
		return Result{}, err
	}

	res := Result{Cached: len(products)}
	err = r.d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.storeCache(tx, conn.ID, products); err != nil {
			return err
		}
		if err := tx.Where("connection_id = ?", conn.ID).Delete(&db.LinkIssue{}).Error; err != nil {
			return fmt.Errorf("clear link issues: %w", err)
		}
		issues := Compare(conn.ID, links, products)
		for _, is := range issues {
			switch is.Reason {
			case ReasonMissing:
				res.Missing++
			case ReasonDuplicate:
				res.Duplicates++
			case ReasonMismatch:
				res.Mismatched++
			}
			if err := saveIssue(tx, is); err != nil {
				return err
			}
		}
		return nil
	})
	for _, l := range links {
		if l.VariantID == 0 {
			res.Checked++
		}
	}
	return res, err
}

func (r *Reconciler) storeCache(tx *gorm.DB, connID uint, products []remote.RemoteProduct) error {
	if err := tx.Where("connection_id = ?", connID).Delete(&db.RemoteProductCache{}).Error; err != nil {
		return fmt.Errorf("clear remote cache: %w", err)
	}
	if len(products) == 0 {
		return nil
	}
	now := time.Now()
	rows := make([]db.RemoteProductCache, 0, len(products))
	for _, p := range products {
		rows = append(rows, db.RemoteProductCache{
			ConnectionID: connID,
			RemoteID:     p.ID,
			DefaultCode:  p.DefaultCode,
			Barcode:      p.Barcode,
			Name:         p.Name,
			Active:       p.Active,
			WriteDate:    p.WriteDate,
			FetchedAt:    now,
		})
	}
	if err := tx.CreateInBatches(&rows, 500).Error; err != nil {
		return fmt.Errorf("store remote cache: %w", err)
	}
	return nil
}

// Compare zestawia linki szablonów z produktami klienta. Linki wariantów wskazują
// product.product i nie są tu sprawdzane.
func Compare(connID uint, links []repository.Link, products []remote.RemoteProduct) []db.LinkIssue {
	byID := make(map[int64]remote.RemoteProduct, len(products))
	byCode := map[string][]int64{}
	for _, p := range products {
		byID[p.ID] = p
		if p.DefaultCode != "" {
			byCode[p.DefaultCode] = append(byCode[p.DefaultCode], p.ID)
		}
	}

	var out []db.LinkIssue
	add := func(l repository.Link, reason string, ids []int64, details string) {
		raw, _ := json.Marshal(ids)
		out = append(out, db.LinkIssue{
			ConnectionID: connID,
			ProductID:    l.ProductID,
			Reason:       reason,
			ExternalKey:  l.ExternalKey,
			RemoteIDs:    string(raw),
			Details:      details,
			UpdatedAt:    time.Now(),
		})
	}

	for _, l := range links {
		if l.VariantID != 0 {
			continue
		}
		cands := byCode[l.ExternalKey]
		if len(cands) > 1 {
			add(l, ReasonDuplicate, cands, fmt.Sprintf("key %s used by %d remote products", l.ExternalKey, len(cands)))
		}
		if _, ok := byID[l.RemoteID]; ok {
			continue
		}
		switch len(cands) {
		case 0:
			add(l, ReasonMissing, []int64{l.RemoteID}, fmt.Sprintf("remote product %d not found", l.RemoteID))
		case 1:
			add(l, ReasonMismatch, cands, fmt.Sprintf("linked to %d, key %s found on %d", l.RemoteID, l.ExternalKey, cands[0]))
		}
	}
	return out
}

func saveIssue(tx *gorm.DB, is db.LinkIssue) error {
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "connection_id"}, {Name: "product_id"}, {Name: "reason"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"external_key", "remote_ids", "details", "updated_at",
		}),
	}).Create(&is).Error
}

func factory(log zerolog.Logger, raw json.RawMessage, d integrations.Deps) (integrations.Integration, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	if d.DB == nil || d.Dialer == nil || d.Connections == nil || d.Links == nil {
		return nil, errors.New("reconciler: missing dependencies")
	}
	return New(log, cfg, d), nil
}

func init() {
	integrations.Register("reconciler", factory)
}
