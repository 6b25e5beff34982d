package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bartek5186/catalog2erp/internal/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Statusy SyncHistory.
const (
	StatusRunning   = "running"
	StatusDone      = "done"
	StatusCancelled = "cancelled"
	StatusError     = "error"
)

// Statusy SyncItem.
const (
	ItemPending      = "pending"
	ItemOK           = "ok"
	ItemFailed       = "failed"
	ItemSkipped      = "skipped"
	ItemNotProcessed = "not_processed"
)

// ErrHistoryFinal: historia jest już zamknięta i nie przyjmuje zmian.
var ErrHistoryFinal = errors.New("sync history already finalized")

// Counters to stan przebiegu zapisywany razem z każdą pozycją.
type Counters struct {
	Current      int
	Progress     int
	Message      string
	ErrorMessage string
	Created      int
	Updated      int
	Skipped      int
	Failed       int
}

func (c Counters) columns() map[string]any {
	return map[string]any{
		"current":       c.Current,
		"progress":      c.Progress,
		"message":       c.Message,
		"error_message": c.ErrorMessage,
		"created":       c.Created,
		"updated":       c.Updated,
		"skipped":       c.Skipped,
		"failed":        c.Failed,
	}
}

type ItemResult struct {
	Seq      int
	Status   string
	RemoteID int64
	Error    string
	Changes  any
}

type History struct {
	db *gorm.DB
}

func NewHistory(gdb *gorm.DB) *History {
	return &History{db: gdb}
}

// Start zapisuje historię w stanie running razem z pozycjami (status pending).
func (r *History) Start(ctx context.Context, h *db.SyncHistory, items []db.SyncItem) error {
	h.Status = StatusRunning
	if h.StartedAt.IsZero() {
		h.StartedAt = time.Now()
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(h).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		for i := range items {
			items[i].HistoryID = h.ID
			if items[i].Status == "" {
				items[i].Status = ItemPending
			}
		}
		return tx.CreateInBatches(items, 200).Error
	})
}

// Record zapisuje wynik jednej pozycji i liczniki w jednej transakcji.
// Zamknięta historia zwraca ErrHistoryFinal.
func (r *History) Record(ctx context.Context, historyID uint, it ItemResult, c Counters) error {
	changes, err := marshalJSON(it.Changes)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&db.SyncHistory{}).
			Where("id = ? AND status = ?", historyID, StatusRunning).
			Updates(c.columns())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrHistoryFinal
		}
		return tx.Model(&db.SyncItem{}).
			Where("history_id = ? AND seq = ?", historyID, it.Seq).
			Updates(map[string]any{
				"status":     it.Status,
				"remote_id":  it.RemoteID,
				"error":      it.Error,
				"changes":    changes,
				"updated_at": time.Now(),
			}).Error
	})
}

// Progress aktualizuje tylko liczniki (np. komunikat przed zapisem pozycji).
func (r *History) Progress(ctx context.Context, historyID uint, c Counters) error {
	res := r.db.WithContext(ctx).Model(&db.SyncHistory{}).
		Where("id = ? AND status = ?", historyID, StatusRunning).
		Updates(c.columns())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrHistoryFinal
	}
	return nil
}

// Finish zamyka historię stanem terminalnym; nieprzetworzone pozycje dostają not_processed.
func (r *History) Finish(ctx context.Context, historyID uint, status string, c Counters, details any) error {
	raw, err := marshalJSON(details)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var h db.SyncHistory
		if err := tx.Where("id = ?", historyID).Take(&h).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if h.Status != StatusRunning {
			return ErrHistoryFinal
		}
		now := time.Now()
		cols := c.columns()
		cols["status"] = status
		cols["finished_at"] = now
		cols["duration_ms"] = now.Sub(h.StartedAt).Milliseconds()
		cols["details"] = raw
		res := tx.Model(&db.SyncHistory{}).
			Where("id = ? AND status = ?", historyID, StatusRunning).
			Updates(cols)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrHistoryFinal
		}
		return tx.Model(&db.SyncItem{}).
			Where("history_id = ? AND status = ?", historyID, ItemPending).
			Updates(map[string]any{"status": ItemNotProcessed, "updated_at": now}).Error
	})
}

func (r *History) ByPreview(ctx context.Context, previewID string) (*db.SyncHistory, error) {
	var h db.SyncHistory
	err := r.db.WithContext(ctx).Where("preview_id = ?", previewID).Take(&h).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &h, err
}

// Get zwraca historię z pozycjami; clientID 0 wyłącza sprawdzanie właściciela.
func (r *History) Get(ctx context.Context, id, clientID uint) (*db.SyncHistory, []db.SyncItem, error) {
	var h db.SyncHistory
	q := r.db.WithContext(ctx).Where("id = ?", id)
	if clientID != 0 {
		q = q.Where("client_id = ?", clientID)
	}
	if err := q.Take(&h).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	var items []db.SyncItem
	if err := r.db.WithContext(ctx).Where("history_id = ?", id).Order("seq").Find(&items).Error; err != nil {
		return nil, nil, err
	}
	return &h, items, nil
}

func (r *History) List(ctx context.Context, clientID uint, limit int) ([]db.SyncHistory, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []db.SyncHistory
	q := r.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if clientID != 0 {
		q = q.Where("client_id = ?", clientID)
	}
	err := q.Find(&out).Error
	return out, err
}

// MarkInterrupted zamyka przebiegi, które zostały w stanie running po restarcie procesu.
func (r *History) MarkInterrupted(ctx context.Context) (int64, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&db.SyncHistory{}).
		Where("status = ?", StatusRunning).
		Updates(map[string]any{
			"status":        StatusError,
			"error_message": "interrupted by restart",
			"finished_at":   now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		err := r.db.WithContext(ctx).Model(&db.SyncItem{}).
			Where("status = ?", ItemPending).
			Update("status", ItemNotProcessed).Error
		return res.RowsAffected, err
	}
	return 0, nil
}

// PurgeBefore usuwa zamknięte historie starsze niż t (razem z pozycjami).
func (r *History) PurgeBefore(ctx context.Context, t time.Time) (int64, error) {
	var ids []uint
	if err := r.db.WithContext(ctx).Model(&db.SyncHistory{}).
		Where("status <> ? AND started_at < ?", StatusRunning, t).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("history_id IN ?", ids).Delete(&db.SyncItem{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&db.SyncHistory{}).Error
	})
	return int64(len(ids)), err
}

func marshalJSON(v any) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
