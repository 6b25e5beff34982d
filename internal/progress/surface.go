package progress

import (
	"context"
	"strconv"
	"strings"

	"github.com/bartek5186/catalog2erp/internal/db"
	"github.com/bartek5186/catalog2erp/internal/planner"
	"github.com/rs/zerolog"
)

type Previews interface {
	Pending(id string) (*planner.Preview, bool)
}

type Histories interface {
	ByPreview(ctx context.Context, previewID string) (*db.SyncHistory, error)
	Get(ctx context.Context, id, clientID uint) (*db.SyncHistory, []db.SyncItem, error)
}

// Surface odpowiada na zapytania o stan. Tylko czyta: pamięć, mirror, podglądy, historia.
type Surface struct {
	log      zerolog.Logger
	tracker  *Tracker
	mirror   Mirror
	previews Previews
	history  Histories
}

func NewSurface(log zerolog.Logger, t *Tracker, mirror Mirror, previews Previews, history Histories) *Surface {
	return &Surface{
		log:      log.With().Str("component", "status").Logger(),
		tracker:  t,
		mirror:   mirror,
		previews: previews,
		history:  history,
	}
}

// Status zwraca stan dla preview id (albo liczbowego id historii). clientID 0 = bez
// sprawdzania właściciela. Nigdy nie zwraca błędu: nieznany przebieg to NotFound().
func (s *Surface) Status(ctx context.Context, clientID uint, id string) Snapshot {
	id = strings.TrimSpace(id)
	if id == "" {
		return NotFound()
	}
	owned := func(owner uint) bool { return clientID == 0 || owner == clientID }

	if snap, ok := s.tracker.Get(id); ok {
		if !owned(snap.ClientID) {
			return NotFound()
		}
		return snap
	}
	if s.mirror != nil {
		snap, ok, err := s.mirror.Get(ctx, id)
		if err != nil {
			s.log.Warn().Err(err).Str("preview_id", id).Msg("status mirror read failed")
		} else if ok && owned(snap.ClientID) {
			return snap
		}
	}
	if p, ok := s.previews.Pending(id); ok && owned(p.ClientID) {
		return Snapshot{State: StatePending, Total: len(p.Rows), ClientID: p.ClientID, Message: "waiting to start"}
	}
	if h, err := s.history.ByPreview(ctx, id); err == nil && owned(h.ClientID) {
		return FromHistory(h)
	}
	if n, err := strconv.ParseUint(id, 10, 64); err == nil {
		if h, _, err := s.history.Get(ctx, uint(n), clientID); err == nil {
			return FromHistory(h)
		}
	}
	return NotFound()
}

// FromHistory rzutuje zapisany przebieg na migawkę; history_id tylko w stanie końcowym.
func FromHistory(h *db.SyncHistory) Snapshot {
	snap := Snapshot{
		State:        State(h.Status),
		Progress:     h.Progress,
		Current:      h.Current,
		Total:        h.Total,
		Message:      h.Message,
		ErrorMessage: h.ErrorMessage,
		ClientID:     h.ClientID,
	}
	if h.FinishedAt != nil {
		snap.UpdatedAt = *h.FinishedAt
	} else {
		snap.UpdatedAt = h.StartedAt
	}
	if snap.State.Terminal() {
		snap.HistoryID = h.ID
	}
	return snap
}
