// Package janitor sprząta stan, który nie ma już właściciela: przeterminowane podglądy,
// zakończone migawki postępu i stare historie.
package janitor

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bartek5186/catalog2erp/internal/integrations"
	"github.com/rs/zerolog"
)

type Config struct {
	PollSec         int `json:"poll_sec"`
	KeepStatusMins  int `json:"keep_status_minutes"`
	KeepHistoryDays int `json:"keep_history_days"` // 0 = historii nie usuwamy
}

type Janitor struct {
	log zerolog.Logger
	cfg Config
	d   integrations.Deps

	ctx    context.Context
	cancel context.CancelFunc
}

// Swept to wynik jednego przebiegu.
type Swept struct {
	Previews  int
	Snapshots int
	Histories int64
}

func New(log zerolog.Logger, cfg Config, d integrations.Deps) *Janitor {
	return &Janitor{log: log, cfg: cfg, d: d}
}

func (j *Janitor) Name() string { return "janitor" }

func (j *Janitor) Start(ctx context.Context) error {
	j.ctx, j.cancel = context.WithCancel(ctx)
	integrations.Every(j.ctx, j.interval, func(ctx context.Context) {
		s := j.Sweep(ctx)
		if s.Previews+s.Snapshots > 0 || s.Histories > 0 {
			j.log.Info().
				Int("previews", s.Previews).
				Int("snapshots", s.Snapshots).
				Int64("histories", s.Histories).
				Msg("janitor sweep")
		}
	})
	return nil
}

func (j *Janitor) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
}

func (j *Janitor) interval() time.Duration {
	return integrations.PollInterval(j.cfg.PollSec, time.Minute)
}

func (j *Janitor) keepStatus() time.Duration {
	if j.cfg.KeepStatusMins <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(j.cfg.KeepStatusMins) * time.Minute
}

func (j *Janitor) Sweep(ctx context.Context) Swept {
	var s Swept
	if j.d.Previews != nil {
		s.Previews = j.d.Previews.Expire()
	}
	if j.d.Tracker != nil {
		s.Snapshots = j.d.Tracker.Prune(j.keepStatus())
	}
	if j.d.History != nil && j.cfg.KeepHistoryDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -j.cfg.KeepHistoryDays)
		n, err := j.d.History.PurgeBefore(ctx, cutoff)
		if err != nil {
			j.log.Error().Err(err).Msg("purge sync history failed")
		}
		s.Histories = n
	}
	return s
}

func factory(log zerolog.Logger, raw json.RawMessage, d integrations.Deps) (integrations.Integration, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	if d.Previews == nil && d.Tracker == nil {
		return nil, errors.New("janitor: nothing to sweep")
	}
	return New(log, cfg, d), nil
}

func init() {
	integrations.Register("janitor", factory)
}
