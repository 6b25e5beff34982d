// internal/integrations/types.go
package integrations

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bartek5186/catalog2erp/internal/planner"
	"github.com/bartek5186/catalog2erp/internal/progress"
	"github.com/bartek5186/catalog2erp/internal/remote"
	"github.com/bartek5186/catalog2erp/internal/repository"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type Integration interface {
	Name() string
	Start(ctx context.Context) error // blokuje do ctx.Done
	Stop()                           // idempotent
}

// Deps to wspólne zasoby procesu przekazywane fabrykom integracji.
type Deps struct {
	DB          *gorm.DB
	Dialer      remote.Dialer
	Connections *repository.Connections
	Links       *repository.Links
	History     *repository.History
	Previews    *planner.Store
	Tracker     *progress.Tracker

	RemoteTimeout time.Duration
	RemoteRPS     float64
}

type Factory func(log zerolog.Logger, raw json.RawMessage, d Deps) (Integration, error)

// Every odpala fn od razu i potem co interval(), aż do ctx.Done.
func Every(ctx context.Context, interval func() time.Duration, fn func(ctx context.Context)) {
	fn(ctx)
	ticker := time.NewTicker(interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
			ticker.Reset(interval())
		}
	}
}

// PollInterval zamienia poll_sec z configu na czas, z wartością domyślną.
func PollInterval(sec int, def time.Duration) time.Duration {
	if sec <= 0 {
		return def
	}
	return time.Duration(sec) * time.Second
}
