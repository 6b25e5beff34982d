package syncer

import (
	"context"
	"encoding/json"
	"testing"

	conf "github.com/bartek5186/catalog2erp/internal/config"
	"github.com/bartek5186/catalog2erp/internal/integrations"
	"github.com/bartek5186/catalog2erp/internal/planner"
	"github.com/bartek5186/catalog2erp/internal/progress"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestStartStop(t *testing.T) {
	cfg := conf.Default()
	cfg.Integrations = map[string]json.RawMessage{
		"janitor":  json.RawMessage(`{"poll_sec": 60}`),
		"importer": json.RawMessage(`{"watch_dir": "/nonexistent", "disabled": true}`),
		"mystery":  json.RawMessage(`{}`),
	}
	s := New(zerolog.Nop(), cfg, integrations.Deps{
		Previews: planner.NewStore(0),
		Tracker:  progress.NewTracker(),
	})

	ctx := context.Background()
	assert.NoError(t, s.Start(ctx))
	assert.True(t, s.IsRunning())
	assert.Equal(t, []string{"janitor"}, s.Running())
	assert.NoError(t, s.Start(ctx), "second start is a no-op")

	cfg2 := conf.Default()
	cfg2.Integrations = map[string]json.RawMessage{}
	s.UpdateConfig(ctx, cfg2)
	assert.True(t, s.IsRunning())
	assert.Empty(t, s.Running())

	s.Stop()
	s.Stop()
	assert.False(t, s.IsRunning())
}

func TestRegisteredIntegrations(t *testing.T) {
	assert.Equal(t, []string{"importer", "janitor", "reconciler"}, integrations.Names())
}
