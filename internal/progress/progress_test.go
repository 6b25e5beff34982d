package progress

import (
	"context"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bartek5186/catalog2erp/internal/db"
	"github.com/bartek5186/catalog2erp/internal/db/dbtest"
	"github.com/bartek5186/catalog2erp/internal/planner"
	"github.com/bartek5186/catalog2erp/internal/repository"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentFloors(t *testing.T) {
	assert.Equal(t, 0, Percent(0, 3))
	assert.Equal(t, 33, Percent(1, 3))
	assert.Equal(t, 66, Percent(2, 3))
	assert.Equal(t, 100, Percent(3, 3))
	assert.Equal(t, 100, Percent(0, 0))
}

func TestTrackerPublishGetPrune(t *testing.T) {
	tr := NewTracker()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	tr.Publish("a", Snapshot{State: StateRunning, Current: 1, Total: 3})
	tr.Publish("b", Snapshot{State: StateDone, Progress: 100})

	s, ok := tr.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, s.Current)
	assert.Equal(t, []string{"a"}, tr.Running())

	now = now.Add(time.Hour)
	assert.Equal(t, 1, tr.Prune(30*time.Minute))
	_, ok = tr.Get("b")
	assert.False(t, ok)
	_, ok = tr.Get("a")
	assert.True(t, ok)
}

func TestTrackerConcurrentReaders(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 1; i <= 500; i++ {
			tr.Publish("run", Snapshot{State: StateRunning, Current: i, Total: 500, Progress: Percent(i, 500)})
		}
	}()
	go func() {
		defer wg.Done()
		last := 0
		for i := 0; i < 500; i++ {
			if s, ok := tr.Get("run"); ok {
				assert.GreaterOrEqual(t, s.Current, last)
				last = s.Current
			}
		}
	}()
	wg.Wait()
}

func newSurface(t *testing.T) (*Surface, *Tracker, *planner.Store, *repository.History, dbtest.Fixture) {
	h := dbtest.Open(t)
	fx := dbtest.Seed(t, h)
	tr := NewTracker()
	previews := planner.NewStore(time.Minute)
	hist := repository.NewHistory(h.DB)
	return NewSurface(zerolog.Nop(), tr, nil, previews, hist), tr, previews, hist, fx
}

func TestSurfaceStates(t *testing.T) {
	s, tr, previews, hist, fx := newSurface(t)
	ctx := context.Background()

	assert.Equal(t, "not found", s.Status(ctx, fx.Client.ID, "nope").Error)

	id := previews.Put(&planner.Preview{ClientID: fx.Client.ID, Rows: make([]planner.Change, 3)})
	st := s.Status(ctx, fx.Client.ID, id)
	assert.Equal(t, StatePending, st.State)
	assert.Equal(t, 0, st.Progress)
	assert.Equal(t, 3, st.Total)
	// inny klient nie widzi cudzego podglądu
	assert.Equal(t, "not found", s.Status(ctx, fx.Client.ID+1, id).Error)

	_, err := previews.Take(id)
	require.NoError(t, err)
	tr.Publish(id, Snapshot{State: StateRunning, Current: 1, Total: 3, Progress: 33, ClientID: fx.Client.ID})
	assert.Equal(t, StateRunning, s.Status(ctx, fx.Client.ID, id).State)

	// po restarcie (pusty tracker) odpowiada historia
	rec := &db.SyncHistory{PreviewID: id, ClientID: fx.Client.ID, Total: 3}
	require.NoError(t, hist.Start(ctx, rec, nil))
	require.NoError(t, hist.Finish(ctx, rec.ID, repository.StatusDone, repository.Counters{Current: 3, Progress: 100, Created: 3}, nil))

	fresh := NewSurface(zerolog.Nop(), NewTracker(), nil, previews, hist)
	st = fresh.Status(ctx, fx.Client.ID, id)
	assert.Equal(t, StateDone, st.State)
	assert.Equal(t, 100, st.Progress)
	assert.Equal(t, rec.ID, st.HistoryID)

	byHistory := fresh.Status(ctx, fx.Client.ID, strconv.FormatUint(uint64(rec.ID), 10))
	assert.Equal(t, StateDone, byHistory.State)
}

func TestRedisMirror(t *testing.T) {
	addr := os.Getenv("CATALOG_TEST_REDIS")
	if addr == "" {
		t.Skip("CATALOG_TEST_REDIS not set")
	}
	ctx := context.Background()
	m, err := NewRedisMirror(ctx, addr, "", 0, time.Minute)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Publish(ctx, "mirror-test", Snapshot{State: StateRunning, Current: 2, Total: 4, Progress: 50}))
	got, ok, err := m.Get(ctx, "mirror-test")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, got.Current)

	_, ok, err = m.Get(ctx, "mirror-missing")
	require.NoError(t, err)
	assert.False(t, ok)
}
