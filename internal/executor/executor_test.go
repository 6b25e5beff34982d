package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bartek5186/catalog2erp/internal/catalog"
	"github.com/bartek5186/catalog2erp/internal/db"
	"github.com/bartek5186/catalog2erp/internal/db/dbtest"
	"github.com/bartek5186/catalog2erp/internal/mapping"
	"github.com/bartek5186/catalog2erp/internal/planner"
	"github.com/bartek5186/catalog2erp/internal/progress"
	"github.com/bartek5186/catalog2erp/internal/remote"
	"github.com/bartek5186/catalog2erp/internal/remote/remotetest"
	"github.com/bartek5186/catalog2erp/internal/repository"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	h        *db.Handle
	fx       dbtest.Fixture
	fake     *remotetest.Instance
	store    *mapping.Store
	planner  *planner.Planner
	previews *planner.Store
	history  *repository.History
	links    *repository.Links
	tracker  *progress.Tracker
	exec     *Executor
}

func newEnv(t *testing.T) *env {
	t.Helper()
	h := dbtest.Open(t)
	fx := dbtest.Seed(t, h)

	store := mapping.NewStore()
	for _, m := range mapping.DefaultFieldMappings() {
		require.NoError(t, store.SetFieldMapping(m))
	}
	e := &env{
		h:        h,
		fx:       fx,
		fake:     remotetest.New(),
		store:    store,
		previews: planner.NewStore(time.Hour),
		history:  repository.NewHistory(h.DB),
		links:    repository.NewLinks(h.DB),
		tracker:  progress.NewTracker(),
	}
	e.planner = planner.New(zerolog.Nop(), catalog.NewRepository(h.DB), e.links)
	e.exec = New(zerolog.Nop(), Config{
		Workers:                2,
		Retry:                  RetryConfig{MaxRetries: 2},
		MaxConsecutiveFailures: 5,
	}, Deps{
		Dialer:   e.fake,
		Previews: e.previews,
		History:  e.history,
		Links:    e.links,
		Learner:  repository.NewMappings(h.DB),
		Tracker:  e.tracker,
	})
	t.Cleanup(func() { _ = e.exec.Shutdown(context.Background()) })
	return e
}

func (e *env) preview(t *testing.T) string {
	t.Helper()
	return e.previewWith(t, planner.Options{AutoCreateCategories: true})
}

func (e *env) previewWith(t *testing.T, opts planner.Options) string {
	t.Helper()
	ctx := context.Background()
	sess, err := e.fake.Connect(ctx, remote.Target{})
	require.NoError(t, err)
	defer sess.Close()

	p, err := e.planner.BuildPreview(ctx, planner.Request{
		ClientID:     e.fx.Client.ID,
		ConnectionID: e.fx.Connection.ID,
		Selection:    []catalog.Ref{{ProductID: 1}, {ProductID: 2}, {ProductID: 3}},
		Options:      opts,
	}, e.store, sess)
	require.NoError(t, err)
	return e.previews.Put(p)
}

// seedVariants: Hammer w dwóch kolorach, Saw w sześciu rozmiarach.
func (e *env) seedVariants(t *testing.T) {
	t.Helper()
	gdb := e.h.DB
	require.NoError(t, gdb.Create(&[]db.Attribute{{ID: 5, Name: "Color"}, {ID: 6, Name: "Size"}}).Error)
	require.NoError(t, gdb.Create(&[]db.AttributeValue{{ID: 51, AttributeID: 5, Name: "Red"}, {ID: 52, AttributeID: 5, Name: "Blue"}}).Error)
	require.NoError(t, gdb.Create(&[]db.Variant{{ID: 101, ProductID: 1, Code: "A100-R", Active: true}, {ID: 102, ProductID: 1, Code: "A100-B", Active: true}}).Error)
	require.NoError(t, gdb.Create(&[]db.VariantValue{{VariantID: 101, ValueID: 51}, {VariantID: 102, ValueID: 52}}).Error)
	for i := int64(1); i <= 6; i++ {
		valueID := 60 + i
		variantID := 200 + i
		require.NoError(t, gdb.Create(&db.AttributeValue{ID: valueID, AttributeID: 6, Name: fmt.Sprintf("S%d", i)}).Error)
		require.NoError(t, gdb.Create(&db.Variant{ID: variantID, ProductID: 2, Code: fmt.Sprintf("A200-%d", i), Active: true}).Error)
		require.NoError(t, gdb.Create(&db.VariantValue{VariantID: variantID, ValueID: valueID}).Error)
	}
}

func wait(t *testing.T, run *Run) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := run.Wait(ctx)
	require.NoError(t, err, "sync run did not finish")
	return res
}

func TestSyncCreatesProducts(t *testing.T) {
	e := newEnv(t)
	id := e.preview(t)

	run, err := e.exec.Start(context.Background(), e.fx.Client.ID, id)
	require.NoError(t, err)
	res := wait(t, run)

	assert.Equal(t, repository.StatusDone, res.Status)
	assert.NoError(t, res.Err)
	assert.Equal(t, 3, res.Counters.Created)
	assert.Equal(t, 3, e.fake.ProductCount())

	h, items, err := e.history.Get(context.Background(), run.HistoryID, e.fx.Client.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusDone, h.Status)
	assert.Equal(t, 100, h.Progress)
	assert.Equal(t, 3, h.Current)
	assert.NotNil(t, h.FinishedAt)
	for _, it := range items {
		assert.Equal(t, repository.ItemOK, it.Status)
		assert.NotZero(t, it.RemoteID)
	}

	snap, ok := e.tracker.Get(id)
	require.True(t, ok)
	assert.Equal(t, progress.StateDone, snap.State)
	assert.Equal(t, 100, snap.Progress)
	assert.Equal(t, run.HistoryID, snap.HistoryID)

	// kategoria utworzona raz i zapamiętana
	assert.Len(t, e.fake.Categories, 1)
	var learned int64
	require.NoError(t, e.h.DB.Model(&db.CategoryMappingRow{}).Count(&learned).Error)
	assert.EqualValues(t, 1, learned)

	links, err := e.links.All(context.Background(), e.fx.Connection.ID)
	require.NoError(t, err)
	assert.Len(t, links, 3)
}

func TestSecondRunUpdatesWithoutDuplicates(t *testing.T) {
	e := newEnv(t)
	run, err := e.exec.Start(context.Background(), e.fx.Client.ID, e.preview(t))
	require.NoError(t, err)
	wait(t, run)

	id := e.preview(t)
	p, ok := e.previews.Pending(id)
	require.True(t, ok)
	for _, r := range p.Rows {
		assert.Equal(t, mapping.ActionUpdate, r.Action)
	}

	run, err = e.exec.Start(context.Background(), e.fx.Client.ID, id)
	require.NoError(t, err)
	res := wait(t, run)
	assert.Equal(t, repository.StatusDone, res.Status)
	assert.Equal(t, 3, res.Counters.Updated)
	assert.Equal(t, 0, res.Counters.Created)
	assert.Equal(t, 3, e.fake.ProductCount())
}

func TestPartialFailureKeepsGoing(t *testing.T) {
	e := newEnv(t)
	e.fake.FailProducts["Saw"] = &remote.RemoteError{Op: "product.template.create", Code: 1, Message: "invalid barcode"}

	run, err := e.exec.Start(context.Background(), e.fx.Client.ID, e.preview(t))
	require.NoError(t, err)
	res := wait(t, run)

	assert.Equal(t, repository.StatusDone, res.Status)
	assert.Equal(t, 2, res.Counters.Created)
	assert.Equal(t, 1, res.Counters.Failed)
	assert.Contains(t, res.Counters.ErrorMessage, "Saw")

	_, items, err := e.history.Get(context.Background(), run.HistoryID, 0)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, repository.ItemOK, items[0].Status)
	assert.Equal(t, repository.ItemFailed, items[1].Status)
	assert.Contains(t, items[1].Error, "invalid barcode")
	assert.Equal(t, repository.ItemOK, items[2].Status)
}

func TestCancelStopsBetweenItems(t *testing.T) {
	e := newEnv(t)
	id := e.preview(t)
	e.fake.BeforeWrite = func(name string) {
		if name == "Hammer" {
			e.exec.Cancel(e.fx.Client.ID, id)
		}
	}

	run, err := e.exec.Start(context.Background(), e.fx.Client.ID, id)
	require.NoError(t, err)
	res := wait(t, run)

	assert.Equal(t, repository.StatusCancelled, res.Status)
	assert.Equal(t, 1, res.Counters.Current)
	assert.Equal(t, 1, e.fake.ProductCount())

	_, items, err := e.history.Get(context.Background(), run.HistoryID, 0)
	require.NoError(t, err)
	assert.Equal(t, repository.ItemOK, items[0].Status)
	assert.Equal(t, repository.ItemNotProcessed, items[1].Status)
	assert.Equal(t, repository.ItemNotProcessed, items[2].Status)

	// ponowne anulowanie zakończonego anulowaniem przebiegu
	assert.True(t, e.exec.Cancel(e.fx.Client.ID, id))
	assert.False(t, e.exec.Cancel(e.fx.Client.ID, "no-such-preview"))
}

func TestAuthenticationFailureIsFatal(t *testing.T) {
	e := newEnv(t)
	id := e.preview(t)
	e.fake.ConnectErr = &remote.AuthenticationError{Message: "bad api key"}

	run, err := e.exec.Start(context.Background(), e.fx.Client.ID, id)
	require.NoError(t, err)
	res := wait(t, run)

	assert.Equal(t, repository.StatusError, res.Status)
	assert.Error(t, res.Err)
	assert.Contains(t, res.Counters.ErrorMessage, "authentication")
	// planowanie + jedna próba: błędy logowania nie są ponawiane
	assert.Equal(t, 2, e.fake.Connects)

	_, items, err := e.history.Get(context.Background(), run.HistoryID, 0)
	require.NoError(t, err)
	for _, it := range items {
		assert.Equal(t, repository.ItemNotProcessed, it.Status)
	}
	snap, _ := e.tracker.Get(id)
	assert.Equal(t, progress.StateError, snap.State)
}

func TestConnectionLossAfterRetriesIsFatal(t *testing.T) {
	e := newEnv(t)
	id := e.preview(t)
	e.fake.FailAll = &remote.ConnectionError{Op: "execute_kw", Err: errors.New("connection reset")}

	run, err := e.exec.Start(context.Background(), e.fx.Client.ID, id)
	require.NoError(t, err)
	res := wait(t, run)

	assert.Equal(t, repository.StatusError, res.Status)
	assert.Equal(t, 3, e.fake.ProductWrites) // 1 + 2 ponowienia
	assert.Equal(t, 1, res.Counters.Failed)

	_, items, err := e.history.Get(context.Background(), run.HistoryID, 0)
	require.NoError(t, err)
	assert.Equal(t, repository.ItemFailed, items[0].Status)
	assert.Equal(t, repository.ItemNotProcessed, items[1].Status)
}

func TestOneRunPerClient(t *testing.T) {
	e := newEnv(t)
	first := e.preview(t)
	second := e.preview(t)

	release := make(chan struct{})
	e.fake.BeforeWrite = func(string) { <-release }

	run, err := e.exec.Start(context.Background(), e.fx.Client.ID, first)
	require.NoError(t, err)

	_, err = e.exec.Start(context.Background(), e.fx.Client.ID, second)
	assert.ErrorIs(t, err, ErrClientBusy)
	_, pending := e.previews.Pending(second)
	assert.True(t, pending, "rejected preview stays executable")

	close(release)
	wait(t, run)

	run, err = e.exec.Start(context.Background(), e.fx.Client.ID, second)
	require.NoError(t, err)
	wait(t, run)
}

func TestStartRejectsForeignOrUsedPreview(t *testing.T) {
	e := newEnv(t)
	id := e.preview(t)

	_, err := e.exec.Start(context.Background(), e.fx.Client.ID+100, id)
	assert.ErrorIs(t, err, planner.ErrPreviewNotFound)

	run, err := e.exec.Start(context.Background(), e.fx.Client.ID, id)
	require.NoError(t, err)
	wait(t, run)

	_, err = e.exec.Start(context.Background(), e.fx.Client.ID, id)
	assert.ErrorIs(t, err, planner.ErrPreviewConsumed)

	_, err = e.exec.Start(context.Background(), e.fx.Client.ID, "missing")
	assert.ErrorIs(t, err, planner.ErrPreviewNotFound)
}

func TestCancelDuringLastItemEndsCancelled(t *testing.T) {
	e := newEnv(t)
	id := e.preview(t)
	var accepted bool
	e.fake.BeforeWrite = func(name string) {
		if name == "Drill" {
			accepted = e.exec.Cancel(e.fx.Client.ID, id)
		}
	}

	run, err := e.exec.Start(context.Background(), e.fx.Client.ID, id)
	require.NoError(t, err)
	res := wait(t, run)

	assert.True(t, accepted)
	assert.Equal(t, repository.StatusCancelled, res.Status)
	assert.Equal(t, 3, res.Counters.Current)
	assert.Equal(t, "Cancelled after 3 of 3 products", res.Counters.Message)
	assert.Equal(t, 3, e.fake.ProductCount(), "items already written stay written")

	h, _, err := e.history.Get(context.Background(), run.HistoryID, 0)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusCancelled, h.Status)
	snap, _ := e.tracker.Get(id)
	assert.Equal(t, progress.StateCancelled, snap.State)
}

func TestCancelAfterDoneIsRejected(t *testing.T) {
	e := newEnv(t)
	id := e.preview(t)
	run, err := e.exec.Start(context.Background(), e.fx.Client.ID, id)
	require.NoError(t, err)
	res := wait(t, run)
	require.Equal(t, repository.StatusDone, res.Status)

	assert.False(t, e.exec.Cancel(e.fx.Client.ID, id))
	snap, _ := e.tracker.Get(id)
	assert.Equal(t, progress.StateDone, snap.State)
}

func TestProgressMessageIsPersistedBeforeEachItem(t *testing.T) {
	e := newEnv(t)
	id := e.preview(t)
	var seen []string
	e.fake.BeforeWrite = func(name string) {
		var msg []string
		assert.NoError(t, e.h.DB.Model(&db.SyncHistory{}).Where("preview_id = ?", id).Pluck("message", &msg).Error)
		seen = append(seen, msg...)
	}

	run, err := e.exec.Start(context.Background(), e.fx.Client.ID, id)
	require.NoError(t, err)
	wait(t, run)

	assert.Equal(t, []string{
		"Syncing product 1 of 3: Hammer",
		"Syncing product 2 of 3: Saw",
		"Syncing product 3 of 3: Drill",
	}, seen)
}

func TestVariantsCreateThenUpdate(t *testing.T) {
	e := newEnv(t)
	e.seedVariants(t)
	opts := planner.Options{AutoCreateCategories: true, SyncVariants: true}

	run, err := e.exec.Start(context.Background(), e.fx.Client.ID, e.previewWith(t, opts))
	require.NoError(t, err)
	res := wait(t, run)
	require.Equal(t, repository.StatusDone, res.Status, res.Counters.ErrorMessage)
	// 3 szablony + 2 kolory + 6 rozmiarów
	assert.Equal(t, 11, res.Counters.Created)
	assert.Zero(t, res.Counters.Failed)

	links, err := e.links.All(context.Background(), e.fx.Connection.ID)
	require.NoError(t, err)
	var hammer int64
	for _, l := range links {
		if l.ProductID == 1 && l.VariantID == 0 {
			hammer = l.RemoteID
		}
	}
	require.NotZero(t, hammer)
	require.Len(t, e.fake.Lines[hammer], 1)
	assert.Len(t, e.fake.Lines[hammer][0].ValueIDs, 2)
	assert.Len(t, e.fake.Variants[hammer], 2)
	assert.Len(t, e.fake.Attributes, 2)
	assert.Len(t, e.fake.Values, 8)

	// atrybuty i wartości utworzone u klienta są zapamiętane
	var attrs, values int64
	require.NoError(t, e.h.DB.Model(&db.AttributeMappingRow{}).Count(&attrs).Error)
	require.NoError(t, e.h.DB.Model(&db.AttributeValueMappingRow{}).Count(&values).Error)
	assert.EqualValues(t, 2, attrs)
	assert.EqualValues(t, 8, values)

	run, err = e.exec.Start(context.Background(), e.fx.Client.ID, e.previewWith(t, opts))
	require.NoError(t, err)
	res = wait(t, run)
	require.Equal(t, repository.StatusDone, res.Status, res.Counters.ErrorMessage)
	assert.Zero(t, res.Counters.Created)
	assert.Equal(t, 11, res.Counters.Updated)
	assert.Equal(t, 3, e.fake.ProductCount())
	assert.Len(t, e.fake.Variants[hammer], 2)
	assert.Len(t, e.fake.Attributes, 2)
	assert.Len(t, e.fake.Values, 8)
}

func TestFailedTemplateSkipsItsVariantsAndKeepsGoing(t *testing.T) {
	e := newEnv(t)
	e.seedVariants(t)
	e.fake.FailProducts["Saw"] = &remote.RemoteError{Op: "product.template.create", Code: 1, Message: "invalid barcode"}

	run, err := e.exec.Start(context.Background(), e.fx.Client.ID, e.previewWith(t, planner.Options{AutoCreateCategories: true, SyncVariants: true}))
	require.NoError(t, err)
	res := wait(t, run)

	// 6 wariantów Saw przekracza limit 5 kolejnych błędów, ale nie są liczone jako błędy
	assert.Equal(t, repository.StatusDone, res.Status, res.Counters.ErrorMessage)
	assert.Equal(t, 1, res.Counters.Failed)
	assert.Equal(t, 6, res.Counters.Skipped)
	assert.Equal(t, 4, res.Counters.Created) // Hammer + 2 kolory + Drill
	assert.Equal(t, 2, e.fake.ProductCount())

	_, items, err := e.history.Get(context.Background(), run.HistoryID, 0)
	require.NoError(t, err)
	require.Len(t, items, 11)
	assert.Equal(t, repository.ItemFailed, items[3].Status)
	for _, it := range items[4:10] {
		assert.Equal(t, repository.ItemSkipped, it.Status)
		assert.Contains(t, it.Error, "template of product 2")
	}
	assert.Equal(t, repository.ItemOK, items[10].Status)
}

func TestProductsWithoutCodeGetSeparateRecords(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.h.DB.Model(&db.Product{}).Where("id IN ?", []int64{1, 2}).Update("code", "").Error)
	e.store.Reference = mapping.ReferenceRule{Mode: mapping.RefKeepOriginal, Prefix: "SUP"}

	run, err := e.exec.Start(context.Background(), e.fx.Client.ID, e.preview(t))
	require.NoError(t, err)
	res := wait(t, run)

	assert.Equal(t, repository.StatusDone, res.Status)
	assert.Equal(t, 3, res.Counters.Created)
	assert.Equal(t, 3, e.fake.ProductCount())

	links, err := e.links.All(context.Background(), e.fx.Connection.ID)
	require.NoError(t, err)
	ids := map[int64]bool{}
	for _, l := range links {
		ids[l.RemoteID] = true
	}
	assert.Len(t, ids, 3)
}
