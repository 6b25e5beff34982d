package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bartek5186/catalog2erp/internal/db"
	"github.com/bartek5186/catalog2erp/internal/planner"
	"github.com/bartek5186/catalog2erp/internal/progress"
	"github.com/bartek5186/catalog2erp/internal/remote"
	"github.com/bartek5186/catalog2erp/internal/repository"
	"github.com/rs/zerolog"
)

var ErrClientBusy = errors.New("another sync is already running for this client")

type Previews interface {
	Take(id string) (*planner.Preview, error)
	Release(id string)
}

type HistoryStore interface {
	Start(ctx context.Context, h *db.SyncHistory, items []db.SyncItem) error
	Record(ctx context.Context, historyID uint, it repository.ItemResult, c repository.Counters) error
	Progress(ctx context.Context, historyID uint, c repository.Counters) error
	Finish(ctx context.Context, historyID uint, status string, c repository.Counters, details any) error
}

type LinkStore interface {
	Save(ctx context.Context, connectionID uint, l repository.Link) error
}

// Learner zapamiętuje id utworzone albo znalezione u klienta dla kolejnych podglądów.
type Learner interface {
	LearnCategory(ctx context.Context, connectionID uint, supplierCategoryID, clientID int64, name string) error
	LearnAttribute(ctx context.Context, connectionID uint, supplierAttributeID, clientID int64, name string) error
	LearnAttributeValue(ctx context.Context, connectionID uint, supplierValueID, clientID int64, name string) error
}

type Metrics interface {
	RunStarted()
	RunFinished(status string)
	Item(action, result string)
}

type Config struct {
	Workers                int
	QueueSize              int
	Retry                  RetryConfig
	MaxConsecutiveFailures int
	RunTimeout             time.Duration
}

type Deps struct {
	Dialer   remote.Dialer
	Previews Previews
	History  HistoryStore
	Links    LinkStore
	Learner  Learner
	Tracker  *progress.Tracker
	Mirror   progress.Mirror
	Metrics  Metrics

	// OnFinish dostaje wynik każdego zakończonego przebiegu (np. znacznik ostatniej synchronizacji).
	OnFinish func(run *Run, res Result)
}

type Executor struct {
	log     zerolog.Logger
	cfg     Config
	deps    Deps
	retrier *Retrier
	pool    *Pool

	root   context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	busy map[uint]string // client -> preview
	runs map[string]*Run
}

func New(log zerolog.Logger, cfg Config, deps Deps) *Executor {
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 10
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 2 * time.Hour
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if deps.Tracker == nil {
		deps.Tracker = progress.NewTracker()
	}
	root, cancel := context.WithCancel(context.Background())
	return &Executor{
		log:     log.With().Str("component", "executor").Logger(),
		cfg:     cfg,
		deps:    deps,
		retrier: NewRetrier(cfg.Retry),
		pool:    NewPool(cfg.Workers, cfg.QueueSize),
		root:    root,
		cancel:  cancel,
		busy:    map[uint]string{},
		runs:    map[string]*Run{},
	}
}

// Start zabiera podgląd (dokładnie raz), zakłada historię i oddaje przebieg do puli.
// Wraca od razu; wynik jest w Run.Done(). clientID 0 wyłącza sprawdzanie właściciela.
func (e *Executor) Start(ctx context.Context, clientID uint, previewID string) (*Run, error) {
	p, err := e.deps.Previews.Take(previewID)
	if err != nil {
		return nil, err
	}
	if clientID != 0 && p.ClientID != clientID {
		e.deps.Previews.Release(previewID)
		return nil, planner.ErrPreviewNotFound
	}

	e.mu.Lock()
	if _, held := e.busy[p.ClientID]; held {
		e.mu.Unlock()
		e.deps.Previews.Release(previewID)
		return nil, ErrClientBusy
	}
	e.busy[p.ClientID] = previewID
	e.mu.Unlock()

	run := newRun(previewID, p.ClientID, len(p.Rows))
	run.ConnectionID = p.ConnectionID
	h := &db.SyncHistory{
		PreviewID:    previewID,
		ClientID:     p.ClientID,
		ConnectionID: p.ConnectionID,
		Total:        len(p.Rows),
		Message:      "Starting synchronization",
	}
	items := make([]db.SyncItem, 0, len(p.Rows))
	for _, r := range p.Rows {
		items = append(items, db.SyncItem{
			Seq:       r.Seq,
			ProductID: r.ProductID,
			VariantID: r.VariantID,
			Name:      r.Name,
			Action:    string(r.Action),
			Status:    repository.ItemPending,
		})
	}
	if err := e.deps.History.Start(ctx, h, items); err != nil {
		e.unlock(p.ClientID)
		e.deps.Previews.Release(previewID)
		return nil, fmt.Errorf("create sync history: %w", err)
	}
	run.HistoryID = h.ID

	e.mu.Lock()
	e.runs[previewID] = run
	e.mu.Unlock()

	e.publish(run, progress.Snapshot{State: progress.StateRunning, Total: run.Total, Message: h.Message})
	if e.deps.Metrics != nil {
		e.deps.Metrics.RunStarted()
	}

	if err := e.pool.Submit(func() { e.execute(run, p) }); err != nil {
		st := newRunState(run, e.cfg.MaxConsecutiveFailures)
		e.finish(run, p, st, repository.StatusError, "sync could not be queued: "+err.Error())
		return nil, err
	}

	e.log.Info().
		Str("preview_id", previewID).
		Uint("history_id", run.HistoryID).
		Uint("client_id", p.ClientID).
		Int("total", run.Total).
		Msg("sync run queued")
	return run, nil
}

// Cancel jest idempotentne: true dla przebiegu trwającego albo już anulowanego,
// false dla nieznanego albo zakończonego inaczej niż anulowaniem.
func (e *Executor) Cancel(clientID uint, previewID string) bool {
	e.mu.Lock()
	run, ok := e.runs[previewID]
	e.mu.Unlock()
	if ok {
		if clientID != 0 && run.ClientID != clientID {
			return false
		}
		if run.token.Cancel() {
			e.log.Info().Str("preview_id", previewID).Msg("cancel requested")
		}
		// przebieg już zapisuje stan końcowy inny niż anulowanie
		return run.token.Cancelled()
	}
	snap, ok := e.deps.Tracker.Get(previewID)
	return ok && snap.State == progress.StateCancelled && (clientID == 0 || snap.ClientID == clientID)
}

// Active zwraca trwające przebiegi.
func (e *Executor) Active() []*Run {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Run, 0, len(e.runs))
	for _, r := range e.runs {
		out = append(out, r)
	}
	return out
}

func (e *Executor) Run(previewID string) (*Run, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runs[previewID]
	return r, ok
}

// Shutdown anuluje trwające przebiegi i czeka na workerów albo na ctx.
func (e *Executor) Shutdown(ctx context.Context) error {
	for _, r := range e.Active() {
		r.token.Cancel()
	}
	done := make(chan struct{})
	go func() {
		e.pool.Close()
		close(done)
	}()
	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		return ctx.Err()
	}
}

func (e *Executor) unlock(clientID uint) {
	e.mu.Lock()
	delete(e.busy, clientID)
	e.mu.Unlock()
}

func (e *Executor) publish(run *Run, s progress.Snapshot) {
	s.ClientID = run.ClientID
	e.deps.Tracker.Publish(run.PreviewID, s)
	if e.deps.Mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := e.deps.Mirror.Publish(ctx, run.PreviewID, s); err != nil {
			e.log.Debug().Err(err).Str("preview_id", run.PreviewID).Msg("status mirror publish failed")
		}
	}
}

// runState to liczniki jednego przebiegu; używane tylko przez goroutine przebiegu.
type runState struct {
	run         *Run
	maxFailures int
	counters    repository.Counters
	consecutive int
	errors      []string
}

func newRunState(run *Run, maxFailures int) *runState {
	return &runState{run: run, maxFailures: maxFailures}
}

func (s *runState) errorSummary() string {
	if len(s.errors) == 0 {
		return ""
	}
	const keep = 10
	msgs := s.errors
	extra := 0
	if len(msgs) > keep {
		extra = len(msgs) - keep
		msgs = msgs[:keep]
	}
	out := fmt.Sprintf("%d item(s) failed: %s", len(s.errors), strings.Join(msgs, "; "))
	if extra > 0 {
		out += fmt.Sprintf(" (and %d more)", extra)
	}
	return out
}

func (e *Executor) snapshot(st *runState, state progress.State) progress.Snapshot {
	c := st.counters
	return progress.Snapshot{
		State:        state,
		Progress:     c.Progress,
		Current:      c.Current,
		Total:        st.run.Total,
		Message:      c.Message,
		ErrorMessage: c.ErrorMessage,
	}
}

func (e *Executor) execute(run *Run, p *planner.Preview) {
	log := e.log.With().Str("preview_id", run.PreviewID).Uint("history_id", run.HistoryID).Logger()
	ctx, cancel := context.WithTimeout(e.root, e.cfg.RunTimeout)
	defer cancel()

	st := newRunState(run, e.cfg.MaxConsecutiveFailures)
	start := time.Now()

	var sess remote.Session
	_, err := e.retrier.Do(ctx, "connect", func(ctx context.Context) error {
		s, err := e.deps.Dialer.Connect(ctx, p.Target)
		sess = s
		return err
	})
	if err != nil {
		log.Error().Err(err).Msg("connect failed")
		e.finish(run, p, st, repository.StatusError, connectSummary(err))
		return
	}
	defer sess.Close()

	w := newWriter(log, sess, e.retrier, e.deps, p)
	total := len(p.Rows)

	for i, row := range p.Rows {
		if run.token.Cancelled() {
			e.finish(run, p, st, repository.StatusCancelled,
				fmt.Sprintf("Cancelled after %d of %d products", st.counters.Current, total))
			return
		}
		if ctx.Err() != nil {
			e.finish(run, p, st, repository.StatusError, "sync run timed out")
			return
		}

		st.counters.Message = fmt.Sprintf("Syncing product %d of %d: %s", i+1, total, row.Name)
		e.publish(run, e.snapshot(st, progress.StateRunning))
		if err := e.deps.History.Progress(ctx, run.HistoryID, st.counters); err != nil {
			log.Warn().Err(err).Int("seq", row.Seq).Msg("persist sync progress failed")
		}

		out := w.process(ctx, row)

		item := repository.ItemResult{Seq: row.Seq, RemoteID: out.remoteID, Changes: row.Changes}
		result := "ok"
		switch {
		case out.err != nil:
			item.Status = repository.ItemFailed
			item.Error = out.err.Error()
			result = "failed"
			st.counters.Failed++
			st.consecutive++
			st.errors = append(st.errors, fmt.Sprintf("%s: %s", row.Name, out.err.Error()))
			log.Warn().Err(out.err).Int64("product_id", row.ProductID).Int("seq", row.Seq).Msg("sync item failed")
		case out.blocked != "":
			// pozycja zależna od nieudanego szablonu; licznika kolejnych błędów nie ruszamy
			item.Status = repository.ItemSkipped
			item.Error = out.blocked
			result = "skipped"
			st.counters.Skipped++
		case out.skipped:
			item.Status = repository.ItemSkipped
			item.Error = row.Reason
			result = "skipped"
			st.counters.Skipped++
			st.consecutive = 0
		default:
			item.Status = repository.ItemOK
			if len(out.warnings) > 0 {
				item.Error = strings.Join(out.warnings, "; ")
			}
			if out.created {
				st.counters.Created++
			} else {
				st.counters.Updated++
			}
			st.consecutive = 0
		}
		st.counters.Current = i + 1
		st.counters.Progress = progress.Percent(st.counters.Current, total)
		st.counters.ErrorMessage = st.errorSummary()

		if err := e.deps.History.Record(ctx, run.HistoryID, item, st.counters); err != nil {
			log.Error().Err(err).Int("seq", row.Seq).Msg("record sync item failed")
			e.finish(run, p, st, repository.StatusError, "could not persist sync progress: "+err.Error())
			return
		}
		if e.deps.Metrics != nil {
			e.deps.Metrics.Item(string(row.Action), result)
		}
		e.publish(run, e.snapshot(st, progress.StateRunning))

		if out.err != nil && fatal(out.err) {
			e.finish(run, p, st, repository.StatusError, fatalSummary(out.err))
			return
		}
		if st.consecutive >= st.maxFailures {
			e.finish(run, p, st, repository.StatusError,
				fmt.Sprintf("aborted after %d consecutive failures", st.consecutive))
			return
		}
	}

	st.counters.Message = fmt.Sprintf("Synchronized %d of %d products in %s", total, total, time.Since(start).Round(time.Second))
	e.finish(run, p, st, repository.StatusDone, "")
}

// fatal: błędy, po których kolejne pozycje i tak by się nie udały.
func fatal(err error) bool {
	return remote.IsAuthentication(err) || remote.IsConnection(err) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func connectSummary(err error) string {
	if remote.IsAuthentication(err) {
		return "authentication failed: " + err.Error()
	}
	return "connection failed: " + err.Error()
}

func fatalSummary(err error) string {
	switch {
	case remote.IsAuthentication(err):
		return "authentication lost: " + err.Error()
	case remote.IsConnection(err):
		return "connection lost: " + err.Error()
	}
	return "sync aborted: " + err.Error()
}

// finish zapisuje stan końcowy, zwalnia blokadę klienta i zamyka Run.
// Anulowanie przyjęte przed zamknięciem tokenu zawsze kończy się stanem cancelled.
func (e *Executor) finish(run *Run, p *planner.Preview, st *runState, status, reason string) {
	c := st.counters
	if status != repository.StatusCancelled && !run.token.Seal() {
		if status == repository.StatusError {
			c.ErrorMessage = reason
		}
		status = repository.StatusCancelled
		reason = fmt.Sprintf("Cancelled after %d of %d products", c.Current, run.Total)
	}
	switch status {
	case repository.StatusDone:
		c.Progress = 100
		c.Current = run.Total
		if c.Message == "" {
			c.Message = "Synchronization finished"
		}
	case repository.StatusCancelled:
		c.Message = reason
	case repository.StatusError:
		c.Message = "Synchronization failed"
		if summary := st.errorSummary(); summary != "" {
			reason += " | " + summary
		}
		c.ErrorMessage = reason
	}

	details := map[string]any{
		"created":  c.Created,
		"updated":  c.Updated,
		"skipped":  c.Skipped,
		"failed":   c.Failed,
		"reason":   reason,
		"options":  p.Options,
		"rows":     run.Total,
		"finished": time.Now().Format(time.RFC3339),
	}
	// stan końcowy zapisujemy niezależnie od kontekstu przebiegu (mógł wygasnąć)
	fctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.deps.History.Finish(fctx, run.HistoryID, status, c, details); err != nil {
		e.log.Error().Err(err).Str("preview_id", run.PreviewID).Msg("finish sync history failed")
	}

	snap := progress.Snapshot{
		State:        progress.State(status),
		Progress:     c.Progress,
		Current:      c.Current,
		Total:        run.Total,
		Message:      c.Message,
		ErrorMessage: c.ErrorMessage,
		HistoryID:    run.HistoryID,
	}
	e.publish(run, snap)

	e.mu.Lock()
	delete(e.runs, run.PreviewID)
	delete(e.busy, run.ClientID)
	e.mu.Unlock()

	if e.deps.Metrics != nil {
		e.deps.Metrics.RunFinished(status)
	}
	e.log.Info().
		Str("preview_id", run.PreviewID).
		Uint("history_id", run.HistoryID).
		Str("status", status).
		Int("current", c.Current).
		Int("total", run.Total).
		Int("failed", c.Failed).
		Msg("sync run finished")

	var err error
	if status == repository.StatusError {
		err = errors.New(c.ErrorMessage)
	}
	res := Result{Status: status, Counters: c, Err: err}
	if e.deps.OnFinish != nil {
		e.deps.OnFinish(run, res)
	}
	run.finish(res)
}
