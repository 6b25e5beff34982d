package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bartek5186/catalog2erp/internal/catalog"
	conf "github.com/bartek5186/catalog2erp/internal/config"
	"github.com/bartek5186/catalog2erp/internal/db"
	"github.com/bartek5186/catalog2erp/internal/executor"
	"github.com/bartek5186/catalog2erp/internal/export"
	"github.com/bartek5186/catalog2erp/internal/integrations"
	"github.com/bartek5186/catalog2erp/internal/metrics"
	"github.com/bartek5186/catalog2erp/internal/planner"
	"github.com/bartek5186/catalog2erp/internal/portal"
	"github.com/bartek5186/catalog2erp/internal/progress"
	"github.com/bartek5186/catalog2erp/internal/remote"
	"github.com/bartek5186/catalog2erp/internal/repository"
	"github.com/bartek5186/catalog2erp/internal/syncer"
	"github.com/rs/zerolog"
)

// wersję można nadpisać przez: -ldflags "-X 'main.ver=1.0.1'"
var ver = "1.0.0"

const appName = "catalog2erp"

// app trzyma wszystko, co żyje tak długo jak proces.
type app struct {
	log     zerolog.Logger
	dir     string
	cfgPath string
	cfg     *conf.Config

	dbh      *db.Handle
	mirror   *progress.RedisMirror
	exec     *executor.Executor
	portal   *portal.Server
	syncer   *syncer.Syncer
	previews *planner.Store
	tracker  *progress.Tracker
}

func newApp(ctx context.Context, log zerolog.Logger, dir string, cfg *conf.Config, cfgPath string) (*app, error) {
	a := &app{log: log, dir: dir, cfg: cfg, cfgPath: cfgPath}

	dbh, err := db.Open(cfg.Database.Driver, cfg.Database.DSN, dir)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if err := dbh.Migrate(); err != nil {
		_ = dbh.Close()
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	a.dbh = dbh
	log.Info().Str("driver", cfg.Database.Driver).Str("db", dbh.Path).Msg("DB ready")

	gdb := dbh.DB
	cat := catalog.NewRepository(gdb)
	conns := repository.NewConnections(gdb)
	links := repository.NewLinks(gdb)
	history := repository.NewHistory(gdb)
	mappings := repository.NewMappings(gdb)
	access := repository.NewAccessLogs(gdb)

	// przebiegi przerwane restartem nie mogą wisieć jako running
	if n, err := history.MarkInterrupted(ctx); err != nil {
		log.Error().Err(err).Msg("mark interrupted runs failed")
	} else if n > 0 {
		log.Warn().Int64("runs", n).Msg("runs interrupted by restart marked as error")
	}

	m := metrics.New()
	dialer := remote.NewXMLRPCDialer(log, m)
	a.previews = planner.NewStore(cfg.Sync.PreviewTTL())
	a.tracker = progress.NewTracker()

	var mirror progress.Mirror
	if cfg.Redis.Enabled {
		rm, err := progress.NewRedisMirror(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, time.Duration(cfg.Redis.TTLMin)*time.Minute)
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis status mirror unavailable, continuing without it")
		} else {
			a.mirror = rm
			mirror = rm
		}
	}

	retry := executor.DefaultRetryConfig()
	retry.MaxRetries = cfg.Sync.RetryAttempts
	retry.InitialBackoff = cfg.Sync.RetryBackoff()

	a.exec = executor.New(log, executor.Config{
		Workers:                cfg.Sync.Workers,
		Retry:                  retry,
		MaxConsecutiveFailures: cfg.Sync.MaxConsecutiveFailures,
		RunTimeout:             cfg.Sync.RunTimeout(),
	}, executor.Deps{
		Dialer:   dialer,
		Previews: a.previews,
		History:  history,
		Links:    links,
		Learner:  mappings,
		Tracker:  a.tracker,
		Mirror:   mirror,
		Metrics:  m,
		OnFinish: func(run *executor.Run, res executor.Result) {
			if res.Status != repository.StatusDone {
				return
			}
			if err := conns.MarkSynced(context.Background(), run.ConnectionID, time.Now()); err != nil {
				log.Warn().Err(err).Uint("connection_id", run.ConnectionID).Msg("store last sync time failed")
			}
		},
	})

	status := progress.NewSurface(log, a.tracker, mirror, a.previews, history)
	exporter := export.New(log, cat, access, export.Settings{
		MaxProducts:         cfg.Export.MaxProducts,
		RateLimitPerHour:    cfg.Export.RateLimitPerHour,
		IncludeSupplierInfo: cfg.Export.IncludeSupplierInfo,
		SupplierExternalID:  cfg.Export.SupplierExternalID,
	})

	a.portal = portal.New(log, portal.Settings{
		RemoteTimeout:   cfg.Sync.RemoteTimeout(),
		RemoteRPS:       cfg.Sync.RemoteRequestsPerSec,
		PollIntervalSec: cfg.HTTP.PollIntervalSec,
		PollTimeoutMin:  cfg.HTTP.PollTimeoutMin,
	}, portal.Deps{
		Catalog:     cat,
		Selections:  catalog.NewSelections(gdb),
		Connections: conns,
		Mappings:    mappings,
		History:     history,
		Access:      access,
		Previews:    a.previews,
		Planner:     planner.New(log, cat, links),
		Executor:    a.exec,
		Status:      status,
		Exporter:    exporter,
		Dialer:      dialer,
		Metrics:     m,
		Ping: func(ctx context.Context) error {
			sqlDB, err := gdb.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	})

	a.syncer = syncer.New(log, cfg, integrations.Deps{
		DB:            gdb,
		Dialer:        dialer,
		Connections:   conns,
		Links:         links,
		History:       history,
		Previews:      a.previews,
		Tracker:       a.tracker,
		RemoteTimeout: cfg.Sync.RemoteTimeout(),
		RemoteRPS:     cfg.Sync.RemoteRequestsPerSec,
	})
	return a, nil
}

// serve otwiera port portalu i opcjonalnie startuje integracje tła.
func (a *app) serve(ctx context.Context) error {
	if err := a.portal.Start(a.cfg.HTTP.Listen); err != nil {
		return fmt.Errorf("portal listen %s: %w", a.cfg.HTTP.Listen, err)
	}
	if a.cfg.AutoStart {
		if err := a.syncer.Start(ctx); err != nil {
			a.log.Error().Err(err).Msg("integrations autostart failed")
		}
	}
	return nil
}

func (a *app) reload(ctx context.Context) error {
	cfg, _, err := conf.LoadOrCreate(a.cfgPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.syncer.UpdateConfig(ctx, cfg)
	return nil
}

// shutdown: najpierw wejście (HTTP), potem tło, na końcu przebiegi i baza.
func (a *app) shutdown() {
	timeout := time.Duration(a.cfg.HTTP.ShutdownTimeoutS) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := a.portal.Shutdown(ctx); err != nil {
		a.log.Warn().Err(err).Msg("portal shutdown")
	}
	a.syncer.Stop()
	if err := a.exec.Shutdown(ctx); err != nil {
		a.log.Warn().Err(err).Msg("executor shutdown")
	}
	if a.mirror != nil {
		_ = a.mirror.Close()
	}
	if err := a.dbh.Close(); err != nil {
		a.log.Warn().Err(err).Msg("db close")
	}
	a.log.Info().Msg("shutdown complete")
}

func (a *app) logPath() string { return filepath.Join(a.dir, "app.log") }

func mustAppDataDir(name string) string {
	base, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	p := filepath.Join(base, name)
	_ = os.MkdirAll(p, 0o755)
	return p
}
