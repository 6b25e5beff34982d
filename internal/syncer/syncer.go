// internal/syncer/syncer.go
package syncer

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	conf "github.com/bartek5186/catalog2erp/internal/config"
	"github.com/bartek5186/catalog2erp/internal/integrations"
	_ "github.com/bartek5186/catalog2erp/internal/integrations/importer" // rejestracja
	_ "github.com/bartek5186/catalog2erp/internal/integrations/janitor"
	_ "github.com/bartek5186/catalog2erp/internal/integrations/reconciler"
	"github.com/rs/zerolog"
)

// wrapper na uruchomioną integrację
type runningInt struct {
	Name string
	Inst integrations.Integration
}

// Syncer uruchamia i zatrzymuje integracje tła skonfigurowane w config.json.
type Syncer struct {
	log     zerolog.Logger
	deps    integrations.Deps
	mu      sync.Mutex
	cfg     *conf.Config
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	ints    []runningInt
}

func New(log zerolog.Logger, cfg *conf.Config, deps integrations.Deps) *Syncer {
	return &Syncer{log: log.With().Str("component", "syncer").Logger(), cfg: cfg, deps: deps}
}

func (s *Syncer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	ints := s.buildIntegrationsLocked()
	s.ints = ints
	s.mu.Unlock()

	s.log.Info().Int("integrations", len(ints)).Msg("syncer started")

	// każda integracja w swojej gorutinie
	for i := range ints {
		s.wg.Add(1)
		go func(intg integrations.Integration) {
			defer s.wg.Done()
			if err := intg.Start(ctx); err != nil {
				s.log.Error().Err(err).Str("integration", intg.Name()).Msg("integration stopped with error")
			}
		}(ints[i].Inst)
	}
	return nil
}

// toggle pozwala wyłączyć integrację bez usuwania jej sekcji z configu
type toggle struct {
	Disabled bool `json:"disabled"`
}

func (s *Syncer) buildIntegrationsLocked() []runningInt {
	var out []runningInt
	if s.cfg == nil || len(s.cfg.Integrations) == 0 {
		s.log.Warn().Msg("no integrations configured")
		return out
	}
	names := make([]string, 0, len(s.cfg.Integrations))
	for name := range s.cfg.Integrations {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		raw := s.cfg.Integrations[name]
		var t toggle
		_ = json.Unmarshal(raw, &t)
		if t.Disabled {
			s.log.Info().Str("integration", name).Msg("integration disabled")
			continue
		}
		f, ok := integrations.Get(name)
		if !ok {
			s.log.Warn().Str("integration", name).Strs("known", integrations.Names()).Msg("no factory, skipping")
			continue
		}
		inst, err := f(s.log.With().Str("integration", name).Logger(), raw, s.deps)
		if err != nil {
			s.log.Error().Err(err).Str("integration", name).Msg("integration init failed")
			continue
		}
		out = append(out, runningInt{Name: name, Inst: inst})
	}
	return out
}

func (s *Syncer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	ints := s.ints
	s.ints = nil
	s.cancel = nil
	s.mu.Unlock()

	for _, ri := range ints {
		ri.Inst.Stop()
	}
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.log.Info().Msg("syncer stopped")
}

// UpdateConfig podmienia config; działające integracje są restartowane z nowymi ustawieniami.
func (s *Syncer) UpdateConfig(ctx context.Context, cfg *conf.Config) {
	s.mu.Lock()
	s.cfg = cfg
	isRunning := s.running
	s.mu.Unlock()

	s.log.Info().Bool("restart", isRunning).Msg("syncer config updated")
	if isRunning {
		s.Stop()
		_ = s.Start(ctx)
	}
}

func (s *Syncer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Running zwraca nazwy uruchomionych integracji.
func (s *Syncer) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.ints))
	for _, ri := range s.ints {
		out = append(out, ri.Name)
	}
	return out
}
