//go:build !windows || dev

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	conf "github.com/bartek5186/catalog2erp/internal/config"
	"github.com/bartek5186/catalog2erp/internal/logs"
)

func main() {
	appDir := mustAppDataDir(appName)
	log := logs.New(filepath.Join(appDir, "app.log"), true)

	cfgPath := filepath.Join(appDir, "config.json")
	cfg, firstRun, err := conf.LoadOrCreate(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfgPath).Msg("config load error")
	}
	logs.SetLevel(cfg.LogLevel)
	if firstRun {
		log.Info().Str("path", cfgPath).Msg("default config created")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, log, appDir, cfg, cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer a.shutdown()

	if err := a.serve(ctx); err != nil {
		log.Error().Err(err).Msg("portal not started")
		return
	}
	log.Info().Str("version", ver).Str("listen", cfg.HTTP.Listen).Msg("catalog2erp (CLI) running")

	// Prosta pętla poleceń w terminalu
	fmt.Println("catalog2erp CLI", ver)
	fmt.Println("Komendy: start | stop | reload | status | runs | paths | quit")

	lines := make(chan string)
	go func() {
		reader := bufio.NewScanner(os.Stdin)
		for reader.Scan() {
			lines <- reader.Text()
		}
		close(lines)
	}()

	for {
		fmt.Print("> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Println()
			return
		case l, ok := <-lines:
			if !ok {
				// stdin zamknięty (np. uruchomienie jako usługa), czekamy na sygnał
				<-ctx.Done()
				return
			}
			line = l
		}

		switch strings.TrimSpace(strings.ToLower(line)) {
		case "start":
			if err := a.syncer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("integrations start failed")
				fmt.Println("Błąd startu:", err)
				continue
			}
			fmt.Println("Integracje:", strings.Join(a.syncer.Running(), ", "))
		case "stop":
			a.syncer.Stop()
			fmt.Println("Zatrzymano")
		case "reload":
			if err := a.reload(ctx); err != nil {
				log.Error().Err(err).Msg("config reload failed")
				fmt.Println("Błąd reloadu:", err)
				continue
			}
			logs.SetLevel(a.cfg.LogLevel)
			log.Info().Msg("config reloaded")
			fmt.Println("Konfiguracja przeładowana")
		case "status":
			if a.syncer.IsRunning() {
				fmt.Println("Integracje: DZIAŁAJĄ", a.syncer.Running())
			} else {
				fmt.Println("Integracje: ZATRZYMANE")
			}
			fmt.Printf("Portal: http://%s | podglądy: %d | przebiegi: %d\n", a.cfg.HTTP.Listen, a.previews.Len(), len(a.exec.Active()))
		case "runs":
			runs := a.exec.Active()
			if len(runs) == 0 {
				fmt.Println("Brak aktywnych przebiegów")
				continue
			}
			for _, r := range runs {
				out := fmt.Sprintf("%s klient=%d historia=%d", r.PreviewID, r.ClientID, r.HistoryID)
				if snap, ok := a.tracker.Get(r.PreviewID); ok {
					out += fmt.Sprintf(" %s %d/%d (%d%%)", snap.State, snap.Current, snap.Total, snap.Progress)
				}
				fmt.Println(out)
			}
		case "paths":
			fmt.Println("Logi:", a.logPath())
			fmt.Println("Config:", cfgPath)
			fmt.Println("Baza:", a.dbh.Path)
		case "quit", "exit":
			return
		case "":
			// enter – ignoruj
		default:
			fmt.Println("Nieznana komenda. Użyj: start | stop | reload | status | runs | paths | quit")
		}
	}
}
