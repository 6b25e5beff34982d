//go:build windows && !dev

package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/getlantern/systray"

	conf "github.com/bartek5186/catalog2erp/internal/config"
	"github.com/bartek5186/catalog2erp/internal/logs"
)

func main() {
	// katalog danych aplikacji (logi, config, baza sqlite)
	appDir := mustAppDataDir(appName)
	log := logs.New(filepath.Join(appDir, "app.log"), false)

	cfgPath := filepath.Join(appDir, "config.json")
	cfg, firstRun, err := conf.LoadOrCreate(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfgPath).Msg("config load error")
	}
	logs.SetLevel(cfg.LogLevel)
	if firstRun {
		log.Info().Str("path", cfgPath).Msg("default config created")
	}

	// kontekst sterujący życiem procesu (CTRL+C / zamknięcie sesji)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, log, appDir, cfg, cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	if err := a.serve(ctx); err != nil {
		log.Fatal().Err(err).Msg("portal not started")
	}

	go func() {
		<-ctx.Done()
		systray.Quit()
	}()

	tooltip := func(state string) {
		systray.SetTooltip(fmt.Sprintf("catalog2erp %s: %s", ver, state))
	}

	systray.Run(func() {
		systray.SetTitle("catalog2erp")
		tooltip("portal " + a.cfg.HTTP.Listen)

		mPortal := systray.AddMenuItem("Otwórz portal", "Portal klienta w przeglądarce")
		systray.AddSeparator()
		mStart := systray.AddMenuItem("Start integracji", "Import feedów, uzgadnianie, sprzątanie")
		mStop := systray.AddMenuItem("Stop integracji", "Zatrzymaj zadania tła")
		mStop.Disable()

		systray.AddSeparator()
		mOpenLogs := systray.AddMenuItem("Otwórz logi", "Pokaż plik log")
		mOpenCfg := systray.AddMenuItem("Ustawienia (config.json)", "Otwórz plik konfiguracyjny")
		mReload := systray.AddMenuItem("Przeładuj konfigurację", "Wczytaj ponownie config.json")
		systray.AddSeparator()
		mAbout := systray.AddMenuItem(fmt.Sprintf("O programie (%s)", ver), "")
		mQuit := systray.AddMenuItem("Wyjście", "Zamknij aplikację")

		if a.syncer.IsRunning() {
			mStart.Disable()
			mStop.Enable()
		}

		go func() {
			for {
				select {
				case <-mPortal.ClickedCh:
					openInExplorer("http://" + a.cfg.HTTP.Listen + "/healthz")

				case <-mStart.ClickedCh:
					if err := a.syncer.Start(ctx); err != nil {
						log.Error().Err(err).Msg("integrations start failed")
						tooltip("błąd startu")
						continue
					}
					mStart.Disable()
					mStop.Enable()
					tooltip("integracje działają")

				case <-mStop.ClickedCh:
					a.syncer.Stop()
					mStop.Disable()
					mStart.Enable()
					tooltip("integracje zatrzymane")

				case <-mOpenLogs.ClickedCh:
					openInExplorer(a.logPath())

				case <-mOpenCfg.ClickedCh:
					openInExplorer(cfgPath)

				case <-mReload.ClickedCh:
					if err := a.reload(ctx); err != nil {
						log.Error().Err(err).Msg("config reload failed")
						continue
					}
					logs.SetLevel(a.cfg.LogLevel)
					log.Info().Msg("config reloaded")

				case <-mAbout.ClickedCh:
					log.Info().Str("version", ver).Str("go", runtime.Version()).Int("active_runs", len(a.exec.Active())).Msg("about")

				case <-mQuit.ClickedCh:
					cancel()
					return
				}
			}
		}()
	}, func() {
		// onExit: zamykamy portal, integracje i przebiegi; chwila dla loggera na flush
		a.shutdown()
		time.Sleep(50 * time.Millisecond)
	})
}

// przenośne otwieranie plików/katalogów w domyślnej aplikacji
func openInExplorer(path string) {
	switch runtime.GOOS {
	case "windows":
		// "start" musi być uruchomiony przez cmd /C, z pustym tytułem okna ""
		_ = exec.Command("cmd", "/C", "start", "", path).Start()
	case "darwin":
		_ = exec.Command("open", path).Start()
	default:
		_ = exec.Command("xdg-open", path).Start()
	}
}
