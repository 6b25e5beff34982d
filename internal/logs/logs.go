package logs

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// New otwiera plik logów (append) i opcjonalnie dubluje wpisy na konsolę.
// Zwrócony logger jest też ustawiany jako globalny log.Logger.
func New(logFilePath string, withConsole bool) zerolog.Logger {
	logFile, err := os.OpenFile(logFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		log.Fatal().Err(err).Str("path", logFilePath).Msg("cannot open log file")
	}
	return build(logFile, withConsole)
}

func build(out io.Writer, withConsole bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	writer := out
	if withConsole {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		writer = zerolog.MultiLevelWriter(out, consoleWriter)
	}

	logger := zerolog.New(writer).With().
		Timestamp().
		Caller().
		Logger()

	log.Logger = logger
	return logger
}

// SetLevel ustawia globalny poziom; nieznana nazwa zostawia info.
func SetLevel(name string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || name == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// Component zwraca child logger z polem "component".
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}
