package db

import (
	"fmt"
	"path/filepath"

	puresqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Handle struct {
	DB   *gorm.DB
	Path string
}

// OpenAt otwiera domyślną bazę sqlite w katalogu aplikacji.
func OpenAt(dir string) (*Handle, error) {
	return Open("sqlite", "", dir)
}

// Open wybiera dialektor po nazwie drivera. Dla sqlite pusty dsn = plik w dir.
func Open(driver, dsn, dir string) (*Handle, error) {
	var (
		dial gorm.Dialector
		path = dsn
	)
	switch driver {
	case "", "sqlite":
		if path == "" {
			path = filepath.Join(dir, "catalog2erp.db")
		}
		dial = sqlite.Open(path)
	case "sqlite-pure":
		if path == "" {
			path = filepath.Join(dir, "catalog2erp.db")
		}
		dial = puresqlite.Open(path)
	case "mysql":
		dial = mysql.Open(dsn)
	case "postgres":
		dial = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown db driver %q", driver)
	}

	gdb, err := gorm.Open(dial, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		// Logger: logger.Default.LogMode(logger.Info), // włącz jeśli chcesz verbose SQL
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	return &Handle{DB: gdb, Path: path}, nil
}

// OpenMemory to baza w pamięci (czyste Go), używana w testach.
func OpenMemory() (*Handle, error) {
	gdb, err := gorm.Open(puresqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	// jedna konekcja: każda nowa konekcja do :memory: to osobna baza
	if sqlDB, err := gdb.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	return &Handle{DB: gdb, Path: ":memory:"}, nil
}

func (h *Handle) Close() error {
	sqlDB, err := h.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
