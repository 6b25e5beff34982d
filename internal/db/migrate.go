package db

import (
	"fmt"
)

// Migrate tworzy/aktualizuje schemat bazy.
// link_issues to tabela w pełni odtwarzana przez rekoncyliację, więc przed
// AutoMigrate czyścimy ją twardo, żeby indeks unikalny dało się założyć.
func (h *Handle) Migrate() error {
	gdb := h.DB

	if gdb.Migrator().HasTable(&LinkIssue{}) {
		if err := gdb.Unscoped().Where("1=1").Delete(&LinkIssue{}).Error; err != nil {
			return fmt.Errorf("hard purge link_issues failed: %w", err)
		}
	}

	if err := gdb.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("AutoMigrate error: %w", err)
	}

	// historia: szybkie zapytania "czy klient ma aktywny run"
	if !gdb.Migrator().HasIndex(&SyncHistory{}, "idx_history_client_status") {
		if err := gdb.Exec(`
			CREATE INDEX IF NOT EXISTS idx_history_client_status
			ON sync_histories(client_id, status);
		`).Error; err != nil {
			return fmt.Errorf("create index idx_history_client_status: %w", err)
		}
	}

	return nil
}

func Models() []any {
	return []any{
		&ImportFile{},
		&Category{},
		&Attribute{},
		&AttributeValue{},
		&Product{},
		&Variant{},
		&VariantValue{},
		&Client{},
		&ClientCategory{},
		&ClientPrice{},
		&Connection{},
		&FieldMappingRow{},
		&CategoryMappingRow{},
		&AttributeMappingRow{},
		&AttributeValueMappingRow{},
		&ProductLink{},
		&SyncHistory{},
		&SyncItem{},
		&SavedSelection{},
		&SavedSelectionItem{},
		&CurrentSelection{},
		&AccessLog{},
		&RemoteProductCache{},
		&LinkIssue{},
		&KV{},
	}
}
