// Package dbtest daje zmigrowaną bazę w pamięci i mały katalog do testów.
package dbtest

import (
	"testing"

	"github.com/bartek5186/catalog2erp/internal/db"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// Open otwiera bazę w pamięci, migruje schemat i zamyka ją po teście.
func Open(t testing.TB) *db.Handle {
	t.Helper()
	h, err := db.OpenMemory()
	require.NoError(t, err)
	require.NoError(t, h.Migrate())
	t.Cleanup(func() { _ = h.Close() })
	return h
}

// Fixture to wynik Seed: klient, połączenie i trzy produkty w jednej kategorii.
type Fixture struct {
	Client     db.Client
	Connection db.Connection
	Category   db.Category
	Products   []db.Product
}

func Seed(t testing.TB, h *db.Handle) Fixture {
	t.Helper()
	gdb := h.DB

	cat := db.Category{ID: 10, Name: "Tools", CompleteName: "All / Tools"}
	require.NoError(t, gdb.Create(&cat).Error)

	client := db.Client{Name: "Acme", AccessToken: "tok-acme", Active: true, AllCategories: true}
	require.NoError(t, gdb.Create(&client).Error)

	conn := db.Connection{
		ClientID:               client.ID,
		URL:                    "https://erp.acme.test",
		Database:               "acme",
		Username:               "sync@acme",
		APIKey:                 "secret",
		VerifySSL:              true,
		AutoCreateCategories:   true,
		ReferenceMode:          "keep_original",
		ReferenceSeparator:     "-",
		SupplierInfoPriceField: "list_price",
		Status:                 "ok",
	}
	require.NoError(t, gdb.Create(&conn).Error)

	catID := cat.ID
	products := []db.Product{
		{ID: 1, Code: "A100", Name: "Hammer", ListPrice: decimal.RequireFromString("10.00"), StandardPrice: decimal.RequireFromString("6.00"), CategoryID: &catID, Type: "consu", SaleOK: true, PurchaseOK: true, Active: true},
		{ID: 2, Code: "A200", Name: "Saw", ListPrice: decimal.RequireFromString("25.50"), StandardPrice: decimal.RequireFromString("15.00"), CategoryID: &catID, Type: "consu", SaleOK: true, PurchaseOK: true, Active: true},
		{ID: 3, Code: "A300", Name: "Drill", ListPrice: decimal.RequireFromString("99.99"), StandardPrice: decimal.RequireFromString("70.00"), CategoryID: &catID, Type: "consu", SaleOK: true, PurchaseOK: true, Active: true},
	}
	require.NoError(t, gdb.Create(&products).Error)

	return Fixture{Client: client, Connection: conn, Category: cat, Products: products}
}
