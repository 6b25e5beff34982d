package remote

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Endpoint opisuje, jak dostać się do instancji klienta.
type Endpoint struct {
	URL               string        `json:"url"`
	VerifySSL         bool          `json:"verify_ssl"`
	Timeout           time.Duration `json:"timeout"`
	RequestsPerSecond float64       `json:"requests_per_second"`
}

type Credentials struct {
	Database string `json:"database"`
	Username string `json:"username"`
	APIKey   string `json:"-"`
}

type Target struct {
	Endpoint    Endpoint
	Credentials Credentials
}

// Values to wartości pól rekordu wysyłane do instancji klienta.
type Values map[string]any

type Category struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	CompleteName string `json:"complete_name"`
}

type Attribute struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type AttributeValue struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	AttributeID int64  `json:"attribute_id"`
}

// ProductRef identyfikuje produkt u klienta: znany RemoteID ma pierwszeństwo,
// ExternalKey (default_code) służy do wyszukania.
type ProductRef struct {
	ExternalKey string
	RemoteID    int64
}

type SupplierInfo struct {
	PartnerID   int64           `json:"partner_id"`
	ProductCode string          `json:"product_code"`
	ProductName string          `json:"product_name"`
	Price       decimal.Decimal `json:"price"`
	MinQty      decimal.Decimal `json:"min_qty"`
}

// AttributeLine to atrybut szablonu z dozwolonymi wartościami.
type AttributeLine struct {
	AttributeID int64   `json:"attribute_id"`
	ValueIDs    []int64 `json:"value_ids"`
}

type RemoteProduct struct {
	ID          int64
	DefaultCode string
	Barcode     string
	Name        string
	Active      bool
	WriteDate   string
}

// Dialer otwiera sesję do instancji klienta.
type Dialer interface {
	Connect(ctx context.Context, t Target) (Session, error)
}

// Session należy do jednego przebiegu synchronizacji albo jednego budowania
// podglądu i nie jest współdzielona. Sesja nie ponawia wywołań sama.
type Session interface {
	TestConnection(ctx context.Context) error
	FetchCategories(ctx context.Context) ([]Category, error)
	FetchAttributes(ctx context.Context) ([]Attribute, error)
	FetchAttributeValues(ctx context.Context, attributeID int64) ([]AttributeValue, error)
	FindOrCreateCategory(ctx context.Context, name string, parentID int64) (int64, error)
	FindOrCreateAttribute(ctx context.Context, name string) (int64, error)
	FindOrCreateAttributeValue(ctx context.Context, attributeID int64, name string) (int64, error)
	FindOrCreateProduct(ctx context.Context, ref ProductRef, values Values) (id int64, created bool, err error)
	ReadProduct(ctx context.Context, id int64, fields []string) (Values, error)
	UpsertSupplierInfo(ctx context.Context, templateID int64, info SupplierInfo) error
	EnsureAttributeLines(ctx context.Context, templateID int64, lines []AttributeLine) error
	WriteVariant(ctx context.Context, templateID int64, valueIDs []int64, values Values) (id int64, found bool, err error)
	ListProducts(ctx context.Context, keyPrefix string, offset, limit int) ([]RemoteProduct, error)
	Close() error
}

// Observer dostaje czasy wywołań (metryki).
type Observer interface {
	ObserveRemoteCall(method string, d time.Duration, err error)
}
