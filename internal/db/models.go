// internal/db/models.go
package db

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// import_files (feed dostawcy)
type ImportFile struct {
	ImportID    uint   `gorm:"primaryKey;column:import_id"`
	Filename    string `gorm:"uniqueIndex"`
	FeedID      string `gorm:"index"`
	SHA256      string `gorm:"uniqueIndex"`
	SizeBytes   int64
	Status      int       `gorm:"index"` // 0=pending, 1=done, 2=error
	LastError   string    `gorm:"type:text"`
	ReceivedAt  time.Time `gorm:"autoCreateTime"`
	ProcessedAt *time.Time
}

// ---- katalog dostawcy ----

type Category struct {
	ID           int64 `gorm:"primaryKey;autoIncrement:false"`
	Name         string
	ParentID     *int64 `gorm:"index"`
	CompleteName string
	UpdatedAt    time.Time
}

type Attribute struct {
	ID        int64 `gorm:"primaryKey;autoIncrement:false"`
	Name      string
	UpdatedAt time.Time
}

type AttributeValue struct {
	ID          int64 `gorm:"primaryKey;autoIncrement:false"`
	AttributeID int64 `gorm:"index"`
	Name        string
	UpdatedAt   time.Time
}

type Product struct {
	ID                  int64  `gorm:"primaryKey;autoIncrement:false"`
	Code                string `gorm:"index"` // default_code dostawcy
	Name                string
	Barcode             string          `gorm:"index"`
	ListPrice           decimal.Decimal `gorm:"type:decimal(18,4)"`
	StandardPrice       decimal.Decimal `gorm:"type:decimal(18,4)"`
	Weight              decimal.Decimal `gorm:"type:decimal(18,4)"`
	Volume              decimal.Decimal `gorm:"type:decimal(18,4)"`
	UoM                 string
	DescriptionSale     string `gorm:"type:text"`
	Description         string `gorm:"type:text"`
	DescriptionPurchase string `gorm:"type:text"`
	CategoryID          *int64 `gorm:"index"`
	Type                string // consu / service / product
	SaleOK              bool
	PurchaseOK          bool
	IsPublished         bool
	Active              bool   `gorm:"index"`
	Image               string `gorm:"type:text"` // base64
	UpdatedAt           time.Time
}

type Variant struct {
	ID         int64  `gorm:"primaryKey;autoIncrement:false"`
	ProductID  int64  `gorm:"index"`
	Code       string `gorm:"index"`
	Barcode    string
	Weight     decimal.Decimal `gorm:"type:decimal(18,4)"`
	Volume     decimal.Decimal `gorm:"type:decimal(18,4)"`
	PriceExtra decimal.Decimal `gorm:"type:decimal(18,4)"`
	Image      string          `gorm:"type:text"`
	Active     bool
	UpdatedAt  time.Time
}

// variant_values: kombinacja wartości atrybutów wariantu
type VariantValue struct {
	VariantID int64 `gorm:"primaryKey;autoIncrement:false"`
	ValueID   int64 `gorm:"primaryKey;autoIncrement:false"`
}

// ---- klienci portalu ----

type Client struct {
	ID              uint   `gorm:"primaryKey"`
	Name            string `gorm:"index"`
	AccessToken     string `gorm:"uniqueIndex"`
	Active          bool
	AllCategories   bool
	DiscountPercent decimal.Decimal `gorm:"type:decimal(9,4)"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type ClientCategory struct {
	ClientID   uint  `gorm:"primaryKey;autoIncrement:false"`
	CategoryID int64 `gorm:"primaryKey;autoIncrement:false"`
}

type ClientPrice struct {
	ClientID  uint            `gorm:"primaryKey;autoIncrement:false"`
	ProductID int64           `gorm:"primaryKey;autoIncrement:false"`
	Price     decimal.Decimal `gorm:"type:decimal(18,4)"`
}

// ---- połączenie z instancją klienta ----

type Connection struct {
	ID                      uint   `gorm:"primaryKey"`
	ClientID                uint   `gorm:"uniqueIndex"`
	URL                     string
	Database                string
	Username                string
	APIKey                  string
	VerifySSL               bool
	TimeoutSec              int
	SyncVariants            bool
	AutoCreateCategories    bool
	IncludeImages           bool
	PreserveClientImages    bool
	ReferenceMode           string `gorm:"default:keep_original"`
	ReferencePrefix         string
	ReferenceSuffix         string
	ReferenceSeparator      string `gorm:"default:-"`
	ReferenceFormat         string
	CreateSupplierInfo      bool
	SupplierPartnerID       int64
	SupplierInfoPriceField  string          `gorm:"default:list_price"`
	SupplierInfoCoefficient decimal.Decimal `gorm:"type:decimal(12,4)"`
	Status                  string          `gorm:"default:not_tested"` // not_tested | ok | error
	LastError               string          `gorm:"type:text"`
	LastTestAt              *time.Time
	LastSyncAt              *time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// ---- mapowania (per połączenie) ----

type FieldMappingRow struct {
	ID               uint   `gorm:"primaryKey"`
	ConnectionID     uint   `gorm:"uniqueIndex:uniq_field_target"`
	TargetField      string `gorm:"uniqueIndex:uniq_field_target"`
	SourceField      string
	SyncMode         string
	ApplyCoefficient bool
	Coefficient      decimal.Decimal `gorm:"type:decimal(12,4)"`
	DefaultValue     *string
	DefaultApply     string
	Sequence         int
	Active           bool
	UpdatedAt        time.Time
}

func (FieldMappingRow) TableName() string { return "field_mappings" }

type CategoryMappingRow struct {
	ID                 uint  `gorm:"primaryKey"`
	ConnectionID       uint  `gorm:"uniqueIndex:uniq_category_map"`
	SupplierCategoryID int64 `gorm:"uniqueIndex:uniq_category_map"`
	ClientCategoryID   *int64
	ClientCategoryName string
	AutoCreate         bool
	UpdatedAt          time.Time
}

func (CategoryMappingRow) TableName() string { return "category_mappings" }

type AttributeMappingRow struct {
	ID                  uint  `gorm:"primaryKey"`
	ConnectionID        uint  `gorm:"uniqueIndex:uniq_attribute_map"`
	SupplierAttributeID int64 `gorm:"uniqueIndex:uniq_attribute_map"`
	ClientAttributeID   *int64
	ClientAttributeName string
	AutoCreate          bool
	UpdatedAt           time.Time
}

func (AttributeMappingRow) TableName() string { return "attribute_mappings" }

type AttributeValueMappingRow struct {
	ID              uint  `gorm:"primaryKey"`
	ConnectionID    uint  `gorm:"uniqueIndex:uniq_attribute_value_map"`
	SupplierValueID int64 `gorm:"uniqueIndex:uniq_attribute_value_map"`
	ClientValueID   *int64
	ClientValueName string
	AutoCreate      bool
	UpdatedAt       time.Time
}

func (AttributeValueMappingRow) TableName() string { return "attribute_value_mappings" }

// ---- linki i historia ----

// product_links: produkt dostawcy -> rekord w instancji klienta
type ProductLink struct {
	ID           uint   `gorm:"primaryKey"`
	ConnectionID uint   `gorm:"uniqueIndex:uniq_product_link"`
	ProductID    int64  `gorm:"uniqueIndex:uniq_product_link"`
	VariantID    int64  `gorm:"uniqueIndex:uniq_product_link"` // 0 = szablon
	RemoteID     int64  `gorm:"index"`
	ExternalKey  string `gorm:"index"`
	LastValues   datatypes.JSON
	LastSyncedAt time.Time
}

type SyncHistory struct {
	ID           uint   `gorm:"primaryKey"`
	PreviewID    string `gorm:"uniqueIndex;size:36"`
	ClientID     uint   `gorm:"index"`
	ConnectionID uint   `gorm:"index"`
	Status       string `gorm:"index"` // running | done | cancelled | error
	Progress     int
	Current      int
	Total        int
	Message      string
	ErrorMessage string `gorm:"type:text"`
	Created      int
	Updated      int
	Skipped      int
	Failed       int
	StartedAt    time.Time
	FinishedAt   *time.Time
	DurationMs   int64
	Details      datatypes.JSON
}

type SyncItem struct {
	ID        uint  `gorm:"primaryKey"`
	HistoryID uint  `gorm:"uniqueIndex:uniq_sync_item"`
	Seq       int   `gorm:"uniqueIndex:uniq_sync_item"`
	ProductID int64 `gorm:"index"`
	VariantID int64
	Name      string
	Action    string // create | update | skip
	Status    string // pending | ok | failed | skipped | not_processed
	RemoteID  int64
	Error     string `gorm:"type:text"`
	Changes   datatypes.JSON
	UpdatedAt time.Time
}

// ---- selekcje ----

type SavedSelection struct {
	ID        uint                 `gorm:"primaryKey"`
	ClientID  uint                 `gorm:"index"`
	Name      string               `gorm:"size:120"`
	Items     []SavedSelectionItem `gorm:"foreignKey:SelectionID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time
}

type SavedSelectionItem struct {
	ID          uint `gorm:"primaryKey"`
	SelectionID uint `gorm:"index"`
	Position    int
	ProductID   int64
	VariantID   int64
}

type CurrentSelection struct {
	ClientID  uint  `gorm:"primaryKey;autoIncrement:false"`
	Position  int   `gorm:"primaryKey;autoIncrement:false"`
	ProductID int64 `gorm:"index"`
	VariantID int64
}

type AccessLog struct {
	ID           uint   `gorm:"primaryKey"`
	ClientID     uint   `gorm:"index"`
	Action       string `gorm:"index"` // export_csv | export_xlsx | sync | preview
	ProductCount int
	Format       string
	IP           string
	CreatedAt    time.Time `gorm:"index"`
}

// ---- rekoncyliacja z instancją klienta ----

// remote_product_cache: produkty klienta z naszym prefiksem klucza
type RemoteProductCache struct {
	ConnectionID uint   `gorm:"primaryKey;autoIncrement:false"`
	RemoteID     int64  `gorm:"primaryKey;autoIncrement:false"`
	DefaultCode  string `gorm:"index"`
	Barcode      string
	Name         string
	Active       bool
	WriteDate    string
	FetchedAt    time.Time
}

type LinkIssue struct {
	ID           uint   `gorm:"primaryKey"`
	ConnectionID uint   `gorm:"uniqueIndex:uniq_issue_key"`
	ProductID    int64  `gorm:"uniqueIndex:uniq_issue_key"`
	Reason       string `gorm:"uniqueIndex:uniq_issue_key"`
	ExternalKey  string
	RemoteIDs    string
	Details      string `gorm:"type:text"`
	UpdatedAt    time.Time
}

type KV struct {
	K string `gorm:"primaryKey"`
	V string
}
