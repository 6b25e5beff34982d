package mapping

// ResolutionKind mówi, czego wymaga dana kategoria/atrybut po stronie klienta.
type ResolutionKind string

const (
	ResolvedMapped     ResolutionKind = "mapped"
	ResolvedAutoCreate ResolutionKind = "auto_create"
	ResolvedInvalid    ResolutionKind = "invalid" // jest mapowanie, ale bez celu i bez auto-create
	ResolvedNone       ResolutionKind = "none"
)

// Resolution to wynik rozwiązania kategorii, atrybutu albo wartości atrybutu.
type Resolution struct {
	Kind     ResolutionKind `json:"kind"`
	ClientID int64          `json:"client_id,omitempty"`
	Name     string         `json:"name,omitempty"`
}

func Mapped(id int64, name string) Resolution {
	return Resolution{Kind: ResolvedMapped, ClientID: id, Name: name}
}

func AutoCreate(name string) Resolution {
	return Resolution{Kind: ResolvedAutoCreate, Name: name}
}

// CategoryMapping łączy kategorię dostawcy z kategorią klienta.
type CategoryMapping struct {
	SupplierCategoryID int64  `json:"supplier_category_id"`
	ClientCategoryID   *int64 `json:"client_category_id,omitempty"`
	ClientCategoryName string `json:"client_category_name,omitempty"`
	AutoCreate         bool   `json:"auto_create"`
}

// AttributeMapping łączy atrybut dostawcy z atrybutem klienta.
type AttributeMapping struct {
	SupplierAttributeID int64  `json:"supplier_attribute_id"`
	ClientAttributeID   *int64 `json:"client_attribute_id,omitempty"`
	ClientAttributeName string `json:"client_attribute_name,omitempty"`
	AutoCreate          bool   `json:"auto_create"`
}

// AttributeValueMapping łączy wartość atrybutu dostawcy z wartością klienta.
type AttributeValueMapping struct {
	SupplierValueID int64  `json:"supplier_value_id"`
	ClientValueID   *int64 `json:"client_value_id,omitempty"`
	ClientValueName string `json:"client_value_name,omitempty"`
	AutoCreate      bool   `json:"auto_create"`
}

// Named to dowolny obiekt dostawcy z id i nazwą (kategoria, atrybut, wartość).
type Named struct {
	ID   int64
	Name string
}

func resolve(clientID *int64, clientName string, mappedAuto, exists bool, src Named, autoDefault bool) Resolution {
	if exists {
		if clientID != nil && *clientID > 0 {
			return Mapped(*clientID, clientName)
		}
		name := clientName
		if name == "" {
			name = src.Name
		}
		if mappedAuto {
			return AutoCreate(name)
		}
		return Resolution{Kind: ResolvedInvalid, Name: name}
	}
	if autoDefault && src.Name != "" {
		return AutoCreate(src.Name)
	}
	return Resolution{Kind: ResolvedNone}
}
