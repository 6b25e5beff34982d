package mapping

import (
	"strconv"
	"strings"
)

type ReferenceMode string

const (
	RefKeepOriginal      ReferenceMode = "keep_original"
	RefSupplierReference ReferenceMode = "supplier_reference"
	RefProductID         ReferenceMode = "product_id"
	RefCustomFormat      ReferenceMode = "custom_format"
	RefNone              ReferenceMode = "none"
)

// ParseReferenceMode akceptuje też starszą nazwę "supplier_ref".
func ParseReferenceMode(s string) (ReferenceMode, error) {
	switch m := ReferenceMode(strings.TrimSpace(s)); m {
	case RefKeepOriginal, RefSupplierReference, RefProductID, RefCustomFormat, RefNone:
		return m, nil
	case "supplier_ref":
		return RefSupplierReference, nil
	case "":
		return RefKeepOriginal, nil
	}
	return "", &ValidationError{Field: "reference_mode", Reason: "unknown mode " + s}
}

// ReferenceRule opisuje, jak powstaje zewnętrzna referencja (default_code) produktu.
type ReferenceRule struct {
	Mode      ReferenceMode `json:"mode"`
	Prefix    string        `json:"prefix"`
	Suffix    string        `json:"suffix"`
	Separator string        `json:"separator"`
	Format    string        `json:"format,omitempty"`
}

var allowedPlaceholders = map[string]bool{
	"prefix":    true,
	"ref":       true,
	"id":        true,
	"suffix":    true,
	"separator": true,
}

// Validate sprawdza tryb i szablon custom_format.
func (r ReferenceRule) Validate() error {
	if _, err := ParseReferenceMode(string(r.Mode)); err != nil {
		return err
	}
	if r.Mode != RefCustomFormat {
		return nil
	}
	if strings.TrimSpace(r.Format) == "" {
		return &InvalidTemplateError{Template: r.Format, Reason: "empty template (custom_format does not fall back to the supplier reference, use keep_original for that)"}
	}
	parts, err := parseTemplate(r.Format)
	if err != nil {
		return err
	}
	if !usesPlaceholder(parts, "ref") && !usesPlaceholder(parts, "id") {
		return &InvalidTemplateError{Template: r.Format, Reason: "template needs {ref} or {id}, otherwise every product gets the same reference"}
	}
	return nil
}

func usesPlaceholder(parts []tplPart, name string) bool {
	for _, p := range parts {
		if p.placeholder && p.text == name {
			return true
		}
	}
	return false
}

// ReferenceInput to minimum potrzebne do wyliczenia referencji.
type ReferenceInput struct {
	ID   int64
	Code string
}

// Resolve liczy referencję. Pusty wynik oznacza brak referencji (tryb none
// albo produkt bez kodu) i wywołujący używa wtedy klucza zewnętrznego.
// Sam prefiks czy suffiks bez kodu nie jest referencją: byłby wspólny dla wszystkich produktów bez kodu.
func (r ReferenceRule) Resolve(in ReferenceInput) (string, error) {
	mode, err := ParseReferenceMode(string(r.Mode))
	if err != nil {
		return "", err
	}
	code := strings.TrimSpace(in.Code)
	switch mode {
	case RefNone:
		return "", nil
	case RefProductID:
		return strconv.FormatInt(in.ID, 10), nil
	case RefCustomFormat:
		parts, err := parseTemplate(r.Format)
		if err != nil {
			return "", err
		}
		if code == "" && usesPlaceholder(parts, "ref") {
			return "", nil
		}
		var b strings.Builder
		for _, p := range parts {
			if !p.placeholder {
				b.WriteString(p.text)
				continue
			}
			switch p.text {
			case "prefix":
				b.WriteString(r.Prefix)
			case "ref":
				b.WriteString(code)
			case "id":
				b.WriteString(strconv.FormatInt(in.ID, 10))
			case "suffix":
				b.WriteString(r.Suffix)
			case "separator":
				b.WriteString(r.Separator)
			}
		}
		return b.String(), nil
	}

	// keep_original / supplier_reference: prefix + kod + suffix, puste części pomijamy
	if code == "" {
		return "", nil
	}
	var parts []string
	for _, s := range []string{r.Prefix, code, r.Suffix} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, r.Separator), nil
}

type tplPart struct {
	text        string
	placeholder bool
}

// parseTemplate dzieli szablon na literały i placeholdery.
// "{{" i "}}" to escapowane klamry.
func parseTemplate(tpl string) ([]tplPart, error) {
	var (
		parts []tplPart
		lit   strings.Builder
	)
	for i := 0; i < len(tpl); i++ {
		c := tpl[i]
		switch c {
		case '{':
			if i+1 < len(tpl) && tpl[i+1] == '{' {
				lit.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(tpl[i+1:], '}')
			if end < 0 {
				return nil, &InvalidTemplateError{Template: tpl, Reason: "unclosed '{'"}
			}
			name := tpl[i+1 : i+1+end]
			if !allowedPlaceholders[name] {
				return nil, &InvalidTemplateError{Template: tpl, Reason: "unknown placeholder {" + name + "}"}
			}
			if lit.Len() > 0 {
				parts = append(parts, tplPart{text: lit.String()})
				lit.Reset()
			}
			parts = append(parts, tplPart{text: name, placeholder: true})
			i += end + 1
		case '}':
			if i+1 < len(tpl) && tpl[i+1] == '}' {
				lit.WriteByte('}')
				i++
				continue
			}
			return nil, &InvalidTemplateError{Template: tpl, Reason: "unmatched '}'"}
		default:
			lit.WriteByte(c)
		}
	}
	if lit.Len() > 0 {
		parts = append(parts, tplPart{text: lit.String()})
	}
	return parts, nil
}

// ExternalKey to stabilny klucz produktu u klienta, niezależny od referencji.
func ExternalKey(clientID uint, productID int64) string {
	return "supplier_" + strconv.FormatUint(uint64(clientID), 10) + "_product_" + strconv.FormatInt(productID, 10)
}

func VariantExternalKey(clientID uint, variantID int64) string {
	return "supplier_" + strconv.FormatUint(uint64(clientID), 10) + "_variant_" + strconv.FormatInt(variantID, 10)
}
