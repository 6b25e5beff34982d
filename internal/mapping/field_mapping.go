package mapping

import (
	"github.com/shopspring/decimal"
)

// FieldMapping opisuje, jak wartość pola docelowego powstaje z produktu dostawcy.
type FieldMapping struct {
	Source           SourceField     `json:"source_field"`
	Target           TargetField     `json:"target_field"`
	Mode             SyncMode        `json:"sync_mode"`
	ApplyCoefficient bool            `json:"apply_coefficient"`
	Coefficient      decimal.Decimal `json:"coefficient"`
	DefaultValue     *string         `json:"default_value,omitempty"`
	DefaultApply     DefaultApply    `json:"default_value_apply"`
	Sequence         int             `json:"sequence"`
	Active           bool            `json:"active"`
}

// Normalized uzupełnia wartości domyślne (współczynnik 1, default_value_apply=never).
func (m FieldMapping) Normalized() FieldMapping {
	if m.Coefficient.IsZero() && !m.ApplyCoefficient {
		m.Coefficient = decimal.NewFromInt(1)
	}
	if m.DefaultApply == "" {
		m.DefaultApply = ApplyNever
	}
	return m
}

// Validate odrzuca konfigurację, której nie da się zastosować.
func (m FieldMapping) Validate() error {
	if !m.Source.Valid() {
		return &ValidationError{Field: "source_field", Reason: "unknown source field " + string(m.Source)}
	}
	if !m.Target.Valid() {
		return &ValidationError{Field: "target_field", Reason: "unknown target field " + string(m.Target)}
	}
	if !m.Mode.Valid() {
		return &ValidationError{Field: "sync_mode", Reason: "unknown sync mode " + string(m.Mode)}
	}
	if m.DefaultApply != "" && !m.DefaultApply.Valid() {
		return &ValidationError{Field: "default_value_apply", Reason: "unknown value " + string(m.DefaultApply)}
	}
	if m.ApplyCoefficient {
		if !m.Target.Numeric() {
			return &ValidationError{Field: "apply_coefficient", Reason: "coefficient on non-numeric target " + string(m.Target)}
		}
		if !m.Coefficient.IsPositive() {
			return &ValidationError{Field: "coefficient", Reason: "must be greater than zero when applied"}
		}
	}
	if m.Source == SourceNone && !m.hasDefault() {
		return &ValidationError{Field: "default_value", Reason: "target-only mapping needs a default value"}
	}
	return nil
}

func (m FieldMapping) hasDefault() bool {
	return m.DefaultValue != nil && *m.DefaultValue != ""
}

// Produces mówi, czy mapowanie może dać jakąkolwiek wartość.
func (m FieldMapping) Produces() bool {
	return m.Active && (m.Source != SourceNone || m.hasDefault())
}

// AppliesTo filtruje po trybie synchronizacji. if_empty dotyczy obu akcji,
// ale przy update wykonawca i tak sprawdza stan po stronie klienta.
func (m FieldMapping) AppliesTo(a Action) bool {
	switch m.Mode {
	case ModeCreateOnly:
		return a == ActionCreate
	case ModeUpdateOnly:
		return a == ActionUpdate
	}
	return a == ActionCreate || a == ActionUpdate
}

// Resolve liczy wartość dla produktu. p może być nil dla mapowań bez źródła.
func (m FieldMapping) Resolve(p Fielder) any {
	var def any
	if m.hasDefault() {
		def = ConvertDefault(m.Target, *m.DefaultValue)
	}

	if m.DefaultApply == ApplyAlways && def != nil {
		return def
	}
	if m.Source == SourceNone {
		return def
	}

	var v any
	if p != nil {
		v = p.Field(m.Source)
	}
	if m.DefaultApply == ApplyIfEmpty && IsEmpty(v) && def != nil {
		return def
	}

	if m.ApplyCoefficient {
		if d, ok := v.(decimal.Decimal); ok {
			return d.Mul(m.Coefficient)
		}
	}
	return v
}
