package mapping

import "fmt"

// ValidationError oznacza błędną konfigurację mapowania (nieznane pole, zły tryb itp.).
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "mapping: " + e.Reason
	}
	return fmt.Sprintf("mapping: %s: %s", e.Field, e.Reason)
}

// InvalidTemplateError zwraca walidacja szablonu custom_format.
type InvalidTemplateError struct {
	Template string
	Reason   string
}

func (e *InvalidTemplateError) Error() string {
	return fmt.Sprintf("reference template %q: %s", e.Template, e.Reason)
}
