package mapping

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProduct map[SourceField]any

func (f fakeProduct) Field(s SourceField) any { return f[s] }

func strp(s string) *string { return &s }

func TestResolveAppliesCoefficient(t *testing.T) {
	m := FieldMapping{
		Source:           SourceListPrice,
		Target:           TargetStandardPrice,
		Mode:             ModeAlways,
		ApplyCoefficient: true,
		Coefficient:      decimal.RequireFromString("1.2"),
		Active:           true,
	}
	require.NoError(t, m.Validate())

	got := m.Resolve(fakeProduct{SourceListPrice: decimal.RequireFromString("10.00")})
	d, ok := got.(decimal.Decimal)
	require.True(t, ok)
	assert.True(t, d.Equal(decimal.RequireFromString("12.00")), "got %s", d)
}

func TestResolveCoefficientIgnoredForText(t *testing.T) {
	m := FieldMapping{Source: SourceName, Target: TargetListPrice, Mode: ModeAlways, ApplyCoefficient: true,
		Coefficient: decimal.NewFromInt(3), Active: true}
	assert.Equal(t, "Widget", m.Resolve(fakeProduct{SourceName: "Widget"}))
}

func TestValidateRejectsCoefficientOnCharTarget(t *testing.T) {
	m := FieldMapping{Source: SourceName, Target: TargetName, Mode: ModeAlways, ApplyCoefficient: true,
		Coefficient: decimal.NewFromInt(2), Active: true}
	var verr *ValidationError
	require.ErrorAs(t, m.Validate(), &verr)
	assert.Equal(t, "apply_coefficient", verr.Field)
}

func TestValidateRejectsNonPositiveAppliedCoefficient(t *testing.T) {
	for _, coef := range []string{"0", "-1.5"} {
		m := FieldMapping{Source: SourceListPrice, Target: TargetListPrice, Mode: ModeAlways,
			ApplyCoefficient: true, Coefficient: decimal.RequireFromString(coef), Active: true}
		var verr *ValidationError
		require.ErrorAs(t, m.Validate(), &verr, coef)
		assert.Equal(t, "coefficient", verr.Field)
	}

	// zero bez stosowania współczynnika jest dozwolone
	off := FieldMapping{Source: SourceListPrice, Target: TargetListPrice, Mode: ModeAlways, Active: true}
	assert.NoError(t, off.Validate())
}

func TestValidateRejectsUnknownFields(t *testing.T) {
	cases := []FieldMapping{
		{Source: "color", Target: TargetName, Mode: ModeAlways},
		{Source: SourceName, Target: "categ_id", Mode: ModeAlways},
		{Source: SourceName, Target: TargetName, Mode: "sometimes"},
		{Source: SourceName, Target: TargetName, Mode: ModeAlways, DefaultApply: "maybe"},
	}
	for _, c := range cases {
		var verr *ValidationError
		assert.ErrorAs(t, c.Validate(), &verr, "%+v", c)
	}
}

func TestResolveDefaults(t *testing.T) {
	always := FieldMapping{Source: SourceName, Target: TargetType, Mode: ModeCreateOnly,
		DefaultValue: strp("consu"), DefaultApply: ApplyAlways, Active: true}
	assert.Equal(t, "consu", always.Resolve(fakeProduct{SourceName: "x"}))

	none := FieldMapping{Source: SourceNone, Target: TargetSaleOK, Mode: ModeAlways,
		DefaultValue: strp("oui"), DefaultApply: ApplyNever, Active: true}
	assert.Equal(t, true, none.Resolve(nil))

	ifEmpty := FieldMapping{Source: SourceBarcode, Target: TargetBarcode, Mode: ModeAlways,
		DefaultValue: strp("0000"), DefaultApply: ApplyIfEmpty, Active: true}
	assert.Equal(t, "0000", ifEmpty.Resolve(fakeProduct{SourceBarcode: ""}))
	assert.Equal(t, "5901234", ifEmpty.Resolve(fakeProduct{SourceBarcode: "5901234"}))

	badFloat := FieldMapping{Source: SourceNone, Target: TargetWeight, Mode: ModeAlways,
		DefaultValue: strp("abc"), Active: true}
	assert.True(t, badFloat.Resolve(nil).(decimal.Decimal).IsZero())
}

func TestAppliesTo(t *testing.T) {
	assert.True(t, FieldMapping{Mode: ModeCreateOnly}.AppliesTo(ActionCreate))
	assert.False(t, FieldMapping{Mode: ModeCreateOnly}.AppliesTo(ActionUpdate))
	assert.False(t, FieldMapping{Mode: ModeUpdateOnly}.AppliesTo(ActionCreate))
	assert.True(t, FieldMapping{Mode: ModeIfEmpty}.AppliesTo(ActionUpdate))
	assert.False(t, FieldMapping{Mode: ModeAlways}.AppliesTo(ActionSkip))
}

func TestStoreKeepsOneMappingPerTarget(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.SetFieldMapping(FieldMapping{Source: SourceName, Target: TargetName, Mode: ModeAlways, Active: true}))
	require.NoError(t, s.SetFieldMapping(FieldMapping{Source: SourceDescriptionSale, Target: TargetName, Mode: ModeCreateOnly, Active: true}))

	assert.Len(t, s.FieldMappings(), 1)
	m, ok := s.ResolveFieldMapping(TargetName)
	require.True(t, ok)
	assert.Equal(t, SourceDescriptionSale, m.Source)
	assert.True(t, m.Coefficient.Equal(decimal.NewFromInt(1)))

	require.NoError(t, s.SetFieldMapping(FieldMapping{Source: SourceName, Target: TargetName, Mode: ModeAlways, Active: false}))
	_, ok = s.ResolveFieldMapping(TargetName)
	assert.False(t, ok)
}

func TestStoreRejectsInvalidMapping(t *testing.T) {
	s := NewStore()
	err := s.SetFieldMapping(FieldMapping{Source: SourceNone, Target: TargetType, Mode: ModeAlways, Active: true})
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
	assert.Empty(t, s.FieldMappings())
}

func TestResolveCategory(t *testing.T) {
	s := NewStore()
	id := int64(42)
	s.SetCategoryMapping(CategoryMapping{SupplierCategoryID: 1, ClientCategoryID: &id, ClientCategoryName: "Tools"})
	s.SetCategoryMapping(CategoryMapping{SupplierCategoryID: 2, AutoCreate: true})
	s.SetCategoryMapping(CategoryMapping{SupplierCategoryID: 3})

	assert.Equal(t, Mapped(42, "Tools"), s.ResolveCategory(Named{ID: 1, Name: "Narzędzia"}, false))
	assert.Equal(t, AutoCreate("Garden"), s.ResolveCategory(Named{ID: 2, Name: "Garden"}, false))
	assert.Equal(t, ResolvedInvalid, s.ResolveCategory(Named{ID: 3, Name: "Misc"}, true).Kind)
	assert.Equal(t, AutoCreate("Paint"), s.ResolveCategory(Named{ID: 4, Name: "Paint"}, true))
	assert.Equal(t, ResolvedNone, s.ResolveCategory(Named{ID: 4, Name: "Paint"}, false).Kind)
}

func TestSnapshotIsIndependent(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.SetFieldMapping(FieldMapping{Source: SourceName, Target: TargetName, Mode: ModeAlways, Active: true}))
	snap := s.Snapshot()

	s.RemoveFieldMapping(TargetName)
	s.Reference.Prefix = "X"

	_, ok := snap.ResolveFieldMapping(TargetName)
	assert.True(t, ok)
	assert.Empty(t, snap.Reference.Prefix)
}

func TestDefaultFieldMappings(t *testing.T) {
	defs := DefaultFieldMappings()
	require.Len(t, defs, len(TargetFields()))
	seen := map[TargetField]bool{}
	for _, m := range defs {
		require.NoError(t, m.Validate())
		assert.Equal(t, ModeAlways, m.Mode)
		assert.True(t, m.Coefficient.Equal(decimal.NewFromInt(1)))
		assert.False(t, seen[m.Target])
		seen[m.Target] = true
	}
}
