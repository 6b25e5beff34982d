package mapping

import (
	"strconv"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReferenceCustomFormat(t *testing.T) {
	r := ReferenceRule{Mode: RefCustomFormat, Format: "{prefix}-{ref}", Prefix: "SUP"}
	require.NoError(t, r.Validate())
	got, err := r.Resolve(ReferenceInput{ID: 7, Code: "A100"})
	require.NoError(t, err)
	assert.Equal(t, "SUP-A100", got)

	r = ReferenceRule{Mode: RefCustomFormat, Format: "{prefix}{ref}{separator}{id}{{x}}", Prefix: "CAT", Separator: "_"}
	got, err = r.Resolve(ReferenceInput{ID: 12, Code: "TEST001"})
	require.NoError(t, err)
	assert.Equal(t, "CATTEST001_12{x}", got)
}

func TestReferenceInvalidTemplate(t *testing.T) {
	cases := []struct {
		tpl       string
		badSyntax bool
	}{
		{"{prefix}-{sku}", true},
		{"{prefix", true},
		{"ref}", true},
		{"", false},
		{"{prefix}{separator}STATIC", false},
	}
	for _, c := range cases {
		r := ReferenceRule{Mode: RefCustomFormat, Format: c.tpl}
		var terr *InvalidTemplateError
		assert.ErrorAs(t, r.Validate(), &terr, c.tpl)
		if c.badSyntax {
			_, err := r.Resolve(ReferenceInput{ID: 1, Code: "A"})
			assert.ErrorAs(t, err, &terr, c.tpl)
		}
	}

	var terr *InvalidTemplateError
	require.ErrorAs(t, ReferenceRule{Mode: RefCustomFormat}.Validate(), &terr)
	assert.Contains(t, terr.Error(), "keep_original")
}

func TestReferenceWithoutCodeIsEmpty(t *testing.T) {
	rules := []ReferenceRule{
		{Mode: RefKeepOriginal, Prefix: "SUP"},
		{Mode: RefSupplierReference, Suffix: "IMP", Separator: "-"},
		{Mode: RefKeepOriginal, Prefix: "SUP", Suffix: "IMP", Separator: "_"},
		{Mode: RefCustomFormat, Prefix: "SUP", Format: "{prefix}-{ref}"},
	}
	for _, r := range rules {
		for _, code := range []string{"", "   "} {
			got, err := r.Resolve(ReferenceInput{ID: 9, Code: code})
			require.NoError(t, err)
			assert.Empty(t, got, "%+v", r)
		}
	}

	byID := ReferenceRule{Mode: RefCustomFormat, Prefix: "SUP", Format: "{prefix}-{id}"}
	got, err := byID.Resolve(ReferenceInput{ID: 9})
	require.NoError(t, err)
	assert.Equal(t, "SUP-9", got)
}

func TestReferenceJoinModes(t *testing.T) {
	cases := []struct {
		rule ReferenceRule
		want string
	}{
		{ReferenceRule{Mode: RefKeepOriginal}, "TEST001"},
		{ReferenceRule{Mode: RefKeepOriginal, Prefix: "SUP", Separator: "-"}, "SUP-TEST001"},
		{ReferenceRule{Mode: RefSupplierReference, Suffix: "IMP", Separator: "-"}, "TEST001-IMP"},
		{ReferenceRule{Mode: RefKeepOriginal, Prefix: "SUP", Suffix: "IMP", Separator: "_"}, "SUP_TEST001_IMP"},
		{ReferenceRule{Mode: RefNone, Prefix: "SUP"}, ""},
	}
	for _, c := range cases {
		got, err := c.rule.Resolve(ReferenceInput{ID: 5, Code: "TEST001"})
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "%+v", c.rule)
	}

	legacy, err := ParseReferenceMode("supplier_ref")
	require.NoError(t, err)
	assert.Equal(t, RefSupplierReference, legacy)
	_, err = ParseReferenceMode("random")
	assert.Error(t, err)
}

func TestExternalKeys(t *testing.T) {
	assert.Equal(t, "supplier_3_product_17", ExternalKey(3, 17))
	assert.Equal(t, "supplier_3_variant_99", VariantExternalKey(3, 99))
}

func TestReferenceProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("product_id ignores prefix, suffix and separator", prop.ForAll(
		func(id int64, prefix, suffix, sep string) bool {
			r := ReferenceRule{Mode: RefProductID, Prefix: prefix, Suffix: suffix, Separator: sep}
			got, err := r.Resolve(ReferenceInput{ID: id, Code: "IGNORED"})
			return err == nil && got == strconv.FormatInt(id, 10)
		},
		gen.Int64Range(1, 1<<40),
		gen.AlphaString(),
		gen.AlphaString(),
		gen.OneConstOf("", "-", "_", "/"),
	))

	properties.Property("keep_original wraps the code in prefix and suffix", prop.ForAll(
		func(code, prefix, suffix string) bool {
			r := ReferenceRule{Mode: RefKeepOriginal, Prefix: prefix, Suffix: suffix, Separator: "-"}
			got, err := r.Resolve(ReferenceInput{ID: 1, Code: code})
			if err != nil {
				return false
			}
			return strings.HasPrefix(got, prefix) && strings.HasSuffix(got, suffix) && strings.Contains(got, code)
		},
		gen.Identifier(),
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.Property("coefficient multiplies numeric sources exactly", prop.ForAll(
		func(cents int64, coefPermille int64) bool {
			price := decimal.New(cents, -2)
			coef := decimal.New(coefPermille, -3)
			m := FieldMapping{Source: SourceListPrice, Target: TargetListPrice, Mode: ModeAlways,
				ApplyCoefficient: true, Coefficient: coef, Active: true}
			got, ok := m.Resolve(fakeProduct{SourceListPrice: price}).(decimal.Decimal)
			return ok && got.Equal(price.Mul(coef))
		},
		gen.Int64Range(0, 10_000_000),
		gen.Int64Range(1, 5000),
	))

	properties.TestingRun(t)
}
