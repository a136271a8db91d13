package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/storage"
)

func TestLoans_OrderAndLookup(t *testing.T) {
	t.Parallel()

	reg := Loans()
	assert.Equal(t, []string{
		"customers", "loan_types", "loan_applications", "loan_repayments",
		"loan_history", "loan_collateral", "loan_restructuring",
		"loan_disbursements", "new_loan_terms", "restructure_terms",
	}, reg.Names())

	c, ok := reg.Lookup("loan_restructuring")
	require.True(t, ok)
	assert.Equal(t, "restructuring_id", c.UniqueKey)
	assert.Equal(t, []string{"new_loan_terms", "restructure_terms"}, c.Encoded())
	assert.Equal(t, []string{"restructuring_id", "loan_id", "new_loan_terms", "restructure_terms", AddedAt, ModifiedAt}, c.LoadColumns())

	_, err := reg.MustLookup("loans")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "customers")

	require.Len(t, reg.NormalizationsFor("loan_restructuring"), 1)
	assert.Empty(t, reg.NormalizationsFor("customers"))
}

func TestLoans_Valid(t *testing.T) {
	t.Parallel()

	issues := Loans().Validate()
	assert.False(t, HasErrors(issues), "%v", issues)
}

func TestNormalization_TargetColumns(t *testing.T) {
	t.Parallel()

	n := Loans().Normalizations[0]
	assert.Equal(t, []string{
		"restructuring_id", "loan_id", AddedAt, ModifiedAt,
		"new_loan_term_id", "restructure_term_id",
	}, n.TargetColumns())
}

func TestTableSpecs_Loans(t *testing.T) {
	t.Parallel()

	specs := Loans().TableSpecs()
	byName := map[string]storage.TableSpec{}
	order := make([]string, 0, len(specs))
	for _, s := range specs {
		byName[s.Name] = s
		order = append(order, s.Name)
	}
	require.Len(t, specs, 11)
	assert.Equal(t, "tbl_loan_restructuring_normalized", order[len(order)-1])

	cust := byName["tbl_customers"]
	require.NotNil(t, cust.PrimaryKey)
	assert.Equal(t, storage.PrimaryKeySpec{Name: "customer_id", Type: storage.TypeBigInt}, *cust.PrimaryKey)
	assert.Empty(t, cust.Constraints)
	last := cust.Columns[len(cust.Columns)-1]
	assert.Equal(t, ModifiedAt, last.Name)

	terms := byName["tbl_new_loan_terms"]
	require.NotNil(t, terms.PrimaryKey)
	assert.Equal(t, storage.TypeSerial, terms.PrimaryKey.Type)
	require.Len(t, terms.Constraints, 1)
	assert.Equal(t, []string{"interest_rate", "repayment_period_in_months"}, terms.Constraints[0].Columns)
	for _, c := range terms.Columns[:2] {
		require.NotNil(t, c.Nullable, c.Name)
		assert.False(t, *c.Nullable)
	}

	fact := byName["tbl_loan_restructuring_normalized"]
	require.NotNil(t, fact.PrimaryKey)
	assert.Equal(t, "restructuring_id", fact.PrimaryKey.Name)
	var refs []string
	for _, c := range fact.Columns {
		if c.References != "" {
			refs = append(refs, c.References)
		}
	}
	assert.Equal(t, []string{
		"tbl_new_loan_terms(new_loan_term_id)",
		"tbl_restructure_terms(restructure_term_id)",
	}, refs)
}

func TestTableSpecs_DimensionWithoutCollection(t *testing.T) {
	t.Parallel()

	reg := Loans()
	reg.Collections = reg.Collections[:8] // drop the term collections
	specs := reg.TableSpecs()

	require.Len(t, specs, 11)
	assert.Equal(t, "tbl_new_loan_terms", specs[8].Name)
	assert.Equal(t, "tbl_restructure_terms", specs[9].Name)
	assert.Equal(t, storage.TypeSerial, specs[9].PrimaryKey.Type)
}

func TestValidate_Problems(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Registry)
		path   string
	}{
		{"missing key column", func(r *Registry) { r.Collections[0].UniqueKey = "id" }, "collections[0].unique_key"},
		{"duplicate name", func(r *Registry) { r.Collections[1].Name = "customers" }, "collections[1].name"},
		{"date and nested", func(r *Registry) {
			r.Collections[6].DateFields = []string{"new_loan_terms"}
		}, "collections[6].date_fields"},
		{"unknown source", func(r *Registry) { r.Normalizations[0].Source = "loans" }, "normalizations[0].source"},
		{"field not nested", func(r *Registry) {
			r.Normalizations[0].Dimensions[0].Field = "loan_id"
		}, "normalizations[0].dimensions[0].field"},
		{"managed column", func(r *Registry) {
			r.Collections[1].Columns = append(r.Collections[1].Columns, Column{Name: AddedAt, Type: storage.TypeTimestamp})
		}, "collections[1].columns[6].name"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reg := Loans()
			tc.mutate(&reg)

			issues := reg.Validate()
			require.True(t, HasErrors(issues))
			var paths []string
			for _, i := range issues {
				paths = append(paths, i.Path)
			}
			assert.Contains(t, paths, tc.path)
		})
	}
}
