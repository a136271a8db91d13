package mapping

import "github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/storage"

func col(name, typ string) Column { return Column{Name: name, Type: typ} }

func newLoanTermsDim() Dimension {
	return Dimension{
		Field:     "new_loan_terms",
		Table:     "tbl_new_loan_terms",
		KeyColumn: "new_loan_term_id",
		ValueColumns: []Column{
			col("interest_rate", storage.TypeNumeric),
			col("repayment_period_in_months", storage.TypeBigInt),
		},
	}
}

func restructureTermsDim() Dimension {
	return Dimension{
		Field:     "restructure_terms",
		Table:     "tbl_restructure_terms",
		KeyColumn: "restructure_term_id",
		ValueColumns: []Column{
			col("reason", storage.TypeText),
			col("new_schedule", storage.TypeText),
			col("concessions", storage.TypeText),
		},
	}
}

// Loans returns the built-in micro-finance registry, collections in load order.
func Loans() Registry {
	return Registry{
		Collections: []Collection{
			{
				Name: "customers", UniqueKey: "customer_id", Table: "tbl_customers",
				DateFields: []string{"joined_date"},
				Columns: []Column{
					col("customer_id", storage.TypeBigInt),
					col("first_name", storage.TypeText),
					col("last_name", storage.TypeText),
					col("gender", storage.TypeText),
					col("age", storage.TypeBigInt),
					col("employment_status", storage.TypeText),
					col("income_level", storage.TypeText),
					col("location", storage.TypeText),
					col("joined_date", storage.TypeTimestamp),
				},
			},
			{
				Name: "loan_types", UniqueKey: "loan_type_id", Table: "tbl_loan_types",
				Columns: []Column{
					col("loan_type_id", storage.TypeBigInt),
					col("loan_type_name", storage.TypeText),
					col("max_loan_amount", storage.TypeNumeric),
					col("interest_rate", storage.TypeNumeric),
					col("repayment_period_in_months", storage.TypeBigInt),
					col("eligibility_criteria", storage.TypeText),
				},
			},
			{
				Name: "loan_applications", UniqueKey: "loan_id", Table: "tbl_loan_applications",
				DateFields: []string{"application_date", "approval_date"},
				Columns: []Column{
					col("loan_id", storage.TypeBigInt),
					col("customer_id", storage.TypeBigInt),
					col("loan_type_id", storage.TypeBigInt),
					col("loan_amount", storage.TypeNumeric),
					col("loan_status", storage.TypeText),
					col("application_date", storage.TypeTimestamp),
					col("approval_date", storage.TypeTimestamp),
				},
			},
			{
				Name: "loan_repayments", UniqueKey: "repayment_id", Table: "tbl_loan_repayments",
				DateFields: []string{"repayment_date"},
				Columns: []Column{
					col("repayment_id", storage.TypeBigInt),
					col("loan_id", storage.TypeBigInt),
					col("repayment_amount", storage.TypeNumeric),
					col("repayment_date", storage.TypeTimestamp),
					col("repayment_status", storage.TypeText),
				},
			},
			{
				Name: "loan_history", UniqueKey: "history_id", Table: "tbl_loan_history",
				DateFields: []string{"loan_disbursed_date", "loan_repaid_date"},
				Columns: []Column{
					col("history_id", storage.TypeBigInt),
					col("customer_id", storage.TypeBigInt),
					col("loan_id", storage.TypeBigInt),
					col("loan_disbursed_date", storage.TypeTimestamp),
					col("loan_repaid_date", storage.TypeTimestamp),
					col("previous_loan_status", storage.TypeBool),
				},
			},
			{
				Name: "loan_collateral", UniqueKey: "collateral_id", Table: "tbl_loan_collateral",
				Columns: []Column{
					col("collateral_id", storage.TypeBigInt),
					col("loan_id", storage.TypeBigInt),
					col("collateral_type", storage.TypeText),
					col("collateral_value", storage.TypeNumeric),
				},
			},
			{
				Name: "loan_restructuring", UniqueKey: "restructuring_id", Table: "tbl_loan_restructuring",
				NestedFields: []string{"new_loan_terms", "restructure_terms"},
				Columns: []Column{
					col("restructuring_id", storage.TypeBigInt),
					col("loan_id", storage.TypeBigInt),
					col("new_loan_terms", storage.TypeJSON),
					col("restructure_terms", storage.TypeJSON),
				},
			},
			{
				Name: "loan_disbursements", UniqueKey: "disbursement_id", Table: "tbl_loan_disbursements",
				DateFields: []string{"disbursement_date", "application_date"},
				Columns: []Column{
					col("disbursement_id", storage.TypeBigInt),
					col("loan_id", storage.TypeBigInt),
					col("disbursement_amount", storage.TypeNumeric),
					col("disbursement_date", storage.TypeTimestamp),
					col("application_date", storage.TypeTimestamp),
					col("disbursement_method", storage.TypeText),
				},
			},
			{
				Name: "new_loan_terms", UniqueKey: "new_loan_term_id", Table: "tbl_new_loan_terms",
				Columns: append([]Column{col("new_loan_term_id", storage.TypeBigInt)}, newLoanTermsDim().ValueColumns...),
			},
			{
				Name: "restructure_terms", UniqueKey: "restructure_term_id", Table: "tbl_restructure_terms",
				Columns: append([]Column{col("restructure_term_id", storage.TypeBigInt)}, restructureTermsDim().ValueColumns...),
			},
		},
		Normalizations: []Normalization{
			{
				Source:       "loan_restructuring",
				Target:       "tbl_loan_restructuring_normalized",
				KeyColumn:    "restructuring_id",
				CarryColumns: []string{"loan_id", AddedAt, ModifiedAt},
				Dimensions:   []Dimension{newLoanTermsDim(), restructureTermsDim()},
			},
		},
	}
}
