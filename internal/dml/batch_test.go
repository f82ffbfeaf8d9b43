package dml

import "testing"

func TestEffectiveBatchSize(t *testing.T) {
	cases := []struct {
		name                string
		configuredBatchSize int
		paramsPerRow        int
		want                int
	}{
		{"within budget", 100, 5, 100},
		{"exceeds budget, capped", 1000, 5, defaultParamBudget / 5},
		{"unconfigured defaults to budget", 0, 5, defaultParamBudget / 5},
		{"zero params per row treated as one", 100, 0, 100},
		{"single-row budget floor", 10, defaultParamBudget + 1, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := effectiveBatchSize(tc.configuredBatchSize, tc.paramsPerRow)
			if got != tc.want {
				t.Errorf("effectiveBatchSize(%d, %d) = %d, want %d",
					tc.configuredBatchSize, tc.paramsPerRow, got, tc.want)
			}
		})
	}
}

func TestTableRefQualifiedNameAndPrimaryKeys(t *testing.T) {
	ref := TableRef{
		Schema: "dbo",
		Table:  "events",
		Columns: []Column{
			{Name: "id", IsPrimaryKey: true},
			{Name: "tenant_id", IsPrimaryKey: true},
			{Name: "payload"},
		},
	}
	if got := ref.qualifiedName(); got != "[dbo].[events]" {
		t.Errorf("qualifiedName() = %q, want [dbo].[events]", got)
	}
	pk := ref.primaryKeyColumns()
	if len(pk) != 2 || pk[0].Name != "id" || pk[1].Name != "tenant_id" {
		t.Errorf("primaryKeyColumns() = %+v, want [id tenant_id]", pk)
	}

	unqualified := TableRef{Table: "events"}
	if got := unqualified.qualifiedName(); got != "[events]" {
		t.Errorf("qualifiedName() = %q, want [events]", got)
	}
}
