package schema_test

import (
	"testing"

	"github.com/shpitdev/geodatacheck/pkg/pipeline/schema"
)

func TestContractCheck(t *testing.T) {
	c := schema.Contract{Name: "report", Fields: []schema.Field{
		{Name: "a", Type: schema.TypeString},
		{Name: "b", Type: schema.TypeNumber, Nullable: true},
	}}
	if got := c.Names(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("Names()=%v", got)
	}
	if err := c.Check([]string{"x", "b", "a"}); err != nil {
		t.Fatalf("extra and reordered columns are fine: %v", err)
	}
	if err := c.Check([]string{"a"}); err == nil {
		t.Fatalf("expected missing column error")
	}
}
