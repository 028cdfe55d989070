package main

import (
	"strings"
	"testing"

	"github.com/jedib0t/go-pretty/v6/table"
)

func TestRenderTable(t *testing.T) {
	out := renderTable(
		table.Row{"Items", "Count"},
		[]table.Row{{"Pending", 3}, {"Complete", 12}},
		2,
	)
	for _, want := range []string{"Items", "Count", "Pending", "12"} {
		if !strings.Contains(out, want) {
			t.Fatalf("rendered table missing %q:\n%s", want, out)
		}
	}
	// Right-aligned count column: single digit padded from the left.
	if !strings.Contains(out, " 3 ") {
		t.Fatalf("count column not right-aligned:\n%s", out)
	}
}
