package sorter

import (
	"testing"

	"github.com/buildloop-io/buildloop/pkg/models"
)

func ids(tickets []models.Ticket) []string {
	out := make([]string, len(tickets))
	for i, t := range tickets {
		out[i] = t.ID
	}
	return out
}

func mk(id string) models.Ticket {
	return models.Ticket{ID: id, Status: models.StatusTodo}
}

func TestSort_phaseOrder(t *testing.T) {
	t.Parallel()
	in := []models.Ticket{mk("SCHEMA-1"), mk("FRONTEND-2"), mk("BACKEND-1")}
	got := ids(Sort(in))
	want := []string{"SCHEMA-1", "BACKEND-1", "FRONTEND-2"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Sort: got %v, want %v", got, want)
		}
	}
}

func TestSort_phaseOrder_inputOrderIrrelevant(t *testing.T) {
	t.Parallel()
	in := []models.Ticket{
		mk("E2E-1"), mk("FRONTEND-1"), mk("BACKEND-1"),
		mk("ENGINE-1"), mk("DB-VALIDATION-1"), mk("SCHEMA-1"),
	}
	got := ids(Sort(in))
	want := []string{"SCHEMA-1", "DB-VALIDATION-1", "ENGINE-1", "BACKEND-1", "FRONTEND-1", "E2E-1"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Sort: got %v, want %v", got, want)
		}
	}
}

func TestSort_numericSuffixNotLexicographic(t *testing.T) {
	t.Parallel()
	in := []models.Ticket{mk("BACKEND-10"), mk("BACKEND-2")}
	got := ids(Sort(in))
	if got[0] != "BACKEND-2" || got[1] != "BACKEND-10" {
		t.Errorf("Sort: got %v, want [BACKEND-2 BACKEND-10]", got)
	}
}

func TestSort_idempotent(t *testing.T) {
	t.Parallel()
	in := []models.Ticket{mk("FRONTEND-3"), mk("SCHEMA-2"), mk("SCHEMA-1"), mk("MISC-1")}
	once := Sort(in)
	twice := Sort(once)
	for i := range once {
		if once[i].ID != twice[i].ID {
			t.Fatalf("Sort not idempotent: %v vs %v", ids(once), ids(twice))
		}
	}
}

func TestSort_unknownCategoryLast(t *testing.T) {
	t.Parallel()
	in := []models.Ticket{mk("ZZZ-1"), mk("E2E-1"), mk("SCHEMA-1")}
	got := ids(Sort(in))
	if got[2] != "ZZZ-1" {
		t.Errorf("unknown category should sort last: got %v", got)
	}
}

func TestSort_malformedIDs(t *testing.T) {
	t.Parallel()
	// Must not panic, and malformed suffixes count as 0 (sort first in phase).
	in := []models.Ticket{mk("SCHEMA-2"), mk("SCHEMA"), mk("SCHEMA-"), mk("SCHEMA-x")}
	got := ids(Sort(in))
	if got[len(got)-1] != "SCHEMA-2" {
		t.Errorf("malformed suffixes should sort as 0: got %v", got)
	}
}

func TestSort_stableWithinTies(t *testing.T) {
	t.Parallel()
	in := []models.Ticket{
		{ID: "SCHEMA-1", Title: "a", Status: models.StatusTodo},
		{ID: "SCHEMA-1", Title: "b", Status: models.StatusTodo},
	}
	got := Sort(in)
	if got[0].Title != "a" || got[1].Title != "b" {
		t.Errorf("ties should preserve input order: got %s, %s", got[0].Title, got[1].Title)
	}
}

func TestSort_doesNotMutateInput(t *testing.T) {
	t.Parallel()
	in := []models.Ticket{mk("FRONTEND-1"), mk("SCHEMA-1")}
	_ = Sort(in)
	if in[0].ID != "FRONTEND-1" {
		t.Error("Sort mutated its input")
	}
}

func TestPhaseRank_categoryBeatsID(t *testing.T) {
	t.Parallel()
	tk := models.Ticket{ID: "TICKET-7", Category: "frontend"}
	if PhaseRank(tk) != PhaseRank(mk("FRONTEND-1")) {
		t.Error("category label should determine phase when set")
	}
}

func TestPhaseName(t *testing.T) {
	t.Parallel()
	cases := []struct {
		id   string
		want string
	}{
		{"SCHEMA-1", "schema"},
		{"DB-VALIDATION-2", "db-validation"},
		{"SERVICE-1", "engine"},
		{"BACKEND-4", "backend"},
		{"FRONTEND-9", "frontend"},
		{"E2E-3", "e2e"},
		{"MISC-1", "other"},
	}
	for _, c := range cases {
		if got := PhaseName(mk(c.id)); got != c.want {
			t.Errorf("PhaseName(%s): got %q, want %q", c.id, got, c.want)
		}
	}
}
