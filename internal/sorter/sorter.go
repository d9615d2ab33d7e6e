// Package sorter imposes the deterministic processing order over pending
// tickets. Later phases causally depend on artifacts from earlier ones (a
// backend ticket assumes the schema migration already ran), so the order is a
// declared policy, not something derivable from ticket contents.
package sorter

import (
	"sort"
	"strconv"
	"strings"

	"github.com/buildloop-io/buildloop/pkg/models"
)

// phases is the fixed phase sequence. Unrecognized categories sort after all
// of these.
var phases = []struct {
	name     string
	keywords []string
}{
	{"schema", []string{"schema"}},
	{"db-validation", []string{"db-validation", "database", "validation"}},
	{"engine", []string{"engine", "service"}},
	{"backend", []string{"backend"}},
	{"frontend", []string{"frontend"}},
	{"e2e", []string{"e2e", "test"}},
}

// Sort returns tickets in processing order: grouped by phase, then by the
// numeric trailing -N segment of the id ascending. The sort is stable, so
// ties keep their original relative order. Malformed ids never panic; a
// missing or non-numeric suffix counts as 0.
func Sort(tickets []models.Ticket) []models.Ticket {
	out := make([]models.Ticket, len(tickets))
	copy(out, tickets)
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := PhaseRank(out[i]), PhaseRank(out[j])
		if pi != pj {
			return pi < pj
		}
		return idSuffix(out[i].ID) < idSuffix(out[j].ID)
	})
	return out
}

// PhaseRank returns the phase bucket for a ticket, matching the category
// first and the id second. Unrecognized tickets rank last.
func PhaseRank(t models.Ticket) int {
	for _, key := range []string{strings.ToLower(t.Category), strings.ToLower(t.ID)} {
		if key == "" {
			continue
		}
		for i, p := range phases {
			for _, kw := range p.keywords {
				if strings.Contains(key, kw) {
					return i
				}
			}
		}
	}
	return len(phases)
}

// PhaseName returns the phase label for a ticket ("schema", "backend", ...)
// or "other" for unrecognized categories.
func PhaseName(t models.Ticket) string {
	r := PhaseRank(t)
	if r >= len(phases) {
		return "other"
	}
	return phases[r].name
}

// idSuffix parses the integer after the last '-' in id. Anything malformed is 0.
func idSuffix(id string) int {
	i := strings.LastIndex(id, "-")
	if i < 0 || i+1 >= len(id) {
		return 0
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil || n < 0 {
		return 0
	}
	return n
}
