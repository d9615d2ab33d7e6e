// Package cost accumulates token usage and monetary cost across a build run.
// Accumulation is field-wise and order-independent: cost is always computed
// from the incremental usage and added to the running total, never recomputed
// from the grand total.
package cost

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/buildloop-io/buildloop/pkg/models"
)

// RateTable holds per-million-token USD rates for each usage category.
type RateTable struct {
	InputPerMTok         float64 `yaml:"input_per_mtok"`
	OutputPerMTok        float64 `yaml:"output_per_mtok"`
	CacheCreationPerMTok float64 `yaml:"cache_creation_per_mtok"`
	CacheReadPerMTok     float64 `yaml:"cache_read_per_mtok"`
}

// DefaultRates returns the built-in pricing table.
func DefaultRates() RateTable {
	return RateTable{
		InputPerMTok:         3.00,
		OutputPerMTok:        15.00,
		CacheCreationPerMTok: 3.75,
		CacheReadPerMTok:     0.30,
	}
}

// LoadRates reads a rate table from a YAML file. Fields omitted from the file
// keep the built-in defaults so a partial override file is valid.
func LoadRates(path string) (RateTable, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return RateTable{}, fmt.Errorf("read rate table: %w", err)
	}
	r := DefaultRates()
	if err := yaml.Unmarshal(b, &r); err != nil {
		return RateTable{}, fmt.Errorf("parse rate table %s: %w", path, err)
	}
	return r, nil
}

// Cost prices a token usage increment in USD.
func (r RateTable) Cost(u models.TokenUsage) float64 {
	const mtok = 1_000_000
	return float64(u.Input)/mtok*r.InputPerMTok +
		float64(u.Output)/mtok*r.OutputPerMTok +
		float64(u.CacheCreation)/mtok*r.CacheCreationPerMTok +
		float64(u.CacheRead)/mtok*r.CacheReadPerMTok
}

// Totals is the running sum of token usage and cost for a build run.
type Totals struct {
	Usage models.TokenUsage
	Cost  float64
}

// Add folds one increment into the totals and returns the new value. The cost
// argument is the price of this increment only.
func (t Totals) Add(u models.TokenUsage, cost float64) Totals {
	return Totals{Usage: t.Usage.Add(u), Cost: t.Cost + cost}
}
