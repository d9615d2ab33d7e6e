// Package models provides shared types for the buildloop ticket file, HTTP API,
// and external tools. These types mirror the JSON on disk and on the wire and
// are stable for use by pkg/client and other consumers.
package models

import "time"

// Ticket is one unit of work: a declared category, human-readable intent, and
// a status the engine advances as collaborators run.
type Ticket struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	Type            string `json:"type"`
	EstimatedEffort int    `json:"estimatedEffort,omitempty"`
	Status          string `json:"status"`
	Error           string `json:"error,omitempty"`
	Category        string `json:"category,omitempty"`
}

// TicketFile is the on-disk ticket store format. TotalTickets is redundant:
// writers must keep it equal to len(Tickets), readers must recompute it.
type TicketFile struct {
	GeneratedAt  time.Time `json:"generatedAt"`
	TotalTickets int       `json:"totalTickets"`
	Tickets      []Ticket  `json:"tickets"`
}

// TokenUsage is the four token counters reported by collaborators. Counters
// are additive and never reset mid-run.
type TokenUsage struct {
	Input         int64 `json:"input"`
	Output        int64 `json:"output"`
	CacheCreation int64 `json:"cacheCreation"`
	CacheRead     int64 `json:"cacheRead"`
}

// Add returns the field-wise sum of u and v.
func (u TokenUsage) Add(v TokenUsage) TokenUsage {
	return TokenUsage{
		Input:         u.Input + v.Input,
		Output:        u.Output + v.Output,
		CacheCreation: u.CacheCreation + v.CacheCreation,
		CacheRead:     u.CacheRead + v.CacheRead,
	}
}

// Total returns the sum of all four counters.
func (u TokenUsage) Total() int64 {
	return u.Input + u.Output + u.CacheCreation + u.CacheRead
}
