package engine

import (
	"encoding/json"
	"fmt"

	"github.com/buildloop-io/buildloop/pkg/models"
)

// Event is one message in the engine's output stream. The set of variants is
// closed; consumers switch on the concrete type (or on Kind for serialized
// streams) and must ignore kinds they do not recognize.
type Event interface {
	Kind() string
}

// Event kinds as they appear on the wire.
const (
	KindTicketStart    = "ticket_start"
	KindStatus         = "status"
	KindTicketComplete = "ticket_complete"
	KindBuildComplete  = "build_complete"
	KindError          = "error"
)

// TicketStart announces that ticket Index (0-based) of Total is being
// processed.
type TicketStart struct {
	Ticket models.Ticket `json:"ticket"`
	Index  int           `json:"index"`
	Total  int           `json:"total"`
}

func (TicketStart) Kind() string { return KindTicketStart }

// Status is an intermediate progress message for the ticket in flight.
type Status struct {
	Message string         `json:"message"`
	Ticket  *models.Ticket `json:"ticket,omitempty"`
}

func (Status) Kind() string { return KindStatus }

// TicketComplete reports the outcome of one ticket, including everything it
// cost across all attempts.
type TicketComplete struct {
	Ticket     models.Ticket     `json:"ticket"`
	Success    bool              `json:"success"`
	Error      string            `json:"error,omitempty"`
	TokensUsed models.TokenUsage `json:"tokensUsed"`
	Cost       float64           `json:"cost"`
	Attempts   int               `json:"attempts"`
}

func (TicketComplete) Kind() string { return KindTicketComplete }

// BuildComplete is the terminal event: emitted exactly once, after the last
// ticket, carrying totals consistent with the sum of all preceding
// TicketComplete events.
type BuildComplete struct {
	SuccessCount    int               `json:"successCount"`
	FailedCount     int               `json:"failedCount"`
	TotalTickets    int               `json:"totalTickets"`
	TotalTokensUsed models.TokenUsage `json:"totalTokensUsed"`
	TotalCost       float64           `json:"totalCost"`
}

func (BuildComplete) Kind() string { return KindBuildComplete }

// Error surfaces a ticket-level failure message. It always follows the
// corresponding TicketComplete{Success: false}.
type Error struct {
	Message string         `json:"message"`
	Ticket  *models.Ticket `json:"ticket,omitempty"`
}

func (Error) Kind() string { return KindError }

// envelope is the wire form: the variant's fields plus a "type" discriminator.
type envelope struct {
	Type string `json:"type"`
}

// MarshalEvent serializes an event with its "type" discriminator, suitable
// for SSE payloads or JSON-lines streams.
func MarshalEvent(ev Event) ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]json.RawMessage{}
	}
	kind, err := json.Marshal(ev.Kind())
	if err != nil {
		return nil, err
	}
	m["type"] = kind
	return json.Marshal(m)
}

// UnmarshalEvent decodes one serialized event. Unknown "type" values return
// (nil, nil) so consumers skip events from newer engines.
func UnmarshalEvent(b []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	switch env.Type {
	case KindTicketStart:
		var ev TicketStart
		return ev, json.Unmarshal(b, &ev)
	case KindStatus:
		var ev Status
		return ev, json.Unmarshal(b, &ev)
	case KindTicketComplete:
		var ev TicketComplete
		return ev, json.Unmarshal(b, &ev)
	case KindBuildComplete:
		var ev BuildComplete
		return ev, json.Unmarshal(b, &ev)
	case KindError:
		var ev Error
		return ev, json.Unmarshal(b, &ev)
	default:
		return nil, nil
	}
}
