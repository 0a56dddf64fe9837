package models

import (
	"strings"
	"time"
)

// Receipt summarizes one normalization run: what went in, what came out.
// It is printed by the CLI after the normalized stream has been written.
type Receipt struct {
	Schema       string         `json:"schema"`
	RunID        string         `json:"run_id"`
	Vendor       string         `json:"vendor"`
	CreatedAtUTC string         `json:"created_at_utc"`
	RangeStart   string         `json:"range_start,omitempty"`
	RangeEnd     string         `json:"range_end,omitempty"`
	DeviceIDs    []string       `json:"device_ids"`
	EventCounts  map[string]int `json:"event_counts"`
	TotalEvents  int            `json:"total_events"`
	Annotated    int            `json:"annotated"`
	Fabricated   int            `json:"fabricated"`
}

// ReceiptSchema identifies the receipt payload version.
const ReceiptSchema = "diastream.receipt.v1"

// NewReceipt builds a receipt over a finished normalized stream.
func NewReceipt(runID, vendor string, events []Event) Receipt {
	r := Receipt{
		Schema:       ReceiptSchema,
		RunID:        runID,
		Vendor:       vendor,
		CreatedAtUTC: time.Now().UTC().Format(time.RFC3339),
		EventCounts:  make(map[string]int),
		TotalEvents:  len(events),
	}

	devices := make(map[string]bool)
	for i := range events {
		e := &events[i]
		r.EventCounts[e.Type]++
		if e.DeviceID != "" && !devices[e.DeviceID] {
			devices[e.DeviceID] = true
			r.DeviceIDs = append(r.DeviceIDs, e.DeviceID)
		}
		if len(e.Annotations) > 0 {
			r.Annotated++
			for _, a := range e.Annotations {
				if strings.Contains(a.Code, "fabricat") {
					r.Fabricated++
					break
				}
			}
		}
		if r.RangeStart == "" || e.DeviceTime.String() < r.RangeStart {
			r.RangeStart = e.DeviceTime.String()
		}
		if e.DeviceTime.String() > r.RangeEnd {
			r.RangeEnd = e.DeviceTime.String()
		}
	}
	return r
}
