package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/diastream/diastream-cli/internal/models"
)

func renderReceipt(name string, r models.Receipt) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n", name)
	if r.Vendor != "" {
		fmt.Fprintf(&b, "  source:     %s\n", r.Vendor)
	}
	if r.RangeStart != "" {
		fmt.Fprintf(&b, "  range:      %s .. %s\n", r.RangeStart, r.RangeEnd)
	}
	if len(r.DeviceIDs) > 0 {
		fmt.Fprintf(&b, "  devices:    %s\n", strings.Join(r.DeviceIDs, ", "))
	}
	fmt.Fprintf(&b, "  events:     %d\n", r.TotalEvents)

	types := make([]string, 0, len(r.EventCounts))
	for t := range r.EventCounts {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(&b, "    %-12s %d\n", t, r.EventCounts[t])
	}

	if r.Annotated > 0 {
		fmt.Fprintf(&b, "  annotated:  %d\n", r.Annotated)
	}
	if r.Fabricated > 0 {
		fmt.Fprintf(&b, "  fabricated: %d\n", r.Fabricated)
	}
	return b.String()
}
