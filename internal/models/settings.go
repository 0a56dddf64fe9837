package models

// ScheduleEntry is one step of a basal schedule: deliver Rate units/hour
// starting Start milliseconds past midnight. Entries of a schedule are
// ordered by strictly increasing Start.
type ScheduleEntry struct {
	Rate  float64 `json:"rate"`
	Start int64   `json:"start"`
}

// CarbRatioEntry is a time-of-day-scoped insulin:carb ratio.
type CarbRatioEntry struct {
	Amount float64 `json:"amount"`
	Start  int64   `json:"start"`
	Units  string  `json:"units,omitempty"`
}

// SensitivityEntry is a time-of-day-scoped insulin sensitivity factor.
type SensitivityEntry struct {
	Amount float64 `json:"amount"`
	Start  int64   `json:"start"`
}

// BGTargetEntry is a time-of-day-scoped blood glucose target range.
type BGTargetEntry struct {
	Low   float64 `json:"low"`
	High  float64 `json:"high"`
	Start int64   `json:"start"`
}

// BGRange is the target range a bolus wizard computed against.
type BGRange struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Recommended holds the wizard's suggested doses.
type Recommended struct {
	Carb       float64 `json:"carb"`
	Correction float64 `json:"correction"`
}

// Units names the measurement units events were recorded in.
type Units struct {
	Carb string `json:"carb,omitempty"`
	BG   string `json:"bg,omitempty"`
}

// ScheduleEntriesEqual compares two schedules entry by entry.
func ScheduleEntriesEqual(a, b []ScheduleEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// CarbRatiosEqual compares two carb ratio lists entry by entry.
func CarbRatiosEqual(a, b []CarbRatioEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SensitivitiesEqual compares two sensitivity lists entry by entry.
func SensitivitiesEqual(a, b []SensitivityEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// BGTargetsEqual compares two target lists entry by entry.
func BGTargetsEqual(a, b []BGTargetEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// UnitsEqual compares two optional unit declarations.
func UnitsEqual(a, b *Units) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
