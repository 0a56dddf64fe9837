package models

// Event kinds produced by the normalization pipelines.
const (
	TypeBasal        = "basal"
	TypeBolus        = "bolus"
	TypeWizard       = "wizard"
	TypeSmbg         = "smbg"
	TypeCbg          = "cbg"
	TypeDeviceMeta   = "deviceMeta"
	TypeSettings     = "settings"
	TypeSettingsPart = "settingsPart"
	TypeMeta         = "meta"
)

// Basal delivery types.
const (
	DeliveryScheduled = "scheduled"
	DeliveryTemp      = "temp"
	DeliverySuspend   = "suspend"
	DeliveryTempStop  = "temp-stop"
)

// Bolus subtypes. Dual-wave boluses arrive as two physical records.
const (
	BolusNormal     = "normal"
	BolusSquare     = "square"
	BolusDualNormal = "dual/normal"
	BolusDualSquare = "dual/square"
)

// Settings lifecycle phases: whether a fragment marks the beginning or the
// end of a configuration's validity window.
const (
	LifecycleStart = "start"
	LifecycleEnd   = "end"
)

// Device status values after normalization.
const (
	StatusSuspended = "suspended"
	StatusResumed   = "resumed"
)

// Annotation is an opaque diagnostic code marking fabricated or uncertain
// derived data. Downstream consumers decide whether to trust, flag or drop
// the annotated event.
type Annotation struct {
	Code string `json:"code"`
}

// Event is the normalized clinical event record. It is a tagged union over
// the Type/SubType discriminators; only the fields meaningful for a given
// kind are populated, everything else stays at its zero value and is omitted
// from JSON. Events are passed by value through pipeline stages; the
// Previous and Suppressed chains are owned, backward-only and acyclic.
type Event struct {
	Type       string     `json:"type"`
	SubType    string     `json:"subType,omitempty"`
	DeviceTime DeviceTime `json:"deviceTime"`
	DeviceID   string     `json:"deviceId,omitempty"`
	Source     string     `json:"source,omitempty"`

	// Join-time scaffolding: monotonic per upload, stripped before final
	// output once the joins that need it have run.
	UploadID     string `json:"uploadId,omitempty"`
	UploadSeqNum *int64 `json:"uploadSeqNum,omitempty"`

	ID      string `json:"id,omitempty"`
	JoinKey string `json:"joinKey,omitempty"`

	Annotations []Annotation `json:"annotations,omitempty"`

	// Previous points at the fully-owned snapshot of the segment this event
	// superseded, forming a backward-only chain.
	Previous *Event `json:"previous,omitempty"`

	// Basal fields. Duration is in milliseconds; nil means "still ongoing".
	// Suppressed owns the segment this one temporarily overrides.
	DeliveryType string   `json:"deliveryType,omitempty"`
	ScheduleName string   `json:"scheduleName,omitempty"`
	Rate         *float64 `json:"rate,omitempty"`
	Percent      *float64 `json:"percent,omitempty"`
	Duration     *int64   `json:"duration,omitempty"`
	Suppressed   *Event   `json:"suppressed,omitempty"`
	// StartOffset is the schedule offset (ms past midnight) the device
	// reported for a scheduled rate change; reconstruction scaffolding.
	StartOffset *int64 `json:"startTime,omitempty"`
	TempID      string `json:"tempId,omitempty"`

	// Bolus fields.
	Normal           *float64 `json:"normal,omitempty"`
	ExpectedNormal   *float64 `json:"expectedNormal,omitempty"`
	Extended         *float64 `json:"extended,omitempty"`
	ExpectedExtended *float64 `json:"expectedExtended,omitempty"`
	Immediate        *float64 `json:"immediate,omitempty"`
	Value            *float64 `json:"value,omitempty"`
	Programmed       *float64 `json:"programmed,omitempty"`

	// Wizard fields.
	BGInput            *float64     `json:"bgInput,omitempty"`
	BGTarget           *BGRange     `json:"bgTarget,omitempty"`
	CarbInput          *float64     `json:"carbInput,omitempty"`
	InsulinCarbRatio   *float64     `json:"insulinCarbRatio,omitempty"`
	InsulinOnBoard     *float64     `json:"insulinOnBoard,omitempty"`
	InsulinSensitivity *float64     `json:"insulinSensitivity,omitempty"`
	Recommended        *Recommended `json:"recommended,omitempty"`

	// Units for glucose values, carb ratios and wizard settings.
	Units *Units `json:"units,omitempty"`

	// Device status fields.
	Status         string `json:"status,omitempty"`
	PreviousStatus string `json:"previousStatus,omitempty"`
	Reason         string `json:"reason,omitempty"`

	// Settings fragment scaffolding: fragments reference their setup event
	// and carry an index into the list they belong to.
	Phase        string `json:"phase,omitempty"`
	Lifecycle    string `json:"lifecycle,omitempty"`
	EventID      string `json:"eventId,omitempty"`
	SetupID      string `json:"setupId,omitempty"`
	Index        *int   `json:"index,omitempty"`
	Size         *int   `json:"size,omitempty"`
	PrevConfigID string `json:"prevConfigId,omitempty"`
	NextConfigID string `json:"nextConfigId,omitempty"`

	// Single-entry fragment payloads, aggregated into the list fields below.
	ScheduleItem    *ScheduleEntry    `json:"scheduleItem,omitempty"`
	CarbRatioItem   *CarbRatioEntry   `json:"carbRatioItem,omitempty"`
	SensitivityItem *SensitivityEntry `json:"sensitivityItem,omitempty"`
	BGTargetItem    *BGTargetEntry    `json:"bgTargetItem,omitempty"`

	// Settings snapshot fields.
	ActiveBasalSchedule  string                     `json:"activeBasalSchedule,omitempty"`
	PreviousSchedule     string                     `json:"previousSchedule,omitempty"`
	BasalSchedules       map[string][]ScheduleEntry `json:"basalSchedules,omitempty"`
	Schedule             []ScheduleEntry            `json:"schedule,omitempty"`
	CarbRatio            []CarbRatioEntry           `json:"carbRatio,omitempty"`
	InsulinSensitivities []SensitivityEntry         `json:"insulinSensitivity,omitempty"`
	BGTargets            []BGTargetEntry            `json:"bgTargets,omitempty"`

	// Stream range metadata (meta/dates events from export preambles).
	RangeStart *DeviceTime `json:"start,omitempty"`
	RangeEnd   *DeviceTime `json:"end,omitempty"`
}

// Annotate adds a diagnostic code to the event, ignoring duplicates.
func (e *Event) Annotate(code string) {
	for _, a := range e.Annotations {
		if a.Code == code {
			return
		}
	}
	e.Annotations = append(e.Annotations, Annotation{Code: code})
}

// HasAnnotation reports whether the event carries the given code.
func (e *Event) HasAnnotation(code string) bool {
	for _, a := range e.Annotations {
		if a.Code == code {
			return true
		}
	}
	return false
}

// StripPrevious returns an owned copy of the event with its backward chain
// cut, suitable for embedding as another event's Previous or Suppressed.
func (e Event) StripPrevious() *Event {
	e.Previous = nil
	return &e
}

// CloneSchedules returns a copy of the event whose basal schedule map (and
// the entry slices within it) are independently owned. Plain struct copies
// share the map, which is fine for readers but not for the settings marrying
// pass, which rewrites schedules while older snapshots must stay intact.
func (e Event) CloneSchedules() Event {
	if e.BasalSchedules != nil {
		schedules := make(map[string][]ScheduleEntry, len(e.BasalSchedules))
		for name, entries := range e.BasalSchedules {
			schedules[name] = append([]ScheduleEntry(nil), entries...)
		}
		e.BasalSchedules = schedules
	}
	e.Annotations = append([]Annotation(nil), e.Annotations...)
	return e
}

// IsStatus reports whether the event is a normalized suspend/resume record.
func (e *Event) IsStatus() bool {
	return e.Type == TypeDeviceMeta && e.SubType == "status"
}

// EndTime returns the instant the segment stops if its duration is known.
func (e *Event) EndTime() (DeviceTime, bool) {
	if e.Duration == nil {
		return DeviceTime{}, false
	}
	return e.DeviceTime.AddMillis(*e.Duration), true
}

// Float returns a pointer to v; helper for the optional numeric fields.
func Float(v float64) *float64 { return &v }

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
