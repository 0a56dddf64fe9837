package carelink

import (
	"fmt"

	"github.com/diastream/diastream-cli/internal/models"
	"github.com/diastream/diastream-cli/internal/stream"
)

// Settings fragment discriminators as the export reports them.
const (
	subTypeActiveSchedule      = "activeSchedule"
	subTypeBolusWizardSetup    = "bolusWizardSetup"
	subTypeBasalScheduleConfig = "basalScheduleConfig"
	subTypeBolusWizard         = "bolusWizard"
	subTypeCarbRatio           = "carbRatio"
	subTypeInsulinSensitivity  = "insulinSensitivity"
	subTypeBGTarget            = "bgTarget"
	subTypeBasalSchedule       = "basalSchedule"

	phaseStart              = "start"
	phaseComplete           = "complete"
	phaseCarbSetup          = "carbSetup"
	phaseCarbRatio          = "carbRatio"
	phaseSensitivitySetup   = "insulinSensitivitySetup"
	phaseSensitivity        = "insulinSensitivity"
	phaseBGTargetSetup      = "bgTargetSetup"
	phaseBGTarget           = "bgTarget"
	phaseBasalScheduleSetup = "basalScheduleSetup"
	phaseBasalScheduleItem  = "basalSchedule"
)

// The named schedules every paradigm-style pump carries; a settings snapshot
// is not complete until all of them have been seen.
var requiredSchedules = []string{"standard", "pattern a", "pattern b"}

func isSettingsPart(e models.Event) bool {
	return e.Type == models.TypeSettingsPart
}

func wizardSetupPhase(phase string) func(models.Event) bool {
	return func(e models.Event) bool {
		return isSettingsPart(e) && e.SubType == subTypeBolusWizardSetup && e.Phase == phase
	}
}

// assembleFunc turns a setup event plus its collected item events into one
// aggregate settings fragment.
type assembleFunc func(setup models.Event, items []models.Event) models.Event

// stripListScaffolding clears the fields that only made sense on the setup
// fragment once the list has been assembled.
func stripListScaffolding(agg models.Event, itemType string) models.Event {
	agg.SubType = itemType
	agg.Phase = ""
	agg.EventID = ""
	agg.UploadID = ""
	agg.UploadSeqNum = nil
	agg.Size = nil
	return agg
}

// listJoiner accumulates the fragmented representation of one settings list:
// a setup event declaring the list size followed by exactly that many item
// events, strictly sequential by index and all referencing the setup. The
// list resolves when the first event of a different phase arrives; ending
// the stream mid-list is fatal.
func listJoiner(isSetup func(models.Event) bool, itemPhase string, assemble assembleFunc) stream.Starter {
	return func(e models.Event) stream.Handler {
		if !isSetup(e) {
			return nil
		}
		return &listHandler{itemPhase: itemPhase, assemble: assemble}
	}
}

type listHandler struct {
	itemPhase string
	assemble  assembleFunc
	setup     *models.Event
	items     []models.Event
}

func (h *listHandler) Handle(e models.Event) (*stream.Result, error) {
	if h.setup == nil {
		h.setup = &e
		return nil, nil
	}

	if e.Phase != h.itemPhase {
		if h.setup.Size != nil && len(h.items) == *h.setup.Size {
			return &stream.Result{
				Emit:    []models.Event{h.assemble(*h.setup, h.items)},
				Requeue: []models.Event{e},
			}, nil
		}
		return nil, fmt.Errorf("%w: expected %s item, got [%s,%s,%s] at %s with %d of %v collected",
			stream.ErrIllegalState, h.itemPhase, e.Type, e.SubType, e.Phase, e.DeviceTime, len(h.items), h.setup.Size)
	}

	if e.SetupID != h.setup.EventID {
		return nil, fmt.Errorf("%w: %s item for wrong setup %q, expected %q",
			stream.ErrIllegalState, h.itemPhase, e.SetupID, h.setup.EventID)
	}
	if e.Index == nil || *e.Index != len(h.items) {
		return nil, fmt.Errorf("%w: %s item out of order, index %v with %d stored, setup %q",
			stream.ErrIllegalState, h.itemPhase, e.Index, len(h.items), e.SetupID)
	}

	h.items = append(h.items, e)
	return nil, nil
}

func (h *listHandler) Completed() ([]models.Event, error) {
	return nil, fmt.Errorf("%w: incomplete %s list at %s", stream.ErrIllegalState, h.itemPhase, h.setup.DeviceTime)
}

func assembleCarbRatios(setup models.Event, items []models.Event) models.Event {
	agg := stripListScaffolding(setup, subTypeCarbRatio)
	agg.CarbRatio = make([]models.CarbRatioEntry, 0, len(items))
	for _, item := range items {
		agg.CarbRatio = append(agg.CarbRatio, *item.CarbRatioItem)
	}
	return agg
}

func assembleSensitivities(setup models.Event, items []models.Event) models.Event {
	agg := stripListScaffolding(setup, subTypeInsulinSensitivity)
	agg.InsulinSensitivities = make([]models.SensitivityEntry, 0, len(items))
	for _, item := range items {
		agg.InsulinSensitivities = append(agg.InsulinSensitivities, *item.SensitivityItem)
	}
	return agg
}

func assembleBGTargets(setup models.Event, items []models.Event) models.Event {
	agg := stripListScaffolding(setup, subTypeBGTarget)
	agg.BGTargets = make([]models.BGTargetEntry, 0, len(items))
	for _, item := range items {
		agg.BGTargets = append(agg.BGTargets, *item.BGTargetItem)
	}
	return agg
}

func assembleBasalSchedule(setup models.Event, items []models.Event) models.Event {
	agg := stripListScaffolding(setup, subTypeBasalSchedule)
	agg.Schedule = make([]models.ScheduleEntry, 0, len(items))
	for _, item := range items {
		agg.Schedule = append(agg.Schedule, *item.ScheduleItem)
	}
	return agg
}

func expectSettingsPart(e models.Event) error {
	if !isSettingsPart(e) {
		return fmt.Errorf("%w: expected a settingsPart event, got %s at %s", stream.ErrIllegalState, e.Type, e.DeviceTime)
	}
	return nil
}

// wizardSettingsBuilder combines a bolus wizard setup start fragment with
// the three aggregate lists (carb ratio, insulin sensitivity, bg target, in
// any order) into one bolusWizard fragment. The carb units live on the carb
// ratio entries; the bg units come off the list setups.
func wizardSettingsBuilder(e models.Event) stream.Handler {
	if !(isSettingsPart(e) && e.SubType == subTypeBolusWizardSetup && e.Phase == phaseStart) {
		return nil
	}
	return &wizardBuilderHandler{}
}

type wizardBuilderHandler struct {
	curr    *models.Event
	missing map[string]bool
}

func (h *wizardBuilderHandler) Handle(e models.Event) (*stream.Result, error) {
	if err := expectSettingsPart(e); err != nil {
		return nil, err
	}

	if h.curr == nil {
		curr := e
		curr.SubType = subTypeBolusWizard
		curr.Phase = ""
		curr.UploadID = ""
		curr.UploadSeqNum = nil
		curr.Units = &models.Units{}
		h.curr = &curr
		h.missing = map[string]bool{
			subTypeCarbRatio:          true,
			subTypeInsulinSensitivity: true,
			subTypeBGTarget:           true,
		}
		return nil, nil
	}

	if !h.missing[e.SubType] {
		return nil, fmt.Errorf("%w: unexpected %s fragment while building wizard settings at %s",
			stream.ErrIllegalState, e.SubType, e.DeviceTime)
	}

	switch e.SubType {
	case subTypeCarbRatio:
		ratios := make([]models.CarbRatioEntry, 0, len(e.CarbRatio))
		for _, entry := range e.CarbRatio {
			entry.Units = ""
			ratios = append(ratios, entry)
		}
		h.curr.CarbRatio = ratios
		if len(e.CarbRatio) > 0 {
			h.curr.Units.Carb = e.CarbRatio[0].Units
		}
	case subTypeInsulinSensitivity:
		h.curr.InsulinSensitivities = e.InsulinSensitivities
		if e.Units != nil {
			h.curr.Units.BG = e.Units.BG
		}
	case subTypeBGTarget:
		h.curr.BGTargets = e.BGTargets
		if e.Units != nil {
			h.curr.Units.BG = e.Units.BG
		}
	}

	delete(h.missing, e.SubType)
	if len(h.missing) == 0 {
		return stream.EmitResult(*h.curr), nil
	}
	return nil, nil
}

func (h *wizardBuilderHandler) Completed() ([]models.Event, error) {
	return nil, fmt.Errorf("%w: incomplete wizard settings at %s", stream.ErrIllegalState, h.curr.DeviceTime)
}

// lifecycleAnnotator pairs wizard settings fragments with the transition
// event that references them. A transition names the outgoing and incoming
// configuration ids; the outgoing copy is tagged lifecycle end and the
// incoming one lifecycle start.
func lifecycleAnnotator(e models.Event) stream.Handler {
	if !(isSettingsPart(e) && e.SubType == subTypeBolusWizard && e.EventID != "") {
		return nil
	}
	return &lifecycleHandler{held: map[string]models.Event{}}
}

type lifecycleHandler struct {
	held map[string]models.Event
}

func (h *lifecycleHandler) Handle(e models.Event) (*stream.Result, error) {
	if err := expectSettingsPart(e); err != nil {
		return nil, err
	}

	switch e.SubType {
	case subTypeBolusWizard:
		id := e.EventID
		e.EventID = ""
		h.held[id] = e
		return nil, nil

	case subTypeBolusWizardSetup:
		prev, ok := h.held[e.PrevConfigID]
		if !ok {
			return nil, fmt.Errorf("%w: transition at %s references unknown config %q",
				stream.ErrIllegalState, e.DeviceTime, e.PrevConfigID)
		}
		next, ok := h.held[e.NextConfigID]
		if !ok {
			return nil, fmt.Errorf("%w: transition at %s references unknown config %q",
				stream.ErrIllegalState, e.DeviceTime, e.NextConfigID)
		}
		prev.Lifecycle = models.LifecycleEnd
		next.Lifecycle = models.LifecycleStart
		return stream.EmitResult(prev, next), nil

	default:
		return nil, fmt.Errorf("%w: unexpected %s fragment while pairing wizard lifecycles at %s",
			stream.ErrIllegalState, e.SubType, e.DeviceTime)
	}
}

func (h *lifecycleHandler) Completed() ([]models.Event, error) {
	return nil, fmt.Errorf("%w: wizard settings never paired with a transition (%d held)",
		stream.ErrIllegalState, len(h.held))
}

func lifecycleRank(e models.Event) int {
	if !isSettingsPart(e) {
		return -1
	}
	if e.Lifecycle == models.LifecycleStart {
		return 0
	}
	return 1
}

// byLifecycle breaks timestamp ties so that, walking backwards in time,
// the start of one configuration window is seen before the end of the one
// it replaced.
func byLifecycle(a, b models.Event) int {
	return lifecycleRank(a) - lifecycleRank(b)
}

// firstCompleteSnapshot assembles the seed settings snapshot from the
// lifecycle-end fragments the export dumps at upload time. It runs once per
// device; once the snapshot is complete everything else passes through
// untouched.
func firstCompleteSnapshot() stream.Starter {
	ran := false
	return func(e models.Event) stream.Handler {
		if !isSettingsPart(e) || ran {
			return nil
		}
		ran = true
		return &snapshotHandler{
			snapshot: models.Event{Type: models.TypeSettings, Lifecycle: models.LifecycleEnd},
		}
	}
}

type snapshotHandler struct {
	snapshot models.Event
}

func (h *snapshotHandler) complete() bool {
	if h.snapshot.ActiveBasalSchedule == "" || h.snapshot.CarbRatio == nil {
		return false
	}
	for _, name := range requiredSchedules {
		if _, ok := h.snapshot.BasalSchedules[name]; !ok {
			return false
		}
	}
	return true
}

func (h *snapshotHandler) mergeCommonFields(e models.Event) error {
	if h.snapshot.DeviceID == "" {
		h.snapshot.DeviceID = e.DeviceID
	} else if h.snapshot.DeviceID != e.DeviceID {
		return fmt.Errorf("%w: mismatched deviceId %q != %q while assembling settings",
			stream.ErrIllegalState, h.snapshot.DeviceID, e.DeviceID)
	}
	if h.snapshot.DeviceTime.IsZero() {
		h.snapshot.DeviceTime = e.DeviceTime
	} else if h.snapshot.DeviceTime.Compare(e.DeviceTime) != 0 {
		return fmt.Errorf("%w: mismatched timestamps %s != %s while assembling settings",
			stream.ErrIllegalState, h.snapshot.DeviceTime, e.DeviceTime)
	}
	return nil
}

func (h *snapshotHandler) Handle(e models.Event) (*stream.Result, error) {
	if h.complete() {
		return &stream.Result{
			Emit:    []models.Event{h.snapshot},
			Requeue: []models.Event{e},
		}, nil
	}

	if err := expectSettingsPart(e); err != nil {
		return nil, err
	}
	if e.Lifecycle != models.LifecycleEnd {
		return nil, fmt.Errorf("%w: expected a lifecycle-end fragment, got %q at %s",
			stream.ErrIllegalState, e.Lifecycle, e.DeviceTime)
	}

	switch e.SubType {
	case subTypeActiveSchedule:
		if h.snapshot.ActiveBasalSchedule != "" {
			return nil, fmt.Errorf("%w: second activeSchedule fragment at %s", stream.ErrIllegalState, e.DeviceTime)
		}
		if err := h.mergeCommonFields(e); err != nil {
			return nil, err
		}
		h.snapshot.ActiveBasalSchedule = e.ScheduleName

	case subTypeBolusWizard:
		if h.snapshot.CarbRatio != nil {
			return nil, fmt.Errorf("%w: second bolusWizard fragment at %s", stream.ErrIllegalState, e.DeviceTime)
		}
		if err := h.mergeCommonFields(e); err != nil {
			return nil, err
		}
		h.snapshot.CarbRatio = e.CarbRatio
		h.snapshot.InsulinSensitivities = e.InsulinSensitivities
		h.snapshot.BGTargets = e.BGTargets
		h.snapshot.Units = e.Units

	case subTypeBasalSchedule:
		if h.snapshot.BasalSchedules == nil {
			h.snapshot.BasalSchedules = map[string][]models.ScheduleEntry{}
		}
		if _, dup := h.snapshot.BasalSchedules[e.ScheduleName]; dup {
			return nil, fmt.Errorf("%w: second basalSchedule fragment for %q at %s",
				stream.ErrIllegalState, e.ScheduleName, e.DeviceTime)
		}
		if err := h.mergeCommonFields(e); err != nil {
			return nil, err
		}
		h.snapshot.BasalSchedules[e.ScheduleName] = e.Schedule

	default:
		return nil, fmt.Errorf("%w: unknown settings fragment %q at %s", stream.ErrIllegalState, e.SubType, e.DeviceTime)
	}

	return nil, nil
}

func (h *snapshotHandler) Completed() ([]models.Event, error) {
	if h.complete() {
		return []models.Event{h.snapshot}, nil
	}
	return nil, fmt.Errorf("%w: stream ended while assembling settings at %s", stream.ErrIllegalState, h.snapshot.DeviceTime)
}

// marrySettings walks the backward-sorted settings stream and stitches the
// fragments into a timeline of full snapshots. Lifecycle-end fragments
// quietly update the working snapshot; a lifecycle-start fragment marks a
// transition point, emitting the snapshot dated at the transition and then
// rolling the working state back past it. Fragments that disagree with the
// assembled state are reconciled and annotated rather than rejected, since
// the gap reflects data the device never reported.
type marryStage struct {
	startTime models.DeviceTime
	curr      *models.Event
	emitted   bool
}

func newMarryStage(startTime models.DeviceTime) *marryStage {
	return &marryStage{startTime: startTime}
}

func (m *marryStage) emitSnapshot(at models.DeviceTime) models.Event {
	m.curr.DeviceTime = at
	out := *m.curr
	out.Lifecycle = ""
	m.emitted = true
	return out
}

func (m *marryStage) Next(e models.Event) ([]models.Event, error) {
	switch e.Type {
	case models.TypeSettings:
		if m.curr == nil && e.Lifecycle == models.LifecycleEnd {
			m.curr = &e
			return nil, nil
		}
		return nil, fmt.Errorf("%w: unexpected settings event at %s, lifecycle %q",
			stream.ErrIllegalState, e.DeviceTime, e.Lifecycle)

	case models.TypeSettingsPart:
		// Handled below.

	default:
		return []models.Event{e}, nil
	}

	if e.Lifecycle != models.LifecycleStart && e.Lifecycle != models.LifecycleEnd {
		return nil, fmt.Errorf("%w: unexpected lifecycle %q on %s fragment at %s",
			stream.ErrIllegalState, e.Lifecycle, e.SubType, e.DeviceTime)
	}
	if m.curr == nil {
		return nil, fmt.Errorf("%w: settings fragment at %s before any assembled snapshot",
			stream.ErrIllegalState, e.DeviceTime)
	}

	switch e.SubType {
	case subTypeActiveSchedule:
		return m.onActiveSchedule(e)
	case subTypeBolusWizard:
		return m.onBolusWizard(e)
	case subTypeBasalSchedule:
		return m.onBasalSchedule(e)
	default:
		return nil, fmt.Errorf("%w: unknown settings fragment %q at %s", stream.ErrIllegalState, e.SubType, e.DeviceTime)
	}
}

func (m *marryStage) onActiveSchedule(e models.Event) ([]models.Event, error) {
	if e.Lifecycle == models.LifecycleEnd {
		if m.curr.ActiveBasalSchedule == "" {
			m.curr.ActiveBasalSchedule = e.ScheduleName
			return nil, nil
		}
		if m.curr.ActiveBasalSchedule != e.ScheduleName {
			return nil, fmt.Errorf("%w: active schedules don't match, %q != %q at %s",
				stream.ErrIllegalState, m.curr.ActiveBasalSchedule, e.ScheduleName, e.DeviceTime)
		}
		return nil, nil
	}

	if m.curr.ActiveBasalSchedule != e.ScheduleName {
		m.curr.ActiveBasalSchedule = e.ScheduleName
		m.curr.Annotate("settings-mismatch/activeSchedule")
	}
	out := m.emitSnapshot(e.DeviceTime)

	next := m.curr.CloneSchedules()
	next.ActiveBasalSchedule = e.PreviousSchedule
	m.curr = &next
	return []models.Event{out}, nil
}

func (m *marryStage) onBolusWizard(e models.Event) ([]models.Event, error) {
	apply := func() {
		m.curr.CarbRatio = e.CarbRatio
		m.curr.InsulinSensitivities = e.InsulinSensitivities
		m.curr.BGTargets = e.BGTargets
		m.curr.Units = e.Units
	}

	if e.Lifecycle == models.LifecycleEnd {
		apply()
		return nil, nil
	}

	upToDate := models.CarbRatiosEqual(m.curr.CarbRatio, e.CarbRatio) &&
		models.SensitivitiesEqual(m.curr.InsulinSensitivities, e.InsulinSensitivities) &&
		models.BGTargetsEqual(m.curr.BGTargets, e.BGTargets) &&
		models.UnitsEqual(m.curr.Units, e.Units)
	if !upToDate {
		apply()
		m.curr.Annotate("settings-mismatch/wizard")
	}
	out := m.emitSnapshot(e.DeviceTime)
	next := m.curr.CloneSchedules()
	m.curr = &next
	return []models.Event{out}, nil
}

func (m *marryStage) onBasalSchedule(e models.Event) ([]models.Event, error) {
	if e.Lifecycle == models.LifecycleEnd {
		clone := m.curr.CloneSchedules()
		if clone.BasalSchedules == nil {
			clone.BasalSchedules = map[string][]models.ScheduleEntry{}
		}
		clone.BasalSchedules[e.ScheduleName] = e.Schedule
		m.curr = &clone
		return nil, nil
	}

	if !models.ScheduleEntriesEqual(m.curr.BasalSchedules[e.ScheduleName], e.Schedule) {
		clone := m.curr.CloneSchedules()
		if clone.BasalSchedules == nil {
			clone.BasalSchedules = map[string][]models.ScheduleEntry{}
		}
		clone.BasalSchedules[e.ScheduleName] = e.Schedule
		m.curr = &clone
		m.curr.Annotate("settings-mismatch/basal")
	}
	out := m.emitSnapshot(e.DeviceTime)

	next := m.curr.CloneSchedules()
	next.BasalSchedules[e.ScheduleName] = []models.ScheduleEntry{}
	m.curr = &next
	return []models.Event{out}, nil
}

func (m *marryStage) Flush() ([]models.Event, error) {
	if m.emitted || m.curr == nil {
		return nil, nil
	}
	// The settings never changed anywhere in the stream, so the snapshot
	// assembled at upload time held for the whole range. Anything before an
	// actual transition cannot be reconstructed, which is why this only
	// happens when no transition was ever seen.
	out := *m.curr
	out.Lifecycle = ""
	out.DeviceTime = m.startTime
	return []models.Event{out}, nil
}

// deviceFanOut routes settings fragments into one sub-pipeline per device,
// so one device's join state never bleeds into another's. Everything else
// passes through.
type deviceFanOut struct {
	build func() *stream.Pipeline
	flows map[string]*stream.Pipeline
	order []string
}

func newDeviceFanOut(build func() *stream.Pipeline) *deviceFanOut {
	return &deviceFanOut{build: build, flows: map[string]*stream.Pipeline{}}
}

func (d *deviceFanOut) Next(e models.Event) ([]models.Event, error) {
	if !isSettingsPart(e) {
		return []models.Event{e}, nil
	}
	flow, ok := d.flows[e.DeviceID]
	if !ok {
		flow = d.build()
		d.flows[e.DeviceID] = flow
		d.order = append(d.order, e.DeviceID)
	}
	return flow.Next(e)
}

func (d *deviceFanOut) Flush() ([]models.Event, error) {
	var out []models.Event
	for _, device := range d.order {
		trailing, err := d.flows[device].Flush()
		if err != nil {
			return nil, err
		}
		out = append(out, trailing...)
	}
	return out, nil
}

// JoinSettings assembles fragmented settings-change notifications into full
// point-in-time snapshots. The fragments join bottom-up: list items into
// lists, lists into wizard settings, wizard settings into their lifecycle
// windows; then the stream is re-sorted newest first and walked backwards,
// per device, to marry consecutive snapshots into a timeline.
func JoinSettings(startTime models.DeviceTime) stream.Stage {
	return stream.NewPipeline(
		stream.AssertSortedByUploadIDAndSeqNum(isSettingsPart),
		stream.SelfJoin(
			listJoiner(wizardSetupPhase(phaseCarbSetup), phaseCarbRatio, assembleCarbRatios),
			listJoiner(wizardSetupPhase(phaseSensitivitySetup), phaseSensitivity, assembleSensitivities),
			listJoiner(wizardSetupPhase(phaseBGTargetSetup), phaseBGTarget, assembleBGTargets),
		),
		stream.SelfJoin(wizardSettingsBuilder),
		stream.SelfJoin(lifecycleAnnotator),
		stream.SelfJoin(listJoiner(
			func(e models.Event) bool {
				return isSettingsPart(e) && e.SubType == subTypeBasalScheduleConfig && e.Phase == phaseBasalScheduleSetup
			},
			phaseBasalScheduleItem,
			assembleBasalSchedule,
		)),
		stream.Sort(stream.Chain(stream.Descending(stream.ByDeviceTime), byLifecycle)),
		newDeviceFanOut(func() *stream.Pipeline {
			return stream.NewPipeline(
				stream.SelfJoin(firstCompleteSnapshot()),
				newMarryStage(startTime),
			)
		}),
	)
}
