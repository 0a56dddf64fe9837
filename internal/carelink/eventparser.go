package carelink

import (
	"fmt"
	"strings"

	"github.com/diastream/diastream-cli/internal/models"
	"github.com/diastream/diastream-cli/internal/parsing"
	"github.com/diastream/diastream-cli/internal/stream"
)

// Column names shared across row types.
const (
	colDeviceTime = "deviceTime"
	colDeviceType = "Raw-Device Type"
	colUploadID   = "Raw-Upload ID"
	colSeqNum     = "Raw-Seq Num"
	colRawID      = "Raw-ID"
	colRawValues  = "Raw-Values"
)

// normalizeBgUnits fixes the export's occasional unit spelling.
func normalizeBgUnits(units string) string {
	if units == "mg dl" {
		return "mg/dL"
	}
	return units
}

// row wraps one record plus its unpacked Raw-Values column with sticky-error
// accessors, so builders read like the extraction tables they encode.
type row struct {
	rec parsing.Record
	raw parsing.Record
	err error
}

func newRow(rec parsing.Record) *row {
	return &row{rec: rec, raw: parsing.ParseRawValues(rec.Optional(colRawValues))}
}

func (r *row) time(name string) models.DeviceTime {
	if r.err != nil {
		return models.DeviceTime{}
	}
	v, err := r.rec.Time(name)
	if err != nil {
		r.err = err
	}
	return v
}

func (r *row) str(name string) string {
	if r.err != nil {
		return ""
	}
	v, err := r.rec.String(name)
	if err != nil {
		r.err = err
	}
	return v
}

func (r *row) lower(name string) string {
	if r.err != nil {
		return ""
	}
	v, err := r.rec.Lower(name)
	if err != nil {
		r.err = err
	}
	return v
}

func (r *row) num(name string) *float64 {
	if r.err != nil {
		return nil
	}
	v, err := r.rec.Number(name)
	if err != nil {
		r.err = err
		return nil
	}
	return models.Float(v)
}

// optNum reads a numeric column the export leaves blank when the pump did
// not record the value.
func (r *row) optNum(name string) *float64 {
	if r.err != nil || !r.rec.Has(name) {
		return nil
	}
	return r.num(name)
}

// optFloat is optNum flattened for struct fields, zero when blank.
func (r *row) optFloat(name string) float64 {
	if v := r.optNum(name); v != nil {
		return *v
	}
	return 0
}

func (r *row) integer(name string) int64 {
	if r.err != nil {
		return 0
	}
	v, err := r.rec.Int(name)
	if err != nil {
		r.err = err
	}
	return v
}

func (r *row) rawStr(name string) string {
	if r.err != nil {
		return ""
	}
	v, err := r.raw.String(name)
	if err != nil {
		r.err = err
	}
	return v
}

func (r *row) rawOpt(name string) string {
	return r.raw.Optional(name)
}

func (r *row) rawLower(name string) string {
	if r.err != nil {
		return ""
	}
	v, err := r.raw.Lower(name)
	if err != nil {
		r.err = err
	}
	return v
}

func (r *row) rawNum(name string) *float64 {
	if r.err != nil {
		return nil
	}
	v, err := r.raw.Number(name)
	if err != nil {
		r.err = err
		return nil
	}
	return models.Float(v)
}

func (r *row) rawFloat(name string) float64 {
	if v := r.rawNum(name); v != nil {
		return *v
	}
	return 0
}

func (r *row) rawInt(name string) int64 {
	if r.err != nil {
		return 0
	}
	v, err := r.raw.Int(name)
	if err != nil {
		r.err = err
	}
	return v
}

// base starts an event with the identity every carelink row carries.
func (r *row) base(typ string) models.Event {
	return models.Event{
		Type:       typ,
		DeviceTime: r.time(colDeviceTime),
		DeviceID:   r.str(colDeviceType),
	}
}

// upload stamps the coordinates the join stages key on.
func (r *row) upload(e *models.Event) {
	e.UploadID = r.str(colUploadID)
	e.UploadSeqNum = models.Int64(r.integer(colSeqNum))
}

// settingsPart starts a settings fragment with upload coordinates attached.
func (r *row) settingsPart(subType, phase string) models.Event {
	e := r.base(models.TypeSettingsPart)
	e.SubType = subType
	e.Phase = phase
	r.upload(&e)
	return e
}

// convertStatus maps the pump's raw suspend/resume enum to the normalized
// status and reason. An unrecognized value is fatal; silently passing it
// through would corrupt the suspend pairing downstream.
func convertStatus(value string) (status, reason string, err error) {
	switch value {
	case "", "null":
		return "", "", nil
	case "user_suspend":
		return models.StatusSuspended, "manual", nil
	case "low_suspend_mode_1":
		return models.StatusSuspended, "low_glucose", nil
	case "alarm_suspend", "low_suspend_no_response":
		return models.StatusSuspended, "alarm", nil
	case "low_suspend_user_selected":
		return models.StatusSuspended, "unknown", nil
	case "normal_pumping":
		return models.StatusResumed, "manual", nil
	case "user_restart_basal":
		return models.StatusResumed, "user_override", nil
	case "auto_resume_complete", "auto_resume_reduced":
		return models.StatusResumed, "automatic", nil
	default:
		return "", "", fmt.Errorf("%w: unknown status[%s]", stream.ErrIllegalState, value)
	}
}

func buildBasalProfileStart(rec parsing.Record) (models.Event, error) {
	r := newRow(rec)
	e := r.base(models.TypeBasal)
	e.DeliveryType = models.DeliveryScheduled
	e.ScheduleName = r.rawStr("PATTERN_NAME")
	e.Rate = r.rawNum("RATE")
	e.StartOffset = models.Int64(r.rawInt("START_TIME"))
	return e, r.err
}

func buildBolusNormal(rec parsing.Record) (models.Event, error) {
	r := newRow(rec)
	e := r.base(models.TypeBolus)
	e.SubType = r.lower("Bolus Type")
	e.Normal = r.num("Bolus Volume Delivered (U)")
	e.ExpectedNormal = r.optNum("Bolus Volume Selected (U)")
	r.upload(&e)
	return e, r.err
}

func buildBolusSquare(rec parsing.Record) (models.Event, error) {
	r := newRow(rec)
	e := r.base(models.TypeBolus)
	e.SubType = r.lower("Bolus Type")
	e.Extended = r.num("Bolus Volume Delivered (U)")
	e.ExpectedExtended = r.optNum("Bolus Volume Selected (U)")
	e.Duration = models.Int64(r.rawInt("DURATION"))
	r.upload(&e)
	return e, r.err
}

func buildWizardEstimate(rec parsing.Record) (models.Event, error) {
	r := newRow(rec)
	e := r.base(models.TypeWizard)
	r.upload(&e)
	e.BGInput = r.rawNum("BG_INPUT")
	e.BGTarget = &models.BGRange{
		Low:  r.optFloat("BWZ Target Low BG (mg/dL)"),
		High: r.optFloat("BWZ Target High BG (mg/dL)"),
	}
	e.CarbInput = r.rawNum("CARB_INPUT")
	e.InsulinCarbRatio = r.optNum("BWZ Carb Ratio (grams)")
	e.InsulinOnBoard = r.optNum("BWZ Active Insulin (U)")
	e.InsulinSensitivity = r.optNum("BWZ Insulin Sensitivity (mg/dL)")
	e.Recommended = &models.Recommended{
		Carb:       r.optFloat("BWZ Food Estimate (U)"),
		Correction: r.optFloat("BWZ Correction Estimate (U)"),
	}
	e.Units = &models.Units{BG: normalizeBgUnits(r.rawOpt("BG_UNITS"))}
	return e, r.err
}

func buildCalibrationBG(rec parsing.Record) (models.Event, error) {
	r := newRow(rec)
	e := r.base(models.TypeSmbg)
	e.Value = r.num("Sensor Calibration BG (mg/dL)")
	e.Units = &models.Units{BG: "mg/dL"}
	return e, r.err
}

func buildSensorGlucose(rec parsing.Record) (models.Event, error) {
	r := newRow(rec)
	e := r.base(models.TypeCbg)
	e.Value = r.num("Sensor Glucose (mg/dL)")
	e.Units = &models.Units{BG: "mg/dL"}
	return e, r.err
}

func buildActiveSchedule(lifecycle string, withPrevious bool) parsing.Builder {
	return func(rec parsing.Record) (models.Event, error) {
		r := newRow(rec)
		e := r.settingsPart(subTypeActiveSchedule, "")
		e.Lifecycle = lifecycle
		e.ScheduleName = r.rawStr("PATTERN_NAME")
		if withPrevious {
			e.PreviousSchedule = r.rawOpt("OLD_PATTERN_NAME")
		}
		return e, r.err
	}
}

func buildBasalScheduleSetup(lifecycle string) parsing.Builder {
	return func(rec parsing.Record) (models.Event, error) {
		r := newRow(rec)
		e := r.settingsPart(subTypeBasalScheduleConfig, phaseBasalScheduleSetup)
		e.Lifecycle = lifecycle
		e.EventID = r.str(colRawID)
		e.Size = models.Int(int(r.rawInt("NUM_PROFILES")))
		e.ScheduleName = r.rawStr("PATTERN_NAME")
		return e, r.err
	}
}

func buildBasalScheduleItem(rec parsing.Record) (models.Event, error) {
	r := newRow(rec)
	e := r.settingsPart(subTypeBasalScheduleConfig, phaseBasalScheduleItem)
	e.SetupID = r.rawStr("PATTERN_DATUM")
	e.Index = models.Int(int(r.rawInt("PROFILE_INDEX")))
	e.ScheduleItem = &models.ScheduleEntry{
		Rate:  r.rawFloat("RATE"),
		Start: r.rawInt("START_TIME"),
	}
	return e, r.err
}

func buildWizardSetupStart(rec parsing.Record) (models.Event, error) {
	r := newRow(rec)
	e := r.settingsPart(subTypeBolusWizardSetup, phaseStart)
	e.EventID = r.str(colRawID)
	e.Units = &models.Units{
		Carb: r.rawOpt("CARB_UNITS"),
		BG:   normalizeBgUnits(r.rawOpt("BG_UNITS")),
	}
	return e, r.err
}

func buildWizardSetupCurrent(rec parsing.Record) (models.Event, error) {
	r := newRow(rec)
	e := r.settingsPart(subTypeBolusWizardSetup, phaseStart)
	e.Lifecycle = models.LifecycleEnd
	e.Units = &models.Units{}
	return e, r.err
}

func buildWizardTransition(rec parsing.Record) (models.Event, error) {
	r := newRow(rec)
	e := r.settingsPart(subTypeBolusWizardSetup, phaseComplete)
	e.NextConfigID = r.rawStr("NEW_CONFIG_DATUM")
	e.PrevConfigID = r.rawStr("OLD_CONFIG_DATUM")
	return e, r.err
}

func buildListSetup(phase string, withUnits bool) parsing.Builder {
	return func(rec parsing.Record) (models.Event, error) {
		r := newRow(rec)
		e := r.settingsPart(subTypeBolusWizardSetup, phase)
		e.EventID = r.str(colRawID)
		e.Size = models.Int(int(r.rawInt("SIZE")))
		if withUnits {
			e.Units = &models.Units{BG: normalizeBgUnits(r.rawOpt("ORIGINAL_UNITS"))}
		}
		return e, r.err
	}
}

func buildCarbRatioItem(rec parsing.Record) (models.Event, error) {
	r := newRow(rec)
	e := r.settingsPart(subTypeBolusWizardSetup, phaseCarbRatio)
	e.SetupID = r.rawStr("PATTERN_DATUM")
	e.Index = models.Int(int(r.rawInt("INDEX")))
	e.CarbRatioItem = &models.CarbRatioEntry{
		Amount: r.rawFloat("AMOUNT"),
		Start:  r.rawInt("START_TIME"),
		Units:  r.rawOpt("UNITS"),
	}
	return e, r.err
}

func buildSensitivityItem(rec parsing.Record) (models.Event, error) {
	r := newRow(rec)
	e := r.settingsPart(subTypeBolusWizardSetup, phaseSensitivity)
	e.SetupID = r.rawStr("PATTERN_DATUM")
	e.Index = models.Int(int(r.rawInt("INDEX")))
	e.SensitivityItem = &models.SensitivityEntry{
		Amount: r.rawFloat("AMOUNT"),
		Start:  r.rawInt("START_TIME"),
	}
	return e, r.err
}

func buildBGTargetItem(rec parsing.Record) (models.Event, error) {
	r := newRow(rec)
	e := r.settingsPart(subTypeBolusWizardSetup, phaseBGTarget)
	e.SetupID = r.rawStr("PATTERN_DATUM")
	e.Index = models.Int(int(r.rawInt("INDEX")))
	e.BGTargetItem = &models.BGTargetEntry{
		Low:   r.rawFloat("AMOUNT_LOW"),
		High:  r.rawFloat("AMOUNT_HIGH"),
		Start: r.rawInt("START_TIME"),
	}
	return e, r.err
}

func buildSuspendStatus(rec parsing.Record) (models.Event, error) {
	r := newRow(rec)
	e := r.base(models.TypeDeviceMeta)
	e.SubType = "status"
	if r.err != nil {
		return e, r.err
	}

	status, reason, err := convertStatus(r.rawLower("ENABLE"))
	if err != nil {
		return e, err
	}
	e.Status = status
	e.Reason = reason

	previous, _, err := convertStatus(strings.ToLower(r.rawOpt("PRE_ENABLE")))
	if err != nil {
		return e, err
	}
	e.PreviousStatus = previous
	return e, r.err
}

func buildTempBasal(rec parsing.Record) (models.Event, error) {
	r := newRow(rec)
	e := r.base(models.TypeBasal)
	e.DeliveryType = models.DeliveryTemp
	e.Rate = r.rawNum("RATE")
	e.Duration = models.Int64(r.rawInt("DURATION"))
	return e, r.err
}

func buildTempBasalPercent(rec parsing.Record) (models.Event, error) {
	r := newRow(rec)
	e := r.base(models.TypeBasal)
	e.DeliveryType = models.DeliveryTemp
	e.Percent = models.Float(r.rawFloat("PERCENT_OF_RATE") / 100.0)
	e.Duration = models.Int64(r.rawInt("DURATION"))
	return e, r.err
}

// NewEventRegistry maps the export's Raw-Type discriminator to event
// builders. Row types not registered here are skipped by the reader;
// exports carry far more row types than the normalized model covers.
func NewEventRegistry() *parsing.Registry {
	return parsing.NewRegistry("Raw-Type").
		When("BasalProfileStart", buildBasalProfileStart).
		When("BolusNormal", buildBolusNormal).
		When("BolusSquare", buildBolusSquare).
		When("BolusWizardBolusEstimate", buildWizardEstimate).
		When("CalBGForPH", buildCalibrationBG).
		When("ChangeActiveBasalProfilePattern", buildActiveSchedule(models.LifecycleStart, true)).
		When("ChangeBasalProfilePattern", buildBasalScheduleSetup(models.LifecycleStart)).
		When("ChangeBasalProfile", buildBasalScheduleItem).
		When("ChangeBasalProfilePatternPre", buildBasalScheduleSetup(models.LifecycleEnd)).
		When("ChangeBasalProfilePre", buildBasalScheduleItem).
		When("ChangeBGTargetRangePattern", buildListSetup(phaseBGTargetSetup, true)).
		When("ChangeBGTargetRange", buildBGTargetItem).
		When("ChangeBolusWizardSetupConfig", buildWizardSetupStart).
		When("ChangeBolusWizardSetup", buildWizardTransition).
		When("ChangeCarbRatioPattern", buildListSetup(phaseCarbSetup, false)).
		When("ChangeCarbRatio", buildCarbRatioItem).
		When("ChangeInsulinSensitivityPattern", buildListSetup(phaseSensitivitySetup, true)).
		When("ChangeInsulinSensitivity", buildSensitivityItem).
		When("ChangeSuspendEnable", buildSuspendStatus).
		When("ChangeTempBasal", buildTempBasal).
		When("ChangeTempBasalPercent", buildTempBasalPercent).
		When("CurrentActiveBasalProfilePattern", buildActiveSchedule(models.LifecycleEnd, false)).
		When("CurrentBasalProfilePattern", buildBasalScheduleSetup(models.LifecycleEnd)).
		When("CurrentBasalProfile", buildBasalScheduleItem).
		When("CurrentBGTargetRangePattern", buildListSetup(phaseBGTargetSetup, true)).
		When("CurrentBGTargetRange", buildBGTargetItem).
		When("CurrentBolusWizardSetupStatus", buildWizardSetupCurrent).
		When("CurrentCarbRatioPattern", buildListSetup(phaseCarbSetup, false)).
		When("CurrentCarbRatio", buildCarbRatioItem).
		When("CurrentInsulinSensitivityPattern", buildListSetup(phaseSensitivitySetup, true)).
		When("CurrentInsulinSensitivity", buildSensitivityItem).
		When("GlucoseSensorData", buildSensorGlucose).
		When("GlucoseSensorDataHigh", buildSensorGlucose).
		When("GlucoseSensorDataLow", buildSensorGlucose)
}
