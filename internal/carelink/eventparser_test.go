package carelink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diastream/diastream-cli/internal/models"
	"github.com/diastream/diastream-cli/internal/parsing"
)

func record(rawType string, extra map[string]string) parsing.Record {
	rec := parsing.Record{
		"Raw-Type":        rawType,
		"deviceTime":      "2014-03-10T09:00:00",
		"Raw-Device Type": "Paradigm 522",
	}
	for k, v := range extra {
		rec[k] = v
	}
	return rec
}

func TestParseBolusNormalRow(t *testing.T) {
	e, err := NewEventRegistry().Parse(record("BolusNormal", map[string]string{
		"Bolus Type":                 "Normal",
		"Bolus Volume Delivered (U)": "1.3",
		"Bolus Volume Selected (U)":  "1.5",
		"Raw-Upload ID":              "upload-1",
		"Raw-Seq Num":                "23",
	}))
	require.NoError(t, err)
	require.NotNil(t, e)

	assert.Equal(t, models.TypeBolus, e.Type)
	assert.Equal(t, models.BolusNormal, e.SubType)
	assert.Equal(t, 1.3, *e.Normal)
	assert.Equal(t, 1.5, *e.ExpectedNormal)
	assert.Equal(t, "upload-1", e.UploadID)
	assert.Equal(t, int64(23), *e.UploadSeqNum)
	assert.Equal(t, "2014-03-10T09:00:00", e.DeviceTime.String())
}

func TestParseBasalProfileStartRow(t *testing.T) {
	e, err := NewEventRegistry().Parse(record("BasalProfileStart", map[string]string{
		"Raw-Values": "PATTERN_NAME=standard, RATE=0.8, START_TIME=21600000",
	}))
	require.NoError(t, err)
	require.NotNil(t, e)

	assert.Equal(t, models.TypeBasal, e.Type)
	assert.Equal(t, models.DeliveryScheduled, e.DeliveryType)
	assert.Equal(t, "standard", e.ScheduleName)
	assert.Equal(t, 0.8, *e.Rate)
	assert.Equal(t, int64(21600000), *e.StartOffset)
}

func TestParseTempBasalPercentScalesToFraction(t *testing.T) {
	e, err := NewEventRegistry().Parse(record("ChangeTempBasalPercent", map[string]string{
		"Raw-Values": "PERCENT_OF_RATE=150, DURATION=1800000",
	}))
	require.NoError(t, err)
	require.NotNil(t, e)

	assert.Equal(t, models.DeliveryTemp, e.DeliveryType)
	assert.Equal(t, 1.5, *e.Percent)
	assert.Equal(t, int64(1800000), *e.Duration)
}

func TestParseSuspendEnableNormalizesStatuses(t *testing.T) {
	e, err := NewEventRegistry().Parse(record("ChangeSuspendEnable", map[string]string{
		"Raw-Values": "ENABLE=USER_SUSPEND, PRE_ENABLE=NORMAL_PUMPING",
	}))
	require.NoError(t, err)
	require.NotNil(t, e)

	assert.Equal(t, models.TypeDeviceMeta, e.Type)
	assert.Equal(t, "status", e.SubType)
	assert.Equal(t, models.StatusSuspended, e.Status)
	assert.Equal(t, "manual", e.Reason)
	assert.Equal(t, models.StatusResumed, e.PreviousStatus)
}

func TestParseSuspendEnableNullPreviousStatus(t *testing.T) {
	e, err := NewEventRegistry().Parse(record("ChangeSuspendEnable", map[string]string{
		"Raw-Values": "ENABLE=low_suspend_mode_1, PRE_ENABLE=null",
	}))
	require.NoError(t, err)
	require.NotNil(t, e)

	assert.Equal(t, "low_glucose", e.Reason)
	assert.Empty(t, e.PreviousStatus)
}

func TestParseSuspendEnableUnknownStatusIsFatal(t *testing.T) {
	_, err := NewEventRegistry().Parse(record("ChangeSuspendEnable", map[string]string{
		"Raw-Values": "ENABLE=half_pumping",
	}))
	assert.Error(t, err)
}

func TestParseWizardEstimateRow(t *testing.T) {
	e, err := NewEventRegistry().Parse(record("BolusWizardBolusEstimate", map[string]string{
		"Raw-Upload ID":                   "upload-1",
		"Raw-Seq Num":                     "24",
		"Raw-Values":                      "BG_INPUT=135, CARB_INPUT=45, BG_UNITS=mg dl",
		"BWZ Target High BG (mg/dL)":      "120",
		"BWZ Target Low BG (mg/dL)":       "80",
		"BWZ Carb Ratio (grams)":          "12",
		"BWZ Active Insulin (U)":          "0.5",
		"BWZ Insulin Sensitivity (mg/dL)": "50",
		"BWZ Food Estimate (U)":           "3.75",
		"BWZ Correction Estimate (U)":     "0.3",
	}))
	require.NoError(t, err)
	require.NotNil(t, e)

	assert.Equal(t, models.TypeWizard, e.Type)
	assert.Equal(t, 135.0, *e.BGInput)
	assert.Equal(t, 45.0, *e.CarbInput)
	require.NotNil(t, e.BGTarget)
	assert.Equal(t, 80.0, e.BGTarget.Low)
	assert.Equal(t, 120.0, e.BGTarget.High)
	require.NotNil(t, e.Recommended)
	assert.Equal(t, 3.75, e.Recommended.Carb)
	assert.Equal(t, 0.3, e.Recommended.Correction)
	require.NotNil(t, e.Units)
	assert.Equal(t, "mg/dL", e.Units.BG)
}

func TestParseBasalScheduleFragments(t *testing.T) {
	setup, err := NewEventRegistry().Parse(record("CurrentBasalProfilePattern", map[string]string{
		"Raw-Upload ID": "upload-1",
		"Raw-Seq Num":   "30",
		"Raw-ID":        "cfg-77",
		"Raw-Values":    "NUM_PROFILES=2, PATTERN_NAME=pattern a",
	}))
	require.NoError(t, err)
	require.NotNil(t, setup)

	assert.Equal(t, models.TypeSettingsPart, setup.Type)
	assert.Equal(t, subTypeBasalScheduleConfig, setup.SubType)
	assert.Equal(t, phaseBasalScheduleSetup, setup.Phase)
	assert.Equal(t, models.LifecycleEnd, setup.Lifecycle)
	assert.Equal(t, "cfg-77", setup.EventID)
	assert.Equal(t, 2, *setup.Size)
	assert.Equal(t, "pattern a", setup.ScheduleName)

	item, err := NewEventRegistry().Parse(record("CurrentBasalProfile", map[string]string{
		"Raw-Upload ID": "upload-1",
		"Raw-Seq Num":   "31",
		"Raw-Values":    "PATTERN_DATUM=cfg-77, PROFILE_INDEX=0, RATE=0.8, START_TIME=0",
	}))
	require.NoError(t, err)
	require.NotNil(t, item)

	assert.Equal(t, phaseBasalScheduleItem, item.Phase)
	assert.Equal(t, "cfg-77", item.SetupID)
	assert.Equal(t, 0, *item.Index)
	require.NotNil(t, item.ScheduleItem)
	assert.Equal(t, models.ScheduleEntry{Rate: 0.8, Start: 0}, *item.ScheduleItem)
}

func TestParseListSetupNormalizesUnits(t *testing.T) {
	e, err := NewEventRegistry().Parse(record("CurrentInsulinSensitivityPattern", map[string]string{
		"Raw-Upload ID": "upload-1",
		"Raw-Seq Num":   "40",
		"Raw-ID":        "cfg-9",
		"Raw-Values":    "SIZE=1, ORIGINAL_UNITS=mg dl",
	}))
	require.NoError(t, err)
	require.NotNil(t, e)

	assert.Equal(t, phaseSensitivitySetup, e.Phase)
	require.NotNil(t, e.Units)
	assert.Equal(t, "mg/dL", e.Units.BG)
}

func TestParseSkipsUnknownRowTypes(t *testing.T) {
	e, err := NewEventRegistry().Parse(record("AlarmPump", nil))
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestParseMissingRequiredFieldFails(t *testing.T) {
	rec := record("BolusNormal", map[string]string{
		"Bolus Type":    "Normal",
		"Raw-Upload ID": "upload-1",
		"Raw-Seq Num":   "23",
	})
	// No delivered volume.
	_, err := NewEventRegistry().Parse(rec)
	assert.ErrorIs(t, err, parsing.ErrMissingField)
}
