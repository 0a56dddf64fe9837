package diasend

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diastream/diastream-cli/internal/models"
	"github.com/diastream/diastream-cli/internal/parsing"
)

func TestParseRowBasalRateChange(t *testing.T) {
	e, err := ParseRow(parsing.Record{
		colSheet:      sheetInsulinUse,
		colDeviceTime: "2014-03-01T06:00:00",
		colBasalRate:  "1.1",
	})
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, models.TypeBasal, e.Type)
	assert.Equal(t, models.DeliveryScheduled, e.DeliveryType)
	assert.Equal(t, "unknown", e.ScheduleName)
	assert.Equal(t, 1.1, *e.Rate)
}

func TestParseRowCarbsBecomeWizard(t *testing.T) {
	e, err := ParseRow(parsing.Record{
		colSheet:      sheetInsulinUse,
		colDeviceTime: "2014-03-01T09:00:00",
		colCarbs:      "30",
	})
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, models.TypeWizard, e.Type)
	assert.Equal(t, 30.0, *e.CarbInput)
	assert.Equal(t, "grams", e.Units.Carb)
}

func TestParseRowCombinationBolus(t *testing.T) {
	e, err := ParseRow(parsing.Record{
		colSheet:       sheetInsulinUse,
		colDeviceTime:  "2014-03-01T12:00:00",
		colBolusType:   "Combination",
		colBolusVolume: "2",
		colImmediate:   "0.5",
		colExtended:    "1.5",
		colDurationMin: "90",
	})
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, models.BolusSquare, e.SubType)
	assert.Equal(t, 2.0, *e.Value)
	assert.Equal(t, 0.5, *e.Immediate)
	assert.Equal(t, 1.5, *e.Extended)
	assert.Equal(t, int64(5400000), *e.Duration)
	assert.True(t, e.HasAnnotation(extendedBolus))
}

func TestParseRowCombinationBolusKeepsFractionalMinutes(t *testing.T) {
	e, err := ParseRow(parsing.Record{
		colSheet:       sheetInsulinUse,
		colDeviceTime:  "2014-03-01T12:00:00",
		colBolusType:   "Combination",
		colBolusVolume: "2",
		colDurationMin: "90.5",
	})
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, int64(5430000), *e.Duration)
}

func TestParseRowGlucoseNormalizesUnits(t *testing.T) {
	e, err := ParseRow(parsing.Record{
		colSheet:      sheetGlucose,
		colDeviceTime: "2014-03-01T10:00:00",
		colValue:      "5.5",
		colUnits:      "mmol/l",
	})
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, models.TypeSmbg, e.Type)
	assert.Equal(t, "mmol/L", e.Units.BG)
}

func TestParseRowSkipsUnmodeledRows(t *testing.T) {
	e, err := ParseRow(parsing.Record{
		colSheet:      sheetInsulinUse,
		colDeviceTime: "2014-03-01T10:00:00",
	})
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestNormalizeWholeExport(t *testing.T) {
	export, err := ReadExport(strings.NewReader(sampleExport))
	require.NoError(t, err)

	out, err := Normalize(Config{}, export)
	require.NoError(t, err)
	require.Len(t, out, 9)

	for _, e := range out {
		assert.Equal(t, "diasend", e.Source)
		assert.Equal(t, "ABC123", e.DeviceID)
		assert.NotEmpty(t, e.ID)
	}

	snap := out[0]
	assert.Equal(t, models.TypeSettings, snap.Type)
	assert.Equal(t, "2014-03-01T00:00:00", snap.DeviceTime.String())
	assert.Equal(t, "Program 1", snap.ActiveBasalSchedule)

	first := out[1]
	assert.Equal(t, models.TypeBasal, first.Type)
	assert.Equal(t, models.DeliveryScheduled, first.DeliveryType)
	assert.Equal(t, "Program 1", first.ScheduleName)
	assert.Equal(t, 0.8, *first.Rate)
	assert.Equal(t, int64(21600000), *first.Duration)

	second := out[2]
	assert.Equal(t, "2014-03-01T06:00:00", second.DeviceTime.String())
	assert.Equal(t, 1.1, *second.Rate)
	assert.Equal(t, int64(64800000), *second.Duration)

	assert.Equal(t, models.TypeBolus, out[3].Type)
	assert.Equal(t, models.TypeWizard, out[4].Type)
	assert.Equal(t, models.TypeSmbg, out[5].Type)
	assert.Equal(t, models.TypeCbg, out[6].Type)
	assert.Equal(t, models.BolusSquare, out[7].SubType)
	assert.Equal(t, models.TypeSmbg, out[8].Type)
}
