package diasend

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diastream/diastream-cli/internal/models"
)

const sampleExport = `Name and glucose
Jane Doe,
,01/03/2014 to 15/03/2014
Time,mmol/L
01/03/2014 10:00,5.5
02/03/2014 08:30,7.2
CGM
Time,mmol/L
01/03/2014 10:05,6.1
Insulin use and carbs
Time,Basal Amount (U/h),Bolus Type,Bolus Volume (U),Immediate Volume (U),Extended Volume (U),Duration (min),Carbs(g)
01/03/2014 00:00,0.8,,,,,,
01/03/2014 06:02,1.1,,,,,,
01/03/2014 09:00,,Normal,1.5,,,,
01/03/2014 09:00,,,,,,,30
01/03/2014 12:00,,Combination,2,0.5,1.5,90,
Insulin pump settings
Insulin pump settings for Serial number:,ABC123
Active basal program,1
BG unit,mmol/l
Basal profiles
Program: 1
,Time,U/h
1,00:00,0.8
2,06:00,1.1
,Total,22.8
Program: 2
,Time,U/h
1,00:00,0.5
,Total,12
Program: 3
,Time,U/h
1,00:00,0.7
,Total,16.8
Program: 4
,Time,U/h
1,00:00,0.9
,Total,21.6
I:C ratio settings
,Time,g
1,00:00,12
2,12:00,10
ISF programs
,Time,mmol/l
1,00:00,2.5
BG target range settings
,Time,mmol/l,
1,00:00,6.0,+/- 2.0
`

func TestReadExportParsesAllSections(t *testing.T) {
	export, err := ReadExport(strings.NewReader(sampleExport))
	require.NoError(t, err)

	assert.Equal(t, "2014-03-01T00:00:00", export.StartTime.String())
	assert.Equal(t, "2014-03-15T00:00:00", export.EndTime.String())
	assert.Equal(t, "ABC123", export.DeviceID)
	assert.Len(t, export.Records, 8)

	first := export.Records[0]
	assert.Equal(t, sheetGlucose, first[colSheet])
	assert.Equal(t, "5.5", first[colValue])
	assert.Equal(t, "mmol/L", first[colUnits])
	assert.Equal(t, "2014-03-01T10:00:00", first[colDeviceTime])
}

func TestReadExportParsesSettingsBlock(t *testing.T) {
	export, err := ReadExport(strings.NewReader(sampleExport))
	require.NoError(t, err)
	require.NotNil(t, export.Settings)

	s := export.Settings
	assert.Equal(t, models.TypeSettings, s.Type)
	assert.Equal(t, "ABC123", s.DeviceID)
	assert.Equal(t, "Program 1", s.ActiveBasalSchedule)
	assert.Equal(t, "mmol/L", s.Units.BG)
	assert.True(t, s.DeviceTime.IsZero())

	require.Len(t, s.BasalSchedules, 4)
	assert.True(t, models.ScheduleEntriesEqual(s.BasalSchedules["Program 1"], []models.ScheduleEntry{
		{Rate: 0.8, Start: 0},
		{Rate: 1.1, Start: 21600000},
	}))
	assert.True(t, models.ScheduleEntriesEqual(s.BasalSchedules["Program 4"], []models.ScheduleEntry{
		{Rate: 0.9, Start: 0},
	}))

	assert.True(t, models.CarbRatiosEqual(s.CarbRatio, []models.CarbRatioEntry{
		{Amount: 12, Start: 0},
		{Amount: 10, Start: 43200000},
	}))
	assert.True(t, models.SensitivitiesEqual(s.InsulinSensitivities, []models.SensitivityEntry{
		{Amount: 2.5, Start: 0},
	}))
	assert.True(t, models.BGTargetsEqual(s.BGTargets, []models.BGTargetEntry{
		{Low: 4, High: 8, Start: 0},
	}))
}

func TestReadExportWithoutSectionsFails(t *testing.T) {
	_, err := ReadExport(strings.NewReader("Time,value\n01/03/2014 10:00,5.5\n"))
	assert.ErrorIs(t, err, ErrBadExport)
}

func TestReadExportMissingProgramFails(t *testing.T) {
	input := `Insulin pump settings
Insulin pump settings for Serial number:,ABC123
Basal profiles
Program: 1
,Time,U/h
1,00:00,0.8
`
	_, err := ReadExport(strings.NewReader(input))
	assert.ErrorIs(t, err, ErrBadExport)
}

func TestReadExportRejectsOutOfOrderEntries(t *testing.T) {
	input := `Insulin pump settings
Insulin pump settings for Serial number:,ABC123
I:C ratio settings
,Time,g
2,00:00,12
`
	_, err := ReadExport(strings.NewReader(input))
	assert.ErrorIs(t, err, ErrBadExport)
}

func TestClockToMillis(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"00:00", 0},
		{"06:00", 21600000},
		{"12:30", 45000000},
		{"01:02:03", 3723000},
	}
	for _, tt := range tests {
		got, err := clockToMillis(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := clockToMillis("six")
	assert.ErrorIs(t, err, ErrBadExport)
}
