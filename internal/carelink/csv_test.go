package carelink

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleExport = `Last Name,Doe
First Name,Jane
Patient ID,12345

Data Range,03/01/14 00:00:00,03/15/14 23:59:59

Index,Date,Time,Timestamp,Bolus Type,Bolus Volume Delivered (U),Sensor Glucose (mg/dL),Raw-Type,Raw-Values,Raw-ID,Raw-Upload ID,Raw-Seq Num,Raw-Device Type
1,3/10/14,09:00:00,03/10/14 09:00:00,Normal,1.5,,BolusNormal,"AMOUNT=1.5, PROGRAMMED_AMOUNT=1.5",100,upload-1,10,Paradigm 522
2,3/10/14,09:05:00,03/10/14 09:05:00,,,112,GlucoseSensorData,AMOUNT=112,101,upload-1,11,Paradigm 522
`

func TestReadExportParsesRangeAndRows(t *testing.T) {
	export, err := ReadExport(strings.NewReader(sampleExport))
	require.NoError(t, err)

	assert.Equal(t, "2014-03-01T00:00:00", export.StartTime.String())
	assert.Equal(t, "2014-03-15T23:59:59", export.EndTime.String())
	require.Len(t, export.Records, 2)

	first := export.Records[0]
	assert.Equal(t, "BolusNormal", first["Raw-Type"])
	assert.Equal(t, "2014-03-10T09:00:00", first["deviceTime"])
	assert.Equal(t, "upload-1", first["Raw-Upload ID"])
	assert.Equal(t, "10", first["Raw-Seq Num"])

	second := export.Records[1]
	assert.Equal(t, "GlucoseSensorData", second["Raw-Type"])
	assert.Equal(t, "AMOUNT=112", second["Raw-Values"])
}

func TestReadExportDropsEmptyCells(t *testing.T) {
	export, err := ReadExport(strings.NewReader(sampleExport))
	require.NoError(t, err)

	_, ok := export.Records[0]["Index"]
	assert.True(t, ok)
	rec := export.Records[0]
	assert.False(t, rec.Has("No Such Column"))
}

func TestReadExportWithoutDataRangeFails(t *testing.T) {
	_, err := ReadExport(strings.NewReader("Last Name,Doe\nFirst Name,Jane\n"))
	assert.ErrorIs(t, err, ErrBadExport)
}

func TestReadExportBadRangeTimestampFails(t *testing.T) {
	_, err := ReadExport(strings.NewReader("Data Range,not-a-time\nIndex\n1\n"))
	assert.ErrorIs(t, err, ErrBadExport)
}

func TestReadExportWithoutHeaderFails(t *testing.T) {
	_, err := ReadExport(strings.NewReader("Data Range,03/01/14 00:00:00\n"))
	assert.ErrorIs(t, err, ErrBadExport)
}

func TestReadExportBadRowTimestampFails(t *testing.T) {
	input := "Data Range,03/01/14 00:00:00\nTimestamp,Raw-Type\nbogus,BolusNormal\n"
	_, err := ReadExport(strings.NewReader(input))
	assert.ErrorIs(t, err, ErrBadExport)
}
