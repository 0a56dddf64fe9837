package recorder

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diastream/diastream-cli/internal/models"
)

func sampleEvents() []models.Event {
	return []models.Event{
		{
			Type:       models.TypeSmbg,
			DeviceTime: models.NewDeviceTime(2014, time.March, 10, 9, 0, 0),
			DeviceID:   "Paradigm 522",
			Value:      models.Float(102),
		},
		{
			Type:         models.TypeBasal,
			DeliveryType: models.DeliveryScheduled,
			DeviceTime:   models.NewDeviceTime(2014, time.March, 10, 9, 5, 0),
			DeviceID:     "Paradigm 522",
			Rate:         models.Float(0.8),
			Duration:     models.Int64(3600000),
		},
	}
}

func TestWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson")

	w, err := NewWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteAll(sampleEvents()))
	assert.Equal(t, 2, w.Count())
	require.NoError(t, w.Close())

	events, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.TypeSmbg, events[0].Type)
	assert.Equal(t, 102.0, *events[0].Value)
	assert.Equal(t, "2014-03-10T09:05:00", events[1].DeviceTime.String())
	assert.Equal(t, int64(3600000), *events[1].Duration)
}

func TestEncodeWritesOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, sampleEvents()))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"type":"smbg"`)
}

func TestReadSkipsBlankLinesAndReportsBadOnes(t *testing.T) {
	events, err := Read(strings.NewReader("\n{\"type\":\"smbg\",\"deviceTime\":\"2014-03-10T09:00:00\"}\n\n"))
	require.NoError(t, err)
	require.Len(t, events, 1)

	_, err = Read(strings.NewReader("{\"type\":\"smbg\"}\nnot json\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}