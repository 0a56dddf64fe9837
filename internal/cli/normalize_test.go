package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diastream/diastream-cli/internal/models"
	"github.com/diastream/diastream-cli/internal/recorder"
)

const carelinkSample = `Last Name,Doe
Data Range,03/01/14 00:00:00,03/15/14 23:59:59
Timestamp,Bolus Type,Bolus Volume Delivered (U),Sensor Glucose (mg/dL),Raw-Type,Raw-ID,Raw-Upload ID,Raw-Seq Num,Raw-Device Type
03/10/14 09:00:00,Normal,1.5,,BolusNormal,100,upload-1,10,Paradigm 522
03/10/14 09:05:00,,,112,GlucoseSensorData,101,upload-1,11,Paradigm 522
`

func TestNormalizeAndInspectRoundTrip(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "export.csv")
	require.NoError(t, os.WriteFile(input, []byte(carelinkSample), 0o600))
	output := filepath.Join(dir, "events.ndjson")
	receiptPath := filepath.Join(dir, "receipt.json")

	rootCmd.SetArgs([]string{"normalize", "--vendor", "carelink", "-o", output, "--receipt", receiptPath, input})
	require.NoError(t, rootCmd.Execute())

	events, err := recorder.ReadFile(output)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.TypeBolus, events[0].Type)
	assert.Equal(t, models.TypeCbg, events[1].Type)
	assert.NotEmpty(t, events[0].ID)

	data, err := os.ReadFile(receiptPath)
	require.NoError(t, err)
	var receipt models.Receipt
	require.NoError(t, json.Unmarshal(data, &receipt))
	assert.Equal(t, models.ReceiptSchema, receipt.Schema)
	assert.Equal(t, "carelink", receipt.Vendor)
	assert.Equal(t, 2, receipt.TotalEvents)
	assert.NotEmpty(t, receipt.RunID)

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"inspect", "--format", "json", output})
	require.NoError(t, rootCmd.Execute())

	var summary models.Receipt
	require.NoError(t, json.Unmarshal(buf.Bytes(), &summary))
	assert.Equal(t, 2, summary.TotalEvents)
	assert.Equal(t, map[string]int{"bolus": 1, "cbg": 1}, summary.EventCounts)
}

func TestNormalizeRejectsUnknownVendor(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "export.csv")
	require.NoError(t, os.WriteFile(input, []byte(carelinkSample), 0o600))

	rootCmd.SetArgs([]string{"normalize", "--vendor", "animas", input})
	assert.Error(t, rootCmd.Execute())
}
