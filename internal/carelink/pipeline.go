package carelink

import (
	"github.com/diastream/diastream-cli/internal/ids"
	"github.com/diastream/diastream-cli/internal/logging"
	"github.com/diastream/diastream-cli/internal/models"
	"github.com/diastream/diastream-cli/internal/parsing"
	"github.com/diastream/diastream-cli/internal/stream"
)

// Config bounds one export run. StartTime anchors the settings snapshot for
// data preceding the first in-stream configuration change; EndTime, when set,
// extends basal reconstruction past the last pump record.
type Config struct {
	StartTime models.DeviceTime
	EndTime   models.DeviceTime
}

// NewPipeline wires the carelink normalization stages.
//
// Boluses join first: the settings joiner re-sorts the whole stream by device
// time, which would defeat the upload-order guard the bolus joiner depends
// on. Ids are assigned twice because the temp-stop pairer and the status
// joiner key off basal and suspend ids, while the basal reconstructor derives
// resumed and updated copies that need fresh ones.
func NewPipeline(cfg Config) *stream.Pipeline {
	return stream.NewPipeline(
		JoinBoluses(),
		JoinSettings(cfg.StartTime),
		stream.Sort(stream.ByDeviceTime),
		ids.Assign(),
		PairTempStops(),
		ReconstructBasals(cfg.EndTime),
		ids.Assign(),
		JoinStatuses(),
	)
}

// Normalize parses every export row through the event registry and runs the
// resulting events through a fresh pipeline. Rows with unregistered types are
// skipped.
func Normalize(cfg Config, records []parsing.Record) ([]models.Event, error) {
	registry := NewEventRegistry()
	events := make([]models.Event, 0, len(records))
	for _, rec := range records {
		e, err := registry.Parse(rec)
		if err != nil {
			return nil, err
		}
		if e == nil {
			continue
		}
		events = append(events, *e)
	}

	logger := logging.New("carelink")
	logger.Debug().
		Int("records", len(records)).
		Int("parsed", len(events)).
		Msg("running carelink pipeline")

	out, err := NewPipeline(cfg).Run(events)
	if err != nil {
		return nil, err
	}
	logger.Debug().Int("events", len(out)).Msg("carelink pipeline done")
	return out, nil
}

// NormalizeExport is the whole carelink path: parsed CSV in, normalized
// events out. The export's own data range bounds the run unless cfg overrides
// it.
func NormalizeExport(cfg Config, export *Export) ([]models.Event, error) {
	if cfg.StartTime.IsZero() {
		cfg.StartTime = export.StartTime
	}
	if cfg.EndTime.IsZero() {
		cfg.EndTime = export.EndTime
	}
	return Normalize(cfg, export.Records)
}
