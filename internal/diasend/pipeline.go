package diasend

import (
	"strings"

	"github.com/diastream/diastream-cli/internal/ids"
	"github.com/diastream/diastream-cli/internal/logging"
	"github.com/diastream/diastream-cli/internal/models"
	"github.com/diastream/diastream-cli/internal/stream"
)

// Config bounds one export run. DeviceID is stamped on every event;
// StartTime anchors an undated settings block; EndTime closes the trailing
// basal segment.
type Config struct {
	DeviceID  string
	StartTime models.DeviceTime
	EndTime   models.DeviceTime
}

// fork routes the events the predicate selects through the inner pipeline
// and passes everything else straight downstream.
type fork struct {
	pred  func(models.Event) bool
	inner *stream.Pipeline
}

func (f *fork) Next(e models.Event) ([]models.Event, error) {
	if f.pred(e) {
		return f.inner.Next(e)
	}
	return []models.Event{e}, nil
}

func (f *fork) Flush() ([]models.Event, error) {
	return f.inner.Flush()
}

func isBasalOrSettings(e models.Event) bool {
	return e.Type == models.TypeBasal || e.Type == models.TypeSettings
}

// settingsFirst orders a settings snapshot ahead of rate changes sharing its
// timestamp, so the classifier has schedules before the first basal.
func settingsFirst(a, b models.Event) int {
	return strings.Compare(b.Type, a.Type)
}

// NewPipeline wires the diasend normalization stages: basal and settings
// events detour through duration derivation and schedule classification,
// then the merged stream is stamped, re-sorted and given ids.
func NewPipeline(cfg Config) *stream.Pipeline {
	basals := stream.NewPipeline(
		stream.Sort(stream.Chain(stream.ByDeviceTime, settingsFirst)),
		FixDurations(cfg.EndTime),
		ClassifyBasals(),
	)
	return stream.NewPipeline(
		&fork{pred: isBasalOrSettings, inner: basals},
		stream.Map(func(e models.Event) (models.Event, error) {
			e.DeviceID = cfg.DeviceID
			e.Source = "diasend"
			return e, nil
		}),
		stream.Sort(stream.ByDeviceTime),
		ids.Assign(),
	)
}

// Normalize runs a parsed export through a fresh pipeline. The export's own
// serial number and date range apply unless cfg overrides them.
func Normalize(cfg Config, export *Export) ([]models.Event, error) {
	if cfg.DeviceID == "" {
		cfg.DeviceID = export.DeviceID
	}
	if cfg.StartTime.IsZero() {
		cfg.StartTime = export.StartTime
	}
	if cfg.EndTime.IsZero() {
		cfg.EndTime = export.EndTime
	}

	var events []models.Event
	if export.Settings != nil {
		settings := *export.Settings
		if settings.DeviceTime.IsZero() {
			settings.DeviceTime = cfg.StartTime
		}
		events = append(events, settings)
	}
	for _, rec := range export.Records {
		e, err := ParseRow(rec)
		if err != nil {
			return nil, err
		}
		if e == nil {
			continue
		}
		events = append(events, *e)
	}

	logger := logging.New("diasend")
	logger.Debug().
		Str("device_id", cfg.DeviceID).
		Int("parsed", len(events)).
		Msg("running diasend pipeline")

	out, err := NewPipeline(cfg).Run(events)
	if err != nil {
		return nil, err
	}
	logger.Debug().Int("events", len(out)).Msg("diasend pipeline done")
	return out, nil
}
