package carelink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diastream/diastream-cli/internal/models"
	"github.com/diastream/diastream-cli/internal/stream"
)

func dt(day, hour, min int) models.DeviceTime {
	return models.NewDeviceTime(2014, time.March, day, hour, min, 0)
}

func reconSettings(day, hour, min int, schedules map[string][]models.ScheduleEntry) models.Event {
	return models.Event{
		Type:                models.TypeSettings,
		DeviceTime:          dt(day, hour, min),
		DeviceID:            "Paradigm 522",
		ActiveBasalSchedule: "standard",
		BasalSchedules:      schedules,
	}
}

func scheduled(day, hour, min int, rate float64, startOffset int64) models.Event {
	return models.Event{
		Type:         models.TypeBasal,
		DeliveryType: models.DeliveryScheduled,
		DeviceTime:   dt(day, hour, min),
		DeviceID:     "Paradigm 522",
		ScheduleName: "standard",
		Rate:         models.Float(rate),
		StartOffset:  models.Int64(startOffset),
	}
}

func tempBasal(day, hour, min int, rate float64, durationMin int64) models.Event {
	return models.Event{
		Type:         models.TypeBasal,
		DeliveryType: models.DeliveryTemp,
		DeviceTime:   dt(day, hour, min),
		DeviceID:     "Paradigm 522",
		Rate:         models.Float(rate),
		Duration:     models.Int64(durationMin * 60 * 1000),
	}
}

func reconMarker(day, hour, min int) models.Event {
	return models.Event{
		Type:       models.TypeSmbg,
		DeviceTime: dt(day, hour, min),
		DeviceID:   "Paradigm 522",
		Value:      models.Float(100),
	}
}

var threeStepSchedules = map[string][]models.ScheduleEntry{
	"standard": {
		{Rate: 0.8, Start: 0},
		{Rate: 1.1, Start: 6 * 60 * 60 * 1000},
		{Rate: 0.9, Start: 12 * 60 * 60 * 1000},
	},
}

var flatSchedules = map[string][]models.ScheduleEntry{
	"standard": {{Rate: 0.8, Start: 0}},
}

func runRecon(t *testing.T, endTime models.DeviceTime, in ...models.Event) []models.Event {
	t.Helper()
	out, err := stream.NewPipeline(ReconstructBasals(endTime)).Run(in)
	require.NoError(t, err)
	return out
}

func TestReconstructBasalsFabricatesMissedSegments(t *testing.T) {
	out := runRecon(t, models.DeviceTime{},
		reconSettings(10, 0, 30, threeStepSchedules),
		scheduled(10, 12, 0, 0.9, 12*60*60*1000),
	)
	require.Len(t, out, 3)

	fab := out[1]
	assert.Equal(t, models.DeliveryScheduled, fab.DeliveryType)
	assert.Equal(t, dt(10, 6, 0), fab.DeviceTime)
	assert.Equal(t, 1.1, *fab.Rate)
	assert.Equal(t, int64(6*60*60*1000), *fab.Duration)
	assert.True(t, fab.HasAnnotation("carelink/basal/fabricated"))
	assert.Nil(t, fab.Previous)

	real := out[2]
	assert.False(t, real.HasAnnotation("carelink/basal/fabricated"))
	assert.Equal(t, int64(12*60*60*1000), *real.Duration)
	assert.Nil(t, real.StartOffset)
	require.NotNil(t, real.Previous)
	assert.Equal(t, dt(10, 6, 0), real.Previous.DeviceTime)
}

func TestReconstructBasalsResumesSuppressedAfterTempExpires(t *testing.T) {
	out := runRecon(t, models.DeviceTime{},
		reconSettings(10, 0, 30, flatSchedules),
		scheduled(10, 1, 0, 0.8, 0),
		tempBasal(10, 2, 0, 0.4, 30),
		reconMarker(10, 4, 0),
	)
	require.Len(t, out, 5)

	temp := out[2]
	require.NotNil(t, temp.Suppressed)
	assert.Equal(t, 0.8, *temp.Suppressed.Rate)
	require.NotNil(t, temp.Previous)
	assert.Equal(t, models.DeliveryScheduled, temp.Previous.DeliveryType)

	resumed := out[3]
	assert.Equal(t, models.DeliveryScheduled, resumed.DeliveryType)
	assert.Equal(t, dt(10, 2, 30), resumed.DeviceTime)
	// The resumed segment runs out the rest of the day: the original
	// duration less the time spent suppressed.
	assert.Equal(t, int64(23*60*60*1000-90*60*1000), *resumed.Duration)
	require.NotNil(t, resumed.Previous)
	assert.Equal(t, models.DeliveryTemp, resumed.Previous.DeliveryType)

	assert.Equal(t, models.TypeSmbg, out[4].Type)
}

func TestReconstructBasalsZeroDurationTempCancelsEarly(t *testing.T) {
	cancel := tempBasal(10, 2, 10, 0, 0)

	out := runRecon(t, models.DeviceTime{},
		reconSettings(10, 0, 30, flatSchedules),
		scheduled(10, 1, 0, 0.8, 0),
		tempBasal(10, 2, 0, 0.4, 30),
		cancel,
	)
	require.Len(t, out, 4)

	resumed := out[3]
	assert.Equal(t, models.DeliveryScheduled, resumed.DeliveryType)
	assert.Equal(t, dt(10, 2, 10), resumed.DeviceTime)
	assert.Equal(t, int64(23*60*60*1000-70*60*1000), *resumed.Duration)

	// The cancellation itself never becomes a segment.
	for _, e := range out {
		if e.Duration != nil {
			assert.NotZero(t, *e.Duration)
		}
	}
}

func TestReconstructBasalsCancellationWithNothingSuppressedIsDropped(t *testing.T) {
	out := runRecon(t, models.DeviceTime{},
		reconSettings(10, 0, 30, flatSchedules),
		tempBasal(10, 2, 10, 0, 0),
		reconMarker(10, 3, 0),
	)
	require.Len(t, out, 2)
	assert.Equal(t, models.TypeSettings, out[0].Type)
	assert.Equal(t, models.TypeSmbg, out[1].Type)
}

func TestReconstructBasalsTempAbsorbsScheduleBoundary(t *testing.T) {
	out := runRecon(t, models.DeviceTime{},
		reconSettings(10, 0, 30, threeStepSchedules),
		tempBasal(10, 5, 30, 0.2, 60),
		reconMarker(10, 7, 0),
	)
	require.Len(t, out, 5)

	temp := out[1]
	assert.Equal(t, models.DeliveryTemp, temp.DeliveryType)
	assert.Equal(t, dt(10, 5, 30), temp.DeviceTime)

	// At 06:00 the schedule changes underneath the still-running temp, so
	// the temp is re-emitted with the new scheduled rate suppressed.
	updated := out[2]
	assert.Equal(t, models.DeliveryTemp, updated.DeliveryType)
	assert.Equal(t, dt(10, 6, 0), updated.DeviceTime)
	assert.Equal(t, int64(30*60*1000), *updated.Duration)
	require.NotNil(t, updated.Suppressed)
	assert.Equal(t, 1.1, *updated.Suppressed.Rate)
	require.NotNil(t, updated.Previous)
	assert.Equal(t, dt(10, 5, 30), updated.Previous.DeviceTime)

	// The temp expires at 06:30 and the suppressed scheduled rate resumes
	// for the rest of its slot.
	resumed := out[3]
	assert.Equal(t, models.DeliveryScheduled, resumed.DeliveryType)
	assert.Equal(t, dt(10, 6, 30), resumed.DeviceTime)
	assert.Equal(t, 1.1, *resumed.Rate)
	assert.Equal(t, int64(5*60*60*1000+30*60*1000), *resumed.Duration)
}

func TestReconstructBasalsFlushesScheduleToEndTime(t *testing.T) {
	out := runRecon(t, dt(11, 12, 0),
		reconSettings(10, 22, 0, threeStepSchedules),
	)
	require.Len(t, out, 3)

	assert.Equal(t, dt(11, 0, 0), out[1].DeviceTime)
	assert.Equal(t, 0.8, *out[1].Rate)
	assert.Equal(t, dt(11, 6, 0), out[2].DeviceTime)
	assert.Equal(t, 1.1, *out[2].Rate)
	for _, fab := range out[1:] {
		assert.True(t, fab.HasAnnotation("carelink/basal/fabricated"))
	}
}

func TestReconstructBasalsAnnotatesOffScheduleRate(t *testing.T) {
	out := runRecon(t, models.DeviceTime{},
		reconSettings(10, 0, 30, flatSchedules),
		scheduled(10, 1, 0, 0.95, 0),
	)
	require.Len(t, out, 2)

	off := out[1]
	assert.True(t, off.HasAnnotation("carelink/basal/off-schedule-rate"))
	assert.Nil(t, off.Duration)
	assert.Nil(t, off.StartOffset)
}

func TestReconstructBasalsUnknownDeliveryTypeIsFatal(t *testing.T) {
	bogus := models.Event{
		Type:         models.TypeBasal,
		DeliveryType: "quadratic",
		DeviceTime:   dt(10, 1, 0),
		DeviceID:     "Paradigm 522",
	}

	_, err := stream.NewPipeline(ReconstructBasals(models.DeviceTime{})).Run([]models.Event{bogus})
	assert.ErrorIs(t, err, stream.ErrIllegalState)
}

func TestReconstructBasalsChainsWithoutSettings(t *testing.T) {
	first := scheduled(10, 1, 0, 0.8, 0)
	second := scheduled(10, 2, 0, 0.9, 0)

	out := runRecon(t, models.DeviceTime{}, first, second)
	require.Len(t, out, 2)

	assert.Nil(t, out[0].Previous)
	require.NotNil(t, out[1].Previous)
	assert.Equal(t, dt(10, 1, 0), out[1].Previous.DeviceTime)
}

func TestReconstructBasalsTempStopResumesSuppressed(t *testing.T) {
	stop := models.Event{
		Type:         models.TypeBasal,
		DeliveryType: models.DeliveryTempStop,
		DeviceTime:   dt(10, 2, 30),
		DeviceID:     "Paradigm 522",
	}

	out := runRecon(t, models.DeviceTime{},
		reconSettings(10, 0, 30, flatSchedules),
		scheduled(10, 1, 0, 0.8, 0),
		tempBasal(10, 2, 0, 0.4, 60),
		stop,
	)
	require.Len(t, out, 5)

	assert.Equal(t, models.DeliveryTempStop, out[3].DeliveryType)
	resumed := out[4]
	assert.Equal(t, models.DeliveryScheduled, resumed.DeliveryType)
	assert.Equal(t, dt(10, 2, 30), resumed.DeviceTime)
}

// assertContiguous checks the reconstructed timeline has neither gaps nor
// unexplained overlaps: every basal segment either starts where the one
// before it ended or explicitly supersedes it through its previous pointer.
func assertContiguous(t *testing.T, events []models.Event) {
	t.Helper()
	var prev *models.Event
	for i := range events {
		e := events[i]
		if e.Type != models.TypeBasal || e.DeliveryType == models.DeliveryTempStop {
			continue
		}
		if prev != nil {
			end, ok := prev.EndTime()
			if ok {
				gap := models.MillisBetween(end, e.DeviceTime)
				assert.LessOrEqual(t, gap, int64(0), "gap before segment at %s", e.DeviceTime)
				if e.DeviceTime.Compare(end) < 0 {
					assert.NotNil(t, e.Previous, "overlapping segment at %s does not supersede", e.DeviceTime)
				}
			}
		}
		prev = &events[i]
	}
}

func TestReconstructBasalsTimelineIsContiguous(t *testing.T) {
	out := runRecon(t, dt(11, 0, 0),
		reconSettings(10, 0, 30, threeStepSchedules),
		scheduled(10, 1, 0, 0.8, 0),
		tempBasal(10, 5, 30, 0.2, 60),
		tempBasal(10, 6, 15, 0, 0),
		scheduled(10, 12, 0, 0.9, 12*60*60*1000),
		tempBasal(10, 20, 0, 1.4, 45),
	)
	assertContiguous(t, out)
}
