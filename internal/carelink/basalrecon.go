package carelink

import (
	"fmt"

	"github.com/diastream/diastream-cli/internal/models"
	"github.com/diastream/diastream-cli/internal/stream"
)

const (
	millisPerDay    = 24 * 60 * 60 * 1000
	previousGraceMs = 5 * 1000
	fabricatedBasal = "carelink/basal/fabricated"
	offScheduleRate = "carelink/basal/off-schedule-rate"
)

// basalRecon turns sparse basal reports into a gap-free segment timeline.
// It tracks the active settings snapshot, a cursor over the active schedule
// used to fabricate segments the pump never reported, and the currently
// running segment with its chain of suppressed layers.
type basalRecon struct {
	endTime models.DeviceTime

	settings *models.Event
	schedule []models.ScheduleEntry

	// cursor: schedule[nextIndex] takes over at nextTransition.
	cursorLive     bool
	nextIndex      int
	nextTransition models.DeviceTime

	curr *models.Event
	out  []models.Event
}

// ReconstructBasals builds the gap-free basal timeline from a deviceTime
// sorted stream of settings snapshots and basal events. endTime, when
// non-zero, closes out the schedule up to the export's declared range end.
func ReconstructBasals(endTime models.DeviceTime) stream.Stage {
	return stream.NewPipeline(
		stream.AssertSorted(stream.ByDeviceTime, nil),
		&basalRecon{endTime: endTime},
	)
}

func isOverride(e *models.Event) bool {
	return e.DeliveryType == models.DeliveryTemp || e.DeliveryType == models.DeliverySuspend
}

func (m *basalRecon) emit(e models.Event) {
	m.out = append(m.out, e)
}

func (m *basalRecon) take() []models.Event {
	out := m.out
	m.out = nil
	return out
}

// attachPrevious links e back to the running segment unless the running
// segment's own duration ran out more than the grace window before e starts.
// A larger gap means the pump was off or the record stream has a hole, and
// chaining across it would assert a continuity that never existed.
func (m *basalRecon) attachPrevious(e *models.Event) {
	if m.curr == nil {
		return
	}
	if end, ok := m.curr.EndTime(); ok && end.AddMillis(previousGraceMs).Compare(e.DeviceTime) < 0 {
		return
	}
	e.Previous = m.curr.StripPrevious()
}

// reseedCursor points the fabrication cursor at the first schedule boundary
// after the given instant.
func (m *basalRecon) reseedCursor(at models.DeviceTime) {
	m.cursorLive = false
	if m.settings == nil {
		return
	}
	m.schedule = m.settings.BasalSchedules[m.settings.ActiveBasalSchedule]
	if len(m.schedule) == 0 {
		return
	}

	millisInDay := at.MillisInDay()
	idx := 0
	for i, entry := range m.schedule {
		if entry.Start <= millisInDay {
			idx = i
		}
	}

	m.nextIndex = idx + 1
	if m.nextIndex >= len(m.schedule) {
		m.nextIndex = 0
		m.nextTransition = at.StartOfDay().AddMillis(millisPerDay + m.schedule[0].Start)
	} else {
		m.nextTransition = at.StartOfDay().AddMillis(m.schedule[m.nextIndex].Start)
	}
	m.cursorLive = true
}

func (m *basalRecon) advanceCursor(segmentMillis int64) {
	m.nextIndex++
	if m.nextIndex >= len(m.schedule) {
		m.nextIndex = 0
		m.nextTransition = m.nextTransition.StartOfDay().AddMillis(millisPerDay + m.schedule[0].Start)
	} else {
		m.nextTransition = m.nextTransition.AddMillis(segmentMillis)
	}
}

// fabricate emits the scheduled segment that takes over at the cursor's
// transition point. A temp still running through the transition absorbs it
// into its suppressed layer instead of yielding.
func (m *basalRecon) fabricate() {
	entry := m.schedule[m.nextIndex]
	var duration int64
	if m.nextIndex+1 < len(m.schedule) {
		duration = m.schedule[m.nextIndex+1].Start - entry.Start
	} else {
		duration = millisPerDay - entry.Start
	}

	fab := models.Event{
		Type:         models.TypeBasal,
		DeliveryType: models.DeliveryScheduled,
		DeviceTime:   m.nextTransition,
		DeviceID:     m.settings.DeviceID,
		ScheduleName: m.settings.ActiveBasalSchedule,
		Rate:         models.Float(entry.Rate),
		Duration:     models.Int64(duration),
	}
	fab.Annotate(fabricatedBasal)

	if m.curr != nil && isOverride(m.curr) {
		if end, ok := m.curr.EndTime(); ok && m.nextTransition.Compare(end) < 0 {
			old := m.curr.StripPrevious()
			updated := *old
			updated.ID = ""
			updated.DeviceTime = m.nextTransition
			updated.Duration = models.Int64(models.MillisBetween(m.nextTransition, end))
			updated.Suppressed = fab.StripPrevious()
			updated.Previous = old
			m.emit(updated)
			m.curr = &updated
			m.advanceCursor(duration)
			return
		}
	}

	m.attachPrevious(&fab)
	m.emit(fab)
	m.curr = &fab
	m.advanceCursor(duration)
}

// pop ends the running override at its natural expiry, resuming whatever it
// was suppressing. A suppressed layer without a duration can only be an
// overridden override whose own extent was never known, so it is skipped in
// favor of the layer beneath it.
func (m *basalRecon) pop(at models.DeviceTime) {
	if m.curr.Suppressed == nil {
		m.curr = nil
		return
	}
	if m.curr.Suppressed.Duration == nil {
		m.curr = m.curr.Suppressed.Suppressed
		return
	}

	old := m.curr.StripPrevious()
	resumed := *m.curr.Suppressed
	resumed.ID = ""
	resumed.Duration = models.Int64(*resumed.Duration - models.MillisBetween(resumed.DeviceTime, at))
	resumed.DeviceTime = at
	resumed.Previous = old
	m.emit(resumed)
	m.curr = &resumed
}

// walkForward advances the timeline up to (exclusive) the given instant,
// fabricating scheduled segments at each schedule boundary crossed and
// expiring overrides whose duration runs out first.
func (m *basalRecon) walkForward(until models.DeviceTime) {
	for {
		fabDue := m.cursorLive && m.nextTransition.Compare(until) < 0

		var popAt models.DeviceTime
		popDue := false
		if m.curr != nil {
			if end, ok := m.curr.EndTime(); ok && end.Compare(until) < 0 {
				popAt, popDue = end, true
			}
		}

		switch {
		case popDue && (!fabDue || popBeatsFab(popAt, m.nextTransition, m.curr)):
			if isOverride(m.curr) {
				m.pop(popAt)
			} else {
				// A scheduled segment that ran out with nothing after it;
				// the chain is broken.
				m.curr = nil
			}
		case fabDue:
			m.fabricate()
		default:
			return
		}
	}
}

// popBeatsFab orders simultaneous boundaries: an override ending exactly at
// a schedule transition has already expired, a scheduled segment ending
// there is replaced by the fabricated successor.
func popBeatsFab(popAt, fabAt models.DeviceTime, curr *models.Event) bool {
	switch cmp := popAt.Compare(fabAt); {
	case cmp < 0:
		return true
	case cmp > 0:
		return false
	default:
		return isOverride(curr)
	}
}

func (m *basalRecon) Next(e models.Event) ([]models.Event, error) {
	if e.Type == models.TypeSettings {
		m.walkForward(e.DeviceTime)
		m.settings = &e
		m.reseedCursor(e.DeviceTime)
		m.emit(e)
		return m.take(), nil
	}

	if e.Type != models.TypeBasal {
		m.walkForward(e.DeviceTime)
		m.emit(e)
		return m.take(), nil
	}

	m.walkForward(e.DeviceTime)

	switch e.DeliveryType {
	case models.DeliveryScheduled:
		m.onScheduled(e)
	case models.DeliveryTemp, models.DeliverySuspend:
		m.onOverride(e)
	case models.DeliveryTempStop:
		m.onCancel(e)
	default:
		return nil, fmt.Errorf("%w: unknown deliveryType[%s] at %s", stream.ErrIllegalState, e.DeliveryType, e.DeviceTime)
	}

	return m.take(), nil
}

// onScheduled matches a reported rate change against the active settings,
// filling in the segment's duration when the schedule agrees and flagging
// the rate when it does not.
func (m *basalRecon) onScheduled(e models.Event) {
	if m.settings != nil && e.StartOffset != nil {
		schedule := m.settings.BasalSchedules[e.ScheduleName]
		matched := false
		for j, entry := range schedule {
			if e.Rate != nil && *e.Rate == entry.Rate && *e.StartOffset == entry.Start {
				millisInDay := e.DeviceTime.MillisInDay()
				if j+1 == len(schedule) {
					e.Duration = models.Int64(millisPerDay - millisInDay)
				} else {
					e.Duration = models.Int64(schedule[j+1].Start - millisInDay)
				}
				m.reseedCursor(e.DeviceTime)
				matched = true
				break
			}
		}
		if !matched {
			e.Annotate(offScheduleRate)
		}
	}
	e.StartOffset = nil

	if m.curr != nil && isOverride(m.curr) {
		if end, ok := m.curr.EndTime(); ok && e.DeviceTime.Compare(end) < 0 {
			// Overshadowed by the running override: the schedule change
			// folds into its suppressed layer.
			old := m.curr.StripPrevious()
			updated := *old
			updated.ID = ""
			updated.DeviceTime = e.DeviceTime
			updated.Duration = models.Int64(models.MillisBetween(e.DeviceTime, end))
			updated.Suppressed = e.StripPrevious()
			updated.Previous = old
			m.emit(updated)
			m.curr = &updated
			return
		}
	}

	m.attachPrevious(&e)
	m.emit(e)
	m.curr = &e
}

// onOverride starts a temp or suspend segment, pushing the running segment
// onto its suppressed chain. A zero-duration override is a cancellation.
func (m *basalRecon) onOverride(e models.Event) {
	if e.Duration != nil && *e.Duration == 0 {
		m.cancelAt(e.DeviceTime)
		return
	}

	if m.curr != nil {
		e.Suppressed = m.curr.StripPrevious()
	}
	m.attachPrevious(&e)
	m.emit(e)
	m.curr = &e
}

// onCancel handles the paired temp-stop record: the record itself passes
// through, and the suppressed layer resumes at the cancellation instant.
func (m *basalRecon) onCancel(e models.Event) {
	m.emit(e)
	m.cancelAt(e.DeviceTime)
}

func (m *basalRecon) cancelAt(at models.DeviceTime) {
	if m.curr == nil || !isOverride(m.curr) || m.curr.Suppressed == nil {
		// Nothing suppressed to resume. The cancellation is dropped rather
		// than guessed at.
		return
	}
	m.pop(at)
}

func (m *basalRecon) Flush() ([]models.Event, error) {
	if !m.endTime.IsZero() {
		m.walkForward(m.endTime)
	}
	return m.take(), nil
}
