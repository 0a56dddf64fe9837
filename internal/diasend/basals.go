package diasend

import (
	"fmt"
	"sort"

	"github.com/diastream/diastream-cli/internal/models"
	"github.com/diastream/diastream-cli/internal/stream"
)

const (
	millisPerDay    = 24 * 60 * 60 * 1000
	scheduleWindow  = 5 * 60 * 1000
	fabricatedTemp  = "diasend/temp-basal-fabrication"
)

// durationFix derives each basal rate change's duration from the gap to the
// next change. The export reports only the moments the rate changed, so a
// segment's extent is not known until its successor shows up.
type durationFix struct {
	endTime models.DeviceTime
	curr    *models.Event
}

// FixDurations builds the duration-derivation stage. Two rate changes
// sharing a timestamp are a schedule echo the pump emits while a percentage
// temp runs; the echo never delivered and is dropped. The trailing change is
// closed against endTime, or dropped when that leaves no positive extent.
func FixDurations(endTime models.DeviceTime) stream.Stage {
	return &durationFix{endTime: endTime}
}

func (d *durationFix) Next(e models.Event) ([]models.Event, error) {
	if e.Type != models.TypeBasal {
		return []models.Event{e}, nil
	}
	if d.curr == nil {
		d.curr = &e
		return nil, nil
	}

	gap := models.MillisBetween(d.curr.DeviceTime, e.DeviceTime)
	if gap == 0 {
		return nil, nil
	}

	done := *d.curr
	done.Duration = models.Int64(gap)
	d.curr = &e
	return []models.Event{done}, nil
}

func (d *durationFix) Flush() ([]models.Event, error) {
	if d.curr == nil {
		return nil, nil
	}
	done := *d.curr
	d.curr = nil
	if d.endTime.IsZero() {
		return nil, nil
	}
	gap := models.MillisBetween(done.DeviceTime, d.endTime)
	if gap <= 0 {
		return nil, nil
	}
	done.Duration = models.Int64(gap)
	return []models.Event{done}, nil
}

// basalClassifier matches each rate change against the pump's programmed
// schedules. A change whose rate and time land within the schedule window of
// some program entry is a scheduled segment, snapped to the entry's start;
// anything else is a temp the export never labeled as one.
type basalClassifier struct {
	settings      *models.Event
	scheduleNames []string
	temp          *models.Event
	out           []models.Event
}

// ClassifyBasals builds the schedule-matching stage. The settings snapshot
// must precede every basal event; the stream must be sorted by device time.
func ClassifyBasals() stream.Stage {
	return stream.NewPipeline(
		stream.AssertSorted(stream.ByDeviceTime, nil),
		&basalClassifier{},
	)
}

func (c *basalClassifier) emit(e models.Event) {
	c.out = append(c.out, e)
}

func (c *basalClassifier) take() []models.Event {
	out := c.out
	c.out = nil
	return out
}

func (c *basalClassifier) flushTemp(until models.DeviceTime) {
	if c.temp == nil {
		return
	}
	done := *c.temp
	done.Duration = models.Int64(models.MillisBetween(done.DeviceTime, until))
	c.emit(done)
	c.temp = nil
}

func (c *basalClassifier) Next(e models.Event) ([]models.Event, error) {
	if e.Type == models.TypeSettings {
		if c.settings != nil {
			return nil, fmt.Errorf("%w: second settings snapshot at %s, updates not supported", stream.ErrIllegalState, e.DeviceTime)
		}
		c.settings = &e
		for name := range e.BasalSchedules {
			c.scheduleNames = append(c.scheduleNames, name)
		}
		sort.Strings(c.scheduleNames)
		return []models.Event{e}, nil
	}

	if e.Type != models.TypeBasal {
		return []models.Event{e}, nil
	}
	if c.settings == nil {
		return nil, fmt.Errorf("%w: basal at %s before any settings snapshot", stream.ErrIllegalState, e.DeviceTime)
	}

	millisInDay := e.DeviceTime.MillisInDay()
	for _, name := range c.scheduleNames {
		for j, entry := range c.settings.BasalSchedules[name] {
			if e.Rate == nil || *e.Rate != entry.Rate {
				continue
			}
			if abs(millisInDay-entry.Start) > scheduleWindow {
				continue
			}

			// Snap the segment to the entry's programmed start.
			at := e.DeviceTime.AddMillis(entry.Start - millisInDay)
			c.flushTemp(at)

			schedule := c.settings.BasalSchedules[name]
			end := int64(millisPerDay)
			if j+1 < len(schedule) {
				end = schedule[j+1].Start
			}
			c.emit(models.Event{
				Type:         models.TypeBasal,
				DeliveryType: models.DeliveryScheduled,
				DeviceTime:   at,
				DeviceID:     c.settings.DeviceID,
				ScheduleName: name,
				Rate:         models.Float(entry.Rate),
				Duration:     models.Int64(end - entry.Start),
			})
			return c.take(), nil
		}
	}

	c.flushTemp(e.DeviceTime)
	temp := e
	temp.DeliveryType = models.DeliveryTemp
	temp.Annotate(fabricatedTemp)
	c.temp = &temp
	return c.take(), nil
}

// Flush guesses the trailing temp's duration from the active schedule, since
// nothing after it bounds its extent.
func (c *basalClassifier) Flush() ([]models.Event, error) {
	if c.temp == nil {
		return nil, nil
	}
	schedule := c.settings.BasalSchedules[c.settings.ActiveBasalSchedule]
	millisInTemp := c.temp.DeviceTime.MillisInDay()
	end := int64(millisPerDay)
	for _, entry := range schedule {
		if entry.Start > millisInTemp {
			end = entry.Start
			break
		}
	}
	done := *c.temp
	done.Duration = models.Int64(end - millisInTemp)
	c.temp = nil
	return []models.Event{done}, nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
