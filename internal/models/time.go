package models

import (
	"fmt"
	"time"
)

// DeviceTimeLayout is the timezone-less ISO-8601 form device clocks report in.
const DeviceTimeLayout = "2006-01-02T15:04:05"

// DeviceTime is a naive local timestamp as read off a device clock. It has no
// timezone; two DeviceTimes are only comparable when they come from the same
// device. It marshals to/from the timezone-less ISO-8601 string form.
type DeviceTime struct {
	time.Time
}

// ParseDeviceTime parses a timezone-less ISO-8601 string.
func ParseDeviceTime(s string) (DeviceTime, error) {
	t, err := time.Parse(DeviceTimeLayout, s)
	if err != nil {
		return DeviceTime{}, fmt.Errorf("failed to parse device time %q: %w", s, err)
	}
	return DeviceTime{t}, nil
}

// NewDeviceTime builds a DeviceTime from wall-clock components.
func NewDeviceTime(year int, month time.Month, day, hour, min, sec int) DeviceTime {
	return DeviceTime{time.Date(year, month, day, hour, min, sec, 0, time.UTC)}
}

func (d DeviceTime) String() string {
	return d.Format(DeviceTimeLayout)
}

func (d DeviceTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Format(DeviceTimeLayout) + `"`), nil
}

func (d *DeviceTime) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("device time must be a JSON string, got %s", data)
	}
	parsed, err := ParseDeviceTime(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// IsZero reports whether the timestamp was never set.
func (d DeviceTime) IsZero() bool {
	return d.Time.IsZero()
}

// AddMillis returns the timestamp shifted by the given number of milliseconds.
func (d DeviceTime) AddMillis(ms int64) DeviceTime {
	return DeviceTime{d.Add(time.Duration(ms) * time.Millisecond)}
}

// MillisInDay returns the number of milliseconds elapsed since midnight on
// the timestamp's own day.
func (d DeviceTime) MillisInDay() int64 {
	ms := int64(d.Hour()) * 60 * 60 * 1000
	ms += int64(d.Minute()) * 60 * 1000
	ms += int64(d.Second()) * 1000
	ms += int64(d.Nanosecond() / 1e6)
	return ms
}

// StartOfDay returns midnight on the timestamp's day.
func (d DeviceTime) StartOfDay() DeviceTime {
	return d.AddMillis(-d.MillisInDay())
}

// MillisBetween returns to - from in milliseconds.
func MillisBetween(from, to DeviceTime) int64 {
	return to.UnixMilli() - from.UnixMilli()
}

// Compare orders two timestamps, earliest first.
func (d DeviceTime) Compare(other DeviceTime) int {
	return d.Time.Compare(other.Time)
}
