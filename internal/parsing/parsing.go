// Package parsing turns raw export rows into typed values. A Record is one
// flat row keyed by column name; vendor packages register per-row-type
// builders against a discriminator column and get back normalized events.
package parsing

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/diastream/diastream-cli/internal/models"
)

// ErrMissingField is returned when a builder needs a column the row does not
// carry. Builders treat it as fatal; a row type we claim to understand must
// have its identity fields.
var ErrMissingField = errors.New("missing field")

// Record is one raw row, keyed by column name. Empty values are stored as
// empty strings and treated as absent.
type Record map[string]string

// Has reports whether the record carries a non-empty value for name.
func (r Record) Has(name string) bool {
	return r[name] != ""
}

// Optional returns the value for name, or "" when absent.
func (r Record) Optional(name string) string {
	return r[name]
}

// String returns the value for name, failing when absent.
func (r Record) String(name string) (string, error) {
	v := r[name]
	if v == "" {
		return "", fmt.Errorf("%w: %q", ErrMissingField, name)
	}
	return v, nil
}

// Lower returns the value for name lowercased.
func (r Record) Lower(name string) (string, error) {
	v, err := r.String(name)
	if err != nil {
		return "", err
	}
	return strings.ToLower(v), nil
}

// Number parses the value for name as a float.
func (r Record) Number(name string) (float64, error) {
	v, err := r.String(name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse field %q value %q as number: %w", name, v, err)
	}
	return n, nil
}

// Int parses the value for name as an integer. Exports sometimes render
// integers with a trailing ".0", so a float parse that lands on a whole
// number is accepted.
func (r Record) Int(name string) (int64, error) {
	n, err := r.Number(name)
	if err != nil {
		return 0, err
	}
	i := int64(n)
	if float64(i) != n {
		return 0, fmt.Errorf("field %q value %v is not an integer", name, n)
	}
	return i, nil
}

// Time parses the value for name in the device clock layout.
func (r Record) Time(name string) (models.DeviceTime, error) {
	v, err := r.String(name)
	if err != nil {
		return models.DeviceTime{}, err
	}
	ts, err := models.ParseDeviceTime(v)
	if err != nil {
		return models.DeviceTime{}, fmt.Errorf("failed to parse field %q: %w", name, err)
	}
	return ts, nil
}

// ParseRawValues unpacks a packed subfield column of the form
// "KEY=VALUE, KEY=VALUE, ...". Values may themselves contain commas; a
// comma-separated chunk without an equals sign belongs to the preceding
// value.
func ParseRawValues(packed string) Record {
	out := Record{}
	if packed == "" {
		return out
	}
	var lastKey string
	for _, chunk := range strings.Split(packed, ",") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		eq := strings.Index(chunk, "=")
		if eq < 0 {
			if lastKey != "" {
				out[lastKey] = out[lastKey] + ", " + chunk
			}
			continue
		}
		lastKey = chunk[:eq]
		out[lastKey] = chunk[eq+1:]
	}
	return out
}

// Builder converts one record into a normalized event.
type Builder func(rec Record) (models.Event, error)

// Registry routes records to builders by the value of one discriminator
// column. Rows whose discriminator value has no registered builder are
// skipped, not errors; exports carry plenty of row types we do not model.
type Registry struct {
	field    string
	builders map[string]Builder
}

// NewRegistry builds a registry discriminating on the given column.
func NewRegistry(field string) *Registry {
	return &Registry{field: field, builders: map[string]Builder{}}
}

// When registers the builder used for rows where the discriminator column
// equals value. Registering the same value twice is a programming error.
func (r *Registry) When(value string, b Builder) *Registry {
	if _, dup := r.builders[value]; dup {
		panic(fmt.Sprintf("parsing: duplicate builder for %s=%q", r.field, value))
	}
	r.builders[value] = b
	return r
}

// Parse converts one record, returning nil for rows with no builder.
func (r *Registry) Parse(rec Record) (*models.Event, error) {
	b, ok := r.builders[rec[r.field]]
	if !ok {
		return nil, nil
	}
	e, err := b(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s=%q row: %w", r.field, rec[r.field], err)
	}
	return &e, nil
}
