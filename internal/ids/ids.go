// Package ids derives content-addressed identifiers for normalized events.
// The same event always hashes to the same id, so repeated imports of the
// same export produce identical records instead of duplicates.
package ids

import (
	"crypto/sha1"
	"encoding/base32"
	"fmt"
	"io"
	"strconv"

	"github.com/diastream/diastream-cli/internal/models"
	"github.com/diastream/diastream-cli/internal/stream"
)

// base32hex with a lowercase alphabet. A sha1 digest is 160 bits, which
// encodes to exactly 32 characters, so padding never comes into play.
var encoding = base32.NewEncoding("0123456789abcdefghijklmnopqrstuv").WithPadding(base32.NoPadding)

// Hash digests the given values in order and encodes the result.
func Hash(vals ...string) string {
	h := sha1.New()
	for _, v := range vals {
		io.WriteString(h, v)
	}
	return encoding.EncodeToString(h.Sum(nil))
}

// JoinKey derives the key that ties the records of one pump interaction
// together. It is computed from the raw upload coordinates, before ids are
// assigned, so joined groups survive re-imports of the same export.
func JoinKey(uploadID string, uploadSeqNum int64, deviceID string) string {
	return Hash(uploadID, strconv.FormatInt(uploadSeqNum, 10), deviceID)
}

type fieldGetter func(e models.Event) (string, error)

func field(name string, get func(e models.Event) string) fieldGetter {
	return func(e models.Event) (string, error) {
		v := get(e)
		if v == "" {
			return "", fmt.Errorf("%w: unable to make id for %s event at %s, no %s",
				stream.ErrIllegalState, e.Type, e.DeviceTime, name)
		}
		return v, nil
	}
}

var (
	typeField     = field("type", func(e models.Event) string { return e.Type })
	subTypeField  = field("subType", func(e models.Event) string { return e.SubType })
	deliveryField = field("deliveryType", func(e models.Event) string { return e.DeliveryType })
	deviceIDField = field("deviceId", func(e models.Event) string { return e.DeviceID })
	timeField     = field("deviceTime", func(e models.Event) string {
		if e.DeviceTime.IsZero() {
			return ""
		}
		return e.DeviceTime.String()
	})
)

var idFields = map[string][]fieldGetter{
	models.TypeBasal:      {typeField, deliveryField, deviceIDField, timeField},
	models.TypeBolus:      {typeField, subTypeField, deviceIDField, timeField},
	models.TypeWizard:     {typeField, deviceIDField, timeField},
	models.TypeCbg:        {typeField, deviceIDField, timeField},
	models.TypeSmbg:       {typeField, deviceIDField, timeField},
	models.TypeSettings:   {typeField, deviceIDField, timeField},
	models.TypeDeviceMeta: {typeField, subTypeField, timeField},
}

// ForEvent computes the id for a single event from the identity fields of
// its type. Events with an id already set keep it.
func ForEvent(e models.Event) (string, error) {
	if e.ID != "" {
		return e.ID, nil
	}
	getters, ok := idFields[e.Type]
	if !ok {
		return "", fmt.Errorf("%w: unknown event type %q for id assignment at %s",
			stream.ErrIllegalState, e.Type, e.DeviceTime)
	}
	vals := make([]string, len(getters))
	for i, get := range getters {
		v, err := get(e)
		if err != nil {
			return "", err
		}
		vals[i] = v
	}
	return Hash(vals...), nil
}

// Assign builds the stage that stamps every event with its id.
func Assign() stream.Stage {
	return stream.Map(func(e models.Event) (models.Event, error) {
		id, err := ForEvent(e)
		if err != nil {
			return models.Event{}, err
		}
		e.ID = id
		return e, nil
	})
}
