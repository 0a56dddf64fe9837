package carelink

import (
	"github.com/diastream/diastream-cli/internal/models"
	"github.com/diastream/diastream-cli/internal/stream"
)

// PairTempStops rewrites zero-duration temp basals into explicit temp-stop
// markers pointing at the temp they cancel. A zero-duration temp with no
// temp in flight is noise from the export and is dropped.
func PairTempStops() stream.Stage {
	var currTemp *models.Event

	return stream.Keep(func(e models.Event) (*models.Event, error) {
		if e.Type != models.TypeBasal || e.DeliveryType != models.DeliveryTemp {
			return &e, nil
		}

		if e.Duration == nil || *e.Duration != 0 {
			temp := e
			currTemp = &temp
			return &e, nil
		}

		if currTemp == nil {
			return nil, nil
		}
		stop := models.Event{
			Type:         models.TypeBasal,
			DeliveryType: models.DeliveryTempStop,
			DeviceTime:   e.DeviceTime,
			DeviceID:     e.DeviceID,
			Source:       e.Source,
			TempID:       currTemp.ID,
		}
		currTemp = nil
		return &stop, nil
	})
}
