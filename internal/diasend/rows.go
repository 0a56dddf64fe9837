package diasend

import (
	"github.com/diastream/diastream-cli/internal/models"
	"github.com/diastream/diastream-cli/internal/parsing"
)

// Sheet names of the diasend export tabs.
const (
	sheetGlucose    = "Name and glucose"
	sheetCGM        = "CGM"
	sheetInsulinUse = "Insulin use and carbs"
	sheetSettings   = "Insulin pump settings"
)

const (
	colSheet      = "sheetName"
	colDeviceTime = "deviceTime"
	colUnits      = "units"
	colValue      = "value"

	colBasalRate   = "Basal Amount (U/h)"
	colCarbs       = "Carbs(g)"
	colBolusType   = "Bolus Type"
	colBolusVolume = "Bolus Volume (U)"
	colImmediate   = "Immediate Volume (U)"
	colExtended    = "Extended Volume (U)"
	colDurationMin = "Duration (min)"
)

const extendedBolus = "diasend/bolus/extended"

func normalizeBgUnits(u string) string {
	switch u {
	case "mmol/l":
		return "mmol/L"
	case "mg/dl", "mg dl":
		return "mg/dL"
	default:
		return u
	}
}

func baseEvent(rec parsing.Record, typ string) (models.Event, error) {
	ts, err := rec.Time(colDeviceTime)
	if err != nil {
		return models.Event{}, err
	}
	return models.Event{Type: typ, DeviceTime: ts}, nil
}

func buildGlucose(rec parsing.Record, typ string) (*models.Event, error) {
	e, err := baseEvent(rec, typ)
	if err != nil {
		return nil, err
	}
	v, err := rec.Number(colValue)
	if err != nil {
		return nil, err
	}
	e.Value = models.Float(v)
	e.Units = &models.Units{BG: normalizeBgUnits(rec.Optional(colUnits))}
	return &e, nil
}

// buildInsulinUse dispatches on which columns the row carries: the insulin
// sheet mixes basal rate changes, carb entries and boluses in one table.
func buildInsulinUse(rec parsing.Record) (*models.Event, error) {
	switch {
	case rec.Has(colBasalRate):
		e, err := baseEvent(rec, models.TypeBasal)
		if err != nil {
			return nil, err
		}
		e.DeliveryType = models.DeliveryScheduled
		e.ScheduleName = "unknown"
		rate, err := rec.Number(colBasalRate)
		if err != nil {
			return nil, err
		}
		e.Rate = models.Float(rate)
		return &e, nil

	case rec.Has(colCarbs):
		e, err := baseEvent(rec, models.TypeWizard)
		if err != nil {
			return nil, err
		}
		carbs, err := rec.Number(colCarbs)
		if err != nil {
			return nil, err
		}
		e.CarbInput = models.Float(carbs)
		e.Units = &models.Units{Carb: "grams"}
		return &e, nil

	case rec.Optional(colBolusType) == "Normal":
		e, err := baseEvent(rec, models.TypeBolus)
		if err != nil {
			return nil, err
		}
		e.SubType = models.BolusNormal
		vol, err := rec.Number(colBolusVolume)
		if err != nil {
			return nil, err
		}
		e.Normal = models.Float(vol)
		return &e, nil

	case rec.Optional(colBolusType) == "Combination":
		e, err := baseEvent(rec, models.TypeBolus)
		if err != nil {
			return nil, err
		}
		e.SubType = models.BolusSquare
		vol, err := rec.Number(colBolusVolume)
		if err != nil {
			return nil, err
		}
		e.Value = models.Float(vol)
		if rec.Has(colImmediate) {
			imm, err := rec.Number(colImmediate)
			if err != nil {
				return nil, err
			}
			e.Immediate = models.Float(imm)
		}
		if rec.Has(colExtended) {
			ext, err := rec.Number(colExtended)
			if err != nil {
				return nil, err
			}
			e.Extended = models.Float(ext)
		}
		minutes, err := rec.Number(colDurationMin)
		if err != nil {
			return nil, err
		}
		e.Duration = models.Int64(int64(minutes * 60 * 1000))
		e.Annotate(extendedBolus)
		return &e, nil
	}

	// Rows carrying only totals or prime volumes have no event shape.
	return nil, nil
}

// ParseRow turns one export row into an event, or nil when the row carries
// nothing this pipeline models.
func ParseRow(rec parsing.Record) (*models.Event, error) {
	switch rec.Optional(colSheet) {
	case sheetGlucose:
		return buildGlucose(rec, models.TypeSmbg)
	case sheetCGM:
		return buildGlucose(rec, models.TypeCbg)
	case sheetInsulinUse:
		return buildInsulinUse(rec)
	default:
		return nil, nil
	}
}
