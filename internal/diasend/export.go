package diasend

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/diastream/diastream-cli/internal/models"
	"github.com/diastream/diastream-cli/internal/parsing"
)

// ErrBadExport is returned when an input file is not a diasend CSV export.
var ErrBadExport = errors.New("malformed diasend export")

// Row timestamps are day-first; the preamble date range carries dates only.
const (
	rowTimeLayout   = "02/01/2006 15:04"
	rangeDateLayout = "02/01/2006"
)

// Export is one parsed diasend CSV: the declared date range, the pump
// settings block, and the data rows of every tab keyed by header column.
type Export struct {
	StartTime models.DeviceTime
	EndTime   models.DeviceTime
	DeviceID  string
	Settings  *models.Event
	Records   []parsing.Record
}

func isSheetTitle(row []string) (string, bool) {
	if len(row) == 0 {
		return "", false
	}
	switch row[0] {
	case sheetGlucose, sheetCGM, sheetInsulinUse, sheetSettings:
		for _, f := range row[1:] {
			if strings.TrimSpace(f) != "" {
				return "", false
			}
		}
		return row[0], true
	}
	return "", false
}

// ReadExport parses a diasend export saved as one CSV file: the workbook's
// tabs appear in sequence, each introduced by a row holding only the tab
// name.
func ReadExport(r io.Reader) (*Export, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var sections []section
	var curr *section
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read export row: %w", err)
		}
		if name, ok := isSheetTitle(row); ok {
			sections = append(sections, section{name: name})
			curr = &sections[len(sections)-1]
			continue
		}
		if curr != nil {
			curr.rows = append(curr.rows, row)
		}
	}
	if len(sections) == 0 {
		return nil, fmt.Errorf("%w: no sheet sections", ErrBadExport)
	}

	export := &Export{}
	for _, s := range sections {
		var err error
		switch s.name {
		case sheetGlucose:
			err = readGlucoseSection(s, export)
		case sheetCGM:
			err = readGlucoseSection(s, export)
		case sheetInsulinUse:
			err = readTableSection(s, export)
		case sheetSettings:
			export.Settings, err = parseSettings(s.rows)
			if err == nil && export.Settings != nil {
				export.DeviceID = export.Settings.DeviceID
			}
		}
		if err != nil {
			return nil, err
		}
	}
	return export, nil
}

type section struct {
	name string
	rows [][]string
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func parseDateRange(v string, export *Export) error {
	parts := strings.Split(v, " to ")
	if len(parts) != 2 {
		return fmt.Errorf("%w: bad date range %q", ErrBadExport, v)
	}
	start, err := time.Parse(rangeDateLayout, strings.TrimSpace(parts[0]))
	if err != nil {
		return fmt.Errorf("%w: bad date range %q", ErrBadExport, v)
	}
	end, err := time.Parse(rangeDateLayout, strings.TrimSpace(parts[1]))
	if err != nil {
		return fmt.Errorf("%w: bad date range %q", ErrBadExport, v)
	}
	export.StartTime = models.NewDeviceTime(start.Year(), start.Month(), start.Day(), 0, 0, 0)
	export.EndTime = models.NewDeviceTime(end.Year(), end.Month(), end.Day(), 0, 0, 0)
	return nil
}

// readGlucoseSection handles the two glucose tabs: an optional date-range
// row precedes a two-column header whose second cell names the unit.
func readGlucoseSection(s section, export *Export) error {
	i := 0
	for ; i < len(s.rows); i++ {
		row := s.rows[i]
		if cell(row, 0) == "Time" {
			break
		}
		if strings.Contains(cell(row, 1), " to ") {
			if err := parseDateRange(cell(row, 1), export); err != nil {
				return err
			}
		}
	}
	if i == len(s.rows) {
		return fmt.Errorf("%w: sheet %q has no header row", ErrBadExport, s.name)
	}

	units := cell(s.rows[i], 1)
	for _, row := range s.rows[i+1:] {
		if cell(row, 0) == "" {
			continue
		}
		rec := parsing.Record{
			colSheet: s.name,
			colUnits: units,
			colValue: cell(row, 1),
		}
		if err := stampDeviceTime(rec, cell(row, 0)); err != nil {
			return err
		}
		export.Records = append(export.Records, rec)
	}
	return nil
}

// readTableSection handles the plain tabular tabs: first row is the header.
func readTableSection(s section, export *Export) error {
	if len(s.rows) == 0 {
		return fmt.Errorf("%w: sheet %q has no header row", ErrBadExport, s.name)
	}
	header := s.rows[0]
	for _, row := range s.rows[1:] {
		rec := parsing.Record{colSheet: s.name}
		for i, col := range header {
			if v := cell(row, i); v != "" {
				rec[col] = v
			}
		}
		if len(rec) == 1 {
			continue
		}
		if ts, ok := rec["Time"]; ok {
			if err := stampDeviceTime(rec, ts); err != nil {
				return err
			}
			delete(rec, "Time")
		}
		export.Records = append(export.Records, rec)
	}
	return nil
}

func stampDeviceTime(rec parsing.Record, raw string) error {
	ts, err := time.Parse(rowTimeLayout, raw)
	if err != nil {
		return fmt.Errorf("%w: bad row timestamp %q", ErrBadExport, raw)
	}
	rec[colDeviceTime] = models.NewDeviceTime(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), ts.Minute(), 0).String()
	return nil
}

// clockToMillis converts a schedule offset like "06:00" to milliseconds
// past midnight.
func clockToMillis(v string) (int64, error) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: bad schedule offset %q", ErrBadExport, v)
	}
	var total int64
	for _, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: bad schedule offset %q", ErrBadExport, v)
		}
		total = total*60 + n
	}
	if len(parts) == 2 {
		total *= 60
	}
	return total * 1000, nil
}

// numberedRows reads the indexed entries that follow a settings section
// title: the title row, a column header row, then rows numbered from 1 in
// the first column. It returns the parsed rows and the index of the first
// row past the entries.
func numberedRows(rows [][]string, start int) ([][]string, int, error) {
	i := start + 2
	var out [][]string
	for ; i < len(rows); i++ {
		idx, err := strconv.Atoi(cell(rows[i], 0))
		if err != nil {
			break
		}
		if idx != len(out)+1 {
			return nil, 0, fmt.Errorf("%w: entry %d out of order in row %d", ErrBadExport, idx, i)
		}
		out = append(out, rows[i])
	}
	return out, i, nil
}

func parseSettings(rows [][]string) (*models.Event, error) {
	e := &models.Event{
		Type:           models.TypeSettings,
		Units:          &models.Units{},
		BasalSchedules: map[string][]models.ScheduleEntry{},
	}

	for i := 0; i < len(rows); i++ {
		switch cell(rows[i], 0) {
		case "Insulin pump settings for Serial number:":
			e.DeviceID = cell(rows[i], 1)

		case "Active basal program":
			e.ActiveBasalSchedule = "Program " + cell(rows[i], 1)

		case "BG unit":
			e.Units.BG = normalizeBgUnits(cell(rows[i], 1))

		case "Basal profiles":
			next, err := parseBasalPrograms(rows, i+1, e)
			if err != nil {
				return nil, err
			}
			i = next - 1

		case "I:C ratio settings":
			entries, next, err := numberedRows(rows, i)
			if err != nil {
				return nil, err
			}
			for _, row := range entries {
				start, amount, err := offsetAndAmount(row)
				if err != nil {
					return nil, err
				}
				e.CarbRatio = append(e.CarbRatio, models.CarbRatioEntry{Amount: amount, Start: start})
			}
			i = next - 1

		case "ISF programs":
			entries, next, err := numberedRows(rows, i)
			if err != nil {
				return nil, err
			}
			for _, row := range entries {
				start, amount, err := offsetAndAmount(row)
				if err != nil {
					return nil, err
				}
				e.InsulinSensitivities = append(e.InsulinSensitivities, models.SensitivityEntry{Amount: amount, Start: start})
			}
			i = next - 1

		case "BG target range settings":
			entries, next, err := numberedRows(rows, i)
			if err != nil {
				return nil, err
			}
			for _, row := range entries {
				start, target, err := offsetAndAmount(row)
				if err != nil {
					return nil, err
				}
				spread, err := strconv.ParseFloat(strings.TrimPrefix(cell(row, 3), "+/- "), 64)
				if err != nil {
					return nil, fmt.Errorf("%w: bad target range %q", ErrBadExport, cell(row, 3))
				}
				e.BGTargets = append(e.BGTargets, models.BGTargetEntry{
					Low:   target - spread,
					High:  target + spread,
					Start: start,
				})
			}
			i = next - 1
		}
	}

	if e.DeviceID == "" {
		return nil, fmt.Errorf("%w: settings block has no serial number", ErrBadExport)
	}
	return e, nil
}

func offsetAndAmount(row []string) (int64, float64, error) {
	start, err := clockToMillis(cell(row, 1))
	if err != nil {
		return 0, 0, err
	}
	amount, err := strconv.ParseFloat(cell(row, 2), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: bad settings amount %q", ErrBadExport, cell(row, 2))
	}
	return start, amount, nil
}

// parseBasalPrograms reads the four numbered basal programs the pump
// exports, each introduced by a "Program: N" row.
func parseBasalPrograms(rows [][]string, start int, e *models.Event) (int, error) {
	i := start
	for program := 1; program <= 4; program++ {
		title := fmt.Sprintf("Program: %d", program)
		for i < len(rows) && cell(rows[i], 0) != title {
			i++
		}
		if i == len(rows) {
			return 0, fmt.Errorf("%w: basal profiles block is missing %q", ErrBadExport, title)
		}
		entries, next, err := numberedRows(rows, i)
		if err != nil {
			return 0, err
		}
		schedule := make([]models.ScheduleEntry, 0, len(entries))
		for _, row := range entries {
			startMs, rate, err := offsetAndAmount(row)
			if err != nil {
				return 0, err
			}
			schedule = append(schedule, models.ScheduleEntry{Rate: rate, Start: startMs})
		}
		e.BasalSchedules[fmt.Sprintf("Program %d", program)] = schedule
		i = next
	}
	return i, nil
}
