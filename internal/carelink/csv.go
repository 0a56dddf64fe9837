package carelink

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/diastream/diastream-cli/internal/models"
	"github.com/diastream/diastream-cli/internal/parsing"
)

// ErrBadExport is returned when an input file is not a carelink CSV export.
var ErrBadExport = errors.New("malformed carelink export")

// Preamble and row timestamps use the US short form, unlike the normalized
// deviceTime values the builders consume.
const exportTimeLayout = "01/02/06 15:04:05"

const colTimestamp = "Timestamp"

// Export is one parsed carelink CSV: the declared data range plus the raw
// rows, keyed by header column, in file order.
type Export struct {
	StartTime models.DeviceTime
	EndTime   models.DeviceTime
	Records   []parsing.Record
}

func parseExportTime(v string) (models.DeviceTime, error) {
	ts, err := time.Parse(exportTimeLayout, strings.TrimSpace(v))
	if err != nil {
		return models.DeviceTime{}, fmt.Errorf("%w: bad timestamp %q", ErrBadExport, v)
	}
	return models.NewDeviceTime(ts.Year(), ts.Month(), ts.Day(), ts.Hour(), ts.Minute(), ts.Second()), nil
}

// ReadExport parses a carelink CSV export. The file opens with a preamble of
// account metadata that is skipped until the "Data Range" line, whose two
// timestamps bound the export; the header row and data rows follow.
func ReadExport(r io.Reader) (*Export, error) {
	buf := bufio.NewReader(r)

	export := &Export{}
	for {
		line, err := buf.ReadString('\n')
		if strings.HasPrefix(line, "Data Range,") {
			if err := parseDataRange(line, export); err != nil {
				return nil, err
			}
			break
		}
		if err == io.EOF {
			return nil, fmt.Errorf("%w: no data range line", ErrBadExport)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read export preamble: %w", err)
		}
	}

	if err := readExportRows(buf, export); err != nil {
		return nil, err
	}
	return export, nil
}

func parseDataRange(line string, export *Export) error {
	fields := strings.Split(strings.TrimRight(line, "\r\n"), ",")
	if len(fields) < 2 || strings.TrimSpace(fields[1]) == "" {
		return fmt.Errorf("%w: truncated data range line", ErrBadExport)
	}
	start, err := parseExportTime(fields[1])
	if err != nil {
		return err
	}
	export.StartTime = start
	if len(fields) > 2 && strings.TrimSpace(fields[2]) != "" {
		end, err := parseExportTime(fields[2])
		if err != nil {
			return err
		}
		export.EndTime = end
	}
	return nil
}

func readExportRows(r io.Reader, export *Export) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var header []string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read export row: %w", err)
		}
		if isBlankRow(row) {
			continue
		}
		if header == nil {
			header = row
			continue
		}
		rec := parsing.Record{}
		for i, col := range header {
			if i >= len(row) {
				break
			}
			if v := strings.TrimSpace(row[i]); v != "" {
				rec[col] = v
			}
		}
		if err := stampDeviceTime(rec); err != nil {
			return err
		}
		export.Records = append(export.Records, rec)
	}
	if header == nil {
		return fmt.Errorf("%w: no header row", ErrBadExport)
	}
	return nil
}

func isBlankRow(row []string) bool {
	for _, f := range row {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// stampDeviceTime rewrites the row timestamp into the normalized deviceTime
// key every builder reads.
func stampDeviceTime(rec parsing.Record) error {
	raw, ok := rec[colTimestamp]
	if !ok {
		return nil
	}
	ts, err := parseExportTime(raw)
	if err != nil {
		return err
	}
	rec[colDeviceTime] = ts.String()
	return nil
}
