package recorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/diastream/diastream-cli/internal/models"
)

// Read decodes an NDJSON event stream. Blank lines are skipped; a malformed
// line fails the whole read with its line number.
func Read(r io.Reader) ([]models.Event, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var events []models.Event
	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		var e models.Event
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to parse event on line %d: %w", line, err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read event stream: %w", err)
	}
	return events, nil
}

// ReadFile decodes a whole NDJSON file.
func ReadFile(filename string) ([]models.Event, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open event file: %w", err)
	}
	defer file.Close()
	return Read(file)
}
