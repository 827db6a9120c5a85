package static

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bengawalk/kia-engine/internal/timetable"
)

// ConvertTimingsTSV rebuilds start_times.json from the curated timings TSV
// (route, space-separated "HH:MM" starts, "H:MM" duration). A missing TSV is
// not an error; the existing JSON stays in place.
func ConvertTimingsTSV(tsvPath, jsonPath string, log zerolog.Logger) error {
	f, err := os.Open(tsvPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", tsvPath, err)
	}
	defer f.Close()

	result := make(map[string][]timetable.TripStart)

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo == 1 {
			continue // header
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Split(line, "\t")
		if len(parts) != 3 {
			log.Warn().Int("line", lineNo).Msg("malformed timings row, skipping")
			continue
		}

		routeKey := strings.TrimSpace(parts[0])
		duration, ok := clockToMinutes(parts[2])
		if !ok {
			log.Warn().Int("line", lineNo).Str("duration", parts[2]).Msg("bad duration, skipping row")
			continue
		}

		var entries []timetable.TripStart
		for _, t := range strings.Fields(parts[1]) {
			start, ok := clockToHHMM(t)
			if !ok {
				log.Warn().Int("line", lineNo).Str("time", t).Msg("bad start time, skipping")
				continue
			}
			entries = append(entries, timetable.TripStart{Start: start, Duration: duration})
		}
		if len(entries) > 0 {
			result[routeKey] = entries
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", tsvPath, err)
	}

	data, err := json.MarshalIndent(result, "", "    ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", jsonPath, err)
	}

	log.Info().Int("routes", len(result)).Str("path", jsonPath).Msg("start times converted")
	return nil
}

// clockToHHMM converts "H:MM" into an HHMM integer.
func clockToHHMM(s string) (int, bool) {
	hh, mm, ok := splitClock(s)
	if !ok {
		return 0, false
	}
	return hh*100 + mm, true
}

// clockToMinutes converts "H:MM" into total minutes.
func clockToMinutes(s string) (int, bool) {
	hh, mm, ok := splitClock(s)
	if !ok {
		return 0, false
	}
	return hh*60 + mm, true
}

func splitClock(s string) (int, int, bool) {
	var hh, mm int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &hh, &mm); err != nil {
		return 0, 0, false
	}
	if hh < 0 || mm < 0 || mm > 59 {
		return 0, 0, false
	}
	return hh, mm, true
}
