// Package static builds the daily transit schedule bundle from the curated
// input files and keeps the shared route maps in sync with them.
package static

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bengawalk/kia-engine/internal/timetable"
)

// StopInput is one stop in client_stops.json.
type StopInput struct {
	Name     string    `json:"name"`
	NameKn   string    `json:"name_kn"`
	Loc      []float64 `json:"loc"` // [lat, lon]
	Distance float64   `json:"distance"`
	StopID   string    `json:"stop_id,omitempty"`
}

// RouteStops is the per-route stop list in client_stops.json.
type RouteStops struct {
	Stops []StopInput `json:"stops"`
}

// TimedTrip is one precomputed trip in times.json: explicit per-stop HHMM
// times instead of interpolation.
type TimedTrip struct {
	Start    int   `json:"start"`
	Duration int   `json:"duration"`
	Stops    []int `json:"stops"`
}

// Inputs holds the six curated input files. Absent files load as empty.
type Inputs struct {
	ClientStops    map[string]RouteStops
	RoutesChildren map[string]int
	RoutesParent   map[string]int
	StartTimes     map[string][]timetable.TripStart
	RouteLines     map[string]string
	Times          map[string][]TimedTrip
}

// LoadInputs reads the input files from dir. A missing file is not an
// error; a malformed one is.
func LoadInputs(dir string) (*Inputs, error) {
	in := &Inputs{
		ClientStops:    make(map[string]RouteStops),
		RoutesChildren: make(map[string]int),
		RoutesParent:   make(map[string]int),
		StartTimes:     make(map[string][]timetable.TripStart),
		RouteLines:     make(map[string]string),
		Times:          make(map[string][]TimedTrip),
	}

	for name, target := range map[string]any{
		"client_stops.json":        &in.ClientStops,
		"routes_children_ids.json": &in.RoutesChildren,
		"routes_parent_ids.json":   &in.RoutesParent,
		"start_times.json":         &in.StartTimes,
		"routelines.json":          &in.RouteLines,
		"times.json":               &in.Times,
	} {
		if err := loadJSON(filepath.Join(dir, name), target); err != nil {
			return nil, err
		}
	}
	return in, nil
}

func loadJSON(path string, target any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
