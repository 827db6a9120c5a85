// Package timetable implements the trip-numbering scheme and service-day
// time arithmetic shared by the live pipeline and the static bundle builder.
// Both sides must derive identical trip ids for realtime and static data to
// agree, so neither may number trips on its own.
package timetable

import (
	"fmt"
	"sort"
)

// TripStart is one trip descriptor from start_times.json: a start time as an
// HHMM integer (e.g. 450 for 04:50) and a duration in minutes.
type TripStart struct {
	Start    int `json:"start"`
	Duration int `json:"duration"`
}

// TripTiming pairs a synthesized trip id with its start rendered "HH:MM:SS".
type TripTiming struct {
	Start  string
	TripID string
}

// Numberer hands out trip ids of the form "<child_id>_<n>", n counting
// 1-based across all trips that share a child_id regardless of route key.
type Numberer struct {
	used map[string]struct{}
}

func NewNumberer() *Numberer {
	return &Numberer{used: make(map[string]struct{})}
}

func (n *Numberer) Next(childID int) string {
	i := 1
	for {
		id := fmt.Sprintf("%d_%d", childID, i)
		if _, taken := n.used[id]; !taken {
			n.used[id] = struct{}{}
			return id
		}
		i++
	}
}

// TripTimings derives the route_key → trip timing list for every route key
// present in children. Route keys are visited in sorted order so the
// numbering is deterministic across processes and calls.
func TripTimings(startTimes map[string][]TripStart, children map[string]int) map[string][]TripTiming {
	keys := make([]string, 0, len(children))
	for k := range children {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	num := NewNumberer()
	out := make(map[string][]TripTiming)
	for _, routeKey := range keys {
		childID := children[routeKey]
		for _, trip := range startTimes[routeKey] {
			out[routeKey] = append(out[routeKey], TripTiming{
				Start:  fmt.Sprintf("%02d:%02d:00", trip.Start/100, trip.Start%100),
				TripID: num.Next(childID),
			})
		}
	}
	return out
}

// AddMinutes advances an HHMM integer by the given minutes. There is no
// wraparound: times past midnight overflow beyond 2400, as GTFS service-day
// times require (e.g. 2350 + 60 = 2450).
func AddMinutes(hhmm, minutes int) int {
	total := (hhmm/100)*60 + hhmm%100 + minutes
	return (total/60)*100 + total%60
}

// Interpolate distributes stop times along a trip proportionally to each
// stop's distance from the origin: start + duration*distance/totalDistance.
func Interpolate(start, duration int, distances []float64) []int {
	var total float64
	for _, d := range distances {
		if d > total {
			total = d
		}
	}
	times := make([]int, len(distances))
	for i, d := range distances {
		offset := 0
		if total > 0 {
			offset = int(float64(duration)*d/total + 0.5)
		}
		times[i] = AddMinutes(start, offset)
	}
	return times
}

// TimeString renders an HHMM integer as "HH:MM:SS" with the given seconds
// field, preserving hours ≥ 24.
func TimeString(hhmm, seconds int) string {
	return fmt.Sprintf("%02d:%02d:%02d", hhmm/100, hhmm%100, seconds)
}
