package live

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/proto"

	"github.com/bengawalk/kia-engine/internal/state"
	"github.com/bengawalk/kia-engine/internal/upstream"
)

// matchWindow is how far a vehicle's reported trip start may sit from the
// job's trip time and still count as the same trip.
const matchWindow = 2 * time.Minute

// StopEvent is a completed stop visit recorded for later analysis.
type StopEvent struct {
	StopID             string
	TripID             string
	RouteID            string
	Date               string // "YYYY-MM-DD"
	ActualArrival      string
	ActualDeparture    string
	ScheduledArrival   string
	ScheduledDeparture string
}

// VehicleFix is a single observed vehicle position.
type VehicleFix struct {
	TripID    string
	VehicleID string
	RouteID   string
	Latitude  float64
	Longitude float64
	Timestamp int64
}

// EventStore persists completed stop events and vehicle positions. Inserts
// are idempotent. A nil store disables persistence.
type EventStore interface {
	RecordStopEvent(ctx context.Context, ev StopEvent) error
	RecordVehicleFix(ctx context.Context, fix VehicleFix) error
}

// Transformer folds upstream stop records into realtime feed entities. The
// entity buffer is process-wide and keyed by trip id: entities for a trip
// persist across polls of other trips, so a vehicle does not vanish from the
// feed between polls, and are dropped just before that trip re-emits.
type Transformer struct {
	mu       sync.Mutex
	entities map[string]*gtfsrt.FeedEntity

	store EventStore
	log   zerolog.Logger
}

func NewTransformer(store EventStore, log zerolog.Logger) *Transformer {
	return &Transformer{
		entities: make(map[string]*gtfsrt.FeedEntity),
		store:    store,
		log:      log.With().Str("component", "transformer").Logger(),
	}
}

// vehicleGroup collects the stop records matched to one vehicle, each
// augmented with that vehicle's schedule and actual times at the stop.
type vehicleGroup struct {
	vehicle upstream.VehicleDetail
	stops   []stopTimes
}

type stopTimes struct {
	stationID       int
	schArrival      string
	schDeparture    string
	actualArrival   string
	actualDeparture string
}

// Transform matches the response against one candidate job and refreshes the
// entity buffer for that job's trip. It returns the buffer snapshot to
// publish and whether this call matched any vehicle.
func (t *Transformer) Transform(apiStops []upstream.StopRecord, job state.Job) ([]*gtfsrt.FeedEntity, bool) {
	groups := make(map[string]*vehicleGroup)
	var order []string

	for _, stop := range apiStops {
		if strconv.Itoa(stop.RouteID) != job.RouteID {
			continue
		}
		for _, vehicle := range stop.VehicleDetails {
			if vehicle.VehicleID == 0 {
				continue
			}
			schTrip, ok := anchorClock(vehicle.SchTripStartTime, job.TripTime)
			if !ok {
				continue
			}
			diff := schTrip.Sub(job.TripTime)
			if diff < 0 {
				diff = -diff
			}
			if diff > matchWindow {
				continue
			}

			id := strconv.FormatInt(vehicle.VehicleID, 10)
			g, exists := groups[id]
			if !exists {
				g = &vehicleGroup{vehicle: vehicle}
				groups[id] = g
				order = append(order, id)
			}
			g.stops = append(g.stops, stopTimes{
				stationID:       stop.StationID,
				schArrival:      vehicle.SchArrivalTime,
				schDeparture:    vehicle.SchDepartureTime,
				actualArrival:   vehicle.ActualArrivalTime,
				actualDeparture: vehicle.ActualDepartureTime,
			})
		}
	}

	t.mu.Lock()
	delete(t.entities, job.TripID)
	matched := false
	for _, id := range order {
		g := groups[id]
		entity, err := t.buildEntity(g.vehicle, job, g.stops)
		if err != nil {
			t.log.Warn().Err(err).Str("vehicle", id).Str("trip_id", job.TripID).Msg("skipping vehicle")
			continue
		}
		t.entities[job.TripID] = entity
		matched = true
	}
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	if matched && t.store != nil {
		for _, id := range order {
			t.recordEvents(groups[id], job)
		}
	}

	return snapshot, matched
}

// Snapshot returns the current entity buffer, ordered by trip id.
func (t *Transformer) Snapshot() []*gtfsrt.FeedEntity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Transformer) snapshotLocked() []*gtfsrt.FeedEntity {
	tripIDs := make([]string, 0, len(t.entities))
	for id := range t.entities {
		tripIDs = append(tripIDs, id)
	}
	sort.Strings(tripIDs)

	out := make([]*gtfsrt.FeedEntity, 0, len(tripIDs))
	for _, id := range tripIDs {
		out = append(out, t.entities[id])
	}
	return out
}

func (t *Transformer) buildEntity(vehicle upstream.VehicleDetail, job state.Job, stops []stopTimes) (*gtfsrt.FeedEntity, error) {
	vehicleID := strconv.FormatInt(vehicle.VehicleID, 10)

	trip := &gtfsrt.TripDescriptor{
		TripId:  proto.String(job.TripID),
		RouteId: proto.String(job.RouteID),
	}
	descriptor := &gtfsrt.VehicleDescriptor{
		Id:    proto.String(vehicleID),
		Label: proto.String(vehicle.VehicleNumber),
	}

	update := &gtfsrt.TripUpdate{
		Trip:    trip,
		Vehicle: descriptor,
	}

	for _, s := range stops {
		schArr, ok := parseLocalTime(s.schArrival, time.Now())
		if !ok {
			continue // without a scheduled arrival there is nothing to anchor on
		}
		schDep, hasSchDep := parseLocalTime(s.schDeparture, time.Now())
		actArr, hasActArr := parseLocalTime(s.actualArrival, time.Now())
		actDep, hasActDep := parseLocalTime(s.actualDeparture, time.Now())

		stu := &gtfsrt.TripUpdate_StopTimeUpdate{
			StopId: proto.String(strconv.Itoa(s.stationID)),
		}

		arrival := &gtfsrt.TripUpdate_StopTimeEvent{Time: proto.Int64(schArr)}
		if hasActArr {
			arrival.Time = proto.Int64(actArr)
			arrival.Delay = proto.Int32(int32(actArr - schArr))
		}
		stu.Arrival = arrival

		if hasSchDep {
			departure := &gtfsrt.TripUpdate_StopTimeEvent{Time: proto.Int64(schDep)}
			if hasActDep {
				departure.Time = proto.Int64(actDep)
				departure.Delay = proto.Int32(int32(actDep - schDep))
			}
			stu.Departure = departure
		}

		update.StopTimeUpdate = append(update.StopTimeUpdate, stu)
	}

	refreshed, err := time.ParseInLocation("02-01-2006 15:04:05", vehicle.LastRefreshOn, time.Local)
	if err != nil {
		return nil, fmt.Errorf("parse lastrefreshon %q: %w", vehicle.LastRefreshOn, err)
	}

	position := &gtfsrt.VehiclePosition{
		Trip:    proto.Clone(trip).(*gtfsrt.TripDescriptor),
		Vehicle: proto.Clone(descriptor).(*gtfsrt.VehicleDescriptor),
		Position: &gtfsrt.Position{
			Latitude:  proto.Float32(float32(vehicle.CenterLat)),
			Longitude: proto.Float32(float32(vehicle.CenterLong)),
			Bearing:   proto.Float32(float32(vehicle.Heading)),
		},
		Timestamp: proto.Uint64(uint64(refreshed.Unix())),
	}

	return &gtfsrt.FeedEntity{
		Id:         proto.String("veh_" + vehicleID),
		TripUpdate: update,
		Vehicle:    position,
	}, nil
}

// recordEvents persists completed stop visits and the vehicle's position.
// Failures are logged; persistence never blocks the feed.
func (t *Transformer) recordEvents(g *vehicleGroup, job state.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	date := job.TripTime.Format("2006-01-02")
	for _, s := range g.stops {
		if s.actualArrival == "" || s.actualDeparture == "" {
			continue
		}
		ev := StopEvent{
			StopID:             strconv.Itoa(s.stationID),
			TripID:             job.TripID,
			RouteID:            job.RouteID,
			Date:               date,
			ActualArrival:      s.actualArrival,
			ActualDeparture:    s.actualDeparture,
			ScheduledArrival:   s.schArrival,
			ScheduledDeparture: s.schDeparture,
		}
		if err := t.store.RecordStopEvent(ctx, ev); err != nil {
			t.log.Warn().Err(err).Str("stop_id", ev.StopID).Str("trip_id", ev.TripID).Msg("stop event insert failed")
		}
	}

	refreshed, err := time.ParseInLocation("02-01-2006 15:04:05", g.vehicle.LastRefreshOn, time.Local)
	if err != nil {
		return
	}
	fix := VehicleFix{
		TripID:    job.TripID,
		VehicleID: strconv.FormatInt(g.vehicle.VehicleID, 10),
		RouteID:   job.RouteID,
		Latitude:  g.vehicle.CenterLat,
		Longitude: g.vehicle.CenterLong,
		Timestamp: refreshed.Unix(),
	}
	if err := t.store.RecordVehicleFix(ctx, fix); err != nil {
		t.log.Warn().Err(err).Str("trip_id", fix.TripID).Msg("vehicle fix insert failed")
	}
}

// anchorClock parses "HH:MM" and anchors it on the calendar date of anchor.
func anchorClock(clock string, anchor time.Time) (time.Time, bool) {
	var hh, mm int
	if _, err := fmt.Sscanf(clock, "%d:%d", &hh, &mm); err != nil {
		return time.Time{}, false
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return time.Time{}, false
	}
	return time.Date(anchor.Year(), anchor.Month(), anchor.Day(), hh, mm, 0, 0, anchor.Location()), true
}

// parseLocalTime parses a scheduled "HH:MM" timestamp against the current
// local date and returns unix seconds. Instants more than 6 hours in the
// past are assumed to belong to the next day.
func parseLocalTime(clock string, now time.Time) (int64, bool) {
	if clock == "" {
		return 0, false
	}
	anchored, ok := anchorClock(clock, now)
	if !ok {
		return 0, false
	}
	if anchored.Before(now.Add(-6 * time.Hour)) {
		anchored = anchored.AddDate(0, 0, 1)
	}
	return anchored.Unix(), true
}
