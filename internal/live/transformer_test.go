package live

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bengawalk/kia-engine/internal/state"
	"github.com/bengawalk/kia-engine/internal/upstream"
)

// fakeStore records persisted events for inspection.
type fakeStore struct {
	mu    sync.Mutex
	stops []StopEvent
	fixes []VehicleFix
}

func (f *fakeStore) RecordStopEvent(ctx context.Context, ev StopEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, ev)
	return nil
}

func (f *fakeStore) RecordVehicleFix(ctx context.Context, fix VehicleFix) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fixes = append(f.fixes, fix)
	return nil
}

// clock renders t as the vendor's "HH:MM" string.
func clock(t time.Time) string { return t.Format("15:04") }

func testJob(tripTime time.Time) state.Job {
	return state.Job{
		TripID:   "3813_1",
		TripTime: tripTime,
		RouteID:  "3813",
		ParentID: 2124,
	}
}

// testVehicle reports a vehicle starting its trip at tripTime. Schedule
// strings are minute-granular, so tripTime should be on a whole minute.
func testVehicle(id int64, tripTime time.Time) upstream.VehicleDetail {
	return upstream.VehicleDetail{
		VehicleID:        id,
		VehicleNumber:    "KA-01-F-1001",
		SchTripStartTime: clock(tripTime),
		CenterLat:        13.199,
		CenterLong:       77.706,
		Heading:          270,
		LastRefreshOn:    time.Now().Format("02-01-2006 15:04:05"),
	}
}

func TestTransformBuildsEntity(t *testing.T) {
	now := time.Now().Truncate(time.Minute)
	job := testJob(now)

	v := testVehicle(1001, now)
	v.SchArrivalTime = clock(now.Add(10 * time.Minute))
	v.ActualArrivalTime = clock(now.Add(11 * time.Minute))
	v.SchDepartureTime = clock(now.Add(10 * time.Minute))

	second := v
	second.SchArrivalTime = clock(now.Add(20 * time.Minute))
	second.ActualArrivalTime = ""
	second.SchDepartureTime = ""

	records := []upstream.StopRecord{
		{RouteID: 3813, StationID: 20921, VehicleDetails: []upstream.VehicleDetail{v}},
		{RouteID: 3813, StationID: 20922, VehicleDetails: []upstream.VehicleDetail{second}},
	}

	tr := NewTransformer(nil, zerolog.Nop())
	entities, matched := tr.Transform(records, job)
	if !matched {
		t.Fatal("expected a match")
	}
	if len(entities) != 1 {
		t.Fatalf("entities = %d, want 1", len(entities))
	}

	e := entities[0]
	if got := e.GetId(); got != "veh_1001" {
		t.Errorf("entity id = %q, want veh_1001", got)
	}

	tu := e.GetTripUpdate()
	if got := tu.GetTrip().GetTripId(); got != "3813_1" {
		t.Errorf("trip id = %q, want 3813_1", got)
	}
	if got := tu.GetTrip().GetRouteId(); got != "3813" {
		t.Errorf("route id = %q, want 3813", got)
	}
	if got := tu.GetVehicle().GetLabel(); got != "KA-01-F-1001" {
		t.Errorf("vehicle label = %q, want KA-01-F-1001", got)
	}
	if len(tu.StopTimeUpdate) != 2 {
		t.Fatalf("stop time updates = %d, want 2", len(tu.StopTimeUpdate))
	}

	// First stop has an actual arrival one minute late.
	first := tu.StopTimeUpdate[0]
	if got := first.GetStopId(); got != "20921" {
		t.Errorf("stop id = %q, want 20921", got)
	}
	if got := first.GetArrival().GetDelay(); got != 60 {
		t.Errorf("arrival delay = %d, want 60", got)
	}
	if first.GetDeparture() == nil {
		t.Error("expected departure event on first stop")
	}

	// Second stop has no actual: no delay, no departure.
	secondSTU := tu.StopTimeUpdate[1]
	if secondSTU.GetArrival().Delay != nil {
		t.Error("second stop should have no arrival delay")
	}
	if secondSTU.Departure != nil {
		t.Error("second stop should have no departure event")
	}

	vp := e.GetVehicle()
	if got := vp.GetPosition().GetLatitude(); got != 13.199 {
		t.Errorf("latitude = %v, want 13.199", got)
	}
	if vp.GetTimestamp() == 0 {
		t.Error("vehicle position timestamp missing")
	}
}

func TestTransformMatchWindow(t *testing.T) {
	// Trip matching anchors on the job's calendar day, not the wall clock,
	// so a fixed midday trip time keeps the offsets unambiguous.
	tripTime := time.Date(2025, 6, 1, 12, 0, 0, 0, time.Local)

	cases := []struct {
		name   string
		offset time.Duration
		want   bool
	}{
		{"on_time", 0, true},
		{"two_minutes_late", 2 * time.Minute, true},
		{"two_minutes_early", -2 * time.Minute, true},
		{"three_minutes_late", 3 * time.Minute, false},
		{"three_minutes_early", -3 * time.Minute, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			job := testJob(tripTime)
			v := testVehicle(1001, tripTime.Add(c.offset))
			records := []upstream.StopRecord{
				{RouteID: 3813, StationID: 1, VehicleDetails: []upstream.VehicleDetail{v}},
			}

			tr := NewTransformer(nil, zerolog.Nop())
			_, matched := tr.Transform(records, job)
			if matched != c.want {
				t.Errorf("matched = %v, want %v", matched, c.want)
			}
		})
	}
}

func TestTransformSkipsOtherRoutesAndPlaceholders(t *testing.T) {
	now := time.Now().Truncate(time.Minute)
	job := testJob(now)

	other := testVehicle(1001, now)
	other.SchArrivalTime = clock(now.Add(10 * time.Minute))
	placeholder := testVehicle(0, now) // vehicleid 0 means "not yet assigned"
	placeholder.SchArrivalTime = clock(now.Add(10 * time.Minute))

	records := []upstream.StopRecord{
		{RouteID: 9999, StationID: 1, VehicleDetails: []upstream.VehicleDetail{other}},
		{RouteID: 3813, StationID: 2, VehicleDetails: []upstream.VehicleDetail{placeholder}},
	}

	tr := NewTransformer(nil, zerolog.Nop())
	entities, matched := tr.Transform(records, job)
	if matched {
		t.Error("expected no match")
	}
	if len(entities) != 0 {
		t.Errorf("entities = %d, want 0", len(entities))
	}
}

func TestTransformBufferAcrossTrips(t *testing.T) {
	now := time.Now().Truncate(time.Minute)
	tr := NewTransformer(nil, zerolog.Nop())

	// Trip A matches.
	jobA := testJob(now)
	vA := testVehicle(1001, now)
	vA.SchArrivalTime = clock(now.Add(10 * time.Minute))
	recA := []upstream.StopRecord{{RouteID: 3813, StationID: 1, VehicleDetails: []upstream.VehicleDetail{vA}}}
	if _, matched := tr.Transform(recA, jobA); !matched {
		t.Fatal("trip A should match")
	}

	// Trip B on another child route matches; the snapshot carries both.
	jobB := state.Job{TripID: "3814_1", TripTime: now, RouteID: "3814", ParentID: 2124}
	vB := testVehicle(1002, now)
	vB.SchArrivalTime = clock(now.Add(10 * time.Minute))
	recB := []upstream.StopRecord{{RouteID: 3814, StationID: 2, VehicleDetails: []upstream.VehicleDetail{vB}}}
	entities, matched := tr.Transform(recB, jobB)
	if !matched {
		t.Fatal("trip B should match")
	}
	if len(entities) != 2 {
		t.Fatalf("snapshot = %d entities, want 2", len(entities))
	}

	// An unmatched poll for trip A drops its stale entity but reports no
	// match, so pollers quiesce even while other trips stay buffered.
	entities, matched = tr.Transform(nil, jobA)
	if matched {
		t.Error("empty poll should not report a match")
	}
	if len(entities) != 1 {
		t.Fatalf("snapshot = %d entities, want 1 after trip A expired", len(entities))
	}
	if got := entities[0].GetId(); got != "veh_1002" {
		t.Errorf("remaining entity = %q, want veh_1002", got)
	}
}

func TestTransformReplacesTripEntityOnRepoll(t *testing.T) {
	now := time.Now().Truncate(time.Minute)
	tr := NewTransformer(nil, zerolog.Nop())
	job := testJob(now)

	v := testVehicle(1001, now)
	v.SchArrivalTime = clock(now.Add(10 * time.Minute))
	rec := []upstream.StopRecord{{RouteID: 3813, StationID: 1, VehicleDetails: []upstream.VehicleDetail{v}}}
	tr.Transform(rec, job)

	// Same trip, new vehicle id: the old entity is replaced, not appended.
	v2 := testVehicle(1002, now)
	v2.SchArrivalTime = clock(now.Add(10 * time.Minute))
	rec2 := []upstream.StopRecord{{RouteID: 3813, StationID: 1, VehicleDetails: []upstream.VehicleDetail{v2}}}
	entities, matched := tr.Transform(rec2, job)
	if !matched {
		t.Fatal("expected a match")
	}
	if len(entities) != 1 {
		t.Fatalf("entities = %d, want 1", len(entities))
	}
	if got := entities[0].GetId(); got != "veh_1002" {
		t.Errorf("entity id = %q, want veh_1002", got)
	}
}

func TestTransformSkipsVehicleWithBadRefreshTime(t *testing.T) {
	now := time.Now().Truncate(time.Minute)
	job := testJob(now)

	v := testVehicle(1001, now)
	v.SchArrivalTime = clock(now.Add(10 * time.Minute))
	v.LastRefreshOn = "garbage"
	records := []upstream.StopRecord{
		{RouteID: 3813, StationID: 1, VehicleDetails: []upstream.VehicleDetail{v}},
	}

	tr := NewTransformer(nil, zerolog.Nop())
	entities, matched := tr.Transform(records, job)
	if matched {
		t.Error("vehicle without a position timestamp should not match")
	}
	if len(entities) != 0 {
		t.Errorf("entities = %d, want 0", len(entities))
	}
}

func TestTransformRecordsEvents(t *testing.T) {
	now := time.Now().Truncate(time.Minute)
	job := testJob(now)
	store := &fakeStore{}

	completed := testVehicle(1001, now)
	completed.SchArrivalTime = clock(now.Add(-5 * time.Minute))
	completed.SchDepartureTime = clock(now.Add(-5 * time.Minute))
	completed.ActualArrivalTime = clock(now.Add(-4 * time.Minute))
	completed.ActualDepartureTime = clock(now.Add(-3 * time.Minute))

	pending := completed
	pending.SchArrivalTime = clock(now.Add(10 * time.Minute))
	pending.ActualArrivalTime = ""
	pending.ActualDepartureTime = ""

	records := []upstream.StopRecord{
		{RouteID: 3813, StationID: 100, VehicleDetails: []upstream.VehicleDetail{completed}},
		{RouteID: 3813, StationID: 101, VehicleDetails: []upstream.VehicleDetail{pending}},
	}

	tr := NewTransformer(store, zerolog.Nop())
	if _, matched := tr.Transform(records, job); !matched {
		t.Fatal("expected a match")
	}

	// Only the stop with both actuals is a completed visit.
	if len(store.stops) != 1 {
		t.Fatalf("stop events = %d, want 1", len(store.stops))
	}
	ev := store.stops[0]
	if ev.StopID != "100" || ev.TripID != "3813_1" {
		t.Errorf("stop event = %+v", ev)
	}
	if ev.Date != job.TripTime.Format("2006-01-02") {
		t.Errorf("event date = %q, want %q", ev.Date, job.TripTime.Format("2006-01-02"))
	}

	if len(store.fixes) != 1 {
		t.Fatalf("vehicle fixes = %d, want 1", len(store.fixes))
	}
	if store.fixes[0].VehicleID != "1001" {
		t.Errorf("fix vehicle id = %q, want 1001", store.fixes[0].VehicleID)
	}
}

func TestAnchorClock(t *testing.T) {
	anchor := time.Date(2025, 6, 1, 23, 58, 0, 0, time.Local)

	got, ok := anchorClock("05:00", anchor)
	if !ok {
		t.Fatal("expected parse success")
	}
	want := time.Date(2025, 6, 1, 5, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("anchorClock = %v, want %v", got, want)
	}

	if _, ok := anchorClock("25:00", anchor); ok {
		t.Error("expected rejection of hour 25")
	}
	if _, ok := anchorClock("", anchor); ok {
		t.Error("expected rejection of empty clock")
	}
}

func TestParseLocalTimeRollsForward(t *testing.T) {
	now := time.Date(2025, 6, 1, 23, 50, 0, 0, time.Local)

	// 00:05 read at 23:50 belongs to the next day.
	got, ok := parseLocalTime("00:05", now)
	if !ok {
		t.Fatal("expected parse success")
	}
	want := time.Date(2025, 6, 2, 0, 5, 0, 0, time.Local).Unix()
	if got != want {
		t.Errorf("parseLocalTime = %d, want %d", got, want)
	}

	// A recent past time stays on today.
	got, ok = parseLocalTime("23:00", now)
	if !ok {
		t.Fatal("expected parse success")
	}
	want = time.Date(2025, 6, 1, 23, 0, 0, 0, time.Local).Unix()
	if got != want {
		t.Errorf("parseLocalTime = %d, want %d", got, want)
	}
}
