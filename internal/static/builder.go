package static

import (
	"crypto/md5"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/twpayne/go-polyline"

	"github.com/bengawalk/kia-engine/internal/timetable"
)

// GTFS table rows. Field order matches the column order written to the zip.

type Agency struct {
	AgencyID string `csv:"agency_id"`
	Name     string `csv:"agency_name"`
	URL      string `csv:"agency_url"`
	Timezone string `csv:"agency_timezone"`
	Phone    string `csv:"agency_phone"`
	FareURL  string `csv:"agency_fare_url"`
}

type FeedInfo struct {
	PublisherName string `csv:"feed_publisher_name"`
	PublisherURL  string `csv:"feed_publisher_url"`
	ContactEmail  string `csv:"feed_contact_email"`
	Lang          string `csv:"feed_lang"`
	Version       string `csv:"feed_version"`
	StartDate     string `csv:"feed_start_date"`
	EndDate       string `csv:"feed_end_date"`
}

type Calendar struct {
	ServiceID string `csv:"service_id"`
	Monday    string `csv:"monday"`
	Tuesday   string `csv:"tuesday"`
	Wednesday string `csv:"wednesday"`
	Thursday  string `csv:"thursday"`
	Friday    string `csv:"friday"`
	Saturday  string `csv:"saturday"`
	Sunday    string `csv:"sunday"`
	StartDate string `csv:"start_date"`
	EndDate   string `csv:"end_date"`
}

type Route struct {
	RouteID   string `csv:"route_id"`
	ShortName string `csv:"route_short_name"`
	LongName  string `csv:"route_long_name"`
	Type      string `csv:"route_type"`
	AgencyID  string `csv:"agency_id"`
}

type ShapePoint struct {
	ShapeID  string `csv:"shape_id"`
	Lat      string `csv:"shape_pt_lat"`
	Lon      string `csv:"shape_pt_lon"`
	Sequence string `csv:"shape_pt_sequence"`
}

type Stop struct {
	StopID string `csv:"stop_id"`
	Name   string `csv:"stop_name"`
	Lat    string `csv:"stop_lat"`
	Lon    string `csv:"stop_lon"`
}

type Trip struct {
	TripID    string `csv:"trip_id"`
	RouteID   string `csv:"route_id"`
	ShapeID   string `csv:"shape_id"`
	ServiceID string `csv:"service_id"`
}

type StopTime struct {
	TripID        string `csv:"trip_id"`
	StopID        string `csv:"stop_id"`
	StopSequence  string `csv:"stop_sequence"`
	DepartureTime string `csv:"departure_time"`
	ArrivalTime   string `csv:"arrival_time"`
	Timepoint     string `csv:"timepoint"`
}

type Translation struct {
	TableName   string `csv:"table_name"`
	FieldName   string `csv:"field_name"`
	RecordID    string `csv:"record_id"`
	Language    string `csv:"language"`
	Translation string `csv:"translation"`
}

// Dataset is one fully built schedule bundle.
type Dataset struct {
	Agency       []Agency
	FeedInfo     []FeedInfo
	Calendar     []Calendar
	Routes       []Route
	Shapes       []ShapePoint
	Stops        []Stop
	Trips        []Trip
	StopTimes    []StopTime
	Translations []Translation
}

// Version returns the bundle's feed version string.
func (d *Dataset) Version() string {
	if len(d.FeedInfo) == 0 {
		return ""
	}
	return d.FeedInfo[0].Version
}

// Build assembles a complete dataset from the curated inputs.
func Build(in *Inputs, now time.Time) (*Dataset, error) {
	stops, stopIDs, stopTranslations := buildStops(in.ClientStops)
	routes, routeTranslations := buildRoutes(in.ClientStops, in.RoutesChildren)
	shapes, shapeIDs := buildShapes(in.RouteLines, in.RoutesChildren)
	trips, stopTimes, tripTranslations, err := buildTripsAndStopTimes(in, stopIDs, shapeIDs)
	if err != nil {
		return nil, err
	}

	translations := stopTranslations
	translations = append(translations, routeTranslations...)
	translations = append(translations, tripTranslations...)

	return &Dataset{
		Agency: []Agency{{
			AgencyID: "BMTC",
			Name:     "Bengaluru Metropolitan Transport Corporation",
			URL:      "https://mybmtc.karnataka.gov.in/",
			Timezone: "Asia/Kolkata",
			Phone:    "7760991269",
			FareURL:  "https://nammabmtcapp.karnataka.gov.in/commuter/fare-calculator",
		}},
		FeedInfo: []FeedInfo{{
			PublisherName: "Bengawalk",
			PublisherURL:  "https://bengawalk.com/",
			ContactEmail:  "hello@bengawalk.com",
			Lang:          "en",
			Version:       fmt.Sprintf("%x", md5.Sum([]byte(now.String())))[:8],
			StartDate:     now.Format("20060102"),
			EndDate:       now.AddDate(1, 0, 0).Format("20060102"),
		}},
		Calendar: []Calendar{{
			ServiceID: "ALL",
			Monday:    "1", Tuesday: "1", Wednesday: "1", Thursday: "1",
			Friday: "1", Saturday: "1", Sunday: "1",
			StartDate: now.Format("20060102"),
			EndDate:   now.AddDate(1, 0, 0).Format("20060102"),
		}},
		Routes:       routes,
		Shapes:       shapes,
		Stops:        stops,
		Trips:        trips,
		StopTimes:    stopTimes,
		Translations: translations,
	}, nil
}

// stopKey identifies a physical stop: the explicit stop_id when present,
// otherwise rounded coordinates plus name.
func stopKey(s StopInput) string {
	if s.StopID != "" {
		return s.StopID
	}
	return fmt.Sprintf("%.6f|%.6f|%s", s.Loc[0], s.Loc[1], s.Name)
}

func buildStops(clientStops map[string]RouteStops) ([]Stop, map[string]string, []Translation) {
	routeKeys := sortedKeys(clientStops)

	var stops []Stop
	var translations []Translation
	stopIDs := make(map[string]string) // stopKey → stop_id

	for _, routeKey := range routeKeys {
		for _, s := range clientStops[routeKey].Stops {
			if len(s.Loc) < 2 {
				continue
			}
			key := stopKey(s)
			if _, seen := stopIDs[key]; seen {
				continue
			}

			stopID := s.StopID
			if stopID == "" {
				stopID = fmt.Sprintf("gen_%d", len(stops)+1)
			}
			stopIDs[key] = stopID

			stops = append(stops, Stop{
				StopID: stopID,
				Name:   s.Name,
				Lat:    strconv.FormatFloat(s.Loc[0], 'f', -1, 64),
				Lon:    strconv.FormatFloat(s.Loc[1], 'f', -1, 64),
			})
			translations = append(translations, Translation{
				TableName:   "stops",
				FieldName:   "stop_name",
				RecordID:    stopID,
				Language:    "kn",
				Translation: s.NameKn,
			})
		}
	}
	return stops, stopIDs, translations
}

func buildRoutes(clientStops map[string]RouteStops, children map[string]int) ([]Route, []Translation) {
	var routes []Route
	var translations []Translation

	for _, routeKey := range sortedKeys(children) {
		childID := children[routeKey]
		stops := clientStops[routeKey].Stops
		if len(stops) == 0 {
			continue
		}

		shortName := trimDirection(routeKey)
		first, last := stops[0], stops[len(stops)-1]

		routes = append(routes, Route{
			RouteID:   strconv.Itoa(childID),
			ShortName: shortName,
			LongName:  fmt.Sprintf("%s to %s", first.Name, last.Name),
			Type:      "3", // bus
			AgencyID:  "BMTC",
		})
		translations = append(translations, Translation{
			TableName:   "routes",
			FieldName:   "route_long_name",
			RecordID:    strconv.Itoa(childID),
			Language:    "kn",
			Translation: fmt.Sprintf("%s ಇಂದ %s ಇಗೆ", first.NameKn, last.NameKn),
		})
	}
	return routes, translations
}

func buildShapes(routeLines map[string]string, children map[string]int) ([]ShapePoint, map[int]string) {
	var shapes []ShapePoint
	shapeIDs := make(map[int]string) // child_id → shape_id

	for _, routeKey := range sortedKeys(routeLines) {
		childID, ok := children[routeKey]
		if !ok {
			continue
		}
		shapeID := fmt.Sprintf("sh_%d", childID)
		shapeIDs[childID] = shapeID

		unescaped, err := url.QueryUnescape(routeLines[routeKey])
		if err != nil {
			unescaped = routeLines[routeKey]
		}
		// routelines are encoded lon-first
		coords, _, err := polyline.DecodeCoords([]byte(unescaped))
		if err != nil {
			continue
		}
		for i, c := range coords {
			shapes = append(shapes, ShapePoint{
				ShapeID:  shapeID,
				Lat:      strconv.FormatFloat(c[1], 'f', -1, 64),
				Lon:      strconv.FormatFloat(c[0], 'f', -1, 64),
				Sequence: strconv.Itoa(i + 1),
			})
		}
	}
	return shapes, shapeIDs
}

type stopPoint struct {
	stopID   string
	distance float64
	name     string
}

func buildTripsAndStopTimes(in *Inputs, stopIDs map[string]string, shapeIDs map[int]string) ([]Trip, []StopTime, []Translation, error) {
	var trips []Trip
	var stopTimes []StopTime
	var translations []Translation

	// One numberer across all route keys so trips sharing a child_id are
	// numbered exactly like the live scheduler numbers them.
	num := timetable.NewNumberer()

	for _, routeKey := range sortedKeys(in.RoutesChildren) {
		childID := in.RoutesChildren[routeKey]
		stops := in.ClientStops[routeKey].Stops
		if len(stops) == 0 {
			continue
		}

		points := make([]stopPoint, 0, len(stops))
		for _, s := range stops {
			points = append(points, stopPoint{
				stopID:   stopIDs[stopKey(s)],
				distance: s.Distance,
				name:     s.Name,
			})
		}
		sort.SliceStable(points, func(i, j int) bool { return points[i].distance < points[j].distance })

		fallback := in.StartTimes[routeKey]
		routeTrips := in.Times[routeKey]
		if len(routeTrips) == 0 {
			for _, t := range fallback {
				routeTrips = append(routeTrips, TimedTrip{Start: t.Start, Duration: t.Duration})
			}
		}

		for i, trip := range routeTrips {
			duration := trip.Duration
			if duration == 0 && i < len(fallback) {
				duration = fallback[i].Duration
			}

			tripID := num.Next(childID)
			trips = append(trips, Trip{
				TripID:    tripID,
				RouteID:   strconv.Itoa(childID),
				ShapeID:   shapeIDs[childID],
				ServiceID: "ALL",
			})

			times := trip.Stops
			if len(times) == 0 {
				distances := make([]float64, len(points))
				for j, p := range points {
					distances[j] = p.distance
				}
				times = timetable.Interpolate(trip.Start, duration, distances)
			}
			if len(times) != len(points) {
				return nil, nil, nil, fmt.Errorf("route %s trip %s: %d stop times for %d stops", routeKey, tripID, len(times), len(points))
			}

			for j, p := range points {
				// Two stops interpolated to the same minute get pushed
				// apart so times stay strictly increasing.
				if j > 0 && times[j] == times[j-1] {
					times[j] = timetable.AddMinutes(times[j], 1)
				}
				stopTimes = append(stopTimes, StopTime{
					TripID:        tripID,
					StopID:        p.stopID,
					StopSequence:  strconv.Itoa(j + 1),
					DepartureTime: timetable.TimeString(times[j], 10),
					ArrivalTime:   timetable.TimeString(times[j], 0),
					Timepoint:     timepoint(j, len(points)),
				})
			}

			translations = append(translations, Translation{
				TableName:   "trips",
				FieldName:   "trip_headsign",
				RecordID:    tripID,
				Language:    "kn",
				Translation: points[len(points)-1].name,
			})
		}
	}
	return trips, stopTimes, translations, nil
}

func timepoint(i, n int) string {
	if i == 0 || i == n-1 {
		return "1"
	}
	return "0"
}

func trimDirection(routeKey string) string {
	for _, suffix := range []string{" UP", " DOWN"} {
		if len(routeKey) > len(suffix) && routeKey[len(routeKey)-len(suffix):] == suffix {
			return routeKey[:len(routeKey)-len(suffix)]
		}
	}
	return routeKey
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
