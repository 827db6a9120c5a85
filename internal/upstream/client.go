// Package upstream talks to the vendor's route details API.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/bengawalk/kia-engine/internal/metrics"
)

// VehicleDetail is one live vehicle report attached to a stop record.
type VehicleDetail struct {
	VehicleID           int64   `json:"vehicleid"`
	VehicleNumber       string  `json:"vehiclenumber"`
	SchTripStartTime    string  `json:"sch_tripstarttime"` // "HH:MM"
	SchArrivalTime      string  `json:"sch_arrivaltime"`
	SchDepartureTime    string  `json:"sch_departuretime"`
	ActualArrivalTime   string  `json:"actual_arrivaltime"`
	ActualDepartureTime string  `json:"actual_departuretime"`
	CenterLat           float64 `json:"centerlat"`
	CenterLong          float64 `json:"centerlong"`
	Heading             float64 `json:"heading"`
	LastRefreshOn       string  `json:"lastrefreshon"` // "dd-MM-yyyy HH:mm:ss"
}

// StopRecord is one per-stop entry from SearchByRouteDetails_v4, flattened
// across the up and down directions.
type StopRecord struct {
	RouteID        int             `json:"routeid"`
	StationID      int             `json:"stationid"`
	StationName    string          `json:"stationname"`
	VehicleDetails []VehicleDetail `json:"vehicleDetails"`
}

type routeDetailsResponse struct {
	IsSuccess bool   `json:"issuccess"`
	Message   string `json:"message"`
	Up        struct {
		Data []StopRecord `json:"data"`
	} `json:"up"`
	Down struct {
		Data []StopRecord `json:"data"`
	} `json:"down"`
}

// TimetableEntry is one scheduled departure from GetTimetableByRouteid_v3.
type TimetableEntry struct {
	StartTime string `json:"starttime"`
	EndTime   string `json:"endtime"`
	RouteNo   string `json:"routeno"`
}

type timetableResponse struct {
	IsSuccess bool             `json:"issuccess"`
	Message   string           `json:"message"`
	Data      []TimetableEntry `json:"data"`
}

// Client is the HTTP client for the vendor API.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "upstream").Logger(),
	}
}

// FetchRouteData POSTs SearchByRouteDetails_v4 for a parent route and
// returns the up and down stop records flattened into one list. All
// failures are returned as errors; callers treat them as an empty poll.
func (c *Client) FetchRouteData(ctx context.Context, parentID int) ([]StopRecord, error) {
	body := map[string]any{"routeid": parentID, "servicetypeid": 0}

	var parsed routeDetailsResponse
	if err := c.post(ctx, "/SearchByRouteDetails_v4", body, &parsed); err != nil {
		return nil, err
	}
	if !parsed.IsSuccess {
		return nil, fmt.Errorf("api error for parent %d: %s", parentID, parsed.Message)
	}

	combined := make([]StopRecord, 0, len(parsed.Up.Data)+len(parsed.Down.Data))
	combined = append(combined, parsed.Up.Data...)
	combined = append(combined, parsed.Down.Data...)
	return combined, nil
}

// FetchTimetable POSTs GetTimetableByRouteid_v3 for a parent route. The live
// pipeline does not consume this; it backs the timings curation flow.
func (c *Client) FetchTimetable(ctx context.Context, parentID int, date time.Time) ([]TimetableEntry, error) {
	body := map[string]any{
		"routeid":      parentID,
		"starttime":    "00:00",
		"endtime":      "23:59",
		"current_date": date.Format("2006-01-02") + "T00:00:00.000Z",
	}

	var parsed timetableResponse
	if err := c.post(ctx, "/GetTimetableByRouteid_v3", body, &parsed); err != nil {
		return nil, err
	}
	if !parsed.IsSuccess {
		return nil, fmt.Errorf("timetable api error for parent %d: %s", parentID, parsed.Message)
	}
	return parsed.Data, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("lan", "en")
	req.Header.Set("deviceType", "WEB")

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.UpstreamRequestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues(path, "transport_error").Inc()
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		metrics.UpstreamRequestsTotal.WithLabelValues(path, "http_error").Inc()
		return fmt.Errorf("post %s: status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues(path, "decode_error").Inc()
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	metrics.UpstreamRequestsTotal.WithLabelValues(path, "ok").Inc()
	return nil
}
