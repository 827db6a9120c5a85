package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestFetchRouteData(t *testing.T) {
	t.Run("combines_up_and_down", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/SearchByRouteDetails_v4" {
				t.Errorf("path = %q, want /SearchByRouteDetails_v4", r.URL.Path)
			}
			if r.Method != http.MethodPost {
				t.Errorf("method = %q, want POST", r.Method)
			}

			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decode request: %v", err)
			}
			if got := body["routeid"]; got != float64(2124) {
				t.Errorf("routeid = %v, want 2124", got)
			}
			if got := body["servicetypeid"]; got != float64(0) {
				t.Errorf("servicetypeid = %v, want 0", got)
			}

			json.NewEncoder(w).Encode(map[string]any{
				"issuccess": true,
				"up": map[string]any{"data": []map[string]any{
					{"routeid": 3813, "stationid": 1, "stationname": "Kempegowda Bus Station"},
				}},
				"down": map[string]any{"data": []map[string]any{
					{"routeid": 3814, "stationid": 2, "stationname": "Kempegowda Intl Airport"},
				}},
			})
		}))
		defer srv.Close()

		c := NewClient(srv.URL, 5*time.Second, zerolog.Nop())
		records, err := c.FetchRouteData(context.Background(), 2124)
		if err != nil {
			t.Fatalf("FetchRouteData: %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("records = %d, want 2", len(records))
		}
		if records[0].RouteID != 3813 || records[1].RouteID != 3814 {
			t.Errorf("route ids = %d, %d, want 3813, 3814", records[0].RouteID, records[1].RouteID)
		}
	})

	t.Run("sends_vendor_headers", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("lan"); got != "en" {
				t.Errorf("lan header = %q, want en", got)
			}
			if got := r.Header.Get("deviceType"); got != "WEB" {
				t.Errorf("deviceType header = %q, want WEB", got)
			}
			if got := r.Header.Get("Content-Type"); got != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", got)
			}
			json.NewEncoder(w).Encode(map[string]any{"issuccess": true})
		}))
		defer srv.Close()

		c := NewClient(srv.URL, 5*time.Second, zerolog.Nop())
		if _, err := c.FetchRouteData(context.Background(), 2124); err != nil {
			t.Fatalf("FetchRouteData: %v", err)
		}
	})

	t.Run("api_failure_flag_is_an_error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"issuccess": false, "message": "no data"})
		}))
		defer srv.Close()

		c := NewClient(srv.URL, 5*time.Second, zerolog.Nop())
		if _, err := c.FetchRouteData(context.Background(), 2124); err == nil {
			t.Error("expected error when issuccess is false")
		}
	})

	t.Run("non_200_is_an_error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream down", http.StatusBadGateway)
		}))
		defer srv.Close()

		c := NewClient(srv.URL, 5*time.Second, zerolog.Nop())
		if _, err := c.FetchRouteData(context.Background(), 2124); err == nil {
			t.Error("expected error on HTTP 502")
		}
	})

	t.Run("malformed_body_is_an_error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>maintenance</html>"))
		}))
		defer srv.Close()

		c := NewClient(srv.URL, 5*time.Second, zerolog.Nop())
		if _, err := c.FetchRouteData(context.Background(), 2124); err == nil {
			t.Error("expected error on non-JSON body")
		}
	})
}

func TestFetchTimetable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/GetTimetableByRouteid_v3" {
			t.Errorf("path = %q, want /GetTimetableByRouteid_v3", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if got := body["current_date"]; got != "2025-06-01T00:00:00.000Z" {
			t.Errorf("current_date = %v, want 2025-06-01T00:00:00.000Z", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"issuccess": true,
			"data": []map[string]any{
				{"starttime": "04:50", "endtime": "05:50", "routeno": "KIA-9"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second, zerolog.Nop())
	entries, err := c.FetchTimetable(context.Background(), 2124, time.Date(2025, 6, 1, 15, 0, 0, 0, time.Local))
	if err != nil {
		t.Fatalf("FetchTimetable: %v", err)
	}
	if len(entries) != 1 || entries[0].StartTime != "04:50" {
		t.Errorf("entries = %+v, want one 04:50 departure", entries)
	}
}
