// Package live implements the realtime ingestion engine: the daily trip
// scheduler, the per-parent-route pollers, and the transformer that folds
// upstream responses into the realtime feed.
package live

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/bengawalk/kia-engine/internal/metrics"
	"github.com/bengawalk/kia-engine/internal/state"
	"github.com/bengawalk/kia-engine/internal/timetable"
)

// Scheduler enumerates the day's trips and emits timed polling jobs onto the
// shared timing queue. Each trip gets 2Q+1 probes at interval-minute offsets
// around its scheduled start, since the upstream only reports a vehicle when
// it is close to its departure time.
type Scheduler struct {
	st            *state.State
	queryInterval time.Duration // spacing between probes
	queryAmount   int           // probes on each side of the trip start
	log           zerolog.Logger
}

func NewScheduler(st *state.State, queryIntervalMinutes, queryAmount int, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		st:            st,
		queryInterval: time.Duration(queryIntervalMinutes) * time.Minute,
		queryAmount:   queryAmount,
		log:           log.With().Str("component", "scheduler").Logger(),
	}
}

// Run populates the schedule once, then re-populates daily between 00:10 and
// 00:15 local time. Populate failures are logged and the loop continues.
func (s *Scheduler) Run(ctx context.Context) {
	s.runOnce()

	for {
		now := time.Now()
		if now.Hour() == 0 && now.Minute() >= 10 && now.Minute() < 15 {
			s.runOnce()
			// Back off an hour so the window cannot re-trigger today.
			if !sleepCtx(ctx, time.Hour) {
				return
			}
			continue
		}
		if !sleepCtx(ctx, 30*time.Second) {
			return
		}
	}
}

func (s *Scheduler) runOnce() {
	n, err := s.PopulateSchedule()
	if err != nil {
		s.log.Error().Err(err).Msg("populate schedule failed")
		return
	}
	s.log.Info().Int("jobs", n).Int("queue_depth", s.st.Queue.Len()).Msg("schedule populated")
}

// PopulateSchedule enqueues polling jobs for every trip in the current
// start-times snapshot. It returns the number of jobs added.
func (s *Scheduler) PopulateSchedule() (int, error) {
	return s.populateAt(time.Now())
}

func (s *Scheduler) populateAt(now time.Time) (int, error) {
	children := s.st.Routes.Children()
	parents := s.st.Routes.Parents()
	tripMap := timetable.TripTimings(s.st.Routes.StartTimes(), children)

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	windowEnd := today.AddDate(0, 0, 2) // [today, day after tomorrow)

	routeKeys := make([]string, 0, len(tripMap))
	for k := range tripMap {
		routeKeys = append(routeKeys, k)
	}
	sort.Strings(routeKeys)

	added := 0
	for _, routeKey := range routeKeys {
		childID, okChild := children[routeKey]
		parentID, okParent := parents[routeKey]
		if !okChild || !okParent {
			s.log.Debug().Str("route_key", routeKey).Msg("missing child or parent mapping, skipping")
			continue
		}

		for _, trip := range tripMap[routeKey] {
			start, err := parseClock(trip.Start)
			if err != nil {
				s.log.Warn().Str("route_key", routeKey).Str("start", trip.Start).Msg("unparseable trip start, skipping")
				continue
			}

			tripTime := today.Add(start)
			if !tripTime.After(now) {
				tripTime = tripTime.AddDate(0, 0, 1)
			}

			for offset := -s.queryAmount; offset <= s.queryAmount; offset++ {
				fireTime := tripTime.Add(time.Duration(offset) * s.queryInterval)
				if fireTime.Before(today) || !fireTime.Before(windowEnd) {
					continue
				}
				s.st.Queue.Push(fireTime, state.Job{
					TripID:   trip.TripID,
					TripTime: tripTime,
					RouteID:  fmt.Sprintf("%d", childID),
					ParentID: parentID,
				})
				added++
			}
		}
	}

	metrics.ScheduledJobs.Set(float64(s.st.Queue.Len()))
	return added, nil
}

// parseClock parses "HH:MM:SS" into an offset from midnight.
func parseClock(s string) (time.Duration, error) {
	var hh, mm, ss int
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &hh, &mm, &ss); err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute + time.Duration(ss)*time.Second, nil
}

// sleepCtx sleeps for d, returning false if the context ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
