package live

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	gtfsrt "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/rs/zerolog"

	"github.com/bengawalk/kia-engine/internal/metrics"
	"github.com/bengawalk/kia-engine/internal/state"
	"github.com/bengawalk/kia-engine/internal/timetable"
	"github.com/bengawalk/kia-engine/internal/upstream"
)

// Fetcher is the upstream call the pollers depend on.
type Fetcher interface {
	FetchRouteData(ctx context.Context, parentID int) ([]upstream.StopRecord, error)
}

// Receiver consumes due jobs from the timing queue and runs one poller per
// parent route. A poller covers every child trip of its parent, so a second
// due job for an already-active parent is dropped.
type Receiver struct {
	st          *state.State
	fetcher     Fetcher
	transformer *Transformer
	log         zerolog.Logger

	tick          time.Duration // queue check cadence
	pollInterval  time.Duration // delay between poll rounds
	maxEmptyTries int           // consecutive empty rounds before quiescence

	wg sync.WaitGroup
}

func NewReceiver(st *state.State, fetcher Fetcher, transformer *Transformer, log zerolog.Logger) *Receiver {
	return &Receiver{
		st:            st,
		fetcher:       fetcher,
		transformer:   transformer,
		log:           log.With().Str("component", "receiver").Logger(),
		tick:          time.Second,
		pollInterval:  20 * time.Second,
		maxEmptyTries: 2,
	}
}

// Run consumes the timing queue until the context ends. Due jobs spawn a
// poller goroutine unless their parent is already being polled.
func (r *Receiver) Run(ctx context.Context) {
	r.log.Info().Msg("receiver started")
	for {
		if ctx.Err() != nil {
			break
		}

		fireTime, _, ok := r.st.Queue.Peek()
		if !ok || time.Now().Before(fireTime) {
			if !sleepCtx(ctx, r.tick) {
				break
			}
			continue
		}

		_, job, ok := r.st.Queue.Pop()
		if !ok {
			continue
		}
		metrics.ScheduledJobs.Set(float64(r.st.Queue.Len()))
		r.Dispatch(ctx, job)
	}

	r.wg.Wait()
	r.log.Info().Msg("receiver stopped")
}

// Wait blocks until all pollers have exited.
func (r *Receiver) Wait() {
	r.wg.Wait()
}

// Dispatch starts a poller for the job's parent unless one is active.
func (r *Receiver) Dispatch(ctx context.Context, job state.Job) {
	if !r.st.Active.TryAdd(job.ParentID) {
		r.log.Debug().Int("parent_id", job.ParentID).Str("trip_id", job.TripID).Msg("parent already polled, dropping job")
		return
	}
	metrics.ActivePollers.Set(float64(r.st.Active.Len()))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.pollParent(ctx, job)
	}()
}

// pollParent polls the upstream for one parent route until two consecutive
// rounds produce no usable data, then releases the parent.
func (r *Receiver) pollParent(ctx context.Context, job state.Job) {
	log := r.log.With().Int("parent_id", job.ParentID).Logger()
	defer func() {
		r.st.Active.Remove(job.ParentID)
		metrics.ActivePollers.Set(float64(r.st.Active.Len()))
	}()

	candidates := r.candidateJobs(job)
	log.Info().Int("candidates", len(candidates)).Msg("polling started")

	emptyTries := 0
	for {
		records, err := r.fetcher.FetchRouteData(ctx, job.ParentID)
		if err != nil {
			log.Warn().Err(err).Msg("fetch failed")
			records = nil
		}

		if len(records) == 0 {
			emptyTries++
			metrics.PollsTotal.WithLabelValues("empty").Inc()
		} else {
			var all []*gtfsrt.FeedEntity
			found := false
			for _, candidate := range candidates {
				entities, matched := r.transformer.Transform(records, candidate)
				if matched {
					found = true
					all = append(all, entities...)
				}
			}

			if found {
				r.st.Feed.Replace(all)
				metrics.FeedUpdatesTotal.Inc()
				metrics.FeedEntities.Set(float64(r.st.Feed.EntityCount()))
				metrics.PollsTotal.WithLabelValues("matched").Inc()
				emptyTries = 0
			} else {
				emptyTries++
				metrics.PollsTotal.WithLabelValues("empty").Inc()
			}
		}

		if emptyTries >= r.maxEmptyTries {
			log.Info().Int("empty_tries", emptyTries).Msg("no matches, polling stopped")
			return
		}
		if !sleepCtx(ctx, r.pollInterval) {
			return
		}
	}
}

// candidateJobs builds one job per trip of every route key under the
// parent. Trip times are anchored on the service day carried by the queued
// job (already rolled forward by the scheduler), so a poller firing just
// after midnight for a next-day trip does not anchor a day early.
func (r *Receiver) candidateJobs(job state.Job) []state.Job {
	children := r.st.Routes.Children()
	parents := r.st.Routes.Parents()
	tripMap := timetable.TripTimings(r.st.Routes.StartTimes(), children)

	day := job.TripTime
	serviceDay := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())

	routeKeys := make([]string, 0, len(children))
	for k := range children {
		routeKeys = append(routeKeys, k)
	}
	sort.Strings(routeKeys)

	var jobs []state.Job
	for _, routeKey := range routeKeys {
		if parents[routeKey] != job.ParentID {
			continue
		}
		childID := children[routeKey]
		for _, trip := range tripMap[routeKey] {
			start, err := parseClock(trip.Start)
			if err != nil {
				continue
			}
			jobs = append(jobs, state.Job{
				TripID:   trip.TripID,
				TripTime: serviceDay.Add(start),
				RouteID:  fmt.Sprintf("%d", childID),
				ParentID: job.ParentID,
			})
		}
	}
	return jobs
}
