// Package state holds the shared mutable data threaded through every
// component: the route identity maps refreshed by the bundle pipeline, the
// scheduled-timings queue, the set of actively polled parent routes, and the
// realtime feed buffer served to clients.
package state

import (
	"sync"
	"time"

	"github.com/bengawalk/kia-engine/internal/timetable"
)

// Job is one polling opportunity for a trip, placed on the timing queue by
// the scheduler and consumed by the receiver.
type Job struct {
	TripID   string
	TripTime time.Time // scheduled trip start, date-anchored
	RouteID  string    // child route id, stringified
	ParentID int
}

// State is the handle constructed once in main and passed to components.
type State struct {
	Routes *RouteData
	Queue  *TimingQueue
	Active *ActiveParents
	Feed   *Feed
}

func New() *State {
	return &State{
		Routes: NewRouteData(),
		Queue:  NewTimingQueue(),
		Active: NewActiveParents(),
		Feed:   NewFeed(),
	}
}

// RouteData holds the three identity maps loaded from the curated input
// files. The bundle pipeline replaces all three atomically once a day;
// readers only ever see a fully old or fully new view.
type RouteData struct {
	mu         sync.RWMutex
	children   map[string]int                   // route_key → child_id
	parents    map[string]int                   // route_key → parent_id
	startTimes map[string][]timetable.TripStart // route_key → trips
}

func NewRouteData() *RouteData {
	return &RouteData{
		children:   make(map[string]int),
		parents:    make(map[string]int),
		startTimes: make(map[string][]timetable.TripStart),
	}
}

// ReplaceAll clears and refills all three maps under one write lock.
func (r *RouteData) ReplaceAll(children, parents map[string]int, startTimes map[string][]timetable.TripStart) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.children = make(map[string]int, len(children))
	r.parents = make(map[string]int, len(parents))
	r.startTimes = make(map[string][]timetable.TripStart, len(startTimes))
	for k, v := range children {
		r.children[k] = v
	}
	for k, v := range parents {
		r.parents[k] = v
	}
	for k, v := range startTimes {
		trips := make([]timetable.TripStart, len(v))
		copy(trips, v)
		r.startTimes[k] = trips
	}
}

// Children returns a copy of the route_key → child_id map.
func (r *RouteData) Children() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.children))
	for k, v := range r.children {
		out[k] = v
	}
	return out
}

// Parents returns a copy of the route_key → parent_id map.
func (r *RouteData) Parents() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.parents))
	for k, v := range r.parents {
		out[k] = v
	}
	return out
}

// StartTimes returns a copy of the route_key → trip descriptors map.
func (r *RouteData) StartTimes() map[string][]timetable.TripStart {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]timetable.TripStart, len(r.startTimes))
	for k, v := range r.startTimes {
		trips := make([]timetable.TripStart, len(v))
		copy(trips, v)
		out[k] = trips
	}
	return out
}

// ChildID looks up the child_id for a route key.
func (r *RouteData) ChildID(routeKey string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.children[routeKey]
	return id, ok
}

// ParentID looks up the parent_id for a route key.
func (r *RouteData) ParentID(routeKey string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.parents[routeKey]
	return id, ok
}

// ActiveParents tracks which parent routes currently have a poller running.
// At most one poller exists per parent at any instant.
type ActiveParents struct {
	mu      sync.Mutex
	parents map[int]struct{}
}

func NewActiveParents() *ActiveParents {
	return &ActiveParents{parents: make(map[int]struct{})}
}

// TryAdd atomically tests membership and inserts. It returns false when the
// parent is already active, in which case the caller must not spawn a poller.
func (a *ActiveParents) TryAdd(parentID int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.parents[parentID]; ok {
		return false
	}
	a.parents[parentID] = struct{}{}
	return true
}

func (a *ActiveParents) Remove(parentID int) {
	a.mu.Lock()
	delete(a.parents, parentID)
	a.mu.Unlock()
}

func (a *ActiveParents) Contains(parentID int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.parents[parentID]
	return ok
}

func (a *ActiveParents) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.parents)
}
