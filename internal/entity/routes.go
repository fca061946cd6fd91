package entity

import (
	"context"
	"errors"
	"strings"
	"time"

	"bustrack/internal/apperr"
	"bustrack/internal/store"
)

// addStopAttempts bounds the retries of AddStop when another writer takes the same sequence.
const addStopAttempts = 5

// RouteStore owns routes and their stops.
type RouteStore struct {
	routes *store.Collection[Route]
	stops  *store.Collection[RouteStop]
	now    func() time.Time
}

func newRouteStore(b store.Backend) *RouteStore {
	return &RouteStore{
		routes: store.NewCollection[Route](b, RouteSchema),
		stops:  store.NewCollection[RouteStop](b, RouteStopSchema),
		now:    utcNow,
	}
}

func (s *RouteStore) Create(ctx context.Context, r *Route) error {
	r.Name = strings.TrimSpace(r.Name)
	r.Code = strings.TrimSpace(r.Code)
	if err := Validate(r); err != nil {
		return err
	}
	r.ID = store.NewID()
	r.CreatedAt = s.now()
	if r.Stops == nil {
		r.Stops = []string{}
	}
	if err := s.routes.Insert(ctx, *r); err != nil {
		return writeErr(err, "insert route", "a route with this code already exists")
	}
	return nil
}

// ByCode returns the route with its stop names.
func (s *RouteStore) ByCode(ctx context.Context, code string) (Route, error) {
	r, err := s.route(ctx, code)
	if err != nil {
		return Route{}, err
	}
	stops, err := s.stops.Find(ctx, store.Where(store.Eq("routeCode", r.Code)).OrderBy("sequence", false))
	if err != nil {
		return Route{}, apperr.Storage("list stops", err)
	}
	r.Stops = stopNames(stops)
	return r, nil
}

func (s *RouteStore) route(ctx context.Context, code string) (Route, error) {
	r, err := s.routes.FindOne(ctx, store.Where(store.Eq("code", strings.TrimSpace(code))))
	if err != nil {
		return Route{}, lookupErr(err, "load route", "route not found")
	}
	return r, nil
}

func (s *RouteStore) List(ctx context.Context) ([]Route, error) {
	list, err := s.routes.Find(ctx, store.Query{}.OrderBy("code", false))
	if err != nil {
		return nil, apperr.Storage("list routes", err)
	}
	stops, err := s.stops.Find(ctx, store.Query{}.OrderBy("sequence", false))
	if err != nil {
		return nil, apperr.Storage("list stops", err)
	}
	byRoute := make(map[string][]RouteStop)
	for _, st := range stops {
		byRoute[st.RouteCode] = append(byRoute[st.RouteCode], st)
	}
	for i := range list {
		list[i].Stops = stopNames(byRoute[list[i].Code])
	}
	return list, nil
}

func stopNames(stops []RouteStop) []string {
	names := make([]string, 0, len(stops))
	for _, st := range stops {
		names = append(names, st.StopName)
	}
	return names
}

// AddStop appends stop to the route named by code. Its sequence is the number of stops the
// route already has; the (routeCode, sequence) key makes concurrent adds take distinct slots.
func (s *RouteStore) AddStop(ctx context.Context, code string, stop *RouteStop) error {
	r, err := s.route(ctx, code)
	if err != nil {
		return err
	}
	stop.RouteCode = r.Code
	stop.StopName = strings.TrimSpace(stop.StopName)
	if stop.Status == "" {
		stop.Status = StopPending
	}
	if err := Validate(stop); err != nil {
		return err
	}
	stop.ID = store.NewID()
	stop.CreatedAt = s.now()
	for attempt := 0; attempt < addStopAttempts; attempt++ {
		n, err := s.stops.Count(ctx, store.Eq("routeCode", r.Code))
		if err != nil {
			return apperr.Storage("count stops", err)
		}
		stop.Sequence = int(n)
		err = s.stops.Insert(ctx, *stop)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrDuplicate) {
			return apperr.Storage("insert stop", err)
		}
	}
	return apperr.Duplicate("stops of route %s are being changed, try again", r.Code)
}

// Stops lists the stops of a route in schedule order.
func (s *RouteStore) Stops(ctx context.Context, code string) ([]RouteStop, error) {
	stops, err := s.stops.Find(ctx, store.Where(store.Eq("routeCode", strings.TrimSpace(code))).OrderBy("scheduledTime", false))
	if err != nil {
		return nil, apperr.Storage("list stops", err)
	}
	return stops, nil
}

// SetStopStatus records the progress status of one stop.
func (s *RouteStore) SetStopStatus(ctx context.Context, code, stopID, status string) (RouteStop, error) {
	stop, err := s.stops.Get(ctx, stopID)
	if err != nil {
		return RouteStop{}, lookupErr(err, "load stop", "stop not found")
	}
	if stop.RouteCode != strings.TrimSpace(code) {
		return RouteStop{}, apperr.NotFound("stop not found")
	}
	stop.Status = strings.TrimSpace(status)
	if err := Validate(stop); err != nil {
		return RouteStop{}, err
	}
	if err := s.stops.Replace(ctx, stop); err != nil {
		return RouteStop{}, lookupErr(err, "update stop", "stop not found")
	}
	return stop, nil
}
