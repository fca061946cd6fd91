// Package location records GPS pings and answers latest-position and history queries.
package location

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"bustrack/internal/apperr"
	"bustrack/internal/entity"
	"bustrack/internal/metrics"
	"bustrack/internal/queue"
	"bustrack/internal/store"
)

// Publisher receives an event for every stored ping.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// PingInput is a position report. Lat and Lon are pointers so a missing value can be told
// apart from zero.
type PingInput struct {
	Identifier string     `json:"identifier"`
	Lat        *float64   `json:"lat"`
	Lon        *float64   `json:"lon"`
	StopName   string     `json:"stopName,omitempty"`
	Status     string     `json:"status,omitempty"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

// tick is the timestamp resolution shared by every store engine.
const tick = time.Millisecond

type Service struct {
	pings   *store.Collection[entity.GpsPing]
	pub     Publisher
	ceiling int
	log     *zap.Logger
	now     func() time.Time

	// locks serialize RecordPing per identifier so each new ping is ordered after the last.
	locks [64]sync.Mutex
}

// NewService builds the location service. pub may be nil. ceiling is the ping count kept by
// EnforceCeiling.
func NewService(pings *store.Collection[entity.GpsPing], pub Publisher, ceiling int, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		pings:   pings,
		pub:     pub,
		ceiling: ceiling,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RecordPing validates and stores one ping, then announces it on the queue. Timestamps of an
// identifier strictly increase: a client timestamp at or before the latest stored ping is
// rejected, and a server timestamp that would collide is moved one tick past the latest.
func (s *Service) RecordPing(ctx context.Context, in PingInput) (entity.GpsPing, error) {
	id := strings.TrimSpace(in.Identifier)
	if id == "" {
		return entity.GpsPing{}, apperr.Validation("identifier is required")
	}
	if err := checkCoord("lat", in.Lat, 90); err != nil {
		return entity.GpsPing{}, err
	}
	if err := checkCoord("lon", in.Lon, 180); err != nil {
		return entity.GpsPing{}, err
	}

	ping := entity.GpsPing{
		ID:         store.NewID(),
		Identifier: id,
		Lat:        *in.Lat,
		Lon:        *in.Lon,
		StopName:   strings.TrimSpace(in.StopName),
		Status:     strings.TrimSpace(in.Status),
	}
	if err := entity.Validate(ping); err != nil {
		return entity.GpsPing{}, err
	}

	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	last, err := s.Latest(ctx, id)
	if err != nil {
		return entity.GpsPing{}, err
	}
	clientTime := in.Timestamp != nil && !in.Timestamp.IsZero()
	if clientTime {
		ping.Timestamp = in.Timestamp.UTC().Truncate(tick)
	} else {
		ping.Timestamp = s.now().UTC().Truncate(tick)
	}
	if last != nil && !ping.Timestamp.After(last.Timestamp) {
		if clientTime {
			return entity.GpsPing{}, apperr.Validation("timestamp must be after the latest ping of %s at %s",
				id, last.Timestamp.Format(time.RFC3339Nano))
		}
		ping.Timestamp = last.Timestamp.Add(tick)
	}

	if err := s.pings.Insert(ctx, ping); err != nil {
		return entity.GpsPing{}, apperr.Storage("insert ping", err)
	}
	metrics.PingsRecorded.Inc()
	s.publish(ctx, ping)
	return ping, nil
}

func (s *Service) publish(ctx context.Context, p entity.GpsPing) {
	if s.pub == nil {
		return
	}
	msg, err := queue.NewMessage(queue.TypePingRecorded, queue.PingRecorded{
		PingID:     p.ID,
		Identifier: p.Identifier,
		Timestamp:  p.Timestamp,
	})
	if err == nil {
		err = s.pub.Publish(ctx, msg)
	}
	if err != nil {
		s.log.Warn("publish ping event failed", zap.String("identifier", p.Identifier), zap.Error(err))
	}
}

func (s *Service) lockFor(identifier string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(identifier))
	return &s.locks[h.Sum32()%uint32(len(s.locks))]
}

func checkCoord(name string, v *float64, bound float64) error {
	if v == nil {
		return apperr.Validation("%s is required", name)
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return apperr.Validation("%s must be a finite number", name)
	}
	if *v < -bound || *v > bound {
		return apperr.Validation("%s must be between %g and %g", name, -bound, bound)
	}
	return nil
}

// Latest returns the newest ping of identifier, or nil when it has none.
func (s *Service) Latest(ctx context.Context, identifier string) (*entity.GpsPing, error) {
	p, err := s.pings.FindOne(ctx, store.Where(store.Eq("identifier", strings.TrimSpace(identifier))).
		OrderBy("timestamp", true).Take(1))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Storage("latest ping", err)
	}
	return &p, nil
}

// LatestPerIdentifier returns the newest ping of every tracked identifier.
func (s *Service) LatestPerIdentifier(ctx context.Context) ([]entity.GpsPing, error) {
	pings, err := s.pings.LatestBy(ctx, "identifier", store.Sort{Field: "timestamp", Desc: true})
	if err != nil {
		return nil, apperr.Storage("latest pings", err)
	}
	return pings, nil
}

// History returns the pings of identifier oldest first. since bounds the result from below
// when set; stopsOnly keeps only pings reported at a named stop.
func (s *Service) History(ctx context.Context, identifier string, since *time.Time, stopsOnly bool) ([]entity.GpsPing, error) {
	conds := []store.Cond{store.Eq("identifier", strings.TrimSpace(identifier))}
	if since != nil {
		conds = append(conds, store.Gte("timestamp", since.UTC()))
	}
	if stopsOnly {
		conds = append(conds, store.Exists("stopName"))
	}
	pings, err := s.pings.Find(ctx, store.Where(conds...).OrderBy("timestamp", false))
	if err != nil {
		return nil, apperr.Storage("ping history", err)
	}
	return pings, nil
}

// Prune deletes the oldest pings so that at most retain remain. Candidates are read first and
// deleted by id, so pings written meanwhile are never touched.
func (s *Service) Prune(ctx context.Context, retain int) (int64, error) {
	if retain < 0 {
		return 0, apperr.Validation("retain must not be negative")
	}
	total, err := s.pings.Count(ctx)
	if err != nil {
		return 0, apperr.Storage("count pings", err)
	}
	excess := total - int64(retain)
	if excess <= 0 {
		return 0, nil
	}
	oldest, err := s.pings.Find(ctx, store.Query{}.OrderBy("timestamp", false).Take(int(excess)))
	if err != nil {
		return 0, apperr.Storage("select prunable pings", err)
	}
	ids := make([]string, 0, len(oldest))
	for _, p := range oldest {
		ids = append(ids, p.ID)
	}
	deleted, err := s.pings.DeleteIDs(ctx, ids)
	if err != nil {
		return 0, apperr.Storage("delete pings", err)
	}
	metrics.PingsPruned.Add(float64(deleted))
	s.log.Info("pruned pings", zap.Int64("deleted", deleted), zap.Int64("total", total), zap.Int("retain", retain))
	return deleted, nil
}

// EnforceCeiling prunes down to the configured retention ceiling.
func (s *Service) EnforceCeiling(ctx context.Context) (int64, error) {
	return s.Prune(ctx, s.ceiling)
}

// Ceiling is the retention ceiling used by EnforceCeiling.
func (s *Service) Ceiling() int { return s.ceiling }
