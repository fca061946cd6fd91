package entity

import (
	"context"
	"errors"
	"time"

	"bustrack/internal/apperr"
	"bustrack/internal/store"
)

// Collection names and the keys each engine enforces.
var (
	StudentSchema = store.Schema{
		Name:    "students",
		Times:   []string{"createdAt"},
		Unique:  [][]string{{"regNo"}, {"barcode"}},
		Indexes: [][]string{{"isActive"}},
	}
	FacultySchema = store.Schema{
		Name:   "faculty",
		Times:  []string{"createdAt"},
		Unique: [][]string{{"employeeId"}, {"barcode"}, {"email"}},
	}
	RouteSchema = store.Schema{
		Name:   "routes",
		Times:  []string{"createdAt"},
		Unique: [][]string{{"code"}},
	}
	RouteStopSchema = store.Schema{
		Name:    "route_stops",
		Times:   []string{"createdAt"},
		Numbers: []string{"sequence"},
		Unique:  [][]string{{"routeCode", "sequence"}},
		Indexes: [][]string{{"routeCode"}},
	}
	PingSchema = store.Schema{
		Name:    "gps_pings",
		Times:   []string{"timestamp"},
		Indexes: [][]string{{"identifier"}},
	}
	AttendanceSchema = store.Schema{
		Name:    "attendance",
		Times:   []string{"timestamp"},
		Unique:  [][]string{{"subjectId", "markingPartyId", "day"}},
		Indexes: [][]string{{"markingPartyId"}},
	}
	UserSchema = store.Schema{
		Name:   "users",
		Times:  []string{"createdAt"},
		Unique: [][]string{{"email"}},
	}
)

// Stores bundles every entity store over one backend.
type Stores struct {
	Students   *StudentStore
	Faculty    *FacultyStore
	Routes     *RouteStore
	Users      *UserStore
	Pings      *store.Collection[GpsPing]
	Attendance *store.Collection[AttendanceRecord]

	backend store.Backend
}

// NewStores binds all entity stores to b.
func NewStores(b store.Backend) *Stores {
	return &Stores{
		Students:   &StudentStore{coll: store.NewCollection[Student](b, StudentSchema), now: utcNow},
		Faculty:    &FacultyStore{coll: store.NewCollection[Faculty](b, FacultySchema), now: utcNow},
		Routes:     newRouteStore(b),
		Users:      &UserStore{coll: store.NewCollection[User](b, UserSchema), now: utcNow},
		Pings:      store.NewCollection[GpsPing](b, PingSchema),
		Attendance: store.NewCollection[AttendanceRecord](b, AttendanceSchema),
		backend:    b,
	}
}

// Migrate creates every collection and its keys.
func (s *Stores) Migrate(ctx context.Context) error {
	for _, schema := range []store.Schema{
		StudentSchema, FacultySchema, RouteSchema, RouteStopSchema, PingSchema, AttendanceSchema, UserSchema,
	} {
		if err := s.backend.Migrate(ctx, schema); err != nil {
			return err
		}
	}
	return nil
}

func utcNow() time.Time { return time.Now().UTC() }

// lookupErr turns a store miss into a NotFound with msg and anything else into a storage error.
func lookupErr(err error, op, msg string) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("%s", msg)
	}
	return apperr.Storage(op, err)
}

// writeErr turns a unique-key violation into a Duplicate with msg.
func writeErr(err error, op, msg string) error {
	if errors.Is(err, store.ErrDuplicate) {
		return apperr.Duplicate("%s", msg)
	}
	return apperr.Storage(op, err)
}
