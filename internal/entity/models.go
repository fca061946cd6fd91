package entity

import "time"

// Student is a rider identified at the bus door by registration number or barcode.
type Student struct {
	ID         string    `json:"id" bson:"_id"`
	Name       string    `json:"name" bson:"name" validate:"required,max=120"`
	RegNo      string    `json:"regNo" bson:"regNo" validate:"required,regno"`
	Barcode    string    `json:"barcode" bson:"barcode" validate:"required,barcode"`
	Department string    `json:"department" bson:"department" validate:"required,max=120"`
	Batch      string    `json:"batch,omitempty" bson:"batch,omitempty" validate:"max=20"`
	RouteID    string    `json:"routeId,omitempty" bson:"routeId,omitempty"`
	IsActive   bool      `json:"isActive" bson:"isActive"`
	CreatedAt  time.Time `json:"createdAt" bson:"createdAt"`
}

func (s Student) DocumentID() string { return s.ID }

// Faculty marks attendance and may itself be scanned as a rider.
type Faculty struct {
	ID         string    `json:"id" bson:"_id"`
	Name       string    `json:"name" bson:"name" validate:"required,max=120"`
	EmployeeID string    `json:"employeeId" bson:"employeeId" validate:"required,max=40"`
	Barcode    string    `json:"barcode" bson:"barcode" validate:"required,barcode"`
	Email      string    `json:"email" bson:"email" validate:"required,email"`
	RouteID    string    `json:"routeId,omitempty" bson:"routeId,omitempty"`
	CreatedAt  time.Time `json:"createdAt" bson:"createdAt"`
}

func (f Faculty) DocumentID() string { return f.ID }

// Route is a bus route. Stops holds stop names in the order they were added; it is filled
// from the route's stops on every read.
type Route struct {
	ID        string    `json:"id" bson:"_id"`
	Name      string    `json:"name" bson:"name" validate:"required,max=120"`
	Code      string    `json:"code" bson:"code" validate:"required,max=40,excludesall=/?#"`
	Stops     []string  `json:"stops" bson:"stops"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

func (r Route) DocumentID() string { return r.ID }

const StopPending = "pending"

// RouteStop is one scheduled stop of a route.
type RouteStop struct {
	ID            string    `json:"id" bson:"_id"`
	RouteCode     string    `json:"routeCode" bson:"routeCode" validate:"required"`
	StopName      string    `json:"stopName" bson:"stopName" validate:"required,max=120"`
	Lat           float64   `json:"lat" bson:"lat" validate:"gte=-90,lte=90"`
	Lon           float64   `json:"lon" bson:"lon" validate:"gte=-180,lte=180"`
	ScheduledTime string    `json:"scheduledTime,omitempty" bson:"scheduledTime,omitempty" validate:"omitempty,datetime=15:04"`
	Status        string    `json:"status" bson:"status" validate:"required,max=32"`
	Sequence      int       `json:"sequence" bson:"sequence"`
	CreatedAt     time.Time `json:"createdAt" bson:"createdAt"`
}

func (s RouteStop) DocumentID() string { return s.ID }

// GpsPing is one reported position of a tracked bus, route or device.
type GpsPing struct {
	ID         string    `json:"id" bson:"_id"`
	Identifier string    `json:"identifier" bson:"identifier" validate:"required,max=64"`
	Lat        float64   `json:"lat" bson:"lat" validate:"gte=-90,lte=90"`
	Lon        float64   `json:"lon" bson:"lon" validate:"gte=-180,lte=180"`
	StopName   string    `json:"stopName,omitempty" bson:"stopName,omitempty" validate:"max=120"`
	Status     string    `json:"status,omitempty" bson:"status,omitempty" validate:"max=32"`
	Timestamp  time.Time `json:"timestamp" bson:"timestamp"`
}

func (p GpsPing) DocumentID() string { return p.ID }

const (
	StatusPresent = "present"
	StatusAbsent  = "absent"
	StatusLate    = "late"

	SubjectStudent = "student"
	SubjectFaculty = "faculty"
)

// AttendanceRecord is an append-only attendance event. Day is the calendar date of
// Timestamp in the service's reference zone and is part of the daily unique key.
type AttendanceRecord struct {
	ID             string    `json:"id" bson:"_id"`
	SubjectID      string    `json:"subjectId" bson:"subjectId" validate:"required"`
	SubjectKind    string    `json:"subjectKind" bson:"subjectKind" validate:"oneof=student faculty"`
	RegNo          string    `json:"regNo,omitempty" bson:"regNo,omitempty"`
	MarkingPartyID string    `json:"markingPartyId" bson:"markingPartyId" validate:"required"`
	BusID          string    `json:"busId,omitempty" bson:"busId,omitempty"`
	StopID         string    `json:"stopId,omitempty" bson:"stopId,omitempty"`
	Timestamp      time.Time `json:"timestamp" bson:"timestamp"`
	Day            string    `json:"day" bson:"day" validate:"required,datetime=2006-01-02"`
	Status         string    `json:"status" bson:"status" validate:"oneof=present absent late"`
}

func (a AttendanceRecord) DocumentID() string { return a.ID }

const (
	RoleStudent = "student"
	RoleFaculty = "faculty"
)

// User is a login credential. Faculty users link to their Faculty record.
type User struct {
	ID           string    `json:"id" bson:"_id"`
	Email        string    `json:"email" bson:"email" validate:"required,email"`
	PasswordHash string    `json:"passwordHash" bson:"passwordHash" validate:"required"`
	Role         string    `json:"role" bson:"role" validate:"oneof=student faculty"`
	FacultyID    string    `json:"facultyId,omitempty" bson:"facultyId,omitempty"`
	CreatedAt    time.Time `json:"createdAt" bson:"createdAt"`
}

func (u User) DocumentID() string { return u.ID }
