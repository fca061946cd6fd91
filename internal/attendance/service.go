// Package attendance marks riders present from scanned card codes.
package attendance

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"bustrack/internal/apperr"
	"bustrack/internal/entity"
	"bustrack/internal/metrics"
	"bustrack/internal/store"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 100

	dayLayout = "2006-01-02"
)

// ScanInput is one card scan by a marking party. A scan always records the subject present.
type ScanInput struct {
	Barcode        string     `json:"barcode"`
	MarkingPartyID string     `json:"markingPartyId"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
	BusID          string     `json:"busId,omitempty"`
	StopID         string     `json:"stopId,omitempty"`
}

// Subject is the display projection of the person a record belongs to. It is derived from
// the student or faculty document at read time and never stored.
type Subject struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Name       string `json:"name,omitempty"`
	RegNo      string `json:"regNo,omitempty"`
	EmployeeID string `json:"employeeId,omitempty"`
	Department string `json:"department,omitempty"`
	Batch      string `json:"batch,omitempty"`
}

// Entry is a stored record together with its subject.
type Entry struct {
	Record  entity.AttendanceRecord `json:"record"`
	Subject Subject                 `json:"subject"`
}

// TodayCount is the number of records a marking party created on Date.
type TodayCount struct {
	Count int64  `json:"count"`
	Date  string `json:"date"`
}

// Service coordinates scan resolution and daily deduplication.
type Service struct {
	students *entity.StudentStore
	faculty  *entity.FacultyStore
	records  *store.Collection[entity.AttendanceRecord]
	loc      *time.Location
	log      *zap.Logger
	now      func() time.Time
}

// NewService creates a service over stores. Calendar days are taken in loc.
func NewService(stores *entity.Stores, loc *time.Location, log *zap.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		students: stores.Students,
		faculty:  stores.Faculty,
		records:  stores.Attendance,
		loc:      loc,
		log:      log,
		now:      time.Now,
	}
}

// MarkByBarcode resolves the scanned code to a student or faculty member and records them
// present for the day. A second scan of the same subject by the same marking party on the same
// day fails with a duplicate error.
func (s *Service) MarkByBarcode(ctx context.Context, in ScanInput) (Entry, error) {
	entry, err := s.mark(ctx, in)
	metrics.AttendanceMarks.WithLabelValues(outcome(err)).Inc()
	return entry, err
}

func (s *Service) mark(ctx context.Context, in ScanInput) (Entry, error) {
	code := entity.NormalizeCode(in.Barcode)
	if code == "" {
		return Entry{}, apperr.Validation("barcode is required")
	}
	if !entity.RegNoPattern.MatchString(code) && !entity.BarcodePattern.MatchString(code) {
		return Entry{}, apperr.Validation("barcode %q is not a registration number or card code", code)
	}
	partyID := strings.TrimSpace(in.MarkingPartyID)
	if partyID == "" {
		return Entry{}, apperr.Validation("markingPartyId is required")
	}

	if err := s.markingParty(ctx, partyID); err != nil {
		return Entry{}, err
	}

	subject, err := s.resolve(ctx, code)
	if err != nil {
		return Entry{}, err
	}

	ts := s.now()
	if in.Timestamp != nil && !in.Timestamp.IsZero() {
		ts = *in.Timestamp
	}
	ts = ts.UTC()
	day := ts.In(s.loc).Format(dayLayout)

	rec := entity.AttendanceRecord{
		ID:             store.NewID(),
		SubjectID:      subject.ID,
		SubjectKind:    subject.Kind,
		RegNo:          subject.RegNo,
		MarkingPartyID: partyID,
		BusID:          strings.TrimSpace(in.BusID),
		StopID:         strings.TrimSpace(in.StopID),
		Timestamp:      ts,
		Day:            day,
		Status:         entity.StatusPresent,
	}
	if err := entity.Validate(rec); err != nil {
		return Entry{}, err
	}

	// The (subjectId, markingPartyId, day) unique key rejects the second mark of a day,
	// including two concurrent scans.
	if err := s.records.Insert(ctx, rec); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return Entry{}, apperr.Duplicate("attendance already marked for %s on %s", subject.Name, day)
		}
		return Entry{}, apperr.Storage("insert attendance", err)
	}

	s.log.Info("attendance marked",
		zap.String("subject", rec.SubjectID),
		zap.String("kind", rec.SubjectKind),
		zap.String("markedBy", partyID),
		zap.String("day", day))
	return Entry{Record: rec, Subject: subject}, nil
}

// markingParty reports NotFound unless id names a faculty member.
func (s *Service) markingParty(ctx context.Context, id string) error {
	if _, err := s.faculty.Get(ctx, id); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.NotFound("marking faculty not found")
		}
		return err
	}
	return nil
}

// resolve looks the code up as a registration number, then a student barcode, then a faculty
// barcode.
func (s *Service) resolve(ctx context.Context, code string) (Subject, error) {
	if entity.RegNoPattern.MatchString(code) {
		st, err := s.students.ByRegNo(ctx, code)
		if err == nil {
			return studentSubject(st)
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return Subject{}, err
		}
	}
	st, err := s.students.ByBarcode(ctx, code)
	if err == nil {
		return studentSubject(st)
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return Subject{}, err
	}
	f, err := s.faculty.ByBarcode(ctx, code)
	if err == nil {
		return facultySubject(f), nil
	}
	if errors.Is(err, apperr.ErrNotFound) {
		return Subject{}, apperr.NotFound("no student or faculty with code %s", code)
	}
	return Subject{}, err
}

func studentSubject(st entity.Student) (Subject, error) {
	if !st.IsActive {
		return Subject{}, apperr.NotFound("student %s is not active", st.RegNo)
	}
	return Subject{
		ID:         st.ID,
		Kind:       entity.SubjectStudent,
		Name:       st.Name,
		RegNo:      st.RegNo,
		Department: st.Department,
		Batch:      st.Batch,
	}, nil
}

func facultySubject(f entity.Faculty) Subject {
	return Subject{
		ID:         f.ID,
		Kind:       entity.SubjectFaculty,
		Name:       f.Name,
		EmployeeID: f.EmployeeID,
	}
}

// ListForMarkingParty returns the newest records created by a marking party, each joined with
// its subject. limit defaults to DefaultListLimit and is capped at MaxListLimit.
func (s *Service) ListForMarkingParty(ctx context.Context, markingPartyID string, limit int) ([]Entry, error) {
	partyID := strings.TrimSpace(markingPartyID)
	if partyID == "" {
		return nil, apperr.Validation("markingPartyId is required")
	}
	if err := s.markingParty(ctx, partyID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	recs, err := s.records.Find(ctx, store.Where(store.Eq("markingPartyId", partyID)).
		OrderBy("timestamp", true).Take(limit))
	if err != nil {
		return nil, apperr.Storage("list attendance", err)
	}

	seen := make(map[string]Subject, len(recs))
	out := make([]Entry, 0, len(recs))
	for _, rec := range recs {
		sub, ok := seen[rec.SubjectID]
		if !ok {
			sub, err = s.subjectOf(ctx, rec)
			if err != nil {
				return nil, err
			}
			seen[rec.SubjectID] = sub
		}
		out = append(out, Entry{Record: rec, Subject: sub})
	}
	return out, nil
}

// subjectOf loads the display fields of a record's subject. A subject deleted or deactivated
// since the scan still gets a projection.
func (s *Service) subjectOf(ctx context.Context, rec entity.AttendanceRecord) (Subject, error) {
	fallback := Subject{ID: rec.SubjectID, Kind: rec.SubjectKind, RegNo: rec.RegNo}
	switch rec.SubjectKind {
	case entity.SubjectFaculty:
		f, err := s.faculty.Get(ctx, rec.SubjectID)
		if errors.Is(err, apperr.ErrNotFound) {
			return fallback, nil
		}
		if err != nil {
			return Subject{}, err
		}
		return facultySubject(f), nil
	default:
		st, err := s.students.Get(ctx, rec.SubjectID)
		if errors.Is(err, apperr.ErrNotFound) {
			return fallback, nil
		}
		if err != nil {
			return Subject{}, err
		}
		return Subject{
			ID:         st.ID,
			Kind:       entity.SubjectStudent,
			Name:       st.Name,
			RegNo:      st.RegNo,
			Department: st.Department,
			Batch:      st.Batch,
		}, nil
	}
}

// CountToday counts the records a marking party created on the current day. An unknown marking
// party is NotFound, as in ListForMarkingParty.
func (s *Service) CountToday(ctx context.Context, markingPartyID string) (TodayCount, error) {
	partyID := strings.TrimSpace(markingPartyID)
	if partyID == "" {
		return TodayCount{}, apperr.Validation("markingPartyId is required")
	}
	if err := s.markingParty(ctx, partyID); err != nil {
		return TodayCount{}, err
	}
	day := s.now().In(s.loc).Format(dayLayout)
	n, err := s.records.Count(ctx, store.Eq("markingPartyId", partyID), store.Eq("day", day))
	if err != nil {
		return TodayCount{}, apperr.Storage("count attendance", err)
	}
	return TodayCount{Count: n, Date: day}, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "marked"
	case errors.Is(err, apperr.ErrDuplicate):
		return "duplicate"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperr.ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
