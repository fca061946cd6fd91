package entity

import (
	"context"
	"strings"
	"time"

	"bustrack/internal/apperr"
	"bustrack/internal/store"
)

// StudentStore reads and writes students. Students are never deleted, only deactivated.
type StudentStore struct {
	coll *store.Collection[Student]
	now  func() time.Time
}

// Create validates st, assigns its id and stores it active.
func (s *StudentStore) Create(ctx context.Context, st *Student) error {
	st.Name = strings.TrimSpace(st.Name)
	st.RegNo = NormalizeCode(st.RegNo)
	st.Barcode = NormalizeCode(st.Barcode)
	if st.Barcode == "" {
		st.Barcode = st.RegNo
	}
	st.Department = strings.TrimSpace(st.Department)
	st.Batch = strings.TrimSpace(st.Batch)
	if err := Validate(st); err != nil {
		return err
	}
	st.ID = store.NewID()
	st.IsActive = true
	st.CreatedAt = s.now()
	if err := s.coll.Insert(ctx, *st); err != nil {
		return writeErr(err, "insert student", "a student with this registration number or barcode already exists")
	}
	return nil
}

func (s *StudentStore) Get(ctx context.Context, id string) (Student, error) {
	st, err := s.coll.Get(ctx, id)
	if err != nil {
		return Student{}, lookupErr(err, "load student", "student not found")
	}
	return st, nil
}

func (s *StudentStore) ByRegNo(ctx context.Context, regNo string) (Student, error) {
	st, err := s.coll.FindOne(ctx, store.Where(store.Eq("regNo", NormalizeCode(regNo))))
	if err != nil {
		return Student{}, lookupErr(err, "load student", "student not found")
	}
	return st, nil
}

func (s *StudentStore) ByBarcode(ctx context.Context, barcode string) (Student, error) {
	st, err := s.coll.FindOne(ctx, store.Where(store.Eq("barcode", NormalizeCode(barcode))))
	if err != nil {
		return Student{}, lookupErr(err, "load student", "student not found")
	}
	return st, nil
}

// List returns students by registration number. Inactive students are skipped unless
// includeInactive is set.
func (s *StudentStore) List(ctx context.Context, includeInactive bool) ([]Student, error) {
	q := store.Query{}.OrderBy("regNo", false)
	if !includeInactive {
		q.Where = []store.Cond{store.Eq("isActive", true)}
	}
	students, err := s.coll.Find(ctx, q)
	if err != nil {
		return nil, apperr.Storage("list students", err)
	}
	return students, nil
}

// Deactivate clears the active flag. Deactivating twice is not an error.
func (s *StudentStore) Deactivate(ctx context.Context, id string) (Student, error) {
	st, err := s.Get(ctx, id)
	if err != nil {
		return Student{}, err
	}
	if !st.IsActive {
		return st, nil
	}
	st.IsActive = false
	if err := s.coll.Replace(ctx, st); err != nil {
		return Student{}, lookupErr(err, "update student", "student not found")
	}
	return st, nil
}
