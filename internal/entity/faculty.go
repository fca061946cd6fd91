package entity

import (
	"context"
	"errors"
	"strings"
	"time"

	"bustrack/internal/apperr"
	"bustrack/internal/store"
)

type FacultyStore struct {
	coll *store.Collection[Faculty]
	now  func() time.Time
}

func (s *FacultyStore) Create(ctx context.Context, f *Faculty) error {
	f.Name = strings.TrimSpace(f.Name)
	f.EmployeeID = strings.TrimSpace(f.EmployeeID)
	f.Barcode = NormalizeCode(f.Barcode)
	f.Email = strings.ToLower(strings.TrimSpace(f.Email))
	if err := Validate(f); err != nil {
		return err
	}
	f.ID = store.NewID()
	f.CreatedAt = s.now()
	if err := s.coll.Insert(ctx, *f); err != nil {
		return writeErr(err, "insert faculty", "a faculty member with this employee id, barcode or email already exists")
	}
	return nil
}

func (s *FacultyStore) Get(ctx context.Context, id string) (Faculty, error) {
	f, err := s.coll.Get(ctx, id)
	if err != nil {
		return Faculty{}, lookupErr(err, "load faculty", "faculty not found")
	}
	return f, nil
}

func (s *FacultyStore) ByBarcode(ctx context.Context, barcode string) (Faculty, error) {
	f, err := s.coll.FindOne(ctx, store.Where(store.Eq("barcode", NormalizeCode(barcode))))
	if err != nil {
		return Faculty{}, lookupErr(err, "load faculty", "faculty not found")
	}
	return f, nil
}

func (s *FacultyStore) ByEmail(ctx context.Context, email string) (Faculty, error) {
	f, err := s.coll.FindOne(ctx, store.Where(store.Eq("email", strings.ToLower(strings.TrimSpace(email)))))
	if err != nil {
		return Faculty{}, lookupErr(err, "load faculty", "faculty not found")
	}
	return f, nil
}

func (s *FacultyStore) List(ctx context.Context) ([]Faculty, error) {
	list, err := s.coll.Find(ctx, store.Query{}.OrderBy("employeeId", false))
	if err != nil {
		return nil, apperr.Storage("list faculty", err)
	}
	return list, nil
}

// Ensure creates f unless a faculty member with the same email exists. It reports whether a
// record was created.
func (s *FacultyStore) Ensure(ctx context.Context, f *Faculty) (bool, error) {
	existing, err := s.ByEmail(ctx, f.Email)
	if err == nil {
		*f = existing
		return false, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return false, err
	}
	if err := s.Create(ctx, f); err != nil {
		return false, err
	}
	return true, nil
}
