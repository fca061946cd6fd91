package entity

import (
	"context"
	"strings"
	"time"

	"bustrack/internal/apperr"
	"bustrack/internal/store"
)

type UserStore struct {
	coll *store.Collection[User]
	now  func() time.Time
}

// Create stores u. The email must end with domain when domain is set.
func (s *UserStore) Create(ctx context.Context, u *User, domain string) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if err := Validate(u); err != nil {
		return err
	}
	if domain != "" && !strings.HasSuffix(u.Email, "@"+domain) && !strings.HasSuffix(u.Email, "."+domain) {
		return apperr.Validation("email must belong to %s", domain)
	}
	u.ID = store.NewID()
	u.CreatedAt = s.now()
	if err := s.coll.Insert(ctx, *u); err != nil {
		return writeErr(err, "insert user", "an account with this email already exists")
	}
	return nil
}

func (s *UserStore) Get(ctx context.Context, id string) (User, error) {
	u, err := s.coll.Get(ctx, id)
	if err != nil {
		return User{}, lookupErr(err, "load user", "user not found")
	}
	return u, nil
}

func (s *UserStore) ByEmail(ctx context.Context, email string) (User, error) {
	u, err := s.coll.FindOne(ctx, store.Where(store.Eq("email", strings.ToLower(strings.TrimSpace(email)))))
	if err != nil {
		return User{}, lookupErr(err, "load user", "user not found")
	}
	return u, nil
}
