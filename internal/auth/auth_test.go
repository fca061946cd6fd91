package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"bustrack/internal/apperr"
	"bustrack/internal/entity"
	"bustrack/internal/store"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "bustrack-test"
)

func init() {
	hashCost = bcrypt.MinCost
	gin.SetMode(gin.TestMode)
}

func TestIssueAndParse(t *testing.T) {
	pair, err := Issue(Identity{UserID: "u1", Role: entity.RoleFaculty, FacultyID: "f1"}, testIssuer, testKey, time.Minute, time.Hour)
	require.NoError(t, err)
	assert.True(t, pair.RefreshExp.After(pair.AccessExp))

	claims, err := Parse(pair.AccessToken, testKey, testIssuer, TokenAccess)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "u1", Role: entity.RoleFaculty, FacultyID: "f1"}, claims.Identity())

	_, err = Parse(pair.RefreshToken, testKey, testIssuer, TokenAccess)
	assert.Error(t, err, "refresh token must not pass as access token")
	_, err = Parse(pair.AccessToken, "other-key", testIssuer, TokenAccess)
	assert.Error(t, err)
	_, err = Parse(pair.AccessToken, testKey, "someone-else", TokenAccess)
	assert.Error(t, err)
}

func TestParse_Expired(t *testing.T) {
	pair, err := Issue(Identity{UserID: "u1", Role: entity.RoleStudent}, testIssuer, testKey, -time.Minute, time.Hour)
	require.NoError(t, err)
	_, err = Parse(pair.AccessToken, testKey, testIssuer, TokenAccess)
	assert.Error(t, err)
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "correct horse"))
	assert.False(t, CheckPassword(hash, "wrong horse"))
}

func newAuthService(t *testing.T) (*Service, *entity.Stores) {
	t.Helper()
	stores := entity.NewStores(store.NewMemory())
	require.NoError(t, stores.Migrate(context.Background()))
	svc := NewService(stores, Settings{
		Issuer: testIssuer, SigningKey: testKey,
		AccessTTL: time.Minute, RefreshTTL: time.Hour,
		EmailDomain: "vitap.ac.in",
	}, zap.NewNop())
	return svc, stores
}

func TestService_RegisterLoginRefresh(t *testing.T) {
	ctx := context.Background()
	svc, stores := newAuthService(t)
	f := entity.Faculty{Name: "Dr. Rao", EmployeeID: "E100", Barcode: "FAC-100", Email: "rao@vitap.ac.in"}
	require.NoError(t, stores.Faculty.Create(ctx, &f))

	acc, err := svc.CreateFacultyAccount(ctx, "rao@vitap.ac.in", "s3cret-pass")
	require.NoError(t, err)
	assert.Equal(t, f.ID, acc.FacultyID)

	_, err = svc.Login(ctx, "rao@vitap.ac.in", "nope-nope")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
	_, err = svc.Login(ctx, "ghost@vitap.ac.in", "s3cret-pass")
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	sess, err := svc.Login(ctx, "RAO@vitap.ac.in", "s3cret-pass")
	require.NoError(t, err)
	claims, err := Parse(sess.Tokens.AccessToken, testKey, testIssuer, TokenAccess)
	require.NoError(t, err)
	assert.Equal(t, f.ID, claims.FacultyID)

	refreshed, err := svc.Refresh(ctx, sess.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, acc.ID, refreshed.Account.ID)

	_, err = svc.Refresh(ctx, sess.Tokens.AccessToken)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestService_RegisterRejects(t *testing.T) {
	ctx := context.Background()
	svc, _ := newAuthService(t)

	_, err := svc.Register(ctx, RegisterInput{Email: "a@vitap.ac.in", Password: "short"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = svc.Register(ctx, RegisterInput{Email: "a@gmail.com", Password: "long-enough"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = svc.Register(ctx, RegisterInput{Email: "a@vitap.ac.in", Password: "long-enough", Role: "admin"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = svc.CreateFacultyAccount(ctx, "nobody@vitap.ac.in", "long-enough")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.Register(ctx, RegisterInput{Email: "a@vitap.ac.in", Password: "long-enough"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, RegisterInput{Email: "a@vitap.ac.in", Password: "long-enough"})
	assert.ErrorIs(t, err, apperr.ErrDuplicate)
}

func TestService_RegisterRefusesFaculty(t *testing.T) {
	ctx := context.Background()
	svc, stores := newAuthService(t)
	f := entity.Faculty{Name: "Dr. Rao", EmployeeID: "E100", Barcode: "FAC-100", Email: "rao@vitap.ac.in"}
	require.NoError(t, stores.Faculty.Create(ctx, &f))

	_, err := svc.Register(ctx, RegisterInput{Email: "rao@vitap.ac.in", Password: "s3cret-pass", Role: "faculty"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = stores.Users.ByEmail(ctx, "rao@vitap.ac.in")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMiddleware(t *testing.T) {
	r := gin.New()
	r.GET("/faculty-only", Bearer(testKey, testIssuer), RequireRole(entity.RoleFaculty), func(c *gin.Context) {
		claims, _ := ClaimsFrom(c)
		c.String(http.StatusOK, claims.FacultyID)
	})

	faculty, err := Issue(Identity{UserID: "u1", Role: entity.RoleFaculty, FacultyID: "f1"}, testIssuer, testKey, time.Minute, time.Hour)
	require.NoError(t, err)
	student, err := Issue(Identity{UserID: "u2", Role: entity.RoleStudent}, testIssuer, testKey, time.Minute, time.Hour)
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"garbage", "Bearer abc", http.StatusUnauthorized},
		{"refresh token", "Bearer " + faculty.RefreshToken, http.StatusUnauthorized},
		{"student", "Bearer " + student.AccessToken, http.StatusForbidden},
		{"faculty", "Bearer " + faculty.AccessToken, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/faculty-only", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, "f1", w.Body.String())
			}
		})
	}
}
