package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bustrack/internal/attendance"
	"bustrack/internal/auth"
	"bustrack/internal/entity"
	"bustrack/internal/location"
	"bustrack/internal/queue"
	"bustrack/internal/store"
)

const (
	testKey    = "http-test-key"
	testIssuer = "bustrack-test"
)

func init() { gin.SetMode(gin.TestMode) }

type harness struct {
	router  *gin.Engine
	stores  *entity.Stores
	faculty entity.Faculty
	token   string
}

func newHarness(t *testing.T, checks map[string]HealthCheck) *harness {
	t.Helper()
	ctx := context.Background()
	stores := entity.NewStores(store.NewMemory())
	require.NoError(t, stores.Migrate(ctx))

	f := entity.Faculty{Name: "Dr. Rao", EmployeeID: "E100", Barcode: "FAC-100", Email: "rao@vitap.ac.in"}
	require.NoError(t, stores.Faculty.Create(ctx, &f))
	pair, err := auth.Issue(auth.Identity{UserID: "u1", Role: entity.RoleFaculty, FacultyID: f.ID}, testIssuer, testKey, time.Hour, time.Hour)
	require.NoError(t, err)

	log := zap.NewNop()
	router := NewRouter(Deps{
		Stores:     stores,
		Locations:  location.NewService(stores.Pings, queue.NewInMemory(64), 100, log),
		Attendance: attendance.NewService(stores, time.UTC, log),
		Auth: auth.NewService(stores, auth.Settings{
			Issuer: testIssuer, SigningKey: testKey, AccessTTL: time.Hour, RefreshTTL: time.Hour, EmailDomain: "vitap.ac.in",
		}, log),
		SigningKey: testKey,
		Issuer:     testIssuer,
		Version:    "test",
		Checks:     checks,
		Log:        log,
	})
	return &harness{router: router, stores: stores, faculty: f, token: pair.AccessToken}
}

type reply struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (h *harness) do(t *testing.T, method, path string, body any, authed bool) (int, reply) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	var r reply
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &r), w.Body.String())
	return w.Code, r
}

func TestLocations(t *testing.T) {
	h := newHarness(t, nil)

	code, r := h.do(t, http.MethodPost, "/locations", gin.H{"identifier": "R1", "lat": 16.5, "lon": 80.6}, false)
	require.Equal(t, http.StatusCreated, code, r.Error)
	assert.True(t, r.Success)

	code, r = h.do(t, http.MethodPost, "/locations", gin.H{"identifier": "R1", "lat": 16.5}, false)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, r.Success)
	assert.Equal(t, "lon is required", r.Error)

	code, _ = h.do(t, http.MethodGet, "/update_location?route=R2&lat=16.6&lon=80.7", nil, false)
	assert.Equal(t, http.StatusCreated, code)
	code, _ = h.do(t, http.MethodGet, "/update_location?route=R2&lat=north&lon=80.7", nil, false)
	assert.Equal(t, http.StatusBadRequest, code)

	code, r = h.do(t, http.MethodGet, "/locations/latest", nil, false)
	require.Equal(t, http.StatusOK, code)
	var latest []entity.GpsPing
	require.NoError(t, json.Unmarshal(r.Data, &latest))
	assert.Len(t, latest, 2)

	code, r = h.do(t, http.MethodGet, "/locations/R1/latest", nil, false)
	require.Equal(t, http.StatusOK, code)
	var ping entity.GpsPing
	require.NoError(t, json.Unmarshal(r.Data, &ping))
	assert.Equal(t, "R1", ping.Identifier)

	code, r = h.do(t, http.MethodGet, "/locations/R9/latest", nil, false)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{}`, string(r.Data))

	code, r = h.do(t, http.MethodGet, "/locations/R1/history?since=2000-01-01T00:00:00Z", nil, false)
	require.Equal(t, http.StatusOK, code)
	var history []entity.GpsPing
	require.NoError(t, json.Unmarshal(r.Data, &history))
	assert.Len(t, history, 1)

	code, _ = h.do(t, http.MethodGet, "/locations/R1/history?since=yesterday", nil, false)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestLocations_NoConsumerDoesNotStallIngestion(t *testing.T) {
	h := newHarness(t, nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 70; i++ {
			req := httptest.NewRequest(http.MethodPost, "/locations", bytes.NewBufferString(`{"identifier":"R1","lat":16.5,"lon":80.6}`))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			h.router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("ping ingestion stalled once the event buffer filled")
	}
	n, err := h.stores.Pings.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(70), n)
}

func TestCleanup(t *testing.T) {
	h := newHarness(t, nil)
	for i := 0; i < 3; i++ {
		code, _ := h.do(t, http.MethodPost, "/locations", gin.H{"identifier": "R1", "lat": 1, "lon": 1}, false)
		require.Equal(t, http.StatusCreated, code)
	}

	code, _ := h.do(t, http.MethodDelete, "/locations/cleanup", gin.H{"retain": 1}, false)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, r := h.do(t, http.MethodDelete, "/locations/cleanup", gin.H{"retain": -1}, true)
	assert.Equal(t, http.StatusBadRequest, code)

	code, r = h.do(t, http.MethodDelete, "/locations/cleanup", gin.H{"retain": 1}, true)
	require.Equal(t, http.StatusOK, code, r.Error)
	assert.JSONEq(t, `{"deletedCount":2}`, string(r.Data))

	code, r = h.do(t, http.MethodDelete, "/locations/cleanup", nil, true)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"deletedCount":0}`, string(r.Data))
}

func TestAttendanceFlow(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	st := entity.Student{Name: "Asha", RegNo: "23BCE7426", Department: "CSE"}
	require.NoError(t, h.stores.Students.Create(ctx, &st))

	code, _ := h.do(t, http.MethodPost, "/attendance/scan", gin.H{"barcode": "23BCE7426"}, false)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, r := h.do(t, http.MethodPost, "/attendance/scan", gin.H{"barcode": "23BCE7426", "markingPartyId": "someone-else"}, true)
	assert.Equal(t, http.StatusForbidden, code)

	code, r = h.do(t, http.MethodPost, "/attendance/scan", gin.H{"barcode": "abc"}, true)
	assert.Equal(t, http.StatusBadRequest, code)

	code, r = h.do(t, http.MethodPost, "/attendance/scan", gin.H{"barcode": "23BCE9999"}, true)
	assert.Equal(t, http.StatusNotFound, code)

	code, r = h.do(t, http.MethodPost, "/attendance/scan", gin.H{"barcode": "23bce7426", "status": "absent"}, true)
	require.Equal(t, http.StatusCreated, code, r.Error)
	var entry attendance.Entry
	require.NoError(t, json.Unmarshal(r.Data, &entry))
	assert.Equal(t, st.ID, entry.Record.SubjectID)
	assert.Equal(t, "Asha", entry.Subject.Name)
	assert.Equal(t, entity.StatusPresent, entry.Record.Status, "a scan always records present")
	stored, err := h.stores.Attendance.Get(ctx, entry.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPresent, stored.Status)

	code, r = h.do(t, http.MethodPost, "/attendance/scan", gin.H{"barcode": "23BCE7426"}, true)
	assert.Equal(t, http.StatusConflict, code)
	assert.False(t, r.Success)

	code, r = h.do(t, http.MethodGet, "/attendance/"+h.faculty.ID+"?limit=500", nil, true)
	require.Equal(t, http.StatusOK, code)
	var entries []attendance.Entry
	require.NoError(t, json.Unmarshal(r.Data, &entries))
	assert.Len(t, entries, 1)

	code, r = h.do(t, http.MethodGet, "/attendance/"+h.faculty.ID+"/today", nil, true)
	require.Equal(t, http.StatusOK, code)
	var today attendance.TodayCount
	require.NoError(t, json.Unmarshal(r.Data, &today))
	assert.Equal(t, int64(1), today.Count)
	assert.Equal(t, time.Now().UTC().Format("2006-01-02"), today.Date)

	code, _ = h.do(t, http.MethodGet, "/attendance/"+h.faculty.ID+"?limit=0", nil, true)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = h.do(t, http.MethodGet, "/attendance/"+h.faculty.ID+"?limit=-3", nil, true)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do(t, http.MethodGet, "/attendance/unknown", nil, true)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = h.do(t, http.MethodGet, "/attendance/unknown/today", nil, true)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDirectory(t *testing.T) {
	h := newHarness(t, nil)

	code, _ := h.do(t, http.MethodPost, "/students", gin.H{"name": "Asha", "regNo": "23BCE7426", "department": "CSE"}, false)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, r := h.do(t, http.MethodPost, "/students", gin.H{"name": "Asha", "regNo": "23BCE7426", "department": "CSE"}, true)
	require.Equal(t, http.StatusCreated, code, r.Error)
	var st entity.Student
	require.NoError(t, json.Unmarshal(r.Data, &st))

	code, _ = h.do(t, http.MethodPost, "/students", gin.H{"name": "Again", "regNo": "23BCE7426", "department": "CSE"}, true)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = h.do(t, http.MethodDelete, "/students/"+st.ID, nil, true)
	assert.Equal(t, http.StatusOK, code)
	code, r = h.do(t, http.MethodGet, "/students", nil, true)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(r.Data))

	code, _ = h.do(t, http.MethodGet, "/faculty/"+h.faculty.ID, nil, true)
	assert.Equal(t, http.StatusOK, code)
	code, _ = h.do(t, http.MethodGet, "/faculty/nope", nil, true)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = h.do(t, http.MethodPost, "/routes", gin.H{"name": "City", "code": "R1"}, true)
	require.Equal(t, http.StatusCreated, code)
	code, r = h.do(t, http.MethodPost, "/routes/R1/stops", gin.H{"stopName": "Benz Circle", "lat": 16.5, "lon": 80.6, "scheduledTime": "08:10"}, true)
	require.Equal(t, http.StatusCreated, code, r.Error)
	var stop entity.RouteStop
	require.NoError(t, json.Unmarshal(r.Data, &stop))

	code, r = h.do(t, http.MethodPatch, "/routes/R1/stops/"+stop.ID, gin.H{"status": "reached"}, true)
	require.Equal(t, http.StatusOK, code, r.Error)

	code, r = h.do(t, http.MethodGet, "/routes/R1/stops", nil, false)
	require.Equal(t, http.StatusOK, code)
	var stops []entity.RouteStop
	require.NoError(t, json.Unmarshal(r.Data, &stops))
	require.Len(t, stops, 1)
	assert.Equal(t, "reached", stops[0].Status)

	code, _ = h.do(t, http.MethodGet, "/routes/R404/stops", nil, false)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAuthEndpoints(t *testing.T) {
	h := newHarness(t, nil)

	code, _ := h.do(t, http.MethodPost, "/auth/faculty-accounts", gin.H{"email": "rao@vitap.ac.in", "password": "s3cret-pass"}, false)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, r := h.do(t, http.MethodPost, "/auth/faculty-accounts", gin.H{"email": "rao@vitap.ac.in", "password": "s3cret-pass"}, true)
	require.Equal(t, http.StatusCreated, code, r.Error)
	assert.NotContains(t, string(r.Data), "passwordHash")

	code, _ = h.do(t, http.MethodPost, "/auth/login", gin.H{"email": "rao@vitap.ac.in", "password": "wrong-pass"}, false)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, r = h.do(t, http.MethodPost, "/auth/login", gin.H{"email": "rao@vitap.ac.in", "password": "s3cret-pass"}, false)
	require.Equal(t, http.StatusOK, code)
	var sess auth.Session
	require.NoError(t, json.Unmarshal(r.Data, &sess))
	assert.Equal(t, h.faculty.ID, sess.Account.FacultyID)

	code, _ = h.do(t, http.MethodPost, "/auth/refresh", gin.H{"refreshToken": sess.Tokens.RefreshToken}, false)
	assert.Equal(t, http.StatusOK, code)
	code, _ = h.do(t, http.MethodPost, "/auth/refresh", gin.H{}, false)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAnonymousCannotBecomeFaculty(t *testing.T) {
	h := newHarness(t, nil)

	code, _ := h.do(t, http.MethodGet, "/faculty", nil, false)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = h.do(t, http.MethodGet, "/students", nil, false)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, r := h.do(t, http.MethodPost, "/auth/register", gin.H{"email": "rao@vitap.ac.in", "password": "s3cret-pass", "role": "faculty"}, false)
	assert.Equal(t, http.StatusForbidden, code)
	assert.False(t, r.Success)

	code, _ = h.do(t, http.MethodPost, "/auth/login", gin.H{"email": "rao@vitap.ac.in", "password": "s3cret-pass"}, false)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, r = h.do(t, http.MethodPost, "/auth/register", gin.H{"email": "asha@vitap.ac.in", "password": "s3cret-pass"}, false)
	require.Equal(t, http.StatusCreated, code, r.Error)
	code, r = h.do(t, http.MethodPost, "/auth/login", gin.H{"email": "asha@vitap.ac.in", "password": "s3cret-pass"}, false)
	require.Equal(t, http.StatusOK, code)
	var sess auth.Session
	require.NoError(t, json.Unmarshal(r.Data, &sess))
	assert.Equal(t, entity.RoleStudent, sess.Account.Role)

	student := &harness{router: h.router, token: sess.Tokens.AccessToken}
	code, _ = student.do(t, http.MethodGet, "/faculty", nil, true)
	assert.Equal(t, http.StatusOK, code)
	code, _ = student.do(t, http.MethodPost, "/auth/faculty-accounts", gin.H{"email": "rao@vitap.ac.in", "password": "s3cret-pass"}, true)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = student.do(t, http.MethodPost, "/attendance/scan", gin.H{"barcode": "23BCE7426"}, true)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestHealth(t *testing.T) {
	h := newHarness(t, map[string]HealthCheck{
		"store": func(context.Context) error { return nil },
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	code, r := h.do(t, http.MethodGet, "/healthz", nil, false)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.JSONEq(t, `{"store":true,"redis":false}`, string(r.Data))

	code, r = h.do(t, http.MethodGet, "/version", nil, false)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"version":"test"}`, string(r.Data))

	code, r = h.do(t, http.MethodGet, "/nowhere", nil, false)
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, r.Success)
}
