package attendance

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bustrack/internal/apperr"
	"bustrack/internal/entity"
	"bustrack/internal/store"
)

// countingBackend counts every call that reaches storage.
type countingBackend struct {
	store.Backend
	calls atomic.Int64
}

func (b *countingBackend) FindOne(ctx context.Context, coll string, q store.Query) (store.Decoder, error) {
	b.calls.Add(1)
	return b.Backend.FindOne(ctx, coll, q)
}

func (b *countingBackend) Insert(ctx context.Context, coll, id string, doc any) error {
	b.calls.Add(1)
	return b.Backend.Insert(ctx, coll, id, doc)
}

type fixture struct {
	svc     *Service
	stores  *entity.Stores
	backend *countingBackend
	faculty entity.Faculty
	student entity.Student
}

var kolkata = time.FixedZone("IST", 5*3600+1800)

// 2026-03-02 09:00 IST
var morning = time.Date(2026, 3, 2, 3, 30, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	b := &countingBackend{Backend: store.NewMemory()}
	stores := entity.NewStores(b)
	require.NoError(t, stores.Migrate(ctx))

	f := entity.Faculty{Name: "Dr. Rao", EmployeeID: "E100", Barcode: "FAC-100", Email: "rao@vitap.ac.in"}
	require.NoError(t, stores.Faculty.Create(ctx, &f))
	st := entity.Student{Name: "Asha", RegNo: "23BCE7426", Barcode: "CARD-7426", Department: "CSE", Batch: "2023"}
	require.NoError(t, stores.Students.Create(ctx, &st))

	svc := NewService(stores, kolkata, zap.NewNop())
	svc.now = func() time.Time { return morning }
	return &fixture{svc: svc, stores: stores, backend: b, faculty: f, student: st}
}

func (fx *fixture) count(t *testing.T) int64 {
	t.Helper()
	n, err := fx.stores.Attendance.Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestMarkByBarcode_RegNo(t *testing.T) {
	fx := newFixture(t)
	entry, err := fx.svc.MarkByBarcode(context.Background(), ScanInput{Barcode: " 23bce7426 ", MarkingPartyID: fx.faculty.ID, BusID: "BUS-7"})
	require.NoError(t, err)

	assert.Equal(t, fx.student.ID, entry.Record.SubjectID)
	assert.Equal(t, entity.SubjectStudent, entry.Record.SubjectKind)
	assert.Equal(t, entity.StatusPresent, entry.Record.Status)
	assert.Equal(t, "2026-03-02", entry.Record.Day)
	assert.Equal(t, "BUS-7", entry.Record.BusID)
	assert.Equal(t, Subject{
		ID: fx.student.ID, Kind: entity.SubjectStudent, Name: "Asha",
		RegNo: "23BCE7426", Department: "CSE", Batch: "2023",
	}, entry.Subject)
}

func TestMarkByBarcode_CardAndFaculty(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	entry, err := fx.svc.MarkByBarcode(ctx, ScanInput{Barcode: "card-7426", MarkingPartyID: fx.faculty.ID})
	require.NoError(t, err)
	assert.Equal(t, fx.student.ID, entry.Subject.ID)

	entry, err = fx.svc.MarkByBarcode(ctx, ScanInput{Barcode: "FAC-100", MarkingPartyID: fx.faculty.ID})
	require.NoError(t, err)
	assert.Equal(t, entity.SubjectFaculty, entry.Subject.Kind)
	assert.Equal(t, "E100", entry.Subject.EmployeeID)
}

func TestMarkByBarcode_DuplicateSameDay(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	in := ScanInput{Barcode: "23BCE7426", MarkingPartyID: fx.faculty.ID}

	_, err := fx.svc.MarkByBarcode(ctx, in)
	require.NoError(t, err)

	later := morning.Add(10 * time.Hour)
	in.Timestamp = &later
	_, err = fx.svc.MarkByBarcode(ctx, in)
	assert.ErrorIs(t, err, apperr.ErrDuplicate)
	assert.Equal(t, int64(1), fx.count(t))
}

func TestMarkByBarcode_DayFollowsReferenceZone(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	// 23:00 IST on Mar 2 and 01:00 IST on Mar 3 are different days even though both are Mar 2 in UTC.
	late := time.Date(2026, 3, 2, 17, 30, 0, 0, time.UTC)
	early := time.Date(2026, 3, 2, 19, 30, 0, 0, time.UTC)

	first, err := fx.svc.MarkByBarcode(ctx, ScanInput{Barcode: "23BCE7426", MarkingPartyID: fx.faculty.ID, Timestamp: &late})
	require.NoError(t, err)
	second, err := fx.svc.MarkByBarcode(ctx, ScanInput{Barcode: "23BCE7426", MarkingPartyID: fx.faculty.ID, Timestamp: &early})
	require.NoError(t, err)

	assert.Equal(t, "2026-03-02", first.Record.Day)
	assert.Equal(t, "2026-03-03", second.Record.Day)
}

func TestMarkByBarcode_ConcurrentScansMarkOnce(t *testing.T) {
	fx := newFixture(t)
	var wg sync.WaitGroup
	var ok, dup atomic.Int64
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.svc.MarkByBarcode(context.Background(), ScanInput{Barcode: "23BCE7426", MarkingPartyID: fx.faculty.ID})
			switch {
			case err == nil:
				ok.Add(1)
			case apperr.Status(err) == 409:
				dup.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), ok.Load())
	assert.Equal(t, int64(7), dup.Load())
	assert.Equal(t, int64(1), fx.count(t))
}

func TestMarkByBarcode_UnknownStudent(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.svc.MarkByBarcode(context.Background(), ScanInput{Barcode: "23BCE9999", MarkingPartyID: fx.faculty.ID})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Zero(t, fx.count(t))
}

func TestMarkByBarcode_InactiveStudent(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	_, err := fx.stores.Students.Deactivate(ctx, fx.student.ID)
	require.NoError(t, err)

	_, err = fx.svc.MarkByBarcode(ctx, ScanInput{Barcode: "23BCE7426", MarkingPartyID: fx.faculty.ID})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Zero(t, fx.count(t))
}

func TestMarkByBarcode_UnknownMarkingParty(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.svc.MarkByBarcode(context.Background(), ScanInput{Barcode: "23BCE7426", MarkingPartyID: "nobody"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Zero(t, fx.count(t))
}

func TestMarkByBarcode_MalformedBeforeLookup(t *testing.T) {
	fx := newFixture(t)
	before := fx.backend.calls.Load()

	for _, code := range []string{"abc", "", "23BCE 7426", "WAY-TOO-LONG-BARCODE-0123456789ABCDEF"} {
		_, err := fx.svc.MarkByBarcode(context.Background(), ScanInput{Barcode: code, MarkingPartyID: fx.faculty.ID})
		assert.ErrorIs(t, err, apperr.ErrValidation, code)
	}
	_, err := fx.svc.MarkByBarcode(context.Background(), ScanInput{Barcode: "23BCE7426"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	assert.Equal(t, before, fx.backend.calls.Load(), "malformed scans must not reach storage")
	assert.Zero(t, fx.count(t))
}

func TestListForMarkingParty(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	other := entity.Student{Name: "Ravi", RegNo: "23BCE0001", Department: "ECE"}
	require.NoError(t, fx.stores.Students.Create(ctx, &other))

	first := morning
	second := morning.Add(time.Minute)
	_, err := fx.svc.MarkByBarcode(ctx, ScanInput{Barcode: "23BCE7426", MarkingPartyID: fx.faculty.ID, Timestamp: &first})
	require.NoError(t, err)
	_, err = fx.svc.MarkByBarcode(ctx, ScanInput{Barcode: "23BCE0001", MarkingPartyID: fx.faculty.ID, Timestamp: &second})
	require.NoError(t, err)

	entries, err := fx.svc.ListForMarkingParty(ctx, fx.faculty.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Ravi", entries[0].Subject.Name)
	assert.Equal(t, "Asha", entries[1].Subject.Name)

	entries, err = fx.svc.ListForMarkingParty(ctx, fx.faculty.ID, 1)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = fx.svc.ListForMarkingParty(ctx, "nobody", 10)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCountToday(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	got, err := fx.svc.CountToday(ctx, fx.faculty.ID)
	require.NoError(t, err)
	assert.Equal(t, TodayCount{Count: 0, Date: "2026-03-02"}, got)

	other := entity.Student{Name: "Ravi", RegNo: "23BCE0001", Department: "ECE"}
	require.NoError(t, fx.stores.Students.Create(ctx, &other))
	for _, code := range []string{"23BCE7426", "23BCE0001", "FAC-100"} {
		_, err := fx.svc.MarkByBarcode(ctx, ScanInput{Barcode: code, MarkingPartyID: fx.faculty.ID})
		require.NoError(t, err)
	}
	yesterday := morning.Add(-24 * time.Hour)
	_, err = fx.svc.MarkByBarcode(ctx, ScanInput{Barcode: "23BCE7426", MarkingPartyID: fx.faculty.ID, Timestamp: &yesterday})
	require.NoError(t, err)

	got, err = fx.svc.CountToday(ctx, fx.faculty.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Count)

	_, err = fx.svc.CountToday(ctx, "nobody")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
