package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/field-reservation/internal/audit"
	"github.com/iliyamo/field-reservation/internal/model"
	"github.com/iliyamo/field-reservation/internal/queue"
	"github.com/iliyamo/field-reservation/internal/repository"
	"github.com/iliyamo/field-reservation/internal/schedule"
)

func newTestService(t *testing.T) (*ReservationService, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	return New(store, nil), store
}

func mustCreate(t *testing.T, s *ReservationService, in CreateInput) *model.Reservation {
	t.Helper()
	r, err := s.Create(context.Background(), in)
	require.NoError(t, err)
	return r
}

func ptr[T any](v T) *T { return &v }

func TestCreate_AssignsIDAndCanonicalizes(t *testing.T) {
	s, _ := newTestService(t)
	r := mustCreate(t, s, CreateInput{Date: "2025-06-01", Start: "9:00", End: "10:30", Fields: []string{" A ", "B", "A", ""}, Group: " Tigers "})

	assert.Equal(t, uint64(1), r.ID)
	assert.Equal(t, "09:00", r.Start)
	assert.Equal(t, "10:30", r.End)
	assert.Equal(t, []string{"A", "B"}, r.Fields)
	assert.Equal(t, "Tigers", r.Group)
	assert.False(t, r.CreatedAt.IsZero())
}

func TestCreate_ConflictRules(t *testing.T) {
	tests := []struct {
		name      string
		candidate CreateInput
		field     string
	}{
		{"back to back", CreateInput{Date: "2025-06-01", Start: "10:00", End: "11:00", Fields: []string{"A"}}, ""},
		{"overlap", CreateInput{Date: "2025-06-01", Start: "09:30", End: "10:30", Fields: []string{"A"}}, "A"},
		{"different field", CreateInput{Date: "2025-06-01", Start: "09:00", End: "10:00", Fields: []string{"B"}}, ""},
		{"different date", CreateInput{Date: "2025-06-02", Start: "09:00", End: "10:00", Fields: []string{"A"}}, ""},
		{"multi field", CreateInput{Date: "2025-06-01", Start: "09:30", End: "10:00", Fields: []string{"B", "A"}}, "A"},
		{"inside", CreateInput{Date: "2025-06-01", Start: "09:15", End: "09:45", Fields: []string{"A"}}, "A"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, store := newTestService(t)
			existing := mustCreate(t, s, CreateInput{Date: "2025-06-01", Start: "09:00", End: "10:00", Fields: []string{"A"}, Group: "first"})

			r, err := s.Create(context.Background(), tt.candidate)
			if tt.field == "" {
				require.NoError(t, err)
				assert.NotZero(t, r.ID)
				return
			}
			var ce *ConflictError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
			assert.Equal(t, existing.ID, ce.Conflicting.ID)
			assert.Equal(t, "09:00", ce.Conflicting.Start)
			assert.Equal(t, "10:00", ce.Conflicting.End)
			assert.Equal(t, "conflict with reservation on field A (09:00-10:00)", err.Error())

			all, err := store.List(context.Background(), "")
			require.NoError(t, err)
			assert.Len(t, all, 1, "rejected candidates are not stored")
		})
	}
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name  string
		in    CreateInput
		field string
	}{
		{"missing everything", CreateInput{}, "date"},
		{"bad date", CreateInput{Date: "01/06/2025", Start: "09:00", End: "10:00", Fields: []string{"A"}}, "date"},
		{"missing start", CreateInput{Date: "2025-06-01", End: "10:00", Fields: []string{"A"}}, "start"},
		{"bad clock", CreateInput{Date: "2025-06-01", Start: "25:99", End: "26:00", Fields: []string{"A"}}, "start"},
		{"end before start", CreateInput{Date: "2025-06-01", Start: "10:00", End: "09:00", Fields: []string{"A"}}, "end"},
		{"zero length", CreateInput{Date: "2025-06-01", Start: "10:00", End: "10:00", Fields: []string{"A"}}, "end"},
		{"no fields", CreateInput{Date: "2025-06-01", Start: "09:00", End: "10:00"}, "fields"},
		{"empty fields", CreateInput{Date: "2025-06-01", Start: "09:00", End: "10:00", Fields: []string{}}, "fields"},
		{"blank fields", CreateInput{Date: "2025-06-01", Start: "09:00", End: "10:00", Fields: []string{" ", ""}}, "fields"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, store := newTestService(t)
			_, err := s.Create(context.Background(), tt.in)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)

			entries, err := store.ListAudit(context.Background())
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestCreate_ValidationRunsBeforeConflictCheck(t *testing.T) {
	s, _ := newTestService(t)
	mustCreate(t, s, CreateInput{Date: "2025-06-01", Start: "09:00", End: "10:00", Fields: []string{"A"}})

	_, err := s.Create(context.Background(), CreateInput{Date: "2025-06-01", Start: "10:00", End: "09:00", Fields: []string{"A"}})
	assert.True(t, IsValidation(err))
	assert.False(t, IsConflict(err))
}

func TestUpdate_ExcludesItself(t *testing.T) {
	s, _ := newTestService(t)
	r := mustCreate(t, s, CreateInput{Date: "2025-06-01", Start: "09:00", End: "10:00", Fields: []string{"A"}, Group: "g"})

	got, err := s.Update(context.Background(), r.ID, UpdateInput{Start: ptr("09:15"), End: ptr("10:15")})
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, "09:15", got.Start)
	assert.Equal(t, "10:15", got.End)
	assert.Equal(t, []string{"A"}, got.Fields)
	assert.Equal(t, "g", got.Group)
}

func TestUpdate_RechecksConflicts(t *testing.T) {
	s, _ := newTestService(t)
	mustCreate(t, s, CreateInput{Date: "2025-06-01", Start: "09:00", End: "10:00", Fields: []string{"A"}})
	b := mustCreate(t, s, CreateInput{Date: "2025-06-01", Start: "10:00", End: "11:00", Fields: []string{"A"}})

	_, err := s.Update(context.Background(), b.ID, UpdateInput{Start: ptr("09:30")})
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, uint64(1), ce.Conflicting.ID)

	unchanged, err := s.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, "10:00", unchanged.Start)

	moved, err := s.Update(context.Background(), b.ID, UpdateInput{Date: ptr("2025-06-02"), Start: ptr("09:30")})
	require.NoError(t, err)
	assert.Equal(t, "2025-06-02", moved.Date)
}

func TestUpdate_ValidatesMergedRecord(t *testing.T) {
	s, _ := newTestService(t)
	r := mustCreate(t, s, CreateInput{Date: "2025-06-01", Start: "09:00", End: "10:00", Fields: []string{"A"}})

	_, err := s.Update(context.Background(), r.ID, UpdateInput{Start: ptr("11:00")})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "end", ve.Field)

	_, err = s.Update(context.Background(), r.ID, UpdateInput{Fields: ptr([]string{})})
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "fields", ve.Field)
}

func TestUpdateAndDelete_NotFound(t *testing.T) {
	s, store := newTestService(t)
	_, err := s.Update(context.Background(), 99, UpdateInput{Group: ptr("x")})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(context.Background(), 99), ErrNotFound)
	_, err = s.Get(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err := store.ListAudit(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDelete_FreesWindowButNotID(t *testing.T) {
	s, _ := newTestService(t)
	r := mustCreate(t, s, CreateInput{Date: "2025-06-01", Start: "09:00", End: "10:00", Fields: []string{"A"}})
	require.NoError(t, s.Delete(context.Background(), r.ID))

	again := mustCreate(t, s, CreateInput{Date: "2025-06-01", Start: "09:00", End: "10:00", Fields: []string{"A"}})
	assert.Equal(t, r.ID+1, again.ID)
}

func TestMutations_WriteOneAuditEntryEach(t *testing.T) {
	s, store := newTestService(t)
	ctx := context.Background()
	r := mustCreate(t, s, CreateInput{Date: "2025-06-01", Start: "09:00", End: "10:00", Fields: []string{"A"}, Group: "g"})
	u, err := s.Update(ctx, r.ID, UpdateInput{Group: ptr("h")})
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, r.ID))

	entries, err := s.ListAudit(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []model.AuditAction{model.AuditDelete, model.AuditUpdate, model.AuditCreate},
		[]model.AuditAction{entries[0].Action, entries[1].Action, entries[2].Action})

	assert.JSONEq(t, `{"id":1}`, string(entries[0].Detail))

	var snap model.Reservation
	require.NoError(t, json.Unmarshal(entries[1].Detail, &snap))
	assert.Equal(t, u.Group, snap.Group)
	assert.Equal(t, u.ID, snap.ID)

	require.NoError(t, json.Unmarshal(entries[2].Detail, &snap))
	assert.Equal(t, "g", snap.Group)
	assert.Equal(t, []string{"A"}, snap.Fields)

	all, err := store.ListAudit(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

type failingAuditStore struct {
	*repository.MemoryStore
}

func (failingAuditStore) AppendAudit(context.Context, *model.AuditLogEntry) error {
	return errors.New("audit table offline")
}

func TestCreate_AuditFailureKeepsMutation(t *testing.T) {
	store := failingAuditStore{repository.NewMemoryStore()}
	s := New(store, nil)

	r, err := s.Create(context.Background(), CreateInput{Date: "2025-06-01", Start: "09:00", End: "10:00", Fields: []string{"A"}})
	require.NoError(t, err)

	got, err := s.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
}

func TestList_FiltersByDate(t *testing.T) {
	s, _ := newTestService(t)
	mustCreate(t, s, CreateInput{Date: "2025-06-02", Start: "09:00", End: "10:00", Fields: []string{"A"}})
	mustCreate(t, s, CreateInput{Date: "2025-06-01", Start: "09:00", End: "10:00", Fields: []string{"A"}})

	all, err := s.List(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, "2025-06-01", all[0].Date)

	day, err := s.List(context.Background(), "2025-06-02")
	require.NoError(t, err)
	require.Len(t, day, 1)

	_, err = s.List(context.Background(), "tomorrow")
	assert.True(t, IsValidation(err))
}

type blockingPublisher struct {
	release chan struct{}
}

func (p blockingPublisher) Publish(ctx context.Context, _ queue.AuditEvent) error {
	select {
	case <-p.release:
	case <-ctx.Done():
	}
	return nil
}

func TestCreate_ReturnsBeforeAuditEventIsPublished(t *testing.T) {
	store := repository.NewMemoryStore()
	pub := blockingPublisher{release: make(chan struct{})}
	rec := audit.NewRecorder(store, audit.WithPublisher(pub))
	s := New(store, rec)

	start := time.Now()
	r, err := s.Create(context.Background(), CreateInput{Date: "2025-06-01", Start: "09:00", End: "10:00", Fields: []string{"A"}})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, uint64(1), r.ID)

	entries, err := store.ListAudit(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "the audit entry is stored before Create returns")

	close(pub.release)
	rec.Wait()
}

func TestConflictError_MessageMatchesDetector(t *testing.T) {
	conflicting := model.Reservation{ID: 2, Start: "14:00", End: "15:00", Fields: []string{"A"}}
	err := &ConflictError{Field: "A", Conflicting: conflicting}
	want := schedule.Result{Field: "A", Conflicting: &conflicting}.Message()
	assert.Equal(t, want, err.Error())
	assert.Equal(t, "conflict with reservation on field A (14:00-15:00)", err.Error())
}
