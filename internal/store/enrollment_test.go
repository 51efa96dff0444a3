package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func ptr[T any](v T) *T { return &v }

func TestEnrollmentStore_UpsertMany_EmptyNoop(t *testing.T) {
	s := NewEnrollmentStore(openTestDB(t))
	if err := s.UpsertMany(context.Background(), 1, nil); err != nil {
		t.Errorf("UpsertMany(empty) = %v, want nil", err)
	}
}

func TestEnrollmentStore_UpsertMany_MissingUserID(t *testing.T) {
	s := NewEnrollmentStore(openTestDB(t))
	err := s.UpsertMany(context.Background(), 1, []Enrollment{{}})
	if !errors.Is(err, ErrMissingKey) {
		t.Errorf("err = %v, want ErrMissingKey", err)
	}
}

func TestEnrollmentStore_UpsertMany_RejectsSentinelUserID(t *testing.T) {
	s := NewEnrollmentStore(openTestDB(t))
	err := s.UpsertMany(context.Background(), 1, []Enrollment{{UserID: SentinelUserID}})
	if !errors.Is(err, ErrMissingKey) {
		t.Errorf("err = %v, want ErrMissingKey", err)
	}
}

func TestEnrollmentStore_UpsertMany_Idempotent(t *testing.T) {
	s := NewEnrollmentStore(openTestDB(t))
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = fixedNow(base)
	if err := s.UpsertMany(ctx, 1, []Enrollment{{UserID: 7, PercentComplete: ptr(10.0)}}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	s.now = fixedNow(base.Add(time.Minute))
	if err := s.UpsertMany(ctx, 1, []Enrollment{{UserID: 7, PercentComplete: ptr(55.0)}}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	rows, err := s.ForCourse(ctx, 1)
	if err != nil {
		t.Fatalf("ForCourse: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows for (course,user) pair written twice, want 1", len(rows))
	}
	if rows[0].PercentComplete == nil || *rows[0].PercentComplete != 55.0 {
		t.Errorf("latest percent_complete not reflected: %+v", rows[0])
	}
	if !rows[0].UpdatedAt.After(base) {
		t.Errorf("timestamp not advanced: %v", rows[0].UpdatedAt)
	}
}

func TestEnrollmentStore_SentinelExcludedFromListings(t *testing.T) {
	s := NewEnrollmentStore(openTestDB(t))
	ctx := context.Background()

	if err := s.UpsertMany(ctx, 1, []Enrollment{{UserID: 7}, {UserID: 8}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.MarkFresh(ctx, 1); err != nil {
		t.Fatalf("MarkFresh: %v", err)
	}

	rows, err := s.ForCourse(ctx, 1)
	if err != nil {
		t.Fatalf("ForCourse: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2 (sentinel excluded)", len(rows))
	}
	for _, row := range rows {
		if row.UserID == SentinelUserID {
			t.Errorf("sentinel row leaked into listing: %+v", row)
		}
	}
}

func TestEnrollmentStore_ForCourse_ScopedToCourse(t *testing.T) {
	s := NewEnrollmentStore(openTestDB(t))
	ctx := context.Background()

	if err := s.UpsertMany(ctx, 1, []Enrollment{{UserID: 7}}); err != nil {
		t.Fatalf("upsert course 1: %v", err)
	}
	if err := s.UpsertMany(ctx, 2, []Enrollment{{UserID: 7}, {UserID: 9}}); err != nil {
		t.Fatalf("upsert course 2: %v", err)
	}

	rows, err := s.ForCourse(ctx, 2)
	if err != nil {
		t.Fatalf("ForCourse: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("got %d rows for course 2, want 2", len(rows))
	}
}

func TestEnrollmentStore_Stale_DrivenBySentinel(t *testing.T) {
	s := NewEnrollmentStore(openTestDB(t))
	ctx := context.Background()
	ttl := 900 * time.Second

	// Data rows alone never make the collection fresh.
	if err := s.UpsertMany(ctx, 1, []Enrollment{{UserID: 7}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	stale, err := s.Stale(ctx, 1, ttl)
	if err != nil {
		t.Fatalf("Stale: %v", err)
	}
	if !stale {
		t.Error("course without sentinel should be stale")
	}

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = fixedNow(base)
	if err := s.MarkFresh(ctx, 1); err != nil {
		t.Fatalf("MarkFresh: %v", err)
	}

	s.now = fixedNow(base.Add(ttl))
	if stale, _ = s.Stale(ctx, 1, ttl); stale {
		t.Error("sentinel exactly at TTL should not be stale")
	}

	s.now = fixedNow(base.Add(ttl + time.Second))
	if stale, _ = s.Stale(ctx, 1, ttl); !stale {
		t.Error("sentinel past TTL should be stale")
	}

	// Refreshing advances the sentinel again.
	s.now = fixedNow(base.Add(2 * ttl))
	if err := s.MarkFresh(ctx, 1); err != nil {
		t.Fatalf("MarkFresh again: %v", err)
	}
	if stale, _ = s.Stale(ctx, 1, ttl); stale {
		t.Error("freshly marked course should not be stale")
	}
}

func TestEnrollmentStore_Stale_PerCourse(t *testing.T) {
	s := NewEnrollmentStore(openTestDB(t))
	ctx := context.Background()
	ttl := 900 * time.Second

	if err := s.MarkFresh(ctx, 1); err != nil {
		t.Fatalf("MarkFresh: %v", err)
	}

	stale, err := s.Stale(ctx, 2, ttl)
	if err != nil {
		t.Fatalf("Stale: %v", err)
	}
	if !stale {
		t.Error("course 2 should be stale; only course 1 was marked fresh")
	}
}
