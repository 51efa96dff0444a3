package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm/clause"
)

// EnrollmentStore persists enrollment records plus the per-course
// freshness sentinel.
type EnrollmentStore struct {
	db     *DB
	logger zerolog.Logger
	now    func() time.Time
}

// NewEnrollmentStore creates an enrollment store.
func NewEnrollmentStore(db *DB) *EnrollmentStore {
	return &EnrollmentStore{
		db:     db,
		logger: log.With().Str("component", "store").Str("entity", "enrollment").Logger(),
		now:    time.Now,
	}
}

// UpsertMany writes enrollments for one course keyed by (course, user).
// Empty input is a no-op; a record without a user ID is a caller error.
// This never advances the course's freshness sentinel: callers mark the
// collection fresh only after every batch has succeeded.
func (s *EnrollmentStore) UpsertMany(ctx context.Context, courseID int64, enrollments []Enrollment) error {
	if len(enrollments) == 0 {
		return nil
	}
	if courseID == 0 {
		return fmt.Errorf("enrollment batch: course: %w", ErrMissingKey)
	}

	now := s.now().UTC()
	for i := range enrollments {
		if enrollments[i].UserID == 0 || enrollments[i].UserID == SentinelUserID {
			return fmt.Errorf("enrollment at index %d: user: %w", i, ErrMissingKey)
		}
		enrollments[i].CourseID = courseID
		enrollments[i].UpdatedAt = now
	}

	err := s.db.gorm.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "course_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"enrolled_at", "completed_at", "percent_complete", "expires_at", "raw", "updated_at",
			}),
		}).
		Create(&enrollments).Error
	if err != nil {
		return fmt.Errorf("upsert enrollments for course %d: %w", courseID, err)
	}

	s.logger.Debug().
		Int64("course_id", courseID).
		Int("rows", len(enrollments)).
		Msg("Upserted enrollments")
	return nil
}

// MarkFresh upserts the course's sentinel row with the current
// timestamp, advancing collection-level freshness.
func (s *EnrollmentStore) MarkFresh(ctx context.Context, courseID int64) error {
	if courseID == 0 {
		return fmt.Errorf("mark fresh: course: %w", ErrMissingKey)
	}

	sentinel := Enrollment{
		CourseID:  courseID,
		UserID:    SentinelUserID,
		UpdatedAt: s.now().UTC(),
	}

	err := s.db.gorm.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "course_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"updated_at"}),
		}).
		Create(&sentinel).Error
	if err != nil {
		return fmt.Errorf("mark enrollments fresh for course %d: %w", courseID, err)
	}
	return nil
}

// ForCourse returns the stored enrollments of one course, excluding the
// freshness sentinel.
func (s *EnrollmentStore) ForCourse(ctx context.Context, courseID int64) ([]Enrollment, error) {
	var enrollments []Enrollment
	err := s.db.gorm.WithContext(ctx).
		Where("course_id = ? AND user_id <> ?", courseID, SentinelUserID).
		Order("user_id").
		Find(&enrollments).Error
	if err != nil {
		return nil, fmt.Errorf("find enrollments for course %d: %w", courseID, err)
	}
	return enrollments, nil
}

// Stale reports whether the course's enrollment list has exceeded the
// TTL, based on its sentinel row. A course without a sentinel is always
// stale.
func (s *EnrollmentStore) Stale(ctx context.Context, courseID int64, ttl time.Duration) (bool, error) {
	var sentinel Enrollment
	err := s.db.gorm.WithContext(ctx).
		Where("course_id = ? AND user_id = ?", courseID, SentinelUserID).
		Limit(1).
		Find(&sentinel).Error
	if err != nil {
		return false, fmt.Errorf("read enrollment sentinel for course %d: %w", courseID, err)
	}
	if sentinel.CourseID == 0 {
		return true, nil
	}
	return staleSince(s.now, sentinel.UpdatedAt, ttl), nil
}
