package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm/clause"
)

// CourseStore persists course records.
type CourseStore struct {
	db     *DB
	logger zerolog.Logger
	now    func() time.Time
}

// NewCourseStore creates a course store.
func NewCourseStore(db *DB) *CourseStore {
	return &CourseStore{
		db:     db,
		logger: log.With().Str("component", "store").Str("entity", "course").Logger(),
		now:    time.Now,
	}
}

// UpsertMany writes courses keyed by ID, setting all fields and the
// write timestamp. Empty input is a no-op; a record without an ID is a
// caller error.
func (s *CourseStore) UpsertMany(ctx context.Context, courses []Course) error {
	if len(courses) == 0 {
		return nil
	}

	now := s.now().UTC()
	for i := range courses {
		if courses[i].ID == 0 {
			return fmt.Errorf("course at index %d: %w", i, ErrMissingKey)
		}
		courses[i].UpdatedAt = now
	}

	err := s.db.gorm.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "heading", "published", "raw", "updated_at",
			}),
		}).
		Create(&courses).Error
	if err != nil {
		return fmt.Errorf("upsert courses: %w", err)
	}

	s.logger.Debug().Int("rows", len(courses)).Msg("Upserted courses")
	return nil
}

// AllPublished returns every stored published course.
func (s *CourseStore) AllPublished(ctx context.Context) ([]Course, error) {
	var courses []Course
	err := s.db.gorm.WithContext(ctx).
		Where("published = ?", true).
		Order("id").
		Find(&courses).Error
	if err != nil {
		return nil, fmt.Errorf("find published courses: %w", err)
	}
	return courses, nil
}

// Stale reports whether the course collection as a whole has exceeded
// the TTL, based on the most recently written course. An empty table is
// always stale.
func (s *CourseStore) Stale(ctx context.Context, ttl time.Duration) (bool, error) {
	var newest Course
	err := s.db.gorm.WithContext(ctx).
		Order("updated_at DESC").
		Limit(1).
		Find(&newest).Error
	if err != nil {
		return false, fmt.Errorf("read newest course: %w", err)
	}
	if newest.ID == 0 {
		return true, nil
	}
	return staleSince(s.now, newest.UpdatedAt, ttl), nil
}
