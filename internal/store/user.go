package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm/clause"
)

// UserStore persists user records.
type UserStore struct {
	db     *DB
	logger zerolog.Logger
	now    func() time.Time
}

// NewUserStore creates a user store.
func NewUserStore(db *DB) *UserStore {
	return &UserStore{
		db:     db,
		logger: log.With().Str("component", "store").Str("entity", "user").Logger(),
		now:    time.Now,
	}
}

// UpsertMany writes users keyed by ID. Empty input is a no-op; a record
// without a positive ID is a caller error.
func (s *UserStore) UpsertMany(ctx context.Context, users []User) error {
	if len(users) == 0 {
		return nil
	}

	now := s.now().UTC()
	for i := range users {
		if users[i].ID <= 0 {
			return fmt.Errorf("user at index %d: %w", i, ErrMissingKey)
		}
		users[i].UpdatedAt = now
	}

	err := s.db.gorm.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "email", "raw", "updated_at",
			}),
		}).
		Create(&users).Error
	if err != nil {
		return fmt.Errorf("upsert users: %w", err)
	}

	s.logger.Debug().Int("rows", len(users)).Msg("Upserted users")
	return nil
}

// FindByID returns the stored user, or nil when absent.
func (s *UserStore) FindByID(ctx context.Context, id int64) (*User, error) {
	var user User
	err := s.db.gorm.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&user).Error
	if err != nil {
		return nil, fmt.Errorf("find user %d: %w", id, err)
	}
	if user.ID == 0 {
		return nil, nil
	}
	return &user, nil
}

// Stale reports whether the user's own record has exceeded the TTL.
// A user that was never persisted is always stale.
func (s *UserStore) Stale(ctx context.Context, id int64, ttl time.Duration) (bool, error) {
	user, err := s.FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	if user == nil {
		return true, nil
	}
	return staleSince(s.now, user.UpdatedAt, ttl), nil
}
