// Package store persists fetched API entities in a relational database
// and answers TTL staleness queries against them. Records are
// denormalized: typed columns for the fields the service reads, plus
// the raw source payload kept for forward compatibility.
package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrMissingKey is returned when a write request lacks its natural key.
// This is a caller error and is never retried.
var ErrMissingKey = errors.New("record is missing its key")

// SentinelUserID is the reserved user identifier of the per-course
// freshness marker in the enrollments table. The sentinel row carries
// only a write timestamp and must never appear in enrollment listings.
const SentinelUserID int64 = -1

// Course is a cached course record keyed by its external ID.
type Course struct {
	ID        int64          `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Name      string         `json:"name"`
	Heading   string         `json:"heading"`
	Published bool           `gorm:"index" json:"published"`
	Raw       datatypes.JSON `json:"-"`
	UpdatedAt time.Time      `json:"-"`
}

// Enrollment is a cached enrollment record keyed by (course, user).
type Enrollment struct {
	CourseID        int64          `gorm:"primaryKey;autoIncrement:false;index" json:"course_id"`
	UserID          int64          `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	EnrolledAt      *time.Time     `json:"enrolled_at"`
	CompletedAt     *time.Time     `json:"completed_at"`
	PercentComplete *float64       `json:"percent_complete"`
	ExpiresAt       *time.Time     `json:"expires_at"`
	Raw             datatypes.JSON `json:"-"`
	UpdatedAt       time.Time      `json:"-"`
}

// User is a cached user record keyed by its external ID.
type User struct {
	ID        int64          `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Name      string         `json:"name"`
	Email     string         `json:"email"`
	Raw       datatypes.JSON `json:"-"`
	UpdatedAt time.Time      `json:"-"`
}

// DB is an explicitly constructed store handle with its own lifecycle:
// opened at startup, closed at shutdown.
type DB struct {
	gorm *gorm.DB
}

// Open connects to Postgres and migrates the three entity tables.
func Open(dsn string) (*DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	db := &DB{gorm: gdb}
	if err := db.Migrate(); err != nil {
		return nil, err
	}
	return db, nil
}

// NewDB wraps an existing gorm handle (used by tests with sqlite).
func NewDB(gdb *gorm.DB) *DB {
	return &DB{gorm: gdb}
}

// Migrate creates or updates the entity tables.
func (db *DB) Migrate() error {
	if err := db.gorm.AutoMigrate(&Course{}, &Enrollment{}, &User{}); err != nil {
		return fmt.Errorf("migrate tables: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (db *DB) Close() error {
	sqlDB, err := db.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// staleSince reports whether a record written at updatedAt has exceeded
// the TTL. A record exactly at the TTL boundary is still fresh.
func staleSince(now func() time.Time, updatedAt time.Time, ttl time.Duration) bool {
	return now().Sub(updatedAt) > ttl
}
