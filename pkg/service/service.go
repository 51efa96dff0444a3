// Package service orchestrates the cache-or-fetch flow: it serves
// entities from the persistent store while they are fresh, drives the
// paginating client on a miss, writes results back in bounded batches,
// and enriches enrollments with user details.
package service

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"coursecache/internal/store"
	"coursecache/pkg/pagination"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Prometheus metrics for cache-or-fetch decisions.
var (
	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coursecache_cache_hits_total",
		Help: "Requests served from the persistent store by entity",
	}, []string{"entity"})

	refreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coursecache_refreshes_total",
		Help: "Full refetches from the upstream API by entity and trigger",
	}, []string{"entity", "trigger"})

	usersUnresolvedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coursecache_users_unresolved_total",
		Help: "User lookups that failed and were omitted from results",
	})
)

// API is the upstream client surface the service depends on.
type API interface {
	pagination.PageFetcher
	GetJSON(ctx context.Context, path string, params url.Values) ([]byte, error)
}

// CourseStore is the course persistence contract.
type CourseStore interface {
	UpsertMany(ctx context.Context, courses []store.Course) error
	AllPublished(ctx context.Context) ([]store.Course, error)
	Stale(ctx context.Context, ttl time.Duration) (bool, error)
}

// EnrollmentStore is the enrollment persistence contract.
type EnrollmentStore interface {
	UpsertMany(ctx context.Context, courseID int64, enrollments []store.Enrollment) error
	MarkFresh(ctx context.Context, courseID int64) error
	ForCourse(ctx context.Context, courseID int64) ([]store.Enrollment, error)
	Stale(ctx context.Context, courseID int64, ttl time.Duration) (bool, error)
}

// UserStore is the user persistence contract.
type UserStore interface {
	UpsertMany(ctx context.Context, users []store.User) error
	FindByID(ctx context.Context, id int64) (*store.User, error)
	Stale(ctx context.Context, id int64, ttl time.Duration) (bool, error)
}

// ResolveStrategy selects how missing users are fetched. It is fixed at
// construction time; every service instance supports exactly one.
type ResolveStrategy string

const (
	// ResolvePointLookup fetches each missing user individually through
	// a bounded worker pool. This is the default.
	ResolvePointLookup ResolveStrategy = "lookup"

	// ResolveBulkScan pages through the full user listing once,
	// retaining only wanted IDs. Useful when the missing set is large
	// relative to the user population.
	ResolveBulkScan ResolveStrategy = "scan"
)

// Config holds service configuration.
type Config struct {
	// TTL is the staleness window shared by all three entity types.
	TTL time.Duration

	// BatchSize bounds store write round trips (rows per upsert).
	BatchSize int

	// Concurrency is the worker pool size for parallel user lookups.
	Concurrency int

	// Strategy selects the user resolution path.
	Strategy ResolveStrategy
}

// DefaultConfig returns the default service configuration.
func DefaultConfig() Config {
	return Config{
		TTL:         15 * time.Minute,
		BatchSize:   500,
		Concurrency: 5,
		Strategy:    ResolvePointLookup,
	}
}

// Service is the cache-or-fetch orchestration layer.
type Service struct {
	api         API
	courses     CourseStore
	enrollments EnrollmentStore
	users       UserStore
	config      Config
	group       singleflight.Group
	logger      zerolog.Logger
}

// New creates a service.
func New(api API, courses CourseStore, enrollments EnrollmentStore, users UserStore, cfg Config) (*Service, error) {
	if api == nil {
		return nil, fmt.Errorf("api client is required")
	}
	if courses == nil || enrollments == nil || users == nil {
		return nil, fmt.Errorf("all three stores are required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.Strategy == "" {
		cfg.Strategy = ResolvePointLookup
	}

	return &Service{
		api:         api,
		courses:     courses,
		enrollments: enrollments,
		users:       users,
		config:      cfg,
		logger:      log.With().Str("component", "service").Logger(),
	}, nil
}

// PublishedCourses returns the published courses, served from the store
// while at least one is cached and the collection is within the TTL.
// Otherwise it refetches the full course listing, writes it back in
// batches, and returns the store's canonical records.
func (s *Service) PublishedCourses(ctx context.Context, forceRefresh bool) ([]store.Course, error) {
	if !forceRefresh {
		courses, err := s.courses.AllPublished(ctx)
		if err != nil {
			return nil, err
		}
		if len(courses) > 0 {
			stale, err := s.courses.Stale(ctx, s.config.TTL)
			if err != nil {
				return nil, err
			}
			if !stale {
				cacheHitsTotal.WithLabelValues("course").Inc()
				return courses, nil
			}
		}
	}

	trigger := "stale"
	if forceRefresh {
		trigger = "forced"
	}
	refreshesTotal.WithLabelValues("course", trigger).Inc()

	_, err, _ := s.group.Do("courses", func() (any, error) {
		return nil, s.refreshCourses(ctx)
	})
	if err != nil {
		return nil, err
	}

	return s.courses.AllPublished(ctx)
}

// refreshCourses fetches every course page and upserts the rows in
// batches of BatchSize.
func (s *Service) refreshCourses(ctx context.Context) error {
	rows, err := pagination.FetchAll(ctx, s.api, "/v1/courses",
		url.Values{"published": {"true"}}, "courses")
	if err != nil {
		return fmt.Errorf("fetch courses: %w", err)
	}

	courses := make([]store.Course, 0, len(rows))
	for _, row := range rows {
		course, ok := decodeCourse(row)
		if !ok {
			s.logger.Warn().RawJSON("row", row).Msg("Skipping course row without id")
			continue
		}
		courses = append(courses, course)
	}

	for start := 0; start < len(courses); start += s.config.BatchSize {
		end := start + s.config.BatchSize
		if end > len(courses) {
			end = len(courses)
		}
		if err := s.courses.UpsertMany(ctx, courses[start:end]); err != nil {
			return err
		}
	}

	s.logger.Info().Int("rows", len(courses)).Msg("Refreshed course cache")
	return nil
}

// EnrollmentsForCourse returns a course's enrollments, served from the
// store while the per-course sentinel is within the TTL. On refetch,
// pages are streamed through the lazy iterator and flushed every
// BatchSize rows; the sentinel is advanced only after every data batch
// has succeeded.
func (s *Service) EnrollmentsForCourse(ctx context.Context, courseID int64, forceRefresh bool) ([]store.Enrollment, error) {
	if !forceRefresh {
		enrollments, err := s.enrollments.ForCourse(ctx, courseID)
		if err != nil {
			return nil, err
		}
		if len(enrollments) > 0 {
			stale, err := s.enrollments.Stale(ctx, courseID, s.config.TTL)
			if err != nil {
				return nil, err
			}
			if !stale {
				cacheHitsTotal.WithLabelValues("enrollment").Inc()
				return enrollments, nil
			}
		}
	}

	trigger := "stale"
	if forceRefresh {
		trigger = "forced"
	}
	refreshesTotal.WithLabelValues("enrollment", trigger).Inc()

	_, err, _ := s.group.Do(fmt.Sprintf("enrollments:%d", courseID), func() (any, error) {
		return nil, s.refreshEnrollments(ctx, courseID)
	})
	if err != nil {
		return nil, err
	}

	return s.enrollments.ForCourse(ctx, courseID)
}

// refreshEnrollments streams enrollment pages into batched upserts.
func (s *Service) refreshEnrollments(ctx context.Context, courseID int64) error {
	path := fmt.Sprintf("/v1/courses/%d/enrollments", courseID)
	it := pagination.NewIterator(ctx, s.api, path, nil, "enrollments")

	buffer := make([]store.Enrollment, 0, s.config.BatchSize)
	total := 0

	for {
		row, ok := it.Next()
		if !ok {
			break
		}
		enrollment, ok := decodeEnrollment(courseID, row)
		if !ok {
			s.logger.Warn().
				Int64("course_id", courseID).
				RawJSON("row", row).
				Msg("Skipping enrollment row without usable user_id")
			continue
		}
		buffer = append(buffer, enrollment)
		if len(buffer) >= s.config.BatchSize {
			if err := s.enrollments.UpsertMany(ctx, courseID, buffer); err != nil {
				return err
			}
			total += len(buffer)
			buffer = buffer[:0]
		}
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("fetch enrollments for course %d: %w", courseID, err)
	}

	if len(buffer) > 0 {
		if err := s.enrollments.UpsertMany(ctx, courseID, buffer); err != nil {
			return err
		}
		total += len(buffer)
	}

	// Freshness advances only after all data batches landed.
	if err := s.enrollments.MarkFresh(ctx, courseID); err != nil {
		return err
	}

	s.logger.Info().
		Int64("course_id", courseID).
		Int("rows", total).
		Msg("Refreshed enrollment cache")
	return nil
}

// UserSummary is the reduced user view attached to enrollments.
type UserSummary struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// EnrichedEnrollment is an enrollment with its resolved user, when the
// user could be resolved.
type EnrichedEnrollment struct {
	store.Enrollment
	User *UserSummary `json:"user"`
}

// EnrollmentsWithUsers returns a course's enrollments with user details
// attached. Unresolvable users leave the enrollment's user nil; a
// single failed lookup never fails the whole call.
func (s *Service) EnrollmentsWithUsers(ctx context.Context, courseID int64, forceRefresh bool) ([]EnrichedEnrollment, error) {
	enrollments, err := s.EnrollmentsForCourse(ctx, courseID, forceRefresh)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(enrollments))
	for _, e := range enrollments {
		ids = append(ids, e.UserID)
	}
	users := s.resolveUsers(ctx, sanitizeUserIDs(ids))

	enriched := make([]EnrichedEnrollment, len(enrollments))
	for i, e := range enrollments {
		enriched[i] = EnrichedEnrollment{Enrollment: e}
		if user, ok := users[e.UserID]; ok {
			enriched[i].User = &UserSummary{ID: user.ID, Name: user.Name, Email: user.Email}
		}
	}
	return enriched, nil
}
