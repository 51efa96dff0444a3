// Package server exposes the report endpoints over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"coursecache/internal/store"
	"coursecache/pkg/client"
	"coursecache/pkg/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ReportService is the service surface the route layer depends on.
type ReportService interface {
	PublishedCourses(ctx context.Context, forceRefresh bool) ([]store.Course, error)
	EnrollmentsWithUsers(ctx context.Context, courseID int64, forceRefresh bool) ([]service.EnrichedEnrollment, error)
}

// Server wires the report routes onto a gin engine.
type Server struct {
	engine  *gin.Engine
	service ReportService
	logger  zerolog.Logger
}

// New creates a server with all routes registered.
func New(svc ReportService) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		engine:  gin.New(),
		service: svc,
		logger:  log.With().Str("component", "server").Logger(),
	}

	s.engine.Use(gin.Recovery(), s.requestLogger())

	s.engine.GET("/healthz", s.handleHealthz)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	reports := s.engine.Group("/api/reports")
	reports.GET("/published_courses", s.handlePublishedCourses)
	reports.GET("/courses/:course_id/enrollments", s.handleCourseEnrollments)

	return s
}

// Router returns the underlying engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.engine
}

// Run serves HTTP on addr until the listener fails.
func (s *Server) Run(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("HTTP server listening")
	return s.engine.Run(addr)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// studentView is the per-course student line of the report.
type studentView struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// courseReportView is one course of the published-courses report.
type courseReportView struct {
	ID       int64         `json:"id"`
	Name     string        `json:"name"`
	Heading  string        `json:"heading"`
	Students []studentView `json:"students"`
}

// handlePublishedCourses builds the full report: every published course
// with its enrolled students. Students whose user could not be resolved
// are omitted from the course's list.
func (s *Server) handlePublishedCourses(c *gin.Context) {
	force := c.Query("refresh") == "true"
	ctx := c.Request.Context()

	courses, err := s.service.PublishedCourses(ctx, force)
	if err != nil {
		s.renderError(c, err)
		return
	}

	report := make([]courseReportView, 0, len(courses))
	for _, course := range courses {
		enrollments, err := s.service.EnrollmentsWithUsers(ctx, course.ID, force)
		if err != nil {
			s.renderError(c, err)
			return
		}

		students := make([]studentView, 0, len(enrollments))
		for _, e := range enrollments {
			if e.User == nil {
				continue
			}
			students = append(students, studentView{Name: e.User.Name, Email: e.User.Email})
		}

		report = append(report, courseReportView{
			ID:       course.ID,
			Name:     course.Name,
			Heading:  course.Heading,
			Students: students,
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}

func (s *Server) handleCourseEnrollments(c *gin.Context) {
	courseID, err := strconv.ParseInt(c.Param("course_id"), 10, 64)
	if err != nil || courseID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "course_id must be a positive integer"})
		return
	}

	force := c.Query("refresh") == "true"
	enrollments, err := s.service.EnrollmentsWithUsers(c.Request.Context(), courseID, force)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": enrollments})
}

// renderError maps upstream failures to 502 and everything else to 500.
func (s *Server) renderError(c *gin.Context, err error) {
	s.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")

	var apiErr *client.APIError
	if errors.As(err, &apiErr) || errors.Is(err, client.ErrRetryExhausted) {
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream request failed"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
