package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"coursecache/internal/store"
	"coursecache/pkg/client"
	"coursecache/pkg/service"
)

// stubService returns canned report data and records the refresh flags
// it was called with.
type stubService struct {
	courses     []store.Course
	enrollments map[int64][]service.EnrichedEnrollment

	coursesErr     error
	enrollmentsErr error

	forcedCourses     []bool
	forcedEnrollments []bool
}

func (s *stubService) PublishedCourses(ctx context.Context, force bool) ([]store.Course, error) {
	s.forcedCourses = append(s.forcedCourses, force)
	return s.courses, s.coursesErr
}

func (s *stubService) EnrollmentsWithUsers(ctx context.Context, courseID int64, force bool) ([]service.EnrichedEnrollment, error) {
	s.forcedEnrollments = append(s.forcedEnrollments, force)
	if s.enrollmentsErr != nil {
		return nil, s.enrollmentsErr
	}
	return s.enrollments[courseID], nil
}

func enriched(courseID, userID int64, name, email string) service.EnrichedEnrollment {
	return service.EnrichedEnrollment{
		Enrollment: store.Enrollment{CourseID: courseID, UserID: userID},
		User:       &service.UserSummary{ID: userID, Name: name, Email: email},
	}
}

func doRequest(t *testing.T, svc ReportService, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	New(svc).Router().ServeHTTP(rec, req)
	return rec
}

func TestPublishedCoursesReport(t *testing.T) {
	svc := &stubService{
		courses: []store.Course{
			{ID: 1, Name: "Go", Heading: "Intro", Published: true},
		},
		enrollments: map[int64][]service.EnrichedEnrollment{
			1: {
				enriched(1, 7, "Jane", "jane@x.com"),
				{Enrollment: store.Enrollment{CourseID: 1, UserID: 8}}, // unresolved user
			},
		},
	}

	rec := doRequest(t, svc, "/api/reports/published_courses")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Data []struct {
			ID       int64  `json:"id"`
			Name     string `json:"name"`
			Heading  string `json:"heading"`
			Students []struct {
				Name  string `json:"name"`
				Email string `json:"email"`
			} `json:"students"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if len(body.Data) != 1 {
		t.Fatalf("got %d courses, want 1", len(body.Data))
	}
	course := body.Data[0]
	if course.ID != 1 || course.Name != "Go" || course.Heading != "Intro" {
		t.Errorf("course = %+v", course)
	}
	if len(course.Students) != 1 {
		t.Fatalf("got %d students, want 1 (unresolved user omitted)", len(course.Students))
	}
	if course.Students[0].Name != "Jane" || course.Students[0].Email != "jane@x.com" {
		t.Errorf("student = %+v", course.Students[0])
	}
}

func TestPublishedCoursesReport_RefreshFlag(t *testing.T) {
	svc := &stubService{
		courses: []store.Course{{ID: 1, Published: true}},
		enrollments: map[int64][]service.EnrichedEnrollment{
			1: {enriched(1, 7, "Jane", "jane@x.com")},
		},
	}

	doRequest(t, svc, "/api/reports/published_courses?refresh=true")
	if len(svc.forcedCourses) != 1 || !svc.forcedCourses[0] {
		t.Error("refresh=true should force the course refetch")
	}
	if len(svc.forcedEnrollments) != 1 || !svc.forcedEnrollments[0] {
		t.Error("refresh=true should force the enrollment refetch")
	}

	svc.forcedCourses = nil
	doRequest(t, svc, "/api/reports/published_courses")
	if len(svc.forcedCourses) != 1 || svc.forcedCourses[0] {
		t.Error("missing refresh param should not force a refetch")
	}
}

func TestCourseEnrollments(t *testing.T) {
	svc := &stubService{
		enrollments: map[int64][]service.EnrichedEnrollment{
			3: {enriched(3, 7, "Jane", "jane@x.com")},
		},
	}

	rec := doRequest(t, svc, "/api/reports/courses/3/enrollments")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Data []struct {
			CourseID int64 `json:"course_id"`
			UserID   int64 `json:"user_id"`
			User     *struct {
				Name string `json:"name"`
			} `json:"user"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Data) != 1 {
		t.Fatalf("got %d enrollments, want 1", len(body.Data))
	}
	if body.Data[0].User == nil || body.Data[0].User.Name != "Jane" {
		t.Errorf("enrollment = %+v", body.Data[0])
	}
}

func TestCourseEnrollments_BadCourseID(t *testing.T) {
	svc := &stubService{}

	for _, path := range []string{
		"/api/reports/courses/abc/enrollments",
		"/api/reports/courses/-1/enrollments",
		"/api/reports/courses/0/enrollments",
	} {
		rec := doRequest(t, svc, path)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, rec.Code)
		}
	}
	if len(svc.forcedEnrollments) != 0 {
		t.Error("service should not be called for invalid course IDs")
	}
}

func TestErrorMapping(t *testing.T) {
	upstream := &client.APIError{StatusCode: 503, ErrorClass: client.ErrorClassServer, Path: "/v1/courses"}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"api error maps to 502", upstream, http.StatusBadGateway},
		{"exhausted retries map to 502", client.ErrRetryExhausted, http.StatusBadGateway},
		{"other errors map to 500", errors.New("db down"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{coursesErr: tt.err, enrollmentsErr: tt.err}

			rec := doRequest(t, svc, "/api/reports/published_courses")
			if rec.Code != tt.want {
				t.Errorf("report status = %d, want %d", rec.Code, tt.want)
			}

			rec = doRequest(t, svc, "/api/reports/courses/1/enrollments")
			if rec.Code != tt.want {
				t.Errorf("enrollments status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestHealthz(t *testing.T) {
	rec := doRequest(t, &stubService{}, "/healthz")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rec := doRequest(t, &stubService{}, "/metrics")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
