package service

import (
	"encoding/json"
	"time"

	"coursecache/internal/store"

	"gorm.io/datatypes"
)

// decodeCourse maps an upstream course row onto a store record. The
// full payload is retained verbatim in Raw. A missing "published" field
// counts as published, matching the upstream listing which only omits
// the flag on visible courses.
func decodeCourse(row json.RawMessage) (store.Course, bool) {
	var payload struct {
		ID        int64  `json:"id"`
		Name      string `json:"name"`
		Heading   string `json:"heading"`
		Published *bool  `json:"published"`
	}
	if err := json.Unmarshal(row, &payload); err != nil || payload.ID == 0 {
		return store.Course{}, false
	}

	published := true
	if payload.Published != nil {
		published = *payload.Published
	}

	return store.Course{
		ID:        payload.ID,
		Name:      payload.Name,
		Heading:   payload.Heading,
		Published: published,
		Raw:       datatypes.JSON(row),
	}, true
}

// decodeEnrollment maps an upstream enrollment row onto a store record.
// Rows whose user_id cannot be coerced to a positive integer are
// rejected.
func decodeEnrollment(courseID int64, row json.RawMessage) (store.Enrollment, bool) {
	var payload struct {
		UserID          any        `json:"user_id"`
		EnrolledAt      *time.Time `json:"enrolled_at"`
		CompletedAt     *time.Time `json:"completed_at"`
		ExpiresAt       *time.Time `json:"expires_at"`
		PercentComplete *float64   `json:"percent_complete"`
	}
	if err := json.Unmarshal(row, &payload); err != nil {
		return store.Enrollment{}, false
	}

	userID, ok := coerceID(payload.UserID)
	if !ok {
		return store.Enrollment{}, false
	}

	return store.Enrollment{
		CourseID:        courseID,
		UserID:          userID,
		EnrolledAt:      payload.EnrolledAt,
		CompletedAt:     payload.CompletedAt,
		ExpiresAt:       payload.ExpiresAt,
		PercentComplete: payload.PercentComplete,
		Raw:             datatypes.JSON(row),
	}, true
}

// decodeUser maps an upstream user payload onto a store record. Bulk
// listing rows carry the identifier as "id"; some endpoints use
// "user_id" instead, so both are accepted.
func decodeUser(body json.RawMessage) (store.User, bool) {
	var payload struct {
		ID     any    `json:"id"`
		UserID any    `json:"user_id"`
		Name   string `json:"name"`
		Email  string `json:"email"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return store.User{}, false
	}

	id, ok := coerceID(payload.ID)
	if !ok {
		id, ok = coerceID(payload.UserID)
	}
	if !ok {
		return store.User{}, false
	}

	return store.User{
		ID:    id,
		Name:  payload.Name,
		Email: payload.Email,
		Raw:   datatypes.JSON(body),
	}, true
}

// coerceID normalizes the identifier shapes the upstream API emits:
// JSON numbers (float64 after decoding) and decimal-digit strings.
// Anything else, including fractional numbers, is rejected.
func coerceID(v any) (int64, bool) {
	switch id := v.(type) {
	case float64:
		n := int64(id)
		if float64(n) != id || n <= 0 {
			return 0, false
		}
		return n, true
	case string:
		if id == "" {
			return 0, false
		}
		var n int64
		for _, c := range id {
			if c < '0' || c > '9' {
				return 0, false
			}
			n = n*10 + int64(c-'0')
		}
		if n <= 0 {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// sanitizeUserIDs drops non-positive identifiers (including the
// freshness sentinel) and deduplicates while preserving first-seen
// order.
func sanitizeUserIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
