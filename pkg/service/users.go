package service

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"coursecache/internal/store"
	"coursecache/pkg/pagination"
)

// bulkScanPageSize is the page size used when walking the full user
// listing, larger than the default since the scan is throughput bound.
const bulkScanPageSize = 200

// resolveUsers returns user records for the given IDs, reading fresh
// ones from the store and fetching the rest via the configured
// strategy. Resolution is deliberately partial: IDs that cannot be
// resolved are logged and omitted rather than failing the call.
func (s *Service) resolveUsers(ctx context.Context, ids []int64) map[int64]store.User {
	out := make(map[int64]store.User, len(ids))
	missing := make([]int64, 0, len(ids))

	for _, id := range ids {
		stale, err := s.users.Stale(ctx, id, s.config.TTL)
		if err != nil {
			s.logger.Warn().Err(err).Int64("user_id", id).Msg("User staleness check failed")
			missing = append(missing, id)
			continue
		}
		if stale {
			missing = append(missing, id)
			continue
		}
		user, err := s.users.FindByID(ctx, id)
		if err != nil || user == nil {
			missing = append(missing, id)
			continue
		}
		out[id] = *user
	}

	if len(out) > 0 {
		cacheHitsTotal.WithLabelValues("user").Add(float64(len(out)))
	}
	if len(missing) == 0 {
		return out
	}

	var fetched map[int64]store.User
	switch s.config.Strategy {
	case ResolveBulkScan:
		fetched = s.scanUsers(ctx, missing)
	default:
		fetched = s.lookupUsers(ctx, missing)
	}

	if unresolved := len(missing) - len(fetched); unresolved > 0 {
		usersUnresolvedTotal.Add(float64(unresolved))
	}
	if len(fetched) == 0 {
		return out
	}

	users := make([]store.User, 0, len(fetched))
	for _, user := range fetched {
		users = append(users, user)
	}
	if err := s.users.UpsertMany(ctx, users); err != nil {
		// Callers still get the fetched users; only the write-back is lost.
		s.logger.Warn().Err(err).Int("count", len(users)).Msg("User write-back failed")
	}

	for id, user := range fetched {
		out[id] = user
	}
	return out
}

type lookupResult struct {
	id   int64
	user store.User
	err  error
}

// lookupUsers fetches each ID individually through a worker pool of
// Concurrency goroutines. Failed lookups are logged and dropped.
func (s *Service) lookupUsers(ctx context.Context, ids []int64) map[int64]store.User {
	workers := s.config.Concurrency
	if workers > len(ids) {
		workers = len(ids)
	}

	queue := make(chan int64, len(ids))
	for _, id := range ids {
		queue <- id
	}
	close(queue)

	out := make(map[int64]store.User, len(ids))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range queue {
				res := s.lookupUser(ctx, id)
				if res.err != nil {
					s.logger.Warn().Err(res.err).Int64("user_id", id).Msg("User lookup failed")
					continue
				}
				mu.Lock()
				out[res.id] = res.user
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	return out
}

func (s *Service) lookupUser(ctx context.Context, id int64) lookupResult {
	body, err := s.api.GetJSON(ctx, fmt.Sprintf("/v1/users/%d", id), nil)
	if err != nil {
		return lookupResult{id: id, err: err}
	}
	user, ok := decodeUser(body)
	if !ok {
		return lookupResult{id: id, err: fmt.Errorf("user %d: response missing id", id)}
	}
	// Trust the requested ID over the payload in case of aliased fields.
	user.ID = id
	return lookupResult{id: id, user: user}
}

// scanUsers pages through the full user listing, keeping only wanted
// IDs and stopping early once all are found. A mid-scan fetch error
// yields the users collected so far.
func (s *Service) scanUsers(ctx context.Context, ids []int64) map[int64]store.User {
	wanted := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	out := make(map[int64]store.User, len(ids))
	params := url.Values{"per": {fmt.Sprint(bulkScanPageSize)}}
	it := pagination.NewIterator(ctx, s.api, "/v1/users", params, "users")

	for len(out) < len(wanted) {
		row, ok := it.Next()
		if !ok {
			break
		}
		user, decoded := decodeUser(row)
		if !decoded {
			continue
		}
		if _, want := wanted[user.ID]; want {
			out[user.ID] = user
		}
	}
	if err := it.Err(); err != nil {
		s.logger.Warn().Err(err).
			Int("resolved", len(out)).
			Int("wanted", len(wanted)).
			Msg("User scan aborted early")
	}

	return out
}
