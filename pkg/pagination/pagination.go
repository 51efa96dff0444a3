// Package pagination walks multi-page result sets of the upstream API.
//
// Pages carry their data array under a resource-specific key
// ("courses", "enrollments", "users") or a generic "data" key, plus a
// meta object with the current page number and total page count. The
// Iterator exposes the rows of all pages as one lazy sequence with a
// single page in flight: the next page is not requested until the
// previous page's rows have been consumed.
package pagination

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// Meta is the pagination metadata object returned with every page.
type Meta struct {
	Page          int `json:"page"`
	NumberOfPages int `json:"number_of_pages"`
}

// PageFetcher fetches a single page of a paginated collection.
// dataKeys are the candidate response fields that may hold the page's
// data array, tried in order; "data" is always tried last.
type PageFetcher interface {
	FetchPage(ctx context.Context, path string, params url.Values, dataKeys []string, page int) ([]json.RawMessage, Meta, error)
}

// ParseEnvelope extracts the data array and pagination meta from a raw
// page body. A missing data field yields an empty row slice; a missing
// meta object yields a zero Meta, which terminates iteration after the
// first page.
func ParseEnvelope(body []byte, dataKeys []string) ([]json.RawMessage, Meta, error) {
	var envelope struct {
		Meta Meta `json:"meta"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, Meta{}, fmt.Errorf("parse page envelope: %w", err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, Meta{}, fmt.Errorf("parse page envelope: %w", err)
	}

	keys := make([]string, 0, len(dataKeys)+1)
	keys = append(keys, dataKeys...)
	keys = append(keys, "data")

	for _, key := range keys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var rows []json.RawMessage
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, Meta{}, fmt.Errorf("parse %q data array: %w", key, err)
		}
		return rows, envelope.Meta, nil
	}

	return nil, envelope.Meta, nil
}

// Iterator is a lazy, finite, non-restartable sequence of rows spanning
// all pages of a collection. It is restartable only by creating a new
// Iterator, which issues a fresh request from page 1.
type Iterator struct {
	ctx      context.Context
	fetcher  PageFetcher
	path     string
	params   url.Values
	dataKeys []string

	page int
	rows []json.RawMessage
	pos  int
	done bool
	err  error
}

// NewIterator creates a row iterator. No request is issued until the
// first call to Next.
func NewIterator(ctx context.Context, fetcher PageFetcher, path string, params url.Values, dataKeys ...string) *Iterator {
	return &Iterator{
		ctx:      ctx,
		fetcher:  fetcher,
		path:     path,
		params:   params,
		dataKeys: dataKeys,
	}
}

// Next returns the next row, fetching the next page once the current
// page's rows are exhausted. It returns false when the sequence ends or
// a fetch fails; check Err afterwards.
func (it *Iterator) Next() (json.RawMessage, bool) {
	for it.pos >= len(it.rows) {
		if it.done || it.err != nil {
			return nil, false
		}
		it.fetchNext()
		if it.err != nil {
			return nil, false
		}
	}

	row := it.rows[it.pos]
	it.pos++
	return row, true
}

// Err returns the error that terminated iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Collect drains the remaining rows into a slice.
func (it *Iterator) Collect() ([]json.RawMessage, error) {
	var out []json.RawMessage
	for {
		row, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, row)
	}
	return out, it.err
}

func (it *Iterator) fetchNext() {
	it.page++

	rows, meta, err := it.fetcher.FetchPage(it.ctx, it.path, it.params, it.dataKeys, it.page)
	if err != nil {
		it.err = fmt.Errorf("fetch page %d of %s: %w", it.page, it.path, err)
		return
	}

	it.rows = rows
	it.pos = 0

	// An empty page or the last page per meta ends the sequence. Absent
	// meta decodes to 0 >= 0 and reads as a single-page collection.
	if len(rows) == 0 || meta.Page >= meta.NumberOfPages {
		it.done = true
	}
}

// FetchAll is the eager variant: it walks every page up front and
// returns the concatenated rows. Use it for collections that are always
// consumed whole.
func FetchAll(ctx context.Context, fetcher PageFetcher, path string, params url.Values, dataKeys ...string) ([]json.RawMessage, error) {
	return NewIterator(ctx, fetcher, path, params, dataKeys...).Collect()
}
