// Package pagination implements keyset paging for order and history listings.
package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

const (
	DefaultPageSize    = 50
	DefaultMaxPageSize = 100
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Params is a validated page request. Cursor is the decoded PageToken.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
}

// Options sets per-endpoint limits. Zero values use the package defaults.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

func (o Options) limits() (def, ceiling int) {
	ceiling = o.MaxPageSize
	if ceiling <= 0 {
		ceiling = DefaultMaxPageSize
	}
	def = o.DefaultPageSize
	if def <= 0 || def > ceiling {
		def = min(DefaultPageSize, ceiling)
	}
	return def, ceiling
}

// sizeKeys and tokenKeys are checked in order; the mobile client still sends per_page.
var (
	sizeKeys  = []string{"pageSize", "page_size", "per_page"}
	tokenKeys = []string{"pageToken", "page_token"}
)

// FromRequest reads the page size and token from the query string. Oversized pages are
// clamped rather than rejected.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil || r.URL == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	query := r.URL.Query()
	def, ceiling := opts.limits()

	params := Params{PageSize: def}
	if raw := firstValue(query, sizeKeys); raw != "" {
		size, err := strconv.Atoi(raw)
		switch {
		case err != nil:
			return Params{}, fmt.Errorf("%w: %q is not an integer", ErrInvalidPageSize, raw)
		case size < 1:
			return Params{}, fmt.Errorf("%w: must be at least 1", ErrInvalidPageSize)
		}
		params.PageSize = min(size, ceiling)
	}

	if raw := firstValue(query, tokenKeys); raw != "" {
		cursor, err := DecodeToken(raw)
		if err != nil {
			return Params{}, err
		}
		params.PageToken, params.Cursor = raw, cursor
	}
	return params, nil
}

// Normalize applies the package defaults for callers that did not go through FromRequest.
func Normalize(pageSize int) int {
	switch {
	case pageSize < 1:
		return DefaultPageSize
	case pageSize > DefaultMaxPageSize:
		return DefaultMaxPageSize
	default:
		return pageSize
	}
}

func firstValue(query map[string][]string, keys []string) string {
	for _, key := range keys {
		if values := query[key]; len(values) > 0 {
			if v := strings.TrimSpace(values[0]); v != "" {
				return v
			}
		}
	}
	return ""
}
