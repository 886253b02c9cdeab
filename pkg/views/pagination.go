package views

import (
	"net/url"
	"strconv"

	"messenger-console/db"
)

// ParseListOptions reads ?limit, ?before and ?after. Bad numbers fall back to
// defaults instead of failing the request; before wins over after.
func ParseListOptions(q url.Values) db.ListOptions {
	opts := db.ListOptions{Limit: db.DefaultPageSize}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		opts.Limit = v
	}
	if opts.Limit > db.MaxPageSize {
		opts.Limit = db.MaxPageSize
	}
	if v, err := strconv.ParseUint(q.Get("before"), 10, 64); err == nil && v > 0 {
		opts.BeforeID = uint(v)
		return opts
	}
	if v, err := strconv.ParseUint(q.Get("after"), 10, 64); err == nil && v > 0 {
		opts.AfterID = uint(v)
	}
	return opts
}
