// Package servicearea decides whether a destination postal code is inside
// the backend's active service area. The check is fail-closed: any failure
// to produce an answer means "not in area", never an error.
package servicearea

import (
	"context"
	"strings"
	"time"

	"shipflosync/internal/logging"
)

// CacheTTL is how long a fetched postal-code set stays valid.
const CacheTTL = 24 * time.Hour

// CodeSource fetches the active postal codes from the backend.
type CodeSource interface {
	ActivePostalCodes(ctx context.Context) ([]string, bool)
}

// Cache stores one postal-code set with a TTL.
type Cache interface {
	Get(ctx context.Context) ([]string, bool)
	Set(ctx context.Context, codes []string)
}

type Filter struct {
	Source CodeSource
	Cache  Cache
	Log    logging.Logger
}

// Normalize strips non-alphanumerics and uppercases, the single
// canonicalization applied to both the destination and the cached set.
func Normalize(code string) string {
	var b strings.Builder
	for _, r := range code {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		}
	}
	return b.String()
}

// IsInServiceArea reports membership of the destination postal code in the
// active set. Missing or unnormalizable codes, an empty or unavailable
// active set: all return false with a diagnostic.
func (f *Filter) IsInServiceArea(ctx context.Context, rawPostal string) bool {
	dest := Normalize(rawPostal)
	if dest == "" {
		f.Log.Warnf("[ShipFlo] missing or invalid postal code %q for service area check", rawPostal)
		return false
	}

	codes, ok := f.Cache.Get(ctx)
	if !ok {
		codes, ok = f.Source.ActivePostalCodes(ctx)
		if !ok {
			f.Log.Warnf("[ShipFlo] no active postal codes available for service area check")
			return false
		}
		f.Cache.Set(ctx, codes)
	}

	matched := false
	nonEmpty := 0
	for _, c := range codes {
		n := Normalize(c)
		if n == "" {
			continue
		}
		nonEmpty++
		if n == dest {
			matched = true
		}
	}
	if nonEmpty == 0 {
		f.Log.Warnf("[ShipFlo] active postal code list empty after normalization")
		return false
	}
	if !matched {
		f.Log.Infof("[ShipFlo] postal code %s outside service area", dest)
	}
	return matched
}
