// Package cache is the durable result cache keyed by normalized
// organization identifier. It is the single source of idempotence: an
// identifier whose entry has not expired is never re-researched.
package cache

import (
	"context"
	"strings"
	"time"

	"github.com/auctionintel/leadfinder/internal/lead"
)

// Store is the cache contract shared by the SQLite and Postgres backends.
// Get and Put normalize the identifier internally; callers pass the raw
// string they were given.
type Store interface {
	// Get returns the cached record for an identifier, or (nil, nil) on a
	// miss. An entry found past its expiry is deleted and reported as a miss.
	Get(ctx context.Context, identifier string) (*lead.Record, error)

	// Put upserts the record under the normalized identifier with an
	// expiry computed from the record's status.
	Put(ctx context.Context, identifier string, rec lead.Record) error

	// PurgeUncertain deletes every uncertain entry. Run at process start:
	// uncertain results are almost always fallout from a prior outage.
	PurgeUncertain(ctx context.Context) (int, error)

	// DeleteExpired removes entries past their expiry. Lazy expiry in Get
	// makes this optional; it exists for storage hygiene.
	DeleteExpired(ctx context.Context) (int, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Normalize canonicalizes a raw identifier into its cache key. It is
// idempotent and total. It has exactly one call site per store method so
// reads and writes can never disagree on the key.
func Normalize(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// ComputeExpiry derives an entry's expiry from the record status. The TTL
// tracks what the status means, not a flat number:
//
//   - found / third_party_found with a parseable event date expire the day
//     after the event; the lead is worthless once the event has passed.
//     Without a parseable date they hold for 90 days.
//   - not_found holds 30 days; orgs may later post events.
//   - error holds 7 days, retried sooner than a confirmed negative.
//   - uncertain holds 1 hour; it is a processing fault, not an answer.
func ComputeExpiry(now time.Time, rec lead.Record) time.Time {
	switch rec.Status {
	case lead.StatusFound, lead.StatusThirdPartyFound:
		if d, ok := lead.ParseEventDate(rec.EventDate); ok {
			return d.Add(24 * time.Hour)
		}
		return now.Add(90 * 24 * time.Hour)
	case lead.StatusNotFound:
		return now.Add(30 * 24 * time.Hour)
	case lead.StatusError:
		return now.Add(7 * 24 * time.Hour)
	default:
		return now.Add(time.Hour)
	}
}
