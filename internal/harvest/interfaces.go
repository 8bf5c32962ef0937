package harvest

import (
	"context"
	"errors"
	"time"
)

// ErrIdentityNotFound signals that a destination URL could not be resolved
// to an advertiser identity. Not cached, so later rounds may retry.
var ErrIdentityNotFound = errors.New("advertiser identity not found")

// ErrNotImage signals that captured bytes carry no recognized image
// signature. The caller keeps its original reference; nothing is stored.
var ErrNotImage = errors.New("no recognized image signature")

// ChannelAdapter is the capability contract every site-specific extraction
// recipe implements. Adapters must emit sightings with at least a
// destination URL or an advertiser hint, return their session artifact for
// persistence, fail with typed errors rather than panicking, and respect
// the caller-supplied context deadline.
type ChannelAdapter interface {
	ChannelID() string
	Crawl(ctx context.Context, query string, observer Observer, device string, session []Cookie) ([]RawSighting, []Cookie, error)
}

// SessionStore persists per-(observer, channel) session state across runs.
type SessionStore interface {
	Load(observerID, channelID string) ([]Cookie, error)
	Save(observerID, channelID string, cookies []Cookie) error
	Clear(observerID, channelID string) error
}

// Resolver turns a destination URL into a stable advertiser identity.
// Returns ErrIdentityNotFound for infrastructure domains, failed
// navigations and empty extractions.
type Resolver interface {
	Resolve(ctx context.Context, destinationURL string) (AdvertiserIdentity, error)
}

// CatalogStore is the canonical sighting store. Promote must perform its
// check-then-write atomically per content hash so concurrent batches never
// double-promote the same creative.
type CatalogStore interface {
	Promote(ctx context.Context, s CanonicalSighting) (created bool, err error)
	Lookup(ctx context.Context, contentHash string) (CanonicalSighting, bool, error)
	Count(ctx context.Context) (int, error)
}

// AssetStore deduplicates and persists captured creative images.
// Store returns the storage key, or an empty key with no error when the
// bytes are not a recognized image (caller keeps its original reference).
type AssetStore interface {
	Store(ctx context.Context, raw []byte, channel, category string) (string, error)
	Retrieve(ctx context.Context, storageKey string) (string, error)
	Delete(ctx context.Context, storageKey string) (bool, error)
}

// Publisher pushes promotion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run and batch IDs.
type IDGenerator interface {
	NewID() (string, error)
}
