// Package assets provides content-addressed storage for captured creative
// images: format validation, transcoding, dedup by content and retention GC.
package assets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/brandsight/adharvest/internal/harvest"
	"github.com/brandsight/adharvest/internal/metrics"
)

// Blob is the storage backend contract shared by local and GCS backends.
type Blob interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
	URL(key string) (string, error)
	Delete(ctx context.Context, key string) (bool, error)
	CollectOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Config controls the asset store.
type Config struct {
	// MaxDimension bounds the longer edge of stored images; larger sources
	// are downscaled, never rejected.
	MaxDimension int
	// Retention is how long assets are kept before GarbageCollect removes
	// them.
	Retention time.Duration
}

// Store implements harvest.AssetStore. Keys are content addressed:
// {channel}/{date}/{category}/{hash}.jpg, so byte-identical transcodes
// collide into a single stored object.
type Store struct {
	blob      Blob
	maxDim    int
	retention time.Duration
	clock     harvest.Clock
	logger    *zap.Logger
}

// New creates a Store over the given blob backend.
func New(cfg Config, blob Blob, clock harvest.Clock, logger *zap.Logger) *Store {
	return &Store{
		blob:      blob,
		maxDim:    cfg.MaxDimension,
		retention: cfg.Retention,
		clock:     clock,
		logger:    logger,
	}
}

// Store validates, transcodes and persists one captured image, returning its
// storage key. Bytes without a recognized image signature yield
// harvest.ErrNotImage and nothing is stored.
func (s *Store) Store(ctx context.Context, raw []byte, channel, category string) (string, error) {
	format := Sniff(raw)
	if format == FormatUnknown {
		return "", harvest.ErrNotImage
	}
	encoded, err := transcode(raw, format, s.maxDim)
	if err != nil {
		return "", fmt.Errorf("transcode asset: %w", err)
	}

	sum := sha256.Sum256(encoded)
	key := s.buildKey(channel, category, hex.EncodeToString(sum[:]))
	if _, err := s.blob.Put(ctx, key, encoded); err != nil {
		return "", fmt.Errorf("store asset: %w", err)
	}
	metrics.AssetsStoredTotal.Inc()
	s.logger.Debug("asset stored",
		zap.String("key", key),
		zap.String("source_format", string(format)),
		zap.Int("bytes", len(encoded)),
	)
	return key, nil
}

// Retrieve returns the backend URL for a storage key.
func (s *Store) Retrieve(_ context.Context, storageKey string) (string, error) {
	url, err := s.blob.URL(storageKey)
	if err != nil {
		return "", fmt.Errorf("retrieve asset: %w", err)
	}
	return url, nil
}

// Delete removes one stored asset, reporting whether it existed.
func (s *Store) Delete(ctx context.Context, storageKey string) (bool, error) {
	return s.blob.Delete(ctx, storageKey)
}

// GarbageCollect removes assets older than the retention window and prunes
// empty prefixes, returning the removed count.
func (s *Store) GarbageCollect(ctx context.Context) (int, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	cutoff := s.clock.Now().Add(-s.retention)
	deleted, err := s.blob.CollectOlderThan(ctx, cutoff)
	if err != nil {
		return deleted, fmt.Errorf("garbage collect: %w", err)
	}
	s.logger.Info("asset garbage collection finished",
		zap.Int("deleted", deleted),
		zap.Time("cutoff", cutoff),
	)
	return deleted, nil
}

func (s *Store) buildKey(channel, category, stem string) string {
	channel = sanitizeSegment(channel, "unknown-channel")
	category = sanitizeSegment(category, "creative")
	date := s.clock.Now().Format("2006-01-02")
	return fmt.Sprintf("%s/%s/%s/%s.jpg", channel, date, category, stem)
}

func sanitizeSegment(v, fallback string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	v = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, v)
	v = strings.Trim(v, "-")
	if v == "" {
		return fallback
	}
	return v
}
