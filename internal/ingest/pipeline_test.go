package ingest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brandsight/adharvest/internal/catalog/memory"
	"github.com/brandsight/adharvest/internal/harvest"
	pubmemory "github.com/brandsight/adharvest/internal/publisher/memory"
)

type stubResolver struct {
	identities map[string]harvest.AdvertiserIdentity
	calls      int
}

func (r *stubResolver) Resolve(_ context.Context, destinationURL string) (harvest.AdvertiserIdentity, error) {
	r.calls++
	if id, ok := r.identities[destinationURL]; ok {
		return id, nil
	}
	return harvest.AdvertiserIdentity{}, harvest.ErrIdentityNotFound
}

type stubIDs struct {
	n int
}

func (g *stubIDs) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("batch-%d", g.n), nil
}

type stubClock struct {
	now time.Time
}

func (c *stubClock) Now() time.Time { return c.now }

type stubAssets struct {
	stored map[string][]byte
	fail   error
}

func (s *stubAssets) Store(_ context.Context, raw []byte, channel, category string) (string, error) {
	if s.fail != nil {
		return "", s.fail
	}
	key := fmt.Sprintf("%s/%s/%d", channel, category, len(s.stored))
	if s.stored == nil {
		s.stored = make(map[string][]byte)
	}
	s.stored[key] = raw
	return key, nil
}

func (s *stubAssets) Retrieve(_ context.Context, key string) (string, error) { return key, nil }
func (s *stubAssets) Delete(_ context.Context, _ string) (bool, error)       { return false, nil }

func newTestPipeline(t *testing.T, resolver harvest.Resolver, assetStore harvest.AssetStore, cfg Config) (*Pipeline, *memory.Store, *pubmemory.Publisher) {
	t.Helper()
	catalog := memory.New()
	pub := pubmemory.New()
	clock := &stubClock{now: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)}
	p := New(resolver, catalog, assetStore, pub, "promotions", clock, &stubIDs{}, cfg, zap.NewNop())
	return p, catalog, pub
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: byte(x * 60), G: byte(y * 60), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func sighting(text, dest string) harvest.RawSighting {
	return harvest.RawSighting{
		AdvertiserHint: "Acme",
		CreativeText:   text,
		DestinationURL: dest,
	}
}

func TestProcessIsIdempotent(t *testing.T) {
	t.Parallel()

	p, catalog, _ := newTestPipeline(t, &stubResolver{}, nil, Config{})
	batch := []harvest.RawSighting{
		sighting("Great shoes, buy now", "https://acme.example/shoes"),
		sighting("Winter sale", "https://acme.example/sale"),
	}

	first, err := p.Process(context.Background(), "searchco", batch)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Promoted)
	assert.Zero(t, first.Deduped)

	second, err := p.Process(context.Background(), "searchco", batch)
	require.NoError(t, err)
	assert.Zero(t, second.Promoted)
	assert.Equal(t, 2, second.Deduped)

	n, err := catalog.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n, "replay must not create new canonical rows")

	hash, err := contentHash(batch[0], "Acme")
	require.NoError(t, err)
	row, ok, err := catalog.Lookup(context.Background(), hash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, row.SeenCount, "replay doubles seen_count exactly")
}

func TestProcessCollapsesInBatchDuplicates(t *testing.T) {
	t.Parallel()

	p, catalog, _ := newTestPipeline(t, &stubResolver{}, nil, Config{})
	dup := sighting("Identical ad", "https://acme.example/landing")

	result, err := p.Process(context.Background(), "searchco", []harvest.RawSighting{dup, dup})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Promoted)
	assert.Equal(t, 1, result.Deduped)

	n, err := catalog.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	hash, err := contentHash(dup, "Acme")
	require.NoError(t, err)
	row, _, err := catalog.Lookup(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, 2, row.SeenCount)
}

func TestWashRejectsUnusableRecords(t *testing.T) {
	t.Parallel()

	p, catalog, _ := newTestPipeline(t, &stubResolver{}, nil, Config{})
	batch := []harvest.RawSighting{
		{CreativeText: "no destination, no hint"},
		sighting("fine", "https://acme.example/ok"),
	}

	result, err := p.Process(context.Background(), "searchco", batch)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Rejected)
	assert.Equal(t, 1, result.Promoted)
	require.Len(t, result.Quarantined, 1)
	assert.Equal(t, StatusRejected, result.Quarantined[0].Status)
	assert.Equal(t, "no destination url or advertiser hint", result.Quarantined[0].RejectReason)

	n, err := catalog.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n, "rejected records must never be promoted")
}

func TestWashMarketFilter(t *testing.T) {
	t.Parallel()

	p, _, _ := newTestPipeline(t, &stubResolver{}, nil, Config{MarketDomains: []string{"example"}})
	batch := []harvest.RawSighting{
		sighting("in market", "https://acme.example/x"),
		sighting("out of market", "https://acme.elsewhere/x"),
	}

	result, err := p.Process(context.Background(), "searchco", batch)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Promoted)
	assert.Equal(t, 1, result.Rejected)
	require.Len(t, result.Quarantined, 1)
	assert.Equal(t, "destination outside target market", result.Quarantined[0].RejectReason)
}

func TestEnrichAttachesResolvedIdentity(t *testing.T) {
	t.Parallel()

	resolver := &stubResolver{identities: map[string]harvest.AdvertiserIdentity{
		"https://mystery.example/landing": {ID: "mystery.example", CanonicalName: "Mystery Co"},
	}}
	p, catalog, _ := newTestPipeline(t, resolver, nil, Config{})

	batch := []harvest.RawSighting{
		{CreativeText: "resolvable", DestinationURL: "https://mystery.example/landing"},
		{CreativeText: "unresolvable", DestinationURL: "https://shadow.example/landing"},
	}
	result, err := p.Process(context.Background(), "searchco", batch)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Promoted, "unresolved identity must not drop the sighting")
	assert.Equal(t, 2, resolver.calls)

	resolvedHash, err := contentHash(batch[0], "mystery.example")
	require.NoError(t, err)
	row, ok, err := catalog.Lookup(context.Background(), resolvedHash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "mystery.example", row.AdvertiserID)

	unresolvedHash, err := contentHash(batch[1], UnresolvedAdvertiser)
	require.NoError(t, err)
	row, ok, err = catalog.Lookup(context.Background(), unresolvedHash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, UnresolvedAdvertiser, row.AdvertiserID)
}

func TestAssetLinkage(t *testing.T) {
	t.Parallel()

	assetStore := &stubAssets{}
	p, catalog, _ := newTestPipeline(t, &stubResolver{}, assetStore, Config{})

	record := sighting("with image", "https://acme.example/img")
	record.ImageData = pngBytes(t)

	result, err := p.Process(context.Background(), "searchco", []harvest.RawSighting{record})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Promoted)
	require.Len(t, assetStore.stored, 1)

	hash, err := contentHash(record, "Acme")
	require.NoError(t, err)
	row, ok, err := catalog.Lookup(context.Background(), hash)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, row.Payload.AssetRef)
}

func TestAssetStoreFailureDegrades(t *testing.T) {
	t.Parallel()

	assetStore := &stubAssets{fail: fmt.Errorf("disk full")}
	p, _, _ := newTestPipeline(t, &stubResolver{}, assetStore, Config{})

	record := sighting("with image", "https://acme.example/img")
	record.ImageData = pngBytes(t)
	record.AssetRef = "original-ref"

	result, err := p.Process(context.Background(), "searchco", []harvest.RawSighting{record})
	require.NoError(t, err, "asset store failure must not fail the batch")
	assert.Equal(t, 1, result.Promoted)
}

func TestPromotionEventsPublished(t *testing.T) {
	t.Parallel()

	p, _, pub := newTestPipeline(t, &stubResolver{}, nil, Config{})
	batch := []harvest.RawSighting{
		sighting("ad one", "https://acme.example/1"),
		sighting("ad one", "https://acme.example/1"),
	}

	_, err := p.Process(context.Background(), "searchco", batch)
	require.NoError(t, err)
	assert.Len(t, pub.Messages(), 1, "only new promotions publish events, not rediscoveries")
}
