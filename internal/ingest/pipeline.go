// Package ingest implements the staging, validation, identity enrichment,
// dedup and promotion pipeline that turns raw sightings into canonical rows.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/brandsight/adharvest/internal/harvest"
	"github.com/brandsight/adharvest/internal/metrics"
)

// ValidationStatus is the wash-stage disposition of a staged record.
type ValidationStatus string

// Staged record dispositions.
const (
	StatusPending  ValidationStatus = "pending"
	StatusApproved ValidationStatus = "approved"
	StatusRejected ValidationStatus = "rejected"
)

// UnresolvedAdvertiser attributes sightings whose destination could not be
// resolved to a brand; data is kept rather than dropped.
const UnresolvedAdvertiser = "unresolved"

// StagedRecord wraps a RawSighting while it moves through the pipeline.
type StagedRecord struct {
	harvest.RawSighting

	BatchID      string
	ContentHash  string
	Status       ValidationStatus
	RejectReason string
	AdvertiserID string
}

// Result summarizes one Process call.
type Result struct {
	BatchID     string
	Approved    int
	Rejected    int
	Promoted    int
	Deduped     int
	Quarantined []StagedRecord
}

// Config controls validation behavior.
type Config struct {
	// MarketDomains restricts ingestion to destinations under these domain
	// suffixes. Empty means no market filtering.
	MarketDomains []string
}

// Pipeline is the ingestion pipeline. Stages run strictly in order per
// batch; batches from different channels may run concurrently because the
// catalog store serializes promotion per content hash.
type Pipeline struct {
	resolver  harvest.Resolver
	catalog   harvest.CatalogStore
	assets    harvest.AssetStore
	publisher harvest.Publisher
	topic     string
	clock     harvest.Clock
	ids       harvest.IDGenerator
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Pipeline. The publisher may be nil; assets may be nil
// when no asset storage is configured.
func New(
	resolver harvest.Resolver,
	catalog harvest.CatalogStore,
	assetStore harvest.AssetStore,
	publisher harvest.Publisher,
	topic string,
	clock harvest.Clock,
	ids harvest.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		resolver:  resolver,
		catalog:   catalog,
		assets:    assetStore,
		publisher: publisher,
		topic:     topic,
		clock:     clock,
		ids:       ids,
		cfg:       cfg,
		logger:    logger,
	}
}

// Process runs one batch of raw sightings through all five stages. It is
// idempotent with respect to content hash: replaying a batch only bumps
// seen counts, never creates duplicate canonical rows.
func (p *Pipeline) Process(ctx context.Context, channelID string, batch []harvest.RawSighting) (Result, error) {
	batchID, err := p.ids.NewID()
	if err != nil {
		return Result{}, fmt.Errorf("assign batch id: %w", err)
	}
	result := Result{BatchID: batchID}

	staged := p.stage(batchID, batch)
	p.wash(staged)
	p.enrich(ctx, staged)

	for i := range staged {
		record := &staged[i]
		if record.Status == StatusRejected {
			result.Rejected++
			result.Quarantined = append(result.Quarantined, *record)
			metrics.RejectedTotal.WithLabelValues(channelID).Inc()
			continue
		}
		result.Approved++

		hash, err := contentHash(record.RawSighting, record.AdvertiserID)
		if err != nil {
			return result, fmt.Errorf("content hash: %w", err)
		}
		record.ContentHash = hash

		assetRef := p.linkAsset(ctx, channelID, record)

		now := p.clock.Now()
		created, err := p.catalog.Promote(ctx, harvest.CanonicalSighting{
			ContentHash:  hash,
			AdvertiserID: record.AdvertiserID,
			FirstSeen:    now,
			LastSeen:     now,
			SeenCount:    1,
			ChannelID:    channelID,
			Payload: harvest.CreativePayload{
				Text:        record.CreativeText,
				Description: record.Description,
				Destination: record.DestinationURL,
				Kind:        record.CreativeKind,
				AssetRef:    assetRef,
			},
		})
		if err != nil {
			return result, fmt.Errorf("promote sighting: %w", err)
		}
		if created {
			result.Promoted++
			metrics.PromotedTotal.WithLabelValues(channelID).Inc()
			p.publishPromotion(ctx, channelID, record, now)
		} else {
			result.Deduped++
			metrics.DedupedTotal.WithLabelValues(channelID).Inc()
		}
	}

	p.logger.Info("batch processed",
		zap.String("batch_id", batchID),
		zap.String("channel", channelID),
		zap.Int("approved", result.Approved),
		zap.Int("rejected", result.Rejected),
		zap.Int("promoted", result.Promoted),
		zap.Int("deduped", result.Deduped),
	)
	return result, nil
}

// stage wraps each raw sighting as a pending staged record.
func (p *Pipeline) stage(batchID string, batch []harvest.RawSighting) []StagedRecord {
	staged := make([]StagedRecord, 0, len(batch))
	for _, raw := range batch {
		staged = append(staged, StagedRecord{
			RawSighting: raw,
			BatchID:     batchID,
			Status:      StatusPending,
		})
	}
	return staged
}

// wash rejects unusable and out-of-market records. Rejected records are
// kept for audit, never promoted.
func (p *Pipeline) wash(staged []StagedRecord) {
	for i := range staged {
		record := &staged[i]
		if record.DestinationURL == "" && record.AdvertiserHint == "" {
			record.Status = StatusRejected
			record.RejectReason = "no destination url or advertiser hint"
			continue
		}
		if record.DestinationURL != "" && !p.inMarket(record.DestinationURL) {
			record.Status = StatusRejected
			record.RejectReason = "destination outside target market"
			continue
		}
		record.Status = StatusApproved
	}
}

// enrich resolves advertiser identity for approved records lacking a hint.
// Resolution failure attributes the record to "unresolved" rather than
// dropping it.
func (p *Pipeline) enrich(ctx context.Context, staged []StagedRecord) {
	for i := range staged {
		record := &staged[i]
		if record.Status != StatusApproved {
			continue
		}
		if record.AdvertiserHint != "" {
			record.AdvertiserID = record.AdvertiserHint
			continue
		}
		identity, err := p.resolver.Resolve(ctx, record.DestinationURL)
		if err != nil {
			if !errors.Is(err, harvest.ErrIdentityNotFound) {
				p.logger.Warn("identity resolution failed",
					zap.String("url", record.DestinationURL),
					zap.Error(err),
				)
			}
			record.AdvertiserID = UnresolvedAdvertiser
			continue
		}
		record.AdvertiserID = identity.ID
	}
}

// linkAsset stores captured image bytes and returns the reference to keep
// on the canonical row. Storage failure degrades to the original reference.
func (p *Pipeline) linkAsset(ctx context.Context, channelID string, record *StagedRecord) string {
	if len(record.ImageData) == 0 || p.assets == nil {
		return record.AssetRef
	}
	key, err := p.assets.Store(ctx, record.ImageData, channelID, record.CreativeKind)
	if err != nil {
		if !errors.Is(err, harvest.ErrNotImage) {
			p.logger.Warn("asset store failed, promoting without stored asset",
				zap.String("channel", channelID),
				zap.Error(err),
			)
		}
		return record.AssetRef
	}
	return key
}

func (p *Pipeline) publishPromotion(ctx context.Context, channelID string, record *StagedRecord, now time.Time) {
	if p.publisher == nil || p.topic == "" {
		return
	}
	payload := map[string]any{
		"content_hash": record.ContentHash,
		"advertiser":   record.AdvertiserID,
		"channel":      channelID,
		"first_seen":   now.Format(time.RFC3339),
	}
	if _, err := p.publisher.Publish(ctx, p.topic, payload); err != nil {
		p.logger.Warn("publish promotion event failed",
			zap.String("channel", channelID),
			zap.Error(err),
		)
	}
}

func (p *Pipeline) inMarket(destination string) bool {
	if len(p.cfg.MarketDomains) == 0 {
		return true
	}
	parsed, err := url.Parse(destination)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	for _, suffix := range p.cfg.MarketDomains {
		suffix = strings.ToLower(strings.TrimSpace(suffix))
		if suffix == "" {
			continue
		}
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
