package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/brandsight/adharvest/internal/assets"
	"github.com/brandsight/adharvest/internal/harvest"
)

// contentHash fingerprints a sighting. When the record carries captured
// image bytes the hash covers the decoded pixel content; otherwise it covers
// (advertiser, normalized creative text, destination URL).
func contentHash(record harvest.RawSighting, advertiserID string) (string, error) {
	if len(record.ImageData) > 0 {
		hash, err := assets.PixelHash(record.ImageData)
		if err == nil {
			return hash, nil
		}
		// Unusable image bytes fall through to the text hash.
	}
	sum := sha256.Sum256([]byte(strings.Join([]string{
		advertiserID,
		normalizeText(record.CreativeText),
		record.DestinationURL,
	}, "\x1f")))
	return hex.EncodeToString(sum[:]), nil
}

// normalizeText lowercases and collapses runs of whitespace so cosmetic
// reflowing by a channel does not defeat dedup.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
