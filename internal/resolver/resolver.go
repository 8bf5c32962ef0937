// Package resolver turns opaque destination URLs into stable advertiser
// identities, memoized by registrable domain.
package resolver

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/brandsight/adharvest/internal/harvest"
	"github.com/brandsight/adharvest/internal/metrics"
)

// Config controls resolver behavior.
type Config struct {
	// Budget bounds one resolution end to end.
	Budget time.Duration
	// DomainQPS throttles navigations per destination domain.
	DomainQPS float64
	// InfraDomains lists ad-network/shortener/platform domains that are
	// never a real destination. Supports "*.suffix" wildcards.
	InfraDomains []string
}

// Resolver implements harvest.Resolver over an ordered list of landing
// fetch strategies and a read-through identity cache.
type Resolver struct {
	infra          *infraDomainMatcher
	cache          *identityCache
	strategies     []LandingFetcher
	budget         time.Duration
	domainQPS      float64
	domainLimiters sync.Map
	logger         *zap.Logger
}

// New constructs a Resolver. Strategies are tried in order per resolution;
// the first usable landing page wins.
func New(cfg Config, strategies []LandingFetcher, logger *zap.Logger) *Resolver {
	budget := cfg.Budget
	if budget <= 0 {
		budget = 8 * time.Second
	}
	return &Resolver{
		infra:      newInfraDomainMatcher(cfg.InfraDomains),
		cache:      newIdentityCache(),
		strategies: strategies,
		budget:     budget,
		domainQPS:  cfg.DomainQPS,
		logger:     logger,
	}
}

// Resolve maps a destination URL to an advertiser identity. Infrastructure
// domains, failed navigations, unresolved redirects and empty extractions
// all return harvest.ErrIdentityNotFound, which is never cached.
func (r *Resolver) Resolve(ctx context.Context, destinationURL string) (harvest.AdvertiserIdentity, error) {
	host, err := hostOf(destinationURL)
	if err != nil {
		return harvest.AdvertiserIdentity{}, fmt.Errorf("parse destination: %w", err)
	}
	if r.infra.IsInfra(host) {
		metrics.ResolverLookupsTotal.WithLabelValues("notfound").Inc()
		return harvest.AdvertiserIdentity{}, harvest.ErrIdentityNotFound
	}

	domain := registrableLabelDomain(host)
	if identity, ok := r.cache.Get(domain); ok {
		metrics.ResolverLookupsTotal.WithLabelValues("hit").Inc()
		return identity, nil
	}

	page, finalHost, err := r.follow(ctx, destinationURL)
	if err != nil {
		r.logger.Debug("landing navigation failed",
			zap.String("url", destinationURL),
			zap.Error(err),
		)
		metrics.ResolverLookupsTotal.WithLabelValues("notfound").Inc()
		return harvest.AdvertiserIdentity{}, harvest.ErrIdentityNotFound
	}
	if r.infra.IsInfra(finalHost) {
		// Redirect chain never left the delivery infrastructure.
		metrics.ResolverLookupsTotal.WithLabelValues("notfound").Inc()
		return harvest.AdvertiserIdentity{}, harvest.ErrIdentityNotFound
	}

	finalDomain := registrableLabelDomain(finalHost)
	name := extractBrand(page.Body, finalDomain)
	if name == "" {
		metrics.ResolverLookupsTotal.WithLabelValues("notfound").Inc()
		return harvest.AdvertiserIdentity{}, harvest.ErrIdentityNotFound
	}

	identity := harvest.AdvertiserIdentity{
		ID:            finalDomain,
		CanonicalName: name,
		KnownDomains:  knownDomains(domain, finalDomain),
	}
	if conflict := r.cache.Put(finalDomain, identity); conflict {
		r.logger.Warn("identity cache conflict, last write wins",
			zap.String("domain", finalDomain),
			zap.String("name", name),
		)
	}
	if finalDomain != domain {
		r.cache.Put(domain, identity)
	}
	metrics.ResolverLookupsTotal.WithLabelValues("resolved").Inc()
	return identity, nil
}

// CacheSize reports how many domains have been memoized.
func (r *Resolver) CacheSize() int {
	return r.cache.Len()
}

func (r *Resolver) follow(ctx context.Context, rawURL string) (LandingPage, string, error) {
	navCtx, cancel := context.WithTimeout(ctx, r.budget)
	defer cancel()

	if err := r.waitDomainBudget(navCtx, rawURL); err != nil {
		return LandingPage{}, "", err
	}

	var lastErr error
	for _, strategy := range r.strategies {
		page, err := strategy.Fetch(navCtx, rawURL)
		if err != nil {
			lastErr = err
			continue
		}
		if page.StatusCode >= 400 {
			lastErr = fmt.Errorf("landing status %d", page.StatusCode)
			continue
		}
		finalHost, err := hostOf(page.FinalURL)
		if err != nil {
			lastErr = err
			continue
		}
		if looksJSOnly(page.Body) {
			// Thin shell page; let a heavier strategy try before accepting.
			lastErr = fmt.Errorf("page requires javascript")
			continue
		}
		return page, finalHost, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no landing strategies configured")
	}
	return LandingPage{}, "", lastErr
}

func (r *Resolver) waitDomainBudget(ctx context.Context, rawURL string) error {
	if r.domainQPS <= 0 {
		return nil
	}
	host, err := hostOf(rawURL)
	if err != nil {
		return fmt.Errorf("parse url for rate limit: %w", err)
	}
	val, _ := r.domainLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(r.domainQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	return nil
}

const jsOnlyMaxBytes = 512

// looksJSOnly flags shell pages whose markup only materializes client-side.
func looksJSOnly(body []byte) bool {
	if len(body) == 0 {
		return true
	}
	if len(body) < jsOnlyMaxBytes && bytes.Contains(bytes.ToLower(body), []byte("<noscript")) {
		return true
	}
	return false
}

var copyrightOwner = regexp.MustCompile(`(?:©|\(c\)|&copy;|copyright)\s*(?:\d{4}(?:\s*[-–]\s*\d{4})?)?\s*(?:by\s+)?([A-Za-z0-9][A-Za-z0-9 .,&'\-]{1,60}?)(?:\.|,|\s+all rights|\s+\d{4}|$)`)

// extractBrand pulls a brand name from landing markup with fixed precedence:
// structured site-name metadata, then a copyright/footer owner string, then
// author metadata, then the registrable domain label as last resort.
func extractBrand(body []byte, fallbackDomain string) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return labelFromDomain(fallbackDomain)
	}

	if name := metaContent(doc, `meta[property="og:site_name"]`); name != "" {
		return name
	}
	if name := metaContent(doc, `meta[name="application-name"]`); name != "" {
		return name
	}
	if name := footerOwner(doc); name != "" {
		return name
	}
	if name := metaContent(doc, `meta[name="author"]`); name != "" {
		return name
	}
	return labelFromDomain(fallbackDomain)
}

func metaContent(doc *goquery.Document, selector string) string {
	content, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(content)
}

func footerOwner(doc *goquery.Document) string {
	var owner string
	doc.Find("footer, .footer, #footer, small").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := strings.TrimSpace(sel.Text())
		if text == "" {
			return true
		}
		m := copyrightOwner.FindStringSubmatch(strings.ToLower(text))
		if m == nil {
			return true
		}
		// Re-extract from the original casing using the lowercase offsets.
		idx := copyrightOwner.FindStringSubmatchIndex(strings.ToLower(text))
		if idx == nil || idx[2] < 0 {
			return true
		}
		owner = strings.TrimSpace(text[idx[2]:idx[3]])
		return owner == ""
	})
	return owner
}

func hostOf(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	return host, nil
}

// registrableLabelDomain trims common prefixes and keeps the registrable
// tail of the host. Heuristic, not PSL-exact; good enough for identity keys.
func registrableLabelDomain(host string) string {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return host
	}
	// Keep three labels for two-part public suffixes like co.uk.
	switch parts[len(parts)-2] {
	case "co", "com", "net", "org", "gov", "ac", "edu":
		return strings.Join(parts[len(parts)-3:], ".")
	}
	return strings.Join(parts[len(parts)-2:], ".")
}

func labelFromDomain(domain string) string {
	label := domain
	if i := strings.IndexByte(label, '.'); i > 0 {
		label = label[:i]
	}
	if label == "" {
		return ""
	}
	return strings.ToUpper(label[:1]) + label[1:]
}

func knownDomains(domains ...string) []string {
	seen := make(map[string]struct{}, len(domains))
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}
