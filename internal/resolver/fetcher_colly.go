package resolver

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// LandingPage is the result of following a destination URL.
type LandingPage struct {
	FinalURL   string
	StatusCode int
	Body       []byte
}

// LandingFetcher follows a URL and returns the page it lands on. Fetchers
// are composed as an ordered strategy list; the first non-empty result wins.
type LandingFetcher interface {
	Fetch(ctx context.Context, rawURL string) (LandingPage, error)
}

// CollyFetcher is the cheap first-tier landing fetcher.
type CollyFetcher struct {
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// NewCollyFetcher constructs a configured Colly-based LandingFetcher.
func NewCollyFetcher(userAgent string, timeout time.Duration, logger *zap.Logger) (*CollyFetcher, error) {
	base := colly.NewCollector(
		colly.Async(true),
		colly.UserAgent(userAgent),
	)
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(timeout)

	return &CollyFetcher{
		baseCollector: base,
		logger:        logger,
	}, nil
}

// Fetch follows rawURL through redirects via a cloned collector.
func (f *CollyFetcher) Fetch(ctx context.Context, rawURL string) (LandingPage, error) {
	collector := f.baseCollector.Clone()
	resultCh := make(chan landingResult, 1)
	var once sync.Once
	send := func(res landingResult) {
		once.Do(func() {
			resultCh <- res
		})
	}

	collector.OnResponse(func(r *colly.Response) {
		send(landingResult{page: LandingPage{
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte{}, r.Body...),
		}})
	})

	collector.OnError(func(_ *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		send(landingResult{err: err})
	})

	if err := collector.Visit(rawURL); err != nil {
		return LandingPage{}, err
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return LandingPage{}, err
		}
		return res.page, res.err
	default:
		return LandingPage{}, errors.New("colly fetch produced no result")
	}
}

type landingResult struct {
	page LandingPage
	err  error
}
