// Package scheduler implements the bounded-time harvest control loop: it
// deals (channel, observer, queries) work units under fairness constraints,
// runs them with bounded concurrency and reports aggregate results.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/brandsight/adharvest/internal/harvest"
	"github.com/brandsight/adharvest/internal/ingest"
	"github.com/brandsight/adharvest/internal/metrics"
)

const (
	defaultMaxConcurrency = 4
	defaultQueryTimeout   = 30 * time.Second
)

// Ingestor is the slice of the ingestion pipeline the scheduler needs.
type Ingestor interface {
	Process(ctx context.Context, channelID string, batch []harvest.RawSighting) (ingest.Result, error)
}

// ChannelConfig holds per-channel execution budgets. Channels with heavier
// per-query cost get a longer QueryTimeout; SoftTimeout caps one unit's
// total wall time on that channel.
type ChannelConfig struct {
	QueryTimeout time.Duration
	SoftTimeout  time.Duration
}

// Config controls scheduler behavior.
type Config struct {
	Deadline               time.Duration
	MaxConcurrency         int
	MinObserversPerChannel int
	QueryPacing            time.Duration
	Observers              []harvest.Observer
	Channels               map[string]ChannelConfig
	// Seed fixes the observer shuffle for reproducible runs; zero seeds
	// from the clock.
	Seed int64
}

// Scheduler fans work units out across channel adapters.
type Scheduler struct {
	adapters map[string]harvest.ChannelAdapter
	sessions harvest.SessionStore
	ingestor Ingestor
	clock    harvest.Clock
	ids      harvest.IDGenerator
	cfg      Config
	rotation *rotation
	logger   *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New constructs a Scheduler over the given adapters.
func New(
	adapters []harvest.ChannelAdapter,
	sessions harvest.SessionStore,
	ingestor Ingestor,
	clock harvest.Clock,
	ids harvest.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}
	if cfg.MinObserversPerChannel <= 0 {
		cfg.MinObserversPerChannel = 2
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = clock.Now().UnixNano()
	}
	byID := make(map[string]harvest.ChannelAdapter, len(adapters))
	for _, a := range adapters {
		byID[a.ChannelID()] = a
	}
	return &Scheduler{
		adapters: byID,
		sessions: sessions,
		ingestor: ingestor,
		clock:    clock,
		ids:      ids,
		cfg:      cfg,
		rotation: newRotation(cfg.Observers, seed),
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Assign deals observers to each channel in the plan and expands the result
// into work units. Every dealt observer carries the channel's full query
// list, so each query is observed under several synthetic identities.
func (s *Scheduler) Assign(plan harvest.WorkPlan) []harvest.WorkUnit {
	var units []harvest.WorkUnit
	for _, channel := range plan.Channels {
		if len(channel.Queries) == 0 {
			continue
		}
		for _, observer := range s.rotation.deal(channel.ChannelID, s.cfg.MinObserversPerChannel) {
			units = append(units, harvest.WorkUnit{
				ChannelID: channel.ChannelID,
				Observer:  observer,
				Queries:   channel.Queries,
				Device:    observer.Device,
			})
		}
	}
	return units
}

// Run executes one scheduling round under the global deadline. It returns
// when every unit finishes or the deadline passes; outstanding units are
// cancelled cooperatively. Partial failures never fail the run; the only
// error is a failure to assign a run id.
func (s *Scheduler) Run(ctx context.Context, plan harvest.WorkPlan) (harvest.HarvestReport, error) {
	runID, err := s.ids.NewID()
	if err != nil {
		return harvest.HarvestReport{}, fmt.Errorf("assign run id: %w", err)
	}
	report := harvest.HarvestReport{
		RunID:     runID,
		StartedAt: s.clock.Now(),
	}

	runCtx := ctx
	if s.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.Deadline)
		defer cancel()
	}

	units := s.Assign(plan)
	s.logger.Info("harvest round started",
		zap.String("run_id", runID),
		zap.Int("units", len(units)),
		zap.Int("channels", len(plan.Channels)),
	)

	results := make([]harvest.UnitReport, len(units))
	sem := make(chan struct{}, s.cfg.MaxConcurrency)
	var wg sync.WaitGroup
	for i, unit := range units {
		wg.Add(1)
		go func(i int, unit harvest.WorkUnit) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-runCtx.Done():
				results[i] = harvest.UnitReport{
					ChannelID:  unit.ChannelID,
					ObserverID: unit.Observer.ID,
					State:      harvest.UnitTimedOut,
					Timeouts:   len(unit.Queries),
				}
				return
			}
			results[i] = s.runUnit(runCtx, unit)
		}(i, unit)
	}
	wg.Wait()

	report.Units = results
	for _, u := range results {
		report.Sightings += u.Sightings
		report.Promoted += u.Promoted
		report.Deduped += u.Deduped
		report.Rejected += u.Rejected
		report.Errors += u.Errors
	}
	report.FinishedAt = s.clock.Now()
	s.logger.Info("harvest round finished",
		zap.String("run_id", runID),
		zap.Int("sightings", report.Sightings),
		zap.Int("promoted", report.Promoted),
		zap.Int("deduped", report.Deduped),
		zap.Int("errors", report.Errors),
	)
	return report, nil
}

// runUnit drives one work unit through its query list. Adapter errors and
// query timeouts skip to the next query; they never abort the unit, and a
// unit never aborts the round.
func (s *Scheduler) runUnit(ctx context.Context, unit harvest.WorkUnit) harvest.UnitReport {
	result := harvest.UnitReport{
		ChannelID:  unit.ChannelID,
		ObserverID: unit.Observer.ID,
		State:      harvest.UnitRunning,
	}
	adapter, ok := s.adapters[unit.ChannelID]
	if !ok {
		s.logger.Error("no adapter registered for channel", zap.String("channel", unit.ChannelID))
		result.State = harvest.UnitFailed
		result.Errors++
		return result
	}

	channelCfg := s.cfg.Channels[unit.ChannelID]
	unitCtx := ctx
	if channelCfg.SoftTimeout > 0 {
		var cancel context.CancelFunc
		unitCtx, cancel = context.WithTimeout(ctx, channelCfg.SoftTimeout)
		defer cancel()
	}

	session, err := s.sessions.Load(unit.Observer.ID, unit.ChannelID)
	if err != nil {
		s.logger.Warn("session load failed, starting cold",
			zap.String("observer", unit.Observer.ID),
			zap.String("channel", unit.ChannelID),
			zap.Error(err),
		)
		session = nil
	}

	var (
		collected []harvest.RawSighting
		succeeded int
		timedOut  bool
	)
	limiter := s.channelLimiter(unit.ChannelID)
	for _, query := range unit.Queries {
		if unitCtx.Err() != nil {
			timedOut = true
			result.Timeouts++
			continue
		}
		if limiter != nil {
			if err := limiter.Wait(unitCtx); err != nil {
				timedOut = true
				result.Timeouts++
				continue
			}
		}
		sightings, cookies, err := s.crawlQuery(unitCtx, adapter, unit, query, session, channelCfg.QueryTimeout)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				result.Timeouts++
				metrics.QueryTimeoutsTotal.WithLabelValues(unit.ChannelID).Inc()
			} else {
				result.Errors++
				metrics.AdapterErrorsTotal.WithLabelValues(unit.ChannelID).Inc()
			}
			s.logger.Warn("query skipped",
				zap.String("channel", unit.ChannelID),
				zap.String("observer", unit.Observer.ID),
				zap.String("query", query),
				zap.Error(err),
			)
			continue
		}
		succeeded++
		collected = append(collected, sightings...)
		if cookies != nil {
			session = cookies
		}
	}

	if err := s.sessions.Save(unit.Observer.ID, unit.ChannelID, session); err != nil {
		s.logger.Warn("session save failed, next run starts cold",
			zap.String("observer", unit.Observer.ID),
			zap.String("channel", unit.ChannelID),
			zap.Error(err),
		)
	}

	result.Sightings = len(collected)
	metrics.SightingsTotal.WithLabelValues(unit.ChannelID).Add(float64(len(collected)))

	if len(collected) > 0 {
		outcome, err := s.ingestor.Process(ctx, unit.ChannelID, collected)
		if err != nil {
			result.Errors++
			s.logger.Error("ingestion failed",
				zap.String("channel", unit.ChannelID),
				zap.Error(err),
			)
		} else {
			result.Promoted = outcome.Promoted
			result.Deduped = outcome.Deduped
			result.Rejected = outcome.Rejected
		}
	}

	switch {
	case timedOut:
		result.State = harvest.UnitTimedOut
	case succeeded == 0 && result.Errors > 0:
		result.State = harvest.UnitFailed
	default:
		result.State = harvest.UnitCompleted
	}
	return result
}

// crawlQuery runs a single adapter call under the channel's per-query budget.
func (s *Scheduler) crawlQuery(
	ctx context.Context,
	adapter harvest.ChannelAdapter,
	unit harvest.WorkUnit,
	query string,
	session []harvest.Cookie,
	timeout time.Duration,
) ([]harvest.RawSighting, []harvest.Cookie, error) {
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sightings, cookies, err := adapter.Crawl(queryCtx, query, unit.Observer, unit.Device, session)
	if err != nil {
		if queryCtx.Err() != nil {
			return nil, nil, context.DeadlineExceeded
		}
		return nil, nil, fmt.Errorf("crawl %q: %w", query, err)
	}
	return sightings, cookies, nil
}

func (s *Scheduler) channelLimiter(channelID string) *rate.Limiter {
	if s.cfg.QueryPacing <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.limiters[channelID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(s.cfg.QueryPacing), 1)
		s.limiters[channelID] = limiter
	}
	return limiter
}
