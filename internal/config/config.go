// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/brandsight/adharvest/internal/harvest"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig             `mapstructure:"server"`
	Logging  LoggingConfig            `mapstructure:"logging"`
	Harvest  HarvestConfig            `mapstructure:"harvest"`
	Channels map[string]ChannelConfig `mapstructure:"channels"`
	Session  SessionConfig            `mapstructure:"session"`
	Resolver ResolverConfig           `mapstructure:"resolver"`
	Ingest   IngestConfig             `mapstructure:"ingest"`
	Assets   AssetsConfig             `mapstructure:"assets"`
	Catalog  CatalogConfig            `mapstructure:"catalog"`
	PubSub   PubSubConfig             `mapstructure:"pubsub"`
}

// ServerConfig controls the health/metrics HTTP surface.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// HarvestConfig governs the scheduler round.
type HarvestConfig struct {
	DeadlineSeconds        int                `mapstructure:"deadline_seconds"`
	MaxConcurrency         int                `mapstructure:"max_concurrency"`
	MinObserversPerChannel int                `mapstructure:"min_observers_per_channel"`
	QueryPacingMs          int                `mapstructure:"query_pacing_ms"`
	Observers              []harvest.Observer `mapstructure:"observers"`
}

// ChannelConfig holds per-channel query lists and execution budgets.
// Channels with heavier per-query cost get a longer query timeout.
type ChannelConfig struct {
	Queries             []string `mapstructure:"queries"`
	QueryTimeoutSeconds int      `mapstructure:"query_timeout_seconds"`
	SoftTimeoutSeconds  int      `mapstructure:"soft_timeout_seconds"`
}

// SessionConfig controls observer session persistence.
type SessionConfig struct {
	Root              string   `mapstructure:"root"`
	MaxAgeDays        int      `mapstructure:"max_age_days"`
	SensitivePrefixes []string `mapstructure:"sensitive_prefixes"`
}

// ResolverConfig governs advertiser identity resolution.
type ResolverConfig struct {
	BudgetSeconds          int      `mapstructure:"budget_seconds"`
	DomainQPS              float64  `mapstructure:"domain_qps"`
	InfraDomains           []string `mapstructure:"infra_domains"`
	HeadlessEnabled        bool     `mapstructure:"headless_enabled"`
	HeadlessMaxParallel    int      `mapstructure:"headless_max_parallel"`
	HeadlessTimeoutSeconds int      `mapstructure:"headless_timeout_seconds"`
	UserAgent              string   `mapstructure:"user_agent"`
}

// IngestConfig controls the wash stage's market filter.
type IngestConfig struct {
	MarketDomains []string `mapstructure:"market_domains"`
}

// AssetsConfig sets creative asset storage behavior.
type AssetsConfig struct {
	Root          string `mapstructure:"root"`
	RetentionDays int    `mapstructure:"retention_days"`
	MaxDimension  int    `mapstructure:"max_dimension"`
	GCSBucket     string `mapstructure:"gcs_bucket"`
}

// CatalogConfig controls access to the canonical store. An empty DSN selects
// the in-process memory store.
type CatalogConfig struct {
	DSN string `mapstructure:"dsn"`
}

// PubSubConfig holds metadata for promotion event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ADHARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("harvest.deadline_seconds", 300)
	v.SetDefault("harvest.max_concurrency", 4)
	v.SetDefault("harvest.min_observers_per_channel", 2)
	v.SetDefault("harvest.query_pacing_ms", 500)
	v.SetDefault("session.root", "./sessions")
	v.SetDefault("session.max_age_days", 14)
	v.SetDefault("session.sensitive_prefixes", []string{"sid", "sess", "auth", "token", "csrf", "oauth"})
	v.SetDefault("resolver.budget_seconds", 8)
	v.SetDefault("resolver.domain_qps", 1.0)
	v.SetDefault("resolver.headless_enabled", false)
	v.SetDefault("resolver.headless_max_parallel", 1)
	v.SetDefault("resolver.headless_timeout_seconds", 25)
	v.SetDefault("resolver.user_agent", "adharvest-bot/0.1")
	v.SetDefault("assets.root", "./assets")
	v.SetDefault("assets.retention_days", 30)
	v.SetDefault("assets.max_dimension", 1280)
}

// Validate enforces required values and reasonable limits. Violations are
// fatal: the run aborts before any work unit starts.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Harvest.MaxConcurrency <= 0 {
		return fmt.Errorf("harvest.max_concurrency must be > 0")
	}
	if c.Harvest.MinObserversPerChannel < 2 {
		return fmt.Errorf("harvest.min_observers_per_channel must be >= 2")
	}
	if c.Session.MaxAgeDays <= 0 {
		return fmt.Errorf("session.max_age_days must be > 0")
	}
	if c.Resolver.BudgetSeconds <= 0 {
		return fmt.Errorf("resolver.budget_seconds must be > 0")
	}
	if c.Resolver.HeadlessEnabled && c.Resolver.HeadlessMaxParallel <= 0 {
		return fmt.Errorf("resolver.headless_max_parallel must be > 0 when headless is enabled")
	}
	if c.Assets.RetentionDays <= 0 {
		return fmt.Errorf("assets.retention_days must be > 0")
	}
	if c.Assets.MaxDimension <= 0 {
		return fmt.Errorf("assets.max_dimension must be > 0")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	for id, channel := range c.Channels {
		if channel.QueryTimeoutSeconds < 0 || channel.SoftTimeoutSeconds < 0 {
			return fmt.Errorf("channels.%s timeouts must be >= 0", id)
		}
	}
	return nil
}

// Deadline converts the global deadline into a duration.
func (c Config) Deadline() time.Duration {
	return time.Duration(c.Harvest.DeadlineSeconds) * time.Second
}

// QueryPacing converts the inter-query pacing delay into a duration.
func (c Config) QueryPacing() time.Duration {
	return time.Duration(c.Harvest.QueryPacingMs) * time.Millisecond
}

// SessionMaxAge converts session.max_age_days into a duration.
func (c Config) SessionMaxAge() time.Duration {
	return time.Duration(c.Session.MaxAgeDays) * 24 * time.Hour
}

// AssetRetention converts assets.retention_days into a duration.
func (c Config) AssetRetention() time.Duration {
	return time.Duration(c.Assets.RetentionDays) * 24 * time.Hour
}

// ResolverBudget converts resolver.budget_seconds into a duration.
func (c Config) ResolverBudget() time.Duration {
	return time.Duration(c.Resolver.BudgetSeconds) * time.Second
}

// WorkPlan builds the scheduler work plan from the configured channels, in
// stable channel order.
func (c Config) WorkPlan() harvest.WorkPlan {
	ids := make([]string, 0, len(c.Channels))
	for id := range c.Channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var plan harvest.WorkPlan
	for _, id := range ids {
		plan.Channels = append(plan.Channels, harvest.ChannelPlan{
			ChannelID: id,
			Queries:   c.Channels[id].Queries,
		})
	}
	return plan
}
