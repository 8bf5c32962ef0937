package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  enabled: true
  port: 9090
logging:
  development: false
harvest:
  deadline_seconds: 120
  max_concurrency: 8
  min_observers_per_channel: 3
  query_pacing_ms: 250
  observers:
    - id: obs-1
      age: 34
      gender: f
      interests: ["running", "travel"]
      device: mobile
    - id: obs-2
      age: 52
      gender: m
      device: desktop
channels:
  searchco:
    queries: ["running shoes", "trail shoes"]
    query_timeout_seconds: 20
    soft_timeout_seconds: 90
  socialfeed:
    queries: ["running shoes"]
    query_timeout_seconds: 45
session:
  root: /var/lib/adharvest/sessions
  max_age_days: 7
  sensitive_prefixes: ["sid", "auth"]
resolver:
  budget_seconds: 8
  domain_qps: 2
  infra_domains: ["doubleclick.net", "*.adsrvr.org"]
ingest:
  market_domains: ["example"]
assets:
  root: /var/lib/adharvest/assets
  retention_days: 45
  max_dimension: 1024
catalog:
  dsn: postgres://harvest@localhost/harvest
pubsub:
  project_id: brandsight-prod
  topic_name: promotions
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || !cfg.Server.Enabled {
		t.Fatalf("expected server overrides to apply, got %+v", cfg.Server)
	}
	if cfg.Harvest.MaxConcurrency != 8 || cfg.Harvest.MinObserversPerChannel != 3 {
		t.Fatalf("expected harvest overrides to apply, got %+v", cfg.Harvest)
	}
	if len(cfg.Harvest.Observers) != 2 || cfg.Harvest.Observers[0].ID != "obs-1" {
		t.Fatalf("expected observer pool to be loaded: %+v", cfg.Harvest.Observers)
	}
	if cfg.Harvest.Observers[0].Interests[1] != "travel" {
		t.Fatalf("expected observer interests to be preserved: %+v", cfg.Harvest.Observers[0])
	}
	channel, ok := cfg.Channels["searchco"]
	if !ok || len(channel.Queries) != 2 || channel.QueryTimeoutSeconds != 20 {
		t.Fatalf("expected channel config to be loaded: %+v", cfg.Channels)
	}
	if got := cfg.Deadline(); got != 120*time.Second {
		t.Fatalf("expected deadline 120s, got %v", got)
	}
	if got := cfg.QueryPacing(); got != 250*time.Millisecond {
		t.Fatalf("expected pacing 250ms, got %v", got)
	}
	if got := cfg.SessionMaxAge(); got != 7*24*time.Hour {
		t.Fatalf("expected session max age 7d, got %v", got)
	}
	if cfg.Catalog.DSN == "" || cfg.PubSub.TopicName != "promotions" {
		t.Fatalf("expected catalog/pubsub overrides to apply")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Harvest.MinObserversPerChannel != 2 {
		t.Fatalf("expected default coverage 2, got %d", cfg.Harvest.MinObserversPerChannel)
	}
	if len(cfg.Session.SensitivePrefixes) == 0 {
		t.Fatalf("expected default sensitive prefixes")
	}
	if cfg.Catalog.DSN != "" {
		t.Fatalf("expected memory catalog by default")
	}
}

func TestWorkPlanStableOrder(t *testing.T) {
	t.Parallel()

	cfg := Config{Channels: map[string]ChannelConfig{
		"zeta":  {Queries: []string{"q"}},
		"alpha": {Queries: []string{"q1", "q2"}},
	}}

	plan := cfg.WorkPlan()
	if len(plan.Channels) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(plan.Channels))
	}
	if plan.Channels[0].ChannelID != "alpha" || plan.Channels[1].ChannelID != "zeta" {
		t.Fatalf("expected stable channel order, got %+v", plan.Channels)
	}
	if len(plan.Channels[0].Queries) != 2 {
		t.Fatalf("expected queries preserved, got %+v", plan.Channels[0])
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:   ServerConfig{Port: 8080},
		Harvest:  HarvestConfig{MaxConcurrency: 4, MinObserversPerChannel: 2},
		Session:  SessionConfig{MaxAgeDays: 14},
		Resolver: ResolverConfig{BudgetSeconds: 8, HeadlessMaxParallel: 1},
		Assets:   AssetsConfig{RetentionDays: 30, MaxDimension: 1280},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid concurrency",
			cfg: func() Config {
				c := base
				c.Harvest.MaxConcurrency = 0
				return c
			}(),
			want: "harvest.max_concurrency",
		},
		{
			name: "coverage below minimum",
			cfg: func() Config {
				c := base
				c.Harvest.MinObserversPerChannel = 1
				return c
			}(),
			want: "harvest.min_observers_per_channel",
		},
		{
			name: "invalid session max age",
			cfg: func() Config {
				c := base
				c.Session.MaxAgeDays = 0
				return c
			}(),
			want: "session.max_age_days",
		},
		{
			name: "headless missing max parallel",
			cfg: func() Config {
				c := base
				c.Resolver.HeadlessEnabled = true
				c.Resolver.HeadlessMaxParallel = 0
				return c
			}(),
			want: "resolver.headless_max_parallel",
		},
		{
			name: "invalid retention",
			cfg: func() Config {
				c := base
				c.Assets.RetentionDays = 0
				return c
			}(),
			want: "assets.retention_days",
		},
		{
			name: "pubsub topic without project",
			cfg: func() Config {
				c := base
				c.PubSub.TopicName = "promotions"
				return c
			}(),
			want: "pubsub.project_id",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
