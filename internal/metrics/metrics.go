// Package metrics exposes prometheus counters for harvest and ingest health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SightingsTotal counts raw sightings emitted by channel adapters.
	SightingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adharvest_sightings_total",
		Help: "Raw sightings collected, by channel.",
	}, []string{"channel"})
	// PromotedTotal counts new canonical sightings created.
	PromotedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adharvest_promoted_total",
		Help: "Canonical sightings promoted, by channel.",
	}, []string{"channel"})
	// DedupedTotal counts sightings collapsed into an existing canonical row.
	DedupedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adharvest_deduped_total",
		Help: "Sightings recognized as rediscoveries, by channel.",
	}, []string{"channel"})
	// RejectedTotal counts sightings rejected during the wash stage.
	RejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adharvest_rejected_total",
		Help: "Sightings rejected during validation, by channel.",
	}, []string{"channel"})
	// AdapterErrorsTotal counts non-fatal channel adapter failures.
	AdapterErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adharvest_adapter_errors_total",
		Help: "Channel adapter errors, by channel.",
	}, []string{"channel"})
	// QueryTimeoutsTotal counts per-query timeouts.
	QueryTimeoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adharvest_query_timeouts_total",
		Help: "Queries abandoned on timeout, by channel.",
	}, []string{"channel"})
	// ResolverLookupsTotal counts identity resolutions by outcome.
	ResolverLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adharvest_resolver_lookups_total",
		Help: "Identity resolver lookups, by outcome (hit, resolved, notfound).",
	}, []string{"outcome"})
	// AssetsStoredTotal counts creative assets written to the asset store.
	AssetsStoredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "adharvest_assets_stored_total",
		Help: "Creative assets transcoded and stored.",
	})
)
