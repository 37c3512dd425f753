package usecase

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	streamsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tgfs_streams_total",
		Help: "Streams served, by outcome (done, aborted, failed).",
	}, []string{"outcome"})

	streamBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tgfs_stream_bytes_total",
		Help: "Total bytes written to HTTP response bodies.",
	})

	activeStreamsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tgfs_active_streams",
		Help: "Streams currently registered as in flight.",
	})

	staleStreamsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tgfs_stale_streams_reaped_total",
		Help: "Streams cancelled by the stale-stream reaper.",
	})

	locatorCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tgfs_locator_cache_hits_total",
		Help: "Locator cache hits.",
	})

	locatorCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tgfs_locator_cache_misses_total",
		Help: "Locator cache misses.",
	})

	chunkRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tgfs_chunk_retries_total",
		Help: "Transient chunk fetch retries.",
	})

	dcMigrationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tgfs_dc_migrations_total",
		Help: "Auth-migration redirects followed during chunk fetches.",
	})
)
