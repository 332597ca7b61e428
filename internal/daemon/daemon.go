// Package daemon composes the overlay merge engine with the ambient
// reliability and observability services that surround it in a running
// ShadowFS process: recovery-protected source I/O, a Prometheus metrics
// collector, health and status tracking exposed over HTTP, and a
// background memory monitor. This is the single place that turns the
// library packages under internal/ and pkg/ into one running service,
// the way internal/adapter ties ObjectFS's storage backend, cache, and
// mount manager together.
package daemon

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shadowfs/shadowfs/internal/bridge"
	"github.com/shadowfs/shadowfs/internal/circuit"
	"github.com/shadowfs/shadowfs/internal/config"
	"github.com/shadowfs/shadowfs/internal/lockmgr"
	"github.com/shadowfs/shadowfs/internal/metrics"
	"github.com/shadowfs/shadowfs/internal/overlay"
	"github.com/shadowfs/shadowfs/internal/persistence"
	"github.com/shadowfs/shadowfs/internal/store"
	"github.com/shadowfs/shadowfs/pkg/api"
	"github.com/shadowfs/shadowfs/pkg/health"
	"github.com/shadowfs/shadowfs/pkg/memmon"
	"github.com/shadowfs/shadowfs/pkg/recovery"
	"github.com/shadowfs/shadowfs/pkg/retry"
	"github.com/shadowfs/shadowfs/pkg/status"
	"github.com/shadowfs/shadowfs/pkg/utils"
)

// componentSource, componentBridge, and componentStore name the
// health/recovery components this daemon tracks. They must match the
// component argument LocalSource passes to its recovery manager.
const (
	componentSource = "source"
	componentBridge = "bridge"
	componentStore  = "store"
)

// Daemon owns every long-lived service a mounted ShadowFS instance
// needs besides the platform kernel bridge itself: the merge engine,
// its recovery-protected source, metrics/health/status tracking, the
// ops HTTP server, and a memory monitor.
type Daemon struct {
	cfg *config.Configuration

	Engine *overlay.Engine

	store    *store.OverrideStore
	locks    *lockmgr.Manager
	callback *bridge.Bridge
	persist  *persistence.Manager
	source   *overlay.LocalSource

	recovery *recovery.RecoveryManager
	metrics  *metrics.Collector
	health   *health.Tracker
	status   *status.Tracker
	api      *api.Server
	memmon   *memmon.MemoryMonitor
	logger   *utils.StructuredLogger

	healthStop chan struct{}
}

// New builds every component a Daemon owns from cfg, projecting the
// overlay over sourceRoot. Nothing is started; call Start to bring the
// background services up.
func New(cfg *config.Configuration, sourceRoot string) (*Daemon, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level, lerr := utils.ParseLogLevel(cfg.Global.LogLevel)
	if lerr != nil {
		level = utils.INFO
	}
	logger, err := utils.NewStructuredLogger(&utils.StructuredLoggerConfig{
		Level:  level,
		Output: os.Stdout,
		Format: utils.FormatJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	maxMemory := parseByteSize(cfg.Performance.CacheSize)
	overrideStore, err := store.NewBuilder().
		WithMemoryLimit(maxMemory).
		WithEvictionPolicy(store.ParsePolicy(cfg.Store.EvictionPolicy)).
		WithCompression(cfg.Performance.CompressionEnabled, parseByteSize(cfg.Persistence.Compression.MinSize)).
		WithCacheSize(cfg.Store.MaxEntries).
		WithPrefetchStrategy(store.PrefetchChildren).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build override store: %w", err)
	}

	locks := lockmgr.New()

	callbackBridge := bridge.New(bridge.Config{
		Workers:        cfg.Performance.BridgeWorkers,
		DefaultTimeout: cfg.Network.Timeouts.Write,
		MaxRetries:     cfg.Network.Retry.MaxAttempts,
		Retry: retry.Config{
			MaxAttempts:  cfg.Network.Retry.MaxAttempts,
			InitialDelay: cfg.Network.Retry.BaseDelay,
			MaxDelay:     cfg.Network.Retry.MaxDelay,
			Multiplier:   2.0,
			Jitter:       true,
		},
	})

	var persist *persistence.Manager
	if cfg.Store.Snapshot.Enabled {
		persist, err = persistence.NewManager(persistence.Config{
			SnapshotPath:     cfg.Store.Snapshot.Directory + "/snapshot.bin",
			WALPath:          cfg.Store.Snapshot.Directory + "/wal.log",
			CompressSnapshot: cfg.Persistence.Compression.Enabled,
			BatchWindow:      cfg.Persistence.FlushInterval,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize persistence: %w", err)
		}
	}

	recoveryMgr := recovery.NewRecoveryManager(recovery.RecoveryConfig{
		DefaultStrategy: recovery.StrategyRetry,
		RetryConfig: retry.Config{
			MaxAttempts:  cfg.Network.Retry.MaxAttempts,
			InitialDelay: cfg.Network.Retry.BaseDelay,
			MaxDelay:     cfg.Network.Retry.MaxDelay,
			Multiplier:   2.0,
			Jitter:       true,
		},
		CircuitBreakerConfig: circuitConfigFrom(cfg.Network.CircuitBreaker),
		EnableAutoRecovery:   true,
		MaxRecoveryAttempts:  3,
		RecoveryBackoff:      cfg.Network.CircuitBreaker.Timeout,
		Logger:               logger,
	})

	source := overlay.NewLocalSource(sourceRoot).WithRecovery(recoveryMgr)

	metricsCollector, err := metrics.NewCollector(&metrics.Config{
		Enabled:        cfg.Monitoring.Metrics.Enabled && cfg.Monitoring.Metrics.Prometheus,
		Port:           cfg.Global.MetricsPort,
		Path:           "/metrics",
		Namespace:      "shadowfs",
		UpdateInterval: 30 * time.Second,
		Labels:         cfg.Monitoring.Metrics.CustomLabels,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics collector: %w", err)
	}

	engine := overlay.New(overlay.Config{
		Store:         overrideStore,
		Locks:         locks,
		Bridge:        callbackBridge,
		Source:        source,
		Persist:       persist,
		Metrics:       metricsCollector,
		CaseSensitive: true,
	})

	healthTracker := health.NewTracker(health.TrackerConfig{
		ErrorThreshold:       3,
		UnavailableThreshold: 10,
		RecoveryThreshold:    5,
		HealthCheckInterval:  cfg.Monitoring.HealthChecks.Interval,
		StateHistorySize:     100,
		EnableAutoRecovery:   true,
	})
	healthTracker.RegisterComponent(componentSource)
	healthTracker.RegisterComponent(componentBridge)
	healthTracker.RegisterComponent(componentStore)

	statusTracker := status.NewTracker(status.DefaultTrackerConfig())

	apiServer := api.NewServer(api.ServerConfig{
		Address:       fmt.Sprintf(":%d", cfg.Global.HealthPort),
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  10 * time.Second,
		IdleTimeout:   60 * time.Second,
		EnableCORS:    true,
		EnableMetrics: cfg.Monitoring.Metrics.Enabled,
	}, statusTracker, healthTracker)

	memMonitor := memmon.NewMemoryMonitor(memmon.MonitorConfig{
		SampleInterval:   30 * time.Second,
		AlertThreshold:   20.0,
		MaxSamples:       100,
		EnableGCStats:    true,
		EnableStackTrace: false,
		GCPercentage:     100,
		Logger:           logger,
	})

	return &Daemon{
		cfg:      cfg,
		Engine:   engine,
		store:    overrideStore,
		locks:    locks,
		callback: callbackBridge,
		persist:  persist,
		source:   source,
		recovery: recoveryMgr,
		metrics:  metricsCollector,
		health:   healthTracker,
		status:   statusTracker,
		api:      apiServer,
		memmon:   memMonitor,
		logger:   logger,
	}, nil
}

// Start brings up every background service: the metrics/ops HTTP
// server, the memory monitor, and the periodic store-health poll that
// feeds the health tracker and the metrics gauges from live store and
// bridge statistics.
func (d *Daemon) Start(ctx context.Context) error {
	if d.cfg.Monitoring.Metrics.Enabled {
		if err := d.metrics.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics collector: %w", err)
		}
	}

	if err := d.memmon.Start(ctx); err != nil {
		return fmt.Errorf("failed to start memory monitor: %w", err)
	}

	d.api.StartBackground()

	d.healthStop = make(chan struct{})
	go d.pollLoop(ctx, d.cfg.Monitoring.HealthChecks.Interval)

	return nil
}

// Stop drains the background services in reverse dependency order.
func (d *Daemon) Stop(ctx context.Context) error {
	if d.healthStop != nil {
		close(d.healthStop)
	}

	var lastErr error
	if err := d.api.Shutdown(ctx); err != nil {
		lastErr = err
	}
	if err := d.memmon.Stop(); err != nil {
		lastErr = err
	}
	if d.cfg.Monitoring.Metrics.Enabled {
		if err := d.metrics.Stop(ctx); err != nil {
			lastErr = err
		}
	}
	if err := d.recovery.Shutdown(ctx); err != nil {
		lastErr = err
	}
	d.callback.Shutdown()
	if d.persist != nil {
		if err := d.persist.Close(); err != nil {
			lastErr = err
		}
	}

	return lastErr
}

// pollLoop periodically folds the override store's own statistics and
// the bridge's backpressure into the health tracker and the metrics
// gauges, until ctx is cancelled or Stop closes healthStop.
func (d *Daemon) pollLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.healthStop:
			return
		case <-ticker.C:
			d.poll()
		}
	}
}

func (d *Daemon) poll() {
	report := d.store.HealthCheck()
	if report.Status == store.Healthy {
		d.health.RecordSuccess(componentStore)
	} else {
		d.health.RecordError(componentStore, fmt.Errorf("%s: %s", report.Status, strings.Join(report.Issues, "; ")))
	}

	if d.callback.Backpressure() > 0 {
		d.health.RecordError(componentBridge, fmt.Errorf("bridge backpressure: %d pending", d.callback.Backpressure()))
	} else {
		d.health.RecordSuccess(componentBridge)
	}

	snap := d.store.Stats()
	if d.cfg.Monitoring.Metrics.Enabled {
		d.metrics.UpdateCacheSize("override", snap.MemoryBytes)
	}
}

// parseByteSize parses a human-readable size string ("2GB", "512MB",
// "10KB") into bytes, defaulting to 1GB on anything it can't parse.
func parseByteSize(sizeStr string) int64 {
	sizeStr = strings.ToUpper(strings.TrimSpace(sizeStr))

	multiplier := int64(1)
	numStr := sizeStr
	switch {
	case strings.HasSuffix(sizeStr, "GB"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(sizeStr, "GB")
	case strings.HasSuffix(sizeStr, "MB"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(sizeStr, "MB")
	case strings.HasSuffix(sizeStr, "KB"):
		multiplier = 1024
		numStr = strings.TrimSuffix(sizeStr, "KB")
	case strings.HasSuffix(sizeStr, "B"):
		numStr = strings.TrimSuffix(sizeStr, "B")
	}

	n, err := strconv.ParseInt(strings.TrimSpace(numStr), 10, 64)
	if err != nil || n <= 0 {
		return 1024 * 1024 * 1024
	}
	return n * multiplier
}

// circuitConfigFrom translates the config package's declarative circuit
// breaker settings into the internal/circuit package's Config. A
// disabled breaker still gets a Config; recovery.RecoveryManager's own
// strategy selection (determineStrategy), not this Config, decides
// whether the breaker is ever consulted.
func circuitConfigFrom(cfg config.CircuitBreakerConfig) circuit.Config {
	threshold := uint32(cfg.FailureThreshold)
	if threshold == 0 {
		threshold = 5
	}
	return circuit.Config{
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts circuit.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
	}
}
