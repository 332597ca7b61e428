package overlay

import (
	"github.com/shadowfs/shadowfs/internal/bridge"
	"github.com/shadowfs/shadowfs/internal/lockmgr"
	"github.com/shadowfs/shadowfs/internal/metrics"
	"github.com/shadowfs/shadowfs/internal/persistence"
	"github.com/shadowfs/shadowfs/internal/rules"
	"github.com/shadowfs/shadowfs/internal/store"
)

// Engine is the overlay merge engine: the single core that both platform
// kernel bridges (go-fuse and cgofuse) translate their callback shapes
// into calls on.
type Engine struct {
	store   *store.OverrideStore
	locks   *lockmgr.Manager
	bridge  *bridge.Bridge
	source  *LocalSource
	handles *HandleTable
	persist *persistence.Manager
	rules   *rules.Engine
	metrics *metrics.Collector

	caseSensitive bool
}

// Config configures a new Engine.
type Config struct {
	Store         *store.OverrideStore
	Locks         *lockmgr.Manager
	Bridge        *bridge.Bridge
	Source        *LocalSource
	Persist       *persistence.Manager  // optional
	Rules         *rules.Engine         // optional
	Metrics       *metrics.Collector    // optional; nil disables operation metrics
	CaseSensitive bool
}

// New constructs an Engine from its already-built components.
func New(cfg Config) *Engine {
	e := &Engine{
		store:         cfg.Store,
		locks:         cfg.Locks,
		bridge:        cfg.Bridge,
		source:        cfg.Source,
		persist:       cfg.Persist,
		rules:         cfg.Rules,
		metrics:       cfg.Metrics,
		caseSensitive: cfg.CaseSensitive,
	}
	e.handles = newHandleTable(e)
	return e
}

// Locks exposes the engine's lock manager to callers that need
// byte-range locking (e.g. a platform bridge handling F_SETLK).
func (e *Engine) Locks() *lockmgr.Manager { return e.locks }

// Bridge exposes the engine's async callback dispatcher.
func (e *Engine) Bridge() *bridge.Bridge { return e.bridge }

// Store exposes the underlying override store, e.g. for stats/health
// endpoints.
func (e *Engine) Store() *store.OverrideStore { return e.store }
