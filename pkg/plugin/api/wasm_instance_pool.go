package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/huanghantao/agfs/pkg/filesystem"
	"github.com/huanghantao/agfs/pkg/plugin/config"
)

// PoolConfig contains configuration for the instance pool.
type PoolConfig struct {
	MaxInstances        int           // maximum number of concurrent instances
	InstanceMaxLifetime time.Duration // maximum instance lifetime (0 = unlimited)
	InstanceMaxRequests int64         // maximum requests per instance (0 = unlimited)
	HealthCheckInterval time.Duration // health check interval (0 = disabled)
	EnableStatistics    bool
}

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	TotalCreated   int64
	TotalDestroyed int64
	CurrentActive  int64
	TotalWaits     int64
	TotalRequests  int64
	FailedRequests int64
}

// WASMInstance is one pooled plugin instance. Between Acquire and Release
// exactly one goroutine owns it, so its counters need no locking.
type WASMInstance struct {
	id        string
	plugin    *WASMPlugin
	createdAt time.Time
	requests  int64
}

// FileSystem returns the instance's filesystem capability.
func (i *WASMInstance) FileSystem() filesystem.FileSystem {
	return i.plugin.GetFileSystem()
}

// WASMInstancePool runs several instances of one module concurrently. A
// single guest is not reentrant, so throughput comes from pooling whole
// instances, each initialized with the same configuration on creation.
type WASMInstancePool struct {
	ctx        context.Context
	factory    InstanceFactory
	pluginName string
	pluginCfg  *config.Config
	config     PoolConfig

	instances chan *WASMInstance
	mu        sync.Mutex
	current   int
	closed    bool
	stop      chan struct{}

	statsMu sync.Mutex
	stats   PoolStats
}

// NewWASMInstancePool creates a pool that grows on demand up to
// MaxInstances. Instances come from factory and are initialized with
// pluginCfg before entering service.
func NewWASMInstancePool(ctx context.Context, pluginName string, factory InstanceFactory,
	pluginCfg *config.Config, cfg PoolConfig) *WASMInstancePool {

	if cfg.MaxInstances <= 0 {
		cfg.MaxInstances = 10
	}

	pool := &WASMInstancePool{
		ctx:        ctx,
		factory:    factory,
		pluginName: pluginName,
		pluginCfg:  pluginCfg,
		config:     cfg,
		instances:  make(chan *WASMInstance, cfg.MaxInstances),
		stop:       make(chan struct{}),
	}

	log.Infof("Created WASM instance pool for %s (max_instances=%d, max_lifetime=%v, max_requests=%d)",
		pluginName, cfg.MaxInstances, cfg.InstanceMaxLifetime, cfg.InstanceMaxRequests)

	if cfg.HealthCheckInterval > 0 {
		go pool.healthCheckLoop()
	}
	return pool
}

func (p *WASMInstancePool) healthCheckLoop() {
	ticker := time.NewTicker(p.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			p.performHealthCheck()
		}
	}
}

func (p *WASMInstancePool) performHealthCheck() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	current := p.current
	p.mu.Unlock()

	log.Debugf("[Pool %s] Health check: active instances=%d/%d",
		p.pluginName, current, p.config.MaxInstances)
}

func (p *WASMInstancePool) bumpStat(fn func(*PoolStats)) {
	if !p.config.EnableStatistics {
		return
	}
	p.statsMu.Lock()
	fn(&p.stats)
	p.statsMu.Unlock()
}

// Acquire gets an instance from the pool, creating one when under the
// limit and waiting for a release otherwise.
func (p *WASMInstancePool) Acquire() (*WASMInstance, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("instance pool is closed")
	}
	p.mu.Unlock()

	p.bumpStat(func(s *PoolStats) { s.TotalRequests++ })

	select {
	case instance := <-p.instances:
		return p.vetAcquired(instance)
	default:
	}

	p.mu.Lock()
	canCreate := p.current < p.config.MaxInstances
	if canCreate {
		p.current++
	}
	p.mu.Unlock()

	if canCreate {
		instance, err := p.createInstance()
		if err != nil {
			p.mu.Lock()
			p.current--
			p.mu.Unlock()
			p.bumpStat(func(s *PoolStats) { s.FailedRequests++ })
			return nil, err
		}
		log.Debugf("Created new WASM instance %s for %s", instance.id, p.pluginName)
		instance.requests++
		return instance, nil
	}

	// Pool is full; wait for a release.
	log.Debugf("WASM pool full for %s, waiting for available instance...", p.pluginName)
	p.bumpStat(func(s *PoolStats) { s.TotalWaits++ })

	select {
	case instance := <-p.instances:
		return p.vetAcquired(instance)
	case <-p.stop:
		return nil, fmt.Errorf("instance pool is closed")
	case <-p.ctx.Done():
		return nil, p.ctx.Err()
	}
}

// vetAcquired recycles an instance past its lifetime or request budget and
// acquires a replacement.
func (p *WASMInstancePool) vetAcquired(instance *WASMInstance) (*WASMInstance, error) {
	if p.shouldRecycle(instance) {
		log.Debugf("Recycling expired WASM instance %s for %s", instance.id, p.pluginName)
		p.destroyInstance(instance)
		p.mu.Lock()
		p.current--
		p.mu.Unlock()
		return p.Acquire()
	}
	instance.requests++
	return instance, nil
}

func (p *WASMInstancePool) shouldRecycle(instance *WASMInstance) bool {
	if p.config.InstanceMaxLifetime > 0 {
		if age := time.Since(instance.createdAt); age > p.config.InstanceMaxLifetime {
			log.Debugf("Instance %s exceeded max lifetime: %v > %v",
				instance.id, age, p.config.InstanceMaxLifetime)
			return true
		}
	}
	if p.config.InstanceMaxRequests > 0 && instance.requests >= p.config.InstanceMaxRequests {
		log.Debugf("Instance %s exceeded max requests: %d >= %d",
			instance.id, instance.requests, p.config.InstanceMaxRequests)
		return true
	}
	return false
}

// Release returns an instance to the pool. After Close, released
// instances are destroyed instead.
func (p *WASMInstancePool) Release(instance *WASMInstance) {
	if instance == nil {
		return
	}

	p.mu.Lock()
	if !p.closed {
		select {
		case p.instances <- instance:
			p.mu.Unlock()
			return
		default:
			// Channel full; fall through and destroy.
		}
	}
	p.current--
	p.mu.Unlock()
	p.destroyInstance(instance)
}

func (p *WASMInstancePool) createInstance() (*WASMInstance, error) {
	plg, err := p.factory()
	if err != nil {
		return nil, fmt.Errorf("create WASM instance: %w", err)
	}
	if err := plg.Initialize(p.pluginCfg); err != nil {
		if serr := plg.Shutdown(); serr != nil {
			log.Warnf("[Pool %s] Cleanup after failed initialize: %v", p.pluginName, serr)
		}
		return nil, fmt.Errorf("initialize WASM instance: %w", err)
	}

	p.bumpStat(func(s *PoolStats) {
		s.TotalCreated++
		s.CurrentActive++
	})
	return &WASMInstance{
		id:        uuid.NewString(),
		plugin:    plg,
		createdAt: time.Now(),
	}, nil
}

func (p *WASMInstancePool) destroyInstance(instance *WASMInstance) {
	if instance == nil {
		return
	}
	if err := instance.plugin.Shutdown(); err != nil {
		log.Warnf("[Pool %s] Instance %s shutdown: %v", p.pluginName, instance.id, err)
	}
	p.bumpStat(func(s *PoolStats) {
		s.TotalDestroyed++
		s.CurrentActive--
	})
}

// Close destroys all idle instances. Instances checked out at close time
// are destroyed when released.
func (p *WASMInstancePool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stop)
	p.mu.Unlock()

	for {
		select {
		case instance := <-p.instances:
			p.destroyInstance(instance)
			p.mu.Lock()
			p.current--
			p.mu.Unlock()
		default:
			log.Infof("Closed WASM instance pool for %s", p.pluginName)
			return nil
		}
	}
}

// GetStats returns the current pool statistics.
func (p *WASMInstancePool) GetStats() PoolStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

// Execute runs fn with an instance from the pool, handling acquire and
// release.
func (p *WASMInstancePool) Execute(fn func(*WASMInstance) error) error {
	instance, err := p.Acquire()
	if err != nil {
		return err
	}
	defer p.Release(instance)
	return fn(instance)
}

// ExecuteFS runs a filesystem operation with a pooled instance.
func (p *WASMInstancePool) ExecuteFS(fn func(filesystem.FileSystem) error) error {
	instance, err := p.Acquire()
	if err != nil {
		return err
	}
	defer p.Release(instance)
	return fn(instance.FileSystem())
}
