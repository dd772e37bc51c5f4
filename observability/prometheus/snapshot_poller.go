package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-coro/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// SchedulerSnapshotProvider provides current scheduler stats snapshots.
type SchedulerSnapshotProvider interface {
	Stats() core.SchedulerStats
}

// SnapshotPoller periodically exports scheduler Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	schedulersMu sync.RWMutex
	schedulers   map[string]SchedulerSnapshotProvider

	target       *prom.GaugeVec
	active       *prom.GaugeVec
	idle         *prom.GaugeVec
	blocked      *prom.GaugeVec
	queued       *prom.GaugeVec
	globalQueued *prom.GaugeVec
	live         *prom.GaugeVec
	spawned      *prom.GaugeVec
	steals       *prom.GaugeVec
	retired      *prom.GaugeVec
	running      *prom.GaugeVec

	stateMu sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(namespace string, reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	gauge := func(name, help string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, []string{"scheduler"})
	}

	p := &SnapshotPoller{
		interval:     interval,
		schedulers:   make(map[string]SchedulerSnapshotProvider),
		target:       gauge("scheduler_target_processors", "Target number of unblocked processors."),
		active:       gauge("scheduler_active_processors", "Unblocked processors in the pool."),
		idle:         gauge("scheduler_idle_processors", "Parked processors."),
		blocked:      gauge("scheduler_blocked_processors", "Processors inside a foreign blocking call."),
		queued:       gauge("scheduler_ready_coroutines", "Ready coroutines across local and global queues."),
		globalQueued: gauge("scheduler_global_queue_depth", "Ready coroutines in the global queue."),
		live:         gauge("scheduler_live_coroutines", "Coroutines spawned and not yet finished."),
		spawned:      gauge("scheduler_spawned_total", "Coroutines spawned since start (snapshot)."),
		steals:       gauge("scheduler_steals_total", "Successful steals since start (snapshot)."),
		retired:      gauge("scheduler_retired_processors_total", "Processors retired since start (snapshot)."),
		running:      gauge("scheduler_running", "Scheduler running state (1=running, 0=stopped)."),
	}

	for _, g := range []**prom.GaugeVec{
		&p.target, &p.active, &p.idle, &p.blocked, &p.queued, &p.globalQueued,
		&p.live, &p.spawned, &p.steals, &p.retired, &p.running,
	} {
		registered, err := registerCollector(reg, *g)
		if err != nil {
			return nil, err
		}
		*g = registered
	}
	return p, nil
}

// AddScheduler adds or replaces a scheduler snapshot provider by name.
func (p *SnapshotPoller) AddScheduler(name string, provider SchedulerSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "scheduler")
	p.schedulersMu.Lock()
	p.schedulers[name] = provider
	p.schedulersMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.started {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.started = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.started {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.started = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.schedulersMu.RLock()
	defer p.schedulersMu.RUnlock()

	for name, provider := range p.schedulers {
		stats := provider.Stats()
		p.target.WithLabelValues(name).Set(float64(stats.Target))
		p.active.WithLabelValues(name).Set(float64(stats.Active))
		p.idle.WithLabelValues(name).Set(float64(stats.Idle))
		p.blocked.WithLabelValues(name).Set(float64(stats.Blocked))
		p.queued.WithLabelValues(name).Set(float64(stats.Queued()))
		p.globalQueued.WithLabelValues(name).Set(float64(stats.GlobalQueued))
		p.live.WithLabelValues(name).Set(float64(stats.Live))
		p.spawned.WithLabelValues(name).Set(float64(stats.Spawned))
		p.steals.WithLabelValues(name).Set(float64(stats.Steals))
		p.retired.WithLabelValues(name).Set(float64(stats.Retired))
		if stats.Running {
			p.running.WithLabelValues(name).Set(1)
		} else {
			p.running.WithLabelValues(name).Set(0)
		}
	}
}
