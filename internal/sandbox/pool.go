package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/jonboulle/clockwork"
)

// PooledContainer is one reusable container. A container is handed to at most
// one execution at a time; reuse is bounded by MaxUses and health checks.
type PooledContainer struct {
	ID         string
	UsageCount int
	MaxUses    int
	CreatedAt  time.Time
	LastUsedAt time.Time

	mu        sync.Mutex
	inUse     bool
	unhealthy bool
}

// MarkUnhealthy flags the container for recycling when it is returned.
func (c *PooledContainer) MarkUnhealthy() {
	c.mu.Lock()
	c.unhealthy = true
	c.mu.Unlock()
}

// PoolConfig configures a container pool.
type PoolConfig struct {
	Size                int
	MaxUsesPerContainer int
	Image               string
	MemoryLimit         int64
	CPULimit            int
	IdleTimeout         time.Duration
	HealthCheckInterval time.Duration

	// Clock is injectable for tests; nil means the real clock.
	Clock clockwork.Clock
}

// PoolStats is a point-in-time snapshot of pool activity.
type PoolStats struct {
	Total     int
	Available int
	InUse     int
	Created   int64
	Destroyed int64
	Hits      int64
	Misses    int64
}

// ContainerPool manages a bounded set of reusable sandbox containers, each
// kept alive between executions and recycled after bounded use.
type ContainerPool struct {
	cli   *client.Client
	cfg   PoolConfig
	clock clockwork.Clock
	log   *slog.Logger

	mu         sync.Mutex
	containers []*PooledContainer
	available  chan *PooledContainer
	closed     bool
	stats      PoolStats

	wg   sync.WaitGroup
	stop chan struct{}
}

// NewContainerPool creates a pool and pre-starts its containers.
func NewContainerPool(ctx context.Context, cli *client.Client, cfg PoolConfig, log *slog.Logger) (*ContainerPool, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d", cfg.Size)
	}
	if cfg.MaxUsesPerContainer <= 0 {
		return nil, fmt.Errorf("max uses per container must be positive, got %d", cfg.MaxUsesPerContainer)
	}
	if cfg.Image == "" {
		return nil, fmt.Errorf("container image cannot be empty")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	p := &ContainerPool{
		cli:        cli,
		cfg:        cfg,
		clock:      cfg.Clock,
		log:        log,
		containers: make([]*PooledContainer, 0, cfg.Size),
		available:  make(chan *PooledContainer, cfg.Size),
		stop:       make(chan struct{}),
	}

	for i := 0; i < cfg.Size; i++ {
		pc, err := p.createContainer(ctx)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to create pool container %d: %w", i, err)
		}
		p.containers = append(p.containers, pc)
		p.available <- pc
	}

	if cfg.HealthCheckInterval > 0 {
		p.wg.Add(1)
		go p.healthLoop()
	}

	return p, nil
}

// Get acquires an exclusive container. It blocks until one is available or
// the context ends.
func (p *ContainerPool) Get(ctx context.Context) (*PooledContainer, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("container pool is closed")
	}
	p.mu.Unlock()

	select {
	case pc := <-p.available:
		pc.mu.Lock()
		pc.inUse = true
		pc.UsageCount++
		pc.LastUsedAt = p.clock.Now()
		pc.mu.Unlock()

		p.mu.Lock()
		p.stats.Hits++
		p.mu.Unlock()
		return pc, nil
	case <-ctx.Done():
		p.mu.Lock()
		p.stats.Misses++
		p.mu.Unlock()
		return nil, fmt.Errorf("context ended while waiting for a sandbox container: %w", ctx.Err())
	}
}

// Return releases a container. Exhausted or unhealthy containers are
// destroyed and replaced.
func (p *ContainerPool) Return(pc *PooledContainer) {
	if pc == nil {
		return
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		p.destroyContainer(pc)
		return
	}

	pc.mu.Lock()
	pc.inUse = false
	recycle := pc.UsageCount >= pc.MaxUses || pc.unhealthy
	pc.mu.Unlock()

	if !recycle {
		p.available <- pc
		return
	}

	p.removeContainer(pc)
	p.destroyContainer(pc)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	replacement, err := p.createContainer(ctx)
	if err != nil {
		if p.log != nil {
			p.log.Warn("failed to replace recycled sandbox container", "error", err)
		}
		return
	}
	p.mu.Lock()
	p.containers = append(p.containers, replacement)
	p.mu.Unlock()
	p.available <- replacement
}

// createContainer starts a long-lived idle container for exec use.
func (p *ContainerPool) createContainer(ctx context.Context) (*PooledContainer, error) {
	containerConfig := &container.Config{
		Image: p.cfg.Image,
		Cmd:   strslice.StrSlice{"sleep", "infinity"},
		User:  "1000:1000",
	}
	// Same hardening as the one-shot path: reuse must not weaken isolation.
	hostConfig := hardenedHostConfig(p.cfg.MemoryLimit, p.cfg.CPULimit)

	resp, err := p.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	if err := p.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		p.cli.ContainerRemove(ctx, resp.ID, types.ContainerRemoveOptions{Force: true})
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	p.mu.Lock()
	p.stats.Created++
	p.mu.Unlock()

	now := p.clock.Now()
	return &PooledContainer{
		ID:         resp.ID,
		MaxUses:    p.cfg.MaxUsesPerContainer,
		CreatedAt:  now,
		LastUsedAt: now,
	}, nil
}

func (p *ContainerPool) destroyContainer(pc *PooledContainer) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.cli.ContainerRemove(ctx, pc.ID, types.ContainerRemoveOptions{Force: true}); err != nil {
		if p.log != nil {
			p.log.Warn("failed to remove sandbox container", "id", shortID(pc.ID), "error", err)
		}
		return
	}
	p.mu.Lock()
	p.stats.Destroyed++
	p.mu.Unlock()
}

func (p *ContainerPool) removeContainer(target *PooledContainer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.containers {
		if c.ID == target.ID {
			p.containers = append(p.containers[:i], p.containers[i+1:]...)
			return
		}
	}
}

// healthLoop periodically verifies idle containers and expires ones idle past
// the configured timeout.
func (p *ContainerPool) healthLoop() {
	defer p.wg.Done()

	ticker := p.clock.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.Chan():
			p.checkHealth()
		}
	}
}

func (p *ContainerPool) checkHealth() {
	p.mu.Lock()
	containers := make([]*PooledContainer, len(p.containers))
	copy(containers, p.containers)
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, pc := range containers {
		pc.mu.Lock()
		busy := pc.inUse
		idle := p.cfg.IdleTimeout > 0 && p.clock.Since(pc.LastUsedAt) > p.cfg.IdleTimeout
		pc.mu.Unlock()
		if busy {
			continue
		}

		if idle {
			pc.MarkUnhealthy()
			continue
		}

		inspect, err := p.cli.ContainerInspect(ctx, pc.ID)
		if err != nil || !inspect.State.Running || inspect.State.Restarting {
			pc.MarkUnhealthy()
		}
	}
}

// Stats reports pool activity.
func (p *ContainerPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := p.stats
	stats.Total = len(p.containers)
	stats.Available = len(p.available)
	for _, c := range p.containers {
		c.mu.Lock()
		if c.inUse {
			stats.InUse++
		}
		c.mu.Unlock()
	}
	return stats
}

// Close destroys every container. The Docker client is owned by the caller.
func (p *ContainerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	containers := p.containers
	p.containers = nil
	p.mu.Unlock()

	close(p.stop)
	p.wg.Wait()

	for _, pc := range containers {
		p.destroyContainer(pc)
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
