// Package health aggregates component health for the /health endpoint
package health

import (
	"sort"
	"sync"
	"time"
)

// Status represents overall system health
type Status struct {
	Status        string           `json:"status"` // ok, degraded, unhealthy
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Components    map[string]Check `json:"components"`
}

// Check represents a component health check
type Check struct {
	Healthy   bool      `json:"healthy"`
	Critical  bool      `json:"critical,omitempty"`
	Message   string    `json:"message,omitempty"`
	LastCheck time.Time `json:"last_check"`
}

// Probe reports a component's live health
type Probe func() (healthy bool, message string)

type probe struct {
	fn       Probe
	critical bool
}

// Checker tracks health of system components.
// Components are either pushed with SetComponent or pulled through probes
// registered with Register.
type Checker struct {
	mu         sync.RWMutex
	version    string
	startTime  time.Time
	components map[string]Check
	probes     map[string]probe
}

// NewChecker creates a new health checker
func NewChecker(version string) *Checker {
	return &Checker{
		version:    version,
		startTime:  time.Now(),
		components: make(map[string]Check),
		probes:     make(map[string]probe),
	}
}

// SetComponent updates a component's health status
func (c *Checker) SetComponent(name string, healthy bool, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.components[name] = Check{
		Healthy:   healthy,
		Critical:  c.components[name].Critical,
		Message:   message,
		LastCheck: time.Now(),
	}
}

// Register adds a probe evaluated on every status request.
// A failing critical component makes the service unhealthy rather than degraded.
func (c *Checker) Register(name string, critical bool, fn Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes[name] = probe{fn: fn, critical: critical}
}

// Components returns the registered component names, sorted
func (c *Checker) Components() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]struct{}, len(c.components)+len(c.probes))
	for k := range c.components {
		seen[k] = struct{}{}
	}
	for k := range c.probes {
		seen[k] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (c *Checker) snapshot() map[string]Check {
	c.mu.RLock()
	probes := make(map[string]probe, len(c.probes))
	for k, v := range c.probes {
		probes[k] = v
	}
	components := make(map[string]Check, len(c.components)+len(probes))
	for k, v := range c.components {
		components[k] = v
	}
	c.mu.RUnlock()

	// Probes run without the lock held
	now := time.Now()
	for name, p := range probes {
		healthy, msg := p.fn()
		components[name] = Check{
			Healthy:   healthy,
			Critical:  p.critical,
			Message:   msg,
			LastCheck: now,
		}
	}

	return components
}

// GetStatus returns the overall health status
func (c *Checker) GetStatus() Status {
	components := c.snapshot()

	status := "ok"
	for _, check := range components {
		if check.Healthy {
			continue
		}
		if check.Critical {
			status = "unhealthy"
			break
		}
		status = "degraded"
	}

	return Status{
		Status:        status,
		Version:       c.version,
		UptimeSeconds: int64(time.Since(c.startTime).Seconds()),
		Components:    components,
	}
}

// IsHealthy returns true if all components are healthy
func (c *Checker) IsHealthy() bool {
	for _, check := range c.snapshot() {
		if !check.Healthy {
			return false
		}
	}
	return true
}
