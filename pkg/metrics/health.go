package metrics

import (
	"sync"
	"time"
)

// HealthStatus is the aggregate view served on /healthz.
type HealthStatus struct {
	Status     string            `json:"status"` // "ok" or "degraded"
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime"`
	Components map[string]string `json:"components,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

type componentState struct {
	healthy bool
	message string
}

var healthMu sync.RWMutex
var healthState = struct {
	components map[string]componentState
	version    string
	startTime  time.Time
}{
	components: make(map[string]componentState),
	startTime:  time.Now(),
}

// SetVersion sets the version string reported by Health.
func SetVersion(version string) {
	healthMu.Lock()
	defer healthMu.Unlock()
	healthState.version = version
}

// SetComponent records one component's health. Serve loops call this when
// a subsystem starts or degrades.
func SetComponent(name string, healthy bool, message string) {
	healthMu.Lock()
	defer healthMu.Unlock()
	healthState.components[name] = componentState{healthy: healthy, message: message}
}

// Health returns the aggregate status. A single unhealthy component
// degrades the whole report but never hides the healthy ones.
func Health() HealthStatus {
	healthMu.RLock()
	defer healthMu.RUnlock()

	status := "ok"
	components := make(map[string]string, len(healthState.components))
	for name, c := range healthState.components {
		if c.healthy {
			components[name] = "ok"
			continue
		}
		status = "degraded"
		if c.message != "" {
			components[name] = "unhealthy: " + c.message
		} else {
			components[name] = "unhealthy"
		}
	}

	return HealthStatus{
		Status:     status,
		Version:    healthState.version,
		Uptime:     time.Since(healthState.startTime).Round(time.Second).String(),
		Components: components,
		Timestamp:  time.Now().UTC(),
	}
}

// resetHealth clears registered components, for tests.
func resetHealth() {
	healthMu.Lock()
	defer healthMu.Unlock()
	healthState.components = make(map[string]componentState)
	healthState.version = ""
}
