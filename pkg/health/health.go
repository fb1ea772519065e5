package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"soop-chat/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Status represents the health status of a component
type Status string

const (
	// StatusUp indicates a component is working correctly
	StatusUp Status = "up"
	// StatusDown indicates a component is not working
	StatusDown Status = "down"
)

// Component represents a system component that can be health-checked
type Component struct {
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	Critical    bool      `json:"critical"`
	Error       string    `json:"error,omitempty"`
	LastChecked time.Time `json:"last_checked"`
}

// Check probes a dependency and returns nil when it is usable
type Check func(ctx context.Context) error

type registered struct {
	check    Check
	critical bool
}

// Checker manages health checks for the system
type Checker struct {
	checks      map[string]registered
	components  map[string]*Component
	checkPeriod time.Duration
	timeout     time.Duration
	mutex       sync.RWMutex
	log         *logger.Logger
	grpc        *grpchealth.Server
	service     string
}

// NewChecker creates a new health checker
func NewChecker(log *logger.Logger, checkPeriod time.Duration) *Checker {
	return &Checker{
		checks:      make(map[string]registered),
		components:  make(map[string]*Component),
		checkPeriod: checkPeriod,
		timeout:     3 * time.Second,
		log:         log,
	}
}

// RegisterCheck registers a new health check. A failing critical check marks the system unhealthy.
func (c *Checker) RegisterCheck(name string, critical bool, check Check) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.checks[name] = registered{check: check, critical: critical}
	c.components[name] = &Component{
		Name:     name,
		Status:   StatusDown,
		Critical: critical,
		Error:    "not checked yet",
	}
}

// BindGRPC mirrors the overall status into a gRPC health server under service
// and the empty (server-wide) name.
func (c *Checker) BindGRPC(srv *grpchealth.Server, service string) {
	c.mutex.Lock()
	c.grpc = srv
	c.service = service
	c.mutex.Unlock()

	c.publishGRPC()
}

// RunChecks executes all registered health checks
func (c *Checker) RunChecks(ctx context.Context) {
	c.mutex.RLock()
	checks := make(map[string]registered, len(c.checks))
	for name, r := range c.checks {
		checks[name] = r
	}
	c.mutex.RUnlock()

	for name, r := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := r.check(checkCtx)
		cancel()

		c.mutex.Lock()
		component := c.components[name]
		component.LastChecked = time.Now()
		if err != nil {
			component.Status = StatusDown
			component.Error = err.Error()
		} else {
			component.Status = StatusUp
			component.Error = ""
		}
		c.mutex.Unlock()

		if err != nil {
			c.log.Error("Health check failed", "component", name, "error", err.Error())
		} else {
			c.log.Debug("Health check completed", "component", name)
		}
	}

	c.publishGRPC()
}

// Start runs checks immediately and then periodically until ctx ends
func (c *Checker) Start(ctx context.Context) {
	go func() {
		c.RunChecks(ctx)

		ticker := time.NewTicker(c.checkPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.RunChecks(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// GetStatus returns a copy of the current component states
func (c *Checker) GetStatus() map[string]Component {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	result := make(map[string]Component, len(c.components))
	for k, v := range c.components {
		result[k] = *v
	}
	return result
}

// IsSystemHealthy returns true if all critical components are up
func (c *Checker) IsSystemHealthy() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	for _, component := range c.components {
		if component.Critical && component.Status == StatusDown {
			return false
		}
	}
	return true
}

// Handler renders the component states; 503 when a critical component is down
func (c *Checker) Handler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		status := "ok"
		code := http.StatusOK
		if !c.IsSystemHealthy() {
			status = "unavailable"
			code = http.StatusServiceUnavailable
		}

		ctx.JSON(code, gin.H{
			"status":     status,
			"timestamp":  time.Now().Format(time.RFC3339),
			"components": c.GetStatus(),
		})
	}
}

func (c *Checker) publishGRPC() {
	c.mutex.RLock()
	srv, service := c.grpc, c.service
	c.mutex.RUnlock()
	if srv == nil {
		return
	}

	serving := healthpb.HealthCheckResponse_SERVING
	if !c.IsSystemHealthy() {
		serving = healthpb.HealthCheckResponse_NOT_SERVING
	}
	srv.SetServingStatus("", serving)
	if service != "" {
		srv.SetServingStatus(service, serving)
	}
}
