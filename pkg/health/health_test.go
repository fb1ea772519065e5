package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"soop-chat/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestCriticalFailureMarksUnhealthy(t *testing.T) {
	c := NewChecker(logger.Discard(), time.Minute)
	c.RegisterCheck("database", true, func(context.Context) error { return nil })
	c.RegisterCheck("knowledge", false, func(context.Context) error { return errors.New("es down") })

	// nothing has run yet, critical components start down
	assert.False(t, c.IsSystemHealthy())

	c.RunChecks(context.Background())
	assert.True(t, c.IsSystemHealthy())
	assert.Equal(t, StatusDown, c.GetStatus()["knowledge"].Status)
	assert.Equal(t, "es down", c.GetStatus()["knowledge"].Error)

	c.RegisterCheck("bus", true, func(context.Context) error { return errors.New("redis down") })
	c.RunChecks(context.Background())
	assert.False(t, c.IsSystemHealthy())
}

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c := NewChecker(logger.Discard(), time.Minute)
	fail := true
	c.RegisterCheck("database", true, func(context.Context) error {
		if fail {
			return errors.New("refused")
		}
		return nil
	})
	c.RunChecks(context.Background())

	r := gin.New()
	r.GET("/health", c.Handler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	fail = false
	c.RunChecks(context.Background())
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status     string               `json:"status"`
		Components map[string]Component `json:"components"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, StatusUp, body.Components["database"].Status)
}

func TestGRPCMirror(t *testing.T) {
	srv := grpchealth.NewServer()
	c := NewChecker(logger.Discard(), time.Minute)
	healthy := false
	c.RegisterCheck("database", true, func(context.Context) error {
		if !healthy {
			return errors.New("down")
		}
		return nil
	})
	c.BindGRPC(srv, "soop-chat")

	resp, err := srv.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "soop-chat"})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)

	healthy = true
	c.RunChecks(context.Background())
	resp, err = srv.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}
