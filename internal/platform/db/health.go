package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// HealthResponse is the health endpoint payload. Tenants is how many tenant
// schemas are provisioned; a sudden drop to zero on a running install is a
// louder signal than a failed ping alone.
type HealthResponse struct {
	Status  string     `json:"status"`
	Service string     `json:"service"`
	Time    time.Time  `json:"time"`
	Tenants int        `json:"tenants"`
	Pool    *PoolStats `json:"pool"`
	Error   string     `json:"error,omitempty"`
}

// HealthHandler returns a handler for the service health check endpoint.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		resp := HealthResponse{
			Status:  "healthy",
			Service: "recoverly",
			Time:    time.Now().UTC(),
			Pool:    GetPoolStats(pool),
		}

		if err := pool.Ping(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Error = err.Error()
			resp.Pool.Healthy = false
			return c.JSON(http.StatusServiceUnavailable, resp)
		}

		schemas, err := ListTenantSchemas(ctx, pool)
		if err != nil {
			resp.Status = "degraded"
			resp.Error = err.Error()
			return c.JSON(http.StatusOK, resp)
		}
		resp.Tenants = len(schemas)

		return c.JSON(http.StatusOK, resp)
	}
}
